// Article header and heading levels shared by the html, md and epub
// renderings.
package main

import (
	"fmt"
	"html"
	"strconv"
	"strings"

	"github.com/JohannesKaufmann/dom"
	nethtml "golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var headingAtoms = [...]atom.Atom{atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6}

// shiftHeadings moves every heading under root down one level, clamped at
// h6, so the article title is the only h1.
func shiftHeadings(root *nethtml.Node) {
	headings := dom.FindAllNodes(root, func(n *nethtml.Node) bool {
		return n.Type == nethtml.ElementNode && dom.NameIsHeading(n.Data)
	})
	for _, n := range headings {
		level, err := strconv.Atoi(strings.TrimPrefix(n.Data, "h"))
		if err != nil || level < 1 {
			continue
		}
		if level < 6 {
			level++
		}
		n.Data, n.DataAtom = "h"+strconv.Itoa(level), headingAtoms[level-1]
	}
}

// displayURL strips the scheme and trailing slash for showing a link.
func displayURL(rawURL string) string {
	for _, prefix := range []string{"https://", "http://"} {
		rawURL = strings.TrimPrefix(rawURL, prefix)
	}
	return strings.TrimSuffix(rawURL, "/")
}

// formatByline builds the byline paragraph: author, site and a link back
// to the source. The site is omitted when it only repeats the author.
func formatByline(a *Article) string {
	var parts []string
	if a.Byline != "" {
		parts = append(parts, html.EscapeString(a.Byline))
	}
	if site := a.siteName(); site != "" && site != a.Byline {
		parts = append(parts, html.EscapeString(site))
	}
	byline := strings.Join(parts, " · ")

	if a.URL != "" {
		link := fmt.Sprintf(`<a href="%s">%s</a>`, html.EscapeString(a.URL), html.EscapeString(displayURL(a.URL)))
		if byline != "" {
			byline += "<br/>" + link
		} else {
			byline = link
		}
	}
	if byline == "" {
		return ""
	}
	return fmt.Sprintf(`<p class="byline">%s</p>`, byline)
}

// articleBody returns the title heading and byline followed by the
// article content with its headings shifted down.
func articleBody(a *Article) (string, error) {
	root, err := parseFragment(a.Content)
	if err != nil {
		return "", fmt.Errorf("parsing content: %w", err)
	}
	shiftHeadings(root)
	content, err := renderFragment(root)
	if err != nil {
		return "", fmt.Errorf("rendering content: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "<h1>%s</h1>\n", html.EscapeString(a.Title))
	if byline := formatByline(a); byline != "" {
		b.WriteString(byline + "\n")
	}
	b.WriteString(content)
	return b.String(), nil
}

// renderFullHTML wraps the article in a standalone HTML document.
func renderFullHTML(a *Article) (string, error) {
	body, err := articleBody(a)
	if err != nil {
		return "", err
	}

	var meta strings.Builder
	if a.Byline != "" {
		fmt.Fprintf(&meta, "\t<meta name=\"author\" content=\"%s\">\n", html.EscapeString(a.Byline))
	}
	if a.URL != "" {
		fmt.Fprintf(&meta, "\t<link rel=\"canonical\" href=\"%s\">\n", html.EscapeString(a.URL))
	}

	return fmt.Sprintf(`<!DOCTYPE html>
<html lang="%s">
<head>
	<meta charset="utf-8">
	<meta name="viewport" content="width=device-width, initial-scale=1">
	<title>%s</title>
%s	<style>
		body {
			font-family: Georgia, "Times New Roman", serif;
			line-height: 1.6;
			color: #222;
			max-width: 40em;
			margin: 0 auto;
			padding: 2rem 1rem;
		}
		img { max-width: 100%%; height: auto; }
		pre { white-space: pre-wrap; word-wrap: break-word; }
		.byline { color: #666; font-style: italic; margin-bottom: 2rem; }
	</style>
</head>
<body>
%s
</body>
</html>
`, html.EscapeString(a.Lang), html.EscapeString(a.Title), meta.String(), body), nil
}
