// Epub packaging of a single processed article using go-epub.
package main

import (
	"encoding/base64"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/JohannesKaufmann/dom"
	epub "github.com/go-shiori/go-epub"
	"golang.org/x/net/html"
)

const epubCSS = `body { margin: 1em; line-height: 1.5; }
img { max-width: 100%; height: auto; }
figure { margin: 1em 0; }
figcaption { font-size: 0.85em; color: #666; }
pre, code { font-size: 0.85em; }
blockquote { margin-left: 1em; padding-left: 0.5em; border-left: 2px solid #999; }
.byline { font-size: 0.85em; color: #666; margin-top: -0.5em; margin-bottom: 1.5em; }
.byline a { color: #666; }`

// unsafeFileChars are removed from output file names.
var unsafeFileChars = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1F\x7F]`)

// maxFileNameBytes keeps output names under common filesystem limits.
const maxFileNameBytes = 200

// outputFileName derives a file name from an article title: spaces become
// underscores and characters that are unsafe in paths are dropped.
func outputFileName(title, ext string) string {
	name := strings.ReplaceAll(strings.TrimSpace(title), " ", "_")
	name = unsafeFileChars.ReplaceAllString(name, "")
	for len(name) > maxFileNameBytes {
		_, size := utf8.DecodeLastRuneInString(name)
		name = name[:len(name)-size]
	}
	if strings.Trim(name, "._") == "" {
		name = "article"
	}
	return name + ext
}

// buildEpub packages a into an EPUB 3 file at outputPath. Images are read
// from imageDir, which must hold every file in a.Images.
func buildEpub(a *Article, imageDir, outputPath string) error {
	e, err := epub.NewEpub(a.Title)
	if err != nil {
		return fmt.Errorf("creating epub: %w", err)
	}
	e.SetLang(a.Lang)
	e.SetAuthor(a.Byline)
	e.SetDescription(a.URL)

	cssDataURI := "data:text/css;base64," + base64.StdEncoding.EncodeToString([]byte(epubCSS))
	cssPath, err := e.AddCSS(cssDataURI, "styles.css")
	if err != nil {
		log.WithError(err).Warn("could not add CSS")
		cssPath = ""
	}

	body, err := articleBody(a)
	if err != nil {
		return err
	}
	body, err = embedImages(e, a, imageDir, body)
	if err != nil {
		return err
	}

	if err := addCover(e, a); err != nil {
		log.WithError(err).Warn("could not add cover")
	}

	if _, err := e.AddSection(sanitizeForXHTML(body), a.Title, "article.xhtml", cssPath); err != nil {
		return fmt.Errorf("adding section: %w", err)
	}

	if err := e.Write(outputPath); err != nil {
		return fmt.Errorf("writing epub: %w", err)
	}
	return nil
}

// embedImages adds every manifest image to the epub and points the
// matching images/<name> references at the internal paths.
func embedImages(e *epub.Epub, a *Article, imageDir, body string) (string, error) {
	internal := make(map[string]string, len(a.Images))
	for _, rec := range a.Images {
		p, err := e.AddImage(filepath.Join(imageDir, rec.Name), rec.Name)
		if err != nil {
			return "", fmt.Errorf("adding image %s: %w", rec.Name, err)
		}
		internal[rec.Name] = p
	}

	root, err := parseFragment(body)
	if err != nil {
		return "", fmt.Errorf("parsing content: %w", err)
	}
	for _, img := range dom.FindAllNodes(root, func(n *html.Node) bool { return dom.NodeName(n) == "img" }) {
		src := dom.GetAttributeOr(img, "src", "")
		if p, ok := internal[strings.TrimPrefix(src, imagePrefix)]; ok && strings.HasPrefix(src, imagePrefix) {
			setAttr(img, "src", p)
		}
	}
	return renderFragment(root)
}

// addCover generates the cover and registers it under a name no article
// image uses.
func addCover(e *epub.Epub, a *Article) error {
	cover, err := generateCover(a.Title, a.siteName())
	if err != nil {
		return err
	}
	name := "cover.png"
	for i := 1; a.hasImage(name); i++ {
		name = fmt.Sprintf("cover-%d.png", i)
	}
	p, err := e.AddImage("data:image/png;base64,"+base64.StdEncoding.EncodeToString(cover), name)
	if err != nil {
		return err
	}
	e.SetCover(p, "")
	return nil
}
