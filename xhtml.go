// HTML to XHTML conversion for EPUB sections. Web markup is reduced to
// an element and attribute allow-list and rendered with self-closing void
// elements so every section parses as XML.
package main

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"

	"github.com/JohannesKaufmann/dom"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

func nameSet(names ...string) map[string]bool {
	m := make(map[string]bool, len(names))
	for _, n := range names {
		m[n] = true
	}
	return m
}

var (
	xhtmlElements = nameSet(
		"div", "p", "h1", "h2", "h3", "h4", "h5", "h6", "ul", "ol", "li", "dl", "dt", "dd",
		"address", "hr", "pre", "blockquote", "cite", "em", "strong", "small", "s", "dfn",
		"abbr", "data", "time", "code", "var", "samp", "kbd", "sub", "sup", "i", "b", "u",
		"mark", "ruby", "rt", "rp", "bdi", "bdo", "span", "br", "wbr", "ins", "del", "img",
		"table", "caption", "colgroup", "col", "tbody", "thead", "tfoot", "tr", "td", "th",
		"section", "article", "aside", "header", "footer", "main", "figure", "figcaption",
		"nav", "a",
	)

	// Elements whose content means nothing outside a browser. They go
	// with everything inside them; other unknown elements are unwrapped.
	droppedElements = nameSet(
		"script", "style", "noscript", "template", "iframe", "frame", "frameset",
		"object", "embed", "applet", "canvas", "svg", "math", "form", "input",
		"button", "select", "option", "textarea", "label", "fieldset", "head",
		"title", "meta", "link", "base", "xmp", "noembed", "noframes", "plaintext",
		"source", "track", "map", "area", "dialog",
	)

	xhtmlAttrs = nameSet(
		"id", "class", "style", "title", "lang", "dir",
		"href", "src", "alt", "width", "height",
		"colspan", "rowspan", "scope", "headers",
		"cite", "datetime", "value", "type",
		"rel", "media", "start", "reversed", "epub:type",
	)

	dimensionElements = nameSet("img", "td", "th", "col", "colgroup", "table")

	// Phrasing content may not hold blocks in EPUB XHTML.
	phrasingElements = nameSet(
		"h1", "h2", "h3", "h4", "h5", "h6", "p",
		"span", "b", "strong", "i", "em", "a",
		"code", "samp", "kbd", "var", "sub", "sup",
		"small", "s", "u", "mark", "abbr", "dfn",
		"cite", "del", "ins", "bdi", "bdo", "time", "data",
	)

	blockElements = nameSet(
		"p", "div", "h1", "h2", "h3", "h4", "h5", "h6",
		"ul", "ol", "li", "dl", "dt", "dd",
		"blockquote", "section", "article", "aside",
		"header", "footer", "main", "figure", "figcaption", "nav",
		"table", "pre", "hr", "address",
	)

	// Blocks that keep their inner structure when moved out of phrasing
	// content instead of being unwrapped.
	structuralBlocks = nameSet("table", "pre", "ul", "ol", "dl", "blockquote", "figure")
)

// voidElements are HTML elements that must be self-closing in XHTML.
var voidElements = map[atom.Atom]bool{
	atom.Area: true, atom.Base: true, atom.Br: true, atom.Col: true,
	atom.Embed: true, atom.Hr: true, atom.Img: true, atom.Input: true,
	atom.Link: true, atom.Meta: true, atom.Source: true, atom.Wbr: true,
}

// stripInvalidXMLChars removes characters not allowed in XML 1.0 content.
func stripInvalidXMLChars(s string) string {
	return strings.Map(func(r rune) rune {
		if r == 0x9 || r == 0xA || r == 0xD ||
			(r >= 0x20 && r <= 0xD7FF) ||
			(r >= 0xE000 && r <= 0xFFFD) ||
			(r >= 0x10000 && r <= 0x10FFFF) {
			return r
		}
		return -1
	}, s)
}

// dimensionValue turns "916.7px" into "917". Anything unparseable, negative
// or zero yields "".
func dimensionValue(val string) string {
	val = strings.TrimSpace(val)
	for _, unit := range []string{"px", "rem", "em", "%", "pt"} {
		val = strings.TrimSuffix(val, unit)
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil || f < 0 || math.IsInf(f, 0) || math.IsNaN(f) {
		return ""
	}
	if r := int(math.Round(f)); r > 0 {
		return strconv.Itoa(r)
	}
	return ""
}

// xhtmlID replaces whitespace so the value is a valid XML ID token.
func xhtmlID(val string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return '-'
		}
		return r
	}, strings.TrimSpace(val))
}

type cleanAction int

const (
	keepNode cleanAction = iota
	dropNode
	unwrapNode
	replaceNode
)

type xhtmlCleaner struct {
	ids  map[string]bool // every id in the input, for fragment links
	used map[string]bool // ids emitted so far
}

// sanitizeForXHTML converts an HTML fragment to an XHTML fragment fit for
// an EPUB section.
func sanitizeForXHTML(fragment string) string {
	root, err := parseFragment(stripInvalidXMLChars(fragment))
	if err != nil {
		return "<p>" + html.EscapeString(fragment) + "</p>"
	}

	x := &xhtmlCleaner{ids: map[string]bool{}, used: map[string]bool{}}
	for _, n := range dom.FindAllNodes(root, func(n *html.Node) bool { return n.Type == html.ElementNode }) {
		if id, ok := dom.GetAttribute(n, "id"); ok {
			if id = xhtmlID(id); id != "" {
				x.ids[id] = true
			}
		}
	}
	x.cleanChildren(root)

	var buf bytes.Buffer
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		renderXHTML(&buf, c)
	}
	return buf.String()
}

func (x *xhtmlCleaner) cleanChildren(parent *html.Node) {
	for c := parent.FirstChild; c != nil; {
		next := c.NextSibling
		switch c.Type {
		case html.TextNode:
		case html.ElementNode:
			action, repl := x.element(c)
			switch action {
			case dropNode:
				parent.RemoveChild(c)
			case unwrapNode:
				if c.FirstChild != nil {
					next = c.FirstChild
				}
				dom.UnwrapNode(c)
			case replaceNode:
				parent.InsertBefore(repl, c)
				parent.RemoveChild(c)
			}
		default:
			parent.RemoveChild(c)
		}
		c = next
	}
}

// element cleans n and its subtree. For replaceNode the returned node is
// already clean.
func (x *xhtmlCleaner) element(n *html.Node) (cleanAction, *html.Node) {
	switch {
	case n.Data == "video" || n.Data == "audio":
		if link := mediaLink(n); link != nil {
			return replaceNode, link
		}
		return dropNode, nil
	case n.Data == "picture":
		img := dom.FindFirstNode(n, func(c *html.Node) bool { return dom.NodeName(c) == "img" })
		if img == nil {
			return dropNode, nil
		}
		dom.RemoveNode(img)
		if action, _ := x.element(img); action == dropNode {
			return dropNode, nil
		}
		return replaceNode, img
	case droppedElements[n.Data] || n.Namespace != "":
		return dropNode, nil
	case !xhtmlElements[n.Data]:
		return unwrapNode, nil
	}

	if n.Data == "img" {
		src := strings.ToLower(strings.TrimSpace(dom.GetAttributeOr(n, "src", "")))
		// Remote resources are not allowed in a package.
		if src == "" || strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://") {
			return dropNode, nil
		}
	}

	x.filterAttrs(n)
	x.cleanChildren(n)

	if phrasingElements[n.Data] {
		liftBlocks(n)
	}
	if n.Data == "dl" {
		fixDefinitionList(n)
	}
	if n.Data == "figcaption" && (n.Parent == nil || n.Parent.Data != "figure") {
		n.Data, n.DataAtom = "p", atom.P
	}
	return keepNode, nil
}

func (x *xhtmlCleaner) filterAttrs(n *html.Node) {
	kept := n.Attr[:0]
	for _, a := range n.Attr {
		if a.Namespace != "" || !xhtmlAttrs[a.Key] {
			continue
		}
		switch a.Key {
		case "href":
			if frag, ok := strings.CutPrefix(a.Val, "#"); ok && frag != "" && !x.ids[frag] {
				continue
			}
		case "id":
			id := xhtmlID(a.Val)
			if id == "" {
				continue
			}
			for i, base := 2, id; x.used[id]; i++ {
				id = fmt.Sprintf("%s-%d", base, i)
			}
			x.used[id] = true
			a.Val = id
		case "width", "height":
			if !dimensionElements[n.Data] {
				continue
			}
			if a.Val = dimensionValue(a.Val); a.Val == "" {
				continue
			}
		}
		kept = append(kept, a)
	}
	n.Attr = kept
}

// mediaLink replaces <video>/<audio> with a plain link to the media.
func mediaLink(n *html.Node) *html.Node {
	src := dom.GetAttributeOr(n, "src", "")
	if src == "" {
		if s := dom.FindFirstNode(n, func(c *html.Node) bool { return dom.NodeName(c) == "source" }); s != nil {
			src = dom.GetAttributeOr(s, "src", "")
		}
	}
	if src == "" {
		return nil
	}
	link := &html.Node{Type: html.ElementNode, Data: "a", DataAtom: atom.A,
		Attr: []html.Attribute{{Key: "href", Val: src}}}
	link.AppendChild(&html.Node{Type: html.TextNode, Data: "[Media: " + src + "]"})
	return link
}

// liftBlocks fixes block children of the phrasing element n. Structural
// blocks move in front of the outermost phrasing ancestor; other blocks
// are unwrapped into n.
func liftBlocks(n *html.Node) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		if c.Type == html.ElementNode && blockElements[c.Data] {
			if structuralBlocks[c.Data] && n.Parent != nil {
				target := n
				for target.Parent != nil && target.Parent.Type == html.ElementNode && phrasingElements[target.Parent.Data] {
					target = target.Parent
				}
				if target.Parent != nil {
					n.RemoveChild(c)
					target.Parent.InsertBefore(c, target)
				}
			} else {
				if c.FirstChild != nil {
					next = c.FirstChild
				}
				dom.UnwrapNode(c)
			}
		}
		c = next
	}
}

// fixDefinitionList gives a <dl> the dt/dd shape EPUB validators expect:
// stray content is wrapped, the list starts with a dt and ends with a dd.
func fixDefinitionList(dl *html.Node) {
	newElem := func(name string, a atom.Atom) *html.Node {
		return &html.Node{Type: html.ElementNode, Data: name, DataAtom: a}
	}
	for c := dl.FirstChild; c != nil; {
		next := c.NextSibling
		switch {
		case c.Type == html.TextNode && strings.TrimSpace(c.Data) != "":
			dt := newElem("dt", atom.Dt)
			dl.InsertBefore(dt, c)
			dl.RemoveChild(c)
			dt.AppendChild(c)
		case c.Type == html.ElementNode && c.Data != "dt" && c.Data != "dd" && c.Data != "div":
			dd := newElem("dd", atom.Dd)
			dl.InsertBefore(dd, c)
			dl.RemoveChild(c)
			dd.AppendChild(c)
		}
		c = next
	}

	var first, last *html.Node
	for c := dl.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			if first == nil {
				first = c
			}
			last = c
		}
	}
	if first == nil || first.Data == "dd" {
		dt := newElem("dt", atom.Dt)
		dl.InsertBefore(dt, first)
		if last == nil {
			last = dt
		}
	}
	if last.Data == "dt" {
		dl.AppendChild(newElem("dd", atom.Dd))
	}
}

// renderXHTML renders an html.Node tree as XHTML (self-closing void elements).
func renderXHTML(buf *bytes.Buffer, n *html.Node) {
	switch n.Type {
	case html.TextNode:
		buf.WriteString(html.EscapeString(n.Data))
	case html.ElementNode:
		buf.WriteByte('<')
		buf.WriteString(n.Data)
		for _, a := range n.Attr {
			fmt.Fprintf(buf, ` %s="%s"`, a.Key, html.EscapeString(a.Val))
		}
		if voidElements[n.DataAtom] && n.FirstChild == nil {
			buf.WriteString("/>")
			return
		}
		buf.WriteByte('>')
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			renderXHTML(buf, c)
		}
		fmt.Fprintf(buf, "</%s>", n.Data)
	case html.DocumentNode:
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			renderXHTML(buf, c)
		}
	}
}
