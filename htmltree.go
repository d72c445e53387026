package main

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// parseFragment parses an HTML fragment as the children of a detached
// <body>. The returned node is the body; render it with renderFragment.
func parseFragment(s string) (*html.Node, error) {
	body := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := html.ParseFragment(strings.NewReader(s), body)
	if err != nil {
		return nil, err
	}
	for _, n := range nodes {
		body.AppendChild(n)
	}
	return body, nil
}

// renderFragment serializes the children of root, without root itself.
func renderFragment(root *html.Node) (string, error) {
	var buf bytes.Buffer
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		if err := html.Render(&buf, c); err != nil {
			return "", err
		}
	}
	return buf.String(), nil
}

// setAttr replaces the value of key, appending the attribute if missing.
func setAttr(n *html.Node, key, val string) {
	for i := range n.Attr {
		if n.Attr[i].Namespace == "" && n.Attr[i].Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

// dropAttrs removes every attribute for which match returns true.
func dropAttrs(n *html.Node, match func(key string) bool) {
	kept := n.Attr[:0]
	for _, a := range n.Attr {
		if !match(a.Key) {
			kept = append(kept, a)
		}
	}
	n.Attr = kept
}
