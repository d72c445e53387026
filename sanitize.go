// User-requested content transforms: stripping hyperlinks and stripping
// images. Both run on the article fragment and are idempotent.
package main

import (
	"fmt"

	"github.com/PuerkitoBio/goquery"
)

// imageBearing selects every element that carries or frames an image.
const imageBearing = "img, picture, figure"

// editContent parses a's content, applies fn to it and commits the result.
func editContent(a *Article, fn func(doc *goquery.Document)) error {
	root, err := parseFragment(a.Content)
	if err != nil {
		return fmt.Errorf("parsing content: %w", err)
	}
	fn(goquery.NewDocumentFromNode(root))
	content, err := renderFragment(root)
	if err != nil {
		return fmt.Errorf("rendering content: %w", err)
	}
	a.Content = content
	return nil
}

// removeHyperlinks empties the attribute list of every <a>. Link text and
// child elements stay where they are.
func removeHyperlinks(a *Article) error {
	return editContent(a, func(doc *goquery.Document) {
		for _, n := range doc.Find("a").Nodes {
			n.Attr = nil
		}
	})
}

// removeImages deletes images and their figure/picture wrappers together
// with everything inside them.
func removeImages(a *Article) error {
	return editContent(a, func(doc *goquery.Document) {
		doc.Find(imageBearing).Remove()
	})
}
