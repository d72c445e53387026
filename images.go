// Image localization: every remote <img> in an article is downloaded into
// a local directory and its src rewritten to images/<name>, or the element
// is removed when that is not possible.
package main

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/JohannesKaufmann/dom"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/html"
)

// imagePrefix is the package-relative directory images are referenced by.
const imagePrefix = "images/"

type pipelineOpts struct {
	constrained bool // target cannot display WebP
	convert     convertOpts
}

type imageOutcome struct {
	name string
	err  error
}

// resolveImageURL joins src against the article URL. Only absolute http(s)
// results are accepted.
func resolveImageURL(base *url.URL, src string) (*url.URL, error) {
	ref, err := url.Parse(strings.TrimSpace(src))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errMalformedReference, err)
	}
	abs := base.ResolveReference(ref)
	if (abs.Scheme != "http" && abs.Scheme != "https") || abs.Host == "" {
		return nil, fmt.Errorf("%w: %q does not resolve to an http(s) URL", errMalformedReference, src)
	}
	abs.Fragment = ""
	return abs, nil
}

// processImages localizes the images of a's content into dir. Images that
// cannot be fetched, converted or typed are removed from the content and
// reported; they never fail the run. The returned error is reserved for
// an unusable article (bad base URL, unparseable content) or a cancelled
// context, in which case a is left unchanged.
func processImages(ctx context.Context, a *Article, dir string, opts pipelineOpts) error {
	base, err := url.Parse(a.URL)
	if err != nil {
		return fmt.Errorf("invalid article URL %q: %w", a.URL, err)
	}
	root, err := parseFragment(a.Content)
	if err != nil {
		return fmt.Errorf("parsing content: %w", err)
	}

	imgs := dom.FindAllNodes(root, func(n *html.Node) bool {
		return dom.NodeName(n) == "img"
	})

	var records []ImageRecord
	seen := make(map[string]imageOutcome)
	var failed int

	// Names already in the manifest are never reused, so a later image
	// with the same basename cannot replace an accepted file.
	taken := func(name string) bool {
		return ownedBy(records, name) || a.hasImage(name)
	}
	loc := &imageLocalizer{client: getImageClient(), dir: dir, opts: opts, taken: taken}

	for _, img := range imgs {
		if err := ctx.Err(); err != nil {
			return err
		}

		src, ok := dom.GetAttribute(img, "src")
		if !ok || strings.TrimSpace(src) == "" {
			continue
		}

		var key string
		var out imageOutcome
		abs, err := resolveImageURL(base, src)
		if err != nil {
			key, out.err = src, err
		} else {
			key = abs.String()
			var dup bool
			if out, dup = seen[key]; !dup {
				out.name, out.err = loc.localize(ctx, abs)
				if out.err == nil {
					mt, _ := mediaTypeFor(out.name)
					records = append(records, ImageRecord{Name: out.name, MediaType: mt})
				}
				seen[key] = out
			}
		}

		if out.err != nil {
			failed++
			ie := &imageError{URL: key, Err: out.err}
			log.WithFields(logrus.Fields{
				"url":    ie.URL,
				"reason": ie.reason(),
			}).Warnf("image dropped: %v", out.err)
			dom.RemoveNode(img)
			continue
		}

		setAttr(img, "src", imagePrefix+out.name)
		dropAttrs(img, func(k string) bool {
			return k == "srcset" || k == "sizes" || strings.HasPrefix(k, "data-src")
		})
	}

	content, err := renderFragment(root)
	if err != nil {
		return fmt.Errorf("rendering content: %w", err)
	}

	a.Content = content
	a.Images = append(a.Images, records...)
	if len(records) > 0 || failed > 0 {
		log.Infof("Localized %d images (%d dropped)", len(records), failed)
	}
	return nil
}

// imageLocalizer downloads images of one article into dir through a
// shared client.
type imageLocalizer struct {
	client *http.Client
	dir    string
	opts   pipelineOpts
	taken  func(name string) bool
}

// localize fetches one image and brings it into its final, typed form
// under a name nothing else in the manifest uses. A rejected file is
// removed.
func (l *imageLocalizer) localize(ctx context.Context, u *url.URL) (string, error) {
	name := uniqueName(imageFileName(u), l.taken)
	if err := downloadImage(ctx, l.client, u, filepath.Join(l.dir, name)); err != nil {
		return "", err
	}

	final, err := l.normalize(name)
	if err == nil {
		_, err = mediaTypeFor(final)
	}
	if err != nil {
		for _, n := range []string{name, final} {
			if n != "" {
				os.Remove(filepath.Join(l.dir, n))
			}
		}
		return "", err
	}
	return final, nil
}

func ownedBy(records []ImageRecord, name string) bool {
	for _, r := range records {
		if r.Name == name {
			return true
		}
	}
	return false
}

// normalize reconciles a downloaded file's name with its content. WebP is
// converted for constrained targets, or renamed to .webp when the URL hid
// it behind another extension. A file with an unknown extension whose
// content sniffs as a known image type gets that type's extension.
func (l *imageLocalizer) normalize(name string) (string, error) {
	path := filepath.Join(l.dir, name)
	sniffed := sniffMediaType(path)
	declared, extErr := mediaTypeFor(name)

	isWebP := sniffed == "image/webp" || (declared == "image/webp" && extensionFor(sniffed) == "")

	switch {
	case isWebP && l.opts.constrained:
		return convertImageTo(path, l.target(name, "png"), l.opts.convert)
	case isWebP && declared != "image/webp":
		return l.rename(name, "webp")
	case declared == "image/webp" && !isWebP:
		return l.rename(name, extensionFor(sniffed))
	case extErr != nil && extensionFor(sniffed) != "":
		return l.rename(name, extensionFor(sniffed))
	}
	return name, nil
}

// target returns a free name for name with its extension swapped to ext,
// adding one if it has none.
func (l *imageLocalizer) target(name, ext string) string {
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	if stem == "" {
		stem = name
	}
	return uniqueName(stem+"."+ext, l.taken)
}

func (l *imageLocalizer) rename(name, ext string) (string, error) {
	renamed := l.target(name, ext)
	if err := os.Rename(filepath.Join(l.dir, name), filepath.Join(l.dir, renamed)); err != nil {
		return "", fmt.Errorf("%w: %v", errUnavailable, err)
	}
	log.Debugf("renamed %s to %s by content", name, renamed)
	return renamed, nil
}
