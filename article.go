// Article model shared by extraction, content transforms, the image
// pipeline, and packaging.
package main

import (
	"errors"
	"net/url"
	"strings"
)

var (
	errUnavailable        = errors.New("image unavailable")
	errUnsupportedFormat  = errors.New("unsupported image format")
	errMalformedReference = errors.New("malformed image reference")
	errNoContent          = errors.New("content not extracted")
	errExtractorFailed    = errors.New("error extracting article")
)

// Article is one extracted web page on its way into a package.
type Article struct {
	URL         string // source URL, base for relative image references
	Title       string
	Byline      string
	Lang        string
	Content     string // HTML fragment, rewritten in place
	TextContent string // plain-text rendering, never rewritten

	// Images is filled by processImages in document order.
	Images []ImageRecord
}

// ImageRecord is one image that made it into the package.
type ImageRecord struct {
	Name      string // file name under the image directory
	MediaType string
}

// imageError attaches the offending URL to a per-image failure.
type imageError struct {
	URL string
	Err error
}

func (e *imageError) Error() string { return e.URL + ": " + e.Err.Error() }

func (e *imageError) Unwrap() error { return e.Err }

// reason names the failure class for log output.
func (e *imageError) reason() string {
	switch {
	case errors.Is(e.Err, errMalformedReference):
		return "malformed reference"
	case errors.Is(e.Err, errUnsupportedFormat):
		return "unsupported format"
	default:
		return "unavailable"
	}
}

// hasImage reports whether name is already in the manifest.
func (a *Article) hasImage(name string) bool {
	for _, rec := range a.Images {
		if rec.Name == name {
			return true
		}
	}
	return false
}

// applyDefaults fills missing metadata from the URL host, the same
// fallback the extractor collaborators rely on.
func (a *Article) applyDefaults() {
	host := a.URL
	if u, err := url.Parse(a.URL); err == nil && u.Host != "" {
		host = strings.TrimPrefix(u.Hostname(), "www.")
	}
	if strings.TrimSpace(a.Title) == "" {
		a.Title = host
	}
	if strings.TrimSpace(a.Byline) == "" {
		a.Byline = host
	}
	if strings.TrimSpace(a.Lang) == "" {
		a.Lang = "en"
	}
}

// siteName returns the bare host of the article URL.
func (a *Article) siteName() string {
	u, err := url.Parse(a.URL)
	if err != nil || u.Host == "" {
		return ""
	}
	return strings.TrimPrefix(u.Hostname(), "www.")
}
