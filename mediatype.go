package main

import (
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// imageMediaTypes maps lower-case file extensions to the image types a
// package may declare. Add entries here; the pipeline reads nothing else.
var imageMediaTypes = map[string]string{
	"png":  "image/png",
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"gif":  "image/gif",
	"svg":  "image/svg+xml",
	"webp": "image/webp",
}

// canonicalExtensions is the preferred extension per media type, used when
// a file has to be renamed after sniffing.
var canonicalExtensions = map[string]string{
	"image/png":     "png",
	"image/jpeg":    "jpg",
	"image/gif":     "gif",
	"image/svg+xml": "svg",
	"image/webp":    "webp",
}

// mediaTypeFor returns the media type for a file name, judged only by the
// text after its last dot.
func mediaTypeFor(name string) (string, error) {
	i := strings.LastIndex(name, ".")
	if i < 0 || i == len(name)-1 {
		return "", fmt.Errorf("%w: %q has no extension", errUnsupportedFormat, name)
	}
	ext := strings.ToLower(name[i+1:])
	if mt, ok := imageMediaTypes[ext]; ok {
		return mt, nil
	}
	return "", fmt.Errorf("%w: .%s", errUnsupportedFormat, ext)
}

// extensionFor is the reverse of mediaTypeFor. It returns "" for types the
// table does not know.
func extensionFor(mediaType string) string {
	return canonicalExtensions[mediaType]
}

// sniffMediaType inspects the first bytes of a file. Charset parameters
// are dropped so the result compares against the table directly.
func sniffMediaType(path string) string {
	m, err := mimetype.DetectFile(path)
	if err != nil {
		return ""
	}
	mt := m.String()
	if i := strings.Index(mt, ";"); i >= 0 {
		mt = mt[:i]
	}
	return strings.TrimSpace(mt)
}
