package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
	"unicode"
)

// imageFetchTimeout bounds one image download from connect to last byte.
var imageFetchTimeout = 10 * time.Second

// imageClient, when set, is used for image downloads instead of the
// default client. Tests point it at an httptest server.
var imageClient *http.Client

// imageUserAgent is sent with every image request.
var imageUserAgent = defaultUA

// getImageClient returns the HTTP client for fetching images. A configured
// proxy takes precedence over everything else.
func getImageClient() *http.Client {
	if fetchProxyURL != "" {
		return newProxyClient(fetchProxyURL, imageFetchTimeout)
	}
	if imageClient != nil {
		return imageClient
	}
	return newProxyClient("", imageFetchTimeout)
}

func humanSize(n int64) string {
	units := []string{"B", "KB", "MB", "GB", "TB"}
	f := float64(n)
	for _, u := range units {
		if math.Abs(f) < 1024 {
			return fmt.Sprintf("%.1f%s", f, u)
		}
		f /= 1024
	}
	return fmt.Sprintf("%.1f%s", f, units[len(units)-1])
}

// imageFileName derives the on-disk name from the last path segment of the
// URL. Query and fragment never contribute. Characters that would read as
// URL syntax in an href (#, %, ?, spaces) become underscores. Names that
// would escape the directory, or are empty, fall back to a hash of the URL.
func imageFileName(u *url.URL) string {
	base := path.Base(u.Path)
	if unescaped, err := url.PathUnescape(base); err == nil {
		base = unescaped
	}
	if base == "" || base == "." || base == ".." || base == "/" ||
		strings.ContainsAny(base, `/\`) || strings.ContainsRune(base, 0) {
		sum := sha256.Sum256([]byte(u.String()))
		return hex.EncodeToString(sum[:8])
	}
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '.' || r == '-' || r == '_' {
			return r
		}
		return '_'
	}, base)
}

// uniqueName returns name, or name with a -N suffix before the extension
// when taken reports it is already in use.
func uniqueName(name string, taken func(string) bool) string {
	if taken == nil || !taken(name) {
		return name
	}
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s-%d%s", stem, i, ext)
		if !taken(candidate) {
			return candidate
		}
	}
}

// fetchImage downloads imgURL into dir and returns the local file name.
// An existing file of the same name is overwritten once the download has
// completed. Every failure wraps errUnavailable and leaves no partial file
// behind.
func fetchImage(ctx context.Context, imgURL *url.URL, dir string) (string, error) {
	name := imageFileName(imgURL)
	if err := downloadImage(ctx, getImageClient(), imgURL, filepath.Join(dir, name)); err != nil {
		return "", err
	}
	return name, nil
}

// downloadImage streams imgURL to dest through client.
func downloadImage(ctx context.Context, client *http.Client, imgURL *url.URL, dest string) error {
	ctx, cancel := context.WithTimeout(ctx, imageFetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imgURL.String(), nil)
	if err != nil {
		return fmt.Errorf("%w: %v", errUnavailable, err)
	}
	req.Header.Set("User-Agent", imageUserAgent)
	req.Header.Set("Accept", "image/avif,image/webp,image/png,image/svg+xml,image/*;q=0.8,*/*;q=0.5")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", errUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: HTTP %d", errUnavailable, resp.StatusCode)
	}

	// A failed download must not clobber an earlier file of the same name.
	f, err := os.CreateTemp(filepath.Dir(dest), ".fetch-*")
	if err != nil {
		return fmt.Errorf("%w: %v", errUnavailable, err)
	}
	n, err := copyLimited(f, resp.Body, maxResponseBytes)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(f.Name(), dest)
	}
	if err != nil {
		os.Remove(f.Name())
		return fmt.Errorf("%w: %v", errUnavailable, err)
	}

	log.WithField("size", humanSize(n)).Debugf("downloaded %s", filepath.Base(dest))
	return nil
}
