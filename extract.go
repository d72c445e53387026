// Article extraction: turning a URL into title, byline, language and a
// readable HTML fragment.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"codeberg.org/readeck/go-readability/v2"
)

// extractor produces an Article for a URL. Metadata the source does not
// provide is filled from the URL host.
type extractor interface {
	Extract(ctx context.Context, rawURL string) (*Article, error)
}

// readabilityExtractor fetches the page itself and runs readability on it.
type readabilityExtractor struct {
	timeout   time.Duration
	userAgent string
}

var (
	// Matches an entire <img> tag that has data-src (lazy loading)
	lazyImgRe = regexp.MustCompile(`<img\b[^>]*\bdata-src\s*=[^>]*>`)
	// Placeholder src="data:..." inside such a tag
	placeholderSrcRe = regexp.MustCompile(`\ssrc\s*=\s*"data:[^"]*"`)
	lazySrcRe        = regexp.MustCompile(`(<img\b[^>]*?)\bdata-src=`)
	lazySrcsetRe     = regexp.MustCompile(`(<img\b[^>]*?)\bdata-srcset=`)
	realSrcRe        = regexp.MustCompile(`\ssrc\s*=`)
)

// promoteLazySrc rewrites data-src to src on lazily loaded images so the
// real URL survives extraction. Inline placeholder srcs are dropped first
// so the tag does not end up with two.
func promoteLazySrc(page []byte) []byte {
	return lazyImgRe.ReplaceAllFunc(page, func(tag []byte) []byte {
		tag = placeholderSrcRe.ReplaceAll(tag, nil)
		if realSrcRe.Match(tag) {
			return tag
		}
		tag = lazySrcRe.ReplaceAll(tag, []byte("${1}src="))
		return lazySrcsetRe.ReplaceAll(tag, []byte("${1}srcset="))
	})
}

func (e readabilityExtractor) Extract(ctx context.Context, rawURL string) (*Article, error) {
	page, finalURL, err := fetchHTML(ctx, rawURL, e.timeout, e.userAgent)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errExtractorFailed, err)
	}

	parsed, err := readability.FromReader(bytes.NewReader(promoteLazySrc(page)), finalURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errExtractorFailed, err)
	}

	var content, text bytes.Buffer
	if err := parsed.RenderHTML(&content); err != nil {
		return nil, fmt.Errorf("%w: rendering content: %v", errExtractorFailed, err)
	}
	if err := parsed.RenderText(&text); err != nil {
		return nil, fmt.Errorf("%w: rendering text: %v", errExtractorFailed, err)
	}

	return newArticle(finalURL.String(), extractorRecord{
		Title:       parsed.Title(),
		Byline:      parsed.Byline(),
		Lang:        parsed.Language(),
		Content:     content.String(),
		TextContent: text.String(),
	})
}

// commandExtractor runs an external readability program with the URL as
// its last argument and reads one JSON record from its stdout.
type commandExtractor struct {
	command string // program and leading arguments, split on spaces
}

// extractorRecord is the JSON shape external extractors print.
type extractorRecord struct {
	Title       string `json:"title"`
	Byline      string `json:"byline"`
	Lang        string `json:"lang"`
	Content     string `json:"content"`
	TextContent string `json:"textContent"`
}

func (e commandExtractor) Extract(ctx context.Context, rawURL string) (*Article, error) {
	args := strings.Fields(e.command)
	if len(args) == 0 {
		return nil, fmt.Errorf("%w: no extractor command", errExtractorFailed)
	}
	args = append(args, rawURL)

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && stderr.Len() > 0 {
			return nil, fmt.Errorf("%w: %v: %s", errExtractorFailed, err, strings.TrimSpace(stderr.String()))
		}
		return nil, fmt.Errorf("%w: %v", errExtractorFailed, err)
	}

	var rec extractorRecord
	if err := json.Unmarshal(stdout.Bytes(), &rec); err != nil {
		return nil, fmt.Errorf("%w: decoding output: %v", errExtractorFailed, err)
	}
	return newArticle(rawURL, rec)
}

// newArticle builds an Article from extractor output, applying host
// defaults. Output without content is an error.
func newArticle(rawURL string, rec extractorRecord) (*Article, error) {
	if strings.TrimSpace(rec.Content) == "" {
		return nil, errNoContent
	}
	if _, err := url.Parse(rawURL); err != nil {
		return nil, fmt.Errorf("invalid URL %q: %w", rawURL, err)
	}
	a := &Article{
		URL:         rawURL,
		Title:       strings.TrimSpace(rec.Title),
		Byline:      strings.TrimSpace(rec.Byline),
		Lang:        strings.TrimSpace(rec.Lang),
		Content:     rec.Content,
		TextContent: rec.TextContent,
	}
	a.applyDefaults()
	return a, nil
}
