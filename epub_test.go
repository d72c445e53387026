package main

import (
	"archive/zip"
	"encoding/xml"
	"errors"
	"image/color"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	epub "github.com/go-shiori/go-epub"
)

func TestOutputFileName(t *testing.T) {
	tests := []struct {
		title string
		ext   string
		want  string
	}{
		{"Hello World", ".epub", "Hello_World.epub"},
		{"  padded  ", ".md", "padded.md"},
		{`a/b\c:d*e?f"g<h>i|j`, ".html", "abcdefghij.html"},
		{"tab\there", ".txt", "tabhere.txt"},
		{"", ".epub", "article.epub"},
		{"???", ".epub", "article.epub"},
		{"...", ".epub", "article.epub"},
		{"Ünïcödé Tïtle", ".epub", "Ünïcödé_Tïtle.epub"},
	}
	for _, tt := range tests {
		if got := outputFileName(tt.title, tt.ext); got != tt.want {
			t.Errorf("outputFileName(%q) = %q, want %q", tt.title, got, tt.want)
		}
	}
}

func TestOutputFileName_Long(t *testing.T) {
	got := outputFileName(strings.Repeat("é", 300), ".epub")
	if len(got) > maxFileNameBytes+len(".epub") {
		t.Errorf("name is %d bytes", len(got))
	}
	if !strings.HasSuffix(got, "é.epub") {
		t.Errorf("name should be cut on a rune boundary: %q", got[len(got)-8:])
	}
}

// readZip returns the contents of every file in the archive by name.
func readZip(t *testing.T, path string) map[string]string {
	t.Helper()
	zr, err := zip.OpenReader(path)
	if err != nil {
		t.Fatalf("not a valid zip: %v", err)
	}
	defer zr.Close()

	files := map[string]string{}
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			t.Fatal(err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			t.Fatal(err)
		}
		files[f.Name] = string(data)
	}
	return files
}

// findEntry returns the first archive entry whose name ends with suffix.
func findEntry(files map[string]string, suffix string) (string, string, bool) {
	for name, body := range files {
		if strings.HasSuffix(name, suffix) {
			return name, body, true
		}
	}
	return "", "", false
}

func writeImages(t *testing.T, dir string, files map[string][]byte) {
	t.Helper()
	for name, data := range files {
		if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestBuildEpub_Basic(t *testing.T) {
	imageDir := t.TempDir()
	writeImages(t, imageDir, map[string][]byte{
		"photo.png": makePNG(10, 10, color.NRGBA{255, 0, 0, 255}),
		"pic.jpg":   makeJPEG(10, 10, color.White),
	})
	a := &Article{
		URL:    "https://www.example.com/post",
		Title:  "Test & Article",
		Byline: "Jane Doe",
		Lang:   "en",
		Content: `<p>Intro</p><img src="images/photo.png" alt="red"><figure><img src="images/pic.jpg"></figure>` +
			`<img src="https://cdn.example.com/leftover.png"><p>End<br>line</p>`,
		Images: []ImageRecord{{"photo.png", "image/png"}, {"pic.jpg", "image/jpeg"}},
	}

	outPath := filepath.Join(t.TempDir(), "test.epub")
	if err := buildEpub(a, imageDir, outPath); err != nil {
		t.Fatal(err)
	}
	files := readZip(t, outPath)

	if files["mimetype"] != "application/epub+zip" {
		t.Errorf("mimetype = %q", files["mimetype"])
	}
	for _, name := range []string{"images/photo.png", "images/pic.jpg", "images/cover.png"} {
		if _, _, ok := findEntry(files, name); !ok {
			t.Errorf("missing %s", name)
			for n := range files {
				t.Logf("  %s", n)
			}
		}
	}

	_, section, ok := findEntry(files, "article.xhtml")
	if !ok {
		t.Fatal("missing article.xhtml")
	}
	for _, want := range []string{`src="../images/photo.png"`, `src="../images/pic.jpg"`, "Test &amp; Article", "Jane Doe"} {
		if !strings.Contains(section, want) {
			t.Errorf("section missing %q", want)
		}
	}
	if strings.Contains(section, "leftover.png") || strings.Contains(section, `src="images/`) {
		t.Errorf("section should only reference packaged images:\n%s", section)
	}

	dec := xml.NewDecoder(strings.NewReader(section))
	for {
		if _, err := dec.Token(); err != nil {
			if !errors.Is(err, io.EOF) {
				t.Errorf("section is not well-formed XML: %v", err)
			}
			break
		}
	}

	_, opf, ok := findEntry(files, ".opf")
	if !ok {
		t.Fatal("missing package document")
	}
	for _, want := range []string{"Test &amp; Article", "Jane Doe", "image/png", "image/jpeg"} {
		if !strings.Contains(opf, want) {
			t.Errorf("package document missing %q", want)
		}
	}
}

func TestBuildEpub_NoImages(t *testing.T) {
	a := &Article{URL: "https://example.com/p", Title: "Plain", Byline: "example.com", Lang: "de", Content: "<p>only text</p>"}
	outPath := filepath.Join(t.TempDir(), "plain.epub")
	if err := buildEpub(a, t.TempDir(), outPath); err != nil {
		t.Fatal(err)
	}
	files := readZip(t, outPath)
	if _, section, _ := findEntry(files, "article.xhtml"); !strings.Contains(section, "only text") {
		t.Errorf("section = %q", section)
	}
	if _, opf, _ := findEntry(files, ".opf"); !strings.Contains(opf, ">de<") {
		t.Error("package language should be de")
	}
}

func TestBuildEpub_CoverNameCollision(t *testing.T) {
	imageDir := t.TempDir()
	article := makePNG(4, 4, color.Black)
	writeImages(t, imageDir, map[string][]byte{"cover.png": article})
	a := &Article{
		URL:     "https://example.com/p",
		Title:   "Covers",
		Lang:    "en",
		Content: `<img src="images/cover.png">`,
		Images:  []ImageRecord{{"cover.png", "image/png"}},
	}

	outPath := filepath.Join(t.TempDir(), "covers.epub")
	if err := buildEpub(a, imageDir, outPath); err != nil {
		t.Fatal(err)
	}
	files := readZip(t, outPath)

	_, got, ok := findEntry(files, "images/cover.png")
	if !ok || got != string(article) {
		t.Error("article image cover.png should be packaged unchanged")
	}
	if _, _, ok := findEntry(files, "images/cover-1.png"); !ok {
		t.Error("generated cover should move to cover-1.png")
	}
}

func TestBuildEpub_MissingImageFile(t *testing.T) {
	a := &Article{
		URL:     "https://example.com/p",
		Title:   "Broken",
		Lang:    "en",
		Content: `<img src="images/gone.png">`,
		Images:  []ImageRecord{{"gone.png", "image/png"}},
	}
	if err := buildEpub(a, t.TempDir(), filepath.Join(t.TempDir(), "b.epub")); err == nil {
		t.Fatal("expected error for a manifest entry without a file")
	}
}

func TestEmbedImages_OnlyManifestNames(t *testing.T) {
	imageDir := t.TempDir()
	writeImages(t, imageDir, map[string][]byte{"a.png": makePNG(2, 2, color.White)})
	a := &Article{Title: "T", Images: []ImageRecord{{"a.png", "image/png"}}}

	e := newTestEpub(t)
	got, err := embedImages(e, a, imageDir, `<img src="images/a.png"><img src="images/b.png"><img src="xx/images/a.png">`)
	if err != nil {
		t.Fatal(err)
	}
	if s := srcs(got); len(s) != 3 || s[0] != "../images/a.png" || s[1] != "images/b.png" || s[2] != "xx/images/a.png" {
		t.Errorf("srcs = %v", s)
	}
}

func newTestEpub(t *testing.T) *epub.Epub {
	t.Helper()
	e, err := epub.NewEpub("test")
	if err != nil {
		t.Fatal(err)
	}
	return e
}
