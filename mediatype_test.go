package main

import (
	"errors"
	"image/color"
	"os"
	"path/filepath"
	"testing"
)

func TestMediaTypeFor(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"photo.png", "image/png"},
		{"photo.jpg", "image/jpeg"},
		{"photo.jpeg", "image/jpeg"},
		{"PHOTO.JPG", "image/jpeg"},
		{"anim.gif", "image/gif"},
		{"diagram.svg", "image/svg+xml"},
		{"pic.webp", "image/webp"},
		{"archive.tar.png", "image/png"},
		{"my pic.Gif", "image/gif"},
	}
	for _, tt := range tests {
		got, err := mediaTypeFor(tt.name)
		if err != nil {
			t.Errorf("mediaTypeFor(%q): %v", tt.name, err)
			continue
		}
		if got != tt.want {
			t.Errorf("mediaTypeFor(%q) = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestMediaTypeFor_Unsupported(t *testing.T) {
	for _, name := range []string{"doc.pdf", "img.bmp", "img.tiff", "noext", "trailing.", "png", ""} {
		if mt, err := mediaTypeFor(name); !errors.Is(err, errUnsupportedFormat) {
			t.Errorf("mediaTypeFor(%q) = %q, %v; want errUnsupportedFormat", name, mt, err)
		}
	}
}

func TestExtensionFor(t *testing.T) {
	for mt, ext := range canonicalExtensions {
		got, err := mediaTypeFor("x." + ext)
		if err != nil || got != mt {
			t.Errorf("canonical extension %q does not map back to %q", ext, mt)
		}
		if extensionFor(mt) != ext {
			t.Errorf("extensionFor(%q) = %q, want %q", mt, extensionFor(mt), ext)
		}
	}
	if got := extensionFor("image/tiff"); got != "" {
		t.Errorf("extensionFor(image/tiff) = %q, want empty", got)
	}
}

func TestSniffMediaType(t *testing.T) {
	dir := t.TempDir()
	files := map[string][]byte{
		"a.bin":   makePNG(2, 2, color.White),
		"b.bin":   makeJPEG(2, 2, color.White),
		"c.bin":   []byte("GIF89a\x01\x00\x01\x00\x00\x00\x00;"),
		"d.bin":   gopherWebP(t),
		"e.bin":   []byte("just some text\n"),
		"svg.bin": []byte(`<svg xmlns="http://www.w3.org/2000/svg" width="1" height="1"></svg>`),
	}
	want := map[string]string{
		"a.bin":   "image/png",
		"b.bin":   "image/jpeg",
		"c.bin":   "image/gif",
		"d.bin":   "image/webp",
		"e.bin":   "text/plain",
		"svg.bin": "image/svg+xml",
	}
	for name, data := range files {
		if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	for name, mt := range want {
		if got := sniffMediaType(filepath.Join(dir, name)); got != mt {
			t.Errorf("sniffMediaType(%s) = %q, want %q", name, got, mt)
		}
	}
	if got := sniffMediaType(filepath.Join(dir, "missing")); got != "" {
		t.Errorf("missing file sniffed as %q", got)
	}
}
