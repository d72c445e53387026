// Cover image generation for epub output.
// The artwork is a deterministic band pattern seeded from the title, with
// the title and source site set in a white panel.
package main

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"strings"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

const (
	coverWidth  = 1200
	coverHeight = 1800

	panelTop    = 600
	panelBottom = 1200
	panelPadX   = 90
)

// generateCover renders a PNG cover for an article.
func generateCover(title, site string) ([]byte, error) {
	img := image.NewGray(image.Rect(0, 0, coverWidth, coverHeight))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.Gray{0xFF}), image.Point{}, draw.Src)

	drawBands(img, sha256.Sum256([]byte(title)))

	titleFace, err := loadFace(gobold.TTF, 68)
	if err != nil {
		return nil, fmt.Errorf("loading bold font: %w", err)
	}
	smallFace, err := loadFace(goregular.TTF, 34)
	if err != nil {
		return nil, fmt.Errorf("loading regular font: %w", err)
	}

	drawPanel(img, title, site, titleFace, smallFace)

	label := "readerlet"
	drawString(img, label, smallFace, coverWidth-40-font.MeasureString(smallFace, label).Ceil(), coverHeight-40)

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding cover PNG: %w", err)
	}
	return buf.Bytes(), nil
}

// drawBands fills the areas above and below the panel with horizontal
// bands. Each hash byte picks one band's height and shade.
func drawBands(img *image.Gray, hash [32]byte) {
	y := 0
	for i := 0; y < coverHeight; i++ {
		b := hash[i%len(hash)] ^ byte(i*29)
		h := 24 + int(b)%72
		// e-ink renders mid greys best
		shade := uint8(0x40 + int(hash[(i+11)%len(hash)]^byte(i*7))*(0xC0-0x40)/255)

		top, bottom := y, min(y+h, coverHeight)
		y = bottom
		if (bottom > panelTop && top < panelBottom) || bottom-6 <= top {
			continue
		}
		// Alternate full bands with inset ones for texture.
		left, right := 0, coverWidth
		if i%2 == 1 {
			inset := int(b) % (coverWidth / 4)
			left, right = inset, coverWidth-inset
		}
		draw.Draw(img, image.Rect(left, top, right, bottom-6), image.NewUniform(color.Gray{shade}), image.Point{}, draw.Src)
	}
}

// drawPanel sets the wrapped title and the site name centred in the
// white panel between two rules.
func drawPanel(img *image.Gray, title, site string, titleFace, smallFace font.Face) {
	draw.Draw(img, image.Rect(0, panelTop, coverWidth, panelBottom), image.NewUniform(color.Gray{0xFF}), image.Point{}, draw.Src)
	for x := panelPadX; x < coverWidth-panelPadX; x++ {
		for t := 0; t < 3; t++ {
			img.SetGray(x, panelTop+24+t, color.Gray{0x55})
			img.SetGray(x, panelBottom-24-t, color.Gray{0x55})
		}
	}

	lines := wrapText(title, titleFace, coverWidth-panelPadX*2)
	// Titles that would overflow the panel are cut at four lines.
	if len(lines) > 4 {
		lines = append(lines[:3], lines[3]+" …")
	}
	lineHeight := titleFace.Metrics().Height.Ceil() + 10
	siteHeight := 0
	if site != "" {
		siteHeight = smallFace.Metrics().Height.Ceil() + 24
	}

	total := len(lines)*lineHeight + siteHeight
	y := panelTop + (panelBottom-panelTop-total)/2 + titleFace.Metrics().Ascent.Ceil()
	for _, line := range lines {
		drawCentred(img, line, titleFace, y)
		y += lineHeight
	}
	if site != "" {
		drawCentred(img, site, smallFace, y+24)
	}
}

func drawCentred(img *image.Gray, s string, face font.Face, y int) {
	w := font.MeasureString(face, s).Ceil()
	drawString(img, s, face, (coverWidth-w)/2, y)
}

// drawString renders a string onto a grayscale image in black.
func drawString(img *image.Gray, s string, face font.Face, x, y int) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(color.Gray{0x00}),
		Face: face,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(s)
}

// wrapText splits text into lines that fit within maxWidth pixels. A single
// word wider than maxWidth gets a line of its own.
func wrapText(text string, face font.Face, maxWidth int) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return []string{text}
	}

	var lines []string
	current := words[0]
	for _, word := range words[1:] {
		trial := current + " " + word
		if font.MeasureString(face, trial).Ceil() <= maxWidth {
			current = trial
			continue
		}
		lines = append(lines, current)
		current = word
	}
	return append(lines, current)
}

// loadFace parses an OpenType font and returns a Face at the given size in points.
func loadFace(ttf []byte, sizePt float64) (font.Face, error) {
	f, err := opentype.Parse(ttf)
	if err != nil {
		return nil, err
	}
	return opentype.NewFace(f, &opentype.FaceOptions{
		Size:    sizePt,
		DPI:     72,
		Hinting: font.HintingFull,
	})
}
