// WebP to PNG conversion for reading devices that cannot display WebP.
package main

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"strings"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/webp"
)

type convertOpts struct {
	maxWidth  int  // downscale wider images to this width; 0 keeps the size
	grayscale bool // e-ink screens gain nothing from colour
}

// resize downscales an image using BiLinear resampling.
func resize(src image.Image, dstW, dstH int) *image.NRGBA {
	dst := image.NewNRGBA(image.Rect(0, 0, dstW, dstH))
	xdraw.BiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), xdraw.Over, nil)
	return dst
}

func toGrayscale(src image.Image) *image.Gray {
	b := src.Bounds()
	gray := image.NewGray(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			gray.Set(x, y, color.GrayModel.Convert(src.At(x, y)))
		}
	}
	return gray
}

// convertImage decodes the WebP file at path, writes <stem>.png beside it
// and removes the original. It returns the new file name. On failure the
// original is left in place and no PNG is written.
func convertImage(path string, opts convertOpts) (string, error) {
	base := filepath.Base(path)
	return convertImageTo(path, strings.TrimSuffix(base, filepath.Ext(base))+".png", opts)
}

// convertImageTo is convertImage with an explicit output name in the same
// directory.
func convertImageTo(path, name string, opts convertOpts) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", errUnsupportedFormat, err)
	}
	img, err := webp.Decode(f)
	f.Close()
	if err != nil {
		return "", fmt.Errorf("%w: decode %s: %v", errUnsupportedFormat, filepath.Base(path), err)
	}

	// Downscale by width only (never upscale)
	b := img.Bounds()
	if w, h := b.Dx(), b.Dy(); opts.maxWidth > 0 && w > opts.maxWidth {
		newH := int(math.Round(float64(h) * float64(opts.maxWidth) / float64(w)))
		if newH < 1 {
			newH = 1
		}
		img = resize(img, opts.maxWidth, newH)
	}
	if opts.grayscale {
		img = toGrayscale(img)
	}

	dir := filepath.Dir(path)
	dest := filepath.Join(dir, name)

	tmp, err := os.CreateTemp(dir, ".convert-*.png")
	if err != nil {
		return "", fmt.Errorf("%w: %v", errUnsupportedFormat, err)
	}
	err = png.Encode(tmp, img)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(tmp.Name(), dest)
	}
	if err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("%w: encode %s: %v", errUnsupportedFormat, name, err)
	}

	if dest != path {
		if err := os.Remove(path); err != nil {
			log.WithError(err).Warnf("could not remove %s", filepath.Base(path))
		}
	}
	return name, nil
}
