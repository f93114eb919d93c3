package avatar

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/anthonynsimon/bild/clone"
	"github.com/anthonynsimon/bild/imgio"
	"github.com/anthonynsimon/bild/transform"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

var ErrImageLoad = errors.New("avatar image could not be loaded")

// DefaultMaxPixels bounds width*height of a source image when Options
// leaves MaxPixels unset. Decoding to RGBA costs four bytes per pixel.
const DefaultMaxPixels = 1 << 25

type Options struct {
	// MaxSide downscales larger avatars; 0 keeps the source size.
	MaxSide int
	// MaxPixels rejects sources declaring more pixels before they are decoded.
	MaxPixels int64
}

func (o Options) pixelBudget() int64 {
	if o.MaxPixels <= 0 {
		return DefaultMaxPixels
	}
	return o.MaxPixels
}

// Normalize decodes any supported avatar and redraws it onto a fresh RGBA
// canvas encoded as png. Metadata of the source never survives.
func Normalize(data []byte, opts Options) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty", ErrImageLoad)
	}
	conf, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrImageLoad, err)
	}
	if px := int64(conf.Width) * int64(conf.Height); px > opts.pixelBudget() {
		return nil, fmt.Errorf("%w: %s is %dx%d, over the %d pixel limit",
			ErrImageLoad, format, conf.Width, conf.Height, opts.pixelBudget())
	}
	src, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrImageLoad, err)
	}
	b := src.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return nil, fmt.Errorf("%w: %s has no pixels", ErrImageLoad, format)
	}
	img := clone.AsRGBA(src)
	if w, h, ok := fit(b.Dx(), b.Dy(), opts.MaxSide); ok {
		img = transform.Resize(img, w, h, transform.Linear)
	}
	return encode(img)
}

// fit keeps the aspect ratio while bounding the longer side.
func fit(w, h, maxSide int) (int, int, bool) {
	if maxSide <= 0 || (w <= maxSide && h <= maxSide) {
		return w, h, false
	}
	if w >= h {
		return maxSide, max(1, h*maxSide/w), true
	}
	return max(1, w*maxSide/h), maxSide, true
}

func encode(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := imgio.PNGEncoder()(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

var placeholderFill = color.RGBA{R: 0x2b, G: 0x2d, B: 0x42, A: 0xff}

// Placeholder is the avatar used for characters created without an image.
func Placeholder(w, h int) ([]byte, error) {
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("placeholder size %dx%d", w, h)
	}
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.SetRGBA(x, y, placeholderFill)
		}
	}
	return encode(img)
}
