// Package vision provides template matching and frame fingerprints
package vision

import (
	"image"
	"image/color"
	"image/draw"
	"sync"
)

// Frame wraps one captured bitmap. The grayscale plane every matcher needs
// is derived once and shared across all screen and popup scans of the frame.
type Frame struct {
	img      image.Image
	grayOnce sync.Once
	gray     *image.Gray
}

// NewFrame wraps a decoded capture.
func NewFrame(img image.Image) *Frame {
	return &Frame{img: img}
}

// Image returns the original bitmap.
func (f *Frame) Image() image.Image { return f.img }

// Bounds returns the frame bounds.
func (f *Frame) Bounds() image.Rectangle { return f.img.Bounds() }

// Gray returns the grayscale plane, converting lazily on first use.
func (f *Frame) Gray() *image.Gray {
	f.grayOnce.Do(func() {
		f.gray = toGray(f.img)
	})
	return f.gray
}

// At returns the color at (x, y) in the original bitmap.
func (f *Frame) At(x, y int) color.Color { return f.img.At(x, y) }

func toGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok {
		return g
	}
	b := img.Bounds()
	g := image.NewGray(b)
	draw.Draw(g, b, img, b.Min, draw.Src)
	return g
}
