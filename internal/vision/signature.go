package vision

import (
	"fmt"
	"image"

	"github.com/corona10/goimagehash"
	"github.com/nfnt/resize"
)

// Signature thumbnail geometry and quantization.
const (
	ThumbSize = 16
	// Low bits dropped per thumbnail pixel; absorbs capture noise.
	quantBits = 2
)

// Signature is a cheap proxy for "is this visually the same frame":
// a quantized grayscale thumbnail plus a perceptual hash fingerprint.
type Signature struct {
	thumb []uint8
	hash  *goimagehash.ImageHash
	w, h  int
}

// NewSignature fingerprints a frame bitmap.
func NewSignature(img image.Image) (*Signature, error) {
	small := resize.Resize(ThumbSize, ThumbSize, img, resize.Bilinear)
	gray := toGray(small)

	thumb := make([]uint8, ThumbSize*ThumbSize)
	b := gray.Bounds()
	for y := 0; y < ThumbSize; y++ {
		row := gray.Pix[(y)*gray.Stride : (y)*gray.Stride+b.Dx()]
		for x := 0; x < ThumbSize; x++ {
			thumb[y*ThumbSize+x] = row[x] >> quantBits << quantBits
		}
	}

	hash, err := goimagehash.PerceptionHash(img)
	if err != nil {
		return nil, fmt.Errorf("perception hash: %w", err)
	}
	return &Signature{thumb: thumb, hash: hash, w: ThumbSize, h: ThumbSize}, nil
}

// Fingerprint returns the 64-bit perceptual hash value.
func (s *Signature) Fingerprint() uint64 { return s.hash.GetHash() }

// Same reports whether two signatures have identical fingerprints.
func (s *Signature) Same(o *Signature) bool {
	if s == nil || o == nil {
		return false
	}
	d, err := s.hash.Distance(o.hash)
	return err == nil && d == 0
}

// MeanAbsDiff returns the mean absolute per-pixel thumbnail difference.
// Signatures of different geometry are maximally different.
func (s *Signature) MeanAbsDiff(o *Signature) float64 {
	if s == nil || o == nil || len(s.thumb) != len(o.thumb) || len(s.thumb) == 0 {
		return 255
	}
	var sum float64
	for i := range s.thumb {
		d := int(s.thumb[i]) - int(o.thumb[i])
		if d < 0 {
			d = -d
		}
		sum += float64(d)
	}
	return sum / float64(len(s.thumb))
}

// Similar reports whether the mean absolute difference is within tol.
func (s *Signature) Similar(o *Signature, tol float64) bool {
	if s == nil || o == nil {
		return false
	}
	return s.MeanAbsDiff(o) <= tol
}
