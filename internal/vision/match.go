package vision

import (
	"errors"
	"image"
	"math"
	"sort"
)

// DefaultThreshold is the minimum correlation counted as a match
// unless a caller or template overrides it.
const DefaultThreshold = 0.85

// flatEps is the standard deviation below which a patch counts as flat.
const flatEps = 1e-6

// ErrTemplateTooLarge reports caller misuse: a template that cannot fit the
// searched frame region. Never returned for ordinary absence.
var ErrTemplateTooLarge = errors.New("template larger than search region")

// Box is one template match: location plus correlation score in [0, 1].
type Box struct {
	Rect  image.Rectangle
	Score float64
}

// Center returns the box midpoint in frame coordinates.
func (b Box) Center() image.Point {
	return image.Pt(b.Rect.Min.X+b.Rect.Dx()/2, b.Rect.Min.Y+b.Rect.Dy()/2)
}

// Match finds the best placement of t in f. Absence is (zero, false, nil);
// an error means the template could not be used at all.
func Match(f *Frame, t *Template, threshold float64) (Box, bool, error) {
	boxes, err := search(f, t, threshold, false)
	if err != nil || len(boxes) == 0 {
		return Box{}, false, err
	}
	return boxes[0], true, nil
}

// FindAll returns every placement scoring at or above the threshold, sorted
// by score descending and duplicate-suppressed: a candidate is dropped when
// its center lies within half the template's larger dimension of a kept one.
func FindAll(f *Frame, t *Template, threshold float64) ([]Box, error) {
	boxes, err := search(f, t, threshold, true)
	if err != nil {
		return nil, err
	}
	sort.Slice(boxes, func(i, j int) bool { return boxes[i].Score > boxes[j].Score })
	m, _ := t.material()
	radius := max(m.gray.Bounds().Dx(), m.gray.Bounds().Dy()) / 2
	return Dedupe(boxes, radius), nil
}

// Dedupe suppresses duplicate detections of one real-world match. Input must
// be sorted by score descending; a box survives unless its center is within
// minDist of an already-kept box. Idempotent.
func Dedupe(boxes []Box, minDist int) []Box {
	if len(boxes) <= 1 {
		return boxes
	}
	limitSq := minDist * minDist
	kept := make([]Box, 0, len(boxes))
	for _, b := range boxes {
		c := b.Center()
		dup := false
		for _, k := range kept {
			kc := k.Center()
			dx, dy := c.X-kc.X, c.Y-kc.Y
			if dx*dx+dy*dy < limitSq {
				dup = true
				break
			}
		}
		if !dup {
			kept = append(kept, b)
		}
	}
	return kept
}

// search slides the template over the frame (or its ROI) scoring each
// placement with zero-mean normalized cross-correlation on grayscale.
// Negative correlations clamp to 0. A flat template degrades to inverted
// mean absolute difference so exact matches still score 1.
func search(f *Frame, t *Template, threshold float64, all bool) ([]Box, error) {
	m, err := t.material()
	if err != nil {
		return nil, err
	}
	if threshold <= 0 {
		threshold = t.EffectiveThreshold(DefaultThreshold)
	}

	fg := f.Gray()
	region := fg.Bounds()
	if t.ROI != nil {
		region = t.ROI.Intersect(region)
	}

	tg := m.gray
	tw, th := tg.Bounds().Dx(), tg.Bounds().Dy()
	if tw > region.Dx() || th > region.Dy() || tw == 0 || th == 0 {
		return nil, ErrTemplateTooLarge
	}

	n := float64(tw * th)
	flat := m.std < flatEps

	var boxes []Box
	best := Box{Score: -1}

	for y := region.Min.Y; y <= region.Max.Y-th; y++ {
		for x := region.Min.X; x <= region.Max.X-tw; x++ {
			score := scoreAt(fg, tg, x, y, tw, th, n, m.mean, m.std, flat)
			if score < threshold {
				continue
			}
			b := Box{Rect: image.Rect(x, y, x+tw, y+th), Score: score}
			if all {
				boxes = append(boxes, b)
			} else if score > best.Score {
				best = b
			}
		}
	}

	if !all {
		if best.Score < 0 {
			return nil, nil
		}
		return []Box{best}, nil
	}
	return boxes, nil
}

func scoreAt(fg, tg *image.Gray, x, y, tw, th int, n, tplMean, tplStd float64, flat bool) float64 {
	fOff := (y-fg.Rect.Min.Y)*fg.Stride + (x - fg.Rect.Min.X)

	if flat {
		// Flat reference: correlation is undefined, fall back to inverted
		// mean absolute difference so identical patches score 1.
		var absSum float64
		for j := 0; j < th; j++ {
			fRow := fg.Pix[fOff+j*fg.Stride : fOff+j*fg.Stride+tw]
			tRow := tg.Pix[j*tg.Stride : j*tg.Stride+tw]
			for i := 0; i < tw; i++ {
				d := float64(fRow[i]) - float64(tRow[i])
				if d < 0 {
					d = -d
				}
				absSum += d
			}
		}
		return 1 - absSum/(n*255)
	}

	var sumF, sumF2, cross float64
	for j := 0; j < th; j++ {
		fRow := fg.Pix[fOff+j*fg.Stride : fOff+j*fg.Stride+tw]
		tRow := tg.Pix[j*tg.Stride : j*tg.Stride+tw]
		for i := 0; i < tw; i++ {
			fv := float64(fRow[i])
			sumF += fv
			sumF2 += fv * fv
			cross += fv * float64(tRow[i])
		}
	}

	meanF := sumF / n
	varF := sumF2/n - meanF*meanF
	if varF < flatEps {
		return 0
	}
	cov := cross/n - meanF*tplMean
	score := cov / (math.Sqrt(varF) * tplStd)
	if score < 0 {
		return 0
	}
	if score > 1 {
		score = 1
	}
	return score
}
