// Package screens classifies captured frames against a declarative catalog
// of named screens.
package screens

import (
	"image"
	"image/color"

	"github.com/droidpilot/droidpilot/internal/vision"
)

// Unknown is the id reported when no screen clears the threshold.
const Unknown = "unknown"

// Outcome is the result of one validator against a frame. A validator
// either contributes a named score (template match) or vetoes the whole
// screen (failed pixel assertion); never both.
type Outcome struct {
	Contributes bool
	Name        string
	Score       float64
	Box         vision.Box
	Veto        bool
}

// Check is one screen validator variant.
type Check interface {
	Evaluate(f *vision.Frame) (Outcome, error)
}

// TemplateCheck contributes the template's best match score and records the
// match box as a named anchor.
type TemplateCheck struct {
	Tpl *vision.Template
}

// Evaluate matches with a floor threshold so weak scores still register:
// identification is decided later against the detector's threshold, and
// anchors are useful even on screens identified by a different template.
func (c TemplateCheck) Evaluate(f *vision.Frame) (Outcome, error) {
	box, ok, err := vision.Match(f, c.Tpl, anchorScoreFloor)
	if err != nil {
		return Outcome{}, err
	}
	out := Outcome{Contributes: true, Name: c.Tpl.Name}
	if ok {
		out.Score = box.Score
		out.Box = box
	}
	return out, nil
}

// PixelCheck vetoes the screen when the frame color at a point strays
// beyond the per-channel tolerance. Necessary, never sufficient.
type PixelCheck struct {
	At        image.Point
	Color     color.RGBA
	Tolerance uint8
}

func (c PixelCheck) Evaluate(f *vision.Frame) (Outcome, error) {
	r, g, b, _ := f.At(c.At.X, c.At.Y).RGBA()
	if chanDiff(uint8(r>>8), c.Color.R) > c.Tolerance ||
		chanDiff(uint8(g>>8), c.Color.G) > c.Tolerance ||
		chanDiff(uint8(b>>8), c.Color.B) > c.Tolerance {
		return Outcome{Veto: true}, nil
	}
	return Outcome{}, nil
}

func chanDiff(a, b uint8) uint8 {
	if a > b {
		return a - b
	}
	return b - a
}

// Definition is one registered screen: ordered validators plus an optional
// tag naming the sole template whose score identifies the screen.
type Definition struct {
	ID     string
	Checks []Check
	Tag    string
}
