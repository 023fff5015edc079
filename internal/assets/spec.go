package assets

import (
	"fmt"
	"image"
	"time"

	"gopkg.in/yaml.v3"
)

// YAML wire types for the catalog file.

type catalogSpec struct {
	Screens []screenSpec `yaml:"screens"`
	Popups  []popupSpec  `yaml:"popups"`
	Edges   []edgeSpec   `yaml:"graph"`
}

type screenSpec struct {
	ID        string         `yaml:"id"`
	Tag       string         `yaml:"tag"`
	Templates []templateSpec `yaml:"templates"`
	Pixels    []pixelSpec    `yaml:"pixels"`
}

type templateSpec struct {
	Name      string    `yaml:"name"`
	Path      string    `yaml:"path"`
	Threshold float64   `yaml:"threshold"`
	ROI       *rectSpec `yaml:"roi"`
}

type pixelSpec struct {
	At        pointSpec `yaml:"at"`
	Color     string    `yaml:"color"`
	Tolerance uint8     `yaml:"tolerance"`
}

type popupSpec struct {
	ID       string            `yaml:"id"`
	Template templateSpec      `yaml:"template"`
	Priority int               `yaml:"priority"`
	Enabled  *bool             `yaml:"enabled"`
	Actions  []popupActionSpec `yaml:"actions"`
}

// popupActionSpec is a one-of: exactly one variant field should be set.
type popupActionSpec struct {
	Tap       *pointSpec     `yaml:"tap"`
	TapRandom *rectSpec      `yaml:"tap_random"`
	TapButton *tapButtonSpec `yaml:"tap_button"`
	TapMatch  bool           `yaml:"tap_match"`
	Back      bool           `yaml:"back"`
	Settle    duration       `yaml:"settle"`
}

type tapButtonSpec struct {
	Template templateSpec `yaml:"template"`
	WaitGone bool         `yaml:"wait_gone"`
	Timeout  duration     `yaml:"timeout"`
}

type edgeSpec struct {
	From   string           `yaml:"from"`
	To     string           `yaml:"to"`
	Script []edgeActionSpec `yaml:"script"`
}

type edgeActionSpec struct {
	Tap       *pointSpec  `yaml:"tap"`
	TapAnchor *anchorSpec `yaml:"tap_anchor"`
	Swipe     *swipeSpec  `yaml:"swipe"`
	Sleep     duration    `yaml:"sleep"`
	Redetect  bool        `yaml:"redetect"`
}

type anchorSpec struct {
	Name     string     `yaml:"name"`
	Fallback *pointSpec `yaml:"fallback"`
	Retries  int        `yaml:"retries"`
}

type swipeSpec struct {
	From     pointSpec `yaml:"from"`
	To       pointSpec `yaml:"to"`
	Duration duration  `yaml:"duration"`
}

type pointSpec struct {
	X int `yaml:"x"`
	Y int `yaml:"y"`
}

func (p pointSpec) point() image.Point { return image.Pt(p.X, p.Y) }

type rectSpec struct {
	X int `yaml:"x"`
	Y int `yaml:"y"`
	W int `yaml:"w"`
	H int `yaml:"h"`
}

func (r rectSpec) rect() image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.W, r.Y+r.H)
}

// duration decodes Go duration strings like "400ms".
type duration time.Duration

func (d *duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string like \"400ms\": %w", err)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("bad duration %q: %w", s, err)
	}
	*d = duration(v)
	return nil
}
