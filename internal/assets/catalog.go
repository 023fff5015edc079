// Package assets loads the device automation catalog: screen definitions,
// popup definitions, and the navigation graph, declared in YAML alongside
// the template images they reference.
package assets

import (
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/droidpilot/droidpilot/internal/navgraph"
	"github.com/droidpilot/droidpilot/internal/popup"
	"github.com/droidpilot/droidpilot/internal/screens"
	"github.com/droidpilot/droidpilot/internal/vision"
)

// CatalogFile is the expected filename inside the asset directory.
const CatalogFile = "catalog.yaml"

// Catalog is the loaded, frozen automation catalog.
type Catalog struct {
	Screens *screens.Registry
	Popups  *popup.Registry
	Graph   *navgraph.Graph
}

// Load reads <dir>/catalog.yaml and builds the frozen registries. Template
// paths in the catalog resolve relative to dir.
func Load(dir string) (*Catalog, error) {
	data, err := os.ReadFile(filepath.Join(dir, CatalogFile))
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(data, dir)
}

// Parse builds a catalog from raw YAML. dir anchors relative template paths.
func Parse(data []byte, dir string) (*Catalog, error) {
	var spec catalogSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}

	c := &Catalog{
		Screens: screens.NewRegistry(),
		Popups:  popup.NewRegistry(),
		Graph:   navgraph.NewGraph(),
	}

	known := make(map[string]bool, len(spec.Screens))
	for _, s := range spec.Screens {
		def, err := buildScreen(s, dir)
		if err != nil {
			return nil, err
		}
		if err := c.Screens.Add(def); err != nil {
			return nil, err
		}
		known[def.ID] = true
	}

	for _, p := range spec.Popups {
		def, err := buildPopup(p, dir)
		if err != nil {
			return nil, err
		}
		if err := c.Popups.Add(def); err != nil {
			return nil, err
		}
	}

	for _, e := range spec.Edges {
		if !known[e.From] {
			return nil, fmt.Errorf("edge %s->%s: unknown source screen", e.From, e.To)
		}
		if !known[e.To] {
			return nil, fmt.Errorf("edge %s->%s: unknown destination screen", e.From, e.To)
		}
		script, err := buildScript(e)
		if err != nil {
			return nil, err
		}
		if err := c.Graph.AddEdge(navgraph.Edge{From: e.From, To: e.To, Script: script}); err != nil {
			return nil, err
		}
	}

	c.Screens.Freeze()
	c.Popups.Freeze()
	c.Graph.Freeze()
	return c, nil
}

// Warmup pre-decodes every template the catalog references, so the first
// detection does not pay decode latency. Returns loaded and failed counts.
func (c *Catalog) Warmup() (loaded, failed int) {
	tpls := append(c.Screens.Templates(), c.Popups.Templates()...)
	return vision.Warmup(tpls)
}

func buildScreen(s screenSpec, dir string) (*screens.Definition, error) {
	if len(s.Templates) == 0 && len(s.Pixels) == 0 {
		return nil, fmt.Errorf("screen %q has no checks", s.ID)
	}

	def := &screens.Definition{ID: s.ID, Tag: s.Tag}
	for _, t := range s.Templates {
		tpl, err := buildTemplate(t, dir)
		if err != nil {
			return nil, fmt.Errorf("screen %q: %w", s.ID, err)
		}
		def.Checks = append(def.Checks, screens.TemplateCheck{Tpl: tpl})
	}
	for _, p := range s.Pixels {
		rgba, err := parseHexColor(p.Color)
		if err != nil {
			return nil, fmt.Errorf("screen %q: %w", s.ID, err)
		}
		def.Checks = append(def.Checks, screens.PixelCheck{
			At:        p.At.point(),
			Color:     rgba,
			Tolerance: p.Tolerance,
		})
	}
	return def, nil
}

func buildPopup(p popupSpec, dir string) (*popup.Definition, error) {
	tpl, err := buildTemplate(p.Template, dir)
	if err != nil {
		return nil, fmt.Errorf("popup %q: %w", p.ID, err)
	}

	def := &popup.Definition{
		ID:       p.ID,
		Tpl:      tpl,
		Priority: p.Priority,
		Enabled:  p.Enabled == nil || *p.Enabled,
	}

	if p.ID == popup.FatalPopupID {
		if len(p.Actions) > 0 {
			return nil, fmt.Errorf("popup %q: the fatal popup takes no actions", p.ID)
		}
		return def, nil
	}
	if len(p.Actions) == 0 {
		return nil, fmt.Errorf("popup %q has no dismiss actions", p.ID)
	}

	for i, a := range p.Actions {
		action, err := buildPopupAction(a, dir)
		if err != nil {
			return nil, fmt.Errorf("popup %q action %d: %w", p.ID, i, err)
		}
		def.Actions = append(def.Actions, action)
	}
	return def, nil
}

func buildPopupAction(a popupActionSpec, dir string) (popup.Action, error) {
	settle := time.Duration(a.Settle)
	switch {
	case a.Tap != nil:
		return popup.TapPoint{At: a.Tap.point(), Settle: settle}, nil
	case a.TapRandom != nil:
		return popup.TapRandomIn{Rect: a.TapRandom.rect(), Settle: settle}, nil
	case a.TapButton != nil:
		tpl, err := buildTemplate(a.TapButton.Template, dir)
		if err != nil {
			return nil, err
		}
		return popup.TapButton{
			Tpl:      tpl,
			WaitGone: a.TapButton.WaitGone,
			Timeout:  time.Duration(a.TapButton.Timeout),
			Settle:   settle,
		}, nil
	case a.TapMatch:
		return popup.TapMatch{Settle: settle}, nil
	case a.Back:
		return popup.Back{Settle: settle}, nil
	}
	return nil, fmt.Errorf("empty action")
}

func buildScript(e edgeSpec) ([]navgraph.Action, error) {
	var script []navgraph.Action
	for i, a := range e.Script {
		switch {
		case a.Tap != nil:
			script = append(script, navgraph.Tap{At: a.Tap.point()})
		case a.TapAnchor != nil:
			act := navgraph.TapAnchor{Name: a.TapAnchor.Name, Retries: a.TapAnchor.Retries}
			if a.TapAnchor.Fallback != nil {
				p := a.TapAnchor.Fallback.point()
				act.Fallback = &p
			}
			script = append(script, act)
		case a.Swipe != nil:
			script = append(script, navgraph.Swipe{
				From:     a.Swipe.From.point(),
				To:       a.Swipe.To.point(),
				Duration: time.Duration(a.Swipe.Duration),
			})
		case a.Sleep > 0:
			script = append(script, navgraph.Sleep{Duration: time.Duration(a.Sleep)})
		case a.Redetect:
			script = append(script, navgraph.Redetect{})
		default:
			return nil, fmt.Errorf("edge %s->%s action %d: empty action", e.From, e.To, i)
		}
	}
	return script, nil
}

func buildTemplate(t templateSpec, dir string) (*vision.Template, error) {
	if t.Name == "" || t.Path == "" {
		return nil, fmt.Errorf("template needs name and path, got %q/%q", t.Name, t.Path)
	}
	path := t.Path
	if !filepath.IsAbs(path) {
		path = filepath.Join(dir, path)
	}
	tpl := &vision.Template{Name: t.Name, Path: path, Threshold: t.Threshold}
	if t.ROI != nil {
		r := t.ROI.rect()
		tpl.ROI = &r
	}
	return tpl, nil
}

// parseHexColor decodes #rrggbb.
func parseHexColor(s string) (color.RGBA, error) {
	if len(s) != 7 || s[0] != '#' {
		return color.RGBA{}, fmt.Errorf("bad color %q, want #rrggbb", s)
	}
	var r, g, b uint8
	if _, err := fmt.Sscanf(s[1:], "%02x%02x%02x", &r, &g, &b); err != nil {
		return color.RGBA{}, fmt.Errorf("bad color %q: %w", s, err)
	}
	return color.RGBA{R: r, G: g, B: b, A: 255}, nil
}
