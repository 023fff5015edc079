package assets

import (
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/droidpilot/droidpilot/internal/navgraph"
	"github.com/droidpilot/droidpilot/internal/popup"
)

const sampleCatalog = `
screens:
  - id: home
    tag: home_logo
    templates:
      - name: home_logo
        path: templates/home_logo.png
        threshold: 0.9
        roi: {x: 0, y: 0, w: 200, h: 120}
      - name: shop_icon
        path: templates/shop_icon.png
    pixels:
      - at: {x: 10, y: 10}
        color: "#ffcc00"
        tolerance: 12
  - id: shop
    templates:
      - name: shop_banner
        path: templates/shop_banner.png

popups:
  - id: daily_reward
    priority: 10
    template:
      name: daily_reward
      path: templates/daily_reward.png
    actions:
      - tap_button:
          template: {name: claim, path: templates/claim.png}
          wait_gone: true
          timeout: "2s"
      - back: true
        settle: "250ms"
  - id: rate_us
    priority: 5
    enabled: false
    template:
      name: rate_us
      path: templates/rate_us.png
    actions:
      - tap: {x: 400, y: 600}
  - id: fatal
    priority: 0
    template:
      name: maintenance
      path: templates/maintenance.png

graph:
  - from: home
    to: shop
    script:
      - tap_anchor:
          name: shop_icon
          fallback: {x: 500, y: 900}
          retries: 2
      - sleep: "300ms"
`

func TestParseCatalog(t *testing.T) {
	c, err := Parse([]byte(sampleCatalog), "/assets")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	defs := c.Screens.Defs()
	if len(defs) != 2 {
		t.Fatalf("screens = %d, want 2", len(defs))
	}
	home, ok := c.Screens.Lookup("home")
	if !ok {
		t.Fatal("screen home not registered")
	}
	if home.Tag != "home_logo" {
		t.Errorf("home.Tag = %q, want home_logo", home.Tag)
	}
	if len(home.Checks) != 3 {
		t.Errorf("home checks = %d, want 2 templates + 1 pixel", len(home.Checks))
	}

	// Popups are frozen into ascending priority order; fatal (0) first.
	pdefs := c.Popups.Defs()
	if len(pdefs) != 3 {
		t.Fatalf("popups = %d, want 3", len(pdefs))
	}
	if pdefs[0].ID != popup.FatalPopupID || pdefs[1].ID != "rate_us" || pdefs[2].ID != "daily_reward" {
		t.Errorf("popup order = [%s %s %s], want [fatal rate_us daily_reward]",
			pdefs[0].ID, pdefs[1].ID, pdefs[2].ID)
	}
	if pdefs[1].Enabled {
		t.Error("rate_us should be disabled")
	}
	if !pdefs[2].Enabled {
		t.Error("daily_reward should default to enabled")
	}

	tb, ok := pdefs[2].Actions[0].(popup.TapButton)
	if !ok {
		t.Fatalf("action 0 = %T, want TapButton", pdefs[2].Actions[0])
	}
	if !tb.WaitGone || tb.Timeout != 2*time.Second {
		t.Errorf("TapButton = %+v, want wait_gone with 2s timeout", tb)
	}
	if !strings.HasPrefix(tb.Tpl.Path, "/assets"+string(filepath.Separator)) {
		t.Errorf("template path %q not anchored to asset dir", tb.Tpl.Path)
	}
	back, ok := pdefs[2].Actions[1].(popup.Back)
	if !ok || back.Settle != 250*time.Millisecond {
		t.Errorf("action 1 = %#v, want Back with 250ms settle", pdefs[2].Actions[1])
	}

	if c.Graph.EdgeCount() != 1 {
		t.Fatalf("edges = %d, want 1", c.Graph.EdgeCount())
	}
	edge := c.Graph.Edge(0)
	ta, ok := edge.Script[0].(navgraph.TapAnchor)
	if !ok {
		t.Fatalf("script[0] = %T, want TapAnchor", edge.Script[0])
	}
	if ta.Name != "shop_icon" || ta.Retries != 2 || ta.Fallback == nil || *ta.Fallback != image.Pt(500, 900) {
		t.Errorf("TapAnchor = %+v, want shop_icon with fallback (500,900) and 2 retries", ta)
	}
	if sl, ok := edge.Script[1].(navgraph.Sleep); !ok || sl.Duration != 300*time.Millisecond {
		t.Errorf("script[1] = %#v, want 300ms sleep", edge.Script[1])
	}
}

func TestParseRejectsUnknownEdgeEndpoint(t *testing.T) {
	const bad = `
screens:
  - id: home
    templates:
      - {name: logo, path: t/logo.png}
graph:
  - from: home
    to: nowhere
    script:
      - tap: {x: 1, y: 1}
`
	if _, err := Parse([]byte(bad), "/assets"); err == nil {
		t.Error("Parse() accepted an edge to an unregistered screen")
	}
}

func TestParseRejectsBadColor(t *testing.T) {
	const bad = `
screens:
  - id: home
    pixels:
      - at: {x: 1, y: 1}
        color: "gold"
`
	if _, err := Parse([]byte(bad), "/assets"); err == nil {
		t.Error("Parse() accepted a non-hex pixel color")
	}
}

func TestParseRejectsBadDuration(t *testing.T) {
	const bad = `
screens:
  - id: home
    templates:
      - {name: logo, path: t/logo.png}
graph:
  - from: home
    to: home
    script:
      - sleep: "soon"
`
	if _, err := Parse([]byte(bad), "/assets"); err == nil {
		t.Error("Parse() accepted an unparsable duration")
	}
}

func TestParseRejectsEmptyAction(t *testing.T) {
	const bad = `
screens:
  - id: home
    templates:
      - {name: logo, path: t/logo.png}
popups:
  - id: p1
    template: {name: p1, path: t/p1.png}
    actions:
      - settle: "100ms"
`
	if _, err := Parse([]byte(bad), "/assets"); err == nil {
		t.Error("Parse() accepted a popup action with no variant set")
	}
}

func TestParseRejectsFatalWithActions(t *testing.T) {
	const bad = `
popups:
  - id: fatal
    template: {name: maintenance, path: t/m.png}
    actions:
      - back: true
`
	if _, err := Parse([]byte(bad), "/assets"); err == nil {
		t.Error("Parse() accepted dismiss actions on the fatal popup")
	}
}

func TestParseRejectsScreenWithoutChecks(t *testing.T) {
	const bad = `
screens:
  - id: home
`
	if _, err := Parse([]byte(bad), "/assets"); err == nil {
		t.Error("Parse() accepted a screen with no checks")
	}
}

func TestWarmup(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "ok.png"))

	const catalog = `
screens:
  - id: home
    templates:
      - {name: ok, path: ok.png}
      - {name: missing, path: missing.png}
`
	c, err := Parse([]byte(catalog), dir)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	loaded, failed := c.Warmup()
	if loaded != 1 || failed != 1 {
		t.Errorf("Warmup() = (%d, %d), want (1, 1)", loaded, failed)
	}
}

func TestLoadFromDir(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "logo.png"))
	catalog := `
screens:
  - id: home
    templates:
      - {name: logo, path: logo.png}
`
	if err := os.WriteFile(filepath.Join(dir, CatalogFile), []byte(catalog), 0o644); err != nil {
		t.Fatal(err)
	}

	c, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if _, ok := c.Screens.Lookup("home"); !ok {
		t.Error("loaded catalog missing screen home")
	}
}

func writePNG(t *testing.T, path string) {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 12, 12))
	for i := range img.Pix {
		img.Pix[i] = uint8(i * 7)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
}
