package session

import (
	"context"
	"errors"
	"image"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/droidpilot/droidpilot/internal/assets"
	"github.com/droidpilot/droidpilot/internal/config"
	"github.com/droidpilot/droidpilot/internal/inference"
	"github.com/droidpilot/droidpilot/internal/navgraph"
	"github.com/droidpilot/droidpilot/internal/poll"
	"github.com/droidpilot/droidpilot/internal/popup"
	"github.com/droidpilot/droidpilot/internal/screens"
	"github.com/droidpilot/droidpilot/internal/vision"
)

// scene builds a textured screen with a recognizable patch at (40, 20).
func scene() (*image.Gray, *image.Gray) {
	bg := image.NewGray(image.Rect(0, 0, 128, 96))
	for y := 0; y < 96; y++ {
		for x := 0; x < 128; x++ {
			bg.Pix[y*bg.Stride+x] = uint8(x*3 + y*5 + (x%4)*30)
		}
	}
	patch := image.NewGray(image.Rect(0, 0, 24, 16))
	for y := 0; y < 16; y++ {
		for x := 0; x < 24; x++ {
			patch.Pix[y*patch.Stride+x] = uint8(x*7 + y*11 + (y%3)*50)
		}
	}
	for y := 0; y < 16; y++ {
		for x := 0; x < 24; x++ {
			bg.Pix[(y+20)*bg.Stride+x+40] = patch.Pix[y*patch.Stride+x]
		}
	}
	return bg, patch
}

// fakeConn serves a fixed screenshot.
type fakeConn struct {
	mu  sync.Mutex
	img image.Image
}

func (c *fakeConn) Tap(ctx context.Context, x, y int) error { return nil }
func (c *fakeConn) Swipe(ctx context.Context, from, to image.Point, dur time.Duration) error {
	return nil
}
func (c *fakeConn) Back(ctx context.Context) error { return nil }
func (c *fakeConn) Screenshot(ctx context.Context) (image.Image, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.img, nil
}
func (c *fakeConn) Close() error { return nil }

func testConfig() *config.Config {
	return &config.Config{
		FrameCacheEnabled:        true,
		FrameCacheTTL:            200 * time.Millisecond,
		FrameSimilarityThreshold: 4.0,
		CrossSessionCacheEnabled: true,
		SharedCacheBucketSize:    8,
		DefaultMatchThreshold:    0.85,
		ComputePoolFraction:      0.5,
	}
}

func emptyPopups() *popup.Registry {
	r := popup.NewRegistry()
	r.Freeze()
	return r
}

func emptyGraph() *navgraph.Graph {
	g := navgraph.NewGraph()
	g.Freeze()
	return g
}

func TestRunPublishesSnapshot(t *testing.T) {
	bg, patch := scene()
	reg := screens.NewRegistry()
	if err := reg.Add(&screens.Definition{
		ID:     "home",
		Checks: []screens.Check{screens.TemplateCheck{Tpl: vision.FromImage("home_patch", patch)}},
	}); err != nil {
		t.Fatal(err)
	}
	reg.Freeze()

	catalog := &assets.Catalog{Screens: reg, Popups: emptyPopups(), Graph: emptyGraph()}
	engine := NewEngine(testConfig(), catalog)
	defer engine.Shutdown()

	sess := engine.Session("dev-1", &fakeConn{img: bg})
	defer sess.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- sess.Run(ctx, 20*time.Millisecond) }()

	ok := poll.Until(ctx, 10*time.Millisecond, 3*time.Second, func() bool {
		return sess.Snapshot().Screen == "home"
	})
	if !ok {
		t.Fatalf("Snapshot().Screen = %q, want home", sess.Snapshot().Screen)
	}
	if c := sess.Snapshot().Confidence; c < 0.85 {
		t.Errorf("Snapshot().Confidence = %v, want >= 0.85", c)
	}

	sess.Stop()
	if err := <-done; err != nil {
		t.Errorf("Run() error = %v", err)
	}
}

func TestRunAbortsOnFatalPopup(t *testing.T) {
	bg, patch := scene()

	popups := popup.NewRegistry()
	if err := popups.Add(&popup.Definition{
		ID:      popup.FatalPopupID,
		Tpl:     vision.FromImage("maintenance", patch),
		Enabled: true,
	}); err != nil {
		t.Fatal(err)
	}
	popups.Freeze()

	reg := screens.NewRegistry()
	reg.Freeze()

	catalog := &assets.Catalog{Screens: reg, Popups: popups, Graph: emptyGraph()}
	engine := NewEngine(testConfig(), catalog)
	defer engine.Shutdown()

	sess := engine.Session("dev-1", &fakeConn{img: bg})
	defer sess.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	err := sess.Run(ctx, 20*time.Millisecond)
	if !errors.Is(err, popup.ErrFatal) {
		t.Fatalf("Run() error = %v, want fatal popup condition", err)
	}
}

func TestUnchangedFramesSkipReclassification(t *testing.T) {
	bg, patch := scene()
	reg := screens.NewRegistry()
	if err := reg.Add(&screens.Definition{
		ID:     "home",
		Checks: []screens.Check{screens.TemplateCheck{Tpl: vision.FromImage("home_patch", patch)}},
	}); err != nil {
		t.Fatal(err)
	}
	reg.Freeze()

	catalog := &assets.Catalog{Screens: reg, Popups: emptyPopups(), Graph: emptyGraph()}
	engine := NewEngine(testConfig(), catalog)
	defer engine.Shutdown()

	sess := engine.Session("dev-1", &fakeConn{img: bg})
	defer sess.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = sess.Run(ctx, 20*time.Millisecond) }()

	if !poll.Until(ctx, 10*time.Millisecond, 3*time.Second, func() bool {
		return sess.LatestScreen() == "home"
	}) {
		t.Fatal("screen never classified")
	}

	first := sess.Snapshot().At
	time.Sleep(150 * time.Millisecond)
	if got := sess.Snapshot().At; !got.Equal(first) {
		t.Error("identical frames were reclassified; change detection should skip them")
	}
	if sess.LatestFrame() == nil {
		t.Error("LatestFrame() = nil after observations")
	}
}

type countingEngine struct {
	calls atomic.Int64
	out   string
}

func (e *countingEngine) Recognize(ctx context.Context, img image.Image) (string, error) {
	e.calls.Add(1)
	return e.out, nil
}

func TestRecognizeThroughEngine(t *testing.T) {
	reg := screens.NewRegistry()
	reg.Freeze()
	catalog := &assets.Catalog{Screens: reg, Popups: emptyPopups(), Graph: emptyGraph()}
	engine := NewEngine(testConfig(), catalog)
	defer engine.Shutdown()

	def := &countingEngine{out: "1234"}
	if _, err := engine.RegisterInference("digits", def, func() (inference.Engine, error) {
		return &countingEngine{out: "1234"}, nil
	}); err != nil {
		t.Fatalf("RegisterInference() error = %v", err)
	}

	got, err := engine.Recognize(context.Background(), "digits", image.NewGray(image.Rect(0, 0, 8, 8)))
	if err != nil {
		t.Fatalf("Recognize() error = %v", err)
	}
	if got != "1234" {
		t.Errorf("Recognize() = %q, want 1234", got)
	}

	if _, err := engine.Recognize(context.Background(), "text", nil); err == nil {
		t.Error("Recognize() with unregistered kind should fail")
	}
}

func TestSessionIDsDistinct(t *testing.T) {
	reg := screens.NewRegistry()
	reg.Freeze()
	catalog := &assets.Catalog{Screens: reg, Popups: emptyPopups(), Graph: emptyGraph()}
	engine := NewEngine(testConfig(), catalog)
	defer engine.Shutdown()

	a := engine.Session("dev-a", &fakeConn{})
	b := engine.Session("dev-b", &fakeConn{})
	defer a.Close()
	defer b.Close()

	if a.ID() == b.ID() {
		t.Errorf("session ids collide: %q", a.ID())
	}
	if a.ID() == "" {
		t.Error("empty session id")
	}
}

func TestEnsureFastPathThroughSession(t *testing.T) {
	bg, patch := scene()
	reg := screens.NewRegistry()
	if err := reg.Add(&screens.Definition{
		ID:     "home",
		Checks: []screens.Check{screens.TemplateCheck{Tpl: vision.FromImage("home_patch", patch)}},
	}); err != nil {
		t.Fatal(err)
	}
	reg.Freeze()

	catalog := &assets.Catalog{Screens: reg, Popups: emptyPopups(), Graph: emptyGraph()}
	engine := NewEngine(testConfig(), catalog)
	defer engine.Shutdown()

	sess := engine.Session("dev-1", &fakeConn{img: bg})
	defer sess.Close()

	ok, err := sess.Ensure(context.Background(), "home")
	if err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}
	if !ok {
		t.Error("Ensure() = false, want true on the current screen")
	}
}
