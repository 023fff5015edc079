package vision

import (
	"fmt"
	"image"
	_ "image/jpeg" // JPEG decoder
	_ "image/png"  // PNG decoder
	"log/slog"
	"math"
	"os"
	"sync"

	"github.com/droidpilot/droidpilot/internal/syncx"
)

// Template is an immutable reference image. The decoded, match-ready form is
// built lazily and cached process-wide keyed by source path, so many device
// sessions share one copy.
type Template struct {
	Name      string
	Path      string
	ROI       *image.Rectangle // optional frame region to search within
	Threshold float64          // 0 means use the caller's default

	img image.Image // set only for in-memory templates, bypasses the path cache
	mem *material   // lazily built material for in-memory templates
	mu  sync.Mutex
}

// material is the match-ready form: grayscale plane plus precomputed stats.
type material struct {
	once sync.Once
	gray *image.Gray
	mean float64
	std  float64
	err  error
}

var materials = syncx.NewLazyMap[*material]()

// FromImage builds a template from an already-decoded image.
// Used by tests and by dismiss scripts that re-match dynamic buttons.
func FromImage(name string, img image.Image) *Template {
	return &Template{Name: name, img: img}
}

// EffectiveThreshold returns the template's override or def.
func (t *Template) EffectiveThreshold(def float64) float64 {
	if t.Threshold > 0 {
		return t.Threshold
	}
	return def
}

// Load forces the template into match-ready form, returning any decode error.
func (t *Template) Load() error {
	_, err := t.material()
	return err
}

func (t *Template) material() (*material, error) {
	if t.img != nil {
		t.mu.Lock()
		if t.mem == nil {
			t.mem = &material{}
		}
		m := t.mem
		t.mu.Unlock()
		m.once.Do(func() { m.build(t.img) })
		return m, m.err
	}

	m := materials.GetOrCreate(t.Path, func() *material { return &material{} })
	m.once.Do(func() {
		img, err := decodeFile(t.Path)
		if err != nil {
			m.err = err
			return
		}
		m.build(img)
	})
	return m, m.err
}

func (m *material) build(img image.Image) {
	m.gray = toGray(img)
	m.mean, m.std = grayStats(m.gray)
}

func decodeFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open template: %w", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode template %s: %w", path, err)
	}
	return img, nil
}

func grayStats(g *image.Gray) (mean, std float64) {
	b := g.Bounds()
	n := float64(b.Dx() * b.Dy())
	if n == 0 {
		return 0, 0
	}
	var sum, sumSq float64
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := g.Pix[(y-b.Min.Y)*g.Stride : (y-b.Min.Y)*g.Stride+b.Dx()]
		for _, p := range row {
			v := float64(p)
			sum += v
			sumSq += v * v
		}
	}
	mean = sum / n
	variance := sumSq/n - mean*mean
	if variance < 0 {
		variance = 0
	}
	return mean, math.Sqrt(variance)
}

// Warmup pre-decodes every template so first live detection pays no I/O.
// Returns counts of templates loaded and failed; failures are logged per
// template, not fatal.
func Warmup(tpls []*Template) (loaded, failed int) {
	for _, t := range tpls {
		if err := t.Load(); err != nil {
			slog.Warn("template warmup failed", "name", t.Name, "path", t.Path, "error", err)
			failed++
			continue
		}
		loaded++
	}
	return loaded, failed
}
