// Package popup detects and dismisses transient overlays that interrupt
// automation at unpredictable times.
package popup

import (
	"errors"
	"fmt"
	"image"
	"sort"
	"sync"
	"time"

	"github.com/droidpilot/droidpilot/internal/vision"
)

// FatalPopupID is the reserved id whose appearance means the application is
// in an unrecoverable state. It is never dismissed, only raised.
const FatalPopupID = "fatal"

// ErrFatal is matched by errors.Is for the distinguished fatal condition.
var ErrFatal = errors.New("fatal popup on screen")

// FatalPopupError reports detection of the reserved fatal popup. Callers
// must abort and recover, not retry.
type FatalPopupError struct {
	PopupID string
}

func (e *FatalPopupError) Error() string {
	return fmt.Sprintf("fatal popup %q on screen", e.PopupID)
}

func (e *FatalPopupError) Is(target error) bool { return target == ErrFatal }

// Action is one step of a dismiss script. Each step is followed by its
// settle delay.
type Action interface {
	settleDelay() time.Duration
}

// TapPoint taps a fixed coordinate.
type TapPoint struct {
	At     image.Point
	Settle time.Duration
}

// TapRandomIn taps a uniformly random point inside the rectangle.
type TapRandomIn struct {
	Rect   image.Rectangle
	Settle time.Duration
}

// TapButton re-matches a button template on a fresh frame and taps its
// centroid, optionally polling until the template disappears.
type TapButton struct {
	Tpl      *vision.Template
	WaitGone bool
	Timeout  time.Duration
	Settle   time.Duration
}

// TapMatch taps the centroid of the popup's own detection match.
type TapMatch struct {
	Settle time.Duration
}

// Back emits the platform back command.
type Back struct {
	Settle time.Duration
}

func (a TapPoint) settleDelay() time.Duration    { return orDefault(a.Settle) }
func (a TapRandomIn) settleDelay() time.Duration { return orDefault(a.Settle) }
func (a TapButton) settleDelay() time.Duration   { return orDefault(a.Settle) }
func (a TapMatch) settleDelay() time.Duration    { return orDefault(a.Settle) }
func (a Back) settleDelay() time.Duration        { return orDefault(a.Settle) }

func orDefault(d time.Duration) time.Duration {
	if d <= 0 {
		return DefaultSettle
	}
	return d
}

// Definition is one registered popup. Lower priority values are checked
// first.
type Definition struct {
	ID       string
	Tpl      *vision.Template
	Actions  []Action
	Priority int
	Enabled  bool
}

// Registry is the popup catalog, ordered by ascending priority after Freeze.
type Registry struct {
	mu     sync.Mutex
	defs   []*Definition
	byID   map[string]*Definition
	frozen bool
}

func NewRegistry() *Registry {
	return &Registry{byID: make(map[string]*Definition)}
}

// Add registers a popup. Fails on duplicate or empty ids and after Freeze.
func (r *Registry) Add(def *Definition) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return fmt.Errorf("popup registry frozen, cannot add %q", def.ID)
	}
	if def.ID == "" {
		return errors.New("empty popup id")
	}
	if _, dup := r.byID[def.ID]; dup {
		return fmt.Errorf("duplicate popup id %q", def.ID)
	}

	r.defs = append(r.defs, def)
	r.byID[def.ID] = def
	return nil
}

// Freeze ends registration and fixes scan order by ascending priority.
// Registration order breaks ties.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	sort.SliceStable(r.defs, func(i, j int) bool {
		return r.defs[i].Priority < r.defs[j].Priority
	})
	r.frozen = true
}

// Defs returns the popups in scan order.
func (r *Registry) Defs() []*Definition {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.defs
}

// Templates returns every registered detection and button template, for
// warmup.
func (r *Registry) Templates() []*vision.Template {
	r.mu.Lock()
	defer r.mu.Unlock()
	var tpls []*vision.Template
	for _, d := range r.defs {
		tpls = append(tpls, d.Tpl)
		for _, a := range d.Actions {
			if tb, ok := a.(TapButton); ok {
				tpls = append(tpls, tb.Tpl)
			}
		}
	}
	return tpls
}
