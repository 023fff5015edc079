package popup

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/droidpilot/droidpilot/internal/poll"
	"github.com/droidpilot/droidpilot/internal/trace"
	"github.com/droidpilot/droidpilot/internal/vision"
)

// Commander is the subset of the device command channel dismissal needs.
type Commander interface {
	Tap(ctx context.Context, x, y int) error
	Back(ctx context.Context) error
}

// Frames supplies captured frames. A (nil, nil) return is a transient
// capture gap, not an error.
type Frames interface {
	Frame(ctx context.Context) (*vision.Frame, error)
}

// Config carries the caching knobs.
type Config struct {
	CacheEnabled        bool
	CacheTTL            time.Duration
	SimilarityThreshold float64 // mean-abs-diff tolerance for "same frame"
	MatchThreshold      float64
}

// Handler runs the scan/dismiss loop for one session. The local verdict
// cache is per handler; the shared Verdicts handle is visible to every
// session in the process.
type Handler struct {
	reg    *Registry
	cmd    Commander
	frames Frames
	cfg    Config
	shared Verdicts

	mu      sync.Mutex
	lastSig *vision.Signature
	lastAt  time.Time

	scans      atomic.Int64
	dismissals atomic.Int64
}

// NewHandler builds a handler. A nil shared handle disables cross-session
// sharing.
func NewHandler(reg *Registry, cmd Commander, frames Frames, cfg Config, shared Verdicts) *Handler {
	if shared == nil {
		shared = NopVerdicts{}
	}
	if cfg.MatchThreshold <= 0 {
		cfg.MatchThreshold = vision.DefaultThreshold
	}
	return &Handler{reg: reg, cmd: cmd, frames: frames, cfg: cfg, shared: shared}
}

// Scans returns how many real template scans have run (cache misses).
func (h *Handler) Scans() int64 { return h.scans.Load() }

// Dismissals returns how many popups this handler has dismissed.
func (h *Handler) Dismissals() int64 { return h.dismissals.Load() }

// Scan finds the first visible popup in ascending priority order,
// short-circuiting on the hit. Resolving one popup per round — never
// batching simultaneous matches — is the ordering contract callers rely on.
// Detecting the reserved fatal popup returns a FatalPopupError.
func (h *Handler) Scan(f *vision.Frame) (*Definition, vision.Box, bool, error) {
	h.scans.Add(1)

	for _, d := range h.reg.Defs() {
		if !d.Enabled {
			continue
		}
		box, ok, err := vision.Match(f, d.Tpl, d.Tpl.EffectiveThreshold(h.cfg.MatchThreshold))
		if err != nil {
			return nil, vision.Box{}, false, err
		}
		if !ok {
			continue
		}
		if d.ID == FatalPopupID {
			return nil, box, false, &FatalPopupError{PopupID: d.ID}
		}
		return d, box, true, nil
	}
	return nil, vision.Box{}, false, nil
}

// Dismiss executes the popup's action script in order, settling after each
// action.
func (h *Handler) Dismiss(ctx context.Context, d *Definition, box vision.Box) error {
	log := trace.Logger(ctx)
	log.Info("dismissing popup", "popup", d.ID)

	for _, a := range d.Actions {
		if err := h.runAction(ctx, a, box); err != nil {
			return err
		}
		poll.Sleep(ctx, a.settleDelay())
	}

	h.dismissals.Add(1)
	return nil
}

func (h *Handler) runAction(ctx context.Context, a Action, box vision.Box) error {
	switch a := a.(type) {
	case TapPoint:
		return h.cmd.Tap(ctx, a.At.X, a.At.Y)

	case TapRandomIn:
		x := a.Rect.Min.X + rand.Intn(max(a.Rect.Dx(), 1))
		y := a.Rect.Min.Y + rand.Intn(max(a.Rect.Dy(), 1))
		return h.cmd.Tap(ctx, x, y)

	case TapButton:
		return h.tapButton(ctx, a)

	case TapMatch:
		c := box.Center()
		return h.cmd.Tap(ctx, c.X, c.Y)

	case Back:
		return h.cmd.Back(ctx)
	}
	return nil
}

// tapButton re-matches the button on a fresh frame before tapping: the
// popup may have shifted since detection. A button that fails to re-match
// is expected absence, not an error.
func (h *Handler) tapButton(ctx context.Context, a TapButton) error {
	f, err := h.frames.Frame(ctx)
	if err != nil || f == nil {
		return err
	}
	b, ok, err := vision.Match(f, a.Tpl, a.Tpl.EffectiveThreshold(h.cfg.MatchThreshold))
	if err != nil || !ok {
		return err
	}

	c := b.Center()
	if err := h.cmd.Tap(ctx, c.X, c.Y); err != nil {
		return err
	}

	if a.WaitGone {
		timeout := a.Timeout
		if timeout <= 0 {
			timeout = DefaultButtonGoneTimeout
		}
		gone := poll.Until(ctx, ButtonGonePoll, timeout, func() bool {
			f, err := h.frames.Frame(ctx)
			if err != nil || f == nil {
				return false
			}
			_, still, err := vision.Match(f, a.Tpl, a.Tpl.EffectiveThreshold(h.cfg.MatchThreshold))
			return err == nil && !still
		})
		if !gone {
			trace.Logger(ctx).Warn("button still visible after tap", "template", a.Tpl.Name, "timeout", timeout)
		}
	}
	return nil
}

// CheckAndDismiss repeats scan+dismiss up to maxRounds times: one dismissal
// can reveal another popup beneath it. The frame is recaptured on every
// round after the first. Returns the number of popups dismissed; the only
// error surfaced is the fatal popup condition or a command failure.
//
// Caching: the frame's signature is computed before scanning. If the last
// local scan saw an indistinguishable frame, found nothing, and is within
// TTL — or any sibling session recorded the same verdict in the shared
// bucket — the scan is skipped. Any positive detection or dismissal
// invalidates the local entry immediately.
func (h *Handler) CheckAndDismiss(ctx context.Context, f *vision.Frame, maxRounds int) (int, error) {
	ctx, span := trace.StartSpan(ctx, "popup_check")
	defer span.End()
	log := trace.Logger(ctx)

	if maxRounds <= 0 {
		maxRounds = DefaultMaxRounds
	}

	dismissed := 0
	for round := 0; round < maxRounds; round++ {
		if f == nil {
			var err error
			f, err = h.frames.Frame(ctx)
			if err != nil || f == nil {
				// No observation this tick; nothing more to do this call.
				break
			}
		}

		var sig *vision.Signature
		if h.cfg.CacheEnabled {
			sig, _ = vision.NewSignature(f.Image())
			now := time.Now()
			if h.cleanLocally(sig, now) {
				log.Debug("popup scan skipped", "cache", "local")
				span.SetAttr("cache_hit", "local")
				return dismissed, nil
			}
			if sig != nil && h.shared.Lookup(sig, now) {
				log.Debug("popup scan skipped", "cache", "shared")
				span.SetAttr("cache_hit", "shared")
				return dismissed, nil
			}
		}

		d, box, found, err := h.Scan(f)
		if err != nil {
			h.invalidateLocal()
			span.SetAttr("error", err.Error())
			return dismissed, err
		}
		if !found {
			if h.cfg.CacheEnabled && sig != nil {
				now := time.Now()
				h.storeLocal(sig, now)
				h.shared.Store(sig, now)
			}
			span.SetAttr("dismissed", dismissed)
			return dismissed, nil
		}

		h.invalidateLocal()
		if err := h.Dismiss(ctx, d, box); err != nil {
			return dismissed, err
		}
		dismissed++
		f = nil // force recapture next round
	}

	span.SetAttr("dismissed", dismissed)
	return dismissed, nil
}

func (h *Handler) cleanLocally(sig *vision.Signature, now time.Time) bool {
	if sig == nil {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.lastSig == nil || now.Sub(h.lastAt) > h.cfg.CacheTTL {
		return false
	}
	return sig.Same(h.lastSig) || sig.Similar(h.lastSig, h.cfg.SimilarityThreshold)
}

func (h *Handler) storeLocal(sig *vision.Signature, now time.Time) {
	h.mu.Lock()
	h.lastSig = sig
	h.lastAt = now
	h.mu.Unlock()
}

func (h *Handler) invalidateLocal() {
	h.mu.Lock()
	h.lastSig = nil
	h.mu.Unlock()
}
