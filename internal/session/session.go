package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/droidpilot/droidpilot/internal/device"
	"github.com/droidpilot/droidpilot/internal/navgraph"
	"github.com/droidpilot/droidpilot/internal/popup"
	"github.com/droidpilot/droidpilot/internal/screens"
	"github.com/droidpilot/droidpilot/internal/syncx"
	"github.com/droidpilot/droidpilot/internal/trace"
	"github.com/droidpilot/droidpilot/internal/vision"
)

// Snapshot is the last classification the observe loop produced.
type Snapshot struct {
	Screen     string
	Confidence float64
	At         time.Time
}

// Session is the automation stack for one connected device.
type Session struct {
	id       string
	dev      *device.Device
	detector *screens.Detector
	popups   *popup.Handler
	nav      *navgraph.Navigator

	// Change detection: frames indistinguishable from the last classified
	// one skip re-detection.
	sigEnabled bool
	simTol     float64

	state *syncx.RWGuard[Snapshot]
	frame *syncx.RWGuard[*vision.Frame]

	mu      sync.Mutex
	lastSig *vision.Signature

	stopCh   chan struct{}
	stopOnce sync.Once
}

func newSession(dev *device.Device, det *screens.Detector, h *popup.Handler, nav *navgraph.Navigator, sigEnabled bool, simTol float64) *Session {
	return &Session{
		id:         uuid.NewString(),
		dev:        dev,
		detector:   det,
		popups:     h,
		nav:        nav,
		sigEnabled: sigEnabled,
		simTol:     simTol,
		state:      syncx.NewGuard(Snapshot{Screen: screens.Unknown}),
		frame:      syncx.NewGuard[*vision.Frame](nil),
		stopCh:     make(chan struct{}),
	}
}

// ID returns the session's unique id.
func (s *Session) ID() string { return s.id }

// Device returns the underlying device handle.
func (s *Session) Device() *device.Device { return s.dev }

// Popups exposes the session's popup handler counters.
func (s *Session) Popups() *popup.Handler { return s.popups }

// Snapshot returns the latest observe-loop classification.
func (s *Session) Snapshot() Snapshot { return s.state.Get() }

// LatestScreen returns the id from the latest classification.
func (s *Session) LatestScreen() string { return s.state.Get().Screen }

// LatestFrame returns the most recent capture the loop observed, nil before
// the first one.
func (s *Session) LatestFrame() *vision.Frame { return s.frame.Get() }

// Run drives the observe loop: capture, clear popups, classify, publish.
// It returns when the context is cancelled or Stop is called, or with an
// error when the fatal popup appears.
func (s *Session) Run(ctx context.Context, interval time.Duration) error {
	ctx = trace.WithContext(ctx, trace.New())
	log := trace.Logger(ctx)
	log.Info("session started", "session", s.id, "device", s.dev.ID())

	if interval <= 0 {
		interval = DefaultObserveInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.stopCh:
			return nil
		case <-ticker.C:
			if err := s.observe(ctx); err != nil {
				if errors.Is(err, popup.ErrFatal) {
					log.Error("fatal popup, session aborting", "session", s.id, "error", err)
					return err
				}
				log.Warn("observe failed", "session", s.id, "error", err)
			}
		}
	}
}

func (s *Session) observe(ctx context.Context) error {
	f, err := s.dev.Frame(ctx)
	if err != nil {
		return err
	}
	if f == nil {
		// Capture gap; keep the previous snapshot.
		return nil
	}
	s.frame.Set(f)

	dismissed, err := s.popups.CheckAndDismiss(ctx, f, popup.DefaultMaxRounds)
	if err != nil {
		return err
	}
	if dismissed > 0 {
		// The frame predates the dismissals; classify fresh next tick.
		s.invalidateSig()
		return nil
	}

	var sig *vision.Signature
	if s.sigEnabled {
		sig, _ = vision.NewSignature(f.Image())
		if s.unchanged(sig) {
			return nil
		}
	}

	res, err := s.detector.Detect(ctx, f, 0)
	if err != nil {
		return err
	}
	s.state.Set(Snapshot{Screen: res.Screen, Confidence: res.Confidence, At: time.Now()})
	s.storeSig(sig)
	return nil
}

// unchanged reports whether the frame is indistinguishable from the last
// classified one. Unknown classifications are always re-detected.
func (s *Session) unchanged(sig *vision.Signature) bool {
	if sig == nil || s.state.Get().Screen == screens.Unknown {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastSig == nil {
		return false
	}
	return sig.Same(s.lastSig) || sig.Similar(s.lastSig, s.simTol)
}

func (s *Session) storeSig(sig *vision.Signature) {
	s.mu.Lock()
	s.lastSig = sig
	s.mu.Unlock()
}

func (s *Session) invalidateSig() {
	s.mu.Lock()
	s.lastSig = nil
	s.mu.Unlock()
}

// Ensure navigates to the target screen. See navgraph.Navigator.Ensure.
func (s *Session) Ensure(ctx context.Context, target string) (bool, error) {
	return s.nav.Ensure(ctx, target, navgraph.DefaultMaxSteps, navgraph.DefaultStepTimeout)
}

// Stop ends the observe loop without cancelling the caller's context.
func (s *Session) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// Close stops the loop and releases the device.
func (s *Session) Close() error {
	s.Stop()
	return s.dev.Close()
}
