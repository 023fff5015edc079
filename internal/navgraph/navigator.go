package navgraph

import (
	"context"
	"errors"
	"image"
	"time"

	"github.com/droidpilot/droidpilot/internal/poll"
	"github.com/droidpilot/droidpilot/internal/popup"
	"github.com/droidpilot/droidpilot/internal/screens"
	"github.com/droidpilot/droidpilot/internal/trace"
	"github.com/droidpilot/droidpilot/internal/vision"
)

// Commander is the subset of the device command channel navigation needs.
type Commander interface {
	Tap(ctx context.Context, x, y int) error
	Swipe(ctx context.Context, from, to image.Point, dur time.Duration) error
}

// Frames supplies captured frames. A (nil, nil) return is a transient
// capture gap, not an error.
type Frames interface {
	Frame(ctx context.Context) (*vision.Frame, error)
}

// Detector classifies a frame. threshold <= 0 means the detector default.
type Detector interface {
	Detect(ctx context.Context, f *vision.Frame, threshold float64) (screens.Result, error)
}

// Interrupts clears popups before navigation reasons about the screen.
type Interrupts interface {
	CheckAndDismiss(ctx context.Context, f *vision.Frame, maxRounds int) (int, error)
}

// Navigator drives the device toward target screens, one edge at a time.
type Navigator struct {
	graph    *Graph
	frames   Frames
	cmd      Commander
	detector Detector
	popups   Interrupts
}

func NewNavigator(g *Graph, frames Frames, cmd Commander, det Detector, popups Interrupts) *Navigator {
	return &Navigator{graph: g, frames: frames, cmd: cmd, detector: det, popups: popups}
}

// Ensure drives toward the target screen, returning whether it was reached
// within maxSteps. Exhaustion is non-fatal: escalation belongs to the
// caller. The only error surfaced is the fatal popup condition.
//
// Each iteration: dismiss popups first (a dismissal invalidates the current
// detection and restarts the iteration), wait out UNKNOWN screens, BFS-plan
// a path, then execute only the first planned edge and poll for the screen
// to change. Never executing a whole plan blindly bounds the damage of any
// single misdetection.
func (n *Navigator) Ensure(ctx context.Context, target string, maxSteps int, stepTimeout time.Duration) (bool, error) {
	ctx, span := trace.StartSpan(ctx, "navigate_ensure")
	defer span.End()
	span.SetAttr("target", target)
	log := trace.Logger(ctx)

	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}
	if stepTimeout <= 0 {
		stepTimeout = DefaultStepTimeout
	}

	// Fast path: already there.
	if res, ok := n.observe(ctx); ok && res.Screen == target {
		span.SetAttr("steps", 0)
		return true, nil
	}

	for step := 0; step < maxSteps; step++ {
		if ctx.Err() != nil {
			return false, nil
		}

		f, err := n.frames.Frame(ctx)
		if err != nil || f == nil {
			// No observation this tick; stay within the step budget.
			poll.Sleep(ctx, UnknownRetryDelay)
			continue
		}

		dismissed, err := n.popups.CheckAndDismiss(ctx, f, popup.DefaultMaxRounds)
		if err != nil {
			if errors.Is(err, popup.ErrFatal) {
				return false, err
			}
			log.Warn("popup check failed", "error", err)
			continue
		}
		if dismissed > 0 {
			// The screen under the popup is stale; restart the iteration.
			log.Debug("popups dismissed, re-detecting", "count", dismissed)
			continue
		}

		res, err := n.detector.Detect(ctx, f, 0)
		if err != nil {
			log.Warn("detection failed", "error", err)
			continue
		}
		if res.Screen == target {
			span.SetAttr("steps", step)
			return true, nil
		}
		if res.Screen == screens.Unknown {
			poll.Sleep(ctx, UnknownRetryDelay)
			continue
		}

		path, ok := n.graph.Plan(res.Screen, target, maxSteps)
		if !ok {
			log.Debug("no path to target yet", "from", res.Screen, "target", target)
			poll.Sleep(ctx, NoPathRetryDelay)
			continue
		}
		if len(path) == 0 {
			continue
		}

		edge := n.graph.Edge(path[0])
		log.Debug("executing edge", "from", edge.From, "to", edge.To, "plan_len", len(path))
		if err := n.runScript(ctx, edge, res); err != nil {
			log.Warn("edge script failed", "from", edge.From, "to", edge.To, "error", err)
			continue
		}

		// Wait for the transition to land, then re-plan from whatever
		// screen we actually observe.
		poll.Until(ctx, StepPollInterval, stepTimeout, func() bool {
			cur, ok := n.observe(ctx)
			return ok && cur.Screen != res.Screen
		})
	}

	log.Warn("navigation exhausted", "target", target, "max_steps", maxSteps)
	return false, nil
}

// observe captures and classifies one frame.
func (n *Navigator) observe(ctx context.Context) (screens.Result, bool) {
	f, err := n.frames.Frame(ctx)
	if err != nil || f == nil {
		return screens.Result{}, false
	}
	res, err := n.detector.Detect(ctx, f, 0)
	if err != nil {
		return screens.Result{}, false
	}
	return res, true
}

// runScript executes one edge's actions. A re-detect mid-script refreshes
// the anchor map for later actions of the same edge.
func (n *Navigator) runScript(ctx context.Context, edge Edge, res screens.Result) error {
	for _, a := range edge.Script {
		switch a := a.(type) {
		case Tap:
			if err := n.cmd.Tap(ctx, a.At.X, a.At.Y); err != nil {
				return err
			}

		case TapAnchor:
			var err error
			res, err = n.tapAnchor(ctx, a, res)
			if err != nil {
				return err
			}

		case Swipe:
			if err := n.cmd.Swipe(ctx, a.From, a.To, a.Duration); err != nil {
				return err
			}

		case Sleep:
			poll.Sleep(ctx, a.Duration)

		case Redetect:
			if cur, ok := n.observe(ctx); ok {
				res = cur
			}
		}
	}
	return nil
}

// tapAnchor taps a named anchor from the current detection. When the anchor
// is missing it taps the fallback coordinate, waits, re-detects, and tries
// again up to the bounded retry count. Missing anchor with no fallback is
// expected absence.
func (n *Navigator) tapAnchor(ctx context.Context, a TapAnchor, res screens.Result) (screens.Result, error) {
	attempts := a.Retries + 1
	for i := 0; i < attempts; i++ {
		if box, ok := res.Anchors[a.Name]; ok {
			c := box.Center()
			return res, n.cmd.Tap(ctx, c.X, c.Y)
		}

		if a.Fallback == nil {
			trace.Logger(ctx).Debug("anchor absent, no fallback", "anchor", a.Name)
			return res, nil
		}
		if err := n.cmd.Tap(ctx, a.Fallback.X, a.Fallback.Y); err != nil {
			return res, err
		}
		poll.Sleep(ctx, AnchorRetryDelay)
		if cur, ok := n.observe(ctx); ok {
			res = cur
		}
	}
	return res, nil
}
