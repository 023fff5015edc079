package screens

import (
	"context"

	"github.com/droidpilot/droidpilot/internal/pool"
	"github.com/droidpilot/droidpilot/internal/trace"
	"github.com/droidpilot/droidpilot/internal/vision"
)

// Result is one classification of a frame. Transient: created per call.
type Result struct {
	Screen     string
	Confidence float64
	Anchors    map[string]vision.Box
}

// Known reports whether a registered screen was identified.
func (r Result) Known() bool { return r.Screen != Unknown }

// Detector scores every registered screen against a frame.
type Detector struct {
	reg       *Registry
	threshold float64
	pools     *pool.Pools
}

// NewDetector builds a detector with the given default threshold.
func NewDetector(reg *Registry, defaultThreshold float64, pools *pool.Pools) *Detector {
	if defaultThreshold <= 0 {
		defaultThreshold = vision.DefaultThreshold
	}
	return &Detector{reg: reg, threshold: defaultThreshold, pools: pools}
}

// Detect classifies the frame. threshold <= 0 uses the detector default.
// Scoring per screen: every template is matched (within its ROI) tracking
// best score and anchor box per template name; the screen's score is the
// tagged template's score when a tag is set, otherwise the max; any failing
// pixel assertion forces the score to 0. The best screen wins, with an
// early exit once a near-perfect score is seen. Below the threshold the
// result is Unknown.
func (d *Detector) Detect(ctx context.Context, f *vision.Frame, threshold float64) (Result, error) {
	ctx, span := trace.StartSpan(ctx, "screen_detect")
	defer span.End()

	if threshold <= 0 {
		threshold = d.threshold
	}

	var (
		bestDef     *Definition
		bestScore   float64
		bestAnchors map[string]vision.Box
	)

	for _, def := range d.reg.Defs() {
		score, anchors, err := d.scoreScreen(f, def)
		if err != nil {
			return Result{Screen: Unknown}, err
		}
		if score > bestScore {
			bestDef, bestScore, bestAnchors = def, score, anchors
		}
		if bestScore >= NearPerfectScore {
			break
		}
	}

	span.SetAttr("confidence", bestScore)
	if bestDef == nil || bestScore < threshold {
		span.SetAttr("screen", Unknown)
		trace.Logger(ctx).Debug("no screen identified", "best", bestScore, "threshold", threshold)
		return Result{Screen: Unknown, Confidence: bestScore}, nil
	}

	span.SetAttr("screen", bestDef.ID)
	return Result{Screen: bestDef.ID, Confidence: bestScore, Anchors: bestAnchors}, nil
}

func (d *Detector) scoreScreen(f *vision.Frame, def *Definition) (float64, map[string]vision.Box, error) {
	anchors := make(map[string]vision.Box)
	var maxScore, tagScore float64

	for _, check := range def.Checks {
		out, err := check.Evaluate(f)
		if err != nil {
			return 0, nil, err
		}
		if out.Veto {
			// Assertions are a hard veto regardless of template evidence.
			return 0, nil, nil
		}
		if !out.Contributes {
			continue
		}
		if out.Score > 0 {
			anchors[out.Name] = out.Box
		}
		if out.Score > maxScore {
			maxScore = out.Score
		}
		if out.Name == def.Tag && out.Score > tagScore {
			tagScore = out.Score
		}
	}

	if def.Tag != "" {
		return tagScore, anchors, nil
	}
	return maxScore, anchors, nil
}

// DetectAsync runs Detect on the shared compute pool; the returned handle
// lets the caller suspend without blocking sibling sessions.
func (d *Detector) DetectAsync(ctx context.Context, f *vision.Frame, threshold float64) *pool.Task[Result] {
	return pool.Compute(d.pools, ctx, func() (Result, error) {
		return d.Detect(ctx, f, threshold)
	})
}
