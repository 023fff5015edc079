// Package session composes the per-device automation stack and runs its
// observe loop.
package session

import (
	"context"
	"fmt"
	"image"

	"github.com/droidpilot/droidpilot/internal/assets"
	"github.com/droidpilot/droidpilot/internal/config"
	"github.com/droidpilot/droidpilot/internal/device"
	"github.com/droidpilot/droidpilot/internal/inference"
	"github.com/droidpilot/droidpilot/internal/navgraph"
	"github.com/droidpilot/droidpilot/internal/pool"
	"github.com/droidpilot/droidpilot/internal/popup"
	"github.com/droidpilot/droidpilot/internal/screens"
	"github.com/droidpilot/droidpilot/internal/syncx"
)

// Engine owns the process-wide pieces every session shares: the catalog,
// the concurrency substrate, the detector, and the cross-session verdict
// bucket.
type Engine struct {
	cfg       *config.Config
	catalog   *assets.Catalog
	pools     *pool.Pools
	detector  *screens.Detector
	shared    popup.Verdicts
	inference *syncx.LazyMap[*inference.Pool]
}

// NewEngine wires the shared stack from configuration.
func NewEngine(cfg *config.Config, catalog *assets.Catalog) *Engine {
	pools := pool.New(len(cfg.DeviceAddrs), cfg.ComputePoolFraction)

	var shared popup.Verdicts = popup.NopVerdicts{}
	if cfg.CrossSessionCacheEnabled {
		shared = popup.NewMRUVerdicts(
			cfg.SharedCacheBucketSize,
			cfg.FrameCacheTTL,
			cfg.FrameSimilarityThreshold,
		)
	}

	return &Engine{
		cfg:       cfg,
		catalog:   catalog,
		pools:     pools,
		detector:  screens.NewDetector(catalog.Screens, cfg.DefaultMatchThreshold, pools),
		shared:    shared,
		inference: syncx.NewLazyMap[*inference.Pool](),
	}
}

// RegisterInference warms the pool for one engine kind, sized from
// configuration with the per-kind override honored. Registering the same
// kind again returns the existing pool.
func (e *Engine) RegisterInference(kind string, def inference.Engine, factory func() (inference.Engine, error)) (*inference.Pool, error) {
	p := e.inference.GetOrCreate(kind, func() *inference.Pool {
		return inference.NewPool(kind, def, factory)
	})
	if err := p.Init(e.cfg.InferencePoolSizeFor(kind)); err != nil {
		return nil, fmt.Errorf("init inference pool %q: %w", kind, err)
	}
	return p, nil
}

// Recognize runs one recognition call on the shared compute pool under a
// pooled engine slot. An empty result is expected absence, not an error.
func (e *Engine) Recognize(ctx context.Context, kind string, img image.Image) (string, error) {
	p, ok := e.inference.Lookup(kind)
	if !ok {
		return "", fmt.Errorf("no inference pool registered for kind %q", kind)
	}
	t := pool.Compute(e.pools, ctx, func() (string, error) {
		return p.Recognize(ctx, img)
	})
	return t.Wait(ctx)
}

// Pools exposes the substrate for callers that submit their own work.
func (e *Engine) Pools() *pool.Pools { return e.pools }

// Connect dials a device agent and builds its session.
func (e *Engine) Connect(ctx context.Context, addr string) (*Session, error) {
	stream, err := device.Dial(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", addr, err)
	}
	return e.Session(addr, stream), nil
}

// Session builds the per-device stack on top of a raw connection. The
// device key doubles as the serial-queue key, so a reconnect under the
// same key starts with a fresh queue once the old session closes.
func (e *Engine) Session(deviceKey string, conn device.RawConn) *Session {
	dev := device.New(deviceKey, conn, e.pools)

	handler := popup.NewHandler(e.catalog.Popups, dev, dev, popup.Config{
		CacheEnabled:        e.cfg.FrameCacheEnabled,
		CacheTTL:            e.cfg.FrameCacheTTL,
		SimilarityThreshold: e.cfg.FrameSimilarityThreshold,
		MatchThreshold:      e.cfg.DefaultMatchThreshold,
	}, e.shared)

	nav := navgraph.NewNavigator(e.catalog.Graph, dev, dev, e.detector, handler)

	return newSession(dev, e.detector, handler, nav,
		e.cfg.FrameCacheEnabled, e.cfg.FrameSimilarityThreshold)
}

// Shutdown stops the shared substrate. Sessions must be closed first.
func (e *Engine) Shutdown() {
	e.pools.Shutdown()
}
