// Package inference manages warm pools of recognition engine instances.
// Engines are not safe for concurrent use; each slot pairs an instance with
// the lock a caller must hold for the whole recognition call, so true
// parallelism is bounded by pool size while each instance serializes.
package inference

import (
	"context"
	"image"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Engine performs one kind of recognition (text, digits) on an image crop.
// Implementations come from the caller: recognition logic is an external
// collaborator of this engine.
type Engine interface {
	Recognize(ctx context.Context, img image.Image) (string, error)
}

type slot struct {
	engine Engine
	lock   *sync.Mutex
}

// Pool is a round-robin pool of exclusively-locked engine replicas for one
// engine kind.
type Pool struct {
	kind    string
	def     Engine
	defLock sync.Mutex
	factory func() (Engine, error)

	mu    sync.Mutex
	slots []slot
	next  atomic.Uint64
}

// NewPool wraps a default engine instance plus a factory for replicas.
func NewPool(kind string, def Engine, factory func() (Engine, error)) *Pool {
	return &Pool{kind: kind, def: def, factory: factory}
}

// Init eagerly builds size-1 replicas beyond the default instance.
// Idempotent: a second call is a no-op regardless of size.
func (p *Pool) Init(size int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.slots) > 0 {
		return nil
	}
	if size < 1 {
		size = 1
	}

	slots := make([]slot, 0, size)
	slots = append(slots, slot{engine: p.def, lock: &p.defLock})
	for i := 1; i < size; i++ {
		eng, err := p.factory()
		if err != nil {
			return err
		}
		slots = append(slots, slot{engine: eng, lock: &sync.Mutex{}})
	}
	p.slots = slots
	slog.Info("inference pool ready", "kind", p.kind, "size", size)
	return nil
}

// Acquire returns the next engine with its exclusive-use lock, round-robin.
// Before Init it falls back to the single globally-locked default instance.
// The caller must hold the lock across the entire recognition call.
func (p *Pool) Acquire() (Engine, *sync.Mutex) {
	p.mu.Lock()
	slots := p.slots
	p.mu.Unlock()

	if len(slots) == 0 {
		return p.def, &p.defLock
	}
	i := (p.next.Add(1) - 1) % uint64(len(slots))
	s := slots[i]
	return s.engine, s.lock
}

// Size returns the current pool size (0 before Init).
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.slots)
}

// Recognize acquires a slot, holds its lock for the call, and releases it.
func (p *Pool) Recognize(ctx context.Context, img image.Image) (string, error) {
	eng, lock := p.Acquire()
	lock.Lock()
	defer lock.Unlock()
	return eng.Recognize(ctx, img)
}
