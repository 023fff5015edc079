package pool

import (
	"context"
	"runtime"

	"golang.org/x/sync/semaphore"

	"github.com/droidpilot/droidpilot/internal/syncx"
)

// Pools owns the three pool categories. Per-device serial queues are created
// lazily on first use and recreated fresh after Remove; the shared pools are
// built once at construction.
type Pools struct {
	serials *syncx.LazyMap[*Serial]
	ioJobs  chan func()
	ioQuit  chan struct{}
	compute *semaphore.Weighted
}

// New builds the substrate. deviceCount sizes the shared I/O pool;
// computeFraction is the share of CPUs granted to CPU-bound work.
func New(deviceCount int, computeFraction float64) *Pools {
	workers := deviceCount * ioWorkersPerDevice
	if workers < minIOWorkers {
		workers = minIOWorkers
	}

	weight := int64(computeFraction * float64(runtime.NumCPU()))
	if weight < 1 {
		weight = 1
	}

	p := &Pools{
		serials: syncx.NewLazyMap[*Serial](),
		ioJobs:  make(chan func(), workers*ioQueueFactor),
		ioQuit:  make(chan struct{}),
		compute: semaphore.NewWeighted(weight),
	}
	for i := 0; i < workers; i++ {
		go p.ioWorker()
	}
	return p
}

func (p *Pools) ioWorker() {
	for {
		select {
		case <-p.ioQuit:
			return
		case fn := <-p.ioJobs:
			fn()
		}
	}
}

// Serial returns the single-worker queue for a device key, creating it on
// first use. After Remove the next call hands out a fresh queue.
func (p *Pools) Serial(key string) *Serial {
	return p.serials.GetOrCreate(key, func() *Serial {
		return newSerial(serialQueueDepth)
	})
}

// Remove tears down a device's queue so a reconnect starts clean.
func (p *Pools) Remove(key string) {
	if s, ok := p.serials.Delete(key); ok {
		s.close()
	}
}

// IO submits generic blocking work to the shared pool.
func IO[T any](p *Pools, fn func() (T, error)) *Task[T] {
	t := newTask[T]()
	job := func() { t.complete(fn()) }
	select {
	case <-p.ioQuit:
		t.fail(ErrShutdown)
	case p.ioJobs <- job:
	}
	return t
}

// Compute submits CPU-bound work, queuing when the weighted bound is busy.
// Admission is soft: no priorities, first-come first-served.
func Compute[T any](p *Pools, ctx context.Context, fn func() (T, error)) *Task[T] {
	t := newTask[T]()
	go func() {
		if err := p.compute.Acquire(ctx, 1); err != nil {
			t.fail(err)
			return
		}
		defer p.compute.Release(1)
		t.complete(fn())
	}()
	return t
}

// Shutdown stops all workers, abandoning queued and in-flight work.
func (p *Pools) Shutdown() {
	close(p.ioQuit)
	p.serials.Range(func(_ string, s *Serial) {
		s.close()
	})
}
