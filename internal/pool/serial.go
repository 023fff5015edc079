package pool

import "sync"

// Serial is a single-worker queue. Everything submitted runs on one
// goroutine in strict submission order; device command channels are not
// concurrency-safe, so each device gets exactly one of these.
type Serial struct {
	jobs      chan func()
	quit      chan struct{}
	closeOnce sync.Once
}

func newSerial(depth int) *Serial {
	s := &Serial{
		jobs: make(chan func(), depth),
		quit: make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *Serial) run() {
	for {
		select {
		case <-s.quit:
			return
		case fn := <-s.jobs:
			fn()
		}
	}
}

// close stops the worker. Queued and in-flight work is abandoned; waiters
// are released through their context or ErrShutdown on later submissions.
func (s *Serial) close() {
	s.closeOnce.Do(func() { close(s.quit) })
}

// Run submits fn to the queue and returns its handle.
func Run[T any](s *Serial, fn func() (T, error)) *Task[T] {
	t := newTask[T]()
	job := func() { t.complete(fn()) }
	select {
	case <-s.quit:
		t.fail(ErrShutdown)
	case s.jobs <- job:
	}
	return t
}

// Do submits error-only work.
func Do(s *Serial, fn func() error) *Task[struct{}] {
	return Run(s, func() (struct{}, error) {
		return struct{}{}, fn()
	})
}
