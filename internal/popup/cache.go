package popup

import (
	"sync"
	"time"

	"github.com/droidpilot/droidpilot/internal/vision"
)

// Verdicts caches "this frame had no popup" observations so concurrently
// running sessions skip redundant scans of indistinguishable frames.
// Implementations only ever hold negative verdicts; a positive detection is
// never cached.
type Verdicts interface {
	// Lookup reports whether an unexpired verdict exists for a frame
	// indistinguishable from sig.
	Lookup(sig *vision.Signature, now time.Time) bool
	// Store records a clean verdict for sig.
	Store(sig *vision.Signature, now time.Time)
}

// NopVerdicts disables cross-session sharing (single-session deployments).
type NopVerdicts struct{}

func (NopVerdicts) Lookup(*vision.Signature, time.Time) bool { return false }
func (NopVerdicts) Store(*vision.Signature, time.Time)       {}

type verdictEntry struct {
	fp  uint64
	sig *vision.Signature
	at  time.Time
}

// MRUVerdicts is the bounded most-recently-used shared list. One instance
// is passed explicitly to every handler in the process.
type MRUVerdicts struct {
	mu      sync.Mutex
	max     int
	ttl     time.Duration
	tol     float64
	entries []verdictEntry // most recent first
}

// NewMRUVerdicts builds the shared bucket. tol is the mean-abs-diff
// tolerance under which two frames count as indistinguishable.
func NewMRUVerdicts(max int, ttl time.Duration, tol float64) *MRUVerdicts {
	if max < 1 {
		max = 1
	}
	return &MRUVerdicts{max: max, ttl: ttl, tol: tol}
}

func (v *MRUVerdicts) Lookup(sig *vision.Signature, now time.Time) bool {
	if sig == nil {
		return false
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	fp := sig.Fingerprint()
	for i, e := range v.entries {
		if now.Sub(e.at) > v.ttl {
			continue
		}
		if e.fp == fp || sig.Similar(e.sig, v.tol) {
			v.touch(i)
			return true
		}
	}
	return false
}

func (v *MRUVerdicts) Store(sig *vision.Signature, now time.Time) {
	if sig == nil {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	v.pruneExpired(now)

	fp := sig.Fingerprint()
	for i, e := range v.entries {
		if e.fp == fp {
			v.entries[i].at = now
			v.entries[i].sig = sig
			v.touch(i)
			return
		}
	}

	v.entries = append([]verdictEntry{{fp: fp, sig: sig, at: now}}, v.entries...)
	if len(v.entries) > v.max {
		v.entries = v.entries[:v.max]
	}
}

// Len returns the current entry count.
func (v *MRUVerdicts) Len() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.entries)
}

// touch moves entry i to the front. Caller holds the lock.
func (v *MRUVerdicts) touch(i int) {
	if i == 0 {
		return
	}
	e := v.entries[i]
	copy(v.entries[1:i+1], v.entries[:i])
	v.entries[0] = e
}

// pruneExpired drops entries past TTL. Caller holds the lock.
func (v *MRUVerdicts) pruneExpired(now time.Time) {
	kept := v.entries[:0]
	for _, e := range v.entries {
		if now.Sub(e.at) <= v.ttl {
			kept = append(kept, e)
		}
	}
	v.entries = kept
}
