package popup

import (
	"fmt"
	"image"
	"testing"
	"time"

	"github.com/droidpilot/droidpilot/internal/vision"
)

// sigOf builds a signature for a distinct synthetic scene.
func sigOf(t *testing.T, seed int) *vision.Signature {
	t.Helper()
	g := image.NewGray(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			// Stripe period varies per seed, giving scenes with clearly
			// different frequency content.
			v := uint8(40)
			if (x/(2+seed))%2 == 0 {
				v = 210
			}
			if (y/(3+seed))%2 == 0 {
				v -= 25
			}
			g.Pix[y*g.Stride+x] = v
		}
	}
	s, err := vision.NewSignature(g)
	if err != nil {
		t.Fatalf("NewSignature(seed=%d) error = %v", seed, err)
	}
	return s
}

func TestMRULookupHitAndMiss(t *testing.T) {
	v := NewMRUVerdicts(8, time.Hour, 0.5)
	now := time.Now()

	a := sigOf(t, 1)
	v.Store(a, now)

	if !v.Lookup(sigOf(t, 1), now) {
		t.Error("Lookup(same scene) = false, want hit")
	}
	if v.Lookup(sigOf(t, 2), now) {
		t.Error("Lookup(different scene) = true, want miss")
	}
}

func TestMRUTTLExpiry(t *testing.T) {
	v := NewMRUVerdicts(8, 10*time.Millisecond, 0.5)
	now := time.Now()

	v.Store(sigOf(t, 1), now)

	if !v.Lookup(sigOf(t, 1), now.Add(5*time.Millisecond)) {
		t.Error("fresh entry should hit")
	}
	if v.Lookup(sigOf(t, 1), now.Add(50*time.Millisecond)) {
		t.Error("entry older than TTL must never hit")
	}
}

func TestMRUBoundedEviction(t *testing.T) {
	v := NewMRUVerdicts(3, time.Hour, 0.1)
	now := time.Now()

	for i := 0; i < 6; i++ {
		v.Store(sigOf(t, i), now.Add(time.Duration(i)*time.Millisecond))
	}

	if v.Len() != 3 {
		t.Errorf("Len() = %d, want bounded at 3", v.Len())
	}
	// Most recent three survive.
	if !v.Lookup(sigOf(t, 5), now.Add(time.Second)) {
		t.Error("most recent entry evicted")
	}
	if v.Lookup(sigOf(t, 0), now.Add(time.Second)) {
		t.Error("oldest entry should have been evicted")
	}
}

func TestMRULookupRefreshesRecency(t *testing.T) {
	v := NewMRUVerdicts(2, time.Hour, 0.1)
	now := time.Now()

	v.Store(sigOf(t, 1), now)
	v.Store(sigOf(t, 2), now)

	// Touch 1 so it becomes most recent, then insert 3: 2 must be evicted.
	if !v.Lookup(sigOf(t, 1), now) {
		t.Fatal("expected hit on entry 1")
	}
	v.Store(sigOf(t, 3), now)

	if !v.Lookup(sigOf(t, 1), now) {
		t.Error("recently touched entry evicted")
	}
	if v.Lookup(sigOf(t, 2), now) {
		t.Error("least recently used entry should have been evicted")
	}
}

func TestMRUStoreRefreshesDuplicate(t *testing.T) {
	v := NewMRUVerdicts(4, 20*time.Millisecond, 0.1)
	now := time.Now()

	v.Store(sigOf(t, 1), now)
	v.Store(sigOf(t, 1), now.Add(15*time.Millisecond))

	if v.Len() != 1 {
		t.Errorf("Len() = %d, want 1 (duplicate refreshed, not duplicated)", v.Len())
	}
	if !v.Lookup(sigOf(t, 1), now.Add(30*time.Millisecond)) {
		t.Error("refreshed entry should still be valid from its new timestamp")
	}
}

func TestNopVerdicts(t *testing.T) {
	var v Verdicts = NopVerdicts{}
	s := sigOf(t, 1)
	v.Store(s, time.Now())
	if v.Lookup(s, time.Now()) {
		t.Error("NopVerdicts must never hit")
	}
}

func TestMRUDistinctScenes(t *testing.T) {
	// Guard against accidental fingerprint collisions in the test scenes.
	seen := map[uint64]int{}
	for i := 0; i < 6; i++ {
		fp := sigOf(t, i).Fingerprint()
		if prev, dup := seen[fp]; dup {
			t.Fatalf("scenes %d and %d share fingerprint %s", prev, i, fmt.Sprintf("%016x", fp))
		}
		seen[fp] = i
	}
}
