package session

import "time"

const (
	// Observe loop cadence.
	DefaultObserveInterval = 500 * time.Millisecond
)
