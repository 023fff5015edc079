package navgraph

import "time"

// Navigation loop constants
const (
	DefaultMaxSteps    = 10
	DefaultStepTimeout = 8 * time.Second

	// Poll cadence while waiting for a transition to land
	StepPollInterval = 250 * time.Millisecond

	// Pause before re-detecting an UNKNOWN screen
	UnknownRetryDelay = 500 * time.Millisecond

	// Pause when no path to the target exists yet
	NoPathRetryDelay = 500 * time.Millisecond

	// Pause after a fallback tap before re-detecting the anchor
	AnchorRetryDelay = 400 * time.Millisecond
)
