package popup

import "time"

// Dismiss loop constants
const (
	// Rounds of scan+dismiss per check; one dismissal can reveal the next
	DefaultMaxRounds = 3

	// Pause after each dismiss action before the next
	DefaultSettle = 400 * time.Millisecond

	// Wait-until-gone polling for tapped buttons
	ButtonGonePoll           = 150 * time.Millisecond
	DefaultButtonGoneTimeout = 3 * time.Second
)
