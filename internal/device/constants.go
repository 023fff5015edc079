package device

import "time"

const (
	// Agent dial bound.
	dialTimeout = 5 * time.Second

	// A pushed frame older than this is treated as a capture gap.
	staleFrameAge = 2 * time.Second

	// Read limit for binary frame pushes (raw 1080p PNG worst case).
	maxFrameBytes = 16 << 20
)
