package pool

// Pool sizing constants
const (
	// Depth of each per-device command queue
	serialQueueDepth = 64

	// Shared I/O pool sizing: floor plus per-device share
	minIOWorkers       = 4
	ioWorkersPerDevice = 2
	ioQueueFactor      = 8
)
