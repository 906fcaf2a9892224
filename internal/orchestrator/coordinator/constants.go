package coordinator

import "time"

const (
	// DefaultInterval is the scan cadence.
	DefaultInterval = 5 * time.Second

	// MaxHashDistance is the largest pHash Hamming distance (of 64 bits)
	// at which two frames count as the same, about 95% similarity.
	MaxHashDistance = 3
)
