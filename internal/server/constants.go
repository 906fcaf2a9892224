// Package server provides HTTP and WebSocket handlers
package server

import "time"

// Server configuration constants
const (
	// Journal entries returned when no limit is given
	JournalDefaultLimit = 50

	// Per-connection inbound WebSocket rate limit
	RateLimitMessages = 10
	RateLimitWindow   = time.Second

	// Deadline for one broadcast write to a client
	WriteTimeout = 5 * time.Second

	// Outbound messages buffered per WebSocket client
	SendQueueSize = 32

	// Cap on request bodies
	MaxBodyBytes = 1 << 16
)
