package grpcclient

import "time"

// Client configuration defaults
const (
	// Keepalive configuration
	DefaultKeepaliveTime    = 10 * time.Second
	DefaultKeepaliveTimeout = 3 * time.Second

	// DefaultCallTimeout bounds one Recognize call including retries.
	DefaultCallTimeout = 3 * time.Second

	// MaxImageBytes caps request size; region captures are small.
	MaxImageBytes = 8 << 20
)

// Service identity on the wire.
const (
	ServiceName     = "gardenbot.ocr.v1.Recognizer"
	RecognizeMethod = "/" + ServiceName + "/Recognize"
)
