package chime

import "time"

const (
	DefaultSampleRate = 44100
	FramesPerBuffer   = 512
	Amplitude         = 0.3
	FadeTime          = 5 * time.Millisecond
)
