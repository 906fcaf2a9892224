// Package chime plays a short tone when a session ends.
package chime

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"

	apperrors "github.com/GriffinCanCode/gardenbot/internal/errors"
)

// Note is one tone in a pattern. A zero Freq is a rest.
type Note struct {
	Freq     float64
	Duration time.Duration
}

// Pattern is a sequence of notes.
type Pattern []Note

// Patterns for session outcomes.
var (
	Finished = Pattern{{Freq: 660, Duration: 120 * time.Millisecond}, {Duration: 40 * time.Millisecond}, {Freq: 880, Duration: 200 * time.Millisecond}}
	Stopped  = Pattern{{Freq: 440, Duration: 250 * time.Millisecond}}
	Alert    = Pattern{{Freq: 880, Duration: 90 * time.Millisecond}, {Duration: 60 * time.Millisecond}, {Freq: 880, Duration: 90 * time.Millisecond}, {Duration: 60 * time.Millisecond}, {Freq: 660, Duration: 200 * time.Millisecond}}
)

// Duration is the total play time of p.
func (p Pattern) Duration() time.Duration {
	var d time.Duration
	for _, n := range p {
		d += n.Duration
	}
	return d
}

// Player owns the portaudio session.
type Player struct {
	mu         sync.Mutex
	sampleRate float64
	closed     bool
}

// New initializes portaudio.
func New() (*Player, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeUnavailable, "portaudio init")
	}
	return &Player{sampleRate: DefaultSampleRate}, nil
}

// Busy reports whether a pattern is currently playing.
func (p *Player) Busy() bool {
	if !p.mu.TryLock() {
		return true
	}
	p.mu.Unlock()
	return false
}

// Play renders p on the default output device and blocks until done.
// Concurrent calls are serialized.
func (p *Player) Play(ctx context.Context, pattern Pattern) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return apperrors.New(apperrors.CodeUnavailable, "player closed")
	}

	buf := make([]float32, FramesPerBuffer)
	stream, err := portaudio.OpenDefaultStream(0, 1, p.sampleRate, len(buf), buf)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeUnavailable, "open output stream")
	}
	defer stream.Close()
	if err := stream.Start(); err != nil {
		return apperrors.Wrap(err, apperrors.CodeUnavailable, "start output stream")
	}
	defer stream.Stop()

	samples := Render(pattern, p.sampleRate)
	for off := 0; off < len(samples); off += len(buf) {
		if err := ctx.Err(); err != nil {
			return err
		}
		n := copy(buf, samples[off:])
		clear(buf[n:])
		if err := stream.Write(); err != nil {
			return apperrors.Wrap(err, apperrors.CodeUnavailable, "write output stream")
		}
	}
	return nil
}

// Close releases portaudio. Play fails afterwards.
func (p *Player) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return portaudio.Terminate()
}

// Render synthesizes pattern as mono float32 samples. Each note gets a
// short linear fade at both ends to avoid clicks.
func Render(pattern Pattern, sampleRate float64) []float32 {
	frames := func(d time.Duration) int {
		return int(d * time.Duration(sampleRate) / time.Second)
	}
	out := make([]float32, 0, frames(pattern.Duration()))
	fade := frames(FadeTime)
	for _, n := range pattern {
		count := frames(n.Duration)
		for i := 0; i < count; i++ {
			if n.Freq == 0 {
				out = append(out, 0)
				continue
			}
			env := 1.0
			if i < fade {
				env = float64(i) / float64(fade)
			} else if rem := count - 1 - i; rem < fade {
				env = float64(rem) / float64(fade)
			}
			v := Amplitude * env * math.Sin(2*math.Pi*n.Freq*float64(i)/sampleRate)
			out = append(out, float32(v))
		}
	}
	return out
}
