// Package control holds the state shared between the perception loop and
// the round worker. Everything except the status text is lock-free.
package control

import (
	"sync/atomic"
	"time"

	"github.com/GriffinCanCode/gardenbot/internal/classify"
	apperrors "github.com/GriffinCanCode/gardenbot/internal/errors"
	"github.com/GriffinCanCode/gardenbot/internal/syncx"
)

// Status is the two-line progress text shown to the user.
type Status struct {
	Headline string `json:"headline"`
	Detail   string `json:"detail"`
}

// Snapshot is a point-in-time copy of the state for presentation.
type Snapshot struct {
	Running         bool              `json:"running"`
	RemainingRounds uint32            `json:"remaining_rounds"`
	ObjectsPerRound uint32            `json:"objects_per_round"`
	ExtraDelay      time.Duration     `json:"extra_delay"`
	Category        classify.Category `json:"-"`
	Status          Status            `json:"status"`
}

// State is created once per process and shared by pointer.
type State struct {
	running atomic.Bool
	// rounds packs the request epoch (high 32 bits) with the remaining
	// round count (low 32 bits) so a decrement is tied to one request.
	rounds     atomic.Uint64
	objects    atomic.Uint32
	extraDelay atomic.Int64
	category   atomic.Uint32
	status     *syncx.Guard[Status]
	onStatus   func(Status)
}

// Option configures a State.
type Option func(*State)

// WithStatusHook registers fn to be called after every status change.
func WithStatusHook(fn func(Status)) Option {
	return func(s *State) { s.onStatus = fn }
}

// New creates an idle state.
func New(opts ...Option) *State {
	s := &State{status: syncx.NewGuard(Status{Headline: "Idle"})}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func pack(epoch, remaining uint32) uint64 {
	return uint64(epoch)<<32 | uint64(remaining)
}

func unpack(v uint64) (epoch, remaining uint32) {
	return uint32(v >> 32), uint32(v)
}

// Running reports whether a session is executing.
func (s *State) Running() bool { return s.running.Load() }

// SetRunning is written by the worker at session start and end, and by
// stop requests.
func (s *State) SetRunning(v bool) { s.running.Store(v) }

// RemainingRounds returns the rounds left in the current request.
func (s *State) RemainingRounds() uint32 {
	_, r := unpack(s.rounds.Load())
	return r
}

// Epoch identifies the current session request.
func (s *State) Epoch() uint32 {
	e, _ := unpack(s.rounds.Load())
	return e
}

// Current returns the request epoch and its remaining rounds from a
// single load.
func (s *State) Current() (epoch, remaining uint32) {
	return unpack(s.rounds.Load())
}

// Request replaces the current request with a new one of n rounds and
// returns its epoch. n == 0 clears the request.
func (s *State) Request(n uint32) uint32 {
	for {
		old := s.rounds.Load()
		epoch, _ := unpack(old)
		epoch++
		if s.rounds.CompareAndSwap(old, pack(epoch, n)) {
			return epoch
		}
	}
}

// DecrementRound consumes one round of the request identified by epoch.
// It returns false if a newer request has replaced it. Decrementing an
// exhausted request is a defect and panics.
func (s *State) DecrementRound(epoch uint32) bool {
	for {
		old := s.rounds.Load()
		e, r := unpack(old)
		if e != epoch {
			return false
		}
		if r == 0 {
			panic(apperrors.Newf(apperrors.CodeInvariantViolation, "round counter underflow in request %d", epoch))
		}
		if s.rounds.CompareAndSwap(old, pack(e, r-1)) {
			return true
		}
	}
}

// ObjectsPerRound returns how many plants are worked per round.
func (s *State) ObjectsPerRound() uint32 { return s.objects.Load() }

// SetObjectsPerRound updates the live objects-per-round parameter.
func (s *State) SetObjectsPerRound(n uint32) { s.objects.Store(n) }

// ExtraDelay returns the wait inserted before every use sequence.
func (s *State) ExtraDelay() time.Duration { return time.Duration(s.extraDelay.Load()) }

// SetExtraDelay updates the live extra-delay parameter.
func (s *State) SetExtraDelay(d time.Duration) { s.extraDelay.Store(int64(d)) }

// Category returns the last observed classification.
func (s *State) Category() classify.Category {
	return classify.Category(s.category.Load())
}

// SwapCategory stores c and returns the previous classification.
func (s *State) SwapCategory(c classify.Category) classify.Category {
	return classify.Category(s.category.Swap(uint32(c)))
}

// Status returns the current status text.
func (s *State) Status() Status { return s.status.Load() }

// SetStatus replaces the status text.
func (s *State) SetStatus(headline, detail string) {
	st := Status{Headline: headline, Detail: detail}
	if old := s.status.Swap(st); old == st {
		return
	}
	if s.onStatus != nil {
		s.onStatus(st)
	}
}

// Snapshot copies every field. Fields are read independently.
func (s *State) Snapshot() Snapshot {
	return Snapshot{
		Running:         s.Running(),
		RemainingRounds: s.RemainingRounds(),
		ObjectsPerRound: s.ObjectsPerRound(),
		ExtraDelay:      s.ExtraDelay(),
		Category:        s.Category(),
		Status:          s.Status(),
	}
}
