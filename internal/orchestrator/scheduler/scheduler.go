// Package scheduler runs gardening rounds on a dedicated worker goroutine.
//
// The worker parks until kicked, resolves the target window, then loops
// rounds against the live category in control.State until the session
// ends. Stop requests are observed at every wait tick.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/GriffinCanCode/gardenbot/internal/actuator"
	"github.com/GriffinCanCode/gardenbot/internal/classify"
	"github.com/GriffinCanCode/gardenbot/internal/control"
	apperrors "github.com/GriffinCanCode/gardenbot/internal/errors"
	"github.com/GriffinCanCode/gardenbot/internal/trace"
)

// Phase is the worker's position in its state machine.
type Phase int32

const (
	Parked Phase = iota
	Resolving
	SessionActive
)

func (p Phase) String() string {
	switch p {
	case Parked:
		return "parked"
	case Resolving:
		return "resolving"
	case SessionActive:
		return "active"
	default:
		return "unknown"
	}
}

// Session exit reasons. All carry CodeCancelled.
var (
	ErrStopped       = apperrors.New(apperrors.CodeCancelled, "stop requested")
	ErrFinished      = apperrors.New(apperrors.CodeCancelled, "all rounds harvested")
	ErrSelectionLost = apperrors.New(apperrors.CodeCancelled, "selection changed abruptly")
	ErrSuperseded    = apperrors.New(apperrors.CodeCancelled, "superseded by a newer request")
	ErrShutdown      = apperrors.New(apperrors.CodeCancelled, "scheduler shutting down")
)

// Timing holds the durations used by the round sequences.
type Timing struct {
	Tick time.Duration // cancellation check interval
	Idle time.Duration // wait when nothing needs doing
	Step time.Duration // pause after use/advance keys
	Slot time.Duration // pause after each slot key
}

// DefaultTiming returns the production pacing.
func DefaultTiming() Timing {
	return Timing{Tick: DefaultTick, Idle: DefaultIdle, Step: DefaultStep, Slot: DefaultSlot}
}

// Params are the session parameters written by Configure.
type Params struct {
	Rounds     uint32
	Objects    uint32
	ExtraDelay time.Duration
}

// Outcome summarizes a finished session.
type Outcome struct {
	Reason    error
	Harvested uint32
	Duration  time.Duration
}

// Hooks observe worker activity. Hooks run on the worker goroutine.
type Hooks struct {
	OnSessionEnd  func(Outcome)
	OnMaintenance func(classify.Category)
	OnHarvest     func()
}

// Config configures a Scheduler.
type Config struct {
	Target string
	Timing Timing
	Hooks  Hooks
}

// Scheduler owns the worker goroutine.
type Scheduler struct {
	port  actuator.Port
	state *control.State
	cfg   Config

	kick    chan struct{}
	done    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	pending atomic.Uint32
	phase   atomic.Int32
	once    sync.Once
}

// New starts the worker. Call Close to stop it.
func New(port actuator.Port, state *control.State, cfg Config) *Scheduler {
	if cfg.Timing == (Timing{}) {
		cfg.Timing = DefaultTiming()
	}
	s := &Scheduler{
		port:  port,
		state: state,
		cfg:   cfg,
		kick:  make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
	s.wg.Add(1)
	go s.run()
	return s
}

// Configure stores the next session's round count and updates the live
// per-round parameters.
func (s *Scheduler) Configure(p Params) {
	s.pending.Store(p.Rounds)
	s.state.SetObjectsPerRound(p.Objects)
	s.state.SetExtraDelay(p.ExtraDelay)
}

// Start cancels any running session and requests a new one with the
// configured round count.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.SetRunning(false)
	s.state.Request(s.pending.Load())
	s.Kick()
}

// Stop cancels the current session. Stopping an idle scheduler is a no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, remaining := s.state.Current(); remaining == 0 && !s.state.Running() {
		return
	}
	s.state.SetRunning(false)
	s.state.Request(0)
}

// Kick wakes the worker. It never blocks; pending kicks coalesce.
func (s *Scheduler) Kick() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// Phase reports the worker state.
func (s *Scheduler) Phase() Phase { return Phase(s.phase.Load()) }

// State returns the shared state the worker reads.
func (s *Scheduler) State() *control.State { return s.state }

// Close stops any session and waits for the worker to exit. No key is
// sent after Close returns.
func (s *Scheduler) Close() {
	s.once.Do(func() {
		s.Stop()
		close(s.done)
	})
	s.wg.Wait()
}

func (s *Scheduler) run() {
	defer s.wg.Done()
	var handled uint32
	for {
		// A request made while the last session was unwinding may have had
		// its kick consumed by an idle wait.
		if epoch, remaining := s.state.Current(); epoch != handled && remaining > 0 {
			select {
			case <-s.kick:
			default:
			}
		} else {
			select {
			case <-s.done:
				return
			case <-s.kick:
			}
		}
		if s.closing() {
			return
		}
		handled = s.wake()
	}
}

// wake resolves the target and runs one session. It returns the epoch of
// the request it served.
func (s *Scheduler) wake() uint32 {
	epoch, remaining := s.state.Current()
	if remaining == 0 {
		return epoch
	}
	ctx, span := trace.StartSpan(context.Background(), "session")
	log := trace.Logger(ctx)

	s.phase.Store(int32(Resolving))
	target, err := s.port.Find(s.cfg.Target)
	if err != nil {
		span.End()
		s.phase.Store(int32(Parked))
		s.state.SetStatus("Error", fmt.Sprintf("target window %q not found", s.cfg.Target))
		log.Warn("target window not found", "target", s.cfg.Target, "error", err)
		return epoch
	}

	s.phase.Store(int32(SessionActive))
	log.Info("session started", "rounds", remaining, "objects", s.state.ObjectsPerRound())
	sess := &session{s: s, target: target, epoch: epoch}
	s.state.SetRunning(true)
	reason := sess.loop()
	s.state.SetRunning(false)
	span.End()

	switch reason {
	case ErrFinished:
		s.state.SetStatus("Finished", fmt.Sprintf("%d rounds harvested", sess.harvested))
	case ErrStopped, ErrSelectionLost:
		s.state.SetStatus("Stopped", reason.Message)
	}
	s.phase.Store(int32(Parked))
	log.Info("session ended", "reason", reason.Message, "harvested", sess.harvested, "duration", span.Duration())

	if fn := s.cfg.Hooks.OnSessionEnd; fn != nil {
		fn(Outcome{Reason: reason, Harvested: sess.harvested, Duration: span.Duration()})
	}
	return epoch
}

func (s *Scheduler) closing() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// sleep waits d or until shutdown. It reports whether d elapsed.
func (s *Scheduler) sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-s.done:
		return false
	}
}
