package scheduler

import (
	"fmt"
	"time"

	"github.com/GriffinCanCode/gardenbot/internal/actuator"
	"github.com/GriffinCanCode/gardenbot/internal/classify"
	apperrors "github.com/GriffinCanCode/gardenbot/internal/errors"
)

type session struct {
	s         *Scheduler
	target    actuator.Handle
	epoch     uint32
	abort     bool
	harvested uint32
}

// loop runs rounds until the continuation check fails.
func (r *session) loop() *apperrors.AppError {
	for {
		if err := r.check(); err != nil {
			return err
		}
		// A failed round is re-evaluated by the check above.
		_ = r.round()
	}
}

// check is evaluated before each round and after every wait tick.
func (r *session) check() *apperrors.AppError {
	st := r.s.state
	epoch, remaining := st.Current()
	if epoch != r.epoch {
		// Start and Stop both open a new epoch.
		if remaining > 0 {
			return ErrSuperseded
		}
		return ErrStopped
	}
	if !st.Running() {
		return ErrStopped
	}
	if remaining == 0 {
		return ErrFinished
	}
	if r.abort && st.Category() == classify.None {
		return ErrSelectionLost
	}
	if r.s.closing() {
		return ErrShutdown
	}
	return nil
}

func (r *session) round() *apperrors.AppError {
	st := r.s.state
	hooks := r.s.cfg.Hooks
	if st.ObjectsPerRound() == 0 {
		return r.wait(r.s.cfg.Timing.Tick)
	}

	switch c := st.Category(); c {
	case classify.Thirsty, classify.Hungry:
		r.abort = true
		headline := "Watering"
		if c == classify.Hungry {
			headline = "Feeding"
		}
		r.status(headline)
		if err := r.focused(r.use); err != nil {
			return err
		}
		if hooks.OnMaintenance != nil {
			hooks.OnMaintenance(c)
		}
		return nil

	case classify.Ripe:
		r.abort = false
		r.status("Harvesting")
		if err := r.focused(r.use); err != nil {
			return err
		}
		if err := r.check(); err != nil {
			return err
		}
		if !st.DecrementRound(r.epoch) {
			return ErrSuperseded
		}
		r.harvested++
		if hooks.OnHarvest != nil {
			hooks.OnHarvest()
		}
		if err := r.check(); err != nil {
			return err
		}
		r.status("Replanting")
		return r.focused(r.replant)

	default:
		r.status("Waiting")
		return r.idle(r.s.cfg.Timing.Idle)
	}
}

func (r *session) status(headline string) {
	r.s.state.SetStatus(headline, fmt.Sprintf("%d rounds left", r.s.state.RemainingRounds()))
}

// focused runs fn with the target in the foreground and restores the
// previous foreground window afterwards.
func (r *session) focused(fn func() *apperrors.AppError) *apperrors.AppError {
	prev := r.s.port.Focus(r.target)
	defer r.s.port.Focus(prev)
	return fn()
}

func (r *session) send(code actuator.Code) {
	if r.s.closing() {
		return
	}
	r.s.port.Send(code)
}

// use presses use twice then advance for each object.
func (r *session) use() *apperrors.AppError {
	st := r.s.state
	step := r.s.cfg.Timing.Step
	if d := st.ExtraDelay(); d > 0 {
		r.s.state.SetStatus("Waiting extra", d.String())
		if err := r.wait(d); err != nil {
			return err
		}
	}
	for i := uint32(0); i < st.ObjectsPerRound(); i++ {
		for _, code := range [...]actuator.Code{actuator.Use, actuator.Use, actuator.Advance} {
			r.send(code)
			if err := r.wait(step); err != nil {
				return err
			}
		}
	}
	return nil
}

// replant presses every seed slot then advances.
func (r *session) replant() *apperrors.AppError {
	t := r.s.cfg.Timing
	for i := 0; i < actuator.SlotCount; i++ {
		for n := 0; n < SlotPresses; n++ {
			r.send(actuator.Slot(i))
			if err := r.wait(t.Slot); err != nil {
				return err
			}
		}
	}
	if err := r.wait(t.Step); err != nil {
		return err
	}
	r.send(actuator.Advance)
	return r.wait(t.Step)
}

// wait sleeps d in ticks, failing at the first tick where check fails.
// Durations under one tick are slept whole and checked once.
func (r *session) wait(d time.Duration) *apperrors.AppError {
	tick := r.s.cfg.Timing.Tick
	if d < tick {
		if !r.s.sleep(d) {
			return ErrShutdown
		}
		return r.check()
	}
	for n := d / tick; n > 0; n-- {
		if !r.s.sleep(tick) {
			return ErrShutdown
		}
		if err := r.check(); err != nil {
			return err
		}
	}
	return nil
}

// idle is wait that also ends early when kicked.
func (r *session) idle(d time.Duration) *apperrors.AppError {
	tick := r.s.cfg.Timing.Tick
	for n := max(d/tick, 1); n > 0; n-- {
		t := time.NewTimer(tick)
		select {
		case <-t.C:
		case <-r.s.kick:
			t.Stop()
			return nil
		case <-r.s.done:
			t.Stop()
			return ErrShutdown
		}
		if err := r.check(); err != nil {
			return err
		}
	}
	return nil
}
