package scheduler

import "time"

// Default pacing. Keys are paced by the game's input polling, not by us.
const (
	DefaultTick = 100 * time.Millisecond
	DefaultIdle = 5 * time.Second
	DefaultStep = 150 * time.Millisecond
	DefaultSlot = 225 * time.Millisecond

	// SlotPresses is how many times each seed slot key is pressed.
	SlotPresses = 3
)
