// Package orchestrator wires the scheduler, the perception loop and their
// collaborators into one bot.
package orchestrator

import "time"

const (
	// Journal sizing
	JournalMaxEntries  = 200
	JournalEventBuffer = 64

	// ChimeTimeout bounds one session-end tone.
	ChimeTimeout = 5 * time.Second
)
