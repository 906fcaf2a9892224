// Package journal keeps recent bot activity for the control panel.
package journal

import (
	"sync"
	"time"
)

// Kind classifies an entry.
type Kind string

const (
	KindStatus  Kind = "status"
	KindSession Kind = "session"
	KindScan    Kind = "scan"
)

// Entry is one journal line.
type Entry struct {
	Time     time.Time `json:"time"`
	Kind     Kind      `json:"kind"`
	Headline string    `json:"headline"`
	Detail   string    `json:"detail,omitempty"`
}

// Store is a bounded in-memory journal. Added entries are also offered
// on the Events channel; slow readers miss events, never entries.
type Store struct {
	mu       sync.RWMutex
	entries  []Entry
	maxSize  int
	eventsCh chan Entry
	now      func() time.Time
}

// NewStore creates a journal keeping maxEntries entries.
func NewStore(maxEntries, eventBuffer int) *Store {
	return &Store{
		entries:  make([]Entry, 0, maxEntries),
		maxSize:  maxEntries,
		eventsCh: make(chan Entry, eventBuffer),
		now:      time.Now,
	}
}

// Add records an entry, stamping it with the current time.
func (s *Store) Add(kind Kind, headline, detail string) Entry {
	e := Entry{Time: s.now(), Kind: kind, Headline: headline, Detail: detail}

	s.mu.Lock()
	s.entries = append(s.entries, e)
	if len(s.entries) > s.maxSize {
		s.entries = s.entries[len(s.entries)-s.maxSize:]
	}
	s.mu.Unlock()

	select {
	case s.eventsCh <- e:
	default:
	}
	return e
}

// Recent returns up to n of the newest entries, oldest first. n <= 0
// returns everything.
func (s *Store) Recent(n int) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	start := 0
	if n > 0 && n < len(s.entries) {
		start = len(s.entries) - n
	}
	result := make([]Entry, len(s.entries)-start)
	copy(result, s.entries[start:])
	return result
}

// Events returns the channel for new entries.
func (s *Store) Events() <-chan Entry {
	return s.eventsCh
}
