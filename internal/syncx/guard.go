// Package syncx provides small synchronization helpers
package syncx

import "sync"

// Guard holds a value behind a RWMutex. Used for low-frequency data that
// does not fit an atomic word (status text, capture region).
type Guard[T any] struct {
	mu    sync.RWMutex
	value T
}

// NewGuard creates a guarded value.
func NewGuard[T any](initial T) *Guard[T] {
	return &Guard[T]{value: initial}
}

// Load returns a copy of the value.
func (g *Guard[T]) Load() T {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.value
}

// Store replaces the value.
func (g *Guard[T]) Store(v T) {
	g.mu.Lock()
	g.value = v
	g.mu.Unlock()
}

// Swap replaces the value and returns the previous one.
func (g *Guard[T]) Swap(v T) T {
	g.mu.Lock()
	defer g.mu.Unlock()
	old := g.value
	g.value = v
	return old
}

// Modify runs fn with the write lock held.
func (g *Guard[T]) Modify(fn func(*T)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	fn(&g.value)
}
