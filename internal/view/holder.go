package view

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by Refetch once the holder is closed.
var ErrClosed = errors.New("view: closed")

// LoadFunc runs the full view query.
type LoadFunc[T any] func(ctx context.Context) (T, error)

// Holder keeps the last good value of one view.
//
// Thread-safety: All methods are safe for concurrent use. The load
// function runs without the lock held.
type Holder[T any] struct {
	load LoadFunc[T]

	mu      sync.RWMutex
	value   T
	loaded  bool
	closed  bool
	version int
	fetches int
	started int // loads begun, numbered from 1
	applied int // number of the load whose result is shown
}

// NewHolder creates an empty holder backed by load.
func NewHolder[T any](load LoadFunc[T]) *Holder[T] {
	return &Holder[T]{load: load}
}

// Refetch runs the view query and replaces the value. On error the last
// good value stays in place. A result that arrives after Close is dropped,
// and so is one from a load that began before the load now shown.
func (h *Holder[T]) Refetch(ctx context.Context) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return ErrClosed
	}
	h.started++
	seq := h.started
	h.mu.Unlock()

	v, err := h.load(ctx)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrClosed
	}
	if seq < h.applied {
		return nil
	}
	h.applied = seq
	h.value = v
	h.loaded = true
	h.version++
	h.fetches++
	return nil
}

// Get returns the current value and whether one was ever loaded.
func (h *Holder[T]) Get() (T, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.value, h.loaded
}

// Mutate applies an optimistic change. fn receives the current value and
// returns the replacement and whether anything changed. Nothing happens
// before the first load or after Close.
func (h *Holder[T]) Mutate(fn func(T) (T, bool)) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.loaded || h.closed {
		return false
	}
	next, changed := fn(h.value)
	if !changed {
		return false
	}
	h.value = next
	h.version++
	return true
}

// Version increases on every replacement or mutation.
func (h *Holder[T]) Version() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.version
}

// Fetches returns the number of successful re-fetches.
func (h *Holder[T]) Fetches() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.fetches
}

// Close marks the holder dead. Safe to call repeatedly.
func (h *Holder[T]) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
}

// Closed reports whether Close was called.
func (h *Holder[T]) Closed() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.closed
}
