// Copyright (C) 2025 Quantfleet Systems (ops@quantfleet.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package util

import "sync"

// Ring is a fixed-capacity ring buffer that overwrites the oldest
// element once full.
//
// # Description
//
// Ring backs bounded histories: failover condition evaluations,
// recovery execution records, recent alert ids. Unlike a dropping
// queue, a full Ring keeps accepting writes and discards the oldest
// entry, so the buffer always holds the most recent Cap() items.
//
// # Thread Safety
//
// Ring is safe for concurrent use.
type Ring[T any] struct {
	mu    sync.RWMutex
	items []T
	head  int
	size  int
}

// NewRing creates a ring buffer with the given capacity.
// Capacity values below 1 are clamped to 1.
func NewRing[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{items: make([]T, capacity)}
}

// Push appends an item, overwriting the oldest entry when full.
func (r *Ring[T]) Push(item T) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.items[(r.head+r.size)%len(r.items)] = item
	if r.size < len(r.items) {
		r.size++
	} else {
		r.head = (r.head + 1) % len(r.items)
	}
}

// Len returns the number of stored items.
func (r *Ring[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.size
}

// Cap returns the buffer capacity.
func (r *Ring[T]) Cap() int {
	return len(r.items)
}

// Snapshot returns the stored items oldest-first.
//
// The returned slice is a copy; mutating it does not affect the ring.
func (r *Ring[T]) Snapshot() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]T, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.items[(r.head+i)%len(r.items)]
	}
	return out
}

// Last returns the n most recent items oldest-first. If fewer than n
// items are stored, all of them are returned.
func (r *Ring[T]) Last(n int) []T {
	all := r.Snapshot()
	if n >= len(all) {
		return all
	}
	return all[len(all)-n:]
}

// Clear removes all stored items.
func (r *Ring[T]) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.head = 0
	r.size = 0
}
