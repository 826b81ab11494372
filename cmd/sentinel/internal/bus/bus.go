// Copyright (C) 2025 Quantfleet Systems (ops@quantfleet.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package bus provides a typed in-process publish/subscribe primitive.
//
// Each component that emits events owns a Topic per event type
// (snapshots, alerts, compressed segments, recovery events) and the
// orchestrator wires subscribers at startup. There are no implicit
// global emitters; every subscription is an explicit call site.
package bus

import (
	"fmt"
	"sync"
)

// Topic broadcasts values of one event type to registered subscribers.
//
// # Description
//
// Publish calls every subscriber synchronously, in registration
// order. A panicking subscriber is contained and reported through the
// topic's panic hook; it never takes down the publisher or the other
// subscribers.
//
// # Thread Safety
//
// Topic is safe for concurrent Subscribe and Publish.
type Topic[T any] struct {
	mu      sync.RWMutex
	subs    []func(T)
	onPanic func(error)
}

// NewTopic creates an empty topic. onPanic receives contained
// subscriber panics; nil discards them.
func NewTopic[T any](onPanic func(error)) *Topic[T] {
	return &Topic[T]{onPanic: onPanic}
}

// Subscribe registers fn to receive every published value.
// Subscriptions cannot be removed; topics live for the process.
func (t *Topic[T]) Subscribe(fn func(T)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.subs = append(t.subs, fn)
}

// Publish delivers v to all subscribers synchronously.
func (t *Topic[T]) Publish(v T) {
	t.mu.RLock()
	subs := make([]func(T), len(t.subs))
	copy(subs, t.subs)
	t.mu.RUnlock()

	for _, fn := range subs {
		t.deliver(fn, v)
	}
}

// SubscriberCount returns the number of registered subscribers.
func (t *Topic[T]) SubscriberCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.subs)
}

func (t *Topic[T]) deliver(fn func(T), v T) {
	defer func() {
		if r := recover(); r != nil && t.onPanic != nil {
			t.onPanic(fmt.Errorf("subscriber panic: %v", r))
		}
	}()
	fn(v)
}
