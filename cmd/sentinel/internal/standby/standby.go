// Copyright (C) 2025 Quantfleet Systems (ops@quantfleet.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package standby tracks the health of platform components so the
// failover engine has something to evaluate its rules against.
package standby

import (
	"sync"
	"time"

	"github.com/quantfleet/sentinel/cmd/sentinel/internal/bus"
	"github.com/quantfleet/sentinel/cmd/sentinel/internal/util"
)

// HealthStatus classifies a component.
type HealthStatus string

const (
	StatusHealthy   HealthStatus = "healthy"
	StatusDegraded  HealthStatus = "degraded"
	StatusUnhealthy HealthStatus = "unhealthy"
)

// SyncStatus describes replication lag for stateful components.
type SyncStatus struct {
	LagSeconds float64   `json:"lag_seconds"`
	LastSyncAt time.Time `json:"last_sync_at"`
}

// ComponentHealth is the tracked state of one component.
type ComponentHealth struct {
	Component           string        `json:"component"`
	Status              HealthStatus  `json:"status"`
	ResponseTime        time.Duration `json:"response_time_ns"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	ErrorRate           float64       `json:"error_rate"`
	LastChecked         time.Time     `json:"last_checked"`
	Sync                SyncStatus    `json:"sync"`
}

// Manager is the read side of component health, consumed by the
// failover engine and the status surface.
type Manager interface {
	// Component returns the tracked health of one component.
	Component(name string) (ComponentHealth, bool)

	// Snapshot returns all tracked components keyed by name.
	Snapshot() map[string]ComponentHealth

	// Events fires whenever a component's status classification changes.
	Events() *bus.Topic[ComponentHealth]
}

const (
	// defaultUnhealthyAfter is how many consecutive failed reports turn
	// a component unhealthy.
	defaultUnhealthyAfter = 3

	// defaultDegradedLatency is the response time beyond which a
	// healthy component is reported degraded.
	defaultDegradedLatency = 2 * time.Second

	// errorRateWindow is how many recent reports feed the error rate.
	errorRateWindow = 20
)

type componentState struct {
	health ComponentHealth
	recent *util.Ring[bool]
}

// Tracker is the Manager implementation fed by probe results. Results
// arrive from the validator sweeps and recovery step validations; the
// tracker derives status classification, consecutive-failure counts,
// and a windowed error rate.
//
// # Thread Safety
// All methods are safe for concurrent use.
type Tracker struct {
	unhealthyAfter  int
	degradedLatency time.Duration
	topic           *bus.Topic[ComponentHealth]
	now             func() time.Time

	mu         sync.Mutex
	components map[string]*componentState
}

// NewTracker builds an empty tracker with default thresholds.
func NewTracker() *Tracker {
	t := &Tracker{
		unhealthyAfter:  defaultUnhealthyAfter,
		degradedLatency: defaultDegradedLatency,
		topic:           bus.NewTopic[ComponentHealth](nil),
		now:             time.Now,
		components:      make(map[string]*componentState),
	}
	return t
}

// Events implements Manager.
func (t *Tracker) Events() *bus.Topic[ComponentHealth] { return t.topic }

// Report ingests one probe outcome for a component and returns its
// updated health. Status change events are published after the state
// is committed.
func (t *Tracker) Report(component string, ok bool, responseTime time.Duration) ComponentHealth {
	t.mu.Lock()
	state := t.components[component]
	if state == nil {
		state = &componentState{
			health: ComponentHealth{Component: component, Status: StatusHealthy},
			recent: util.NewRing[bool](errorRateWindow),
		}
		t.components[component] = state
	}

	state.recent.Push(ok)
	state.health.LastChecked = t.now()
	state.health.ResponseTime = responseTime
	if ok {
		state.health.ConsecutiveFailures = 0
	} else {
		state.health.ConsecutiveFailures++
	}
	state.health.ErrorRate = errorRate(state.recent)

	prev := state.health.Status
	state.health.Status = t.classify(state.health, ok)
	updated := state.health
	t.mu.Unlock()

	if updated.Status != prev {
		t.topic.Publish(updated)
	}
	return updated
}

// ReportSyncLag records replication lag for a component, creating it
// if it has never been probed.
func (t *Tracker) ReportSyncLag(component string, lagSeconds float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	state := t.components[component]
	if state == nil {
		state = &componentState{
			health: ComponentHealth{Component: component, Status: StatusHealthy},
			recent: util.NewRing[bool](errorRateWindow),
		}
		t.components[component] = state
	}
	state.health.Sync = SyncStatus{LagSeconds: lagSeconds, LastSyncAt: t.now()}
}

func (t *Tracker) classify(h ComponentHealth, lastOK bool) HealthStatus {
	switch {
	case h.ConsecutiveFailures >= t.unhealthyAfter:
		return StatusUnhealthy
	case !lastOK:
		return StatusDegraded
	case h.ResponseTime > t.degradedLatency:
		return StatusDegraded
	default:
		return StatusHealthy
	}
}

// Component implements Manager.
func (t *Tracker) Component(name string) (ComponentHealth, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	state, ok := t.components[name]
	if !ok {
		return ComponentHealth{}, false
	}
	return state.health, true
}

// Snapshot implements Manager.
func (t *Tracker) Snapshot() map[string]ComponentHealth {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]ComponentHealth, len(t.components))
	for name, state := range t.components {
		out[name] = state.health
	}
	return out
}

func errorRate(recent *util.Ring[bool]) float64 {
	results := recent.Snapshot()
	if len(results) == 0 {
		return 0
	}
	failures := 0
	for _, ok := range results {
		if !ok {
			failures++
		}
	}
	return float64(failures) / float64(len(results))
}
