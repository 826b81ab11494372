// Copyright (C) 2025 Quantfleet Systems (ops@quantfleet.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package recovery

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfleet/sentinel/cmd/sentinel/internal/config"
	"github.com/quantfleet/sentinel/pkg/logging"
)

type recordingNotifier struct {
	mu    sync.Mutex
	calls []string
}

func (n *recordingNotifier) Notify(severity, category, title, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, severity+":"+title)
}

func recoveryConfig(components ...config.RecoveryComponent) config.RecoveryConfig {
	return config.RecoveryConfig{
		Components:         components,
		MaxRecoveryTimeS:   300,
		ValidationTimeoutS: 5,
		RetryAttempts:      2,
		RetryDelayS:        0,
	}
}

func withRollback(c config.RecoveryComponent) config.RecoveryComponent {
	c.Rollback = []config.RecoveryStep{{ID: c.Name + "-rollback", Command: "true"}}
	return c
}

func newTestRecovery(t *testing.T, runner StepRunner, components ...config.RecoveryComponent) (*Engine, *recordingNotifier) {
	t.Helper()
	notif := &recordingNotifier{}
	eng, err := NewEngine(recoveryConfig(components...), runner, notif, logging.Discard())
	require.NoError(t, err)
	eng.sleep = func(context.Context, time.Duration) error { return nil }
	return eng, notif
}

func TestRecoverHappyPath(t *testing.T) {
	runner := &MockRunner{}
	eng, notif := newTestRecovery(t, runner,
		component("database", 1),
		component("market-data", 2, "database"),
	)

	rec, err := eng.Recover(context.Background())
	require.NoError(t, err)
	assert.True(t, rec.Success)
	require.Len(t, rec.Components, 2)
	assert.Equal(t, []string{"database-start", "market-data-start"}, runner.Calls)
	assert.Empty(t, rec.RolledBack)

	notif.mu.Lock()
	defer notif.mu.Unlock()
	assert.Equal(t, []string{"warning:recovery started", "info:recovery finished"}, notif.calls)
}

// TestCriticalFailureRollsBackCompleted mirrors the A -> B -> C chain:
// C's critical step fails, so B and A are rolled back in reverse order
// while C itself is left untouched for inspection.
func TestCriticalFailureRollsBackCompleted(t *testing.T) {
	a := withRollback(component("a", 1))
	b := withRollback(component("b", 2, "a"))
	c := withRollback(component("c", 3, "b"))
	c.Steps = []config.RecoveryStep{{ID: "c-start", Command: "true", Critical: true}}

	runner := &MockRunner{Outcomes: map[string]error{"c-start": errors.New("volume attach failed")}}
	eng, notif := newTestRecovery(t, runner, a, b, c)

	rec, err := eng.Recover(context.Background())
	require.NoError(t, err)
	assert.False(t, rec.Success)
	assert.Equal(t, `component "c" failed`, rec.Error)
	assert.Equal(t, []string{"b", "a"}, rec.RolledBack, "reverse completion order")

	assert.Equal(t,
		[]string{"a-start", "b-start", "c-start", "b-rollback", "a-rollback"},
		runner.Calls, "c has no rollback run")

	notif.mu.Lock()
	defer notif.mu.Unlock()
	assert.Contains(t, notif.calls, "critical:recovery failed")
}

func TestRetryableStepRetriesThenSucceeds(t *testing.T) {
	comp := component("database", 1)
	comp.Steps = []config.RecoveryStep{{ID: "db-start", Command: "true", Critical: true, Retryable: true}}

	runner := &MockRunner{FailFirstN: map[string]int{"db-start": 2}}
	eng, _ := newTestRecovery(t, runner, comp)

	rec, err := eng.Recover(context.Background())
	require.NoError(t, err)
	assert.True(t, rec.Success)
	assert.Equal(t, 3, runner.Attempts("db-start"), "two retries on top of the first attempt")
	assert.Equal(t, 3, rec.Components[0].Steps[0].Attempts)
}

func TestNonRetryableStepFailsImmediately(t *testing.T) {
	comp := component("database", 1)
	comp.Steps = []config.RecoveryStep{{ID: "db-start", Command: "true", Critical: true}}

	runner := &MockRunner{Outcomes: map[string]error{"db-start": errors.New("boom")}}
	eng, _ := newTestRecovery(t, runner, comp)

	rec, err := eng.Recover(context.Background())
	require.NoError(t, err)
	assert.False(t, rec.Success)
	assert.Equal(t, 1, runner.Attempts("db-start"))
}

func TestNonCriticalStepFailureContinues(t *testing.T) {
	comp := component("database", 1)
	comp.Steps = []config.RecoveryStep{
		{ID: "warm-cache", Command: "true"}, // non-critical
		{ID: "db-start", Command: "true", Critical: true},
	}

	runner := &MockRunner{Outcomes: map[string]error{"warm-cache": errors.New("cache miss")}}
	eng, _ := newTestRecovery(t, runner, comp)

	rec, err := eng.Recover(context.Background())
	require.NoError(t, err)
	assert.True(t, rec.Success)
	require.Len(t, rec.Components[0].Steps, 2)
	assert.NotEmpty(t, rec.Components[0].Steps[0].Error)
}

func TestValidationFailureRollsBack(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	comp := withRollback(component("database", 1))
	comp.Validate = []config.ValidationStep{{
		ID: "db-health", Type: "health-check", Target: srv.URL, TimeoutS: 2,
	}}

	runner := &MockRunner{}
	eng, _ := newTestRecovery(t, runner, comp)

	rec, err := eng.Recover(context.Background())
	require.NoError(t, err)
	assert.False(t, rec.Success)
	require.Len(t, rec.Components[0].Validation, 1)
	assert.Contains(t, rec.Components[0].Validation[0].Error, "status 503")
	assert.Empty(t, rec.RolledBack, "the failing component had no completed predecessors")
}

func TestSingleRecoveryAtATime(t *testing.T) {
	comp := component("database", 1)
	started := make(chan struct{})
	release := make(chan struct{})
	runner := blockingRunner{started: started, release: release}

	eng, _ := newTestRecovery(t, runner, comp)

	go eng.Recover(context.Background())
	<-started
	assert.True(t, eng.Active())

	_, err := eng.Recover(context.Background())
	assert.ErrorIs(t, err, ErrRecoveryActive)
	close(release)
}

type blockingRunner struct {
	started chan struct{}
	release chan struct{}
}

func (r blockingRunner) Run(context.Context, config.RecoveryStep) (string, error) {
	close(r.started)
	<-r.release
	return "", nil
}

func TestSystemValidation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	defer srv.Close()

	cfg := recoveryConfig(component("database", 1))
	cfg.Validation = config.SystemValidationConfig{
		TradingChecks:       []string{srv.URL + "/healthz"},
		PerfThresholds:      map[string]float64{"order_latency_ms": 250},
		DataIntegrityChecks: []string{"verify-ledger"},
	}

	runner := &MockRunner{}
	eng, err := NewEngine(cfg, runner, nil, logging.Discard())
	require.NoError(t, err)
	eng.SetPerfMetricSource(func(name string) (float64, bool) {
		return 120, name == "order_latency_ms"
	})

	rec, err := eng.Recover(context.Background())
	require.NoError(t, err)
	assert.True(t, rec.Success)
	assert.Len(t, rec.SystemChecks, 3)

	// Past-threshold latency fails the run.
	eng2, err := NewEngine(cfg, &MockRunner{}, nil, logging.Discard())
	require.NoError(t, err)
	eng2.SetPerfMetricSource(func(string) (float64, bool) { return 900, true })
	rec2, err := eng2.Recover(context.Background())
	require.NoError(t, err)
	assert.False(t, rec2.Success)
	assert.Equal(t, "system validation failed", rec2.Error)
}

// TestSystemValidationFailureRollsBack: a recovery whose components
// all came up but whose whole-system validation fails must unwind
// every component, newest first, like any other late failure.
func TestSystemValidationFailureRollsBack(t *testing.T) {
	cfg := recoveryConfig(
		withRollback(component("database", 1)),
		withRollback(component("market-data", 2, "database")),
	)
	cfg.Validation = config.SystemValidationConfig{
		PerfThresholds: map[string]float64{"order_latency_ms": 250},
	}

	runner := &MockRunner{}
	eng, err := NewEngine(cfg, runner, nil, logging.Discard())
	require.NoError(t, err)
	eng.SetPerfMetricSource(func(string) (float64, bool) { return 900, true })

	rec, err := eng.Recover(context.Background())
	require.NoError(t, err)
	assert.False(t, rec.Success)
	assert.Equal(t, "system validation failed", rec.Error)
	assert.Equal(t, []string{"market-data", "database"}, rec.RolledBack)
	assert.Equal(t,
		[]string{"database-start", "market-data-start", "market-data-rollback", "database-rollback"},
		runner.Calls)
}

func TestRecoverComponentSubset(t *testing.T) {
	runner := &MockRunner{}
	eng, _ := newTestRecovery(t, runner,
		component("database", 1),
		component("market-data", 2, "database"),
		component("trading-engine", 3, "market-data"),
	)

	rec, err := eng.Recover(context.Background(), "market-data")
	require.NoError(t, err)
	assert.True(t, rec.Success)
	require.Len(t, rec.Components, 2, "dependency pulled in, dependent left alone")
	assert.Equal(t, []string{"database-start", "market-data-start"}, runner.Calls)
}

func TestRecoverSubsetPullsTransitiveDependencies(t *testing.T) {
	runner := &MockRunner{}
	eng, _ := newTestRecovery(t, runner,
		component("database", 1),
		component("market-data", 2, "database"),
		component("trading-engine", 3, "market-data"),
	)

	rec, err := eng.Recover(context.Background(), "trading-engine")
	require.NoError(t, err)
	assert.True(t, rec.Success)
	assert.Equal(t,
		[]string{"database-start", "market-data-start", "trading-engine-start"},
		runner.Calls)
}

func TestRecoverUnknownComponent(t *testing.T) {
	eng, _ := newTestRecovery(t, &MockRunner{}, component("database", 1))

	_, err := eng.Recover(context.Background(), "ghost")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ghost")
	assert.False(t, eng.Active(), "a rejected subset leaves the engine idle")
	assert.Empty(t, eng.History(), "nothing ran")
}

func TestCustomValidation(t *testing.T) {
	comp := component("ledger", 1)
	comp.Validate = []config.ValidationStep{{ID: "books", Type: "custom", Target: "books-balanced"}}

	eng, _ := newTestRecovery(t, &MockRunner{}, comp)
	eng.RegisterCustomCheck("books-balanced", func(context.Context) error { return nil })

	rec, err := eng.Recover(context.Background())
	require.NoError(t, err)
	assert.True(t, rec.Success)

	// Unregistered custom checks fail.
	comp2 := component("ledger", 1)
	comp2.Validate = []config.ValidationStep{{ID: "books", Type: "custom", Target: "missing"}}
	eng2, _ := newTestRecovery(t, &MockRunner{}, comp2)
	rec2, err := eng2.Recover(context.Background())
	require.NoError(t, err)
	assert.False(t, rec2.Success)
}

func TestDataIntegrityExpectation(t *testing.T) {
	comp := component("ledger", 1)
	comp.Validate = []config.ValidationStep{{
		ID: "rows", Type: "data-integrity", Target: "count-rows",
		Expected: "ok", Comparator: "contains",
	}}

	// MockRunner output is "ok", which contains "ok".
	eng, _ := newTestRecovery(t, &MockRunner{}, comp)
	rec, err := eng.Recover(context.Background())
	require.NoError(t, err)
	assert.True(t, rec.Success)
}

func TestHistoryRetained(t *testing.T) {
	eng, _ := newTestRecovery(t, &MockRunner{}, component("database", 1))
	_, err := eng.Recover(context.Background())
	require.NoError(t, err)
	_, err = eng.Recover(context.Background())
	require.NoError(t, err)

	history := eng.History()
	require.Len(t, history, 2)
	assert.NotEqual(t, history[0].ID, history[1].ID)
}
