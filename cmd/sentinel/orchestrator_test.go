// Copyright (C) 2025 Quantfleet Systems (ops@quantfleet.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfleet/sentinel/cmd/sentinel/internal/config"
	"github.com/quantfleet/sentinel/cmd/sentinel/internal/metrics"
	"github.com/quantfleet/sentinel/pkg/logging"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Retention.StorageDir = t.TempDir()
	cfg.Ops.HTTPPort = 0
	return &cfg
}

func newTestOrchestrator(t *testing.T) *Orchestrator {
	t.Helper()
	orch, err := NewOrchestrator(testConfig(t), logging.Discard())
	require.NoError(t, err)
	return orch
}

func TestOrchestratorStatusStartsHealthy(t *testing.T) {
	orch := newTestOrchestrator(t)
	status := orch.Status()
	assert.Equal(t, HealthHealthy, status.Overall)
	assert.False(t, status.Recovering)
	assert.Empty(t, status.Components)
}

func TestOrchestratorStatusReflectsComponentHealth(t *testing.T) {
	orch := newTestOrchestrator(t)

	orch.tracker.Report("order-gateway", false, 0)
	assert.Equal(t, HealthWarning, orch.Status().Overall, "one failure degrades")

	orch.tracker.Report("order-gateway", false, 0)
	orch.tracker.Report("order-gateway", false, 0)
	assert.Equal(t, HealthCritical, orch.Status().Overall, "three failures are critical")
}

func TestOrchestratorStatusReflectsActiveAlerts(t *testing.T) {
	orch := newTestOrchestrator(t)

	alert := orch.Alerts().CreateManual("critical", "test", "broken", "details", nil)
	assert.Equal(t, HealthCritical, orch.Status().Overall)

	require.NoError(t, orch.Alerts().Resolve(alert.ID))
	assert.Equal(t, HealthHealthy, orch.Status().Overall)
}

func TestPerfMetricAnswersFromLastSnapshot(t *testing.T) {
	orch := newTestOrchestrator(t)

	_, ok := orch.perfMetric("cpu.usage")
	assert.False(t, ok, "no snapshot yet")

	orch.mu.Lock()
	orch.lastSnap = metrics.Snapshot{
		Timestamp: time.Now().UnixMilli(),
		Host:      metrics.HostBlock{CPUPercent: 61.5},
	}
	orch.mu.Unlock()

	value, ok := orch.perfMetric("cpu.usage")
	require.True(t, ok)
	assert.Equal(t, 61.5, value)

	_, ok = orch.perfMetric("no.such.metric")
	assert.False(t, ok)
}

func TestEnabledChannels(t *testing.T) {
	cfg := config.ChannelsConfig{}
	cfg.Console.Enabled = true
	cfg.Chat.Enabled = true
	assert.Equal(t, []string{"console", "chat"}, enabledChannels(cfg))
}

func TestFetchStatusFromDaemon(t *testing.T) {
	orch := newTestOrchestrator(t)
	orch.tracker.Report("order-gateway", false, 0)
	want := orch.Status()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(want)
	}))
	defer srv.Close()

	got, err := fetchStatus(srv.URL)
	require.NoError(t, err)
	assert.Equal(t, want.Overall, got.Overall)
	assert.Equal(t, want.Components["order-gateway"].ConsecutiveFailures,
		got.Components["order-gateway"].ConsecutiveFailures)

	_, err = fetchStatus("http://127.0.0.1:1/statusz")
	assert.Error(t, err, "no daemon listening")
}

func TestStatusExitCode(t *testing.T) {
	assert.Equal(t, 0, statusExitCode(HealthHealthy))
	assert.Equal(t, 1, statusExitCode(HealthWarning))
	assert.Equal(t, 2, statusExitCode(HealthCritical))
}

func TestApplyConfigSwapsAlertEngine(t *testing.T) {
	orch := newTestOrchestrator(t)
	before := orch.Alerts()

	cfg := testConfig(t)
	cfg.Alerts.Rules = []config.ThresholdRule{{
		Name: "cpu-high", Severity: "warning", Condition: "cpu.usage > 90", Enabled: true,
	}}
	orch.ApplyConfig(cfg)
	assert.NotSame(t, before, orch.Alerts())
	assert.Len(t, orch.Alerts().Rules(), 1)

	// A broken reload keeps the previous engine.
	bad := testConfig(t)
	bad.Alerts.Rules = []config.ThresholdRule{{
		Name: "broken", Severity: "warning", Condition: "nope", Enabled: true,
	}}
	current := orch.Alerts()
	orch.ApplyConfig(bad)
	assert.Same(t, current, orch.Alerts())
}
