// Copyright (C) 2025 Quantfleet Systems (ops@quantfleet.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package alerting

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfleet/sentinel/cmd/sentinel/internal/config"
	"github.com/quantfleet/sentinel/cmd/sentinel/internal/metrics"
	"github.com/quantfleet/sentinel/pkg/logging"
)

func cpuRule(durationS, cooldownS int) config.ThresholdRule {
	return config.ThresholdRule{
		Name:      "cpu-high",
		Category:  "host",
		Severity:  "warning",
		Condition: "cpu.usage > 80",
		DurationS: durationS,
		CooldownS: cooldownS,
		Channels:  []string{"console"},
		Enabled:   true,
	}
}

func testEngine(t *testing.T, maxPerHour int, rules ...config.ThresholdRule) *Engine {
	t.Helper()
	eng, err := NewEngine(config.AlertsConfig{
		Enabled:            true,
		Rules:              rules,
		MaxAlertsPerHour:   maxPerHour,
		AlertRetentionDays: 30,
	}, logging.Discard())
	require.NoError(t, err)
	return eng
}

func cpuSnapshot(ts time.Time, cpu float64) metrics.Snapshot {
	return metrics.Snapshot{
		Timestamp: ts.UnixMilli(),
		Host:      metrics.HostBlock{CPUPercent: cpu},
	}
}

func TestNewEngineRejectsBadConditions(t *testing.T) {
	bad := []string{
		"cpu.usage >",
		"gpu.usage > 80",
		"cpu.usage ~ 80",
		"cpu.usage > high",
	}
	for _, cond := range bad {
		rule := cpuRule(0, 0)
		rule.Condition = cond
		_, err := NewEngine(config.AlertsConfig{
			Enabled: true, Rules: []config.ThresholdRule{rule},
			MaxAlertsPerHour: 50, AlertRetentionDays: 30,
		}, logging.Discard())
		assert.Error(t, err, "condition %q must be rejected at construction", cond)
	}
}

// TestDurationGate holds the predicate true for six ten-second
// samples; the alert fires only once the breach has lasted a full
// minute, and a recovery sample restarts the clock.
func TestDurationGate(t *testing.T) {
	eng := testEngine(t, 50, cpuRule(60, 0))
	base := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	clock := base
	eng.now = func() time.Time { return clock }

	for i := 0; i < 6; i++ {
		clock = base.Add(time.Duration(i*10) * time.Second)
		emitted := eng.EvaluateSnapshot(cpuSnapshot(clock, 85))
		assert.Empty(t, emitted, "breach at t=%ds is inside the duration window", i*10)
	}

	clock = base.Add(60 * time.Second)
	emitted := eng.EvaluateSnapshot(cpuSnapshot(clock, 85))
	require.Len(t, emitted, 1, "duration satisfied at t=60s")
	assert.Equal(t, "cpu-high", emitted[0].RuleName)
	assert.Equal(t, SeverityWarning, emitted[0].Severity)

	// Recovery destroys firing state; the next breach starts over.
	clock = base.Add(70 * time.Second)
	assert.Empty(t, eng.EvaluateSnapshot(cpuSnapshot(clock, 50)))
	clock = base.Add(80 * time.Second)
	assert.Empty(t, eng.EvaluateSnapshot(cpuSnapshot(clock, 90)),
		"duration clock restarted after recovery")
}

// TestCooldownGate keeps the predicate true continuously; with a
// 300-second cooldown only two alerts fit in the first 640 seconds.
func TestCooldownGate(t *testing.T) {
	eng := testEngine(t, 50, cpuRule(60, 300))
	base := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	clock := base
	eng.now = func() time.Time { return clock }

	var fired []time.Duration
	for s := 0; s <= 640; s += 10 {
		clock = base.Add(time.Duration(s) * time.Second)
		if len(eng.EvaluateSnapshot(cpuSnapshot(clock, 95))) > 0 {
			fired = append(fired, time.Duration(s)*time.Second)
		}
	}

	require.Len(t, fired, 2)
	assert.Equal(t, 60*time.Second, fired[0])
	assert.Equal(t, 360*time.Second, fired[1], "re-fire waits out the cooldown")
}

// TestRateLimitGate caps a flapping zero-duration rule at three
// emissions per hour; the fourth breach is suppressed.
func TestRateLimitGate(t *testing.T) {
	eng := testEngine(t, 3, cpuRule(0, 0))
	base := time.Date(2026, 4, 1, 12, 10, 0, 0, time.UTC)
	clock := base
	eng.now = func() time.Time { return clock }

	total := 0
	for i := 0; i < 4; i++ {
		clock = base.Add(time.Duration(i) * time.Second)
		total += len(eng.EvaluateSnapshot(cpuSnapshot(clock, 99)))
	}
	assert.Equal(t, 3, total)

	// Two hours later the buckets have aged out.
	clock = base.Add(2 * time.Hour)
	assert.Len(t, eng.EvaluateSnapshot(cpuSnapshot(clock, 99)), 1)
}

func TestDisabledRuleNeverFires(t *testing.T) {
	rule := cpuRule(0, 0)
	rule.Enabled = false
	eng := testEngine(t, 50, rule)
	assert.Empty(t, eng.EvaluateSnapshot(cpuSnapshot(time.Now(), 99)))
}

func TestAcknowledgeIsIdempotent(t *testing.T) {
	eng := testEngine(t, 50, cpuRule(0, 0))
	emitted := eng.EvaluateSnapshot(cpuSnapshot(time.Now(), 99))
	require.Len(t, emitted, 1)

	require.NoError(t, eng.Acknowledge(emitted[0].ID))
	require.NoError(t, eng.Acknowledge(emitted[0].ID), "second acknowledge succeeds")
	assert.Error(t, eng.Acknowledge("no-such-alert"))

	stats := eng.Stats()
	assert.Equal(t, 1, stats.Acknowledged)
}

func TestResolveIsTerminal(t *testing.T) {
	eng := testEngine(t, 50, cpuRule(0, 0))
	base := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	clock := base
	eng.now = func() time.Time { return clock }

	emitted := eng.EvaluateSnapshot(cpuSnapshot(clock, 99))
	require.Len(t, emitted, 1)

	require.NoError(t, eng.Resolve(emitted[0].ID))
	first := eng.History()[0].ResolvedAt
	require.NotNil(t, first)

	clock = clock.Add(time.Hour)
	require.NoError(t, eng.Resolve(emitted[0].ID))
	assert.Equal(t, *first, *eng.History()[0].ResolvedAt, "first resolution time sticks")

	assert.Empty(t, eng.Active())
}

func TestCreateManual(t *testing.T) {
	eng := testEngine(t, 50)
	alert := eng.CreateManual(SeverityCritical, "ops", "failover drill", "manual trigger", nil)

	assert.NotEmpty(t, alert.ID)
	assert.Equal(t, SeverityCritical, alert.Severity)
	assert.Len(t, eng.History(), 1)
}

func TestCleanupEvictsOldAlerts(t *testing.T) {
	eng := testEngine(t, 50, cpuRule(0, 0))
	base := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	clock := base
	eng.now = func() time.Time { return clock }

	require.Len(t, eng.EvaluateSnapshot(cpuSnapshot(clock, 99)), 1)

	clock = base.AddDate(0, 0, 40)
	require.Len(t, eng.EvaluateSnapshot(cpuSnapshot(clock, 99)), 1)

	assert.Equal(t, 1, eng.Cleanup(), "40-day-old alert is past the 30-day horizon")
	assert.Len(t, eng.History(), 1)
}

func TestAlertsPublishedOnTopic(t *testing.T) {
	eng := testEngine(t, 50, cpuRule(0, 0))
	var seen []Alert
	eng.Alerts().Subscribe(func(a Alert) { seen = append(seen, a) })

	eng.EvaluateSnapshot(cpuSnapshot(time.Now(), 99))
	eng.WaitDispatches()

	require.Len(t, seen, 1)
	assert.Equal(t, "cpu-high", seen[0].RuleName)
}

func TestUnresolvableFieldDoesNotFire(t *testing.T) {
	rule := cpuRule(0, 0)
	rule.Condition = "memory.usage > 1"
	eng := testEngine(t, 50, rule)

	// Zero-total memory block: the selector cannot be answered.
	assert.Empty(t, eng.EvaluateSnapshot(metrics.Snapshot{Timestamp: time.Now().UnixMilli()}))
}
