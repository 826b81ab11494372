// Copyright (C) 2025 Quantfleet Systems (ops@quantfleet.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package standby

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrackerClassification(t *testing.T) {
	tr := NewTracker()

	h := tr.Report("order-gateway", true, 10*time.Millisecond)
	assert.Equal(t, StatusHealthy, h.Status)

	// One failure degrades, three consecutive turn unhealthy.
	h = tr.Report("order-gateway", false, 0)
	assert.Equal(t, StatusDegraded, h.Status)
	assert.Equal(t, 1, h.ConsecutiveFailures)

	tr.Report("order-gateway", false, 0)
	h = tr.Report("order-gateway", false, 0)
	assert.Equal(t, StatusUnhealthy, h.Status)
	assert.Equal(t, 3, h.ConsecutiveFailures)

	// A success resets the failure streak.
	h = tr.Report("order-gateway", true, 10*time.Millisecond)
	assert.Equal(t, StatusHealthy, h.Status)
	assert.Zero(t, h.ConsecutiveFailures)
}

func TestTrackerSlowResponseDegrades(t *testing.T) {
	tr := NewTracker()
	h := tr.Report("pricing", true, 5*time.Second)
	assert.Equal(t, StatusDegraded, h.Status)
}

func TestTrackerErrorRateWindow(t *testing.T) {
	tr := NewTracker()
	for i := 0; i < 8; i++ {
		tr.Report("feed", true, time.Millisecond)
	}
	tr.Report("feed", false, 0)
	h := tr.Report("feed", false, 0)
	assert.InDelta(t, 0.2, h.ErrorRate, 1e-9, "2 failures out of 10 reports")
}

func TestTrackerPublishesOnStatusChange(t *testing.T) {
	tr := NewTracker()
	var events []ComponentHealth
	tr.Events().Subscribe(func(h ComponentHealth) { events = append(events, h) })

	tr.Report("kv", true, time.Millisecond)  // healthy → healthy: no event
	tr.Report("kv", false, 0)                // → degraded
	tr.Report("kv", false, 0)                // still degraded: no event
	tr.Report("kv", false, 0)                // → unhealthy
	tr.Report("kv", true, time.Millisecond)  // → healthy

	require.Len(t, events, 3)
	assert.Equal(t, StatusDegraded, events[0].Status)
	assert.Equal(t, StatusUnhealthy, events[1].Status)
	assert.Equal(t, StatusHealthy, events[2].Status)
}

func TestTrackerSyncLag(t *testing.T) {
	tr := NewTracker()
	tr.ReportSyncLag("standby-db", 12.5)

	h, ok := tr.Component("standby-db")
	require.True(t, ok)
	assert.Equal(t, 12.5, h.Sync.LagSeconds)

	_, ok = tr.Component("never-seen")
	assert.False(t, ok)
}

func TestTrackerSnapshotIsCopy(t *testing.T) {
	tr := NewTracker()
	tr.Report("a", true, time.Millisecond)

	snap := tr.Snapshot()
	snap["a"] = ComponentHealth{Status: StatusUnhealthy}

	h, _ := tr.Component("a")
	assert.Equal(t, StatusHealthy, h.Status)
}
