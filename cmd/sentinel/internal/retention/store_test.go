// Copyright (C) 2025 Quantfleet Systems (ops@quantfleet.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package retention

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfleet/sentinel/cmd/sentinel/internal/config"
	"github.com/quantfleet/sentinel/cmd/sentinel/internal/metrics"
	"github.com/quantfleet/sentinel/pkg/logging"
)

func testStore(t *testing.T, cfg config.RetentionConfig) *Store {
	t.Helper()
	if cfg.StorageDir == "" {
		cfg.StorageDir = t.TempDir()
	}
	if cfg.RetentionDays == 0 {
		cfg.RetentionDays = 30
	}
	if cfg.CompressAfterDays == 0 {
		cfg.CompressAfterDays = 7
	}
	if cfg.CleanupIntervalMS == 0 {
		cfg.CleanupIntervalMS = 86_400_000
	}
	if cfg.CompressIntervalMS == 0 {
		cfg.CompressIntervalMS = 21_600_000
	}
	store, err := NewStore(cfg, logging.Discard())
	require.NoError(t, err)
	return store
}

func snapshotAt(ts time.Time, cpu float64) metrics.Snapshot {
	return metrics.Snapshot{
		Timestamp: ts.UnixMilli(),
		Host:      metrics.HostBlock{CPUPercent: cpu},
	}
}

func TestAppendThenQueryRoundTrip(t *testing.T) {
	store := testStore(t, config.RetentionConfig{})

	ts := time.Date(2026, 3, 10, 14, 30, 0, 0, time.UTC)
	snap := snapshotAt(ts, 55.5)
	snap.Domain.Equity = metrics.EquityBlock{Total: 1_000_000, Available: 250_000}

	require.NoError(t, store.Append(snap))

	got, err := store.Query(ts.Add(-time.Hour), ts.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, snap, got[0])
}

func TestQueryOrderedAcrossSegments(t *testing.T) {
	store := testStore(t, config.RetentionConfig{})

	day1 := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	day2 := time.Date(2026, 3, 11, 9, 0, 0, 0, time.UTC)
	require.NoError(t, store.Append(snapshotAt(day1, 1)))
	require.NoError(t, store.Append(snapshotAt(day1.Add(time.Minute), 2)))
	require.NoError(t, store.Append(snapshotAt(day2, 3)))

	got, err := store.Query(day1.Add(-time.Hour), day2.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []float64{1, 2, 3}, []float64{
		got[0].Host.CPUPercent, got[1].Host.CPUPercent, got[2].Host.CPUPercent,
	})
}

func TestQueryMissingRangeIsEmpty(t *testing.T) {
	store := testStore(t, config.RetentionConfig{})
	got, err := store.Query(time.Now().Add(-time.Hour), time.Now())
	require.NoError(t, err)
	assert.Empty(t, got)
}

// TestRetentionTimeline walks a segment through its lifecycle: with a
// 3-day retention and 1-day compression horizon, an aged segment is
// first compressed and later evicted while a fresh one stays plain.
func TestRetentionTimeline(t *testing.T) {
	dir := t.TempDir()
	store := testStore(t, config.RetentionConfig{
		StorageDir:        dir,
		RetentionDays:     3,
		CompressAfterDays: 1,
	})

	dayD := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return dayD }
	require.NoError(t, store.Append(snapshotAt(dayD, 10)))

	// Two days later: append another snapshot and run maintenance.
	store.now = func() time.Time { return dayD.AddDate(0, 0, 2) }
	require.NoError(t, store.Append(snapshotAt(dayD.AddDate(0, 0, 2), 20)))

	compressed, evicted, err := store.Maintain()
	require.NoError(t, err)
	assert.Equal(t, 1, compressed)
	assert.Zero(t, evicted)

	assert.NoFileExists(t, filepath.Join(dir, "metrics-2026-03-01.jsonl"))
	assert.FileExists(t, filepath.Join(dir, "metrics-2026-03-01.jsonl.gz"))
	assert.FileExists(t, filepath.Join(dir, "metrics-2026-03-03.jsonl"))

	// The compressed segment still answers queries.
	got, err := store.Query(dayD.Add(-time.Hour), dayD.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 10.0, got[0].Host.CPUPercent)

	// Four more days: day D falls past the retention horizon.
	store.now = func() time.Time { return dayD.AddDate(0, 0, 6) }
	_, evicted, err = store.Maintain()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, evicted, 1)
	assert.NoFileExists(t, filepath.Join(dir, "metrics-2026-03-01.jsonl.gz"))
}

func TestCompressAgedIdempotent(t *testing.T) {
	store := testStore(t, config.RetentionConfig{RetentionDays: 30, CompressAfterDays: 1})

	old := time.Now().UTC().AddDate(0, 0, -5)
	require.NoError(t, store.Append(snapshotAt(old, 1)))

	first, err := store.CompressAged()
	require.NoError(t, err)
	assert.Equal(t, 1, first)

	second, err := store.CompressAged()
	require.NoError(t, err)
	assert.Zero(t, second, "second run with no intervening append is a no-op")
}

func TestEvictAgedIdempotent(t *testing.T) {
	store := testStore(t, config.RetentionConfig{RetentionDays: 2, CompressAfterDays: 1})

	require.NoError(t, store.Append(snapshotAt(time.Now().UTC().AddDate(0, 0, -10), 1)))

	first, err := store.EvictAged()
	require.NoError(t, err)
	assert.Equal(t, 1, first)

	second, err := store.EvictAged()
	require.NoError(t, err)
	assert.Zero(t, second)
}

func TestEnforceSizeCap(t *testing.T) {
	dir := t.TempDir()
	store := testStore(t, config.RetentionConfig{StorageDir: dir, MaxBytes: 1})

	oldDay := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	newDay := time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.Append(snapshotAt(oldDay, 1)))
	require.NoError(t, store.Append(snapshotAt(newDay, 2)))

	removed, err := store.EnforceSizeCap()
	require.NoError(t, err)
	assert.Equal(t, 2, removed, "1-byte cap removes everything, oldest first")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestEnforceSizeCapDisabled(t *testing.T) {
	store := testStore(t, config.RetentionConfig{MaxBytes: 0})
	require.NoError(t, store.Append(snapshotAt(time.Now().UTC(), 1)))

	removed, err := store.EnforceSizeCap()
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestStats(t *testing.T) {
	store := testStore(t, config.RetentionConfig{RetentionDays: 30, CompressAfterDays: 1})

	require.NoError(t, store.Append(snapshotAt(time.Now().UTC(), 1)))
	require.NoError(t, store.Append(snapshotAt(time.Now().UTC().AddDate(0, 0, -3), 2)))
	_, err := store.CompressAged()
	require.NoError(t, err)

	stats, err := store.Stats()
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Segments)
	assert.Equal(t, 1, stats.Compressed)
	assert.Positive(t, stats.TotalBytes)
}

func TestCompressionEventPublished(t *testing.T) {
	store := testStore(t, config.RetentionConfig{RetentionDays: 30, CompressAfterDays: 1})

	var events []CompressedEvent
	store.Compressions().Subscribe(func(ev CompressedEvent) { events = append(events, ev) })

	old := time.Now().UTC().AddDate(0, 0, -4)
	require.NoError(t, store.Append(snapshotAt(old, 1)))
	_, err := store.CompressAged()
	require.NoError(t, err)

	require.Len(t, events, 1)
	assert.Equal(t, old.Format("2006-01-02"), events[0].Date)
	assert.Positive(t, events[0].OriginalBytes)
	assert.Positive(t, events[0].PackedBytes)
}

func TestTornTrailingLineIsSkipped(t *testing.T) {
	dir := t.TempDir()
	store := testStore(t, config.RetentionConfig{StorageDir: dir})

	ts := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	require.NoError(t, store.Append(snapshotAt(ts, 33)))

	// Simulate a crash mid-append.
	path := filepath.Join(dir, "metrics-2026-03-10.jsonl")
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0640)
	require.NoError(t, err)
	_, err = f.WriteString(`{"timestamp": 17`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	got, err := store.Query(ts.Add(-time.Hour), ts.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 33.0, got[0].Host.CPUPercent)
}

func TestStartStopMaintenance(t *testing.T) {
	store := testStore(t, config.RetentionConfig{
		CleanupIntervalMS:  50,
		CompressIntervalMS: 50,
	})
	require.NoError(t, store.Start())
	assert.Error(t, store.Start(), "double start must fail")
	time.Sleep(120 * time.Millisecond)
	store.Stop()
	store.Stop() // idempotent
}
