// Copyright (C) 2025 Quantfleet Systems (ops@quantfleet.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package retention persists metric snapshots as dated JSONL segments
// with gzip compression of aged segments and bounded total storage.
package retention

import (
	"bufio"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/quantfleet/sentinel/cmd/sentinel/internal/bus"
	"github.com/quantfleet/sentinel/cmd/sentinel/internal/config"
	"github.com/quantfleet/sentinel/cmd/sentinel/internal/metrics"
	"github.com/quantfleet/sentinel/pkg/logging"
)

const (
	segmentPrefix = "metrics-"
	segmentExt    = ".jsonl"
	gzipExt       = ".jsonl.gz"
	dateLayout    = "2006-01-02"
)

// CompressedEvent reports one segment compression.
type CompressedEvent struct {
	Date          string
	Path          string
	OriginalBytes int64
	PackedBytes   int64
}

// Stats summarizes the on-disk state.
type Stats struct {
	Segments   int   `json:"segments"`
	Compressed int   `json:"compressed"`
	TotalBytes int64 `json:"total_bytes"`
}

// Store is the snapshot retention store.
//
// # Description
//
// One file per UTC date, named metrics-YYYY-MM-DD.jsonl, one snapshot
// per line. Segments older than the compression horizon are rewritten
// as .jsonl.gz and the plain file unlinked; segments older than the
// retention horizon are deleted. Background maintenance runs on two
// independent timers.
//
// # Concurrency
//
// Mutations (append, compress, evict) are serialized by one mutex.
// Queries take no lock: appends are single whole-line writes in
// O_APPEND mode, so a reader sees either the pre- or post-append file
// state, and compression only touches segments older than today,
// which is disjoint from the active-append segment.
type Store struct {
	cfg config.RetentionConfig
	log *logging.Logger

	compressedTopic *bus.Topic[CompressedEvent]

	// now is the clock; injectable for the retention timeline tests.
	now func() time.Time

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}
}

// NewStore creates a store and its storage directory.
func NewStore(cfg config.RetentionConfig, log *logging.Logger) (*Store, error) {
	if err := os.MkdirAll(cfg.StorageDir, 0750); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &Store{
		cfg:             cfg,
		log:             log,
		compressedTopic: bus.NewTopic[CompressedEvent](func(err error) { log.Error("compression subscriber failed", "error", err) }),
		now:             time.Now,
	}, nil
}

// Compressions returns the topic publishing segment compressions.
func (s *Store) Compressions() *bus.Topic[CompressedEvent] {
	return s.compressedTopic
}

// Append writes one snapshot to the segment for its UTC date,
// creating the segment when absent. I/O errors surface to the caller
// and the snapshot is dropped; nothing is buffered.
func (s *Store) Append(snap metrics.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	line, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	path := s.segmentPath(snap.Time().UTC().Format(dateLayout))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
	if err != nil {
		return fmt.Errorf("open segment: %w", err)
	}
	defer f.Close()

	// One Write call per line keeps the append atomic with respect to
	// concurrent readers.
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append snapshot: %w", err)
	}
	return nil
}

// Query returns snapshots with timestamps in [from, to], ascending by
// date across segments and file order within one. Compressed segments
// are decompressed transparently.
func (s *Store) Query(from, to time.Time) ([]metrics.Snapshot, error) {
	var out []metrics.Snapshot

	fromMs := from.UnixMilli()
	toMs := to.UnixMilli()

	day := from.UTC().Truncate(24 * time.Hour)
	last := to.UTC().Truncate(24 * time.Hour)
	for !day.After(last) {
		date := day.Format(dateLayout)
		day = day.Add(24 * time.Hour)

		snaps, err := s.readSegment(date)
		if err != nil {
			return nil, err
		}
		for _, snap := range snaps {
			if snap.Timestamp >= fromMs && snap.Timestamp <= toMs {
				out = append(out, snap)
			}
		}
	}
	return out, nil
}

// readSegment reads one date's snapshots from the plain or compressed
// form. A missing segment yields no snapshots and no error.
func (s *Store) readSegment(date string) ([]metrics.Snapshot, error) {
	var reader io.ReadCloser

	plain := s.segmentPath(date)
	if f, err := os.Open(plain); err == nil {
		reader = f
	} else if f, err := os.Open(plain + ".gz"); err == nil {
		gz, err := gzip.NewReader(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("open compressed segment %s: %w", date, err)
		}
		reader = &gzipSegment{gz: gz, file: f}
	} else {
		return nil, nil
	}
	defer reader.Close()

	var out []metrics.Snapshot
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var snap metrics.Snapshot
		if err := json.Unmarshal([]byte(line), &snap); err != nil {
			// A torn trailing line from a crashed append is skipped,
			// not fatal: the rest of the segment is intact.
			s.log.Warn("skipping unparsable snapshot line", "segment", date, "error", err)
			continue
		}
		out = append(out, snap)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan segment %s: %w", date, err)
	}
	return out, nil
}

// CompressAged gzips every plain segment older than the compression
// horizon and unlinks the source. Idempotent: segments that already
// have a compressed form are skipped. Returns the number compressed.
func (s *Store) CompressAged() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	horizon := s.today().AddDate(0, 0, -s.cfg.CompressAfterDays)

	segments, err := s.listSegments()
	if err != nil {
		return 0, err
	}

	count := 0
	for _, seg := range segments {
		if seg.compressed || !seg.date.Before(horizon) {
			continue
		}
		if _, err := os.Stat(seg.path + ".gz"); err == nil {
			// Compressed sibling already exists; just drop the source.
			if err := os.Remove(seg.path); err != nil {
				return count, fmt.Errorf("remove compressed source: %w", err)
			}
			continue
		}
		event, err := s.compressSegment(seg)
		if err != nil {
			return count, err
		}
		count++
		s.compressedTopic.Publish(event)
		s.log.Info("segment compressed",
			"segment", filepath.Base(seg.path),
			"original_bytes", event.OriginalBytes,
			"packed_bytes", event.PackedBytes)
	}
	return count, nil
}

// compressSegment writes the gzip sibling through a temp file, then
// renames it into place and unlinks the source. The rename keeps the
// invariant that a .gz either does not exist or is complete.
func (s *Store) compressSegment(seg segmentInfo) (CompressedEvent, error) {
	src, err := os.Open(seg.path)
	if err != nil {
		return CompressedEvent{}, fmt.Errorf("open segment: %w", err)
	}
	defer src.Close()

	tmpPath := seg.path + ".gz.tmp"
	tmp, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0640)
	if err != nil {
		return CompressedEvent{}, fmt.Errorf("create temp: %w", err)
	}

	gz := gzip.NewWriter(tmp)
	if _, err := io.Copy(gz, src); err == nil {
		err = gz.Close()
	} else {
		gz.Close()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmpPath)
		return CompressedEvent{}, fmt.Errorf("compress segment: %w", err)
	}

	if err := os.Rename(tmpPath, seg.path+".gz"); err != nil {
		os.Remove(tmpPath)
		return CompressedEvent{}, fmt.Errorf("finalize compressed segment: %w", err)
	}
	if err := os.Remove(seg.path); err != nil {
		return CompressedEvent{}, fmt.Errorf("unlink source segment: %w", err)
	}

	packed, _ := os.Stat(seg.path + ".gz")
	event := CompressedEvent{
		Date:          seg.date.Format(dateLayout),
		Path:          seg.path + ".gz",
		OriginalBytes: seg.size,
	}
	if packed != nil {
		event.PackedBytes = packed.Size()
	}
	return event, nil
}

// EvictAged deletes segments, compressed or not, older than the
// retention horizon. Idempotent. Returns the number deleted.
func (s *Store) EvictAged() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	horizon := s.today().AddDate(0, 0, -s.cfg.RetentionDays)

	segments, err := s.listSegments()
	if err != nil {
		return 0, err
	}

	count := 0
	for _, seg := range segments {
		if !seg.date.Before(horizon) {
			continue
		}
		if err := os.Remove(seg.path); err != nil {
			return count, fmt.Errorf("evict segment: %w", err)
		}
		count++
		s.log.Info("segment evicted", "segment", filepath.Base(seg.path))
	}
	return count, nil
}

// EnforceSizeCap deletes the oldest segments until total bytes fit
// under the configured cap. A zero cap disables enforcement. Returns
// the number deleted.
func (s *Store) EnforceSizeCap() (int, error) {
	if s.cfg.MaxBytes <= 0 {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	segments, err := s.listSegments()
	if err != nil {
		return 0, err
	}

	var total int64
	for _, seg := range segments {
		total += seg.size
	}

	count := 0
	for _, seg := range segments { // listSegments sorts oldest first
		if total <= s.cfg.MaxBytes {
			break
		}
		if err := os.Remove(seg.path); err != nil {
			return count, fmt.Errorf("remove segment for size cap: %w", err)
		}
		total -= seg.size
		count++
		s.log.Warn("segment removed by size cap",
			"segment", filepath.Base(seg.path), "total_bytes", total)
	}
	return count, nil
}

// Stats reports segment counts and total bytes.
func (s *Store) Stats() (Stats, error) {
	segments, err := s.listSegments()
	if err != nil {
		return Stats{}, err
	}
	stats := Stats{Segments: len(segments)}
	for _, seg := range segments {
		stats.TotalBytes += seg.size
		if seg.compressed {
			stats.Compressed++
		}
	}
	return stats, nil
}

// Maintain runs one full maintenance pass: compression, eviction,
// size cap. Used by the maintenance CLI command and the timers.
func (s *Store) Maintain() (compressed, evicted int, err error) {
	compressed, err = s.CompressAged()
	if err != nil {
		return compressed, 0, err
	}
	evicted, err = s.EvictAged()
	if err != nil {
		return compressed, evicted, err
	}
	capped, err := s.EnforceSizeCap()
	return compressed, evicted + capped, err
}

// Start launches the background maintenance timers. It fails when
// already running.
func (s *Store) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("retention maintenance already started")
	}
	s.running = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.maintainLoop(s.stop, s.done)
	return nil
}

// Stop halts background maintenance and waits for it to exit.
func (s *Store) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stop)
	done := s.done
	s.mu.Unlock()
	<-done
}

func (s *Store) maintainLoop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	cleanup := time.NewTicker(s.cfg.CleanupInterval())
	defer cleanup.Stop()
	compress := time.NewTicker(s.cfg.CompressInterval())
	defer compress.Stop()

	for {
		select {
		case <-stop:
			return
		case <-compress.C:
			if _, err := s.CompressAged(); err != nil {
				s.log.Error("segment compression failed", "error", err)
			}
		case <-cleanup.C:
			if _, err := s.EvictAged(); err != nil {
				s.log.Error("segment eviction failed", "error", err)
			}
			if _, err := s.EnforceSizeCap(); err != nil {
				s.log.Error("size cap enforcement failed", "error", err)
			}
		}
	}
}

// segmentInfo is one on-disk segment file.
type segmentInfo struct {
	path       string
	date       time.Time
	size       int64
	compressed bool
}

// listSegments returns segments sorted oldest first.
func (s *Store) listSegments() ([]segmentInfo, error) {
	entries, err := os.ReadDir(s.cfg.StorageDir)
	if err != nil {
		return nil, fmt.Errorf("read storage dir: %w", err)
	}

	var out []segmentInfo
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		var dateStr string
		var compressed bool
		switch {
		case strings.HasPrefix(name, segmentPrefix) && strings.HasSuffix(name, gzipExt):
			dateStr = strings.TrimSuffix(strings.TrimPrefix(name, segmentPrefix), gzipExt)
			compressed = true
		case strings.HasPrefix(name, segmentPrefix) && strings.HasSuffix(name, segmentExt):
			dateStr = strings.TrimSuffix(strings.TrimPrefix(name, segmentPrefix), segmentExt)
		default:
			continue
		}
		date, err := time.ParseInLocation(dateLayout, dateStr, time.UTC)
		if err != nil {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		out = append(out, segmentInfo{
			path:       filepath.Join(s.cfg.StorageDir, name),
			date:       date,
			size:       info.Size(),
			compressed: compressed,
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].date.Before(out[j].date) })
	return out, nil
}

func (s *Store) segmentPath(date string) string {
	return filepath.Join(s.cfg.StorageDir, segmentPrefix+date+segmentExt)
}

// today returns the current UTC date at midnight.
func (s *Store) today() time.Time {
	return s.now().UTC().Truncate(24 * time.Hour)
}

// gzipSegment closes both the gzip reader and the underlying file.
type gzipSegment struct {
	gz   *gzip.Reader
	file *os.File
}

func (g *gzipSegment) Read(p []byte) (int, error) { return g.gz.Read(p) }

func (g *gzipSegment) Close() error {
	gerr := g.gz.Close()
	ferr := g.file.Close()
	if gerr != nil {
		return gerr
	}
	return ferr
}
