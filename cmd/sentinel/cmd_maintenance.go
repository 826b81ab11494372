// Copyright (C) 2025 Quantfleet Systems (ops@quantfleet.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/quantfleet/sentinel/cmd/sentinel/internal/retention"
)

// runMaintenance runs one compression/eviction/size-cap pass now.
func runMaintenance(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := newLogger(cfg, "sentinel-maintenance")
	defer log.Close()

	store, err := retention.NewStore(cfg.Retention, log)
	if err != nil {
		return err
	}

	compressed, evicted, err := store.Maintain()
	if err != nil {
		return err
	}
	stats, err := store.Stats()
	if err != nil {
		return err
	}
	fmt.Printf("compressed %d segment(s), evicted %d; %d segment(s), %d bytes on disk\n",
		compressed, evicted, stats.Segments, stats.TotalBytes)
	return nil
}

// runExport writes the last N days of snapshots to a JSON file.
func runExport(cmd *cobra.Command, args []string) error {
	days, err := strconv.Atoi(args[0])
	if err != nil || days <= 0 {
		return fmt.Errorf("days must be a positive integer, got %q", args[0])
	}
	outPath := args[1]

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := newLogger(cfg, "sentinel-export")
	defer log.Close()

	store, err := retention.NewStore(cfg.Retention, log)
	if err != nil {
		return err
	}

	to := time.Now().UTC()
	from := to.AddDate(0, 0, -days)
	snapshots, err := store.Query(from, to)
	if err != nil {
		return err
	}

	f, err := os.Create(outPath)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(snapshots); err != nil {
		return fmt.Errorf("write %s: %w", outPath, err)
	}
	fmt.Printf("exported %d snapshot(s) covering %s to %s\n",
		len(snapshots), from.Format("2006-01-02"), outPath)
	return nil
}
