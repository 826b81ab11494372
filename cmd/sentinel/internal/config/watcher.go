// Copyright (C) 2025 Quantfleet Systems (ops@quantfleet.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads the config file when it changes on disk.
//
// # Description
//
// Rules are owned by configuration and mutated only by configuration
// update; the watcher is how an operator edits thresholds without
// restarting the daemon. Editors typically produce bursts of write
// and rename events, so reloads are debounced. A change that fails
// to parse or validate is reported and the previous configuration
// stays active.
type Watcher struct {
	path     string
	onChange func(*Config)
	onError  func(error)
	debounce time.Duration
}

// NewWatcher creates a watcher for path. onChange receives each
// successfully reloaded config; onError receives reload failures.
func NewWatcher(path string, onChange func(*Config), onError func(error)) *Watcher {
	return &Watcher{
		path:     path,
		onChange: onChange,
		onError:  onError,
		debounce: 250 * time.Millisecond,
	}
}

// Run watches until ctx is cancelled. The watch is on the parent
// directory: editors that replace the file via rename would otherwise
// drop the watch on the first save.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fs watcher: %w", err)
	}
	defer fsw.Close()

	dir := filepath.Dir(w.path)
	if err := fsw.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	var timer *time.Timer
	reload := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			if w.onError != nil {
				w.onError(err)
			}

		case <-reload:
			cfg, err := Load(w.path)
			if err != nil {
				if w.onError != nil {
					w.onError(err)
				}
				continue
			}
			if w.onChange != nil {
				w.onChange(cfg)
			}
		}
	}
}
