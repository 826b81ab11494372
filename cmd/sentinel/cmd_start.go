// Copyright (C) 2025 Quantfleet Systems (ops@quantfleet.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/quantfleet/sentinel/cmd/sentinel/internal/config"
)

// runStart brings the daemon up and blocks until SIGINT or SIGTERM.
func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := newLogger(cfg, "sentinel")
	defer log.Close()

	orch, err := NewOrchestrator(cfg, log)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	if err := orch.Start(ctx); err != nil {
		return err
	}

	watcher := config.NewWatcher(configPath,
		func(updated *config.Config) { orch.ApplyConfig(updated) },
		func(err error) { log.Warn("config reload failed, keeping previous", "error", err) },
	)
	go func() {
		if err := watcher.Run(ctx); err != nil {
			log.Warn("config watcher stopped", "error", err)
		}
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigs
	log.Info("shutting down", "signal", sig.String())

	cancel()
	orch.Stop()
	return nil
}
