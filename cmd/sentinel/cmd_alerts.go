// Copyright (C) 2025 Quantfleet Systems (ops@quantfleet.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quantfleet/sentinel/cmd/sentinel/internal/alerting"
)

// runTestAlerts sends a synthetic notification through every enabled
// channel and fails when any enabled channel could not deliver.
func runTestAlerts(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := newLogger(cfg, "sentinel-alerts")
	defer log.Close()

	engine, err := alerting.NewEngine(cfg.Alerts, log)
	if err != nil {
		return err
	}

	enabled := make(map[string]bool)
	for _, name := range enabledChannels(cfg.Alerts.Channels) {
		enabled[name] = true
	}
	if len(enabled) == 0 {
		return fmt.Errorf("no channels enabled")
	}

	results := engine.TestChannels(cmd.Context())
	failed := 0
	for name, ok := range results {
		switch {
		case !enabled[name]:
			fmt.Printf("SKIP  %s (disabled)\n", name)
		case ok:
			fmt.Printf("PASS  %s\n", name)
		default:
			fmt.Printf("FAIL  %s\n", name)
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d channel(s) failed", failed)
	}
	return nil
}

// runTriggerAlert emits a manual alert and waits for delivery.
func runTriggerAlert(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := newLogger(cfg, "sentinel-alerts")
	defer log.Close()

	severity, err := alerting.ParseSeverity(args[0])
	if err != nil {
		return err
	}
	title := "manual alert"
	if len(args) > 1 {
		title = args[1]
	}
	message := "triggered from the command line"
	if len(args) > 2 {
		message = args[2]
	}

	engine, err := alerting.NewEngine(cfg.Alerts, log)
	if err != nil {
		return err
	}
	alert := engine.CreateManual(severity, "manual", title, message,
		enabledChannels(cfg.Alerts.Channels))
	engine.WaitDispatches()

	fmt.Printf("alert %s dispatched to %v\n", alert.ID, alert.Channels)
	return nil
}
