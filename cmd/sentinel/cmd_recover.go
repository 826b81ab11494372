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
)

// runRecover executes the disaster recovery plan from the CLI,
// narrowed to the named components when any are given.
func runRecover(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := newLogger(cfg, "sentinel-recover")
	defer log.Close()

	orch, err := NewOrchestrator(cfg, log)
	if err != nil {
		return err
	}

	rec, err := orch.RunRecovery(cmd.Context(), args...)
	if err != nil {
		return err
	}

	for _, comp := range rec.Components {
		mark := "ok"
		if !comp.Success {
			mark = "FAILED"
		}
		fmt.Printf("%-24s %s (%d step(s))\n", comp.Name, mark, len(comp.Steps))
	}
	if len(rec.RolledBack) > 0 {
		fmt.Printf("rolled back: %v\n", rec.RolledBack)
	}
	if !rec.Success {
		return fmt.Errorf("recovery %s failed: %s", rec.ID, rec.Error)
	}
	fmt.Printf("recovery %s completed in %s\n",
		rec.ID, rec.FinishedAt.Sub(rec.StartedAt).Round(1e6))
	return nil
}

// runFailover manually executes one failover rule.
func runFailover(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := newLogger(cfg, "sentinel-failover")
	defer log.Close()

	orch, err := NewOrchestrator(cfg, log)
	if err != nil {
		return err
	}

	exec, err := orch.failover.TriggerManual(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	orch.Alerts().WaitDispatches()

	for _, action := range exec.Actions {
		mark := "ok"
		if action.Error != "" {
			mark = "FAILED: " + action.Error
		}
		fmt.Printf("%-20s %-24s %s\n", action.Type, action.Target, mark)
	}
	if !exec.Success {
		return fmt.Errorf("failover %s failed", exec.ID)
	}
	fmt.Printf("failover %s completed\n", exec.ID)
	return nil
}
