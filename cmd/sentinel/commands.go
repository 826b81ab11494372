// Copyright (C) 2025 Quantfleet Systems (ops@quantfleet.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"github.com/spf13/cobra"

	"github.com/quantfleet/sentinel/cmd/sentinel/internal/config"
	"github.com/quantfleet/sentinel/pkg/logging"
)

// --- Global Command Variables ---
var (
	configPath string
	quickSweep bool

	rootCmd = &cobra.Command{
		Use:   "sentinel",
		Short: "Operational control plane for the Quantfleet trading platform",
		Long: `Sentinel samples host and trading metrics, persists them with
retention, raises threshold alerts, validates deployments, and drives
failover and disaster recovery.`,
		SilenceUsage: true,
	}

	startCmd = &cobra.Command{
		Use:   "start",
		Short: "Run the sentinel daemon",
		RunE:  runStart, // Defined in cmd_start.go
	}

	statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Probe the platform and report overall health",
		Long: `Runs the validation sweep and prints per-probe results.
Exits 0 when everything passes, 1 when only optional probes failed,
and 2 when a critical probe failed.`,
		RunE: runStatus, // Defined in cmd_status.go
	}

	validateCmd = &cobra.Command{
		Use:   "validate",
		Short: "Run deployment validation probes",
		RunE:  runValidate, // Defined in cmd_status.go
	}

	// --- Alerts ---
	testAlertsCmd = &cobra.Command{
		Use:   "test-alerts",
		Short: "Send a test notification through every enabled channel",
		RunE:  runTestAlerts, // Defined in cmd_alerts.go
	}
	triggerAlertCmd = &cobra.Command{
		Use:   "trigger-alert <severity> [title] [message]",
		Short: "Emit a manual alert through the configured channels",
		Args:  cobra.RangeArgs(1, 3),
		RunE:  runTriggerAlert, // Defined in cmd_alerts.go
	}

	// --- Storage ---
	maintenanceCmd = &cobra.Command{
		Use:   "maintenance",
		Short: "Compress, evict, and cap the metric store now",
		RunE:  runMaintenance, // Defined in cmd_maintenance.go
	}
	exportCmd = &cobra.Command{
		Use:   "export <days> <path>",
		Short: "Export the last N days of snapshots to a JSON file",
		Args:  cobra.ExactArgs(2),
		RunE:  runExport, // Defined in cmd_maintenance.go
	}

	// --- Failover / Recovery ---
	recoverCmd = &cobra.Command{
		Use:   "recover [component...]",
		Short: "Run the disaster recovery plan, optionally for specific components",
		Long: `Runs the full recovery plan, or, when component names are given,
only those components and their transitive dependencies.`,
		Args: cobra.ArbitraryArgs,
		RunE: runRecover, // Defined in cmd_recover.go
	}
	failoverCmd = &cobra.Command{
		Use:   "failover <rule-id>",
		Short: "Manually execute a failover rule's actions",
		Args:  cobra.ExactArgs(1),
		RunE:  runFailover, // Defined in cmd_recover.go
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "sentinel.yaml",
		"path to the sentinel configuration file (created with defaults when missing)")
	validateCmd.Flags().BoolVar(&quickSweep, "quick", false,
		"only run critical probes with a 2s cap")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(testAlertsCmd)
	rootCmd.AddCommand(triggerAlertCmd)
	rootCmd.AddCommand(maintenanceCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(recoverCmd)
	rootCmd.AddCommand(failoverCmd)
}

// loadConfig reads the config file, creating it with defaults on
// first run.
func loadConfig() (*config.Config, error) {
	return config.Load(configPath)
}

// newLogger builds the process logger from the ops section.
func newLogger(cfg *config.Config, service string) *logging.Logger {
	return logging.New(logging.Config{
		Level:   logging.ParseLevel(cfg.Ops.LogLevel),
		LogDir:  cfg.Ops.LogDir,
		Service: service,
	})
}
