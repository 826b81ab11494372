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
	"net/http"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/quantfleet/sentinel/cmd/sentinel/internal/standby"
	"github.com/quantfleet/sentinel/cmd/sentinel/internal/validate"
)

var (
	passStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("40"))
	failStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	dimStyle  = lipgloss.NewStyle().Faint(true)
)

// runStatus prints the health summary and key counters, exiting 0/1/2
// for healthy/warning/critical. With a running daemon (ops port
// configured and reachable) the summary comes from /statusz; otherwise
// the platform is probed directly.
func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if cfg.Ops.HTTPPort > 0 {
		url := fmt.Sprintf("http://127.0.0.1:%d/statusz", cfg.Ops.HTTPPort)
		status, err := fetchStatus(url)
		if err == nil {
			printStatus(status)
			os.Exit(statusExitCode(status.Overall))
		}
		fmt.Printf("daemon not reachable at %s, probing directly\n\n", url)
	}

	report, err := runSweep(cmd, false)
	if err != nil {
		return err
	}

	switch {
	case report.Success && len(report.Failed()) == 0:
		os.Exit(0)
	case report.Success:
		os.Exit(1) // optional probes failed
	default:
		os.Exit(2)
	}
	return nil
}

// fetchStatus reads a running daemon's Status from its statusz URL.
func fetchStatus(url string) (Status, error) {
	client := &http.Client{Timeout: 3 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return Status{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Status{}, fmt.Errorf("statusz returned %d", resp.StatusCode)
	}

	var status Status
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return Status{}, fmt.Errorf("decode statusz: %w", err)
	}
	return status, nil
}

func statusExitCode(overall OverallHealth) int {
	switch overall {
	case HealthHealthy:
		return 0
	case HealthWarning:
		return 1
	default:
		return 2
	}
}

func printStatus(status Status) {
	colors := isatty.IsTerminal(os.Stdout.Fd())
	verdict := string(status.Overall)
	if colors {
		style := passStyle
		if status.Overall != HealthHealthy {
			style = failStyle
		}
		verdict = style.Render(verdict)
	}
	fmt.Printf("overall: %s  (uptime %s, recovering=%v)\n",
		verdict, status.Uptime.Round(time.Second), status.Recovering)

	for name, comp := range status.Components {
		mark := "ok"
		if comp.Status != standby.StatusHealthy {
			mark = string(comp.Status)
		}
		fmt.Printf("  %-24s %-10s %6.1fms  failures=%d\n", name, mark,
			float64(comp.ResponseTime.Microseconds())/1000, comp.ConsecutiveFailures)
	}

	fmt.Printf("alerts: %d total, %d acknowledged, %d resolved\n",
		status.Alerts.Total, status.Alerts.Acknowledged, status.Alerts.Resolved)
	fmt.Printf("retention: %d segment(s) (%d compressed), %d bytes\n",
		status.Retention.Segments, status.Retention.Compressed, status.Retention.TotalBytes)
}

// runValidate prints the sweep and fails the command when the
// deployment is not usable.
func runValidate(cmd *cobra.Command, args []string) error {
	report, err := runSweep(cmd, quickSweep)
	if err != nil {
		return err
	}
	if !report.Success {
		return fmt.Errorf("validation failed: %d probe(s) failing", len(report.Failed()))
	}
	return nil
}

func runSweep(cmd *cobra.Command, quick bool) (validate.Report, error) {
	cfg, err := loadConfig()
	if err != nil {
		return validate.Report{}, err
	}
	log := newLogger(cfg, "sentinel-validate")
	defer log.Close()

	validator := validate.NewValidator(cfg.Validator, log)
	var report validate.Report
	if quick {
		report = validator.RunQuick(cmd.Context())
	} else {
		report = validator.Run(cmd.Context())
	}
	printReport(report)
	return report, nil
}

func printReport(report validate.Report) {
	colors := isatty.IsTerminal(os.Stdout.Fd())
	for _, res := range report.Results {
		mark := "PASS"
		style := passStyle
		if !res.Success {
			mark = "FAIL"
			style = failStyle
		}
		if colors {
			mark = style.Render(mark)
		}
		line := fmt.Sprintf("%s  %-20s %-8s %8.1fms", mark, res.Name, res.Kind,
			float64(res.Latency.Microseconds())/1000)
		if res.Error != "" {
			line += "  " + res.Error
		} else if res.Detail != "" {
			detail := res.Detail
			if colors {
				detail = dimStyle.Render(detail)
			}
			line += "  " + detail
		}
		fmt.Println(line)
	}
	fmt.Printf("\n%d probes in %s, success=%v\n",
		len(report.Results), report.Duration.Round(1e6), report.Success)
}
