// Copyright (C) 2025 Quantfleet Systems (ops@quantfleet.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package alerting evaluates threshold rules against metric snapshots
// and fans resulting alerts out to notification channels.
package alerting

import (
	"fmt"
	"time"

	"github.com/quantfleet/sentinel/cmd/sentinel/internal/config"
)

// Severity orders alerts by urgency.
type Severity string

const (
	SeverityInfo      Severity = "info"
	SeverityWarning   Severity = "warning"
	SeverityCritical  Severity = "critical"
	SeverityEmergency Severity = "emergency"
)

// ParseSeverity maps a config string to a Severity.
func ParseSeverity(s string) (Severity, error) {
	switch Severity(s) {
	case SeverityInfo, SeverityWarning, SeverityCritical, SeverityEmergency:
		return Severity(s), nil
	default:
		return "", fmt.Errorf("unknown severity %q", s)
	}
}

// Rank returns the ordering position of the severity, info lowest.
func (s Severity) Rank() int {
	switch s {
	case SeverityInfo:
		return 0
	case SeverityWarning:
		return 1
	case SeverityCritical:
		return 2
	case SeverityEmergency:
		return 3
	default:
		return -1
	}
}

// Rule is a compiled threshold rule. Compiled once at config load;
// the engine borrows it read-only afterwards.
type Rule struct {
	Name     string
	Category string
	Severity Severity

	// Expression is the human-readable label ("cpu.usage > 80"); the
	// compiled Field/Op/Threshold are what the engine evaluates.
	Expression string
	Field      FieldSelector
	Op         Operator
	Threshold  float64

	// Duration is how long the predicate must hold before an alert is
	// emitted. Zero fires immediately.
	Duration time.Duration

	// Cooldown suppresses re-fires after an emission.
	Cooldown time.Duration

	Channels []string
	Enabled  bool
}

// CompileRule turns a config rule into an evaluable one, rejecting
// unparsable expressions and unknown severities. Errors here are
// fatal at startup.
func CompileRule(cfg config.ThresholdRule) (Rule, error) {
	sev, err := ParseSeverity(cfg.Severity)
	if err != nil {
		return Rule{}, fmt.Errorf("rule %q: %w", cfg.Name, err)
	}
	field, op, threshold, err := ParseExpression(cfg.Condition)
	if err != nil {
		return Rule{}, fmt.Errorf("rule %q: %w", cfg.Name, err)
	}
	return Rule{
		Name:       cfg.Name,
		Category:   cfg.Category,
		Severity:   sev,
		Expression: cfg.Condition,
		Field:      field,
		Op:         op,
		Threshold:  threshold,
		Duration:   cfg.Duration(),
		Cooldown:   cfg.Cooldown(),
		Channels:   cfg.Channels,
		Enabled:    cfg.Enabled,
	}, nil
}

// CompileRules compiles every configured rule.
func CompileRules(cfgs []config.ThresholdRule) ([]Rule, error) {
	rules := make([]Rule, 0, len(cfgs))
	for _, cfg := range cfgs {
		rule, err := CompileRule(cfg)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

// Payload is the subset of the triggering snapshot an alert carries.
type Payload struct {
	CPUPercent      float64 `json:"cpu_percent"`
	MemoryUsagePct  float64 `json:"memory_usage_pct"`
	DiskUsagePct    float64 `json:"disk_usage_pct"`
	DrawdownCurrent float64 `json:"drawdown_current"`
	PnLDaily        float64 `json:"pnl_daily"`
}

// Alert is one emitted notification. Terminal once resolved.
type Alert struct {
	ID           string     `json:"id"`
	RuleName     string     `json:"rule_name,omitempty"`
	Severity     Severity   `json:"severity"`
	Category     string     `json:"category"`
	Title        string     `json:"title"`
	Message      string     `json:"message"`
	Payload      *Payload   `json:"payload,omitempty"`
	Channels     []string   `json:"channels"`
	CreatedAt    time.Time  `json:"created_at"`
	Acknowledged bool       `json:"acknowledged"`
	ResolvedAt   *time.Time `json:"resolved_at,omitempty"`
}

// thresholdState is the per-rule transient firing state. Opened when
// the predicate first turns true, destroyed when it turns false.
type thresholdState struct {
	firstTriggered time.Time
	triggerCount   int
}

// Stats aggregates alert counters for the status surface.
type Stats struct {
	Total        int            `json:"total"`
	Acknowledged int            `json:"acknowledged"`
	Resolved     int            `json:"resolved"`
	BySeverity   map[string]int `json:"by_severity"`
	ByCategory   map[string]int `json:"by_category"`
}
