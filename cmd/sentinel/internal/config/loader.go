// Copyright (C) 2025 Quantfleet Systems (ops@quantfleet.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// DefaultConfig returns the configuration used when no file exists:
// every default named in the operations runbook, alerting disabled
// until rules are written.
func DefaultConfig() Config {
	return Config{
		Sampler: SamplerConfig{
			IntervalMS:          30_000,
			EnableHostMetrics:   true,
			EnableDomainMetrics: true,
		},
		Retention: RetentionConfig{
			StorageDir:         "data/metrics",
			RetentionDays:      30,
			CompressAfterDays:  7,
			CleanupIntervalMS:  86_400_000,
			CompressIntervalMS: 21_600_000,
			MaxBytes:           0,
		},
		Alerts: AlertsConfig{
			Enabled:            true,
			MaxAlertsPerHour:   50,
			AlertRetentionDays: 30,
			Channels: ChannelsConfig{
				Console: ConsoleChannelConfig{Enabled: true, Colors: true},
				Webhook: WebhookChannelConfig{Method: "POST", TimeoutMS: 5000, Retries: 3},
			},
		},
		Validator: ValidatorConfig{
			OverallTimeoutS: 30,
			KV:              KVProbeConfig{Host: "localhost", Port: 6379, TimeoutMS: 5000, TestPubSub: true},
		},
		Failover: FailoverConfig{
			EvaluateIntervalMS: 5000,
		},
		Recovery: RecoveryConfig{
			MaxRecoveryTimeS:   900,
			ValidationTimeoutS: 30,
			RetryAttempts:      2,
			RetryDelayS:        5,
		},
		Ops: OpsConfig{
			LogLevel: "info",
		},
	}
}

// Load reads and validates the configuration at path. A missing file
// is created with defaults first, so a fresh deployment starts with a
// self-documenting config on disk.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := WriteDefault(path); err != nil {
			return nil, err
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals a config document on top of the defaults and
// validates it.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// WriteDefault writes the default configuration to path, creating
// parent directories as needed.
func WriteDefault(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	cfg := DefaultConfig()
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Validate runs struct-tag validation plus the cross-field checks the
// tags cannot express. Engines add their own semantic validation on
// top (expression parsing, DAG acyclicity).
func Validate(cfg *Config) error {
	v := validator.New()
	if err := v.Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	if cfg.Retention.CompressAfterDays >= cfg.Retention.RetentionDays {
		return fmt.Errorf("invalid config: compress_after_days (%d) must be below retention_days (%d)",
			cfg.Retention.CompressAfterDays, cfg.Retention.RetentionDays)
	}

	seenRules := make(map[string]bool, len(cfg.Alerts.Rules))
	for _, rule := range cfg.Alerts.Rules {
		if seenRules[rule.Name] {
			return fmt.Errorf("invalid config: duplicate alert rule %q", rule.Name)
		}
		seenRules[rule.Name] = true
	}

	seenFailover := make(map[string]bool, len(cfg.Failover.Rules))
	for _, rule := range cfg.Failover.Rules {
		if seenFailover[rule.ID] {
			return fmt.Errorf("invalid config: duplicate failover rule %q", rule.ID)
		}
		seenFailover[rule.ID] = true
	}

	components := make(map[string]bool, len(cfg.Recovery.Components))
	for _, comp := range cfg.Recovery.Components {
		if components[comp.Name] {
			return fmt.Errorf("invalid config: duplicate recovery component %q", comp.Name)
		}
		components[comp.Name] = true
	}
	for _, comp := range cfg.Recovery.Components {
		for _, dep := range comp.DependsOn {
			if !components[dep] {
				return fmt.Errorf("invalid config: component %q depends on unknown component %q",
					comp.Name, dep)
			}
		}
	}

	return nil
}
