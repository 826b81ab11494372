// Copyright (C) 2025 Quantfleet Systems (ops@quantfleet.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config defines the YAML configuration surface of the
// sentinel control plane and its loader.
//
// The package is a leaf: engines import these types read-only and
// perform their own semantic validation (expression parsing,
// dependency DAG checks) in their constructors, so every
// misconfiguration is fatal at startup rather than at first use.
package config

import "time"

// Config is the top-level configuration document.
type Config struct {
	Sampler   SamplerConfig   `yaml:"sampler"`
	Retention RetentionConfig `yaml:"retention"`
	Alerts    AlertsConfig    `yaml:"alerts"`
	Validator ValidatorConfig `yaml:"validator"`
	Failover  FailoverConfig  `yaml:"failover"`
	Recovery  RecoveryConfig  `yaml:"recovery"`
	Ops       OpsConfig       `yaml:"ops"`
}

// =============================================================================
// Sampler
// =============================================================================

// SamplerConfig controls the periodic metric sampler.
type SamplerConfig struct {
	// IntervalMS is the sampling period in milliseconds. Default: 30000.
	IntervalMS int `yaml:"interval_ms" validate:"gt=0"`

	// EnableHostMetrics toggles host CPU/memory/disk/network collection.
	EnableHostMetrics bool `yaml:"enable_host_metrics"`

	// EnableDomainMetrics toggles trading-domain collection.
	EnableDomainMetrics bool `yaml:"enable_domain_metrics"`

	// DomainEndpoint is an HTTP endpoint serving the trading-domain
	// block as JSON. Empty leaves the domain block zero-valued.
	DomainEndpoint string `yaml:"domain_endpoint" validate:"omitempty,url"`
}

// Interval returns the sampling period as a duration.
func (c SamplerConfig) Interval() time.Duration {
	return time.Duration(c.IntervalMS) * time.Millisecond
}

// =============================================================================
// Retention
// =============================================================================

// RetentionConfig controls snapshot persistence and maintenance.
type RetentionConfig struct {
	// StorageDir is the segment directory; created when missing.
	StorageDir string `yaml:"storage_dir" validate:"required"`

	// RetentionDays is the eviction horizon. Default: 30.
	RetentionDays int `yaml:"retention_days" validate:"gt=0"`

	// CompressAfterDays is the compression horizon. Default: 7.
	CompressAfterDays int `yaml:"compress_after_days" validate:"gt=0"`

	// CleanupIntervalMS is the eviction timer period. Default: 86400000 (24 h).
	CleanupIntervalMS int `yaml:"cleanup_interval_ms" validate:"gt=0"`

	// CompressIntervalMS is the compression timer period. Default: 21600000 (6 h).
	CompressIntervalMS int `yaml:"compress_interval_ms" validate:"gt=0"`

	// MaxBytes caps total segment storage. 0 means unlimited.
	MaxBytes int64 `yaml:"max_bytes" validate:"gte=0"`
}

// CleanupInterval returns the eviction timer period.
func (c RetentionConfig) CleanupInterval() time.Duration {
	return time.Duration(c.CleanupIntervalMS) * time.Millisecond
}

// CompressInterval returns the compression timer period.
func (c RetentionConfig) CompressInterval() time.Duration {
	return time.Duration(c.CompressIntervalMS) * time.Millisecond
}

// =============================================================================
// Alerts
// =============================================================================

// AlertsConfig controls the threshold alert engine and its channels.
type AlertsConfig struct {
	Enabled  bool            `yaml:"enabled"`
	Rules    []ThresholdRule `yaml:"rules" validate:"dive"`
	Channels ChannelsConfig  `yaml:"channels"`

	// MaxAlertsPerHour caps per-rule emissions in a rolling hour. Default: 50.
	MaxAlertsPerHour int `yaml:"max_alerts_per_hour" validate:"gt=0"`

	// AlertRetentionDays is the in-memory alert history horizon. Default: 30.
	AlertRetentionDays int `yaml:"alert_retention_days" validate:"gt=0"`
}

// ThresholdRule is one predicate-plus-gates alert definition.
//
// Condition is a human-readable expression like "cpu.usage > 80"; the
// alerting engine parses it into a closed field selector, comparator,
// and threshold at startup and rejects anything it cannot parse.
type ThresholdRule struct {
	Name      string   `yaml:"name" validate:"required"`
	Category  string   `yaml:"category"`
	Severity  string   `yaml:"severity" validate:"oneof=info warning critical emergency"`
	Condition string   `yaml:"condition" validate:"required"`
	DurationS int      `yaml:"duration_s" validate:"gte=0"`
	CooldownS int      `yaml:"cooldown_s" validate:"gte=0"`
	Channels  []string `yaml:"channels" validate:"dive,oneof=console email webhook chat"`
	Enabled   bool     `yaml:"enabled"`
}

// Duration returns the minimum firing duration gate.
func (r ThresholdRule) Duration() time.Duration {
	return time.Duration(r.DurationS) * time.Second
}

// Cooldown returns the re-fire suppression window.
func (r ThresholdRule) Cooldown() time.Duration {
	return time.Duration(r.CooldownS) * time.Second
}

// ChannelsConfig holds per-channel settings for the closed channel set.
type ChannelsConfig struct {
	Console ConsoleChannelConfig `yaml:"console"`
	Email   EmailChannelConfig   `yaml:"email"`
	Webhook WebhookChannelConfig `yaml:"webhook"`
	Chat    ChatChannelConfig    `yaml:"chat"`
}

// ConsoleChannelConfig configures the stderr console channel.
type ConsoleChannelConfig struct {
	Enabled bool `yaml:"enabled"`

	// Colors enables severity coloring. Colors are suppressed anyway
	// when stderr is not a terminal.
	Colors bool `yaml:"colors"`
}

// EmailChannelConfig configures SMTP delivery.
type EmailChannelConfig struct {
	Enabled bool       `yaml:"enabled"`
	SMTP    SMTPConfig `yaml:"smtp"`
	From    string     `yaml:"from"`
	To      []string   `yaml:"to"`
	Subject string     `yaml:"subject"`
}

// SMTPConfig is the SMTP server block of the email channel.
type SMTPConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	TLS  bool   `yaml:"tls"`
	User string `yaml:"user"`
	Pass string `yaml:"pass"`
}

// WebhookChannelConfig configures the HTTP webhook channel.
type WebhookChannelConfig struct {
	Enabled   bool              `yaml:"enabled"`
	URL       string            `yaml:"url"`
	Method    string            `yaml:"method" validate:"omitempty,oneof=POST PUT"`
	Headers   map[string]string `yaml:"headers"`
	TimeoutMS int               `yaml:"timeout_ms" validate:"gte=0"`

	// Retries is the number of re-attempts after the first failure.
	Retries int `yaml:"retries" validate:"gte=0"`
}

// Timeout returns the per-request webhook timeout.
func (c WebhookChannelConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

// ChatChannelConfig configures a chat-webhook channel (Slack shape).
type ChatChannelConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"`
	Channel    string `yaml:"channel"`
	Username   string `yaml:"username"`
	Icon       string `yaml:"icon"`
}

// =============================================================================
// Validator
// =============================================================================

// ValidatorConfig declares the deployment validation probe set.
type ValidatorConfig struct {
	Services []ServiceProbeConfig `yaml:"services" validate:"dive"`
	KV       KVProbeConfig        `yaml:"kv"`
	Streams  []StreamProbeConfig  `yaml:"streams" validate:"dive"`

	// OverallTimeoutS bounds a whole validation run. Default: 30.
	OverallTimeoutS int `yaml:"overall_timeout_s" validate:"gt=0"`
}

// OverallTimeout returns the whole-run deadline.
func (c ValidatorConfig) OverallTimeout() time.Duration {
	return time.Duration(c.OverallTimeoutS) * time.Second
}

// ServiceProbeConfig is one HTTP or TCP service probe.
type ServiceProbeConfig struct {
	Name      string `yaml:"name" validate:"required"`
	Type      string `yaml:"type" validate:"oneof=http tcp"`
	URL       string `yaml:"url" validate:"required"`
	TimeoutMS int    `yaml:"timeout_ms" validate:"gte=0"`

	// Critical marks the probe as part of the quick-mode subset and
	// makes its failure fail the overall report.
	Critical bool `yaml:"critical"`
}

// Timeout returns the per-probe timeout.
func (c ServiceProbeConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

// KVProbeConfig is the key-value store probe.
type KVProbeConfig struct {
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	Password  string `yaml:"password"`
	TimeoutMS int    `yaml:"timeout_ms" validate:"gte=0"`

	// TestPubSub enables the publish/subscribe round-trip check.
	TestPubSub bool `yaml:"test_pubsub"`
}

// Timeout returns the KV probe timeout.
func (c KVProbeConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

// StreamProbeConfig is one streaming-endpoint probe.
type StreamProbeConfig struct {
	Name string `yaml:"name" validate:"required"`
	URL  string `yaml:"url" validate:"required"`

	// ProbeMessage is sent after connecting, when non-empty.
	ProbeMessage string `yaml:"probe_message"`

	// ExpectSubstring, when non-empty, must appear in an inbound frame
	// for the probe to pass. Empty accepts any first frame.
	ExpectSubstring string `yaml:"expect_substring"`

	TimeoutMS int  `yaml:"timeout_ms" validate:"gte=0"`
	Critical  bool `yaml:"critical"`
}

// Timeout returns the per-stream timeout.
func (c StreamProbeConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

// =============================================================================
// Failover
// =============================================================================

// FailoverConfig declares the failover rule set.
type FailoverConfig struct {
	Rules []FailoverRule `yaml:"rules" validate:"dive"`

	// EvaluateIntervalMS is the periodic evaluation cadence. Default: 5000.
	EvaluateIntervalMS int `yaml:"evaluate_interval_ms" validate:"gt=0"`
}

// EvaluateInterval returns the evaluation cadence.
func (c FailoverConfig) EvaluateInterval() time.Duration {
	return time.Duration(c.EvaluateIntervalMS) * time.Millisecond
}

// FailoverRule is one conditions-plus-actions automation rule.
type FailoverRule struct {
	ID         string              `yaml:"id" validate:"required"`
	Enabled    bool                `yaml:"enabled"`
	Conditions []FailoverCondition `yaml:"conditions" validate:"min=1,dive"`
	Actions    []FailoverAction    `yaml:"actions" validate:"min=1,dive"`
	Priority   int                 `yaml:"priority" validate:"gte=1,lte=10"`
	CooldownS  int                 `yaml:"cooldown_s" validate:"gte=0"`
}

// Cooldown returns the minimum interval between executions.
func (r FailoverRule) Cooldown() time.Duration {
	return time.Duration(r.CooldownS) * time.Second
}

// FailoverCondition is one boolean observation over component health.
//
// The "custom" condition type is rejected by the failover engine at
// startup: the upstream implementation made it trivially true, which
// is worse than refusing it outright.
type FailoverCondition struct {
	Type      string `yaml:"type" validate:"oneof=health-check response-time error-rate sync-lag custom"`
	Component string `yaml:"component"`
	Operator  string `yaml:"operator" validate:"oneof=equals not-equals greater-than less-than contains"`
	Expected  string `yaml:"expected" validate:"required"`

	// DurationS requires every evaluation in the trailing window to be
	// true before the condition counts. 0 means instantaneous.
	DurationS int `yaml:"duration_s" validate:"gte=0"`
}

// Duration returns the required persistence window.
func (c FailoverCondition) Duration() time.Duration {
	return time.Duration(c.DurationS) * time.Second
}

// FailoverAction is one imperative effect of a firing rule.
type FailoverAction struct {
	Type       string            `yaml:"type" validate:"oneof=failover-component notify execute-script update-config"`
	Target     string            `yaml:"target"`
	Parameters map[string]string `yaml:"parameters"`
	TimeoutS   int               `yaml:"timeout_s" validate:"gte=0"`
}

// Timeout returns the action timeout, zero when unset.
func (a FailoverAction) Timeout() time.Duration {
	return time.Duration(a.TimeoutS) * time.Second
}

// =============================================================================
// Recovery
// =============================================================================

// RecoveryConfig declares the disaster-recovery component graph.
type RecoveryConfig struct {
	Components []RecoveryComponent `yaml:"components" validate:"dive"`

	// MaxRecoveryTimeS bounds a whole recovery. Must be >= 60.
	MaxRecoveryTimeS int `yaml:"max_recovery_time_s" validate:"gte=60"`

	// ValidationTimeoutS bounds each validation step. Default: 30.
	ValidationTimeoutS int `yaml:"validation_timeout_s" validate:"gt=0"`

	// RetryAttempts is the extra attempts for retryable steps.
	RetryAttempts int `yaml:"retry_attempts" validate:"gte=0"`

	// RetryDelayS is the pause between step retries.
	RetryDelayS int `yaml:"retry_delay_s" validate:"gte=0"`

	Validation    SystemValidationConfig `yaml:"validation"`
	Notifications RecoveryNotifications  `yaml:"notifications"`
}

// MaxRecoveryTime returns the whole-recovery deadline.
func (c RecoveryConfig) MaxRecoveryTime() time.Duration {
	return time.Duration(c.MaxRecoveryTimeS) * time.Second
}

// ValidationTimeout returns the per-validation-step timeout.
func (c RecoveryConfig) ValidationTimeout() time.Duration {
	return time.Duration(c.ValidationTimeoutS) * time.Second
}

// RetryDelay returns the pause between step retries.
func (c RecoveryConfig) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelayS) * time.Second
}

// RecoveryComponent is a named unit of infrastructure recovered as a
// group. Dependencies must form a DAG; the recovery engine rejects
// cycles at startup.
type RecoveryComponent struct {
	Name      string           `yaml:"name" validate:"required"`
	Priority  int              `yaml:"priority"`
	DependsOn []string         `yaml:"depends_on"`
	Steps     []RecoveryStep   `yaml:"steps" validate:"min=1,dive"`
	Validate  []ValidationStep `yaml:"validate" validate:"dive"`
	Rollback  []RecoveryStep   `yaml:"rollback" validate:"dive"`
}

// RecoveryStep is one timeout-bounded external command.
type RecoveryStep struct {
	ID          string            `yaml:"id" validate:"required"`
	Description string            `yaml:"description"`
	Command     string            `yaml:"command" validate:"required"`
	TimeoutS    int               `yaml:"timeout_s" validate:"gte=0"`
	Critical    bool              `yaml:"critical"`
	Retryable   bool              `yaml:"retryable"`
	Env         map[string]string `yaml:"env"`
}

// Timeout returns the step timeout, zero when unset.
func (s RecoveryStep) Timeout() time.Duration {
	return time.Duration(s.TimeoutS) * time.Second
}

// ValidationStep is one post-recovery check.
type ValidationStep struct {
	ID   string `yaml:"id" validate:"required"`
	Type string `yaml:"type" validate:"oneof=health-check connectivity data-integrity performance custom"`

	// Target is a URL for health-check/connectivity, a file path or
	// command for data-integrity, a metric name for performance, and
	// a registered validator name for custom.
	Target string `yaml:"target" validate:"required"`

	// Expected plus Comparator checks a textual result; Threshold
	// checks a numeric one. Which applies depends on Type.
	Expected   string  `yaml:"expected"`
	Comparator string  `yaml:"comparator" validate:"omitempty,oneof=equals not-equals greater-than less-than contains"`
	Threshold  float64 `yaml:"threshold"`

	TimeoutS int `yaml:"timeout_s" validate:"gte=0"`
}

// Timeout returns the validation-step timeout, zero when unset.
func (s ValidationStep) Timeout() time.Duration {
	return time.Duration(s.TimeoutS) * time.Second
}

// SystemValidationConfig is the whole-system integrity check block.
type SystemValidationConfig struct {
	// TradingChecks are HTTP endpoints of the trading system that must
	// answer with a 2xx after recovery.
	TradingChecks []string `yaml:"trading_checks"`

	// PerfThresholds maps metric names to maximum acceptable values
	// (e.g. "order_latency_ms": 250).
	PerfThresholds map[string]float64 `yaml:"perf_thresholds"`

	// DataIntegrityChecks are commands that must exit zero.
	DataIntegrityChecks []string `yaml:"data_integrity_checks"`
}

// RecoveryNotifications routes recovery events to alert channels.
type RecoveryNotifications struct {
	Channels  []string          `yaml:"channels" validate:"dive,oneof=console email webhook chat"`
	Templates map[string]string `yaml:"templates"`
}

// =============================================================================
// Ops
// =============================================================================

// OpsConfig covers logging and the optional status endpoint.
type OpsConfig struct {
	// HTTPPort serves /healthz and /statusz while `start` runs.
	// 0 disables the endpoint.
	HTTPPort int `yaml:"http_port" validate:"gte=0,lte=65535"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" validate:"omitempty,oneof=debug info warn warning error"`

	// LogDir enables JSON file logging when set.
	LogDir string `yaml:"log_dir"`
}
