// Copyright (C) 2025 Quantfleet Systems (ops@quantfleet.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/quantfleet/sentinel/cmd/sentinel/internal/alerting"
	"github.com/quantfleet/sentinel/cmd/sentinel/internal/config"
	"github.com/quantfleet/sentinel/cmd/sentinel/internal/failover"
	"github.com/quantfleet/sentinel/cmd/sentinel/internal/metrics"
	"github.com/quantfleet/sentinel/cmd/sentinel/internal/recovery"
	"github.com/quantfleet/sentinel/cmd/sentinel/internal/retention"
	"github.com/quantfleet/sentinel/cmd/sentinel/internal/standby"
	"github.com/quantfleet/sentinel/cmd/sentinel/internal/validate"
	"github.com/quantfleet/sentinel/pkg/logging"
)

// probeInterval is how often the quick validation sweep feeds the
// component health tracker while the daemon runs.
const probeInterval = 30 * time.Second

// OverallHealth is the rolled-up platform verdict.
type OverallHealth string

const (
	HealthHealthy  OverallHealth = "healthy"
	HealthWarning  OverallHealth = "warning"
	HealthCritical OverallHealth = "critical"
)

// Status is the full status surface served by /statusz and `status`.
type Status struct {
	Overall    OverallHealth                      `json:"overall"`
	Components map[string]standby.ComponentHealth `json:"components"`
	Alerts     alerting.Stats                     `json:"alerts"`
	Retention  retention.Stats                    `json:"retention"`
	Recovering bool                               `json:"recovering"`
	Uptime     time.Duration                      `json:"uptime_ns"`
}

// Orchestrator owns every engine and the wiring between them: sampler
// snapshots flow into the retention store and the alert engine, quick
// validation sweeps feed the health tracker, the failover engine
// watches the tracker, and failover escalation kicks off recovery.
type Orchestrator struct {
	cfg *config.Config
	log *logging.Logger

	sampler   *metrics.Sampler
	store     *retention.Store
	tracker   *standby.Tracker
	validator *validate.Validator
	failover  *failover.Engine
	recovery  *recovery.Engine
	ops       *opsServer

	mu        sync.Mutex
	alerts    *alerting.Engine
	lastSnap  metrics.Snapshot
	startedAt time.Time

	stop chan struct{}
	done chan struct{}
}

// NewOrchestrator builds and wires every engine. Any semantic
// misconfiguration (bad rule expression, recovery cycle, custom
// failover condition) surfaces here.
func NewOrchestrator(cfg *config.Config, log *logging.Logger) (*Orchestrator, error) {
	o := &Orchestrator{cfg: cfg, log: log}

	var domain metrics.DomainSource
	if cfg.Sampler.EnableDomainMetrics && cfg.Sampler.DomainEndpoint != "" {
		domain = metrics.NewHTTPDomainSource(cfg.Sampler.DomainEndpoint)
	}
	o.sampler = metrics.NewSampler(cfg.Sampler, metrics.NewHostCollector("/"), domain, log)

	store, err := retention.NewStore(cfg.Retention, log)
	if err != nil {
		return nil, err
	}
	o.store = store

	alerts, err := alerting.NewEngine(cfg.Alerts, log)
	if err != nil {
		return nil, err
	}
	o.alerts = alerts

	o.tracker = standby.NewTracker()
	o.validator = validate.NewValidator(cfg.Validator, log)

	rec, err := recovery.NewEngine(cfg.Recovery, nil,
		&engineNotifier{o: o, channels: cfg.Recovery.Notifications.Channels}, log)
	if err != nil {
		return nil, err
	}
	rec.SetPerfMetricSource(o.perfMetric)
	o.recovery = rec

	hooks := &failover.Hooks{
		FailoverComponent: o.failoverComponent,
		Notify: func(severity, category, title, message string) {
			o.manualAlert(severity, category, title, message, nil)
		},
	}
	fo, err := failover.NewEngine(cfg.Failover, o.tracker,
		&engineNotifier{o: o}, failover.NewActionSet(hooks, log), log)
	if err != nil {
		return nil, err
	}
	o.failover = fo

	if cfg.Ops.HTTPPort > 0 {
		o.ops = newOpsServer(cfg.Ops.HTTPPort, o, log)
	}

	o.wire()
	return o, nil
}

// wire connects the engine topics.
func (o *Orchestrator) wire() {
	o.sampler.Snapshots().Subscribe(func(snap metrics.Snapshot) {
		o.mu.Lock()
		o.lastSnap = snap
		alerts := o.alerts
		o.mu.Unlock()

		if err := o.store.Append(snap); err != nil {
			o.log.Error("snapshot append failed", "error", err)
		}
		alerts.EvaluateSnapshot(snap)
	})

	o.store.Compressions().Subscribe(func(ev retention.CompressedEvent) {
		o.log.Info("segment compressed", "date", ev.Date,
			"original_bytes", ev.OriginalBytes, "packed_bytes", ev.PackedBytes)
	})

	o.failover.Executions().Subscribe(func(ex failover.Execution) {
		if !ex.Success {
			o.manualAlert("critical", "failover",
				"failover execution failed", fmt.Sprintf("rule %s execution %s failed", ex.RuleID, ex.ID), nil)
		}
	})
}

// Start brings the daemon up: sampler, store maintenance, failover
// evaluation, the health probe loop, and the ops endpoint.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.startedAt = time.Now()
	if err := o.sampler.Start(); err != nil {
		return err
	}
	if err := o.store.Start(); err != nil {
		return err
	}
	if err := o.failover.Start(); err != nil {
		return err
	}
	if o.ops != nil {
		if err := o.ops.Start(); err != nil {
			return err
		}
	}

	o.stop = make(chan struct{})
	o.done = make(chan struct{})
	go o.probeLoop()

	o.log.Info("sentinel started",
		"sampler_interval", o.cfg.Sampler.Interval(),
		"rules", len(o.cfg.Alerts.Rules),
		"failover_rules", len(o.cfg.Failover.Rules),
		"recovery_components", len(o.cfg.Recovery.Components))
	return nil
}

// Stop shuts everything down, waiting for in-flight alert deliveries.
func (o *Orchestrator) Stop() {
	close(o.stop)
	<-o.done
	o.failover.Stop()
	o.store.Stop()
	o.sampler.Stop()
	if o.ops != nil {
		o.ops.Stop()
	}
	o.Alerts().WaitDispatches()
	o.log.Info("sentinel stopped")
}

// probeLoop periodically feeds quick validation results into the
// component health tracker.
func (o *Orchestrator) probeLoop() {
	defer close(o.done)
	ticker := time.NewTicker(probeInterval)
	defer ticker.Stop()
	for {
		o.probeOnce()
		select {
		case <-o.stop:
			return
		case <-ticker.C:
		}
	}
}

func (o *Orchestrator) probeOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.Validator.OverallTimeout())
	defer cancel()
	report := o.validator.RunQuick(ctx)
	for _, res := range report.Results {
		o.tracker.Report(res.Name, res.Success, res.Latency)
	}
}

// Alerts returns the current alert engine; the pointer is swapped on
// config reload.
func (o *Orchestrator) Alerts() *alerting.Engine {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.alerts
}

// ApplyConfig hot-applies the reloadable sections (alert rules and
// channels, validator probes). The sampler, retention, failover, and
// recovery sections need a restart and are logged as such when they
// changed.
func (o *Orchestrator) ApplyConfig(cfg *config.Config) {
	alerts, err := alerting.NewEngine(cfg.Alerts, o.log)
	if err != nil {
		o.log.Error("config reload rejected", "error", err)
		return
	}

	o.mu.Lock()
	o.alerts = alerts
	o.mu.Unlock()
	o.validator = validate.NewValidator(cfg.Validator, o.log)
	o.log.Info("configuration reloaded", "rules", len(cfg.Alerts.Rules))
}

// Status rolls up the platform verdict.
func (o *Orchestrator) Status() Status {
	components := o.tracker.Snapshot()
	alertStats := o.Alerts().Stats()
	retStats, err := o.store.Stats()
	if err != nil {
		o.log.Warn("retention stats unavailable", "error", err)
	}

	overall := HealthHealthy
	for _, h := range components {
		switch h.Status {
		case standby.StatusUnhealthy:
			overall = HealthCritical
		case standby.StatusDegraded:
			if overall == HealthHealthy {
				overall = HealthWarning
			}
		}
	}
	for _, a := range o.Alerts().Active() {
		switch a.Severity {
		case alerting.SeverityCritical, alerting.SeverityEmergency:
			overall = HealthCritical
		case alerting.SeverityWarning:
			if overall == HealthHealthy {
				overall = HealthWarning
			}
		}
	}

	return Status{
		Overall:    overall,
		Components: components,
		Alerts:     alertStats,
		Retention:  retStats,
		Recovering: o.recovery.Active(),
		Uptime:     time.Since(o.startedAt),
	}
}

// RunRecovery executes the recovery plan, narrowed to the named
// components (plus their dependencies) when any are given.
func (o *Orchestrator) RunRecovery(ctx context.Context, components ...string) (recovery.Record, error) {
	return o.recovery.Recover(ctx, components...)
}

// failoverComponent is the failover-component action hook: raise an
// emergency alert and kick off recovery in the background. When the
// target matches a recovery component, only it and its dependencies
// are recovered; otherwise the full plan runs. A recovery already in
// progress is left alone.
func (o *Orchestrator) failoverComponent(ctx context.Context, target string, params map[string]string) error {
	o.manualAlert("emergency", "failover",
		fmt.Sprintf("failing over %s", target),
		fmt.Sprintf("promoting standby for component %s", target), nil)

	var subset []string
	if o.recovery.HasComponent(target) {
		subset = []string{target}
	}
	go func() {
		if _, err := o.recovery.Recover(context.Background(), subset...); err != nil &&
			err != recovery.ErrRecoveryActive {
			o.log.Error("recovery after failover failed to start", "error", err)
		}
	}()
	return nil
}

func (o *Orchestrator) manualAlert(severity, category, title, message string, channels []string) {
	sev, err := alerting.ParseSeverity(severity)
	if err != nil {
		sev = alerting.SeverityWarning
	}
	if channels == nil {
		channels = enabledChannels(o.cfg.Alerts.Channels)
	}
	o.Alerts().CreateManual(sev, category, title, message, channels)
}

// perfMetric answers recovery performance validations from the latest
// snapshot, using the same field selectors alert rules use.
func (o *Orchestrator) perfMetric(name string) (float64, bool) {
	o.mu.Lock()
	snap := o.lastSnap
	o.mu.Unlock()
	if snap.Timestamp == 0 {
		return 0, false
	}
	field, _, _, err := alerting.ParseExpression(name + " > 0")
	if err != nil {
		return 0, false
	}
	return alerting.ResolveField(snap, field)
}

// engineNotifier adapts engine notifications onto manual alerts.
type engineNotifier struct {
	o        *Orchestrator
	channels []string
}

func (n *engineNotifier) Notify(severity, category, title, message string) {
	n.o.manualAlert(severity, category, title, message, n.channels)
}

func enabledChannels(cfg config.ChannelsConfig) []string {
	var out []string
	if cfg.Console.Enabled {
		out = append(out, "console")
	}
	if cfg.Email.Enabled {
		out = append(out, "email")
	}
	if cfg.Webhook.Enabled {
		out = append(out, "webhook")
	}
	if cfg.Chat.Enabled {
		out = append(out, "chat")
	}
	return out
}
