// Copyright (C) 2025 Quantfleet Systems (ops@quantfleet.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package alerting

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/quantfleet/sentinel/cmd/sentinel/internal/bus"
	"github.com/quantfleet/sentinel/cmd/sentinel/internal/config"
	"github.com/quantfleet/sentinel/cmd/sentinel/internal/metrics"
	"github.com/quantfleet/sentinel/pkg/logging"
)

const dispatchTimeout = 30 * time.Second

var (
	alertsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_alerts_emitted_total",
		Help: "Alerts emitted, by severity.",
	}, []string{"severity"})

	alertsSuppressed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_alerts_suppressed_total",
		Help: "Rule firings suppressed before emission, by gate.",
	}, []string{"gate"})

	channelSendErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_channel_send_errors_total",
		Help: "Failed channel deliveries, by channel.",
	}, []string{"channel"})
)

// Engine evaluates compiled threshold rules against incoming metric
// snapshots and dispatches emitted alerts to notification channels.
//
// # Description
// A rule passes four gates, in order, before an alert is emitted:
// predicate, minimum duration, per-rule cooldown, and the per-rule
// hourly rate limit. Failing any gate stops evaluation of that rule
// for the snapshot; firing state survives across snapshots so the
// duration gate can measure how long a predicate has held.
//
// # Thread Safety
// All methods are safe for concurrent use. Rule state transitions are
// serialized under one mutex; channel fan-out happens outside it on
// dedicated goroutines and is not awaited by EvaluateSnapshot.
type Engine struct {
	cfg      config.AlertsConfig
	rules    []Rule
	channels map[string]Channel
	log      *logging.Logger
	topic    *bus.Topic[Alert]

	now func() time.Time

	mu       sync.Mutex
	states   map[string]*thresholdState
	lastEmit map[string]time.Time
	// buckets counts emissions per rule per wall-clock hour; the
	// trailing-hour admission check sums the current and previous
	// buckets so no one-hour window ever exceeds the cap.
	buckets map[string]map[int64]int
	history []Alert

	dispatches sync.WaitGroup
}

// NewEngine compiles the configured rules and builds the channel set.
// Any unparsable rule condition or unknown severity is returned as an
// error so misconfiguration is fatal at startup.
func NewEngine(cfg config.AlertsConfig, log *logging.Logger) (*Engine, error) {
	rules, err := CompileRules(cfg.Rules)
	if err != nil {
		return nil, err
	}
	e := &Engine{
		cfg:      cfg,
		rules:    rules,
		channels: BuildChannels(cfg.Channels),
		log:      log,
		topic:    bus.NewTopic[Alert](nil),
		now:      time.Now,
		states:   make(map[string]*thresholdState),
		lastEmit: make(map[string]time.Time),
		buckets:  make(map[string]map[int64]int),
	}
	return e, nil
}

// Alerts is the topic every emitted alert is published on.
func (e *Engine) Alerts() *bus.Topic[Alert] { return e.topic }

// Rules returns the compiled rule set.
func (e *Engine) Rules() []Rule { return e.rules }

// EvaluateSnapshot runs every enabled rule against one snapshot and
// returns the alerts it emitted. Dispatch to channels is started but
// not awaited.
func (e *Engine) EvaluateSnapshot(snap metrics.Snapshot) []Alert {
	if !e.cfg.Enabled {
		return nil
	}

	e.mu.Lock()
	now := e.now()
	var emitted []Alert
	for i := range e.rules {
		rule := &e.rules[i]
		if !rule.Enabled {
			continue
		}
		if alert, ok := e.evaluateRule(rule, snap, now); ok {
			emitted = append(emitted, alert)
		}
	}
	e.mu.Unlock()

	for _, alert := range emitted {
		e.topic.Publish(alert)
		e.dispatch(alert)
	}
	return emitted
}

// evaluateRule applies the four gates. Caller holds e.mu.
func (e *Engine) evaluateRule(rule *Rule, snap metrics.Snapshot, now time.Time) (Alert, bool) {
	value, ok := ResolveField(snap, rule.Field)
	if !ok || !rule.Op.Apply(value, rule.Threshold) {
		// Predicate false: firing state is destroyed so the duration
		// clock restarts on the next breach.
		delete(e.states, rule.Name)
		return Alert{}, false
	}

	state := e.states[rule.Name]
	if state == nil {
		state = &thresholdState{firstTriggered: now}
		e.states[rule.Name] = state
	}
	state.triggerCount++

	if now.Sub(state.firstTriggered) < rule.Duration {
		alertsSuppressed.WithLabelValues("duration").Inc()
		return Alert{}, false
	}
	if last, ok := e.lastEmit[rule.Name]; ok && now.Sub(last) < rule.Cooldown {
		alertsSuppressed.WithLabelValues("cooldown").Inc()
		return Alert{}, false
	}
	if !e.admitHourly(rule.Name, now) {
		alertsSuppressed.WithLabelValues("rate_limit").Inc()
		return Alert{}, false
	}

	alert := Alert{
		ID:       fmt.Sprintf("%s-%d", rule.Name, now.UnixMilli()),
		RuleName: rule.Name,
		Severity: rule.Severity,
		Category: rule.Category,
		Title:    rule.Name,
		Message: fmt.Sprintf("%s: value %.2f breached %s %.2f",
			rule.Expression, value, rule.Op, rule.Threshold),
		Payload:   BuildPayload(snap),
		Channels:  rule.Channels,
		CreatedAt: now,
	}
	e.recordEmission(rule.Name, alert, now)
	return alert, true
}

// admitHourly checks the per-rule hourly cap. Caller holds e.mu.
func (e *Engine) admitHourly(ruleName string, now time.Time) bool {
	hour := now.Unix() / 3600
	counts := e.buckets[ruleName]
	if counts == nil {
		counts = make(map[int64]int)
		e.buckets[ruleName] = counts
	}
	for h := range counts {
		if h < hour-1 {
			delete(counts, h)
		}
	}
	return counts[hour]+counts[hour-1] < e.cfg.MaxAlertsPerHour
}

// recordEmission updates cooldown, rate, and history bookkeeping.
// Caller holds e.mu.
func (e *Engine) recordEmission(ruleName string, alert Alert, now time.Time) {
	e.lastEmit[ruleName] = now
	e.buckets[ruleName][now.Unix()/3600]++
	e.history = append(e.history, alert)
	alertsEmitted.WithLabelValues(string(alert.Severity)).Inc()
}

// dispatch fans one alert out to its targeted channels. Disabled or
// unknown channels are skipped; failures are logged and counted, never
// propagated.
func (e *Engine) dispatch(alert Alert) {
	for _, name := range alert.Channels {
		ch, ok := e.channels[name]
		if !ok || !ch.Enabled() {
			continue
		}
		e.dispatches.Add(1)
		go func(ch Channel) {
			defer e.dispatches.Done()
			ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
			defer cancel()
			if err := ch.Send(ctx, alert); err != nil {
				channelSendErrors.WithLabelValues(ch.Name()).Inc()
				e.log.Error("alert delivery failed",
					"channel", ch.Name(), "alert_id", alert.ID, "error", err)
			}
		}(ch)
	}
}

// WaitDispatches blocks until all in-flight channel deliveries finish.
// Used at shutdown so a final alert is not dropped mid-send.
func (e *Engine) WaitDispatches() { e.dispatches.Wait() }

// CreateManual emits an operator-initiated alert, bypassing the rule
// gates but using the same dispatch path.
func (e *Engine) CreateManual(severity Severity, category, title, message string, channels []string) Alert {
	e.mu.Lock()
	now := e.now()
	alert := Alert{
		ID:        "manual-" + uuid.NewString(),
		Severity:  severity,
		Category:  category,
		Title:     title,
		Message:   message,
		Channels:  channels,
		CreatedAt: now,
	}
	e.history = append(e.history, alert)
	alertsEmitted.WithLabelValues(string(severity)).Inc()
	e.mu.Unlock()

	e.topic.Publish(alert)
	e.dispatch(alert)
	return alert
}

// Acknowledge marks an alert as seen. Idempotent: acknowledging an
// already-acknowledged alert succeeds without effect.
func (e *Engine) Acknowledge(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range e.history {
		if e.history[i].ID == id {
			e.history[i].Acknowledged = true
			return nil
		}
	}
	return fmt.Errorf("alert %q not found", id)
}

// Resolve marks an alert resolved. Resolution is terminal; resolving
// twice keeps the first resolution time.
func (e *Engine) Resolve(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range e.history {
		if e.history[i].ID == id {
			if e.history[i].ResolvedAt == nil {
				now := e.now()
				e.history[i].ResolvedAt = &now
			}
			return nil
		}
	}
	return fmt.Errorf("alert %q not found", id)
}

// Active returns unresolved alerts, newest last.
func (e *Engine) Active() []Alert {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []Alert
	for _, a := range e.history {
		if a.ResolvedAt == nil {
			out = append(out, a)
		}
	}
	return out
}

// History returns a copy of the full alert history.
func (e *Engine) History() []Alert {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Alert, len(e.history))
	copy(out, e.history)
	return out
}

// Stats aggregates counters over the retained history.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	stats := Stats{
		BySeverity: make(map[string]int),
		ByCategory: make(map[string]int),
	}
	for _, a := range e.history {
		stats.Total++
		if a.Acknowledged {
			stats.Acknowledged++
		}
		if a.ResolvedAt != nil {
			stats.Resolved++
		}
		stats.BySeverity[string(a.Severity)]++
		if a.Category != "" {
			stats.ByCategory[a.Category]++
		}
	}
	return stats
}

// Cleanup evicts history entries older than the retention horizon and
// returns how many were dropped.
func (e *Engine) Cleanup() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	horizon := e.now().AddDate(0, 0, -e.cfg.AlertRetentionDays)
	kept := e.history[:0]
	dropped := 0
	for _, a := range e.history {
		if a.CreatedAt.Before(horizon) {
			dropped++
			continue
		}
		kept = append(kept, a)
	}
	e.history = kept
	return dropped
}

// TestChannels sends a synthetic info alert through every enabled
// channel and reports per-channel success. Disabled channels are
// reported as false without an attempt.
func (e *Engine) TestChannels(ctx context.Context) map[string]bool {
	alert := Alert{
		ID:        "test-" + uuid.NewString(),
		Severity:  SeverityInfo,
		Category:  "test",
		Title:     "Channel test",
		Message:   "This is a test notification from sentinel.",
		CreatedAt: e.now(),
	}

	results := make(map[string]bool, len(e.channels))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for name, ch := range e.channels {
		if !ch.Enabled() {
			mu.Lock()
			results[name] = false
			mu.Unlock()
			continue
		}
		wg.Add(1)
		go func(name string, ch Channel) {
			defer wg.Done()
			err := ch.Send(ctx, alert)
			mu.Lock()
			results[name] = err == nil
			mu.Unlock()
			if err != nil {
				e.log.Warn("channel test failed", "channel", name, "error", err)
			}
		}(name, ch)
	}
	wg.Wait()
	return results
}
