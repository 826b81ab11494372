// Copyright (C) 2025 Quantfleet Systems (ops@quantfleet.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package failover evaluates automation rules over component health
// and executes their actions when confidence and priority warrant it.
package failover

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/quantfleet/sentinel/cmd/sentinel/internal/bus"
	"github.com/quantfleet/sentinel/cmd/sentinel/internal/config"
	"github.com/quantfleet/sentinel/cmd/sentinel/internal/standby"
	"github.com/quantfleet/sentinel/cmd/sentinel/internal/util"
	"github.com/quantfleet/sentinel/pkg/logging"
)

const (
	// executeConfidence and executePriority gate automatic execution:
	// both must be met or the rule only raises an alert.
	executeConfidence = 0.8
	executePriority   = 8

	// alertConfidence is the floor below which a firing rule is ignored.
	alertConfidence = 0.6

	// historyWindow is how many condition observations are kept per
	// condition for duration evaluation.
	historyWindow = 100

	// executionHistory bounds the retained execution records.
	executionHistory = 256
)

var (
	evaluationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sentinel_failover_evaluations_total",
		Help: "Rule evaluation sweeps performed.",
	})
	executionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_failover_executions_total",
		Help: "Failover executions, by outcome.",
	}, []string{"outcome"})
)

// Decision is the verdict of one rule evaluation.
type Decision string

const (
	DecisionExecute Decision = "execute"
	DecisionAlert   Decision = "alert"
	DecisionWait    Decision = "wait"
)

// ConditionResult is one condition's observation during an evaluation.
type ConditionResult struct {
	Type      string `json:"type"`
	Component string `json:"component"`
	Met       bool   `json:"met"`
	Observed  string `json:"observed"`
}

// Evaluation records one pass over a rule.
type Evaluation struct {
	RuleID     string            `json:"rule_id"`
	At         time.Time         `json:"at"`
	Confidence float64           `json:"confidence"`
	Priority   int               `json:"priority"`
	Decision   Decision          `json:"decision"`
	Conditions []ConditionResult `json:"conditions"`
}

// ActionResult is one executed action.
type ActionResult struct {
	Type     string        `json:"type"`
	Target   string        `json:"target"`
	Duration time.Duration `json:"duration_ns"`
	Error    string        `json:"error,omitempty"`
}

// Execution records one action sequence, automatic or manual.
type Execution struct {
	ID         string         `json:"id"`
	RuleID     string         `json:"rule_id"`
	Manual     bool           `json:"manual"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Actions    []ActionResult `json:"actions"`
	Success    bool           `json:"success"`
}

// Notifier receives alert-level outcomes from the engine. Wired to the
// alerting engine by the orchestrator.
type Notifier interface {
	Notify(severity, category, title, message string)
}

// observation is one timestamped condition verdict.
type observation struct {
	at  time.Time
	met bool
}

// rule is a config rule plus its per-condition observation history.
type rule struct {
	cfg     config.FailoverRule
	history []*util.Ring[observation]
}

// Engine evaluates failover rules on a timer and on component health
// change events.
//
// # Thread Safety
// All exported methods are safe for concurrent use. Rule evaluation
// and execution bookkeeping are serialized under one mutex; actions
// run outside it.
type Engine struct {
	cfg     config.FailoverConfig
	health  standby.Manager
	log     *logging.Logger
	notif   Notifier
	actions *ActionSet
	topic   *bus.Topic[Execution]

	now func() time.Time

	mu       sync.Mutex
	rules    []*rule
	lastExec map[string]time.Time
	records  *util.Ring[Execution]
	running  bool
	stop     chan struct{}
	done     chan struct{}
}

// NewEngine compiles the rule set. The "custom" condition type is
// rejected here: accepting it and evaluating it as always-true would
// arm rules on nothing.
func NewEngine(cfg config.FailoverConfig, health standby.Manager, notif Notifier, actions *ActionSet, log *logging.Logger) (*Engine, error) {
	rules := make([]*rule, 0, len(cfg.Rules))
	for _, rc := range cfg.Rules {
		for _, cond := range rc.Conditions {
			if cond.Type == "custom" {
				return nil, fmt.Errorf("rule %q: condition type %q is not supported", rc.ID, cond.Type)
			}
		}
		r := &rule{cfg: rc}
		for range rc.Conditions {
			r.history = append(r.history, util.NewRing[observation](historyWindow))
		}
		rules = append(rules, r)
	}
	if actions == nil {
		actions = NewActionSet(nil, log)
	}
	return &Engine{
		cfg:      cfg,
		health:   health,
		log:      log,
		notif:    notif,
		actions:  actions,
		topic:    bus.NewTopic[Execution](nil),
		now:      time.Now,
		rules:    rules,
		lastExec: make(map[string]time.Time),
		records:  util.NewRing[Execution](executionHistory),
	}, nil
}

// Executions is the topic every finished execution is published on.
func (e *Engine) Executions() *bus.Topic[Execution] { return e.topic }

// Start begins periodic evaluation and subscribes to health change
// events so rule reaction is not bounded by the tick interval.
func (e *Engine) Start() error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return fmt.Errorf("failover engine already running")
	}
	e.running = true
	e.stop = make(chan struct{})
	e.done = make(chan struct{})
	e.mu.Unlock()

	e.health.Events().Subscribe(func(h standby.ComponentHealth) {
		e.EvaluateAll(context.Background())
	})

	go func() {
		defer close(e.done)
		ticker := time.NewTicker(e.cfg.EvaluateInterval())
		defer ticker.Stop()
		for {
			select {
			case <-e.stop:
				return
			case <-ticker.C:
				e.EvaluateAll(context.Background())
			}
		}
	}()
	e.log.Info("failover engine started",
		"rules", len(e.rules), "interval", e.cfg.EvaluateInterval())
	return nil
}

// Stop halts the evaluation loop. Idempotent.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	close(e.stop)
	e.mu.Unlock()
	<-e.done
}

// EvaluateAll runs every enabled rule once and acts on the verdicts.
func (e *Engine) EvaluateAll(ctx context.Context) []Evaluation {
	evaluationsTotal.Inc()

	e.mu.Lock()
	now := e.now()
	var evals []Evaluation
	var toExecute []*rule
	for _, r := range e.rules {
		if !r.cfg.Enabled {
			continue
		}
		eval := e.evaluateRule(r, now)
		evals = append(evals, eval)
		switch eval.Decision {
		case DecisionExecute:
			if last, ok := e.lastExec[r.cfg.ID]; ok && now.Sub(last) < r.cfg.Cooldown() {
				e.log.Debug("failover suppressed by cooldown", "rule", r.cfg.ID)
				continue
			}
			e.lastExec[r.cfg.ID] = now
			toExecute = append(toExecute, r)
		case DecisionAlert:
			if e.notif != nil {
				e.notif.Notify("warning", "failover", "failover rule partially met",
					fmt.Sprintf("rule %s: confidence %.2f, priority %d; holding off",
						r.cfg.ID, eval.Confidence, eval.Priority))
			}
		}
	}
	e.mu.Unlock()

	for _, r := range toExecute {
		e.execute(ctx, r, false)
	}
	return evals
}

// evaluateRule observes every condition, records the observations, and
// decides. Caller holds e.mu.
func (e *Engine) evaluateRule(r *rule, now time.Time) Evaluation {
	eval := Evaluation{
		RuleID:   r.cfg.ID,
		At:       now,
		Priority: r.cfg.Priority,
	}

	met := 0
	for i, cond := range r.cfg.Conditions {
		instant, observed := e.observe(cond)
		r.history[i].Push(observation{at: now, met: instant})

		satisfied := instant
		if cond.Duration() > 0 {
			satisfied = sustained(r.history[i], now, cond.Duration())
		}
		if satisfied {
			met++
		}
		eval.Conditions = append(eval.Conditions, ConditionResult{
			Type: cond.Type, Component: cond.Component, Met: satisfied, Observed: observed,
		})
	}

	eval.Confidence = float64(met) / float64(len(r.cfg.Conditions))
	switch {
	case eval.Confidence >= executeConfidence && r.cfg.Priority >= executePriority:
		eval.Decision = DecisionExecute
	case eval.Confidence >= alertConfidence:
		eval.Decision = DecisionAlert
	default:
		eval.Decision = DecisionWait
	}
	return eval
}

// observe evaluates one condition instantaneously against current
// component health.
func (e *Engine) observe(cond config.FailoverCondition) (bool, string) {
	h, ok := e.health.Component(cond.Component)
	if !ok {
		return false, "component not tracked"
	}

	switch cond.Type {
	case "health-check":
		return compareString(cond.Operator, string(h.Status), cond.Expected), string(h.Status)
	case "response-time":
		ms := float64(h.ResponseTime.Milliseconds())
		return compareNumber(cond.Operator, ms, cond.Expected), fmt.Sprintf("%.0fms", ms)
	case "error-rate":
		return compareNumber(cond.Operator, h.ErrorRate, cond.Expected), fmt.Sprintf("%.3f", h.ErrorRate)
	case "sync-lag":
		return compareNumber(cond.Operator, h.Sync.LagSeconds, cond.Expected), fmt.Sprintf("%.1fs", h.Sync.LagSeconds)
	default:
		return false, "unsupported condition type"
	}
}

// sustained reports whether every observation in the trailing window
// was true, and the history reaches back at least the full window.
func sustained(history *util.Ring[observation], now time.Time, window time.Duration) bool {
	obs := history.Snapshot()
	if len(obs) == 0 {
		return false
	}
	cutoff := now.Add(-window)
	if obs[0].at.After(cutoff) {
		// Not enough history to claim the condition held that long.
		return false
	}
	for _, o := range obs {
		if o.at.Before(cutoff) {
			continue
		}
		if !o.met {
			return false
		}
	}
	return true
}

func compareString(operator, observed, expected string) bool {
	switch operator {
	case "equals":
		return observed == expected
	case "not-equals":
		return observed != expected
	case "contains":
		return strings.Contains(observed, expected)
	default:
		return false
	}
}

func compareNumber(operator string, observed float64, expected string) bool {
	want, err := strconv.ParseFloat(expected, 64)
	if err != nil {
		return false
	}
	switch operator {
	case "equals":
		return observed == want
	case "not-equals":
		return observed != want
	case "greater-than":
		return observed > want
	case "less-than":
		return observed < want
	default:
		return false
	}
}

// execute runs the rule's actions sequentially; the first failure
// aborts the remainder.
func (e *Engine) execute(ctx context.Context, r *rule, manual bool) Execution {
	exec := Execution{
		ID:        uuid.NewString(),
		RuleID:    r.cfg.ID,
		Manual:    manual,
		StartedAt: e.now(),
		Success:   true,
	}
	e.log.Warn("executing failover rule", "rule", r.cfg.ID, "manual", manual,
		"actions", len(r.cfg.Actions))

	for _, action := range r.cfg.Actions {
		t0 := time.Now()
		err := e.actions.Run(ctx, action)
		res := ActionResult{Type: action.Type, Target: action.Target, Duration: time.Since(t0)}
		if err != nil {
			res.Error = err.Error()
			exec.Actions = append(exec.Actions, res)
			exec.Success = false
			e.log.Error("failover action failed, aborting sequence",
				"rule", r.cfg.ID, "action", action.Type, "error", err)
			break
		}
		exec.Actions = append(exec.Actions, res)
	}
	exec.FinishedAt = e.now()

	if exec.Success {
		executionsTotal.WithLabelValues("success").Inc()
	} else {
		executionsTotal.WithLabelValues("failure").Inc()
	}

	e.mu.Lock()
	e.records.Push(exec)
	e.mu.Unlock()
	e.topic.Publish(exec)
	return exec
}

// TriggerManual executes a rule's actions immediately, bypassing
// condition evaluation and cooldown.
func (e *Engine) TriggerManual(ctx context.Context, ruleID string) (Execution, error) {
	e.mu.Lock()
	var target *rule
	for _, r := range e.rules {
		if r.cfg.ID == ruleID {
			target = r
			break
		}
	}
	if target != nil {
		e.lastExec[ruleID] = e.now()
	}
	e.mu.Unlock()

	if target == nil {
		return Execution{}, fmt.Errorf("failover rule %q not found", ruleID)
	}
	return e.execute(ctx, target, true), nil
}

// History returns retained execution records, oldest first.
func (e *Engine) History() []Execution {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.records.Snapshot()
}
