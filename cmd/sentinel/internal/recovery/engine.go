// Copyright (C) 2025 Quantfleet Systems (ops@quantfleet.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package recovery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/quantfleet/sentinel/cmd/sentinel/internal/config"
	"github.com/quantfleet/sentinel/cmd/sentinel/internal/util"
	"github.com/quantfleet/sentinel/pkg/logging"
)

const recordHistory = 64

var (
	// ErrRecoveryActive is returned when a recovery is already running;
	// two concurrent recoveries would fight over the same components.
	ErrRecoveryActive = fmt.Errorf("a recovery is already in progress")

	recoveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_recoveries_total",
		Help: "Completed recovery runs, by outcome.",
	}, []string{"outcome"})

	recoveryStepsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_recovery_steps_total",
		Help: "Recovery step executions, by outcome.",
	}, []string{"outcome"})
)

// StepResult is one step or validation execution.
type StepResult struct {
	ID       string        `json:"id"`
	Attempts int           `json:"attempts"`
	Output   string        `json:"output,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration_ns"`
}

// ComponentResult is the outcome of recovering one component.
type ComponentResult struct {
	Name       string       `json:"name"`
	Steps      []StepResult `json:"steps"`
	Validation []StepResult `json:"validation,omitempty"`
	Success    bool         `json:"success"`
}

// Record is one whole recovery run.
type Record struct {
	ID           string            `json:"id"`
	StartedAt    time.Time         `json:"started_at"`
	FinishedAt   time.Time         `json:"finished_at"`
	Components   []ComponentResult `json:"components"`
	SystemChecks []StepResult      `json:"system_checks,omitempty"`
	RolledBack   []string          `json:"rolled_back,omitempty"`
	Success      bool              `json:"success"`
	Error        string            `json:"error,omitempty"`
}

// Notifier receives recovery lifecycle notifications.
type Notifier interface {
	Notify(severity, category, title, message string)
}

// Engine executes the recovery plan: components in dependency order,
// each one's steps with retries and timeouts, validation after each
// component, and reverse-order rollback of completed components when
// a critical step or validation fails.
//
// # Thread Safety
// Safe for concurrent use; only one recovery runs at a time and a
// second Recover call fails with ErrRecoveryActive.
type Engine struct {
	cfg    config.RecoveryConfig
	plan   []config.RecoveryComponent
	runner StepRunner
	log    *logging.Logger
	notif  Notifier
	tracer trace.Tracer

	perfMetric func(name string) (float64, bool)
	custom     map[string]func(ctx context.Context) error

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	mu      sync.Mutex
	active  bool
	records *util.Ring[Record]
}

// NewEngine builds the plan from config; an unknown dependency or a
// cycle is fatal here, before any recovery is attempted.
func NewEngine(cfg config.RecoveryConfig, runner StepRunner, notif Notifier, log *logging.Logger) (*Engine, error) {
	plan, err := BuildPlan(cfg.Components)
	if err != nil {
		return nil, err
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	return &Engine{
		cfg:     cfg,
		plan:    plan,
		runner:  runner,
		log:     log,
		notif:   notif,
		tracer:  otel.Tracer("sentinel/recovery"),
		custom:  make(map[string]func(ctx context.Context) error),
		now:     time.Now,
		sleep:   sleepCtx,
		records: util.NewRing[Record](recordHistory),
	}, nil
}

// Plan returns the resolved execution order.
func (e *Engine) Plan() []config.RecoveryComponent { return e.plan }

// HasComponent reports whether the plan contains a component.
func (e *Engine) HasComponent(name string) bool {
	for _, comp := range e.plan {
		if comp.Name == name {
			return true
		}
	}
	return false
}

// subsetPlan narrows the plan to the requested components plus their
// transitive dependencies, preserving plan order. A dependency of a
// selected component is always selected too, so every component still
// starts after everything it depends on has been recovered.
func (e *Engine) subsetPlan(components []string) ([]config.RecoveryComponent, error) {
	byName := make(map[string]config.RecoveryComponent, len(e.plan))
	for _, comp := range e.plan {
		byName[comp.Name] = comp
	}

	selected := make(map[string]bool)
	queue := make([]string, 0, len(components))
	for _, name := range components {
		if _, ok := byName[name]; !ok {
			return nil, fmt.Errorf("unknown recovery component %q", name)
		}
		queue = append(queue, name)
	}
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		if selected[name] {
			continue
		}
		selected[name] = true
		queue = append(queue, byName[name].DependsOn...)
	}

	plan := make([]config.RecoveryComponent, 0, len(selected))
	for _, comp := range e.plan {
		if selected[comp.Name] {
			plan = append(plan, comp)
		}
	}
	return plan, nil
}

// SetPerfMetricSource wires the metric lookup used by performance
// validation steps and thresholds.
func (e *Engine) SetPerfMetricSource(fn func(name string) (float64, bool)) { e.perfMetric = fn }

// RegisterCustomCheck registers a named custom validation.
func (e *Engine) RegisterCustomCheck(name string, fn func(ctx context.Context) error) {
	e.custom[name] = fn
}

// Active reports whether a recovery is running.
func (e *Engine) Active() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active
}

// History returns retained recovery records, oldest first.
func (e *Engine) History() []Record {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.records.Snapshot()
}

// Recover runs the plan under the configured overall deadline. With
// component names given, only those components and their transitive
// dependencies run, still in plan order. The returned Record describes
// the run even when it failed; the error is non-nil only when the run
// could not start.
func (e *Engine) Recover(ctx context.Context, components ...string) (Record, error) {
	e.mu.Lock()
	if e.active {
		e.mu.Unlock()
		return Record{}, ErrRecoveryActive
	}
	e.active = true
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.active = false
		e.mu.Unlock()
	}()

	plan := e.plan
	if len(components) > 0 {
		var err error
		if plan, err = e.subsetPlan(components); err != nil {
			return Record{}, err
		}
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.MaxRecoveryTime())
	defer cancel()
	ctx, span := e.tracer.Start(ctx, "recovery.run")
	defer span.End()

	rec := Record{ID: uuid.NewString(), StartedAt: e.now(), Success: true}
	e.log.Warn("recovery started", "id", rec.ID, "components", len(plan))
	e.notify("warning", "recovery started", fmt.Sprintf("recovering %d components", len(plan)))

	var completed []config.RecoveryComponent
	for _, comp := range plan {
		cr := e.recoverComponent(ctx, comp)
		rec.Components = append(rec.Components, cr)
		if !cr.Success {
			rec.Success = false
			rec.Error = fmt.Sprintf("component %q failed", comp.Name)
			span.SetStatus(codes.Error, rec.Error)
			e.rollback(ctx, completed, &rec)
			break
		}
		completed = append(completed, comp)
	}

	if rec.Success {
		checks, ok := e.systemValidation(ctx)
		rec.SystemChecks = checks
		if !ok {
			rec.Success = false
			rec.Error = "system validation failed"
			span.SetStatus(codes.Error, rec.Error)
			e.rollback(ctx, completed, &rec)
		}
	}
	rec.FinishedAt = e.now()

	if rec.Success {
		recoveriesTotal.WithLabelValues("success").Inc()
		e.log.Info("recovery finished", "id", rec.ID, "duration", rec.FinishedAt.Sub(rec.StartedAt))
		e.notify("info", "recovery finished", fmt.Sprintf("recovery %s completed", rec.ID))
	} else {
		recoveriesTotal.WithLabelValues("failure").Inc()
		e.log.Error("recovery failed", "id", rec.ID, "error", rec.Error,
			"rolled_back", rec.RolledBack)
		e.notify("critical", "recovery failed", rec.Error)
	}

	e.mu.Lock()
	e.records.Push(rec)
	e.mu.Unlock()
	return rec, nil
}

func (e *Engine) recoverComponent(ctx context.Context, comp config.RecoveryComponent) ComponentResult {
	ctx, span := e.tracer.Start(ctx, "recovery.component",
		trace.WithAttributes(attribute.String("component", comp.Name)))
	defer span.End()

	cr := ComponentResult{Name: comp.Name, Success: true}
	e.log.Info("recovering component", "component", comp.Name, "steps", len(comp.Steps))

	for _, step := range comp.Steps {
		sr := e.runStep(ctx, step)
		cr.Steps = append(cr.Steps, sr)
		if sr.Error == "" {
			continue
		}
		if step.Critical {
			cr.Success = false
			span.SetStatus(codes.Error, fmt.Sprintf("critical step %s failed", step.ID))
			return cr
		}
		e.log.Warn("non-critical step failed, continuing",
			"component", comp.Name, "step", step.ID, "error", sr.Error)
	}

	for _, v := range comp.Validate {
		vr := e.runValidation(ctx, v)
		cr.Validation = append(cr.Validation, vr)
		if vr.Error != "" {
			cr.Success = false
			span.SetStatus(codes.Error, fmt.Sprintf("validation %s failed", v.ID))
			return cr
		}
	}
	return cr
}

// runStep executes one step with its timeout and, when retryable, the
// configured retry budget.
func (e *Engine) runStep(ctx context.Context, step config.RecoveryStep) StepResult {
	attempts := 1
	if step.Retryable {
		attempts += e.cfg.RetryAttempts
	}

	sr := StepResult{ID: step.ID}
	t0 := time.Now()
	for attempt := 1; attempt <= attempts; attempt++ {
		sr.Attempts = attempt
		if attempt > 1 {
			if err := e.sleep(ctx, e.cfg.RetryDelay()); err != nil {
				sr.Error = err.Error()
				break
			}
		}

		stepCtx := ctx
		var cancel context.CancelFunc
		if step.Timeout() > 0 {
			stepCtx, cancel = context.WithTimeout(ctx, step.Timeout())
		}
		output, err := e.runner.Run(stepCtx, step)
		if cancel != nil {
			cancel()
		}

		sr.Output = output
		if err == nil {
			sr.Error = ""
			break
		}
		sr.Error = err.Error()
		e.log.Warn("recovery step attempt failed",
			"step", step.ID, "attempt", attempt, "of", attempts, "error", err)
	}
	sr.Duration = time.Since(t0)

	if sr.Error == "" {
		recoveryStepsTotal.WithLabelValues("success").Inc()
	} else {
		recoveryStepsTotal.WithLabelValues("failure").Inc()
	}
	return sr
}

// rollback unwinds completed components in reverse order. Best
// effort: a failing rollback step is logged and the unwind continues.
// The failed component itself is not rolled back; its state is left
// for the operator to inspect.
func (e *Engine) rollback(ctx context.Context, completed []config.RecoveryComponent, rec *Record) {
	if len(completed) == 0 {
		return
	}
	// Rollback must run even when the recovery deadline has expired.
	ctx = context.WithoutCancel(ctx)
	ctx, cancel := context.WithTimeout(ctx, e.cfg.MaxRecoveryTime())
	defer cancel()
	ctx, span := e.tracer.Start(ctx, "recovery.rollback")
	defer span.End()

	for i := len(completed) - 1; i >= 0; i-- {
		comp := completed[i]
		e.log.Warn("rolling back component", "component", comp.Name)
		for _, step := range comp.Rollback {
			sr := e.runStep(ctx, step)
			if sr.Error != "" {
				e.log.Error("rollback step failed, continuing",
					"component", comp.Name, "step", step.ID, "error", sr.Error)
			}
		}
		rec.RolledBack = append(rec.RolledBack, comp.Name)
	}
}

func (e *Engine) notify(severity, title, message string) {
	if e.notif == nil {
		return
	}
	e.notif.Notify(severity, "recovery", title, message)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
