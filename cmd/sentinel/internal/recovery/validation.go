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
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/quantfleet/sentinel/cmd/sentinel/internal/config"
)

// runValidation executes one post-recovery check, dispatched on type.
func (e *Engine) runValidation(ctx context.Context, v config.ValidationStep) StepResult {
	timeout := v.Timeout()
	if timeout <= 0 {
		timeout = e.cfg.ValidationTimeout()
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	sr := StepResult{ID: v.ID, Attempts: 1}
	t0 := time.Now()
	var err error
	switch v.Type {
	case "health-check":
		err = checkHTTP(ctx, v.Target)
	case "connectivity":
		err = checkTCP(ctx, v.Target)
	case "data-integrity":
		err = e.checkDataIntegrity(ctx, v)
	case "performance":
		err = e.checkPerformance(v)
	case "custom":
		err = e.checkCustom(ctx, v.Target)
	default:
		err = fmt.Errorf("unknown validation type %q", v.Type)
	}
	sr.Duration = time.Since(t0)
	if err != nil {
		sr.Error = err.Error()
	}
	return sr
}

// systemValidation runs the whole-platform checks configured under
// recovery.validation after every component recovered.
func (e *Engine) systemValidation(ctx context.Context) ([]StepResult, bool) {
	var results []StepResult
	ok := true
	record := func(id string, t0 time.Time, err error) {
		sr := StepResult{ID: id, Attempts: 1, Duration: time.Since(t0)}
		if err != nil {
			sr.Error = err.Error()
			ok = false
		}
		results = append(results, sr)
	}

	for _, url := range e.cfg.Validation.TradingChecks {
		t0 := time.Now()
		checkCtx, cancel := context.WithTimeout(ctx, e.cfg.ValidationTimeout())
		err := checkHTTP(checkCtx, url)
		cancel()
		record("trading:"+url, t0, err)
	}

	for metric, max := range e.cfg.Validation.PerfThresholds {
		t0 := time.Now()
		var err error
		if e.perfMetric == nil {
			err = fmt.Errorf("no performance metric source wired")
		} else if value, found := e.perfMetric(metric); !found {
			err = fmt.Errorf("metric %q not available", metric)
		} else if value > max {
			err = fmt.Errorf("metric %q is %.2f, above threshold %.2f", metric, value, max)
		}
		record("perf:"+metric, t0, err)
	}

	for _, command := range e.cfg.Validation.DataIntegrityChecks {
		t0 := time.Now()
		checkCtx, cancel := context.WithTimeout(ctx, e.cfg.ValidationTimeout())
		_, err := e.runner.Run(checkCtx, config.RecoveryStep{ID: "integrity", Command: command})
		cancel()
		record("integrity:"+command, t0, err)
	}
	return results, ok
}

func checkHTTP(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("bad check url: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}

func checkTCP(ctx context.Context, addr string) error {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	conn.Close()
	return nil
}

// checkDataIntegrity runs the target command through the step runner;
// exit zero passes, and when an expectation is configured the output
// must satisfy it too.
func (e *Engine) checkDataIntegrity(ctx context.Context, v config.ValidationStep) error {
	output, err := e.runner.Run(ctx, config.RecoveryStep{ID: v.ID, Command: v.Target})
	if err != nil {
		return err
	}
	if v.Expected == "" {
		return nil
	}
	switch v.Comparator {
	case "", "contains":
		if !strings.Contains(output, v.Expected) {
			return fmt.Errorf("output does not contain %q", v.Expected)
		}
	case "equals":
		if strings.TrimSpace(output) != v.Expected {
			return fmt.Errorf("output %q != %q", strings.TrimSpace(output), v.Expected)
		}
	case "not-equals":
		if strings.TrimSpace(output) == v.Expected {
			return fmt.Errorf("output unexpectedly %q", v.Expected)
		}
	default:
		return fmt.Errorf("comparator %q not valid for data-integrity", v.Comparator)
	}
	return nil
}

func (e *Engine) checkPerformance(v config.ValidationStep) error {
	if e.perfMetric == nil {
		return fmt.Errorf("no performance metric source wired")
	}
	value, found := e.perfMetric(v.Target)
	if !found {
		return fmt.Errorf("metric %q not available", v.Target)
	}

	passed := false
	switch v.Comparator {
	case "", "less-than":
		passed = value < v.Threshold
	case "greater-than":
		passed = value > v.Threshold
	case "equals":
		passed = value == v.Threshold
	case "not-equals":
		passed = value != v.Threshold
	default:
		return fmt.Errorf("comparator %q not valid for performance", v.Comparator)
	}
	if !passed {
		return fmt.Errorf("metric %q is %.2f, want %s %.2f", v.Target, value, orDefault(v.Comparator, "less-than"), v.Threshold)
	}
	return nil
}

func (e *Engine) checkCustom(ctx context.Context, name string) error {
	fn, ok := e.custom[name]
	if !ok {
		return fmt.Errorf("custom check %q not registered", name)
	}
	return fn(ctx)
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
