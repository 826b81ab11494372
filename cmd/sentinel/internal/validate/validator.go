// Copyright (C) 2025 Quantfleet Systems (ops@quantfleet.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package validate runs deployment validation: a concurrent sweep of
// HTTP, TCP, key-value, and stream probes whose verdict says whether
// the platform is safe to trade on.
package validate

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/quantfleet/sentinel/cmd/sentinel/internal/config"
	"github.com/quantfleet/sentinel/pkg/logging"
)

// quickTimeoutCap bounds every probe in quick mode.
const quickTimeoutCap = 2 * time.Second

// ProbeResult is the outcome of one probe.
type ProbeResult struct {
	Name     string        `json:"name"`
	Kind     string        `json:"kind"`
	Success  bool          `json:"success"`
	Critical bool          `json:"critical"`
	Latency  time.Duration `json:"latency_ns"`
	Detail   string        `json:"detail,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// Report is one validation run.
//
// Success is the conjunction of the critical probes only: a failing
// optional probe is recorded but does not fail the deployment.
type Report struct {
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration_ns"`
	Quick     bool          `json:"quick"`
	Results   []ProbeResult `json:"results"`
	Success   bool          `json:"success"`
}

// Failed returns the failing results, critical first ordering is not
// guaranteed.
func (r Report) Failed() []ProbeResult {
	var out []ProbeResult
	for _, res := range r.Results {
		if !res.Success {
			out = append(out, res)
		}
	}
	return out
}

// probe is one unit of validation work.
type probe struct {
	name     string
	kind     string
	critical bool
	run      func(ctx context.Context) (string, error)
}

// Validator executes the configured probe set.
//
// # Thread Safety
// Safe for concurrent Run calls; each run builds its own probe list
// and report.
type Validator struct {
	cfg config.ValidatorConfig
	log *logging.Logger
}

// NewValidator builds a validator from config.
func NewValidator(cfg config.ValidatorConfig, log *logging.Logger) *Validator {
	return &Validator{cfg: cfg, log: log}
}

// Run executes the full probe set concurrently under the configured
// overall deadline.
func (v *Validator) Run(ctx context.Context) Report {
	return v.run(ctx, false)
}

// RunQuick executes only the critical probes with a two-second
// per-probe cap and skips the pub/sub round-trip. Meant for the
// startup path where a full sweep is too slow.
func (v *Validator) RunQuick(ctx context.Context) Report {
	return v.run(ctx, true)
}

func (v *Validator) run(ctx context.Context, quick bool) Report {
	ctx, cancel := context.WithTimeout(ctx, v.cfg.OverallTimeout())
	defer cancel()

	probes := v.buildProbes(quick)
	results := make([]ProbeResult, len(probes))

	started := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	for i, p := range probes {
		g.Go(func() error {
			t0 := time.Now()
			detail, err := p.run(gctx)
			res := ProbeResult{
				Name:     p.name,
				Kind:     p.kind,
				Critical: p.critical,
				Latency:  time.Since(t0),
				Detail:   detail,
				Success:  err == nil,
			}
			if err != nil {
				res.Error = err.Error()
				v.log.Warn("probe failed", "probe", p.name, "kind", p.kind, "error", err)
			}
			results[i] = res
			// Probe failures are results, not errors: the sweep always
			// runs to completion.
			return nil
		})
	}
	g.Wait()

	report := Report{
		StartedAt: started,
		Duration:  time.Since(started),
		Quick:     quick,
		Results:   results,
		Success:   true,
	}
	for _, res := range results {
		if res.Critical && !res.Success {
			report.Success = false
		}
	}
	return report
}

func (v *Validator) buildProbes(quick bool) []probe {
	var probes []probe
	for _, svc := range v.cfg.Services {
		if quick && !svc.Critical {
			continue
		}
		timeout := capTimeout(svc.Timeout(), quick)
		switch svc.Type {
		case "tcp":
			probes = append(probes, probe{
				name: svc.Name, kind: "tcp", critical: svc.Critical,
				run: func(ctx context.Context) (string, error) {
					return probeTCP(ctx, svc.URL, timeout)
				},
			})
		default:
			probes = append(probes, probe{
				name: svc.Name, kind: "http", critical: svc.Critical,
				run: func(ctx context.Context) (string, error) {
					return probeHTTP(ctx, svc.URL, timeout)
				},
			})
		}
	}

	if v.cfg.KV.Host != "" {
		kv := v.cfg.KV
		pubsub := kv.TestPubSub && !quick
		timeout := capTimeout(kv.Timeout(), quick)
		probes = append(probes, probe{
			name: "kv", kind: "kv", critical: true,
			run: func(ctx context.Context) (string, error) {
				return probeKV(ctx, kv, timeout, pubsub)
			},
		})
	}

	for _, stream := range v.cfg.Streams {
		if quick && !stream.Critical {
			continue
		}
		timeout := capTimeout(stream.Timeout(), quick)
		probes = append(probes, probe{
			name: stream.Name, kind: "stream", critical: stream.Critical,
			run: func(ctx context.Context) (string, error) {
				return probeStream(ctx, stream, timeout)
			},
		})
	}
	return probes
}

func capTimeout(d time.Duration, quick bool) time.Duration {
	if quick && (d <= 0 || d > quickTimeoutCap) {
		return quickTimeoutCap
	}
	return d
}

// errZeroTimeout classifies a probe that could never have succeeded.
func errZeroTimeout() error {
	return fmt.Errorf("timeout: probe timeout is zero")
}

func probeHTTP(ctx context.Context, rawURL string, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		return "", errZeroTimeout()
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("bad probe url: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("status %d", resp.StatusCode)
	}
	return fmt.Sprintf("status %d", resp.StatusCode), nil
}

func probeTCP(ctx context.Context, rawURL string, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		return "", errZeroTimeout()
	}
	addr := rawURL
	if strings.Contains(rawURL, "://") {
		u, err := url.Parse(rawURL)
		if err != nil {
			return "", fmt.Errorf("bad probe url: %w", err)
		}
		addr = u.Host
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return "", err
	}
	conn.Close()
	return "connected", nil
}
