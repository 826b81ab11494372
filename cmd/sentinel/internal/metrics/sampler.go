// Copyright (C) 2025 Quantfleet Systems (ops@quantfleet.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package metrics

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/quantfleet/sentinel/cmd/sentinel/internal/bus"
	"github.com/quantfleet/sentinel/cmd/sentinel/internal/config"
	"github.com/quantfleet/sentinel/pkg/logging"
)

var (
	samplerTicks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sentinel_sampler_ticks_total",
		Help: "Completed sampler ticks.",
	})
	samplerErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_sampler_errors_total",
		Help: "Sampler sub-source failures by block.",
	}, []string{"block"})
)

// DomainSource returns the current trading-domain metric block.
//
// Implementations may return a stale or zero block together with a
// non-nil error; the sampler emits the snapshot either way.
type DomainSource interface {
	Collect(ctx context.Context) (DomainBlock, error)
}

// DomainSourceFunc adapts a function to DomainSource.
type DomainSourceFunc func(ctx context.Context) (DomainBlock, error)

// Collect implements DomainSource.
func (f DomainSourceFunc) Collect(ctx context.Context) (DomainBlock, error) {
	return f(ctx)
}

// Sampler periodically assembles snapshots and publishes them on its
// topic.
//
// # Description
//
// On every tick the sampler reads host counters and pulls domain
// state synchronously. A failing sub-source zeroes its block and logs
// a structured error; the tick itself is never skipped for a partial
// failure. Subscribers (retention store, alert engine) register on
// Snapshots before Start.
//
// # Thread Safety
//
// Start, Stop, and Snapshots().Subscribe are safe for concurrent use.
// Sampling itself runs on a single goroutine, which is what makes the
// strictly-increasing timestamp guarantee cheap to keep.
type Sampler struct {
	cfg    config.SamplerConfig
	host   *HostCollector
	domain DomainSource
	log    *logging.Logger
	topic  *bus.Topic[Snapshot]

	// now is the clock; injectable for tests.
	now func() time.Time

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}
	lastTS  int64
}

// NewSampler creates a sampler. domain may be nil when domain metrics
// are disabled.
func NewSampler(cfg config.SamplerConfig, host *HostCollector, domain DomainSource, log *logging.Logger) *Sampler {
	return &Sampler{
		cfg:    cfg,
		host:   host,
		domain: domain,
		log:    log,
		topic:  bus.NewTopic[Snapshot](func(err error) { log.Error("snapshot subscriber failed", "error", err) }),
		now:    time.Now,
	}
}

// Snapshots returns the topic snapshots are published on.
func (s *Sampler) Snapshots() *bus.Topic[Snapshot] {
	return s.topic
}

// Start begins ticking. It fails if the sampler is already running.
func (s *Sampler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("sampler already started")
	}
	s.running = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})

	go s.run(s.stop, s.done)
	s.log.Info("sampler started", "interval", s.cfg.Interval().String())
	return nil
}

// Stop halts ticking. An in-flight sample completes; Stop returns
// once the sampling goroutine has exited.
func (s *Sampler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stop)
	done := s.done
	s.mu.Unlock()

	<-done
	s.log.Info("sampler stopped")
}

func (s *Sampler) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.cfg.Interval())
	defer ticker.Stop()

	// First sample immediately so the store and alert engine have data
	// before the first full interval elapses.
	s.sample()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.sample()
		}
	}
}

// sample assembles and publishes one snapshot.
func (s *Sampler) sample() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Interval())
	defer cancel()

	snap := Snapshot{Timestamp: s.nextTimestamp()}

	if s.cfg.EnableHostMetrics && s.host != nil {
		block, err := s.host.Collect(ctx)
		if err != nil {
			samplerErrors.WithLabelValues("host").Inc()
			s.log.Error("host metrics collection failed", "error", err)
		} else {
			snap.Host = block
		}
	}

	if s.cfg.EnableDomainMetrics && s.domain != nil {
		block, err := s.domain.Collect(ctx)
		if err != nil {
			samplerErrors.WithLabelValues("domain").Inc()
			s.log.Error("domain metrics collection failed", "error", err)
		}
		// A failing source may still return its best-effort block.
		snap.Domain = block
	}

	samplerTicks.Inc()
	s.topic.Publish(snap)
}

// nextTimestamp returns a millisecond timestamp strictly greater than
// the previous one, even when the clock stalls within one millisecond.
func (s *Sampler) nextTimestamp() int64 {
	ts := s.now().UnixMilli()
	if ts <= s.lastTS {
		ts = s.lastTS + 1
	}
	s.lastTS = ts
	return ts
}
