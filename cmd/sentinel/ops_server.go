// Copyright (C) 2025 Quantfleet Systems (ops@quantfleet.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/quantfleet/sentinel/pkg/logging"
)

// opsServer exposes the daemon's health, status, and Prometheus
// metrics over HTTP while `start` runs.
type opsServer struct {
	orch *Orchestrator
	log  *logging.Logger
	srv  *http.Server
}

func newOpsServer(port int, orch *Orchestrator, log *logging.Logger) *opsServer {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &opsServer{orch: orch, log: log}
	router.GET("/healthz", s.handleHealthz)
	router.GET("/statusz", s.handleStatusz)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.srv = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *opsServer) Start() error {
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("ops endpoint failed", "addr", s.srv.Addr, "error", err)
		}
	}()
	s.log.Info("ops endpoint listening", "addr", s.srv.Addr)
	return nil
}

func (s *opsServer) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.srv.Shutdown(ctx)
}

// handleHealthz answers 200 while the overall verdict is not
// critical, 503 otherwise, so load balancers can act on it.
func (s *opsServer) handleHealthz(c *gin.Context) {
	status := s.orch.Status()
	code := http.StatusOK
	if status.Overall == HealthCritical {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{"status": status.Overall})
}

func (s *opsServer) handleStatusz(c *gin.Context) {
	c.JSON(http.StatusOK, s.orch.Status())
}
