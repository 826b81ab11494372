// Copyright (C) 2025 Quantfleet Systems (ops@quantfleet.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/quantfleet/sentinel/cmd/sentinel/internal/config"
)

const webhookInitialBackoff = time.Second

// WebhookChannel POSTs (or PUTs) alerts as JSON to a configured URL,
// retrying transient failures with doubling backoff and pacing
// deliveries through a rate limiter so a storm of alerts cannot
// hammer the receiver.
type WebhookChannel struct {
	cfg     config.WebhookChannelConfig
	client  *http.Client
	limiter *rate.Limiter

	// sleep is swapped in tests to avoid real backoff waits.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewWebhookChannel builds the webhook channel. Deliveries are paced
// to one per second with a small burst allowance.
func NewWebhookChannel(cfg config.WebhookChannelConfig) *WebhookChannel {
	timeout := cfg.Timeout()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookChannel{
		cfg:     cfg,
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Every(time.Second), 5),
		sleep:   sleepCtx,
	}
}

func (c *WebhookChannel) Name() string  { return "webhook" }
func (c *WebhookChannel) Enabled() bool { return c.cfg.Enabled }

func (c *WebhookChannel) Send(ctx context.Context, alert Alert) error {
	if c.cfg.URL == "" {
		return fmt.Errorf("webhook channel: url is required")
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("webhook channel: %w", err)
	}

	body, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("webhook channel: encode alert: %w", err)
	}

	method := c.cfg.Method
	if method == "" {
		method = http.MethodPost
	}

	attempts := c.cfg.Retries + 1
	backoff := webhookInitialBackoff
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			if err := c.sleep(ctx, backoff); err != nil {
				return fmt.Errorf("webhook channel: %w", err)
			}
			backoff *= 2
		}
		lastErr = c.deliver(ctx, method, body)
		if lastErr == nil {
			return nil
		}
	}
	return fmt.Errorf("webhook channel: %d attempt(s) failed: %w", attempts, lastErr)
}

func (c *WebhookChannel) deliver(ctx context.Context, method string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range c.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
