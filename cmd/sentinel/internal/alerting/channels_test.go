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
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfleet/sentinel/cmd/sentinel/internal/config"
)

func sampleAlert() Alert {
	return Alert{
		ID:        "cpu-high-1234",
		RuleName:  "cpu-high",
		Severity:  SeverityCritical,
		Category:  "host",
		Title:     "cpu-high",
		Message:   "cpu.usage > 80: value 91.00 breached > 80.00",
		CreatedAt: time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestConsoleChannelWritesOneLine(t *testing.T) {
	var buf bytes.Buffer
	ch := NewConsoleChannel(config.ConsoleChannelConfig{Enabled: true})
	ch.out = &buf

	require.NoError(t, ch.Send(context.Background(), sampleAlert()))

	line := buf.String()
	assert.Contains(t, line, "[critical]")
	assert.Contains(t, line, "cpu-high")
	assert.Equal(t, byte('\n'), line[len(line)-1])
}

func TestWebhookChannelRetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "token-123", r.Header.Get("X-Auth"))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	ch := NewWebhookChannel(config.WebhookChannelConfig{
		Enabled: true,
		URL:     srv.URL,
		Headers: map[string]string{"X-Auth": "token-123"},
		Retries: 2,
	})
	var backoffs []time.Duration
	ch.sleep = func(_ context.Context, d time.Duration) error {
		backoffs = append(backoffs, d)
		return nil
	}

	require.NoError(t, ch.Send(context.Background(), sampleAlert()))
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, backoffs,
		"backoff doubles between attempts")
}

func TestWebhookChannelExhaustsRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	ch := NewWebhookChannel(config.WebhookChannelConfig{Enabled: true, URL: srv.URL, Retries: 1})
	ch.sleep = func(context.Context, time.Duration) error { return nil }

	err := ch.Send(context.Background(), sampleAlert())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 502")
}

func TestWebhookChannelUsesConfiguredMethod(t *testing.T) {
	var method string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
	}))
	defer srv.Close()

	ch := NewWebhookChannel(config.WebhookChannelConfig{Enabled: true, URL: srv.URL, Method: http.MethodPut})
	require.NoError(t, ch.Send(context.Background(), sampleAlert()))
	assert.Equal(t, http.MethodPut, method)
}

func TestChatChannelPostsSlackShape(t *testing.T) {
	var got chatMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))
	defer srv.Close()

	ch := NewChatChannel(config.ChatChannelConfig{
		Enabled:    true,
		WebhookURL: srv.URL,
		Channel:    "#trading-ops",
		Username:   "sentinel",
	})
	require.NoError(t, ch.Send(context.Background(), sampleAlert()))

	assert.Equal(t, "#trading-ops", got.Channel)
	assert.Equal(t, "sentinel", got.Username)
	require.Len(t, got.Attachments, 1)
	assert.Equal(t, chatSeverityColors[SeverityCritical], got.Attachments[0].Color)
}

func TestEmailChannelComposesMessage(t *testing.T) {
	ch := NewEmailChannel(config.EmailChannelConfig{
		Enabled: true,
		SMTP:    config.SMTPConfig{Host: "mail.example.com", Port: 587},
		From:    "sentinel@example.com",
		To:      []string{"ops@example.com", "desk@example.com"},
	})

	var captured []byte
	ch.send = func(_ context.Context, addr string, msg []byte) error {
		assert.Equal(t, "mail.example.com:587", addr)
		captured = msg
		return nil
	}

	require.NoError(t, ch.Send(context.Background(), sampleAlert()))
	body := string(captured)
	assert.Contains(t, body, "To: ops@example.com, desk@example.com")
	assert.Contains(t, body, "Subject: [CRITICAL] cpu-high")
	assert.Contains(t, body, "Severity: critical")
}

func TestEmailChannelRequiresConfig(t *testing.T) {
	ch := NewEmailChannel(config.EmailChannelConfig{Enabled: true})
	assert.Error(t, ch.Send(context.Background(), sampleAlert()))
}

func TestTestChannelsReportsPerChannel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))
	defer srv.Close()

	eng := testEngine(t, 50)
	eng.channels = map[string]Channel{
		"webhook": NewWebhookChannel(config.WebhookChannelConfig{Enabled: true, URL: srv.URL}),
		"chat":    NewChatChannel(config.ChatChannelConfig{Enabled: false}),
		"email":   NewEmailChannel(config.EmailChannelConfig{Enabled: true}), // unconfigured, will fail
	}

	results := eng.TestChannels(context.Background())
	assert.True(t, results["webhook"])
	assert.False(t, results["chat"], "disabled channel reports false without an attempt")
	assert.False(t, results["email"])
}
