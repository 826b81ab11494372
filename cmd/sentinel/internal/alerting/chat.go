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

	"github.com/quantfleet/sentinel/cmd/sentinel/internal/config"
)

var chatSeverityColors = map[Severity]string{
	SeverityInfo:      "#36a64f",
	SeverityWarning:   "#f2c744",
	SeverityCritical:  "#e01e5a",
	SeverityEmergency: "#8b0000",
}

// chatMessage is the Slack-compatible incoming-webhook payload.
type chatMessage struct {
	Channel     string           `json:"channel,omitempty"`
	Username    string           `json:"username,omitempty"`
	IconEmoji   string           `json:"icon_emoji,omitempty"`
	Text        string           `json:"text"`
	Attachments []chatAttachment `json:"attachments,omitempty"`
}

type chatAttachment struct {
	Color  string      `json:"color"`
	Title  string      `json:"title"`
	Text   string      `json:"text"`
	Fields []chatField `json:"fields,omitempty"`
	TS     int64       `json:"ts"`
}

type chatField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

// ChatChannel posts alerts to a Slack-shaped incoming webhook.
type ChatChannel struct {
	cfg    config.ChatChannelConfig
	client *http.Client
}

// NewChatChannel builds the chat channel.
func NewChatChannel(cfg config.ChatChannelConfig) *ChatChannel {
	return &ChatChannel{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *ChatChannel) Name() string  { return "chat" }
func (c *ChatChannel) Enabled() bool { return c.cfg.Enabled }

func (c *ChatChannel) Send(ctx context.Context, alert Alert) error {
	if c.cfg.WebhookURL == "" {
		return fmt.Errorf("chat channel: webhook_url is required")
	}

	msg := chatMessage{
		Channel:   c.cfg.Channel,
		Username:  c.cfg.Username,
		IconEmoji: c.cfg.Icon,
		Text:      fmt.Sprintf("*%s* %s", alert.Severity, alert.Title),
		Attachments: []chatAttachment{{
			Color: chatSeverityColors[alert.Severity],
			Title: alert.Title,
			Text:  alert.Message,
			TS:    alert.CreatedAt.Unix(),
			Fields: []chatField{
				{Title: "Severity", Value: string(alert.Severity), Short: true},
				{Title: "Category", Value: alert.Category, Short: true},
			},
		}},
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("chat channel: encode message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("chat channel: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("chat channel: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("chat channel: status %d", resp.StatusCode)
	}
	return nil
}
