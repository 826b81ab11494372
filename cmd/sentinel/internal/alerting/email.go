// Copyright (C) 2025 Quantfleet Systems (ops@quantfleet.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package alerting

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strings"

	"github.com/quantfleet/sentinel/cmd/sentinel/internal/config"
)

// EmailChannel delivers alerts over SMTP.
//
// The send function is injectable so tests can capture the composed
// message without a live SMTP server.
type EmailChannel struct {
	cfg  config.EmailChannelConfig
	send func(ctx context.Context, addr string, msg []byte) error
}

// NewEmailChannel builds the SMTP channel.
func NewEmailChannel(cfg config.EmailChannelConfig) *EmailChannel {
	c := &EmailChannel{cfg: cfg}
	c.send = c.smtpSend
	return c
}

func (c *EmailChannel) Name() string  { return "email" }
func (c *EmailChannel) Enabled() bool { return c.cfg.Enabled }

func (c *EmailChannel) Send(ctx context.Context, alert Alert) error {
	if c.cfg.SMTP.Host == "" || c.cfg.From == "" || len(c.cfg.To) == 0 {
		return fmt.Errorf("email channel: smtp host, from, and to are required")
	}
	addr := net.JoinHostPort(c.cfg.SMTP.Host, fmt.Sprintf("%d", c.cfg.SMTP.Port))
	return c.send(ctx, addr, c.compose(alert))
}

// compose builds the RFC 5322 message body.
func (c *EmailChannel) compose(alert Alert) []byte {
	subject := c.cfg.Subject
	if subject == "" {
		subject = fmt.Sprintf("[%s] %s", strings.ToUpper(string(alert.Severity)), alert.Title)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", c.cfg.From)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(c.cfg.To, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")

	fmt.Fprintf(&b, "Severity: %s\r\n", alert.Severity)
	fmt.Fprintf(&b, "Category: %s\r\n", alert.Category)
	fmt.Fprintf(&b, "Time:     %s\r\n\r\n", alert.CreatedAt.Format("2006-01-02 15:04:05 MST"))
	b.WriteString(alert.Message)
	b.WriteString("\r\n")
	if alert.Payload != nil {
		fmt.Fprintf(&b, "\r\nCPU: %.1f%%  Memory: %.1f%%  Disk: %.1f%%\r\n",
			alert.Payload.CPUPercent, alert.Payload.MemoryUsagePct, alert.Payload.DiskUsagePct)
		fmt.Fprintf(&b, "Drawdown: %.2f%%  Daily PnL: %.2f\r\n",
			alert.Payload.DrawdownCurrent, alert.Payload.PnLDaily)
	}
	return []byte(b.String())
}

// smtpSend performs the actual SMTP conversation, upgrading to TLS
// when configured. The context deadline bounds the dial.
func (c *EmailChannel) smtpSend(ctx context.Context, addr string, msg []byte) error {
	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("email channel: dial %s: %w", addr, err)
	}

	client, err := smtp.NewClient(conn, c.cfg.SMTP.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("email channel: smtp handshake: %w", err)
	}
	defer client.Close()

	if c.cfg.SMTP.TLS {
		if err := client.StartTLS(&tls.Config{ServerName: c.cfg.SMTP.Host}); err != nil {
			return fmt.Errorf("email channel: starttls: %w", err)
		}
	}
	if c.cfg.SMTP.User != "" {
		auth := smtp.PlainAuth("", c.cfg.SMTP.User, c.cfg.SMTP.Pass, c.cfg.SMTP.Host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("email channel: auth: %w", err)
		}
	}

	if err := client.Mail(c.cfg.From); err != nil {
		return fmt.Errorf("email channel: mail from: %w", err)
	}
	for _, rcpt := range c.cfg.To {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("email channel: rcpt %s: %w", rcpt, err)
		}
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("email channel: data: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		w.Close()
		return fmt.Errorf("email channel: write body: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("email channel: finish body: %w", err)
	}
	return client.Quit()
}
