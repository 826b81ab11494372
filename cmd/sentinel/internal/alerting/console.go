// Copyright (C) 2025 Quantfleet Systems (ops@quantfleet.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package alerting

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"github.com/quantfleet/sentinel/cmd/sentinel/internal/config"
)

var severityStyles = map[Severity]lipgloss.Style{
	SeverityInfo:      lipgloss.NewStyle().Foreground(lipgloss.Color("39")),
	SeverityWarning:   lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true),
	SeverityCritical:  lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
	SeverityEmergency: lipgloss.NewStyle().Foreground(lipgloss.Color("201")).Bold(true).Underline(true),
}

// ConsoleChannel writes alerts to stderr, one line each, with
// severity coloring when stderr is a terminal.
type ConsoleChannel struct {
	cfg config.ConsoleChannelConfig
	out io.Writer

	mu     sync.Mutex
	colors bool
}

// NewConsoleChannel builds the console channel. Coloring requires
// both the config flag and a terminal on stderr.
func NewConsoleChannel(cfg config.ConsoleChannelConfig) *ConsoleChannel {
	return &ConsoleChannel{
		cfg:    cfg,
		out:    os.Stderr,
		colors: cfg.Colors && isatty.IsTerminal(os.Stderr.Fd()),
	}
}

func (c *ConsoleChannel) Name() string  { return "console" }
func (c *ConsoleChannel) Enabled() bool { return c.cfg.Enabled }

func (c *ConsoleChannel) Send(_ context.Context, alert Alert) error {
	label := fmt.Sprintf("[%s]", alert.Severity)
	if c.colors {
		if style, ok := severityStyles[alert.Severity]; ok {
			label = style.Render(label)
		}
	}

	line := fmt.Sprintf("%s %s %s: %s\n",
		alert.CreatedAt.Format("2006-01-02 15:04:05"), label, alert.Title, alert.Message)

	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := io.WriteString(c.out, line)
	return err
}
