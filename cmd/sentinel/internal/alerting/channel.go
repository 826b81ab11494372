// Copyright (C) 2025 Quantfleet Systems (ops@quantfleet.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package alerting

import (
	"context"

	"github.com/quantfleet/sentinel/cmd/sentinel/internal/config"
)

// Channel delivers an alert to one notification sink.
//
// # Thread Safety
// Implementations must be safe for concurrent Send calls; the engine
// fans alerts out to all targeted channels in parallel.
type Channel interface {
	// Name is the identifier rules reference ("console", "email", ...).
	Name() string

	// Enabled reports whether the channel is configured for delivery.
	// Send on a disabled channel is a silent no-op for dispatch, but
	// TestChannels still reports it as skipped.
	Enabled() bool

	// Send delivers one alert, honoring ctx for cancellation.
	Send(ctx context.Context, alert Alert) error
}

// BuildChannels constructs the closed channel set from config. Every
// channel is always present; disabled ones simply never deliver.
func BuildChannels(cfg config.ChannelsConfig) map[string]Channel {
	return map[string]Channel{
		"console": NewConsoleChannel(cfg.Console),
		"email":   NewEmailChannel(cfg.Email),
		"webhook": NewWebhookChannel(cfg.Webhook),
		"chat":    NewChatChannel(cfg.Chat),
	}
}
