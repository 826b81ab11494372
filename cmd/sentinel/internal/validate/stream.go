// Copyright (C) 2025 Quantfleet Systems (ops@quantfleet.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package validate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/quantfleet/sentinel/cmd/sentinel/internal/config"
)

// probeStream connects to a websocket endpoint, optionally sends a
// probe message, then reads inbound frames. With an expected substring
// it reads until the substring appears or the timeout expires; without
// one the first inbound frame passes the probe. A handshake alone is
// not enough: a feed that accepts connections but never publishes is
// down as far as a trading strategy is concerned.
func probeStream(ctx context.Context, cfg config.StreamProbeConfig, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		return "", errZeroTimeout()
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, cfg.URL, nil)
	if err != nil {
		return "", fmt.Errorf("dial: %w", err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	deadline, _ := ctx.Deadline()
	if cfg.ProbeMessage != "" {
		conn.SetWriteDeadline(deadline)
		if err := conn.WriteMessage(websocket.TextMessage, []byte(cfg.ProbeMessage)); err != nil {
			return "", fmt.Errorf("send probe: %w", err)
		}
	}

	conn.SetReadDeadline(deadline)
	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			if cfg.ExpectSubstring == "" {
				return "", fmt.Errorf("await first frame: %w", err)
			}
			return "", fmt.Errorf("await %q: %w", cfg.ExpectSubstring, err)
		}
		if cfg.ExpectSubstring == "" {
			return "received frame", nil
		}
		if strings.Contains(string(frame), cfg.ExpectSubstring) {
			return "matched response", nil
		}
	}
}
