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
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/quantfleet/sentinel/cmd/sentinel/internal/config"
)

// pubsubWindow is how long a published probe message may take to come
// back on the subscription.
const pubsubWindow = 500 * time.Millisecond

// probeKV pings the key-value store and, when requested, verifies a
// publish/subscribe round-trip on a throwaway channel. Both the
// subscriber and the main connection are released before returning.
func probeKV(ctx context.Context, cfg config.KVProbeConfig, timeout time.Duration, pubsub bool) (string, error) {
	if timeout <= 0 {
		return "", errZeroTimeout()
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client := redis.NewClient(&redis.Options{
		Addr:         net.JoinHostPort(cfg.Host, fmt.Sprintf("%d", cfg.Port)),
		Password:     cfg.Password,
		DialTimeout:  timeout,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	})
	defer client.Close()

	if err := client.Ping(ctx).Err(); err != nil {
		return "", fmt.Errorf("ping: %w", err)
	}
	if !pubsub {
		return "ping ok", nil
	}

	channel := "sentinel:probe:" + uuid.NewString()
	payload := uuid.NewString()

	sub := client.Subscribe(ctx, channel)
	defer sub.Close()
	// Wait for the subscription to be established before publishing,
	// otherwise the message can be lost.
	if _, err := sub.Receive(ctx); err != nil {
		return "", fmt.Errorf("subscribe: %w", err)
	}

	if err := client.Publish(ctx, channel, payload).Err(); err != nil {
		return "", fmt.Errorf("publish: %w", err)
	}

	recvCtx, recvCancel := context.WithTimeout(ctx, pubsubWindow)
	defer recvCancel()
	msg, err := sub.ReceiveMessage(recvCtx)
	if err != nil {
		return "", fmt.Errorf("pubsub round-trip: %w", err)
	}
	if msg.Payload != payload {
		return "", fmt.Errorf("pubsub round-trip: payload mismatch")
	}
	return "ping + pubsub ok", nil
}
