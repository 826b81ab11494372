// Copyright (C) 2025 Quantfleet Systems (ops@quantfleet.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package util

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestCommandError_Message(t *testing.T) {
	err := NewCommandError("systemctl restart gateway", 1, "unit not found\n", nil)

	msg := err.Error()
	if !strings.Contains(msg, "systemctl restart gateway") {
		t.Errorf("message missing command: %q", msg)
	}
	if !strings.Contains(msg, "exit 1") {
		t.Errorf("message missing exit code: %q", msg)
	}
	if !strings.Contains(msg, "unit not found") {
		t.Errorf("message missing stderr: %q", msg)
	}
}

func TestCommandError_TruncatesLongStderr(t *testing.T) {
	long := strings.Repeat("x", 4096) + "TAIL"
	err := NewCommandError("cmd", 2, long, nil)

	msg := err.Error()
	if !strings.Contains(msg, "TAIL") {
		t.Error("truncation should keep the stderr tail")
	}
	if len(msg) > 1024 {
		t.Errorf("message too long: %d bytes", len(msg))
	}
}

func TestCommandError_Unwrap(t *testing.T) {
	inner := errors.New("context deadline exceeded")
	err := fmt.Errorf("step failed: %w", NewCommandError("cmd", -1, "", inner))

	if !errors.Is(err, inner) {
		t.Error("wrapped error should be reachable via errors.Is")
	}
	if ExitCodeOf(err) != -1 {
		t.Errorf("ExitCodeOf = %d, want -1", ExitCodeOf(err))
	}
}

func TestExitCodeOf_NoCommandError(t *testing.T) {
	if got := ExitCodeOf(errors.New("plain")); got != -1 {
		t.Errorf("ExitCodeOf = %d, want -1", got)
	}
}

func TestEnforceTimeouts(t *testing.T) {
	tests := []struct {
		name      string
		requested time.Duration
		want      time.Duration
	}{
		{"below minimum", 10 * time.Millisecond, time.Second},
		{"zero", 0, time.Second},
		{"above minimum", 5 * time.Second, 5 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EnforceMinTimeout(tt.requested, time.Second); got != tt.want {
				t.Errorf("EnforceMinTimeout = %v, want %v", got, tt.want)
			}
		})
	}

	if got := EnforceDefaultTimeout(0, 30*time.Second); got != 30*time.Second {
		t.Errorf("EnforceDefaultTimeout(0) = %v", got)
	}
	if got := EnforceDefaultTimeout(2*time.Second, 30*time.Second); got != 2*time.Second {
		t.Errorf("EnforceDefaultTimeout(2s) = %v", got)
	}
}
