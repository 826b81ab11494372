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
)

// CommandError reports a failed external command with enough context
// to debug it from a log line: the command, its exit code, and the
// tail of stderr.
//
// # Description
//
// Recovery steps and failover script actions run external processes.
// A bare exec error ("exit status 1") is useless in an incident
// review, so the runners wrap failures in CommandError and keep the
// captured stderr.
type CommandError struct {
	// Command is the command line that failed.
	Command string

	// ExitCode is the process exit code, or -1 if the process did not
	// run to completion (timeout, kill, start failure).
	ExitCode int

	// Stderr holds captured standard error output, possibly truncated.
	Stderr string

	// Err is the underlying error from the exec layer.
	Err error
}

// maxStderrInError bounds how much stderr an error message carries.
const maxStderrInError = 512

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("command %q failed (exit %d)", e.Command, e.ExitCode)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		if len(s) > maxStderrInError {
			s = s[len(s)-maxStderrInError:]
		}
		msg += ": " + s
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// NewCommandError builds a CommandError.
func NewCommandError(command string, exitCode int, stderr string, err error) *CommandError {
	return &CommandError{Command: command, ExitCode: exitCode, Stderr: stderr, Err: err}
}

// ExitCodeOf extracts the exit code from an error chain containing a
// CommandError. Returns -1 when no CommandError is present.
func ExitCodeOf(err error) int {
	var ce *CommandError
	if errors.As(err, &ce) {
		return ce.ExitCode
	}
	return -1
}
