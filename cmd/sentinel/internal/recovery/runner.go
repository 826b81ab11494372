// Copyright (C) 2025 Quantfleet Systems (ops@quantfleet.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package recovery

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"

	"github.com/quantfleet/sentinel/cmd/sentinel/internal/config"
	"github.com/quantfleet/sentinel/cmd/sentinel/internal/util"
)

// StepRunner executes one recovery step command.
type StepRunner interface {
	Run(ctx context.Context, step config.RecoveryStep) (output string, err error)
}

// ExecRunner runs step commands through the shell. Each command gets
// its own process group so a timeout kills the whole tree, not just
// the shell.
type ExecRunner struct{}

// Run implements StepRunner.
func (ExecRunner) Run(ctx context.Context, step config.RecoveryStep) (string, error) {
	cmd := exec.Command("sh", "-c", step.Command)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Env = os.Environ()
	for k, v := range step.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}

	var out bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("start %q: %w", step.ID, err)
	}

	waitErr := make(chan error, 1)
	go func() { waitErr <- cmd.Wait() }()

	select {
	case <-ctx.Done():
		syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		<-waitErr
		return out.String(), fmt.Errorf("step %q: %w", step.ID, ctx.Err())
	case err := <-waitErr:
		if err != nil {
			return out.String(), &util.CommandError{
				Command:  step.Command,
				ExitCode: util.ExitCodeOf(err),
				Stderr:   stderr.String(),
				Err:      err,
			}
		}
		return out.String(), nil
	}
}

// MockRunner replays scripted outcomes keyed by step ID and records
// the order steps were attempted in.
type MockRunner struct {
	mu sync.Mutex

	// Outcomes maps step ID to the error each attempt returns. A
	// missing entry succeeds.
	Outcomes map[string]error

	// FailFirstN fails the first N attempts of a step even when its
	// Outcomes entry is nil, to exercise retry paths.
	FailFirstN map[string]int

	Calls []string

	attempts map[string]int
}

// Run implements StepRunner.
func (m *MockRunner) Run(_ context.Context, step config.RecoveryStep) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, step.ID)
	if m.attempts == nil {
		m.attempts = make(map[string]int)
	}
	m.attempts[step.ID]++

	if n, ok := m.FailFirstN[step.ID]; ok && m.attempts[step.ID] <= n {
		return "", fmt.Errorf("scripted transient failure %d of %q", m.attempts[step.ID], step.ID)
	}
	if err := m.Outcomes[step.ID]; err != nil {
		return "", err
	}
	return "ok", nil
}

// Attempts returns how many times a step was tried.
func (m *MockRunner) Attempts(stepID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts[stepID]
}
