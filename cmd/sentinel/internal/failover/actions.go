// Copyright (C) 2025 Quantfleet Systems (ops@quantfleet.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package failover

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/quantfleet/sentinel/cmd/sentinel/internal/config"
	"github.com/quantfleet/sentinel/cmd/sentinel/internal/util"
	"github.com/quantfleet/sentinel/pkg/logging"
)

const defaultActionTimeout = 60 * time.Second

// Hooks are the orchestrator-provided effects an action set cannot
// perform on its own.
type Hooks struct {
	// FailoverComponent promotes a standby for the named component.
	FailoverComponent func(ctx context.Context, target string, params map[string]string) error

	// Notify raises an operator notification.
	Notify func(severity, category, title, message string)
}

// ActionSet dispatches failover actions by type.
type ActionSet struct {
	hooks Hooks
	log   *logging.Logger
}

// NewActionSet builds the dispatcher. A nil hooks value leaves the
// failover-component and notify actions as logged no-ops, which is
// only acceptable in tests.
func NewActionSet(hooks *Hooks, log *logging.Logger) *ActionSet {
	set := &ActionSet{log: log}
	if hooks != nil {
		set.hooks = *hooks
	}
	return set
}

// Run executes one action.
func (s *ActionSet) Run(ctx context.Context, action config.FailoverAction) error {
	timeout := action.Timeout()
	if timeout <= 0 {
		timeout = defaultActionTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	switch action.Type {
	case "failover-component":
		if s.hooks.FailoverComponent == nil {
			s.log.Warn("no failover hook wired, skipping", "target", action.Target)
			return nil
		}
		return s.hooks.FailoverComponent(ctx, action.Target, action.Parameters)
	case "notify":
		if s.hooks.Notify == nil {
			s.log.Warn("no notify hook wired, skipping", "target", action.Target)
			return nil
		}
		severity := action.Parameters["severity"]
		if severity == "" {
			severity = "warning"
		}
		s.hooks.Notify(severity, "failover", action.Target, action.Parameters["message"])
		return nil
	case "execute-script":
		return s.runScript(ctx, action)
	case "update-config":
		return updateConfigFile(action.Target, action.Parameters)
	default:
		return fmt.Errorf("unknown action type %q", action.Type)
	}
}

// runScript shells out the action target and maps failures onto
// util.CommandError so callers can inspect the exit code.
func (s *ActionSet) runScript(ctx context.Context, action config.FailoverAction) error {
	cmd := exec.CommandContext(ctx, "sh", "-c", action.Target)
	cmd.Env = os.Environ()
	for k, v := range action.Parameters {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return &util.CommandError{
			Command:  action.Target,
			ExitCode: util.ExitCodeOf(err),
			Stderr:   stderr.String(),
			Err:      err,
		}
	}
	return nil
}

// updateConfigFile merges dotted-key parameters into a YAML document
// in place. The write goes through a temp file and rename so a crash
// cannot leave a half-written config.
func updateConfigFile(path string, params map[string]string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("update-config: read %s: %w", path, err)
	}
	doc := make(map[string]any)
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("update-config: parse %s: %w", path, err)
	}

	for key, value := range params {
		setDotted(doc, strings.Split(key, "."), value)
	}

	out, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("update-config: encode: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, out, 0640); err != nil {
		return fmt.Errorf("update-config: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("update-config: replace %s: %w", path, err)
	}
	return nil
}

func setDotted(doc map[string]any, keys []string, value string) {
	if len(keys) == 1 {
		doc[keys[0]] = value
		return
	}
	child, ok := doc[keys[0]].(map[string]any)
	if !ok {
		child = make(map[string]any)
		doc[keys[0]] = child
	}
	setDotted(child, keys[1:], value)
}
