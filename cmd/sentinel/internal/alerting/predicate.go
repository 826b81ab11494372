// Copyright (C) 2025 Quantfleet Systems (ops@quantfleet.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package alerting

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/quantfleet/sentinel/cmd/sentinel/internal/metrics"
)

// FieldSelector is the closed set of snapshot fields a rule can
// reference. The textual form in rule expressions is only a label;
// evaluation dispatches on this enum.
type FieldSelector int

const (
	FieldUnknown FieldSelector = iota
	FieldCPUUsage
	FieldMemoryUsage
	FieldDiskUsage
	FieldDrawdownCurrent
	FieldPnLDaily
)

// String returns the expression label of the selector.
func (f FieldSelector) String() string {
	switch f {
	case FieldCPUUsage:
		return "cpu.usage"
	case FieldMemoryUsage:
		return "memory.usage"
	case FieldDiskUsage:
		return "disk.usage"
	case FieldDrawdownCurrent:
		return "drawdown.current"
	case FieldPnLDaily:
		return "pnl.daily"
	default:
		return "unknown"
	}
}

func parseField(s string) FieldSelector {
	switch s {
	case "cpu.usage":
		return FieldCPUUsage
	case "memory.usage":
		return FieldMemoryUsage
	case "disk.usage":
		return FieldDiskUsage
	case "drawdown.current":
		return FieldDrawdownCurrent
	case "pnl.daily":
		return FieldPnLDaily
	default:
		return FieldUnknown
	}
}

// Operator is a threshold comparator.
type Operator int

const (
	OpGreater Operator = iota
	OpGreaterEqual
	OpLess
	OpLessEqual
	OpEqual
)

// String returns the expression form of the operator.
func (o Operator) String() string {
	switch o {
	case OpGreater:
		return ">"
	case OpGreaterEqual:
		return ">="
	case OpLess:
		return "<"
	case OpLessEqual:
		return "<="
	case OpEqual:
		return "=="
	default:
		return "?"
	}
}

// Apply evaluates value against threshold.
func (o Operator) Apply(value, threshold float64) bool {
	switch o {
	case OpGreater:
		return value > threshold
	case OpGreaterEqual:
		return value >= threshold
	case OpLess:
		return value < threshold
	case OpLessEqual:
		return value <= threshold
	case OpEqual:
		return value == threshold
	default:
		return false
	}
}

// ParseExpression parses a rule condition like "cpu.usage > 80" into
// its selector, operator, and threshold.
func ParseExpression(expr string) (FieldSelector, Operator, float64, error) {
	parts := strings.Fields(strings.TrimSpace(expr))
	if len(parts) != 3 {
		return FieldUnknown, OpGreater, 0,
			fmt.Errorf("condition %q: want \"<field> <op> <number>\"", expr)
	}

	field := parseField(parts[0])
	if field == FieldUnknown {
		return FieldUnknown, OpGreater, 0, fmt.Errorf("condition %q: unknown field %q", expr, parts[0])
	}

	var op Operator
	switch parts[1] {
	case ">":
		op = OpGreater
	case ">=":
		op = OpGreaterEqual
	case "<":
		op = OpLess
	case "<=":
		op = OpLessEqual
	case "==", "=":
		op = OpEqual
	default:
		return FieldUnknown, OpGreater, 0, fmt.Errorf("condition %q: unknown operator %q", expr, parts[1])
	}

	threshold, err := strconv.ParseFloat(parts[2], 64)
	if err != nil {
		return FieldUnknown, OpGreater, 0, fmt.Errorf("condition %q: bad threshold: %w", expr, err)
	}

	return field, op, threshold, nil
}

// ResolveField extracts the selected value from a snapshot. The
// second return is false for selectors this snapshot cannot answer
// (zero-total memory or disk from a failed host collection).
func ResolveField(snap metrics.Snapshot, field FieldSelector) (float64, bool) {
	switch field {
	case FieldCPUUsage:
		return snap.Host.CPUPercent, true
	case FieldMemoryUsage:
		if snap.Host.Memory.TotalBytes == 0 {
			return 0, false
		}
		return float64(snap.Host.Memory.UsedBytes) / float64(snap.Host.Memory.TotalBytes) * 100, true
	case FieldDiskUsage:
		if snap.Host.Disk.TotalBytes == 0 {
			return 0, false
		}
		return float64(snap.Host.Disk.UsedBytes) / float64(snap.Host.Disk.TotalBytes) * 100, true
	case FieldDrawdownCurrent:
		return snap.Domain.Drawdown.Current, true
	case FieldPnLDaily:
		return snap.Domain.Performance.PnLDaily, true
	default:
		return 0, false
	}
}

// BuildPayload extracts the alert payload subset from a snapshot.
func BuildPayload(snap metrics.Snapshot) *Payload {
	p := &Payload{
		CPUPercent:      snap.Host.CPUPercent,
		DrawdownCurrent: snap.Domain.Drawdown.Current,
		PnLDaily:        snap.Domain.Performance.PnLDaily,
	}
	if v, ok := ResolveField(snap, FieldMemoryUsage); ok {
		p.MemoryUsagePct = v
	}
	if v, ok := ResolveField(snap, FieldDiskUsage); ok {
		p.DiskUsagePct = v
	}
	return p
}
