// Copyright (C) 2025 Quantfleet Systems (ops@quantfleet.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package metrics defines the metric snapshot model and the periodic
// sampler that produces snapshots from host counters and trading
// domain state.
package metrics

import "time"

// Snapshot is one immutable observation of host and domain metrics.
//
// Timestamp is milliseconds since the Unix epoch. Within one sampler
// instance timestamps are strictly increasing.
type Snapshot struct {
	Timestamp int64       `json:"timestamp"`
	Host      HostBlock   `json:"host"`
	Domain    DomainBlock `json:"domain"`
}

// Time returns the snapshot timestamp as a time.Time.
func (s Snapshot) Time() time.Time {
	return time.UnixMilli(s.Timestamp).UTC()
}

// HostBlock carries host-level counters.
//
// Network fields are non-negative deltas since the previous sample;
// they are zero on the first sample of a run.
type HostBlock struct {
	CPUPercent float64      `json:"cpu_percent"`
	Load1      float64      `json:"load_1"`
	Load5      float64      `json:"load_5"`
	Load15     float64      `json:"load_15"`
	Cores      int          `json:"cores"`
	Memory     MemoryBlock  `json:"memory"`
	Disk       DiskBlock    `json:"disk"`
	Network    NetworkBlock `json:"network"`
}

// MemoryBlock reports bytes. Used + Free equals Total within the
// rounding the kernel applies.
type MemoryBlock struct {
	TotalBytes uint64 `json:"total_bytes"`
	UsedBytes  uint64 `json:"used_bytes"`
	FreeBytes  uint64 `json:"free_bytes"`
	HeapBytes  uint64 `json:"heap_bytes"`
}

// DiskBlock reports bytes for the storage volume.
type DiskBlock struct {
	TotalBytes uint64 `json:"total_bytes"`
	UsedBytes  uint64 `json:"used_bytes"`
	FreeBytes  uint64 `json:"free_bytes"`
}

// NetworkBlock reports traffic deltas since the previous sample.
type NetworkBlock struct {
	BytesSent   uint64 `json:"bytes_sent"`
	BytesRecv   uint64 `json:"bytes_recv"`
	PacketsSent uint64 `json:"packets_sent"`
	PacketsRecv uint64 `json:"packets_recv"`
}

// DomainBlock carries trading-domain state pulled from the platform.
type DomainBlock struct {
	Equity      EquityBlock           `json:"equity"`
	Drawdown    DrawdownBlock         `json:"drawdown"`
	Positions   PositionsBlock        `json:"positions"`
	Performance PerformanceBlock      `json:"performance"`
	Phases      map[string]PhaseBlock `json:"phases,omitempty"`
}

// EquityBlock reports account equity in account currency.
type EquityBlock struct {
	Total      float64 `json:"total"`
	Available  float64 `json:"available"`
	Unrealized float64 `json:"unrealized"`
}

// DrawdownBlock reports drawdown as fractions of peak equity.
type DrawdownBlock struct {
	Current   float64 `json:"current"`
	Maximum   float64 `json:"maximum"`
	DurationS int64   `json:"duration_s"`
}

// PositionsBlock reports open position counts and total notional.
type PositionsBlock struct {
	Long     int     `json:"long"`
	Short    int     `json:"short"`
	Notional float64 `json:"notional"`
}

// PerformanceBlock reports rolling performance statistics.
type PerformanceBlock struct {
	PnLDaily     float64 `json:"pnl_daily"`
	PnLWeekly    float64 `json:"pnl_weekly"`
	PnLMonthly   float64 `json:"pnl_monthly"`
	WinRate      float64 `json:"win_rate"`
	ProfitFactor float64 `json:"profit_factor"`
	Sharpe       float64 `json:"sharpe"`
}

// PhaseBlock is the reduced-cardinality per-phase view of the domain
// block, keyed by strategy phase name.
type PhaseBlock struct {
	EquityTotal     float64 `json:"equity_total"`
	DrawdownCurrent float64 `json:"drawdown_current"`
	PnLDaily        float64 `json:"pnl_daily"`
	OpenPositions   int     `json:"open_positions"`
}
