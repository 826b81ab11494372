// Copyright (C) 2025 Quantfleet Systems (ops@quantfleet.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package metrics

import (
	"context"
	"fmt"
	"runtime"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	gopsnet "github.com/shirou/gopsutil/v3/net"
)

// hostReadings is one raw observation of host counters. Network
// counters are cumulative; the collector differences them.
type hostReadings struct {
	cpuPercent             float64
	load1, load5, load15   float64
	cores                  int
	memTotal, memUsed      uint64
	memFree                uint64
	diskTotal, diskUsed    uint64
	diskFree               uint64
	netBytesSent           uint64
	netBytesRecv           uint64
	netPacketsSent         uint64
	netPacketsRecv         uint64
}

// hostReader abstracts the OS counter source so collector tests can
// script readings instead of touching the real host.
type hostReader interface {
	Read(ctx context.Context) (hostReadings, error)
}

// gopsutilReader reads real host counters.
type gopsutilReader struct {
	// diskPath is the mount point measured for disk usage.
	diskPath string
}

func (r *gopsutilReader) Read(ctx context.Context) (hostReadings, error) {
	var out hostReadings

	percents, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return out, fmt.Errorf("cpu percent: %w", err)
	}
	if len(percents) > 0 {
		out.cpuPercent = percents[0]
	}
	out.cores = runtime.NumCPU()

	if avg, err := load.AvgWithContext(ctx); err == nil {
		out.load1, out.load5, out.load15 = avg.Load1, avg.Load5, avg.Load15
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return out, fmt.Errorf("virtual memory: %w", err)
	}
	out.memTotal = vm.Total
	out.memUsed = vm.Used
	out.memFree = vm.Total - vm.Used

	du, err := disk.UsageWithContext(ctx, r.diskPath)
	if err != nil {
		return out, fmt.Errorf("disk usage %s: %w", r.diskPath, err)
	}
	out.diskTotal = du.Total
	out.diskUsed = du.Used
	out.diskFree = du.Free

	counters, err := gopsnet.IOCountersWithContext(ctx, false)
	if err != nil {
		return out, fmt.Errorf("net counters: %w", err)
	}
	if len(counters) > 0 {
		out.netBytesSent = counters[0].BytesSent
		out.netBytesRecv = counters[0].BytesRecv
		out.netPacketsSent = counters[0].PacketsSent
		out.netPacketsRecv = counters[0].PacketsRecv
	}

	return out, nil
}

// HostCollector assembles HostBlock values, differencing network
// counters between calls.
//
// # Thread Safety
//
// HostCollector is used from the sampler goroutine only.
type HostCollector struct {
	reader   hostReader
	havePrev bool
	prev     hostReadings
}

// NewHostCollector creates a collector measuring diskPath ("/" when
// empty) for disk usage.
func NewHostCollector(diskPath string) *HostCollector {
	if diskPath == "" {
		diskPath = "/"
	}
	return &HostCollector{reader: &gopsutilReader{diskPath: diskPath}}
}

// Collect reads host counters and returns the block for this sample.
// On the first call, network deltas are zero.
func (c *HostCollector) Collect(ctx context.Context) (HostBlock, error) {
	readings, err := c.reader.Read(ctx)
	if err != nil {
		return HostBlock{}, err
	}

	var heap runtime.MemStats
	runtime.ReadMemStats(&heap)

	block := HostBlock{
		CPUPercent: readings.cpuPercent,
		Load1:      readings.load1,
		Load5:      readings.load5,
		Load15:     readings.load15,
		Cores:      readings.cores,
		Memory: MemoryBlock{
			TotalBytes: readings.memTotal,
			UsedBytes:  readings.memUsed,
			FreeBytes:  readings.memFree,
			HeapBytes:  heap.HeapAlloc,
		},
		Disk: DiskBlock{
			TotalBytes: readings.diskTotal,
			UsedBytes:  readings.diskUsed,
			FreeBytes:  readings.diskFree,
		},
	}

	if c.havePrev {
		block.Network = NetworkBlock{
			BytesSent:   counterDelta(readings.netBytesSent, c.prev.netBytesSent),
			BytesRecv:   counterDelta(readings.netBytesRecv, c.prev.netBytesRecv),
			PacketsSent: counterDelta(readings.netPacketsSent, c.prev.netPacketsSent),
			PacketsRecv: counterDelta(readings.netPacketsRecv, c.prev.netPacketsRecv),
		}
	}
	c.prev = readings
	c.havePrev = true

	return block, nil
}

// counterDelta protects against counter resets (interface bounce,
// counter wrap): a lower current reading yields zero, not underflow.
func counterDelta(current, previous uint64) uint64 {
	if current < previous {
		return 0
	}
	return current - previous
}
