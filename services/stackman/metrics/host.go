// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package metrics

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/net"
)

// GopsutilSource is the production HostSource, reading utilization through
// gopsutil. Point-in-time reads only: CPU uses the since-last-call mode so
// the sampler never sleeps inside a tick.
type GopsutilSource struct {
	// DiskPath is the mount to report disk usage for. Defaults to "/".
	DiskPath string
}

var _ HostSource = (*GopsutilSource)(nil)

func (g *GopsutilSource) CPUPercent(ctx context.Context) (float64, error) {
	pcts, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return 0, fmt.Errorf("reading cpu utilization: %w", err)
	}
	if len(pcts) == 0 {
		return 0, fmt.Errorf("no cpu utilization data")
	}
	return pcts[0], nil
}

func (g *GopsutilSource) Memory(ctx context.Context) (used, total uint64, pct float64, err error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("reading memory utilization: %w", err)
	}
	return vm.Used, vm.Total, vm.UsedPercent, nil
}

func (g *GopsutilSource) Disk(ctx context.Context) (used, total uint64, pct float64, err error) {
	path := g.DiskPath
	if path == "" {
		path = "/"
	}
	usage, err := disk.UsageWithContext(ctx, path)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("reading disk utilization for %s: %w", path, err)
	}
	return usage.Used, usage.Total, usage.UsedPercent, nil
}

func (g *GopsutilSource) NetCounters(ctx context.Context) (rx, tx uint64, err error) {
	counters, err := net.IOCountersWithContext(ctx, false)
	if err != nil {
		return 0, 0, fmt.Errorf("reading network counters: %w", err)
	}
	if len(counters) == 0 {
		return 0, 0, fmt.Errorf("no network counter data")
	}
	return counters[0].BytesRecv, counters[0].BytesSent, nil
}
