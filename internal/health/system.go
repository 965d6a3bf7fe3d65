package health

import (
	"context"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/net"
	"github.com/shirou/gopsutil/v3/process"
)

// HostSampler reads system gauges via gopsutil.
type HostSampler struct {
	// DiskPath is the mount point sampled for disk usage. Default "/".
	DiskPath string
}

// NewHostSampler creates a sampler over the root filesystem.
func NewHostSampler() *HostSampler {
	return &HostSampler{DiskPath: "/"}
}

// Sample reads CPU, memory, disk, network and process gauges. Individual
// probe failures skip that gauge rather than failing the pass.
func (h *HostSampler) Sample(ctx context.Context) (map[string]float64, error) {
	out := make(map[string]float64, 6)

	if percents, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(percents) > 0 {
		out["cpu.usage"] = percents[0]
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		out["memory.usage"] = vm.UsedPercent
	}

	path := h.DiskPath
	if path == "" {
		path = "/"
	}
	if du, err := disk.UsageWithContext(ctx, path); err == nil {
		out["disk.usage"] = du.UsedPercent
	}

	if counters, err := net.IOCountersWithContext(ctx, false); err == nil && len(counters) > 0 {
		out["network.bytes_sent"] = float64(counters[0].BytesSent)
		out["network.bytes_recv"] = float64(counters[0].BytesRecv)
	}

	if pids, err := process.PidsWithContext(ctx); err == nil {
		out["process.count"] = float64(len(pids))
	}

	return out, nil
}
