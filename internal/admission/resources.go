package admission

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
)

// ResourceSnapshot is one reading of host memory and CPU pressure.
type ResourceSnapshot struct {
	MemoryPercent float64
	AvailableMB   uint64
	CPUPercent    float64
}

// ResourceProbe reads host resource usage. Implemented by SystemProbe in
// production and by stubs in tests.
type ResourceProbe interface {
	Snapshot(ctx context.Context) (ResourceSnapshot, error)
}

// SystemProbe reads live host metrics via gopsutil.
type SystemProbe struct{}

// Snapshot returns current memory and CPU usage. CPU percent is measured
// since the previous call, so the first reading after start may be zero.
func (SystemProbe) Snapshot(ctx context.Context) (ResourceSnapshot, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return ResourceSnapshot{}, fmt.Errorf("memory probe: %w", err)
	}

	pcts, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return ResourceSnapshot{}, fmt.Errorf("cpu probe: %w", err)
	}
	cpuPct := 0.0
	if len(pcts) > 0 {
		cpuPct = pcts[0]
	}

	return ResourceSnapshot{
		MemoryPercent: vm.UsedPercent,
		AvailableMB:   vm.Available / (1 << 20),
		CPUPercent:    cpuPct,
	}, nil
}
