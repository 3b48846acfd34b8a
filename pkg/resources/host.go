package resources

import (
	"context"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

const gb = 1 << 30

// Capacity is the host's absolute capacity, used for pre-install checks.
type Capacity struct {
	TotalRAMGb float64 `json:"totalRAMgb"`
	FreeDiskGb float64 `json:"freeDiskGb"`
}

// HostCapacity measures total RAM and free disk on the given mount. Fields a
// measurement fails for stay zero, which callers treat as unknown.
func HostCapacity(ctx context.Context, diskPath string) Capacity {
	var c Capacity
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		c.TotalRAMGb = float64(vm.Total) / gb
	}
	if du, err := disk.UsageWithContext(ctx, diskPath); err == nil {
		c.FreeDiskGb = float64(du.Free) / gb
	}
	return c
}
