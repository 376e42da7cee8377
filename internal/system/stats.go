package system

import (
	"os"
	"runtime"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// Snapshot is a point-in-time view of process and host resources, printed
// in the render performance report.
type Snapshot struct {
	RSSBytes       uint64
	CPUPercent     float64
	Goroutines     int
	LogicalCPUs    int
	HostUsedPct    float64
	HostTotalBytes uint64
}

// TakeSnapshot samples the current process. Fields gopsutil cannot read on
// this platform stay zero.
func TakeSnapshot() Snapshot {
	snap := Snapshot{Goroutines: runtime.NumGoroutine()}

	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if info, err := proc.MemoryInfo(); err == nil && info != nil {
			snap.RSSBytes = info.RSS
		}
		if pct, err := proc.CPUPercent(); err == nil {
			snap.CPUPercent = pct
		}
	}
	if n, err := cpu.Counts(true); err == nil {
		snap.LogicalCPUs = n
	}
	if vm, err := mem.VirtualMemory(); err == nil && vm != nil {
		snap.HostUsedPct = vm.UsedPercent
		snap.HostTotalBytes = vm.Total
	}
	return snap
}
