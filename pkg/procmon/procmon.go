// Package procmon probes live OS resource usage for a PID, grounded on the
// gopsutil-based system monitors in the pack (emergent-company/emergent's
// syshealth monitor, the DataDog and stone-age-io process agents) rather
// than the teacher's runtime.MemStats-based ResourceMonitor, which only
// sees the current process and cannot inspect a spawned child.
package procmon

import (
	"github.com/shirou/gopsutil/v3/process"
)

// Usage is a resource snapshot for a single process.
type Usage struct {
	CPUPercent float64
	MemoryMB   float64
}

// Monitor probes resource usage by PID.
type Monitor interface {
	// GetResourceUsage returns the current usage for pid, or ok=false if
	// the process is gone or unreadable. Failures are swallowed here; the
	// Health Analyzer treats ok=false as zero usage.
	GetResourceUsage(pid int32) (Usage, bool)
}

// OSMonitor implements Monitor via gopsutil.
type OSMonitor struct{}

// NewOSMonitor creates a gopsutil-backed Monitor.
func NewOSMonitor() *OSMonitor { return &OSMonitor{} }

// GetResourceUsage reads CPU% (since process start, non-blocking) and RSS
// in MB for pid. Any error (permission denied, process exited between the
// spawn and the probe) is swallowed and reported as ok=false.
func (m *OSMonitor) GetResourceUsage(pid int32) (Usage, bool) {
	proc, err := process.NewProcess(pid)
	if err != nil {
		return Usage{}, false
	}

	cpuPercent, err := proc.CPUPercent()
	if err != nil {
		return Usage{}, false
	}

	memInfo, err := proc.MemoryInfo()
	if err != nil || memInfo == nil {
		return Usage{}, false
	}

	return Usage{
		CPUPercent: cpuPercent,
		MemoryMB:   float64(memInfo.RSS) / (1024 * 1024),
	}, true
}
