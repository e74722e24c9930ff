package transcoder

import (
	"fmt"

	"github.com/shirou/gopsutil/v4/process"
)

// ProcessStats is a point-in-time resource snapshot of a pipeline process.
type ProcessStats struct {
	PID        int     `json:"pid"`
	CPUPercent float64 `json:"cpu_percent"`
	RSSBytes   uint64  `json:"rss_bytes"`
	NumThreads int32   `json:"num_threads"`
}

// Snapshot samples CPU and memory usage of the given process.
func Snapshot(pid int) (*ProcessStats, error) {
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return nil, fmt.Errorf("finding process %d: %w", pid, err)
	}

	stats := &ProcessStats{PID: pid}
	if cpu, err := proc.CPUPercent(); err == nil {
		stats.CPUPercent = cpu
	}
	if mem, err := proc.MemoryInfo(); err == nil && mem != nil {
		stats.RSSBytes = mem.RSS
	}
	if threads, err := proc.NumThreads(); err == nil {
		stats.NumThreads = threads
	}
	return stats, nil
}
