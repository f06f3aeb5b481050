// Package sysinfo reports process-level telemetry for loom.
package sysinfo

import (
	"encoding/json"
	"os"
	"runtime"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/teranos/loom/errors"
)

// Info is one telemetry snapshot of the running process.
type Info struct {
	CPUPercent float64 `json:"cpu_percent"`
	RSSBytes   uint64  `json:"rss_bytes"`
	Goroutines int     `json:"goroutines"`
	PID        int32   `json:"pid"`
}

// Collector samples the current process. The CPU percentage is the average
// over the process lifetime, not over the time since the previous Snapshot.
type Collector struct {
	proc *process.Process
}

// NewCollector attaches to the current process.
func NewCollector() (*Collector, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, errors.Wrap(err, "failed to open own process")
	}
	return &Collector{proc: proc}, nil
}

// Snapshot returns the current telemetry.
func (c *Collector) Snapshot() (Info, error) {
	info := Info{
		Goroutines: runtime.NumGoroutine(),
		PID:        c.proc.Pid,
	}

	cpu, err := c.proc.CPUPercent()
	if err != nil {
		return info, errors.Wrap(err, "failed to read cpu percent")
	}
	info.CPUPercent = cpu

	mem, err := c.proc.MemoryInfo()
	if err != nil {
		return info, errors.Wrap(err, "failed to read memory info")
	}
	info.RSSBytes = mem.RSS

	return info, nil
}

// JSON renders a snapshot for telemetry replies.
func (i Info) JSON() string {
	b, err := json.Marshal(i)
	if err != nil {
		return "{}"
	}
	return string(b)
}
