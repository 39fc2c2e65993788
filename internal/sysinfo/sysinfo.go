// Package sysinfo collects host and process health snapshots for the
// periodic system info publication.
package sysinfo

import (
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// cacheDuration bounds how often the host is re-queried; callers may
// poll faster than the metrics are worth refreshing.
const cacheDuration = 30 * time.Second

// Info is one health snapshot of the host and the watchdog process.
type Info struct {
	Timestamp       time.Time `json:"timestamp"`
	Hostname        string    `json:"hostname"`
	Platform        string    `json:"platform,omitempty"`
	HostUptimeSecs  uint64    `json:"host_uptime_secs"`
	Load1           float64   `json:"load1"`
	Load5           float64   `json:"load5"`
	Load15          float64   `json:"load15"`
	MemUsedPct      float64   `json:"mem_used_pct"`
	MemTotalMB      float64   `json:"mem_total_mb"`
	ProcUptimeSecs  int64     `json:"proc_uptime_secs"`
	ProcCPUPct      float64   `json:"proc_cpu_pct"`
	ProcMemoryMB    float64   `json:"proc_memory_mb"`
	Goroutines      int       `json:"goroutines"`
	DegradedReason  string    `json:"degraded_reason,omitempty"`
}

// Collector gathers Info snapshots with caching.
type Collector struct {
	startTime time.Time

	mu          sync.RWMutex
	cached      *Info
	cacheExpiry time.Time
}

// NewCollector creates a collector anchored to the current time for
// process uptime reporting.
func NewCollector() *Collector {
	return &Collector{startTime: time.Now()}
}

// Collect returns a health snapshot, refreshed at most every 30s.
// Individual metric failures degrade to zero values rather than
// failing the whole snapshot.
func (c *Collector) Collect() Info {
	c.mu.RLock()
	if c.cached != nil && time.Now().Before(c.cacheExpiry) {
		info := *c.cached
		c.mu.RUnlock()
		return info
	}
	c.mu.RUnlock()

	info := c.collect()

	c.mu.Lock()
	c.cached = &info
	c.cacheExpiry = time.Now().Add(cacheDuration)
	c.mu.Unlock()

	return info
}

func (c *Collector) collect() Info {
	info := Info{
		Timestamp:      time.Now(),
		ProcUptimeSecs: int64(time.Since(c.startTime).Seconds()),
		Goroutines:     runtime.NumGoroutine(),
	}

	if hostname, err := os.Hostname(); err == nil {
		info.Hostname = hostname
	}

	if hi, err := host.Info(); err == nil {
		info.Platform = hi.Platform
		info.HostUptimeSecs = hi.Uptime
	}

	if avg, err := load.Avg(); err == nil {
		info.Load1 = avg.Load1
		info.Load5 = avg.Load5
		info.Load15 = avg.Load15
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		info.MemUsedPct = vm.UsedPercent
		info.MemTotalMB = float64(vm.Total) / (1024 * 1024)
	}

	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if cpu, err := proc.CPUPercent(); err == nil {
			info.ProcCPUPct = cpu
		}
		if pm, err := proc.MemoryInfo(); err == nil {
			info.ProcMemoryMB = float64(pm.RSS) / (1024 * 1024)
		}
	}

	if info.MemUsedPct > 90 {
		info.DegradedReason = "host memory pressure"
	} else if info.ProcCPUPct > 90 {
		info.DegradedReason = "process cpu saturation"
	}

	return info
}
