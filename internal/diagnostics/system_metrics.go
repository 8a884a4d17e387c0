package diagnostics

import (
	"strings"
	"sync"

	"github.com/jaypipes/ghw"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
)

// SystemMetrics holds host-wide resource usage.
type SystemMetrics struct {
	// CPU
	CPUModel   string  `json:"cpu_model"`
	CPUCores   int     `json:"cpu_cores"`
	CPUThreads int     `json:"cpu_threads"`
	CPUPercent float64 `json:"cpu_percent"`

	// Memory (in MB)
	MemTotalMB float64 `json:"mem_total_mb"`
	MemUsedMB  float64 `json:"mem_used_mb"`
	MemPercent float64 `json:"mem_percent"`

	// Load Average (Unix)
	LoadAvg1  float64 `json:"load_avg_1"`
	LoadAvg5  float64 `json:"load_avg_5"`
	LoadAvg15 float64 `json:"load_avg_15"`
}

// Topology describes the physical CPU layout of the host.
type Topology struct {
	Packages int    `json:"packages"`
	Cores    int    `json:"cores"`
	Threads  int    `json:"threads"`
	Vendor   string `json:"vendor,omitempty"`
	Model    string `json:"model,omitempty"`
}

// SystemMetricsCollector collects host statistics. The CPU layout is read
// once; usage figures are read on every Collect.
type SystemMetricsCollector struct {
	mu       sync.Mutex
	topology sync.Once
	topo     Topology
	last     cpuSample
}

// cpuSample is a cumulative busy/total reading of all CPUs, in seconds.
type cpuSample struct {
	busy, total float64
}

func readCPUSample() (cpuSample, bool) {
	times, err := cpu.Times(false)
	if err != nil || len(times) == 0 {
		return cpuSample{}, false
	}
	t := times[0]
	idle := t.Idle + t.Iowait
	total := idle + t.User + t.Nice + t.System + t.Irq + t.Softirq + t.Steal
	return cpuSample{busy: total - idle, total: total}, true
}

// percentSince returns the busy share between prev and s.
func (s cpuSample) percentSince(prev cpuSample) float64 {
	if prev.total == 0 || s.total <= prev.total {
		return 0
	}
	return (s.busy - prev.busy) / (s.total - prev.total) * 100
}

// NewSystemMetricsCollector creates a new system metrics collector.
func NewSystemMetricsCollector() *SystemMetricsCollector {
	return &SystemMetricsCollector{}
}

// Collect gathers current statistics. CPU percent is the busy share since the
// previous call and is zero on the first one.
func (c *SystemMetricsCollector) Collect() SystemMetrics {
	c.topology.Do(func() { c.topo = HostTopology() })

	stats := SystemMetrics{
		CPUModel:   strings.TrimSpace(c.topo.Model),
		CPUCores:   c.topo.Cores,
		CPUThreads: c.topo.Threads,
	}

	c.mu.Lock()
	if sample, ok := readCPUSample(); ok {
		stats.CPUPercent = sample.percentSince(c.last)
		c.last = sample
	}
	c.mu.Unlock()

	if vm, err := mem.VirtualMemory(); err == nil {
		stats.MemTotalMB = float64(vm.Total) / (1 << 20)
		stats.MemUsedMB = float64(vm.Used) / (1 << 20)
		stats.MemPercent = vm.UsedPercent
	}
	if avg, err := load.Avg(); err == nil {
		stats.LoadAvg1, stats.LoadAvg5, stats.LoadAvg15 = avg.Load1, avg.Load5, avg.Load15
	}
	return stats
}

// HostTopology reads the CPU layout through ghw, falling back to gopsutil
// counts when ghw cannot inspect the host.
func HostTopology() Topology {
	topo := Topology{}
	if info, err := ghw.CPU(ghw.WithDisableWarnings()); err == nil && info != nil {
		topo.Packages = len(info.Processors)
		topo.Cores = int(info.TotalCores)
		topo.Threads = int(info.TotalHardwareThreads)
		if len(info.Processors) > 0 {
			topo.Vendor = info.Processors[0].Vendor
			topo.Model = info.Processors[0].Model
		}
	}
	if topo.Threads == 0 {
		if threads, err := cpu.Counts(true); err == nil {
			topo.Threads = threads
		}
	}
	if topo.Cores == 0 {
		if cores, err := cpu.Counts(false); err == nil {
			topo.Cores = cores
		}
	}
	return topo
}
