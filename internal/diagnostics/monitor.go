package diagnostics

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"log/slog"
)

// MemSnapshot captures Go runtime allocator state at a point in time.
type MemSnapshot struct {
	Timestamp    time.Time `json:"timestamp"`
	Mallocs      uint64    `json:"mallocs"`
	Frees        uint64    `json:"frees"`
	TotalAlloc   uint64    `json:"total_alloc"`
	HeapAlloc    uint64    `json:"heap_alloc"`
	NumGC        uint32    `json:"num_gc"`
	PauseTotalNs uint64    `json:"pause_total_ns"`
	Goroutines   int       `json:"goroutines"`
}

// TakeMemSnapshot reads the runtime memory statistics.
func TakeMemSnapshot() MemSnapshot {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return MemSnapshot{
		Timestamp:    time.Now(),
		Mallocs:      ms.Mallocs,
		Frees:        ms.Frees,
		TotalAlloc:   ms.TotalAlloc,
		HeapAlloc:    ms.HeapAlloc,
		NumGC:        ms.NumGC,
		PauseTotalNs: ms.PauseTotalNs,
		Goroutines:   runtime.NumGoroutine(),
	}
}

// Sub returns the counter deltas from earlier to s.
func (s MemSnapshot) Sub(earlier MemSnapshot) MemSnapshot {
	return MemSnapshot{
		Timestamp:    s.Timestamp,
		Mallocs:      s.Mallocs - earlier.Mallocs,
		Frees:        s.Frees - earlier.Frees,
		TotalAlloc:   s.TotalAlloc - earlier.TotalAlloc,
		HeapAlloc:    s.HeapAlloc,
		NumGC:        s.NumGC - earlier.NumGC,
		PauseTotalNs: s.PauseTotalNs - earlier.PauseTotalNs,
		Goroutines:   s.Goroutines,
	}
}

// HostSample is one periodic reading of host load.
type HostSample struct {
	Timestamp  time.Time `json:"timestamp"`
	CPUPercent float64   `json:"cpu_percent"`
	MemPercent float64   `json:"mem_percent"`
	LoadAvg1   float64   `json:"load_avg_1"`
}

// HostSummary aggregates the samples of one sampling window.
type HostSummary struct {
	Samples    int
	MeanCPU    float64
	MaxCPU     float64
	MeanMem    float64
	MaxLoadAvg float64
}

// HostSampler records host samples on a ticker between Start and Stop.
type HostSampler struct {
	interval    time.Duration
	historySize int
	collector   *SystemMetricsCollector
	logger      *slog.Logger

	history []HostSample
	mu      sync.RWMutex

	stopCh  chan struct{}
	done    chan struct{}
	stopped atomic.Bool
}

// NewHostSampler creates a sampler. It samples once immediately on Start.
func NewHostSampler(interval time.Duration, historySize int, collector *SystemMetricsCollector, logger *slog.Logger) *HostSampler {
	if historySize <= 0 {
		historySize = 600
	}
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	if collector == nil {
		collector = NewSystemMetricsCollector()
	}
	return &HostSampler{
		interval:    interval,
		historySize: historySize,
		collector:   collector,
		logger:      logger,
		history:     make([]HostSample, 0, historySize),
		stopCh:      make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// Start begins periodic sampling.
func (s *HostSampler) Start(ctx context.Context) {
	// Prime the CPU delta so the first recorded sample is meaningful.
	s.collector.Collect()

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				s.record(s.take())
				return
			case <-ticker.C:
				s.record(s.take())
			}
		}
	}()
}

// Stop halts sampling, waits for the loop to exit and returns the summary.
func (s *HostSampler) Stop() HostSummary {
	if s.stopped.CompareAndSwap(false, true) {
		close(s.stopCh)
		<-s.done
	}
	return s.Summary()
}

func (s *HostSampler) take() HostSample {
	m := s.collector.Collect()
	return HostSample{
		Timestamp:  time.Now(),
		CPUPercent: m.CPUPercent,
		MemPercent: m.MemPercent,
		LoadAvg1:   m.LoadAvg1,
	}
}

func (s *HostSampler) record(sample HostSample) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.history = append(s.history, sample)
	if len(s.history) > s.historySize {
		s.history = s.history[len(s.history)-s.historySize:]
	}
	if s.logger != nil {
		s.logger.Debug("host sample", "cpu_percent", sample.CPUPercent, "load_avg_1", sample.LoadAvg1)
	}
}

// History returns the recorded samples.
func (s *HostSampler) History() []HostSample {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]HostSample, len(s.history))
	copy(out, s.history)
	return out
}

// Summary aggregates the recorded samples.
func (s *HostSampler) Summary() HostSummary {
	history := s.History()
	sum := HostSummary{Samples: len(history)}
	if len(history) == 0 {
		return sum
	}
	var cpuTotal, memTotal float64
	for _, h := range history {
		cpuTotal += h.CPUPercent
		memTotal += h.MemPercent
		if h.CPUPercent > sum.MaxCPU {
			sum.MaxCPU = h.CPUPercent
		}
		if h.LoadAvg1 > sum.MaxLoadAvg {
			sum.MaxLoadAvg = h.LoadAvg1
		}
	}
	sum.MeanCPU = cpuTotal / float64(len(history))
	sum.MeanMem = memTotal / float64(len(history))
	return sum
}
