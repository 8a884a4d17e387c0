package worker

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
)

// Counters are the threading totals a benchmark reports.
type Counters struct {
	WorkItems   atomic.Int64
	Contentions atomic.Int64
}

// Benchmark executes ops operations of one synthetic case.
type Benchmark func(ctx context.Context, ops int64, params map[string]string, counters *Counters) error

// Benchmarks maps case methods to their implementation.
var Benchmarks = map[string]Benchmark{
	"Allocate": Allocate,
	"Contend":  Contend,
}

var sink atomic.Value

// Allocate allocates a buffer of "size" bytes per operation.
func Allocate(ctx context.Context, ops int64, params map[string]string, _ *Counters) error {
	size, err := intParam(params, "size", 1024)
	if err != nil {
		return err
	}
	if size < 1 {
		return fmt.Errorf("size must be positive, got %d", size)
	}
	for i := int64(0); i < ops; i++ {
		if i%1024 == 0 && ctx.Err() != nil {
			return ctx.Err()
		}
		buf := make([]byte, size)
		buf[0] = byte(i)
		sink.Store(buf)
	}
	return nil
}

// Contend shares one mutex between "goroutines" workers. Every operation is
// one work item; a failed TryLock counts as a contention.
func Contend(ctx context.Context, ops int64, params map[string]string, counters *Counters) error {
	workers, err := intParam(params, "goroutines", 4)
	if err != nil {
		return err
	}
	if workers < 1 {
		return fmt.Errorf("goroutines must be positive, got %d", workers)
	}

	var (
		mu      sync.Mutex
		shared  int64
		next    atomic.Int64
		wg      sync.WaitGroup
		stopped atomic.Bool
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for next.Add(1) <= ops {
				if stopped.Load() {
					return
				}
				if !mu.TryLock() {
					counters.Contentions.Add(1)
					mu.Lock()
				}
				shared++
				mu.Unlock()
				counters.WorkItems.Add(1)
			}
		}()
	}
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		stopped.Store(true)
		<-done
		return ctx.Err()
	}
}

func intParam(params map[string]string, name string, def int) (int, error) {
	raw, ok := params[name]
	if !ok || raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("parameter %s: %w", name, err)
	}
	return n, nil
}
