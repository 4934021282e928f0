package logger

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

type componentStat struct {
	warns  int64
	errors int64
}

var (
	pagesFetched   int64
	rowsFetched    int64
	throttleEvents int64
	retryEvents    int64
	filesWritten   int64
	bytesWritten   int64
	components     sync.Map // map[string]*componentStat
)

func componentStats(component string) *componentStat {
	v, _ := components.LoadOrStore(component, &componentStat{})
	return v.(*componentStat)
}

func recordWarn(component string) {
	atomic.AddInt64(&componentStats(component).warns, 1)
}

func recordError(component string) {
	atomic.AddInt64(&componentStats(component).errors, 1)
}

// IncrementPageFetched records one decoded kline page of the given row count.
func IncrementPageFetched(rows int) {
	atomic.AddInt64(&pagesFetched, 1)
	atomic.AddInt64(&rowsFetched, int64(rows))
}

func IncrementThrottle() {
	atomic.AddInt64(&throttleEvents, 1)
}

func IncrementRetry() {
	atomic.AddInt64(&retryEvents, 1)
}

// IncrementFileWritten records a persisted artifact and its size in bytes.
func IncrementFileWritten(size int64) {
	atomic.AddInt64(&filesWritten, 1)
	atomic.AddInt64(&bytesWritten, size)
}

// Snapshot returns the current report counters.
func Snapshot() Fields {
	warns := map[string]int64{}
	errs := map[string]int64{}
	components.Range(func(k, v any) bool {
		name := k.(string)
		cs := v.(*componentStat)
		warns[name] = atomic.LoadInt64(&cs.warns)
		errs[name] = atomic.LoadInt64(&cs.errors)
		return true
	})

	return Fields{
		"pages_fetched":   atomic.LoadInt64(&pagesFetched),
		"rows_fetched":    atomic.LoadInt64(&rowsFetched),
		"throttle_events": atomic.LoadInt64(&throttleEvents),
		"retry_events":    atomic.LoadInt64(&retryEvents),
		"files_written":   atomic.LoadInt64(&filesWritten),
		"bytes_written":   atomic.LoadInt64(&bytesWritten),
		"warns":           warns,
		"errors":          errs,
	}
}

func startReport(ctx context.Context, log *Log, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		for {
			select {
			case <-ctx.Done():
				ticker.Stop()
				return
			case <-ticker.C:
				logReport(log)
			}
		}
	}()
}

// StartReport begins periodic logging of runtime and fetch statistics until
// ctx is cancelled.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	if interval <= 0 {
		return
	}
	startReport(ctx, log, interval)
}

// LogReport writes a single report record immediately.
func LogReport(log *Log) {
	logReport(log)
}

func logReport(log *Log) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	fields := Snapshot()
	fields["goroutines"] = runtime.NumGoroutine()
	fields["heap_alloc_mb"] = int64(mem.HeapAlloc) / 1024 / 1024
	fields["sys_mb"] = int64(mem.Sys) / 1024 / 1024
	fields["num_gc"] = mem.NumGC

	log.WithComponent("report").WithFields(fields).Info("runtime report")
}
