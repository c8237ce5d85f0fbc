package health

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"runtime/debug"
)

// MemoryCheckerConfig configures the memory health checker.
type MemoryCheckerConfig struct {
	// WarningThreshold is the fraction of the limit at which the process is
	// reported degraded. Default: 0.8
	WarningThreshold float64

	// CriticalThreshold is the fraction of the limit at which the process is
	// reported unhealthy. Default: 0.95
	CriticalThreshold float64

	// Limit is the heap budget in bytes. When zero the Go soft memory limit
	// (GOMEMLIMIT) is used; without either the check always passes.
	Limit uint64
}

// MemoryChecker compares heap usage with the process memory budget. The
// response cache lives on the heap, so a cache sized too large for the
// container shows up here first.
type MemoryChecker struct {
	config MemoryCheckerConfig
}

// NewMemoryChecker creates a new memory health checker.
func NewMemoryChecker(config MemoryCheckerConfig) *MemoryChecker {
	if config.WarningThreshold <= 0 || config.WarningThreshold >= 1 {
		config.WarningThreshold = 0.8
	}
	if config.CriticalThreshold <= 0 || config.CriticalThreshold >= 1 {
		config.CriticalThreshold = 0.95
	}
	if config.CriticalThreshold < config.WarningThreshold {
		config.CriticalThreshold = math.Min(config.WarningThreshold+0.1, 0.99)
	}

	return &MemoryChecker{config: config}
}

// Name returns the name of this checker.
func (m *MemoryChecker) Name() string {
	return "memory"
}

// Check performs the memory health check.
func (m *MemoryChecker) Check(ctx context.Context) Result {
	select {
	case <-ctx.Done():
		return Unhealthy("context cancelled", ctx.Err())
	default:
	}

	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)

	details := map[string]any{
		"heap_in_use":  stats.HeapInuse,
		"heap_objects": stats.HeapObjects,
		"sys":          stats.Sys,
		"num_gc":       stats.NumGC,
		"goroutines":   runtime.NumGoroutine(),
	}

	limit := m.limit()
	if limit == 0 {
		return Healthy("no memory limit configured").WithDetails(details)
	}

	usage := float64(stats.HeapInuse) / float64(limit)
	details["limit"] = limit
	details["usage_percent"] = usage * 100

	switch {
	case usage >= m.config.CriticalThreshold:
		return Unhealthy(fmt.Sprintf("memory usage critical: %.1f%%", usage*100), ErrCheckFailed).WithDetails(details)
	case usage >= m.config.WarningThreshold:
		return Degraded(fmt.Sprintf("memory usage high: %.1f%%", usage*100)).WithDetails(details)
	}
	return Healthy(fmt.Sprintf("memory usage normal: %.1f%%", usage*100)).WithDetails(details)
}

func (m *MemoryChecker) limit() uint64 {
	if m.config.Limit > 0 {
		return m.config.Limit
	}
	// A negative argument reads the limit without changing it.
	soft := debug.SetMemoryLimit(-1)
	if soft <= 0 || soft == math.MaxInt64 {
		return 0
	}
	return uint64(soft)
}
