package resilience

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/mailgun/holster/v4/setter"
	"golang.org/x/sync/semaphore"
)

// BulkheadConfig configures the bulkhead.
type BulkheadConfig struct {
	// MaxConcurrent is the number of operations allowed to run at once.
	// Default: 3
	MaxConcurrent int

	// MaxWait bounds how long Acquire waits for a slot before returning
	// ErrBulkheadFull. Zero fails immediately.
	MaxWait time.Duration

	// WaitForSlot makes Acquire block until a slot frees or ctx ends,
	// ignoring MaxWait. Batch lookups queue this way.
	WaitForSlot bool
}

// Bulkhead caps how many operations run concurrently.
type Bulkhead struct {
	config BulkheadConfig
	sem    *semaphore.Weighted

	active    atomic.Int64
	maxActive atomic.Int64
	waiting   atomic.Int64
	rejected  atomic.Int64
}

// NewBulkhead creates a bulkhead with MaxConcurrent slots.
func NewBulkhead(config BulkheadConfig) *Bulkhead {
	if config.MaxConcurrent < 0 {
		config.MaxConcurrent = 0
	}
	setter.SetDefault(&config.MaxConcurrent, 3)

	return &Bulkhead{
		config: config,
		sem:    semaphore.NewWeighted(int64(config.MaxConcurrent)),
	}
}

// Acquire takes a slot. Without WaitForSlot or MaxWait it returns
// ErrBulkheadFull when none is free. A cancelled ctx returns ctx.Err().
func (b *Bulkhead) Acquire(ctx context.Context) error {
	if b.sem.TryAcquire(1) {
		b.acquired()
		return nil
	}

	waitCtx := ctx
	switch {
	case b.config.WaitForSlot:
	case b.config.MaxWait > 0:
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, b.config.MaxWait)
		defer cancel()
	default:
		b.rejected.Add(1)
		return ErrBulkheadFull
	}

	b.waiting.Add(1)
	err := b.sem.Acquire(waitCtx, 1)
	b.waiting.Add(-1)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		b.rejected.Add(1)
		return ErrBulkheadFull
	}
	b.acquired()
	return nil
}

func (b *Bulkhead) acquired() {
	n := b.active.Add(1)
	for {
		peak := b.maxActive.Load()
		if n <= peak || b.maxActive.CompareAndSwap(peak, n) {
			return
		}
	}
}

// Release returns a slot taken by Acquire. Extra calls are ignored.
func (b *Bulkhead) Release() {
	for {
		n := b.active.Load()
		if n <= 0 {
			return
		}
		if b.active.CompareAndSwap(n, n-1) {
			break
		}
	}
	b.sem.Release(1)
}

// Execute runs op while holding a slot.
func (b *Bulkhead) Execute(ctx context.Context, op func(context.Context) error) error {
	if err := b.Acquire(ctx); err != nil {
		return err
	}
	defer b.Release()

	return op(ctx)
}

// Metrics returns a snapshot of slot usage.
func (b *Bulkhead) Metrics() BulkheadMetrics {
	active := int(b.active.Load())
	return BulkheadMetrics{
		Active:        active,
		MaxActive:     int(b.maxActive.Load()),
		Available:     max(b.config.MaxConcurrent-active, 0),
		MaxConcurrent: b.config.MaxConcurrent,
		Waiting:       int(b.waiting.Load()),
		Rejected:      b.rejected.Load(),
	}
}

// BulkheadMetrics is a snapshot of a Bulkhead.
type BulkheadMetrics struct {
	Active        int
	MaxActive     int
	Available     int
	MaxConcurrent int

	// Waiting is the number of callers queued for a slot.
	Waiting int

	// Rejected counts callers turned away with ErrBulkheadFull.
	Rejected int64
}
