package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mailgun/holster/v4/clock"
	"github.com/mailgun/holster/v4/setter"
	"github.com/mailgun/holster/v4/syncutil"

	"github.com/hawkbot/hawkcache/observe"
)

// Purger drops expired entries. Cache and the governor both satisfy it.
type Purger interface {
	PurgeExpired(ctx context.Context) int
}

// JanitorConfig configures a Janitor.
type JanitorConfig struct {
	// Interval between sweeps.
	// Default: 5 minutes
	Interval time.Duration

	// Logger receives a debug line per sweep that removed something.
	Logger observe.Logger
}

// Janitor periodically purges expired entries from a Purger.
type Janitor struct {
	conf   JanitorConfig
	target Purger

	mu     sync.Mutex
	wg     *syncutil.WaitGroup
	sweeps atomic.Int64
	purged atomic.Int64
}

// NewJanitor creates a janitor for target. Call Start to begin sweeping.
func NewJanitor(target Purger, conf JanitorConfig) *Janitor {
	setter.SetDefault(&conf.Interval, 5*time.Minute)
	if conf.Logger == nil {
		conf.Logger = observe.NopLogger()
	}
	return &Janitor{conf: conf, target: target}
}

// Start launches the sweep loop. Calling Start on a running janitor is a no-op.
func (j *Janitor) Start() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.wg != nil {
		return
	}
	j.wg = &syncutil.WaitGroup{}

	j.wg.Until(func(done chan struct{}) bool {
		select {
		case <-clock.After(j.conf.Interval):
			j.Sweep(context.Background())
			return true
		case <-done:
			return false
		}
	})
}

// Stop ends the sweep loop and waits for an in-progress sweep to finish.
func (j *Janitor) Stop() {
	j.mu.Lock()
	wg := j.wg
	j.wg = nil
	j.mu.Unlock()

	if wg != nil {
		wg.Stop()
	}
}

// Sweep runs a single purge and returns how many entries were removed.
func (j *Janitor) Sweep(ctx context.Context) int {
	n := j.target.PurgeExpired(ctx)

	j.sweeps.Add(1)
	j.purged.Add(int64(n))

	if n > 0 {
		j.conf.Logger.Debug(ctx, "purged expired entries", observe.Field{Key: "count", Value: n})
	}
	return n
}

// Counts returns the number of sweeps run and entries purged so far.
func (j *Janitor) Counts() (sweeps, purged int64) {
	return j.sweeps.Load(), j.purged.Load()
}
