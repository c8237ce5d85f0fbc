package health

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/mailgun/holster/v4/clock"
	"github.com/mailgun/holster/v4/setter"
	"golang.org/x/sync/errgroup"

	"github.com/hawkbot/hawkcache/observe"
)

// AggregatorConfig configures an Aggregator.
type AggregatorConfig struct {
	// Timeout bounds one Check or CheckAll call.
	// Default: 10 seconds
	Timeout time.Duration

	// Sequential runs CheckAll one checker at a time.
	Sequential bool

	// Logger is told when a checker changes status.
	// Default: no-op.
	Logger observe.Logger
}

type entry struct {
	name    string
	checker Checker
}

// Aggregator runs a set of named checkers and remembers the last status
// of each so that only transitions get logged.
type Aggregator struct {
	config AggregatorConfig

	mu      sync.RWMutex
	entries []entry
	last    map[string]Status
}

// NewAggregator returns an empty aggregator.
func NewAggregator(config AggregatorConfig) *Aggregator {
	setter.SetDefault(&config.Timeout, 10*time.Second)
	setter.SetDefault(&config.Logger, observe.NopLogger())

	return &Aggregator{config: config, last: map[string]Status{}}
}

// Register adds checker under checker.Name().
func (a *Aggregator) Register(checker Checker) {
	a.RegisterAs(checker.Name(), checker)
}

// RegisterAs adds checker under name. A checker already registered under
// that name is replaced but keeps its position.
func (a *Aggregator) RegisterAs(name string, checker Checker) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if i := a.indexLocked(name); i >= 0 {
		a.entries[i].checker = checker
		return
	}
	a.entries = append(a.entries, entry{name: name, checker: checker})
}

// Unregister removes the checker called name, if any.
func (a *Aggregator) Unregister(name string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if i := a.indexLocked(name); i >= 0 {
		a.entries = slices.Delete(a.entries, i, i+1)
	}
	delete(a.last, name)
}

// CheckerNames lists checkers in registration order.
func (a *Aggregator) CheckerNames() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()

	names := make([]string, 0, len(a.entries))
	for _, e := range a.entries {
		names = append(names, e.name)
	}
	return names
}

// Check runs only the checker called name.
func (a *Aggregator) Check(ctx context.Context, name string) (Result, error) {
	a.mu.RLock()
	i := a.indexLocked(name)
	var checker Checker
	if i >= 0 {
		checker = a.entries[i].checker
	}
	a.mu.RUnlock()

	if checker == nil {
		return Result{}, ErrCheckerNotFound
	}

	ctx, cancel := context.WithTimeout(ctx, a.config.Timeout)
	defer cancel()

	r := run(ctx, checker)
	a.record(ctx, name, r)
	return r, nil
}

// CheckAll runs every checker and returns the results keyed by name.
// A checker still running when the timeout expires is reported unhealthy
// with ErrCheckTimeout.
func (a *Aggregator) CheckAll(ctx context.Context) map[string]Result {
	a.mu.RLock()
	entries := slices.Clone(a.entries)
	a.mu.RUnlock()

	results := make(map[string]Result, len(entries))
	if len(entries) == 0 {
		return results
	}

	ctx, cancel := context.WithTimeout(ctx, a.config.Timeout)
	defer cancel()

	out := make([]Result, len(entries))
	var g errgroup.Group
	if a.config.Sequential {
		g.SetLimit(1)
	}
	for i, e := range entries {
		g.Go(func() error {
			out[i] = run(ctx, e.checker)
			return nil
		})
	}
	_ = g.Wait()

	for i, e := range entries {
		results[e.name] = out[i]
		a.record(ctx, e.name, out[i])
	}
	return results
}

// OverallStatus is the worst status among results, healthy when empty.
func OverallStatus(results map[string]Result) Status {
	worst := StatusHealthy
	for _, r := range results {
		worst = max(worst, r.Status)
	}
	return worst
}

func (a *Aggregator) indexLocked(name string) int {
	return slices.IndexFunc(a.entries, func(e entry) bool { return e.name == name })
}

// record logs a status change. A checker that starts out healthy is not
// worth a line.
func (a *Aggregator) record(ctx context.Context, name string, r Result) {
	a.mu.Lock()
	prev, seen := a.last[name]
	a.last[name] = r.Status
	a.mu.Unlock()

	if (seen && prev == r.Status) || (!seen && r.Status == StatusHealthy) {
		return
	}

	fields := []observe.Field{
		observe.F("check", name),
		observe.F("status", r.Status.String()),
		observe.F("message", r.Message),
	}
	if r.Error != nil {
		fields = append(fields, observe.F("error", r.Error))
	}

	if r.Status == StatusHealthy {
		a.config.Logger.Info(ctx, "health check recovered", fields...)
	} else {
		a.config.Logger.Warn(ctx, "health check status changed", fields...)
	}
}

// run calls checker in its own goroutine so a checker that ignores ctx
// cannot hold up the caller past the deadline.
func run(ctx context.Context, checker Checker) Result {
	start := clock.Now()
	done := make(chan Result, 1)
	go func() {
		r := checker.Check(ctx)
		if r.Timestamp.IsZero() {
			r.Timestamp = start
		}
		done <- r.WithDuration(clock.Now().Sub(start))
	}()

	select {
	case r := <-done:
		return r
	case <-ctx.Done():
		r := Unhealthy("check timed out", ErrCheckTimeout)
		r.Timestamp = start
		return r.WithDuration(clock.Now().Sub(start))
	}
}
