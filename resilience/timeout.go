package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mailgun/holster/v4/setter"
)

// TimeoutConfig configures the timeout wrapper.
type TimeoutConfig struct {
	// Timeout bounds a single upstream attempt.
	// Default: 30 seconds
	Timeout time.Duration

	// WaitForReturn makes Execute wait for an op that overran its deadline
	// to return before reporting the timeout, so the next attempt never
	// overlaps an abandoned one. The late result is discarded.
	WaitForReturn bool
}

// Timeout bounds how long one attempt may run.
type Timeout struct {
	config TimeoutConfig
}

// NewTimeout creates a timeout wrapper.
func NewTimeout(config TimeoutConfig) *Timeout {
	if config.Timeout < 0 {
		config.Timeout = 0
	}
	setter.SetDefault(&config.Timeout, 30*time.Second)

	return &Timeout{config: config}
}

// Execute runs op with its own deadline. Running out of time is reported
// as a transient error wrapping ErrTimeout; cancellation of the parent
// context is passed through unchanged. Unless WaitForReturn is set, an op
// that ignores its context keeps running in the background after Execute
// returns.
func (t *Timeout) Execute(ctx context.Context, op func(context.Context) error) error {
	tctx, cancel := context.WithTimeout(ctx, t.config.Timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- op(tctx)
	}()

	var err error
	select {
	case err = <-done:
	case <-tctx.Done():
		if t.config.WaitForReturn {
			<-done
		}
		err = tctx.Err()
	}

	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(err, ctxErr) || errors.Is(err, context.DeadlineExceeded) {
			return ctxErr
		}
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return t.expired()
	}
	return err
}

func (t *Timeout) expired() error {
	return &Error{
		Kind: KindTransient,
		Err:  fmt.Errorf("%w after %s", ErrTimeout, t.config.Timeout),
	}
}

// Config returns the timeout configuration.
func (t *Timeout) Config() TimeoutConfig {
	return t.config
}

// ExecuteWithTimeout runs op once with a timeout.
func ExecuteWithTimeout(ctx context.Context, timeout time.Duration, op func(context.Context) error) error {
	return NewTimeout(TimeoutConfig{Timeout: timeout}).Execute(ctx, op)
}
