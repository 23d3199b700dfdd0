package chain

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const defaultBackoff = 100 * time.Millisecond

// RetryPolicy bounds the retries of a single RPC call. Backoff doubles
// after each failed attempt.
type RetryPolicy struct {
	MaxRetries int
	Backoff    time.Duration
}

// Do runs fn until it succeeds, the retries are spent or ctx is done.
// Every failed attempt is logged under op.
func (p RetryPolicy) Do(ctx context.Context, logger *zap.Logger, op string, fn func(context.Context) error) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	retries := p.MaxRetries
	if retries < 0 {
		retries = 0
	}
	delay := p.Backoff
	if delay <= 0 {
		delay = defaultBackoff
	}

	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if attempt > retries {
			if retries > 0 {
				logger.Warn("rpc retries exhausted", zap.String("op", op), zap.Int("attempts", attempt), zap.Error(err))
			}
			return err
		}
		logger.Debug("rpc attempt failed",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		delay *= 2
	}
}
