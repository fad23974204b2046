package chain

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const maxRetryDelay = 5 * time.Second

// retryPolicy retries node calls with a doubling delay capped at maxRetryDelay.
type retryPolicy struct {
	retries int
	delay   time.Duration
	logger  *zap.Logger
}

func newRetryPolicy(retries int, delay time.Duration, logger *zap.Logger) retryPolicy {
	if retries < 0 {
		retries = 0
	}
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return retryPolicy{retries: retries, delay: delay, logger: logger}
}

// do calls fn until it succeeds, the retries run out or ctx is done. The
// last error from fn is returned.
func (p retryPolicy) do(ctx context.Context, op string, fn func(context.Context) error) error {
	delay := p.delay
	for attempt := 0; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if attempt >= p.retries {
			return err
		}
		p.logger.Debug("node call failed, retrying",
			zap.String("op", op),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
			zap.Error(err),
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		delay = min(delay*2, maxRetryDelay)
	}
}
