package llm

import (
	"context"
	"encoding/json"
	"time"

	"golang.org/x/time/rate"
)

// Rate limiter and retry defaults.
const (
	defaultRatePerMinute = 50.0
	defaultBurst         = 5
	defaultMaxRetries    = 3
	defaultBaseBackoff   = 1 * time.Second
)

// RetryConfig configures Retrying.
type RetryConfig struct {
	RatePerMinute float64
	Burst         int
	MaxRetries    int
	BaseBackoff   time.Duration
}

// Retrying rate-limits calls to the wrapped client and retries transient
// failures with exponential backoff.
type Retrying struct {
	next        Client
	limiter     *rate.Limiter
	maxRetries  int
	baseBackoff time.Duration
	sleep       func(ctx context.Context, d time.Duration) error
}

// NewRetrying wraps next. Zero fields of cfg take defaults; a negative
// MaxRetries disables retries.
func NewRetrying(next Client, cfg RetryConfig) *Retrying {
	perMinute := cfg.RatePerMinute
	if perMinute <= 0 {
		perMinute = defaultRatePerMinute
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = defaultBurst
	}
	retries := cfg.MaxRetries
	switch {
	case retries == 0:
		retries = defaultMaxRetries
	case retries < 0:
		retries = 0
	}
	backoff := cfg.BaseBackoff
	if backoff <= 0 {
		backoff = defaultBaseBackoff
	}
	return &Retrying{
		next:        next,
		limiter:     rate.NewLimiter(rate.Limit(perMinute/60.0), burst),
		maxRetries:  retries,
		baseBackoff: backoff,
		sleep:       sleepCtx,
	}
}

// Complete implements Client.
func (r *Retrying) Complete(ctx context.Context, req Request) (json.RawMessage, error) {
	var lastErr error
	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := r.baseBackoff * time.Duration(1<<(attempt-1))
			if err := r.sleep(ctx, backoff); err != nil {
				return nil, Classify(err)
			}
		}
		if err := r.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return nil, Classify(ctx.Err())
			}
			return nil, Errorf(KindRateLimited, "rate limiter: %v", err)
		}

		out, err := r.next.Complete(ctx, req)
		if err == nil {
			return out, nil
		}
		lastErr = Classify(err)
		if !KindOf(lastErr).Retryable() || ctx.Err() != nil {
			return nil, lastErr
		}
	}
	return nil, lastErr
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
