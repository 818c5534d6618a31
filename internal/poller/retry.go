package poller

import (
	"context"
	"net/http"
	"time"

	"tgnms.poller/internal/core/domain"
)

// DefaultRetryDelays gives three attempts in total.
var DefaultRetryDelays = []time.Duration{
	100 * time.Millisecond,
	500 * time.Millisecond,
	time.Second,
}

// DefaultRetryStatusCodes matches the controller API service clients in the
// field, which retry on 400 only.
var DefaultRetryStatusCodes = []int{http.StatusBadRequest}

type RetryOption func(*retryClient)

// RetryOnStatus replaces the set of HTTP status codes treated as transient.
func RetryOnStatus(codes ...int) RetryOption {
	return func(c *retryClient) {
		c.retryable = make(map[int]struct{}, len(codes))
		for _, code := range codes {
			c.retryable[code] = struct{}{}
		}
	}
}

// OnRetry registers fn to be called before each backoff sleep.
func OnRetry(fn func(req Request, attempt int, outcome domain.QueryOutcome)) RetryOption {
	return func(c *retryClient) {
		c.onRetry = fn
	}
}

func withSleep(fn func(ctx context.Context, d time.Duration) error) RetryOption {
	return func(c *retryClient) {
		c.sleep = fn
	}
}

type retryClient struct {
	delays    []time.Duration
	next      Client
	retryable map[int]struct{}
	onRetry   func(req Request, attempt int, outcome domain.QueryOutcome)
	sleep     func(ctx context.Context, d time.Duration) error
}

// WithRetry wraps next so that a retryable failure is retried after each delay
// in turn. The call is always attempted at least once.
func WithRetry(delays []time.Duration, next Client, opts ...RetryOption) Client {
	c := &retryClient{
		delays: append([]time.Duration(nil), delays...),
		next:   next,
		sleep:  sleepContext,
	}
	RetryOnStatus(DefaultRetryStatusCodes...)(c)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *retryClient) Call(ctx context.Context, req Request) domain.QueryOutcome {
	start := time.Now()
	var outcome domain.QueryOutcome
	attempt := 0
	for {
		outcome = c.next.Call(ctx, req)
		attempt++
		if outcome.Success || !c.isRetryable(outcome) || attempt > len(c.delays) {
			break
		}
		if c.onRetry != nil {
			c.onRetry(req, attempt, outcome)
		}
		if err := c.sleep(ctx, c.delays[attempt-1]); err != nil {
			break
		}
	}
	outcome.Attempts = attempt
	outcome.ResponseTime = time.Since(start)
	return outcome
}

func (c *retryClient) isRetryable(o domain.QueryOutcome) bool {
	if o.StatusCode == 0 {
		return false
	}
	_, ok := c.retryable[o.StatusCode]
	return ok
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
