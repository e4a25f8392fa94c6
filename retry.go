package aster

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// RetryObserver is invoked before each back-off sleep, so callers can surface
// retry telemetry. attempt is 1-based: the first retry reports attempt 1.
type RetryObserver func(attempt int, err error, delay time.Duration)

// retryProvider wraps a Provider and retries transient failures (rate limit,
// 5xx, timeout, connection) with exponential back-off:
// delay(k) = initialDelay * 2^k for the zero-indexed retry k. Auth failures
// and other 4xx responses surface immediately. Retried calls are idempotent
// from this layer's perspective: the agent commits no state until the wrapped
// call returns.
type retryProvider struct {
	inner        Provider
	maxRetries   int
	initialDelay time.Duration
	onRetry      RetryObserver
	sleep        func(ctx context.Context, d time.Duration) error
	logger       *slog.Logger
}

// RetryOption configures a retrying provider wrapper.
type RetryOption func(*retryProvider)

// RetryMax sets the number of retries beyond the initial attempt (default 3).
func RetryMax(n int) RetryOption {
	return func(r *retryProvider) { r.maxRetries = n }
}

// RetryInitialDelay sets the delay before the first retry (default 1s); each
// later delay doubles.
func RetryInitialDelay(d time.Duration) RetryOption {
	return func(r *retryProvider) { r.initialDelay = d }
}

// RetryOnRetry installs an observer called before each back-off sleep.
func RetryOnRetry(fn RetryObserver) RetryOption {
	return func(r *retryProvider) { r.onRetry = fn }
}

// RetrySleep injects the sleep function, for tests.
func RetrySleep(fn func(ctx context.Context, d time.Duration) error) RetryOption {
	return func(r *retryProvider) { r.sleep = fn }
}

// RetryLogger sets a structured logger for retry warnings.
func RetryLogger(l *slog.Logger) RetryOption {
	return func(r *retryProvider) { r.logger = l }
}

// WithRetry wraps p with automatic retry on transient provider errors.
func WithRetry(p Provider, opts ...RetryOption) Provider {
	r := &retryProvider{
		inner:        p,
		maxRetries:   3,
		initialDelay: time.Second,
		sleep:        sleepContext,
		logger:       nopLogger,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (r *retryProvider) Name() string { return r.inner.Name() }

// retryable reports whether err is worth another attempt.
func retryable(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Retryable()
}

// backoff returns the delay before retry k (zero-indexed).
func (r *retryProvider) backoff(k int) time.Duration {
	return r.initialDelay * (1 << k)
}

// waitBeforeRetry notifies the observer and sleeps. attempt is the 1-based
// retry number about to run.
func (r *retryProvider) waitBeforeRetry(ctx context.Context, attempt int, err error) error {
	delay := r.backoff(attempt - 1)
	r.logger.Warn("provider call failed, retrying",
		"provider", r.inner.Name(), "attempt", attempt, "delay", delay, "error", err)
	if r.onRetry != nil {
		r.onRetry(attempt, err, delay)
	}
	return r.sleep(ctx, delay)
}

// Create implements Provider with retry.
func (r *retryProvider) Create(ctx context.Context, req Request) (FinalMessage, error) {
	var last error
	for k := 0; k <= r.maxRetries; k++ {
		msg, err := r.inner.Create(ctx, req)
		if err == nil || !retryable(err) {
			return msg, err
		}
		last = err
		if k < r.maxRetries {
			if serr := r.waitBeforeRetry(ctx, k+1, err); serr != nil {
				return FinalMessage{}, serr
			}
		}
	}
	return FinalMessage{}, last
}

// CountTokens implements Provider with retry.
func (r *retryProvider) CountTokens(ctx context.Context, req Request) (int, error) {
	var last error
	for k := 0; k <= r.maxRetries; k++ {
		n, err := r.inner.CountTokens(ctx, req)
		if err == nil || !retryable(err) {
			return n, err
		}
		last = err
		if k < r.maxRetries {
			if serr := r.waitBeforeRetry(ctx, k+1, err); serr != nil {
				return 0, serr
			}
		}
	}
	return 0, last
}

// Stream implements Provider with retry. An attempt is retried only while no
// text has been forwarded to ch — once fragments are out, retrying would
// duplicate content, so the error passes through. ch is closed exactly once
// before returning.
func (r *retryProvider) Stream(ctx context.Context, req Request, ch chan<- string) (FinalMessage, error) {
	defer close(ch)

	var last error
	for k := 0; k <= r.maxRetries; k++ {
		mid := make(chan string, 64)
		var (
			msg       FinalMessage
			streamErr error
		)
		done := make(chan struct{})
		go func() {
			defer close(done)
			msg, streamErr = r.inner.Stream(ctx, req, mid)
		}()

		var forwarded bool
		for fragment := range mid {
			forwarded = true
			select {
			case ch <- fragment:
			case <-ctx.Done():
			}
		}
		<-done

		if streamErr == nil || !retryable(streamErr) || forwarded {
			return msg, streamErr
		}

		last = streamErr
		if k < r.maxRetries {
			if serr := r.waitBeforeRetry(ctx, k+1, streamErr); serr != nil {
				return FinalMessage{}, serr
			}
		}
	}
	return FinalMessage{}, last
}

var _ Provider = (*retryProvider)(nil)
