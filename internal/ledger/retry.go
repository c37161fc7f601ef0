package ledger

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/suspectuso/content-unlock/internal/metrics"
)

// RetryPolicy bounds how transient ledger failures are retried.
type RetryPolicy struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy is used by main.
func DefaultRetryPolicy(maxRetries int) RetryPolicy {
	return RetryPolicy{
		MaxRetries:      maxRetries,
		InitialInterval: 250 * time.Millisecond,
		MaxInterval:     3 * time.Second,
	}
}

type retryClient struct {
	next   Client
	policy RetryPolicy
	log    *slog.Logger
}

// WithRetry wraps a client so transient failures are retried with exponential
// backoff. ErrNotFound and context cancellation are returned immediately.
func WithRetry(next Client, policy RetryPolicy, log *slog.Logger) Client {
	if policy.MaxRetries < 0 {
		policy.MaxRetries = 0
	}
	return &retryClient{next: next, policy: policy, log: log}
}

func (r *retryClient) NormalizeAddress(addr string) string {
	return r.next.NormalizeAddress(addr)
}

func (r *retryClient) FetchFinalizedTransaction(ctx context.Context, txRef string) (*Transaction, error) {
	start := time.Now()

	var tx *Transaction
	op := func() error {
		var err error
		tx, err = r.next.FetchFinalizedTransaction(ctx, txRef)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrNotFound) || ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = r.policy.InitialInterval
	expo.MaxInterval = r.policy.MaxInterval
	expo.MaxElapsedTime = 0
	b := backoff.WithContext(backoff.WithMaxRetries(expo, uint64(r.policy.MaxRetries)), ctx)

	err := backoff.RetryNotify(op, b, func(err error, wait time.Duration) {
		r.log.Warn("ledger fetch failed, retrying",
			"tx_ref", txRef,
			"error", err,
			"wait", wait,
		)
	})

	outcome := "ok"
	switch {
	case errors.Is(err, ErrNotFound):
		outcome = "not_found"
	case err != nil:
		outcome = "error"
	}
	metrics.LedgerFetchDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())

	if err != nil {
		return nil, err
	}
	return tx, nil
}
