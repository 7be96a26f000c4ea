package finalize

import (
	"context"
	"errors"
	"time"

	"round-finalizer/internal/ledger"
	"round-finalizer/internal/progress"
	"round-finalizer/internal/storage"

	"github.com/cenkalti/backoff/v4"
)

// Options tune step retries.
type Options struct {
	MaxAttempts     uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxAttempts == 0 {
		o.MaxAttempts = 5
	}
	if o.InitialInterval == 0 {
		o.InitialInterval = 500 * time.Millisecond
	}
	if o.MaxInterval == 0 {
		o.MaxInterval = 15 * time.Second
	}
	return o
}

// Transient reports whether err is worth retrying.
func Transient(err error) bool {
	var ledgerErr *ledger.LedgerUnavailableError
	var storageErr *storage.StorageWriteError
	var readErr *unavailableError
	return errors.As(err, &ledgerErr) || errors.As(err, &storageErr) || errors.As(err, &readErr)
}

func (m *Machine) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = m.opts.InitialInterval
	b.MaxInterval = m.opts.MaxInterval
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, m.opts.MaxAttempts-1), ctx)
}

// retry runs op until it succeeds, fails permanently or attempts run out.
// Every retry is recorded on the step.
func (m *Machine) retry(ctx context.Context, t *progress.Tracker, step string, op func() error) error {
	return backoff.RetryNotify(func() error {
		err := op()
		if err != nil && !Transient(err) {
			return backoff.Permanent(err)
		}
		return err
	}, m.backOff(ctx), func(err error, wait time.Duration) {
		m.log.Warnw("step failed, retrying", "step", step, "wait", wait, "error", err)
		_ = t.Retry(step, err)
	})
}
