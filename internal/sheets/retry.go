package sheets

import (
	"context"
	"errors"
	"time"

	"github.com/eapache/go-resiliency/retrier"
	"github.com/sirupsen/logrus"
)

// RetryPolicy controls how spreadsheet calls are retried.
type RetryPolicy struct {
	Attempts int
	Delay    time.Duration
}

// DefaultRetryPolicy is three attempts starting at two seconds.
var DefaultRetryPolicy = RetryPolicy{Attempts: 3, Delay: 2 * time.Second}

type retryClassifier struct{}

// Missing worksheets are answers, not transient failures.
func (retryClassifier) Classify(err error) retrier.Action {
	switch {
	case err == nil:
		return retrier.Succeed
	case errors.Is(err, ErrWorksheetNotFound), errors.Is(err, context.Canceled):
		return retrier.Fail
	default:
		return retrier.Retry
	}
}

// Retry runs fn until it succeeds, fails permanently or attempts run out.
func Retry(ctx context.Context, p RetryPolicy, fn func(ctx context.Context) error) error {
	backoffs := 0
	if p.Attempts > 1 {
		backoffs = p.Attempts - 1
	}
	r := retrier.New(retrier.ExponentialBackoff(backoffs, p.Delay), retryClassifier{})
	attempt := 0
	return r.RunCtx(ctx, func(ctx context.Context) error {
		attempt++
		err := fn(ctx)
		if err != nil && attempt < p.Attempts {
			logrus.WithError(err).WithField("attempt", attempt).Debug("Spreadsheet call failed, retrying")
		}
		return err
	})
}

// Retrying wraps a Spreadsheet so every call goes through Retry.
type Retrying struct {
	inner  Spreadsheet
	policy RetryPolicy
}

// WithRetry wraps ss with the retry policy.
func WithRetry(ss Spreadsheet, p RetryPolicy) *Retrying {
	return &Retrying{inner: ss, policy: p}
}

// ID returns the wrapped spreadsheet id.
func (r *Retrying) ID() string { return r.inner.ID() }

func (r *Retrying) Titles(ctx context.Context) (titles []string, err error) {
	err = Retry(ctx, r.policy, func(ctx context.Context) error {
		titles, err = r.inner.Titles(ctx)
		return err
	})
	return titles, err
}

func (r *Retrying) Values(ctx context.Context, tab string) (values [][]string, err error) {
	err = Retry(ctx, r.policy, func(ctx context.Context) error {
		values, err = r.inner.Values(ctx, tab)
		return err
	})
	return values, err
}

func (r *Retrying) Replace(ctx context.Context, tab string, values [][]string) error {
	return Retry(ctx, r.policy, func(ctx context.Context) error {
		return r.inner.Replace(ctx, tab, values)
	})
}

func (r *Retrying) Append(ctx context.Context, tab string, rows [][]string) error {
	return Retry(ctx, r.policy, func(ctx context.Context) error {
		return r.inner.Append(ctx, tab, rows)
	})
}

func (r *Retrying) UpdateCells(ctx context.Context, tab string, cells []Cell) error {
	return Retry(ctx, r.policy, func(ctx context.Context) error {
		return r.inner.UpdateCells(ctx, tab, cells)
	})
}

func (r *Retrying) Clear(ctx context.Context, tab string) error {
	return Retry(ctx, r.policy, func(ctx context.Context) error {
		return r.inner.Clear(ctx, tab)
	})
}

func (r *Retrying) AddWorksheet(ctx context.Context, tab string) error {
	return Retry(ctx, r.policy, func(ctx context.Context) error {
		return r.inner.AddWorksheet(ctx, tab)
	})
}

func (r *Retrying) FormatBackground(ctx context.Context, tab string, ranges []Range, color string) error {
	return Retry(ctx, r.policy, func(ctx context.Context) error {
		return r.inner.FormatBackground(ctx, tab, ranges, color)
	})
}

func (r *Retrying) Formats(ctx context.Context, tab string) (formats []Format, err error) {
	err = Retry(ctx, r.policy, func(ctx context.Context) error {
		formats, err = r.inner.Formats(ctx, tab)
		return err
	})
	return formats, err
}
