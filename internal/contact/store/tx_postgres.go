package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"reconcile/internal/contact/ports"
	dErrors "reconcile/pkg/domain-errors"
)

const (
	defaultMaxRetries   = 3
	defaultRetryBackoff = 20 * time.Millisecond

	sqlStateSerializationFailure = "40001"
	sqlStateDeadlockDetected     = "40P01"
)

// PostgresTx runs each callback in a SERIALIZABLE transaction. Two callers
// that both observe "no match" cannot both commit: PostgreSQL aborts one with
// a serialization failure, and the whole callback is replayed.
type PostgresTx struct {
	db         *sql.DB
	timeout    time.Duration
	maxRetries int
	backoff    time.Duration
	onRetry    func(attempt int, err error)
}

// PostgresTxOption configures a PostgresTx.
type PostgresTxOption func(*PostgresTx)

// WithTxTimeout bounds transactions whose context has no deadline.
func WithTxTimeout(timeout time.Duration) PostgresTxOption {
	return func(t *PostgresTx) {
		if timeout > 0 {
			t.timeout = timeout
		}
	}
}

// WithMaxRetries sets how many times a serialization failure is replayed.
func WithMaxRetries(n int) PostgresTxOption {
	return func(t *PostgresTx) {
		if n >= 0 {
			t.maxRetries = n
		}
	}
}

// WithRetryBackoff sets the base of the linear backoff between replays.
func WithRetryBackoff(d time.Duration) PostgresTxOption {
	return func(t *PostgresTx) {
		t.backoff = d
	}
}

// WithRetryObserver is called before each replay.
func WithRetryObserver(fn func(attempt int, err error)) PostgresTxOption {
	return func(t *PostgresTx) {
		t.onRetry = fn
	}
}

func NewPostgresTx(db *sql.DB, opts ...PostgresTxOption) *PostgresTx {
	t := &PostgresTx{
		db:         db,
		timeout:    defaultTxTimeout,
		maxRetries: defaultMaxRetries,
		backoff:    defaultRetryBackoff,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(t)
		}
	}
	return t
}

func (t *PostgresTx) RunInTx(ctx context.Context, fn func(store ports.ContactStore) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	for attempt := 0; ; attempt++ {
		err := t.runOnce(ctx, fn)
		if err == nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return dErrors.Wrap(ctxErr, dErrors.CodeTimeout, "transaction aborted: context cancelled")
		}
		if !isRetryable(err) {
			return err
		}
		if attempt >= t.maxRetries {
			return dErrors.Wrap(err, dErrors.CodeUnavailable, "transaction retries exhausted")
		}
		if t.onRetry != nil {
			t.onRetry(attempt+1, err)
		}
		if err := sleepContext(ctx, t.backoff*time.Duration(attempt+1)); err != nil {
			return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
		}
	}
}

func (t *PostgresTx) runOnce(ctx context.Context, fn func(store ports.ContactStore) error) error {
	sqlTx, err := t.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "begin contact transaction")
	}
	defer func() {
		_ = sqlTx.Rollback()
	}()

	if err := fn(NewPostgres(sqlTx)); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit contact transaction: %w", err)
	}
	return nil
}

func isRetryable(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == sqlStateSerializationFailure || pqErr.Code == sqlStateDeadlockDetected
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
