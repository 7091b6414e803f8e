package store

import (
	"context"
	"sync"
	"time"

	"reconcile/internal/contact/ports"
	dErrors "reconcile/pkg/domain-errors"
)

// defaultTxTimeout is the maximum duration of a contact transaction when the
// caller has no deadline.
const defaultTxTimeout = 5 * time.Second

// InMemoryTx serializes every transaction behind one mutex and runs the
// callback against a staged copy, so a failed callback leaves no trace.
// Identify calls touch arbitrary key sets, so a single lock is the only
// partitioning that cannot deadlock or miss an overlap.
type InMemoryTx struct {
	mu      sync.Mutex
	store   *InMemoryStore
	timeout time.Duration
}

func NewInMemoryTx(store *InMemoryStore) *InMemoryTx {
	return &InMemoryTx{store: store, timeout: defaultTxTimeout}
}

func (t *InMemoryTx) RunInTx(ctx context.Context, fn func(store ports.ContactStore) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	// Check again after acquiring lock
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	staged := t.store.stage()
	if err := fn(staged); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted before commit")
	}
	t.store.commit(staged)
	return nil
}
