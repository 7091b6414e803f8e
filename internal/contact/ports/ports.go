// Package ports declares the collaborators the identity resolver depends on.
// Implementations live in store, lock, and audit; the resolver never sees
// connection pools, dialects, or migrations.
package ports

//go:generate mockgen -source=ports.go -destination=mocks/mocks.go -package=mocks

import (
	"context"

	"reconcile/internal/audit"
	"reconcile/internal/contact/models"
)

// ContactStore is the durable record of contacts.
// Implementations never return soft-deleted rows and order every sequence by
// created_at ascending, then id ascending.
type ContactStore interface {
	FindByPhoneOrEmail(ctx context.Context, q models.MatchQuery) ([]*models.Contact, error)
	FindCluster(ctx context.Context, primaryID models.ContactID) ([]*models.Contact, error)
	Create(ctx context.Context, c models.NewContact) (*models.Contact, error)
	Update(ctx context.Context, id models.ContactID, u models.ContactUpdate) error
}

// StoreTx runs fn as one atomic, serializable unit. Any error returned by fn
// rolls back every write fn made through the provided store.
type StoreTx interface {
	RunInTx(ctx context.Context, fn func(store ContactStore) error) error
}

// KeyLocker serializes callers that share any key. The returned unlock is
// always safe to call once.
type KeyLocker interface {
	Lock(ctx context.Context, keys []string) (unlock func(), err error)
}

// AuditPublisher receives committed mutations.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}
