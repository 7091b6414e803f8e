package store

import "reconcile/pkg/platform/sentinel"

// ErrNotFound is returned by Update when the contact is missing or soft-deleted.
var ErrNotFound = sentinel.ErrNotFound
