package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores return these (optionally
// wrapped) so the resolver can translate them into domain errors:
//   - ErrNotFound: contact does not exist or is soft-deleted
//   - ErrConflict: a concurrent transaction invalidated this one
//   - ErrInvalidState: stored links break the cluster shape
//   - ErrUnavailable: store or lock backend temporarily unavailable
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)
