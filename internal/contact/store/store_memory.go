package store

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"reconcile/internal/contact/models"
)

// InMemoryStore keeps contacts in a map. It favors clarity over performance and
// is used for local runs and service tests.
type InMemoryStore struct {
	mu       sync.RWMutex
	contacts map[models.ContactID]*models.Contact
	nextID   models.ContactID
	clock    func(ctx context.Context) time.Time
}

// InMemoryOption configures an InMemoryStore.
type InMemoryOption func(*InMemoryStore)

// WithClock overrides the write timestamp source. Fixtures use it to pin
// created_at; the default reads the wall clock at write time.
func WithClock(clock func(ctx context.Context) time.Time) InMemoryOption {
	return func(s *InMemoryStore) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// wallClock ignores the request time: a request that waited on the tx mutex
// must not stamp rows older than those committed while it waited.
func wallClock(context.Context) time.Time { return time.Now() }

func NewInMemoryStore(opts ...InMemoryOption) *InMemoryStore {
	s := &InMemoryStore{
		contacts: make(map[models.ContactID]*models.Contact),
		nextID:   1,
		clock:    wallClock,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *InMemoryStore) FindByPhoneOrEmail(_ context.Context, q models.MatchQuery) ([]*models.Contact, error) {
	if q.IsEmpty() {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(func(c *models.Contact) bool {
		return (q.PhoneNumber != nil && c.HasPhone(*q.PhoneNumber)) ||
			(q.Email != nil && c.HasEmail(*q.Email))
	}), nil
}

func (s *InMemoryStore) FindCluster(_ context.Context, primaryID models.ContactID) ([]*models.Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(func(c *models.Contact) bool {
		return c.ID == primaryID || (c.LinkedID != nil && *c.LinkedID == primaryID)
	}), nil
}

func (s *InMemoryStore) Create(ctx context.Context, nc models.NewContact) (*models.Contact, error) {
	if !nc.LinkPrecedence.IsValid() {
		return nil, fmt.Errorf("create contact: invalid link precedence %q", nc.LinkPrecedence)
	}
	now := s.clock(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	c := &models.Contact{
		ID:             s.nextID,
		PhoneNumber:    nc.PhoneNumber,
		Email:          nc.Email,
		LinkedID:       nc.LinkedID,
		LinkPrecedence: nc.LinkPrecedence,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	s.contacts[c.ID] = c.Clone()
	s.nextID++
	return c, nil
}

func (s *InMemoryStore) Update(ctx context.Context, id models.ContactID, u models.ContactUpdate) error {
	if !u.LinkPrecedence.IsValid() {
		return fmt.Errorf("update contact: invalid link precedence %q", u.LinkPrecedence)
	}
	now := s.clock(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contacts[id]
	if !ok || c.DeletedAt != nil {
		return fmt.Errorf("update contact %d: %w", id, ErrNotFound)
	}
	c.LinkPrecedence = u.LinkPrecedence
	c.LinkedID = nil
	if u.LinkedID != nil {
		linked := *u.LinkedID
		c.LinkedID = &linked
	}
	c.UpdatedAt = now
	return nil
}

// Seed inserts fully formed contacts, keeping their ids and timestamps.
// Intended for fixtures; it bypasses every invariant check.
func (s *InMemoryStore) Seed(contacts ...*models.Contact) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range contacts {
		s.contacts[c.ID] = c.Clone()
		if c.ID >= s.nextID {
			s.nextID = c.ID + 1
		}
	}
}

// SoftDelete marks a contact deleted; it disappears from every query.
func (s *InMemoryStore) SoftDelete(ctx context.Context, id models.ContactID) error {
	now := s.clock(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contacts[id]
	if !ok || c.DeletedAt != nil {
		return fmt.Errorf("delete contact %d: %w", id, ErrNotFound)
	}
	c.DeletedAt = &now
	return nil
}

// All returns every live contact in cluster order.
func (s *InMemoryStore) All() []*models.Contact {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(func(*models.Contact) bool { return true })
}

// Count returns the number of live contacts.
func (s *InMemoryStore) Count() int {
	return len(s.All())
}

// collect must be called with s.mu held.
func (s *InMemoryStore) collect(match func(c *models.Contact) bool) []*models.Contact {
	var out []*models.Contact
	for _, c := range s.contacts {
		if c.DeletedAt != nil || !match(c) {
			continue
		}
		out = append(out, c.Clone())
	}
	slices.SortFunc(out, func(a, b *models.Contact) int {
		switch {
		case models.Less(a, b):
			return -1
		case models.Less(b, a):
			return 1
		default:
			return 0
		}
	})
	return out
}

// stage returns an independent copy whose writes can later be committed.
func (s *InMemoryStore) stage() *InMemoryStore {
	s.mu.RLock()
	defer s.mu.RUnlock()
	staged := &InMemoryStore{
		contacts: make(map[models.ContactID]*models.Contact, len(s.contacts)),
		nextID:   s.nextID,
		clock:    s.clock,
	}
	for id, c := range s.contacts {
		staged.contacts[id] = c.Clone()
	}
	return staged
}

// commit replaces the state of s with the state of staged.
func (s *InMemoryStore) commit(staged *InMemoryStore) {
	staged.mu.RLock()
	defer staged.mu.RUnlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contacts = staged.contacts
	s.nextID = staged.nextID
}
