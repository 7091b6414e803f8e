package models

import (
	"strconv"
	"time"
)

// ContactID is the store-assigned, monotonically increasing contact identifier.
type ContactID int64

func (id ContactID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// LinkPrecedence marks a contact as the authoritative record of its cluster
// or as a secondary linked to it.
type LinkPrecedence string

const (
	LinkPrecedencePrimary   LinkPrecedence = "primary"
	LinkPrecedenceSecondary LinkPrecedence = "secondary"
)

func (p LinkPrecedence) IsValid() bool {
	return p == LinkPrecedencePrimary || p == LinkPrecedenceSecondary
}

// Contact is a single observed (phone, email) fact.
//
// Invariants:
//   - A primary has no LinkedID; a secondary always has one
//   - A secondary's LinkedID points directly at a primary (one hop, never a chain)
//   - ID and CreatedAt are immutable
//   - Soft-deleted contacts (DeletedAt set) are never returned by stores
type Contact struct {
	ID             ContactID      `json:"id"`
	PhoneNumber    *string        `json:"phoneNumber"`
	Email          *string        `json:"email"`
	LinkedID       *ContactID     `json:"linkedId"`
	LinkPrecedence LinkPrecedence `json:"linkPrecedence"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
	DeletedAt      *time.Time     `json:"deletedAt,omitempty"`
}

func (c *Contact) IsPrimary() bool {
	return c.LinkPrecedence == LinkPrecedencePrimary
}

// RootID returns the id of the primary this contact belongs to.
func (c *Contact) RootID() ContactID {
	if c.IsPrimary() || c.LinkedID == nil {
		return c.ID
	}
	return *c.LinkedID
}

// HasPhone reports whether the contact carries exactly this phone number.
func (c *Contact) HasPhone(phone string) bool {
	return c.PhoneNumber != nil && *c.PhoneNumber == phone
}

// HasEmail reports whether the contact carries exactly this email.
func (c *Contact) HasEmail(email string) bool {
	return c.Email != nil && *c.Email == email
}

// Clone returns a deep copy so callers cannot mutate store state.
func (c *Contact) Clone() *Contact {
	cp := *c
	cp.PhoneNumber = cloneString(c.PhoneNumber)
	cp.Email = cloneString(c.Email)
	if c.LinkedID != nil {
		linked := *c.LinkedID
		cp.LinkedID = &linked
	}
	if c.DeletedAt != nil {
		deleted := *c.DeletedAt
		cp.DeletedAt = &deleted
	}
	return &cp
}

// Less orders contacts by CreatedAt ascending, then ID ascending.
func Less(a, b *Contact) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
