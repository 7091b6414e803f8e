package models

// MatchQuery selects contacts whose phone OR email equals the given value.
// A nil field contributes no clause; stores build the predicate.
type MatchQuery struct {
	PhoneNumber *string
	Email       *string
}

// IsEmpty reports whether the query has no clause at all.
func (q MatchQuery) IsEmpty() bool {
	return q.PhoneNumber == nil && q.Email == nil
}

// Keys returns the lock keys for the query, phone first.
func (q MatchQuery) Keys() []string {
	keys := make([]string, 0, 2)
	if q.PhoneNumber != nil {
		keys = append(keys, "phone:"+*q.PhoneNumber)
	}
	if q.Email != nil {
		keys = append(keys, "email:"+*q.Email)
	}
	return keys
}

// NewContact is the write model for Create; the store assigns ID and timestamps.
type NewContact struct {
	PhoneNumber    *string
	Email          *string
	LinkPrecedence LinkPrecedence
	LinkedID       *ContactID
}

// ContactUpdate carries the only mutable link fields of a contact.
type ContactUpdate struct {
	LinkPrecedence LinkPrecedence
	LinkedID       *ContactID
}

// Demotion links a former primary under a new primary.
func Demotion(primaryID ContactID) ContactUpdate {
	return ContactUpdate{LinkPrecedence: LinkPrecedenceSecondary, LinkedID: &primaryID}
}
