package audit

import "time"

// Action names a committed contact mutation.
type Action string

const (
	ActionCreatedPrimary   Action = "contact_created_primary"
	ActionCreatedSecondary Action = "contact_created_secondary"
	ActionDemoted          Action = "contact_demoted"
	ActionRelinked         Action = "contact_relinked"
)

// Event is emitted from the resolver after a transaction commits. Keep it
// transport-agnostic so sinks can fan out.
type Event struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Action    Action    `json:"action"`
	ContactID int64     `json:"contact_id"`
	PrimaryID int64     `json:"primary_id"`
	// FormerPrimaryID is set on demotions and relinks.
	FormerPrimaryID int64  `json:"former_primary_id,omitempty"`
	RequestID       string `json:"request_id,omitempty"`
	Reason          string `json:"reason,omitempty"`
}
