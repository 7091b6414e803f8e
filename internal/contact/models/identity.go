package models

// ConsolidatedIdentity is the deduplicated view of one cluster.
type ConsolidatedIdentity struct {
	PrimaryContactID    ContactID   `json:"primaryContactId"`
	Emails              []string    `json:"emails"`
	PhoneNumbers        []string    `json:"phoneNumbers"`
	SecondaryContactIDs []ContactID `json:"secondaryContactIds"`
}

// Outcome classifies what an identify call did to the store.
type Outcome string

const (
	OutcomeCreatedPrimary   Outcome = "created_primary"
	OutcomeCreatedSecondary Outcome = "created_secondary"
	OutcomeMerged           Outcome = "merged"
	OutcomeUnchanged        Outcome = "unchanged"
)
