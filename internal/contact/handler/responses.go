package handler

import "reconcile/internal/contact/models"

// IdentifyResponse is the HTTP response body for POST /identify.
type IdentifyResponse struct {
	Contact ContactResponse `json:"contact"`
}

type ContactResponse struct {
	PrimaryContactID    int64    `json:"primaryContactId"`
	Emails              []string `json:"emails"`
	PhoneNumbers        []string `json:"phoneNumbers"`
	SecondaryContactIDs []int64  `json:"secondaryContactIds"`
}

func toIdentifyResponse(identity *models.ConsolidatedIdentity) *IdentifyResponse {
	secondaries := make([]int64, 0, len(identity.SecondaryContactIDs))
	for _, id := range identity.SecondaryContactIDs {
		secondaries = append(secondaries, int64(id))
	}
	return &IdentifyResponse{Contact: ContactResponse{
		PrimaryContactID:    int64(identity.PrimaryContactID),
		Emails:              nonNil(identity.Emails),
		PhoneNumbers:        nonNil(identity.PhoneNumbers),
		SecondaryContactIDs: secondaries,
	}}
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
