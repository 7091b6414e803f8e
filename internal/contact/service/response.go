package service

import (
	"reconcile/internal/contact/models"
	strs "reconcile/pkg/platform/strings"
)

// BuildIdentity assembles the consolidated view of a cluster ordered by
// creation. The primary's phone and email come first, then each secondary's
// in cluster order; duplicates and absent values are skipped. Lists are never
// nil so they encode as [].
func BuildIdentity(cluster []*models.Contact) (*models.ConsolidatedIdentity, error) {
	var primary *models.Contact
	for _, c := range cluster {
		if !c.IsPrimary() {
			continue
		}
		if primary != nil {
			return nil, invariantViolation("cluster has primaries %d and %d", primary.ID, c.ID)
		}
		primary = c
	}
	if primary == nil {
		return nil, invariantViolation("cluster has no primary")
	}

	emails := make([]string, 0, len(cluster))
	phones := make([]string, 0, len(cluster))
	secondaries := make([]models.ContactID, 0, len(cluster)-1)

	appendValues := func(c *models.Contact) {
		if c.Email != nil {
			emails = append(emails, *c.Email)
		}
		if c.PhoneNumber != nil {
			phones = append(phones, *c.PhoneNumber)
		}
	}
	appendValues(primary)
	for _, c := range cluster {
		if c.IsPrimary() {
			continue
		}
		appendValues(c)
		secondaries = append(secondaries, c.ID)
	}

	return &models.ConsolidatedIdentity{
		PrimaryContactID:    primary.ID,
		Emails:              strs.Dedupe(emails),
		PhoneNumbers:        strs.Dedupe(phones),
		SecondaryContactIDs: secondaries,
	}, nil
}

// verifyCluster checks the reloaded cluster is flat under primaryID.
func verifyCluster(cluster []*models.Contact, primaryID models.ContactID) error {
	primaries := 0
	for _, c := range cluster {
		if c.IsPrimary() {
			primaries++
			if c.ID != primaryID || c.LinkedID != nil {
				return invariantViolation("contact %d is primary inside cluster %d", c.ID, primaryID)
			}
			continue
		}
		if c.LinkedID == nil || *c.LinkedID != primaryID {
			return invariantViolation("secondary %d is not linked to primary %d", c.ID, primaryID)
		}
	}
	if primaries != 1 {
		return invariantViolation("cluster %d has %d primaries", primaryID, primaries)
	}
	return nil
}
