package service

import (
	"context"
	"fmt"

	"reconcile/internal/audit"
	"reconcile/internal/contact/models"
	"reconcile/internal/contact/ports"
	dErrors "reconcile/pkg/domain-errors"
)

// resolution is the state of one Identify attempt inside a transaction.
type resolution struct {
	store     ports.ContactStore
	query     models.MatchQuery
	requestID string

	identity *models.ConsolidatedIdentity
	events   []audit.Event
	outcome  models.Outcome
	matched  int
	merged   int
	created  bool
}

func newResolution(store ports.ContactStore, q models.MatchQuery, requestID string) *resolution {
	return &resolution{store: store, query: q, requestID: requestID, outcome: models.OutcomeUnchanged}
}

func (r *resolution) run(ctx context.Context) error {
	matches, err := r.store.FindByPhoneOrEmail(ctx, r.query)
	if err != nil {
		return err
	}
	r.matched = len(matches)

	if len(matches) == 0 {
		return r.createPrimary(ctx)
	}

	primary, err := r.selectPrimary(ctx, matches)
	if err != nil {
		return err
	}

	cluster, err := r.store.FindCluster(ctx, primary.ID)
	if err != nil {
		return err
	}

	if colliding := collidingRoots(matches, primary.ID); len(colliding) > 0 {
		for _, q := range colliding {
			if err := r.merge(ctx, primary.ID, q); err != nil {
				return err
			}
		}
		r.merged = len(colliding)
		r.outcome = models.OutcomeMerged
		if cluster, err = r.store.FindCluster(ctx, primary.ID); err != nil {
			return err
		}
	}

	if carriesNewInfo(cluster, r.query) {
		if err := r.createSecondary(ctx, primary.ID); err != nil {
			return err
		}
		if cluster, err = r.store.FindCluster(ctx, primary.ID); err != nil {
			return err
		}
	}

	if err := verifyCluster(cluster, primary.ID); err != nil {
		return err
	}
	r.identity, err = BuildIdentity(cluster)
	return err
}

// selectPrimary returns the oldest primary among matches. When every match is
// a secondary, the oldest match's primary is loaded through its link.
func (r *resolution) selectPrimary(ctx context.Context, matches []*models.Contact) (*models.Contact, error) {
	for _, c := range matches {
		if c.IsPrimary() {
			return c, nil
		}
	}

	oldest := matches[0]
	if oldest.LinkedID == nil {
		return nil, invariantViolation("secondary %d has no linked primary", oldest.ID)
	}
	return r.loadPrimary(ctx, *oldest.LinkedID)
}

// loadPrimary fetches id and checks it is still a primary.
func (r *resolution) loadPrimary(ctx context.Context, id models.ContactID) (*models.Contact, error) {
	cluster, err := r.store.FindCluster(ctx, id)
	if err != nil {
		return nil, err
	}
	for _, c := range cluster {
		if c.ID != id {
			continue
		}
		if !c.IsPrimary() {
			return nil, invariantViolation("contact %d is linked to as primary but is %s", id, c.LinkPrecedence)
		}
		return c, nil
	}
	return nil, invariantViolation("linked primary %d does not exist", id)
}

// collidingRoots returns the distinct primaries of every matched cluster
// other than primaryID, in match order.
func collidingRoots(matches []*models.Contact, primaryID models.ContactID) []models.ContactID {
	seen := map[models.ContactID]struct{}{primaryID: {}}
	var roots []models.ContactID
	for _, c := range matches {
		root := c.RootID()
		if _, ok := seen[root]; ok {
			continue
		}
		seen[root] = struct{}{}
		roots = append(roots, root)
	}
	return roots
}

// carriesNewInfo reports whether q supplies a phone or email absent from the
// whole cluster.
func carriesNewInfo(cluster []*models.Contact, q models.MatchQuery) bool {
	phoneKnown, emailKnown := q.PhoneNumber == nil, q.Email == nil
	for _, c := range cluster {
		if !phoneKnown && c.HasPhone(*q.PhoneNumber) {
			phoneKnown = true
		}
		if !emailKnown && c.HasEmail(*q.Email) {
			emailKnown = true
		}
	}
	return !phoneKnown || !emailKnown
}

func (r *resolution) createPrimary(ctx context.Context) error {
	c, err := r.store.Create(ctx, models.NewContact{
		PhoneNumber:    r.query.PhoneNumber,
		Email:          r.query.Email,
		LinkPrecedence: models.LinkPrecedencePrimary,
	})
	if err != nil {
		return err
	}
	r.created = true
	r.outcome = models.OutcomeCreatedPrimary
	r.record(audit.ActionCreatedPrimary, c.ID, c.ID, 0)
	r.identity, err = BuildIdentity([]*models.Contact{c})
	return err
}

func (r *resolution) createSecondary(ctx context.Context, primaryID models.ContactID) error {
	c, err := r.store.Create(ctx, models.NewContact{
		PhoneNumber:    r.query.PhoneNumber,
		Email:          r.query.Email,
		LinkPrecedence: models.LinkPrecedenceSecondary,
		LinkedID:       &primaryID,
	})
	if err != nil {
		return err
	}
	r.created = true
	if r.outcome != models.OutcomeMerged {
		r.outcome = models.OutcomeCreatedSecondary
	}
	r.record(audit.ActionCreatedSecondary, c.ID, primaryID, 0)
	return nil
}

func (r *resolution) record(action audit.Action, contactID, primaryID, formerPrimaryID models.ContactID) {
	r.events = append(r.events, audit.Event{
		Action:          action,
		ContactID:       int64(contactID),
		PrimaryID:       int64(primaryID),
		FormerPrimaryID: int64(formerPrimaryID),
		RequestID:       r.requestID,
		Reason:          "identify",
	})
}

func invariantViolation(format string, args ...any) error {
	return dErrors.New(dErrors.CodeInvariantViolation, fmt.Sprintf(format, args...))
}
