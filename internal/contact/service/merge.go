package service

import (
	"context"

	"reconcile/internal/audit"
	"reconcile/internal/contact/models"
)

// merge folds the cluster rooted at q into primaryID: q is demoted and every
// contact linked to q is re-pointed, so no secondary is ever two hops away
// from its primary.
func (r *resolution) merge(ctx context.Context, primaryID, q models.ContactID) error {
	cluster, err := r.store.FindCluster(ctx, q)
	if err != nil {
		return err
	}

	var former *models.Contact
	for _, c := range cluster {
		if c.ID == q {
			former = c
			break
		}
	}
	if former == nil {
		return invariantViolation("colliding primary %d does not exist", q)
	}
	if !former.IsPrimary() {
		return invariantViolation("colliding contact %d is not a primary", q)
	}

	if err := r.store.Update(ctx, q, models.Demotion(primaryID)); err != nil {
		return err
	}
	r.record(audit.ActionDemoted, q, primaryID, q)

	for _, c := range cluster {
		if c.LinkedID == nil || *c.LinkedID != q {
			continue
		}
		if err := r.store.Update(ctx, c.ID, models.Demotion(primaryID)); err != nil {
			return err
		}
		r.record(audit.ActionRelinked, c.ID, primaryID, q)
	}
	return nil
}
