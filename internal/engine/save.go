package engine

import (
	"fmt"

	"github.com/roach88/rolodex/internal/contact"
)

// SaveContacts writes a batch inside the current transaction. Every contact
// in the batch must resolve to the same origin label, with the empty label
// standing for local.
func (t *Txn) SaveContacts(contacts []*contact.Contact) error {
	var batchOrigin string
	for i, c := range contacts {
		if c == nil {
			return contact.NewConstraintViolation(0, "contact %d is nil", i)
		}
		origin, err := t.resolveOrigin(c)
		if err != nil {
			return err
		}
		if i == 0 {
			batchOrigin = origin
			continue
		}
		if origin != batchOrigin {
			return &contact.Error{
				Code:      contact.CodeBatchOriginMismatch,
				Message:   fmt.Sprintf("contact %d has origin %q, batch origin is %q", i, origin, batchOrigin),
				ContactID: c.ID,
			}
		}
	}

	for _, c := range contacts {
		if err := t.SaveContact(c); err != nil {
			return err
		}
	}
	return nil
}

// resolveOrigin returns the label c will be stored under.
func (t *Txn) resolveOrigin(c *contact.Contact) (string, error) {
	if c.ID == 0 || c.Origin != "" {
		return contact.NormalizeOrigin(c.Origin), nil
	}
	prev, err := t.tx.Contact(t.ctx, c.ID)
	if err != nil {
		return "", err
	}
	return contact.NormalizeOrigin(prev.Origin), nil
}

// SaveContact creates or updates one contact. Saving an aggregate routes
// the edit to its constituents. New contacts get c.ID assigned.
func (t *Txn) SaveContact(c *contact.Contact) error {
	if c.ID == 0 {
		if c.Origin == contact.OriginAggregate {
			return contact.NewConstraintViolation(0, "aggregates are created by the engine")
		}
		return t.createConstituent(c)
	}

	prev, err := t.tx.Contact(t.ctx, c.ID)
	if err != nil {
		return err
	}

	if prev.IsAggregate() {
		if c.Origin != "" && c.Origin != contact.OriginAggregate {
			return contact.NewConstraintViolation(c.ID, "origin of an aggregate cannot change")
		}
		return t.saveAggregate(prev, c)
	}
	return t.updateConstituent(prev, c)
}

func (t *Txn) createConstituent(c *contact.Contact) error {
	c.Origin = contact.NormalizeOrigin(c.Origin)
	if c.Origin == contact.OriginWasLocal {
		return contact.NewConstraintViolation(0, "was_local is assigned by the engine")
	}
	if c.Deactivated && c.IsLocallyOriginated() {
		return contact.NewConstraintViolation(0, "local contacts cannot be deactivated")
	}
	if err := validateDetails(c, false); err != nil {
		return err
	}

	c.Incidental = false
	c.FormerAggregate = 0
	c.Created = t.now
	c.Modified = t.now
	for i := range c.Details {
		c.Details[i].ID = 0
		c.Details[i].Provenance = contact.Provenance{}
	}

	if err := t.tx.InsertContact(t.ctx, c); err != nil {
		return err
	}
	if _, err := t.writeDetails(c.ID, nil, c.Details, false); err != nil {
		return err
	}
	t.changes.add(c.ID)
	t.changes.source(c.Origin)

	if c.Deactivated {
		return nil
	}
	return t.attach(c)
}

func sameOriginFamily(a, b string) bool {
	a, b = contact.NormalizeOrigin(a), contact.NormalizeOrigin(b)
	if a == b {
		return true
	}
	local := func(o string) bool { return o == contact.OriginLocal || o == contact.OriginWasLocal }
	return local(a) && local(b)
}

func (t *Txn) updateConstituent(prev, next *contact.Contact) error {
	if next.Origin != "" && !sameOriginFamily(prev.Origin, next.Origin) {
		return contact.NewConstraintViolation(prev.ID, "origin cannot change from %q to %q", prev.Origin, next.Origin)
	}
	if next.Deactivated && prev.IsLocallyOriginated() {
		return contact.NewConstraintViolation(prev.ID, "local contacts cannot be deactivated")
	}
	if err := validateDetails(next, false); err != nil {
		return err
	}

	cur := prev.Clone()
	cur.Deactivated = next.Deactivated
	cur.Details = make([]contact.Detail, len(next.Details))
	for i, d := range next.Details {
		d = d.Clone()
		d.Provenance = contact.Provenance{}
		cur.Details[i] = d
	}

	changed, err := t.writeDetails(cur.ID, prev.Details, cur.Details, false)
	if err != nil {
		return err
	}
	next.Details = cur.Details

	deactivation := prev.Deactivated != cur.Deactivated
	if len(changed) == 0 && !deactivation {
		return nil
	}

	presenceOnly := !deactivation && onlyPresence(changed)
	if !presenceOnly {
		cur.Modified = t.now
	}
	if err := t.tx.UpdateContact(t.ctx, cur); err != nil {
		return err
	}
	if len(changed) > 0 {
		t.changes.change(cur.ID, presenceOnly)
	}
	if deactivation {
		t.changes.deactivation(cur.ID)
	}
	t.changes.source(cur.Origin)

	switch {
	case deactivation && cur.Deactivated:
		return t.deactivate(cur)
	case deactivation:
		return t.reactivate(cur)
	case cur.Deactivated:
		return nil
	}

	aggID, ok, err := t.tx.AggregateOf(t.ctx, cur.ID)
	if err != nil {
		return err
	}
	if !ok {
		return t.attach(cur)
	}

	if matchRelevant(changed) {
		split, err := t.diverged(cur, aggID)
		if err != nil {
			return err
		}
		if split {
			t.e.logger.Debug("constituent diverged from aggregate", "contact", cur.ID, "aggregate", aggID)
			return t.detach(cur, aggID, false)
		}
	}
	return t.regenerate(aggID)
}

// deactivate drops c from its aggregate's generation. The link stays.
func (t *Txn) deactivate(c *contact.Contact) error {
	aggID, ok, err := t.tx.AggregateOf(t.ctx, c.ID)
	if err != nil || !ok {
		return err
	}
	return t.regenerate(aggID)
}

// reactivate puts c back into generation. If its aggregate was removed
// while it was deactivated, the aggregate is recreated under the same id.
func (t *Txn) reactivate(c *contact.Contact) error {
	aggID, ok, err := t.tx.AggregateOf(t.ctx, c.ID)
	if err != nil {
		return err
	}
	if ok {
		return t.regenerate(aggID)
	}

	former := c.FormerAggregate
	if former == 0 {
		return t.attach(c)
	}

	c.FormerAggregate = 0
	if err := t.tx.UpdateContact(t.ctx, c); err != nil {
		return err
	}

	agg, err := t.tx.Contact(t.ctx, former)
	switch {
	case contact.IsNotFound(err):
		return t.createAggregate(c, former)
	case err != nil:
		return err
	case agg.IsAggregate():
		if err := t.link(c, former, false); err != nil {
			return err
		}
		return t.regenerate(former)
	}
	return t.attach(c)
}

// RemoveContacts deletes every listed contact. Ids already removed earlier
// in the transaction (constituents of a removed aggregate) are skipped.
func (t *Txn) RemoveContacts(ids []contact.ID) error {
	for _, id := range ids {
		if t.changes.wasRemoved(id) {
			continue
		}
		if err := t.RemoveContact(id); err != nil {
			return err
		}
	}
	return nil
}

// RemoveContact deletes a contact. Removing an aggregate removes all its
// constituents; removing a constituent regenerates its aggregate.
func (t *Txn) RemoveContact(id contact.ID) error {
	c, err := t.tx.Contact(t.ctx, id)
	if err != nil {
		return err
	}

	if c.IsAggregate() {
		members, err := t.tx.Constituents(t.ctx, c.ID)
		if err != nil {
			return err
		}
		for _, m := range members {
			if err := t.deleteConstituent(m); err != nil {
				return err
			}
		}
		return t.deleteAggregate(c)
	}

	aggID, linked, err := t.tx.AggregateOf(t.ctx, c.ID)
	if err != nil {
		return err
	}
	if err := t.deleteConstituent(c); err != nil {
		return err
	}
	if !linked {
		return nil
	}
	if c.IsLocallyOriginated() {
		if err := t.touchSources(aggID); err != nil {
			return err
		}
	}
	return t.regenerate(aggID)
}

func (t *Txn) deleteConstituent(c *contact.Contact) error {
	partners, err := t.tx.IsNotPartners(t.ctx, c.ID)
	if err != nil {
		return err
	}
	t.changes.relationship(partners...)

	if err := t.tx.DeleteContact(t.ctx, c.ID, c.Origin, t.now); err != nil {
		return err
	}
	t.changes.remove(c.ID)
	t.changes.source(c.Origin)
	return nil
}

// detach unlinks c from aggID, regenerates aggID and finds c a new home.
func (t *Txn) detach(c *contact.Contact, aggID contact.ID, forceNew bool) error {
	if err := t.unlink(c, aggID); err != nil {
		return err
	}
	if err := t.regenerate(aggID); err != nil {
		return err
	}
	if c.Deactivated {
		return nil
	}
	if forceNew {
		return t.createAggregate(c, 0)
	}
	return t.attach(c)
}
