package engine

import (
	"fmt"

	"github.com/roach88/rolodex/internal/contact"
)

// SaveRelationship stores r and repairs the aggregates it affects.
//
// Aggregates moves the constituent into the named aggregate and flags the
// link as manual. IsNot between two contacts currently sharing an aggregate
// splits the constituent out into a new aggregate.
func (t *Txn) SaveRelationship(r contact.Relationship) error {
	if !r.Type.Valid() {
		return contact.NewConstraintViolation(r.First, "unknown relationship type %q", r.Type)
	}
	if r.First == r.Second {
		return contact.NewConstraintViolation(r.First, "a contact cannot be related to itself")
	}

	first, err := t.tx.Contact(t.ctx, r.First)
	if err != nil {
		return err
	}
	second, err := t.tx.Contact(t.ctx, r.Second)
	if err != nil {
		return err
	}

	if r.Type == contact.Aggregates {
		return t.moveConstituent(first, second)
	}
	return t.separate(first, second)
}

func (t *Txn) moveConstituent(c, agg *contact.Contact) error {
	if c.IsAggregate() || !agg.IsAggregate() {
		return contact.NewConstraintViolation(c.ID, "aggregates must link a constituent to an aggregate")
	}

	cur, linked, err := t.tx.AggregateOf(t.ctx, c.ID)
	if err != nil {
		return err
	}

	if linked && cur == agg.ID {
		manual, err := t.tx.ManualLink(t.ctx, c.ID)
		if err != nil || manual {
			return err
		}
		// Re-save as manual so matching never undoes it. Membership is
		// unchanged, so no partial is touched.
		link := contact.Relationship{Type: contact.Aggregates, First: c.ID, Second: cur}
		if _, err := t.tx.RemoveRelationship(t.ctx, link); err != nil {
			return err
		}
		link.Manual = true
		if _, err := t.tx.AddRelationship(t.ctx, link); err != nil {
			return err
		}
		t.changes.relationship(c.ID, cur)
		return nil
	}

	if linked {
		if err := t.unlink(c, cur); err != nil {
			return err
		}
		if err := t.regenerate(cur); err != nil {
			return err
		}
	}

	if err := t.link(c, agg.ID, true); err != nil {
		return err
	}
	t.e.logger.Debug("moved constituent", "contact", c.ID, "from", cur, "to", agg.ID)
	return t.regenerate(agg.ID)
}

// separate records IsNot between a and b and splits them apart if they
// currently share an aggregate.
func (t *Txn) separate(a, b *contact.Contact) error {
	added, err := t.tx.AddRelationship(t.ctx, contact.Relationship{Type: contact.IsNot, First: a.ID, Second: b.ID})
	if err != nil {
		return err
	}
	if added {
		t.changes.relationship(a.ID, b.ID)
	}

	var c, other *contact.Contact
	switch {
	case !a.IsAggregate():
		c, other = a, b
	case !b.IsAggregate():
		c, other = b, a
	default:
		// Two aggregates: only future matching is affected.
		return nil
	}

	aggID, linked, err := t.tx.AggregateOf(t.ctx, c.ID)
	if err != nil || !linked {
		return err
	}

	otherAgg := other.ID
	if !other.IsAggregate() {
		id, ok, err := t.tx.AggregateOf(t.ctx, other.ID)
		if err != nil || !ok {
			return err
		}
		otherAgg = id
	}
	if otherAgg != aggID {
		return nil
	}

	t.e.logger.Debug("splitting constituent", "contact", c.ID, "aggregate", aggID)
	return t.detach(c, aggID, true)
}

// RemoveRelationship deletes r and repairs the aggregates it affects.
// Removing an Aggregates link re-matches the detached constituent.
func (t *Txn) RemoveRelationship(r contact.Relationship) error {
	if !r.Type.Valid() {
		return contact.NewConstraintViolation(r.First, "unknown relationship type %q", r.Type)
	}

	if r.Type == contact.IsNot {
		removed, err := t.tx.RemoveRelationship(t.ctx, r)
		if err != nil {
			return err
		}
		if !removed {
			return relationshipNotFound(r)
		}
		t.changes.relationship(r.First, r.Second)
		return nil
	}

	cur, linked, err := t.tx.AggregateOf(t.ctx, r.First)
	if err != nil {
		return err
	}
	if !linked || cur != r.Second {
		return relationshipNotFound(r)
	}

	c, err := t.tx.Contact(t.ctx, r.First)
	if err != nil {
		return err
	}
	if err := t.unlink(c, cur); err != nil {
		return err
	}

	force, err := t.blockedFrom(c, cur)
	if err != nil {
		return err
	}
	if err := t.regenerate(cur); err != nil {
		return err
	}
	if c.Deactivated {
		return nil
	}
	if force {
		return t.createAggregate(c, 0)
	}
	return t.attach(c)
}

// blockedFrom reports whether an IsNot separates c from aggID or any of
// its remaining constituents.
func (t *Txn) blockedFrom(c *contact.Contact, aggID contact.ID) (bool, error) {
	partners, err := t.tx.IsNotPartners(t.ctx, c.ID)
	if err != nil || len(partners) == 0 {
		return false, err
	}
	blocked := idSet{}
	blocked.add(partners...)
	if blocked.has(aggID) {
		return true, nil
	}

	members, err := t.tx.ConstituentIDs(t.ctx, aggID)
	if err != nil {
		return false, err
	}
	return hasAny(blocked, members), nil
}

func relationshipNotFound(r contact.Relationship) error {
	return &contact.Error{
		Code:      contact.CodeNotFound,
		Message:   fmt.Sprintf("relationship %s does not exist", r),
		ContactID: r.First,
	}
}
