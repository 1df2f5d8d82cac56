package engine

import (
	"cmp"
	"slices"

	"github.com/roach88/rolodex/internal/contact"
)

// ComposeOptions controls how constituent details are combined.
type ComposeOptions struct {
	// CompositeURIs rewrites detail-uris into the aggregate form.
	CompositeURIs bool

	// IncludeIdentifiers keeps non-promotable types such as GUID.
	IncludeIdentifiers bool

	// Include, when set, filters candidate details.
	Include func(c *contact.Contact, d contact.Detail) bool
}

func originRank(c *contact.Contact) int {
	switch contact.NormalizeOrigin(c.Origin) {
	case contact.OriginLocal:
		return 0
	case contact.OriginWasLocal:
		return 1
	}
	return 2
}

// OrderConstituents sorts constituents into composition order: local,
// then was_local, then sources by ascending id.
func OrderConstituents(cs []*contact.Contact) {
	slices.SortStableFunc(cs, func(a, b *contact.Contact) int {
		if c := cmp.Compare(originRank(a), originRank(b)); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}

// Compose merges the details of constituents. Singular types take the
// first non-empty value in composition order; multi-instance types keep
// every distinct value once. Each result carries provenance back to the
// constituent detail it came from and has no ID.
func Compose(constituents []*contact.Contact, opts ComposeOptions) []contact.Detail {
	ordered := slices.Clone(constituents)
	OrderConstituents(ordered)

	out := []contact.Detail{}
	taken := map[contact.DetailType]bool{}
	for _, c := range ordered {
		for _, d := range c.Details {
			if d.Value == nil || d.Value.IsEmpty() {
				continue
			}
			if !d.Type.Promotable() && !opts.IncludeIdentifiers {
				continue
			}
			if opts.Include != nil && !opts.Include(c, d) {
				continue
			}
			if d.Type.Unique() {
				if taken[d.Type] {
					continue
				}
				taken[d.Type] = true
			} else if containsValue(out, d) {
				continue
			}
			out = append(out, promote(c, d, opts.CompositeURIs))
		}
	}
	return out
}

func promote(owner *contact.Contact, d contact.Detail, composite bool) contact.Detail {
	p := d.Clone()
	p.ID = 0
	p.ContactID = 0
	p.Provenance = contact.Provenance{ContactID: owner.ID, DetailID: d.ID}
	p.Modifiable = d.Modifiable || owner.IsLocallyOriginated()
	if composite {
		p.URI = contact.CompositeURI(owner.ID, d.URI)
		for i, u := range p.LinkedURIs {
			p.LinkedURIs[i] = contact.CompositeURI(owner.ID, u)
		}
	}
	return p
}

func containsValue(ds []contact.Detail, d contact.Detail) bool {
	for _, e := range ds {
		if e.Type == d.Type && contact.SameValue(e.Value, d.Value) {
			return true
		}
	}
	return false
}

func onlyPresence(types map[contact.DetailType]bool) bool {
	if len(types) == 0 {
		return false
	}
	for t := range types {
		if t != contact.TypePresence {
			return false
		}
	}
	return true
}

func matchRelevant(types map[contact.DetailType]bool) bool {
	for t := range types {
		if t.MatchRelevant() {
			return true
		}
	}
	return false
}

// regenerate recomputes an aggregate from its active constituents and
// writes only what changed. An aggregate left without active constituents
// is deleted; its deactivated constituents remember its id.
func (t *Txn) regenerate(aggID contact.ID) error {
	agg, err := t.tx.Contact(t.ctx, aggID)
	if contact.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}

	members, err := t.tx.Constituents(t.ctx, aggID)
	if err != nil {
		return err
	}

	var active []*contact.Contact
	for _, m := range members {
		if !m.Deactivated {
			active = append(active, m)
		}
	}

	if len(active) == 0 {
		for _, m := range members {
			m.FormerAggregate = aggID
			if err := t.tx.UpdateContact(t.ctx, m); err != nil {
				return err
			}
		}
		return t.deleteAggregate(agg)
	}

	existing := make(map[contact.Provenance]contact.Detail, len(agg.Details))
	for _, d := range agg.Details {
		existing[d.Provenance] = d
	}

	next := Compose(active, ComposeOptions{CompositeURIs: true})
	for i := range next {
		if e, ok := existing[next[i].Provenance]; ok && e.Type == next[i].Type {
			next[i].ID = e.ID
		}
	}

	changed, err := t.writeDetails(aggID, agg.Details, next, true)
	if err != nil {
		return err
	}
	if len(changed) == 0 {
		return nil
	}

	presenceOnly := onlyPresence(changed)
	if !presenceOnly {
		agg.Modified = t.now
		if err := t.tx.UpdateContact(t.ctx, agg); err != nil {
			return err
		}
	}
	t.changes.change(aggID, presenceOnly)
	t.changes.source(contact.SourceExport)
	for _, m := range members {
		t.changes.source(m.Origin)
	}
	return nil
}

// createAggregate makes a new aggregate holding only c. A non-zero id
// recreates a removed aggregate under its old id.
func (t *Txn) createAggregate(c *contact.Contact, id contact.ID) error {
	agg := &contact.Contact{
		ID:       id,
		Origin:   contact.OriginAggregate,
		Created:  t.now,
		Modified: t.now,
	}
	if err := t.tx.InsertContact(t.ctx, agg); err != nil {
		return err
	}
	t.changes.add(agg.ID)
	t.e.logger.Debug("created aggregate", "aggregate", agg.ID, "constituent", c.ID)

	if err := t.link(c, agg.ID, false); err != nil {
		return err
	}
	return t.regenerate(agg.ID)
}

func (t *Txn) deleteAggregate(agg *contact.Contact) error {
	partners, err := t.tx.IsNotPartners(t.ctx, agg.ID)
	if err != nil {
		return err
	}
	t.changes.relationship(partners...)

	if err := t.tx.DeleteContact(t.ctx, agg.ID, contact.OriginAggregate, t.now); err != nil {
		return err
	}
	t.changes.remove(agg.ID)
	t.changes.source(contact.SourceExport)
	t.e.logger.Debug("removed aggregate", "aggregate", agg.ID)
	return nil
}

// attach links an unlinked constituent to the aggregate it matches, or to
// a new aggregate.
func (t *Txn) attach(c *contact.Contact) error {
	aggID, ok, err := t.findMatch(c)
	if err != nil {
		return err
	}
	if !ok {
		return t.createAggregate(c, 0)
	}
	if err := t.link(c, aggID, false); err != nil {
		return err
	}
	return t.regenerate(aggID)
}

// link writes the Aggregates relationship. A local constituent joining an
// aggregate demotes any other local constituent there to was_local.
func (t *Txn) link(c *contact.Contact, aggID contact.ID, manual bool) error {
	_, err := t.tx.AddRelationship(t.ctx, contact.Relationship{
		Type:   contact.Aggregates,
		First:  c.ID,
		Second: aggID,
		Manual: manual,
	})
	if err != nil {
		return err
	}
	t.changes.relationship(c.ID, aggID)

	if !c.IsLocallyOriginated() {
		return nil
	}
	if err := t.touchSources(aggID); err != nil {
		return err
	}
	if contact.NormalizeOrigin(c.Origin) != contact.OriginLocal {
		return nil
	}

	members, err := t.tx.Constituents(t.ctx, aggID)
	if err != nil {
		return err
	}
	for _, m := range members {
		if m.ID == c.ID || contact.NormalizeOrigin(m.Origin) != contact.OriginLocal {
			continue
		}
		m.Origin = contact.OriginWasLocal
		m.Modified = t.now
		if err := t.tx.UpdateContact(t.ctx, m); err != nil {
			return err
		}
		t.changes.change(m.ID, false)
		t.e.logger.Debug("demoted local constituent", "contact", m.ID, "aggregate", aggID)
	}
	return nil
}

func (t *Txn) unlink(c *contact.Contact, aggID contact.ID) error {
	_, err := t.tx.RemoveRelationship(t.ctx, contact.Relationship{
		Type:   contact.Aggregates,
		First:  c.ID,
		Second: aggID,
	})
	if err != nil {
		return err
	}
	t.changes.relationship(c.ID, aggID)
	if c.IsLocallyOriginated() {
		return t.touchSources(aggID)
	}
	if c.Deactivated {
		return nil
	}
	// A source constituent leaving takes its partial elsewhere.
	c.Modified = t.now
	return t.tx.UpdateContact(t.ctx, c)
}

// touchSources stamps the active source constituents of aggID modified.
// A source's partial folds in the local constituents of its aggregate, so
// a local constituent joining or leaving changes what every source sees.
func (t *Txn) touchSources(aggID contact.ID) error {
	members, err := t.tx.Constituents(t.ctx, aggID)
	if err != nil {
		return err
	}
	for _, m := range members {
		if m.IsLocallyOriginated() || m.Deactivated || !m.Modified.Before(t.now) {
			continue
		}
		m.Modified = t.now
		if err := t.tx.UpdateContact(t.ctx, m); err != nil {
			return err
		}
	}
	return nil
}

// writeDetails makes the stored details of owner equal next and reports
// which detail types changed. Entries of next whose ID appears in prev are
// updated in place; the rest are inserted and get their ID assigned.
func (t *Txn) writeDetails(owner contact.ID, prev, next []contact.Detail, aggregate bool) (map[contact.DetailType]bool, error) {
	changed := map[contact.DetailType]bool{}

	prevByID := make(map[int64]contact.Detail, len(prev))
	for _, p := range prev {
		prevByID[p.ID] = p
	}

	keep := map[int64]bool{}
	for i := range next {
		if _, ok := prevByID[next[i].ID]; ok && next[i].ID != 0 && !keep[next[i].ID] {
			keep[next[i].ID] = true
		} else {
			next[i].ID = 0
		}
	}

	// Deletes first so freed uris can be reused by the writes below.
	for _, p := range prev {
		if keep[p.ID] {
			continue
		}
		if err := t.tx.DeleteDetail(t.ctx, p.ID); err != nil {
			return nil, err
		}
		changed[p.Type] = true
	}

	for i := range next {
		d := &next[i]
		d.ContactID = owner
		if d.Type == "" && d.Value != nil {
			d.Type = d.Value.Type()
		}
		if d.ID == 0 {
			if err := t.tx.InsertDetail(t.ctx, d, aggregate); err != nil {
				return nil, err
			}
			changed[d.Type] = true
			continue
		}

		p := prevByID[d.ID]
		if contact.SameContent(p, *d) && p.Provenance == d.Provenance {
			continue
		}
		if err := t.tx.UpdateDetail(t.ctx, *d); err != nil {
			return nil, err
		}
		changed[p.Type] = true
		changed[d.Type] = true
	}

	return changed, nil
}

// validateDetails checks payloads, uniqueness and detail-uris of c, filling
// in missing detail types from their payloads.
func validateDetails(c *contact.Contact, allowComposite bool) error {
	counts := map[contact.DetailType]int{}
	uris := map[string]bool{}

	for i := range c.Details {
		d := &c.Details[i]
		if d.Value == nil {
			return contact.NewConstraintViolation(c.ID, "detail %d has no value", i)
		}
		if d.Type == "" {
			d.Type = d.Value.Type()
		}
		if d.Type != d.Value.Type() {
			return contact.NewConstraintViolation(c.ID, "detail %d: type %s does not match %s payload", i, d.Type, d.Value.Type())
		}
		if !d.Type.Valid() {
			return contact.NewConstraintViolation(c.ID, "detail %d: unknown type %q", i, d.Type)
		}

		counts[d.Type]++
		if d.Type.Unique() && counts[d.Type] > 1 {
			return contact.NewConstraintViolation(c.ID, "more than one %s detail", d.Type)
		}

		if d.URI == "" {
			continue
		}
		if uris[d.URI] {
			return contact.NewConstraintViolation(c.ID, "duplicate detail uri %q", d.URI)
		}
		if !allowComposite && contact.IsCompositeURI(d.URI) {
			return contact.NewConstraintViolation(c.ID, "detail uri %q uses the reserved aggregate form", d.URI)
		}
		uris[d.URI] = true
	}
	return nil
}
