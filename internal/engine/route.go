package engine

import (
	"maps"
	"slices"

	"github.com/roach88/rolodex/internal/contact"
)

// routePlan collects the constituent edits derived from one aggregate save.
type routePlan struct {
	modified map[int64]contact.Detail
	removed  map[int64]bool
}

// saveAggregate applies an edited aggregate by routing every difference to
// the constituent detail it was promoted from. Nothing is written unless
// every difference can be routed.
func (t *Txn) saveAggregate(cur, sub *contact.Contact) error {
	if sub.Deactivated {
		return contact.NewConstraintViolation(cur.ID, "aggregates cannot be deactivated")
	}
	if err := validateDetails(sub, true); err != nil {
		return err
	}

	members, err := t.tx.Constituents(t.ctx, cur.ID)
	if err != nil {
		return err
	}
	owners := make(map[contact.ID]*contact.Contact, len(members))
	for _, m := range members {
		owners[m.ID] = m
	}

	plans := map[contact.ID]*routePlan{}
	planFor := func(id contact.ID) *routePlan {
		p, ok := plans[id]
		if !ok {
			p = &routePlan{modified: map[int64]contact.Detail{}, removed: map[int64]bool{}}
			plans[id] = p
		}
		return p
	}

	// resolve finds the constituent detail behind an aggregate detail and
	// checks that it may be edited.
	resolve := func(ad contact.Detail) (*contact.Contact, contact.Detail, error) {
		owner := owners[ad.Provenance.ContactID]
		if owner == nil {
			return nil, contact.Detail{}, contact.NewConstraintViolation(cur.ID, "detail %d has stale provenance %s", ad.ID, ad.Provenance)
		}
		od, ok := owner.DetailByID(ad.Provenance.DetailID)
		if !ok {
			return nil, contact.Detail{}, contact.NewConstraintViolation(cur.ID, "detail %d has stale provenance %s", ad.ID, ad.Provenance)
		}
		if !owner.IsLocallyOriginated() && !od.Modifiable {
			return nil, contact.Detail{}, contact.NewNotModifiable(owner.ID, od.Type)
		}
		return owner, od, nil
	}

	seen := map[int64]bool{}
	var additions []contact.Detail
	for _, s := range sub.Details {
		e, ok := cur.DetailByID(s.ID)
		if !ok || seen[s.ID] {
			additions = append(additions, s)
			continue
		}
		seen[s.ID] = true
		if sameVisible(e, s) {
			continue
		}
		if s.Type != e.Type {
			return contact.NewConstraintViolation(cur.ID, "detail %d cannot change type from %s to %s", e.ID, e.Type, s.Type)
		}
		owner, od, err := resolve(e)
		if err != nil {
			return err
		}
		planFor(owner.ID).modified[od.ID] = demote(owner, od, s)
	}

	for _, e := range cur.Details {
		if seen[e.ID] {
			continue
		}
		owner, od, err := resolve(e)
		if err != nil {
			return err
		}
		planFor(owner.ID).removed[od.ID] = true
	}

	for _, a := range additions {
		if !a.Type.Promotable() {
			return contact.NewConstraintViolation(cur.ID, "%s details cannot be added to an aggregate", a.Type)
		}
	}

	var local *contact.Contact
	if len(additions) > 0 {
		local, err = t.localConstituent(cur.ID, members)
		if err != nil {
			return err
		}
		owners[local.ID] = local
		planFor(local.ID)
	}

	for _, id := range slices.Sorted(maps.Keys(plans)) {
		owner := owners[id]
		var extra []contact.Detail
		if local != nil && owner.ID == local.ID {
			extra = additions
		}
		if err := t.applyPlan(owner, plans[id], extra); err != nil {
			return err
		}
	}

	return t.regenerate(cur.ID)
}

// localConstituent returns the aggregate's local constituent, creating an
// incidental one if there is none.
func (t *Txn) localConstituent(aggID contact.ID, members []*contact.Contact) (*contact.Contact, error) {
	for _, m := range members {
		if contact.NormalizeOrigin(m.Origin) == contact.OriginLocal {
			return m, nil
		}
	}

	inc := &contact.Contact{
		Origin:     contact.OriginLocal,
		Incidental: true,
		Created:    t.now,
		Modified:   t.now,
		Details:    []contact.Detail{},
	}
	if err := t.tx.InsertContact(t.ctx, inc); err != nil {
		return nil, err
	}
	t.changes.add(inc.ID)
	t.e.logger.Debug("created incidental constituent", "contact", inc.ID, "aggregate", aggID)

	if err := t.link(inc, aggID, false); err != nil {
		return nil, err
	}
	return inc, nil
}

// applyPlan writes routed edits and additions to one constituent.
func (t *Txn) applyPlan(owner *contact.Contact, plan *routePlan, additions []contact.Detail) error {
	next := make([]contact.Detail, 0, len(owner.Details)+len(additions))
	for _, d := range owner.Details {
		if plan.removed[d.ID] {
			continue
		}
		if m, ok := plan.modified[d.ID]; ok {
			d = m
		}
		next = append(next, d)
	}

	for _, a := range additions {
		a = plainDetail(a)
		if a.Type.Unique() {
			if i := slices.IndexFunc(next, func(d contact.Detail) bool { return d.Type == a.Type }); i >= 0 {
				a.ID = next[i].ID
				next[i] = a
				continue
			}
		} else if containsValue(next, a) {
			continue
		}
		next = append(next, a)
	}

	changed, err := t.writeDetails(owner.ID, owner.Details, next, false)
	if err != nil {
		return err
	}
	if len(changed) == 0 {
		return nil
	}

	presenceOnly := onlyPresence(changed)
	if !presenceOnly {
		owner.Modified = t.now
		if err := t.tx.UpdateContact(t.ctx, owner); err != nil {
			return err
		}
	}
	t.changes.change(owner.ID, presenceOnly)
	t.changes.source(owner.Origin)
	return nil
}

// sameVisible compares the caller-editable parts of two aggregate details.
func sameVisible(a, b contact.Detail) bool {
	if a.Type != b.Type || a.URI != b.URI || a.NonExportable != b.NonExportable {
		return false
	}
	if !slices.Equal(a.LinkedURIs, b.LinkedURIs) {
		return false
	}
	return contact.SameValue(a.Value, b.Value)
}

// demote maps an edited aggregate detail back onto the constituent detail
// it came from. Modifiable stays as the constituent had it.
func demote(owner *contact.Contact, orig, edited contact.Detail) contact.Detail {
	out := orig.Clone()
	out.Value = edited.Value
	out.NonExportable = edited.NonExportable
	out.URI = stripComposite(owner.ID, edited.URI)
	out.LinkedURIs = nil
	for _, u := range edited.LinkedURIs {
		out.LinkedURIs = append(out.LinkedURIs, stripComposite(owner.ID, u))
	}
	return out
}

// plainDetail turns a caller-added aggregate detail into a constituent one.
func plainDetail(d contact.Detail) contact.Detail {
	out := d.Clone()
	out.ID = 0
	out.ContactID = 0
	out.Provenance = contact.Provenance{}
	out.Modifiable = false
	if _, plain, ok := contact.SplitCompositeURI(out.URI); ok {
		out.URI = plain
	}
	for i, u := range out.LinkedURIs {
		if _, plain, ok := contact.SplitCompositeURI(u); ok {
			out.LinkedURIs[i] = plain
		}
	}
	return out
}

func stripComposite(owner contact.ID, uri string) string {
	if id, plain, ok := contact.SplitCompositeURI(uri); ok && id == owner {
		return plain
	}
	return uri
}
