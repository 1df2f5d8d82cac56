package syncadapter

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"github.com/roach88/rolodex/internal/contact"
	"github.com/roach88/rolodex/internal/engine"
	"github.com/roach88/rolodex/internal/store"
)

// Pair is one remote change. Old is the partial as last synced and New is
// the remote's current version. A nil Old is a remote addition and a nil
// New a remote deletion.
type Pair struct {
	Old *Partial `json:"old,omitempty"`
	New *Partial `json:"new,omitempty"`
}

// StoreOptions tunes how remote changes are applied.
type StoreOptions struct {
	// IgnorableTypes are detail types whose remote changes are not applied
	// to existing contacts.
	IgnorableTypes []contact.DetailType
}

// StoreResult reports the outcome of Store.
type StoreResult struct {
	ChangeSet contact.ChangeSet

	// IDs holds, per pair, the contact the remote record now corresponds
	// to. It is zero for deletions and for changes to contacts that no
	// longer exist.
	IDs []contact.ID
}

// Store applies remote changes for source in one transaction. Conflicting
// edits resolve in favour of the local side. Any error rolls back every
// pair.
func (a *Adapter) Store(ctx context.Context, source string, pairs []Pair, opts StoreOptions) (StoreResult, error) {
	if err := checkSource(source); err != nil {
		return StoreResult{}, err
	}

	m := &merger{
		source: source,
		ignore: map[contact.DetailType]bool{},
		logger: a.logger,
	}
	for _, t := range opts.IgnorableTypes {
		m.ignore[t] = true
	}

	ids := make([]contact.ID, len(pairs))
	cs, err := a.engine.Update(ctx, func(txn *engine.Txn) error {
		m.txn = txn
		m.dropped = 0
		for i, p := range pairs {
			id, err := m.apply(p)
			if err != nil {
				return fmt.Errorf("pair %d: %w", i, err)
			}
			ids[i] = id
		}
		return nil
	})
	if err != nil {
		return StoreResult{}, wrapSource("store", source, err)
	}

	a.logger.Info("stored remote changes",
		"source", source,
		"pairs", len(pairs),
		"conflicts", m.dropped,
		"changeset", cs.ID,
	)
	return StoreResult{ChangeSet: cs, IDs: ids}, nil
}

// RemoveSourceContacts deletes every constituent source owns, deactivated
// ones included, in one transaction. Aggregates left empty go with them.
func (a *Adapter) RemoveSourceContacts(ctx context.Context, source string) (contact.ChangeSet, error) {
	if err := checkSource(source); err != nil {
		return contact.ChangeSet{}, err
	}

	removed := 0
	cs, err := a.engine.Update(ctx, func(txn *engine.Txn) error {
		ids, err := txn.Tx().ContactIDs(txn.Context(), store.Filter{
			Origins:            []string{source},
			IncludeDeactivated: true,
		})
		if err != nil {
			return err
		}
		removed = len(ids)
		txn.MarkSyncSource(source)
		return txn.RemoveContacts(ids)
	})
	if err != nil {
		return contact.ChangeSet{}, wrapSource("remove contacts of", source, err)
	}

	a.logger.Info("removed source contacts", "source", source, "count", removed, "changeset", cs.ID)
	return cs, nil
}

// merger applies pairs inside one engine transaction.
type merger struct {
	txn     *engine.Txn
	source  string
	ignore  map[contact.DetailType]bool
	logger  *slog.Logger
	dropped int
}

func (m *merger) export() bool {
	return m.source == contact.SourceExport
}

func (m *merger) ctx() context.Context {
	return m.txn.Context()
}

func (m *merger) apply(p Pair) (contact.ID, error) {
	switch {
	case p.Old == nil && p.New == nil:
		return 0, nil
	case p.Old == nil:
		return m.create(p.New)
	case p.New == nil:
		return 0, m.remove(p.Old)
	}
	return m.merge(p.Old, p.New)
}

// create stores a remote addition. Export additions become local
// contacts and report their aggregate.
func (m *merger) create(n *Partial) (contact.ID, error) {
	origin := m.source
	if m.export() {
		origin = contact.OriginLocal
	}
	c := &contact.Contact{Origin: origin, Details: []contact.Detail{}}
	m.addDetails(c, n.Details)
	if err := m.txn.SaveContact(c); err != nil {
		return 0, err
	}
	if !m.export() {
		return c.ID, nil
	}
	aggID, _, err := m.txn.Tx().AggregateOf(m.ctx(), c.ID)
	return aggID, err
}

func (m *merger) remove(o *Partial) error {
	c, err := m.txn.Contact(o.ID)
	if contact.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}

	switch {
	case m.export():
		if !c.IsAggregate() {
			return contact.NewConstraintViolation(c.ID, "export partials refer to aggregates")
		}
		return m.txn.RemoveContact(c.ID)
	case c.Origin == m.source:
		return m.txn.RemoveContact(c.ID)
	case c.IsAggregate():
		// A local-only aggregate the remote dropped: the local data stays.
		return nil
	}
	return contact.NewConstraintViolation(c.ID, "contact does not belong to %s", m.source)
}

func (m *merger) merge(o, n *Partial) (contact.ID, error) {
	target, err := m.txn.Contact(o.ID)
	if contact.IsNotFound(err) {
		m.logger.Debug("remote change for missing contact", "source", m.source, "contact", o.ID)
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	switch {
	case m.export():
		if !target.IsAggregate() {
			return 0, contact.NewConstraintViolation(target.ID, "export partials refer to aggregates")
		}
		return target.ID, m.mergeExport(target, o, n)
	case target.IsAggregate():
		return m.adopt(target, o, n)
	case target.Origin != m.source:
		return 0, contact.NewConstraintViolation(target.ID, "contact does not belong to %s", m.source)
	}
	return target.ID, m.mergeSource(target, o, n)
}

// mergeSource applies a remote change to one of the source's constituents.
// Edits to details promoted from local constituents go to those.
func (m *merger) mergeSource(target *contact.Contact, o, n *Partial) error {
	tx := m.txn.Tx()
	aggID, linked, err := tx.AggregateOf(m.ctx(), target.ID)
	if err != nil {
		return err
	}
	var locals []*contact.Contact
	if linked {
		members, err := tx.Constituents(m.ctx(), aggID)
		if err != nil {
			return err
		}
		locals = activeLocals(members)
	}

	d := diff(o.Details, n.Details, sourcePartial(target, aggID, locals).Details, m.ignore)
	m.dropped += d.dropped
	if d.empty() {
		return nil
	}

	owners := map[contact.ID]*contact.Contact{target.ID: target}
	for _, l := range locals {
		owners[l.ID] = l
	}
	touched := m.applyEdits(owners, d.edits)
	if m.addDetails(target, d.added) {
		touched[target.ID] = true
	}
	return m.save(owners, touched)
}

// adopt handles the first remote change to a local-only aggregate: the
// remote record becomes a new constituent linked to that aggregate.
func (m *merger) adopt(agg *contact.Contact, o, n *Partial) (contact.ID, error) {
	members, err := m.txn.Tx().Constituents(m.ctx(), agg.ID)
	if err != nil {
		return 0, err
	}
	locals := activeLocals(members)

	d := diff(o.Details, n.Details, localPartial(agg, locals).Details, m.ignore)
	m.dropped += d.dropped

	owners := map[contact.ID]*contact.Contact{}
	for _, l := range locals {
		owners[l.ID] = l
	}
	if err := m.save(owners, m.applyEdits(owners, d.edits)); err != nil {
		return 0, err
	}

	c := &contact.Contact{Origin: m.source, Details: []contact.Detail{}}
	m.addDetails(c, d.added)
	if err := m.txn.SaveContact(c); err != nil {
		return 0, err
	}
	err = m.txn.SaveRelationship(contact.Relationship{
		Type:   contact.Aggregates,
		First:  c.ID,
		Second: agg.ID,
		Manual: true,
	})
	if err != nil {
		return 0, err
	}
	m.logger.Debug("adopted local aggregate", "source", m.source, "aggregate", agg.ID, "contact", c.ID)
	return c.ID, nil
}

// mergeExport routes a remote change to a whole aggregate through the
// aggregate itself. Changes to read-only details are dropped.
func (m *merger) mergeExport(agg *contact.Contact, o, n *Partial) error {
	d := diff(o.Details, n.Details, exportPartial(agg).Details, m.ignore)
	m.dropped += d.dropped
	if d.empty() {
		return nil
	}

	sub := agg.Clone()
	changed := false
	for _, e := range d.edits {
		i := slices.IndexFunc(sub.Details, func(x contact.Detail) bool { return x.Provenance == e.target })
		if i < 0 {
			continue
		}
		if !sub.Details[i].Modifiable {
			m.dropped++
			continue
		}
		if e.next == nil {
			sub.Details = slices.Delete(sub.Details, i, i+1)
		} else {
			sub.Details[i].Value = e.next.Value
			sub.Details[i].URI = e.next.URI
			sub.Details[i].LinkedURIs = slices.Clone(e.next.LinkedURIs)
		}
		changed = true
	}
	for _, a := range d.added {
		if !a.Type.Promotable() || (a.Type.Unique() && hasType(sub, a.Type)) {
			continue
		}
		sub.Details = append(sub.Details, plain(a, false))
		changed = true
	}
	if !changed {
		return nil
	}
	return m.txn.SaveContact(sub)
}

// applyEdits rewrites owner details in place and returns the owners it
// touched. Edits whose target no longer exists are skipped.
func (m *merger) applyEdits(owners map[contact.ID]*contact.Contact, edits []edit) map[contact.ID]bool {
	touched := map[contact.ID]bool{}
	for _, e := range edits {
		owner := owners[e.target.ContactID]
		if owner == nil {
			continue
		}
		i := slices.IndexFunc(owner.Details, func(x contact.Detail) bool { return x.ID == e.target.DetailID })
		if i < 0 {
			continue
		}
		if e.next == nil {
			owner.Details = slices.Delete(owner.Details, i, i+1)
		} else {
			owner.Details[i] = revise(owner, owner.Details[i], *e.next)
		}
		touched[owner.ID] = true
	}
	return touched
}

// addDetails appends remote details to c. A singular type replaces the
// value c already has. It reports whether c changed.
func (m *merger) addDetails(c *contact.Contact, ds []contact.Detail) bool {
	keepFlags := !c.IsLocallyOriginated()
	changed := false
	for _, d := range ds {
		if d.Value == nil || d.Value.IsEmpty() {
			continue
		}
		nd := plain(d, keepFlags)
		if d.Type.Unique() {
			if i := slices.IndexFunc(c.Details, func(x contact.Detail) bool { return x.Type == d.Type }); i >= 0 {
				nd.ID = c.Details[i].ID
				c.Details[i] = nd
				changed = true
				continue
			}
		} else if holds(c.Details, d) {
			continue
		}
		c.Details = append(c.Details, nd)
		changed = true
	}
	return changed
}

func (m *merger) save(owners map[contact.ID]*contact.Contact, touched map[contact.ID]bool) error {
	for _, id := range slices.Sorted(maps.Keys(touched)) {
		if err := m.txn.SaveContact(owners[id]); err != nil {
			return err
		}
	}
	return nil
}

func hasType(c *contact.Contact, t contact.DetailType) bool {
	_, ok := c.First(t)
	return ok
}

// revise applies a remote edit to a stored constituent detail. Only source
// constituents take the remote's modifiable marking.
func revise(owner *contact.Contact, orig, next contact.Detail) contact.Detail {
	out := orig.Clone()
	out.Value = next.Value
	out.URI = plainURI(next.URI)
	out.LinkedURIs = nil
	for _, u := range next.LinkedURIs {
		out.LinkedURIs = append(out.LinkedURIs, plainURI(u))
	}
	if !owner.IsLocallyOriginated() {
		out.Modifiable = next.Modifiable
	}
	return out
}

// plain turns a partial detail into a new constituent detail.
func plain(d contact.Detail, keepModifiable bool) contact.Detail {
	out := d.Clone()
	out.ID = 0
	out.ContactID = 0
	out.Provenance = contact.Provenance{}
	out.URI = plainURI(out.URI)
	for i, u := range out.LinkedURIs {
		out.LinkedURIs[i] = plainURI(u)
	}
	if !keepModifiable {
		out.Modifiable = false
	}
	return out
}

func plainURI(uri string) string {
	if _, p, ok := contact.SplitCompositeURI(uri); ok {
		return p
	}
	return uri
}
