package syncadapter

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/roach88/rolodex/internal/contact"
	"github.com/roach88/rolodex/internal/store"
)

// FetchResult is what changed for one source since a point in time. The
// three sets are disjoint.
type FetchResult struct {
	Added    []Partial
	Modified []Partial
	Deleted  []contact.ID

	// MaxTimestamp is the newest change in the database; pass it as since
	// on the next fetch.
	MaxTimestamp time.Time
}

// Fetch returns the partial aggregates of source that changed after since.
// A zero since returns everything as added. exported lists the local-only
// aggregates source has already been given; they come back as modified
// rather than added, and as deleted once they are gone.
func (a *Adapter) Fetch(ctx context.Context, source string, since time.Time, exported []contact.ID) (FetchResult, error) {
	if err := checkSource(source); err != nil {
		return FetchResult{}, err
	}

	var res FetchResult
	err := a.engine.Store().View(ctx, func(tx *store.Tx) error {
		max, err := tx.MaxTimestamp(ctx)
		if err != nil {
			return err
		}
		res.MaxTimestamp = max

		f := &fetcher{tx: tx, ctx: ctx, source: source, since: since, deleted: map[contact.ID]struct{}{}}
		if source == contact.SourceExport {
			err = f.export()
		} else {
			err = f.partials(exported)
		}
		if err != nil {
			return err
		}
		f.finish(&res)
		return nil
	})
	if err != nil {
		return FetchResult{}, wrapSource("fetch", source, err)
	}

	a.logger.Debug("fetched partials",
		"source", source,
		"since", since,
		"added", len(res.Added),
		"modified", len(res.Modified),
		"deleted", len(res.Deleted),
	)
	return res, nil
}

type fetcher struct {
	tx     *store.Tx
	ctx    context.Context
	source string
	since  time.Time

	added    []Partial
	modified []Partial
	deleted  map[contact.ID]struct{}
}

func (f *fetcher) after(t time.Time) bool {
	return f.since.IsZero() || t.After(f.since)
}

// classify files p as added when its contact was created after since,
// else as modified when anything in it changed after since.
func (f *fetcher) classify(p Partial, created time.Time) {
	switch {
	case f.after(created):
		f.added = append(f.added, p)
	case f.after(p.Modified):
		f.modified = append(f.modified, p)
	}
}

func (f *fetcher) tombstones(origins ...string) error {
	if f.since.IsZero() {
		return nil
	}
	tombs, err := f.tx.DeletedSince(f.ctx, f.since, origins...)
	if err != nil {
		return err
	}
	for _, t := range tombs {
		f.deleted[t.ContactID] = struct{}{}
	}
	return nil
}

func (f *fetcher) export() error {
	aggs, err := f.tx.Contacts(f.ctx, store.Filter{Origins: []string{contact.OriginAggregate}})
	if err != nil {
		return err
	}
	for _, agg := range aggs {
		f.classify(exportPartial(agg), agg.Created)
	}
	return f.tombstones(contact.OriginAggregate)
}

// deactivated reports the source's constituents deactivated since the
// last fetch as deleted. Their aggregate may already be gone.
func (f *fetcher) deactivated() error {
	if f.since.IsZero() {
		return nil
	}
	cs, err := f.tx.Contacts(f.ctx, store.Filter{
		Origins:            []string{f.source},
		IncludeDeactivated: true,
		ModifiedSince:      f.since,
	})
	if err != nil {
		return err
	}
	for _, c := range cs {
		if c.Deactivated {
			f.deleted[c.ID] = struct{}{}
		}
	}
	return nil
}

func (f *fetcher) partials(exported []contact.ID) error {
	wasExported := map[contact.ID]bool{}
	for _, id := range exported {
		wasExported[id] = true
	}

	aggs, err := f.tx.Contacts(f.ctx, store.Filter{Origins: []string{contact.OriginAggregate}})
	if err != nil {
		return err
	}

	live := map[contact.ID]bool{}
	for _, agg := range aggs {
		live[agg.ID] = true

		members, err := f.tx.Constituents(f.ctx, agg.ID)
		if err != nil {
			return err
		}
		locals := activeLocals(members)

		own := 0
		for _, m := range members {
			if m.Origin != f.source {
				continue
			}
			own++
			if m.Deactivated {
				continue
			}
			f.classify(sourcePartial(m, agg.ID, locals), m.Created)
		}

		switch {
		case own > 0:
			// The source has its own record; the local-only view is retired.
		case len(locals) > 0:
			p := localPartial(agg, locals)
			if !wasExported[agg.ID] {
				f.added = append(f.added, p)
			} else if f.after(p.Modified) {
				f.modified = append(f.modified, p)
			}
		case wasExported[agg.ID]:
			f.deleted[agg.ID] = struct{}{}
		}
	}

	for _, id := range exported {
		if !live[id] {
			f.deleted[id] = struct{}{}
		}
	}
	if err := f.deactivated(); err != nil {
		return err
	}
	return f.tombstones(f.source)
}

// finish sorts the results and keeps the sets disjoint. A contact that is
// both present and tombstoned was recreated under the same id.
func (f *fetcher) finish(res *FetchResult) {
	byID := func(a, b Partial) int { return cmp.Compare(a.ID, b.ID) }
	slices.SortFunc(f.added, byID)
	slices.SortFunc(f.modified, byID)

	present := map[contact.ID]bool{}
	for _, p := range f.added {
		present[p.ID] = true
	}
	for _, p := range f.modified {
		present[p.ID] = true
	}

	res.Added = f.added
	res.Modified = f.modified
	res.Deleted = []contact.ID{}
	for id := range f.deleted {
		if !present[id] {
			res.Deleted = append(res.Deleted, id)
		}
	}
	slices.Sort(res.Deleted)
}

// Partials returns the current partials of source for ids, in order. Ids
// that no longer exist or have no partial for source are skipped.
func (a *Adapter) Partials(ctx context.Context, source string, ids []contact.ID) ([]Partial, error) {
	if err := checkSource(source); err != nil {
		return nil, err
	}

	out := []Partial{}
	err := a.engine.Store().View(ctx, func(tx *store.Tx) error {
		for _, id := range ids {
			c, err := tx.Contact(ctx, id)
			if contact.IsNotFound(err) {
				continue
			}
			if err != nil {
				return err
			}
			p, ok, err := partialOf(ctx, tx, source, c)
			if err != nil {
				return err
			}
			if ok {
				out = append(out, p)
			}
		}
		return nil
	})
	if err != nil {
		return nil, wrapSource("partials", source, err)
	}
	return out, nil
}

func partialOf(ctx context.Context, tx *store.Tx, source string, c *contact.Contact) (Partial, bool, error) {
	if source == contact.SourceExport {
		if !c.IsAggregate() {
			return Partial{}, false, nil
		}
		return exportPartial(c), true, nil
	}

	if c.IsAggregate() {
		members, err := tx.Constituents(ctx, c.ID)
		if err != nil {
			return Partial{}, false, err
		}
		locals := activeLocals(members)
		return localPartial(c, locals), len(locals) > 0, nil
	}

	if c.Origin != source || c.Deactivated {
		return Partial{}, false, nil
	}
	aggID, linked, err := tx.AggregateOf(ctx, c.ID)
	if err != nil {
		return Partial{}, false, err
	}
	var locals []*contact.Contact
	if linked {
		members, err := tx.Constituents(ctx, aggID)
		if err != nil {
			return Partial{}, false, err
		}
		locals = activeLocals(members)
	}
	return sourcePartial(c, aggID, locals), true, nil
}
