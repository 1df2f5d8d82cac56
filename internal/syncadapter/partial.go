package syncadapter

import (
	"time"

	"github.com/roach88/rolodex/internal/contact"
	"github.com/roach88/rolodex/internal/engine"
)

// Partial is the view of one aggregate that a single sync source may see.
//
// ID is the constituent the partial belongs to: the source's own
// constituent, or the aggregate itself for local-only and export partials.
// Details carry provenance back to the constituent detail they came from
// and have no ids of their own.
type Partial struct {
	ID        contact.ID       `json:"id"`
	Aggregate contact.ID       `json:"aggregate"`
	Details   []contact.Detail `json:"details"`
	Modified  time.Time        `json:"modified"`
}

// Clone returns a deep copy of p.
func (p Partial) Clone() Partial {
	out := p
	out.Details = make([]contact.Detail, len(p.Details))
	for i, d := range p.Details {
		out.Details[i] = d.Clone()
	}
	return out
}

// sourcePartial composes c with the locally originated constituents of its
// aggregate. Identifiers are kept only for c itself.
func sourcePartial(c *contact.Contact, aggID contact.ID, locals []*contact.Contact) Partial {
	parts := append([]*contact.Contact{c}, locals...)
	details := engine.Compose(parts, engine.ComposeOptions{
		IncludeIdentifiers: true,
		Include: func(owner *contact.Contact, d contact.Detail) bool {
			return d.Type.Promotable() || owner.ID == c.ID
		},
	})
	return Partial{
		ID:        c.ID,
		Aggregate: aggID,
		Details:   details,
		Modified:  latest(parts...),
	}
}

// localPartial is what a source sees of an aggregate it has no
// constituent in.
func localPartial(agg *contact.Contact, locals []*contact.Contact) Partial {
	return Partial{
		ID:        agg.ID,
		Aggregate: agg.ID,
		Details:   engine.Compose(locals, engine.ComposeOptions{}),
		Modified:  latest(append([]*contact.Contact{agg}, locals...)...),
	}
}

// exportPartial is the whole aggregate minus non-exportable details.
func exportPartial(agg *contact.Contact) Partial {
	p := Partial{
		ID:        agg.ID,
		Aggregate: agg.ID,
		Details:   []contact.Detail{},
		Modified:  agg.Modified,
	}
	for _, d := range agg.Details {
		if d.NonExportable {
			continue
		}
		d = d.Clone()
		d.ID = 0
		d.ContactID = 0
		p.Details = append(p.Details, d)
	}
	return p
}

func latest(cs ...*contact.Contact) time.Time {
	var t time.Time
	for _, c := range cs {
		if c.Modified.After(t) {
			t = c.Modified
		}
	}
	return t
}

// activeLocals returns the live locally originated members.
func activeLocals(members []*contact.Contact) []*contact.Contact {
	var out []*contact.Contact
	for _, m := range members {
		if m.IsLocallyOriginated() && !m.Deactivated {
			out = append(out, m)
		}
	}
	return out
}

// sameData compares the data two sides agree on: type, value and uri.
// Ids, provenance and flags are ignored.
func sameData(a, b contact.Detail) bool {
	return a.Type == b.Type && a.URI == b.URI && contact.SameValue(a.Value, b.Value)
}

// sameDetails reports whether a and b hold the same details in any order.
func sameDetails(a, b []contact.Detail) bool {
	if len(a) != len(b) {
		return false
	}
	used := make([]bool, len(b))
	for _, d := range a {
		found := false
		for j, e := range b {
			if !used[j] && sameData(d, e) {
				used[j] = true
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// annotate copies provenance from current onto the matching details of
// remote that lack it, so a later diff can tell which constituent detail
// each remote detail stands for.
func annotate(remote, current Partial) Partial {
	out := remote.Clone()
	used := make([]bool, len(current.Details))
	for i, d := range out.Details {
		if !d.Provenance.IsZero() {
			continue
		}
		for j, c := range current.Details {
			if used[j] || !sameData(d, c) {
				continue
			}
			used[j] = true
			out.Details[i].Provenance = c.Provenance
			break
		}
	}
	return out
}
