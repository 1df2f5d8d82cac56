package syncadapter

import (
	"github.com/roach88/rolodex/internal/contact"
)

// edit is one remote change to an existing constituent detail. A nil next
// removes the detail.
type edit struct {
	target contact.Provenance
	next   *contact.Detail
}

// delta is the part of a remote change that survives the prefer-local
// policy.
type delta struct {
	edits []edit
	added []contact.Detail

	// dropped counts remote changes discarded because the local side
	// changed the same detail.
	dropped int
}

func (d delta) empty() bool {
	return len(d.edits) == 0 && len(d.added) == 0
}

// diff compares the last synced snapshot (old), the remote's current
// version (next) and the database's current version (cur), detail by
// detail, keyed by provenance.
//
// A detail the remote removed is removed locally unless the local side
// changed it. A detail the remote changed is updated unless the local side
// changed or removed it. A remote singular value without known provenance
// replaces the synced value of that type. Other remote details without
// known provenance are additions; they are skipped when the local side
// already holds the same value, or holds any value of a singular type.
func diff(old, next, cur []contact.Detail, ignore map[contact.DetailType]bool) delta {
	var out delta

	curBy := map[contact.Provenance]contact.Detail{}
	for _, d := range cur {
		if !d.Provenance.IsZero() {
			curBy[d.Provenance] = d
		}
	}
	oldBy := map[contact.Provenance]contact.Detail{}
	for _, d := range old {
		if !d.Provenance.IsZero() && !ignore[d.Type] {
			oldBy[d.Provenance] = d
		}
	}

	nextBy := map[contact.Provenance]contact.Detail{}
	var fresh []contact.Detail
	for _, d := range next {
		if ignore[d.Type] {
			continue
		}
		if _, known := oldBy[d.Provenance]; d.Provenance.IsZero() || !known {
			fresh = append(fresh, d)
			continue
		}
		nextBy[d.Provenance] = d
	}

	for _, d := range fresh {
		if d.Type.Unique() {
			// A singular value the remote replaced: pair it with the
			// detail it replaces.
			if o, ok := unmatched(old, oldBy, nextBy, d.Type); ok {
				d.Provenance = o.Provenance
				nextBy[o.Provenance] = d
				continue
			}
		}
		if d.Value == nil || d.Value.IsEmpty() || holds(cur, d) || holds(out.added, d) {
			continue
		}
		out.added = append(out.added, d)
	}

	for _, o := range old {
		prov := o.Provenance
		if _, ok := oldBy[prov]; !ok {
			continue
		}
		c, inCur := curBy[prov]
		localChanged := !inCur || !sameData(o, c)
		n, inNext := nextBy[prov]

		switch {
		case !inNext:
			if localChanged {
				out.dropped++
				continue
			}
			out.edits = append(out.edits, edit{target: prov})
		case sameData(o, n) && o.Modifiable == n.Modifiable:
		default:
			if localChanged {
				out.dropped++
				continue
			}
			n := n
			out.edits = append(out.edits, edit{target: prov, next: &n})
		}
	}
	return out
}

// unmatched returns the first synced detail of type t that the remote
// version no longer refers to.
func unmatched(old []contact.Detail, oldBy, nextBy map[contact.Provenance]contact.Detail, t contact.DetailType) (contact.Detail, bool) {
	for _, o := range old {
		if o.Type != t {
			continue
		}
		if _, synced := oldBy[o.Provenance]; !synced {
			continue
		}
		if _, taken := nextBy[o.Provenance]; taken {
			continue
		}
		return o, true
	}
	return contact.Detail{}, false
}

// holds reports whether ds already covers d: the same value, or for a
// singular type any value at all.
func holds(ds []contact.Detail, d contact.Detail) bool {
	for _, e := range ds {
		if e.Type != d.Type {
			continue
		}
		if d.Type.Unique() || contact.SameValue(e.Value, d.Value) {
			return true
		}
	}
	return false
}
