package cli

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/roach88/rolodex/internal/contact"
	"github.com/roach88/rolodex/internal/syncadapter"
)

// contactView is the printable form of a contact.
type contactView struct {
	ID              contact.ID       `json:"id"`
	Origin          string           `json:"origin"`
	Deactivated     bool             `json:"deactivated,omitempty"`
	Incidental      bool             `json:"incidental,omitempty"`
	FormerAggregate contact.ID       `json:"former_aggregate,omitempty"`
	Created         time.Time        `json:"created"`
	Modified        time.Time        `json:"modified"`
	Details         []contact.Detail `json:"details"`

	// Aggregate is set on constituents, Constituents on aggregates.
	Aggregate    contact.ID   `json:"aggregate,omitempty"`
	Constituents []contact.ID `json:"constituents,omitempty"`
}

func newContactView(c *contact.Contact) contactView {
	return contactView{
		ID:              c.ID,
		Origin:          contact.NormalizeOrigin(c.Origin),
		Deactivated:     c.Deactivated,
		Incidental:      c.Incidental,
		FormerAggregate: c.FormerAggregate,
		Created:         c.Created,
		Modified:        c.Modified,
		Details:         c.Details,
	}
}

// withLinks fills Aggregate or Constituents from c's aggregates links.
func (v contactView) withLinks(rels []contact.Relationship) contactView {
	for _, r := range rels {
		if r.Type != contact.Aggregates {
			continue
		}
		switch v.ID {
		case r.Second:
			v.Constituents = append(v.Constituents, r.First)
		case r.First:
			v.Aggregate = r.Second
		}
	}
	slices.Sort(v.Constituents)
	return v
}

func (v contactView) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "#%d %s %q", v.ID, v.Origin, displayName(v.Details))
	if v.Deactivated {
		b.WriteString(" (deactivated)")
	}
	if v.Aggregate != 0 {
		fmt.Fprintf(&b, " -> #%d", v.Aggregate)
	}
	if len(v.Constituents) > 0 {
		fmt.Fprintf(&b, " <- %s", joinIDs(v.Constituents))
	}
	for _, d := range v.Details {
		b.WriteString("\n  ")
		b.WriteString(detailLine(d))
	}
	return b.String()
}

// contactList prints one line per contact.
type contactList []contactView

func (l contactList) String() string {
	if len(l) == 0 {
		return "no contacts"
	}
	lines := make([]string, len(l))
	for i, v := range l {
		lines[i] = fmt.Sprintf("%d\t%s\t%s", v.ID, v.Origin, displayName(v.Details))
		if v.Deactivated {
			lines[i] += "\t(deactivated)"
		}
	}
	return strings.Join(lines, "\n")
}

func detailLine(d contact.Detail) string {
	value, err := contact.EncodeValue(d.Value)
	if err != nil {
		value = []byte("?")
	}
	line := fmt.Sprintf("%s: %s", d.Type, value)
	if d.Modifiable {
		line += " [modifiable]"
	}
	if d.NonExportable {
		line += " [non-exportable]"
	}
	if !d.Provenance.IsZero() {
		line += " from " + d.Provenance.String()
	}
	return line
}

// displayName joins the name parts of the first name detail, falling back
// to the nickname.
func displayName(ds []contact.Detail) string {
	for _, d := range ds {
		if n, ok := d.Value.(contact.Name); ok {
			parts := slices.DeleteFunc([]string{n.Prefix, n.First, n.Middle, n.Last, n.Suffix},
				func(s string) bool { return s == "" })
			if len(parts) > 0 {
				return strings.Join(parts, " ")
			}
		}
	}
	for _, d := range ds {
		if n, ok := d.Value.(contact.Nickname); ok && n.Nickname != "" {
			return n.Nickname
		}
	}
	return "(unnamed)"
}

// changeView prints a change set.
type changeView struct {
	contact.ChangeSet
}

func (v changeView) String() string {
	if v.Empty() {
		return "no changes"
	}
	var parts []string
	add := func(label string, ids []contact.ID) {
		if len(ids) > 0 {
			parts = append(parts, fmt.Sprintf("%s %s", label, joinIDs(ids)))
		}
	}
	add("added", v.Added)
	add("changed", v.Changed)
	add("removed", v.Removed)
	add("deactivated", v.DeactivatedChanged)
	add("presence", v.PresenceChanged)
	add("relationships", v.RelationshipsChanged)
	if len(v.SyncSourcesChanged) > 0 {
		parts = append(parts, "sources "+strings.Join(v.SyncSourcesChanged, ","))
	}
	return strings.Join(parts, "; ")
}

// fetchView prints a sync fetch result.
type fetchView struct {
	Added        []syncadapter.Partial `json:"added"`
	Modified     []syncadapter.Partial `json:"modified"`
	Deleted      []contact.ID          `json:"deleted"`
	MaxTimestamp time.Time             `json:"max_timestamp"`
}

func newFetchView(r syncadapter.FetchResult) fetchView {
	return fetchView{
		Added:        orEmpty(r.Added),
		Modified:     orEmpty(r.Modified),
		Deleted:      orEmpty(r.Deleted),
		MaxTimestamp: r.MaxTimestamp,
	}
}

func (v fetchView) String() string {
	var b strings.Builder
	for _, set := range []struct {
		label    string
		partials []syncadapter.Partial
	}{{"added", v.Added}, {"modified", v.Modified}} {
		fmt.Fprintf(&b, "%s: %d\n", set.label, len(set.partials))
		for _, p := range set.partials {
			fmt.Fprintf(&b, "  %d (aggregate %d) %s\n", p.ID, p.Aggregate, displayName(p.Details))
		}
	}
	fmt.Fprintf(&b, "deleted: %d", len(v.Deleted))
	if len(v.Deleted) > 0 {
		fmt.Fprintf(&b, " %s", joinIDs(v.Deleted))
	}
	fmt.Fprintf(&b, "\nmax timestamp: %s", v.MaxTimestamp.Format(time.RFC3339Nano))
	return b.String()
}

// oobView prints scoped key/value pairs sorted by key.
type oobView struct {
	Scope  string            `json:"scope"`
	Values map[string]string `json:"values"`
}

func (v oobView) String() string {
	if len(v.Values) == 0 {
		return "no values in " + v.Scope
	}
	keys := make([]string, 0, len(v.Values))
	for k := range v.Values {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	lines := make([]string, len(keys))
	for i, k := range keys {
		lines[i] = k + "=" + v.Values[k]
	}
	return strings.Join(lines, "\n")
}

// keyList prints one key per line.
type keyList []string

func (l keyList) String() string {
	return strings.Join(l, "\n")
}

func joinIDs(ids []contact.ID) string {
	s := make([]string, len(ids))
	for i, id := range ids {
		s[i] = strconv.FormatInt(int64(id), 10)
	}
	return strings.Join(s, ",")
}

func orEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
