package engine

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/roach88/rolodex/internal/contact"
	"github.com/roach88/rolodex/internal/store"
)

// profile is the matching-relevant projection of a detail set.
// Every string is NFC-normalized and case folded.
type profile struct {
	first  string
	last   string
	gender string

	// nicknames holds every nickname; a contact may carry several.
	nicknames map[string]struct{}

	// named is set when any name component is present.
	named bool

	// methods holds phone numbers, email addresses and account uris,
	// prefixed by kind so values of different kinds never collide.
	methods map[string]struct{}
}

func fold(s string) string {
	return cases.Fold().String(norm.NFC.String(strings.TrimSpace(s)))
}

// phoneDigits reduces a phone number to its dialable characters.
func phoneDigits(number string) string {
	var b strings.Builder
	for i, r := range number {
		switch {
		case unicode.IsDigit(r):
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func profileOf(details []contact.Detail) profile {
	p := profile{methods: map[string]struct{}{}, nicknames: map[string]struct{}{}}
	var sawName, sawGender bool

	for _, d := range details {
		switch v := d.Value.(type) {
		case contact.Name:
			if sawName {
				continue
			}
			sawName = true
			p.first = fold(v.First)
			p.last = fold(v.Last)
			p.named = !v.IsEmpty()
		case contact.Nickname:
			if n := fold(v.Nickname); n != "" {
				p.nicknames[n] = struct{}{}
			}
		case contact.Gender:
			if !sawGender {
				sawGender = true
				p.gender = fold(v.Gender)
			}
		case contact.PhoneNumber:
			if n := phoneDigits(v.Number); n != "" {
				p.methods["tel:"+n] = struct{}{}
			}
		case contact.EmailAddress:
			if a := fold(v.Address); a != "" {
				p.methods["mail:"+a] = struct{}{}
			}
		case contact.OnlineAccount:
			if a := fold(v.AccountURI); a != "" {
				p.methods["acct:"+a] = struct{}{}
			}
		}
	}
	return p
}

// identifiable reports whether the profile carries any name data that a
// match could have been based on.
func (p profile) identifiable() bool {
	return p.first != "" || p.last != "" || len(p.nicknames) > 0
}

func (p profile) sharesMethod(q profile) bool {
	return intersects(p.methods, q.methods)
}

func intersects(a, b map[string]struct{}) bool {
	for k := range a {
		if _, ok := b[k]; ok {
			return true
		}
	}
	return false
}

// matches applies the fixed matching rules. The first applicable rule decides.
func (p profile) matches(q profile) bool {
	// A gender specified on both sides must agree.
	if p.gender != "" && q.gender != "" && p.gender != q.gender {
		return false
	}

	switch {
	case p.first != "" && p.last != "" && q.first != "" && q.last != "":
		return p.first == q.first && p.last == q.last
	case p.last != "" && q.last != "" && p.first == "" && q.first == "":
		return p.last == q.last && p.sharesMethod(q)
	case !p.named && !q.named && len(p.nicknames) > 0 && len(q.nicknames) > 0:
		return intersects(p.nicknames, q.nicknames)
	}
	return false
}

// findMatch returns the oldest aggregate that c matches, skipping every
// aggregate separated from c by an IsNot relationship.
func (t *Txn) findMatch(c *contact.Contact) (contact.ID, bool, error) {
	partners, err := t.tx.IsNotPartners(t.ctx, c.ID)
	if err != nil {
		return 0, false, err
	}
	blocked := idSet{}
	blocked.add(partners...)

	aggregates, err := t.tx.Contacts(t.ctx, store.Filter{Origins: []string{contact.OriginAggregate}})
	if err != nil {
		return 0, false, err
	}

	want := profileOf(c.Details)
	for _, agg := range aggregates {
		if blocked.has(agg.ID) {
			continue
		}
		if len(blocked) > 0 {
			members, err := t.tx.ConstituentIDs(t.ctx, agg.ID)
			if err != nil {
				return 0, false, err
			}
			if hasAny(blocked, members) {
				continue
			}
		}
		if want.matches(profileOf(agg.Details)) {
			return agg.ID, true, nil
		}
	}
	return 0, false, nil
}

// diverged reports whether c no longer matches the other active
// constituents of its aggregate. Manual links never diverge.
func (t *Txn) diverged(c *contact.Contact, aggID contact.ID) (bool, error) {
	manual, err := t.tx.ManualLink(t.ctx, c.ID)
	if err != nil || manual {
		return false, err
	}

	members, err := t.tx.Constituents(t.ctx, aggID)
	if err != nil {
		return false, err
	}
	var others []*contact.Contact
	for _, m := range members {
		if m.ID != c.ID && !m.Deactivated {
			others = append(others, m)
		}
	}
	if len(others) == 0 {
		return false, nil
	}

	rest := profileOf(Compose(others, ComposeOptions{}))
	if !rest.identifiable() {
		return false, nil
	}
	return !profileOf(c.Details).matches(rest), nil
}

func hasAny(set idSet, ids []contact.ID) bool {
	for _, id := range ids {
		if set.has(id) {
			return true
		}
	}
	return false
}
