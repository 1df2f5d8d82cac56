package testutil

import (
	"github.com/roach88/rolodex/internal/contact"
)

// Person builds an unsaved contact with a Name detail plus any extra values.
func Person(origin, first, last string, extra ...contact.Value) *contact.Contact {
	c := &contact.Contact{Origin: origin}
	if first != "" || last != "" {
		c.Details = append(c.Details, contact.NewDetail(contact.Name{First: first, Last: last}))
	}
	for _, v := range extra {
		c.Details = append(c.Details, contact.NewDetail(v))
	}
	return c
}

// Modifiable marks every detail of c modifiable and returns c.
func Modifiable(c *contact.Contact) *contact.Contact {
	for i := range c.Details {
		c.Details[i].Modifiable = true
	}
	return c
}

// Values returns the payloads of every detail of type t, in order.
func Values(c *contact.Contact, t contact.DetailType) []contact.Value {
	var out []contact.Value
	for _, d := range c.Details {
		if d.Type == t {
			out = append(out, d.Value)
		}
	}
	return out
}
