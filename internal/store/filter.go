package store

import (
	"time"

	"github.com/huandu/go-sqlbuilder"

	"github.com/roach88/rolodex/internal/contact"
)

// Filter selects contacts. The zero Filter matches every active contact.
type Filter struct {
	// IDs restricts the result to these contacts.
	IDs []contact.ID

	// Origins restricts the result to these origin labels.
	Origins []string

	// ExcludeOrigins drops contacts with these origin labels.
	ExcludeOrigins []string

	// IncludeDeactivated also returns deactivated contacts.
	IncludeDeactivated bool

	// ModifiedSince keeps contacts modified strictly after this instant.
	ModifiedSince time.Time
}

var contactColumns = []string{
	"contact_id", "origin", "deactivated", "incidental",
	"former_aggregate_id", "created", "modified",
}

// build renders the filter as a SELECT over contacts, ordered by id.
func (f Filter) build(columns ...string) (string, []any) {
	sb := sqlbuilder.SQLite.NewSelectBuilder()
	sb.Select(columns...).From("contacts")

	if len(f.IDs) > 0 {
		sb.Where(sb.In("contact_id", sqlbuilder.Flatten(f.IDs)...))
	}
	if len(f.Origins) > 0 {
		sb.Where(sb.In("origin", sqlbuilder.Flatten(f.Origins)...))
	}
	if len(f.ExcludeOrigins) > 0 {
		sb.Where(sb.NotIn("origin", sqlbuilder.Flatten(f.ExcludeOrigins)...))
	}
	if !f.IncludeDeactivated {
		sb.Where(sb.Equal("deactivated", 0))
	}
	if !f.ModifiedSince.IsZero() {
		sb.Where(sb.GreaterThan("modified", toNanos(f.ModifiedSince)))
	}

	sb.OrderBy("contact_id").Asc()
	return sb.Build()
}
