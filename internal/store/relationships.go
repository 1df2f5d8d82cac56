package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/huandu/go-sqlbuilder"
	"github.com/jmoiron/sqlx"

	"github.com/roach88/rolodex/internal/contact"
)

type relationshipRow struct {
	Type   string `db:"relationship_type"`
	First  int64  `db:"first_id"`
	Second int64  `db:"second_id"`
	Manual bool   `db:"manual"`
}

// RelationshipQuery selects relationships. Zero fields match anything.
type RelationshipQuery struct {
	Type   contact.RelationshipType
	First  contact.ID
	Second contact.ID

	// Either matches relationships where First or Second equals this id.
	Either contact.ID
}

// Relationships returns the relationships matching q, ordered by
// (type, first, second).
func (t *Tx) Relationships(ctx context.Context, q RelationshipQuery) ([]contact.Relationship, error) {
	sb := sqlbuilder.SQLite.NewSelectBuilder()
	sb.Select("relationship_type", "first_id", "second_id", "manual").From("relationships")
	if q.Type != "" {
		sb.Where(sb.Equal("relationship_type", string(q.Type)))
	}
	if q.First != 0 {
		sb.Where(sb.Equal("first_id", int64(q.First)))
	}
	if q.Second != 0 {
		sb.Where(sb.Equal("second_id", int64(q.Second)))
	}
	if q.Either != 0 {
		sb.Where(sb.Or(
			sb.Equal("first_id", int64(q.Either)),
			sb.Equal("second_id", int64(q.Either)),
		))
	}
	sb.OrderBy("relationship_type", "first_id", "second_id").Asc()
	query, args := sb.Build()

	var rows []relationshipRow
	if err := sqlx.SelectContext(ctx, t.q, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("query relationships: %w", err)
	}

	out := make([]contact.Relationship, 0, len(rows))
	for _, r := range rows {
		out = append(out, contact.Relationship{
			Type:   contact.RelationshipType(r.Type),
			First:  contact.ID(r.First),
			Second: contact.ID(r.Second),
			Manual: r.Manual,
		})
	}
	return out, nil
}

// AddRelationship stores r. Returns false if it already existed.
// A second Aggregates link for one constituent is a constraint violation.
func (t *Tx) AddRelationship(ctx context.Context, r contact.Relationship) (bool, error) {
	res, err := t.q.ExecContext(ctx, `
		INSERT INTO relationships (relationship_type, first_id, second_id, manual)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(relationship_type, first_id, second_id) DO NOTHING
	`, string(r.Type), int64(r.First), int64(r.Second), boolInt(r.Manual))
	if err != nil {
		return false, fmt.Errorf("add relationship %s: %w", r, mapError(err))
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("add relationship: %w", err)
	}
	return n > 0, nil
}

// RemoveRelationship deletes r. Returns false if it did not exist.
func (t *Tx) RemoveRelationship(ctx context.Context, r contact.Relationship) (bool, error) {
	res, err := t.q.ExecContext(ctx, `
		DELETE FROM relationships
		WHERE relationship_type = ? AND first_id = ? AND second_id = ?
	`, string(r.Type), int64(r.First), int64(r.Second))
	if err != nil {
		return false, fmt.Errorf("remove relationship %s: %w", r, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("remove relationship: %w", err)
	}
	return n > 0, nil
}

// AggregateOf returns the aggregate a constituent is linked to.
func (t *Tx) AggregateOf(ctx context.Context, constituent contact.ID) (contact.ID, bool, error) {
	var id int64
	err := sqlx.GetContext(ctx, t.q, &id, `
		SELECT second_id FROM relationships
		WHERE relationship_type = ? AND first_id = ?
	`, string(contact.Aggregates), int64(constituent))
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("aggregate of %d: %w", constituent, err)
	}
	return contact.ID(id), true, nil
}

// ManualLink reports whether the constituent's Aggregates link was set by a caller.
func (t *Tx) ManualLink(ctx context.Context, constituent contact.ID) (bool, error) {
	var manual bool
	err := sqlx.GetContext(ctx, t.q, &manual, `
		SELECT manual FROM relationships
		WHERE relationship_type = ? AND first_id = ?
	`, string(contact.Aggregates), int64(constituent))
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("manual link of %d: %w", constituent, err)
	}
	return manual, nil
}

// ConstituentIDs returns the ids linked to an aggregate, ascending.
func (t *Tx) ConstituentIDs(ctx context.Context, aggregate contact.ID) ([]contact.ID, error) {
	var ids []int64
	err := sqlx.SelectContext(ctx, t.q, &ids, `
		SELECT first_id FROM relationships
		WHERE relationship_type = ? AND second_id = ?
		ORDER BY first_id
	`, string(contact.Aggregates), int64(aggregate))
	if err != nil {
		return nil, fmt.Errorf("constituents of %d: %w", aggregate, err)
	}

	out := make([]contact.ID, 0, len(ids))
	for _, id := range ids {
		out = append(out, contact.ID(id))
	}
	return out, nil
}

// Constituents returns every contact linked to an aggregate, including
// deactivated ones, with details, ordered by id.
func (t *Tx) Constituents(ctx context.Context, aggregate contact.ID) ([]*contact.Contact, error) {
	ids, err := t.ConstituentIDs(ctx, aggregate)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []*contact.Contact{}, nil
	}
	return t.Contacts(ctx, Filter{IDs: ids, IncludeDeactivated: true})
}

// IsNotPartners returns every contact with an IsNot relationship to id,
// in either direction, ascending.
func (t *Tx) IsNotPartners(ctx context.Context, id contact.ID) ([]contact.ID, error) {
	rels, err := t.Relationships(ctx, RelationshipQuery{Type: contact.IsNot, Either: id})
	if err != nil {
		return nil, err
	}

	seen := make(map[contact.ID]bool, len(rels))
	out := make([]contact.ID, 0, len(rels))
	for _, r := range rels {
		other := r.First
		if other == id {
			other = r.Second
		}
		if !seen[other] {
			seen[other] = true
			out = append(out, other)
		}
	}
	return out, nil
}
