package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/huandu/go-sqlbuilder"
	"github.com/jmoiron/sqlx"

	"github.com/roach88/rolodex/internal/contact"
)

type contactRow struct {
	ID                int64  `db:"contact_id"`
	Origin            string `db:"origin"`
	Deactivated       bool   `db:"deactivated"`
	Incidental        bool   `db:"incidental"`
	FormerAggregateID int64  `db:"former_aggregate_id"`
	Created           int64  `db:"created"`
	Modified          int64  `db:"modified"`
}

func (r contactRow) toContact() *contact.Contact {
	return &contact.Contact{
		ID:              contact.ID(r.ID),
		Origin:          r.Origin,
		Deactivated:     r.Deactivated,
		Incidental:      r.Incidental,
		FormerAggregate: contact.ID(r.FormerAggregateID),
		Created:         fromNanos(r.Created),
		Modified:        fromNanos(r.Modified),
		Details:         []contact.Detail{},
	}
}

// InsertContact writes a new contact row and assigns c.ID. A non-zero c.ID
// is inserted as-is, which is how removed aggregates are recreated.
// Details are not written; use InsertDetail.
func (t *Tx) InsertContact(ctx context.Context, c *contact.Contact) error {
	var id any
	if c.ID != 0 {
		id = int64(c.ID)
	}

	res, err := t.q.ExecContext(ctx, `
		INSERT INTO contacts
		(contact_id, origin, deactivated, incidental, former_aggregate_id, created, modified)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		id,
		c.Origin,
		boolInt(c.Deactivated),
		boolInt(c.Incidental),
		int64(c.FormerAggregate),
		toNanos(c.Created),
		toNanos(c.Modified),
	)
	if err != nil {
		return fmt.Errorf("insert contact: %w", mapError(err))
	}

	newID, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("insert contact: %w", err)
	}
	c.ID = contact.ID(newID)
	return nil
}

// UpdateContact rewrites the contact row (not its details).
func (t *Tx) UpdateContact(ctx context.Context, c *contact.Contact) error {
	res, err := t.q.ExecContext(ctx, `
		UPDATE contacts
		SET origin = ?, deactivated = ?, incidental = ?, former_aggregate_id = ?, modified = ?
		WHERE contact_id = ?
	`,
		c.Origin,
		boolInt(c.Deactivated),
		boolInt(c.Incidental),
		int64(c.FormerAggregate),
		toNanos(c.Modified),
		int64(c.ID),
	)
	if err != nil {
		return fmt.Errorf("update contact: %w", mapError(err))
	}
	return expectRow(res, c.ID)
}

// DeleteContact removes a contact and records a tombstone. Details and
// relationships cascade.
func (t *Tx) DeleteContact(ctx context.Context, id contact.ID, origin string, when time.Time) error {
	res, err := t.q.ExecContext(ctx, `DELETE FROM contacts WHERE contact_id = ?`, int64(id))
	if err != nil {
		return fmt.Errorf("delete contact: %w", err)
	}
	if err := expectRow(res, id); err != nil {
		return err
	}

	_, err = t.q.ExecContext(ctx, `
		INSERT INTO deleted_contacts (contact_id, origin, deleted)
		VALUES (?, ?, ?)
	`, int64(id), origin, toNanos(when))
	if err != nil {
		return fmt.Errorf("record tombstone: %w", err)
	}
	return nil
}

// Exists reports whether a contact row with this id exists.
func (t *Tx) Exists(ctx context.Context, id contact.ID) (bool, error) {
	var n int
	err := sqlx.GetContext(ctx, t.q, &n, `SELECT COUNT(*) FROM contacts WHERE contact_id = ?`, int64(id))
	if err != nil {
		return false, fmt.Errorf("contact exists: %w", err)
	}
	return n > 0, nil
}

// Contact returns one contact with its details, deactivated or not.
// Returns a NotFound error if it does not exist.
func (t *Tx) Contact(ctx context.Context, id contact.ID) (*contact.Contact, error) {
	var row contactRow
	err := sqlx.GetContext(ctx, t.q, &row, `
		SELECT contact_id, origin, deactivated, incidental, former_aggregate_id, created, modified
		FROM contacts
		WHERE contact_id = ?
	`, int64(id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, contact.NewNotFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("read contact: %w", err)
	}

	c := row.toContact()
	if err := t.loadDetails(ctx, []*contact.Contact{c}); err != nil {
		return nil, err
	}
	return c, nil
}

// Contacts returns the contacts selected by f, with details, ordered by id.
// Returns an empty slice (not nil) when nothing matches.
func (t *Tx) Contacts(ctx context.Context, f Filter) ([]*contact.Contact, error) {
	query, args := f.build(contactColumns...)

	var rows []contactRow
	if err := sqlx.SelectContext(ctx, t.q, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("query contacts: %w", err)
	}

	out := make([]*contact.Contact, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toContact())
	}
	if err := t.loadDetails(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

// ContactIDs returns the ids selected by f, ascending.
func (t *Tx) ContactIDs(ctx context.Context, f Filter) ([]contact.ID, error) {
	query, args := f.build("contact_id")

	var ids []int64
	if err := sqlx.SelectContext(ctx, t.q, &ids, query, args...); err != nil {
		return nil, fmt.Errorf("query contact ids: %w", err)
	}

	out := make([]contact.ID, 0, len(ids))
	for _, id := range ids {
		out = append(out, contact.ID(id))
	}
	return out, nil
}

// MaxTimestamp returns the latest creation, modification or deletion time
// recorded in the database, or the zero time for an empty database.
func (t *Tx) MaxTimestamp(ctx context.Context) (time.Time, error) {
	var n sql.NullInt64
	err := sqlx.GetContext(ctx, t.q, &n, `
		SELECT MAX(ts) FROM (
			SELECT MAX(modified) AS ts FROM contacts
			UNION ALL
			SELECT MAX(created) FROM contacts
			UNION ALL
			SELECT MAX(deleted) FROM deleted_contacts
		)
	`)
	if err != nil {
		return time.Time{}, fmt.Errorf("max timestamp: %w", err)
	}
	if !n.Valid {
		return time.Time{}, nil
	}
	return fromNanos(n.Int64), nil
}

// Tombstone records one deleted contact.
type Tombstone struct {
	ContactID contact.ID
	Origin    string
	Deleted   time.Time
}

// DeletedSince returns tombstones recorded strictly after since, optionally
// restricted to origins, ordered by deletion time.
func (t *Tx) DeletedSince(ctx context.Context, since time.Time, origins ...string) ([]Tombstone, error) {
	sb := sqlbuilder.SQLite.NewSelectBuilder()
	sb.Select("contact_id", "origin", "deleted").From("deleted_contacts")
	sb.Where(sb.GreaterThan("deleted", toNanos(since)))
	if len(origins) > 0 {
		sb.Where(sb.In("origin", sqlbuilder.Flatten(origins)...))
	}
	sb.OrderBy("deleted", "contact_id").Asc()
	query, args := sb.Build()

	var rows []struct {
		ContactID int64  `db:"contact_id"`
		Origin    string `db:"origin"`
		Deleted   int64  `db:"deleted"`
	}
	if err := sqlx.SelectContext(ctx, t.q, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("query tombstones: %w", err)
	}

	out := make([]Tombstone, 0, len(rows))
	for _, r := range rows {
		out = append(out, Tombstone{
			ContactID: contact.ID(r.ContactID),
			Origin:    r.Origin,
			Deleted:   fromNanos(r.Deleted),
		})
	}
	return out, nil
}

func expectRow(res sql.Result, id contact.ID) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return contact.NewNotFound(id)
	}
	return nil
}
