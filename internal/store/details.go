package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/huandu/go-sqlbuilder"
	"github.com/jmoiron/sqlx"

	"github.com/roach88/rolodex/internal/contact"
)

type detailRow struct {
	ID                  int64  `db:"detail_id"`
	ContactID           int64  `db:"contact_id"`
	Type                string `db:"detail_type"`
	Value               string `db:"value"`
	URI                 string `db:"detail_uri"`
	LinkedURIs          string `db:"linked_uris"`
	Modifiable          bool   `db:"modifiable"`
	NonExportable       bool   `db:"non_exportable"`
	ProvenanceContactID int64  `db:"provenance_contact_id"`
	ProvenanceDetailID  int64  `db:"provenance_detail_id"`
}

func (r detailRow) toDetail() (contact.Detail, error) {
	typ := contact.DetailType(r.Type)
	value, err := contact.DecodeValue(typ, []byte(r.Value))
	if err != nil {
		return contact.Detail{}, fmt.Errorf("detail %d: %w", r.ID, err)
	}

	var linked []string
	if r.LinkedURIs != "" {
		if err := json.Unmarshal([]byte(r.LinkedURIs), &linked); err != nil {
			return contact.Detail{}, fmt.Errorf("detail %d linked uris: %w", r.ID, err)
		}
	}
	if len(linked) == 0 {
		linked = nil
	}

	return contact.Detail{
		ID:            r.ID,
		ContactID:     contact.ID(r.ContactID),
		Type:          typ,
		Value:         value,
		URI:           r.URI,
		LinkedURIs:    linked,
		Modifiable:    r.Modifiable,
		NonExportable: r.NonExportable,
		Provenance: contact.Provenance{
			ContactID: contact.ID(r.ProvenanceContactID),
			DetailID:  r.ProvenanceDetailID,
		},
	}, nil
}

func encodeDetail(d contact.Detail) (value, linked string, err error) {
	v, err := contact.EncodeValue(d.Value)
	if err != nil {
		return "", "", err
	}
	uris := d.LinkedURIs
	if uris == nil {
		uris = []string{}
	}
	l, err := json.Marshal(uris)
	if err != nil {
		return "", "", fmt.Errorf("encode linked uris: %w", err)
	}
	return string(v), string(l), nil
}

// InsertDetail writes d under d.ContactID and assigns d.ID. Details of
// aggregates must pass aggregateScope so their uris are checked for
// global uniqueness.
func (t *Tx) InsertDetail(ctx context.Context, d *contact.Detail, aggregateScope bool) error {
	if d.Value != nil && d.Type == "" {
		d.Type = d.Value.Type()
	}
	value, linked, err := encodeDetail(*d)
	if err != nil {
		return fmt.Errorf("insert detail: %w", err)
	}

	res, err := t.q.ExecContext(ctx, `
		INSERT INTO details
		(contact_id, detail_type, value, detail_uri, linked_uris, modifiable, non_exportable,
		 provenance_contact_id, provenance_detail_id, aggregate_scope)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		int64(d.ContactID),
		string(d.Type),
		value,
		d.URI,
		linked,
		boolInt(d.Modifiable),
		boolInt(d.NonExportable),
		int64(d.Provenance.ContactID),
		d.Provenance.DetailID,
		boolInt(aggregateScope),
	)
	if err != nil {
		return fmt.Errorf("insert detail: %w", mapError(err))
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("insert detail: %w", err)
	}
	d.ID = id
	return nil
}

// UpdateDetail rewrites an existing detail in place, keeping its id.
func (t *Tx) UpdateDetail(ctx context.Context, d contact.Detail) error {
	value, linked, err := encodeDetail(d)
	if err != nil {
		return fmt.Errorf("update detail: %w", err)
	}

	res, err := t.q.ExecContext(ctx, `
		UPDATE details
		SET detail_type = ?, value = ?, detail_uri = ?, linked_uris = ?, modifiable = ?,
		    non_exportable = ?, provenance_contact_id = ?, provenance_detail_id = ?
		WHERE detail_id = ? AND contact_id = ?
	`,
		string(d.Type),
		value,
		d.URI,
		linked,
		boolInt(d.Modifiable),
		boolInt(d.NonExportable),
		int64(d.Provenance.ContactID),
		d.Provenance.DetailID,
		d.ID,
		int64(d.ContactID),
	)
	if err != nil {
		return fmt.Errorf("update detail: %w", mapError(err))
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update detail: %w", err)
	}
	if n == 0 {
		return contact.NewConstraintViolation(d.ContactID, "detail %d does not belong to contact", d.ID)
	}
	return nil
}

// DeleteDetail removes one detail.
func (t *Tx) DeleteDetail(ctx context.Context, id int64) error {
	if _, err := t.q.ExecContext(ctx, `DELETE FROM details WHERE detail_id = ?`, id); err != nil {
		return fmt.Errorf("delete detail: %w", err)
	}
	return nil
}

// loadDetails fills in Details for every contact in cs with one query.
func (t *Tx) loadDetails(ctx context.Context, cs []*contact.Contact) error {
	if len(cs) == 0 {
		return nil
	}

	byID := make(map[contact.ID]*contact.Contact, len(cs))
	ids := make([]int64, 0, len(cs))
	for _, c := range cs {
		byID[c.ID] = c
		ids = append(ids, int64(c.ID))
	}

	sb := sqlbuilder.SQLite.NewSelectBuilder()
	sb.Select(
		"detail_id", "contact_id", "detail_type", "value", "detail_uri", "linked_uris",
		"modifiable", "non_exportable", "provenance_contact_id", "provenance_detail_id",
	).From("details")
	sb.Where(sb.In("contact_id", sqlbuilder.Flatten(ids)...))
	sb.OrderBy("contact_id", "detail_id").Asc()
	query, args := sb.Build()

	var rows []detailRow
	if err := sqlx.SelectContext(ctx, t.q, &rows, query, args...); err != nil {
		return fmt.Errorf("query details: %w", err)
	}

	for _, r := range rows {
		d, err := r.toDetail()
		if err != nil {
			return err
		}
		c := byID[d.ContactID]
		c.Details = append(c.Details, d)
	}
	return nil
}
