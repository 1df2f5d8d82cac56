package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/huandu/go-sqlbuilder"
	"github.com/jmoiron/sqlx"
)

// FetchOOB returns the value stored under (scope, key).
func (t *Tx) FetchOOB(ctx context.Context, scope, key string) ([]byte, bool, error) {
	var value []byte
	err := sqlx.GetContext(ctx, t.q, &value, `SELECT value FROM oob WHERE scope = ? AND key = ?`, scope, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("fetch oob %s/%s: %w", scope, key, err)
	}
	return value, true, nil
}

// FetchOOBMany returns the values stored under keys in scope. Missing keys
// are absent from the result. With no keys, every entry in scope is returned.
func (t *Tx) FetchOOBMany(ctx context.Context, scope string, keys ...string) (map[string][]byte, error) {
	sb := sqlbuilder.SQLite.NewSelectBuilder()
	sb.Select("key", "value").From("oob")
	sb.Where(sb.Equal("scope", scope))
	if len(keys) > 0 {
		sb.Where(sb.In("key", sqlbuilder.Flatten(keys)...))
	}
	sb.OrderBy("key").Asc()
	query, args := sb.Build()

	var rows []struct {
		Key   string `db:"key"`
		Value []byte `db:"value"`
	}
	if err := sqlx.SelectContext(ctx, t.q, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("fetch oob %s: %w", scope, err)
	}

	out := make(map[string][]byte, len(rows))
	for _, r := range rows {
		out[r.Key] = r.Value
	}
	return out, nil
}

// OOBKeys returns every key in scope, sorted.
func (t *Tx) OOBKeys(ctx context.Context, scope string) ([]string, error) {
	var keys []string
	err := sqlx.SelectContext(ctx, t.q, &keys, `SELECT key FROM oob WHERE scope = ? ORDER BY key`, scope)
	if err != nil {
		return nil, fmt.Errorf("oob keys %s: %w", scope, err)
	}
	if keys == nil {
		keys = []string{}
	}
	return keys, nil
}

// StoreOOB upserts every entry of values into scope.
func (t *Tx) StoreOOB(ctx context.Context, scope string, values map[string][]byte) error {
	for _, key := range slices.Sorted(maps.Keys(values)) {
		_, err := t.q.ExecContext(ctx, `
			INSERT INTO oob (scope, key, value) VALUES (?, ?, ?)
			ON CONFLICT(scope, key) DO UPDATE SET value = excluded.value
		`, scope, key, values[key])
		if err != nil {
			return fmt.Errorf("store oob %s/%s: %w", scope, key, err)
		}
	}
	return nil
}

// RemoveOOB deletes keys from scope. With no keys the whole scope is removed.
func (t *Tx) RemoveOOB(ctx context.Context, scope string, keys ...string) error {
	db := sqlbuilder.SQLite.NewDeleteBuilder()
	db.DeleteFrom("oob")
	db.Where(db.Equal("scope", scope))
	if len(keys) > 0 {
		db.Where(db.In("key", sqlbuilder.Flatten(keys)...))
	}
	query, args := db.Build()

	if _, err := t.q.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("remove oob %s: %w", scope, err)
	}
	return nil
}
