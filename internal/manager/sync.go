package manager

import (
	"context"
	"time"

	"github.com/roach88/rolodex/internal/contact"
	"github.com/roach88/rolodex/internal/store"
	"github.com/roach88/rolodex/internal/syncadapter"
)

// Fetch returns the partial aggregates of source changed after since.
func (m *Manager) Fetch(ctx context.Context, source string, since time.Time, exported []contact.ID) (syncadapter.FetchResult, error) {
	return m.adapter.Fetch(ctx, source, since, exported)
}

// Partials returns the current partials of source for ids.
func (m *Manager) Partials(ctx context.Context, source string, ids []contact.ID) ([]syncadapter.Partial, error) {
	return m.adapter.Partials(ctx, source, ids)
}

// Store applies remote changes for source on the write worker.
func (m *Manager) Store(ctx context.Context, source string, pairs []syncadapter.Pair, opts syncadapter.StoreOptions) (syncadapter.StoreResult, error) {
	return writeResult(ctx, m, "store "+source, func(ctx context.Context) (syncadapter.StoreResult, error) {
		return m.adapter.Store(ctx, source, pairs, opts)
	})
}

// RemoveSourceContacts deletes every constituent of source on the write
// worker.
func (m *Manager) RemoveSourceContacts(ctx context.Context, source string) (contact.ChangeSet, error) {
	return writeResult(ctx, m, "remove "+source+" contacts", func(ctx context.Context) (contact.ChangeSet, error) {
		return m.adapter.RemoveSourceContacts(ctx, source)
	})
}

// FetchOOB returns the named keys of scope, or all of them when none are
// named.
func (m *Manager) FetchOOB(ctx context.Context, scope string, keys ...string) (map[string][]byte, error) {
	return m.adapter.FetchOOB(ctx, scope, keys...)
}

// FetchOOBValue returns one value.
func (m *Manager) FetchOOBValue(ctx context.Context, scope, key string) ([]byte, bool, error) {
	vals, err := m.adapter.FetchOOB(ctx, scope, key)
	if err != nil {
		return nil, false, err
	}
	v, ok := vals[key]
	return v, ok, nil
}

// OOBKeys lists the keys of scope.
func (m *Manager) OOBKeys(ctx context.Context, scope string) ([]string, error) {
	var keys []string
	err := m.store.View(ctx, func(tx *store.Tx) error {
		var err error
		keys, err = tx.OOBKeys(ctx, scope)
		return err
	})
	return keys, err
}

// StoreOOB writes every entry of values under scope on the write worker.
func (m *Manager) StoreOOB(ctx context.Context, scope string, values map[string][]byte) error {
	return m.write(ctx, "store oob", func(ctx context.Context) error {
		return m.adapter.StoreOOB(ctx, scope, values)
	})
}

// RemoveOOB removes keys from scope, or the whole scope when none are
// named.
func (m *Manager) RemoveOOB(ctx context.Context, scope string, keys ...string) error {
	return m.write(ctx, "remove oob", func(ctx context.Context) error {
		return m.adapter.RemoveOOB(ctx, scope, keys...)
	})
}
