package syncadapter

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/rolodex/internal/contact"
	"github.com/roach88/rolodex/internal/engine"
	"github.com/roach88/rolodex/internal/store"
	"github.com/roach88/rolodex/internal/testutil"
)

func newTestAdapter(t *testing.T) (*Adapter, *engine.Engine) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	e := engine.New(s,
		engine.WithClock(testutil.NewDeterministicClock()),
		engine.WithTokenGenerator(testutil.NewSequenceGenerator("")),
	)
	return New(e), e
}

func save(t *testing.T, e *engine.Engine, cs ...*contact.Contact) {
	t.Helper()
	_, err := e.SaveContacts(context.Background(), cs)
	require.NoError(t, err)
}

func load(t *testing.T, e *engine.Engine, id contact.ID) *contact.Contact {
	t.Helper()
	c, err := e.Contact(context.Background(), id)
	require.NoError(t, err)
	return c
}

func aggregateOf(t *testing.T, e *engine.Engine, id contact.ID) contact.ID {
	t.Helper()
	var agg contact.ID
	err := e.Store().View(context.Background(), func(tx *store.Tx) error {
		var err error
		agg, _, err = tx.AggregateOf(context.Background(), id)
		return err
	})
	require.NoError(t, err)
	return agg
}

func exists(t *testing.T, e *engine.Engine, id contact.ID) bool {
	t.Helper()
	_, err := e.Contact(context.Background(), id)
	if contact.IsNotFound(err) {
		return false
	}
	require.NoError(t, err)
	return true
}

func fetch(t *testing.T, a *Adapter, source string, since time.Time, exported ...contact.ID) FetchResult {
	t.Helper()
	res, err := a.Fetch(context.Background(), source, since, exported)
	require.NoError(t, err)
	return res
}

func ids(ps []Partial) []contact.ID {
	out := []contact.ID{}
	for _, p := range ps {
		out = append(out, p.ID)
	}
	return out
}

// valuesOf returns the payloads of type dt in p.
func valuesOf(p Partial, dt contact.DetailType) []contact.Value {
	var out []contact.Value
	for _, d := range p.Details {
		if d.Type == dt {
			out = append(out, d.Value)
		}
	}
	return out
}

// setValue replaces the payload of the first detail of v's type.
func setValue(ds []contact.Detail, v contact.Value) []contact.Detail {
	for i, d := range ds {
		if d.Type == v.Type() {
			ds[i].Value = v
			return ds
		}
	}
	return ds
}

func dropType(ds []contact.Detail, dt contact.DetailType) []contact.Detail {
	out := []contact.Detail{}
	for _, d := range ds {
		if d.Type != dt {
			out = append(out, d)
		}
	}
	return out
}
