package syncadapter

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/rolodex/internal/contact"
	"github.com/roach88/rolodex/internal/testutil"
)

var remoteNow = testutil.Epoch.Add(24 * time.Hour)

// session starts a TwoWay for carddav/alice and reads its state.
func session(t *testing.T, a *Adapter) (*TwoWay, time.Time) {
	t.Helper()
	w := NewTwoWay(a, "carddav", WithNow(func() time.Time { return remoteNow }))
	require.NoError(t, w.Init(context.Background(), "alice"))
	since, err := w.ReadSyncState(context.Background(), ReadAllState)
	require.NoError(t, err)
	return w, since
}

type fixture struct {
	localID  contact.ID
	aggID    contact.ID
	remoteID contact.ID
}

// syncOnce runs a complete first session: one local contact exists and
// the remote contributes one new contact.
func syncOnce(t *testing.T) (*Adapter, *fixture, LocalChanges) {
	t.Helper()
	a, e := newTestAdapter(t)
	ctx := context.Background()

	local := testutil.Person(contact.OriginLocal, "Di", "Local")
	save(t, e, local)

	w, since := session(t, a)
	require.True(t, since.IsZero())

	remote := &Partial{Details: []contact.Detail{
		contact.NewDetail(contact.Name{First: "Ed", Last: "Remote"}),
		contact.NewDetail(contact.EmailAddress{Address: "ed@example.com"}),
	}}
	require.NoError(t, w.StoreRemoteChanges(ctx, nil, []*Partial{remote}))
	require.NotZero(t, remote.ID)

	changes, err := w.DetermineLocalChanges(ctx)
	require.NoError(t, err)
	require.NoError(t, w.StoreSyncState(ctx))

	return a, &fixture{
		localID:  local.ID,
		aggID:    aggregateOf(t, e, local.ID),
		remoteID: remote.ID,
	}, changes
}

func TestTwoWay_RequiresInit(t *testing.T) {
	a, _ := newTestAdapter(t)
	ctx := context.Background()

	w := NewTwoWay(a, "carddav")
	_, err := w.ReadSyncState(ctx, ReadAllState)
	assert.ErrorIs(t, err, ErrNotInitialized)
	assert.ErrorIs(t, w.StoreSyncState(ctx), ErrNotInitialized)

	assert.True(t, contact.IsConstraintViolation(w.Init(ctx, "")))
	assert.True(t, contact.IsConstraintViolation(NewTwoWay(a, contact.OriginLocal).Init(ctx, "alice")))
}

func TestTwoWay_FirstSync(t *testing.T) {
	a, fx, changes := syncOnce(t)

	assert.True(t, changes.Since.IsZero())
	require.Len(t, changes.Added, 1)
	assert.Equal(t, fx.aggID, changes.Added[0].ID, "local-only aggregates are offered")
	assert.Empty(t, changes.Modified, "remote changes are not echoed back")
	assert.Empty(t, changes.Deleted)

	vals, err := a.FetchOOB(context.Background(), Scope("carddav", "alice"))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{KeyRemoteSince, KeyLocalSince, KeyExported, KeySnapshots}, keysOf(vals))
	assert.JSONEq(t, `[`+itoa(fx.aggID)+`]`, string(vals[KeyExported]))
}

func TestTwoWay_NextSessionResumes(t *testing.T) {
	a, fx, _ := syncOnce(t)
	ctx := context.Background()

	w, since := session(t, a)
	assert.True(t, remoteNow.Equal(since))

	changes, err := w.DetermineLocalChanges(ctx)
	require.NoError(t, err)
	assert.True(t, changes.Empty(), "nothing changed since the last session")

	_, err = a.engine.SaveContacts(ctx, []*contact.Contact{withNote(t, a, fx.localID, "new")})
	require.NoError(t, err)

	changes, err = w.DetermineLocalChanges(ctx)
	require.NoError(t, err)
	assert.Empty(t, changes.Added)
	require.Len(t, changes.Modified, 1)
	assert.Equal(t, fx.aggID, changes.Modified[0].ID)
}

func TestTwoWay_RemoteModification(t *testing.T) {
	a, fx, _ := syncOnce(t)
	ctx := context.Background()

	w, _ := session(t, a)
	edited := &Partial{ID: fx.remoteID, Details: []contact.Detail{
		contact.NewDetail(contact.Name{First: "Edward", Last: "Remote"}),
		contact.NewDetail(contact.EmailAddress{Address: "edward@example.com"}),
	}}
	require.NoError(t, w.StoreRemoteChanges(ctx, nil, []*Partial{edited}))
	assert.Equal(t, fx.remoteID, edited.ID)

	c, err := a.engine.Contact(ctx, fx.remoteID)
	require.NoError(t, err)
	assert.Equal(t, "Edward", c.Name().First)
	assert.Equal(t, []contact.Value{contact.EmailAddress{Address: "edward@example.com"}},
		testutil.Values(c, contact.TypeEmailAddress))

	changes, err := w.DetermineLocalChanges(ctx)
	require.NoError(t, err)
	assert.True(t, changes.Empty())
}

func TestTwoWay_RemoteDeletion(t *testing.T) {
	a, fx, _ := syncOnce(t)
	ctx := context.Background()

	w, _ := session(t, a)
	require.NoError(t, w.StoreRemoteChanges(ctx, []Partial{{ID: fx.remoteID}}, nil))

	_, err := a.engine.Contact(ctx, fx.remoteID)
	assert.True(t, contact.IsNotFound(err))

	changes, err := w.DetermineLocalChanges(ctx)
	require.NoError(t, err)
	assert.Empty(t, changes.Deleted, "the remote already knows")
}

func TestTwoWay_LocalDeletion(t *testing.T) {
	a, fx, _ := syncOnce(t)
	ctx := context.Background()

	_, err := a.engine.RemoveContacts(ctx, []contact.ID{fx.localID})
	require.NoError(t, err)

	w, _ := session(t, a)
	changes, err := w.DetermineLocalChanges(ctx)
	require.NoError(t, err)
	assert.Equal(t, []contact.ID{fx.aggID}, changes.Deleted)
	require.NoError(t, w.StoreSyncState(ctx))

	vals, err := a.FetchOOB(ctx, Scope("carddav", "alice"), KeyExported)
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(vals[KeyExported]))
}

func TestTwoWay_Purge(t *testing.T) {
	a, fx, _ := syncOnce(t)
	ctx := context.Background()

	w, _ := session(t, a)
	require.NoError(t, w.PurgeSyncState(ctx, true))

	since, err := w.ReadSyncState(ctx, ReadPartialState)
	require.NoError(t, err)
	assert.True(t, since.IsZero())

	changes, err := w.DetermineLocalChanges(ctx)
	require.NoError(t, err)
	assert.True(t, changes.Empty(), "snapshots survive a partial purge")

	require.NoError(t, w.PurgeSyncState(ctx, false))
	vals, err := a.FetchOOB(ctx, Scope("carddav", "alice"))
	require.NoError(t, err)
	assert.Empty(t, vals)

	_, err = w.ReadSyncState(ctx, ReadAllState)
	require.NoError(t, err)
	changes, err = w.DetermineLocalChanges(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []contact.ID{fx.aggID, fx.remoteID}, ids(changes.Added))
}

func TestTwoWay_RemoveAllContacts(t *testing.T) {
	a, fx, _ := syncOnce(t)
	ctx := context.Background()

	w, _ := session(t, a)
	require.NoError(t, w.RemoveAllContacts(ctx))

	_, err := a.engine.Contact(ctx, fx.remoteID)
	assert.True(t, contact.IsNotFound(err), "the source's contacts are gone")
	_, err = a.engine.Contact(ctx, fx.localID)
	assert.NoError(t, err, "local contacts stay")

	vals, err := a.FetchOOB(ctx, Scope("carddav", "alice"))
	require.NoError(t, err)
	assert.Empty(t, vals)

	next, since := session(t, a)
	assert.True(t, since.IsZero(), "the next session is a full sync")
	changes, err := next.DetermineLocalChanges(ctx)
	require.NoError(t, err)
	assert.Equal(t, []contact.ID{fx.aggID}, ids(changes.Added), "local-only aggregates are offered again")
	assert.Empty(t, changes.Deleted)

	assert.ErrorIs(t, NewTwoWay(a, "carddav").RemoveAllContacts(ctx), ErrNotInitialized)
}

func TestTwoWay_AbortedSessionRepeats(t *testing.T) {
	a, fx, _ := syncOnce(t)
	ctx := context.Background()

	_, err := a.engine.SaveContacts(ctx, []*contact.Contact{withNote(t, a, fx.localID, "pending")})
	require.NoError(t, err)

	w, _ := session(t, a)
	changes, err := w.DetermineLocalChanges(ctx)
	require.NoError(t, err)
	require.Len(t, changes.Modified, 1)
	// The upsync fails; state is never stored.

	w, _ = session(t, a)
	changes, err = w.DetermineLocalChanges(ctx)
	require.NoError(t, err)
	assert.Len(t, changes.Modified, 1)
}

func withNote(t *testing.T, a *Adapter, id contact.ID, note string) *contact.Contact {
	t.Helper()
	c, err := a.engine.Contact(context.Background(), id)
	require.NoError(t, err)
	c.Details = append(c.Details, contact.NewDetail(contact.Note{Note: note}))
	return c
}

func keysOf(m map[string][]byte) []string {
	out := []string{}
	for k := range m {
		out = append(out, k)
	}
	return out
}

func itoa(id contact.ID) string {
	return strconv.FormatInt(int64(id), 10)
}
