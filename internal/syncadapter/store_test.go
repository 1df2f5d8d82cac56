package syncadapter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/rolodex/internal/contact"
	"github.com/roach88/rolodex/internal/testutil"
)

func storePairs(t *testing.T, a *Adapter, source string, pairs ...Pair) StoreResult {
	t.Helper()
	res, err := a.Store(context.Background(), source, pairs, StoreOptions{})
	require.NoError(t, err)
	return res
}

// partialOfID fetches the current partial of id for source.
func partialOfID(t *testing.T, a *Adapter, source string, id contact.ID) Partial {
	t.Helper()
	ps, err := a.Partials(context.Background(), source, []contact.ID{id})
	require.NoError(t, err)
	require.Len(t, ps, 1)
	return ps[0]
}

func TestStore_CreateMatchesAndRemove(t *testing.T) {
	a, e := newTestAdapter(t)

	local := testutil.Person(contact.OriginLocal, "Fay", "Wray", contact.PhoneNumber{Number: "4"})
	save(t, e, local)
	aggID := aggregateOf(t, e, local.ID)

	remote := Partial{Details: []contact.Detail{
		contact.NewDetail(contact.Name{First: "Fay", Last: "Wray"}),
		contact.NewDetail(contact.EmailAddress{Address: "fay@example.com"}),
	}}
	res := storePairs(t, a, "carddav", Pair{New: &remote})
	require.Len(t, res.IDs, 1)
	id := res.IDs[0]
	require.NotZero(t, id)
	assert.Contains(t, res.ChangeSet.Added, id)

	c := load(t, e, id)
	assert.Equal(t, "carddav", c.Origin)
	assert.Equal(t, aggID, aggregateOf(t, e, id), "matched into the local aggregate")
	assert.Len(t, load(t, e, aggID).DetailsOf(contact.TypeEmailAddress), 1)

	current := partialOfID(t, a, "carddav", id)
	res = storePairs(t, a, "carddav", Pair{Old: &current})
	assert.Equal(t, []contact.ID{0}, res.IDs)
	assert.False(t, exists(t, e, id))
	assert.True(t, exists(t, e, aggID), "the local constituent keeps it alive")
	assert.Empty(t, load(t, e, aggID).DetailsOf(contact.TypeEmailAddress))
}

func TestStore_RemoveLastConstituentRemovesAggregate(t *testing.T) {
	a, e := newTestAdapter(t)

	remote := testutil.Person("carddav", "Gus", "Grissom")
	save(t, e, remote)
	aggID := aggregateOf(t, e, remote.ID)

	p := partialOfID(t, a, "carddav", remote.ID)
	storePairs(t, a, "carddav", Pair{Old: &p})
	assert.False(t, exists(t, e, remote.ID))
	assert.False(t, exists(t, e, aggID))

	res := storePairs(t, a, "carddav", Pair{Old: &p})
	assert.Equal(t, []contact.ID{0}, res.IDs, "already gone is not an error")
}

func TestStore_PreferLocal(t *testing.T) {
	a, e := newTestAdapter(t)

	remote := testutil.Person("carddav", "Bo", "Diddley",
		contact.Birthday{Date: "1928-12-30"},
		contact.Hobby{Hobby: "chess"},
		contact.Note{Note: "a"},
		contact.Tag{Tag: "t1"},
	)
	save(t, e, remote)
	synced := partialOfID(t, a, "carddav", remote.ID)

	// Local edits since the last sync.
	c := load(t, e, remote.ID)
	c.Details = setValue(c.Details, contact.Birthday{Date: "1930-01-01"})
	c.Details = dropType(c.Details, contact.TypeHobby)
	c.Details = setValue(c.Details, contact.Note{Note: "b"})
	save(t, e, c)

	// Remote edits since the last sync.
	next := synced.Clone()
	next.Details = setValue(next.Details, contact.Birthday{Date: "1929-01-01"})
	next.Details = setValue(next.Details, contact.Hobby{Hobby: "go"})
	next.Details = dropType(next.Details, contact.TypeNote)
	next.Details = setValue(next.Details, contact.Tag{Tag: "t2"})
	next.Details = append(next.Details, contact.NewDetail(contact.EmailAddress{Address: "bo@example.com"}))

	res := storePairs(t, a, "carddav", Pair{Old: &synced, New: &next})
	assert.Equal(t, []contact.ID{remote.ID}, res.IDs)

	got := load(t, e, remote.ID)
	assert.Equal(t, []contact.Value{contact.Birthday{Date: "1930-01-01"}}, testutil.Values(got, contact.TypeBirthday),
		"changed on both sides: local wins")
	assert.Empty(t, testutil.Values(got, contact.TypeHobby), "removed locally, modified remotely: dropped")
	assert.Equal(t, []contact.Value{contact.Note{Note: "b"}}, testutil.Values(got, contact.TypeNote),
		"modified locally, removed remotely: kept")
	assert.Equal(t, []contact.Value{contact.Tag{Tag: "t2"}}, testutil.Values(got, contact.TypeTag))
	assert.Equal(t, []contact.Value{contact.EmailAddress{Address: "bo@example.com"}}, testutil.Values(got, contact.TypeEmailAddress))
}

func TestStore_RemoteEditOfLocalData(t *testing.T) {
	a, e := newTestAdapter(t)

	local := testutil.Person(contact.OriginLocal, "Hal", "Holbrook", contact.PhoneNumber{Number: "5"})
	remote := testutil.Person("carddav", "Hal", "Holbrook")
	save(t, e, local)
	save(t, e, remote)

	synced := partialOfID(t, a, "carddav", remote.ID)
	next := synced.Clone()
	next.Details = setValue(next.Details, contact.PhoneNumber{Number: "6"})

	storePairs(t, a, "carddav", Pair{Old: &synced, New: &next})
	assert.Equal(t, []contact.Value{contact.PhoneNumber{Number: "6"}},
		testutil.Values(load(t, e, local.ID), contact.TypePhoneNumber), "unconflicted edits reach the owner")
	assert.Empty(t, testutil.Values(load(t, e, remote.ID), contact.TypePhoneNumber))
}

func TestStore_PersistsModifiable(t *testing.T) {
	a, e := newTestAdapter(t)

	remote := testutil.Person("carddav", "Ida", "Wells", contact.PhoneNumber{Number: "7"})
	save(t, e, remote)
	d, _ := load(t, e, remote.ID).First(contact.TypePhoneNumber)
	require.False(t, d.Modifiable)

	synced := partialOfID(t, a, "carddav", remote.ID)
	next := synced.Clone()
	for i := range next.Details {
		if next.Details[i].Type == contact.TypePhoneNumber {
			next.Details[i].Modifiable = true
		}
	}
	storePairs(t, a, "carddav", Pair{Old: &synced, New: &next})

	d, _ = load(t, e, remote.ID).First(contact.TypePhoneNumber)
	assert.True(t, d.Modifiable)
}

func TestStore_IgnorableTypes(t *testing.T) {
	a, e := newTestAdapter(t)

	remote := testutil.Person("carddav", "Jack", "Sprat", contact.Note{Note: "lean"})
	save(t, e, remote)

	synced := partialOfID(t, a, "carddav", remote.ID)
	next := synced.Clone()
	next.Details = setValue(next.Details, contact.Note{Note: "fat"})

	_, err := a.Store(context.Background(), "carddav", []Pair{{Old: &synced, New: &next}},
		StoreOptions{IgnorableTypes: []contact.DetailType{contact.TypeNote}})
	require.NoError(t, err)
	assert.Equal(t, []contact.Value{contact.Note{Note: "lean"}}, testutil.Values(load(t, e, remote.ID), contact.TypeNote))
}

func TestStore_AdoptsLocalOnlyAggregate(t *testing.T) {
	a, e := newTestAdapter(t)

	local := testutil.Person(contact.OriginLocal, "Cy", "Young", contact.PhoneNumber{Number: "8"})
	save(t, e, local)
	aggID := aggregateOf(t, e, local.ID)

	offered := fetch(t, a, "carddav", time.Time{})
	require.Equal(t, []contact.ID{aggID}, ids(offered.Added))
	synced := offered.Added[0]

	next := synced.Clone()
	next.Details = append(next.Details, contact.NewDetail(contact.EmailAddress{Address: "cy@example.com"}))
	res := storePairs(t, a, "carddav", Pair{Old: &synced, New: &next})

	id := res.IDs[0]
	require.NotZero(t, id)
	require.NotEqual(t, aggID, id)
	c := load(t, e, id)
	assert.Equal(t, "carddav", c.Origin)
	assert.Equal(t, aggID, aggregateOf(t, e, id))
	assert.Equal(t, []contact.Value{contact.EmailAddress{Address: "cy@example.com"}}, testutil.Values(c, contact.TypeEmailAddress))
	assert.Empty(t, c.DetailsOf(contact.TypePhoneNumber), "local data is not copied")
	assert.Len(t, load(t, e, aggID).DetailsOf(contact.TypeEmailAddress), 1)

	later := fetch(t, a, "carddav", time.Time{}, aggID)
	assert.Equal(t, []contact.ID{id}, ids(later.Added), "the aggregate is now seen through the new record")
	assert.Empty(t, later.Deleted)
}

func TestStore_LocalOnlyDeletionKeepsLocalData(t *testing.T) {
	a, e := newTestAdapter(t)

	local := testutil.Person(contact.OriginLocal, "Kay", "Starr")
	save(t, e, local)
	aggID := aggregateOf(t, e, local.ID)

	offered := fetch(t, a, "carddav", time.Time{})
	storePairs(t, a, "carddav", Pair{Old: &offered.Added[0]})
	assert.True(t, exists(t, e, aggID))
	assert.True(t, exists(t, e, local.ID))
}

func TestStore_ExportRoutesThroughAggregate(t *testing.T) {
	a, e := newTestAdapter(t)

	local := testutil.Person(contact.OriginLocal, "Lou", "Reed", contact.PhoneNumber{Number: "9"})
	remote := testutil.Person("carddav", "Lou", "Reed", contact.Hobby{Hobby: "guitar"})
	save(t, e, local)
	save(t, e, remote)
	aggID := aggregateOf(t, e, local.ID)

	synced := partialOfID(t, a, contact.SourceExport, aggID)
	next := synced.Clone()
	next.Details = setValue(next.Details, contact.PhoneNumber{Number: "10"})
	next.Details = setValue(next.Details, contact.Hobby{Hobby: "piano"})
	next.Details = append(next.Details, contact.NewDetail(contact.URL{URL: "https://lou.example.com"}))

	res := storePairs(t, a, contact.SourceExport, Pair{Old: &synced, New: &next})
	assert.Equal(t, []contact.ID{aggID}, res.IDs)

	assert.Equal(t, []contact.Value{contact.PhoneNumber{Number: "10"}}, testutil.Values(load(t, e, local.ID), contact.TypePhoneNumber))
	assert.Equal(t, []contact.Value{contact.URL{URL: "https://lou.example.com"}}, testutil.Values(load(t, e, local.ID), contact.TypeURL))
	assert.Equal(t, []contact.Value{contact.Hobby{Hobby: "guitar"}}, testutil.Values(load(t, e, remote.ID), contact.TypeHobby),
		"read-only source data is not changed")
}

func TestStore_ExportCreateAndRemove(t *testing.T) {
	a, e := newTestAdapter(t)

	remote := Partial{Details: []contact.Detail{contact.NewDetail(contact.Name{First: "May", Last: "West"})}}
	res := storePairs(t, a, contact.SourceExport, Pair{New: &remote})
	aggID := res.IDs[0]
	require.NotZero(t, aggID)
	agg := load(t, e, aggID)
	require.True(t, agg.IsAggregate())

	p := partialOfID(t, a, contact.SourceExport, aggID)
	storePairs(t, a, contact.SourceExport, Pair{Old: &p})
	assert.False(t, exists(t, e, aggID))
}

func TestStore_AtomicOnError(t *testing.T) {
	a, e := newTestAdapter(t)

	other := testutil.Person("google", "Ned", "Kelly")
	save(t, e, other)

	added := Partial{Details: []contact.Detail{contact.NewDetail(contact.Name{First: "Olive", Last: "Oyl"})}}
	foreign := partialOfID(t, a, "google", other.ID)
	next := foreign.Clone()

	_, err := a.Store(context.Background(), "carddav", []Pair{{New: &added}, {Old: &foreign, New: &next}}, StoreOptions{})
	require.Error(t, err)
	assert.True(t, contact.IsConstraintViolation(err))

	res := fetch(t, a, "carddav", time.Time{})
	for _, p := range res.Added {
		assert.NotContains(t, valuesOf(p, contact.TypeName), contact.Name{First: "Olive", Last: "Oyl"})
	}
}
