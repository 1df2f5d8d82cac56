package syncadapter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/rolodex/internal/contact"
	"github.com/roach88/rolodex/internal/engine"
	"github.com/roach88/rolodex/internal/testutil"
)

func TestFetch_SourcePartialComposesLocalData(t *testing.T) {
	a, e := newTestAdapter(t)

	local := testutil.Person(contact.OriginLocal, "Alice", "Wonderland", contact.PhoneNumber{Number: "555"})
	save(t, e, local)
	remote := testutil.Person("carddav", "Alice", "Wonderland",
		contact.EmailAddress{Address: "alice@example.com"},
		contact.GUID{GUID: "card-1"},
	)
	save(t, e, remote)
	aggID := aggregateOf(t, e, local.ID)
	require.Equal(t, aggID, aggregateOf(t, e, remote.ID))

	res := fetch(t, a, "carddav", time.Time{})
	require.Len(t, res.Added, 1)
	assert.Empty(t, res.Modified)
	assert.Empty(t, res.Deleted)

	p := res.Added[0]
	assert.Equal(t, remote.ID, p.ID)
	assert.Equal(t, aggID, p.Aggregate)
	assert.Equal(t, []contact.Value{contact.PhoneNumber{Number: "555"}}, valuesOf(p, contact.TypePhoneNumber))
	assert.Equal(t, []contact.Value{contact.EmailAddress{Address: "alice@example.com"}}, valuesOf(p, contact.TypeEmailAddress))
	assert.Equal(t, []contact.Value{contact.GUID{GUID: "card-1"}}, valuesOf(p, contact.TypeGUID))
	for _, d := range p.Details {
		assert.Zero(t, d.ID)
		switch d.Type {
		case contact.TypeName, contact.TypePhoneNumber:
			assert.Equal(t, local.ID, d.Provenance.ContactID, "local data takes precedence")
		default:
			assert.Equal(t, remote.ID, d.Provenance.ContactID)
		}
	}

	other := fetch(t, a, "google", time.Time{})
	require.Len(t, other.Added, 1, "aggregates without a google record are offered as local-only")
	assert.Equal(t, aggID, other.Added[0].ID)
	assert.Len(t, valuesOf(other.Added[0], contact.TypePhoneNumber), 1)
	assert.Empty(t, valuesOf(other.Added[0], contact.TypeEmailAddress), "other sources never leak")
	assert.Empty(t, valuesOf(other.Added[0], contact.TypeGUID))
}

func TestFetch_NothingNewAfterMaxTimestamp(t *testing.T) {
	a, e := newTestAdapter(t)

	local := testutil.Person(contact.OriginLocal, "Bea", "Arthur", contact.PhoneNumber{Number: "1"})
	save(t, e, local)
	save(t, e, testutil.Person("carddav", "Bea", "Arthur", contact.Hobby{Hobby: "golf"}))
	aggID := aggregateOf(t, e, local.ID)

	for _, source := range []string{"carddav", "google", contact.SourceExport} {
		t.Run(source, func(t *testing.T) {
			first := fetch(t, a, source, time.Time{})
			require.NotEmpty(t, first.Added)
			assert.False(t, first.MaxTimestamp.IsZero())

			again := fetch(t, a, source, first.MaxTimestamp, aggID)
			assert.Empty(t, again.Added)
			assert.Empty(t, again.Modified)
			assert.Empty(t, again.Deleted)
			assert.Equal(t, first.MaxTimestamp, again.MaxTimestamp)
		})
	}
}

func TestFetch_ModifiedAddedDeleted(t *testing.T) {
	a, e := newTestAdapter(t)
	ctx := context.Background()

	edited := testutil.Person("carddav", "Bob", "Builder")
	removed := testutil.Person("carddav", "Wendy", "Builder")
	deactivated := testutil.Person("carddav", "Spud", "Scarecrow")
	save(t, e, edited)
	save(t, e, removed)
	save(t, e, deactivated)
	since := fetch(t, a, "carddav", time.Time{}).MaxTimestamp

	c := load(t, e, edited.ID)
	c.Details = append(c.Details, contact.NewDetail(contact.Hobby{Hobby: "digging"}))
	save(t, e, c)

	_, err := e.RemoveContacts(ctx, []contact.ID{removed.ID})
	require.NoError(t, err)

	c = load(t, e, deactivated.ID)
	c.Deactivated = true
	save(t, e, c)

	added := testutil.Person("carddav", "Pilchard", "Cat")
	save(t, e, added)

	res := fetch(t, a, "carddav", since)
	assert.Equal(t, []contact.ID{added.ID}, ids(res.Added))
	assert.Equal(t, []contact.ID{edited.ID}, ids(res.Modified))
	assert.Equal(t, []contact.ID{removed.ID, deactivated.ID}, res.Deleted)
}

func TestFetch_LocalOnlyAggregateLifecycle(t *testing.T) {
	a, e := newTestAdapter(t)
	ctx := context.Background()

	local := testutil.Person(contact.OriginLocal, "Carol", "Singer")
	save(t, e, local)
	aggID := aggregateOf(t, e, local.ID)

	first := fetch(t, a, "carddav", time.Time{})
	assert.Equal(t, []contact.ID{aggID}, ids(first.Added))

	unexported := fetch(t, a, "carddav", first.MaxTimestamp)
	assert.Equal(t, []contact.ID{aggID}, ids(unexported.Added), "offered until exported")

	quiet := fetch(t, a, "carddav", first.MaxTimestamp, aggID)
	assert.Empty(t, quiet.Added)
	assert.Empty(t, quiet.Modified)

	c := load(t, e, local.ID)
	c.Details = append(c.Details, contact.NewDetail(contact.Note{Note: "carols"}))
	save(t, e, c)

	changed := fetch(t, a, "carddav", first.MaxTimestamp, aggID)
	assert.Empty(t, changed.Added)
	assert.Equal(t, []contact.ID{aggID}, ids(changed.Modified))

	_, err := e.RemoveContacts(ctx, []contact.ID{local.ID})
	require.NoError(t, err)
	require.False(t, exists(t, e, aggID))

	gone := fetch(t, a, "carddav", changed.MaxTimestamp, aggID)
	assert.Empty(t, gone.Added)
	assert.Empty(t, gone.Modified)
	assert.Equal(t, []contact.ID{aggID}, gone.Deleted)
}

func TestFetch_LocalMembershipChangeModifiesSourcePartial(t *testing.T) {
	tests := []struct {
		name   string
		change func(t *testing.T, e *engine.Engine, local, remote *contact.Contact)
	}{
		{
			name: "local removed",
			change: func(t *testing.T, e *engine.Engine, local, remote *contact.Contact) {
				_, err := e.RemoveContacts(context.Background(), []contact.ID{local.ID})
				require.NoError(t, err)
			},
		},
		{
			name: "local split off",
			change: func(t *testing.T, e *engine.Engine, local, remote *contact.Contact) {
				_, err := e.SaveRelationships(context.Background(), []contact.Relationship{
					{Type: contact.IsNot, First: local.ID, Second: remote.ID},
				})
				require.NoError(t, err)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, e := newTestAdapter(t)

			local := testutil.Person(contact.OriginLocal, "Alice", "Wonderland", contact.PhoneNumber{Number: "555"})
			save(t, e, local)
			remote := testutil.Person("carddav", "Alice", "Wonderland")
			save(t, e, remote)
			require.Equal(t, aggregateOf(t, e, local.ID), aggregateOf(t, e, remote.ID))
			since := fetch(t, a, "carddav", time.Time{}).MaxTimestamp

			tt.change(t, e, local, remote)

			res := fetch(t, a, "carddav", since)
			assert.Equal(t, []contact.ID{remote.ID}, ids(res.Modified))
			assert.Empty(t, res.Deleted)
			require.Len(t, res.Modified, 1)
			assert.Empty(t, valuesOf(res.Modified[0], contact.TypePhoneNumber), "local data left with the local contact")
		})
	}
}

func TestFetch_ManualLinkOfLocalModifiesSourcePartial(t *testing.T) {
	a, e := newTestAdapter(t)

	remote := testutil.Person("carddav", "Alice", "Wonderland")
	save(t, e, remote)
	local := testutil.Person(contact.OriginLocal, "Ally", "Other", contact.PhoneNumber{Number: "555"})
	save(t, e, local)
	aggID := aggregateOf(t, e, remote.ID)
	require.NotEqual(t, aggID, aggregateOf(t, e, local.ID))
	since := fetch(t, a, "carddav", time.Time{}).MaxTimestamp

	_, err := e.SaveRelationships(context.Background(), []contact.Relationship{
		{Type: contact.Aggregates, First: local.ID, Second: aggID},
	})
	require.NoError(t, err)

	res := fetch(t, a, "carddav", since)
	assert.Empty(t, res.Added)
	assert.Equal(t, []contact.ID{remote.ID}, ids(res.Modified))
	require.Len(t, res.Modified, 1)
	assert.Equal(t, []contact.Value{contact.PhoneNumber{Number: "555"}}, valuesOf(res.Modified[0], contact.TypePhoneNumber))
}

func TestFetch_ExportOmitsNonExportable(t *testing.T) {
	a, e := newTestAdapter(t)
	ctx := context.Background()

	local := testutil.Person(contact.OriginLocal, "Dee", "Dee", contact.PhoneNumber{Number: "2"})
	save(t, e, local)
	remote := testutil.Person("carddav", "Dee", "Dee")
	remote.Details = append(remote.Details,
		contact.Detail{Type: contact.TypeNote, Value: contact.Note{Note: "private"}, NonExportable: true},
		contact.NewDetail(contact.Hobby{Hobby: "bass"}),
	)
	save(t, e, remote)
	aggID := aggregateOf(t, e, local.ID)

	res := fetch(t, a, contact.SourceExport, time.Time{})
	require.Equal(t, []contact.ID{aggID}, ids(res.Added))
	p := res.Added[0]
	assert.Empty(t, valuesOf(p, contact.TypeNote))
	assert.Equal(t, []contact.Value{contact.Hobby{Hobby: "bass"}}, valuesOf(p, contact.TypeHobby))
	assert.Len(t, load(t, e, aggID).DetailsOf(contact.TypeNote), 1, "the aggregate itself keeps it")

	_, err := e.RemoveContacts(ctx, []contact.ID{aggID})
	require.NoError(t, err)

	gone := fetch(t, a, contact.SourceExport, res.MaxTimestamp)
	assert.Equal(t, []contact.ID{aggID}, gone.Deleted)
	assert.Empty(t, gone.Added)
}

func TestFetch_RejectsNonSource(t *testing.T) {
	a, _ := newTestAdapter(t)

	for _, source := range []string{"", contact.OriginLocal, contact.OriginAggregate, contact.OriginWasLocal} {
		_, err := a.Fetch(context.Background(), source, time.Time{}, nil)
		assert.True(t, contact.IsConstraintViolation(err), "source %q", source)
	}
}

func TestPartials(t *testing.T) {
	a, e := newTestAdapter(t)
	ctx := context.Background()

	local := testutil.Person(contact.OriginLocal, "Eve", "Online", contact.PhoneNumber{Number: "3"})
	remote := testutil.Person("carddav", "Eve", "Online")
	save(t, e, local)
	save(t, e, remote)
	aggID := aggregateOf(t, e, local.ID)

	ps, err := a.Partials(ctx, "carddav", []contact.ID{remote.ID, local.ID, 999})
	require.NoError(t, err)
	require.Equal(t, []contact.ID{remote.ID}, ids(ps))
	assert.Equal(t, aggID, ps[0].Aggregate)
	assert.Len(t, valuesOf(ps[0], contact.TypePhoneNumber), 1)

	ps, err = a.Partials(ctx, contact.SourceExport, []contact.ID{remote.ID, aggID})
	require.NoError(t, err)
	assert.Equal(t, []contact.ID{aggID}, ids(ps))
}
