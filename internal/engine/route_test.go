package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/rolodex/internal/contact"
	"github.com/roach88/rolodex/internal/testutil"
)

// editAggregate loads the aggregate of constituent, applies fn and saves it.
func editAggregate(t *testing.T, e *Engine, constituent contact.ID, fn func(agg *contact.Contact)) (contact.ChangeSet, error) {
	t.Helper()
	agg := aggregateOf(t, e, constituent)
	fn(agg)
	return e.SaveContacts(context.Background(), []*contact.Contact{agg})
}

func setValue(agg *contact.Contact, typ contact.DetailType, v contact.Value) {
	for i, d := range agg.Details {
		if d.Type == typ {
			agg.Details[i].Value = v
			return
		}
	}
}

func dropType(agg *contact.Contact, typ contact.DetailType, v contact.Value) {
	out := agg.Details[:0]
	for _, d := range agg.Details {
		if d.Type == typ && contact.SameValue(d.Value, v) {
			continue
		}
		out = append(out, d)
	}
	agg.Details = out
}

func TestRoute_NotModifiableRejectsWholeSave(t *testing.T) {
	e := newTestEngine(t)

	remote := testutil.Person("carddav", "Max", "Power", contact.PhoneNumber{Number: "1"})
	save(t, e, remote)
	before := aggregateOf(t, e, remote.ID)
	remoteBefore := load(t, e, remote.ID)

	_, err := editAggregate(t, e, remote.ID, func(agg *contact.Contact) {
		setValue(agg, contact.TypePhoneNumber, contact.PhoneNumber{Number: "2"})
		agg.Details = append(agg.Details, contact.NewDetail(contact.Hobby{Hobby: "karaoke"}))
	})
	require.Error(t, err)
	assert.True(t, contact.IsNotModifiable(err))

	var cerr *contact.Error
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, remote.ID, cerr.ContactID)

	assert.Equal(t, before, aggregateOf(t, e, remote.ID))
	assert.Equal(t, remoteBefore, load(t, e, remote.ID))
	ids, err := e.Contacts(context.Background(), storeAll())
	require.NoError(t, err)
	assert.Len(t, ids, 2, "no incidental constituent was created")
}

func TestRoute_NotModifiableRemoval(t *testing.T) {
	e := newTestEngine(t)

	remote := testutil.Person("carddav", "Max", "Power", contact.PhoneNumber{Number: "1"})
	save(t, e, remote)

	_, err := editAggregate(t, e, remote.ID, func(agg *contact.Contact) {
		dropType(agg, contact.TypePhoneNumber, contact.PhoneNumber{Number: "1"})
	})
	assert.True(t, contact.IsNotModifiable(err))
	assert.Len(t, load(t, e, remote.ID).DetailsOf(contact.TypePhoneNumber), 1)
}

func TestRoute_ModifiableSourceDetail(t *testing.T) {
	e := newTestEngine(t)

	remote := testutil.Modifiable(testutil.Person("carddav", "Nia", "Long", contact.PhoneNumber{Number: "1"}))
	save(t, e, remote)
	before := aggregateOf(t, e, remote.ID)
	phoneBefore, _ := before.First(contact.TypePhoneNumber)

	cs, err := editAggregate(t, e, remote.ID, func(agg *contact.Contact) {
		setValue(agg, contact.TypePhoneNumber, contact.PhoneNumber{Number: "2"})
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []contact.ID{remote.ID, before.ID}, cs.Changed)
	assert.Equal(t, []string{"carddav", contact.SourceExport}, cs.SyncSourcesChanged)

	stored := load(t, e, remote.ID)
	assert.Equal(t, []contact.Value{contact.PhoneNumber{Number: "2"}}, testutil.Values(stored, contact.TypePhoneNumber))
	assert.True(t, must(stored.First(contact.TypePhoneNumber)).Modifiable, "flag kept")

	after := aggregateOf(t, e, remote.ID)
	phoneAfter, _ := after.First(contact.TypePhoneNumber)
	assert.Equal(t, phoneBefore.ID, phoneAfter.ID)
	assert.Equal(t, contact.PhoneNumber{Number: "2"}, phoneAfter.Value)
}

func TestRoute_RemovalToWasLocal(t *testing.T) {
	e := newTestEngine(t)

	old := testutil.Person(contact.OriginLocal, "Oz", "Wizard", contact.PhoneNumber{Number: "111"})
	save(t, e, old)
	cur := testutil.Person(contact.OriginLocal, "Oz", "Wizard", contact.PhoneNumber{Number: "222"})
	save(t, e, cur)
	require.Equal(t, contact.OriginWasLocal, load(t, e, old.ID).Origin)

	_, err := editAggregate(t, e, old.ID, func(agg *contact.Contact) {
		dropType(agg, contact.TypePhoneNumber, contact.PhoneNumber{Number: "111"})
	})
	require.NoError(t, err)

	assert.Empty(t, load(t, e, old.ID).DetailsOf(contact.TypePhoneNumber))
	assert.Len(t, load(t, e, cur.ID).DetailsOf(contact.TypePhoneNumber), 1)
	assert.Equal(t, []contact.Value{contact.PhoneNumber{Number: "222"}},
		testutil.Values(aggregateOf(t, e, old.ID), contact.TypePhoneNumber))
}

func TestRoute_AdditionGoesToExistingLocal(t *testing.T) {
	e := newTestEngine(t)

	local := testutil.Person(contact.OriginLocal, "Pat", "Sajak")
	save(t, e, local)
	remote := testutil.Person("carddav", "Pat", "Sajak")
	save(t, e, remote)

	cs, err := editAggregate(t, e, local.ID, func(agg *contact.Contact) {
		agg.Details = append(agg.Details, contact.NewDetail(contact.EmailAddress{Address: "pat@example.com"}))
	})
	require.NoError(t, err)
	assert.Empty(t, cs.Added)

	assert.Len(t, load(t, e, local.ID).DetailsOf(contact.TypeEmailAddress), 1)
	assert.Empty(t, load(t, e, remote.ID).DetailsOf(contact.TypeEmailAddress))
}

func TestRoute_UniqueAdditionReplacesLocal(t *testing.T) {
	e := newTestEngine(t)

	local := testutil.Person(contact.OriginLocal, "Quinn", "Fabray", contact.Birthday{Date: "2000-01-01"})
	save(t, e, local)

	_, err := editAggregate(t, e, local.ID, func(agg *contact.Contact) {
		dropType(agg, contact.TypeBirthday, contact.Birthday{Date: "2000-01-01"})
		agg.Details = append(agg.Details, contact.NewDetail(contact.Birthday{Date: "2001-02-03"}))
	})
	require.NoError(t, err)

	assert.Equal(t, []contact.Value{contact.Birthday{Date: "2001-02-03"}},
		testutil.Values(load(t, e, local.ID), contact.TypeBirthday))
}

func TestRoute_Rejections(t *testing.T) {
	tests := []struct {
		name string
		edit func(agg *contact.Contact)
	}{
		{
			name: "deactivate aggregate",
			edit: func(agg *contact.Contact) { agg.Deactivated = true },
		},
		{
			name: "two names",
			edit: func(agg *contact.Contact) {
				agg.Details = append(agg.Details, contact.NewDetail(contact.Name{First: "Other"}))
			},
		},
		{
			name: "add identifier",
			edit: func(agg *contact.Contact) {
				agg.Details = append(agg.Details, contact.NewDetail(contact.GUID{GUID: "x"}))
			},
		},
		{
			name: "change detail type",
			edit: func(agg *contact.Contact) {
				agg.Details[0].Type = contact.TypeNickname
				agg.Details[0].Value = contact.Nickname{Nickname: "n"}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEngine(t)
			local := testutil.Person(contact.OriginLocal, "Rex", "Harrison")
			save(t, e, local)

			_, err := editAggregate(t, e, local.ID, tt.edit)
			assert.True(t, contact.IsConstraintViolation(err), "got %v", err)
		})
	}
}

func TestRoute_CompositeURIRoundTrip(t *testing.T) {
	e := newTestEngine(t)

	local := testutil.Person(contact.OriginLocal, "Sue", "Storm")
	local.Details = append(local.Details, contact.Detail{Type: contact.TypeURL, Value: contact.URL{URL: "https://a.example"}, URI: "web"})
	save(t, e, local)

	_, err := editAggregate(t, e, local.ID, func(agg *contact.Contact) {
		setValue(agg, contact.TypeURL, contact.URL{URL: "https://b.example"})
	})
	require.NoError(t, err)

	url := must(load(t, e, local.ID).First(contact.TypeURL))
	assert.Equal(t, "web", url.URI)
	assert.Equal(t, contact.URL{URL: "https://b.example"}, url.Value)
}
