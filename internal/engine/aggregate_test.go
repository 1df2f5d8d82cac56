package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/rolodex/internal/contact"
	"github.com/roach88/rolodex/internal/testutil"
)

func TestCompose_PrecedenceAndUnion(t *testing.T) {
	source := &contact.Contact{ID: 1, Origin: "carddav", Details: []contact.Detail{
		{ID: 10, Type: contact.TypeBirthday, Value: contact.Birthday{Date: "1990-01-01"}},
		{ID: 11, Type: contact.TypePhoneNumber, Value: contact.PhoneNumber{Number: "111"}},
		{ID: 12, Type: contact.TypePhoneNumber, Value: contact.PhoneNumber{Number: "222"}},
		{ID: 13, Type: contact.TypeGUID, Value: contact.GUID{GUID: "remote-guid"}},
	}}
	wasLocal := &contact.Contact{ID: 2, Origin: contact.OriginWasLocal, Details: []contact.Detail{
		{ID: 20, Type: contact.TypeBirthday, Value: contact.Birthday{Date: "1970-01-01"}},
		{ID: 21, Type: contact.TypeNote, Value: contact.Note{Note: ""}},
	}}
	local := &contact.Contact{ID: 3, Origin: contact.OriginLocal, Details: []contact.Detail{
		{ID: 30, Type: contact.TypePhoneNumber, Value: contact.PhoneNumber{Number: "222"}},
	}}

	got := Compose([]*contact.Contact{source, wasLocal, local}, ComposeOptions{})

	var birthday []contact.Detail
	var phones []contact.Detail
	for _, d := range got {
		switch d.Type {
		case contact.TypeBirthday:
			birthday = append(birthday, d)
		case contact.TypePhoneNumber:
			phones = append(phones, d)
		case contact.TypeGUID, contact.TypeNote:
			t.Fatalf("unexpected %s detail in composition", d.Type)
		}
	}

	require.Len(t, birthday, 1)
	assert.Equal(t, contact.Provenance{ContactID: 2, DetailID: 20}, birthday[0].Provenance, "was_local beats sources")

	require.Len(t, phones, 2)
	assert.Equal(t, contact.Provenance{ContactID: 3, DetailID: 30}, phones[0].Provenance, "local copy wins the duplicate")
	assert.Equal(t, contact.Provenance{ContactID: 1, DetailID: 11}, phones[1].Provenance)

	for _, d := range got {
		assert.Zero(t, d.ID)
		assert.Equal(t, d.Provenance.ContactID != 1, d.Modifiable, "only locally originated details are modifiable here")
	}
}

func TestCompose_Options(t *testing.T) {
	c := &contact.Contact{ID: 7, Origin: "carddav", Details: []contact.Detail{
		{ID: 1, Type: contact.TypeGUID, Value: contact.GUID{GUID: "g"}},
		{ID: 2, Type: contact.TypeURL, Value: contact.URL{URL: "https://example.com"}, URI: "url-1", LinkedURIs: []string{"tel-1"}},
		{ID: 3, Type: contact.TypeHobby, Value: contact.Hobby{Hobby: "chess"}, Modifiable: true},
	}}

	got := Compose([]*contact.Contact{c}, ComposeOptions{
		CompositeURIs:      true,
		IncludeIdentifiers: true,
		Include: func(_ *contact.Contact, d contact.Detail) bool {
			return d.Type != contact.TypeHobby
		},
	})
	require.Len(t, got, 2)
	assert.Equal(t, contact.TypeGUID, got[0].Type)
	assert.Equal(t, "aggregate:7:url-1", got[1].URI)
	assert.Equal(t, []string{"aggregate:7:tel-1"}, got[1].LinkedURIs)
	assert.Equal(t, "url-1", c.Details[1].URI, "input untouched")
}

func TestOrderConstituents(t *testing.T) {
	cs := []*contact.Contact{
		{ID: 5, Origin: "b"},
		{ID: 4, Origin: contact.OriginWasLocal},
		{ID: 3, Origin: "a"},
		{ID: 9, Origin: contact.OriginLocal},
	}
	OrderConstituents(cs)

	var ids []contact.ID
	for _, c := range cs {
		ids = append(ids, c.ID)
	}
	assert.Equal(t, []contact.ID{9, 4, 3, 5}, ids)
}

func TestRegenerate_LocalBeatsSource(t *testing.T) {
	e := newTestEngine(t)

	remote := testutil.Person("carddav", "Ivy", "League", contact.Birthday{Date: "1990-01-01"})
	save(t, e, remote)
	local := testutil.Person(contact.OriginLocal, "Ivy", "League", contact.Birthday{Date: "1985-05-05"})
	save(t, e, local)

	agg := aggregateOf(t, e, remote.ID)
	assert.Equal(t, []contact.Value{contact.Birthday{Date: "1985-05-05"}}, testutil.Values(agg, contact.TypeBirthday))

	bday, _ := agg.First(contact.TypeBirthday)
	assert.Equal(t, local.ID, bday.Provenance.ContactID)
	assert.True(t, bday.Modifiable)
}

func TestRegenerate_MinimalChange(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	c := testutil.Person("carddav", "Jay", "Gatsby", contact.PhoneNumber{Number: "1"})
	save(t, e, c)
	before := aggregateOf(t, e, c.ID)
	name, _ := before.First(contact.TypeName)

	// Re-saving identical content changes nothing.
	stored := load(t, e, c.ID)
	cs, err := e.SaveContacts(ctx, []*contact.Contact{stored})
	require.NoError(t, err)
	assert.True(t, cs.Empty())
	assert.Equal(t, before.Modified, aggregateOf(t, e, c.ID).Modified)

	// Adding a detail leaves untouched aggregate details in place.
	stored.Details = append(stored.Details, contact.NewDetail(contact.Hobby{Hobby: "parties"}))
	save(t, e, stored)

	after := aggregateOf(t, e, c.ID)
	afterName, _ := after.First(contact.TypeName)
	assert.Equal(t, name.ID, afterName.ID)
	assert.True(t, after.Modified.After(before.Modified))
	assert.Len(t, after.DetailsOf(contact.TypeHobby), 1)
}

func TestRegenerate_CompositeURIs(t *testing.T) {
	e := newTestEngine(t)

	c := testutil.Person("carddav", "Kit", "Kat")
	c.Details = append(c.Details, contact.Detail{Type: contact.TypeURL, Value: contact.URL{URL: "https://kit.example"}, URI: "home"})
	save(t, e, c)

	agg := aggregateOf(t, e, c.ID)
	url, ok := agg.First(contact.TypeURL)
	require.True(t, ok)
	assert.Equal(t, contact.CompositeURI(c.ID, "home"), url.URI)
	assert.Equal(t, "home", must(load(t, e, c.ID).First(contact.TypeURL)).URI)
}

func TestRegenerate_WasLocalDemotion(t *testing.T) {
	e := newTestEngine(t)

	first := testutil.Person(contact.OriginLocal, "Lee", "Marvin", contact.PhoneNumber{Number: "111"})
	save(t, e, first)
	second := testutil.Person(contact.OriginLocal, "Lee", "Marvin", contact.PhoneNumber{Number: "222"})
	cs := save(t, e, second)

	assert.Equal(t, aggregateID(t, e, first.ID), aggregateID(t, e, second.ID))
	assert.Equal(t, contact.OriginWasLocal, load(t, e, first.ID).Origin)
	assert.Equal(t, contact.OriginLocal, load(t, e, second.ID).Origin)
	assert.Contains(t, cs.Changed, first.ID)

	agg := aggregateOf(t, e, first.ID)
	assert.Equal(t, []contact.Value{
		contact.PhoneNumber{Number: "222"},
		contact.PhoneNumber{Number: "111"},
	}, testutil.Values(agg, contact.TypePhoneNumber))
}

func TestValidateDetails(t *testing.T) {
	tests := []struct {
		name      string
		details   []contact.Detail
		composite bool
		wantErr   bool
	}{
		{name: "empty", details: nil},
		{name: "type filled from payload", details: []contact.Detail{{Value: contact.Note{Note: "x"}}}},
		{name: "nil value", details: []contact.Detail{{Type: contact.TypeNote}}, wantErr: true},
		{name: "mismatched type", details: []contact.Detail{{Type: contact.TypeHobby, Value: contact.Note{Note: "x"}}}, wantErr: true},
		{name: "two names", details: details(contact.Name{First: "a"}, contact.Name{First: "b"}), wantErr: true},
		{name: "two phones", details: details(contact.PhoneNumber{Number: "1"}, contact.PhoneNumber{Number: "2"})},
		{name: "two nicknames", details: details(contact.Nickname{Nickname: "Ace"}, contact.Nickname{Nickname: "Red"})},
		{
			name: "duplicate uri",
			details: []contact.Detail{
				{Value: contact.Note{Note: "a"}, URI: "u"},
				{Value: contact.Hobby{Hobby: "b"}, URI: "u"},
			},
			wantErr: true,
		},
		{name: "reserved uri", details: []contact.Detail{{Value: contact.Note{Note: "a"}, URI: "aggregate:1:u"}}, wantErr: true},
		{name: "reserved uri on aggregate", details: []contact.Detail{{Value: contact.Note{Note: "a"}, URI: "aggregate:1:u"}}, composite: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateDetails(&contact.Contact{Details: tt.details}, tt.composite)
			if tt.wantErr {
				assert.True(t, contact.IsConstraintViolation(err), "got %v", err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func must(d contact.Detail, ok bool) contact.Detail {
	if !ok {
		panic("detail missing")
	}
	return d
}
