package syncadapter

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/require"

	"github.com/roach88/rolodex/internal/contact"
	"github.com/roach88/rolodex/internal/testutil"
)

// exportView is the stable part of an export partial.
type exportView struct {
	ID        contact.ID       `json:"id"`
	Aggregate contact.ID       `json:"aggregate"`
	Details   []contact.Detail `json:"details"`
}

func TestExportPartials_Golden(t *testing.T) {
	a, e := newTestAdapter(t)

	save(t, e, testutil.Person(contact.OriginLocal, "Alice", "Wonderland", contact.PhoneNumber{Number: "555"}))
	remote := testutil.Person("carddav", "Alice", "Wonderland",
		contact.PhoneNumber{Number: "555"},
		contact.Hobby{Hobby: "croquet"},
	)
	remote.Details = append(remote.Details, contact.Detail{
		Type:          contact.TypeNote,
		Value:         contact.Note{Note: "owes the hatter"},
		NonExportable: true,
	})
	save(t, e, remote)

	res := fetch(t, a, contact.SourceExport, time.Time{})
	views := make([]exportView, 0, len(res.Added))
	for _, p := range res.Added {
		views = append(views, exportView{ID: p.ID, Aggregate: p.Aggregate, Details: p.Details})
	}

	data, err := json.MarshalIndent(views, "", "  ")
	require.NoError(t, err)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "export_partials", data)
}
