package engine

import (
	"maps"
	"slices"

	"github.com/roach88/rolodex/internal/contact"
)

type idSet map[contact.ID]struct{}

func (s idSet) add(ids ...contact.ID) {
	for _, id := range ids {
		if id != 0 {
			s[id] = struct{}{}
		}
	}
}

func (s idSet) has(id contact.ID) bool {
	_, ok := s[id]
	return ok
}

func (s idSet) sorted() []contact.ID {
	if len(s) == 0 {
		return nil
	}
	return slices.Sorted(maps.Keys(s))
}

// changeTracker accumulates the effects of one Txn.
type changeTracker struct {
	mergePresence bool

	added         idSet
	changed       idSet
	removed       idSet
	deactivated   idSet
	presence      idSet
	relationships idSet
	sources       map[string]struct{}
}

func newChangeTracker(mergePresence bool) *changeTracker {
	return &changeTracker{
		mergePresence: mergePresence,
		added:         idSet{},
		changed:       idSet{},
		removed:       idSet{},
		deactivated:   idSet{},
		presence:      idSet{},
		relationships: idSet{},
		sources:       map[string]struct{}{},
	}
}

func (c *changeTracker) add(id contact.ID) {
	c.added.add(id)
}

// change records a modification. Presence-only modifications are kept
// apart unless merging is configured.
func (c *changeTracker) change(id contact.ID, presenceOnly bool) {
	if presenceOnly && !c.mergePresence {
		c.presence.add(id)
		return
	}
	c.changed.add(id)
}

// remove records a deletion. A contact created and removed in the same
// transaction was never visible and is dropped entirely.
func (c *changeTracker) remove(id contact.ID) {
	if c.added.has(id) {
		delete(c.added, id)
		return
	}
	c.removed.add(id)
}

func (c *changeTracker) wasRemoved(id contact.ID) bool {
	return c.removed.has(id)
}

func (c *changeTracker) deactivation(id contact.ID) {
	c.deactivated.add(id)
}

func (c *changeTracker) relationship(ids ...contact.ID) {
	c.relationships.add(ids...)
}

func (c *changeTracker) source(names ...string) {
	for _, n := range names {
		if contact.IsSourceOrigin(n) {
			c.sources[n] = struct{}{}
		}
	}
}

func (c *changeTracker) build(token string) contact.ChangeSet {
	gone := func(id contact.ID) bool {
		return c.removed.has(id)
	}
	for _, s := range []idSet{c.changed, c.deactivated, c.presence, c.relationships} {
		maps.DeleteFunc(s, func(id contact.ID, _ struct{}) bool { return gone(id) })
	}
	maps.DeleteFunc(c.changed, func(id contact.ID, _ struct{}) bool { return c.added.has(id) })
	maps.DeleteFunc(c.presence, func(id contact.ID, _ struct{}) bool {
		return c.added.has(id) || c.changed.has(id)
	})

	var sources []string
	if len(c.sources) > 0 {
		sources = slices.Sorted(maps.Keys(c.sources))
	}

	return contact.ChangeSet{
		ID:                   token,
		Added:                c.added.sorted(),
		Changed:              c.changed.sorted(),
		Removed:              c.removed.sorted(),
		DeactivatedChanged:   c.deactivated.sorted(),
		PresenceChanged:      c.presence.sorted(),
		RelationshipsChanged: c.relationships.sorted(),
		SyncSourcesChanged:   sources,
	}
}
