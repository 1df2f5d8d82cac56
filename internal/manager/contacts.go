package manager

import (
	"context"

	"github.com/roach88/rolodex/internal/contact"
	"github.com/roach88/rolodex/internal/store"
)

// SaveContacts creates or updates a batch of contacts. New contacts get
// their ID assigned. The batch is atomic.
func (m *Manager) SaveContacts(ctx context.Context, cs []*contact.Contact) (contact.ChangeSet, error) {
	return m.changes(ctx, "save contacts", func(ctx context.Context) (contact.ChangeSet, error) {
		return m.engine.SaveContacts(ctx, cs)
	})
}

// RemoveContacts deletes contacts. Removing an aggregate removes its
// constituents.
func (m *Manager) RemoveContacts(ctx context.Context, ids []contact.ID) (contact.ChangeSet, error) {
	return m.changes(ctx, "remove contacts", func(ctx context.Context) (contact.ChangeSet, error) {
		return m.engine.RemoveContacts(ctx, ids)
	})
}

// SaveRelationships stores relationships and repairs the aggregates they
// affect.
func (m *Manager) SaveRelationships(ctx context.Context, rels []contact.Relationship) (contact.ChangeSet, error) {
	return m.changes(ctx, "save relationships", func(ctx context.Context) (contact.ChangeSet, error) {
		return m.engine.SaveRelationships(ctx, rels)
	})
}

// RemoveRelationships deletes relationships and repairs the aggregates
// they affect.
func (m *Manager) RemoveRelationships(ctx context.Context, rels []contact.Relationship) (contact.ChangeSet, error) {
	return m.changes(ctx, "remove relationships", func(ctx context.Context) (contact.ChangeSet, error) {
		return m.engine.RemoveRelationships(ctx, rels)
	})
}

// Contact reads one contact.
func (m *Manager) Contact(ctx context.Context, id contact.ID) (*contact.Contact, error) {
	return m.engine.Contact(ctx, id)
}

// Contacts reads the contacts selected by f.
func (m *Manager) Contacts(ctx context.Context, f store.Filter) ([]*contact.Contact, error) {
	return m.engine.Contacts(ctx, f)
}

// Relationships reads the relationships selected by q.
func (m *Manager) Relationships(ctx context.Context, q store.RelationshipQuery) ([]contact.Relationship, error) {
	return m.engine.Relationships(ctx, q)
}
