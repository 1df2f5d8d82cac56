package contact

import (
	"fmt"
	"slices"
)

// RelationshipType names a contact-to-contact link.
type RelationshipType string

const (
	// Aggregates links a constituent (First) to its aggregate (Second).
	Aggregates RelationshipType = "aggregates"

	// IsNot records that two contacts must never be matched together.
	IsNot RelationshipType = "is_not"
)

// Valid reports whether t is a known relationship type.
func (t RelationshipType) Valid() bool {
	return t == Aggregates || t == IsNot
}

// Relationship is a typed, directed link between two contacts.
type Relationship struct {
	Type   RelationshipType `json:"type"`
	First  ID               `json:"first"`
	Second ID               `json:"second"`

	// Manual is set on Aggregates links written by a caller rather than
	// by matching.
	Manual bool `json:"manual,omitempty"`
}

func (r Relationship) String() string {
	return fmt.Sprintf("%d-%s->%d", r.First, r.Type, r.Second)
}

// ChangeSet lists the contacts affected by one committed write.
// Every slice is sorted and free of duplicates.
type ChangeSet struct {
	// ID is a unique token for this change set.
	ID string `json:"id"`

	Added                []ID     `json:"added,omitempty"`
	Changed              []ID     `json:"changed,omitempty"`
	Removed              []ID     `json:"removed,omitempty"`
	DeactivatedChanged   []ID     `json:"deactivated_changed,omitempty"`
	PresenceChanged      []ID     `json:"presence_changed,omitempty"`
	RelationshipsChanged []ID     `json:"relationships_changed,omitempty"`
	SyncSourcesChanged   []string `json:"sync_sources_changed,omitempty"`
}

// Empty reports whether the change set touches nothing.
func (cs ChangeSet) Empty() bool {
	return len(cs.Added) == 0 && len(cs.Changed) == 0 && len(cs.Removed) == 0 &&
		len(cs.DeactivatedChanged) == 0 && len(cs.PresenceChanged) == 0 &&
		len(cs.RelationshipsChanged) == 0 && len(cs.SyncSourcesChanged) == 0
}

// Merge folds other into cs and returns the result.
func (cs ChangeSet) Merge(other ChangeSet) ChangeSet {
	return ChangeSet{
		ID:                   cs.ID,
		Added:                union(cs.Added, other.Added),
		Changed:              union(cs.Changed, other.Changed),
		Removed:              union(cs.Removed, other.Removed),
		DeactivatedChanged:   union(cs.DeactivatedChanged, other.DeactivatedChanged),
		PresenceChanged:      union(cs.PresenceChanged, other.PresenceChanged),
		RelationshipsChanged: union(cs.RelationshipsChanged, other.RelationshipsChanged),
		SyncSourcesChanged:   union(cs.SyncSourcesChanged, other.SyncSourcesChanged),
	}
}

func union[T ID | string](a, b []T) []T {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	out := append(slices.Clone(a), b...)
	slices.Sort(out)
	return slices.Compact(out)
}
