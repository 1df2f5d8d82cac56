package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/roach88/rolodex/internal/contact"
	"github.com/roach88/rolodex/internal/store"
)

// Notifier receives the change set of every committed write.
// Implemented by notify.Bus.
type Notifier interface {
	Publish(cs contact.ChangeSet)
}

// Engine applies contact writes and keeps aggregates consistent.
//
// Thread-safety model:
//   - Update() and the write helpers: one caller at a time (the scheduler worker)
//   - Contact(), Contacts(), Relationships(): safe from any goroutine
type Engine struct {
	store         *store.Store
	clock         Clock
	tokens        TokenGenerator
	notifier      Notifier
	logger        *slog.Logger
	mergePresence bool

	// last is the newest timestamp handed out; owned by the writer.
	last   time.Time
	seeded bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the timestamp source. Default: NewSystemClock().
func WithClock(c Clock) Option {
	return func(e *Engine) {
		e.clock = c
	}
}

// WithTokenGenerator sets the change-set id generator. Default: UUIDv7Generator.
func WithTokenGenerator(g TokenGenerator) Option {
	return func(e *Engine) {
		e.tokens = g
	}
}

// WithNotifier sets where committed change sets are published.
func WithNotifier(n Notifier) Option {
	return func(e *Engine) {
		e.notifier = n
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithMergePresenceChanges reports presence-only modifications as ordinary
// changes instead of PresenceChanged.
func WithMergePresenceChanges(merge bool) Option {
	return func(e *Engine) {
		e.mergePresence = merge
	}
}

// New creates an Engine over an open store.
func New(s *store.Store, opts ...Option) *Engine {
	e := &Engine{
		store:  s,
		clock:  NewSystemClock(),
		tokens: UUIDv7Generator{},
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Store returns the underlying store.
func (e *Engine) Store() *store.Store {
	return e.store
}

// Update runs fn as one write transaction and publishes the resulting
// change set after commit. If fn fails nothing is committed or published.
func (e *Engine) Update(ctx context.Context, fn func(t *Txn) error) (contact.ChangeSet, error) {
	var cs contact.ChangeSet
	err := e.store.Update(ctx, func(tx *store.Tx) error {
		if !e.seeded {
			max, err := tx.MaxTimestamp(ctx)
			if err != nil {
				return err
			}
			e.last = max
			e.seeded = true
		}

		t := &Txn{
			ctx:     ctx,
			tx:      tx,
			e:       e,
			now:     e.stamp(),
			changes: newChangeTracker(e.mergePresence),
		}
		if err := fn(t); err != nil {
			return err
		}
		cs = t.changes.build(e.tokens.Generate())
		return nil
	})
	if err != nil {
		e.logger.Debug("write rolled back", "error", err)
		return contact.ChangeSet{}, err
	}

	if !cs.Empty() {
		e.logger.Debug("write committed",
			"changeset", cs.ID,
			"added", len(cs.Added),
			"changed", len(cs.Changed),
			"removed", len(cs.Removed),
		)
		if e.notifier != nil {
			e.notifier.Publish(cs)
		}
	}
	return cs, nil
}

// stamp returns a timestamp strictly after every stamp already stored.
func (e *Engine) stamp() time.Time {
	now := e.clock.Now().UTC()
	if !now.After(e.last) {
		now = e.last.Add(time.Nanosecond)
	}
	e.last = now
	return now
}

// SaveContacts writes a batch of contacts atomically. New contacts have
// their ID assigned on success.
func (e *Engine) SaveContacts(ctx context.Context, contacts []*contact.Contact) (contact.ChangeSet, error) {
	clones := make([]*contact.Contact, len(contacts))
	for i, c := range contacts {
		if c == nil {
			return contact.ChangeSet{}, contact.NewConstraintViolation(0, "contact %d is nil", i)
		}
		clones[i] = c.Clone()
	}

	cs, err := e.Update(ctx, func(t *Txn) error {
		return t.SaveContacts(clones)
	})
	if err != nil {
		return cs, err
	}

	for i, c := range contacts {
		c.ID = clones[i].ID
	}
	return cs, nil
}

// RemoveContacts removes contacts atomically. Removing an aggregate removes
// its constituents.
func (e *Engine) RemoveContacts(ctx context.Context, ids []contact.ID) (contact.ChangeSet, error) {
	return e.Update(ctx, func(t *Txn) error {
		return t.RemoveContacts(ids)
	})
}

// SaveRelationships stores relationships atomically and repairs aggregates.
func (e *Engine) SaveRelationships(ctx context.Context, rels []contact.Relationship) (contact.ChangeSet, error) {
	return e.Update(ctx, func(t *Txn) error {
		for _, r := range rels {
			if err := t.SaveRelationship(r); err != nil {
				return err
			}
		}
		return nil
	})
}

// RemoveRelationships deletes relationships atomically and repairs aggregates.
func (e *Engine) RemoveRelationships(ctx context.Context, rels []contact.Relationship) (contact.ChangeSet, error) {
	return e.Update(ctx, func(t *Txn) error {
		for _, r := range rels {
			if err := t.RemoveRelationship(r); err != nil {
				return err
			}
		}
		return nil
	})
}

// Contact reads one committed contact.
func (e *Engine) Contact(ctx context.Context, id contact.ID) (*contact.Contact, error) {
	var c *contact.Contact
	err := e.store.View(ctx, func(tx *store.Tx) error {
		var err error
		c, err = tx.Contact(ctx, id)
		return err
	})
	return c, err
}

// Contacts reads committed contacts selected by f.
func (e *Engine) Contacts(ctx context.Context, f store.Filter) ([]*contact.Contact, error) {
	var cs []*contact.Contact
	err := e.store.View(ctx, func(tx *store.Tx) error {
		var err error
		cs, err = tx.Contacts(ctx, f)
		return err
	})
	return cs, err
}

// Relationships reads committed relationships selected by q.
func (e *Engine) Relationships(ctx context.Context, q store.RelationshipQuery) ([]contact.Relationship, error) {
	var rels []contact.Relationship
	err := e.store.View(ctx, func(tx *store.Tx) error {
		var err error
		rels, err = tx.Relationships(ctx, q)
		return err
	})
	return rels, err
}

// Txn is one write transaction. It is only valid inside the Update callback.
type Txn struct {
	ctx     context.Context
	tx      *store.Tx
	e       *Engine
	now     time.Time
	changes *changeTracker
}

// Context returns the transaction's context.
func (t *Txn) Context() context.Context {
	return t.ctx
}

// Tx exposes the store transaction for reads.
func (t *Txn) Tx() *store.Tx {
	return t.tx
}

// Now returns the timestamp stamped on everything this transaction writes.
func (t *Txn) Now() time.Time {
	return t.now
}

// Contact reads a contact as seen inside this transaction.
func (t *Txn) Contact(id contact.ID) (*contact.Contact, error) {
	return t.tx.Contact(t.ctx, id)
}

// MarkSyncSource records that the partial view of source changed.
func (t *Txn) MarkSyncSource(source string) {
	t.changes.source(source)
}
