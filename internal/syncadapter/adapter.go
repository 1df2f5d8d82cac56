package syncadapter

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/rolodex/internal/contact"
	"github.com/roach88/rolodex/internal/engine"
	"github.com/roach88/rolodex/internal/store"
)

// Backend is what TwoWay needs from the database. Adapter implements it
// directly; the manager implements it on top of the write scheduler.
type Backend interface {
	Fetch(ctx context.Context, source string, since time.Time, exported []contact.ID) (FetchResult, error)
	Store(ctx context.Context, source string, pairs []Pair, opts StoreOptions) (StoreResult, error)
	Partials(ctx context.Context, source string, ids []contact.ID) ([]Partial, error)
	RemoveSourceContacts(ctx context.Context, source string) (contact.ChangeSet, error)

	FetchOOB(ctx context.Context, scope string, keys ...string) (map[string][]byte, error)
	StoreOOB(ctx context.Context, scope string, values map[string][]byte) error
	RemoveOOB(ctx context.Context, scope string, keys ...string) error
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(a *Adapter) {
		a.logger = l
	}
}

// Adapter reads and writes partial aggregates through an engine.
type Adapter struct {
	engine *engine.Engine
	logger *slog.Logger
}

// New returns an adapter over e.
func New(e *engine.Engine, opts ...Option) *Adapter {
	a := &Adapter{
		engine: e,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// FetchOOB returns the requested keys of scope, or every key when none
// are named. Missing keys are absent from the result.
func (a *Adapter) FetchOOB(ctx context.Context, scope string, keys ...string) (map[string][]byte, error) {
	var out map[string][]byte
	err := a.engine.Store().View(ctx, func(tx *store.Tx) error {
		var err error
		out, err = tx.FetchOOBMany(ctx, scope, keys...)
		return err
	})
	return out, err
}

// StoreOOB writes every key in values under scope.
func (a *Adapter) StoreOOB(ctx context.Context, scope string, values map[string][]byte) error {
	return a.engine.Store().Update(ctx, func(tx *store.Tx) error {
		return tx.StoreOOB(ctx, scope, values)
	})
}

// RemoveOOB removes the named keys, or the whole scope when none are named.
func (a *Adapter) RemoveOOB(ctx context.Context, scope string, keys ...string) error {
	return a.engine.Store().Update(ctx, func(tx *store.Tx) error {
		return tx.RemoveOOB(ctx, scope, keys...)
	})
}

func checkSource(source string) error {
	if source == "" || !contact.IsSourceOrigin(source) {
		return contact.NewConstraintViolation(0, "%q is not a sync source", source)
	}
	return nil
}

func wrapSource(op, source string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s %s: %w", op, source, err)
}
