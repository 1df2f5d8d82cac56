package syncadapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/rolodex/internal/contact"
)

// ErrNotInitialized is returned by TwoWay methods called before Init.
var ErrNotInitialized = errors.New("syncadapter: not initialized")

// OOB keys holding the sync state of one account.
const (
	KeyRemoteSince = "remote_since"
	KeyLocalSince  = "local_since"
	KeyExported    = "exported_ids"
	KeySnapshots   = "snapshots"
)

// Scope returns the OOB scope holding the sync state of account on source.
func Scope(source, account string) string {
	return "sync:" + source + ":" + account
}

// ReadMode selects how much state ReadSyncState loads.
type ReadMode int

const (
	// ReadAllState loads timestamps, exported ids and snapshots.
	ReadAllState ReadMode = iota

	// ReadPartialState loads only the timestamps.
	ReadPartialState
)

// LocalChanges are the local edits a sync plugin should push upstream.
type LocalChanges struct {
	// Since is the local timestamp the changes were computed from.
	Since time.Time

	Added    []Partial
	Modified []Partial
	Deleted  []contact.ID
}

// Empty reports whether there is nothing to push.
func (c LocalChanges) Empty() bool {
	return len(c.Added) == 0 && len(c.Modified) == 0 && len(c.Deleted) == 0
}

type syncState struct {
	RemoteSince time.Time
	LocalSince  time.Time
	Exported    []contact.ID
	Snapshots   map[contact.ID]Partial
}

func (s syncState) clone() syncState {
	out := s
	out.Exported = slices.Clone(s.Exported)
	out.Snapshots = maps.Clone(s.Snapshots)
	if out.Snapshots == nil {
		out.Snapshots = map[contact.ID]Partial{}
	}
	return out
}

func (s *syncState) unexport(id contact.ID) {
	s.Exported = slices.DeleteFunc(s.Exported, func(x contact.ID) bool { return x == id })
}

// TwoWayOption configures a TwoWay.
type TwoWayOption func(*TwoWay)

// WithTwoWayLogger sets the logger. The default is slog.Default().
func WithTwoWayLogger(l *slog.Logger) TwoWayOption {
	return func(w *TwoWay) {
		w.logger = l
	}
}

// WithNow sets the clock used for the next remote timestamp.
func WithNow(now func() time.Time) TwoWayOption {
	return func(w *TwoWay) {
		w.now = now
	}
}

// TwoWay drives one sync session for one account on one source:
//
//	Init → ReadSyncState → (fetch remote) → StoreRemoteChanges →
//	DetermineLocalChanges → (push upstream) → StoreSyncState
//
// with PurgeSyncState on failure. Nothing is persisted until
// StoreSyncState, so an aborted session repeats on the next run.
//
// A TwoWay is not safe for concurrent use.
type TwoWay struct {
	backend Backend
	source  string
	logger  *slog.Logger
	now     func() time.Time

	scope   string
	session string
	ready   bool

	state syncState // as persisted
	next  syncState // committed by StoreSyncState
}

// NewTwoWay returns a session driver for source over b.
func NewTwoWay(b Backend, source string, opts ...TwoWayOption) *TwoWay {
	w := &TwoWay{
		backend: b,
		source:  source,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Source returns the source name.
func (w *TwoWay) Source() string { return w.source }

// Init starts a session for account and clears any in-memory state.
func (w *TwoWay) Init(ctx context.Context, account string) error {
	if err := checkSource(w.source); err != nil {
		return err
	}
	if account == "" {
		return contact.NewConstraintViolation(0, "sync account is required")
	}
	w.scope = Scope(w.source, account)
	w.session = uuid.NewString()
	w.state = syncState{}.clone()
	w.next = w.state.clone()
	w.ready = true

	w.logger.InfoContext(ctx, "sync session started",
		"source", w.source,
		"account", account,
		"session", w.session,
	)
	return nil
}

// ReadSyncState loads the persisted state and returns the remote timestamp
// to fetch remote changes from. The zero time means a full sync.
func (w *TwoWay) ReadSyncState(ctx context.Context, mode ReadMode) (time.Time, error) {
	if !w.ready {
		return time.Time{}, ErrNotInitialized
	}

	keys := []string{KeyRemoteSince, KeyLocalSince}
	if mode == ReadAllState {
		keys = append(keys, KeyExported, KeySnapshots)
	}
	vals, err := w.backend.FetchOOB(ctx, w.scope, keys...)
	if err != nil {
		return time.Time{}, fmt.Errorf("read sync state: %w", err)
	}

	st := w.state.clone()
	if mode == ReadAllState {
		st = syncState{}.clone()
	}
	if err := decodeState(vals, &st); err != nil {
		return time.Time{}, fmt.Errorf("read sync state %s: %w", w.scope, err)
	}
	w.state = st
	w.next = st.clone()
	w.next.RemoteSince = w.now().UTC()

	w.logger.DebugContext(ctx, "read sync state",
		"session", w.session,
		"remote_since", st.RemoteSince,
		"local_since", st.LocalSince,
		"snapshots", len(st.Snapshots),
	)
	return st.RemoteSince, nil
}

// StoreRemoteChanges applies what the remote reported since the remote
// timestamp. Partials in addMod without an id are remote additions; their
// ID is filled in with the contact they were stored as.
func (w *TwoWay) StoreRemoteChanges(ctx context.Context, deleted []Partial, addMod []*Partial, ignorable ...contact.DetailType) error {
	if !w.ready {
		return ErrNotInitialized
	}

	pairs := make([]Pair, 0, len(deleted)+len(addMod))
	for _, d := range deleted {
		old := d
		if snap, ok := w.next.Snapshots[d.ID]; ok {
			old = snap
		}
		pairs = append(pairs, Pair{Old: &old})
	}
	for _, p := range addMod {
		if p.ID == 0 {
			pairs = append(pairs, Pair{New: p})
			continue
		}
		old, ok := w.next.Snapshots[p.ID]
		if !ok {
			old = Partial{ID: p.ID, Aggregate: p.Aggregate}
		}
		// Remotes rarely echo provenance; recover it from the snapshot.
		next := annotate(*p, old)
		pairs = append(pairs, Pair{Old: &old, New: &next})
	}
	if len(pairs) == 0 {
		return nil
	}

	res, err := w.backend.Store(ctx, w.source, pairs, StoreOptions{IgnorableTypes: ignorable})
	if err != nil {
		return fmt.Errorf("store remote changes: %w", err)
	}

	for _, d := range deleted {
		delete(w.next.Snapshots, d.ID)
		w.next.unexport(d.ID)
	}

	ids := make([]contact.ID, 0, len(addMod))
	for i, p := range addMod {
		id := res.IDs[len(deleted)+i]
		if p.ID != 0 && p.ID != id {
			// A local-only aggregate the remote now owns a record for.
			delete(w.next.Snapshots, p.ID)
			w.next.unexport(p.ID)
		}
		p.ID = id
		if id != 0 {
			ids = append(ids, id)
		}
	}

	current, err := w.backend.Partials(ctx, w.source, ids)
	if err != nil {
		return fmt.Errorf("store remote changes: %w", err)
	}
	byID := make(map[contact.ID]Partial, len(current))
	for _, c := range current {
		byID[c.ID] = c
	}
	for _, p := range addMod {
		c, ok := byID[p.ID]
		if !ok {
			continue
		}
		p.Aggregate = c.Aggregate
		w.next.Snapshots[p.ID] = annotate(*p, c)
	}

	w.logger.InfoContext(ctx, "stored remote changes",
		"session", w.session,
		"deleted", len(deleted),
		"added_or_modified", len(addMod),
		"changeset", res.ChangeSet.ID,
	)
	return nil
}

// DetermineLocalChanges returns the local edits since the last stored
// local timestamp. Partials equal to what the remote last saw are left
// out, so changes just stored from the remote are not echoed back.
func (w *TwoWay) DetermineLocalChanges(ctx context.Context) (LocalChanges, error) {
	if !w.ready {
		return LocalChanges{}, ErrNotInitialized
	}

	res, err := w.backend.Fetch(ctx, w.source, w.state.LocalSince, w.next.Exported)
	if err != nil {
		return LocalChanges{}, fmt.Errorf("determine local changes: %w", err)
	}

	out := LocalChanges{Since: w.state.LocalSince}
	for _, p := range slices.Concat(res.Added, res.Modified) {
		snap, known := w.next.Snapshots[p.ID]
		if known && sameDetails(snap.Details, p.Details) {
			continue
		}
		w.next.Snapshots[p.ID] = p.Clone()
		if known {
			out.Modified = append(out.Modified, p)
			continue
		}
		out.Added = append(out.Added, p)
		if w.source != contact.SourceExport && p.ID == p.Aggregate && !slices.Contains(w.next.Exported, p.ID) {
			w.next.Exported = append(w.next.Exported, p.ID)
		}
	}
	for _, id := range res.Deleted {
		w.next.unexport(id)
		if _, known := w.next.Snapshots[id]; !known {
			continue
		}
		delete(w.next.Snapshots, id)
		out.Deleted = append(out.Deleted, id)
	}
	slices.Sort(w.next.Exported)
	w.next.LocalSince = res.MaxTimestamp

	w.logger.InfoContext(ctx, "determined local changes",
		"session", w.session,
		"since", out.Since,
		"added", len(out.Added),
		"modified", len(out.Modified),
		"deleted", len(out.Deleted),
	)
	return out, nil
}

// StoreSyncState persists the session's timestamps, exported ids and
// snapshots. Call it once the local changes were pushed upstream.
func (w *TwoWay) StoreSyncState(ctx context.Context) error {
	if !w.ready {
		return ErrNotInitialized
	}
	vals, err := encodeState(w.next)
	if err != nil {
		return fmt.Errorf("store sync state: %w", err)
	}
	if err := w.backend.StoreOOB(ctx, w.scope, vals); err != nil {
		return fmt.Errorf("store sync state: %w", err)
	}
	w.state = w.next.clone()
	w.logger.InfoContext(ctx, "stored sync state",
		"session", w.session,
		"remote_since", w.state.RemoteSince,
		"local_since", w.state.LocalSince,
	)
	return nil
}

// PurgeSyncState forgets the session state. A partial purge drops only the
// timestamps, so the next session is a full sync that still recognises
// what the remote has already seen.
func (w *TwoWay) PurgeSyncState(ctx context.Context, partialOnly bool) error {
	if !w.ready {
		return ErrNotInitialized
	}

	if partialOnly {
		if err := w.backend.RemoveOOB(ctx, w.scope, KeyRemoteSince, KeyLocalSince); err != nil {
			return fmt.Errorf("purge sync state: %w", err)
		}
		w.state.RemoteSince = time.Time{}
		w.state.LocalSince = time.Time{}
	} else {
		if err := w.backend.RemoveOOB(ctx, w.scope); err != nil {
			return fmt.Errorf("purge sync state: %w", err)
		}
		w.state = syncState{}.clone()
	}
	w.next = w.state.clone()

	w.logger.InfoContext(ctx, "purged sync state", "session", w.session, "partial", partialOnly)
	return nil
}

// RemoveAllContacts deletes every contact the source contributed and
// forgets the account's sync state, so the next session starts over with
// a full sync. Contacts are owned by the source, not the account, so the
// other accounts of the source lose theirs too.
func (w *TwoWay) RemoveAllContacts(ctx context.Context) error {
	if !w.ready {
		return ErrNotInitialized
	}

	cs, err := w.backend.RemoveSourceContacts(ctx, w.source)
	if err != nil {
		return fmt.Errorf("remove all contacts: %w", err)
	}
	if err := w.backend.RemoveOOB(ctx, w.scope); err != nil {
		return fmt.Errorf("remove all contacts: %w", err)
	}
	w.state = syncState{}.clone()
	w.next = w.state.clone()

	w.logger.InfoContext(ctx, "removed all contacts",
		"session", w.session,
		"removed", len(cs.Removed),
		"changeset", cs.ID,
	)
	return nil
}

func encodeState(s syncState) (map[string][]byte, error) {
	remote, err := s.RemoteSince.MarshalText()
	if err != nil {
		return nil, err
	}
	local, err := s.LocalSince.MarshalText()
	if err != nil {
		return nil, err
	}
	exported, err := json.Marshal(s.Exported)
	if err != nil {
		return nil, err
	}
	snapshots, err := json.Marshal(s.Snapshots)
	if err != nil {
		return nil, err
	}
	return map[string][]byte{
		KeyRemoteSince: remote,
		KeyLocalSince:  local,
		KeyExported:    exported,
		KeySnapshots:   snapshots,
	}, nil
}

// decodeState overlays the keys present in vals onto s.
func decodeState(vals map[string][]byte, s *syncState) error {
	if v, ok := vals[KeyRemoteSince]; ok {
		if err := s.RemoteSince.UnmarshalText(v); err != nil {
			return fmt.Errorf("%s: %w", KeyRemoteSince, err)
		}
	}
	if v, ok := vals[KeyLocalSince]; ok {
		if err := s.LocalSince.UnmarshalText(v); err != nil {
			return fmt.Errorf("%s: %w", KeyLocalSince, err)
		}
	}
	if v, ok := vals[KeyExported]; ok {
		if err := json.Unmarshal(v, &s.Exported); err != nil {
			return fmt.Errorf("%s: %w", KeyExported, err)
		}
	}
	if v, ok := vals[KeySnapshots]; ok {
		snaps := map[contact.ID]Partial{}
		if err := json.Unmarshal(v, &snaps); err != nil {
			return fmt.Errorf("%s: %w", KeySnapshots, err)
		}
		s.Snapshots = snaps
	}
	return nil
}
