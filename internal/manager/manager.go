package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/roach88/rolodex/internal/contact"
	"github.com/roach88/rolodex/internal/engine"
	"github.com/roach88/rolodex/internal/notify"
	"github.com/roach88/rolodex/internal/scheduler"
	"github.com/roach88/rolodex/internal/store"
	"github.com/roach88/rolodex/internal/syncadapter"
)

// DefaultWaitTimeout bounds how long a write waits for the worker.
const DefaultWaitTimeout = 30 * time.Second

type options struct {
	logger        *slog.Logger
	queueSize     int
	waitTimeout   time.Duration
	registerer    prometheus.Registerer
	mergePresence bool
	sinks         []notify.Sink
	clock         engine.Clock
	tokens        engine.TokenGenerator
}

// Option configures a Manager.
type Option func(*options)

// WithLogger sets the logger shared by every component.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithQueueSize bounds the number of pending writes. Zero is unbounded.
func WithQueueSize(n int) Option {
	return func(o *options) {
		o.queueSize = n
	}
}

// WithWaitTimeout bounds how long a write waits. Zero waits forever.
func WithWaitTimeout(d time.Duration) Option {
	return func(o *options) {
		o.waitTimeout = d
	}
}

// WithMetrics registers scheduler metrics with reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(o *options) {
		o.registerer = reg
	}
}

// WithMergePresenceChanges reports presence-only changes as ordinary
// changes.
func WithMergePresenceChanges(merge bool) Option {
	return func(o *options) {
		o.mergePresence = merge
	}
}

// WithSink forwards every change set to s after local subscribers.
func WithSink(s notify.Sink) Option {
	return func(o *options) {
		o.sinks = append(o.sinks, s)
	}
}

// WithClock overrides the engine clock.
func WithClock(c engine.Clock) Option {
	return func(o *options) {
		o.clock = c
	}
}

// WithTokenGenerator overrides change-set id generation.
func WithTokenGenerator(g engine.TokenGenerator) Option {
	return func(o *options) {
		o.tokens = g
	}
}

// Manager owns the store, the engine, the write worker and the bus.
type Manager struct {
	store   *store.Store
	engine  *engine.Engine
	sched   *scheduler.Scheduler
	adapter *syncadapter.Adapter
	bus     *notify.Bus
	logger  *slog.Logger
	timeout time.Duration

	cancel context.CancelFunc
	done   chan struct{}
	runErr error
}

var _ syncadapter.Backend = (*Manager)(nil)

// Open opens the database at path and starts the write worker.
func Open(path string, opts ...Option) (*Manager, error) {
	o := options{
		logger:      slog.Default(),
		waitTimeout: DefaultWaitTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}

	s, err := store.Open(path)
	if err != nil {
		return nil, err
	}

	busOpts := []notify.Option{notify.WithLogger(o.logger)}
	for _, sink := range o.sinks {
		busOpts = append(busOpts, notify.WithSink(sink))
	}
	bus := notify.NewBus(busOpts...)

	engOpts := []engine.Option{
		engine.WithLogger(o.logger),
		engine.WithNotifier(bus),
		engine.WithMergePresenceChanges(o.mergePresence),
	}
	if o.clock != nil {
		engOpts = append(engOpts, engine.WithClock(o.clock))
	}
	if o.tokens != nil {
		engOpts = append(engOpts, engine.WithTokenGenerator(o.tokens))
	}
	e := engine.New(s, engOpts...)

	schedOpts := []scheduler.Option{
		scheduler.WithLogger(o.logger),
		scheduler.WithQueueSize(o.queueSize),
		scheduler.WithFatal(contact.IsStorageUnavailable),
	}
	if o.registerer != nil {
		schedOpts = append(schedOpts, scheduler.WithMetrics(scheduler.NewMetrics(o.registerer)))
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		store:   s,
		engine:  e,
		sched:   scheduler.New(schedOpts...),
		adapter: syncadapter.New(e, syncadapter.WithLogger(o.logger)),
		bus:     bus,
		logger:  o.logger,
		timeout: o.waitTimeout,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go m.run(ctx)

	m.logger.Info("manager opened", "path", path)
	return m, nil
}

func (m *Manager) run(ctx context.Context) {
	defer close(m.done)
	if err := m.sched.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		m.runErr = err
		m.logger.Error("write worker stopped", "error", err)
	}
}

// Close finishes queued writes, delivers pending notifications and closes
// the database. It returns the worker's failure, if any.
func (m *Manager) Close() error {
	m.sched.Stop()
	<-m.done
	m.cancel()
	m.bus.Close()

	err := m.store.Close()
	m.logger.Info("manager closed")
	return errors.Join(m.runErr, err)
}

// Subscribe registers h for every committed change set.
func (m *Manager) Subscribe(h notify.Handler) (unsubscribe func()) {
	return m.bus.Subscribe(h)
}

// DatabaseUUID returns the identifier generated when the database was
// created.
func (m *Manager) DatabaseUUID(ctx context.Context) (string, error) {
	return m.store.DatabaseUUID(ctx)
}

// Submit queues fn on the write worker without waiting. Use Wait or Cancel
// on the returned request.
func (m *Manager) Submit(name string, fn scheduler.Func) (*scheduler.Request, error) {
	return m.sched.Submit(name, fn)
}

// Wait blocks until r finishes, promoting it to the head of the queue.
func (m *Manager) Wait(ctx context.Context, r *scheduler.Request) error {
	return m.sched.Wait(ctx, r, m.timeout)
}

// Cancel removes r if it has not started.
func (m *Manager) Cancel(r *scheduler.Request) bool {
	return m.sched.Cancel(r)
}

// write runs fn on the worker and waits for it. A write still queued when
// the wait ends is cancelled; one already running reports
// scheduler.ErrStillRunning.
func (m *Manager) write(ctx context.Context, name string, fn scheduler.Func) error {
	if err := m.sched.Do(ctx, name, m.timeout, fn); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

// writeResult runs fn on the worker and returns its result. The result is
// handed over on a channel so a write that outlives its caller never
// touches the caller's variables.
func writeResult[T any](ctx context.Context, m *Manager, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	out := make(chan T, 1)
	err := m.write(ctx, name, func(ctx context.Context) error {
		v, err := fn(ctx)
		out <- v
		return err
	})
	select {
	case v := <-out:
		return v, err
	default:
		var zero T
		return zero, err
	}
}

// changes runs an engine write on the worker and returns its change set.
func (m *Manager) changes(ctx context.Context, name string, fn func(ctx context.Context) (contact.ChangeSet, error)) (contact.ChangeSet, error) {
	return writeResult(ctx, m, name, fn)
}

// TwoWay returns a sync session driver for source backed by m.
func (m *Manager) TwoWay(source string, opts ...syncadapter.TwoWayOption) *syncadapter.TwoWay {
	base := []syncadapter.TwoWayOption{syncadapter.WithTwoWayLogger(m.logger)}
	return syncadapter.NewTwoWay(m, source, append(base, opts...)...)
}
