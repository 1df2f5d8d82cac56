package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/rolodex/internal/contact"
)

// Handler receives change sets in commit order.
type Handler func(cs contact.ChangeSet)

// Sink forwards change sets outside the process.
type Sink interface {
	Send(ctx context.Context, cs contact.ChangeSet) error
}

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(b *Bus) {
		b.logger = l
	}
}

// WithSink adds an external sink. Sink errors are logged, never returned.
func WithSink(s Sink) Option {
	return func(b *Bus) {
		b.sinks = append(b.sinks, s)
	}
}

// WithSendTimeout bounds each sink delivery. The default is five seconds.
func WithSendTimeout(d time.Duration) Option {
	return func(b *Bus) {
		b.timeout = d
	}
}

// Bus delivers change sets to subscribers and sinks on its own goroutine.
// It satisfies engine.Notifier.
type Bus struct {
	logger  *slog.Logger
	sinks   []Sink
	timeout time.Duration

	mu      sync.Mutex
	pending []contact.ChangeSet
	closed  bool
	subs    map[int]Handler
	nextSub int
	signal  chan struct{} // buffered, size 1

	done chan struct{}
}

// NewBus creates a bus and starts its delivery goroutine.
func NewBus(opts ...Option) *Bus {
	b := &Bus{
		logger:  slog.Default(),
		timeout: 5 * time.Second,
		subs:    map[int]Handler{},
		signal:  make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	go b.loop()
	return b
}

// Publish queues cs for delivery. Empty change sets and publishes after
// Close are dropped.
func (b *Bus) Publish(cs contact.ChangeSet) {
	if cs.Empty() {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		b.logger.Warn("dropping change set after close", "changeset", cs.ID)
		return
	}
	b.pending = append(b.pending, cs)
	select {
	case b.signal <- struct{}{}:
	default:
	}
}

// Subscribe registers h and returns a function that removes it.
func (b *Bus) Subscribe(h Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextSub
	b.nextSub++
	b.subs[id] = h
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs, id)
	}
}

// Close stops accepting change sets, delivers what is queued and waits for
// the delivery goroutine to exit.
func (b *Bus) Close() {
	b.mu.Lock()
	if !b.closed {
		b.closed = true
		close(b.signal)
	}
	b.mu.Unlock()
	<-b.done
}

func (b *Bus) next() (contact.ChangeSet, []Handler, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.pending) == 0 {
		return contact.ChangeSet{}, nil, false
	}
	cs := b.pending[0]
	b.pending[0] = contact.ChangeSet{}
	b.pending = b.pending[1:]

	handlers := make([]Handler, 0, len(b.subs))
	for id := 0; id < b.nextSub; id++ {
		if h, ok := b.subs[id]; ok {
			handlers = append(handlers, h)
		}
	}
	return cs, handlers, true
}

func (b *Bus) loop() {
	defer close(b.done)
	for {
		cs, handlers, ok := b.next()
		if ok {
			b.deliver(cs, handlers)
			continue
		}
		if _, open := <-b.signal; !open {
			// Closed: flush anything that raced with close.
			for {
				cs, handlers, ok := b.next()
				if !ok {
					return
				}
				b.deliver(cs, handlers)
			}
		}
	}
}

func (b *Bus) deliver(cs contact.ChangeSet, handlers []Handler) {
	for _, h := range handlers {
		h(cs)
	}
	for _, s := range b.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
		if err := s.Send(ctx, cs); err != nil {
			b.logger.Error("sink delivery failed", "changeset", cs.ID, "error", err)
		}
		cancel()
	}
}
