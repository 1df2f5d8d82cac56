package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

var (
	// ErrQueueFull is returned by Submit when the bounded queue is full.
	ErrQueueFull = errors.New("scheduler: queue full")

	// ErrStopped is returned for requests submitted after Stop, and for
	// requests still queued when the worker exits.
	ErrStopped = errors.New("scheduler: stopped")

	// ErrTimeout is returned by Wait when the timeout elapses first.
	ErrTimeout = errors.New("scheduler: wait timed out")

	// ErrCanceled is the result of a request removed by Cancel.
	ErrCanceled = errors.New("scheduler: request canceled")

	// ErrStillRunning is returned by Do when the wait ended after the
	// request had started. Its effects may still land.
	ErrStillRunning = errors.New("scheduler: request still running")
)

// State is the lifecycle position of a request.
type State int

const (
	StatePending State = iota + 1
	StateRunning
	StateDone
	StateCanceled
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateRunning:
		return "running"
	case StateDone:
		return "done"
	case StateCanceled:
		return "canceled"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Func is the work a request performs on the worker goroutine.
type Func func(ctx context.Context) error

// Request is a handle on submitted work.
type Request struct {
	name string
	fn   Func
	done chan struct{}

	mu    sync.Mutex
	state State
	err   error
}

// Name returns the label given at submission.
func (r *Request) Name() string { return r.name }

// Done is closed once the request has finished or was cancelled.
func (r *Request) Done() <-chan struct{} { return r.done }

// State reports where the request is in its lifecycle.
func (r *Request) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Err returns the request result. It is nil until the request finishes.
func (r *Request) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// start moves a pending request to running. It fails if the request was
// cancelled in the meantime.
func (r *Request) start() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StatePending {
		return false
	}
	r.state = StateRunning
	return true
}

func (r *Request) finish(state State, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == StateDone || r.state == StateCanceled {
		return
	}
	r.state = state
	r.err = err
	close(r.done)
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithQueueSize bounds the number of pending requests. Zero is unbounded.
func WithQueueSize(n int) Option {
	return func(s *Scheduler) {
		s.limit = n
	}
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		s.logger = l
	}
}

// WithMetrics records queue depth and job outcomes.
func WithMetrics(m *Metrics) Option {
	return func(s *Scheduler) {
		s.metrics = m
	}
}

// WithFatal marks errors after which the worker cannot continue. A fatal
// job error fails every queued request and every later submission.
func WithFatal(fatal func(error) bool) Option {
	return func(s *Scheduler) {
		s.fatal = fatal
	}
}

// Scheduler serializes write requests onto one worker goroutine.
//
// Submit and Wait may be called from any goroutine; Run must be called
// exactly once.
type Scheduler struct {
	queue   *requestQueue
	limit   int
	logger  *slog.Logger
	metrics *Metrics
	fatal   func(error) bool

	mu     sync.Mutex
	failed error
}

// New creates a scheduler. Call Run to start the worker.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.queue = newRequestQueue(s.limit)
	return s
}

// Submit queues fn under name and returns its handle.
func (s *Scheduler) Submit(name string, fn Func) (*Request, error) {
	if err := s.failure(); err != nil {
		return nil, err
	}
	r := &Request{
		name:  name,
		fn:    fn,
		done:  make(chan struct{}),
		state: StatePending,
	}
	if err := s.queue.enqueue(r); err != nil {
		return nil, err
	}
	s.metrics.depth(s.queue.len())
	return r, nil
}

// Wait blocks until r finishes and returns its result. A pending request is
// moved to the head of the queue first. A timeout of zero waits without
// limit. Timing out leaves the request queued.
func (s *Scheduler) Wait(ctx context.Context, r *Request, timeout time.Duration) error {
	if s.queue.promote(r) {
		s.logger.Debug("promoted request", "request", r.name)
	}

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case <-r.done:
		return r.Err()
	case <-expired:
		return fmt.Errorf("%w: %s after %s", ErrTimeout, r.name, timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Do submits fn and waits for it. Unlike Wait, a wait that ends early
// takes the request with it: a request that has not started is cancelled
// and the wait error returned. One that already started cannot be undone
// and reports ErrStillRunning.
func (s *Scheduler) Do(ctx context.Context, name string, timeout time.Duration, fn Func) error {
	r, err := s.Submit(name, fn)
	if err != nil {
		return err
	}
	err = s.Wait(ctx, r, timeout)
	if err == nil || finished(r) {
		return err
	}
	if s.Cancel(r) {
		s.logger.Debug("cancelled request after wait ended", "request", name, "error", err)
		return err
	}
	if finished(r) {
		return r.Err()
	}
	return fmt.Errorf("%w: %s: %w", ErrStillRunning, name, err)
}

func finished(r *Request) bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// Cancel removes r before it starts. It reports false if r already started
// or finished.
func (s *Scheduler) Cancel(r *Request) bool {
	if !s.queue.remove(r) {
		return false
	}
	r.finish(StateCanceled, ErrCanceled)
	s.metrics.outcome(statusCanceled)
	s.metrics.depth(s.queue.len())
	return true
}

// Len returns the number of queued requests.
func (s *Scheduler) Len() int {
	return s.queue.len()
}

// Run executes requests until ctx is cancelled, Stop is called and the
// queue drains, or a fatal error occurs. Requests run under a context that
// ignores ctx cancellation, so a started request always completes.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler starting")
	work := context.WithoutCancel(ctx)

	for {
		if r, ok := s.queue.tryDequeue(); ok {
			s.metrics.depth(s.queue.len())
			if err := s.execute(work, r); err != nil {
				s.failAll(err)
				return err
			}
			continue
		}

		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopping: context cancelled")
			s.queue.close()
			s.failAll(ErrStopped)
			return ctx.Err()

		case <-s.queue.wait():
			if s.queue.isClosed() && s.queue.len() == 0 {
				s.logger.Info("scheduler stopping: queue closed")
				return nil
			}
		}
	}
}

// execute runs one request. It returns an error only when the failure is
// fatal for the worker.
func (s *Scheduler) execute(ctx context.Context, r *Request) error {
	if !r.start() {
		return nil
	}

	started := time.Now()
	err := r.fn(ctx)
	s.metrics.observe(r.name, time.Since(started).Seconds())

	if err == nil {
		s.metrics.outcome(statusOK)
		r.finish(StateDone, nil)
		return nil
	}

	if s.fatal != nil && s.fatal(err) {
		s.metrics.outcome(statusFailed)
		r.finish(StateDone, err)
		s.logger.Error("worker failed", "request", r.name, "error", err)
		return fmt.Errorf("worker failed: %w", err)
	}
	s.metrics.outcome(statusError)
	r.finish(StateDone, err)
	s.logger.Debug("request failed", "request", r.name, "error", err)
	return nil
}

// failAll records err as the scheduler's failure and fails every queued
// request with it.
func (s *Scheduler) failAll(err error) {
	s.mu.Lock()
	if s.failed == nil {
		s.failed = err
	}
	s.mu.Unlock()

	s.queue.close()
	for _, r := range s.queue.drain() {
		r.finish(StateDone, err)
		s.metrics.outcome(statusFailed)
	}
	s.metrics.depth(0)
}

func (s *Scheduler) failure() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failed
}

// Stop closes the queue. Run finishes the requests already queued and then
// returns.
func (s *Scheduler) Stop() {
	s.queue.close()
}
