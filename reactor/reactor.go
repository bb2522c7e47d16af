package reactor

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Handle identifies one registration (a timer or an async operation).
// Handles are never reused within a reactor's lifetime.
type Handle uint64

// Event is one readiness/completion notification returned by Poll.
type Event struct {
	// Err is the operation's failure, if any. Timer expiries carry a nil
	// Err. An operation's error is scoped to its one waiter; it is never
	// fatal to the reactor itself.
	Err error

	// Handle identifies the registration that fired.
	Handle Handle
}

// Op is an asynchronous operation run on a helper goroutine. The context
// is cancelled when the registration is cancelled or the reactor closes.
type Op func(ctx context.Context) error

const (
	// DefaultGranularity is the reactor's default polling granularity:
	// the worst-case extra delay between a timer's deadline and its
	// expiry being reported.
	DefaultGranularity = time.Millisecond

	defaultEventBuffer = 64
)

// Option configures a Reactor.
type Option func(*Reactor)

// WithGranularity sets the polling granularity. Values at or below zero
// keep the default.
func WithGranularity(d time.Duration) Option {
	return func(r *Reactor) {
		if d > 0 {
			r.granularity = d
		}
	}
}

type opEntry struct {
	cancel context.CancelFunc
}

// Reactor multiplexes timers and async operation completions into a
// single event stream. Operations may run on helper goroutines, but
// every completion is funneled back through one channel, so consumers
// observe one serialization point.
type Reactor struct {
	done    chan Event
	closing chan struct{}

	mu      sync.Mutex
	timers  timerHeap
	timerAt map[Handle]*timerEntry
	ops     map[Handle]*opEntry
	next    Handle
	closed  bool

	granularity time.Duration
}

// New creates a reactor.
func New(opts ...Option) *Reactor {
	r := &Reactor{
		done:        make(chan Event, defaultEventBuffer),
		closing:     make(chan struct{}),
		timerAt:     make(map[Handle]*timerEntry),
		ops:         make(map[Handle]*opEntry),
		granularity: DefaultGranularity,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Granularity returns the polling granularity in effect.
func (r *Reactor) Granularity() time.Duration {
	return r.granularity
}

// RegisterTimer registers a deadline. The returned handle fires exactly
// once, no earlier than the deadline and no later than the deadline plus
// the polling granularity (as observed through Poll).
func (r *Reactor) RegisterTimer(deadline time.Time) Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return 0
	}

	r.next++
	e := &timerEntry{handle: r.next, deadline: deadline}
	r.timers.push(e)
	r.timerAt[e.handle] = e
	return e.handle
}

// RegisterOp starts op on a helper goroutine. Its completion (or error)
// is delivered as an Event from a later Poll call.
func (r *Reactor) RegisterOp(op Op) Handle {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return 0
	}

	r.next++
	h := r.next
	ctx, cancel := context.WithCancel(context.Background())
	r.ops[h] = &opEntry{cancel: cancel}
	r.mu.Unlock()

	go func() {
		err := op(ctx)
		cancel()

		r.mu.Lock()
		_, live := r.ops[h]
		delete(r.ops, h)
		r.mu.Unlock()
		if !live {
			// Cancelled registration: the completion is dropped so no
			// late event reaches a dead waiter.
			Logger().Debug("dropping completion for cancelled op",
				zap.Uint64("handle", uint64(h)))
			return
		}

		select {
		case r.done <- Event{Handle: h, Err: err}:
		case <-r.closing:
		}
	}()
	return h
}

// Cancel deregisters a handle. Cancelling an unknown or already-fired
// handle is a no-op, not an error: teardown may race with event
// delivery, so cancellation must be idempotent.
func (r *Reactor) Cancel(h Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.timerAt[h]; ok {
		r.timers.remove(e)
		delete(r.timerAt, h)
		return
	}
	if e, ok := r.ops[h]; ok {
		e.cancel()
		delete(r.ops, h)
	}
}

// Pending reports whether any timer or operation registration is still
// outstanding.
func (r *Reactor) Pending() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.timerAt) > 0 || len(r.ops) > 0
}

// Poll blocks until at least one event is available, the timeout
// elapses, or ctx is done.
//
// A negative timeout blocks indefinitely (until an event or ctx
// cancellation); a zero timeout returns immediately with whatever is
// already pending. Poll returns an empty slice on timeout, never an
// error. Events for distinct resources have no required relative order
// within one call.
func (r *Reactor) Poll(ctx context.Context, timeout time.Duration) []Event {
	var pollDeadline time.Time
	if timeout > 0 {
		pollDeadline = time.Now().Add(timeout)
	}

	for {
		events, nearest, hasTimer := r.gather()
		if len(events) > 0 {
			return events
		}
		if timeout == 0 {
			return nil
		}

		// Wait for the nearest timer, the poll deadline, whichever comes
		// first. The granularity floor keeps very near deadlines from
		// degenerating into a busy loop.
		now := time.Now()
		wait := time.Duration(-1)
		if hasTimer {
			wait = nearest.Sub(now)
			if wait < r.granularity {
				wait = r.granularity
			}
		}
		if timeout > 0 {
			remain := pollDeadline.Sub(now)
			if remain <= 0 {
				return nil
			}
			if wait < 0 || remain < wait {
				wait = remain
			}
		}

		events, done := r.wait(ctx, wait)
		if done {
			return events
		}
		// A timer may have expired or the poll timed out; re-gather.
	}
}

// wait blocks until an event arrives, d elapses (d < 0 blocks without a
// deadline), ctx is done, or the reactor closes. done reports whether
// Poll should return immediately with events.
func (r *Reactor) wait(ctx context.Context, d time.Duration) (events []Event, done bool) {
	var timerC <-chan time.Time
	if d >= 0 {
		t := time.NewTimer(d)
		defer t.Stop()
		timerC = t.C
	}

	select {
	case <-ctx.Done():
		return nil, true
	case <-r.closing:
		return nil, true
	case ev := <-r.done:
		more, _, _ := r.gather()
		return append([]Event{ev}, more...), true
	case <-timerC:
		return nil, false
	}
}

// gather collects expired timers and already-queued completions without
// blocking, and reports the nearest remaining deadline.
func (r *Reactor) gather() ([]Event, time.Time, bool) {
	var events []Event

	r.mu.Lock()
	for _, e := range r.timers.popExpired(time.Now()) {
		delete(r.timerAt, e.handle)
		events = append(events, Event{Handle: e.handle})
	}
	nearest, hasTimer := r.timers.nearest()
	r.mu.Unlock()

	for {
		select {
		case ev := <-r.done:
			events = append(events, ev)
		default:
			return events, nearest, hasTimer
		}
	}
}

// Close cancels all outstanding registrations and releases the reactor.
// Close is idempotent. Polls in flight return empty.
func (r *Reactor) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	for h, e := range r.ops {
		e.cancel()
		delete(r.ops, h)
	}
	r.timers = nil
	r.timerAt = map[Handle]*timerEntry{}
	r.mu.Unlock()

	close(r.closing)
	return nil
}
