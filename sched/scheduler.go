package sched

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/lanternlang/lantern/errors"
	"github.com/lanternlang/lantern/reactor"
)

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithMaxTasks caps the number of simultaneously live tasks. Zero or
// negative means unlimited.
func WithMaxTasks(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.maxTasks = n
		}
	}
}

// SpawnOption configures one Spawn call.
type SpawnOption func(*spawnCfg)

type spawnCfg struct {
	detached bool
}

// WithDetached detaches the new task from its parent: cancelling the
// parent will not cancel it.
func WithDetached() SpawnOption {
	return func(c *spawnCfg) { c.detached = true }
}

// Scheduler owns a set of live tasks and decides their run order.
//
// Scheduling is cooperative and logically single-threaded: the run loop
// and the one currently running task hand control back and forth over a
// resume/yield channel pair, so exactly one task ever executes program
// logic at a time. State is additionally guarded by one mutex because
// cancellation may arrive from outside the logical thread.
//
// A Scheduler is exclusively owned by the runtime instance that created
// it; schedulers never share task tables or reactor registrations.
type Scheduler struct {
	r      *reactor.Reactor
	yields chan yieldMsg

	mu       sync.Mutex
	tasks    map[TaskID]*Task
	readyQ   []TaskID
	killQ    []TaskID
	byHandle map[reactor.Handle]TaskID
	nextID   TaskID
	live     int

	maxTasks int
}

// New creates a scheduler fed by r. The reactor must outlive the
// scheduler's Run call.
func New(r *reactor.Reactor, opts ...Option) *Scheduler {
	s := &Scheduler{
		r:        r,
		yields:   make(chan yieldMsg),
		tasks:    make(map[TaskID]*Task),
		byHandle: make(map[reactor.Handle]TaskID),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Spawn creates a top-level task in the Ready state. Tasks spawned here
// have no parent; failures nobody awaits are surfaced through
// UnobservedFailures.
func (s *Scheduler) Spawn(name string, fn TaskFunc, opts ...SpawnOption) (*Handle, error) {
	var cfg spawnCfg
	for _, opt := range opts {
		opt(&cfg)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.spawnLocked(nil, name, fn, cfg.detached)
	if err != nil {
		return nil, err
	}
	return &Handle{s: s, id: t.id, name: t.name}, nil
}

func (s *Scheduler) spawnLocked(parent *Task, name string, fn TaskFunc, detached bool) (*Task, error) {
	if fn == nil {
		return nil, errors.InvalidInput(errors.PhaseSched, "nil task function")
	}
	if s.maxTasks > 0 && s.live >= s.maxTasks {
		return nil, errors.New(errors.PhaseSched, errors.KindInvalidInput).
			Detail("task limit %d reached", s.maxTasks).
			Build()
	}

	s.nextID++
	ctx, cancel := context.WithCancel(context.Background())
	t := &Task{
		id:       s.nextID,
		name:     name,
		fn:       fn,
		resume:   make(chan resumeMsg),
		ctx:      ctx,
		cancelFn: cancel,
		state:    StateReady,
		children: make(map[TaskID]struct{}),
		detached: detached,
	}
	if parent != nil {
		t.parent = parent.id
		if !detached {
			parent.children[t.id] = struct{}{}
		}
	}

	s.tasks[t.id] = t
	s.live++
	s.readyQ = append(s.readyQ, t.id)
	go t.run(s)

	Logger().Debug("task spawned",
		zap.Uint64("id", uint64(t.id)),
		zap.String("name", t.name),
		zap.Bool("detached", detached))
	return t, nil
}

// run is the task goroutine trampoline. It blocks until the scheduler
// hands over the logical thread, executes the task function, and yields
// the outcome back. A kill resume unwinds without ever entering (or
// re-entering) user code.
func (t *Task) run(s *Scheduler) {
	msg := <-t.resume
	if msg.kill {
		s.yields <- yieldMsg{task: t, kind: yieldKilled}
		return
	}
	s.yields <- t.invoke(s)
}

func (t *Task) invoke(s *Scheduler) (y yieldMsg) {
	defer func() {
		if r := recover(); r != nil {
			if _, ok := r.(killedSentinel); ok {
				y = yieldMsg{task: t, kind: yieldKilled}
				return
			}
			y = yieldMsg{
				task: t,
				kind: yieldDone,
				err: errors.New(errors.PhaseSched, errors.KindTaskFailed).
					Detail("task %q panicked: %v", t.name, r).
					Build(),
			}
		}
	}()

	result, err := t.fn(&TaskContext{s: s, t: t})
	return yieldMsg{task: t, kind: yieldDone, result: result, err: err}
}

// Run drives the scheduler until no runnable or suspended tasks remain,
// or until ctx is cancelled (which cancels every live task and drains
// them cooperatively before returning ctx's error).
//
// Ready tasks run in FIFO order of the moment they became ready. When no
// task is ready, Run blocks in reactor.Poll until the nearest timer
// deadline or the next completion event.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			s.CancelAll()
		}

		// Unwind cancelled task goroutines first. Their deferred cleanup
		// runs serialized like any other program logic.
		if t := s.popKill(); t != nil {
			t.resume <- resumeMsg{kill: true}
			<-s.yields
			continue
		}

		if t := s.popReady(); t != nil {
			s.step(t)
			continue
		}

		s.mu.Lock()
		live := s.live
		s.mu.Unlock()
		if live == 0 {
			return ctx.Err()
		}

		s.dispatch(s.r.Poll(ctx, -1))
	}
}

func (s *Scheduler) popKill() *Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.killQ) > 0 {
		id := s.killQ[0]
		s.killQ = s.killQ[1:]
		if t := s.tasks[id]; t != nil {
			return t
		}
	}
	return nil
}

func (s *Scheduler) popReady() *Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.readyQ) > 0 {
		id := s.readyQ[0]
		s.readyQ = s.readyQ[1:]
		t := s.tasks[id]
		if t != nil && t.state == StateReady {
			return t
		}
		// Stale entry: the task was cancelled while queued.
	}
	return nil
}

// step hands the logical thread to t and blocks until t yields it back.
func (s *Scheduler) step(t *Task) {
	s.mu.Lock()
	t.state = StateRunning
	msg := resumeMsg{err: t.pendingErr}
	t.pendingErr = nil
	s.mu.Unlock()

	t.resume <- msg
	y := <-s.yields

	switch y.kind {
	case yieldSuspend, yieldKilled:
		// Bookkeeping already happened on the task's side of the fence.
	case yieldDone:
		s.mu.Lock()
		if !t.state.Terminal() {
			st := StateCompleted
			if y.err != nil {
				st = StateFailed
				Logger().Debug("task failed",
					zap.Uint64("id", uint64(t.id)),
					zap.String("name", t.name),
					zap.Error(y.err))
			}
			s.finishLocked(t, st, y.result, y.err)
		}
		s.mu.Unlock()
	}
}

// dispatch translates reactor events into Ready transitions. Events for
// unknown handles or terminal tasks are dropped: cancellation must win
// any race with late delivery.
func (s *Scheduler) dispatch(events []reactor.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ev := range events {
		id, ok := s.byHandle[ev.Handle]
		if !ok {
			continue
		}
		delete(s.byHandle, ev.Handle)

		t := s.tasks[id]
		if t == nil || t.state != StateSuspended {
			Logger().Debug("dropping event for non-suspended task",
				zap.Uint64("handle", uint64(ev.Handle)),
				zap.Uint64("task", uint64(id)))
			continue
		}

		switch ev.Handle {
		case t.wait.Handle:
			if th := t.wait.TimeoutHandle; th != 0 {
				s.r.Cancel(th)
				delete(s.byHandle, th)
			}
			t.pendingErr = ev.Err
		case t.wait.TimeoutHandle:
			// The racing timer won: cancel the main wait and resolve as
			// a timeout.
			s.r.Cancel(t.wait.Handle)
			delete(s.byHandle, t.wait.Handle)
			t.pendingErr = errors.New(errors.PhaseSched, errors.KindCancelled).
				Detail("wait timed out").
				Build()
		default:
			continue
		}

		t.wait = WaitReason{}
		t.state = StateReady
		s.readyQ = append(s.readyQ, id)
	}
}

// finishLocked moves t into a terminal state, releases its parent link,
// and wakes every task awaiting it.
func (s *Scheduler) finishLocked(t *Task, st State, result any, err error) {
	if t.state.Terminal() {
		return
	}
	t.state = st
	t.result = result
	t.err = err
	t.cancelFn()
	s.live--

	if p := s.tasks[t.parent]; p != nil {
		delete(p.children, t.id)
	}

	for _, wid := range t.waiters {
		w := s.tasks[wid]
		if w != nil && w.state == StateSuspended && w.wait.Kind == WaitChild && w.wait.Child == t.id {
			w.wait = WaitReason{}
			w.state = StateReady
			s.readyQ = append(s.readyQ, wid)
		}
	}
	t.waiters = nil
}

// cancelLocked cancels one task and cascades to the children it owns.
// Detached children are unaffected. A running task is only marked: the
// cancellation takes effect at its next suspension point.
func (s *Scheduler) cancelLocked(id TaskID) {
	t := s.tasks[id]
	if t == nil || t.state.Terminal() {
		return
	}

	t.cancelRequested = true
	t.cancelFn()

	if t.state == StateRunning {
		return
	}

	if t.state == StateSuspended {
		// Deregister from the reactor BEFORE the terminal transition so
		// no late event can reach the dead task.
		if h := t.wait.Handle; h != 0 {
			s.r.Cancel(h)
			delete(s.byHandle, h)
		}
		if th := t.wait.TimeoutHandle; th != 0 {
			s.r.Cancel(th)
			delete(s.byHandle, th)
		}
		t.wait = WaitReason{}
	}

	children := make([]TaskID, 0, len(t.children))
	for cid := range t.children {
		children = append(children, cid)
	}

	s.finishLocked(t, StateCancelled, nil,
		errors.Cancelled(errors.PhaseSched, fmt.Sprintf("task %q cancelled", t.name)))

	for _, cid := range children {
		s.cancelLocked(cid)
	}

	// The task goroutine is parked awaiting a resume; unwind it from
	// the run loop.
	s.killQ = append(s.killQ, id)
	s.wakeLocked()
}

// wakeLocked nudges a run loop that may be blocked in reactor.Poll by
// registering an immediately-completing op. The resulting event maps to
// no task and is dropped by dispatch.
func (s *Scheduler) wakeLocked() {
	s.r.RegisterOp(func(context.Context) error { return nil })
}

// CancelAll requests cancellation of every live task. Safe to call from
// any goroutine.
func (s *Scheduler) CancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]TaskID, 0, len(s.tasks))
	for id := range s.tasks {
		ids = append(ids, id)
	}
	for _, id := range ids {
		s.cancelLocked(id)
	}
}

// UnobservedFailures returns the failures of terminal tasks nobody
// awaited, so they can be reported at process exit instead of silently
// dropped. Reading a failure through Handle.Result or Await marks it
// observed.
func (s *Scheduler) UnobservedFailures() []error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []error
	for _, t := range s.tasks {
		if t.state == StateFailed && !t.observed {
			out = append(out, errors.TaskFailed(t.name, t.err))
		}
	}
	return out
}

// Stats is a point-in-time census of scheduler state.
type Stats struct {
	Live      int
	Ready     int
	Suspended int
}

// Snapshot returns current task counts, mostly for diagnostics.
func (s *Scheduler) Snapshot() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{Live: s.live}
	for _, t := range s.tasks {
		switch t.state {
		case StateReady:
			st.Ready++
		case StateSuspended:
			st.Suspended++
		}
	}
	return st
}
