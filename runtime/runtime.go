package runtime

import (
	"context"
	stderrors "errors"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/lanternlang/lantern/engine"
	"github.com/lanternlang/lantern/errors"
	"github.com/lanternlang/lantern/payload"
	"github.com/lanternlang/lantern/reactor"
	"github.com/lanternlang/lantern/sched"
)

// Status is the process-level outcome of running a unit. Code returns
// it as an exit code.
type Status int

const (
	StatusSuccess   Status = 0
	StatusFailure   Status = 1
	StatusCancelled Status = 2
	StatusCorrupt   Status = 3
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusFailure:
		return "failure"
	case StatusCancelled:
		return "cancelled"
	case StatusCorrupt:
		return "corrupt"
	default:
		return "unknown"
	}
}

// Code returns the status as a process exit code.
func (s Status) Code() int { return int(s) }

// Config holds runtime construction settings. The zero value is usable.
type Config struct {
	// Granularity is the reactor polling granularity floor. Zero keeps
	// the reactor default (1ms).
	Granularity time.Duration

	// MaxTasks caps simultaneously live tasks. Zero means unlimited.
	MaxTasks int

	// MemoryLimitPages caps guest memory in 64KB pages. Zero keeps the
	// engine default.
	MemoryLimitPages uint32

	// Stdout receives guest print output. Defaults to os.Stdout.
	Stdout io.Writer

	// Args is the guest-visible argument vector.
	Args []string
}

// Runtime wires a reactor, a scheduler and an engine together and runs
// payload units to completion. It is the entry point for embedding: a
// host program constructs a Runtime directly and never touches the
// standalone bootstrap.
type Runtime struct {
	cfg Config
	eng *engine.Engine
}

// New creates a runtime. The engine (and its wazero runtime) lives for
// the Runtime's lifetime; reactor and scheduler are per-Run.
func New(ctx context.Context, cfg Config) (*Runtime, error) {
	eng, err := engine.New(ctx, &engine.Config{
		MemoryLimitPages: cfg.MemoryLimitPages,
		Stdout:           cfg.Stdout,
	})
	if err != nil {
		return nil, err
	}
	return &Runtime{cfg: cfg, eng: eng}, nil
}

// Close releases the runtime's engine.
func (rt *Runtime) Close(ctx context.Context) error {
	return rt.eng.Close(ctx)
}

// Run executes unit until its task tree drains, then maps the outcome
// to a Status. Cancelling ctx cancels every live task cooperatively and
// yields StatusCancelled. The returned error carries detail for
// non-success statuses; a Status is always returned.
func (rt *Runtime) Run(ctx context.Context, unit *payload.Unit) (Status, error) {
	prog, err := rt.eng.Load(ctx, unit, rt.cfg.Args)
	if err != nil {
		return statusForError(err), err
	}
	defer prog.Close(context.Background())

	var ropts []reactor.Option
	if rt.cfg.Granularity > 0 {
		ropts = append(ropts, reactor.WithGranularity(rt.cfg.Granularity))
	}
	r := reactor.New(ropts...)
	defer r.Close()

	var sopts []sched.Option
	if rt.cfg.MaxTasks > 0 {
		sopts = append(sopts, sched.WithMaxTasks(rt.cfg.MaxTasks))
	}
	s := sched.New(r, sopts...)

	main, err := s.Spawn(prog.Name(), prog.Main())
	if err != nil {
		return StatusFailure, err
	}

	Logger().Info("program starting",
		zap.String("program", prog.Name()),
		zap.Strings("args", rt.cfg.Args))

	runErr := s.Run(ctx)
	status, resultErr := settle(main)

	// Reading the main result above marks it observed; anything left
	// here is a child failure nobody awaited.
	for _, fe := range s.UnobservedFailures() {
		Logger().Warn("unobserved task failure", zap.Error(fe))
	}

	if runErr != nil {
		// The driving context was cancelled; task outcomes racing the
		// drain do not upgrade the status.
		Logger().Info("program cancelled", zap.String("program", prog.Name()))
		return StatusCancelled, errors.Cancelled(errors.PhaseRun, "run cancelled: "+runErr.Error())
	}

	Logger().Info("program finished",
		zap.String("program", prog.Name()),
		zap.Stringer("status", status))
	return status, resultErr
}

// settle maps the main task's terminal state to a status. A completed
// entry returning a nonzero integer is a guest-signalled failure.
func settle(main *sched.Handle) (Status, error) {
	result, err := main.Result()

	switch main.State() {
	case sched.StateCompleted:
		if code, ok := result.(int64); ok && code != 0 {
			return StatusFailure, errors.New(errors.PhaseRun, errors.KindTaskFailed).
				Detail("program exited with status %d", code).
				Value(code).
				Build()
		}
		return StatusSuccess, nil
	case sched.StateCancelled:
		return StatusCancelled, err
	default:
		return StatusFailure, err
	}
}

// statusForError distinguishes damaged payloads from plain failures so
// the standalone path can exit with the dedicated corrupt status.
func statusForError(err error) Status {
	var le *errors.Error
	if stderrors.As(err, &le) && le.Kind == errors.KindCorruptPayload {
		return StatusCorrupt
	}
	return StatusFailure
}
