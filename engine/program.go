package engine

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/lanternlang/lantern/errors"
	"github.com/lanternlang/lantern/payload"
	"github.com/lanternlang/lantern/sched"
)

// Program is a compiled unit bound to its engine. Loading compiles
// once; every Main invocation instantiates a fresh module, so programs
// never share linear memory across runs.
type Program struct {
	eng      *Engine
	compiled wazero.CompiledModule
	unit     *payload.Unit
	args     []string
	name     string
	entry    string
	seq      atomic.Uint64
}

// Name returns the program's diagnostic name, derived from the unit's
// source label.
func (p *Program) Name() string { return p.name }

// Entry returns the export driven by Main.
func (p *Program) Entry() string { return p.entry }

// Close releases the compiled module. Programs are also released when
// their engine closes.
func (p *Program) Close(ctx context.Context) error {
	return p.compiled.Close(ctx)
}

// Main returns the task body that instantiates the program and drives
// its entry export on the calling task's logical thread. Host calls the
// guest makes suspend that task cooperatively. The task result is the
// entry's return value as an int64 when it declares one, else nil.
func (p *Program) Main() sched.TaskFunc {
	return func(tc *sched.TaskContext) (any, error) {
		st := &instanceState{prog: p, handles: make(map[int64]*sched.Handle)}

		cfg := wazero.NewModuleConfig().
			WithName(fmt.Sprintf("%s.%d", p.name, p.seq.Add(1))).
			WithStartFunctions() // the entry is driven explicitly below

		ctx := hostContext(tc, st)
		inst, err := p.eng.runtime.InstantiateModule(ctx, p.compiled, cfg)
		if err != nil {
			return nil, errors.Load("instantiate program", err)
		}
		st.inst = inst
		defer inst.Close(context.Background())

		fn := inst.ExportedFunction(p.entry)
		if fn == nil {
			return nil, errors.NotFound(errors.PhaseEngine, "entry export", p.entry)
		}

		res, err := fn.Call(ctx)
		if err != nil {
			return nil, errors.New(errors.PhaseEngine, errors.KindTaskFailed).
				Detail("program %q trapped", p.name).
				Cause(err).
				Build()
		}
		if len(res) > 0 {
			return int64(res[0]), nil
		}
		return nil, nil
	}
}

// instanceState is the per-instance view host functions operate on. It
// is touched only by tasks holding the scheduler's logical thread, so
// no locking is needed.
type instanceState struct {
	prog    *Program
	inst    api.Module
	handles map[int64]*sched.Handle
}

type ctxKey int

const (
	taskCtxKey ctxKey = iota
	stateCtxKey
)

// hostContext threads the running task and instance state into guest
// calls so host functions can reach them. It derives from the task's
// context, so cancelling the task cancels in-flight guest execution
// state visible to wazero.
func hostContext(tc *sched.TaskContext, st *instanceState) context.Context {
	ctx := context.WithValue(tc.Context(), taskCtxKey, tc)
	return context.WithValue(ctx, stateCtxKey, st)
}

func taskFrom(ctx context.Context) *sched.TaskContext {
	tc, ok := ctx.Value(taskCtxKey).(*sched.TaskContext)
	if !ok {
		panic(errors.InvalidInput(errors.PhaseEngine, "host call outside a lantern task"))
	}
	return tc
}

func stateFrom(ctx context.Context) *instanceState {
	st, ok := ctx.Value(stateCtxKey).(*instanceState)
	if !ok {
		panic(errors.InvalidInput(errors.PhaseEngine, "host call outside a lantern instance"))
	}
	return st
}
