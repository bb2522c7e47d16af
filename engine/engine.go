package engine

import (
	"bytes"
	"context"
	"io"
	"os"
	"sync"

	"github.com/tetratelabs/wazero"
	"go.uber.org/zap"

	"github.com/lanternlang/lantern/errors"
	"github.com/lanternlang/lantern/payload"
)

// wasmMagic opens every core wasm binary.
var wasmMagic = []byte{0x00, 0x61, 0x73, 0x6d}

// IsWASM reports whether b begins with the core wasm magic.
func IsWASM(b []byte) bool {
	return len(b) >= len(wasmMagic) && bytes.Equal(b[:len(wasmMagic)], wasmMagic)
}

// Config holds configuration for engine creation.
type Config struct {
	// MemoryLimitPages caps instance memory in 64KB pages.
	// 0 means default (65536 pages = 4GB).
	MemoryLimitPages uint32

	// Stdout receives guest print output. Defaults to os.Stdout.
	Stdout io.Writer
}

// Engine compiles payload units and runs the resulting programs on a
// shared wazero runtime. The host module is installed once at creation
// and serves every program the engine loads.
type Engine struct {
	runtime wazero.Runtime
	stdout  io.Writer

	mu     sync.Mutex
	closed bool
}

// New creates an engine and installs the lantern host module.
func New(ctx context.Context, cfg *Config) (*Engine, error) {
	runtimeCfg := wazero.NewRuntimeConfig()
	stdout := io.Writer(os.Stdout)

	if cfg != nil {
		if cfg.MemoryLimitPages > 0 {
			runtimeCfg = runtimeCfg.WithMemoryLimitPages(cfg.MemoryLimitPages)
		}
		if cfg.Stdout != nil {
			stdout = cfg.Stdout
		}
	}

	rt := wazero.NewRuntimeWithConfig(ctx, runtimeCfg)
	e := &Engine{runtime: rt, stdout: stdout}
	if err := e.instantiateHost(ctx); err != nil {
		_ = rt.Close(ctx)
		return nil, err
	}
	return e, nil
}

// Load compiles the unit's bytecode and binds it to the engine. args
// become the guest-visible argument vector of every instance of the
// returned program.
func (e *Engine) Load(ctx context.Context, unit *payload.Unit, args []string) (*Program, error) {
	if unit == nil {
		return nil, errors.InvalidInput(errors.PhaseEngine, "nil payload unit")
	}
	if err := unit.Validate(); err != nil {
		return nil, err
	}
	if !IsWASM(unit.Bytecode) {
		return nil, errors.InvalidData(errors.PhaseEngine, "bytecode is not a wasm binary", nil)
	}

	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return nil, errors.Closed(errors.PhaseEngine, "engine")
	}

	compiled, err := e.runtime.CompileModule(ctx, unit.Bytecode)
	if err != nil {
		return nil, errors.Load("compile program", err)
	}

	entry := entryExport(compiled)
	if entry == "" {
		_ = compiled.Close(ctx)
		return nil, errors.NotFound(errors.PhaseEngine, "entry export", mainEntry)
	}

	name := unit.Source
	if name == "" {
		name = "program"
	}

	Logger().Debug("program loaded",
		zap.String("source", name),
		zap.String("entry", entry),
		zap.Int("bytecode_bytes", len(unit.Bytecode)),
		zap.Int("files", len(unit.Files)))

	return &Program{
		eng:      e,
		compiled: compiled,
		unit:     unit,
		args:     args,
		name:     name,
		entry:    entry,
	}, nil
}

// Entry export names, probed in order. _start is the conventional
// command entry; main is accepted for toolchains that export it raw.
const (
	mainEntry    = "_start"
	altMainEntry = "main"
)

func entryExport(m wazero.CompiledModule) string {
	exports := m.ExportedFunctions()
	if _, ok := exports[mainEntry]; ok {
		return mainEntry
	}
	if _, ok := exports[altMainEntry]; ok {
		return altMainEntry
	}
	return ""
}

// Close releases every compiled program and the underlying runtime.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	return e.runtime.Close(ctx)
}
