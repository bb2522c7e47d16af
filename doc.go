// Package lantern is a standalone embeddable script runtime.
//
// Lantern executes programs compiled to WebAssembly, drives their
// asynchronous primitives (timers, async operations, child tasks) through
// a cooperative task scheduler, and can package a compiled program
// together with the runtime's own executable into a single self-contained
// binary that needs no interpreter install at distribution time.
//
// # Architecture Overview
//
// The library is organized into several packages with distinct
// responsibilities:
//
//	lantern/             Root package with version information
//	├── payload/         Payload trailer codec and binary patching
//	├── standalone/      Startup self-inspection and mode decision
//	├── reactor/         Timer and completion-event multiplexer
//	├── sched/           Cooperative task scheduler
//	├── engine/          wazero-backed program execution engine
//	├── runtime/         High-level orchestration and exit status mapping
//	├── errors/          Structured error types
//	└── config/          lantern.toml project configuration
//
// # Standalone Binaries
//
// A standalone binary is an ordinary lantern executable with a payload
// block appended at the tail:
//
//	[executable bytes][magic][version][length][body][checksum]
//
// At process start the binary inspects its own image. If a valid payload
// is present it runs the embedded program directly instead of exposing
// the command-line interface; a present-but-corrupt payload aborts with a
// distinct exit status rather than silently falling back to CLI mode.
//
// # Quick Start
//
// Run an already-compiled program:
//
//	rt, err := runtime.New(ctx, runtime.Config{})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer rt.Close(ctx)
//
//	status, err := rt.Run(ctx, unit)
//	os.Exit(status.Code())
//
// Build a standalone binary:
//
//	out, err := payload.Patch(selfImage, unit)
//
// # Concurrency Model
//
// Program-level concurrency is cooperative: exactly one task executes
// program logic at any time, and tasks suspend only at explicit points
// (sleeping, awaiting an async operation, awaiting a child task). The
// reactor may complete operations on helper goroutines, but every event
// is funneled back through one serialization point before it touches
// scheduler state.
package lantern
