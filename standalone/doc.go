// Package standalone implements the startup decision for self-contained
// binaries.
//
// At process start, Check reads the running executable's own bytes once
// and scans them for an appended payload block. Three terminal outcomes
// exist: no payload (normal CLI dispatch), a valid payload (run the
// embedded program), or a corrupt payload (fatal bootstrap error,
// reported before any program logic runs). Corruption never falls back
// to CLI mode.
package standalone
