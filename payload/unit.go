package payload

import (
	"github.com/lanternlang/lantern/errors"
)

// Bytecode format tags. A Unit's Format must be a member of this set;
// unknown formats are rejected on decode, never guessed.
const (
	// FormatWASM identifies a compiled WebAssembly module.
	FormatWASM uint32 = 1
)

// SupportedFormat reports whether format is a bytecode format this build
// of the runtime can execute.
func SupportedFormat(format uint32) bool {
	return format == FormatWASM
}

// Unit is a compiled-program artifact: an opaque bytecode sequence plus
// the metadata needed to load it. Units are immutable once constructed;
// callers must not mutate Bytecode or Files after handing a Unit to the
// codec or patcher.
type Unit struct {
	// Bytecode is the compiled program, opaque to the packaging layer.
	Bytecode []byte

	// Files holds extra files embedded alongside the program, keyed by
	// their bundle-relative path.
	Files map[string][]byte

	// Source is a diagnostic label (typically the input file name).
	// It never affects execution.
	Source string

	// Format tags the bytecode format. See SupportedFormat.
	Format uint32
}

// Validate checks the unit's internal invariants.
func (u *Unit) Validate() error {
	if u == nil {
		return errors.InvalidInput(errors.PhasePayload, "nil unit")
	}
	if !SupportedFormat(u.Format) {
		return errors.UnsupportedFormat(errors.PhasePayload, u.Format)
	}
	if len(u.Bytecode) == 0 {
		return errors.InvalidInput(errors.PhasePayload, "unit has no bytecode")
	}
	return nil
}
