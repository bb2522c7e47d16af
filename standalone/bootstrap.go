package standalone

import (
	"os"

	"github.com/lanternlang/lantern/errors"
	"github.com/lanternlang/lantern/payload"
)

// Mode is the startup decision: run an embedded program or defer to the
// normal command-line front end.
type Mode int

const (
	// ModeCLI means the running executable carries no payload and normal
	// command-line dispatch should proceed.
	ModeCLI Mode = iota

	// ModeEmbedded means the running executable carries a valid payload
	// and the embedded program should run instead of the CLI.
	ModeEmbedded
)

func (m Mode) String() string {
	switch m {
	case ModeCLI:
		return "cli"
	case ModeEmbedded:
		return "embedded"
	default:
		return "unknown"
	}
}

// SelfReader returns the bytes of the currently running executable image.
// How to obtain them is platform-dependent; the default implementation
// resolves os.Executable and reads the file once.
type SelfReader func() ([]byte, error)

// ReadSelfImage is the default SelfReader.
func ReadSelfImage() ([]byte, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, errors.IOFailure(errors.PhaseBootstrap, "resolve own executable path", err)
	}
	data, err := os.ReadFile(exe)
	if err != nil {
		return nil, errors.IOFailure(errors.PhaseBootstrap, "read own executable image", err)
	}
	return data, nil
}

// Check inspects the running executable once at process start and
// decides the startup mode.
//
// No payload yields (ModeCLI, nil, nil). A valid payload yields
// (ModeEmbedded, unit, nil). A payload that is present but corrupt
// yields a non-nil error; the caller must abort with a bootstrap
// diagnostic and must never fall back to CLI mode, since that could
// mask a truncated or corrupted distribution artifact.
func Check(read SelfReader) (Mode, *payload.Unit, error) {
	if read == nil {
		read = ReadSelfImage
	}

	image, err := read()
	if err != nil {
		// Unable to read our own image at all: treat as a bootstrap
		// failure rather than guessing a mode.
		return ModeCLI, nil, err
	}

	unit, err := payload.Scan(image)
	if err != nil {
		return ModeCLI, nil, errors.InvalidData(errors.PhaseBootstrap, "embedded payload failed validation", err)
	}
	if unit == nil {
		return ModeCLI, nil, nil
	}
	return ModeEmbedded, unit, nil
}
