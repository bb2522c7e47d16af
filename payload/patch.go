package payload

import (
	"github.com/lanternlang/lantern/errors"
)

// MaxImageSize bounds the reference executable image the patcher will
// accept. Larger images exceed the trailer offset scheme.
const MaxImageSize = uint64(1) << 40

// Patch produces a standalone executable image: ref with exactly one
// encoded payload block appended. The reference image bytes are never
// mutated and appear unmodified as a prefix of the output, so the result
// stays a valid binary for the host platform.
//
// A reference image that already carries a payload is rejected rather
// than silently stacking payloads; a reference image with a corrupt
// payload is rejected for the same reason.
func Patch(ref []byte, u *Unit) ([]byte, error) {
	if uint64(len(ref)) > MaxImageSize {
		return nil, errors.TooLarge(errors.PhasePatch, "reference image", uint64(len(ref)))
	}

	existing, err := Scan(ref)
	if err != nil {
		return nil, errors.InvalidData(errors.PhasePatch, "reference image has an unreadable payload", err)
	}
	if existing != nil {
		return nil, errors.AlreadyPatched(existing.Source)
	}

	block, err := Encode(u)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, len(ref)+len(block))
	out = append(out, ref...)
	out = append(out, block...)
	return out, nil
}
