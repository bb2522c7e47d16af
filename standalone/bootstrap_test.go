package standalone

import (
	stderrors "errors"
	"testing"

	"github.com/lanternlang/lantern/errors"
	"github.com/lanternlang/lantern/payload"
)

func patchedImage(t *testing.T) []byte {
	t.Helper()
	out, err := payload.Patch([]byte("fake runtime executable"), &payload.Unit{
		Bytecode: []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00},
		Format:   payload.FormatWASM,
		Source:   "main.wasm",
	})
	if err != nil {
		t.Fatalf("Patch: %v", err)
	}
	return out
}

func TestCheckNoPayload(t *testing.T) {
	mode, unit, err := Check(func() ([]byte, error) {
		return []byte("plain executable with no trailer"), nil
	})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if mode != ModeCLI {
		t.Errorf("mode = %v, want ModeCLI", mode)
	}
	if unit != nil {
		t.Errorf("unit = %+v, want nil", unit)
	}
}

func TestCheckEmbedded(t *testing.T) {
	image := patchedImage(t)

	mode, unit, err := Check(func() ([]byte, error) { return image, nil })
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if mode != ModeEmbedded {
		t.Errorf("mode = %v, want ModeEmbedded", mode)
	}
	if unit == nil || unit.Source != "main.wasm" {
		t.Errorf("unit = %+v", unit)
	}
}

func TestCheckCorruptPayload(t *testing.T) {
	image := patchedImage(t)
	// Valid sentinel, wrong checksum.
	image[len(image)-1] ^= 0xff

	mode, unit, err := Check(func() ([]byte, error) { return image, nil })
	if err == nil {
		t.Fatal("expected error for corrupt payload")
	}
	if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseBootstrap, Kind: errors.KindInvalidData}) {
		t.Errorf("error = %v, want bootstrap invalid_data", err)
	}
	// Corruption must never look like a runnable mode.
	if mode == ModeEmbedded {
		t.Error("corrupt payload reported as embedded mode")
	}
	if unit != nil {
		t.Errorf("unit = %+v, want nil", unit)
	}
}

func TestCheckSelfReadFailure(t *testing.T) {
	wantErr := stderrors.New("permission denied")
	_, _, err := Check(func() ([]byte, error) { return nil, wantErr })
	if !stderrors.Is(err, wantErr) {
		t.Fatalf("error = %v, want %v", err, wantErr)
	}
}

func TestModeString(t *testing.T) {
	tests := []struct {
		mode Mode
		want string
	}{
		{ModeCLI, "cli"},
		{ModeEmbedded, "embedded"},
		{Mode(9), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.mode.String(); got != tt.want {
			t.Errorf("Mode(%d).String() = %q, want %q", tt.mode, got, tt.want)
		}
	}
}
