package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lanternlang/lantern/payload"
)

func TestRenderUnit(t *testing.T) {
	unit := &payload.Unit{
		Bytecode: []byte{0x00, 0x61, 0x73, 0x6d},
		Files: map[string][]byte{
			"assets/b.txt": []byte("bb"),
			"assets/a.txt": []byte("a"),
		},
		Source: "app.wasm",
		Format: payload.FormatWASM,
	}

	report := renderUnit("app", 1234, unit)

	for _, want := range []string{
		"Payload of app (1234 bytes on disk)",
		"source:   app.wasm",
		"format:   wasm",
		"bytecode: 4 bytes",
		"files:    2 embedded",
		"assets/a.txt (1 bytes)",
		"assets/b.txt (2 bytes)",
	} {
		if !strings.Contains(report, want) {
			t.Errorf("report missing %q:\n%s", want, report)
		}
	}

	// Embedded files are listed sorted by name.
	if strings.Index(report, "a.txt") > strings.Index(report, "b.txt") {
		t.Error("files not sorted by name")
	}
}

func TestRenderUnitNoFiles(t *testing.T) {
	unit := &payload.Unit{Bytecode: []byte{1}, Source: "x", Format: payload.FormatWASM}
	if report := renderUnit("x", 1, unit); !strings.Contains(report, "files:    none") {
		t.Errorf("report = %q, want files: none", report)
	}
}

func TestFormatName(t *testing.T) {
	if got := formatName(payload.FormatWASM); got != "wasm" {
		t.Errorf("formatName(wasm) = %q", got)
	}
	if got := formatName(42); got != "unknown (42)" {
		t.Errorf("formatName(42) = %q", got)
	}
}

func TestCollectEmbeds(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "assets")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(sub, "a.txt"), []byte("aaa"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "top.bin"), []byte{1, 2}, 0o644); err != nil {
		t.Fatal(err)
	}

	files, err := collectEmbeds([]string{sub, filepath.Join(dir, "top.bin"), filepath.Join(dir, "missing")})
	if err != nil {
		t.Fatalf("collectEmbeds: %v", err)
	}

	if len(files) != 2 {
		t.Fatalf("collected %d files, want 2", len(files))
	}
	if got := files[filepath.ToSlash(filepath.Join(sub, "a.txt"))]; string(got) != "aaa" {
		t.Errorf("dir walk content = %q, want aaa", got)
	}
	if got := files[filepath.ToSlash(filepath.Join(dir, "top.bin"))]; len(got) != 2 {
		t.Errorf("file content = %v, want 2 bytes", got)
	}
}

func TestCollectEmbedsEmpty(t *testing.T) {
	files, err := collectEmbeds(nil)
	if err != nil {
		t.Fatalf("collectEmbeds: %v", err)
	}
	if files != nil {
		t.Errorf("files = %v, want nil", files)
	}
}
