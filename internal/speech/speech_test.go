package speech

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/ashureev/lingua-labs/internal/shared"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported")
	}
	path := filepath.Join(t.TempDir(), "fake-espeak")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func TestEspeak_Synthesize(t *testing.T) {
	t.Parallel()

	// Echo the arguments so the test can check the voice flags.
	bin := writeScript(t, `printf 'RIFF %s' "$*"`)
	e := NewEspeak(Config{Binary: bin, Capability: Probe(bin)})

	audio, err := e.Synthesize(context.Background(), "привет", "ru")
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	got := string(audio)
	if !strings.HasPrefix(got, "RIFF") {
		t.Fatalf("audio = %q, want RIFF prefix", got)
	}
	for _, want := range []string{"--stdout", "-v ru", "-s 150", "-p 50", "привет"} {
		if !strings.Contains(got, want) {
			t.Errorf("args %q missing %q", got, want)
		}
	}
}

func TestEspeak_FailureReturnsNilAudio(t *testing.T) {
	t.Parallel()

	bin := writeScript(t, `echo boom >&2; exit 1`)
	e := NewEspeak(Config{Binary: bin, Capability: shared.Available})

	audio, err := e.Synthesize(context.Background(), "hello", "en")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("error = %v, want ErrUnavailable", err)
	}
	if audio != nil {
		t.Fatalf("audio = %v, want nil", audio)
	}
}

func TestEspeak_Unavailable(t *testing.T) {
	t.Parallel()

	e := NewEspeak(Config{Binary: "espeak", Capability: shared.Unavailable})
	if e.Available() {
		t.Fatal("Available() = true")
	}
	if _, err := e.Synthesize(context.Background(), "hello", "en"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("error = %v, want ErrUnavailable", err)
	}
}

func TestProbe(t *testing.T) {
	t.Parallel()

	if Probe("").Available() {
		t.Fatal("empty binary should be unavailable")
	}
	if Probe("definitely-not-a-real-binary-lingua").Available() {
		t.Fatal("missing binary should be unavailable")
	}
}

func TestVoiceFor(t *testing.T) {
	t.Parallel()

	if v := VoiceFor("ZH"); v.Speed != 140 || v.Pitch != 45 {
		t.Fatalf("VoiceFor(ZH) = %+v", v)
	}
	if v := VoiceFor("xx"); v.Name != "en" {
		t.Fatalf("VoiceFor(xx) = %+v, want en fallback", v)
	}
	if len(Languages()) != len(voices) {
		t.Fatal("Languages() length mismatch")
	}
}
