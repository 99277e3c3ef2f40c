// Package speech renders text to WAV audio through an espeak-compatible
// binary.
package speech

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ashureev/lingua-labs/internal/shared"
)

// ErrUnavailable is returned when no synthesizer binary can be used.
var ErrUnavailable = errors.New("speech synthesis unavailable")

// maxTextLen bounds the text handed to the subprocess.
const maxTextLen = 1000

// Synthesizer turns text into audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, language string) ([]byte, error)
}

// Voice describes espeak parameters for one language.
type Voice struct {
	Name  string `json:"voice"`
	Speed int    `json:"speed"`
	Pitch int    `json:"pitch"`
}

var voices = map[string]Voice{
	"ru": {"ru", 150, 50}, "en": {"en", 150, 50}, "es": {"es", 150, 50},
	"fr": {"fr", 150, 50}, "de": {"de", 150, 50}, "it": {"it", 150, 50},
	"pt": {"pt", 150, 50}, "pl": {"pl", 150, 50}, "nl": {"nl", 150, 50},
	"sv": {"sv", 150, 50}, "no": {"no", 150, 50}, "da": {"da", 150, 50},
	"fi": {"fi", 150, 50}, "cs": {"cs", 150, 50}, "hu": {"hu", 150, 50},
	"tr": {"tr", 150, 50}, "zh": {"zh", 140, 45}, "ja": {"ja", 140, 45},
	"ko": {"ko", 145, 50}, "ar": {"ar", 140, 50}, "hi": {"hi", 145, 50},
}

// Languages returns the supported language codes, sorted.
func Languages() []string {
	out := make([]string, 0, len(voices))
	for code := range voices {
		out = append(out, code)
	}
	sort.Strings(out)
	return out
}

// VoiceFor returns the voice for a language, defaulting to English.
func VoiceFor(language string) Voice {
	if v, ok := voices[strings.ToLower(language)]; ok {
		return v
	}
	return voices["en"]
}

// Probe reports whether binary can be found on PATH.
func Probe(binary string) shared.Capability {
	if binary == "" {
		return shared.Unavailable
	}
	_, err := exec.LookPath(binary)
	return shared.CapabilityOf(err == nil)
}

// Config configures an Espeak synthesizer.
type Config struct {
	Binary     string
	Capability shared.Capability
	Timeout    time.Duration
}

// Espeak runs espeak with --stdout and returns the WAV bytes.
type Espeak struct {
	binary  string
	cap     shared.Capability
	timeout time.Duration
}

// NewEspeak creates an Espeak synthesizer.
func NewEspeak(cfg Config) *Espeak {
	timeout := cfg.Timeout
	if timeout <= 0 || timeout > 10*time.Second {
		timeout = 10 * time.Second
	}
	return &Espeak{binary: cfg.Binary, cap: cfg.Capability, timeout: timeout}
}

// Available reports whether synthesis can be attempted.
func (e *Espeak) Available() bool {
	return e.cap.Available()
}

// Synthesize implements Synthesizer. Failures return nil audio and an error
// wrapping ErrUnavailable.
func (e *Espeak) Synthesize(ctx context.Context, text, language string) ([]byte, error) {
	if !e.cap.Available() {
		return nil, ErrUnavailable
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("text is required")
	}
	if len(text) > maxTextLen {
		text = text[:maxTextLen]
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	v := VoiceFor(language)
	cmd := exec.CommandContext(ctx, e.binary,
		"--stdout",
		"-v", v.Name,
		"-s", strconv.Itoa(v.Speed),
		"-p", strconv.Itoa(v.Pitch),
		"--", text,
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		slog.Warn("Speech synthesis failed", "language", language, "error", err, "stderr", strings.TrimSpace(stderr.String()))
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if stdout.Len() == 0 {
		return nil, fmt.Errorf("%w: empty output", ErrUnavailable)
	}
	return stdout.Bytes(), nil
}
