// Package translate reaches machine-translation backends and degrades to
// echoing the input when none of them answers.
package translate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"
)

// ErrUnavailable is returned by a backend that failed or timed out.
var ErrUnavailable = errors.New("translation backend unavailable")

// Request is a translation request. An empty Source means auto-detect.
type Request struct {
	Text   string `json:"text"`
	Source string `json:"source,omitempty"`
	Target string `json:"target"`
}

// Result is a translation outcome.
type Result struct {
	Text       string  `json:"translated_text"`
	Original   string  `json:"original_text"`
	Source     string  `json:"source_language"`
	Target     string  `json:"target_language"`
	Confidence float64 `json:"confidence"`
	Backend    string  `json:"service"`
	Cached     bool    `json:"cached"`
}

// Translator is a single translation backend.
type Translator interface {
	Name() string
	Translate(ctx context.Context, req Request) (Result, error)
}

// Config configures a Service.
type Config struct {
	Backends  []Translator
	Timeout   time.Duration
	CacheSize int
}

// Service tries each backend in order and caches successful results.
type Service struct {
	backends []Translator
	timeout  time.Duration
	cache    *Cache
}

// NewService creates a Service.
func NewService(cfg Config) *Service {
	timeout := cfg.Timeout
	if timeout <= 0 || timeout > 10*time.Second {
		timeout = 10 * time.Second
	}
	return &Service{
		backends: cfg.Backends,
		timeout:  timeout,
		cache:    NewCache(cfg.CacheSize),
	}
}

// Translate returns a translation. It only fails for invalid input; backend
// failures produce the original text with confidence 0.
func (s *Service) Translate(ctx context.Context, req Request) (Result, error) {
	req.Text = strings.TrimSpace(req.Text)
	req.Target = strings.ToLower(strings.TrimSpace(req.Target))
	req.Source = strings.ToLower(strings.TrimSpace(req.Source))
	if req.Text == "" || req.Target == "" {
		return Result{}, errors.New("text and target language are required")
	}
	if req.Source == "" || req.Source == "auto" {
		req.Source = Detect(req.Text)
	}

	if req.Source == req.Target {
		return Result{Text: req.Text, Original: req.Text, Source: req.Source, Target: req.Target, Confidence: 1, Backend: "identity"}, nil
	}

	key := cacheKey(req)
	if r, ok := s.cache.Get(key); ok {
		r.Cached = true
		return r, nil
	}

	for _, b := range s.backends {
		callCtx, cancel := context.WithTimeout(ctx, s.timeout)
		r, err := b.Translate(callCtx, req)
		cancel()
		if err != nil {
			slog.Warn("Translation backend failed", "backend", b.Name(), "error", err)
			continue
		}
		r.Original = req.Text
		r.Backend = b.Name()
		if r.Source == "" {
			r.Source = req.Source
		}
		r.Target = req.Target
		s.cache.Put(key, r)
		return r, nil
	}

	return Result{
		Text:       req.Text,
		Original:   req.Text,
		Source:     req.Source,
		Target:     req.Target,
		Confidence: 0,
		Backend:    "fallback",
	}, nil
}

// CacheLen reports the number of cached translations.
func (s *Service) CacheLen() int {
	return s.cache.Len()
}

// Backends lists backend names in try order.
func (s *Service) Backends() []string {
	out := make([]string, 0, len(s.backends))
	for _, b := range s.backends {
		out = append(out, b.Name())
	}
	return out
}

func cacheKey(req Request) string {
	return fmt.Sprintf("%s|%s|%s", req.Source, req.Target, req.Text)
}

// Detect guesses a language code from the script of text.
func Detect(text string) string {
	counts := map[string]int{}
	for _, r := range text {
		switch {
		case unicode.Is(unicode.Cyrillic, r):
			counts["ru"]++
		case unicode.Is(unicode.Hiragana, r), unicode.Is(unicode.Katakana, r):
			counts["ja"]++
		case unicode.Is(unicode.Han, r):
			counts["zh"]++
		case unicode.Is(unicode.Hangul, r):
			counts["ko"]++
		case unicode.Is(unicode.Arabic, r):
			counts["ar"]++
		case unicode.Is(unicode.Hebrew, r):
			counts["he"]++
		case unicode.Is(unicode.Greek, r):
			counts["el"]++
		case unicode.Is(unicode.Thai, r):
			counts["th"]++
		case unicode.Is(unicode.Devanagari, r):
			counts["hi"]++
		}
	}
	// Kana beats Han so Japanese with kanji is not taken for Chinese.
	if counts["ja"] > 0 {
		return "ja"
	}
	best, bestN := "en", 0
	for _, code := range []string{"ru", "zh", "ko", "ar", "he", "el", "th", "hi"} {
		if counts[code] > bestN {
			best, bestN = code, counts[code]
		}
	}
	return best
}
