// Package responder produces tutor replies for learner messages.
//
// Replies come from an ordered list of keyword rules evaluated first match
// wins: greeting, thanks, help, then a fallback that proposes a new topic.
// When an LLM generator is configured and available it is tried first, and
// any failure silently falls back to the rules.
package responder

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/ashureev/lingua-labs/internal/domain"
	"github.com/ashureev/lingua-labs/internal/shared"
)

// Intent names the rule that produced a reply.
type Intent string

// Reply intents.
const (
	IntentGreeting  Intent = "greeting"
	IntentThanks    Intent = "thanks"
	IntentHelp      Intent = "help"
	IntentFallback  Intent = "fallback"
	IntentGenerated Intent = "generated"
)

const (
	defaultLanguage   = "en"
	maxSuggestions    = 3
	defaultLLMTimeout = 10 * time.Second
)

// Reply is the outcome of one learner turn.
type Reply struct {
	Text          string   `json:"reply"`
	Suggestions   []string `json:"suggestions"`
	ProgressDelta int      `json:"progress_delta"`
	Confidence    float64  `json:"confidence"`
	Intent        Intent   `json:"intent"`
	// Topic is recorded as covered on the session when non-empty.
	Topic     string `json:"-"`
	NextTopic string `json:"next_topic,omitempty"`
}

// Picker chooses one option. Tests inject deterministic pickers.
type Picker interface {
	Pick(options []string) string
}

// Generator produces a reply from a language model.
type Generator interface {
	Generate(ctx context.Context, s domain.Session, text string) (Reply, error)
}

// Config configures an Engine.
type Config struct {
	Picker    Picker
	Generator Generator
	// LLM gates the generator. Unavailable means rules only.
	LLM     shared.Capability
	Timeout time.Duration
}

// Engine evaluates the rule list. It is safe for concurrent use.
type Engine struct {
	picker    Picker
	generator Generator
	timeout   time.Duration
	rules     []rule
}

type rule struct {
	intent   Intent
	keywords []string
	build    func(e *Engine, lang string, level domain.Level) Reply
}

// New creates an Engine. A nil picker uses a PRNG seeded at process start.
func New(cfg Config) *Engine {
	e := &Engine{
		picker:  cfg.Picker,
		timeout: cfg.Timeout,
	}
	if e.picker == nil {
		e.picker = NewRandPicker(uint64(time.Now().UnixNano()))
	}
	if e.timeout <= 0 {
		e.timeout = defaultLLMTimeout
	}
	if cfg.LLM.Available() && cfg.Generator != nil {
		e.generator = cfg.Generator
	}
	e.rules = []rule{
		{intent: IntentGreeting, keywords: greetingWords, build: (*Engine).greetingReply},
		{intent: IntentThanks, keywords: thanksWords, build: (*Engine).thanksReply},
		{intent: IntentHelp, keywords: helpWords, build: (*Engine).helpReply},
	}
	return e
}

// Respond returns the reply for text in the context of s. It never fails.
func (e *Engine) Respond(ctx context.Context, s domain.Session, text string) Reply {
	if e.generator != nil {
		genCtx, cancel := context.WithTimeout(ctx, e.timeout)
		reply, err := e.generator.Generate(genCtx, s, text)
		cancel()
		if err == nil && strings.TrimSpace(reply.Text) != "" {
			return reply
		}
		slog.Warn("Generator unavailable, using rules", "user_id", s.UserID, "error", err)
	}
	return e.Match(s, text)
}

// Match evaluates the keyword rules only.
func (e *Engine) Match(s domain.Session, text string) Reply {
	lang := s.TargetLanguage
	if _, ok := lessons[lang]; !ok {
		lang = defaultLanguage
	}

	// Caser instances are stateful, so one per call.
	lowered := cases.Lower(language.Und).String(text)
	for _, r := range e.rules {
		if containsAny(lowered, r.keywords) {
			return r.build(e, lang, s.Level)
		}
	}
	return e.fallbackReply(lang, s.Level)
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

func (e *Engine) greetingReply(lang string, _ domain.Level) Reply {
	return Reply{
		Text:          greetingReplies[lang],
		Suggestions:   append([]string{}, lessons[lang].Basics...),
		ProgressDelta: 1,
		Confidence:    0.8,
		Intent:        IntentGreeting,
		Topic:         "greetings",
	}
}

func (e *Engine) thanksReply(lang string, _ domain.Level) Reply {
	return Reply{
		Text:          thanksReplies[lang],
		Suggestions:   append([]string{}, lessons[lang].Phrases...),
		ProgressDelta: 1,
		Confidence:    0.8,
		Intent:        IntentThanks,
		Topic:         "politeness",
	}
}

func (e *Engine) helpReply(lang string, _ domain.Level) Reply {
	return Reply{
		Text:          helpReplies[lang],
		Suggestions:   []string{},
		ProgressDelta: 0,
		Confidence:    1.0,
		Intent:        IntentHelp,
	}
}

func (e *Engine) fallbackReply(lang string, level domain.Level) Reply {
	options, ok := starters[level]
	if !ok {
		options = starters[domain.LevelBeginner]
	}
	starter := e.picker.Pick(options)

	return Reply{
		Text:          fmt.Sprintf(fallbackReplies[lang], starter),
		Suggestions:   sample(e.picker, lessons[lang].all(), maxSuggestions),
		ProgressDelta: 1,
		Confidence:    0.6,
		Intent:        IntentFallback,
		Topic:         "conversation",
		NextTopic:     starter,
	}
}

// sample draws up to n distinct options by repeated picks.
func sample(p Picker, options []string, n int) []string {
	remaining := append([]string{}, options...)
	out := make([]string, 0, n)
	for len(out) < n && len(remaining) > 0 {
		choice := p.Pick(remaining)
		idx := -1
		for i, o := range remaining {
			if o == choice {
				idx = i
				break
			}
		}
		if idx < 0 {
			break
		}
		out = append(out, choice)
		remaining = append(remaining[:idx], remaining[idx+1:]...)
	}
	return out
}

// RandPicker picks uniformly with a non-cryptographic PRNG.
type RandPicker struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandPicker returns a picker seeded with seed.
func NewRandPicker(seed uint64) *RandPicker {
	return &RandPicker{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// Pick returns a random element, or "" for an empty slice.
func (p *RandPicker) Pick(options []string) string {
	if len(options) == 0 {
		return ""
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return options[p.rng.IntN(len(options))]
}
