package domain

import (
	"fmt"
	"strings"
	"time"
)

// Level is a learner's proficiency level.
type Level string

// Proficiency levels.
const (
	LevelBeginner     Level = "beginner"
	LevelIntermediate Level = "intermediate"
	LevelAdvanced     Level = "advanced"
)

// ParseLevel validates a level string. An empty value means beginner.
func ParseLevel(s string) (Level, error) {
	switch Level(strings.ToLower(strings.TrimSpace(s))) {
	case "", LevelBeginner:
		return LevelBeginner, nil
	case LevelIntermediate:
		return LevelIntermediate, nil
	case LevelAdvanced:
		return LevelAdvanced, nil
	}
	return "", fmt.Errorf("unknown proficiency level %q", s)
}

// Role identifies the author of a message.
type Role string

// Message roles.
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single chat turn. Messages are never modified after append.
type Message struct {
	Role       Role      `json:"role"`
	Text       string    `json:"text"`
	Timestamp  time.Time `json:"timestamp"`
	Language   string    `json:"language,omitempty"`
	Confidence *float64  `json:"confidence,omitempty"`
}

// Session holds learning state for one user and target language.
type Session struct {
	UserID         string    `json:"user_id"`
	TargetLanguage string    `json:"target_language"`
	Level          Level     `json:"level"`
	Messages       []Message `json:"messages"`
	ProgressScore  int       `json:"progress_score"`
	TopicsCovered  []string  `json:"topics_covered,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	LastActive     time.Time `json:"last_active"`
}

// Append adds a message to the log.
func (s *Session) Append(msg Message) {
	s.Messages = append(s.Messages, msg)
}

// AddProgress increases the score. Negative deltas are ignored so the score
// never decreases.
func (s *Session) AddProgress(delta int) {
	if delta > 0 {
		s.ProgressScore += delta
	}
}

// CoverTopic records a topic once.
func (s *Session) CoverTopic(topic string) {
	if topic == "" {
		return
	}
	for _, t := range s.TopicsCovered {
		if t == topic {
			return
		}
	}
	s.TopicsCovered = append(s.TopicsCovered, topic)
}

// UserMessageCount returns the number of messages authored by the learner.
func (s *Session) UserMessageCount() int {
	n := 0
	for _, m := range s.Messages {
		if m.Role == RoleUser {
			n++
		}
	}
	return n
}

// Clone returns a deep copy safe to hand out of the registry.
func (s *Session) Clone() Session {
	c := *s
	c.Messages = append([]Message(nil), s.Messages...)
	c.TopicsCovered = append([]string(nil), s.TopicsCovered...)
	return c
}

// IdleSince reports whether the session has been inactive since before cutoff.
func (s *Session) IdleSince(cutoff time.Time) bool {
	return s.LastActive.Before(cutoff)
}
