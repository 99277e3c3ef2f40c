package domain

import (
	"testing"
	"time"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"":             LevelBeginner,
		"beginner":     LevelBeginner,
		" Advanced ":   LevelAdvanced,
		"INTERMEDIATE": LevelIntermediate,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		if err != nil {
			t.Fatalf("ParseLevel(%q) returned error: %v", in, err)
		}
		if got != want {
			t.Errorf("ParseLevel(%q) = %q, want %q", in, got, want)
		}
	}

	if _, err := ParseLevel("expert"); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestAddProgressNeverDecreases(t *testing.T) {
	s := &Session{}
	s.AddProgress(2)
	s.AddProgress(-5)
	s.AddProgress(0)
	if s.ProgressScore != 2 {
		t.Errorf("expected score 2, got %d", s.ProgressScore)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	s := &Session{UserID: "u"}
	s.Append(Message{Role: RoleUser, Text: "hi"})

	c := s.Clone()
	s.Append(Message{Role: RoleAssistant, Text: "hello"})

	if len(c.Messages) != 1 {
		t.Errorf("clone should keep 1 message, got %d", len(c.Messages))
	}
}

func TestProgressAchievements(t *testing.T) {
	s := &Session{Level: LevelBeginner, ProgressScore: 50}
	s.CoverTopic("a")
	s.CoverTopic("b")
	s.CoverTopic("b")
	s.CoverTopic("c")

	p := s.Progress()
	if !p.CanLevelUp {
		t.Error("expected CanLevelUp at threshold")
	}
	if p.Percentage != 100 {
		t.Errorf("expected 100%%, got %v", p.Percentage)
	}
	if len(p.Achievements) != 4 {
		t.Errorf("expected 4 achievements, got %v", p.Achievements)
	}
}

func TestStatsAt(t *testing.T) {
	created := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	s := &Session{UserID: "u", CreatedAt: created, LastActive: created}
	s.Append(Message{Role: RoleAssistant, Text: "welcome"})
	s.Append(Message{Role: RoleUser, Text: "hi"})
	s.Append(Message{Role: RoleUser, Text: "thanks"})

	stats := s.StatsAt(created.Add(2 * time.Minute))
	if stats.TotalMessages != 3 || stats.UserMessages != 2 {
		t.Errorf("unexpected counts: %+v", stats)
	}
	if stats.MessagesPerMinute != 1 {
		t.Errorf("expected 1 message per minute, got %v", stats.MessagesPerMinute)
	}
}
