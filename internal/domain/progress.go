package domain

import (
	"math"
	"time"
)

var levelThresholds = map[Level]int{
	LevelBeginner:     50,
	LevelIntermediate: 100,
	LevelAdvanced:     200,
}

// Stats summarizes a session's activity.
type Stats struct {
	UserID            string   `json:"user_id"`
	TargetLanguage    string   `json:"target_language"`
	Level             Level    `json:"level"`
	ProgressScore     int      `json:"progress_score"`
	TotalMessages     int      `json:"total_messages"`
	UserMessages      int      `json:"user_messages"`
	DurationMinutes   float64  `json:"session_duration_minutes"`
	MessagesPerMinute float64  `json:"messages_per_minute"`
	TopicsCovered     []string `json:"topics_covered"`
	LastActive        int64    `json:"last_activity"`
}

// Progress describes how far a learner is towards the next level.
type Progress struct {
	Level           Level    `json:"current_level"`
	ProgressScore   int      `json:"progress_score"`
	Percentage      float64  `json:"progress_percentage"`
	NextThreshold   int      `json:"next_level_threshold"`
	CanLevelUp      bool     `json:"can_level_up"`
	Achievements    []string `json:"achievements"`
	Recommendations []string `json:"recommendations"`
}

// StatsAt computes session statistics relative to now.
func (s *Session) StatsAt(now time.Time) Stats {
	duration := now.Sub(s.CreatedAt)
	userMessages := s.UserMessageCount()

	perMinute := 0.0
	if duration > time.Minute {
		perMinute = round(float64(userMessages)/duration.Minutes(), 2)
	}

	return Stats{
		UserID:            s.UserID,
		TargetLanguage:    s.TargetLanguage,
		Level:             s.Level,
		ProgressScore:     s.ProgressScore,
		TotalMessages:     len(s.Messages),
		UserMessages:      userMessages,
		DurationMinutes:   round(duration.Minutes(), 1),
		MessagesPerMinute: perMinute,
		TopicsCovered:     append([]string{}, s.TopicsCovered...),
		LastActive:        s.LastActive.Unix(),
	}
}

// Progress computes level progress, achievements and recommendations.
func (s *Session) Progress() Progress {
	threshold, ok := levelThresholds[s.Level]
	if !ok {
		threshold = levelThresholds[LevelBeginner]
	}
	pct := math.Min(100, float64(s.ProgressScore)/float64(threshold)*100)

	return Progress{
		Level:           s.Level,
		ProgressScore:   s.ProgressScore,
		Percentage:      round(pct, 1),
		NextThreshold:   threshold,
		CanLevelUp:      s.ProgressScore >= threshold,
		Achievements:    s.achievements(),
		Recommendations: s.recommendations(),
	}
}

func (s *Session) achievements() []string {
	out := []string{}
	if s.ProgressScore >= 10 {
		out = append(out, "First steps: 10 points")
	}
	if s.ProgressScore >= 25 {
		out = append(out, "Warming up: 25 points")
	}
	if s.ProgressScore >= 50 {
		out = append(out, "Confident start: 50 points")
	}
	if len(s.Messages) >= 20 {
		out = append(out, "Chatterbox: 20 messages")
	}
	if len(s.TopicsCovered) >= 3 {
		out = append(out, "Explorer: 3 topics")
	}
	return out
}

func (s *Session) recommendations() []string {
	var out []string
	switch {
	case s.ProgressScore < 20:
		out = append(out, "Try more simple phrases to begin with")
	case s.ProgressScore < 50:
		out = append(out, "Great! Move on to more complex expressions")
	default:
		out = append(out, "You are making great progress! Try discussing topics")
	}
	if len(s.Messages) < 10 {
		out = append(out, "Practice more often: regularity matters")
	}
	return out
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
