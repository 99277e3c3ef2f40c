// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/ashureev/lingua-labs/internal/domain"
)

// Repository defines the interface for persisting users and the event log.
type Repository interface {
	// AppendEvent writes an event and sets its ID.
	AppendEvent(ctx context.Context, event *domain.Event) error

	// RecentEvents returns the newest events first. An empty kind matches all.
	RecentEvents(ctx context.Context, kind string, limit int) ([]domain.Event, error)

	// CleanupEvents deletes events older than retention.
	CleanupEvents(ctx context.Context, retention time.Duration) (int64, error)

	// GetUser retrieves a user by ID. It returns nil, nil when absent.
	GetUser(ctx context.Context, userID string) (*domain.User, error)

	// UpsertUser creates a user or merges a fresh login into the stored one.
	UpsertUser(ctx context.Context, user *domain.User) error

	// Statistics summarizes stored data.
	Statistics(ctx context.Context) (*Statistics, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}

// Statistics is an aggregate view of the event log.
type Statistics struct {
	TotalEvents  int64            `json:"total_events"`
	EventsByKind map[string]int64 `json:"events_by_kind"`
	Users        int64            `json:"users"`
	TopLanguages []LanguageCount  `json:"top_languages"`
}

// LanguageCount is a language with the number of events mentioning it.
type LanguageCount struct {
	Language string `json:"language"`
	Count    int64  `json:"count"`
}
