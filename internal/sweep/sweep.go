// Package sweep runs the periodic cleanup worker.
package sweep

import (
	"context"
	"log/slog"
	"time"

	"github.com/ashureev/lingua-labs/internal/domain"
)

// SessionEvictor evicts idle learning sessions.
type SessionEvictor interface {
	EvictIdle(threshold time.Duration) []domain.Session
}

// TokenCleaner drops expired or revoked server sessions.
type TokenCleaner interface {
	CleanupExpired() int
}

// ConnectionSweeper disconnects inactive realtime connections.
type ConnectionSweeper interface {
	SweepInactive(ctx context.Context, threshold time.Duration) int
}

// StateCleaner drops expired OAuth states.
type StateCleaner interface {
	CleanupPending() int
}

// EventCleaner deletes event log rows past retention.
type EventCleaner interface {
	CleanupEvents(ctx context.Context, retention time.Duration) (int64, error)
}

// BucketEvictor drops idle rate-limit buckets.
type BucketEvictor interface {
	Evict() int
}

// EvictCallback is called for every evicted session.
type EvictCallback func(s domain.Session)

// Config wires the worker to its targets. Nil targets are skipped.
type Config struct {
	Interval          time.Duration
	SessionIdleTTL    time.Duration
	ConnectionIdleTTL time.Duration
	EventRetention    time.Duration

	Sessions    SessionEvictor
	Tokens      TokenCleaner
	Connections ConnectionSweeper
	OAuth       StateCleaner
	Events      EventCleaner
	RateLimits  BucketEvictor
	OnEvict     EvictCallback
}

// Report counts what one pass removed.
type Report struct {
	Sessions    int   `json:"sessions"`
	Tokens      int   `json:"tokens"`
	Connections int   `json:"connections"`
	States      int   `json:"oauth_states"`
	Events      int64 `json:"events"`
	Buckets     int   `json:"rate_limit_buckets"`
}

// Start runs a background goroutine that sweeps every cfg.Interval until ctx
// is cancelled.
func Start(ctx context.Context, cfg Config) {
	interval := cfg.Interval
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("Sweep worker started", "interval", interval, "session_ttl", cfg.SessionIdleTTL)

		for {
			select {
			case <-ticker.C:
				RunOnce(ctx, cfg)
			case <-ctx.Done():
				slog.Info("Sweep worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

// RunOnce performs a single sweep. It never fails; errors are logged.
func RunOnce(ctx context.Context, cfg Config) Report {
	var rep Report

	if cfg.Sessions != nil && cfg.SessionIdleTTL > 0 {
		evicted := cfg.Sessions.EvictIdle(cfg.SessionIdleTTL)
		rep.Sessions = len(evicted)
		for _, s := range evicted {
			slog.Debug("Sweep evicted session", "user_id", s.UserID, "language", s.TargetLanguage)
			if cfg.OnEvict != nil {
				cfg.OnEvict(s)
			}
		}
	}

	if cfg.Tokens != nil {
		rep.Tokens = cfg.Tokens.CleanupExpired()
	}

	if cfg.Connections != nil && cfg.ConnectionIdleTTL > 0 {
		rep.Connections = cfg.Connections.SweepInactive(ctx, cfg.ConnectionIdleTTL)
	}

	if cfg.OAuth != nil {
		rep.States = cfg.OAuth.CleanupPending()
	}

	if cfg.Events != nil && cfg.EventRetention > 0 {
		deleted, err := cfg.Events.CleanupEvents(ctx, cfg.EventRetention)
		if err != nil {
			slog.Error("Sweep failed to clean up events", "error", err)
		}
		rep.Events = deleted
	}

	if cfg.RateLimits != nil {
		rep.Buckets = cfg.RateLimits.Evict()
	}

	if rep != (Report{}) {
		slog.Info("Sweep completed",
			"sessions", rep.Sessions,
			"tokens", rep.Tokens,
			"connections", rep.Connections,
			"oauth_states", rep.States,
			"events", rep.Events,
			"rate_limit_buckets", rep.Buckets)
	}
	return rep
}
