package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/lingua-labs/internal/domain"
	"github.com/ashureev/lingua-labs/internal/shared"
	_ "modernc.org/sqlite"
)

const (
	retryAttempts  = 3
	retryBaseDelay = 100 * time.Millisecond
	topLanguages   = 10
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS users (
		user_id TEXT PRIMARY KEY,
		provider TEXT NOT NULL,
		email TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL DEFAULT '',
		avatar_url TEXT NOT NULL DEFAULT '',
		locale TEXT NOT NULL DEFAULT '',
		verified INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		last_login INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		kind TEXT NOT NULL,
		payload TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_events_created ON events(created_at);
	CREATE INDEX IF NOT EXISTS idx_events_kind ON events(kind, id);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// AppendEvent writes an event, retrying while the database is busy.
func (s *SQLiteStore) AppendEvent(ctx context.Context, event *domain.Event) error {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	payload := string(event.Payload)
	if payload == "" {
		payload = "{}"
	}

	return shared.RetryOnConflict(ctx, retryAttempts, retryBaseDelay, func() error {
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO events (kind, payload, created_at) VALUES (?, ?, ?)`,
			event.Kind, payload, event.CreatedAt.UnixMilli(),
		)
		if err != nil {
			return fmt.Errorf("append event: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("event id: %w", err)
		}
		event.ID = id
		return nil
	})
}

// RecentEvents returns up to limit events, newest first.
func (s *SQLiteStore) RecentEvents(ctx context.Context, kind string, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, kind, payload, created_at FROM events`
	args := []any{}
	if kind != "" {
		query += ` WHERE kind = ?`
		args = append(args, kind)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close event rows", "error", closeErr)
		}
	}()

	events := []domain.Event{}
	for rows.Next() {
		var e domain.Event
		var payload string
		var createdAt int64
		if err := rows.Scan(&e.ID, &e.Kind, &payload, &createdAt); err != nil {
			return nil, fmt.Errorf("scan event row: %w", err)
		}
		e.Payload = []byte(payload)
		e.CreatedAt = time.UnixMilli(createdAt)
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

// CleanupEvents deletes events older than retention.
func (s *SQLiteStore) CleanupEvents(ctx context.Context, retention time.Duration) (int64, error) {
	threshold := time.Now().Add(-retention).UnixMilli()
	var removed int64
	err := shared.RetryOnConflict(ctx, retryAttempts, retryBaseDelay, func() error {
		result, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE created_at < ?`, threshold)
		if err != nil {
			return fmt.Errorf("cleanup events: %w", err)
		}
		removed, err = result.RowsAffected()
		return err
	})
	return removed, err
}

// GetUser retrieves a user by their user ID.
func (s *SQLiteStore) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	query := `
		SELECT user_id, provider, email, name, avatar_url, locale, verified,
		       created_at, last_login
		FROM users WHERE user_id = ?`

	var user domain.User
	var verified int
	var createdAt, lastLogin int64
	err := s.db.QueryRowContext(ctx, query, userID).Scan(
		&user.UserID, &user.Provider, &user.Email, &user.Name,
		&user.AvatarURL, &user.Locale, &verified,
		&createdAt, &lastLogin,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user row: %w", err)
	}

	user.Verified = verified != 0
	user.CreatedAt = time.Unix(createdAt, 0)
	user.LastLogin = time.Unix(lastLogin, 0)
	return &user, nil
}

// UpsertUser creates or updates a user record. Empty profile fields keep the
// stored value and verification is never withdrawn.
func (s *SQLiteStore) UpsertUser(ctx context.Context, user *domain.User) error {
	query := `
	INSERT INTO users (user_id, provider, email, name, avatar_url, locale, verified, created_at, last_login)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		email = CASE WHEN excluded.email != '' THEN excluded.email ELSE users.email END,
		name = CASE WHEN excluded.name != '' THEN excluded.name ELSE users.name END,
		avatar_url = CASE WHEN excluded.avatar_url != '' THEN excluded.avatar_url ELSE users.avatar_url END,
		locale = CASE WHEN excluded.locale != '' THEN excluded.locale ELSE users.locale END,
		verified = MAX(users.verified, excluded.verified),
		last_login = excluded.last_login`

	verified := 0
	if user.Verified {
		verified = 1
	}
	now := time.Now()
	createdAt, lastLogin := user.CreatedAt, user.LastLogin
	if createdAt.IsZero() {
		createdAt = now
	}
	if lastLogin.IsZero() {
		lastLogin = now
	}

	return shared.RetryOnConflict(ctx, retryAttempts, retryBaseDelay, func() error {
		_, err := s.db.ExecContext(ctx, query,
			user.UserID, user.Provider, user.Email, user.Name,
			user.AvatarURL, user.Locale, verified,
			createdAt.Unix(), lastLogin.Unix(),
		)
		if err != nil {
			return fmt.Errorf("upsert user: %w", err)
		}
		return nil
	})
}

// Statistics summarizes the event log.
func (s *SQLiteStore) Statistics(ctx context.Context) (*Statistics, error) {
	stats := &Statistics{EventsByKind: map[string]int64{}, TopLanguages: []LanguageCount{}}

	rows, err := s.db.QueryContext(ctx, `SELECT kind, COUNT(*) FROM events GROUP BY kind`)
	if err != nil {
		return nil, fmt.Errorf("count events: %w", err)
	}
	for rows.Next() {
		var kind string
		var n int64
		if err := rows.Scan(&kind, &n); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan event count: %w", err)
		}
		stats.EventsByKind[kind] = n
		stats.TotalEvents += n
	}
	if err := rows.Close(); err != nil {
		return nil, fmt.Errorf("close event counts: %w", err)
	}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&stats.Users); err != nil {
		return nil, fmt.Errorf("count users: %w", err)
	}

	langRows, err := s.db.QueryContext(ctx, `
		SELECT CASE WHEN json_valid(payload) THEN json_extract(payload, '$.language') END AS lang,
		       COUNT(*) AS n
		FROM events
		WHERE lang IS NOT NULL AND lang != ''
		GROUP BY lang
		ORDER BY n DESC, lang ASC
		LIMIT ?`, topLanguages)
	if err != nil {
		return nil, fmt.Errorf("count languages: %w", err)
	}
	defer func() {
		if closeErr := langRows.Close(); closeErr != nil {
			slog.Warn("failed to close language rows", "error", closeErr)
		}
	}()
	for langRows.Next() {
		var lc LanguageCount
		if err := langRows.Scan(&lc.Language, &lc.Count); err != nil {
			return nil, fmt.Errorf("scan language count: %w", err)
		}
		stats.TopLanguages = append(stats.TopLanguages, lc)
	}
	if err := langRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate language counts: %w", err)
	}
	return stats, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}
