// Package session provides the in-memory registry of learning sessions.
package session

import (
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/lingua-labs/internal/domain"
)

var (
	// ErrNotFound is returned when a user has no session.
	ErrNotFound = errors.New("session not found")
	// ErrInvalidArgument is returned for missing user or language.
	ErrInvalidArgument = errors.New("user id and language are required")
)

// Registry maps user IDs to their learning sessions.
//
// The registry lock only guards the user map. Every read or mutation of a
// user's sessions happens inside that user's own exclusive section, so
// concurrent messages from one user are serialized while different users
// proceed in parallel.
type Registry struct {
	mu    sync.RWMutex
	users map[string]*userSessions
	now   func() time.Time
}

type userSessions struct {
	mu       sync.Mutex
	active   string
	byLang   map[string]*domain.Session
	detached bool
}

// NewRegistry creates an empty registry. A nil clock means time.Now.
func NewRegistry(now func() time.Time) *Registry {
	if now == nil {
		now = time.Now
	}
	return &Registry{
		users: make(map[string]*userSessions),
		now:   now,
	}
}

// lockUser returns the user's entry with its lock held.
func (r *Registry) lockUser(userID string, create bool) (*userSessions, error) {
	for {
		r.mu.RLock()
		e := r.users[userID]
		r.mu.RUnlock()

		if e == nil {
			if !create {
				return nil, ErrNotFound
			}
			r.mu.Lock()
			if e = r.users[userID]; e == nil {
				e = &userSessions{byLang: make(map[string]*domain.Session)}
				r.users[userID] = e
			}
			r.mu.Unlock()
		}

		e.mu.Lock()
		if !e.detached {
			return e, nil
		}
		// Evicted between lookup and lock; drop the stale entry and retry.
		e.mu.Unlock()
		if !create {
			return nil, ErrNotFound
		}
		r.mu.Lock()
		if r.users[userID] == e {
			delete(r.users, userID)
		}
		r.mu.Unlock()
	}
}

// Create starts a session for (userID, language), replacing any existing one
// for that pair, and makes it the user's active session.
func (r *Registry) Create(userID, language string, level domain.Level, initial ...domain.Message) (domain.Session, error) {
	userID = strings.TrimSpace(userID)
	language = strings.TrimSpace(language)
	if userID == "" || language == "" {
		return domain.Session{}, ErrInvalidArgument
	}

	e, err := r.lockUser(userID, true)
	if err != nil {
		return domain.Session{}, err
	}
	defer e.mu.Unlock()

	now := r.now()
	s := &domain.Session{
		UserID:         userID,
		TargetLanguage: language,
		Level:          level,
		CreatedAt:      now,
		LastActive:     now,
	}
	for _, m := range initial {
		s.Append(m)
	}

	if _, exists := e.byLang[language]; exists {
		slog.Info("Replacing learning session", "user_id", userID, "language", language)
	}
	e.byLang[language] = s
	e.active = language
	return s.Clone(), nil
}

// Get returns a copy of the user's active session.
func (r *Registry) Get(userID string) (domain.Session, error) {
	e, err := r.lockUser(userID, false)
	if err != nil {
		return domain.Session{}, err
	}
	defer e.mu.Unlock()

	s, ok := e.byLang[e.active]
	if !ok {
		return domain.Session{}, ErrNotFound
	}
	return s.Clone(), nil
}

// GetLanguage returns a copy of the user's session for one language.
func (r *Registry) GetLanguage(userID, language string) (domain.Session, error) {
	e, err := r.lockUser(userID, false)
	if err != nil {
		return domain.Session{}, err
	}
	defer e.mu.Unlock()

	s, ok := e.byLang[language]
	if !ok {
		return domain.Session{}, ErrNotFound
	}
	return s.Clone(), nil
}

// Touch marks the user's active session as used now.
func (r *Registry) Touch(userID string) error {
	_, err := r.Update(userID, func(*domain.Session) error { return nil })
	return err
}

// Update runs fn on the user's active session inside the user's exclusive
// section and returns the resulting copy. The progress score can never move
// backwards, whatever fn does.
func (r *Registry) Update(userID string, fn func(*domain.Session) error) (domain.Session, error) {
	return r.update(userID, "", fn)
}

// UpdateLanguage is Update pinned to the user's session for language,
// whichever session is active when it runs.
func (r *Registry) UpdateLanguage(userID, language string, fn func(*domain.Session) error) (domain.Session, error) {
	if language == "" {
		return domain.Session{}, ErrNotFound
	}
	return r.update(userID, language, fn)
}

// update mutates the session for language, or the active one when language
// is empty.
func (r *Registry) update(userID, language string, fn func(*domain.Session) error) (domain.Session, error) {
	e, err := r.lockUser(userID, false)
	if err != nil {
		return domain.Session{}, err
	}
	defer e.mu.Unlock()

	if language == "" {
		language = e.active
	}
	s, ok := e.byLang[language]
	if !ok {
		return domain.Session{}, ErrNotFound
	}

	prev := s.ProgressScore
	if err := fn(s); err != nil {
		return domain.Session{}, err
	}
	if s.ProgressScore < prev {
		s.ProgressScore = prev
	}
	s.LastActive = r.now()
	return s.Clone(), nil
}

// EvictIdle removes every session whose last activity is older than
// now-threshold and returns the removed sessions. It never fails.
func (r *Registry) EvictIdle(threshold time.Duration) []domain.Session {
	cutoff := r.now().Add(-threshold)

	r.mu.RLock()
	entries := make(map[string]*userSessions, len(r.users))
	for id, e := range r.users {
		entries[id] = e
	}
	r.mu.RUnlock()

	var evicted []domain.Session
	var emptied []string
	for id, e := range entries {
		e.mu.Lock()
		if e.detached {
			e.mu.Unlock()
			continue
		}
		for lang, s := range e.byLang {
			if s.IdleSince(cutoff) {
				evicted = append(evicted, s.Clone())
				delete(e.byLang, lang)
			}
		}
		if _, ok := e.byLang[e.active]; !ok {
			e.active = mostRecent(e.byLang)
		}
		if len(e.byLang) == 0 {
			e.detached = true
			emptied = append(emptied, id)
		}
		e.mu.Unlock()
	}

	if len(emptied) > 0 {
		r.mu.Lock()
		for _, id := range emptied {
			if e := r.users[id]; e != nil && e == entries[id] {
				delete(r.users, id)
			}
		}
		r.mu.Unlock()
	}

	return evicted
}

func mostRecent(byLang map[string]*domain.Session) string {
	best := ""
	var bestAt time.Time
	for lang, s := range byLang {
		if best == "" || s.LastActive.After(bestAt) {
			best, bestAt = lang, s.LastActive
		}
	}
	return best
}

// Len returns the number of live sessions across all users.
func (r *Registry) Len() int {
	r.mu.RLock()
	entries := make([]*userSessions, 0, len(r.users))
	for _, e := range r.users {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	n := 0
	for _, e := range entries {
		e.mu.Lock()
		if !e.detached {
			n += len(e.byLang)
		}
		e.mu.Unlock()
	}
	return n
}

// Clear drops every session. Intended for teardown.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.users {
		e.mu.Lock()
		e.detached = true
		e.mu.Unlock()
	}
	r.users = make(map[string]*userSessions)
}

// Stats returns activity statistics for the user's active session.
func (r *Registry) Stats(userID string) (domain.Stats, error) {
	s, err := r.Get(userID)
	if err != nil {
		return domain.Stats{}, err
	}
	return s.StatsAt(r.now()), nil
}

// Progress returns level progress for the user's active session.
func (r *Registry) Progress(userID string) (domain.Progress, error) {
	s, err := r.Get(userID)
	if err != nil {
		return domain.Progress{}, err
	}
	return s.Progress(), nil
}
