// Package domain contains core domain types for the lingua-labs service.
package domain

import (
	"time"
)

// User is an identity-provider profile persisted after a successful login.
type User struct {
	UserID    string    `json:"user_id"`
	Provider  string    `json:"provider"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	AvatarURL string    `json:"avatar_url,omitempty"`
	Locale    string    `json:"locale,omitempty"`
	Verified  bool      `json:"verified"`
	CreatedAt time.Time `json:"created_at"`
	LastLogin time.Time `json:"last_login"`
}

// DisplayName returns the best human-readable label for the user.
func (u *User) DisplayName() string {
	if u.Name != "" {
		return u.Name
	}
	if u.Email != "" {
		return u.Email
	}
	return u.UserID
}
