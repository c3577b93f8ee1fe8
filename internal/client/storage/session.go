package storage

import (
	"context"
	"time"
)

// Session represents the authenticated state of this device
type Session struct {
	ExpiresAt    time.Time `json:"expires_at"` // ExpiresAt срок действия access token
	Username     string    `json:"username"`
	UserID       string    `json:"user_id"`
	DeviceID     string    `json:"device_id"` // DeviceID uuid устройства, генерируется при первом login
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
}

// Expired reports whether the access token is past its expiry
func (s *Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// SessionStorage defines interface for storing session data on client
type SessionStorage interface {
	// SaveSession stores session data, replacing any existing session
	SaveSession(ctx context.Context, session *Session) error

	// GetSession retrieves the stored session
	// Returns ErrSessionNotFound if no session exists
	GetSession(ctx context.Context) (*Session, error)

	// DeleteSession removes the stored session (logout)
	DeleteSession(ctx context.Context) error
}
