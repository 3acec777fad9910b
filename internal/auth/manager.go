// Package auth owns the locally persisted credentials: the backend
// bearer token, the signed-in user id, and the cached profile blob used
// for offline autofill.
package auth

import (
	"encoding/json"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sahasi-app/sahasi/internal/store"
	"go.uber.org/zap"
)

const (
	keyAuthToken = "auth_token"
	keyUserID    = "user_id"
	keyProfile   = "profile"
)

// Manager reads and writes credentials in the local store. It
// implements api.TokenSource.
type Manager struct {
	db     *store.DB
	logger *zap.Logger
}

// NewManager creates a credential manager over the local store.
func NewManager(db *store.DB, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{db: db, logger: logger}
}

// SetToken persists the bearer token.
func (m *Manager) SetToken(token string) error {
	return m.db.SetCredential(keyAuthToken, token)
}

// Token returns the stored bearer token, empty when signed out.
func (m *Manager) Token() (string, error) {
	return m.db.Credential(keyAuthToken)
}

// SignedIn reports whether a token is stored.
func (m *Manager) SignedIn() bool {
	token, err := m.Token()
	return err == nil && token != ""
}

// TokenExpired inspects the stored token's exp claim without verifying
// the signature (the server remains the authority; this only lets the
// client prompt for re-login before a request bounces). Tokens without
// an exp claim, or that are not JWTs, are treated as unexpired.
func (m *Manager) TokenExpired() bool {
	token, err := m.Token()
	if err != nil || token == "" {
		return false
	}
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return false
	}
	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return exp.Before(time.Now())
}

// SetUserID records the signed-in user's id.
func (m *Manager) SetUserID(id string) error {
	return m.db.SetCredential(keyUserID, id)
}

// UserID returns the signed-in user's id, empty when unknown.
func (m *Manager) UserID() string {
	id, err := m.db.Credential(keyUserID)
	if err != nil {
		m.logger.Warn("read user id", zap.Error(err))
		return ""
	}
	return id
}

// CacheProfile stores the raw profile blob for offline autofill.
func (m *Manager) CacheProfile(raw json.RawMessage) error {
	return m.db.SetCredential(keyProfile, string(raw))
}

// CachedProfile returns the last stored profile blob, nil when absent.
func (m *Manager) CachedProfile() json.RawMessage {
	raw, err := m.db.Credential(keyProfile)
	if err != nil || raw == "" {
		return nil
	}
	return json.RawMessage(raw)
}

// Clear removes all stored credentials (sign-out).
func (m *Manager) Clear() error {
	for _, key := range []string{keyAuthToken, keyUserID, keyProfile} {
		if err := m.db.DeleteCredential(key); err != nil {
			return err
		}
	}
	return nil
}
