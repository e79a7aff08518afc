package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"

	"catalogo-backend/internal/database"
	"catalogo-backend/internal/models"
)

// CSRFManager issues, validates, and rotates the per-session anti-forgery
// token. The token lives on the server-side session record; clients echo it
// back in the X-CSRF-Token header on mutating requests.
type CSRFManager struct {
	sessions *database.SessionRepo
}

// NewCSRFManager creates a new CSRF manager
func NewCSRFManager(sessions *database.SessionRepo) *CSRFManager {
	return &CSRFManager{sessions: sessions}
}

// Issue generates a fresh anti-forgery token
func (m *CSRFManager) Issue() (string, error) {
	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return hex.EncodeToString(raw), nil
}

// Validate compares the session-bound token with the supplied one in
// constant time.
func (m *CSRFManager) Validate(sessionToken, suppliedToken string) bool {
	if sessionToken == "" || suppliedToken == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(sessionToken), []byte(suppliedToken)) == 1
}

// Rotate replaces the session's token and persists it. Rotating on the
// login transition closes the window where a pre-auth token leaked to an
// attacker could be replayed post-auth.
func (m *CSRFManager) Rotate(session *models.Session) (string, error) {
	token, err := m.Issue()
	if err != nil {
		return "", err
	}
	if err := m.sessions.SetCSRF(session.ID, token); err != nil {
		return "", err
	}
	session.CSRFToken = token
	return token, nil
}
