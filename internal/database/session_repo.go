package database

import (
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"time"

	"github.com/google/uuid"

	"catalogo-backend/internal/models"
)

var ErrSessionNotFound = errors.New("session not found")

// SessionRepo handles session database operations. Tokens are opaque and
// stored only as SHA-256 hashes; the plain token lives in the client cookie.
type SessionRepo struct{}

// NewSessionRepo creates a new session repository
func NewSessionRepo() *SessionRepo {
	return &SessionRepo{}
}

// CreateGuest creates an unauthenticated session whose only job is to bind
// the pre-login CSRF token. Returns the plain token.
func (r *SessionRepo) CreateGuest(ip, uaFingerprint, csrfToken string) (string, *models.Session, error) {
	return r.create("", models.RoleUser, ip, uaFingerprint, csrfToken)
}

// Create creates an authenticated session and returns the plain token
func (r *SessionRepo) Create(username string, role models.Role, ip, uaFingerprint, csrfToken string) (string, *models.Session, error) {
	return r.create(username, role, ip, uaFingerprint, csrfToken)
}

func (r *SessionRepo) create(username string, role models.Role, ip, uaFingerprint, csrfToken string) (string, *models.Session, error) {
	token, err := newToken()
	if err != nil {
		return "", nil, err
	}

	now := time.Now()
	session := &models.Session{
		TokenHash:     hashToken(token),
		Username:      username,
		Role:          role,
		LoginTime:     now,
		LastActivity:  now,
		RegenTime:     now,
		CSRFToken:     csrfToken,
		UAFingerprint: uaFingerprint,
		IPAddress:     ip,
	}

	result, err := DB.Exec(`
		INSERT INTO sessions (token_hash, username, role, login_time, last_activity, regen_time, csrf_token, ua_fingerprint, ip_address)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, session.TokenHash, session.Username, session.Role, session.LoginTime,
		session.LastActivity, session.RegenTime, session.CSRFToken,
		session.UAFingerprint, session.IPAddress)
	if err != nil {
		return "", nil, err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return "", nil, err
	}
	session.ID = id

	return token, session, nil
}

// GetByToken retrieves a session by its plain token
func (r *SessionRepo) GetByToken(token string) (*models.Session, error) {
	session := &models.Session{}
	var uaFingerprint, ipAddress sql.NullString

	err := DB.QueryRow(`
		SELECT id, token_hash, username, role, login_time, last_activity, regen_time, csrf_token, ua_fingerprint, ip_address
		FROM sessions WHERE token_hash = ?
	`, hashToken(token)).Scan(
		&session.ID, &session.TokenHash, &session.Username, &session.Role,
		&session.LoginTime, &session.LastActivity, &session.RegenTime,
		&session.CSRFToken, &uaFingerprint, &ipAddress,
	)
	if err == sql.ErrNoRows {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}

	if uaFingerprint.Valid {
		session.UAFingerprint = uaFingerprint.String
	}
	if ipAddress.Valid {
		session.IPAddress = ipAddress.String
	}

	return session, nil
}

// RotateToken replaces the session's opaque identifier in place: same
// user/role/login_time, fresh token and regen_time. Returns the new plain
// token. Concurrent rotations race harmlessly; the loser's token simply
// stops resolving.
func (r *SessionRepo) RotateToken(id int64) (string, error) {
	token, err := newToken()
	if err != nil {
		return "", err
	}

	result, err := DB.Exec(
		"UPDATE sessions SET token_hash = ?, regen_time = ? WHERE id = ?",
		hashToken(token), time.Now(), id,
	)
	if err != nil {
		return "", err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return "", err
	}
	if rows == 0 {
		return "", ErrSessionNotFound
	}

	return token, nil
}

// Touch refreshes the session's last activity timestamp
func (r *SessionRepo) Touch(id int64, at time.Time) error {
	_, err := DB.Exec("UPDATE sessions SET last_activity = ? WHERE id = ?", at, id)
	return err
}

// SetCSRF stores a new CSRF token on the session
func (r *SessionRepo) SetCSRF(id int64, csrfToken string) error {
	_, err := DB.Exec("UPDATE sessions SET csrf_token = ? WHERE id = ?", csrfToken, id)
	return err
}

// Delete destroys a session. No partial state survives: the row carries
// every bound field (csrf token, fingerprint), so deleting it clears all.
func (r *SessionRepo) Delete(id int64) error {
	_, err := DB.Exec("DELETE FROM sessions WHERE id = ?", id)
	return err
}

// DeleteByToken destroys a session by its plain token
func (r *SessionRepo) DeleteByToken(token string) error {
	result, err := DB.Exec("DELETE FROM sessions WHERE token_hash = ?", hashToken(token))
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrSessionNotFound
	}

	return nil
}

// DeleteByUsername destroys every session belonging to a user, returning
// how many were revoked. Used when an admin deletes a user or changes
// their role, so no session keeps running with stale privileges.
func (r *SessionRepo) DeleteByUsername(username string) (int64, error) {
	result, err := DB.Exec("DELETE FROM sessions WHERE username = ?", username)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// DeleteIdleBefore removes sessions whose last activity predates the cutoff.
// Guest sessions are swept on the same schedule.
func (r *SessionRepo) DeleteIdleBefore(cutoff time.Time) (int64, error) {
	result, err := DB.Exec("DELETE FROM sessions WHERE last_activity < ?", cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// newToken generates an opaque session identifier. A UUID plus 16 random
// bytes keeps identifiers unguessable and collision-free across rotations.
func newToken() (string, error) {
	random := make([]byte, 16)
	if _, err := rand.Read(random); err != nil {
		return "", err
	}
	return uuid.NewString() + hex.EncodeToString(random), nil
}

// hashToken creates a SHA-256 hash of the token
func hashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}
