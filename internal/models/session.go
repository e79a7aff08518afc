package models

import "time"

// Session represents one authenticated browser context. The token itself is
// never stored, only its hash. A session with an empty Username is a guest
// session: it exists to bind the pre-login CSRF token and nothing else.
type Session struct {
	ID            int64     `json:"id"`
	TokenHash     string    `json:"-"` // Never expose in JSON
	Username      string    `json:"username"`
	Role          Role      `json:"role"`
	LoginTime     time.Time `json:"login_time"`
	LastActivity  time.Time `json:"last_activity"`
	RegenTime     time.Time `json:"-"`
	CSRFToken     string    `json:"-"`
	UAFingerprint string    `json:"-"`
	IPAddress     string    `json:"ip_address"`
}

// Authenticated reports whether the session belongs to a logged-in user.
func (s *Session) Authenticated() bool {
	return s.Username != ""
}

// LoginRequest represents the POST login body
type LoginRequest struct {
	Username       string `json:"username"`
	Password       string `json:"password"`
	CSRFToken      string `json:"csrf_token"`
	RecaptchaToken string `json:"recaptcha_token,omitempty"`
}
