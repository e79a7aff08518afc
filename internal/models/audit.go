package models

import "time"

// AuditEntry represents an immutable record of a security-relevant event.
// Entries are write-only from the application's perspective; retention is
// handled by a scheduled purge, never by mutation.
type AuditEntry struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Actor     string    `json:"actor"`
	Action    string    `json:"action"`
	Target    string    `json:"target,omitempty"`
	IPAddress string    `json:"ip_address,omitempty"`
	Metadata  string    `json:"metadata,omitempty"` // JSON string
}

// Security-relevant audit actions
const (
	ActionLoginSuccess    = "login.success"
	ActionLoginFailure    = "login.failure"
	ActionLoginBlocked    = "login.blocked"
	ActionChallengeFailed = "login.challenge_failed"
	ActionLogout          = "logout"
	ActionSessionExpired  = "session.expired"
	ActionSessionRevoked  = "session.revoked"
	ActionUserCreate      = "user.create"
	ActionUserDelete      = "user.delete"
	ActionUserRoleChange  = "user.role_change"
	ActionPasswordChange  = "user.password_change"
)

// AuditFilter narrows audit log listings
type AuditFilter struct {
	Actor        string
	Action       string
	ActionPrefix string
	StartTime    time.Time
	EndTime      time.Time
	Limit        int
	Offset       int
}
