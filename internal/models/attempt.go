package models

import "time"

// Throttle action names. Windows are keyed by (key, action) so the same
// counter store can serve other guarded actions later.
const (
	ActionLoginAttempt = "login"
)

// LoginAttempt is one append-only failed-attempt row. Rows are never
// mutated; they are purged after the retention period or cleared for an
// (ip, username) pair on successful login.
type LoginAttempt struct {
	ID          int64     `json:"id"`
	IP          string    `json:"ip"`
	Username    string    `json:"username"`
	AttemptTime time.Time `json:"attempt_time"`
}

// RateLimitWindow is a resetting counter bucket for one (key, action) pair.
// The key is an IP or a username. When a write finds the window stale, the
// bucket resets to count=1 instead of accumulating.
type RateLimitWindow struct {
	Key           string    `json:"key"`
	Action        string    `json:"action"`
	RequestCount  int       `json:"request_count"`
	WindowStart   time.Time `json:"window_start"`
	LastRequestAt time.Time `json:"last_request_at"`
}
