package auth

import (
	"log"
	"time"

	"catalogo-backend/internal/config"
	"catalogo-backend/internal/database"
)

// LoginThrottle maintains the sliding-window attempt counters keyed by both
// IP and username. Counting by both and taking the maximum closes two
// bypasses: rotating source IPs against one username, and hammering many
// usernames from one IP.
//
// Store errors on this path follow the policy table in policy.go: failing
// open reads counts as zero and drops writes with a log line, failing
// closed reads counts at the hard threshold.
type LoginThrottle struct {
	attempts *database.AttemptRepo
	cfg      config.ThrottleConfig
}

// NewLoginThrottle creates a new login throttle
func NewLoginThrottle(attempts *database.AttemptRepo, cfg config.ThrottleConfig) *LoginThrottle {
	return &LoginThrottle{attempts: attempts, cfg: cfg}
}

// RecordAttempt registers one failed attempt against both keys
func (t *LoginThrottle) RecordAttempt(ip, username string, now time.Time) {
	if err := t.attempts.RecordFailure(ip, username, now, t.cfg.Window); err != nil {
		log.Printf("throttle store error on record (%v): %v", PolicyFor(DomainThrottleStore), err)
	}
}

// CountsInWindow returns the per-IP and per-username attempt counts inside
// the open window. On a store error the policy table decides: fail open
// reads zero, fail closed reads the hard threshold.
func (t *LoginThrottle) CountsInWindow(ip, username string, now time.Time) (int, int) {
	byIP, byUser, err := t.attempts.Counts(ip, username, now, t.cfg.Window)
	if err != nil {
		log.Printf("throttle store error on count (%v): %v", PolicyFor(DomainThrottleStore), err)
		if PolicyFor(DomainThrottleStore) == FailClosed {
			return t.cfg.HardThreshold, t.cfg.HardThreshold
		}
		return 0, 0
	}
	return byIP, byUser
}

// Attempts returns max(countByIP, countByUsername), the number the
// thresholds are judged against
func (t *LoginThrottle) Attempts(ip, username string, now time.Time) int {
	byIP, byUser := t.CountsInWindow(ip, username, now)
	if byIP > byUser {
		return byIP
	}
	return byUser
}

// Blocked reports whether the pair is inside a hard lockout, and if so for
// how much longer. The lockout clock runs from the earliest attempt in the
// window, not from now, so a sustained attack cannot perpetually extend its
// own block.
func (t *LoginThrottle) Blocked(ip, username string, now time.Time) (bool, time.Duration) {
	if t.Attempts(ip, username, now) < t.cfg.HardThreshold {
		return false, 0
	}
	retryAfter := t.RetryAfter(ip, username, now)
	if retryAfter <= 0 {
		return false, 0
	}
	return true, retryAfter
}

// RetryAfter computes the remaining lockout from the earliest attempt in
// the window. A non-positive result means the block has lapsed even though
// the window count is still over the threshold. With no earliest attempt on
// record it falls back to the full block duration.
func (t *LoginThrottle) RetryAfter(ip, username string, now time.Time) time.Duration {
	blockTime := t.cfg.BlockTime
	if blockTime <= 0 {
		blockTime = t.cfg.Window
	}

	earliest, ok, err := t.attempts.EarliestAttempt(ip, username, now, t.cfg.Window)
	if err != nil {
		log.Printf("throttle store error on earliest (%v): %v", PolicyFor(DomainThrottleStore), err)
		return blockTime
	}
	if !ok {
		return blockTime
	}

	return blockTime - now.Sub(earliest)
}

// RetryAfterSeconds is RetryAfter rounded up for the Retry-After header,
// never below one second.
func (t *LoginThrottle) RetryAfterSeconds(ip, username string, now time.Time) int {
	seconds := int(t.RetryAfter(ip, username, now).Seconds())
	if seconds < 1 {
		seconds = 1
	}
	return seconds
}

// Clear drops the pair's attempt history after a successful login; counts
// the IP has accrued against other usernames survive
func (t *LoginThrottle) Clear(ip, username string) {
	if err := t.attempts.Clear(ip, username); err != nil {
		log.Printf("throttle store error on clear: %v", err)
	}
}

// Purge removes attempt rows and window buckets older than the retention
// period
func (t *LoginThrottle) Purge(now time.Time) {
	if _, err := t.attempts.PurgeBefore(now.Add(-t.cfg.Retention)); err != nil {
		log.Printf("throttle purge failed: %v", err)
	}
}
