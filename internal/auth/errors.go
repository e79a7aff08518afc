package auth

import (
	"errors"
	"fmt"
)

// Stable reason codes surfaced to clients. Internal error detail never
// leaves the server; these are the whole vocabulary.
const (
	ReasonNotLoggedIn         = "not_logged_in"
	ReasonIdleTimeout         = "idle_timeout"
	ReasonAbsoluteTimeout     = "absolute_timeout"
	ReasonFingerprintMismatch = "fingerprint_mismatch"
)

var (
	ErrInvalidCSRF = errors.New("invalid csrf token")
	ErrEmptyFields = errors.New("username and password are required")
)

// InvalidCredentialsError is the plain bad-credentials outcome.
// ChallengeAdvised hints that the next attempt will demand a challenge
// token, so the client can fetch one preemptively.
type InvalidCredentialsError struct {
	ChallengeAdvised bool
}

func (e *InvalidCredentialsError) Error() string {
	return "invalid username or password"
}

// SessionExpiredError is terminal for the session: the caller must
// re-authenticate. Reason is one of the reason codes above.
type SessionExpiredError struct {
	Reason string
}

func (e *SessionExpiredError) Error() string {
	return "session expired: " + e.Reason
}

// RateLimitedError carries HTTP 429 semantics. RetryAfter is in seconds and
// always positive.
type RateLimitedError struct {
	RetryAfter int
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("too many login attempts, retry after %ds", e.RetryAfter)
}

// ChallengeRequiredError means the attempt was rejected before credential
// verification because no challenge token was submitted. It does not count
// as a failed attempt.
type ChallengeRequiredError struct{}

func (e *ChallengeRequiredError) Error() string {
	return "challenge token required"
}

// ChallengeFailedError means a submitted token failed verification or
// scored below the minimum. It counts as a failed attempt, same as a wrong
// password, so failing the challenge cannot be used to probe for free.
type ChallengeFailedError struct {
	Detail string
	Score  *float64
}

func (e *ChallengeFailedError) Error() string {
	return "challenge verification failed: " + e.Detail
}
