package auth

import (
	"errors"
	"log"
	"time"

	"catalogo-backend/internal/config"
	"catalogo-backend/internal/database"
	"catalogo-backend/internal/models"
)

// Decision is the outcome of evaluating a session against the validity
// rules.
type Decision int

const (
	DecisionValid Decision = iota
	DecisionExpired
	DecisionInvalidated
)

// Verdict is the result of the pure session evaluation. NeedsRotation is
// only meaningful when Decision is DecisionValid.
type Verdict struct {
	Decision      Decision
	Reason        string
	NeedsRotation bool
}

// EvaluateSession applies the validity rules in fixed order, first match
// wins: fingerprint mismatch, idle timeout, absolute timeout, then valid
// with optional identifier rotation. It is pure: no store access, no side
// effects, fully clock-driven.
//
// A fingerprint mismatch always invalidates when both sides carry one.
// Callers that only advisory-check the fingerprint pass an empty
// currentFingerprint instead.
func EvaluateSession(s *models.Session, now time.Time, currentFingerprint string, cfg config.SessionConfig) Verdict {
	if s.UAFingerprint != "" && currentFingerprint != "" &&
		s.UAFingerprint != currentFingerprint {
		return Verdict{Decision: DecisionInvalidated, Reason: ReasonFingerprintMismatch}
	}
	if now.Sub(s.LastActivity) > cfg.IdleMax {
		return Verdict{Decision: DecisionExpired, Reason: ReasonIdleTimeout}
	}
	if now.Sub(s.LoginTime) > cfg.AbsoluteMax {
		return Verdict{Decision: DecisionExpired, Reason: ReasonAbsoluteTimeout}
	}
	return Verdict{
		Decision:      DecisionValid,
		NeedsRotation: now.Sub(s.RegenTime) > cfg.RegenInterval,
	}
}

// SessionGuard validates sessions on every protected request and applies
// the side effects the verdict demands: destruction on expiry, periodic
// identifier rotation, activity refresh.
type SessionGuard struct {
	sessions *database.SessionRepo
	audit    *database.AuditRepo
	cfg      config.SessionConfig
	now      func() time.Time
}

// NewSessionGuard creates a new session guard
func NewSessionGuard(sessions *database.SessionRepo, audit *database.AuditRepo, cfg config.SessionConfig) *SessionGuard {
	return &SessionGuard{
		sessions: sessions,
		audit:    audit,
		cfg:      cfg,
		now:      time.Now,
	}
}

// GuardResult is a validated session. RotatedToken is non-empty when the
// session identifier was rotated; the caller must re-issue the cookie.
type GuardResult struct {
	Session      *models.Session
	RotatedToken string
}

// Validate checks the session token against the validity rules.
//
// refresh controls activity semantics: not every read should extend the
// session, so last_activity moves only when the caller asks for it.
//
// Expiry and invalidation are terminal: the session row is destroyed and
// the caller must re-authenticate. Store errors fail closed (treated as
// not authenticated) per the failure policy table.
func (g *SessionGuard) Validate(token, currentFingerprint string, refresh bool) (*GuardResult, error) {
	if token == "" {
		return nil, &SessionExpiredError{Reason: ReasonNotLoggedIn}
	}

	session, err := g.sessions.GetByToken(token)
	if err != nil {
		if errors.Is(err, database.ErrSessionNotFound) {
			return nil, &SessionExpiredError{Reason: ReasonNotLoggedIn}
		}
		// The policy table pins session reads closed: unknown session
		// state is not authenticated.
		log.Printf("session store error (%v): %v", PolicyFor(DomainSessionStore), err)
		return nil, &SessionExpiredError{Reason: ReasonNotLoggedIn}
	}

	if !session.Authenticated() {
		return nil, &SessionExpiredError{Reason: ReasonNotLoggedIn}
	}

	now := g.now()
	verdict := EvaluateSession(session, now, currentFingerprint, g.cfg)
	if verdict.Decision != DecisionValid {
		g.destroy(session, verdict.Reason)
		return nil, &SessionExpiredError{Reason: verdict.Reason}
	}

	result := &GuardResult{Session: session}

	if verdict.NeedsRotation {
		rotated, err := g.sessions.RotateToken(session.ID)
		if err != nil {
			// Rotation failure does not invalidate an otherwise valid
			// session; the old identifier stays live until the next pass.
			log.Printf("session rotation failed: %v", err)
		} else {
			session.RegenTime = now
			result.RotatedToken = rotated
		}
	}

	if refresh {
		if err := g.sessions.Touch(session.ID, now); err != nil {
			log.Printf("session activity refresh failed: %v", err)
		} else {
			session.LastActivity = now
		}
	}

	return result, nil
}

// IdleRemaining returns how long until the session expires from inactivity
func (g *SessionGuard) IdleRemaining(s *models.Session, now time.Time) time.Duration {
	return g.cfg.IdleMax - now.Sub(s.LastActivity)
}

// AbsoluteRemaining returns how long until the session hits its total
// lifetime limit
func (g *SessionGuard) AbsoluteRemaining(s *models.Session, now time.Time) time.Duration {
	return g.cfg.AbsoluteMax - now.Sub(s.LoginTime)
}

func (g *SessionGuard) destroy(session *models.Session, reason string) {
	if err := g.sessions.Delete(session.ID); err != nil {
		log.Printf("session destroy failed: %v", err)
	}
	// Best effort; an audit failure never blocks the response.
	if err := g.audit.Log(session.Username, models.ActionSessionExpired, "", session.IPAddress,
		map[string]string{"reason": reason}); err != nil {
		log.Printf("audit write failed: %v", err)
	}
}
