package auth

import (
	"context"
	"errors"
	"log"
	"math/rand"
	"time"

	"catalogo-backend/internal/config"
	"catalogo-backend/internal/database"
	"catalogo-backend/internal/models"
)

// Service composes the throttle, the challenge gate, the credential check,
// CSRF rotation, and audit hooks into the login state machine. A protected
// request never comes through here; that is the SessionGuard's job.
type Service struct {
	users    *database.UserRepo
	sessions *database.SessionRepo
	audit    *database.AuditRepo
	throttle *LoginThrottle
	gate     *ChallengeGate
	csrf     *CSRFManager
	guard    *SessionGuard
	cfg      *config.Config

	now   func() time.Time
	sleep func(time.Duration)
}

// NewService creates the auth service. verifier may be nil, which disables
// the challenge gate entirely.
func NewService(cfg *config.Config, verifier ChallengeVerifier) *Service {
	sessions := database.NewSessionRepo()
	audit := database.NewAuditRepo()
	return &Service{
		users:    database.NewUserRepo(),
		sessions: sessions,
		audit:    audit,
		throttle: NewLoginThrottle(database.NewAttemptRepo(), cfg.Throttle),
		gate:     NewChallengeGate(verifier, cfg.Throttle.SoftThreshold, cfg.Recaptcha.MinScore),
		csrf:     NewCSRFManager(sessions),
		guard:    NewSessionGuard(sessions, audit, cfg.Session),
		cfg:      cfg,
		now:      time.Now,
		sleep:    time.Sleep,
	}
}

// Guard exposes the session guard for middleware
func (s *Service) Guard() *SessionGuard {
	return s.guard
}

// CSRF exposes the token manager for middleware
func (s *Service) CSRF() *CSRFManager {
	return s.csrf
}

// Throttle exposes the login throttle for background maintenance
func (s *Service) Throttle() *LoginThrottle {
	return s.throttle
}

// ChallengeConfigured reports whether a challenge verifier is wired in
func (s *Service) ChallengeConfigured() bool {
	return s.gate.Configured()
}

// LoginResult is returned on a successful login
type LoginResult struct {
	User           *models.User
	Session        *models.Session
	Token          string // plain session token for the cookie
	NewCSRFToken   string
	AttemptsWindow int
	UAHash         string
}

// Login runs the login state machine:
//
//	ThrottleCheck -> ChallengeCheck -> CredentialCheck ->
//	  fail:    adaptive delay, record attempt, maybe now-blocked
//	  success: clear attempts, rotate CSRF, establish session, audit
//
// current is the session the request arrived with (usually a guest session
// carrying the pre-login CSRF token); it is destroyed and replaced on
// success so no pre-auth identifier survives authentication.
func (s *Service) Login(ctx context.Context, req models.LoginRequest, current *models.Session, ip, userAgent string) (*LoginResult, error) {
	if req.Username == "" || req.Password == "" {
		return nil, ErrEmptyFields
	}
	if current == nil || !s.csrf.Validate(current.CSRFToken, req.CSRFToken) {
		return nil, ErrInvalidCSRF
	}

	now := s.now()

	// ThrottleCheck. A blocked probe is rejected before credential logic
	// and does not consume an attempt slot.
	attempts := s.throttle.Attempts(ip, req.Username, now)
	if blocked, _ := s.throttle.Blocked(ip, req.Username, now); blocked {
		s.auditLog(req.Username, models.ActionLoginBlocked, ip, map[string]interface{}{
			"attempts": attempts,
		})
		return nil, &RateLimitedError{RetryAfter: s.throttle.RetryAfterSeconds(ip, req.Username, now)}
	}

	// ChallengeCheck. Missing token fails fast without consuming an
	// attempt; a failing token counts as a failed attempt, same as a wrong
	// password, so the gate cannot be probed for free.
	if s.gate.Required(attempts) {
		if req.RecaptchaToken == "" {
			return nil, &ChallengeRequiredError{}
		}
		if err := s.gate.Verify(ctx, req.RecaptchaToken, ip); err != nil {
			s.throttle.RecordAttempt(ip, req.Username, now)
			s.auditLog(req.Username, models.ActionChallengeFailed, ip, nil)
			return nil, err
		}
	}

	// CredentialCheck against the external primitive.
	user, err := s.users.GetByUsername(req.Username)
	if err != nil && !errors.Is(err, database.ErrUserNotFound) {
		return nil, err
	}
	if user == nil || !VerifyPassword(req.Password, user.PasswordHash) {
		return nil, s.recordFailure(ip, req.Username, attempts, now)
	}

	// Success path.
	s.throttle.Clear(ip, req.Username)

	uaHash := UAFingerprint(userAgent)
	csrfToken, err := s.csrf.Issue()
	if err != nil {
		return nil, err
	}

	token, session, err := s.sessions.Create(user.Username, user.Role, ip, uaHash, csrfToken)
	if err != nil {
		return nil, err
	}

	// The arriving session (guest or stale) is replaced wholesale; keeping
	// it alive would reopen the fixation window the rotation closes.
	if err := s.sessions.Delete(current.ID); err != nil {
		log.Printf("pre-login session cleanup failed: %v", err)
	}

	// Best-effort last-login metrics; failure must not fail the login.
	if err := s.users.UpdateLastLogin(user.ID, ip, uaHash); err != nil {
		log.Printf("last-login update failed: %v", err)
	}

	s.auditLog(user.Username, models.ActionLoginSuccess, ip, map[string]interface{}{
		"attempts_window": attempts,
	})

	// Occasional retention sweep, piggybacked on successful logins.
	if rand.Intn(75) == 0 {
		s.throttle.Purge(now)
	}

	return &LoginResult{
		User:           user,
		Session:        session,
		Token:          token,
		NewCSRFToken:   csrfToken,
		AttemptsWindow: attempts,
		UAHash:         uaHash,
	}, nil
}

// recordFailure applies the adaptive delay, registers the attempt, and
// decides whether this failure crossed the hard threshold.
func (s *Service) recordFailure(ip, username string, priorAttempts int, now time.Time) error {
	s.adaptiveDelay(priorAttempts)

	s.throttle.RecordAttempt(ip, username, now)
	s.auditLog(username, models.ActionLoginFailure, ip, nil)

	// Only report a lockout the throttle would actually hold: a stale
	// count past the threshold with a lapsed block window is a plain
	// credential failure, not a 429.
	if blocked, _ := s.throttle.Blocked(ip, username, now); blocked {
		return &RateLimitedError{RetryAfter: s.throttle.RetryAfterSeconds(ip, username, now)}
	}

	return &InvalidCredentialsError{
		ChallengeAdvised: s.gate.Required(s.throttle.Attempts(ip, username, now)),
	}
}

// adaptiveDelay slows automated guessing without a hard block: more
// attempts, longer wait, capped at ~400ms plus jitter.
func (s *Service) adaptiveDelay(attempts int) {
	ms := 40 + attempts*60
	if ms > 400 {
		ms = 400
	}
	s.sleep(time.Duration(ms+rand.Intn(51)) * time.Millisecond)
}

// SessionForLoginPage returns the session the login page should use. When
// the request carries no resolvable session, a guest session is created to
// bind the pre-login CSRF token; the returned plain token is non-empty in
// that case and must be set as the cookie.
func (s *Service) SessionForLoginPage(token, ip, userAgent string) (*models.Session, string, error) {
	if token != "" {
		session, err := s.sessions.GetByToken(token)
		if err == nil {
			return session, "", nil
		}
		if !errors.Is(err, database.ErrSessionNotFound) {
			return nil, "", err
		}
	}

	csrfToken, err := s.csrf.Issue()
	if err != nil {
		return nil, "", err
	}
	session, plain, err := s.createGuest(ip, userAgent, csrfToken)
	if err != nil {
		return nil, "", err
	}
	return session, plain, nil
}

func (s *Service) createGuest(ip, userAgent, csrfToken string) (*models.Session, string, error) {
	plain, session, err := s.sessions.CreateGuest(ip, UAFingerprint(userAgent), csrfToken)
	if err != nil {
		return nil, "", err
	}
	return session, plain, nil
}

// SessionByToken resolves the request's session without applying validity
// rules. Returns nil when the token does not resolve.
func (s *Service) SessionByToken(token string) (*models.Session, error) {
	if token == "" {
		return nil, nil
	}
	session, err := s.sessions.GetByToken(token)
	if errors.Is(err, database.ErrSessionNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return session, nil
}

// SessionStatus is the session-check response
type SessionStatus struct {
	Session           *models.Session
	IdleRemaining     time.Duration
	AbsoluteRemaining time.Duration
	RotatedToken      string
}

// CheckSession validates the session and reports remaining lifetimes.
// refresh extends last_activity; a plain check does not. The fingerprint
// is only matched here when ENFORCE_UA_HASH is set; protected endpoints
// match it unconditionally.
func (s *Service) CheckSession(token, userAgent string, refresh bool) (*SessionStatus, error) {
	fingerprint := ""
	if s.cfg.Session.EnforceFingerprint {
		fingerprint = UAFingerprint(userAgent)
	}
	result, err := s.guard.Validate(token, fingerprint, refresh)
	if err != nil {
		return nil, err
	}

	now := s.now()
	return &SessionStatus{
		Session:           result.Session,
		IdleRemaining:     s.guard.IdleRemaining(result.Session, now),
		AbsoluteRemaining: s.guard.AbsoluteRemaining(result.Session, now),
		RotatedToken:      result.RotatedToken,
	}, nil
}

// Logout destroys the session
func (s *Service) Logout(token, ip string) error {
	session, err := s.sessions.GetByToken(token)
	if err != nil {
		if errors.Is(err, database.ErrSessionNotFound) {
			return nil // already gone
		}
		return err
	}

	if err := s.sessions.DeleteByToken(token); err != nil && !errors.Is(err, database.ErrSessionNotFound) {
		return err
	}
	if session.Authenticated() {
		s.auditLog(session.Username, models.ActionLogout, ip, nil)
	}
	return nil
}

func (s *Service) auditLog(actor, action, ip string, metadata interface{}) {
	if err := s.audit.Log(actor, action, "", ip, metadata); err != nil {
		log.Printf("audit write failed: %v", err)
	}
}
