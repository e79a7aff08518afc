package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"catalogo-backend/internal/config"
	"catalogo-backend/internal/database"
	"catalogo-backend/internal/models"
)

// stubVerifier answers challenge checks without talking to anyone.
type stubVerifier struct {
	result *ChallengeResult
	err    error
}

func (v *stubVerifier) Verify(ctx context.Context, token, remoteIP string) (*ChallengeResult, error) {
	return v.result, v.err
}

func passingVerifier() *stubVerifier {
	score := 0.9
	return &stubVerifier{result: &ChallengeResult{OK: true, Score: &score}}
}

func failingVerifier() *stubVerifier {
	return &stubVerifier{result: &ChallengeResult{OK: false}}
}

func testConfig() *config.Config {
	return &config.Config{
		Session:  testSessionConfig(),
		Throttle: testThrottleConfig(),
		Recaptcha: config.RecaptchaConfig{
			Secret:   "secret",
			SiteKey:  "site-key",
			MinScore: 0.3,
		},
	}
}

// newTestService builds a service against a fresh database with the clock
// and the delay hook under test control.
func newTestService(t *testing.T, verifier ChallengeVerifier) (*Service, *time.Time, *[]time.Duration) {
	t.Helper()
	return newTestServiceCfg(t, testConfig(), verifier)
}

func newTestServiceCfg(t *testing.T, cfg *config.Config, verifier ChallengeVerifier) (*Service, *time.Time, *[]time.Duration) {
	t.Helper()
	openTestDB(t)

	svc := NewService(cfg, verifier)

	now := time.Now()
	var delays []time.Duration
	svc.now = func() time.Time { return now }
	svc.sleep = func(d time.Duration) { delays = append(delays, d) }

	return svc, &now, &delays
}

func createTestUser(t *testing.T, username, password string, role models.Role) {
	t.Helper()
	hash, err := HashPassword(password)
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if err := database.NewUserRepo().Create(&models.User{
		Username:     username,
		PasswordHash: hash,
		Role:         role,
	}); err != nil {
		t.Fatalf("Create user: %v", err)
	}
}

func guestSession(t *testing.T, svc *Service) *models.Session {
	t.Helper()
	session, _, err := svc.SessionForLoginPage("", "10.0.0.1", "Mozilla/5.0")
	if err != nil {
		t.Fatalf("SessionForLoginPage: %v", err)
	}
	return session
}

func loginReq(session *models.Session, username, password, challengeToken string) models.LoginRequest {
	return models.LoginRequest{
		Username:       username,
		Password:       password,
		CSRFToken:      session.CSRFToken,
		RecaptchaToken: challengeToken,
	}
}

func TestLoginSuccess(t *testing.T) {
	svc, _, _ := newTestService(t, nil)
	createTestUser(t, "alice", "correct-horse", models.RoleAdmin)
	guest := guestSession(t, svc)

	result, err := svc.Login(context.Background(), loginReq(guest, "alice", "correct-horse", ""),
		guest, "10.0.0.1", "Mozilla/5.0")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	if result.User.Username != "alice" || result.Session.Role != models.RoleAdmin {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.Token == "" {
		t.Fatal("expected a session token")
	}
	if result.NewCSRFToken == "" || result.NewCSRFToken == guest.CSRFToken {
		t.Fatal("login must rotate the CSRF token")
	}
	if result.UAHash == "" || len(result.UAHash) != 32 {
		t.Fatalf("unexpected ua hash %q", result.UAHash)
	}

	// The pre-login session is destroyed, the new one resolves.
	sessions := database.NewSessionRepo()
	session, err := sessions.GetByToken(result.Token)
	if err != nil {
		t.Fatalf("GetByToken: %v", err)
	}
	if !session.Authenticated() || session.Username != "alice" {
		t.Fatalf("unexpected session: %+v", session)
	}

	// Last-login metadata lands on the user row.
	user, err := database.NewUserRepo().GetByUsername("alice")
	if err != nil {
		t.Fatalf("GetByUsername: %v", err)
	}
	if user.LastLoginIP != "10.0.0.1" {
		t.Fatalf("last login not recorded: %+v", user)
	}
}

func TestLoginValidationFailures(t *testing.T) {
	svc, _, _ := newTestService(t, nil)
	createTestUser(t, "alice", "correct-horse", models.RoleUser)
	guest := guestSession(t, svc)

	t.Run("empty fields", func(t *testing.T) {
		_, err := svc.Login(context.Background(), models.LoginRequest{Username: "alice"},
			guest, "10.0.0.1", "")
		if !errors.Is(err, ErrEmptyFields) {
			t.Fatalf("expected ErrEmptyFields, got %v", err)
		}
	})

	t.Run("missing csrf", func(t *testing.T) {
		req := loginReq(guest, "alice", "correct-horse", "")
		req.CSRFToken = ""
		_, err := svc.Login(context.Background(), req, guest, "10.0.0.1", "")
		if !errors.Is(err, ErrInvalidCSRF) {
			t.Fatalf("expected ErrInvalidCSRF, got %v", err)
		}
	})

	t.Run("no session", func(t *testing.T) {
		_, err := svc.Login(context.Background(), loginReq(guest, "alice", "correct-horse", ""),
			nil, "10.0.0.1", "")
		if !errors.Is(err, ErrInvalidCSRF) {
			t.Fatalf("expected ErrInvalidCSRF, got %v", err)
		}
	})

	// Validation rejections never consume attempt slots.
	if got := svc.throttle.Attempts("10.0.0.1", "alice", time.Now()); got != 0 {
		t.Fatalf("validation failures must not record attempts, got %d", got)
	}
}

func TestLoginEscalation(t *testing.T) {
	svc, now, delays := newTestService(t, passingVerifier())
	createTestUser(t, "alice", "correct-horse", models.RoleUser)
	guest := guestSession(t, svc)

	badLogin := func(challengeToken string) error {
		_, err := svc.Login(context.Background(), loginReq(guest, "alice", "wrong", challengeToken),
			guest, "10.0.0.1", "")
		return err
	}

	// Attempts 1 and 2: plain rejection, no challenge advised yet.
	for i := 0; i < 2; i++ {
		err := badLogin("")
		var bad *InvalidCredentialsError
		if !errors.As(err, &bad) {
			t.Fatalf("attempt %d: expected InvalidCredentialsError, got %v", i+1, err)
		}
		if bad.ChallengeAdvised {
			t.Fatalf("attempt %d: challenge advised too early", i+1)
		}
	}

	// Attempt 3 crosses the soft threshold: still a credential failure, but
	// the next attempt will demand a challenge.
	err := badLogin("")
	var bad *InvalidCredentialsError
	if !errors.As(err, &bad) {
		t.Fatalf("expected InvalidCredentialsError, got %v", err)
	}
	if !bad.ChallengeAdvised {
		t.Fatal("expected challenge advice at the soft threshold")
	}

	// Attempt 4 without a token fails fast and consumes nothing.
	err = badLogin("")
	var required *ChallengeRequiredError
	if !errors.As(err, &required) {
		t.Fatalf("expected ChallengeRequiredError, got %v", err)
	}
	if got := svc.throttle.Attempts("10.0.0.1", "alice", *now); got != 3 {
		t.Fatalf("missing challenge token must not consume a slot, got %d attempts", got)
	}

	// Attempt 4 with a passing token but a wrong password.
	err = badLogin("challenge-token")
	if !errors.As(err, &bad) {
		t.Fatalf("expected InvalidCredentialsError, got %v", err)
	}

	// Attempt 5 crosses the hard threshold.
	err = badLogin("challenge-token")
	var limited *RateLimitedError
	if !errors.As(err, &limited) {
		t.Fatalf("expected RateLimitedError at the hard threshold, got %v", err)
	}
	if limited.RetryAfter < 1 {
		t.Fatalf("retryAfter must be positive, got %d", limited.RetryAfter)
	}

	// A blocked probe is refused up front and records nothing, even with
	// correct credentials.
	_, err = svc.Login(context.Background(), loginReq(guest, "alice", "correct-horse", "challenge-token"),
		guest, "10.0.0.1", "")
	if !errors.As(err, &limited) {
		t.Fatalf("expected RateLimitedError for a blocked probe, got %v", err)
	}
	if got := svc.throttle.Attempts("10.0.0.1", "alice", *now); got != 5 {
		t.Fatalf("blocked probe must not record an attempt, got %d", got)
	}

	// The adaptive delay grew with the attempt count and stayed bounded.
	if len(*delays) != 5 {
		t.Fatalf("expected 5 delays, got %d", len(*delays))
	}
	for i, d := range *delays {
		if d < 40*time.Millisecond || d > 450*time.Millisecond {
			t.Fatalf("delay %d out of range: %v", i, d)
		}
	}
	if (*delays)[1] < (*delays)[0] {
		t.Fatalf("delays must not shrink early on: %v", *delays)
	}
}

func TestLoginBlockExpires(t *testing.T) {
	svc, now, _ := newTestService(t, nil)
	createTestUser(t, "alice", "correct-horse", models.RoleUser)
	guest := guestSession(t, svc)

	for i := 0; i < 5; i++ {
		svc.throttle.RecordAttempt("10.0.0.1", "alice", *now)
	}

	// Still blocked five minutes in.
	*now = now.Add(5 * time.Minute)
	_, err := svc.Login(context.Background(), loginReq(guest, "alice", "correct-horse", ""),
		guest, "10.0.0.1", "")
	var limited *RateLimitedError
	if !errors.As(err, &limited) {
		t.Fatalf("expected RateLimitedError, got %v", err)
	}
	// About ten minutes of the fifteen-minute window remain.
	if limited.RetryAfter < 9*60 || limited.RetryAfter > 11*60 {
		t.Fatalf("retryAfter = %ds, want about 600", limited.RetryAfter)
	}

	// Past the window the pair is free again.
	*now = now.Add(11 * time.Minute)
	result, err := svc.Login(context.Background(), loginReq(guest, "alice", "correct-horse", ""),
		guest, "10.0.0.1", "")
	if err != nil {
		t.Fatalf("Login after window: %v", err)
	}
	if result.User.Username != "alice" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

// With LOGIN_BLOCK_TIME shorter than the window, a stale count past the
// hard threshold must not turn a plain wrong password into a 429 once the
// block has lapsed.
func TestFailureAfterLapsedBlockIsNotRateLimited(t *testing.T) {
	cfg := testConfig()
	cfg.Throttle.BlockTime = 5 * time.Minute
	svc, now, _ := newTestServiceCfg(t, cfg, nil)
	createTestUser(t, "alice", "correct-horse", models.RoleUser)
	guest := guestSession(t, svc)

	for i := 0; i < 5; i++ {
		svc.throttle.RecordAttempt("10.0.0.1", "alice", now.Add(-8*time.Minute))
	}

	_, err := svc.Login(context.Background(), loginReq(guest, "alice", "wrong", ""),
		guest, "10.0.0.1", "")
	var bad *InvalidCredentialsError
	if !errors.As(err, &bad) {
		t.Fatalf("expected InvalidCredentialsError, got %v", err)
	}
}

func TestCheckSessionFingerprintEnforcement(t *testing.T) {
	login := func(t *testing.T, svc *Service) string {
		t.Helper()
		createTestUser(t, "alice", "correct-horse", models.RoleUser)
		guest := guestSession(t, svc)
		result, err := svc.Login(context.Background(), loginReq(guest, "alice", "correct-horse", ""),
			guest, "10.0.0.1", "Mozilla/5.0")
		if err != nil {
			t.Fatalf("Login: %v", err)
		}
		return result.Token
	}

	t.Run("advisory by default", func(t *testing.T) {
		svc, _, _ := newTestService(t, nil)
		token := login(t, svc)

		// The check endpoint tolerates a changed agent unless configured
		// otherwise. Protected endpoints never do.
		if _, err := svc.CheckSession(token, "curl/8.0", false); err != nil {
			t.Fatalf("CheckSession: %v", err)
		}
	})

	t.Run("enforced when configured", func(t *testing.T) {
		cfg := testConfig()
		cfg.Session.EnforceFingerprint = true
		svc, _, _ := newTestServiceCfg(t, cfg, nil)
		token := login(t, svc)

		_, err := svc.CheckSession(token, "curl/8.0", false)
		var expired *SessionExpiredError
		if !errors.As(err, &expired) || expired.Reason != ReasonFingerprintMismatch {
			t.Fatalf("expected fingerprint mismatch, got %v", err)
		}
		if _, err := svc.SessionByToken(token); !errors.Is(err, database.ErrSessionNotFound) {
			t.Fatalf("expected destroyed session, got %v", err)
		}
	})
}

func TestLoginChallengeFailureConsumesAttempt(t *testing.T) {
	svc, now, _ := newTestService(t, failingVerifier())
	createTestUser(t, "alice", "correct-horse", models.RoleUser)
	guest := guestSession(t, svc)

	for i := 0; i < 3; i++ {
		svc.throttle.RecordAttempt("10.0.0.1", "alice", *now)
	}

	// Correct password, failing challenge: rejected and counted.
	_, err := svc.Login(context.Background(), loginReq(guest, "alice", "correct-horse", "bad-token"),
		guest, "10.0.0.1", "")
	var failed *ChallengeFailedError
	if !errors.As(err, &failed) {
		t.Fatalf("expected ChallengeFailedError, got %v", err)
	}
	if got := svc.throttle.Attempts("10.0.0.1", "alice", *now); got != 4 {
		t.Fatalf("challenge failure must consume an attempt, got %d", got)
	}
}

func TestLoginSuccessClearsAttempts(t *testing.T) {
	svc, now, _ := newTestService(t, nil)
	createTestUser(t, "alice", "correct-horse", models.RoleUser)
	guest := guestSession(t, svc)

	svc.throttle.RecordAttempt("10.0.0.1", "alice", *now)
	svc.throttle.RecordAttempt("10.0.0.1", "alice", *now)

	if _, err := svc.Login(context.Background(), loginReq(guest, "alice", "correct-horse", ""),
		guest, "10.0.0.1", ""); err != nil {
		t.Fatalf("Login: %v", err)
	}

	if got := svc.throttle.Attempts("10.0.0.1", "alice", *now); got != 0 {
		t.Fatalf("success must clear the attempt history, got %d", got)
	}
}

func TestCheckSessionLifecycle(t *testing.T) {
	svc, _, _ := newTestService(t, nil)
	createTestUser(t, "alice", "correct-horse", models.RoleUser)
	guest := guestSession(t, svc)

	result, err := svc.Login(context.Background(), loginReq(guest, "alice", "correct-horse", ""),
		guest, "10.0.0.1", "Mozilla/5.0")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	status, err := svc.CheckSession(result.Token, "Mozilla/5.0", false)
	if err != nil {
		t.Fatalf("CheckSession: %v", err)
	}
	if status.Session.Username != "alice" {
		t.Fatalf("unexpected session: %+v", status.Session)
	}
	if status.IdleRemaining <= 0 || status.AbsoluteRemaining <= 0 {
		t.Fatalf("expected positive remaining lifetimes: %+v", status)
	}
	if status.IdleRemaining > status.AbsoluteRemaining {
		t.Fatalf("idle lifetime cannot outlast the absolute one: %+v", status)
	}

	// A refreshing check resets the idle budget to the full limit.
	refreshed, err := svc.CheckSession(result.Token, "Mozilla/5.0", true)
	if err != nil {
		t.Fatalf("CheckSession with refresh: %v", err)
	}
	if refreshed.IdleRemaining < svc.cfg.Session.IdleMax-time.Minute {
		t.Fatalf("refresh must restore the idle budget, got %v", refreshed.IdleRemaining)
	}

	if err := svc.Logout(result.Token, "10.0.0.1"); err != nil {
		t.Fatalf("Logout: %v", err)
	}

	_, err = svc.CheckSession(result.Token, "Mozilla/5.0", false)
	var expired *SessionExpiredError
	if !errors.As(err, &expired) || expired.Reason != ReasonNotLoggedIn {
		t.Fatalf("expected not_logged_in after logout, got %v", err)
	}

	// Logging out twice is harmless.
	if err := svc.Logout(result.Token, "10.0.0.1"); err != nil {
		t.Fatalf("repeat Logout: %v", err)
	}
}

func TestSessionForLoginPageReusesExisting(t *testing.T) {
	svc, _, _ := newTestService(t, nil)

	first, token, err := svc.SessionForLoginPage("", "10.0.0.1", "")
	if err != nil {
		t.Fatalf("SessionForLoginPage: %v", err)
	}
	if token == "" {
		t.Fatal("expected a fresh token for the new guest session")
	}
	if first.Authenticated() {
		t.Fatal("login page session must start unauthenticated")
	}

	second, newToken, err := svc.SessionForLoginPage(token, "10.0.0.1", "")
	if err != nil {
		t.Fatalf("SessionForLoginPage: %v", err)
	}
	if newToken != "" {
		t.Fatal("an existing session must be reused, not replaced")
	}
	if second.CSRFToken != first.CSRFToken {
		t.Fatal("the pre-login CSRF token must be stable across page loads")
	}
}
