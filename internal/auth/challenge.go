package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"catalogo-backend/internal/config"
)

// ChallengeResult is the verifier's answer. Score is only present for
// score-based providers (reCAPTCHA v3).
type ChallengeResult struct {
	OK         bool
	Score      *float64
	ErrorCodes []string
}

// ChallengeVerifier validates a CAPTCHA-style token with a third party
type ChallengeVerifier interface {
	Verify(ctx context.Context, token, remoteIP string) (*ChallengeResult, error)
}

// RecaptchaVerifier talks to the Google siteverify API. The call is bounded
// by the configured timeout; a timeout or transport error fails closed.
type RecaptchaVerifier struct {
	secret    string
	verifyURL string
	client    *http.Client
}

// NewRecaptchaVerifier creates a verifier from configuration
func NewRecaptchaVerifier(cfg config.RecaptchaConfig) *RecaptchaVerifier {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &RecaptchaVerifier{
		secret:    cfg.Secret,
		verifyURL: cfg.VerifyURL,
		client:    &http.Client{Timeout: timeout},
	}
}

type siteverifyResponse struct {
	Success    bool     `json:"success"`
	Score      *float64 `json:"score,omitempty"`
	Action     string   `json:"action,omitempty"`
	ErrorCodes []string `json:"error-codes,omitempty"`
}

// Verify posts the token to the siteverify endpoint
func (v *RecaptchaVerifier) Verify(ctx context.Context, token, remoteIP string) (*ChallengeResult, error) {
	form := url.Values{
		"secret":   {v.secret},
		"response": {token},
		"remoteip": {remoteIP},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.verifyURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := v.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("challenge verifier unreachable: %w", err)
	}
	defer resp.Body.Close()

	var body siteverifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("challenge verifier returned invalid response: %w", err)
	}

	return &ChallengeResult{
		OK:         body.Success,
		Score:      body.Score,
		ErrorCodes: body.ErrorCodes,
	}, nil
}

// ChallengeGate decides when a challenge is demanded and turns verifier
// answers into the error taxonomy.
type ChallengeGate struct {
	verifier      ChallengeVerifier // nil when no verifier is configured
	softThreshold int
	minScore      float64
}

// NewChallengeGate creates a gate. A nil verifier disables challenges
// entirely: no amount of attempts ever demands one.
func NewChallengeGate(verifier ChallengeVerifier, softThreshold int, minScore float64) *ChallengeGate {
	return &ChallengeGate{
		verifier:      verifier,
		softThreshold: softThreshold,
		minScore:      minScore,
	}
}

// Configured reports whether a verifier is wired in
func (g *ChallengeGate) Configured() bool {
	return g.verifier != nil
}

// Required reports whether the attempt count demands a challenge
func (g *ChallengeGate) Required(attemptCount int) bool {
	return g.verifier != nil && attemptCount >= g.softThreshold
}

// Verify checks a submitted token. A verification failure or a score below
// the minimum yields a ChallengeFailedError; the caller must record it as a
// failed login attempt. A verifier outage follows the policy table: closed
// treats the token as failed, open waives the challenge.
func (g *ChallengeGate) Verify(ctx context.Context, token, remoteIP string) error {
	result, err := g.verifier.Verify(ctx, token, remoteIP)
	if err != nil {
		if PolicyFor(DomainChallengeVerifier) == FailClosed {
			return &ChallengeFailedError{Detail: "verification unavailable"}
		}
		return nil
	}
	if !result.OK {
		return &ChallengeFailedError{Detail: "verification rejected"}
	}
	if result.Score != nil && *result.Score < g.minScore {
		return &ChallengeFailedError{Detail: "score below threshold", Score: result.Score}
	}
	return nil
}
