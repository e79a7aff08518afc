package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"catalogo-backend/internal/auth"
	"catalogo-backend/internal/config"
	"catalogo-backend/internal/database"
	"catalogo-backend/internal/models"
)

// API holds the handler dependencies
type API struct {
	cfg      *config.Config
	svc      *auth.Service
	users    *database.UserRepo
	sessions *database.SessionRepo
	audit    *database.AuditRepo
}

// New creates the API handler set
func New(cfg *config.Config, svc *auth.Service) *API {
	return &API{
		cfg:      cfg,
		svc:      svc,
		users:    database.NewUserRepo(),
		sessions: database.NewSessionRepo(),
		audit:    database.NewAuditRepo(),
	}
}

// getLogin handles GET /api/auth/login: session state, the CSRF token for
// the login form, and the challenge configuration. Creates a guest session
// when the request carries none.
func (a *API) getLogin(c echo.Context) error {
	session, newToken, err := a.svc.SessionForLoginPage(
		auth.TokenFromRequest(c), c.RealIP(), c.Request().UserAgent())
	if err != nil {
		c.Logger().Error("login state error: ", err)
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"success": false,
			"error":   "server error",
		})
	}

	if newToken != "" {
		c.SetCookie(auth.SessionCookie(a.cfg.Session, newToken, auth.IsSecureRequest(c)))
	}

	authenticated := session.Authenticated()
	var user, role interface{}
	if authenticated {
		user = session.Username
		role = session.Role
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"success":       true,
		"authenticated": authenticated,
		"user":          user,
		"role":          role,
		"csrf_token":    session.CSRFToken,
		"recaptcha": map[string]interface{}{
			"enabled":  a.cfg.Recaptcha.Enabled(),
			"site_key": siteKeyOrNil(a.cfg.Recaptcha),
			"required": false, // forced per attempt count on POST
		},
	})
}

// postLogin handles POST /api/auth/login through the login state machine
func (a *API) postLogin(c echo.Context) error {
	var req models.LoginRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"success": false,
			"error":   "invalid request body",
		})
	}

	current, err := a.svc.SessionByToken(auth.TokenFromRequest(c))
	if err != nil {
		c.Logger().Error("session lookup error: ", err)
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"success": false,
			"error":   "server error",
		})
	}

	ip := c.RealIP()
	result, err := a.svc.Login(c.Request().Context(), req, current, ip, c.Request().UserAgent())
	if err != nil {
		return a.loginError(c, err)
	}

	c.SetCookie(auth.SessionCookie(a.cfg.Session, result.Token, auth.IsSecureRequest(c)))

	return c.JSON(http.StatusOK, map[string]interface{}{
		"success":         true,
		"message":         "login ok",
		"user":            result.User.Username,
		"role":            result.User.Role,
		"ip":              ip,
		"ua_hash":         result.UAHash,
		"attempts_window": result.AttemptsWindow,
		"new_csrf_token":  result.NewCSRFToken,
	})
}

// loginError maps the error taxonomy to client responses. Only stable
// reason codes and human messages go out, never internal detail.
func (a *API) loginError(c echo.Context, err error) error {
	var rateLimited *auth.RateLimitedError
	var challengeRequired *auth.ChallengeRequiredError
	var challengeFailed *auth.ChallengeFailedError
	var badCredentials *auth.InvalidCredentialsError

	switch {
	case errors.Is(err, auth.ErrEmptyFields):
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"success": false,
			"error":   "username and password are required",
		})
	case errors.Is(err, auth.ErrInvalidCSRF):
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"success":       false,
			"error":         "invalid CSRF token",
			"csrf_required": true,
		})
	case errors.As(err, &rateLimited):
		c.Response().Header().Set("Retry-After", strconv.Itoa(rateLimited.RetryAfter))
		return c.JSON(http.StatusTooManyRequests, map[string]interface{}{
			"success":    false,
			"error":      "too many attempts, try again later",
			"retryAfter": rateLimited.RetryAfter,
		})
	case errors.As(err, &challengeRequired):
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"success":            false,
			"error":              "recaptcha required",
			"recaptcha_required": true,
		})
	case errors.As(err, &challengeFailed):
		payload := map[string]interface{}{
			"success":            false,
			"error":              "recaptcha verification failed",
			"recaptcha_required": true,
		}
		if challengeFailed.Score != nil {
			payload["score"] = *challengeFailed.Score
		}
		return c.JSON(http.StatusBadRequest, payload)
	case errors.As(err, &badCredentials):
		return c.JSON(http.StatusUnauthorized, map[string]interface{}{
			"success":               false,
			"error":                 "invalid username or password",
			"recaptcha_may_require": badCredentials.ChallengeAdvised,
		})
	default:
		c.Logger().Error("login error: ", err)
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"success": false,
			"error":   "authentication failed",
		})
	}
}

// checkSession handles GET /api/auth/check. The optional refresh flag
// extends last_activity; a bare check only reads.
func (a *API) checkSession(c echo.Context) error {
	refresh := c.QueryParam("refresh") != "" || c.FormValue("refresh") != ""

	status, err := a.svc.CheckSession(auth.TokenFromRequest(c), c.Request().UserAgent(), refresh)
	if err != nil {
		reason := auth.ReasonNotLoggedIn
		var expired *auth.SessionExpiredError
		if errors.As(err, &expired) {
			reason = expired.Reason
		}
		return c.JSON(http.StatusUnauthorized, map[string]interface{}{
			"success":       false,
			"error":         "not authenticated",
			"authenticated": false,
			"reason":        reason,
		})
	}

	if status.RotatedToken != "" {
		c.SetCookie(auth.SessionCookie(a.cfg.Session, status.RotatedToken, auth.IsSecureRequest(c)))
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"success":            true,
		"authenticated":      true,
		"user":               status.Session.Username,
		"role":               status.Session.Role,
		"idle_remaining":     int(status.IdleRemaining.Seconds()),
		"absolute_remaining": int(status.AbsoluteRemaining.Seconds()),
	})
}

// logout handles POST /api/auth/logout
func (a *API) logout(c echo.Context) error {
	token := auth.TokenFromRequest(c)
	if token != "" {
		if err := a.svc.Logout(token, c.RealIP()); err != nil {
			c.Logger().Error("logout error: ", err)
		}
	}

	c.SetCookie(auth.ClearSessionCookie())

	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "logged out",
	})
}

func siteKeyOrNil(cfg config.RecaptchaConfig) interface{} {
	if !cfg.Enabled() {
		return nil
	}
	return cfg.SiteKey
}
