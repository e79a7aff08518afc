package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"catalogo-backend/internal/config"
	"catalogo-backend/internal/models"
)

// Context key for the validated session
const ContextKeySession = "session"

// SessionCookieName is the session cookie. Lifetime is a browser-session
// cookie; idle and absolute limits are enforced server-side.
const SessionCookieName = "session_token"

// RequireAuth validates the session on every protected request, refreshing
// activity and re-issuing the cookie when the identifier was rotated.
func RequireAuth(svc *Service, cfg *config.Config) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token := TokenFromRequest(c)
			fingerprint := UAFingerprint(c.Request().UserAgent())

			result, err := svc.Guard().Validate(token, fingerprint, true)
			if err != nil {
				reason := ReasonNotLoggedIn
				var expired *SessionExpiredError
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

			c.Set(ContextKeySession, result.Session)

			if result.RotatedToken != "" {
				c.SetCookie(SessionCookie(cfg.Session, result.RotatedToken, IsSecureRequest(c)))
			}

			return next(c)
		}
	}
}

// RequireAdmin checks for the admin role. Must be used after RequireAuth.
func RequireAdmin() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			session := GetSessionFromContext(c)
			if session == nil {
				return c.JSON(http.StatusUnauthorized, map[string]interface{}{
					"success": false,
					"error":   "not authenticated",
				})
			}
			if session.Role != models.RoleAdmin {
				return c.JSON(http.StatusForbidden, map[string]interface{}{
					"success": false,
					"error":   "insufficient permissions",
				})
			}
			return next(c)
		}
	}
}

// RequireCSRF validates the anti-forgery token on state-changing requests.
// Must be used after RequireAuth so the session is in context.
func RequireCSRF(svc *Service) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			method := c.Request().Method
			if method == http.MethodGet || method == http.MethodHead || method == http.MethodOptions {
				return next(c)
			}

			session := GetSessionFromContext(c)
			if session == nil {
				return c.JSON(http.StatusUnauthorized, map[string]interface{}{
					"success": false,
					"error":   "not authenticated",
				})
			}

			supplied := c.Request().Header.Get("X-CSRF-Token")
			if supplied == "" {
				supplied = c.FormValue("_csrf")
			}

			if !svc.CSRF().Validate(session.CSRFToken, supplied) {
				return c.JSON(http.StatusForbidden, map[string]interface{}{
					"success":       false,
					"error":         "invalid CSRF token",
					"csrf_required": true,
				})
			}

			return next(c)
		}
	}
}

// SessionCookie builds the session cookie. HttpOnly always; Secure on HTTPS
// and forced when SameSite=None, which browsers refuse otherwise.
func SessionCookie(cfg config.SessionConfig, token string, secure bool) *http.Cookie {
	sameSite := cfg.SameSiteMode()
	if sameSite == http.SameSiteNoneMode {
		secure = true
	}
	return &http.Cookie{
		Name:     SessionCookieName,
		Value:    token,
		Path:     "/",
		Domain:   cfg.CookieDomain,
		HttpOnly: true,
		Secure:   secure,
		SameSite: sameSite,
	}
}

// ClearSessionCookie expires the session cookie
func ClearSessionCookie() *http.Cookie {
	return &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	}
}

// TokenFromRequest extracts the session token from the request
func TokenFromRequest(c echo.Context) string {
	// Try Authorization header first (Bearer token)
	authHeader := c.Request().Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}

	// Try cookie
	cookie, err := c.Cookie(SessionCookieName)
	if err == nil && cookie.Value != "" {
		return cookie.Value
	}

	return ""
}

// IsSecureRequest reports whether the request arrived over HTTPS, directly
// or via a terminating proxy.
func IsSecureRequest(c echo.Context) bool {
	if c.Request().TLS != nil {
		return true
	}
	return strings.EqualFold(c.Request().Header.Get("X-Forwarded-Proto"), "https")
}

// GetSessionFromContext retrieves the validated session from the context
func GetSessionFromContext(c echo.Context) *models.Session {
	session, ok := c.Get(ContextKeySession).(*models.Session)
	if !ok {
		return nil
	}
	return session
}
