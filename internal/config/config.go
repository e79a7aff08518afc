package config

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is built once at startup and passed by reference. Handlers never
// re-derive security settings from the environment per request.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Session   SessionConfig
	Throttle  ThrottleConfig
	Recaptcha RecaptchaConfig
}

type ServerConfig struct {
	Port        string
	CORSOrigins []string
}

type DatabaseConfig struct {
	Path string
}

// SessionConfig controls server-side session lifetime and cookie attributes.
type SessionConfig struct {
	IdleMax            time.Duration
	AbsoluteMax        time.Duration
	RegenInterval      time.Duration
	SameSite     string
	CookieDomain string

	// EnforceFingerprint extends the user-agent fingerprint match to the
	// session-check endpoint. Protected endpoints match it regardless.
	EnforceFingerprint bool
}

// ThrottleConfig controls the login attempt limiter. BlockTime zero means
// "remaining window time from the earliest attempt".
type ThrottleConfig struct {
	Window        time.Duration
	SoftThreshold int
	HardThreshold int
	BlockTime     time.Duration
	Retention     time.Duration
}

type RecaptchaConfig struct {
	Secret    string
	SiteKey   string
	VerifyURL string
	MinScore  float64
	Timeout   time.Duration
}

// Enabled reports whether a challenge verifier is configured. With no
// verifier, no amount of failed attempts ever demands a challenge.
func (r RecaptchaConfig) Enabled() bool {
	return r.Secret != "" && r.SiteKey != ""
}

// SameSiteMode maps the configured string to the http constant.
// SameSite=None requires Secure cookies, which the cookie builder enforces.
func (s SessionConfig) SameSiteMode() http.SameSite {
	switch strings.ToLower(s.SameSite) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}

// Load reads configuration from the environment with production defaults.
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("PORT", "8080")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("DB_PATH", "./catalogo.db")

	v.SetDefault("SESSION_IDLE_MAX", "1h")
	v.SetDefault("SESSION_ABSOLUTE_MAX", "4h")
	v.SetDefault("SESSION_REGEN_INTERVAL", "20m")
	v.SetDefault("SESSION_SAMESITE", "lax")
	v.SetDefault("SESSION_COOKIE_DOMAIN", "")
	v.SetDefault("ENFORCE_UA_HASH", false)

	v.SetDefault("LOGIN_WINDOW", "15m")
	v.SetDefault("LOGIN_SOFT_THRESHOLD", 3)
	v.SetDefault("LOGIN_HARD_THRESHOLD", 5)
	v.SetDefault("LOGIN_BLOCK_TIME", "0s")
	v.SetDefault("LOGIN_ATTEMPT_RETENTION", "24h")

	v.SetDefault("RECAPTCHA_SECRET", "")
	v.SetDefault("RECAPTCHA_SITE_KEY", "")
	v.SetDefault("RECAPTCHA_VERIFY_URL", "https://www.google.com/recaptcha/api/siteverify")
	v.SetDefault("RECAPTCHA_MIN_SCORE", 0.3)
	v.SetDefault("RECAPTCHA_TIMEOUT", "5s")

	cfg := &Config{
		Server: ServerConfig{
			Port:        v.GetString("PORT"),
			CORSOrigins: strings.Split(v.GetString("CORS_ORIGINS"), ","),
		},
		Database: DatabaseConfig{
			Path: v.GetString("DB_PATH"),
		},
		Session: SessionConfig{
			IdleMax:            v.GetDuration("SESSION_IDLE_MAX"),
			AbsoluteMax:        v.GetDuration("SESSION_ABSOLUTE_MAX"),
			RegenInterval:      v.GetDuration("SESSION_REGEN_INTERVAL"),
			SameSite:           v.GetString("SESSION_SAMESITE"),
			CookieDomain:       v.GetString("SESSION_COOKIE_DOMAIN"),
			EnforceFingerprint: v.GetBool("ENFORCE_UA_HASH"),
		},
		Throttle: ThrottleConfig{
			Window:        v.GetDuration("LOGIN_WINDOW"),
			SoftThreshold: v.GetInt("LOGIN_SOFT_THRESHOLD"),
			HardThreshold: v.GetInt("LOGIN_HARD_THRESHOLD"),
			BlockTime:     v.GetDuration("LOGIN_BLOCK_TIME"),
			Retention:     v.GetDuration("LOGIN_ATTEMPT_RETENTION"),
		},
		Recaptcha: RecaptchaConfig{
			Secret:    v.GetString("RECAPTCHA_SECRET"),
			SiteKey:   v.GetString("RECAPTCHA_SITE_KEY"),
			VerifyURL: v.GetString("RECAPTCHA_VERIFY_URL"),
			MinScore:  v.GetFloat64("RECAPTCHA_MIN_SCORE"),
			Timeout:   v.GetDuration("RECAPTCHA_TIMEOUT"),
		},
	}

	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	if c.Session.IdleMax <= 0 || c.Session.AbsoluteMax <= 0 {
		return fmt.Errorf("session timeouts must be positive")
	}
	if c.Session.IdleMax > c.Session.AbsoluteMax {
		return fmt.Errorf("SESSION_IDLE_MAX (%s) exceeds SESSION_ABSOLUTE_MAX (%s)",
			c.Session.IdleMax, c.Session.AbsoluteMax)
	}
	if c.Throttle.SoftThreshold <= 0 || c.Throttle.HardThreshold <= 0 {
		return fmt.Errorf("login thresholds must be positive")
	}
	if c.Throttle.SoftThreshold > c.Throttle.HardThreshold {
		return fmt.Errorf("LOGIN_SOFT_THRESHOLD (%d) exceeds LOGIN_HARD_THRESHOLD (%d)",
			c.Throttle.SoftThreshold, c.Throttle.HardThreshold)
	}
	switch strings.ToLower(c.Session.SameSite) {
	case "strict", "lax", "none":
	default:
		return fmt.Errorf("invalid SESSION_SAMESITE %q", c.Session.SameSite)
	}
	return nil
}
