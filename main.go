package main

import (
	"log"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"catalogo-backend/internal/api"
	"catalogo-backend/internal/auth"
	"catalogo-backend/internal/config"
	"catalogo-backend/internal/database"
	"catalogo-backend/internal/models"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	log.Printf("Initializing database at %s", cfg.Database.Path)
	if err := database.Open(database.Config{Path: cfg.Database.Path}); err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer database.Close()

	if err := createDefaultAdminIfNeeded(); err != nil {
		log.Printf("Warning: failed to create default admin: %v", err)
	}

	var verifier auth.ChallengeVerifier
	if cfg.Recaptcha.Enabled() {
		verifier = auth.NewRecaptchaVerifier(cfg.Recaptcha)
		log.Println("reCAPTCHA challenge gate enabled")
	}

	authSvc := auth.NewService(cfg, verifier)

	go maintenanceLoop(cfg, authSvc)

	e := echo.New()
	e.HideBanner = true

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     cfg.Server.CORSOrigins,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders:     []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, "X-CSRF-Token"},
		AllowCredentials: true,
	}))

	apiGroup := e.Group("/api")
	api.New(cfg, authSvc).RegisterRoutes(apiGroup)

	log.Printf("Starting catalogo backend on port %s", cfg.Server.Port)
	e.Logger.Fatal(e.Start(":" + cfg.Server.Port))
}

// maintenanceLoop sweeps expired sessions and stale attempt history.
// Sessions past the absolute limit are dead regardless of activity, so
// anything idle beyond the larger of the two limits can go.
func maintenanceLoop(cfg *config.Config, svc *auth.Service) {
	sessions := database.NewSessionRepo()
	cutoffAge := cfg.Session.IdleMax
	if cfg.Session.AbsoluteMax > cutoffAge {
		cutoffAge = cfg.Session.AbsoluteMax
	}

	ticker := time.NewTicker(10 * time.Minute)
	for range ticker.C {
		now := time.Now()
		if n, err := sessions.DeleteIdleBefore(now.Add(-cutoffAge)); err != nil {
			log.Printf("session sweep failed: %v", err)
		} else if n > 0 {
			log.Printf("session sweep removed %d stale sessions", n)
		}
		svc.Throttle().Purge(now)
	}
}

// createDefaultAdminIfNeeded creates a default admin user if no users exist
func createDefaultAdminIfNeeded() error {
	userRepo := database.NewUserRepo()

	count, err := userRepo.Count()
	if err != nil {
		return err
	}
	if count > 0 {
		return nil // Users already exist
	}

	log.Println("Creating default admin user (admin/admin) - CHANGE THIS PASSWORD!")

	passwordHash, err := auth.HashPassword("admin")
	if err != nil {
		return err
	}

	return userRepo.Create(&models.User{
		Username:     "admin",
		PasswordHash: passwordHash,
		Role:         models.RoleAdmin,
	})
}
