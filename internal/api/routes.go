package api

import (
	"github.com/labstack/echo/v4"

	"catalogo-backend/internal/auth"
)

// RegisterRoutes wires all API routes onto the group
func (a *API) RegisterRoutes(g *echo.Group) {
	// Public auth endpoints. The login POST runs its own throttle and CSRF
	// checks inside the orchestrator, so no middleware here.
	authGroup := g.Group("/auth")
	authGroup.GET("/login", a.getLogin)
	authGroup.POST("/login", a.postLogin)
	authGroup.GET("/check", a.checkSession)
	authGroup.POST("/logout", a.logout)

	// Authenticated panel endpoints: session guard plus CSRF on mutations.
	panel := g.Group("/admin", auth.RequireAuth(a.svc, a.cfg), auth.RequireCSRF(a.svc))
	panel.PUT("/users/:id/password", a.updateUserPassword) // self or admin, checked in handler

	adminOnly := panel.Group("", auth.RequireAdmin())
	adminOnly.GET("/users", a.listUsers)
	adminOnly.POST("/users", a.createUser)
	adminOnly.PUT("/users/:id/role", a.updateUserRole)
	adminOnly.DELETE("/users/:id", a.deleteUser)
	adminOnly.GET("/logs", a.listAuditLogs)
	adminOnly.GET("/logs/actions", a.listAuditActions)
}
