package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"catalogo-backend/internal/auth"
	"catalogo-backend/internal/database"
	"catalogo-backend/internal/models"
)

// listUsers handles GET /api/admin/users
func (a *API) listUsers(c echo.Context) error {
	users, err := a.users.List()
	if err != nil {
		c.Logger().Error("list users error: ", err)
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"success": false,
			"error":   "failed to list users",
		})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"users":   users,
	})
}

// createUser handles POST /api/admin/users
func (a *API) createUser(c echo.Context) error {
	var req models.CreateUserRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"success": false,
			"error":   "invalid request body",
		})
	}

	if len(req.Username) < 3 {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"success": false,
			"error":   "username must be at least 3 characters",
		})
	}
	if len(req.Password) < 8 {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"success": false,
			"error":   "password must be at least 8 characters",
		})
	}
	if req.Role == "" {
		req.Role = models.RoleUser
	}
	if !req.Role.Valid() {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"success": false,
			"error":   "invalid role",
		})
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		c.Logger().Error("hash error: ", err)
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"success": false,
			"error":   "failed to create user",
		})
	}

	user := &models.User{Username: req.Username, PasswordHash: hash, Role: req.Role}
	if err := a.users.Create(user); err != nil {
		if errors.Is(err, database.ErrUserAlreadyExists) {
			return c.JSON(http.StatusConflict, map[string]interface{}{
				"success": false,
				"error":   "username already exists",
			})
		}
		c.Logger().Error("create user error: ", err)
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"success": false,
			"error":   "failed to create user",
		})
	}

	a.auditMutation(c, models.ActionUserCreate, user.Username, map[string]interface{}{"role": user.Role})

	return c.JSON(http.StatusCreated, map[string]interface{}{
		"success": true,
		"user":    user,
	})
}

// updateUserPassword handles PUT /api/admin/users/:id/password.
// Admins may force-set any password; everyone else changes only their own
// and must present the current one.
func (a *API) updateUserPassword(c echo.Context) error {
	targetID, err := parseID(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"success": false,
			"error":   "invalid user ID",
		})
	}

	var req models.UpdatePasswordRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"success": false,
			"error":   "invalid request body",
		})
	}
	if len(req.NewPassword) < 8 {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"success": false,
			"error":   "password must be at least 8 characters",
		})
	}

	target, err := a.users.GetByID(targetID)
	if err != nil {
		if errors.Is(err, database.ErrUserNotFound) {
			return c.JSON(http.StatusNotFound, map[string]interface{}{
				"success": false,
				"error":   "user not found",
			})
		}
		c.Logger().Error("get user error: ", err)
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"success": false,
			"error":   "failed to update password",
		})
	}

	session := auth.GetSessionFromContext(c)
	self := session.Username == target.Username

	if !self && session.Role != models.RoleAdmin {
		return c.JSON(http.StatusForbidden, map[string]interface{}{
			"success": false,
			"error":   "insufficient permissions",
		})
	}
	if self && session.Role != models.RoleAdmin {
		if !auth.VerifyPassword(req.CurrentPassword, target.PasswordHash) {
			return c.JSON(http.StatusUnauthorized, map[string]interface{}{
				"success": false,
				"error":   "current password is incorrect",
			})
		}
	}

	hash, err := auth.HashPassword(req.NewPassword)
	if err != nil {
		c.Logger().Error("hash error: ", err)
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"success": false,
			"error":   "failed to update password",
		})
	}
	if err := a.users.UpdatePassword(target.ID, hash); err != nil {
		c.Logger().Error("update password error: ", err)
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"success": false,
			"error":   "failed to update password",
		})
	}

	a.auditMutation(c, models.ActionPasswordChange, target.Username, map[string]interface{}{"self": self})

	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "password updated",
	})
}

// updateUserRole handles PUT /api/admin/users/:id/role
func (a *API) updateUserRole(c echo.Context) error {
	targetID, err := parseID(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"success": false,
			"error":   "invalid user ID",
		})
	}

	var req models.UpdateRoleRequest
	if err := c.Bind(&req); err != nil || !req.Role.Valid() {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"success": false,
			"error":   "invalid role",
		})
	}

	target, err := a.users.GetByID(targetID)
	if err != nil {
		if errors.Is(err, database.ErrUserNotFound) {
			return c.JSON(http.StatusNotFound, map[string]interface{}{
				"success": false,
				"error":   "user not found",
			})
		}
		c.Logger().Error("get user error: ", err)
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"success": false,
			"error":   "failed to update role",
		})
	}

	// Changing your own role is refused; demoting yourself locks the panel.
	session := auth.GetSessionFromContext(c)
	if session.Username == target.Username {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"success": false,
			"error":   "cannot change your own role",
		})
	}

	if err := a.users.UpdateRole(target.ID, req.Role); err != nil {
		c.Logger().Error("update role error: ", err)
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"success": false,
			"error":   "failed to update role",
		})
	}

	a.auditMutation(c, models.ActionUserRoleChange, target.Username, map[string]interface{}{"role": req.Role})

	// Sessions carry the role they were issued with, so they cannot
	// outlive a role change.
	a.revokeSessions(c, target.Username)

	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "role updated",
	})
}

// deleteUser handles DELETE /api/admin/users/:id
func (a *API) deleteUser(c echo.Context) error {
	targetID, err := parseID(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"success": false,
			"error":   "invalid user ID",
		})
	}

	target, err := a.users.GetByID(targetID)
	if err != nil {
		if errors.Is(err, database.ErrUserNotFound) {
			return c.JSON(http.StatusNotFound, map[string]interface{}{
				"success": false,
				"error":   "user not found",
			})
		}
		c.Logger().Error("get user error: ", err)
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"success": false,
			"error":   "failed to delete user",
		})
	}

	session := auth.GetSessionFromContext(c)
	if session.Username == target.Username {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"success": false,
			"error":   "cannot delete your own account",
		})
	}

	if err := a.users.Delete(target.ID); err != nil {
		c.Logger().Error("delete user error: ", err)
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"success": false,
			"error":   "failed to delete user",
		})
	}

	a.auditMutation(c, models.ActionUserDelete, target.Username, nil)
	a.revokeSessions(c, target.Username)

	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "user deleted",
	})
}

// revokeSessions destroys the target's live sessions after an admin
// mutation, best effort
func (a *API) revokeSessions(c echo.Context, username string) {
	revoked, err := a.sessions.DeleteByUsername(username)
	if err != nil {
		c.Logger().Error("session revoke error: ", err)
		return
	}
	if revoked > 0 {
		a.auditMutation(c, models.ActionSessionRevoked, username,
			map[string]interface{}{"sessions": revoked})
	}
}

// auditMutation records an admin mutation, best effort
func (a *API) auditMutation(c echo.Context, action, target string, metadata interface{}) {
	session := auth.GetSessionFromContext(c)
	actor := ""
	if session != nil {
		actor = session.Username
	}
	if err := a.audit.Log(actor, action, target, c.RealIP(), metadata); err != nil {
		c.Logger().Error("audit write failed: ", err)
	}
}

func parseID(s string) (int64, error) {
	return strconv.ParseInt(s, 10, 64)
}
