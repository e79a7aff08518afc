package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"catalogo-backend/internal/models"
)

// listAuditLogs handles GET /api/admin/logs with optional filters:
// actor, action, action_prefix, start, end (RFC 3339), limit, offset.
func (a *API) listAuditLogs(c echo.Context) error {
	filter := models.AuditFilter{
		Actor:        c.QueryParam("actor"),
		Action:       c.QueryParam("action"),
		ActionPrefix: c.QueryParam("action_prefix"),
		Limit:        100,
	}

	if v := c.QueryParam("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			filter.Limit = n
		}
	}
	if v := c.QueryParam("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			filter.Offset = n
		}
	}
	if v := c.QueryParam("start"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			filter.StartTime = t
		}
	}
	if v := c.QueryParam("end"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			filter.EndTime = t
		}
	}

	entries, total, err := a.audit.List(filter)
	if err != nil {
		c.Logger().Error("list audit logs error: ", err)
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"success": false,
			"error":   "failed to list audit logs",
		})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"logs":    entries,
		"total":   total,
		"limit":   filter.Limit,
		"offset":  filter.Offset,
	})
}

// listAuditActions handles GET /api/admin/logs/actions
func (a *API) listAuditActions(c echo.Context) error {
	actions, err := a.audit.GetActions()
	if err != nil {
		c.Logger().Error("list audit actions error: ", err)
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"success": false,
			"error":   "failed to list actions",
		})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"actions": actions,
	})
}
