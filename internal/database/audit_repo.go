package database

import (
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"catalogo-backend/internal/models"
)

// ErrNotFound is returned when an entity is not found
var ErrNotFound = errors.New("not found")

// AuditRepo handles audit log database operations. The log is append-only:
// nothing in the application mutates or deletes entries except the
// retention purge.
type AuditRepo struct{}

// NewAuditRepo creates a new audit repository
func NewAuditRepo() *AuditRepo {
	return &AuditRepo{}
}

// Create creates a new audit log entry
func (r *AuditRepo) Create(entry *models.AuditEntry) error {
	result, err := DB.Exec(`
		INSERT INTO audit_logs (timestamp, actor, action, target, metadata, ip_address)
		VALUES (?, ?, ?, ?, ?, ?)
	`, entry.Timestamp, entry.Actor, entry.Action, entry.Target, entry.Metadata, entry.IPAddress)
	if err != nil {
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	entry.ID = id
	return nil
}

// Log is a convenience method to create an audit entry with the current
// timestamp and JSON-encoded metadata
func (r *AuditRepo) Log(actor, action, target, ip string, metadata interface{}) error {
	var metadataJSON string
	if metadata != nil {
		b, err := json.Marshal(metadata)
		if err != nil {
			metadataJSON = "{}"
		} else {
			metadataJSON = string(b)
		}
	}

	return r.Create(&models.AuditEntry{
		Timestamp: time.Now(),
		Actor:     actor,
		Action:    action,
		Target:    target,
		Metadata:  metadataJSON,
		IPAddress: ip,
	})
}

// List retrieves audit logs with pagination and optional filters
func (r *AuditRepo) List(filter models.AuditFilter) ([]*models.AuditEntry, int, error) {
	baseQuery := "FROM audit_logs WHERE 1=1"
	args := []interface{}{}

	if filter.Actor != "" {
		baseQuery += " AND actor = ?"
		args = append(args, filter.Actor)
	}
	if filter.Action != "" {
		baseQuery += " AND action = ?"
		args = append(args, filter.Action)
	}
	if filter.ActionPrefix != "" {
		baseQuery += " AND action LIKE ?"
		args = append(args, filter.ActionPrefix+"%")
	}
	if !filter.StartTime.IsZero() {
		baseQuery += " AND timestamp >= ?"
		args = append(args, filter.StartTime)
	}
	if !filter.EndTime.IsZero() {
		baseQuery += " AND timestamp <= ?"
		args = append(args, filter.EndTime)
	}

	var total int
	if err := DB.QueryRow("SELECT COUNT(*) "+baseQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := "SELECT id, timestamp, actor, action, target, metadata, ip_address " + baseQuery
	query += " ORDER BY timestamp DESC"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}
	if filter.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, filter.Offset)
	}

	rows, err := DB.Query(query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var entries []*models.AuditEntry
	for rows.Next() {
		entry := &models.AuditEntry{}
		var target, metadata, ipAddress sql.NullString

		if err := rows.Scan(
			&entry.ID, &entry.Timestamp, &entry.Actor, &entry.Action,
			&target, &metadata, &ipAddress,
		); err != nil {
			return nil, 0, err
		}

		if target.Valid {
			entry.Target = target.String
		}
		if metadata.Valid {
			entry.Metadata = metadata.String
		}
		if ipAddress.Valid {
			entry.IPAddress = ipAddress.String
		}

		entries = append(entries, entry)
	}

	return entries, total, rows.Err()
}

// GetActions returns the distinct actions present in the audit log
func (r *AuditRepo) GetActions() ([]string, error) {
	rows, err := DB.Query("SELECT DISTINCT action FROM audit_logs ORDER BY action")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var actions []string
	for rows.Next() {
		var action string
		if err := rows.Scan(&action); err != nil {
			return nil, err
		}
		actions = append(actions, action)
	}

	return actions, rows.Err()
}

// DeleteOlderThan deletes audit logs older than the specified time
func (r *AuditRepo) DeleteOlderThan(t time.Time) (int64, error) {
	result, err := DB.Exec("DELETE FROM audit_logs WHERE timestamp < ?", t)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
