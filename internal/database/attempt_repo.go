package database

import (
	"database/sql"
	"time"

	"catalogo-backend/internal/models"
)

// AttemptRepo owns the login-defense counters: append-only login_attempts
// rows (source of the earliest-attempt timestamp) and rate_limit_windows
// buckets (O(1) per-key counters that reset when stale).
type AttemptRepo struct{}

// NewAttemptRepo creates a new attempt repository
func NewAttemptRepo() *AttemptRepo {
	return &AttemptRepo{}
}

// emptyUsername stands in for a blank submitted username so per-username
// counting still works against blind probes.
const emptyUsername = "(empty)"

func attemptUsername(username string) string {
	if username == "" {
		return emptyUsername
	}
	return username
}

// RecordFailure appends one failed-attempt row and bumps both the per-IP and
// per-username window buckets. The bucket update is a single atomic upsert:
// two simultaneous attempts for the same key cannot both read count=N and
// write count=N+1.
func (r *AttemptRepo) RecordFailure(ip, username string, now time.Time, window time.Duration) error {
	username = attemptUsername(username)

	tx, err := DB.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		"INSERT INTO login_attempts (ip, username, attempt_time) VALUES (?, ?, ?)",
		ip, username, now,
	); err != nil {
		return err
	}

	cutoff := now.Add(-window)
	for _, key := range []string{ip, username} {
		if _, err := tx.Exec(`
			INSERT INTO rate_limit_windows (key, action, request_count, window_start, last_request_at)
			VALUES (?, ?, 1, ?, ?)
			ON CONFLICT(key, action) DO UPDATE SET
				request_count   = CASE WHEN window_start < ? THEN 1 ELSE request_count + 1 END,
				window_start    = CASE WHEN window_start < ? THEN excluded.window_start ELSE window_start END,
				last_request_at = excluded.last_request_at
		`, key, models.ActionLoginAttempt, now, now, cutoff, cutoff); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// Counts returns the attempt counts inside the open window for the IP and
// the username. A bucket whose window_start is older than the cutoff is
// logically expired and counts as zero; it resets on the next write.
func (r *AttemptRepo) Counts(ip, username string, now time.Time, window time.Duration) (int, int, error) {
	cutoff := now.Add(-window)

	byIP, err := r.windowCount(ip, cutoff)
	if err != nil {
		return 0, 0, err
	}
	byUser, err := r.windowCount(attemptUsername(username), cutoff)
	if err != nil {
		return 0, 0, err
	}

	return byIP, byUser, nil
}

func (r *AttemptRepo) windowCount(key string, cutoff time.Time) (int, error) {
	var count int
	err := DB.QueryRow(`
		SELECT request_count FROM rate_limit_windows
		WHERE key = ? AND action = ? AND window_start >= ?
	`, key, models.ActionLoginAttempt, cutoff).Scan(&count)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return count, nil
}

// EarliestAttempt returns the timestamp of the first attempt inside the
// window for either the IP or the username. The lockout clock starts here,
// not at "now", so a sustained attack cannot extend its own block.
func (r *AttemptRepo) EarliestAttempt(ip, username string, now time.Time, window time.Duration) (time.Time, bool, error) {
	var earliest sql.NullTime
	err := DB.QueryRow(`
		SELECT MIN(attempt_time) FROM login_attempts
		WHERE (ip = ? OR username = ?) AND attempt_time >= ?
	`, ip, attemptUsername(username), now.Add(-window)).Scan(&earliest)
	if err != nil {
		return time.Time{}, false, err
	}
	if !earliest.Valid {
		return time.Time{}, false, nil
	}
	return earliest.Time, true, nil
}

// Clear removes attempt history for an (ip, username) pair after a
// successful login. The username bucket goes with it, but the IP bucket
// only sheds the pair's share: failures against other usernames from the
// same address keep counting, so clearing one account cannot reset the
// per-IP pressure.
func (r *AttemptRepo) Clear(ip, username string) error {
	username = attemptUsername(username)

	tx, err := DB.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		"DELETE FROM login_attempts WHERE ip = ? AND username = ?",
		ip, username,
	); err != nil {
		return err
	}
	if _, err := tx.Exec(
		"DELETE FROM rate_limit_windows WHERE key = ? AND action = ?",
		username, models.ActionLoginAttempt,
	); err != nil {
		return err
	}

	// Recount the IP bucket from the surviving rows.
	if _, err := tx.Exec(`
		UPDATE rate_limit_windows
		SET request_count = (
			SELECT COUNT(*) FROM login_attempts
			WHERE ip = ? AND attempt_time >= rate_limit_windows.window_start
		)
		WHERE key = ? AND action = ?
	`, ip, ip, models.ActionLoginAttempt); err != nil {
		return err
	}
	if _, err := tx.Exec(
		"DELETE FROM rate_limit_windows WHERE key = ? AND action = ? AND request_count = 0",
		ip, models.ActionLoginAttempt,
	); err != nil {
		return err
	}

	return tx.Commit()
}

// PurgeBefore deletes attempt rows older than the cutoff and window buckets
// whose last request predates it. Retention is independent of the active
// window.
func (r *AttemptRepo) PurgeBefore(cutoff time.Time) (int64, error) {
	result, err := DB.Exec("DELETE FROM login_attempts WHERE attempt_time < ?", cutoff)
	if err != nil {
		return 0, err
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}

	if _, err := DB.Exec("DELETE FROM rate_limit_windows WHERE last_request_at < ?", cutoff); err != nil {
		return deleted, err
	}

	return deleted, nil
}

// Window returns the raw bucket for a key, mostly for inspection and tests
func (r *AttemptRepo) Window(key string) (*models.RateLimitWindow, error) {
	w := &models.RateLimitWindow{}
	err := DB.QueryRow(`
		SELECT key, action, request_count, window_start, last_request_at
		FROM rate_limit_windows WHERE key = ? AND action = ?
	`, key, models.ActionLoginAttempt).Scan(
		&w.Key, &w.Action, &w.RequestCount, &w.WindowStart, &w.LastRequestAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return w, nil
}
