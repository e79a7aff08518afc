package database

import (
	"database/sql"
	"errors"
	"strings"
	"time"

	"catalogo-backend/internal/models"
)

var (
	ErrUserNotFound      = errors.New("user not found")
	ErrUserAlreadyExists = errors.New("user already exists")
)

// UserRepo handles user database operations
type UserRepo struct{}

// NewUserRepo creates a new user repository
func NewUserRepo() *UserRepo {
	return &UserRepo{}
}

// Create creates a new user
func (r *UserRepo) Create(user *models.User) error {
	result, err := DB.Exec(`
		INSERT INTO users (username, password_hash, role)
		VALUES (?, ?, ?)
	`, user.Username, user.PasswordHash, user.Role)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return ErrUserAlreadyExists
		}
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	user.ID = id

	return nil
}

// GetByID retrieves a user by ID
func (r *UserRepo) GetByID(id int64) (*models.User, error) {
	return r.getOne("SELECT id, username, password_hash, role, created_at, updated_at, last_login_at, last_login_ip, last_login_ua FROM users WHERE id = ?", id)
}

// GetByUsername retrieves a user by username
func (r *UserRepo) GetByUsername(username string) (*models.User, error) {
	return r.getOne("SELECT id, username, password_hash, role, created_at, updated_at, last_login_at, last_login_ip, last_login_ua FROM users WHERE username = ?", username)
}

func (r *UserRepo) getOne(query string, arg interface{}) (*models.User, error) {
	user := &models.User{}
	var lastLoginAt sql.NullTime
	var lastLoginIP, lastLoginUA sql.NullString

	err := DB.QueryRow(query, arg).Scan(
		&user.ID, &user.Username, &user.PasswordHash, &user.Role,
		&user.CreatedAt, &user.UpdatedAt, &lastLoginAt, &lastLoginIP, &lastLoginUA,
	)
	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}

	if lastLoginAt.Valid {
		user.LastLoginAt = lastLoginAt.Time
	}
	if lastLoginIP.Valid {
		user.LastLoginIP = lastLoginIP.String
	}
	if lastLoginUA.Valid {
		user.LastLoginUA = lastLoginUA.String
	}

	return user, nil
}

// List retrieves all users ordered by username
func (r *UserRepo) List() ([]*models.User, error) {
	rows, err := DB.Query(`
		SELECT id, username, password_hash, role, created_at, updated_at, last_login_at, last_login_ip, last_login_ua
		FROM users ORDER BY username
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []*models.User
	for rows.Next() {
		user := &models.User{}
		var lastLoginAt sql.NullTime
		var lastLoginIP, lastLoginUA sql.NullString

		err := rows.Scan(
			&user.ID, &user.Username, &user.PasswordHash, &user.Role,
			&user.CreatedAt, &user.UpdatedAt, &lastLoginAt, &lastLoginIP, &lastLoginUA,
		)
		if err != nil {
			return nil, err
		}
		if lastLoginAt.Valid {
			user.LastLoginAt = lastLoginAt.Time
		}
		if lastLoginIP.Valid {
			user.LastLoginIP = lastLoginIP.String
		}
		if lastLoginUA.Valid {
			user.LastLoginUA = lastLoginUA.String
		}
		users = append(users, user)
	}

	return users, rows.Err()
}

// Count returns the total number of users
func (r *UserRepo) Count() (int, error) {
	var count int
	err := DB.QueryRow("SELECT COUNT(*) FROM users").Scan(&count)
	return count, err
}

// UpdatePassword replaces a user's password hash
func (r *UserRepo) UpdatePassword(id int64, passwordHash string) error {
	result, err := DB.Exec(
		"UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ?",
		passwordHash, time.Now(), id,
	)
	if err != nil {
		return err
	}
	return requireRow(result)
}

// UpdateRole changes a user's role
func (r *UserRepo) UpdateRole(id int64, role models.Role) error {
	result, err := DB.Exec(
		"UPDATE users SET role = ?, updated_at = ? WHERE id = ?",
		role, time.Now(), id,
	)
	if err != nil {
		return err
	}
	return requireRow(result)
}

// UpdateLastLogin records last-login metrics on the user row. Callers treat
// a failure here as best-effort: it must never fail the login itself.
func (r *UserRepo) UpdateLastLogin(id int64, ip, uaHash string) error {
	_, err := DB.Exec(
		"UPDATE users SET last_login_at = ?, last_login_ip = ?, last_login_ua = ? WHERE id = ?",
		time.Now(), ip, uaHash, id,
	)
	return err
}

// Delete removes a user
func (r *UserRepo) Delete(id int64) error {
	result, err := DB.Exec("DELETE FROM users WHERE id = ?", id)
	if err != nil {
		return err
	}
	return requireRow(result)
}

func requireRow(result sql.Result) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrUserNotFound
	}
	return nil
}
