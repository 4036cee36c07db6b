// internal/store/user.go
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jason-s-yu/tetrion/internal/auth"
	"github.com/jason-s-yu/tetrion/internal/models"
)

// CreateUser inserts a new user. The email must be unused, compared
// case-insensitively; otherwise ErrEmailTaken is returned.
func (s *Store) CreateUser(name, email, passwordHash string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var existing int64
	err := s.db.QueryRow(`SELECT id FROM users WHERE email = ? COLLATE NOCASE`, email).Scan(&existing)
	switch {
	case err == nil:
		return nil, ErrEmailTaken
	case !errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("check email: %w", err)
	}

	now := time.Now().UTC()
	res, err := s.db.Exec(
		`INSERT INTO users (name, email, password_hash, created_at) VALUES (?, ?, ?, ?)`,
		name, email, passwordHash, now,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}

	return &models.User{
		ID:           id,
		Name:         name,
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    now,
	}, nil
}

// LoginUser authenticates by constant-time verifier comparison and, on
// success, stamps last_login_at. Unknown emails and mismatched verifiers are
// both ErrInvalidCredentials.
func (s *Store) LoginUser(email, passwordHash string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, err := s.getUserWhere(`email = ? COLLATE NOCASE`, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !auth.VerifierEqual(u.PasswordHash, passwordHash) {
		return nil, ErrInvalidCredentials
	}

	now := time.Now().UTC()
	if _, err := s.db.Exec(`UPDATE users SET last_login_at = ? WHERE id = ?`, now, u.ID); err != nil {
		return nil, fmt.Errorf("stamp last login: %w", err)
	}
	u.LastLoginAt = &now
	return u, nil
}

// GetUser fetches a user by id.
func (s *Store) GetUser(id int64) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getUserWhere(`id = ?`, id)
}

// GetUserByEmail fetches a user by email, case-insensitively.
func (s *Store) GetUserByEmail(email string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getUserWhere(`email = ? COLLATE NOCASE`, email)
}

// UpdateUser applies a partial update. Only the name may change; identity
// fields are immutable.
func (s *Store) UpdateUser(id int64, name string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`UPDATE users SET name = ? WHERE id = ?`, name, id)
	if err != nil {
		return nil, fmt.Errorf("update user: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}
	return s.getUserWhere(`id = ?`, id)
}

// DeleteUser removes a user. Maintenance action; the protocol never deletes
// users on behalf of clients.
func (s *Store) DeleteUser(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) getUserWhere(where string, arg any) (*models.User, error) {
	var u models.User
	var lastLogin sql.NullTime
	err := s.db.QueryRow(
		`SELECT id, name, email, password_hash, created_at, last_login_at FROM users WHERE `+where, arg,
	).Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.CreatedAt, &lastLogin)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query user: %w", err)
	}
	if lastLogin.Valid {
		t := lastLogin.Time
		u.LastLoginAt = &t
	}
	return &u, nil
}
