package store

import (
	"database/sql"
	"errors"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/learnlive/learnlive/internal/model"
)

// ErrDuplicate is returned when a unique value (such as an email) is already taken.
var ErrDuplicate = errors.New("already exists")

// CreateUser inserts a new user and returns its id.
func (s *Store) CreateUser(u model.User) (string, error) {
	id := uuid.NewString()
	_, err := s.db.Exec(
		`INSERT INTO users (id, email, password_hash, created_at) VALUES (?, ?, ?, ?)`,
		id, strings.ToLower(u.Email), u.PasswordHash, s.now(),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return "", ErrDuplicate
		}
		slog.Error("failed to create user", "email", u.Email, "error", err)
		return "", err
	}
	slog.Info("created user", "id", id, "email", u.Email)
	return id, nil
}

// GetUserByEmail returns a user by email (case-insensitive), or nil if none exists.
func (s *Store) GetUserByEmail(email string) (*model.User, error) {
	return s.getUser(`SELECT id, email, password_hash, created_at FROM users WHERE email = ?`, strings.ToLower(email))
}

// GetUserByID returns a user by ID, or nil if none exists.
func (s *Store) GetUserByID(id string) (*model.User, error) {
	return s.getUser(`SELECT id, email, password_hash, created_at FROM users WHERE id = ?`, id)
}

func (s *Store) getUser(query string, arg any) (*model.User, error) {
	var u model.User
	err := s.db.QueryRow(query, arg).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// UserCount returns the total number of users.
func (s *Store) UserCount() (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM users`).Scan(&count)
	return count, err
}
