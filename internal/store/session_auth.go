package store

import (
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/learnlive/learnlive/internal/model"
)

// AuthSessionTTL is how long a sign-in stays valid.
const AuthSessionTTL = 24 * time.Hour

// CreateAuthSession starts a session for userID and returns its token.
func (s *Store) CreateAuthSession(userID string) (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate session token: %w", err)
	}
	token := hex.EncodeToString(buf)

	now := s.now().UTC()
	if _, err := s.db.Exec(
		`INSERT INTO auth_sessions (id, user_id, created_at, expires_at) VALUES (?, ?, ?, ?)`,
		token, userID, now.Format(TimeLayout), now.Add(AuthSessionTTL).Format(TimeLayout),
	); err != nil {
		return "", fmt.Errorf("insert session for %s: %w", userID, err)
	}
	return token, nil
}

// GetAuthSession returns the live session for token. Unknown and expired
// tokens give nil without an error; expired rows are removed on the way.
func (s *Store) GetAuthSession(token string) (*model.AuthSession, error) {
	var sess model.AuthSession
	var created, expires string
	err := s.db.QueryRow(
		`SELECT id, user_id, created_at, expires_at FROM auth_sessions WHERE id = ?`, token,
	).Scan(&sess.ID, &sess.UserID, &created, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query session: %w", err)
	}

	if sess.CreatedAt, err = time.Parse(TimeLayout, created); err != nil {
		return nil, fmt.Errorf("session %s created_at: %w", token, err)
	}
	if sess.ExpiresAt, err = time.Parse(TimeLayout, expires); err != nil {
		return nil, fmt.Errorf("session %s expires_at: %w", token, err)
	}
	if !s.now().Before(sess.ExpiresAt) {
		if err := s.DeleteAuthSession(token); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return &sess, nil
}

// DeleteAuthSession removes token. Deleting an unknown token is not an error.
func (s *Store) DeleteAuthSession(token string) error {
	if _, err := s.db.Exec(`DELETE FROM auth_sessions WHERE id = ?`, token); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// CleanupExpiredSessions removes every expired session and reports how many went.
func (s *Store) CleanupExpiredSessions() (int64, error) {
	res, err := s.db.Exec(`DELETE FROM auth_sessions WHERE expires_at <= ?`, s.timestamp())
	if err != nil {
		return 0, fmt.Errorf("cleanup sessions: %w", err)
	}
	return res.RowsAffected()
}
