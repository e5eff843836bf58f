// Package sessions provides a PostgreSQL-backed repository for federated
// sign-in sessions referenced by the session cookie.
package sessions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/paykeeper/internal/common"
	"github.com/dmitrijs2005/paykeeper/internal/dbx"
	"github.com/dmitrijs2005/paykeeper/internal/server/models"
)

// PostgresRepository works over dbx.DBTX (satisfied by *sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts a session for userID expiring at now+validity.
func (r *PostgresRepository) Create(ctx context.Context, userID, token, provider string, validity time.Duration) (*models.Session, error) {
	query := `
		INSERT INTO sessions (user_id, session_token, provider, expires)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`
	s := &models.Session{UserID: userID, SessionToken: token, Provider: provider, Expires: time.Now().Add(validity)}
	if err := r.db.QueryRowContext(ctx, query, userID, token, provider, s.Expires).Scan(&s.ID, &s.CreatedAt); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return s, nil
}

// Find returns the session for token or common.ErrorNotFound. Expiry is
// left to the caller.
func (r *PostgresRepository) Find(ctx context.Context, token string) (*models.Session, error) {
	query := `
		SELECT id, user_id, session_token, provider, expires, created_at
		FROM sessions
		WHERE session_token = $1
	`
	s := &models.Session{}
	err := r.db.QueryRowContext(ctx, query, token).
		Scan(&s.ID, &s.UserID, &s.SessionToken, &s.Provider, &s.Expires, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return s, nil
}

func (r *PostgresRepository) Delete(ctx context.Context, token string) error {
	query := `
		DELETE FROM sessions
		WHERE session_token = $1
	`
	if _, err := r.db.ExecContext(ctx, query, token); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}
