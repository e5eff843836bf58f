// Package users provides the PostgreSQL-backed user repository.
package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/dmitrijs2005/paykeeper/internal/common"
	"github.com/dmitrijs2005/paykeeper/internal/dbx"
	"github.com/dmitrijs2005/paykeeper/internal/server/models"
)

const uniqueViolation = "23505"

const userColumns = `id, email, username, solana_address, evm_address, server_share, salt,
		 backup_share, encrypted_mnemonic, mnemonic_salt, has_passcode, created_at, updated_at`

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*models.User, error) {
	u := &models.User{}
	var username, solana, evm sql.NullString
	err := row.Scan(&u.ID, &u.Email, &username, &solana, &evm, &u.ServerShare, &u.Salt,
		&u.BackupShare, &u.EncryptedMnemonic, &u.MnemonicSalt, &u.HasPasscode, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	if username.Valid {
		u.Username = &username.String
	}
	if solana.Valid {
		u.SolanaAddress = &solana.String
	}
	if evm.Valid {
		u.EVMAddress = &evm.String
	}
	return u, nil
}

// UpsertByEmail returns the user with email, creating it on first sign-in.
func (r *PostgresRepository) UpsertByEmail(ctx context.Context, email string) (*models.User, error) {
	query :=
		`INSERT INTO users (email)
		 VALUES ($1)
		 ON CONFLICT (email) DO UPDATE SET updated_at = now()
		 RETURNING ` + userColumns

	return scanUser(r.db.QueryRowContext(ctx, query, email))
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUser(r.db.QueryRowContext(ctx, query, id))
}

func (r *PostgresRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	return scanUser(r.db.QueryRowContext(ctx, query, email))
}

func (r *PostgresRepository) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE username = $1`
	return scanUser(r.db.QueryRowContext(ctx, query, username))
}

// SetUsername fails with a conflict when another user holds the name.
func (r *PostgresRepository) SetUsername(ctx context.Context, id string, username string) error {
	query :=
		`UPDATE users SET username = $2, updated_at = now()
		 WHERE id = $1`

	res, err := r.db.ExecContext(ctx, query, id, username)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return common.NewConflictError("", "username already taken")
		}
		return fmt.Errorf("db error: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}

func (r *PostgresRepository) SetWallet(ctx context.Context, id string, w models.WalletUpdate) (bool, error) {
	query :=
		`UPDATE users
		 SET solana_address = $2, evm_address = $3, server_share = $4, salt = $5,
		     has_passcode = TRUE, updated_at = now()
		 WHERE id = $1 AND has_passcode = FALSE`

	res, err := r.db.ExecContext(ctx, query, id, w.SolanaAddress, w.EVMAddress, w.ServerShare, w.Salt)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return n > 0, nil
}
