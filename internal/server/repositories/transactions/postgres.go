// Package transactions stores settlement and transfer records.
package transactions

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/dmitrijs2005/paykeeper/internal/common"
	"github.com/dmitrijs2005/paykeeper/internal/dbx"
	"github.com/dmitrijs2005/paykeeper/internal/server/models"
)

const invalidTextRepresentation = "22P02"

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts tx. ExecutedAt is set by the database when the initial
// status is executed.
func (r *PostgresRepository) Create(ctx context.Context, tx *models.Transaction) (*models.Transaction, error) {
	query := `
		INSERT INTO transactions (user_id, tx_data, status, signature, network, executed_at)
		VALUES ($1, $2, $3, $4, $5, CASE WHEN $3 = 'executed' THEN now() END)
		RETURNING id, created_at, executed_at
	`
	data := tx.TxData
	if len(data) == 0 {
		data = json.RawMessage(`{}`)
	}

	var executedAt sql.NullTime
	err := r.db.QueryRowContext(ctx, query, tx.UserID, []byte(data), tx.Status, tx.Signature, tx.Network).
		Scan(&tx.ID, &tx.CreatedAt, &executedAt)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	if executedAt.Valid {
		tx.ExecutedAt = &executedAt.Time
	}
	tx.TxData = data
	return tx, nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.Transaction, error) {
	query := `
		SELECT id, user_id, tx_data, status, signature, job_id, network, receipt_key, created_at, executed_at
		FROM transactions
		WHERE id = $1
	`
	tx := &models.Transaction{}
	var data []byte
	var signature, jobID, receiptKey sql.NullString
	var executedAt sql.NullTime

	err := r.db.QueryRowContext(ctx, query, id).Scan(&tx.ID, &tx.UserID, &data, &tx.Status, &signature, &jobID,
		&tx.Network, &receiptKey, &tx.CreatedAt, &executedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) || malformedID(err) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	tx.TxData = json.RawMessage(data)
	if signature.Valid {
		tx.Signature = &signature.String
	}
	if jobID.Valid {
		tx.JobID = &jobID.String
	}
	if receiptKey.Valid {
		tx.ReceiptKey = &receiptKey.String
	}
	if executedAt.Valid {
		tx.ExecutedAt = &executedAt.Time
	}
	return tx, nil
}

func (r *PostgresRepository) Advance(ctx context.Context, id, from, to string, signature *string) (bool, error) {
	query := `
		UPDATE transactions
		SET status = $3,
		    signature = COALESCE($4, signature),
		    executed_at = CASE WHEN $3 = 'executed' THEN now() ELSE executed_at END
		WHERE id = $1 AND status = $2
	`
	res, err := r.db.ExecContext(ctx, query, id, from, to, signature)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return n > 0, nil
}

func (r *PostgresRepository) setColumn(ctx context.Context, column, id, value string) error {
	query := `UPDATE transactions SET ` + column + ` = $2 WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id, value)
	if err != nil {
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

func (r *PostgresRepository) SetJobID(ctx context.Context, id, jobID string) error {
	return r.setColumn(ctx, "job_id", id, jobID)
}

func (r *PostgresRepository) SetReceiptKey(ctx context.Context, id, key string) error {
	return r.setColumn(ctx, "receipt_key", id, key)
}

// malformedID reports a non-UUID id rejected by Postgres; such a row cannot exist.
func malformedID(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == invalidTextRepresentation
}
