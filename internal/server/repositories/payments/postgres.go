// Package payments provides PostgreSQL-backed storage for payment links and
// payment requests. Both kinds share one implementation parameterized by
// table.
package payments

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

const invalidTextRepresentation = "22P02"

type table struct {
	name    string
	columns string
}

var tables = map[models.PaymentKind]table{
	models.KindLink: {
		name: "payment_links",
		columns: `id, short_id, creator_id, NULL AS payer_id, NULL AS payer_email, amount, token_type, note,
		 status, expires_at, created_at, completed_at, transaction_id`,
	},
	models.KindRequest: {
		name: "payment_requests",
		columns: `id, short_id, creator_id, payer_id, payer_email, amount, token_type, note,
		 status, expires_at, created_at, completed_at, transaction_id`,
	},
}

type PostgresRepository struct {
	db   dbx.DBTX
	kind models.PaymentKind
	t    table
}

// NewPostgresRepository panics on an unknown kind.
func NewPostgresRepository(db dbx.DBTX, kind models.PaymentKind) *PostgresRepository {
	t, ok := tables[kind]
	if !ok {
		panic(fmt.Sprintf("payments: unknown kind %q", kind))
	}
	return &PostgresRepository{db: db, kind: kind, t: t}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *PostgresRepository) scan(row rowScanner) (*models.PaymentObject, error) {
	p := &models.PaymentObject{Kind: r.kind}
	var payerID, payerEmail, txID sql.NullString
	var completedAt sql.NullTime

	err := row.Scan(&p.ID, &p.ShortID, &p.CreatorID, &payerID, &payerEmail, &p.Amount, &p.TokenType, &p.Note,
		&p.Status, &p.ExpiresAt, &p.CreatedAt, &completedAt, &txID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) || malformedID(err) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	if payerID.Valid {
		p.PayerID = &payerID.String
	}
	if payerEmail.Valid {
		p.PayerEmail = &payerEmail.String
	}
	if completedAt.Valid {
		p.CompletedAt = &completedAt.Time
	}
	if txID.Valid {
		p.TransactionID = &txID.String
	}
	return p, nil
}

func (r *PostgresRepository) Create(ctx context.Context, p *models.PaymentObject) (*models.PaymentObject, error) {
	var row *sql.Row

	switch r.kind {
	case models.KindRequest:
		query := `INSERT INTO payment_requests
			(short_id, creator_id, payer_id, payer_email, amount, token_type, note, status, expires_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			RETURNING id, created_at`
		row = r.db.QueryRowContext(ctx, query, p.ShortID, p.CreatorID, p.PayerID, p.PayerEmail,
			p.Amount, p.TokenType, p.Note, p.Status, p.ExpiresAt)
	default:
		query := `INSERT INTO payment_links
			(short_id, creator_id, amount, token_type, note, status, expires_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING id, created_at`
		row = r.db.QueryRowContext(ctx, query, p.ShortID, p.CreatorID,
			p.Amount, p.TokenType, p.Note, p.Status, p.ExpiresAt)
	}

	if err := row.Scan(&p.ID, &p.CreatedAt); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	p.Kind = r.kind
	return p, nil
}

func (r *PostgresRepository) ShortIDExists(ctx context.Context, shortID string) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM ` + r.t.name + ` WHERE short_id = $1)`
	var exists bool
	if err := r.db.QueryRowContext(ctx, query, shortID).Scan(&exists); err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return exists, nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.PaymentObject, error) {
	query := `SELECT ` + r.t.columns + ` FROM ` + r.t.name + ` WHERE id = $1`
	return r.scan(r.db.QueryRowContext(ctx, query, id))
}

func (r *PostgresRepository) GetByShortID(ctx context.Context, shortID string) (*models.PaymentObject, error) {
	query := `SELECT ` + r.t.columns + ` FROM ` + r.t.name + ` WHERE short_id = $1`
	return r.scan(r.db.QueryRowContext(ctx, query, shortID))
}

func (r *PostgresRepository) ListByCreator(ctx context.Context, creatorID string) ([]*models.PaymentObject, error) {
	query := `SELECT ` + r.t.columns + ` FROM ` + r.t.name + `
		 WHERE creator_id = $1
		 ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, creatorID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var items []*models.PaymentObject
	for rows.Next() {
		p, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return items, nil
}

func (r *PostgresRepository) exec(ctx context.Context, query string, args ...any) (bool, error) {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return n > 0, nil
}

func (r *PostgresRepository) Transition(ctx context.Context, id, from, to string) (bool, error) {
	query := `UPDATE ` + r.t.name + ` SET status = $3 WHERE id = $1 AND status = $2`
	return r.exec(ctx, query, id, from, to)
}

func (r *PostgresRepository) MarkCompleted(ctx context.Context, id, open string) (bool, error) {
	query := `UPDATE ` + r.t.name + `
		 SET status = $3, completed_at = now()
		 WHERE id = $1 AND status = $2 AND expires_at > now()`
	return r.exec(ctx, query, id, open, common.StatusCompleted)
}

func (r *PostgresRepository) AttachTransaction(ctx context.Context, id, transactionID string) error {
	query := `UPDATE ` + r.t.name + ` SET transaction_id = $2 WHERE id = $1`
	ok, err := r.exec(ctx, query, id, transactionID)
	if err != nil {
		return err
	}
	if !ok {
		return common.ErrorNotFound
	}
	return nil
}

// malformedID reports a non-UUID id rejected by Postgres; such a row cannot exist.
func malformedID(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == invalidTextRepresentation
}
