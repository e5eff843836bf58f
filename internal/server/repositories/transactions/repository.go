package transactions

import (
	"context"

	"github.com/dmitrijs2005/paykeeper/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, tx *models.Transaction) (*models.Transaction, error)
	GetByID(ctx context.Context, id string) (*models.Transaction, error)
	// Advance moves a transaction from status from to status to, optionally
	// recording a signature, and reports whether the row matched.
	Advance(ctx context.Context, id, from, to string, signature *string) (bool, error)
	SetJobID(ctx context.Context, id, jobID string) error
	SetReceiptKey(ctx context.Context, id, key string) error
}
