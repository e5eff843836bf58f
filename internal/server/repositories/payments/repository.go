package payments

import (
	"context"

	"github.com/dmitrijs2005/paykeeper/internal/server/models"
)

// Repository stores payment objects of one kind.
type Repository interface {
	Create(ctx context.Context, p *models.PaymentObject) (*models.PaymentObject, error)
	ShortIDExists(ctx context.Context, shortID string) (bool, error)
	GetByID(ctx context.Context, id string) (*models.PaymentObject, error)
	GetByShortID(ctx context.Context, shortID string) (*models.PaymentObject, error)
	ListByCreator(ctx context.Context, creatorID string) ([]*models.PaymentObject, error)
	// Transition moves id from status from to status to and reports
	// whether the row matched.
	Transition(ctx context.Context, id, from, to string) (bool, error)
	// MarkCompleted moves id from the open status to COMPLETED.
	MarkCompleted(ctx context.Context, id, open string) (bool, error)
	AttachTransaction(ctx context.Context, id, transactionID string) error
}
