package users

import (
	"context"

	"github.com/dmitrijs2005/paykeeper/internal/server/models"
)

type Repository interface {
	UpsertByEmail(ctx context.Context, email string) (*models.User, error)
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetByUsername(ctx context.Context, username string) (*models.User, error)
	SetUsername(ctx context.Context, id string, username string) error
	// SetWallet stores wallet material only if no passcode is set yet and
	// reports whether the row was updated.
	SetWallet(ctx context.Context, id string, w models.WalletUpdate) (bool, error)
}
