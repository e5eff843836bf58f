package sessions

import (
	"context"
	"time"

	"github.com/dmitrijs2005/paykeeper/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, userID, token, provider string, validity time.Duration) (*models.Session, error)
	Find(ctx context.Context, token string) (*models.Session, error)
	Delete(ctx context.Context, token string) error
}
