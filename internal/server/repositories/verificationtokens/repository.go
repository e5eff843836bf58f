package verificationtokens

import (
	"context"
	"time"
)

type Repository interface {
	DeleteByIdentifier(ctx context.Context, identifier string) error
	Create(ctx context.Context, identifier, token string, expires time.Time) error
	// Consume deletes the matching unexpired token and reports whether one
	// existed. Of concurrent callers at most one sees true.
	Consume(ctx context.Context, identifier, token string) (bool, error)
	DeleteExpired(ctx context.Context) (int64, error)
}
