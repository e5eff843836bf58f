// Package auth implements the identity bridge: self-issued HS256 tokens,
// federated sessions, cookies and the OAuth sign-in round-trip.
package auth

import (
	"context"

	"github.com/golang-jwt/jwt/v5"

	"github.com/dmitrijs2005/paykeeper/internal/server/models"
)

// Claims is the normalized identity every credential source produces.
type Claims struct {
	jwt.RegisteredClaims
	UserID        string `json:"userId"`
	Email         string `json:"email"`
	SolanaAddress string `json:"solanaAddress,omitempty"`
	HasPasscode   bool   `json:"hasPasscode"`
	Username      string `json:"username,omitempty"`
}

// ClaimsFromUser builds claims from the persisted user row.
func ClaimsFromUser(u *models.User) *Claims {
	c := &Claims{
		UserID:      u.ID,
		Email:       u.Email,
		HasPasscode: u.HasPasscode,
	}
	if u.SolanaAddress != nil {
		c.SolanaAddress = *u.SolanaAddress
	}
	if u.Username != nil {
		c.Username = *u.Username
	}
	return c
}

type claimsKey struct{}

func WithClaims(ctx context.Context, c *Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, c)
}

func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(claimsKey{}).(*Claims)
	return c, ok && c != nil
}
