package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dmitrijs2005/paykeeper/internal/common"
	"github.com/dmitrijs2005/paykeeper/internal/logging"
	"github.com/dmitrijs2005/paykeeper/internal/server/models"
)

// ErrNoCredential means the request carries nothing this source reads.
var ErrNoCredential = errors.New("no credential")

// CredentialSource turns one kind of request credential into claims.
type CredentialSource interface {
	Name() string
	Resolve(ctx context.Context, r *http.Request) (*Claims, error)
}

type SessionFinder interface {
	Find(ctx context.Context, token string) (*models.Session, error)
}

type UserGetter interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
}

// FederatedSessionSource reads the federated session cookie and builds
// claims from the persisted user.
type FederatedSessionSource struct {
	sessions SessionFinder
	users    UserGetter
	now      func() time.Time
}

func NewFederatedSessionSource(sessions SessionFinder, users UserGetter) *FederatedSessionSource {
	return &FederatedSessionSource{sessions: sessions, users: users, now: time.Now}
}

func (s *FederatedSessionSource) Name() string { return "federated-session" }

func (s *FederatedSessionSource) Resolve(ctx context.Context, r *http.Request) (*Claims, error) {
	token := GetCookie(r, common.SessionCookieName)
	if token == "" {
		return nil, ErrNoCredential
	}

	session, err := s.sessions.Find(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("find session: %w", err)
	}
	if !session.Expires.After(s.now()) {
		return nil, common.ErrTokenExpired
	}

	user, err := s.users.GetByID(ctx, session.UserID)
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	return ClaimsFromUser(user), nil
}

// SignedTokenSource reads a bearer token or the auth-token cookie.
type SignedTokenSource struct {
	issuer *TokenIssuer
}

func NewSignedTokenSource(issuer *TokenIssuer) *SignedTokenSource {
	return &SignedTokenSource{issuer: issuer}
}

func (s *SignedTokenSource) Name() string { return "signed-token" }

func (s *SignedTokenSource) Resolve(_ context.Context, r *http.Request) (*Claims, error) {
	token := bearerToken(r)
	if token == "" {
		token = GetCookie(r, common.AuthTokenCookieName)
	}
	if token == "" {
		return nil, ErrNoCredential
	}
	return s.issuer.Parse(token)
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get(common.AuthorizationHeaderName)
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// Resolver tries its sources in order and returns the first claims found.
type Resolver struct {
	sources []CredentialSource
	logger  logging.Logger
}

func NewResolver(logger logging.Logger, sources ...CredentialSource) *Resolver {
	return &Resolver{sources: sources, logger: logger}
}

// Resolve returns nil when no source yields valid claims. It never panics.
func (res *Resolver) Resolve(r *http.Request) *Claims {
	ctx := r.Context()
	for _, src := range res.sources {
		claims, err := res.try(ctx, src, r)
		if err == nil && claims != nil {
			return claims
		}
		if err != nil && !errors.Is(err, ErrNoCredential) {
			res.logger.Debug(ctx, "credential rejected", "source", src.Name(), "error", err)
		}
	}
	return nil
}

func (res *Resolver) try(ctx context.Context, src CredentialSource, r *http.Request) (claims *Claims, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			claims = nil
			err = fmt.Errorf("credential source %s panicked: %v", src.Name(), rec)
		}
	}()
	return src.Resolve(ctx, r)
}
