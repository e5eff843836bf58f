package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/dmitrijs2005/paykeeper/internal/cache"
	"github.com/dmitrijs2005/paykeeper/internal/common"
	"github.com/dmitrijs2005/paykeeper/internal/dbx"
	"github.com/dmitrijs2005/paykeeper/internal/logging"
	"github.com/dmitrijs2005/paykeeper/internal/server/auth"
	"github.com/dmitrijs2005/paykeeper/internal/server/models"
	"github.com/dmitrijs2005/paykeeper/internal/server/repositories/repomanager"
)

const sessionTokenLength = 48

var usernamePattern = regexp.MustCompile(`^[a-z0-9_]{3,20}$`)

// SignIn is the outcome of a successful login or claim refresh. Token is
// always issued from the persisted user row.
type SignIn struct {
	User   *models.User
	Claims *auth.Claims
	Token  string
	// SessionToken is set only for federated sign-ins.
	SessionToken string
}

// IdentityService creates users on first login, issues self-signed tokens,
// and keeps federated sessions and profile data in sync.
type IdentityService struct {
	store           dbx.Store
	repos           repomanager.RepositoryManager
	issuer          *auth.TokenIssuer
	sessionValidity time.Duration
	cache           *cache.TTLCache
	logger          logging.Logger
}

func NewIdentityService(store dbx.Store, repos repomanager.RepositoryManager, issuer *auth.TokenIssuer,
	sessionValidity time.Duration, c *cache.TTLCache, logger logging.Logger) *IdentityService {
	return &IdentityService{
		store:           store,
		repos:           repos,
		issuer:          issuer,
		sessionValidity: sessionValidity,
		cache:           c,
		logger:          logger.With("service", "identity"),
	}
}

// Issuer exposes the token issuer so handlers can size cookies.
func (s *IdentityService) Issuer() *auth.TokenIssuer { return s.issuer }

// SignInWithEmail is the OTP channel's login: the caller has already
// consumed a valid code for email.
func (s *IdentityService) SignInWithEmail(ctx context.Context, email string) (*SignIn, error) {
	email, err := NormalizeEmail(email)
	if err != nil {
		return nil, err
	}
	user, err := s.repos.Users(s.store.Conn()).UpsertByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("upsert user: %w", err)
	}
	s.logger.Info(ctx, "user signed in", "user_id", user.ID, "method", "otp")
	return s.issue(user)
}

// SignInWithOAuth upserts the user for a verified provider identity and
// opens a federated session.
func (s *IdentityService) SignInWithOAuth(ctx context.Context, provider string, info *auth.UserInfo) (*SignIn, error) {
	email, err := NormalizeEmail(info.Email)
	if err != nil {
		return nil, err
	}
	sessionToken, err := auth.NewRandomString(sessionTokenLength)
	if err != nil {
		return nil, fmt.Errorf("generate session token: %w", err)
	}

	var user *models.User
	err = s.store.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		var err error
		if user, err = s.repos.Users(tx).UpsertByEmail(ctx, email); err != nil {
			return fmt.Errorf("upsert user: %w", err)
		}
		if _, err = s.repos.Sessions(tx).Create(ctx, user.ID, sessionToken, provider, s.sessionValidity); err != nil {
			return fmt.Errorf("create session: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	in, err := s.issue(user)
	if err != nil {
		return nil, err
	}
	in.SessionToken = sessionToken
	s.logger.Info(ctx, "user signed in", "user_id", user.ID, "method", provider)
	return in, nil
}

// RefreshClaims re-reads the user and re-issues the token so claims never
// drift from the stored profile.
func (s *IdentityService) RefreshClaims(ctx context.Context, userID string) (*SignIn, error) {
	user, err := s.repos.Users(s.store.Conn()).GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrorUnauthorized
		}
		return nil, fmt.Errorf("load user: %w", err)
	}
	return s.issue(user)
}

// RepairSession reconciles a possibly stale token with canonical state.
func (s *IdentityService) RepairSession(ctx context.Context, claims *auth.Claims) (*SignIn, error) {
	if claims == nil || claims.UserID == "" {
		return nil, common.ErrorUnauthorized
	}
	return s.RefreshClaims(ctx, claims.UserID)
}

// Logout deletes the federated session row, if any.
func (s *IdentityService) Logout(ctx context.Context, sessionToken string) error {
	if sessionToken == "" {
		return nil
	}
	err := s.repos.Sessions(s.store.Conn()).Delete(ctx, sessionToken)
	if err != nil && !errors.Is(err, common.ErrorNotFound) {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func normalizeUsername(username string) (string, error) {
	username = strings.ToLower(strings.TrimSpace(username))
	if !usernamePattern.MatchString(username) {
		return "", common.NewValidationError("username", "must be 3-20 characters of a-z, 0-9 or _")
	}
	return username, nil
}

func usernameCacheKey(username string) string { return "username:" + username }

// UsernameAvailable reports whether nobody owns username. Results are cached
// briefly and invalidated when the name is claimed.
func (s *IdentityService) UsernameAvailable(ctx context.Context, username string) (bool, error) {
	username, err := normalizeUsername(username)
	if err != nil {
		return false, err
	}
	return cache.GetOrLoad(ctx, s.cache, usernameCacheKey(username), func(ctx context.Context) (bool, error) {
		_, err := s.repos.Users(s.store.Conn()).GetByUsername(ctx, username)
		switch {
		case errors.Is(err, common.ErrorNotFound):
			return true, nil
		case err != nil:
			return false, fmt.Errorf("lookup username: %w", err)
		default:
			return false, nil
		}
	})
}

// SetUsername claims username for userID. A name owned by someone else is a
// conflict and nothing is written.
func (s *IdentityService) SetUsername(ctx context.Context, userID, username string) (*SignIn, error) {
	username, err := normalizeUsername(username)
	if err != nil {
		return nil, err
	}

	repo := s.repos.Users(s.store.Conn())
	owner, err := repo.GetByUsername(ctx, username)
	switch {
	case err == nil && owner.ID != userID:
		return nil, common.NewConflictError("", "username is already taken")
	case err == nil:
		return s.RefreshClaims(ctx, userID)
	case !errors.Is(err, common.ErrorNotFound):
		return nil, fmt.Errorf("lookup username: %w", err)
	}

	current, err := repo.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	if err := repo.SetUsername(ctx, userID, username); err != nil {
		return nil, err
	}
	s.cache.Invalidate(ctx, usernameCacheKey(username))
	if current.Username != nil {
		s.cache.Invalidate(ctx, usernameCacheKey(*current.Username))
	}
	return s.RefreshClaims(ctx, userID)
}

func (s *IdentityService) issue(user *models.User) (*SignIn, error) {
	claims := auth.ClaimsFromUser(user)
	token, err := s.issuer.Issue(claims)
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}
	return &SignIn{User: user, Claims: claims, Token: token}, nil
}
