// Package services contains server-side business logic: the identity bridge,
// the OTP channel, wallet custody, the payment object lifecycle and the
// relayer. Services receive a dbx.Store and a RepositoryManager and bind
// repositories to either the pool or a transaction per call.
package services

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/dmitrijs2005/paykeeper/internal/common"
	"github.com/dmitrijs2005/paykeeper/internal/dbx"
	"github.com/dmitrijs2005/paykeeper/internal/logging"
	"github.com/dmitrijs2005/paykeeper/internal/server/mailer"
	"github.com/dmitrijs2005/paykeeper/internal/server/monitoring"
	"github.com/dmitrijs2005/paykeeper/internal/server/repositories/repomanager"
)

const (
	OTPLength = 6
	// DefaultOTPValidity applies when the config leaves OTPValidity unset.
	DefaultOTPValidity = 10 * time.Minute
)

// NormalizeEmail trims and lowercases an address and checks its syntax.
func NormalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", common.NewValidationError("email", "is required")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", common.NewValidationError("email", "is not a valid address")
	}
	return email, nil
}

// OTPService issues and consumes emailed one-time passcodes.
type OTPService struct {
	store    dbx.Store
	repos    repomanager.RepositoryManager
	sender   mailer.Sender
	validity time.Duration
	logger   logging.Logger
	metrics  *monitoring.Metrics
	now      func() time.Time
}

func NewOTPService(store dbx.Store, repos repomanager.RepositoryManager, sender mailer.Sender,
	validity time.Duration, logger logging.Logger, metrics *monitoring.Metrics) *OTPService {
	if validity <= 0 {
		validity = DefaultOTPValidity
	}
	return &OTPService{
		store:    store,
		repos:    repos,
		sender:   sender,
		validity: validity,
		logger:   logger.With("service", "otp"),
		metrics:  metrics,
		now:      time.Now,
	}
}

// CreateOTP replaces any outstanding code for email with a fresh one.
func (s *OTPService) CreateOTP(ctx context.Context, email string) (string, error) {
	email, err := NormalizeEmail(email)
	if err != nil {
		return "", err
	}

	code, err := common.RandomDigits(OTPLength)
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	expires := s.now().Add(s.validity)

	err = s.store.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repos.VerificationTokens(tx)
		if err := repo.DeleteByIdentifier(ctx, email); err != nil {
			return err
		}
		return repo.Create(ctx, email, code, expires)
	})
	if err != nil {
		return "", fmt.Errorf("store verification token: %w", err)
	}

	s.metrics.IncOTP("issued")
	return code, nil
}

func (s *OTPService) SendOTPEmail(ctx context.Context, email, code string) error {
	minutes := int(s.validity.Minutes())
	body := fmt.Sprintf("Your PayKeeper sign-in code is %s.\n\nIt expires in %d minutes. "+
		"If you did not request it, you can ignore this email.\n", code, minutes)

	if err := s.sender.Send(ctx, email, "Your PayKeeper sign-in code", body); err != nil {
		s.logger.Error(ctx, "otp email delivery failed", "error", err)
		return fmt.Errorf("%w: send otp: %v", common.ErrExternalService, err)
	}
	return nil
}

// VerifyOTP consumes a matching unexpired code. Only one of several
// concurrent callers presenting the same code gets true.
func (s *OTPService) VerifyOTP(ctx context.Context, email, code string) (bool, error) {
	email, err := NormalizeEmail(email)
	if err != nil {
		return false, err
	}
	code = strings.TrimSpace(code)
	if len(code) != OTPLength {
		s.metrics.IncOTP("rejected")
		return false, nil
	}

	ok, err := s.repos.VerificationTokens(s.store.Conn()).Consume(ctx, email, code)
	if err != nil {
		return false, fmt.Errorf("consume verification token: %w", err)
	}
	if ok {
		s.metrics.IncOTP("verified")
	} else {
		s.metrics.IncOTP("rejected")
	}
	return ok, nil
}

// PurgeExpired deletes stale codes. Expired codes are inert either way.
func (s *OTPService) PurgeExpired(ctx context.Context) (int64, error) {
	n, err := s.repos.VerificationTokens(s.store.Conn()).DeleteExpired(ctx)
	if err != nil {
		return 0, fmt.Errorf("purge verification tokens: %w", err)
	}
	return n, nil
}
