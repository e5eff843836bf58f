package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/paykeeper/internal/common"
	"github.com/dmitrijs2005/paykeeper/internal/custody"
	"github.com/dmitrijs2005/paykeeper/internal/dbx"
	"github.com/dmitrijs2005/paykeeper/internal/logging"
	"github.com/dmitrijs2005/paykeeper/internal/server/auth"
	"github.com/dmitrijs2005/paykeeper/internal/server/broker"
	"github.com/dmitrijs2005/paykeeper/internal/server/models"
	"github.com/dmitrijs2005/paykeeper/internal/server/monitoring"
	"github.com/dmitrijs2005/paykeeper/internal/server/repositories/repomanager"
)

// ErrInvalidPasscode is returned when a passcode-gated transfer presents the
// wrong passcode.
var ErrInvalidPasscode = fmt.Errorf("%w: invalid passcode", common.ErrorUnauthorized)

type TransferInput struct {
	Recipient string
	Amount    string
	Token     string
	Passcode  string
}

// RelayerService authorizes transfer intents and hands them to the external
// submission service or, for the secondary network, the delegated job system.
type RelayerService struct {
	store     dbx.Store
	repos     repomanager.RepositoryManager
	wallet    *WalletService
	submitter broker.Submitter
	jobs      broker.JobClient
	logger    logging.Logger
	metrics   *monitoring.Metrics
}

func NewRelayerService(store dbx.Store, repos repomanager.RepositoryManager, wallet *WalletService,
	submitter broker.Submitter, jobs broker.JobClient, logger logging.Logger, metrics *monitoring.Metrics) *RelayerService {
	return &RelayerService{
		store:     store,
		repos:     repos,
		wallet:    wallet,
		submitter: submitter,
		jobs:      jobs,
		logger:    logger.With("service", "relayer"),
		metrics:   metrics,
	}
}

// authorize loads the sender and checks the passcode when a wallet exists.
func (s *RelayerService) authorize(ctx context.Context, claims *auth.Claims, passcode string) (*models.User, error) {
	if claims == nil {
		return nil, common.ErrorUnauthorized
	}
	user, err := s.repos.Users(s.store.Conn()).GetByID(ctx, claims.UserID)
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	if !user.HasWallet() {
		return nil, common.ErrWalletNotFound
	}

	ok, err := s.wallet.VerifyPasscode(ctx, user.ID, passcode)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInvalidPasscode
	}
	return user, nil
}

func (s *RelayerService) createPending(ctx context.Context, userID, network string, intent map[string]string) (*models.Transaction, error) {
	data, err := json.Marshal(intent)
	if err != nil {
		return nil, fmt.Errorf("encode intent: %w", err)
	}
	tx, err := s.repos.Transactions(s.store.Conn()).Create(ctx, &models.Transaction{
		UserID:  userID,
		TxData:  data,
		Status:  common.TxPending,
		Network: network,
	})
	if err != nil {
		return nil, fmt.Errorf("create transaction: %w", err)
	}
	return tx, nil
}

// fail marks a pending transaction failed and reports err as an external
// service failure.
func (s *RelayerService) fail(ctx context.Context, tx *models.Transaction, err error) error {
	if _, aerr := s.repos.Transactions(s.store.Conn()).Advance(ctx, tx.ID, common.TxPending, common.TxFailed, nil); aerr != nil {
		s.logger.Error(ctx, "mark transaction failed", "transaction_id", tx.ID, "error", aerr)
	}
	s.metrics.IncRelayer(tx.Network, "failed")
	s.logger.Error(ctx, "transfer submission failed", "transaction_id", tx.ID, "network", tx.Network, "error", err)
	if errors.Is(err, common.ErrExternalService) {
		return err
	}
	return fmt.Errorf("%w: %v", common.ErrExternalService, err)
}

// Transfer submits a transfer on the primary network.
func (s *RelayerService) Transfer(ctx context.Context, claims *auth.Claims, in TransferInput) (*models.Transaction, error) {
	recipient := strings.TrimSpace(in.Recipient)
	if !custody.IsSolanaAddress(recipient) {
		return nil, common.NewValidationError("recipient", "must be a base58 encoded 32-byte address")
	}
	amount, err := parseAmount(in.Amount)
	if err != nil {
		return nil, err
	}
	token, err := parseToken(in.Token)
	if err != nil {
		return nil, err
	}

	user, err := s.authorize(ctx, claims, in.Passcode)
	if err != nil {
		return nil, err
	}
	if user.SolanaAddress == nil {
		return nil, common.ErrWalletNotFound
	}
	from := *user.SolanaAddress

	tx, err := s.createPending(ctx, user.ID, models.NetworkSolana, map[string]string{
		"from": from, "to": recipient, "amount": amount.String(), "token": token,
	})
	if err != nil {
		return nil, err
	}

	res, err := s.submitter.Submit(ctx, broker.SubmitRequest{
		Reference: tx.ID,
		From:      from,
		To:        recipient,
		Amount:    amount,
		Token:     token,
	})
	if err != nil {
		return nil, s.fail(ctx, tx, err)
	}

	repo := s.repos.Transactions(s.store.Conn())
	if _, err := repo.Advance(ctx, tx.ID, common.TxPending, common.TxExecuted, &res.Signature); err != nil {
		return nil, fmt.Errorf("record submission: %w", err)
	}
	s.metrics.IncRelayer(models.NetworkSolana, "accepted")
	s.wallet.InvalidateBalance(ctx, from)
	s.logger.Info(ctx, "transfer submitted", "transaction_id", tx.ID, "signature", res.Signature)

	if res.Finalized {
		if _, err := s.ConfirmTransaction(ctx, tx.ID); err != nil {
			return nil, err
		}
	}
	return repo.GetByID(ctx, tx.ID)
}

// DelegatedTransfer hands a secondary-network transfer to the external job
// system and records the job id. Settlement stays with the job system.
func (s *RelayerService) DelegatedTransfer(ctx context.Context, claims *auth.Claims, in TransferInput) (*models.Transaction, error) {
	recipient := strings.TrimSpace(in.Recipient)
	if !custody.IsEVMAddress(recipient) {
		return nil, common.NewValidationError("recipient", "must be a 0x-prefixed 20-byte address")
	}
	amount, err := parseAmount(in.Amount)
	if err != nil {
		return nil, err
	}
	token, err := parseToken(in.Token)
	if err != nil {
		return nil, err
	}

	user, err := s.authorize(ctx, claims, in.Passcode)
	if err != nil {
		return nil, err
	}
	if user.EVMAddress == nil {
		return nil, common.ErrWalletNotFound
	}
	from := *user.EVMAddress

	tx, err := s.createPending(ctx, user.ID, models.NetworkEVM, map[string]string{
		"from": from, "to": recipient, "amount": amount.String(), "token": token,
	})
	if err != nil {
		return nil, err
	}

	jobID, err := s.jobs.CreateJob(ctx, broker.JobRequest{
		Reference: tx.ID,
		From:      from,
		To:        recipient,
		Amount:    amount,
		Token:     token,
	})
	if err != nil {
		return nil, s.fail(ctx, tx, err)
	}

	repo := s.repos.Transactions(s.store.Conn())
	if err := repo.SetJobID(ctx, tx.ID, jobID); err != nil {
		return nil, fmt.Errorf("record job: %w", err)
	}
	s.metrics.IncRelayer(models.NetworkEVM, "accepted")
	s.logger.Info(ctx, "delegated transfer queued", "transaction_id", tx.ID, "job_id", jobID)
	return repo.GetByID(ctx, tx.ID)
}

// JobStatus reports the external job state verbatim. Terminal results are
// copied onto the transaction, forward-only.
func (s *RelayerService) JobStatus(ctx context.Context, claims *auth.Claims, txID string) (*broker.JobStatus, error) {
	if claims == nil {
		return nil, common.ErrorUnauthorized
	}
	repo := s.repos.Transactions(s.store.Conn())
	tx, err := repo.GetByID(ctx, txID)
	if err != nil {
		return nil, err
	}
	if tx.UserID != claims.UserID {
		return nil, common.ErrForbidden
	}
	if tx.JobID == nil {
		return nil, common.NewValidationError("id", "transaction has no delegated job")
	}

	st, err := s.jobs.JobStatus(ctx, *tx.JobID)
	if err != nil {
		return nil, err
	}

	switch st.Status {
	case broker.JobCompleted:
		var sig *string
		if st.Signature != "" {
			sig = &st.Signature
		}
		if _, err := repo.Advance(ctx, tx.ID, common.TxPending, common.TxExecuted, sig); err != nil {
			return nil, fmt.Errorf("record job result: %w", err)
		}
	case broker.JobFailed:
		if _, err := repo.Advance(ctx, tx.ID, common.TxPending, common.TxFailed, nil); err != nil {
			return nil, fmt.Errorf("record job result: %w", err)
		}
	}
	return st, nil
}

// ConfirmTransaction records finality of an executed transaction and
// reports whether it moved.
func (s *RelayerService) ConfirmTransaction(ctx context.Context, txID string) (bool, error) {
	ok, err := s.repos.Transactions(s.store.Conn()).Advance(ctx, txID, common.TxExecuted, common.TxConfirmed, nil)
	if err != nil {
		return false, fmt.Errorf("confirm transaction: %w", err)
	}
	if ok {
		s.logger.Info(ctx, "transaction confirmed", "transaction_id", txID)
	}
	return ok, nil
}
