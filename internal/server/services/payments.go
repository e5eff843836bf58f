package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"github.com/dmitrijs2005/paykeeper/internal/common"
	"github.com/dmitrijs2005/paykeeper/internal/dbx"
	"github.com/dmitrijs2005/paykeeper/internal/logging"
	"github.com/dmitrijs2005/paykeeper/internal/server/models"
	"github.com/dmitrijs2005/paykeeper/internal/server/monitoring"
	"github.com/dmitrijs2005/paykeeper/internal/server/repositories/payments"
	"github.com/dmitrijs2005/paykeeper/internal/server/repositories/repomanager"
)

const (
	ShortIDLength   = 8
	shortIDAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz23456789"
	shortIDAttempts = 5
	MaxNoteLength   = 280

	DefaultLinkTTL    = 7 * 24 * time.Hour
	DefaultRequestTTL = 30 * 24 * time.Hour
)

var ErrShortIDExhausted = errors.New("could not allocate a unique short id")

// OpenStatus is the status a payment object of kind is created in.
func OpenStatus(kind models.PaymentKind) string {
	if kind == models.KindRequest {
		return common.StatusPending
	}
	return common.StatusActive
}

// PaymentInput is what a creator supplies for a new link or request.
type PaymentInput struct {
	Amount    string
	TokenType string
	Note      string
	// PayerEmail optionally addresses a request to a specific user.
	PayerEmail string
}

// Settlement is the result of a successful completion.
type Settlement struct {
	Payment     *models.PaymentObject
	Transaction *models.Transaction
}

type PaymentService struct {
	store         dbx.Store
	repos         repomanager.RepositoryManager
	ttl           map[models.PaymentKind]time.Duration
	publicBaseURL string
	receipts      *ReceiptService
	logger        logging.Logger
	metrics       *monitoring.Metrics
	now           func() time.Time
}

func NewPaymentService(store dbx.Store, repos repomanager.RepositoryManager, linkTTL, requestTTL time.Duration,
	publicBaseURL string, receipts *ReceiptService, logger logging.Logger, metrics *monitoring.Metrics) *PaymentService {
	if linkTTL <= 0 {
		linkTTL = DefaultLinkTTL
	}
	if requestTTL <= 0 {
		requestTTL = DefaultRequestTTL
	}
	return &PaymentService{
		store:         store,
		repos:         repos,
		ttl:           map[models.PaymentKind]time.Duration{models.KindLink: linkTTL, models.KindRequest: requestTTL},
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
		receipts:      receipts,
		logger:        logger.With("service", "payments"),
		metrics:       metrics,
		now:           time.Now,
	}
}

// PublicURL is the shareable address of a payment object.
func (s *PaymentService) PublicURL(shortID string) string {
	return s.publicBaseURL + "/pay/" + shortID
}

func (s *PaymentService) repo(db dbx.DBTX, kind models.PaymentKind) payments.Repository {
	return s.repos.Payments(db, kind)
}

// AmountScale is the number of decimal places kept by the NUMERIC(38, 9) amount columns.
const AmountScale = 9

var maxAmount = decimal.New(1, 38-AmountScale)

func parseAmount(raw string) (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, common.NewValidationError("amount", "must be a decimal number")
	}
	if !amount.IsPositive() {
		return decimal.Zero, common.NewValidationError("amount", "must be greater than zero")
	}
	if !amount.Equal(amount.Truncate(AmountScale)) {
		return decimal.Zero, common.NewValidationError("amount", fmt.Sprintf("must have at most %d decimal places", AmountScale))
	}
	if amount.GreaterThanOrEqual(maxAmount) {
		return decimal.Zero, common.NewValidationError("amount", "is too large")
	}
	return amount, nil
}

func parseToken(raw string) (string, error) {
	token := strings.ToUpper(strings.TrimSpace(raw))
	switch token {
	case "":
		return models.TokenSOL, nil
	case models.TokenSOL, models.TokenUSDC:
		return token, nil
	default:
		return "", common.NewValidationError("tokenType", "must be SOL or USDC")
	}
}

// Create validates in and stores a new open payment object.
func (s *PaymentService) Create(ctx context.Context, kind models.PaymentKind, creatorID string, in PaymentInput) (*models.PaymentObject, error) {
	amount, err := parseAmount(in.Amount)
	if err != nil {
		return nil, err
	}
	token, err := parseToken(in.TokenType)
	if err != nil {
		return nil, err
	}
	note := strings.TrimSpace(in.Note)
	if utf8.RuneCountInString(note) > MaxNoteLength {
		return nil, common.NewValidationError("note", fmt.Sprintf("must be at most %d characters", MaxNoteLength))
	}

	p := &models.PaymentObject{
		Kind:      kind,
		CreatorID: creatorID,
		Amount:    amount,
		TokenType: token,
		Note:      note,
		Status:    OpenStatus(kind),
		ExpiresAt: s.now().Add(s.ttl[kind]),
	}

	if kind == models.KindRequest && in.PayerEmail != "" {
		email, err := NormalizeEmail(in.PayerEmail)
		if err != nil {
			return nil, common.NewValidationError("payerEmail", "is not a valid address")
		}
		p.PayerEmail = &email
		payer, err := s.repos.Users(s.store.Conn()).GetByEmail(ctx, email)
		switch {
		case err == nil:
			p.PayerID = &payer.ID
		case !errors.Is(err, common.ErrorNotFound):
			return nil, fmt.Errorf("lookup payer: %w", err)
		}
	}

	repo := s.repo(s.store.Conn(), kind)
	if p.ShortID, err = s.allocateShortID(ctx, repo); err != nil {
		return nil, err
	}

	created, err := repo.Create(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("create payment %s: %w", kind, err)
	}
	s.metrics.IncPayment(string(kind), created.Status)
	s.logger.Info(ctx, "payment created", "kind", kind, "short_id", created.ShortID, "creator_id", creatorID)
	return created, nil
}

func (s *PaymentService) allocateShortID(ctx context.Context, repo payments.Repository) (string, error) {
	for i := 0; i < shortIDAttempts; i++ {
		id, err := common.RandomString(shortIDAlphabet, ShortIDLength)
		if err != nil {
			return "", fmt.Errorf("generate short id: %w", err)
		}
		exists, err := repo.ShortIDExists(ctx, id)
		if err != nil {
			return "", fmt.Errorf("check short id: %w", err)
		}
		if !exists {
			return id, nil
		}
	}
	return "", ErrShortIDExhausted
}

// expireIfStale persists EXPIRED for an open object past its horizon and
// returns the row as stored afterwards. Reads always go through it.
func (s *PaymentService) expireIfStale(ctx context.Context, repo payments.Repository, p *models.PaymentObject) (*models.PaymentObject, error) {
	open := OpenStatus(p.Kind)
	if p.Status != open || p.ExpiresAt.After(s.now()) {
		return p, nil
	}

	ok, err := repo.Transition(ctx, p.ID, open, common.StatusExpired)
	if err != nil {
		return nil, fmt.Errorf("expire payment: %w", err)
	}
	if ok {
		s.metrics.IncPayment(string(p.Kind), common.StatusExpired)
		s.logger.Info(ctx, "payment expired", "kind", p.Kind, "short_id", p.ShortID)
	}
	return repo.GetByID(ctx, p.ID)
}

func (s *PaymentService) GetByShortID(ctx context.Context, kind models.PaymentKind, shortID string) (*models.PaymentObject, error) {
	repo := s.repo(s.store.Conn(), kind)
	p, err := repo.GetByShortID(ctx, shortID)
	if err != nil {
		return nil, err
	}
	return s.expireIfStale(ctx, repo, p)
}

func (s *PaymentService) GetByID(ctx context.Context, kind models.PaymentKind, id string) (*models.PaymentObject, error) {
	repo := s.repo(s.store.Conn(), kind)
	p, err := repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.expireIfStale(ctx, repo, p)
}

// Lookup resolves a public short id, trying links before requests.
func (s *PaymentService) Lookup(ctx context.Context, shortID string) (*models.PaymentObject, error) {
	p, err := s.GetByShortID(ctx, models.KindLink, shortID)
	if errors.Is(err, common.ErrorNotFound) {
		return s.GetByShortID(ctx, models.KindRequest, shortID)
	}
	return p, err
}

func (s *PaymentService) ListByCreator(ctx context.Context, kind models.PaymentKind, userID string) ([]*models.PaymentObject, error) {
	repo := s.repo(s.store.Conn(), kind)
	items, err := repo.ListByCreator(ctx, userID)
	if err != nil {
		return nil, err
	}
	for i, p := range items {
		if items[i], err = s.expireIfStale(ctx, repo, p); err != nil {
			return nil, err
		}
	}
	return items, nil
}

// Cancel is allowed only for the creator and only while the object is open.
func (s *PaymentService) Cancel(ctx context.Context, kind models.PaymentKind, userID, id string) (*models.PaymentObject, error) {
	p, err := s.GetByID(ctx, kind, id)
	if err != nil {
		return nil, err
	}
	if p.CreatorID != userID {
		return nil, common.ErrForbidden
	}

	open := OpenStatus(kind)
	if p.Status != open {
		return nil, common.NewConflictError(p.Status, "payment is no longer open")
	}

	repo := s.repo(s.store.Conn(), kind)
	ok, err := repo.Transition(ctx, id, open, common.StatusCancelled)
	if err != nil {
		return nil, fmt.Errorf("cancel payment: %w", err)
	}
	current, err := repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, common.NewConflictError(current.Status, "payment is no longer open")
	}

	s.metrics.IncPayment(string(kind), common.StatusCancelled)
	s.logger.Info(ctx, "payment cancelled", "kind", kind, "short_id", p.ShortID)
	return current, nil
}

// Complete settles an open payment object for payerID. The status change
// and the settlement record commit together; of concurrent callers exactly
// one wins and the rest get a ConflictError carrying the current status.
func (s *PaymentService) Complete(ctx context.Context, kind models.PaymentKind, payerID, id, signature string) (*Settlement, error) {
	p, err := s.GetByID(ctx, kind, id)
	if err != nil {
		return nil, err
	}
	if p.CreatorID == payerID {
		return nil, common.ErrForbidden
	}
	if p.PayerID != nil && *p.PayerID != payerID {
		return nil, common.ErrForbidden
	}

	open := OpenStatus(kind)
	if p.Status != open {
		return nil, common.NewConflictError(p.Status, "payment is no longer open")
	}

	txData, err := json.Marshal(map[string]string{
		"kind":      string(kind),
		"paymentId": p.ID,
		"shortId":   p.ShortID,
		"recipient": p.CreatorID,
		"amount":    p.Amount.String(),
		"token":     p.TokenType,
	})
	if err != nil {
		return nil, fmt.Errorf("encode tx data: %w", err)
	}

	tx := &models.Transaction{
		UserID:  payerID,
		TxData:  txData,
		Status:  common.TxPending,
		Network: models.NetworkSolana,
	}
	if sig := strings.TrimSpace(signature); sig != "" {
		tx.Status = common.TxExecuted
		tx.Signature = &sig
	}

	var settled *models.PaymentObject
	err = s.store.WithTx(ctx, func(ctx context.Context, db dbx.DBTX) error {
		repo := s.repo(db, kind)
		ok, err := repo.MarkCompleted(ctx, id, open)
		if err != nil {
			return err
		}
		if !ok {
			current, err := repo.GetByID(ctx, id)
			if err != nil {
				return err
			}
			if current.Status == open {
				// expired after the read above
				return common.NewConflictError(common.StatusExpired, "payment is no longer open")
			}
			return common.NewConflictError(current.Status, "payment is no longer open")
		}

		if tx, err = s.repos.Transactions(db).Create(ctx, tx); err != nil {
			return err
		}
		if err := repo.AttachTransaction(ctx, id, tx.ID); err != nil {
			return err
		}
		settled, err = repo.GetByID(ctx, id)
		return err
	})
	if err != nil {
		var conflict *common.ConflictError
		if errors.As(err, &conflict) {
			return nil, conflict
		}
		return nil, fmt.Errorf("complete payment: %w", err)
	}

	s.metrics.IncPayment(string(kind), common.StatusCompleted)
	s.logger.Info(ctx, "payment completed", "kind", kind, "short_id", p.ShortID, "payer_id", payerID, "transaction_id", tx.ID)

	if s.receipts != nil {
		if key, err := s.receipts.Archive(ctx, settled, tx); err != nil {
			s.logger.Warn(ctx, "receipt archive failed", "transaction_id", tx.ID, "error", err)
		} else {
			tx.ReceiptKey = &key
		}
	}
	return &Settlement{Payment: settled, Transaction: tx}, nil
}
