package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/dmitrijs2005/paykeeper/internal/common"
	"github.com/dmitrijs2005/paykeeper/internal/dbx"
	sc "github.com/dmitrijs2005/paykeeper/internal/server/config"
	"github.com/dmitrijs2005/paykeeper/internal/server/models"
	"github.com/dmitrijs2005/paykeeper/internal/server/repositories/repomanager"
)

const receiptURLExpiry = 15 * time.Minute

var (
	loadDefaultAWSConfig = config.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return s3.NewFromConfig(cfg, optFns...)
	}

	newS3PresignClient = func(c *s3.Client) *s3.PresignClient {
		return s3.NewPresignClient(c)
	}

	putObject = func(c *s3.Client, ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
		return c.PutObject(ctx, in, optFns...)
	}

	presignGetObject = func(pc *s3.PresignClient, ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
		return pc.PresignGetObject(ctx, in, optFns...)
	}
)

// Receipt is the archived record of a settlement.
type Receipt struct {
	TransactionID string          `json:"transactionId"`
	Kind          string          `json:"kind"`
	ShortID       string          `json:"shortId"`
	PayerID       string          `json:"payerId"`
	RecipientID   string          `json:"recipientId"`
	Amount        string          `json:"amount"`
	TokenType     string          `json:"tokenType"`
	Status        string          `json:"status"`
	Signature     *string         `json:"signature,omitempty"`
	TxData        json.RawMessage `json:"txData"`
	SettledAt     time.Time       `json:"settledAt"`
}

// ReceiptService archives settlement receipts in S3-compatible storage and
// hands out short-lived download links.
type ReceiptService struct {
	store  dbx.Store
	repos  repomanager.RepositoryManager
	config *sc.Config
}

func NewReceiptService(store dbx.Store, repos repomanager.RepositoryManager, config *sc.Config) *ReceiptService {
	return &ReceiptService{store: store, repos: repos, config: config}
}

func receiptKey(now time.Time) string {
	return fmt.Sprintf("receipts/%d/%02d/%02d/%v.json", now.Year(), now.Month(), now.Day(), uuid.New())
}

func (s *ReceiptService) client(ctx context.Context) (*s3.Client, error) {
	cfg, err := loadDefaultAWSConfig(ctx,
		config.WithRegion(s.config.S3Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			s.config.S3RootUser,
			s.config.S3RootPassword,
			"",
		)))
	if err != nil {
		return nil, err
	}

	return newS3ClientFromConfig(cfg, func(o *s3.Options) {
		if s.config.S3BaseEndpoint != "" {
			o.BaseEndpoint = aws.String(s.config.S3BaseEndpoint)
			o.UsePathStyle = true
		}
	}), nil
}

// Archive uploads the receipt for a settled payment and records its key on
// the transaction.
func (s *ReceiptService) Archive(ctx context.Context, p *models.PaymentObject, tx *models.Transaction) (string, error) {
	body, err := json.Marshal(Receipt{
		TransactionID: tx.ID,
		Kind:          string(p.Kind),
		ShortID:       p.ShortID,
		PayerID:       tx.UserID,
		RecipientID:   p.CreatorID,
		Amount:        p.Amount.String(),
		TokenType:     p.TokenType,
		Status:        tx.Status,
		Signature:     tx.Signature,
		TxData:        tx.TxData,
		SettledAt:     tx.CreatedAt,
	})
	if err != nil {
		return "", err
	}

	client, err := s.client(ctx)
	if err != nil {
		return "", err
	}

	bucket := s.config.S3Bucket
	key := receiptKey(time.Now().UTC())
	_, err = putObject(client, ctx, &s3.PutObjectInput{
		Bucket:      &bucket,
		Key:         &key,
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("%w: upload receipt: %v", common.ErrExternalService, err)
	}

	if err := s.repos.Transactions(s.store.Conn()).SetReceiptKey(ctx, tx.ID, key); err != nil {
		return "", err
	}
	return key, nil
}

// ReceiptURL returns a presigned GET URL for a transaction's receipt. Only
// the transaction's owner may fetch it.
func (s *ReceiptService) ReceiptURL(ctx context.Context, userID, txID string) (string, error) {
	tx, err := s.repos.Transactions(s.store.Conn()).GetByID(ctx, txID)
	if err != nil {
		return "", err
	}
	if tx.UserID != userID {
		return "", common.ErrForbidden
	}
	if tx.ReceiptKey == nil {
		return "", common.ErrorNotFound
	}

	client, err := s.client(ctx)
	if err != nil {
		return "", err
	}

	bucket := s.config.S3Bucket
	req, err := presignGetObject(newS3PresignClient(client), ctx, &s3.GetObjectInput{
		Bucket: &bucket,
		Key:    tx.ReceiptKey,
	}, s3.WithPresignExpires(receiptURLExpiry))
	if err != nil {
		return "", fmt.Errorf("%w: presign receipt: %v", common.ErrExternalService, err)
	}
	return req.URL, nil
}
