package services

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/paykeeper/internal/common"
	sc "github.com/dmitrijs2005/paykeeper/internal/server/config"
	"github.com/dmitrijs2005/paykeeper/internal/server/models"
)

type s3Calls struct {
	baseEndpoint string
	puts         []*s3.PutObjectInput
	bodies       []string
	putErr       error
	presigned    []*s3.GetObjectInput
}

// stubS3 replaces the AWS seams for the duration of the test.
func stubS3(t *testing.T) *s3Calls {
	t.Helper()
	calls := &s3Calls{}

	origLoad, origNew, origPre := loadDefaultAWSConfig, newS3ClientFromConfig, newS3PresignClient
	origPut, origGet := putObject, presignGetObject
	t.Cleanup(func() {
		loadDefaultAWSConfig, newS3ClientFromConfig, newS3PresignClient = origLoad, origNew, origPre
		putObject, presignGetObject = origPut, origGet
	})

	loadDefaultAWSConfig = func(ctx context.Context, optFns ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
		var lo awsconfig.LoadOptions
		for _, fn := range optFns {
			if err := fn(&lo); err != nil {
				return aws.Config{}, err
			}
		}
		if lo.Region != "us-east-1" {
			t.Fatalf("region not applied: %q", lo.Region)
		}
		return aws.Config{}, nil
	}
	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		var opts s3.Options
		for _, fn := range optFns {
			fn(&opts)
		}
		if opts.BaseEndpoint != nil {
			calls.baseEndpoint = *opts.BaseEndpoint
		}
		return &s3.Client{}
	}
	newS3PresignClient = func(c *s3.Client) *s3.PresignClient { return &s3.PresignClient{} }
	putObject = func(_ *s3.Client, _ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
		if calls.putErr != nil {
			return nil, calls.putErr
		}
		b, _ := io.ReadAll(in.Body)
		calls.puts = append(calls.puts, in)
		calls.bodies = append(calls.bodies, string(b))
		return &s3.PutObjectOutput{}, nil
	}
	presignGetObject = func(_ *s3.PresignClient, _ context.Context, in *s3.GetObjectInput, _ ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
		calls.presigned = append(calls.presigned, in)
		return &v4.PresignedHTTPRequest{URL: "https://s3.local/" + *in.Bucket + "/" + *in.Key + "?sig=1"}, nil
	}
	return calls
}

func receiptConfig() *sc.Config {
	return &sc.Config{
		S3Region:       "us-east-1",
		S3RootUser:     "minioadmin",
		S3RootPassword: "minioadmin",
		S3BaseEndpoint: "http://127.0.0.1:9000",
		S3Bucket:       "receipts",
	}
}

func TestComplete_ArchivesReceipt(t *testing.T) {
	calls := stubS3(t)
	e := newTestEnv()
	receipts := NewReceiptService(e.store, e.repos, receiptConfig())
	s := NewPaymentService(e.store, e.repos, 0, 0, "https://pay.example.com", receipts, e.logger, e.metrics)
	creator := e.addUser("c@b.com")
	payer := e.addUser("p@b.com")
	ctx := context.Background()

	p, err := s.Create(ctx, models.KindLink, creator.ID, validInput())
	require.NoError(t, err)
	res, err := s.Complete(ctx, models.KindLink, payer.ID, p.ID, "sig")
	require.NoError(t, err)

	require.Len(t, calls.puts, 1)
	assert.Equal(t, "http://127.0.0.1:9000", calls.baseEndpoint)
	assert.Equal(t, "receipts", *calls.puts[0].Bucket)
	assert.True(t, strings.HasPrefix(*calls.puts[0].Key, "receipts/"))
	assert.Equal(t, "application/json", *calls.puts[0].ContentType)

	var r Receipt
	require.NoError(t, json.Unmarshal([]byte(calls.bodies[0]), &r))
	assert.Equal(t, res.Transaction.ID, r.TransactionID)
	assert.Equal(t, p.ShortID, r.ShortID)
	assert.Equal(t, creator.ID, r.RecipientID)
	assert.Equal(t, "1.25", r.Amount)

	require.NotNil(t, res.Transaction.ReceiptKey)
	stored, err := e.repos.Transactions(nil).GetByID(ctx, res.Transaction.ID)
	require.NoError(t, err)
	assert.Equal(t, *res.Transaction.ReceiptKey, *stored.ReceiptKey)

	url, err := receipts.ReceiptURL(ctx, payer.ID, res.Transaction.ID)
	require.NoError(t, err)
	assert.Equal(t, "https://s3.local/receipts/"+*stored.ReceiptKey+"?sig=1", url)

	_, err = receipts.ReceiptURL(ctx, creator.ID, res.Transaction.ID)
	assert.ErrorIs(t, err, common.ErrForbidden)
}

func TestComplete_ReceiptFailureDoesNotUndoSettlement(t *testing.T) {
	calls := stubS3(t)
	calls.putErr = errors.New("bucket missing")
	e := newTestEnv()
	receipts := NewReceiptService(e.store, e.repos, receiptConfig())
	s := NewPaymentService(e.store, e.repos, 0, 0, "", receipts, e.logger, e.metrics)
	creator := e.addUser("c@b.com")
	payer := e.addUser("p@b.com")
	ctx := context.Background()

	p, err := s.Create(ctx, models.KindLink, creator.ID, validInput())
	require.NoError(t, err)
	res, err := s.Complete(ctx, models.KindLink, payer.ID, p.ID, "")
	require.NoError(t, err)
	assert.Equal(t, common.StatusCompleted, res.Payment.Status)
	assert.Nil(t, res.Transaction.ReceiptKey)

	_, err = receipts.ReceiptURL(ctx, payer.ID, res.Transaction.ID)
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestReceiptService_ArchiveErrors(t *testing.T) {
	calls := stubS3(t)
	e := newTestEnv()
	receipts := NewReceiptService(e.store, e.repos, receiptConfig())
	p := &models.PaymentObject{Kind: models.KindLink, ShortID: "abc"}
	tx := &models.Transaction{ID: "t-x", TxData: json.RawMessage(`{}`)}

	calls.putErr = errors.New("denied")
	_, err := receipts.Archive(context.Background(), p, tx)
	assert.ErrorIs(t, err, common.ErrExternalService)

	calls.putErr = nil
	_, err = receipts.Archive(context.Background(), p, tx)
	assert.ErrorIs(t, err, common.ErrorNotFound, "unknown transaction")

	loadDefaultAWSConfig = func(context.Context, ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
		return aws.Config{}, errors.New("no config")
	}
	_, err = receipts.Archive(context.Background(), p, tx)
	assert.EqualError(t, err, "no config")
}
