package broker

import (
	"context"
	"net/http"
	"net/url"

	"github.com/shopspring/decimal"
)

// SubmitRequest is a transfer intent authorized by the wallet custodian.
type SubmitRequest struct {
	// Reference is our transaction id, used by the service for idempotency.
	Reference string          `json:"reference"`
	From      string          `json:"from"`
	To        string          `json:"to"`
	Amount    decimal.Decimal `json:"amount"`
	Token     string          `json:"token"`
}

// SubmitResult is the service's acknowledgement of an accepted transfer.
type SubmitResult struct {
	Signature string `json:"signature"`
	// Finalized is set when the service already observed finality.
	Finalized bool `json:"finalized"`
}

// Balance holds the spendable balances of an address.
type Balance struct {
	Address string          `json:"address"`
	SOL     decimal.Decimal `json:"sol"`
	USDC    decimal.Decimal `json:"usdc"`
}

// Submitter forwards transfers to the primary network's submission service.
type Submitter interface {
	Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error)
	Balance(ctx context.Context, address string) (*Balance, error)
}

// HTTPSubmitter talks to the submission service's REST API.
type HTTPSubmitter struct {
	c *client
}

func NewHTTPSubmitter(baseURL, apiKey string, opts ...Option) *HTTPSubmitter {
	return &HTTPSubmitter{c: newClient("submitter", baseURL, apiKey, opts...)}
}

func (s *HTTPSubmitter) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	var res SubmitResult
	if err := s.c.do(ctx, http.MethodPost, "/v1/transfers", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (s *HTTPSubmitter) Balance(ctx context.Context, address string) (*Balance, error) {
	var res Balance
	if err := s.c.do(ctx, http.MethodGet, "/v1/balances/"+url.PathEscape(address), nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}
