package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentKind distinguishes payment links from payment requests. Both share
// one lifecycle and differ in table, open status and horizon.
type PaymentKind string

const (
	KindLink    PaymentKind = "link"
	KindRequest PaymentKind = "request"
)

const (
	TokenSOL  = "SOL"
	TokenUSDC = "USDC"
)

type PaymentObject struct {
	ID            string
	Kind          PaymentKind
	ShortID       string
	CreatorID     string
	PayerID       *string
	PayerEmail    *string
	Amount        decimal.Decimal
	TokenType     string
	Note          string
	Status        string
	ExpiresAt     time.Time
	CreatedAt     time.Time
	CompletedAt   *time.Time
	TransactionID *string
}
