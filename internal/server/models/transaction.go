package models

import (
	"encoding/json"
	"time"
)

const (
	NetworkSolana = "solana"
	NetworkEVM    = "evm"
)

// Transaction records a settlement or transfer. Status only moves forward:
// pending -> executed -> confirmed, or pending -> failed.
type Transaction struct {
	ID         string
	UserID     string
	TxData     json.RawMessage
	Status     string
	Signature  *string
	JobID      *string
	Network    string
	ReceiptKey *string
	CreatedAt  time.Time
	ExecutedAt *time.Time
}
