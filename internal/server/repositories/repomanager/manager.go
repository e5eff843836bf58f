package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/paykeeper/internal/dbx"
	"github.com/dmitrijs2005/paykeeper/internal/server/models"
	"github.com/dmitrijs2005/paykeeper/internal/server/repositories/payments"
	"github.com/dmitrijs2005/paykeeper/internal/server/repositories/sessions"
	"github.com/dmitrijs2005/paykeeper/internal/server/repositories/transactions"
	"github.com/dmitrijs2005/paykeeper/internal/server/repositories/users"
	"github.com/dmitrijs2005/paykeeper/internal/server/repositories/verificationtokens"
)

// RepositoryManager vends repositories bound to a DBTX so that callers can
// compose them inside one transaction.
type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Users(db dbx.DBTX) users.Repository
	VerificationTokens(db dbx.DBTX) verificationtokens.Repository
	Sessions(db dbx.DBTX) sessions.Repository
	Payments(db dbx.DBTX, kind models.PaymentKind) payments.Repository
	Transactions(db dbx.DBTX) transactions.Repository
}
