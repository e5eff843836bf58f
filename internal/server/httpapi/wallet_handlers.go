package httpapi

import (
	"net/http"

	"github.com/dmitrijs2005/paykeeper/internal/common"
	"github.com/dmitrijs2005/paykeeper/internal/server/models"
	"github.com/dmitrijs2005/paykeeper/internal/server/services"
)

func (a *API) walletSetup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Passcode string `json:"passcode"`
		Mnemonic string `json:"mnemonic"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}

	userID := claimsFrom(r).UserID
	setup, err := a.wallet.Setup(r.Context(), userID, req.Passcode, req.Mnemonic)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	// hasPasscode and solanaAddress changed; the cookie must follow.
	if in, err := a.identity.RefreshClaims(r.Context(), userID); err == nil {
		a.setAuthCookie(w, in)
	} else {
		a.logger.Warn(r.Context(), "refresh claims after wallet setup", "error", err)
	}
	writeJSON(w, http.StatusOK, setup)
}

func (a *API) verifyPasscode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Passcode string `json:"passcode"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}

	ok, err := a.wallet.VerifyPasscode(r.Context(), claimsFrom(r).UserID, req.Passcode)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if !ok {
		status = http.StatusUnauthorized
	}
	writeJSON(w, status, map[string]bool{"verified": ok})
}

func (a *API) walletBalance(w http.ResponseWriter, r *http.Request) {
	balance, err := a.wallet.Balance(r.Context(), claimsFrom(r).UserID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, balance)
}

type transferRequest struct {
	Recipient string `json:"recipient"`
	Amount    string `json:"amount"`
	Token     string `json:"token"`
	Passcode  string `json:"passcode"`
}

func (t transferRequest) input() services.TransferInput {
	return services.TransferInput{Recipient: t.Recipient, Amount: t.Amount, Token: t.Token, Passcode: t.Passcode}
}

type transactionView struct {
	ID        string  `json:"transactionId"`
	Status    string  `json:"status"`
	Network   string  `json:"network"`
	Signature *string `json:"signature,omitempty"`
	JobID     *string `json:"jobId,omitempty"`
}

func viewFromTransaction(tx *models.Transaction) transactionView {
	return transactionView{ID: tx.ID, Status: tx.Status, Network: tx.Network, Signature: tx.Signature, JobID: tx.JobID}
}

func (a *API) transfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := decodeJSON(w, r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	tx, err := a.relayer.Transfer(r.Context(), claimsFrom(r), req.input())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewFromTransaction(tx))
}

func (a *API) delegatedTransfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := decodeJSON(w, r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	tx, err := a.relayer.DelegatedTransfer(r.Context(), claimsFrom(r), req.input())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, viewFromTransaction(tx))
}

func (a *API) jobStatus(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		a.writeError(w, r, common.NewValidationError("id", "required"))
		return
	}
	status, err := a.relayer.JobStatus(r.Context(), claimsFrom(r), id)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (a *API) receiptURL(w http.ResponseWriter, r *http.Request) {
	if a.receipts == nil {
		a.writeError(w, r, common.ErrorNotFound)
		return
	}
	id := r.URL.Query().Get("id")
	if id == "" {
		a.writeError(w, r, common.NewValidationError("id", "required"))
		return
	}
	url, err := a.receipts.ReceiptURL(r.Context(), claimsFrom(r).UserID, id)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}
