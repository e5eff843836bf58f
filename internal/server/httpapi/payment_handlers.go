package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dmitrijs2005/paykeeper/internal/common"
	"github.com/dmitrijs2005/paykeeper/internal/server/models"
	"github.com/dmitrijs2005/paykeeper/internal/server/services"
)

// paymentRoutes names the JSON fields that differ between links and requests.
type paymentRoutes struct {
	kind    models.PaymentKind
	idField string
	objKey  string
	listKey string
}

var (
	linkRoutes    = paymentRoutes{kind: models.KindLink, idField: "paymentLinkId", objKey: "paymentLink", listKey: "paymentLinks"}
	requestRoutes = paymentRoutes{kind: models.KindRequest, idField: "paymentRequestId", objKey: "paymentRequest", listKey: "paymentRequests"}
)

type paymentView struct {
	ID            string     `json:"id"`
	Kind          string     `json:"kind"`
	ShortID       string     `json:"shortId"`
	CreatorID     string     `json:"creatorId"`
	PayerEmail    *string    `json:"payerEmail,omitempty"`
	Amount        string     `json:"amount"`
	TokenType     string     `json:"tokenType"`
	Note          string     `json:"note"`
	Status        string     `json:"status"`
	ExpiresAt     time.Time  `json:"expiresAt"`
	CreatedAt     time.Time  `json:"createdAt"`
	CompletedAt   *time.Time `json:"completedAt,omitempty"`
	TransactionID *string    `json:"transactionId,omitempty"`
	URL           string     `json:"url"`
}

// view renders p. Public views never carry the addressed payer's email.
func (a *API) view(p *models.PaymentObject, public bool) paymentView {
	v := paymentView{
		ID:            p.ID,
		Kind:          string(p.Kind),
		ShortID:       p.ShortID,
		CreatorID:     p.CreatorID,
		Amount:        p.Amount.String(),
		TokenType:     p.TokenType,
		Note:          p.Note,
		Status:        p.Status,
		ExpiresAt:     p.ExpiresAt,
		CreatedAt:     p.CreatedAt,
		CompletedAt:   p.CompletedAt,
		TransactionID: p.TransactionID,
		URL:           a.payments.PublicURL(p.ShortID),
	}
	if !public {
		v.PayerEmail = p.PayerEmail
	}
	return v
}

func (a *API) createPayment(rt paymentRoutes) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Amount     string `json:"amount"`
			TokenType  string `json:"tokenType"`
			Note       string `json:"note"`
			PayerEmail string `json:"payerEmail"`
		}
		if err := decodeJSON(w, r, &req); err != nil {
			a.writeError(w, r, err)
			return
		}

		in := services.PaymentInput{Amount: req.Amount, TokenType: req.TokenType, Note: req.Note}
		if rt.kind == models.KindRequest {
			in.PayerEmail = req.PayerEmail
		}
		p, err := a.payments.Create(r.Context(), rt.kind, claimsFrom(r).UserID, in)
		if err != nil {
			a.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"success": true, rt.objKey: a.view(p, false)})
	}
}

func (a *API) paymentInfo(rt paymentRoutes) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		shortID := r.URL.Query().Get("id")
		if shortID == "" {
			a.writeError(w, r, common.NewValidationError("id", "required"))
			return
		}
		p, err := a.payments.GetByShortID(r.Context(), rt.kind, shortID)
		if err != nil {
			a.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{rt.objKey: a.view(p, true)})
	}
}

func (a *API) publicLookup(w http.ResponseWriter, r *http.Request) {
	p, err := a.payments.Lookup(r.Context(), chi.URLParam(r, "shortId"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"payment": a.view(p, true)})
}

// decodeID reads {<idField>: "..."} plus an optional signature.
func decodeID(w http.ResponseWriter, r *http.Request, rt paymentRoutes) (id, signature string, err error) {
	var req map[string]any
	if err := decodeJSON(w, r, &req); err != nil {
		return "", "", err
	}
	id, _ = req[rt.idField].(string)
	if id == "" {
		return "", "", common.NewValidationError(rt.idField, "required")
	}
	signature, _ = req["transactionSignature"].(string)
	return id, signature, nil
}

func (a *API) cancelPayment(rt paymentRoutes) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, _, err := decodeID(w, r, rt)
		if err != nil {
			a.writeError(w, r, err)
			return
		}
		p, err := a.payments.Cancel(r.Context(), rt.kind, claimsFrom(r).UserID, id)
		if err != nil {
			a.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, rt.objKey: a.view(p, false)})
	}
}

func (a *API) completePayment(rt paymentRoutes) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, signature, err := decodeID(w, r, rt)
		if err != nil {
			a.writeError(w, r, err)
			return
		}
		s, err := a.payments.Complete(r.Context(), rt.kind, claimsFrom(r).UserID, id, signature)
		if err != nil {
			a.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success":     true,
			rt.objKey:     a.view(s.Payment, false),
			"transaction": viewFromTransaction(s.Transaction),
		})
	}
}

func (a *API) listPayments(rt paymentRoutes) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		items, err := a.payments.ListByCreator(r.Context(), rt.kind, claimsFrom(r).UserID)
		if err != nil {
			a.writeError(w, r, err)
			return
		}
		views := make([]paymentView, 0, len(items))
		for _, p := range items {
			views = append(views, a.view(p, false))
		}
		writeJSON(w, http.StatusOK, map[string]any{rt.listKey: views})
	}
}
