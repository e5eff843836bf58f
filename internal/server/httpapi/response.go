package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/dmitrijs2005/paykeeper/internal/common"
)

type errorBody struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	Field     string `json:"field,omitempty"`
	Current   string `json:"current,omitempty"`
	Detail    string `json:"detail,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// httpError maps a service error to a status code and a client-facing body.
// Every handler goes through it.
func httpError(err error) (int, errorBody) {
	var (
		ve *common.ValidationError
		ce *common.ConflictError
	)
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest, errorBody{Error: ve.Reason, Code: "VALIDATION_FAILED", Field: ve.Field}
	case errors.Is(err, common.ErrValidation):
		return http.StatusBadRequest, errorBody{Error: "invalid request", Code: "VALIDATION_FAILED"}
	case errors.Is(err, common.ErrorUnauthorized),
		errors.Is(err, common.ErrInvalidToken),
		errors.Is(err, common.ErrTokenExpired):
		return http.StatusUnauthorized, errorBody{Error: "unauthorized", Code: "UNAUTHORIZED"}
	case errors.Is(err, common.ErrForbidden):
		return http.StatusForbidden, errorBody{Error: "forbidden", Code: "FORBIDDEN"}
	case errors.Is(err, common.ErrWalletNotFound):
		return http.StatusNotFound, errorBody{Error: "wallet not set up", Code: "WALLET_NOT_SET_UP"}
	case errors.Is(err, common.ErrorNotFound):
		return http.StatusNotFound, errorBody{Error: "not found", Code: "NOT_FOUND"}
	case errors.As(err, &ce):
		return http.StatusConflict, errorBody{Error: ce.Reason, Code: "CONFLICT", Current: ce.Current}
	case errors.Is(err, common.ErrConflict):
		return http.StatusConflict, errorBody{Error: "conflict", Code: "CONFLICT"}
	case errors.Is(err, common.ErrExternalService):
		return http.StatusInternalServerError, errorBody{Error: "upstream service failed", Code: "EXTERNAL_SERVICE"}
	default:
		return http.StatusInternalServerError, errorBody{Error: "internal error", Code: "INTERNAL"}
	}
}

func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := httpError(err)
	if status >= http.StatusInternalServerError {
		a.logger.Error(r.Context(), "request failed", "path", r.URL.Path, "error", err)
	}
	if !a.production {
		body.Detail = err.Error()
	}
	body.RequestID = chimiddleware.GetReqID(r.Context())
	writeJSON(w, status, body)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		return common.NewValidationError("body", "malformed JSON")
	}
	return nil
}
