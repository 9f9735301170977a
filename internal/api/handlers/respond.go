package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/Cheertaboi/storefront-order-service/internal/repository"
	"github.com/Cheertaboi/storefront-order-service/internal/service"
)

const maxBodyBytes = 1 << 20

type errorResponse struct {
	Error   string `json:"error"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid_body", Message: err.Error()})
		return false
	}
	return true
}

// writeError maps service and store errors onto HTTP statuses.
func writeError(w http.ResponseWriter, logger *zap.Logger, err error) {
	var ve *service.ValidationError
	switch {
	case errors.As(err, &ve):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "validation_failed", Field: ve.Field, Message: ve.Message})
	case errors.Is(err, repository.ErrOrderNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "order_not_found"})
	case errors.Is(err, service.ErrInvalidTransition):
		writeJSON(w, http.StatusConflict, errorResponse{Error: "invalid_transition", Message: err.Error()})
	case errors.Is(err, service.ErrNotOrderOwner):
		writeJSON(w, http.StatusForbidden, errorResponse{Error: "not_order_owner"})
	case errors.Is(err, service.ErrNoActiveSession):
		writeJSON(w, http.StatusConflict, errorResponse{Error: "no_active_session"})
	case errors.Is(err, service.ErrUnexpectedReviewInput):
		writeJSON(w, http.StatusConflict, errorResponse{Error: "unexpected_review_input", Message: err.Error()})
	case errors.Is(err, service.ErrLedgerUnavailable):
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "ledger_unavailable"})
	default:
		logger.Error("request failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal_error"})
	}
}
