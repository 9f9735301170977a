package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/Cheertaboi/storefront-order-service/internal/service"
)

type PromoCheckRequest struct {
	Code       string `json:"code"`
	CustomerID string `json:"customer_id"`
}

type PromoCheckResponse struct {
	Valid        bool    `json:"valid"`
	Status       string  `json:"status"`
	DiscountRate float64 `json:"discount_rate,omitempty"`
}

type PromoHandler struct {
	ledger *service.PromoLedger
	logger *zap.Logger
}

// NewPromoHandler accepts a nil ledger for degraded mode.
func NewPromoHandler(ledger *service.PromoLedger, logger *zap.Logger) *PromoHandler {
	return &PromoHandler{ledger: ledger, logger: logger}
}

// Check handles POST /promos/check, the storefront pre-flight. It never
// consumes a use.
func (h *PromoHandler) Check(w http.ResponseWriter, r *http.Request) {
	var req PromoCheckRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.CustomerID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "validation_failed", Field: "customer_id", Message: "required"})
		return
	}

	res, err := h.ledger.Check(r.Context(), req.Code, req.CustomerID)
	if err != nil {
		if res.Status == service.PromoTransientError {
			writeJSON(w, http.StatusServiceUnavailable, PromoCheckResponse{Status: res.Status.String()})
			return
		}
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, PromoCheckResponse{
		Valid:        res.Status == service.PromoOK,
		Status:       res.Status.String(),
		DiscountRate: res.DiscountRate,
	})
}
