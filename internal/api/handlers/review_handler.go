package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/Cheertaboi/storefront-order-service/internal/models"
	"github.com/Cheertaboi/storefront-order-service/internal/service"
)

type RatingRequest struct {
	Category service.RatingCategory `json:"category"`
	Value    int                    `json:"value"`
}

type TipRequest struct {
	Accept    bool   `json:"accept"`
	Recipient string `json:"recipient"`
}

type TipTargetRequest struct {
	Recipient string `json:"recipient"`
}

type CommentRequest struct {
	Text string `json:"text"`
	Skip bool   `json:"skip"`
}

type ReviewHandler struct {
	flow   *service.ReviewFlow
	logger *zap.Logger
}

func NewReviewHandler(flow *service.ReviewFlow, logger *zap.Logger) *ReviewHandler {
	return &ReviewHandler{flow: flow, logger: logger}
}

// GetSession handles GET /reviews/{customerId}
func (h *ReviewHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	s, ok := h.flow.Session(chi.URLParam(r, "customerId"))
	if !ok {
		writeError(w, h.logger, service.ErrNoActiveSession)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *ReviewHandler) Rating(w http.ResponseWriter, r *http.Request) {
	var req RatingRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	s, err := h.flow.SubmitRating(r.Context(), chi.URLParam(r, "customerId"), req.Category, req.Value)
	h.respond(w, s, err)
}

func (h *ReviewHandler) Tip(w http.ResponseWriter, r *http.Request) {
	var req TipRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	s, err := h.flow.DecideTip(r.Context(), chi.URLParam(r, "customerId"), req.Accept, req.Recipient)
	h.respond(w, s, err)
}

func (h *ReviewHandler) TipTarget(w http.ResponseWriter, r *http.Request) {
	var req TipTargetRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	s, err := h.flow.ChooseTipTarget(r.Context(), chi.URLParam(r, "customerId"), req.Recipient)
	h.respond(w, s, err)
}

func (h *ReviewHandler) Comment(w http.ResponseWriter, r *http.Request) {
	var req CommentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	s, err := h.flow.SubmitComment(r.Context(), chi.URLParam(r, "customerId"), req.Text, req.Skip)
	h.respond(w, s, err)
}

func (h *ReviewHandler) respond(w http.ResponseWriter, s models.ReviewSession, err error) {
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}
