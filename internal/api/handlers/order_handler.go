package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/Cheertaboi/storefront-order-service/internal/models"
	"github.com/Cheertaboi/storefront-order-service/internal/service"
)

// --- Request / Response DTOs ---

type RejectRequest struct {
	Reason string `json:"reason"`
}

// ETARequest carries either a preset (minutes) or operator free text.
type ETARequest struct {
	Minutes int    `json:"minutes"`
	Text    string `json:"text"`
}

type ConfirmReceiptRequest struct {
	CustomerID string `json:"customer_id"`
}

type OrderResponse struct {
	*models.Order
	AvailableEvents []service.EventKind `json:"available_events"`
	// Ignored is set when the event hit an order that already finished.
	Ignored bool `json:"ignored,omitempty"`
}

func orderResponse(o *models.Order) OrderResponse {
	events := service.AvailableEvents(o)
	if events == nil {
		events = []service.EventKind{}
	}
	return OrderResponse{Order: o, AvailableEvents: events}
}

// --- Handler struct & constructor ---

type OrderHandler struct {
	machine *service.OrderMachine
	logger  *zap.Logger
}

func NewOrderHandler(machine *service.OrderMachine, logger *zap.Logger) *OrderHandler {
	return &OrderHandler{machine: machine, logger: logger}
}

// --- Handlers ---

// CreateOrder handles POST /orders
func (h *OrderHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var sub models.OrderSubmission
	if !decodeJSON(w, r, &sub) {
		return
	}
	o, err := h.machine.Submit(r.Context(), sub)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, orderResponse(o))
}

// GetOrder handles GET /orders/{id}
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.machine.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, orderResponse(o))
}

func (h *OrderHandler) Accept(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, service.Accept())
}

func (h *OrderHandler) Reject(w http.ResponseWriter, r *http.Request) {
	var req RejectRequest
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}
	h.handle(w, r, service.Reject(req.Reason))
}

func (h *OrderHandler) SetETA(w http.ResponseWriter, r *http.Request) {
	var req ETARequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Text != "" {
		h.handle(w, r, service.SetETAText(req.Text))
		return
	}
	h.handle(w, r, service.SetETAPreset(req.Minutes))
}

func (h *OrderHandler) MarkReady(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, service.MarkReady())
}

func (h *OrderHandler) MarkGiven(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, service.MarkGiven())
}

func (h *OrderHandler) MarkDispatched(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, service.MarkDispatched())
}

func (h *OrderHandler) ConfirmReceipt(w http.ResponseWriter, r *http.Request) {
	var req ConfirmReceiptRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	h.handle(w, r, service.ConfirmReceipt(req.CustomerID))
}

func (h *OrderHandler) handle(w http.ResponseWriter, r *http.Request, ev service.Event) {
	id := chi.URLParam(r, "id")
	o, err := h.machine.Handle(r.Context(), id, ev)
	if errors.Is(err, service.ErrOrderTerminal) {
		// duplicate clicks on a finished order are a no-op
		cur, gerr := h.machine.Get(r.Context(), id)
		if gerr != nil {
			writeError(w, h.logger, gerr)
			return
		}
		resp := orderResponse(cur)
		resp.Ignored = true
		writeJSON(w, http.StatusOK, resp)
		return
	}
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, orderResponse(o))
}
