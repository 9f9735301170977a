package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/Cheertaboi/storefront-order-service/internal/api/handlers"
	"github.com/Cheertaboi/storefront-order-service/internal/api/middleware"
	"github.com/Cheertaboi/storefront-order-service/internal/service"
)

// Deps is everything the HTTP layer talks to. Promos may be nil in degraded
// mode; Feed may be nil when no live notification feed is served.
type Deps struct {
	Machine       *service.OrderMachine
	Promos        *service.PromoLedger
	Reviews       *service.ReviewFlow
	Feed          http.Handler
	SubmitLimiter *middleware.RateLimiter
	LedgerBackend string
	Logger        *zap.Logger
}

// NewRouter builds the HTTP router for the order service
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(middleware.Logger(d.Logger))

	orderHandler := handlers.NewOrderHandler(d.Machine, d.Logger)
	promoHandler := handlers.NewPromoHandler(d.Promos, d.Logger)
	reviewHandler := handlers.NewReviewHandler(d.Reviews, d.Logger)

	limiter := d.SubmitLimiter
	if limiter == nil {
		limiter = middleware.NewRateLimiter(0)
	}

	// Storefront and operator endpoints
	r.Route("/orders", func(r chi.Router) {
		r.With(middleware.RateLimit(limiter, middleware.CustomerKey, d.Logger)).
			Post("/", orderHandler.CreateOrder)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", orderHandler.GetOrder)
			r.Post("/accept", orderHandler.Accept)
			r.Post("/reject", orderHandler.Reject)
			r.Post("/eta", orderHandler.SetETA)
			r.Post("/ready", orderHandler.MarkReady)
			r.Post("/given", orderHandler.MarkGiven)
			r.Post("/dispatched", orderHandler.MarkDispatched)
			r.Post("/received", orderHandler.ConfirmReceipt)
		})
	})

	r.Post("/promos/check", promoHandler.Check)

	// Customer review conversation
	r.Route("/reviews/{customerId}", func(r chi.Router) {
		r.Get("/", reviewHandler.GetSession)
		r.Post("/rating", reviewHandler.Rating)
		r.Post("/tip", reviewHandler.Tip)
		r.Post("/tip-target", reviewHandler.TipTarget)
		r.Post("/comment", reviewHandler.Comment)
	})

	if d.Feed != nil {
		r.Handle("/ws", d.Feed)
	}

	// health
	r.Get("/health", handlers.Health(d.LedgerBackend, d.Machine.Degraded))

	return r
}
