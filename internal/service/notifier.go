package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Cheertaboi/storefront-order-service/internal/concurrency"
	"github.com/Cheertaboi/storefront-order-service/internal/models"
)

// Notifier delivers notification intents to the chat transport.
type Notifier interface {
	NotifyAdmin(ctx context.Context, n models.AdminNotification) error
	NotifyCustomer(ctx context.Context, n models.CustomerNotification) error
}

// Dispatcher sends notifications off the caller's path. A failed send is
// retried once and then logged; it never rolls back order state.
type Dispatcher struct {
	notifier   Notifier
	pool       *concurrency.Pool
	logger     *zap.Logger
	retryDelay time.Duration
}

// NewDispatcher runs sends on pool. With a nil pool sends run inline.
func NewDispatcher(notifier Notifier, pool *concurrency.Pool, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		notifier:   notifier,
		pool:       pool,
		logger:     logger,
		retryDelay: 500 * time.Millisecond,
	}
}

func (d *Dispatcher) Admin(n models.AdminNotification) {
	d.dispatch("admin", n.OrderID, func(ctx context.Context) error {
		return d.notifier.NotifyAdmin(ctx, n)
	})
}

func (d *Dispatcher) Customer(n models.CustomerNotification) {
	d.dispatch(string(n.Kind), n.OrderID, func(ctx context.Context) error {
		return d.notifier.NotifyCustomer(ctx, n)
	})
}

func (d *Dispatcher) dispatch(kind, orderID string, send func(ctx context.Context) error) {
	task := func(ctx context.Context) {
		err := send(ctx)
		if err == nil {
			return
		}
		d.logger.Warn("notification failed, retrying",
			zap.String("kind", kind),
			zap.String("order_id", orderID),
			zap.Error(err),
		)
		select {
		case <-time.After(d.retryDelay):
		case <-ctx.Done():
		}
		if err := send(ctx); err != nil {
			d.logger.Error("notification dropped",
				zap.String("kind", kind),
				zap.String("order_id", orderID),
				zap.Error(err),
			)
		}
	}
	if d.pool == nil {
		task(context.Background())
		return
	}
	if !d.pool.Submit(task) {
		d.logger.Warn("dispatcher closed, notification dropped",
			zap.String("kind", kind),
			zap.String("order_id", orderID),
		)
	}
}
