package notify

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/Cheertaboi/storefront-order-service/internal/models"
	"github.com/Cheertaboi/storefront-order-service/internal/service"
)

// LogNotifier writes notifications to the log, for headless runs.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) NotifyAdmin(_ context.Context, a models.AdminNotification) error {
	n.logger.Info("admin notification",
		zap.String("order_id", a.OrderID),
		zap.String("text", a.Text),
		zap.Int("actions", len(a.Actions)),
	)
	return nil
}

func (n *LogNotifier) NotifyCustomer(_ context.Context, c models.CustomerNotification) error {
	n.logger.Info("customer notification",
		zap.String("customer_id", c.CustomerID),
		zap.String("order_id", c.OrderID),
		zap.String("kind", string(c.Kind)),
		zap.String("text", c.Text),
	)
	return nil
}

// Fanout sends to every notifier and joins their errors.
type Fanout []service.Notifier

func (f Fanout) NotifyAdmin(ctx context.Context, a models.AdminNotification) error {
	var errs []error
	for _, n := range f {
		errs = append(errs, n.NotifyAdmin(ctx, a))
	}
	return errors.Join(errs...)
}

func (f Fanout) NotifyCustomer(ctx context.Context, c models.CustomerNotification) error {
	var errs []error
	for _, n := range f {
		errs = append(errs, n.NotifyCustomer(ctx, c))
	}
	return errors.Join(errs...)
}

var (
	_ service.Notifier = (*Hub)(nil)
	_ service.Notifier = (*LogNotifier)(nil)
	_ service.Notifier = Fanout(nil)
)
