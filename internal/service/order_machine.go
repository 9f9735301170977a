package service

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Cheertaboi/storefront-order-service/internal/models"
	"github.com/Cheertaboi/storefront-order-service/internal/repository"
)

var DefaultETAPresets = []int{5, 10, 15, 20, 30}

const (
	maxCASAttempts = 5
	// pendingPromoGrace is how long a promo may stay pending before the
	// reconciler assumes the submission that owned it died.
	pendingPromoGrace = time.Minute
)

// errPromoSettled aborts a promo write when another path already moved the
// order's promo status on.
var errPromoSettled = errors.New("promo status already settled")

type MachineConfig struct {
	LoyaltyThreshold int
	ETAPresets       []int
	// Degraded marks a service running without a reachable ledger.
	Degraded bool
}

// OrderMachine drives orders through their lifecycle. Every order write is
// a compare-and-swap on the order version, so of two racing operator clicks
// exactly one takes effect.
type OrderMachine struct {
	orders   repository.OrderStore
	promos   *PromoLedger
	loyalty  *LoyaltyLedger
	reviews  *ReviewFlow
	notify   *Dispatcher
	validate *validator.Validate
	cfg      MachineConfig
	logger   *zap.Logger

	now   func() time.Time
	newID func() string
}

// NewOrderMachine wires the machine. promos and loyalty may be nil, in which
// case promo codes are refused and no points accrue.
func NewOrderMachine(
	orders repository.OrderStore,
	promos *PromoLedger,
	loyalty *LoyaltyLedger,
	reviews *ReviewFlow,
	notify *Dispatcher,
	cfg MachineConfig,
	logger *zap.Logger,
) *OrderMachine {
	if len(cfg.ETAPresets) == 0 {
		cfg.ETAPresets = DefaultETAPresets
	}
	return &OrderMachine{
		orders:   orders,
		promos:   promos,
		loyalty:  loyalty,
		reviews:  reviews,
		notify:   notify,
		validate: newValidator(),
		cfg:      cfg,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
	}
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func (m *OrderMachine) Degraded() bool {
	return m.cfg.Degraded || m.promos == nil
}

func (m *OrderMachine) ETAPresets() []int {
	return slices.Clone(m.cfg.ETAPresets)
}

// Submit validates the submission, persists the order in state new and,
// when a promo code is present, redeems it. Any refusal or ledger failure
// charges full price; the customer is told why.
func (m *OrderMachine) Submit(ctx context.Context, sub models.OrderSubmission) (*models.Order, error) {
	if err := m.validateSubmission(sub); err != nil {
		return nil, err
	}

	now := m.now()
	o := &models.Order{
		ID:                   m.newID(),
		CustomerID:           sub.CustomerID,
		CustomerName:         sub.CustomerName,
		Phone:                sub.Phone,
		Address:              sub.Address,
		DeliveryMode:         sub.DeliveryMode,
		PaymentMethod:        sub.PaymentMethod,
		PaymentPhone:         sub.PaymentPhone,
		Comment:              sub.Comment,
		RequestedTime:        sub.RequestedTime,
		DeclaredDiscountRate: sub.DeclaredDiscountRate,
		PromoStatus:          models.PromoNone,
		State:                models.StateNew,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	for _, it := range sub.Items {
		o.Items = append(o.Items, models.OrderItem{
			Name:      it.Name,
			UnitPrice: it.UnitPrice,
			Quantity:  it.Quantity,
			Options:   slices.Clone(it.Options),
		})
	}
	o.Subtotal = Subtotal(o.Items)
	o.TotalAmount = o.Subtotal
	if code := models.NormalizeCode(sub.PromoCode); code != "" {
		o.PromoCode = code
		o.PromoStatus = models.PromoPending
	}

	// 1) persist before touching the ledger so a redemption always has an order
	if err := m.orders.CreateOrder(ctx, o); err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	// 2) redeem
	var warning string
	if o.PromoCode != "" {
		saved, w, err := m.redeemForOrder(ctx, o)
		if err != nil {
			return nil, err
		}
		o, warning = saved, w
	}

	m.logger.Info("order submitted",
		zap.String("order_id", o.ID),
		zap.String("customer_id", o.CustomerID),
		zap.String("delivery_mode", string(o.DeliveryMode)),
		zap.Int64("total", o.TotalAmount),
		zap.String("promo_status", string(o.PromoStatus)),
	)

	// 3) notify
	m.notify.Admin(models.AdminNotification{
		OrderID: o.ID,
		Text:    newOrderText(o, m.Degraded()),
		Actions: decisionActions(),
	})
	m.notify.Customer(models.CustomerNotification{
		CustomerID: o.CustomerID,
		OrderID:    o.ID,
		Kind:       models.NotifyOrderReceived,
		Text:       receiptText(o, warning),
	})
	return o, nil
}

func (m *OrderMachine) validateSubmission(sub models.OrderSubmission) error {
	err := m.validate.Struct(sub)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return &ValidationError{
			Field:   strings.TrimPrefix(fe.Namespace(), "OrderSubmission."),
			Message: fmt.Sprintf("failed %q validation", fe.Tag()),
		}
	}
	return &ValidationError{Field: "submission", Message: err.Error()}
}

// redeemForOrder runs the ledger redemption and records the outcome on the
// order. It returns the customer-facing warning when the code was refused.
func (m *OrderMachine) redeemForOrder(ctx context.Context, o *models.Order) (*models.Order, string, error) {
	res, err := m.promos.Redeem(ctx, o.PromoCode, o.CustomerID, o.ID)

	status := models.PromoDenied
	rate := 0.0
	warning := ""
	switch {
	case res.Status == PromoOK:
		status, rate = models.PromoRedeemed, res.DiscountRate
	case res.Status == PromoAlreadyUsed && res.HolderOrderID == o.ID:
		// our own redemption, committed by an attempt whose reply was lost
		status, rate = models.PromoRedeemed, res.DiscountRate
	case res.Status == PromoTransientError && !errors.Is(err, ErrLedgerUnavailable):
		// the outcome is unknown; compensation removes a redemption that
		// may have been committed
		status = models.PromoCompensationPending
		warning = promoWarning(o.PromoCode, res)
	default:
		warning = promoWarning(o.PromoCode, res)
	}
	if status == models.PromoRedeemed && o.DeclaredDiscountRate != rate {
		m.logger.Warn("declared discount differs from ledger",
			zap.String("order_id", o.ID),
			zap.Float64("declared", o.DeclaredDiscountRate),
			zap.Float64("ledger", rate),
		)
	}

	recheck := false
	saved, err := m.mutate(context.WithoutCancel(ctx), o.ID, func(cur *models.Order) error {
		if cur.PromoStatus != models.PromoPending {
			// rejected or reconciled while the redemption was in flight; a
			// cancellation may have run before our redemption committed
			recheck = status != models.PromoDenied && cur.PromoStatus == models.PromoCancelled
			if !recheck {
				return errPromoSettled
			}
			cur.PromoStatus = models.PromoCompensationPending
			return nil
		}
		cur.PromoStatus = status
		if status == models.PromoRedeemed {
			applyDiscount(cur, rate)
		} else {
			removeDiscount(cur)
		}
		return nil
	})
	if errors.Is(err, errPromoSettled) {
		saved, err = m.orders.GetOrder(ctx, o.ID)
	}
	if err != nil {
		return nil, "", fmt.Errorf("record promo outcome: %w", err)
	}
	if recheck {
		saved = m.compensate(ctx, saved)
	}
	return saved, warning, nil
}

// Handle applies an operator or customer event. Events on a terminal order
// return ErrOrderTerminal and change nothing.
func (m *OrderMachine) Handle(ctx context.Context, orderID string, ev Event) (*models.Order, error) {
	var eta models.ETA
	if ev.Kind == EventSetETA {
		var err error
		if eta, err = m.resolveETA(ev); err != nil {
			return nil, err
		}
	}

	var from models.OrderState
	o, err := m.mutate(ctx, orderID, func(cur *models.Order) error {
		if cur.State.IsTerminal() {
			return ErrOrderTerminal
		}
		if ev.Kind == EventConfirmReceipt && ev.CustomerID != cur.CustomerID {
			return ErrNotOrderOwner
		}
		next, ok := nextState(cur, ev.Kind)
		if !ok {
			return fmt.Errorf("%w: %s from %s (%s)", ErrInvalidTransition, ev.Kind, cur.State, cur.DeliveryMode)
		}
		from = cur.State
		cur.State = next
		switch ev.Kind {
		case EventReject:
			cur.RejectReason = strings.TrimSpace(ev.Reason)
			// committed with the rejection so a lost compensation is found
			// by the reconciler
			if cur.PromoStatus == models.PromoRedeemed || cur.PromoStatus == models.PromoPending {
				cur.PromoStatus = models.PromoCompensationPending
			}
		case EventSetETA:
			cur.ETA = &eta
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.logger.Info("order transition",
		zap.String("order_id", o.ID),
		zap.String("event", string(ev.Kind)),
		zap.String("from", string(from)),
		zap.String("to", string(o.State)),
	)
	return m.afterTransition(ctx, o, ev), nil
}

func (m *OrderMachine) resolveETA(ev Event) (models.ETA, error) {
	if ev.ETAText != "" {
		return ParseETA(ev.ETAText)
	}
	if !slices.Contains(m.cfg.ETAPresets, ev.ETAPreset) {
		return models.ETA{}, &ValidationError{Field: "eta", Message: fmt.Sprintf("%d is not a preset", ev.ETAPreset)}
	}
	return models.ETA{Minutes: ev.ETAPreset}, nil
}

// afterTransition runs side effects for the winner of a transition.
func (m *OrderMachine) afterTransition(ctx context.Context, o *models.Order, ev Event) *models.Order {
	switch ev.Kind {
	case EventAccept:
		m.notify.Admin(models.AdminNotification{
			OrderID: o.ID,
			Text:    fmt.Sprintf("Order %s accepted. Set the ready time.", o.ID),
			Actions: etaActions(m.cfg.ETAPresets),
		})
	case EventReject:
		m.notify.Admin(models.AdminNotification{OrderID: o.ID, Text: fmt.Sprintf("Order %s rejected.", o.ID)})
		m.notify.Customer(models.CustomerNotification{
			CustomerID: o.CustomerID,
			OrderID:    o.ID,
			Kind:       models.NotifyOrderRejected,
			Text:       rejectedText(o),
		})
		if o.PromoStatus == models.PromoCompensationPending {
			o = m.compensate(ctx, o)
		}
	case EventSetETA:
		m.notify.Customer(models.CustomerNotification{
			CustomerID: o.CustomerID,
			OrderID:    o.ID,
			Kind:       models.NotifyETA,
			Text:       etaText(*o.ETA),
		})
		m.notify.Admin(models.AdminNotification{
			OrderID: o.ID,
			Text:    fmt.Sprintf("Order %s: ready in %s.", o.ID, FormatETA(*o.ETA)),
			Actions: []models.Action{{ID: "ready", Label: "Ready"}},
		})
	case EventMarkReady:
		m.notify.Customer(models.CustomerNotification{
			CustomerID: o.CustomerID,
			OrderID:    o.ID,
			Kind:       models.NotifyReady,
			Text:       readyText(o),
		})
		m.notify.Admin(models.AdminNotification{
			OrderID: o.ID,
			Text:    fmt.Sprintf("Order %s is ready.", o.ID),
			Actions: fulfillmentActions(o),
		})
	case EventMarkDispatched:
		m.notify.Customer(models.CustomerNotification{
			CustomerID: o.CustomerID,
			OrderID:    o.ID,
			Kind:       models.NotifyCourierEnRoute,
			Text:       "The courier is on the way! Tap the button once you have your order.",
			Actions:    []models.Action{{ID: "confirm_receipt", Label: "I got my order"}},
		})
	case EventMarkGiven, EventConfirmReceipt:
		o = m.complete(ctx, o)
	}
	return o
}

// compensate cancels the redemption held by an order in
// compensation_pending and then records the cancellation. The ledger call
// does not inherit request cancellation. If either step fails the order stays
// in compensation_pending for ReconcileCompensations; a cancellation that
// already went through is then reported as not used and only recorded.
func (m *OrderMachine) compensate(ctx context.Context, o *models.Order) *models.Order {
	ctx = context.WithoutCancel(ctx)
	status, err := m.promos.CancelForOrder(ctx, o.PromoCode, o.CustomerID, o.ID)
	if err != nil {
		m.logger.Error("promo compensation failed",
			zap.String("order_id", o.ID),
			zap.String("code", o.PromoCode),
			zap.Error(err),
		)
		return o
	}

	saved, err := m.mutate(ctx, o.ID, func(cur *models.Order) error {
		if cur.PromoStatus != models.PromoCompensationPending {
			return errPromoSettled
		}
		cur.PromoStatus = models.PromoCancelled
		removeDiscount(cur)
		return nil
	})
	if errors.Is(err, errPromoSettled) {
		if cur, gerr := m.orders.GetOrder(ctx, o.ID); gerr == nil {
			return cur
		}
		return o
	}
	if err != nil {
		m.logger.Error("record promo cancellation",
			zap.String("order_id", o.ID),
			zap.Stringer("status", status),
			zap.Error(err),
		)
		return o
	}
	m.logger.Info("promo compensated",
		zap.String("order_id", o.ID),
		zap.String("code", o.PromoCode),
		zap.Stringer("status", status),
	)
	return saved
}

// ReconcileCompensations retries every pending compensation and returns
// how many were resolved. Orders whose promo has been pending for longer
// than pendingPromoGrace lost their submission after the ledger call and
// are compensated too.
func (m *OrderMachine) ReconcileCompensations(ctx context.Context) (int, error) {
	if m.promos == nil {
		return 0, nil
	}
	pending, err := m.orders.ListOrdersByPromoStatus(ctx, models.PromoCompensationPending)
	if err != nil {
		return 0, fmt.Errorf("list pending compensations: %w", err)
	}
	stuck, err := m.orders.ListOrdersByPromoStatus(ctx, models.PromoPending)
	if err != nil {
		return 0, fmt.Errorf("list pending promos: %w", err)
	}
	for _, o := range stuck {
		if m.now().Sub(o.UpdatedAt) < pendingPromoGrace {
			continue
		}
		claimed, err := m.mutate(ctx, o.ID, func(cur *models.Order) error {
			if cur.PromoStatus != models.PromoPending {
				return errPromoSettled
			}
			cur.PromoStatus = models.PromoCompensationPending
			removeDiscount(cur)
			return nil
		})
		if err != nil {
			if !errors.Is(err, errPromoSettled) {
				m.logger.Warn("claim stuck promo", zap.String("order_id", o.ID), zap.Error(err))
			}
			continue
		}
		pending = append(pending, claimed)
	}

	resolved := 0
	for _, o := range pending {
		if err := ctx.Err(); err != nil {
			return resolved, err
		}
		if saved := m.compensate(ctx, o); saved.PromoStatus == models.PromoCancelled {
			resolved++
		}
	}
	if len(pending) > 0 {
		m.logger.Info("compensations reconciled", zap.Int("pending", len(pending)), zap.Int("resolved", resolved))
	}
	return resolved, nil
}

// complete accrues loyalty once per order and opens the review dialog.
func (m *OrderMachine) complete(ctx context.Context, o *models.Order) *models.Order {
	if m.loyalty != nil && !o.LoyaltyAccrued {
		res, err := m.loyalty.Accrue(ctx, o.CustomerID, o.Units(), m.cfg.LoyaltyThreshold)
		if err != nil {
			m.logger.Error("loyalty accrual failed", zap.String("order_id", o.ID), zap.Error(err))
		} else {
			saved, err := m.mutate(context.WithoutCancel(ctx), o.ID, func(cur *models.Order) error {
				cur.LoyaltyAccrued = true
				if res.FreeItemAwarded {
					if idx := FreeItemIndex(cur.Items); idx >= 0 {
						cur.FreeItem = &idx
					}
				}
				return nil
			})
			if err != nil {
				m.logger.Error("record loyalty accrual", zap.String("order_id", o.ID), zap.Error(err))
			} else {
				o = saved
			}
			if res.FreeItemAwarded {
				m.notify.Customer(models.CustomerNotification{
					CustomerID: o.CustomerID,
					OrderID:    o.ID,
					Kind:       models.NotifyFreeItem,
					Text:       freeItemText(o, res.BenefitIndex),
				})
			}
		}
	}
	if m.reviews != nil {
		m.reviews.Start(o)
	}
	return o
}

func (m *OrderMachine) Get(ctx context.Context, orderID string) (*models.Order, error) {
	return m.orders.GetOrder(ctx, orderID)
}

// mutate loads the order, applies fn and stores it with a version check,
// reloading on conflict. An error from fn aborts without writing.
func (m *OrderMachine) mutate(ctx context.Context, orderID string, fn func(o *models.Order) error) (*models.Order, error) {
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		o, err := m.orders.GetOrder(ctx, orderID)
		if err != nil {
			return nil, err
		}
		expected := o.Version
		if err := fn(o); err != nil {
			return nil, err
		}
		o.UpdatedAt = m.now()
		err = m.orders.CompareAndSwapOrder(ctx, o, expected)
		if err == nil {
			return o, nil
		}
		if !errors.Is(err, repository.ErrVersionConflict) {
			return nil, fmt.Errorf("save order %s: %w", orderID, err)
		}
	}
	return nil, fmt.Errorf("save order %s: %w", orderID, repository.ErrVersionConflict)
}
