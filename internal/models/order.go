package models

import "time"

type DeliveryMode string

const (
	DeliveryPickup   DeliveryMode = "pickup"
	DeliveryDineIn   DeliveryMode = "dine_in"
	DeliveryDelivery DeliveryMode = "delivery"
)

func (m DeliveryMode) Valid() bool {
	switch m {
	case DeliveryPickup, DeliveryDineIn, DeliveryDelivery:
		return true
	}
	return false
}

type OrderState string

const (
	StateNew                 OrderState = "new"
	StateAccepted            OrderState = "accepted"
	StateAwaitingFulfillment OrderState = "awaiting_fulfillment"
	StateReady               OrderState = "ready"
	StateGiven               OrderState = "given"
	StateDispatched          OrderState = "dispatched_to_courier"
	StateReceived            OrderState = "received_by_customer"
	StateRejected            OrderState = "rejected"
)

// IsTerminal reports whether no further transition is defined from s.
func (s OrderState) IsTerminal() bool {
	switch s {
	case StateRejected, StateGiven, StateReceived:
		return true
	}
	return false
}

// PromoStatus tracks what the ledger did for the order's promo code.
type PromoStatus string

const (
	PromoNone                PromoStatus = "none"
	PromoPending             PromoStatus = "pending"
	PromoRedeemed            PromoStatus = "redeemed"
	PromoDenied              PromoStatus = "denied"
	PromoCancelled           PromoStatus = "cancelled"
	PromoCompensationPending PromoStatus = "compensation_pending"
)

type OrderItem struct {
	Name      string   `json:"name" bson:"name"`
	UnitPrice int64    `json:"unit_price" bson:"unit_price"`
	Quantity  int      `json:"quantity" bson:"quantity"`
	Options   []string `json:"options,omitempty" bson:"options,omitempty"`
}

func (it OrderItem) LineTotal() int64 {
	return it.UnitPrice * int64(it.Quantity)
}

// ETA is either a number of minutes or a wall-clock time ("HH:MM").
type ETA struct {
	Minutes   int    `json:"minutes,omitempty"`
	ClockTime string `json:"clock_time,omitempty"`
}

func (e ETA) IsZero() bool {
	return e.Minutes == 0 && e.ClockTime == ""
}

type Order struct {
	ID            string       `json:"id"`
	CustomerID    string       `json:"customer_id"`
	CustomerName  string       `json:"customer_name,omitempty"`
	Phone         string       `json:"phone,omitempty"`
	Address       string       `json:"address,omitempty"`
	Items         []OrderItem  `json:"items"`
	DeliveryMode  DeliveryMode `json:"delivery_mode"`
	PaymentMethod string       `json:"payment_method"`
	PaymentPhone  string       `json:"payment_phone,omitempty"`
	Comment       string       `json:"comment,omitempty"`
	RequestedTime string       `json:"requested_time,omitempty"`

	PromoCode            string      `json:"promo_code,omitempty"`
	PromoStatus          PromoStatus `json:"promo_status"`
	DeclaredDiscountRate float64     `json:"declared_discount_rate"`
	AppliedDiscountRate  float64     `json:"applied_discount_rate"`
	Subtotal             int64       `json:"subtotal"`
	DiscountAmount       int64       `json:"discount_amount"`
	TotalAmount          int64       `json:"total_amount"`

	State          OrderState `json:"state"`
	RejectReason   string     `json:"reject_reason,omitempty"`
	ETA            *ETA       `json:"eta,omitempty"`
	LoyaltyAccrued bool       `json:"loyalty_accrued"`
	FreeItem       *int       `json:"free_item,omitempty"`

	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Units is the number of purchased units, used as loyalty earnings.
func (o *Order) Units() int {
	n := 0
	for _, it := range o.Items {
		n += it.Quantity
	}
	return n
}

func (o *Order) IsDelivery() bool {
	return o.DeliveryMode == DeliveryDelivery
}

// Clone returns a deep copy so callers can mutate without touching shared state.
func (o *Order) Clone() *Order {
	c := *o
	c.Items = make([]OrderItem, len(o.Items))
	for i, it := range o.Items {
		c.Items[i] = it
		c.Items[i].Options = append([]string(nil), it.Options...)
	}
	if o.ETA != nil {
		eta := *o.ETA
		c.ETA = &eta
	}
	if o.FreeItem != nil {
		idx := *o.FreeItem
		c.FreeItem = &idx
	}
	return &c
}
