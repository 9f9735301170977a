package service

import "github.com/Cheertaboi/storefront-order-service/internal/models"

type EventKind string

const (
	EventAccept         EventKind = "accept"
	EventReject         EventKind = "reject"
	EventSetETA         EventKind = "set_eta"
	EventMarkReady      EventKind = "mark_ready"
	EventMarkGiven      EventKind = "mark_given"
	EventMarkDispatched EventKind = "mark_dispatched"
	EventConfirmReceipt EventKind = "confirm_receipt"
)

// Event is an operator or customer action on an order.
type Event struct {
	Kind   EventKind
	Reason string
	// ETAPreset and ETAText are alternatives for EventSetETA.
	ETAPreset int
	ETAText   string
	// CustomerID identifies the actor of EventConfirmReceipt.
	CustomerID string
}

func Accept() Event                  { return Event{Kind: EventAccept} }
func Reject(reason string) Event     { return Event{Kind: EventReject, Reason: reason} }
func SetETAPreset(minutes int) Event { return Event{Kind: EventSetETA, ETAPreset: minutes} }
func SetETAText(text string) Event   { return Event{Kind: EventSetETA, ETAText: text} }
func MarkReady() Event               { return Event{Kind: EventMarkReady} }
func MarkGiven() Event               { return Event{Kind: EventMarkGiven} }
func MarkDispatched() Event          { return Event{Kind: EventMarkDispatched} }
func ConfirmReceipt(customerID string) Event {
	return Event{Kind: EventConfirmReceipt, CustomerID: customerID}
}

type transition struct {
	from  models.OrderState
	event EventKind
	to    models.OrderState
	// modes restricts the transition to these delivery modes; empty means any.
	modes []models.DeliveryMode
}

var transitions = []transition{
	{from: models.StateNew, event: EventAccept, to: models.StateAccepted},
	{from: models.StateNew, event: EventReject, to: models.StateRejected},
	{from: models.StateAccepted, event: EventSetETA, to: models.StateAwaitingFulfillment},
	{from: models.StateAwaitingFulfillment, event: EventMarkReady, to: models.StateReady},
	{from: models.StateReady, event: EventMarkGiven, to: models.StateGiven,
		modes: []models.DeliveryMode{models.DeliveryPickup, models.DeliveryDineIn}},
	{from: models.StateReady, event: EventMarkDispatched, to: models.StateDispatched,
		modes: []models.DeliveryMode{models.DeliveryDelivery}},
	{from: models.StateDispatched, event: EventConfirmReceipt, to: models.StateReceived},
}

func nextState(o *models.Order, ev EventKind) (models.OrderState, bool) {
	for _, t := range transitions {
		if t.from != o.State || t.event != ev {
			continue
		}
		if len(t.modes) == 0 {
			return t.to, true
		}
		for _, m := range t.modes {
			if m == o.DeliveryMode {
				return t.to, true
			}
		}
	}
	return "", false
}

// AvailableEvents lists the events the order accepts in its current state.
func AvailableEvents(o *models.Order) []EventKind {
	var out []EventKind
	for _, t := range transitions {
		if t.from != o.State {
			continue
		}
		if _, ok := nextState(o, t.event); ok {
			out = append(out, t.event)
		}
	}
	return out
}
