package models

// Action is a button the chat transport renders next to a notification.
type Action struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

type AdminNotification struct {
	OrderID string   `json:"order_id"`
	Text    string   `json:"text"`
	Actions []Action `json:"actions,omitempty"`
}

type CustomerNotificationKind string

const (
	NotifyOrderReceived  CustomerNotificationKind = "order_received"
	NotifyOrderRejected  CustomerNotificationKind = "order_rejected"
	NotifyETA            CustomerNotificationKind = "eta"
	NotifyReady          CustomerNotificationKind = "ready"
	NotifyCourierEnRoute CustomerNotificationKind = "courier_en_route"
	NotifyFreeItem       CustomerNotificationKind = "free_item"
	NotifyReviewPrompt   CustomerNotificationKind = "review_prompt"
	NotifyReviewThanks   CustomerNotificationKind = "review_thanks"
)

type CustomerNotification struct {
	CustomerID string                   `json:"customer_id"`
	OrderID    string                   `json:"order_id,omitempty"`
	Kind       CustomerNotificationKind `json:"kind"`
	Text       string                   `json:"text"`
	Actions    []Action                 `json:"actions,omitempty"`
}
