package models

// OrderSubmission is the normalized payload handed over by the storefront.
type OrderSubmission struct {
	CustomerID           string           `json:"customer_id" validate:"required,max=64"`
	CustomerName         string           `json:"customer_name" validate:"max=100"`
	Phone                string           `json:"phone" validate:"max=32"`
	Address              string           `json:"address" validate:"required_if=DeliveryMode delivery,max=300"`
	Items                []SubmissionItem `json:"items" validate:"required,min=1,dive"`
	DeliveryMode         DeliveryMode     `json:"delivery_mode" validate:"required,oneof=pickup dine_in delivery"`
	PaymentMethod        string           `json:"payment_method" validate:"required,max=32"`
	PaymentPhone         string           `json:"payment_phone" validate:"max=32"`
	PromoCode            string           `json:"promo_code" validate:"max=64"`
	DeclaredDiscountRate float64          `json:"declared_discount_rate" validate:"gte=0,lt=1"`
	Comment              string           `json:"comment" validate:"max=1000"`
	RequestedTime        string           `json:"requested_time" validate:"max=32"`
}

type SubmissionItem struct {
	Name      string   `json:"name" validate:"required,max=200"`
	UnitPrice int64    `json:"unit_price" validate:"gte=0"`
	Quantity  int      `json:"quantity" validate:"gte=1,lte=100"`
	Options   []string `json:"options"`
}
