package service

import (
	"fmt"
	"strings"

	"github.com/Cheertaboi/storefront-order-service/internal/models"
)

const currency = "₸"

func money(v int64) string {
	return fmt.Sprintf("%d %s", v, currency)
}

func newOrderText(o *models.Order, degraded bool) string {
	var b strings.Builder
	icon := "🏃"
	if o.IsDelivery() {
		icon = "🚗"
	}
	fmt.Fprintf(&b, "%s NEW ORDER %s\n", icon, o.ID)
	if o.CustomerName != "" {
		fmt.Fprintf(&b, "Name: %s\n", o.CustomerName)
	}
	if o.Phone != "" {
		fmt.Fprintf(&b, "Phone: %s\n", o.Phone)
	}
	switch o.DeliveryMode {
	case models.DeliveryDelivery:
		fmt.Fprintf(&b, "Address: %s\n", o.Address)
	case models.DeliveryDineIn:
		b.WriteString("Dine-in\n")
	default:
		b.WriteString("Pickup\n")
	}
	fmt.Fprintf(&b, "Payment: %s\n", o.PaymentMethod)
	if o.PaymentPhone != "" {
		fmt.Fprintf(&b, "Bill to: %s\n", o.PaymentPhone)
	}
	if o.Comment != "" {
		fmt.Fprintf(&b, "Comment: %s\n", o.Comment)
	}
	if o.RequestedTime != "" {
		fmt.Fprintf(&b, "Requested for: %s\n", o.RequestedTime)
	}
	b.WriteString("Items:\n")
	for i, it := range o.Items {
		opts := ""
		if len(it.Options) > 0 {
			opts = " (" + strings.Join(it.Options, ", ") + ")"
		}
		fmt.Fprintf(&b, "%d. %s%s x%d\n", i+1, it.Name, opts, it.Quantity)
	}
	if line := promoLine(o); line != "" {
		b.WriteString(line + "\n")
	}
	fmt.Fprintf(&b, "TOTAL: %s", money(o.TotalAmount))
	if o.IsDelivery() {
		b.WriteString(" + delivery")
	}
	if degraded {
		b.WriteString("\nLedger offline: promo and loyalty disabled")
	}
	return b.String()
}

func promoLine(o *models.Order) string {
	switch o.PromoStatus {
	case models.PromoRedeemed:
		return fmt.Sprintf("Promo: %s (-%s)", o.PromoCode, money(o.DiscountAmount))
	case models.PromoDenied:
		return fmt.Sprintf("Promo: %s (refused)", o.PromoCode)
	case models.PromoCompensationPending:
		return fmt.Sprintf("Promo: %s (not applied, ledger error)", o.PromoCode)
	}
	return ""
}

// promoWarning explains to the customer why their code was not honored.
func promoWarning(code string, res PromoResult) string {
	switch res.Status {
	case PromoNotFound:
		return fmt.Sprintf("Promo code %s does not exist. The discount was not applied.", code)
	case PromoAlreadyUsed:
		return fmt.Sprintf("You have already used promo code %s. The discount was not applied.", code)
	case PromoLimitExhausted:
		return fmt.Sprintf("Promo code %s has run out. The discount was not applied.", code)
	}
	return fmt.Sprintf("Promo code %s could not be applied right now. The discount was not applied.", code)
}

func receiptText(o *models.Order, warning string) string {
	text := fmt.Sprintf("Order received!\nTotal: %s", money(o.TotalAmount))
	if o.IsDelivery() {
		text += " + delivery"
	}
	if warning != "" {
		text += "\n\n" + warning
	}
	return text
}

func decisionActions() []models.Action {
	return []models.Action{
		{ID: "accept", Label: "Accept"},
		{ID: "reject", Label: "Reject"},
	}
}

func etaActions(presets []int) []models.Action {
	out := make([]models.Action, 0, len(presets)+1)
	for _, p := range presets {
		out = append(out, models.Action{ID: fmt.Sprintf("eta:%d", p), Label: fmt.Sprintf("%d min", p)})
	}
	return append(out, models.Action{ID: "eta:custom", Label: "Custom time"})
}

func rejectedText(o *models.Order) string {
	text := "Your order was rejected. We will contact you shortly."
	if o.RejectReason != "" {
		text = fmt.Sprintf("Your order was rejected: %s. We will contact you shortly.", o.RejectReason)
	}
	return text
}

func etaText(eta models.ETA) string {
	return fmt.Sprintf("Your order is being prepared. Ready in: %s.", FormatETA(eta))
}

func readyText(o *models.Order) string {
	switch o.DeliveryMode {
	case models.DeliveryDelivery:
		return "Your order is packed and waiting for the courier."
	case models.DeliveryDineIn:
		return "Your order is ready and will be brought to your table."
	}
	return "Your order is ready! Pick it up at the counter."
}

func fulfillmentActions(o *models.Order) []models.Action {
	if o.IsDelivery() {
		return []models.Action{{ID: "dispatched", Label: "Handed to courier"}}
	}
	return []models.Action{{ID: "given", Label: "Handed over"}}
}

func freeItemText(o *models.Order, benefitIndex int) string {
	name := "an item"
	if o.FreeItem != nil {
		name = o.Items[*o.FreeItem].Name
	}
	return fmt.Sprintf("Thank you for being with us! Free item #%d is on us: %s.", benefitIndex, name)
}

func ratingActions(category RatingCategory) []models.Action {
	out := make([]models.Action, 0, 5)
	for v := 1; v <= 5; v++ {
		out = append(out, models.Action{
			ID:    fmt.Sprintf("rating:%s:%d", category, v),
			Label: strings.Repeat("⭐", v),
		})
	}
	return out
}

func tipTargetActions(targets []string) []models.Action {
	out := make([]models.Action, 0, len(targets))
	for _, t := range targets {
		out = append(out, models.Action{ID: "tip_target:" + t, Label: t})
	}
	return out
}

// ackTone buckets a rating average for the closing message.
func ackTone(avg float64) string {
	switch {
	case avg >= 5:
		return "effusive"
	case avg >= 4:
		return "positive"
	case avg >= 3:
		return "neutral"
	}
	return "apologetic"
}

func thanksText(tone string) string {
	switch tone {
	case "effusive":
		return "Wow, thank you so much! We are thrilled you loved it. See you again soon!"
	case "positive":
		return "Thank you for the kind feedback! We are glad you enjoyed your order."
	case "neutral":
		return "Thank you for your feedback. We will keep working to make it better."
	}
	return "We are sorry it was not great this time. Thank you for telling us, we will make it right."
}
