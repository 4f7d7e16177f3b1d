package notifications

import (
	"encoding/json"
	"time"
)

// Provider event types handled by the relay.
const (
	TypeCheckoutCompleted     = "checkout.session.completed"
	TypeAsyncPaymentSucceeded = "checkout.session.async_payment_succeeded"
	TypeChargeRefunded        = "charge.refunded"
)

// Checkout session payment statuses.
const (
	PaymentStatusPaid              = "paid"
	PaymentStatusUnpaid            = "unpaid"
	PaymentStatusNoPaymentRequired = "no_payment_required"
)

// Inbound is a notification exactly as it arrived on the wire.
type Inbound struct {
	Payload         []byte
	SignatureHeader string
}

// Verified is a signature-checked notification with its envelope decoded.
// Object holds the raw data.object for variant decoding.
type Verified struct {
	ID      string
	Type    string
	Created time.Time
	Object  json.RawMessage
}

// Notification is the closed set of notification variants.
type Notification interface {
	EventID() string
	EventType() string
	notification()
}

// Meta carries the envelope fields shared by every variant.
type Meta struct {
	ID      string
	Type    string
	Created time.Time
}

func (m Meta) EventID() string   { return m.ID }
func (m Meta) EventType() string { return m.Type }
func (Meta) notification()       {}

// PaymentCompleted carries a checkout session whose payment finished.
type PaymentCompleted struct {
	Meta
	Session CheckoutSession
}

// RefundIssued carries a charge with a new refund applied.
type RefundIssued struct {
	Meta
	Charge Charge
}

// Unknown is any type the relay does not act on. It is acknowledged, never dispatched.
type Unknown struct {
	Meta
}

type CheckoutSession struct {
	ID              string            `json:"id"`
	AmountTotal     *int64            `json:"amount_total"`
	AmountSubtotal  *int64            `json:"amount_subtotal"`
	Currency        string            `json:"currency"`
	PaymentIntent   string            `json:"payment_intent"`
	PaymentStatus   string            `json:"payment_status"`
	ClientReference string            `json:"client_reference_id"`
	Metadata        map[string]string `json:"metadata"`
	TotalDetails    *TotalDetails     `json:"total_details"`
	CustomerDetails *CustomerDetails  `json:"customer_details"`
	LineItems       *LineItemList     `json:"line_items"`
}

type TotalDetails struct {
	AmountDiscount int64 `json:"amount_discount"`
	AmountShipping int64 `json:"amount_shipping"`
	AmountTax      int64 `json:"amount_tax"`
}

type CustomerDetails struct {
	Email string `json:"email"`
}

type LineItemList struct {
	Data []LineItem `json:"data"`
}

type LineItem struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	Quantity    int64  `json:"quantity"`
	AmountTotal int64  `json:"amount_total"`
	Price       *Price `json:"price"`
}

type Price struct {
	ID         string `json:"id"`
	Product    string `json:"product"`
	UnitAmount *int64 `json:"unit_amount"`
}

type Charge struct {
	ID             string            `json:"id"`
	Amount         int64             `json:"amount"`
	AmountRefunded *int64            `json:"amount_refunded"`
	Currency       string            `json:"currency"`
	PaymentIntent  string            `json:"payment_intent"`
	Metadata       map[string]string `json:"metadata"`
	Refunds        *RefundList       `json:"refunds"`
}

type RefundList struct {
	Data []Refund `json:"data"`
}

type Refund struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Created  int64  `json:"created"`
}

// LatestRefund returns the most recent refund on the charge, if any.
func (c Charge) LatestRefund() (Refund, bool) {
	if c.Refunds == nil || len(c.Refunds.Data) == 0 {
		return Refund{}, false
	}
	latest := c.Refunds.Data[0]
	for _, r := range c.Refunds.Data[1:] {
		if r.Created > latest.Created {
			latest = r
		}
	}
	return latest, true
}
