package reconcile

import (
	"github.com/angelmondragon/payments-relay/pkg/db/models"
	"github.com/angelmondragon/payments-relay/pkg/enums"
	"github.com/shopspring/decimal"
)

type LineItem struct {
	ID        string
	Name      string
	UnitPrice decimal.Decimal
	Quantity  int64
}

// PurchaseRecord is the reconciled view of a paid checkout.
type PurchaseRecord struct {
	TransactionID string
	EventID       string
	PaymentIntent string
	Currency      enums.Currency
	Total         decimal.Decimal
	Tax           decimal.Decimal
	Shipping      decimal.Decimal
	Discount      decimal.Decimal
	Coupon        string
	LineItems     []LineItem
	CustomerEmail string
	ClientID      string
	SessionID     string
	UserID        string
}

// RefundRecord is the reconciled view of one refund applied to a charge.
type RefundRecord struct {
	RefundKey     string
	TransactionID string
	EventID       string
	ChargeID      string
	Currency      enums.Currency
	Total         decimal.Decimal
	LineItems     []LineItem
	ClientID      string
	SessionID     string
}

func (p PurchaseRecord) model() models.PurchaseRecord {
	return models.PurchaseRecord{
		TransactionID: p.TransactionID,
		EventID:       p.EventID,
		PaymentIntent: optional(p.PaymentIntent),
		Currency:      string(p.Currency),
		Total:         p.Total,
		Tax:           p.Tax,
		Shipping:      p.Shipping,
		Discount:      p.Discount,
		Coupon:        optional(p.Coupon),
		CustomerEmail: optional(p.CustomerEmail),
		ClientID:      optional(p.ClientID),
		SessionID:     optional(p.SessionID),
		LineItems:     lineItemModels(p.LineItems),
	}
}

func purchaseFromModel(m models.PurchaseRecord) PurchaseRecord {
	return PurchaseRecord{
		TransactionID: m.TransactionID,
		EventID:       m.EventID,
		PaymentIntent: deref(m.PaymentIntent),
		Currency:      enums.Currency(m.Currency),
		Total:         m.Total,
		Tax:           m.Tax,
		Shipping:      m.Shipping,
		Discount:      m.Discount,
		Coupon:        deref(m.Coupon),
		CustomerEmail: deref(m.CustomerEmail),
		ClientID:      deref(m.ClientID),
		SessionID:     deref(m.SessionID),
		LineItems:     lineItemsFromModels(m.LineItems),
	}
}

func (r RefundRecord) model() models.RefundRecord {
	return models.RefundRecord{
		RefundKey:     r.RefundKey,
		TransactionID: r.TransactionID,
		EventID:       r.EventID,
		ChargeID:      r.ChargeID,
		Currency:      string(r.Currency),
		Total:         r.Total,
		ClientID:      optional(r.ClientID),
		SessionID:     optional(r.SessionID),
		LineItems:     lineItemModels(r.LineItems),
	}
}

func lineItemModels(items []LineItem) []models.LineItem {
	out := make([]models.LineItem, 0, len(items))
	for _, item := range items {
		out = append(out, models.LineItem{ID: item.ID, Name: item.Name, UnitPrice: item.UnitPrice, Quantity: item.Quantity})
	}
	return out
}

func lineItemsFromModels(items []models.LineItem) []LineItem {
	out := make([]LineItem, 0, len(items))
	for _, item := range items {
		out = append(out, LineItem{ID: item.ID, Name: item.Name, UnitPrice: item.UnitPrice, Quantity: item.Quantity})
	}
	return out
}

func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func deref(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
