package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PurchaseRecord is the reconciled form of a completed checkout.
type PurchaseRecord struct {
	ID            uint            `gorm:"column:id;primaryKey;autoIncrement"`
	TransactionID string          `gorm:"column:transaction_id;size:255;not null;uniqueIndex:ux_purchase_records_transaction_id"`
	EventID       string          `gorm:"column:event_id;size:255;not null"`
	PaymentIntent *string         `gorm:"column:payment_intent;size:255;index:ix_purchase_records_payment_intent"`
	Currency      string          `gorm:"column:currency;size:3;not null"`
	Total         decimal.Decimal `gorm:"column:total;type:numeric(18,4);not null"`
	Tax           decimal.Decimal `gorm:"column:tax;type:numeric(18,4);not null"`
	Shipping      decimal.Decimal `gorm:"column:shipping;type:numeric(18,4);not null"`
	Discount      decimal.Decimal `gorm:"column:discount;type:numeric(18,4);not null"`
	Coupon        *string         `gorm:"column:coupon"`
	CustomerEmail *string         `gorm:"column:customer_email"`
	ClientID      *string         `gorm:"column:client_id"`
	SessionID     *string         `gorm:"column:session_id"`
	LineItems     []LineItem      `gorm:"column:line_items;serializer:json"`
	CreatedAt     time.Time       `gorm:"column:created_at;autoCreateTime"`
}

func (PurchaseRecord) TableName() string { return "purchase_records" }
