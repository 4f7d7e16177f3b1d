package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// RefundRecord is the reconciled form of a refunded charge. A charge can be
// refunded more than once, so uniqueness is keyed on the refund itself.
type RefundRecord struct {
	ID            uint            `gorm:"column:id;primaryKey;autoIncrement"`
	RefundKey     string          `gorm:"column:refund_key;size:255;not null;uniqueIndex:ux_refund_records_refund_key"`
	TransactionID string          `gorm:"column:transaction_id;size:255;not null;index:ix_refund_records_transaction_id"`
	EventID       string          `gorm:"column:event_id;size:255;not null"`
	ChargeID      string          `gorm:"column:charge_id;size:255;not null"`
	Currency      string          `gorm:"column:currency;size:3;not null"`
	Total         decimal.Decimal `gorm:"column:total;type:numeric(18,4);not null"`
	ClientID      *string         `gorm:"column:client_id"`
	SessionID     *string         `gorm:"column:session_id"`
	LineItems     []LineItem      `gorm:"column:line_items;serializer:json"`
	CreatedAt     time.Time       `gorm:"column:created_at;autoCreateTime"`
}

func (RefundRecord) TableName() string { return "refund_records" }
