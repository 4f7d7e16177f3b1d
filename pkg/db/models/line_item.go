package models

import "github.com/shopspring/decimal"

// LineItem is stored as JSON alongside purchase and refund records.
type LineItem struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int64           `json:"quantity"`
}
