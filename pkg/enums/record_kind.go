package enums

import "fmt"

// RecordKind distinguishes reconciled purchases from refunds.
type RecordKind string

const (
	RecordKindPurchase RecordKind = "purchase"
	RecordKindRefund   RecordKind = "refund"
)

var validRecordKinds = []RecordKind{
	RecordKindPurchase,
	RecordKindRefund,
}

// IsValid reports whether the value is a known RecordKind.
func (k RecordKind) IsValid() bool {
	for _, candidate := range validRecordKinds {
		if candidate == k {
			return true
		}
	}
	return false
}

// ParseRecordKind converts raw input into a RecordKind.
func ParseRecordKind(value string) (RecordKind, error) {
	for _, candidate := range validRecordKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid record kind %q", value)
}
