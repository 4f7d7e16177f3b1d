package enums

import "fmt"

// ProcessedOutcome is the final disposition stamped on a processed notification.
type ProcessedOutcome string

const (
	ProcessedOutcomeClaimed   ProcessedOutcome = "claimed"
	ProcessedOutcomeProcessed ProcessedOutcome = "processed"
	ProcessedOutcomeRejected  ProcessedOutcome = "rejected"
	ProcessedOutcomeSkipped   ProcessedOutcome = "skipped"
)

var validProcessedOutcomes = []ProcessedOutcome{
	ProcessedOutcomeClaimed,
	ProcessedOutcomeProcessed,
	ProcessedOutcomeRejected,
	ProcessedOutcomeSkipped,
}

// String implements fmt.Stringer.
func (o ProcessedOutcome) String() string {
	return string(o)
}

// IsValid reports whether the value is a known ProcessedOutcome.
func (o ProcessedOutcome) IsValid() bool {
	for _, candidate := range validProcessedOutcomes {
		if candidate == o {
			return true
		}
	}
	return false
}

// ParseProcessedOutcome converts raw input into a ProcessedOutcome.
func ParseProcessedOutcome(value string) (ProcessedOutcome, error) {
	for _, candidate := range validProcessedOutcomes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid processed outcome %q", value)
}
