package enums

import "fmt"

// DeliveryState tracks an outbound event through the delivery queue.
type DeliveryState string

const (
	DeliveryStatePending      DeliveryState = "pending"
	DeliveryStateSending      DeliveryState = "sending"
	DeliveryStateSuccess      DeliveryState = "success"
	DeliveryStateDeadLettered DeliveryState = "dead_lettered"
)

var validDeliveryStates = []DeliveryState{
	DeliveryStatePending,
	DeliveryStateSending,
	DeliveryStateSuccess,
	DeliveryStateDeadLettered,
}

// String implements fmt.Stringer.
func (s DeliveryState) String() string {
	return string(s)
}

// IsValid reports whether the value is a known DeliveryState.
func (s DeliveryState) IsValid() bool {
	for _, candidate := range validDeliveryStates {
		if candidate == s {
			return true
		}
	}
	return false
}

// Terminal reports whether the queue is finished with the event.
func (s DeliveryState) Terminal() bool {
	return s == DeliveryStateSuccess || s == DeliveryStateDeadLettered
}

// ParseDeliveryState converts raw input into a DeliveryState.
func ParseDeliveryState(value string) (DeliveryState, error) {
	for _, candidate := range validDeliveryStates {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid delivery state %q", value)
}
