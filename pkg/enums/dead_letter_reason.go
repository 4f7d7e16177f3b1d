package enums

type DeadLetterReason string

const (
	// DeadLetterReasonExhausted means the retry budget ran out.
	DeadLetterReasonExhausted DeadLetterReason = "exhausted"
	// DeadLetterReasonPermanent means the sink rejected the event outright.
	DeadLetterReasonPermanent DeadLetterReason = "permanent"
)

var validDeadLetterReasons = []DeadLetterReason{
	DeadLetterReasonExhausted,
	DeadLetterReasonPermanent,
}

func (r DeadLetterReason) IsValid() bool {
	for _, candidate := range validDeadLetterReasons {
		if candidate == r {
			return true
		}
	}
	return false
}
