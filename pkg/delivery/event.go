package delivery

import (
	"time"

	"github.com/angelmondragon/payments-relay/pkg/enums"
)

// Event is one outbound analytics event. Only the queue mutates the
// scheduling fields once the event has been enqueued.
type Event struct {
	ID              string
	Seq             uint64
	Name            string
	Params          map[string]any
	ClientID        string
	SessionID       string
	UserID          string
	UserProperties  map[string]any
	TimestampMicros int64

	EnqueuedAt     time.Time
	Attempt        int
	Failures       int
	NextEligibleAt time.Time
	State          enums.DeliveryState
	LastError      string
	History        []AttemptRecord
}

// AttemptOutcome classifies a single delivery attempt.
type AttemptOutcome string

const (
	AttemptSucceeded AttemptOutcome = "success"
	AttemptTransient AttemptOutcome = "transient"
	AttemptPermanent AttemptOutcome = "permanent"
	AttemptAborted   AttemptOutcome = "aborted"
)

// AttemptRecord is appended to an event's history after every sink call.
type AttemptRecord struct {
	Attempt    int
	StartedAt  time.Time
	FinishedAt time.Time
	StatusCode int
	Err        string
	Outcome    AttemptOutcome
}

// FailedAttempts counts history entries that ended in a transient or permanent failure.
func (e Event) FailedAttempts() int {
	n := 0
	for _, rec := range e.History {
		if rec.Outcome == AttemptTransient || rec.Outcome == AttemptPermanent {
			n++
		}
	}
	return n
}

func (e Event) clone() Event {
	out := e
	out.History = append([]AttemptRecord(nil), e.History...)
	return out
}

func (e Event) fields() map[string]any {
	fields := map[string]any{
		"outbound_id": e.ID,
		"event_name":  e.Name,
		"seq":         e.Seq,
		"attempt":     e.Attempt,
		"failures":    e.Failures,
		"state":       e.State,
		"enqueued_at": e.EnqueuedAt.Format(time.RFC3339Nano),
	}
	if e.ClientID != "" {
		fields["client_id"] = e.ClientID
	}
	if e.SessionID != "" {
		fields["session_id"] = e.SessionID
	}
	if e.LastError != "" {
		fields["last_error"] = e.LastError
	}
	return fields
}
