package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/angelmondragon/payments-relay/pkg/enums"
)

// DefaultClaimLease bounds how long an unfinished claim blocks redelivery.
const DefaultClaimLease = 5 * time.Minute

// Outcome is the result of claiming a notification id.
type Outcome int

const (
	// Fresh means this caller won the claim and must process the notification.
	Fresh Outcome = iota + 1
	// Duplicate means the id was already claimed; nothing downstream may run.
	Duplicate
)

func (o Outcome) String() string {
	switch o {
	case Fresh:
		return "fresh"
	case Duplicate:
		return "duplicate"
	default:
		return "unknown"
	}
}

// Guard suppresses re-processing of notifications already handled once.
// Claim must be atomic: concurrent claims of one id yield exactly one Fresh.
// A claim never completed or released within its lease can be claimed again.
type Guard interface {
	Claim(ctx context.Context, eventID, eventType string) (Outcome, error)
	Complete(ctx context.Context, eventID string, outcome enums.ProcessedOutcome) error
	Release(ctx context.Context, eventID string) error
}

var errEventIDRequired = errors.New("event id is required")

type options struct {
	lease time.Duration
	now   func() time.Time
}

// Option configures a guard.
type Option func(*options)

// WithClaimLease sets how long a claim stays exclusive before a redelivery
// may take it over. Non-positive values keep the default.
func WithClaimLease(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.lease = d
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{lease: DefaultClaimLease, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
