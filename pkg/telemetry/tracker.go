package telemetry

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/angelmondragon/payments-relay/pkg/delivery"
)

const (
	maxEventNameLength = 40
	maxParams          = 25
)

var (
	ErrInvalidEventName = errors.New("invalid event name")
	ErrTooManyParams    = errors.New("too many event params")

	eventNamePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)
	reservedPrefixes = []string{"ga_", "google_", "firebase_"}
)

// Enqueuer is the part of the delivery queue the tracker needs.
type Enqueuer interface {
	Enqueue(ctx context.Context, event delivery.Event) (*delivery.Ticket, error)
	SetOnline(online bool)
	Online() bool
	Len() int
}

type Option func(*Tracker)

func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

// WithUserProperties attaches properties to every tracked event.
func WithUserProperties(props map[string]any) Option {
	return func(t *Tracker) { t.userProperties = props }
}

// Tracker is the client-side entry point: callers record events and the
// queue delivers them whenever connectivity and rate limits allow.
type Tracker struct {
	queue          Enqueuer
	now            func() time.Time
	userProperties map[string]any
}

func NewTracker(queue Enqueuer, opts ...Option) (*Tracker, error) {
	if queue == nil {
		return nil, errors.New("delivery queue is required")
	}
	t := &Tracker{queue: queue, now: time.Now}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Track validates and queues one event. The ticket resolves once the event
// is delivered or dead-lettered.
func (t *Tracker) Track(ctx context.Context, name string, params map[string]any) (*delivery.Ticket, error) {
	return t.TrackEvent(ctx, delivery.Event{Name: name, Params: params})
}

func (t *Tracker) TrackEvent(ctx context.Context, event delivery.Event) (*delivery.Ticket, error) {
	if err := ValidateEvent(event.Name, event.Params); err != nil {
		return nil, err
	}
	if event.TimestampMicros == 0 {
		event.TimestampMicros = t.now().UnixMicro()
	}
	if len(t.userProperties) > 0 && event.UserProperties == nil {
		event.UserProperties = t.userProperties
	}
	return t.queue.Enqueue(ctx, event)
}

// SetOnline forwards connectivity changes to the queue.
func (t *Tracker) SetOnline(online bool) { t.queue.SetOnline(online) }

func (t *Tracker) Online() bool { return t.queue.Online() }

func (t *Tracker) Pending() int { return t.queue.Len() }

// ValidateEvent applies the collection endpoint's naming rules.
func ValidateEvent(name string, params map[string]any) error {
	if len(name) == 0 || len(name) > maxEventNameLength || !eventNamePattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidEventName, name)
	}
	lower := strings.ToLower(name)
	for _, prefix := range reservedPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return fmt.Errorf("%w: %q uses reserved prefix %q", ErrInvalidEventName, name, prefix)
		}
	}
	if len(params) > maxParams {
		return fmt.Errorf("%w: %d > %d", ErrTooManyParams, len(params), maxParams)
	}
	return nil
}
