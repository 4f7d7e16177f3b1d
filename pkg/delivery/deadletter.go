package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/angelmondragon/payments-relay/pkg/db/models"
	"github.com/angelmondragon/payments-relay/pkg/enums"
	"github.com/angelmondragon/payments-relay/pkg/pubsub"
	"go.uber.org/multierr"
	"gorm.io/gorm"
)

const defaultPublishTimeout = 15 * time.Second

// DeadLetter describes an event the queue gave up on.
type DeadLetter struct {
	Event    Event
	Reason   enums.DeadLetterReason
	Err      error
	FailedAt time.Time
}

// DeadLetterSink receives terminal failures for replay.
type DeadLetterSink interface {
	DeadLetter(ctx context.Context, dl DeadLetter) error
}

// DeadLetterSinks fans a dead letter out to every sink and combines their errors.
type DeadLetterSinks []DeadLetterSink

func (s DeadLetterSinks) DeadLetter(ctx context.Context, dl DeadLetter) error {
	var err error
	for _, sink := range s {
		if sink == nil {
			continue
		}
		err = multierr.Append(err, sink.DeadLetter(ctx, dl))
	}
	return err
}

type deadLetterPayload struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Params     map[string]any `json:"params,omitempty"`
	ClientID   string         `json:"client_id,omitempty"`
	SessionID  string         `json:"session_id,omitempty"`
	UserID     string         `json:"user_id,omitempty"`
	Reason     string         `json:"reason"`
	Error      string         `json:"error,omitempty"`
	Attempts   int            `json:"attempts"`
	Failures   int            `json:"failures"`
	EnqueuedAt time.Time      `json:"enqueued_at"`
	FailedAt   time.Time      `json:"failed_at"`
}

func (dl DeadLetter) payload() ([]byte, error) {
	p := deadLetterPayload{
		ID:         dl.Event.ID,
		Name:       dl.Event.Name,
		Params:     dl.Event.Params,
		ClientID:   dl.Event.ClientID,
		SessionID:  dl.Event.SessionID,
		UserID:     dl.Event.UserID,
		Reason:     string(dl.Reason),
		Attempts:   dl.Event.Attempt,
		Failures:   dl.Event.Failures,
		EnqueuedAt: dl.Event.EnqueuedAt.UTC(),
		FailedAt:   dl.FailedAt.UTC(),
	}
	if dl.Err != nil {
		p.Error = dl.Err.Error()
	}
	return json.Marshal(p)
}

// GormDeadLetterStore writes dead letters to outbound_dead_letters.
type GormDeadLetterStore struct {
	db *gorm.DB
}

func NewGormDeadLetterStore(db *gorm.DB) *GormDeadLetterStore {
	return &GormDeadLetterStore{db: db}
}

func (s *GormDeadLetterStore) DeadLetter(ctx context.Context, dl DeadLetter) error {
	payload, err := dl.payload()
	if err != nil {
		return fmt.Errorf("encode dead letter %s: %w", dl.Event.ID, err)
	}
	row := models.OutboundDeadLetter{
		EventID:      dl.Event.ID,
		Name:         dl.Event.Name,
		Payload:      payload,
		Reason:       dl.Reason,
		AttemptCount: dl.Event.Attempt,
		FailedAt:     dl.FailedAt.UTC(),
	}
	if dl.Err != nil {
		msg := dl.Err.Error()
		row.ErrorMessage = &msg
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("insert dead letter %s: %w", dl.Event.ID, err)
	}
	return nil
}

// Purge removes dead letters that failed before cutoff.
func (s *GormDeadLetterStore) Purge(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("failed_at < ?", cutoff.UTC()).
		Delete(&models.OutboundDeadLetter{})
	return res.RowsAffected, res.Error
}

// PubSubDeadLetterSink publishes dead letters to a topic for external replay tooling.
type PubSubDeadLetterSink struct {
	publisher pubsub.Publisher
	timeout   time.Duration
}

func NewPubSubDeadLetterSink(publisher pubsub.Publisher) *PubSubDeadLetterSink {
	return &PubSubDeadLetterSink{publisher: publisher, timeout: defaultPublishTimeout}
}

func (s *PubSubDeadLetterSink) DeadLetter(ctx context.Context, dl DeadLetter) error {
	if s.publisher == nil {
		return fmt.Errorf("dead letter publisher not configured")
	}
	payload, err := dl.payload()
	if err != nil {
		return fmt.Errorf("encode dead letter %s: %w", dl.Event.ID, err)
	}
	msg := &pubsub.Message{
		Data: payload,
		Attributes: map[string]string{
			"event_id":   dl.Event.ID,
			"event_name": dl.Event.Name,
			"reason":     string(dl.Reason),
			"failed_at":  dl.FailedAt.UTC().Format(time.RFC3339Nano),
		},
	}

	publishCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	result := s.publisher.Publish(publishCtx, msg)
	if result == nil {
		return fmt.Errorf("publisher returned nil for dead letter %s", dl.Event.ID)
	}
	if _, err := result.Get(publishCtx); err != nil {
		return fmt.Errorf("publish dead letter %s: %w", dl.Event.ID, err)
	}
	return nil
}
