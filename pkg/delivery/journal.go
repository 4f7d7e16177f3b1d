package delivery

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/angelmondragon/payments-relay/pkg/db/models"
	"github.com/angelmondragon/payments-relay/pkg/enums"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Journal persists non-terminal events so a restarted queue can resume them
// with their attempt counters intact.
type Journal interface {
	Save(ctx context.Context, event Event) error
	Remove(ctx context.Context, id string) error
	Pending(ctx context.Context) ([]Event, error)
}

// GormJournal stores events in the outbound_events table.
type GormJournal struct {
	db *gorm.DB
}

func NewGormJournal(db *gorm.DB) *GormJournal {
	return &GormJournal{db: db}
}

func (j *GormJournal) Save(ctx context.Context, event Event) error {
	row, err := toModel(event)
	if err != nil {
		return err
	}
	return j.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"state", "attempt_count", "failure_count", "next_eligible_at", "last_error", "updated_at"}),
		}).
		Create(&row).Error
}

func (j *GormJournal) Remove(ctx context.Context, id string) error {
	return j.db.WithContext(ctx).Where("id = ?", id).Delete(&models.OutboundEvent{}).Error
}

// Pending returns journaled events in enqueue order. Events caught mid-send
// by a crash come back as pending.
func (j *GormJournal) Pending(ctx context.Context) ([]Event, error) {
	var rows []models.OutboundEvent
	err := j.db.WithContext(ctx).
		Where("state IN ?", []enums.DeliveryState{enums.DeliveryStatePending, enums.DeliveryStateSending}).
		Order("seq ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("load pending outbound events: %w", err)
	}
	events := make([]Event, 0, len(rows))
	for _, row := range rows {
		event, err := fromModel(row)
		if err != nil {
			return nil, err
		}
		event.State = enums.DeliveryStatePending
		events = append(events, event)
	}
	return events, nil
}

func toModel(e Event) (models.OutboundEvent, error) {
	params, err := json.Marshal(e.Params)
	if err != nil {
		return models.OutboundEvent{}, fmt.Errorf("encode params for %s: %w", e.ID, err)
	}
	row := models.OutboundEvent{
		ID:              e.ID,
		Seq:             e.Seq,
		Name:            e.Name,
		Params:          params,
		ClientID:        e.ClientID,
		SessionID:       e.SessionID,
		TimestampMicros: e.TimestampMicros,
		State:           e.State,
		AttemptCount:    e.Attempt,
		FailureCount:    e.Failures,
		NextEligibleAt:  e.NextEligibleAt.UTC(),
		EnqueuedAt:      e.EnqueuedAt.UTC(),
	}
	if len(e.UserProperties) > 0 {
		props, err := json.Marshal(e.UserProperties)
		if err != nil {
			return models.OutboundEvent{}, fmt.Errorf("encode user properties for %s: %w", e.ID, err)
		}
		row.UserProperties = props
	}
	if e.UserID != "" {
		userID := e.UserID
		row.UserID = &userID
	}
	if e.LastError != "" {
		lastErr := e.LastError
		row.LastError = &lastErr
	}
	return row, nil
}

func fromModel(row models.OutboundEvent) (Event, error) {
	var params map[string]any
	if len(row.Params) > 0 {
		if err := json.Unmarshal(row.Params, &params); err != nil {
			return Event{}, fmt.Errorf("decode params for %s: %w", row.ID, err)
		}
	}
	var props map[string]any
	if len(row.UserProperties) > 0 {
		if err := json.Unmarshal(row.UserProperties, &props); err != nil {
			return Event{}, fmt.Errorf("decode user properties for %s: %w", row.ID, err)
		}
	}
	e := Event{
		ID:              row.ID,
		Seq:             row.Seq,
		Name:            row.Name,
		Params:          params,
		ClientID:        row.ClientID,
		SessionID:       row.SessionID,
		UserProperties:  props,
		TimestampMicros: row.TimestampMicros,
		State:           row.State,
		Attempt:         row.AttemptCount,
		Failures:        row.FailureCount,
		NextEligibleAt:  row.NextEligibleAt,
		EnqueuedAt:      row.EnqueuedAt,
	}
	if row.UserID != nil {
		e.UserID = *row.UserID
	}
	if row.LastError != nil {
		e.LastError = *row.LastError
	}
	return e, nil
}
