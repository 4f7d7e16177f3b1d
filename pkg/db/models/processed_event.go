package models

import (
	"time"

	"github.com/angelmondragon/payments-relay/pkg/enums"
)

// ProcessedEvent records that a provider notification id has been claimed.
// The primary key on event_id is what makes the claim atomic.
type ProcessedEvent struct {
	EventID     string                 `gorm:"column:event_id;primaryKey;size:255"`
	EventType   string                 `gorm:"column:event_type;size:128;not null"`
	Outcome     enums.ProcessedOutcome `gorm:"column:outcome;size:32;not null"`
	ProcessedAt time.Time              `gorm:"column:processed_at;not null;index"`
	UpdatedAt   time.Time              `gorm:"column:updated_at;autoUpdateTime"`
}

func (ProcessedEvent) TableName() string { return "processed_events" }
