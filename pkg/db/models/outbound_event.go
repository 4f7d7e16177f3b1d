package models

import (
	"encoding/json"
	"time"

	"github.com/angelmondragon/payments-relay/pkg/enums"
)

// OutboundEvent journals a queued delivery so pending events survive restarts.
type OutboundEvent struct {
	ID              string              `gorm:"column:id;primaryKey;size:64"`
	Seq             uint64              `gorm:"column:seq;not null;index"`
	Name            string              `gorm:"column:name;size:128;not null"`
	Params          json.RawMessage     `gorm:"column:params;not null"`
	ClientID        string              `gorm:"column:client_id;size:255"`
	SessionID       string              `gorm:"column:session_id;size:255"`
	UserID          *string             `gorm:"column:user_id"`
	UserProperties  json.RawMessage     `gorm:"column:user_properties"`
	TimestampMicros int64               `gorm:"column:timestamp_micros;not null;default:0"`
	State           enums.DeliveryState `gorm:"column:state;size:32;not null;index"`
	AttemptCount    int                 `gorm:"column:attempt_count;not null;default:0"`
	FailureCount    int                 `gorm:"column:failure_count;not null;default:0"`
	NextEligibleAt  time.Time           `gorm:"column:next_eligible_at;not null"`
	LastError       *string             `gorm:"column:last_error"`
	EnqueuedAt      time.Time           `gorm:"column:enqueued_at;not null"`
	UpdatedAt       time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

func (OutboundEvent) TableName() string { return "outbound_events" }
