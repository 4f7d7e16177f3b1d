package models

import (
	"encoding/json"
	"time"

	"github.com/angelmondragon/payments-relay/pkg/enums"
)

// OutboundDeadLetter captures terminal delivery failures for replay.
type OutboundDeadLetter struct {
	ID           uint                   `gorm:"column:id;primaryKey;autoIncrement"`
	EventID      string                 `gorm:"column:event_id;size:64;not null;index"`
	Name         string                 `gorm:"column:name;size:128;not null"`
	Payload      json.RawMessage        `gorm:"column:payload_json;not null"`
	Reason       enums.DeadLetterReason `gorm:"column:reason;size:32;not null"`
	ErrorMessage *string                `gorm:"column:error_message"`
	AttemptCount int                    `gorm:"column:attempt_count;not null;default:0"`
	FailedAt     time.Time              `gorm:"column:failed_at;not null"`
	CreatedAt    time.Time              `gorm:"column:created_at;autoCreateTime"`
}

func (OutboundDeadLetter) TableName() string { return "outbound_dead_letters" }
