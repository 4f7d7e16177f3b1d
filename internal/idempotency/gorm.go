package idempotency

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/payments-relay/internal/repo"
	"github.com/angelmondragon/payments-relay/pkg/db/models"
	"github.com/angelmondragon/payments-relay/pkg/enums"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormGuard claims ids with a conflict-ignoring insert into processed_events.
// A conflicting row still marked claimed past its lease is taken over with a
// conditional update, so a crash between claim and completion does not strand
// the notification.
type GormGuard struct {
	repo.Base
	now   func() time.Time
	lease time.Duration
}

func NewGormGuard(db *gorm.DB, opts ...Option) *GormGuard {
	o := buildOptions(opts)
	return &GormGuard{Base: repo.NewBase(db), now: o.now, lease: o.lease}
}

func (g *GormGuard) Claim(ctx context.Context, eventID, eventType string) (Outcome, error) {
	if eventID == "" {
		return 0, errEventIDRequired
	}
	now := g.now().UTC()
	row := models.ProcessedEvent{
		EventID:     eventID,
		EventType:   eventType,
		Outcome:     enums.ProcessedOutcomeClaimed,
		ProcessedAt: now,
	}
	res := g.DB(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	if res.Error != nil {
		return 0, fmt.Errorf("insert processed event: %w", res.Error)
	}
	if res.RowsAffected == 1 {
		return Fresh, nil
	}

	res = g.DB(ctx).
		Model(&models.ProcessedEvent{}).
		Where("event_id = ? AND outcome = ? AND processed_at < ?", eventID, enums.ProcessedOutcomeClaimed, now.Add(-g.lease)).
		Updates(map[string]any{
			"event_type":   eventType,
			"processed_at": now,
		})
	if res.Error != nil {
		return 0, fmt.Errorf("reclaim expired processed event: %w", res.Error)
	}
	if res.RowsAffected == 1 {
		return Fresh, nil
	}
	return Duplicate, nil
}

func (g *GormGuard) Complete(ctx context.Context, eventID string, outcome enums.ProcessedOutcome) error {
	if eventID == "" {
		return errEventIDRequired
	}
	if !outcome.IsValid() {
		return fmt.Errorf("invalid outcome %q", outcome)
	}
	return g.DB(ctx).
		Model(&models.ProcessedEvent{}).
		Where("event_id = ?", eventID).
		Updates(map[string]any{
			"outcome":      outcome,
			"processed_at": g.now().UTC(),
		}).Error
}

// Release drops an in-flight claim so a redelivery can be processed again.
// Completed records are never released.
func (g *GormGuard) Release(ctx context.Context, eventID string) error {
	if eventID == "" {
		return errEventIDRequired
	}
	return g.DB(ctx).
		Where("event_id = ? AND outcome = ?", eventID, enums.ProcessedOutcomeClaimed).
		Delete(&models.ProcessedEvent{}).Error
}

// Purge removes records processed before cutoff and returns how many were
// deleted. Claims older than cutoff are long past their lease and go too.
func (g *GormGuard) Purge(ctx context.Context, cutoff time.Time) (int64, error) {
	res := g.DB(ctx).
		Where("processed_at < ?", cutoff.UTC()).
		Delete(&models.ProcessedEvent{})
	return res.RowsAffected, res.Error
}

// Find returns the stored record for eventID, or nil.
func (g *GormGuard) Find(ctx context.Context, eventID string) (*models.ProcessedEvent, error) {
	var row models.ProcessedEvent
	err := g.DB(ctx).Where("event_id = ?", eventID).Limit(1).Find(&row).Error
	if err != nil {
		return nil, err
	}
	if row.EventID == "" {
		return nil, nil
	}
	return &row, nil
}
