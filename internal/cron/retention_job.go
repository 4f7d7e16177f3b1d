package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/payments-relay/pkg/logger"
	"github.com/angelmondragon/payments-relay/pkg/metrics"
)

const (
	ProcessedEventsJobName = "processed-events-retention"
	DeadLettersJobName     = "dead-letter-retention"
)

// Purger deletes rows older than cutoff. The gorm idempotency guard and the
// dead-letter store both satisfy it.
type Purger interface {
	Purge(ctx context.Context, cutoff time.Time) (int64, error)
}

// RetentionJobParams configure a RetentionJob.
type RetentionJobParams struct {
	Name      string
	Logger    *logger.Logger
	Purger    Purger
	Retention time.Duration
	Metrics   *metrics.RetentionMetrics
}

// RetentionJob purges rows that fell out of their retention window.
type RetentionJob struct {
	name      string
	logg      *logger.Logger
	purger    Purger
	retention time.Duration
	metrics   *metrics.RetentionMetrics
	now       func() time.Time
}

func NewRetentionJob(params RetentionJobParams) (*RetentionJob, error) {
	if params.Name == "" {
		return nil, errors.New("job name required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger required")
	}
	if params.Purger == nil {
		return nil, errors.New("purger required")
	}
	if params.Retention <= 0 {
		return nil, fmt.Errorf("%s: retention must be positive", params.Name)
	}
	return &RetentionJob{
		name:      params.Name,
		logg:      params.Logger,
		purger:    params.Purger,
		retention: params.Retention,
		metrics:   params.Metrics,
		now:       time.Now,
	}, nil
}

func (j *RetentionJob) Name() string { return j.name }

func (j *RetentionJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.retention)
	deleted, err := j.purger.Purge(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("%s: %w", j.name, err)
	}
	j.metrics.AddDeleted(j.name, deleted)
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"cutoff":       cutoff,
		"retention":    j.retention.String(),
		"rows_deleted": deleted,
	}), "retention cleanup complete")
	return nil
}
