package delivery

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/angelmondragon/payments-relay/pkg/db/models"
	"github.com/angelmondragon/payments-relay/pkg/enums"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&models.OutboundEvent{}, &models.OutboundDeadLetter{}))
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return conn
}

func TestJournalSurvivesRestart(t *testing.T) {
	db := newTestDB(t)
	journal := NewGormJournal(db)
	clock := newFakeClock()
	ctx := context.Background()

	sender := &scriptedSender{errs: []error{serverError()}}
	first := newTestQueue(t, clock, sender, func(p *Params) { p.Journal = journal })
	failing, err := first.Enqueue(ctx, Event{
		Name:            "purchase",
		Params:          map[string]any{"value": 1},
		UserProperties:  map[string]any{"tier": "gold"},
		TimestampMicros: 1700000000123456,
	})
	require.NoError(t, err)
	mustEnqueue(t, first, "refund")

	// One slot per second: only the first event is attempted before "restart".
	first.limiter = NewLocalLimiter(1, 0)
	first.Tick(ctx)

	pending, err := journal.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, failing.ID(), pending[0].ID)
	assert.Equal(t, 1, pending[0].Failures)
	assert.Equal(t, 1, pending[0].Attempt)
	assert.Equal(t, enums.DeliveryStatePending, pending[0].State)
	assert.Equal(t, "refund", pending[1].Name)
	assert.EqualValues(t, 1, pending[0].Params["value"])
	assert.Equal(t, int64(1700000000123456), pending[0].TimestampMicros)
	assert.Equal(t, map[string]any{"tier": "gold"}, pending[0].UserProperties)
	assert.Nil(t, pending[1].UserProperties)

	restarted := newTestQueue(t, clock, &scriptedSender{}, func(p *Params) { p.Journal = journal })
	n, err := restarted.Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	next, err := restarted.Enqueue(ctx, Event{Name: "page_view"})
	require.NoError(t, err)
	snapshot := restarted.Snapshot()
	require.Len(t, snapshot, 3)
	assert.Equal(t, int64(1700000000123456), snapshot[0].TimestampMicros)
	assert.Equal(t, "gold", snapshot[0].UserProperties["tier"])
	assert.EqualValues(t, 3, snapshot[2].Seq)
	assert.Equal(t, next.ID(), snapshot[2].ID)

	clock.Advance(time.Minute)
	assert.Equal(t, 3, restarted.Tick(ctx))

	pending, err = journal.Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending, "delivered events are removed from the journal")
}

func TestJournalRecoversInFlightEventsAsPending(t *testing.T) {
	db := newTestDB(t)
	journal := NewGormJournal(db)
	ctx := context.Background()

	ev := Event{
		ID:             "evt-in-flight",
		Seq:            7,
		Name:           "purchase",
		Params:         map[string]any{"currency": "USD"},
		UserID:         "user-1",
		State:          enums.DeliveryStateSending,
		Attempt:        2,
		Failures:       1,
		LastError:      "timeout",
		EnqueuedAt:     time.Now(),
		NextEligibleAt: time.Now(),
	}
	require.NoError(t, journal.Save(ctx, ev))

	pending, err := journal.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, enums.DeliveryStatePending, pending[0].State)
	assert.Equal(t, "user-1", pending[0].UserID)
	assert.Equal(t, "timeout", pending[0].LastError)

	require.NoError(t, journal.Remove(ctx, ev.ID))
	pending, err = journal.Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}
