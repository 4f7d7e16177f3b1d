package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/angelmondragon/payments-relay/internal/notifications"
	"github.com/angelmondragon/payments-relay/pkg/db/models"
	"github.com/angelmondragon/payments-relay/pkg/delivery"
	"github.com/angelmondragon/payments-relay/pkg/enums"
	pkgerrors "github.com/angelmondragon/payments-relay/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.NewReplacer("/", "_", " ", "_").Replace(t.Name()))
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, conn.AutoMigrate(&models.PurchaseRecord{}, &models.RefundRecord{}))
	t.Cleanup(func() { _ = sqlDB.Close() })
	return conn
}

type recordingQueue struct {
	mu     sync.Mutex
	events []delivery.Event
	err    error
}

func (q *recordingQueue) Enqueue(_ context.Context, ev delivery.Event) (*delivery.Ticket, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return nil, q.err
	}
	q.events = append(q.events, ev)
	return nil, nil
}

type stubCatalog struct {
	items []notifications.LineItem
	err   error
	calls int
}

func (s *stubCatalog) LineItems(_ context.Context, _ string) ([]notifications.LineItem, error) {
	s.calls++
	return s.items, s.err
}

func int64Ptr(v int64) *int64 { return &v }

func paidSession() notifications.CheckoutSession {
	return notifications.CheckoutSession{
		ID:              "cs_test_1",
		AmountTotal:     int64Ptr(5400),
		Currency:        "usd",
		PaymentIntent:   "pi_1",
		PaymentStatus:   notifications.PaymentStatusPaid,
		ClientReference: "user-42",
		Metadata:        map[string]string{"ga_client_id": "111.222", "ga_session_id": "sess-1", "coupon": "SPRING"},
		TotalDetails:    &notifications.TotalDetails{AmountTax: 400, AmountShipping: 500, AmountDiscount: 1000},
		CustomerDetails: &notifications.CustomerDetails{Email: "buyer@example.com"},
		LineItems: &notifications.LineItemList{Data: []notifications.LineItem{{
			ID: "li_1", Description: "Tee", Quantity: 2, AmountTotal: 5000,
			Price: &notifications.Price{ID: "price_1", Product: "prod_tee", UnitAmount: int64Ptr(2500)},
		}}},
	}
}

func completed(session notifications.CheckoutSession) notifications.PaymentCompleted {
	return notifications.PaymentCompleted{
		Meta:    notifications.Meta{ID: "evt_1", Type: notifications.TypeCheckoutCompleted, Created: time.Unix(1700000000, 0)},
		Session: session,
	}
}

func newReconciler(t *testing.T, lookup *stubCatalog) (*Reconciler, *GormStore, *recordingQueue) {
	t.Helper()
	store := NewGormStore(newTestDB(t))
	queue := &recordingQueue{}
	var r *Reconciler
	var err error
	if lookup == nil {
		r, err = NewReconciler(store, nil, queue, nil)
	} else {
		r, err = NewReconciler(store, lookup, queue, nil)
	}
	require.NoError(t, err)
	return r, store, queue
}

func TestPurchaseRecordsAndQueuesOneEvent(t *testing.T) {
	r, store, queue := newReconciler(t, nil)

	res, err := r.Purchase(context.Background(), completed(paidSession()))
	require.NoError(t, err)
	assert.Equal(t, enums.ProcessedOutcomeProcessed, res.Outcome)
	assert.Equal(t, "cs_test_1", res.TransactionID)

	var row models.PurchaseRecord
	require.NoError(t, store.DB(context.Background()).Take(&row).Error)
	assert.True(t, decimal.RequireFromString("54").Equal(row.Total))
	assert.True(t, decimal.RequireFromString("4").Equal(row.Tax))
	assert.True(t, decimal.RequireFromString("5").Equal(row.Shipping))
	assert.True(t, decimal.RequireFromString("10").Equal(row.Discount))
	assert.Equal(t, "USD", row.Currency)
	assert.Equal(t, "SPRING", *row.Coupon)
	assert.Equal(t, "buyer@example.com", *row.CustomerEmail)
	require.Len(t, row.LineItems, 1)
	assert.Equal(t, "prod_tee", row.LineItems[0].ID)
	assert.True(t, decimal.RequireFromString("25").Equal(row.LineItems[0].UnitPrice))

	require.Len(t, queue.events, 1)
	ev := queue.events[0]
	assert.Equal(t, EventPurchase, ev.Name)
	assert.Equal(t, "111.222", ev.ClientID)
	assert.Equal(t, "sess-1", ev.SessionID)
	assert.Equal(t, "user-42", ev.UserID)
	assert.Equal(t, int64(1700000000000000), ev.TimestampMicros)
	assert.Equal(t, "cs_test_1", ev.Params["transaction_id"])
	assert.Equal(t, 54.0, ev.Params["value"])
	assert.Equal(t, "USD", ev.Params["currency"])
	assert.Equal(t, "SPRING", ev.Params["coupon"])
	items := ev.Params["items"].([]map[string]any)
	require.Len(t, items, 1)
	assert.Equal(t, 25.0, items[0]["price"])
	assert.Equal(t, int64(2), items[0]["quantity"])
}

func TestPurchaseReplayIsSkipped(t *testing.T) {
	r, store, queue := newReconciler(t, nil)

	_, err := r.Purchase(context.Background(), completed(paidSession()))
	require.NoError(t, err)

	again := completed(paidSession())
	again.Meta.ID = "evt_2"
	again.Meta.Type = notifications.TypeAsyncPaymentSucceeded
	res, err := r.Purchase(context.Background(), again)
	require.NoError(t, err)
	assert.Equal(t, enums.ProcessedOutcomeSkipped, res.Outcome)
	assert.Len(t, queue.events, 1)

	var n int64
	require.NoError(t, store.DB(context.Background()).Model(&models.PurchaseRecord{}).Count(&n).Error)
	assert.Equal(t, int64(1), n)
}

func TestPurchaseUnpaidIsSkipped(t *testing.T) {
	r, _, queue := newReconciler(t, nil)
	s := paidSession()
	s.PaymentStatus = notifications.PaymentStatusUnpaid

	res, err := r.Purchase(context.Background(), completed(s))
	require.NoError(t, err)
	assert.Equal(t, enums.ProcessedOutcomeSkipped, res.Outcome)
	assert.Empty(t, queue.events)
}

func TestPurchaseMissingRequiredFields(t *testing.T) {
	cases := map[string]func(*notifications.CheckoutSession){
		"transaction id": func(s *notifications.CheckoutSession) { s.ID = "" },
		"total":          func(s *notifications.CheckoutSession) { s.AmountTotal = nil },
		"currency":       func(s *notifications.CheckoutSession) { s.Currency = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			r, _, queue := newReconciler(t, nil)
			s := paidSession()
			mutate(&s)

			_, err := r.Purchase(context.Background(), completed(s))
			require.ErrorIs(t, err, ErrReconciliationData)
			assert.False(t, pkgerrors.IsRetryable(err))
			assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.As(err).Code())
			assert.Empty(t, queue.events)
		})
	}
}

func TestPurchaseOptionalFieldsDefault(t *testing.T) {
	r, _, queue := newReconciler(t, nil)
	s := paidSession()
	s.TotalDetails = nil
	s.Metadata = nil
	s.CustomerDetails = nil

	_, err := r.Purchase(context.Background(), completed(s))
	require.NoError(t, err)
	ev := queue.events[0]
	assert.Equal(t, 0.0, ev.Params["tax"])
	assert.Equal(t, 0.0, ev.Params["shipping"])
	assert.NotContains(t, ev.Params, "coupon")
	assert.Regexp(t, `^\d+\.1700000000$`, ev.ClientID)
}

func TestPurchaseZeroDecimalCurrency(t *testing.T) {
	r, _, queue := newReconciler(t, nil)
	s := paidSession()
	s.Currency = "jpy"
	s.AmountTotal = int64Ptr(5400)
	s.TotalDetails = nil
	s.LineItems = &notifications.LineItemList{Data: []notifications.LineItem{{ID: "li", Description: "Tea", Quantity: 3, AmountTotal: 5400}}}

	_, err := r.Purchase(context.Background(), completed(s))
	require.NoError(t, err)
	assert.Equal(t, 5400.0, queue.events[0].Params["value"])
	items := queue.events[0].Params["items"].([]map[string]any)
	assert.Equal(t, 1800.0, items[0]["price"])
}

func TestPurchaseFetchesMissingLineItems(t *testing.T) {
	lookup := &stubCatalog{items: []notifications.LineItem{{ID: "li_9", Description: "Mug", Quantity: 1, AmountTotal: 5400}}}
	r, _, queue := newReconciler(t, lookup)
	s := paidSession()
	s.LineItems = nil

	_, err := r.Purchase(context.Background(), completed(s))
	require.NoError(t, err)
	assert.Equal(t, 1, lookup.calls)
	items := queue.events[0].Params["items"].([]map[string]any)
	require.Len(t, items, 1)
	assert.Equal(t, "Mug", items[0]["item_name"])
}

func TestPurchaseCatalogFailureIsTransient(t *testing.T) {
	lookup := &stubCatalog{err: errors.New("connection refused")}
	r, store, queue := newReconciler(t, lookup)
	s := paidSession()
	s.LineItems = nil

	_, err := r.Purchase(context.Background(), completed(s))
	require.Error(t, err)
	assert.True(t, pkgerrors.IsRetryable(err))
	assert.Equal(t, pkgerrors.CodeDependency, pkgerrors.As(err).Code())
	assert.Empty(t, queue.events)

	var n int64
	require.NoError(t, store.DB(context.Background()).Model(&models.PurchaseRecord{}).Count(&n).Error)
	assert.Zero(t, n)
}

func TestPurchaseEnqueueFailureRollsBack(t *testing.T) {
	r, store, queue := newReconciler(t, nil)
	queue.err = delivery.ErrQueueFull

	_, err := r.Purchase(context.Background(), completed(paidSession()))
	require.ErrorIs(t, err, delivery.ErrQueueFull)
	assert.True(t, pkgerrors.IsRetryable(err))

	var n int64
	require.NoError(t, store.DB(context.Background()).Model(&models.PurchaseRecord{}).Count(&n).Error)
	assert.Zero(t, n)

	queue.err = nil
	res, err := r.Purchase(context.Background(), completed(paidSession()))
	require.NoError(t, err)
	assert.Equal(t, enums.ProcessedOutcomeProcessed, res.Outcome)
	assert.Len(t, queue.events, 1)
}

func refunded(charge notifications.Charge) notifications.RefundIssued {
	return notifications.RefundIssued{
		Meta:   notifications.Meta{ID: "evt_r1", Type: notifications.TypeChargeRefunded, Created: time.Unix(1700000500, 0)},
		Charge: charge,
	}
}

func fullRefundCharge() notifications.Charge {
	return notifications.Charge{
		ID:             "ch_1",
		Amount:         5400,
		AmountRefunded: int64Ptr(5400),
		Currency:       "usd",
		PaymentIntent:  "pi_1",
		Refunds: &notifications.RefundList{Data: []notifications.Refund{
			{ID: "re_1", Amount: 5400, Created: 1700000400},
		}},
	}
}

func TestRefundUsesOriginalPurchase(t *testing.T) {
	r, _, queue := newReconciler(t, nil)
	_, err := r.Purchase(context.Background(), completed(paidSession()))
	require.NoError(t, err)

	res, err := r.Refund(context.Background(), refunded(fullRefundCharge()))
	require.NoError(t, err)
	assert.Equal(t, enums.ProcessedOutcomeProcessed, res.Outcome)
	assert.Equal(t, "cs_test_1", res.TransactionID)

	require.Len(t, queue.events, 2)
	ev := queue.events[1]
	assert.Equal(t, EventRefund, ev.Name)
	assert.Equal(t, "cs_test_1", ev.Params["transaction_id"])
	assert.Equal(t, 54.0, ev.Params["value"])
	assert.Equal(t, "111.222", ev.ClientID)
	assert.Contains(t, ev.Params, "items")
}

func TestRefundPartialRefundsAreDistinct(t *testing.T) {
	r, store, queue := newReconciler(t, nil)
	charge := fullRefundCharge()
	charge.AmountRefunded = int64Ptr(1000)
	charge.Refunds = &notifications.RefundList{Data: []notifications.Refund{{ID: "re_1", Amount: 1000, Created: 1}}}
	charge.Metadata = map[string]string{"transaction_id": "cs_meta"}

	_, err := r.Refund(context.Background(), refunded(charge))
	require.NoError(t, err)

	charge.AmountRefunded = int64Ptr(3000)
	charge.Refunds.Data = append(charge.Refunds.Data, notifications.Refund{ID: "re_2", Amount: 2000, Created: 2})
	_, err = r.Refund(context.Background(), refunded(charge))
	require.NoError(t, err)

	res, err := r.Refund(context.Background(), refunded(charge))
	require.NoError(t, err)
	assert.Equal(t, enums.ProcessedOutcomeSkipped, res.Outcome)

	require.Len(t, queue.events, 2)
	assert.Equal(t, 10.0, queue.events[0].Params["value"])
	assert.Equal(t, 20.0, queue.events[1].Params["value"])
	assert.Equal(t, "cs_meta", queue.events[1].Params["transaction_id"])
	assert.NotContains(t, queue.events[1].Params, "items")

	var n int64
	require.NoError(t, store.DB(context.Background()).Model(&models.RefundRecord{}).Count(&n).Error)
	assert.Equal(t, int64(2), n)
}

func TestRefundFallsBackToPaymentIntent(t *testing.T) {
	r, _, queue := newReconciler(t, nil)
	charge := fullRefundCharge()
	charge.Refunds = nil

	res, err := r.Refund(context.Background(), refunded(charge))
	require.NoError(t, err)
	assert.Equal(t, "pi_1", res.TransactionID)
	assert.Equal(t, 54.0, queue.events[0].Params["value"])
}

func TestRefundWithoutTransactionReference(t *testing.T) {
	r, _, queue := newReconciler(t, nil)
	charge := fullRefundCharge()
	charge.PaymentIntent = ""

	_, err := r.Refund(context.Background(), refunded(charge))
	require.ErrorIs(t, err, ErrReconciliationData)
	assert.Empty(t, queue.events)
}

func TestRefundMissingAmount(t *testing.T) {
	r, _, _ := newReconciler(t, nil)
	charge := fullRefundCharge()
	charge.Refunds = nil
	charge.AmountRefunded = nil

	_, err := r.Refund(context.Background(), refunded(charge))
	require.ErrorIs(t, err, ErrReconciliationData)
}

func TestFromMinor(t *testing.T) {
	assert.Equal(t, "12.34", FromMinor(1234, enums.Currency("USD")).String())
	assert.Equal(t, "1234", FromMinor(1234, enums.Currency("JPY")).String())
	assert.Equal(t, "1.234", FromMinor(1234, enums.Currency("KWD")).String())
}

func TestNewReconcilerValidation(t *testing.T) {
	_, err := NewReconciler(nil, nil, &recordingQueue{}, nil)
	require.Error(t, err)
	_, err = NewReconciler(NewGormStore(newTestDB(t)), nil, nil, nil)
	require.Error(t, err)
}
