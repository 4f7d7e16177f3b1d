package reconcile

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strconv"
	"strings"

	"github.com/angelmondragon/payments-relay/internal/catalog"
	"github.com/angelmondragon/payments-relay/internal/notifications"
	"github.com/angelmondragon/payments-relay/pkg/delivery"
	"github.com/angelmondragon/payments-relay/pkg/enums"
	pkgerrors "github.com/angelmondragon/payments-relay/pkg/errors"
	"github.com/angelmondragon/payments-relay/pkg/logger"
	"github.com/shopspring/decimal"
)

// Outbound event names understood by the analytics sink.
const (
	EventPurchase = "purchase"
	EventRefund   = "refund"
)

// Metadata keys the storefront stamps on checkout sessions.
const (
	metaClientID      = "ga_client_id"
	metaSessionID     = "ga_session_id"
	metaCoupon        = "coupon"
	metaTransactionID = "transaction_id"
)

// Enqueuer accepts derived outbound events.
type Enqueuer interface {
	Enqueue(ctx context.Context, event delivery.Event) (*delivery.Ticket, error)
}

// Result describes what reconciliation did with one notification.
type Result struct {
	Outcome       enums.ProcessedOutcome
	Kind          enums.RecordKind
	TransactionID string
	Ticket        *delivery.Ticket
}

type Reconciler struct {
	store   Store
	catalog catalog.LineItemLookup
	queue   Enqueuer
	logg    *logger.Logger
}

// NewReconciler wires the record store and the outbound queue. lookup may be
// nil, in which case notifications without line items are recorded without them.
func NewReconciler(store Store, lookup catalog.LineItemLookup, queue Enqueuer, logg *logger.Logger) (*Reconciler, error) {
	if store == nil {
		return nil, errors.New("record store is required")
	}
	if queue == nil {
		return nil, errors.New("outbound queue is required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &Reconciler{store: store, catalog: lookup, queue: queue, logg: logg}, nil
}

// Purchase records a completed checkout and queues exactly one purchase event.
// A transaction already on record is skipped without a second event.
func (r *Reconciler) Purchase(ctx context.Context, n notifications.PaymentCompleted) (Result, error) {
	s := n.Session
	result := Result{Kind: enums.RecordKindPurchase, TransactionID: s.ID}

	if s.PaymentStatus == notifications.PaymentStatusUnpaid {
		r.logg.Info(r.logg.WithField(ctx, "transaction_id", s.ID), "checkout completed without payment; awaiting async payment")
		result.Outcome = enums.ProcessedOutcomeSkipped
		return result, nil
	}
	if err := checkRequired(purchaseInput{TransactionID: s.ID, AmountTotal: s.AmountTotal, Currency: s.Currency}); err != nil {
		return result, err
	}
	currency, err := enums.ParseCurrency(s.Currency)
	if err != nil {
		return result, dataError("unsupported currency", map[string]string{"currency": s.Currency})
	}

	rawItems, err := r.lineItems(ctx, s)
	if err != nil {
		return result, err
	}

	record := PurchaseRecord{
		TransactionID: s.ID,
		EventID:       n.EventID(),
		PaymentIntent: s.PaymentIntent,
		Currency:      currency,
		Total:         FromMinor(*s.AmountTotal, currency),
		Tax:           decimal.Zero,
		Shipping:      decimal.Zero,
		Discount:      decimal.Zero,
		Coupon:        s.Metadata[metaCoupon],
		LineItems:     convertLineItems(rawItems, currency),
		ClientID:      s.Metadata[metaClientID],
		SessionID:     s.Metadata[metaSessionID],
		UserID:        s.ClientReference,
	}
	if td := s.TotalDetails; td != nil {
		record.Tax = FromMinor(td.AmountTax, currency)
		record.Shipping = FromMinor(td.AmountShipping, currency)
		record.Discount = FromMinor(td.AmountDiscount, currency)
	}
	if s.CustomerDetails != nil {
		record.CustomerEmail = s.CustomerDetails.Email
	}

	err = r.store.InTx(ctx, func(ctx context.Context) error {
		inserted, err := r.store.SavePurchase(ctx, record)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist purchase record")
		}
		if !inserted {
			result.Outcome = enums.ProcessedOutcomeSkipped
			return nil
		}
		ticket, err := r.queue.Enqueue(ctx, purchaseEvent(record, n.Created.UnixMicro()))
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "enqueue purchase event")
		}
		result.Outcome = enums.ProcessedOutcomeProcessed
		result.Ticket = ticket
		return nil
	})
	if err != nil {
		return result, err
	}
	if result.Outcome == enums.ProcessedOutcomeSkipped {
		r.logg.Info(r.logg.WithField(ctx, "transaction_id", s.ID), "purchase already recorded")
	}
	return result, nil
}

// Refund records the latest refund on a charge and queues exactly one refund event.
func (r *Reconciler) Refund(ctx context.Context, n notifications.RefundIssued) (Result, error) {
	c := n.Charge
	result := Result{Kind: enums.RecordKindRefund}

	latest, hasLatest := c.LatestRefund()
	amount := c.AmountRefunded
	if hasLatest {
		amount = &latest.Amount
	}
	if err := checkRequired(refundInput{ChargeID: c.ID, Amount: amount, Currency: c.Currency}); err != nil {
		return result, err
	}
	currency, err := enums.ParseCurrency(c.Currency)
	if err != nil {
		return result, dataError("unsupported currency", map[string]string{"currency": c.Currency})
	}

	purchase, err := r.store.PurchaseByPaymentIntent(ctx, c.PaymentIntent)
	if err != nil {
		return result, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load original purchase")
	}

	record := RefundRecord{
		RefundKey: c.ID + ":" + strconv.FormatInt(derefInt(c.AmountRefunded), 10),
		EventID:   n.EventID(),
		ChargeID:  c.ID,
		Currency:  currency,
		Total:     FromMinor(*amount, currency),
	}
	if hasLatest && latest.ID != "" {
		record.RefundKey = latest.ID
	}
	switch {
	case purchase != nil:
		record.TransactionID = purchase.TransactionID
		record.ClientID = purchase.ClientID
		record.SessionID = purchase.SessionID
		if record.Total.Equal(purchase.Total) {
			record.LineItems = purchase.LineItems
		}
	case c.Metadata[metaTransactionID] != "":
		record.TransactionID = c.Metadata[metaTransactionID]
	case c.PaymentIntent != "":
		record.TransactionID = c.PaymentIntent
	default:
		return result, dataError("refund cannot be tied to a transaction", map[string]string{"charge": c.ID})
	}
	if record.ClientID == "" {
		record.ClientID = c.Metadata[metaClientID]
	}
	result.TransactionID = record.TransactionID

	err = r.store.InTx(ctx, func(ctx context.Context) error {
		inserted, err := r.store.SaveRefund(ctx, record)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist refund record")
		}
		if !inserted {
			result.Outcome = enums.ProcessedOutcomeSkipped
			return nil
		}
		ticket, err := r.queue.Enqueue(ctx, refundEvent(record, n.Created.UnixMicro()))
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "enqueue refund event")
		}
		result.Outcome = enums.ProcessedOutcomeProcessed
		result.Ticket = ticket
		return nil
	})
	if err != nil {
		return result, err
	}
	if result.Outcome == enums.ProcessedOutcomeSkipped {
		r.logg.Info(r.logg.WithField(ctx, "refund_key", record.RefundKey), "refund already recorded")
	}
	return result, nil
}

func (r *Reconciler) lineItems(ctx context.Context, s notifications.CheckoutSession) ([]notifications.LineItem, error) {
	if s.LineItems != nil && len(s.LineItems.Data) > 0 {
		return s.LineItems.Data, nil
	}
	if r.catalog == nil {
		r.logg.Warn(r.logg.WithField(ctx, "transaction_id", s.ID), "notification has no line items and no catalog is configured")
		return nil, nil
	}
	items, err := r.catalog.LineItems(ctx, s.ID)
	if err != nil {
		if pkgerrors.As(err) == nil {
			err = pkgerrors.Wrap(pkgerrors.CodeDependency, err, "catalog lookup failed")
		}
		return nil, err
	}
	return items, nil
}

func convertLineItems(items []notifications.LineItem, currency enums.Currency) []LineItem {
	out := make([]LineItem, 0, len(items))
	for _, item := range items {
		li := LineItem{ID: item.ID, Name: item.Description, Quantity: item.Quantity}
		if li.Quantity <= 0 {
			li.Quantity = 1
		}
		switch {
		case item.Price != nil && item.Price.UnitAmount != nil:
			li.UnitPrice = FromMinor(*item.Price.UnitAmount, currency)
		default:
			li.UnitPrice = FromMinor(item.AmountTotal, currency).Div(decimal.NewFromInt(li.Quantity))
		}
		if item.Price != nil && item.Price.Product != "" {
			li.ID = item.Price.Product
		}
		out = append(out, li)
	}
	return out
}

func purchaseEvent(p PurchaseRecord, createdMicros int64) delivery.Event {
	params := map[string]any{
		"transaction_id": p.TransactionID,
		"value":          sinkValue(p.Total),
		"currency":       string(p.Currency),
		"tax":            sinkValue(p.Tax),
		"shipping":       sinkValue(p.Shipping),
		"items":          itemParams(p.LineItems),
	}
	if p.Coupon != "" {
		params["coupon"] = p.Coupon
	}
	if p.Discount.IsPositive() {
		params["discount"] = sinkValue(p.Discount)
	}
	return delivery.Event{
		Name:            EventPurchase,
		Params:          params,
		ClientID:        clientIDOrFallback(p.ClientID, p.TransactionID, createdMicros),
		SessionID:       p.SessionID,
		UserID:          p.UserID,
		TimestampMicros: createdMicros,
	}
}

func refundEvent(r RefundRecord, createdMicros int64) delivery.Event {
	params := map[string]any{
		"transaction_id": r.TransactionID,
		"value":          sinkValue(r.Total),
		"currency":       string(r.Currency),
	}
	if len(r.LineItems) > 0 {
		params["items"] = itemParams(r.LineItems)
	}
	return delivery.Event{
		Name:            EventRefund,
		Params:          params,
		ClientID:        clientIDOrFallback(r.ClientID, r.TransactionID, createdMicros),
		SessionID:       r.SessionID,
		TimestampMicros: createdMicros,
	}
}

func itemParams(items []LineItem) []map[string]any {
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		out = append(out, map[string]any{
			"item_id":   item.ID,
			"item_name": item.Name,
			"price":     sinkValue(item.UnitPrice),
			"quantity":  item.Quantity,
		})
	}
	return out
}

// clientIDOrFallback derives a stable id for server-side events whose
// checkout never carried the browser's client id.
func clientIDOrFallback(clientID, transactionID string, createdMicros int64) string {
	if strings.TrimSpace(clientID) != "" {
		return clientID
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(transactionID))
	return fmt.Sprintf("%d.%d", h.Sum32(), createdMicros/1_000_000)
}

func derefInt(v *int64) int64 {
	if v == nil {
		return 0
	}
	return *v
}
