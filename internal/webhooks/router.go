package webhooks

import (
	"context"
	"fmt"
	"sort"

	"github.com/angelmondragon/payments-relay/internal/notifications"
	"github.com/angelmondragon/payments-relay/internal/reconcile"
	"github.com/angelmondragon/payments-relay/pkg/enums"
)

// Handler processes one decoded notification and reports the outcome to
// stamp on its processed-event record.
type Handler func(ctx context.Context, n notifications.Notification) (enums.ProcessedOutcome, error)

// Router is a static map from notification type to handler.
type Router struct {
	handlers map[string]Handler
}

func NewRouter(handlers map[string]Handler) *Router {
	copied := make(map[string]Handler, len(handlers))
	for eventType, h := range handlers {
		if h != nil {
			copied[eventType] = h
		}
	}
	return &Router{handlers: copied}
}

// Resolve reports the handler registered for eventType.
func (r *Router) Resolve(eventType string) (Handler, bool) {
	h, ok := r.handlers[eventType]
	return h, ok
}

// Types lists the handled notification types.
func (r *Router) Types() []string {
	out := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// ReconcileRoutes maps payment notification types onto the reconciler.
func ReconcileRoutes(rec *reconcile.Reconciler) map[string]Handler {
	purchase := func(ctx context.Context, n notifications.Notification) (enums.ProcessedOutcome, error) {
		completed, ok := n.(notifications.PaymentCompleted)
		if !ok {
			return "", fmt.Errorf("unexpected notification %T for %s", n, n.EventType())
		}
		res, err := rec.Purchase(ctx, completed)
		return res.Outcome, err
	}
	refund := func(ctx context.Context, n notifications.Notification) (enums.ProcessedOutcome, error) {
		issued, ok := n.(notifications.RefundIssued)
		if !ok {
			return "", fmt.Errorf("unexpected notification %T for %s", n, n.EventType())
		}
		res, err := rec.Refund(ctx, issued)
		return res.Outcome, err
	}
	return map[string]Handler{
		notifications.TypeCheckoutCompleted:     purchase,
		notifications.TypeAsyncPaymentSucceeded: purchase,
		notifications.TypeChargeRefunded:        refund,
	}
}
