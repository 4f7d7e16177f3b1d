package webhooks

import (
	"context"
	"errors"
	"time"

	"github.com/angelmondragon/payments-relay/internal/idempotency"
	"github.com/angelmondragon/payments-relay/internal/notifications"
	"github.com/angelmondragon/payments-relay/internal/reconcile"
	"github.com/angelmondragon/payments-relay/pkg/enums"
	pkgerrors "github.com/angelmondragon/payments-relay/pkg/errors"
	"github.com/angelmondragon/payments-relay/pkg/logger"
	"github.com/angelmondragon/payments-relay/pkg/metrics"
)

const maxLoggedPayload = 8 << 10

// Disposition is how an accepted notification was settled.
type Disposition string

const (
	DispositionProcessed Disposition = "processed"
	DispositionSkipped   Disposition = "skipped"
	DispositionDuplicate Disposition = "duplicate"
	DispositionIgnored   Disposition = "ignored"
	DispositionRejected  Disposition = "rejected"
)

// Metric results for notifications that never reach a disposition.
const (
	resultInvalidSignature = "invalid_signature"
	resultMalformed        = "malformed"
	resultRetry            = "retry"
	labelUnhandledType     = "unhandled"
)

type Verifier interface {
	Verify(payload []byte, header string) error
}

// Outcome is returned for every acknowledged notification.
type Outcome struct {
	EventID     string
	EventType   string
	Disposition Disposition
}

type PipelineParams struct {
	Verifier Verifier
	Router   *Router
	Guard    idempotency.Guard
	Metrics  *metrics.WebhookMetrics
	Logger   *logger.Logger
}

// Pipeline runs verify, resolve, claim, decode, handle, complete for one
// inbound notification.
type Pipeline struct {
	verifier Verifier
	router   *Router
	guard    idempotency.Guard
	metrics  *metrics.WebhookMetrics
	logg     *logger.Logger
}

func NewPipeline(p PipelineParams) (*Pipeline, error) {
	if p.Verifier == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "signature verifier required")
	}
	if p.Router == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "event router required")
	}
	if p.Guard == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "idempotency guard required")
	}
	logg := p.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	return &Pipeline{
		verifier: p.Verifier,
		router:   p.Router,
		guard:    p.Guard,
		metrics:  p.Metrics,
		logg:     logg,
	}, nil
}

// Process settles one notification. A nil error means the provider should be
// told 200; errors carry a pkg/errors code that maps to 400 or 503.
func (p *Pipeline) Process(ctx context.Context, in notifications.Inbound) (Outcome, error) {
	started := time.Now()

	if err := p.verifier.Verify(in.Payload, in.SignatureHeader); err != nil {
		p.metrics.Observe("", resultInvalidSignature, time.Since(started))
		p.logg.Warn(p.logg.WithField(ctx, "reason", err.Error()), "notification signature rejected")
		return Outcome{}, pkgerrors.Wrap(pkgerrors.CodeSignature, err, "signature verification failed")
	}

	verified, err := notifications.ParseEnvelope(in.Payload)
	if err != nil {
		p.metrics.Observe("", resultMalformed, time.Since(started))
		p.logg.Warn(p.logg.WithField(ctx, "reason", err.Error()), "notification envelope rejected")
		return Outcome{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "malformed notification")
	}

	out := Outcome{EventID: verified.ID, EventType: verified.Type}
	ctx = p.logg.WithEventID(ctx, verified.ID)
	ctx = p.logg.WithField(ctx, "event_type", verified.Type)

	handler, ok := p.router.Resolve(verified.Type)
	if !ok {
		out.Disposition = DispositionIgnored
		p.metrics.Observe(labelUnhandledType, string(out.Disposition), time.Since(started))
		p.logg.Info(ctx, "notification type not handled; acknowledged")
		return out, nil
	}

	claim, err := p.guard.Claim(ctx, verified.ID, verified.Type)
	if err != nil {
		p.metrics.Observe(verified.Type, resultRetry, time.Since(started))
		p.logg.Error(ctx, "idempotency claim failed", err)
		return out, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "claim notification")
	}
	if claim == idempotency.Duplicate {
		out.Disposition = DispositionDuplicate
		p.metrics.Observe(verified.Type, string(out.Disposition), time.Since(started))
		p.logg.Info(ctx, "duplicate notification acknowledged")
		return out, nil
	}

	outcome, err := p.dispatch(ctx, handler, verified)
	if err != nil {
		if !isPermanent(err) {
			p.release(ctx, verified.ID)
			p.metrics.Observe(verified.Type, resultRetry, time.Since(started))
			p.logg.Warn(p.logg.WithField(ctx, "reason", err.Error()), "notification handling failed; provider will redeliver")
			if pkgerrors.As(err) == nil {
				err = pkgerrors.Wrap(pkgerrors.CodeDependency, err, "handle notification")
			}
			return out, err
		}
		p.reject(ctx, verified, in.Payload, err)
		out.Disposition = DispositionRejected
		p.metrics.Observe(verified.Type, string(out.Disposition), time.Since(started))
		return out, nil
	}

	if outcome == "" {
		outcome = enums.ProcessedOutcomeProcessed
	}
	if err := p.guard.Complete(ctx, verified.ID, outcome); err != nil {
		p.logg.Error(ctx, "failed to stamp processed outcome", err)
	}
	out.Disposition = Disposition(outcome)
	p.metrics.Observe(verified.Type, string(out.Disposition), time.Since(started))
	p.logg.Info(p.logg.WithField(ctx, "outcome", outcome), "notification processed")
	return out, nil
}

func (p *Pipeline) dispatch(ctx context.Context, handler Handler, v notifications.Verified) (enums.ProcessedOutcome, error) {
	n, err := notifications.Decode(v)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode notification")
	}
	return handler(ctx, n)
}

// reject keeps the claim so redeliveries stay suppressed, and logs enough
// to replay the notification by hand.
func (p *Pipeline) reject(ctx context.Context, v notifications.Verified, payload []byte, cause error) {
	if err := p.guard.Complete(ctx, v.ID, enums.ProcessedOutcomeRejected); err != nil {
		p.logg.Error(ctx, "failed to stamp rejected outcome", err)
	}
	fields := map[string]any{
		"payload":        truncate(payload),
		"payload_bytes":  len(payload),
		"reconciliation": errors.Is(cause, reconcile.ErrReconciliationData),
		"event_created":  v.Created,
	}
	if typed := pkgerrors.As(cause); typed != nil && typed.Details() != nil {
		fields["details"] = typed.Details()
	}
	p.logg.Error(p.logg.WithFields(ctx, fields), "notification rejected; manual replay required", cause)
}

func (p *Pipeline) release(ctx context.Context, eventID string) {
	if err := p.guard.Release(context.WithoutCancel(ctx), eventID); err != nil {
		p.logg.Error(ctx, "failed to release notification claim", err)
	}
}

// isPermanent reports whether a handler error would recur on redelivery.
func isPermanent(err error) bool {
	if errors.Is(err, reconcile.ErrReconciliationData) || errors.Is(err, notifications.ErrMalformedEnvelope) {
		return true
	}
	return !pkgerrors.IsRetryable(err)
}

func truncate(payload []byte) string {
	if len(payload) > maxLoggedPayload {
		return string(payload[:maxLoggedPayload])
	}
	return string(payload)
}
