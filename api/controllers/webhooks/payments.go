package webhooks

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/angelmondragon/payments-relay/api/responses"
	"github.com/angelmondragon/payments-relay/internal/notifications"
	"github.com/angelmondragon/payments-relay/internal/signature"
	webhookpipeline "github.com/angelmondragon/payments-relay/internal/webhooks"
	pkgerrors "github.com/angelmondragon/payments-relay/pkg/errors"
	"github.com/angelmondragon/payments-relay/pkg/logger"
)

const defaultMaxBodyBytes = 1 << 20

// NotificationProcessor settles one signed payment notification.
type NotificationProcessor interface {
	Process(ctx context.Context, in notifications.Inbound) (webhookpipeline.Outcome, error)
}

type ackResponse struct {
	Received    bool   `json:"received"`
	EventID     string `json:"event_id,omitempty"`
	Disposition string `json:"disposition,omitempty"`
}

// PaymentsWebhook accepts provider notifications. 200 acknowledges, 400
// rejects the signature or envelope, 503 asks the provider to redeliver.
func PaymentsWebhook(processor NotificationProcessor, maxBodyBytes int64, logg *logger.Logger) http.HandlerFunc {
	if maxBodyBytes <= 0 {
		maxBodyBytes = defaultMaxBodyBytes
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if processor == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeDependency, "notification pipeline unavailable"))
			return
		}

		header := r.Header.Get(signature.HeaderName)
		if header == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeSignature, "signature header missing"))
			return
		}

		payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "notification body too large"))
				return
			}
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request body"))
			return
		}

		out, err := processor.Process(ctx, notifications.Inbound{Payload: payload, SignatureHeader: header})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, ackResponse{
			Received:    true,
			EventID:     out.EventID,
			Disposition: string(out.Disposition),
		})
	}
}
