package notifications

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrMalformedEnvelope means the verified body is not a usable notification.
var ErrMalformedEnvelope = errors.New("malformed notification envelope")

type envelope struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// ParseEnvelope decodes the provider envelope of an already verified payload.
func ParseEnvelope(payload []byte) (Verified, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return Verified{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	env.ID = strings.TrimSpace(env.ID)
	env.Type = strings.TrimSpace(env.Type)
	if env.ID == "" {
		return Verified{}, fmt.Errorf("%w: missing id", ErrMalformedEnvelope)
	}
	if env.Type == "" {
		return Verified{}, fmt.Errorf("%w: missing type", ErrMalformedEnvelope)
	}
	v := Verified{
		ID:     env.ID,
		Type:   env.Type,
		Object: env.Data.Object,
	}
	if env.Created > 0 {
		v.Created = time.Unix(env.Created, 0).UTC()
	}
	return v, nil
}

// Decode turns a verified envelope into its notification variant. Types the
// relay does not know decode to Unknown without inspecting the object.
func Decode(v Verified) (Notification, error) {
	m := Meta{ID: v.ID, Type: v.Type, Created: v.Created}
	switch v.Type {
	case TypeCheckoutCompleted, TypeAsyncPaymentSucceeded:
		var session CheckoutSession
		if err := decodeObject(v.Object, &session); err != nil {
			return nil, err
		}
		return PaymentCompleted{Meta: m, Session: session}, nil
	case TypeChargeRefunded:
		var charge Charge
		if err := decodeObject(v.Object, &charge); err != nil {
			return nil, err
		}
		return RefundIssued{Meta: m, Charge: charge}, nil
	default:
		return Unknown{Meta: m}, nil
	}
}

func decodeObject(raw json.RawMessage, dst any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return fmt.Errorf("%w: missing data.object", ErrMalformedEnvelope)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%w: data.object: %v", ErrMalformedEnvelope, err)
	}
	return nil
}
