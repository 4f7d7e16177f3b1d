package notifications

import (
	"errors"
	"testing"
)

const checkoutPayload = `{
  "id": "evt_checkout_1",
  "type": "checkout.session.completed",
  "created": 1700000000,
  "data": {"object": {
    "id": "cs_test_1",
    "amount_total": 5400,
    "currency": "usd",
    "payment_status": "paid",
    "payment_intent": "pi_1",
    "metadata": {"client_id": "123.456", "session_id": "sess_1", "coupon": "SPRING"},
    "total_details": {"amount_tax": 400, "amount_shipping": 500, "amount_discount": 100},
    "customer_details": {"email": "buyer@example.com"}
  }}
}`

func TestParseAndDecodeCheckout(t *testing.T) {
	v, err := ParseEnvelope([]byte(checkoutPayload))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if v.ID != "evt_checkout_1" || v.Type != TypeCheckoutCompleted {
		t.Fatalf("unexpected envelope %+v", v)
	}
	if v.Created.Unix() != 1700000000 {
		t.Fatalf("unexpected created %v", v.Created)
	}

	n, err := Decode(v)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	completed, ok := n.(PaymentCompleted)
	if !ok {
		t.Fatalf("expected PaymentCompleted, got %T", n)
	}
	if completed.EventID() != "evt_checkout_1" {
		t.Fatalf("unexpected event id %s", completed.EventID())
	}
	s := completed.Session
	if s.ID != "cs_test_1" || s.AmountTotal == nil || *s.AmountTotal != 5400 || s.Currency != "usd" {
		t.Fatalf("unexpected session %+v", s)
	}
	if s.TotalDetails == nil || s.TotalDetails.AmountTax != 400 || s.TotalDetails.AmountShipping != 500 {
		t.Fatalf("unexpected totals %+v", s.TotalDetails)
	}
	if s.Metadata["coupon"] != "SPRING" || s.CustomerDetails.Email != "buyer@example.com" {
		t.Fatalf("unexpected metadata %+v", s)
	}
	if s.LineItems != nil {
		t.Fatalf("line items should be absent")
	}
}

func TestDecodeRefund(t *testing.T) {
	payload := `{"id":"evt_ref","type":"charge.refunded","data":{"object":{
		"id":"ch_1","amount":5400,"amount_refunded":2000,"currency":"eur","payment_intent":"pi_1",
		"refunds":{"data":[{"id":"re_old","amount":500,"created":10},{"id":"re_new","amount":1500,"created":20}]}}}}`
	v, err := ParseEnvelope([]byte(payload))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	n, err := Decode(v)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	refund, ok := n.(RefundIssued)
	if !ok {
		t.Fatalf("expected RefundIssued, got %T", n)
	}
	latest, ok := refund.Charge.LatestRefund()
	if !ok || latest.ID != "re_new" || latest.Amount != 1500 {
		t.Fatalf("unexpected latest refund %+v", latest)
	}
}

func TestDecodeUnknownType(t *testing.T) {
	v, err := ParseEnvelope([]byte(`{"id":"evt_x","type":"customer.created","data":{"object":"not-an-object"}}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	n, err := Decode(v)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := n.(Unknown); !ok {
		t.Fatalf("expected Unknown, got %T", n)
	}
	if n.EventType() != "customer.created" {
		t.Fatalf("unexpected type %s", n.EventType())
	}
}

func TestParseEnvelopeErrors(t *testing.T) {
	cases := map[string]string{
		"not json":     `{`,
		"missing id":   `{"type":"charge.refunded"}`,
		"missing type": `{"id":"evt_1"}`,
	}
	for name, payload := range cases {
		if _, err := ParseEnvelope([]byte(payload)); !errors.Is(err, ErrMalformedEnvelope) {
			t.Fatalf("%s: expected ErrMalformedEnvelope, got %v", name, err)
		}
	}
}

func TestDecodeKnownTypeWithoutObject(t *testing.T) {
	v, err := ParseEnvelope([]byte(`{"id":"evt_1","type":"charge.refunded","data":{}}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if _, err := Decode(v); !errors.Is(err, ErrMalformedEnvelope) {
		t.Fatalf("expected ErrMalformedEnvelope, got %v", err)
	}
}
