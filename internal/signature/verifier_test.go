package signature

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

const testSecret = "whsec_test_secret"

func fixedClock(ts time.Time) Option {
	return WithClock(func() time.Time { return ts })
}

func TestVerifyAcceptsValidSignature(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	v, err := NewVerifier(testSecret, fixedClock(now))
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	payload := []byte(`{"id":"evt_1","type":"charge.refunded"}`)

	if err := v.Verify(payload, Sign(testSecret, payload, now.Add(-299*time.Second))); err != nil {
		t.Fatalf("expected valid signature, got %v", err)
	}
}

func TestVerifyRejectsAnyByteChange(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	v, _ := NewVerifier(testSecret, fixedClock(now))
	payload := []byte(`{"id":"evt_1","amount_total":5000}`)
	header := Sign(testSecret, payload, now)

	for i := range payload {
		tampered := append([]byte(nil), payload...)
		tampered[i] ^= 0x01
		if err := v.Verify(tampered, header); !errors.Is(err, ErrMismatched) {
			t.Fatalf("byte %d: expected ErrMismatched, got %v", i, err)
		}
	}
	if err := v.Verify(append(payload, ' '), header); !errors.Is(err, ErrMismatched) {
		t.Fatalf("appended byte: expected ErrMismatched, got %v", err)
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	v, _ := NewVerifier(testSecret, fixedClock(now))
	payload := []byte(`{}`)
	if err := v.Verify(payload, Sign("other", payload, now)); !errors.Is(err, ErrMismatched) {
		t.Fatalf("expected ErrMismatched, got %v", err)
	}
}

func TestVerifyTolerance(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	v, _ := NewVerifier(testSecret, fixedClock(now))
	payload := []byte(`{"id":"evt_old"}`)

	if err := v.Verify(payload, Sign(testSecret, payload, now.Add(-301*time.Second))); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired for old timestamp, got %v", err)
	}
	if err := v.Verify(payload, Sign(testSecret, payload, now.Add(301*time.Second))); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired for future timestamp, got %v", err)
	}
	if err := v.Verify(payload, Sign(testSecret, payload, now.Add(-300*time.Second))); err != nil {
		t.Fatalf("boundary should be accepted, got %v", err)
	}
}

func TestVerifyCustomTolerance(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	v, _ := NewVerifier(testSecret, fixedClock(now), WithTolerance(10*time.Second))
	payload := []byte(`{}`)
	if err := v.Verify(payload, Sign(testSecret, payload, now.Add(-11*time.Second))); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
}

func TestVerifyMalformedHeaders(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	v, _ := NewVerifier(testSecret, fixedClock(now))
	payload := []byte(`{}`)
	validSig := strings.SplitN(Sign(testSecret, payload, now), "v1=", 2)[1]

	cases := map[string]string{
		"empty":          "",
		"no timestamp":   "v1=" + validSig,
		"no signature":   fmt.Sprintf("t=%d", now.Unix()),
		"bad timestamp":  "t=abc,v1=" + validSig,
		"bad hex":        fmt.Sprintf("t=%d,v1=zzzz", now.Unix()),
		"short digest":   fmt.Sprintf("t=%d,v1=abcd", now.Unix()),
		"missing equals": fmt.Sprintf("t=%d,v1", now.Unix()),
	}
	for name, header := range cases {
		if err := v.Verify(payload, header); !errors.Is(err, ErrMalformed) {
			t.Fatalf("%s: expected ErrMalformed, got %v", name, err)
		}
	}
}

func TestVerifyAcceptsAnyRotatedSignature(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	v, _ := NewVerifier(testSecret, fixedClock(now))
	payload := []byte(`{"id":"evt_rot"}`)

	stale := strings.SplitN(Sign("old_secret", payload, now), "v1=", 2)[1]
	current := Sign(testSecret, payload, now)
	header := current + ",v1=" + stale + ",v0=ignored"
	if err := v.Verify(payload, header); err != nil {
		t.Fatalf("expected rotated header to verify, got %v", err)
	}
}

func TestNewVerifierRequiresSecret(t *testing.T) {
	if _, err := NewVerifier("  "); err == nil {
		t.Fatalf("expected error for blank secret")
	}
}
