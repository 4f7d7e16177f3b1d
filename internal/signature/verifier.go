package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// HeaderName is the request header carrying the provider signature.
const HeaderName = "Provider-Signature"

// DefaultTolerance is the accepted distance between the signed timestamp and now.
const DefaultTolerance = 300 * time.Second

const (
	timestampKey = "t"
	schemeV1     = "v1"
)

var (
	ErrMalformed  = errors.New("signature header malformed")
	ErrExpired    = errors.New("signature timestamp outside tolerance")
	ErrMismatched = errors.New("signature mismatch")
)

// Verifier authenticates raw notification bodies against the shared secret.
type Verifier struct {
	secret    []byte
	tolerance time.Duration
	now       func() time.Time
}

type Option func(*Verifier)

// WithClock overrides the time source used for the tolerance check.
func WithClock(now func() time.Time) Option {
	return func(v *Verifier) {
		if now != nil {
			v.now = now
		}
	}
}

// WithTolerance overrides DefaultTolerance. Non-positive values keep the default.
func WithTolerance(d time.Duration) Option {
	return func(v *Verifier) {
		if d > 0 {
			v.tolerance = d
		}
	}
}

func NewVerifier(secret string, opts ...Option) (*Verifier, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("signing secret is required")
	}
	v := &Verifier{
		secret:    []byte(secret),
		tolerance: DefaultTolerance,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// Verify checks header against payload. The payload must be the exact bytes
// received on the wire.
func (v *Verifier) Verify(payload []byte, header string) error {
	ts, signatures, err := parseHeader(header)
	if err != nil {
		return err
	}

	age := v.now().Sub(time.Unix(ts, 0))
	if age < 0 {
		age = -age
	}
	if age > v.tolerance {
		return fmt.Errorf("%w: skew %s exceeds %s", ErrExpired, age.Truncate(time.Second), v.tolerance)
	}

	expected := computeMAC(v.secret, ts, payload)
	for _, candidate := range signatures {
		if hmac.Equal(expected, candidate) {
			return nil
		}
	}
	return ErrMismatched
}

// Sign builds a header value for payload signed at ts.
func Sign(secret string, payload []byte, ts time.Time) string {
	unix := ts.Unix()
	mac := computeMAC([]byte(secret), unix, payload)
	return fmt.Sprintf("%s=%d,%s=%s", timestampKey, unix, schemeV1, hex.EncodeToString(mac))
}

func computeMAC(secret []byte, ts int64, payload []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(strconv.FormatInt(ts, 10)))
	mac.Write([]byte("."))
	mac.Write(payload)
	return mac.Sum(nil)
}

// parseHeader extracts the timestamp and every v1 signature. Unknown schemes
// are ignored so providers can add new ones without breaking verification.
func parseHeader(header string) (int64, [][]byte, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0, nil, fmt.Errorf("%w: empty header", ErrMalformed)
	}

	var (
		ts         int64
		haveTS     bool
		signatures [][]byte
	)
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			return 0, nil, fmt.Errorf("%w: segment %q", ErrMalformed, part)
		}
		switch key {
		case timestampKey:
			parsed, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return 0, nil, fmt.Errorf("%w: timestamp %q", ErrMalformed, value)
			}
			ts, haveTS = parsed, true
		case schemeV1:
			sig, err := hex.DecodeString(value)
			if err != nil || len(sig) != sha256.Size {
				return 0, nil, fmt.Errorf("%w: v1 signature is not a sha256 hex digest", ErrMalformed)
			}
			signatures = append(signatures, sig)
		}
	}

	if !haveTS {
		return 0, nil, fmt.Errorf("%w: missing timestamp", ErrMalformed)
	}
	if len(signatures) == 0 {
		return 0, nil, fmt.Errorf("%w: missing v1 signature", ErrMalformed)
	}
	return ts, signatures, nil
}
