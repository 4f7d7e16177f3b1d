package measurement

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/angelmondragon/payments-relay/pkg/config"
	"github.com/angelmondragon/payments-relay/pkg/delivery"
)

const (
	defaultTimeout      = 5 * time.Second
	maxResponseBodySize = 64 << 10
	sessionIDParam      = "session_id"
)

var errMissingClientID = errors.New("client_id is required by the measurement sink")

// Payload is the collection request body.
type Payload struct {
	ClientID        string                  `json:"client_id"`
	UserID          string                  `json:"user_id,omitempty"`
	TimestampMicros int64                   `json:"timestamp_micros,omitempty"`
	UserProperties  map[string]UserProperty `json:"user_properties,omitempty"`
	Events          []EventPayload          `json:"events"`
}

type UserProperty struct {
	Value any `json:"value"`
}

type EventPayload struct {
	Name   string         `json:"name"`
	Params map[string]any `json:"params,omitempty"`
}

// ValidationMessage is one diagnostic returned by the debug endpoint.
type ValidationMessage struct {
	FieldPath      string `json:"fieldPath"`
	Description    string `json:"description"`
	ValidationCode string `json:"validationCode"`
}

// ValidationError carries the debug endpoint's diagnostics.
type ValidationError struct {
	Messages []ValidationMessage
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Messages))
	for _, m := range e.Messages {
		parts = append(parts, fmt.Sprintf("%s: %s (%s)", m.FieldPath, m.Description, m.ValidationCode))
	}
	return "measurement payload rejected: " + strings.Join(parts, "; ")
}

type Client struct {
	httpClient    *http.Client
	endpoint      string
	debugEndpoint string
	measurementID string
	apiSecret     string
	debug         bool
}

type Option func(*Client)

// WithHTTPClient overrides the transport, mainly for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// NewClient builds a sink client from configuration. In debug mode every
// send goes to the validation endpoint and nothing is ingested.
func NewClient(cfg config.SinkConfig, opts ...Option) (*Client, error) {
	if strings.TrimSpace(cfg.MeasurementID) == "" || strings.TrimSpace(cfg.APISecret) == "" {
		return nil, errors.New("measurement id and api secret are required")
	}
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, errors.New("sink endpoint is required")
	}
	timeout := cfg.Timeout()
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	c := &Client{
		httpClient:    &http.Client{Timeout: timeout},
		endpoint:      cfg.Endpoint,
		debugEndpoint: cfg.DebugEndpoint,
		measurementID: cfg.MeasurementID,
		apiSecret:     cfg.APISecret,
		debug:         cfg.Debug,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Send implements delivery.Sender: one queued event per request.
func (c *Client) Send(ctx context.Context, event delivery.Event) error {
	payload, err := PayloadFor(event)
	if err != nil {
		return delivery.NewPermanentError(err)
	}
	if c.debug {
		messages, err := c.Validate(ctx, payload)
		if err != nil {
			return err
		}
		if len(messages) > 0 {
			return delivery.NewPermanentError(&ValidationError{Messages: messages})
		}
		return nil
	}
	_, err = c.post(ctx, c.endpoint, payload)
	return err
}

// Validate posts payload to the debug endpoint and returns its diagnostics.
func (c *Client) Validate(ctx context.Context, payload Payload) ([]ValidationMessage, error) {
	if c.debugEndpoint == "" {
		return nil, delivery.NewPermanentError(errors.New("debug endpoint not configured"))
	}
	body, err := c.post(ctx, c.debugEndpoint, payload)
	if err != nil {
		return nil, err
	}
	var resp struct {
		ValidationMessages []ValidationMessage `json:"validationMessages"`
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, nil
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode validation response: %w", err)
	}
	return resp.ValidationMessages, nil
}

// PayloadFor converts a queued event into a collection request.
func PayloadFor(event delivery.Event) (Payload, error) {
	if strings.TrimSpace(event.ClientID) == "" {
		return Payload{}, errMissingClientID
	}
	params := make(map[string]any, len(event.Params)+1)
	for k, v := range event.Params {
		params[k] = v
	}
	if event.SessionID != "" {
		if _, ok := params[sessionIDParam]; !ok {
			params[sessionIDParam] = event.SessionID
		}
	}
	p := Payload{
		ClientID:        event.ClientID,
		UserID:          event.UserID,
		TimestampMicros: event.TimestampMicros,
		Events:          []EventPayload{{Name: event.Name, Params: params}},
	}
	if len(event.UserProperties) > 0 {
		p.UserProperties = make(map[string]UserProperty, len(event.UserProperties))
		for k, v := range event.UserProperties {
			p.UserProperties[k] = UserProperty{Value: v}
		}
	}
	return p, nil
}

func (c *Client) post(ctx context.Context, endpoint string, payload Payload) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, delivery.NewPermanentError(fmt.Errorf("encode payload: %w", err))
	}
	target, err := c.requestURL(endpoint)
	if err != nil {
		return nil, delivery.NewPermanentError(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return nil, delivery.NewPermanentError(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("measurement request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return respBody, nil
	}
	retryAfter, _ := ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
	return nil, delivery.NewStatusError(resp.StatusCode, retryAfter, fmt.Errorf("sink responded %s: %s", resp.Status, summarize(respBody)))
}

func (c *Client) requestURL(endpoint string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("parse sink endpoint: %w", err)
	}
	q := u.Query()
	q.Set("measurement_id", c.measurementID)
	q.Set("api_secret", c.apiSecret)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ParseRetryAfter accepts delta-seconds or an HTTP date.
func ParseRetryAfter(value string, now time.Time) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d, true
		}
		return 0, true
	}
	return 0, false
}

func summarize(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		return s[:200] + "..."
	}
	if s == "" {
		return "<empty body>"
	}
	return s
}
