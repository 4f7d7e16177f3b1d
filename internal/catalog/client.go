package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/angelmondragon/payments-relay/internal/notifications"
	"github.com/angelmondragon/payments-relay/pkg/config"
	pkgerrors "github.com/angelmondragon/payments-relay/pkg/errors"
)

const (
	defaultTimeout = 3 * time.Second
	pageLimit      = 100
	maxPages       = 20
)

// LineItemLookup fetches the line items of a checkout session when the
// notification arrived without them.
type LineItemLookup interface {
	LineItems(ctx context.Context, sessionID string) ([]notifications.LineItem, error)
}

type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

func NewClient(cfg config.CatalogConfig, opts ...Option) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("catalog base url is required")
	}
	timeout := cfg.Timeout()
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	c := &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    base,
		apiKey:     cfg.APIKey,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type lineItemPage struct {
	Data    []notifications.LineItem `json:"data"`
	HasMore bool                     `json:"has_more"`
}

// LineItems walks every page of the session's line items. Any failure is
// reported as a dependency error so the notification is redelivered.
func (c *Client) LineItems(ctx context.Context, sessionID string) ([]notifications.LineItem, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "checkout session id is required")
	}

	var items []notifications.LineItem
	startingAfter := ""
	for page := 0; page < maxPages; page++ {
		batch, err := c.fetchPage(ctx, sessionID, startingAfter)
		if err != nil {
			return nil, err
		}
		items = append(items, batch.Data...)
		if !batch.HasMore || len(batch.Data) == 0 {
			return items, nil
		}
		startingAfter = batch.Data[len(batch.Data)-1].ID
	}
	return nil, pkgerrors.New(pkgerrors.CodeDependency, "catalog line item pagination did not terminate")
}

func (c *Client) fetchPage(ctx context.Context, sessionID, startingAfter string) (lineItemPage, error) {
	endpoint := fmt.Sprintf("%s/v1/checkout/sessions/%s/line_items", c.baseURL, url.PathEscape(sessionID))
	q := url.Values{}
	q.Set("limit", fmt.Sprint(pageLimit))
	q.Add("expand[]", "data.price")
	if startingAfter != "" {
		q.Set("starting_after", startingAfter)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return lineItemPage{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build catalog request")
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return lineItemPage{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "catalog lookup failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return lineItemPage{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read catalog response")
	}
	if resp.StatusCode != http.StatusOK {
		return lineItemPage{}, pkgerrors.New(pkgerrors.CodeDependency, fmt.Sprintf("catalog responded %d", resp.StatusCode)).
			WithDetails(map[string]any{"session_id": sessionID, "status": resp.StatusCode})
	}

	var page lineItemPage
	if err := json.Unmarshal(body, &page); err != nil {
		return lineItemPage{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode catalog response")
	}
	return page, nil
}
