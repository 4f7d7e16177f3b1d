package catalog

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/angelmondragon/payments-relay/internal/notifications"
	"github.com/angelmondragon/payments-relay/pkg/config"
	pkgerrors "github.com/angelmondragon/payments-relay/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func int64Ptr(v int64) *int64 { return &v }

func newCatalog(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewClient(config.CatalogConfig{BaseURL: srv.URL + "/", APIKey: "sk_test", TimeoutMS: 1000})
	require.NoError(t, err)
	return c
}

func TestLineItemsFollowsPages(t *testing.T) {
	var calls int
	c := newCatalog(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		assert.Equal(t, "/v1/checkout/sessions/cs_123/line_items", r.URL.Path)
		assert.Equal(t, "Bearer sk_test", r.Header.Get("Authorization"))

		page := lineItemPage{HasMore: true, Data: []notifications.LineItem{{
			ID: "li_1", Description: "Tee", Quantity: 2, AmountTotal: 4000,
			Price: &notifications.Price{ID: "price_1", Product: "prod_1", UnitAmount: int64Ptr(2000)},
		}}}
		if r.URL.Query().Get("starting_after") == "li_1" {
			page = lineItemPage{Data: []notifications.LineItem{{ID: "li_2", Description: "Cap", Quantity: 1, AmountTotal: 1500}}}
		}
		assert.NoError(t, json.NewEncoder(w).Encode(page))
	})

	items, err := c.LineItems(context.Background(), "cs_123")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, 2, calls)
	assert.Equal(t, "prod_1", items[0].Price.Product)
	assert.Equal(t, int64(2000), *items[0].Price.UnitAmount)
	assert.Equal(t, "li_2", items[1].ID)
}

func TestLineItemsFailuresAreTransient(t *testing.T) {
	cases := map[string]http.HandlerFunc{
		"server error": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		},
		"not found": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		},
		"bad json": func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("{"))
		},
	}
	for name, handler := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := newCatalog(t, handler).LineItems(context.Background(), "cs_1")
			require.Error(t, err)
			typed := pkgerrors.As(err)
			require.NotNil(t, typed)
			assert.Equal(t, pkgerrors.CodeDependency, typed.Code())
			assert.True(t, pkgerrors.IsRetryable(err))
		})
	}
}

func TestLineItemsUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	c, err := NewClient(config.CatalogConfig{BaseURL: base})
	require.NoError(t, err)
	_, err = c.LineItems(context.Background(), "cs_1")
	require.Error(t, err)
	assert.True(t, pkgerrors.IsRetryable(err))
}

func TestNewClientRequiresBaseURL(t *testing.T) {
	_, err := NewClient(config.CatalogConfig{})
	require.Error(t, err)
}

func TestLineItemsRequiresSessionID(t *testing.T) {
	c, err := NewClient(config.CatalogConfig{BaseURL: "http://127.0.0.1:1"})
	require.NoError(t, err)
	_, err = c.LineItems(context.Background(), " ")
	require.Error(t, err)
	assert.False(t, pkgerrors.IsRetryable(err))
}
