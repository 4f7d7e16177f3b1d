package routes

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/payments-relay/api/controllers"
	"github.com/angelmondragon/payments-relay/internal/notifications"
	"github.com/angelmondragon/payments-relay/internal/signature"
	webhookpipeline "github.com/angelmondragon/payments-relay/internal/webhooks"
	"github.com/angelmondragon/payments-relay/pkg/config"
	"github.com/angelmondragon/payments-relay/pkg/logger"
	"github.com/angelmondragon/payments-relay/pkg/metrics"
)

type stubPinger struct{}

func (stubPinger) Ping(context.Context) error {
	return nil
}

type stubProcessor struct{}

func (stubProcessor) Process(_ context.Context, in notifications.Inbound) (webhookpipeline.Outcome, error) {
	return webhookpipeline.Outcome{EventID: "evt_1", Disposition: webhookpipeline.DispositionIgnored}, nil
}

func testRouter(t *testing.T) http.Handler {
	t.Helper()
	cfg := &config.Config{
		App:     config.AppConfig{Env: "test"},
		Webhook: config.WebhookConfig{MaxBodyBytes: 1024},
	}
	reg := prometheus.NewRegistry()
	m := metrics.NewWebhookMetrics(reg)
	m.Observe("charge.refunded", "processed", time.Millisecond)
	return NewRouter(cfg, logger.Nop(), stubProcessor{}, nil, map[string]controllers.Pinger{"db": stubPinger{}}, reg)
}

func TestRoutes(t *testing.T) {
	srv := httptest.NewServer(testRouter(t))
	defer srv.Close()

	cases := []struct {
		method string
		path   string
		header string
		status int
	}{
		{http.MethodGet, "/health/live", "", http.StatusOK},
		{http.MethodGet, "/health/ready", "", http.StatusOK},
		{http.MethodPost, "/api/v1/webhooks/payments", "t=1,v1=00", http.StatusOK},
		{http.MethodGet, "/api/v1/webhooks/payments", "", http.StatusMethodNotAllowed},
		{http.MethodGet, "/unknown", "", http.StatusNotFound},
	}
	for _, tc := range cases {
		req, err := http.NewRequest(tc.method, srv.URL+tc.path, strings.NewReader(`{}`))
		if err != nil {
			t.Fatalf("build request: %v", err)
		}
		if tc.header != "" {
			req.Header.Set(signature.HeaderName, tc.header)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("%s %s: %v", tc.method, tc.path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != tc.status {
			t.Fatalf("%s %s: expected %d, got %d", tc.method, tc.path, tc.status, resp.StatusCode)
		}
		if resp.Header.Get("X-Request-Id") == "" {
			t.Fatalf("%s %s: missing request id", tc.method, tc.path)
		}
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := httptest.NewServer(testRouter(t))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("get metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "relay_webhook_notifications_total") {
		t.Fatalf("expected webhook counter in exposition")
	}
}
