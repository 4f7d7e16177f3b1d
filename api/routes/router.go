package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/payments-relay/api/controllers"
	webhookcontrollers "github.com/angelmondragon/payments-relay/api/controllers/webhooks"
	"github.com/angelmondragon/payments-relay/api/middleware"
	"github.com/angelmondragon/payments-relay/pkg/config"
	"github.com/angelmondragon/payments-relay/pkg/logger"
)

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	processor webhookcontrollers.NotificationProcessor,
	queue controllers.QueueStatus,
	readiness map[string]controllers.Pinger,
	gatherer prometheus.Gatherer,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, queue, readiness))
	})

	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/payments", webhookcontrollers.PaymentsWebhook(processor, cfg.Webhook.MaxBodyBytes, logg))
	})

	return r
}
