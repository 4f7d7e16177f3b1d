package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/angelmondragon/payments-relay/api/responses"
	"github.com/angelmondragon/payments-relay/pkg/config"
	pkgerrors "github.com/angelmondragon/payments-relay/pkg/errors"
	"github.com/angelmondragon/payments-relay/pkg/logger"
)

const (
	envHeader        = "X-Relay-Env"
	readinessTimeout = 2 * time.Second
)

// Pinger is any dependency the readiness probe checks.
type Pinger interface {
	Ping(ctx context.Context) error
}

// QueueStatus reports outbound queue state for the readiness payload.
type QueueStatus interface {
	Len() int
	Online() bool
}

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(envHeader, cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

// HealthReady pings every named dependency. Nil pingers are skipped so
// optional backends need no special casing.
func HealthReady(cfg *config.Config, logg *logger.Logger, queue QueueStatus, deps map[string]Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(envHeader, cfg.App.Env)

		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		defer cancel()

		checks := make(map[string]string, len(deps))
		failed := map[string]string{}
		for name, dep := range deps {
			if dep == nil {
				continue
			}
			if err := dep.Ping(ctx); err != nil {
				checks[name] = "down"
				failed[name] = err.Error()
				continue
			}
			checks[name] = "up"
		}
		if len(failed) > 0 {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeDependency, "dependencies unavailable").WithDetails(failed))
			return
		}

		body := map[string]any{"status": "ready", "checks": checks}
		if queue != nil {
			body["queue"] = map[string]any{"pending": queue.Len(), "online": queue.Online()}
		}
		responses.WriteSuccess(w, body)
	}
}
