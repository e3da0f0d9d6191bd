package main

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rickgao/wsdemo/internal/metrics"
	"github.com/rickgao/wsdemo/internal/server"
)

// createHealthHandler serves /health and the Prometheus metrics path.
func createHealthHandler(srv *server.Server, gatherer prometheus.Gatherer, metricsPath string, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.Handle(metricsPath, metrics.Handler(gatherer))

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		health := struct {
			Status     string         `json:"status"`
			Components map[string]any `json:"components"`
		}{
			Status:     "healthy",
			Components: make(map[string]any),
		}

		if addr := srv.Addr(); addr != nil {
			health.Components["websocket"] = map[string]any{
				"addr":     addr.String(),
				"sessions": srv.Hub().Len(),
			}
		} else {
			health.Status = "unhealthy"
			health.Components["websocket"] = map[string]string{"status": "not listening"}
		}

		w.Header().Set("Content-Type", "application/json")
		if health.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		if err := json.NewEncoder(w).Encode(health); err != nil {
			logger.Debug("health response not written", "error", err)
		}
	})

	return mux
}
