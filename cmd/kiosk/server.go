package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/rangebridge/kiosk/internal/bridge"
	"github.com/rangebridge/kiosk/internal/kioskcfg"
	"github.com/rangebridge/kiosk/internal/stream"
)

// setupStatusServer builds the kiosk's local status endpoint: connection
// stats, health (local plus a bridge probe) and Prometheus metrics.
func setupStatusServer(cfg kioskcfg.Config, manager *stream.Manager, bridgeClient *bridge.Client, registry *prometheus.Registry) *http.Server {
	r := mux.NewRouter()

	r.HandleFunc("/health", func(w http.ResponseWriter, req *http.Request) {
		ctx, cancel := context.WithTimeout(req.Context(), 3*time.Second)
		defer cancel()

		bridgeStatus := "unreachable"
		if health, err := bridgeClient.Health(ctx); err == nil {
			bridgeStatus = health.Status
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(map[string]string{
			"status": "ok",
			"bridge": bridgeStatus,
		}); err != nil {
			log.Error().Err(err).Msg("failed to write health response")
		}
	}).Methods(http.MethodGet)

	r.HandleFunc("/stats", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(manager.Stats()); err != nil {
			log.Error().Err(err).Msg("failed to write stats response")
		}
	}).Methods(http.MethodGet)

	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	c := cors.New(cors.Options{
		AllowedMethods: []string{http.MethodHead, http.MethodGet},
		AllowedOrigins: []string{"*"},
		AllowedHeaders: []string{"*"},
	})
	handler := c.Handler(r)

	return &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.StatusPort),
		Handler: h2c.NewHandler(handler, &http2.Server{}),
	}
}
