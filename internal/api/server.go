// Package api is the thin ops/debug HTTP surface around the serving
// engine: health, Prometheus metrics, and JSON views of forecasts, the
// model catalog and drift reports. The product-facing transport lives
// outside this repository.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nimbusml/forecastd/internal/forecaster"
	"github.com/nimbusml/forecastd/internal/registry"
	"github.com/nimbusml/forecastd/internal/store"
)

type Server struct {
	forecaster *forecaster.Forecaster
	registry   *registry.Registry
	store      *store.Store
	family     string
	port       string
}

func NewServer(fc *forecaster.Forecaster, reg *registry.Registry, st *store.Store, family, port string) *Server {
	return &Server{forecaster: fc, registry: reg, store: st, family: family, port: port}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/api/forecast", s.handleForecast)
	mux.HandleFunc("/api/models/current", s.handleCurrentModel)
	mux.HandleFunc("/api/models", s.handleListModels)
	mux.HandleFunc("/api/drift", s.handleDriftReports)
	return mux
}

func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:    ":" + s.port,
		Handler: s.Handler(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}
