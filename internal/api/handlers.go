package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/nimbusml/forecastd/internal/ensemble"
	"github.com/nimbusml/forecastd/internal/features"
	"github.com/nimbusml/forecastd/internal/forecaster"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"status": "ok",
		"time":   time.Now().UTC(),
	}

	if err := s.store.DB().PingContext(r.Context()); err != nil {
		status["status"] = "degraded"
		status["database"] = err.Error()
	}

	current, err := s.registry.Current(r.Context(), s.family)
	switch {
	case err != nil:
		status["status"] = "degraded"
		status["registry"] = err.Error()
	case current == nil:
		status["model_loaded"] = false
	default:
		status["model_loaded"] = true
		status["model_version"] = current.Version
		status["model_run_id"] = current.RunID
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}

func (s *Server) handleForecast(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lat, err := strconv.ParseFloat(q.Get("lat"), 64)
	if err != nil {
		http.Error(w, "lat required", http.StatusBadRequest)
		return
	}
	lon, err := strconv.ParseFloat(q.Get("lon"), 64)
	if err != nil {
		http.Error(w, "lon required", http.StatusBadRequest)
		return
	}
	days := 7
	if d := q.Get("days"); d != "" {
		if days, err = strconv.Atoi(d); err != nil {
			http.Error(w, "days must be an integer", http.StatusBadRequest)
			return
		}
	}

	result, err := s.forecaster.Forecast(r.Context(), forecaster.Request{
		Latitude:  lat,
		Longitude: lon,
		Horizon:   days,
	})
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write(result.Payload)
}

func (s *Server) handleCurrentModel(w http.ResponseWriter, r *http.Request) {
	current, err := s.registry.Current(r.Context(), s.family)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if current == nil {
		http.Error(w, "no production model", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(current)
}

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	versions, err := s.registry.List(r.Context(), s.family)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(versions)
}

func (s *Server) handleDriftReports(w http.ResponseWriter, r *http.Request) {
	to := time.Now().UTC()
	from := to.AddDate(0, 0, -30)
	if v := r.URL.Query().Get("from"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			http.Error(w, "from must be YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		from = t
	}
	if v := r.URL.Query().Get("to"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			http.Error(w, "to must be YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		to = t
	}

	reports, err := s.store.DriftReports(r.Context(), from, to)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(reports)
}

func statusFor(err error) int {
	var shapeErr *ensemble.ShapeMismatchError
	switch {
	case errors.Is(err, forecaster.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, ensemble.ErrModelUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, features.ErrInsufficientHistory):
		return http.StatusUnprocessableEntity
	case errors.As(err, &shapeErr):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
