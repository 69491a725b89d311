// Package forecaster is the request-facing serving engine: validate, check
// the prediction cache, build features, score the ensemble, record, cache.
// Many requests run in parallel; the cache is the only shared mutable state
// on the hot path.
package forecaster

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/nimbusml/forecastd/internal/cache"
	"github.com/nimbusml/forecastd/internal/ensemble"
	"github.com/nimbusml/forecastd/internal/features"
	"github.com/nimbusml/forecastd/internal/metrics"
	"github.com/nimbusml/forecastd/internal/models"
)

// ErrInvalidRequest wraps validation failures on the inbound request.
var ErrInvalidRequest = errors.New("invalid forecast request")

type Request struct {
	Latitude  float64 `json:"latitude" validate:"gte=-90,lte=90"`
	Longitude float64 `json:"longitude" validate:"gte=-180,lte=180"`
	Horizon   int     `json:"days" validate:"gte=1,lte=14"`
}

// Response is the served forecast. Cached hits replay the original
// response, including its request id and generation time.
type Response struct {
	RequestID    string               `json:"request_id"`
	Latitude     float64              `json:"latitude"`
	Longitude    float64              `json:"longitude"`
	Horizon      int                  `json:"horizon_days"`
	ModelFamily  string               `json:"model_family"`
	ModelVersion string               `json:"model_version"`
	RunID        string               `json:"model_run_id"`
	GeneratedAt  time.Time            `json:"generated_at"`
	Forecast     []models.DayForecast `json:"forecast"`
}

// Result carries the canonical serialized payload so identical cache hits
// are byte-identical.
type Result struct {
	Response Response
	Payload  []byte
	Cached   bool
}

// FeatureBuilder derives the per-day feature sequence for a request.
type FeatureBuilder interface {
	Build(ctx context.Context, loc models.Location, refTime time.Time, horizon int) ([]*features.Vector, error)
}

// Scorer runs the ensemble over a feature sequence.
type Scorer interface {
	Predict(ctx context.Context, version *models.ModelVersion, loc models.Location, refDate time.Time, vectors []*features.Vector) (*ensemble.Result, error)
}

// VersionSource resolves the family's current Production version.
type VersionSource interface {
	Current(ctx context.Context, family string) (*models.ModelVersion, error)
}

type Config struct {
	// Family is the model family served by this engine.
	Family string
	// CacheTTL bounds entry staleness. Zero means 30 minutes.
	CacheTTL time.Duration
	// MaxConcurrent bounds in-flight feature building and scoring.
	MaxConcurrent int64
	// Timeout cancels a single request's computation.
	Timeout time.Duration
}

type Forecaster struct {
	builder  FeatureBuilder
	scorer   Scorer
	versions VersionSource
	cache    cache.Cache
	cfg      Config

	validate *validator.Validate
	sem      *semaphore.Weighted
	group    singleflight.Group
	now      func() time.Time
}

func New(builder FeatureBuilder, scorer Scorer, versions VersionSource, c cache.Cache, cfg Config) *Forecaster {
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = 30 * time.Minute
	}
	if cfg.MaxConcurrent == 0 {
		cfg.MaxConcurrent = 8
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Forecaster{
		builder:  builder,
		scorer:   scorer,
		versions: versions,
		cache:    c,
		cfg:      cfg,
		validate: validator.New(),
		sem:      semaphore.NewWeighted(cfg.MaxConcurrent),
		now:      time.Now,
	}
}

// Forecast serves one request. Cache hits skip feature building and scoring
// entirely; concurrent identical misses collapse into a single computation.
func (f *Forecaster) Forecast(ctx context.Context, req Request) (*Result, error) {
	start := f.now()
	res, err := f.forecast(ctx, req)
	metrics.ForecastLatency.Observe(time.Since(start).Seconds())
	metrics.ForecastRequestsTotal.WithLabelValues(outcome(err)).Inc()
	return res, err
}

func (f *Forecaster) forecast(ctx context.Context, req Request) (*Result, error) {
	if err := f.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	loc := models.Location{
		Latitude:  roundCoord(req.Latitude),
		Longitude: roundCoord(req.Longitude),
	}

	version, err := f.versions.Current(ctx, f.cfg.Family)
	if err != nil {
		return nil, fmt.Errorf("resolve model version: %w", err)
	}
	if version == nil {
		return nil, ensemble.ErrModelUnavailable
	}

	key := cache.Key(loc, req.Horizon, version.RunID)
	if payload, ok := f.cache.Get(ctx, key); ok {
		metrics.CacheLookupsTotal.WithLabelValues("hit").Inc()
		var resp Response
		if err := json.Unmarshal(payload, &resp); err == nil {
			return &Result{Response: resp, Payload: payload, Cached: true}, nil
		}
		// A corrupt entry falls through to recompute; the write below
		// replaces it.
	}
	metrics.CacheLookupsTotal.WithLabelValues("miss").Inc()

	v, err, _ := f.group.Do(key, func() (interface{}, error) {
		return f.compute(ctx, loc, req.Horizon, version, key)
	})
	if err != nil {
		return nil, err
	}
	res := v.(*Result)
	return res, nil
}

func (f *Forecaster) compute(ctx context.Context, loc models.Location, horizon int, version *models.ModelVersion, key string) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	if err := f.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("acquire worker: %w", err)
	}
	defer f.sem.Release(1)

	refTime := f.now().UTC()
	vectors, err := f.builder.Build(ctx, loc, refTime, horizon)
	if err != nil {
		return nil, fmt.Errorf("build features: %w", err)
	}

	refDate := time.Date(refTime.Year(), refTime.Month(), refTime.Day(), 0, 0, 0, 0, time.UTC)
	scored, err := f.scorer.Predict(ctx, version, loc, refDate, vectors)
	if err != nil {
		return nil, err
	}

	resp := Response{
		RequestID:    scored.RequestID,
		Latitude:     loc.Latitude,
		Longitude:    loc.Longitude,
		Horizon:      horizon,
		ModelFamily:  version.Family,
		ModelVersion: version.Version,
		RunID:        scored.RunID,
		GeneratedAt:  refTime,
		Forecast:     scored.Days,
	}
	payload, err := json.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("marshal response: %w", err)
	}

	f.cache.Set(ctx, key, payload, f.cfg.CacheTTL)

	return &Result{Response: resp, Payload: payload}, nil
}

func roundCoord(v float64) float64 {
	p := math.Pow10(models.CoordPrecision)
	return math.Round(v*p) / p
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ensemble.ErrModelUnavailable):
		return "model_unavailable"
	case errors.Is(err, features.ErrInsufficientHistory):
		return "insufficient_history"
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	default:
		return "error"
	}
}
