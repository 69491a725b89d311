// Package ensemble scores feature vectors through the fixed-weight model
// ensemble: gradient-boosted tree models A and B plus random forest C,
// combined 0.4/0.4/0.2. It only scores; training never happens here.
package ensemble

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nimbusml/forecastd/internal/artifact"
	"github.com/nimbusml/forecastd/internal/features"
	"github.com/nimbusml/forecastd/internal/metrics"
	"github.com/nimbusml/forecastd/internal/models"
)

// ErrModelUnavailable is returned when no Production version can serve:
// registry empty, or its artifact cannot be loaded. The predictor fails
// closed and never falls back to a Staging version.
var ErrModelUnavailable = errors.New("no production model available")

// ShapeMismatchError indicates the incoming feature schema does not match
// the schema pinned by the loaded model version. This is a deployment
// inconsistency; it must surface, never be coerced.
type ShapeMismatchError struct {
	RunID string
	Got   int
	Want  int
}

func (e *ShapeMismatchError) Error() string {
	return fmt.Sprintf("feature shape mismatch for %s: got %d features, model pins %d", e.RunID, e.Got, e.Want)
}

// Weights combine per-target constituent outputs. They are fixed
// configuration, not learned.
type Weights struct {
	GBTA float64
	GBTB float64
	RFC  float64
}

func DefaultWeights() Weights {
	return Weights{GBTA: 0.4, GBTB: 0.4, RFC: 0.2}
}

// Recorder persists one PredictionRecord per successful scoring.
type Recorder interface {
	InsertPredictionRecord(ctx context.Context, rec models.PredictionRecord) error
}

type Predictor struct {
	storage  artifact.Storage
	recorder Recorder
	weights  Weights

	mu     sync.RWMutex
	loaded map[string]*artifact.Artifact
}

func NewPredictor(storage artifact.Storage, recorder Recorder, weights Weights) *Predictor {
	return &Predictor{
		storage:  storage,
		recorder: recorder,
		weights:  weights,
		loaded:   make(map[string]*artifact.Artifact),
	}
}

// Result is one scored forecast request.
type Result struct {
	RequestID string
	RunID     string
	Days      []models.DayForecast
}

// Predict scores the feature sequence with the given Production version and
// writes the audit PredictionRecord. Every constituent model is evaluated
// on the identical vector instance per day.
func (p *Predictor) Predict(ctx context.Context, version *models.ModelVersion, loc models.Location, refDate time.Time, vectors []*features.Vector) (*Result, error) {
	start := time.Now()

	if version == nil || version.Stage != models.StageProduction {
		return nil, ErrModelUnavailable
	}

	art, err := p.artifact(ctx, version.RunID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}

	pinned := features.SchemaFromNames(art.Schema)
	for _, v := range vectors {
		if !v.Schema.Equal(pinned) || len(v.Values) != pinned.Len() {
			return nil, &ShapeMismatchError{RunID: version.RunID, Got: v.Schema.Len(), Want: pinned.Len()}
		}
	}

	days := make([]models.DayForecast, 0, len(vectors))
	for i, v := range vectors {
		targets := make(map[string]float64, len(models.Targets))
		for _, target := range models.Targets {
			est, err := p.score(art, target, v)
			if err != nil {
				return nil, fmt.Errorf("score %s day %d: %w", target, i+1, err)
			}
			targets[target] = est
		}
		clampTargets(targets)

		cond, condText := classifyCondition(
			targets["temp_max"], targets["precipitation"], targets["humidity"], targets["wind_speed"])

		days = append(days, models.DayForecast{
			Date:          refDate.AddDate(0, 0, i+1),
			Targets:       targets,
			Condition:     string(cond),
			ConditionText: condText,
		})
	}

	requestID := uuid.NewString()
	payload, err := json.Marshal(days)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	rec := models.PredictionRecord{
		RequestID: requestID,
		Latitude:  loc.Latitude,
		Longitude: loc.Longitude,
		Horizon:   len(vectors),
		RunID:     version.RunID,
		Payload:   string(payload),
		LatencyMS: float64(time.Since(start).Microseconds()) / 1000,
		CreatedAt: time.Now().UTC(),
	}
	if err := p.recorder.InsertPredictionRecord(ctx, rec); err != nil {
		return nil, fmt.Errorf("record prediction: %w", err)
	}

	metrics.PredictionsScored.WithLabelValues(version.RunID).Inc()

	return &Result{RequestID: requestID, RunID: version.RunID, Days: days}, nil
}

// score runs all three constituents on one vector and combines them.
func (p *Predictor) score(art *artifact.Artifact, target string, v *features.Vector) (float64, error) {
	a, err := art.Models[artifact.ModelGBTA].Predict(target, v.Values, v.Missing)
	if err != nil {
		return 0, err
	}
	b, err := art.Models[artifact.ModelGBTB].Predict(target, v.Values, v.Missing)
	if err != nil {
		return 0, err
	}
	c, err := art.Models[artifact.ModelRFC].Predict(target, v.Values, v.Missing)
	if err != nil {
		return 0, err
	}
	est := p.weights.GBTA*a + p.weights.GBTB*b + p.weights.RFC*c
	return math.Round(est*100) / 100, nil
}

// clampTargets keeps physically bounded quantities in range.
func clampTargets(t map[string]float64) {
	if t["precipitation"] < 0 {
		t["precipitation"] = 0
	}
	if t["wind_speed"] < 0 {
		t["wind_speed"] = 0
	}
	if t["humidity"] < 0 {
		t["humidity"] = 0
	}
	if t["humidity"] > 100 {
		t["humidity"] = 100
	}
	if t["temp_min"] > t["temp_max"] {
		t["temp_min"], t["temp_max"] = t["temp_max"], t["temp_min"]
	}
}

// artifact returns the cached artifact for a run id, loading it once.
// Loading a new run evicts prior entries: promotions supersede older
// versions, so only the run now serving is worth holding in memory.
func (p *Predictor) artifact(ctx context.Context, runID string) (*artifact.Artifact, error) {
	p.mu.RLock()
	art, ok := p.loaded[runID]
	p.mu.RUnlock()
	if ok {
		return art, nil
	}

	art, err := p.storage.Load(ctx, runID)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	for id := range p.loaded {
		if id != runID {
			delete(p.loaded, id)
		}
	}
	p.loaded[runID] = art
	p.mu.Unlock()
	return art, nil
}
