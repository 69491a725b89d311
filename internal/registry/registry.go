// Package registry owns the model version catalog and its lifecycle state
// machine: Staging -> Production -> Archived. Promotion is the only mutating
// operation on the Production pointer and is atomic per model family.
package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nimbusml/forecastd/internal/metrics"
	"github.com/nimbusml/forecastd/internal/models"
	"github.com/nimbusml/forecastd/internal/store"
)

// ErrConflict is returned when a concurrent promotion for the same family
// won first. Callers retry or accept the winner.
var ErrConflict = errors.New("promotion conflict")

// ErrVersionNotFound mirrors the catalog sentinel for unknown run ids.
var ErrVersionNotFound = store.ErrVersionNotFound

// Gates are the validation thresholds a version must clear on every target
// before promotion. The gate is a hard block, never overridden.
type Gates struct {
	MinR2   float64
	MaxRMSE float64
}

func DefaultGates() Gates {
	return Gates{MinR2: 0.85, MaxRMSE: 3.0}
}

// GateError reports the first target that failed the validation gate.
type GateError struct {
	RunID  string
	Target string
	Metric string
	Value  float64
	Limit  float64
}

func (e *GateError) Error() string {
	return fmt.Sprintf("validation gate failed for %s: %s %s=%.4f (limit %.4f)",
		e.RunID, e.Target, e.Metric, e.Value, e.Limit)
}

type Registry struct {
	store *store.Store
	gates Gates
}

func New(st *store.Store, gates Gates) *Registry {
	return &Registry{store: st, gates: gates}
}

// Register enters a newly trained version into the catalog at Staging.
// Metrics must include RMSE and R2 for every predicted target.
func (r *Registry) Register(ctx context.Context, family, version string, m map[string]models.TargetMetrics) (*models.ModelVersion, error) {
	for _, target := range models.Targets {
		tm, ok := m[target]
		if !ok {
			return nil, fmt.Errorf("register %s/%s: missing metrics for target %s", family, version, target)
		}
		if tm.RMSE == 0 && tm.R2 == 0 {
			return nil, fmt.Errorf("register %s/%s: empty metrics for target %s", family, version, target)
		}
	}

	mv := models.ModelVersion{
		RunID:     uuid.NewString(),
		Family:    family,
		Version:   version,
		Stage:     models.StageStaging,
		Metrics:   m,
		CreatedAt: time.Now().UTC(),
	}
	if err := r.store.InsertModelVersion(ctx, mv); err != nil {
		return nil, fmt.Errorf("insert model version: %w", err)
	}
	return &mv, nil
}

// Promote validates the gate thresholds and atomically swaps the family's
// Production pointer: the prior Production version is archived and the
// candidate becomes Production. Exactly one of N concurrent promotions for
// a family succeeds; a call on an already-Production version is a no-op.
func (r *Registry) Promote(ctx context.Context, runID string) (*models.ModelVersion, error) {
	mv, err := r.store.GetModelVersion(ctx, runID)
	if err != nil {
		return nil, err
	}
	if mv.Stage == models.StageProduction {
		return mv, nil
	}
	if mv.Stage == models.StageArchived {
		return nil, fmt.Errorf("%w: %s is archived", ErrConflict, runID)
	}

	if err := r.checkGates(mv); err != nil {
		metrics.PromotionsTotal.WithLabelValues(mv.Family, "gate_rejected").Inc()
		return nil, err
	}

	prev, err := r.store.PromoteVersion(ctx, runID, time.Now().UTC())
	if errors.Is(err, store.ErrStageConflict) {
		metrics.PromotionsTotal.WithLabelValues(mv.Family, "conflict").Inc()
		return nil, fmt.Errorf("%w: %v", ErrConflict, err)
	}
	if err != nil {
		return nil, err
	}

	metrics.PromotionsTotal.WithLabelValues(mv.Family, "promoted").Inc()
	if prev != "" {
		metrics.PromotionsTotal.WithLabelValues(mv.Family, "archived_prior").Inc()
	}

	return r.store.GetModelVersion(ctx, runID)
}

func (r *Registry) checkGates(mv *models.ModelVersion) error {
	for _, target := range models.Targets {
		tm, ok := mv.Metrics[target]
		if !ok {
			return &GateError{RunID: mv.RunID, Target: target, Metric: "r2", Value: 0, Limit: r.gates.MinR2}
		}
		if tm.R2 < r.gates.MinR2 {
			return &GateError{RunID: mv.RunID, Target: target, Metric: "r2", Value: tm.R2, Limit: r.gates.MinR2}
		}
		if tm.RMSE > r.gates.MaxRMSE {
			return &GateError{RunID: mv.RunID, Target: target, Metric: "rmse", Value: tm.RMSE, Limit: r.gates.MaxRMSE}
		}
	}
	return nil
}

// Demote moves a version to Archived. Demoting the Production version
// leaves the family with no active version until the next promotion.
func (r *Registry) Demote(ctx context.Context, runID string) error {
	return r.store.ArchiveVersion(ctx, runID)
}

// Archive is an alias of Demote kept for operator vocabulary: demote rolls
// back a serving version, archive retires a staged one.
func (r *Registry) Archive(ctx context.Context, runID string) error {
	return r.store.ArchiveVersion(ctx, runID)
}

// Current returns the family's Production version, or nil when the family
// has no active version.
func (r *Registry) Current(ctx context.Context, family string) (*models.ModelVersion, error) {
	mv, err := r.store.ProductionVersion(ctx, family)
	if errors.Is(err, store.ErrVersionNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return mv, nil
}

// List returns every version of a family, oldest first.
func (r *Registry) List(ctx context.Context, family string) ([]models.ModelVersion, error) {
	return r.store.ListModelVersions(ctx, family)
}
