// Package drift compares live feature distributions against the reference
// baselines pinned in the production model artifact and flags features
// whose population stability index crosses a threshold. The monitor only
// reports and signals; retraining is the external workflow's job.
package drift

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/nimbusml/forecastd/internal/artifact"
	"github.com/nimbusml/forecastd/internal/metrics"
	"github.com/nimbusml/forecastd/internal/models"
	"github.com/nimbusml/forecastd/internal/registry"
	"github.com/nimbusml/forecastd/internal/store"
)

// minLiveSamples is the smallest live window worth scoring; fewer values
// degrade to "no report" for that feature.
const minLiveSamples = 10

// TriggerFunc receives the retrain signal when the drifted-feature quorum
// is met. Wired to the external training workflow.
type TriggerFunc func(ctx context.Context, family string, drifted []string)

type Config struct {
	// WindowDays is the live sampling window ending at the cycle date.
	WindowDays int
	// Threshold is the default per-feature PSI threshold.
	Threshold float64
	// PerFeature overrides the default threshold for named features.
	PerFeature map[string]float64
	// Quorum is how many drifted features trigger a retrain signal.
	Quorum int
}

func DefaultConfig() Config {
	return Config{WindowDays: 14, Threshold: 0.1, Quorum: 1}
}

type Monitor struct {
	store    *store.Store
	registry *registry.Registry
	storage  artifact.Storage
	family   string
	cfg      Config
	trigger  TriggerFunc
}

func NewMonitor(st *store.Store, reg *registry.Registry, storage artifact.Storage, family string, cfg Config, trigger TriggerFunc) *Monitor {
	if cfg.WindowDays == 0 {
		cfg.WindowDays = 14
	}
	if cfg.Threshold == 0 {
		cfg.Threshold = 0.1
	}
	if cfg.Quorum == 0 {
		cfg.Quorum = 1
	}
	return &Monitor{store: st, registry: reg, storage: storage, family: family, cfg: cfg, trigger: trigger}
}

func (m *Monitor) threshold(feature string) float64 {
	if t, ok := m.cfg.PerFeature[feature]; ok {
		return t
	}
	return m.cfg.Threshold
}

// RunCycle evaluates drift for every tracked feature as of date and writes
// one DriftReport row per feature. Re-running a cycle recomputes its rows.
// Failure degrades to no report and never touches the serving path.
func (m *Monitor) RunCycle(ctx context.Context, date time.Time) ([]models.DriftReport, error) {
	current, err := m.registry.Current(ctx, m.family)
	if err != nil {
		return nil, fmt.Errorf("resolve production version: %w", err)
	}
	if current == nil {
		log.Printf("drift: no production version for %s, skipping cycle", m.family)
		return nil, nil
	}

	art, err := m.storage.Load(ctx, current.RunID)
	if err != nil {
		return nil, fmt.Errorf("load artifact %s: %w", current.RunID, err)
	}
	if len(art.Reference) == 0 {
		log.Printf("drift: artifact %s has no reference distributions, skipping cycle", current.RunID)
		return nil, nil
	}

	day := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
	from := day.AddDate(0, 0, -m.cfg.WindowDays)
	now := time.Now().UTC()

	var (
		reports []models.DriftReport
		drifted []string
	)
	for _, feature := range trackedFeatures(art) {
		ref := art.Reference[feature]

		live, err := m.store.RecentObservationValues(ctx, feature, from, day)
		if err != nil {
			return reports, fmt.Errorf("sample %s: %w", feature, err)
		}
		if len(live) < minLiveSamples {
			log.Printf("drift: %s has %d live samples, need %d, skipping", feature, len(live), minLiveSamples)
			continue
		}

		score := PSI(ref, live)
		threshold := m.threshold(feature)
		report := models.DriftReport{
			Date:      day,
			Feature:   feature,
			Score:     score,
			IsDrifted: score > threshold,
			Threshold: threshold,
			CreatedAt: now,
		}
		if err := m.store.UpsertDriftReport(ctx, report); err != nil {
			return reports, fmt.Errorf("write report for %s: %w", feature, err)
		}

		metrics.DriftScore.WithLabelValues(feature).Set(score)
		reports = append(reports, report)
		if report.IsDrifted {
			drifted = append(drifted, feature)
		}
	}

	if len(drifted) >= m.cfg.Quorum && len(drifted) > 0 {
		log.Printf("drift: %d features drifted (%v), signalling retrain for %s", len(drifted), drifted, m.family)
		metrics.RetrainTriggersTotal.Inc()
		if m.trigger != nil {
			m.trigger(ctx, m.family, drifted)
		}
	}

	return reports, nil
}

// Reports returns stored drift reports with date in [from, to].
func (m *Monitor) Reports(ctx context.Context, from, to time.Time) ([]models.DriftReport, error) {
	return m.store.DriftReports(ctx, from, to)
}

// trackedFeatures is the stable ordering of base readings the artifact
// carries reference distributions for. Only base observation columns are
// sampled live; derived features have no stored live series.
func trackedFeatures(art *artifact.Artifact) []string {
	var out []string
	for _, col := range baseOrder {
		if _, ok := art.Reference[col]; ok {
			out = append(out, col)
		}
	}
	return out
}

var baseOrder = []string{"temp_max", "temp_min", "humidity", "pressure", "wind_speed", "precipitation"}
