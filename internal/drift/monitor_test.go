package drift

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/nimbusml/forecastd/internal/artifact"
	"github.com/nimbusml/forecastd/internal/models"
	"github.com/nimbusml/forecastd/internal/registry"
	"github.com/nimbusml/forecastd/internal/store"
)

type monitorFixture struct {
	store    *store.Store
	registry *registry.Registry
	storage  *artifact.FSStorage
}

func setupMonitorFixture(t *testing.T) *monitorFixture {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	// A second :memory: connection would see a separate empty database.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	st := store.New(db)
	if err := st.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return &monitorFixture{
		store:    st,
		registry: registry.New(st, registry.DefaultGates()),
		storage:  artifact.NewFSStorage(t.TempDir()),
	}
}

// publishVersion registers, promotes and stores an artifact whose temp_max
// reference distribution is built from refValues.
func (f *monitorFixture) publishVersion(t *testing.T, refValues []float64) string {
	t.Helper()
	ctx := context.Background()

	metrics := make(map[string]models.TargetMetrics, len(models.Targets))
	for _, target := range models.Targets {
		metrics[target] = models.TargetMetrics{RMSE: 2.0, MAE: 1.4, R2: 0.90}
	}
	mv, err := f.registry.Register(ctx, "ensemble", "v1", metrics)
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	targets := map[string]artifact.TargetModel{"temp_max": {Base: 20}}
	art := &artifact.Artifact{
		RunID:  mv.RunID,
		Schema: []string{"sin_day"},
		Reference: map[string]artifact.Histogram{
			"temp_max": NewHistogram(refValues, 10),
		},
		Models: map[string]artifact.Model{
			artifact.ModelGBTA: {Kind: artifact.KindGBT, Targets: targets},
			artifact.ModelGBTB: {Kind: artifact.KindGBT, Targets: targets},
			artifact.ModelRFC:  {Kind: artifact.KindRF, Targets: targets},
		},
	}
	if err := f.storage.Save(art); err != nil {
		t.Fatalf("save artifact: %v", err)
	}
	if _, err := f.registry.Promote(ctx, mv.RunID); err != nil {
		t.Fatalf("promote: %v", err)
	}
	return mv.RunID
}

// insertWindow writes one temp_max observation per day for the window ending
// the day before cycleDate.
func (f *monitorFixture) insertWindow(t *testing.T, cycleDate time.Time, values []float64) {
	t.Helper()
	for i, v := range values {
		obs := models.Observation{
			Latitude:   40.7120,
			Longitude:  -74.0060,
			ObservedAt: cycleDate.AddDate(0, 0, -(i + 1)).Add(12 * time.Hour),
			TempMax:    sql.NullFloat64{Float64: v, Valid: true},
			Source:     "wu",
		}
		if err := f.store.InsertObservation(context.Background(), obs); err != nil {
			t.Fatalf("insert observation: %v", err)
		}
	}
}

func TestRunCycleNoDrift(t *testing.T) {
	f := setupMonitorFixture(t)
	cycleDate := time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC)

	refValues := []float64{16, 18, 20, 22, 24, 16, 18, 20, 22, 24, 16, 18, 20, 22}
	f.publishVersion(t, refValues)
	f.insertWindow(t, cycleDate, refValues)

	var triggered bool
	m := NewMonitor(f.store, f.registry, f.storage, "ensemble", DefaultConfig(),
		func(context.Context, string, []string) { triggered = true })

	reports, err := m.RunCycle(context.Background(), cycleDate)
	if err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	if len(reports) != 1 {
		t.Fatalf("got %d reports, want 1", len(reports))
	}
	r := reports[0]
	if r.Feature != "temp_max" || r.IsDrifted {
		t.Errorf("report = %+v, want temp_max not drifted", r)
	}
	if r.Score > 0.05 {
		t.Errorf("matching distribution scored %v", r.Score)
	}
	if r.Threshold != 0.1 {
		t.Errorf("threshold = %v, want 0.1", r.Threshold)
	}
	if triggered {
		t.Error("retrain signalled without drift")
	}
}

func TestRunCycleDriftTriggersRetrain(t *testing.T) {
	f := setupMonitorFixture(t)
	cycleDate := time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC)

	f.publishVersion(t, []float64{16, 18, 20, 22, 24, 16, 18, 20, 22, 24, 16, 18, 20, 22})
	// A sustained 15-degree jump.
	f.insertWindow(t, cycleDate, []float64{35, 35, 36, 35, 37, 35, 36, 35, 35, 36, 35, 37, 36, 35})

	var gotFamily string
	var gotDrifted []string
	m := NewMonitor(f.store, f.registry, f.storage, "ensemble", DefaultConfig(),
		func(_ context.Context, family string, drifted []string) {
			gotFamily = family
			gotDrifted = drifted
		})

	reports, err := m.RunCycle(context.Background(), cycleDate)
	if err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	if len(reports) != 1 || !reports[0].IsDrifted {
		t.Fatalf("expected one drifted report, got %+v", reports)
	}
	if reports[0].Score <= 0.1 {
		t.Errorf("shifted distribution scored %v, want > 0.1", reports[0].Score)
	}
	if gotFamily != "ensemble" || len(gotDrifted) != 1 || gotDrifted[0] != "temp_max" {
		t.Errorf("trigger got family=%q drifted=%v", gotFamily, gotDrifted)
	}
}

func TestRunCycleRecomputeReplacesReport(t *testing.T) {
	f := setupMonitorFixture(t)
	cycleDate := time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC)

	refValues := []float64{16, 18, 20, 22, 24, 16, 18, 20, 22, 24, 16, 18, 20, 22}
	f.publishVersion(t, refValues)
	f.insertWindow(t, cycleDate, refValues)

	m := NewMonitor(f.store, f.registry, f.storage, "ensemble", DefaultConfig(), nil)
	ctx := context.Background()

	if _, err := m.RunCycle(ctx, cycleDate); err != nil {
		t.Fatalf("first cycle: %v", err)
	}
	if _, err := m.RunCycle(ctx, cycleDate); err != nil {
		t.Fatalf("second cycle: %v", err)
	}

	stored, err := m.Reports(ctx, cycleDate, cycleDate)
	if err != nil {
		t.Fatalf("reports: %v", err)
	}
	if len(stored) != 1 {
		t.Errorf("recomputed cycle stored %d rows for the date, want 1", len(stored))
	}
}

func TestRunCycleWithoutProductionVersion(t *testing.T) {
	f := setupMonitorFixture(t)

	m := NewMonitor(f.store, f.registry, f.storage, "ensemble", DefaultConfig(),
		func(context.Context, string, []string) { t.Error("trigger fired with no production version") })

	reports, err := m.RunCycle(context.Background(), time.Now().UTC())
	if err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	if reports != nil {
		t.Errorf("expected no reports, got %+v", reports)
	}
}

func TestRunCycleSkipsSparseFeatures(t *testing.T) {
	f := setupMonitorFixture(t)
	cycleDate := time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC)

	f.publishVersion(t, []float64{16, 18, 20, 22, 24, 16, 18, 20, 22, 24})
	// Below the minimum live sample count.
	f.insertWindow(t, cycleDate, []float64{20, 21, 22})

	m := NewMonitor(f.store, f.registry, f.storage, "ensemble", DefaultConfig(), nil)
	reports, err := m.RunCycle(context.Background(), cycleDate)
	if err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	if len(reports) != 0 {
		t.Errorf("sparse feature produced reports: %+v", reports)
	}
}

func TestQuorum(t *testing.T) {
	f := setupMonitorFixture(t)
	cycleDate := time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC)

	f.publishVersion(t, []float64{16, 18, 20, 22, 24, 16, 18, 20, 22, 24, 16, 18, 20, 22})
	f.insertWindow(t, cycleDate, []float64{35, 35, 36, 35, 37, 35, 36, 35, 35, 36, 35, 37, 36, 35})

	cfg := DefaultConfig()
	cfg.Quorum = 2 // one drifted feature is not enough

	triggered := false
	m := NewMonitor(f.store, f.registry, f.storage, "ensemble", cfg,
		func(context.Context, string, []string) { triggered = true })

	if _, err := m.RunCycle(context.Background(), cycleDate); err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	if triggered {
		t.Error("retrain signalled below quorum")
	}
}
