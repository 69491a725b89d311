package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/nimbusml/forecastd/internal/models"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	// A second :memory: connection would see an empty database.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	store := New(db)
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store
}

func testObservation(day time.Time, tempMax float64, source string) models.Observation {
	return models.Observation{
		Latitude:      40.7120,
		Longitude:     -74.0060,
		ObservedAt:    day,
		TempMax:       sql.NullFloat64{Float64: tempMax, Valid: true},
		TempMin:       sql.NullFloat64{Float64: tempMax - 8, Valid: true},
		Humidity:      sql.NullFloat64{Float64: 60, Valid: true},
		Pressure:      sql.NullFloat64{Float64: 1013, Valid: true},
		WindSpeed:     sql.NullFloat64{Float64: 12, Valid: true},
		Precipitation: sql.NullFloat64{Float64: 0, Valid: true},
		Source:        source,
	}
}

func TestObservationQueryOrdering(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()
	loc := models.Location{Latitude: 40.7120, Longitude: -74.0060}

	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	// Insert out of order; queries must return ascending.
	for _, d := range []int{2, 0, 1} {
		if err := st.InsertObservation(ctx, testObservation(base.AddDate(0, 0, d), 20+float64(d), "wu")); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	// Duplicate same-day row from another source is allowed.
	if err := st.InsertObservation(ctx, testObservation(base, 21, "noaa")); err != nil {
		t.Fatalf("insert duplicate: %v", err)
	}

	obs, err := st.QueryObservations(ctx, loc, base.AddDate(0, 0, -1), base.AddDate(0, 0, 3))
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(obs) != 4 {
		t.Fatalf("got %d observations, want 4", len(obs))
	}
	for i := 1; i < len(obs); i++ {
		if obs[i].ObservedAt.Before(obs[i-1].ObservedAt) {
			t.Errorf("observations out of order at %d: %v after %v", i, obs[i].ObservedAt, obs[i-1].ObservedAt)
		}
	}

	// The upper bound is exclusive.
	obs, err = st.QueryObservations(ctx, loc, base, base)
	if err != nil {
		t.Fatalf("query empty window: %v", err)
	}
	if len(obs) != 0 {
		t.Errorf("empty window returned %d observations", len(obs))
	}
}

func TestObservationLocationFiltering(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()
	day := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	near := testObservation(day, 20, "wu")
	far := testObservation(day, 35, "wu")
	far.Latitude = 51.5074
	far.Longitude = -0.1278
	if err := st.InsertObservation(ctx, near); err != nil {
		t.Fatal(err)
	}
	if err := st.InsertObservation(ctx, far); err != nil {
		t.Fatal(err)
	}

	obs, err := st.QueryObservations(ctx, models.Location{Latitude: 40.7120, Longitude: -74.0060},
		day.AddDate(0, 0, -1), day.AddDate(0, 0, 1))
	if err != nil {
		t.Fatal(err)
	}
	if len(obs) != 1 || obs[0].TempMax.Float64 != 20 {
		t.Errorf("location filter returned %d rows, want the single local observation", len(obs))
	}
}

func stagingVersion(runID, family string) models.ModelVersion {
	metrics := make(map[string]models.TargetMetrics)
	for _, target := range models.Targets {
		metrics[target] = models.TargetMetrics{RMSE: 2.0, MAE: 1.5, R2: 0.9}
	}
	return models.ModelVersion{
		RunID:     runID,
		Family:    family,
		Version:   "1.0.0",
		Stage:     models.StageStaging,
		Metrics:   metrics,
		CreatedAt: time.Now().UTC(),
	}
}

func TestModelVersionLifecycle(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	if _, err := st.ProductionVersion(ctx, "weather-forecast"); !errors.Is(err, ErrVersionNotFound) {
		t.Fatalf("expected ErrVersionNotFound for empty family, got %v", err)
	}

	if err := st.InsertModelVersion(ctx, stagingVersion("run-1", "weather-forecast")); err != nil {
		t.Fatalf("insert: %v", err)
	}

	prev, err := st.PromoteVersion(ctx, "run-1", time.Now().UTC())
	if err != nil {
		t.Fatalf("promote: %v", err)
	}
	if prev != "" {
		t.Errorf("first promotion archived %q, want none", prev)
	}

	current, err := st.ProductionVersion(ctx, "weather-forecast")
	if err != nil {
		t.Fatalf("production version: %v", err)
	}
	if current.RunID != "run-1" || !current.PromotedAt.Valid {
		t.Errorf("current = %+v, want run-1 with promotion timestamp", current)
	}

	// A second promotion archives the prior production version.
	if err := st.InsertModelVersion(ctx, stagingVersion("run-2", "weather-forecast")); err != nil {
		t.Fatal(err)
	}
	prev, err = st.PromoteVersion(ctx, "run-2", time.Now().UTC())
	if err != nil {
		t.Fatalf("second promote: %v", err)
	}
	if prev != "run-1" {
		t.Errorf("archived %q, want run-1", prev)
	}
	v1, err := st.GetModelVersion(ctx, "run-1")
	if err != nil {
		t.Fatal(err)
	}
	if v1.Stage != models.StageArchived {
		t.Errorf("run-1 stage = %s, want Archived", v1.Stage)
	}

	// Archiving the production version leaves the family with none.
	if err := st.ArchiveVersion(ctx, "run-2"); err != nil {
		t.Fatalf("archive: %v", err)
	}
	if _, err := st.ProductionVersion(ctx, "weather-forecast"); !errors.Is(err, ErrVersionNotFound) {
		t.Errorf("expected no production version after archive, got %v", err)
	}
}

func TestPromoteVersionConflicts(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	if _, err := st.PromoteVersion(ctx, "missing", time.Now().UTC()); !errors.Is(err, ErrVersionNotFound) {
		t.Errorf("promote unknown = %v, want ErrVersionNotFound", err)
	}

	if err := st.InsertModelVersion(ctx, stagingVersion("run-1", "weather-forecast")); err != nil {
		t.Fatal(err)
	}
	if _, err := st.PromoteVersion(ctx, "run-1", time.Now().UTC()); err != nil {
		t.Fatal(err)
	}

	// Promoting a version already out of Staging is a stage conflict.
	if _, err := st.PromoteVersion(ctx, "run-1", time.Now().UTC()); !errors.Is(err, ErrStageConflict) {
		t.Errorf("re-promote = %v, want ErrStageConflict", err)
	}
}

func TestPromotionBusyErrorsMapToStageConflict(t *testing.T) {
	// Under WAL with multiple connections the losing promotion can get a
	// busy/snapshot error from the driver instead of reaching the
	// RowsAffected guard; both must surface as the same conflict kind.
	tests := []struct {
		name     string
		err      error
		conflict bool
	}{
		{"busy snapshot", errors.New("SQLITE_BUSY: database is locked (5) (SQLITE_BUSY_SNAPSHOT)"), true},
		{"locked database", errors.New("database is locked"), true},
		{"locked table", errors.New("database table is locked: model_versions"), true},
		{"unrelated driver error", errors.New("disk I/O error"), false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := promoteErr(tt.err)
			if errors.Is(got, ErrStageConflict) != tt.conflict {
				t.Errorf("promoteErr(%v) = %v, conflict mapping wrong", tt.err, got)
			}
			if !tt.conflict && !errors.Is(got, tt.err) {
				t.Errorf("promoteErr(%v) dropped the original error: %v", tt.err, got)
			}
		})
	}
}

func TestPredictionRecords(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)

	rec := models.PredictionRecord{
		RequestID: "req-1",
		Latitude:  40.7120,
		Longitude: -74.0060,
		Horizon:   3,
		RunID:     "run-1",
		Payload:   `[{"date":"2026-04-02"}]`,
		LatencyMS: 12.5,
		CreatedAt: now,
	}
	if err := st.InsertPredictionRecord(ctx, rec); err != nil {
		t.Fatalf("insert: %v", err)
	}

	got, err := st.PredictionRecords(ctx, now.Add(-time.Hour), now.Add(time.Hour))
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d records, want 1", len(got))
	}
	if got[0].RequestID != "req-1" || got[0].Horizon != 3 || got[0].RunID != "run-1" {
		t.Errorf("record = %+v", got[0])
	}
}

func TestDriftReportUpsert(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()
	day := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	first := models.DriftReport{Date: day, Feature: "temp_max", Score: 0.05, IsDrifted: false, Threshold: 0.1, CreatedAt: time.Now().UTC()}
	if err := st.UpsertDriftReport(ctx, first); err != nil {
		t.Fatal(err)
	}
	// A re-run of the cycle recomputes the row rather than duplicating it.
	second := first
	second.Score = 0.22
	second.IsDrifted = true
	if err := st.UpsertDriftReport(ctx, second); err != nil {
		t.Fatal(err)
	}

	got, err := st.DriftReports(ctx, day, day)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d reports, want 1", len(got))
	}
	if got[0].Score != 0.22 || !got[0].IsDrifted {
		t.Errorf("report = %+v, want recomputed score 0.22 drifted", got[0])
	}
}

func TestRecentObservationValues(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		if err := st.InsertObservation(ctx, testObservation(base.AddDate(0, 0, i), 20+float64(i), "wu")); err != nil {
			t.Fatal(err)
		}
	}

	vals, err := st.RecentObservationValues(ctx, "temp_max", base, base.AddDate(0, 0, 3))
	if err != nil {
		t.Fatal(err)
	}
	if len(vals) != 3 {
		t.Fatalf("got %d values, want 3", len(vals))
	}
	if vals[0] != 20 || vals[2] != 22 {
		t.Errorf("values = %v", vals)
	}
}
