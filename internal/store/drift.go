package store

import (
	"context"
	"time"

	"github.com/nimbusml/forecastd/internal/models"
)

// UpsertDriftReport replaces the (date, feature) row so a re-run of a
// monitoring cycle recomputes rather than duplicates.
func (s *Store) UpsertDriftReport(ctx context.Context, r models.DriftReport) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO drift_reports (date, feature, score, is_drifted, threshold, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(date, feature) DO UPDATE SET
			score = excluded.score,
			is_drifted = excluded.is_drifted,
			threshold = excluded.threshold,
			created_at = excluded.created_at
	`, r.Date.UTC().Format("2006-01-02"), r.Feature, r.Score, r.IsDrifted, r.Threshold, r.CreatedAt.UTC())
	return err
}

// DriftReports returns reports with date in [from, to], ordered by date then
// feature.
func (s *Store) DriftReports(ctx context.Context, from, to time.Time) ([]models.DriftReport, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT date, feature, score, is_drifted, threshold, created_at
		FROM drift_reports
		WHERE date >= ? AND date <= ?
		ORDER BY date ASC, feature ASC
	`, from.UTC().Format("2006-01-02"), to.UTC().Format("2006-01-02"))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.DriftReport
	for rows.Next() {
		var (
			r       models.DriftReport
			dateStr string
		)
		if err := rows.Scan(&dateStr, &r.Feature, &r.Score, &r.IsDrifted, &r.Threshold, &r.CreatedAt); err != nil {
			return nil, err
		}
		d, err := time.Parse("2006-01-02", dateStr)
		if err != nil {
			return nil, err
		}
		r.Date = d
		out = append(out, r)
	}
	return out, rows.Err()
}
