package store

import (
	"context"
	"time"

	"github.com/nimbusml/forecastd/internal/models"
)

func (s *Store) InsertPredictionRecord(ctx context.Context, rec models.PredictionRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO prediction_logs (request_id, latitude, longitude, horizon, run_id, payload_json, latency_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.RequestID, rec.Latitude, rec.Longitude, rec.Horizon, rec.RunID, rec.Payload, rec.LatencyMS, rec.CreatedAt.UTC())
	return err
}

// PredictionRecords returns records created in [from, to), newest last.
func (s *Store) PredictionRecords(ctx context.Context, from, to time.Time) ([]models.PredictionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT request_id, latitude, longitude, horizon, run_id, payload_json, latency_ms, created_at
		FROM prediction_logs
		WHERE created_at >= ? AND created_at < ?
		ORDER BY created_at ASC
	`, from.UTC(), to.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.PredictionRecord
	for rows.Next() {
		var r models.PredictionRecord
		if err := rows.Scan(&r.RequestID, &r.Latitude, &r.Longitude, &r.Horizon, &r.RunID,
			&r.Payload, &r.LatencyMS, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
