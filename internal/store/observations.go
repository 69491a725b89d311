package store

import (
	"context"
	"time"

	"github.com/nimbusml/forecastd/internal/models"
)

// coordTolerance bounds the lat/lon box used when matching observations to a
// requested location. Observations within ~1km are treated as local history.
const coordTolerance = 0.01

func (s *Store) InsertObservation(ctx context.Context, obs models.Observation) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO observations (latitude, longitude, observed_at, temp_max, temp_min, humidity, pressure, wind_speed, precipitation, cloud_cover, condition, source)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, obs.Latitude, obs.Longitude, obs.ObservedAt.UTC(), obs.TempMax, obs.TempMin, obs.Humidity,
		obs.Pressure, obs.WindSpeed, obs.Precipitation, obs.CloudCover, obs.Condition, obs.Source)
	return err
}

// QueryObservations returns observations near loc with observed_at in
// [from, to), ordered by timestamp ascending.
func (s *Store) QueryObservations(ctx context.Context, loc models.Location, from, to time.Time) ([]models.Observation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, latitude, longitude, observed_at, temp_max, temp_min, humidity, pressure, wind_speed, precipitation, cloud_cover, condition, source, created_at
		FROM observations
		WHERE latitude BETWEEN ? AND ?
		  AND longitude BETWEEN ? AND ?
		  AND observed_at >= ? AND observed_at < ?
		ORDER BY observed_at ASC
	`, loc.Latitude-coordTolerance, loc.Latitude+coordTolerance,
		loc.Longitude-coordTolerance, loc.Longitude+coordTolerance,
		from.UTC(), to.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Observation
	for rows.Next() {
		var o models.Observation
		if err := rows.Scan(&o.ID, &o.Latitude, &o.Longitude, &o.ObservedAt, &o.TempMax, &o.TempMin,
			&o.Humidity, &o.Pressure, &o.WindSpeed, &o.Precipitation, &o.CloudCover, &o.Condition,
			&o.Source, &o.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// RecentObservationValues returns the non-null values of a single base
// reading observed in [from, to), for drift sampling.
func (s *Store) RecentObservationValues(ctx context.Context, column string, from, to time.Time) ([]float64, error) {
	// column comes from the fixed tracked-feature list, never user input.
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+column+` FROM observations
		WHERE observed_at >= ? AND observed_at < ? AND `+column+` IS NOT NULL
		ORDER BY observed_at ASC
	`, from.UTC(), to.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var values []float64
	for rows.Next() {
		var v float64
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, rows.Err()
}
