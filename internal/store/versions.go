package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nimbusml/forecastd/internal/models"
)

var (
	// ErrVersionNotFound is returned when a run id has no catalog row.
	ErrVersionNotFound = errors.New("model version not found")
	// ErrStageConflict is returned when a lifecycle transition finds the
	// version in a stage that does not permit it (e.g. a concurrent
	// promotion won first).
	ErrStageConflict = errors.New("model version stage conflict")
)

func (s *Store) InsertModelVersion(ctx context.Context, v models.ModelVersion) error {
	metricsJSON, err := json.Marshal(v.Metrics)
	if err != nil {
		return fmt.Errorf("marshal metrics: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO model_versions (run_id, family, version, stage, metrics_json, created_at, promoted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, v.RunID, v.Family, v.Version, string(v.Stage), string(metricsJSON), v.CreatedAt.UTC(), v.PromotedAt)
	return err
}

func (s *Store) GetModelVersion(ctx context.Context, runID string) (*models.ModelVersion, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT run_id, family, version, stage, metrics_json, created_at, promoted_at
		FROM model_versions WHERE run_id = ?
	`, runID)
	return scanVersion(row)
}

// ProductionVersion returns the family's Production version, or
// ErrVersionNotFound when the family has no active version.
func (s *Store) ProductionVersion(ctx context.Context, family string) (*models.ModelVersion, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT run_id, family, version, stage, metrics_json, created_at, promoted_at
		FROM model_versions WHERE family = ? AND stage = ?
	`, family, string(models.StageProduction))
	return scanVersion(row)
}

func (s *Store) ListModelVersions(ctx context.Context, family string) ([]models.ModelVersion, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, family, version, stage, metrics_json, created_at, promoted_at
		FROM model_versions WHERE family = ? ORDER BY created_at ASC
	`, family)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ModelVersion
	for rows.Next() {
		var (
			v           models.ModelVersion
			stage       string
			metricsJSON string
		)
		if err := rows.Scan(&v.RunID, &v.Family, &v.Version, &stage, &metricsJSON, &v.CreatedAt, &v.PromotedAt); err != nil {
			return nil, err
		}
		v.Stage = models.Stage(stage)
		if err := json.Unmarshal([]byte(metricsJSON), &v.Metrics); err != nil {
			return nil, fmt.Errorf("unmarshal metrics for %s: %w", v.RunID, err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// isBusy reports whether err is SQLite refusing a write because another
// transaction holds the database. Under WAL with multiple connections the
// losing concurrent promotion surfaces this instead of reaching the
// RowsAffected guard.
func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked")
}

// promoteErr folds lost-write-race driver errors into the stage-conflict
// sentinel so callers see one conflict kind regardless of which guard fired.
func promoteErr(err error) error {
	if isBusy(err) {
		return fmt.Errorf("%w: %v", ErrStageConflict, err)
	}
	return err
}

// PromoteVersion atomically moves runID from Staging to Production and the
// family's prior Production version (if any) to Archived. The guarded
// UPDATE makes promotion single-winner: a concurrent promotion that already
// moved the candidate out of Staging causes ErrStageConflict.
func (s *Store) PromoteVersion(ctx context.Context, runID string, now time.Time) (prevRunID string, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", promoteErr(err)
	}
	defer tx.Rollback()

	var family, stage string
	err = tx.QueryRowContext(ctx,
		`SELECT family, stage FROM model_versions WHERE run_id = ?`, runID,
	).Scan(&family, &stage)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrVersionNotFound
	}
	if err != nil {
		return "", promoteErr(err)
	}
	if models.Stage(stage) != models.StageStaging {
		return "", fmt.Errorf("%w: %s is %s, want Staging", ErrStageConflict, runID, stage)
	}

	err = tx.QueryRowContext(ctx,
		`SELECT run_id FROM model_versions WHERE family = ? AND stage = ?`,
		family, string(models.StageProduction),
	).Scan(&prevRunID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return "", promoteErr(err)
	}

	if prevRunID != "" {
		res, err := tx.ExecContext(ctx,
			`UPDATE model_versions SET stage = ? WHERE run_id = ? AND stage = ?`,
			string(models.StageArchived), prevRunID, string(models.StageProduction))
		if err != nil {
			return "", promoteErr(err)
		}
		if n, _ := res.RowsAffected(); n != 1 {
			return "", fmt.Errorf("%w: production pointer for %s moved mid-promotion", ErrStageConflict, family)
		}
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE model_versions SET stage = ?, promoted_at = ? WHERE run_id = ? AND stage = ?`,
		string(models.StageProduction), now.UTC(), runID, string(models.StageStaging))
	if err != nil {
		return "", promoteErr(err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return "", fmt.Errorf("%w: %s left Staging mid-promotion", ErrStageConflict, runID)
	}

	if err := tx.Commit(); err != nil {
		return "", promoteErr(err)
	}
	return prevRunID, nil
}

// ArchiveVersion moves a single version to Archived regardless of its
// current stage. Archiving the Production version leaves the family with no
// active version.
func (s *Store) ArchiveVersion(ctx context.Context, runID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE model_versions SET stage = ? WHERE run_id = ? AND stage != ?`,
		string(models.StageArchived), runID, string(models.StageArchived))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// Either unknown or already archived; distinguish for the caller.
		var exists int
		if err := s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM model_versions WHERE run_id = ?`, runID).Scan(&exists); err != nil {
			return err
		}
		if exists == 0 {
			return ErrVersionNotFound
		}
	}
	return nil
}

func scanVersion(row *sql.Row) (*models.ModelVersion, error) {
	var (
		v           models.ModelVersion
		stage       string
		metricsJSON string
	)
	err := row.Scan(&v.RunID, &v.Family, &v.Version, &stage, &metricsJSON, &v.CreatedAt, &v.PromotedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrVersionNotFound
	}
	if err != nil {
		return nil, err
	}
	v.Stage = models.Stage(stage)
	if err := json.Unmarshal([]byte(metricsJSON), &v.Metrics); err != nil {
		return nil, fmt.Errorf("unmarshal metrics for %s: %w", v.RunID, err)
	}
	return &v, nil
}
