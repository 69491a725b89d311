package models

import (
	"database/sql"
	"fmt"
	"time"
)

// CoordPrecision is the number of decimal places locations are rounded to
// for cache keys and prediction logs (~11m at the equator).
const CoordPrecision = 4

type Location struct {
	Latitude  float64
	Longitude float64
}

// Key returns the location rounded to CoordPrecision as a stable string.
func (l Location) Key() string {
	return fmt.Sprintf("%.4f,%.4f", l.Latitude, l.Longitude)
}

type Observation struct {
	ID            int64
	Latitude      float64
	Longitude     float64
	ObservedAt    time.Time
	TempMax       sql.NullFloat64
	TempMin       sql.NullFloat64
	Humidity      sql.NullFloat64
	Pressure      sql.NullFloat64
	WindSpeed     sql.NullFloat64
	Precipitation sql.NullFloat64
	CloudCover    sql.NullFloat64
	Condition     sql.NullString
	Source        string
	CreatedAt     time.Time
}

// Stage is a model version's lifecycle stage. Exactly one version per
// family may hold StageProduction at any time.
type Stage string

const (
	StageStaging    Stage = "Staging"
	StageProduction Stage = "Production"
	StageArchived   Stage = "Archived"
)

// Targets are the quantities each model version predicts, in output order.
var Targets = []string{"temp_max", "temp_min", "precipitation", "humidity", "wind_speed"}

// TargetMetrics holds validation metrics for a single predicted target.
type TargetMetrics struct {
	RMSE float64 `json:"rmse"`
	MAE  float64 `json:"mae"`
	R2   float64 `json:"r2"`
}

type ModelVersion struct {
	RunID      string
	Family     string
	Version    string
	Stage      Stage
	Metrics    map[string]TargetMetrics
	CreatedAt  time.Time
	PromotedAt sql.NullTime
}

// DayForecast is one day of ensemble output.
type DayForecast struct {
	Date          time.Time          `json:"date"`
	Targets       map[string]float64 `json:"targets"`
	Condition     string             `json:"condition"`
	ConditionText string             `json:"condition_text"`
}

type PredictionRecord struct {
	RequestID string
	Latitude  float64
	Longitude float64
	Horizon   int
	RunID     string
	Payload   string // JSON, one entry per day per target
	LatencyMS float64
	CreatedAt time.Time
}

type DriftReport struct {
	Date      time.Time
	Feature   string
	Score     float64
	IsDrifted bool
	Threshold float64
	CreatedAt time.Time
}
