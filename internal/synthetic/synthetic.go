// Package synthetic generates seasonal observation history and a small
// serving artifact so a fresh database can serve forecasts locally without
// a real training run.
package synthetic

import (
	"database/sql"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/nimbusml/forecastd/internal/artifact"
	"github.com/nimbusml/forecastd/internal/drift"
	"github.com/nimbusml/forecastd/internal/features"
	"github.com/nimbusml/forecastd/internal/models"
)

// Observations produces one observation per day ending the day before end,
// with seasonal structure plus noise. Deterministic for a given seed.
func Observations(loc models.Location, days int, end time.Time, source string, seed int64) []models.Observation {
	rng := rand.New(rand.NewSource(seed))
	end = end.UTC()
	endDate := time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, time.UTC)

	out := make([]models.Observation, 0, days)
	for i := days; i >= 1; i-- {
		day := endDate.AddDate(0, 0, -i)
		doy := float64(day.YearDay())

		seasonalTemp := 15 * math.Sin(2*math.Pi*(doy-80)/365)
		seasonalPrecip := 3 + 2*math.Sin(2*math.Pi*(doy-30)/365)

		tempMax := seasonalTemp + 20 + rng.NormFloat64()*3
		tempMin := seasonalTemp + 10 + rng.NormFloat64()*2
		if tempMin > tempMax {
			tempMax, tempMin = tempMin, tempMax
		}
		precip := math.Abs(seasonalPrecip + rng.ExpFloat64()*2)
		if precip < 1 {
			precip = 0
		}

		out = append(out, models.Observation{
			Latitude:      loc.Latitude,
			Longitude:     loc.Longitude,
			ObservedAt:    day.Add(12 * time.Hour),
			TempMax:       sql.NullFloat64{Float64: round1(tempMax), Valid: true},
			TempMin:       sql.NullFloat64{Float64: round1(tempMin), Valid: true},
			Humidity:      sql.NullFloat64{Float64: clamp(60+seasonalPrecip*5+rng.NormFloat64()*10, 20, 100), Valid: true},
			Pressure:      sql.NullFloat64{Float64: round1(1013 + rng.NormFloat64()*8), Valid: true},
			WindSpeed:     sql.NullFloat64{Float64: math.Abs(round1(15 + rng.NormFloat64()*8)), Valid: true},
			Precipitation: sql.NullFloat64{Float64: round1(precip), Valid: true},
			CloudCover:    sql.NullFloat64{Float64: clamp(50+rng.NormFloat64()*25, 0, 100), Valid: true},
			Source:        source,
		})
	}
	return out
}

// DemoArtifact builds a minimal three-constituent artifact whose trees
// predict around each target's climatology, splitting on the target's lag-1
// feature. Good enough to exercise the full serving path.
func DemoArtifact(runID string, schema *features.Schema, obs []models.Observation) (*artifact.Artifact, error) {
	values := targetValues(obs)

	gbtA := artifact.Model{Kind: artifact.KindGBT, Targets: map[string]artifact.TargetModel{}}
	gbtB := artifact.Model{Kind: artifact.KindGBT, Targets: map[string]artifact.TargetModel{}}
	rfC := artifact.Model{Kind: artifact.KindRF, Targets: map[string]artifact.TargetModel{}}
	reference := make(map[string]artifact.Histogram)

	for _, target := range models.Targets {
		vals := values[target]
		if len(vals) == 0 {
			return nil, fmt.Errorf("no observed values for target %s", target)
		}
		mean, spread := meanSpread(vals)

		lagIdx, ok := schema.Index(fmt.Sprintf("%s_lag_1", target))
		if !ok {
			return nil, fmt.Errorf("schema missing %s_lag_1", target)
		}
		stump := func(delta float64) artifact.Tree {
			return artifact.Tree{Nodes: []artifact.TreeNode{
				{Feature: lagIdx, Threshold: mean, Left: 1, Right: 2, DefaultLeft: true},
				{Leaf: true, Value: -delta},
				{Leaf: true, Value: delta},
			}}
		}

		gbtA.Targets[target] = artifact.TargetModel{Base: mean, Shrinkage: 1, Trees: []artifact.Tree{stump(spread * 0.5)}}
		gbtB.Targets[target] = artifact.TargetModel{Base: mean, Shrinkage: 0.5, Trees: []artifact.Tree{stump(spread * 0.8)}}
		rfC.Targets[target] = artifact.TargetModel{Trees: []artifact.Tree{
			{Nodes: []artifact.TreeNode{
				{Feature: lagIdx, Threshold: mean, Left: 1, Right: 2, DefaultLeft: true},
				{Leaf: true, Value: mean - spread*0.4},
				{Leaf: true, Value: mean + spread*0.4},
			}},
		}}
	}

	for col, vals := range baseValues(obs) {
		if len(vals) >= 2 {
			reference[col] = drift.NewHistogram(vals, 10)
		}
	}

	return &artifact.Artifact{
		RunID:     runID,
		Schema:    schema.Names(),
		Reference: reference,
		Models: map[string]artifact.Model{
			artifact.ModelGBTA: gbtA,
			artifact.ModelGBTB: gbtB,
			artifact.ModelRFC:  rfC,
		},
	}, nil
}

// DemoMetrics are gate-passing validation metrics for a demo registration.
func DemoMetrics() map[string]models.TargetMetrics {
	out := make(map[string]models.TargetMetrics, len(models.Targets))
	for _, target := range models.Targets {
		out[target] = models.TargetMetrics{RMSE: 2.0, MAE: 1.4, R2: 0.90}
	}
	return out
}

func targetValues(obs []models.Observation) map[string][]float64 {
	return collect(obs, models.Targets)
}

func baseValues(obs []models.Observation) map[string][]float64 {
	return collect(obs, features.BaseColumns)
}

func collect(obs []models.Observation, cols []string) map[string][]float64 {
	out := make(map[string][]float64, len(cols))
	for _, o := range obs {
		for _, c := range cols {
			if v, ok := reading(o, c); ok {
				out[c] = append(out[c], v)
			}
		}
	}
	return out
}

func reading(o models.Observation, col string) (float64, bool) {
	var nv sql.NullFloat64
	switch col {
	case "temp_max":
		nv = o.TempMax
	case "temp_min":
		nv = o.TempMin
	case "humidity":
		nv = o.Humidity
	case "pressure":
		nv = o.Pressure
	case "wind_speed":
		nv = o.WindSpeed
	case "precipitation":
		nv = o.Precipitation
	}
	return nv.Float64, nv.Valid
}

func meanSpread(vals []float64) (mean, spread float64) {
	for _, v := range vals {
		mean += v
	}
	mean /= float64(len(vals))
	var ss float64
	for _, v := range vals {
		d := v - mean
		ss += d * d
	}
	spread = math.Sqrt(ss / float64(len(vals)))
	return mean, spread
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
