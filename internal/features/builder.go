package features

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/nimbusml/forecastd/internal/models"
)

// ErrInsufficientHistory is returned when a location has fewer than the
// minimum lag window of daily observations. Recoverable: callers may retry
// later or enable degraded mode.
var ErrInsufficientHistory = errors.New("insufficient observation history")

// ObservationSource is the read-only view of the observation store the
// builder needs.
type ObservationSource interface {
	QueryObservations(ctx context.Context, loc models.Location, from, to time.Time) ([]models.Observation, error)
}

type Config struct {
	Lags    []int
	Windows []int
	// MinHistoryDays is the minimum number of distinct observed days
	// required before the reference time.
	MinHistoryDays int
	// AllowDegraded keeps the schema fixed but marks unavailable lag and
	// rolling features Missing instead of rejecting the request.
	AllowDegraded bool
}

func DefaultConfig() Config {
	return Config{
		Lags:           DefaultLags,
		Windows:        DefaultWindows,
		MinHistoryDays: 7,
	}
}

// Builder derives per-day feature vectors from raw observation history.
type Builder struct {
	source ObservationSource
	cfg    Config
	schema *Schema
}

func NewBuilder(source ObservationSource, cfg Config) *Builder {
	if len(cfg.Lags) == 0 {
		cfg.Lags = DefaultLags
	}
	if len(cfg.Windows) == 0 {
		cfg.Windows = DefaultWindows
	}
	if cfg.MinHistoryDays == 0 {
		cfg.MinHistoryDays = 7
	}
	return &Builder{source: source, cfg: cfg, schema: NewSchema(cfg.Lags, cfg.Windows)}
}

func (b *Builder) Schema() *Schema { return b.schema }

// dailyRecord is the mean of each base reading across all observations
// (and sources) on one calendar day.
type dailyRecord struct {
	values  map[string]float64
	present map[string]bool
}

// Build produces one feature vector per forecast day 1..horizon. Only
// observations strictly before refTime are read, so no future data can leak
// into any vector. Lag and rolling features are anchored at the reference
// date for every horizon day; only the temporal encodings vary, which keeps
// all vectors derivable from committed history alone.
func (b *Builder) Build(ctx context.Context, loc models.Location, refTime time.Time, horizon int) ([]*Vector, error) {
	if horizon < 1 {
		return nil, fmt.Errorf("horizon must be >= 1, got %d", horizon)
	}

	refTime = refTime.UTC()
	refDate := time.Date(refTime.Year(), refTime.Month(), refTime.Day(), 0, 0, 0, 0, time.UTC)

	lookback := maxInt(b.cfg.Windows) + maxInt(b.cfg.Lags)
	from := refDate.AddDate(0, 0, -lookback)

	obs, err := b.source.QueryObservations(ctx, loc, from, refTime)
	if err != nil {
		return nil, fmt.Errorf("query observations: %w", err)
	}

	days := aggregateDaily(obs, refTime)
	if len(days) < b.cfg.MinHistoryDays && !b.cfg.AllowDegraded {
		return nil, fmt.Errorf("%w: %d days available, need %d", ErrInsufficientHistory, len(days), b.cfg.MinHistoryDays)
	}

	vectors := make([]*Vector, 0, horizon)
	for day := 1; day <= horizon; day++ {
		forecastDate := refDate.AddDate(0, 0, day)
		v := NewVector(b.schema)
		b.setTemporal(v, forecastDate)
		b.setLags(v, days, refDate)
		b.setRolling(v, days, refDate)
		b.setIndices(v)
		vectors = append(vectors, v)
	}
	return vectors, nil
}

// aggregateDaily collapses observations into per-day mean readings, keyed by
// UTC calendar day. Duplicate same-day rows from different sources average
// out. Observations at or after cutoff are dropped.
func aggregateDaily(obs []models.Observation, cutoff time.Time) map[time.Time]*dailyRecord {
	type acc struct {
		sum   map[string]float64
		count map[string]int
	}
	byDay := make(map[time.Time]*acc)

	for _, o := range obs {
		if !o.ObservedAt.Before(cutoff) {
			continue
		}
		t := o.ObservedAt.UTC()
		day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		a := byDay[day]
		if a == nil {
			a = &acc{sum: make(map[string]float64), count: make(map[string]int)}
			byDay[day] = a
		}
		for _, r := range []struct {
			col string
			val sql.NullFloat64
		}{
			{"temp_max", o.TempMax},
			{"temp_min", o.TempMin},
			{"humidity", o.Humidity},
			{"pressure", o.Pressure},
			{"wind_speed", o.WindSpeed},
			{"precipitation", o.Precipitation},
		} {
			if r.val.Valid {
				a.sum[r.col] += r.val.Float64
				a.count[r.col]++
			}
		}
	}

	days := make(map[time.Time]*dailyRecord, len(byDay))
	for day, a := range byDay {
		rec := &dailyRecord{values: make(map[string]float64), present: make(map[string]bool)}
		for col, n := range a.count {
			if n > 0 {
				rec.values[col] = a.sum[col] / float64(n)
				rec.present[col] = true
			}
		}
		days[day] = rec
	}
	return days
}

// setTemporal encodes the forecast date. Sine/cosine pairs keep period
// boundaries (Dec 31 -> Jan 1) continuous.
func (b *Builder) setTemporal(v *Vector, date time.Time) {
	doy := float64(date.YearDay())
	dow := float64((int(date.Weekday()) + 6) % 7) // Monday=0
	month := float64(date.Month())
	_, week := date.ISOWeek()

	v.Set("day_of_year", doy)
	v.Set("day_of_week", dow)
	v.Set("month", month)
	v.Set("quarter", math.Ceil(month/3))
	v.Set("week_of_year", float64(week))
	if dow >= 5 {
		v.Set("is_weekend", 1)
	} else {
		v.Set("is_weekend", 0)
	}
	v.Set("sin_day", math.Sin(2*math.Pi*doy/365))
	v.Set("cos_day", math.Cos(2*math.Pi*doy/365))
	v.Set("sin_month", math.Sin(2*math.Pi*month/12))
	v.Set("cos_month", math.Cos(2*math.Pi*month/12))
	v.Set("sin_dow", math.Sin(2*math.Pi*dow/7))
	v.Set("cos_dow", math.Cos(2*math.Pi*dow/7))
}

func (b *Builder) setLags(v *Vector, days map[time.Time]*dailyRecord, refDate time.Time) {
	for _, col := range BaseColumns {
		for _, lag := range b.cfg.Lags {
			name := fmt.Sprintf("%s_lag_%d", col, lag)
			day := refDate.AddDate(0, 0, -lag)
			if rec, ok := days[day]; ok && rec.present[col] {
				v.Set(name, rec.values[col])
			} else {
				v.SetMissing(name)
			}
		}
	}
}

// setRolling computes statistics over the most recent N calendar days ending
// strictly before the reference date. A window short of its size is Missing,
// never a biased partial statistic.
func (b *Builder) setRolling(v *Vector, days map[time.Time]*dailyRecord, refDate time.Time) {
	for _, col := range BaseColumns {
		for _, w := range b.cfg.Windows {
			var vals []float64
			for i := 1; i <= w; i++ {
				day := refDate.AddDate(0, 0, -i)
				if rec, ok := days[day]; ok && rec.present[col] {
					vals = append(vals, rec.values[col])
				}
			}
			if len(vals) < w {
				for _, stat := range rollingStats {
					v.SetMissing(fmt.Sprintf("%s_roll_%s_%d", col, stat, w))
				}
				continue
			}
			mean, std, min, max := summarize(vals)
			v.Set(fmt.Sprintf("%s_roll_mean_%d", col, w), mean)
			v.Set(fmt.Sprintf("%s_roll_std_%d", col, w), std)
			v.Set(fmt.Sprintf("%s_roll_min_%d", col, w), min)
			v.Set(fmt.Sprintf("%s_roll_max_%d", col, w), max)
		}
	}
}

// setIndices derives weather indices from the lag-1 readings.
func (b *Builder) setIndices(v *Vector) {
	tmax, okMax := v.Get("temp_max_lag_1")
	tmin, okMin := v.Get("temp_min_lag_1")
	hum, okHum := v.Get("humidity_lag_1")
	wind, okWind := v.Get("wind_speed_lag_1")

	if okMax && okHum {
		v.Set("heat_index", heatIndex(tmax, hum))
	} else {
		v.SetMissing("heat_index")
	}
	if okMax && okMin {
		v.Set("temp_range", tmax-tmin)
		v.Set("temp_avg", (tmax+tmin)/2)
	} else {
		v.SetMissing("temp_range")
		v.SetMissing("temp_avg")
	}
	if okMin && okWind {
		v.Set("wind_chill", windChill(tmin, wind))
	} else {
		v.SetMissing("wind_chill")
	}
}

// heatIndex is the Rothfusz regression over temperature and relative
// humidity, in metric units.
func heatIndex(t, h float64) float64 {
	return -8.78469475556 +
		1.61139411*t +
		2.33854883889*h -
		0.14611605*t*h -
		0.012308094*t*t -
		0.0164248277778*h*h +
		0.002211732*t*t*h +
		0.00072546*t*h*h -
		0.000003582*t*t*h*h
}

func windChill(t, windKmh float64) float64 {
	w := math.Pow(windKmh, 0.16)
	return 13.12 + 0.6215*t - 11.37*w + 0.3965*t*w
}

// summarize returns mean, sample standard deviation, min and max.
func summarize(vals []float64) (mean, std, min, max float64) {
	min = vals[0]
	max = vals[0]
	for _, x := range vals {
		mean += x
		if x < min {
			min = x
		}
		if x > max {
			max = x
		}
	}
	mean /= float64(len(vals))
	if len(vals) > 1 {
		var ss float64
		for _, x := range vals {
			d := x - mean
			ss += d * d
		}
		std = math.Sqrt(ss / float64(len(vals)-1))
	}
	return mean, std, min, max
}

func maxInt(xs []int) int {
	m := xs[0]
	for _, x := range xs {
		if x > m {
			m = x
		}
	}
	return m
}
