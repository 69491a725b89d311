package features

import "fmt"

// BaseColumns are the raw observation readings features are derived from.
var BaseColumns = []string{"temp_max", "temp_min", "humidity", "pressure", "wind_speed", "precipitation"}

// Lag offsets and rolling windows, in days.
var (
	DefaultLags    = []int{1, 2, 3, 7}
	DefaultWindows = []int{3, 7, 14}
)

var temporalNames = []string{
	"day_of_year", "day_of_week", "month", "quarter", "week_of_year", "is_weekend",
	"sin_day", "cos_day", "sin_month", "cos_month", "sin_dow", "cos_dow",
}

var rollingStats = []string{"mean", "std", "min", "max"}

var indexNames = []string{"heat_index", "temp_range", "temp_avg", "wind_chill"}

// Schema is the fixed ordered set of derived features a model version
// expects. A version pins its schema; vector length and field order never
// vary for a given schema.
type Schema struct {
	names []string
	index map[string]int
}

// NewSchema builds the canonical schema for the given lags and windows.
func NewSchema(lags, windows []int) *Schema {
	var names []string
	names = append(names, temporalNames...)
	for _, col := range BaseColumns {
		for _, lag := range lags {
			names = append(names, fmt.Sprintf("%s_lag_%d", col, lag))
		}
	}
	for _, col := range BaseColumns {
		for _, w := range windows {
			for _, stat := range rollingStats {
				names = append(names, fmt.Sprintf("%s_roll_%s_%d", col, stat, w))
			}
		}
	}
	names = append(names, indexNames...)
	return newSchemaFromNames(names)
}

// SchemaFromNames reconstructs a schema pinned in a model artifact.
func SchemaFromNames(names []string) *Schema {
	return newSchemaFromNames(append([]string(nil), names...))
}

func newSchemaFromNames(names []string) *Schema {
	idx := make(map[string]int, len(names))
	for i, n := range names {
		idx[n] = i
	}
	return &Schema{names: names, index: idx}
}

func (s *Schema) Len() int { return len(s.names) }

func (s *Schema) Names() []string {
	return append([]string(nil), s.names...)
}

func (s *Schema) Index(name string) (int, bool) {
	i, ok := s.index[name]
	return i, ok
}

// Equal reports whether both schemas have identical names in identical
// order.
func (s *Schema) Equal(other *Schema) bool {
	if s.Len() != other.Len() {
		return false
	}
	for i, n := range s.names {
		if other.names[i] != n {
			return false
		}
	}
	return true
}

// Vector is a single day's feature values in schema order. Missing marks
// features that could not be derived (short rolling window, absent reading)
// so they are explicit rather than silently zero.
type Vector struct {
	Schema  *Schema
	Values  []float64
	Missing []bool
}

func NewVector(schema *Schema) *Vector {
	return &Vector{
		Schema:  schema,
		Values:  make([]float64, schema.Len()),
		Missing: make([]bool, schema.Len()),
	}
}

func (v *Vector) Set(name string, value float64) {
	if i, ok := v.Schema.Index(name); ok {
		v.Values[i] = value
		v.Missing[i] = false
	}
}

func (v *Vector) SetMissing(name string) {
	if i, ok := v.Schema.Index(name); ok {
		v.Values[i] = 0
		v.Missing[i] = true
	}
}

// Get returns the value and whether it is present.
func (v *Vector) Get(name string) (float64, bool) {
	i, ok := v.Schema.Index(name)
	if !ok {
		return 0, false
	}
	return v.Values[i], !v.Missing[i]
}
