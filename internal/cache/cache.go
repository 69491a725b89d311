// Package cache memoizes ensemble output per (location, horizon,
// model-version) key. The version id in the key makes promotion
// invalidation structural: entries for a demoted version simply become
// unreachable and age out. The cache is a latency optimization only; a miss
// or a backend failure never changes what gets served.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/nimbusml/forecastd/internal/models"
)

// Cache is safe for concurrent use. Backends degrade failures to misses.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)
}

// Key builds the cache key for a request. Location is rounded to the fixed
// coordinate precision so nearby requests share entries.
func Key(loc models.Location, horizon int, runID string) string {
	return fmt.Sprintf("forecast:%s:h%d:%s", loc.Key(), horizon, runID)
}
