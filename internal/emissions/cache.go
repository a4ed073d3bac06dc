package emissions

import (
	"context"
	"strconv"
	"time"

	"github.com/safmarket/saf-backend/internal/flights"
	"github.com/safmarket/saf-backend/pkg/logger"
	"github.com/safmarket/saf-backend/pkg/metrics"
	"github.com/safmarket/saf-backend/pkg/redis"
)

type cacheStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	CacheKey(scope string, parts ...string) string
}

// CachedOracle memoizes oracle lookups in redis. Cache failures never fail a
// lookup.
type CachedOracle struct {
	next    Oracle
	cache   cacheStore
	ttl     time.Duration
	logg    *logger.Logger
	metrics *metrics.DependencyMetrics
}

func NewCachedOracle(next Oracle, cache cacheStore, ttl time.Duration, logg *logger.Logger, m *metrics.DependencyMetrics) *CachedOracle {
	if logg == nil {
		logg = logger.Nop()
	}
	return &CachedOracle{next: next, cache: cache, ttl: ttl, logg: logg, metrics: m}
}

func (o *CachedOracle) FlightEmissions(ctx context.Context, flight flights.Details) (float64, error) {
	key := ""
	if o.cache != nil && o.ttl > 0 {
		key = o.cache.CacheKey("emissions", flight.FlightNumber, flight.DepartureAirport, flight.ArrivalAirport, flight.DateString(), flight.AircraftType)
		raw, err := o.cache.Get(ctx, key)
		switch {
		case err == nil:
			if value, parseErr := strconv.ParseFloat(raw, 64); parseErr == nil && value > 0 {
				return value, nil
			}
		case !redis.IsMiss(err):
			o.logg.Error(ctx, "emissions cache read failed", err)
		}
	}

	start := time.Now()
	value, err := o.next.FlightEmissions(ctx, flight)
	o.metrics.Observe("emissions_oracle", "flight_emissions", err, time.Since(start))
	if err != nil {
		return 0, err
	}

	if key != "" {
		if err := o.cache.Set(ctx, key, strconv.FormatFloat(value, 'f', -1, 64), o.ttl); err != nil {
			o.logg.Error(ctx, "emissions cache write failed", err)
		}
	}
	return value, nil
}
