// Package pipeline orchestrates the fetch -> score -> rank -> cache cycle
// over the configured city list.
package pipeline

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/comfortindex/comfort-dashboard/internal/cache"
	"github.com/comfortindex/comfort-dashboard/internal/client"
	"github.com/comfortindex/comfort-dashboard/internal/comfort"
	"github.com/comfortindex/comfort-dashboard/internal/models"
	"github.com/comfortindex/comfort-dashboard/internal/observability"
)

// batchKey is the single cache key for the all-cities batch. The batch is
// always written and read wholesale.
const batchKey = "cities:all"

// Pipeline produces ranked comfort batches. Per-city fetch failures are
// recovered by omission: a city whose fetch fails is dropped from the batch
// and the run continues.
type Pipeline struct {
	client    client.WeatherClient
	cache     cache.Cache
	cities    []models.City
	ttl       time.Duration
	logger    *zap.Logger
	coalescer *refreshCoalescer // nil when coalescing disabled
}

// New creates a Pipeline over the given ordered city list. ttl is the cache
// lifetime of one batch. Coalescing, when enabled, lets concurrent cache
// misses share a single refresh.
func New(weatherClient client.WeatherClient, cacheSvc cache.Cache, cities []models.City, ttl time.Duration, logger *zap.Logger, coalesceEnabled bool, coalesceTimeout time.Duration) *Pipeline {
	var coalescer *refreshCoalescer
	if coalesceEnabled && coalesceTimeout > 0 {
		coalescer = newRefreshCoalescer(coalesceTimeout)
	}
	return &Pipeline{
		client:    weatherClient,
		cache:     cacheSvc,
		cities:    cities,
		ttl:       ttl,
		logger:    logger,
		coalescer: coalescer,
	}
}

// Get returns the current ranked batch, serving from cache when a fresh
// entry exists and refreshing otherwise. A cached batch is returned exactly
// as stored: no re-fetch, no re-ranking.
func (p *Pipeline) Get(ctx context.Context) ([]models.ScoredCity, error) {
	cached, ok, err := p.cache.Get(ctx, batchKey)
	if err != nil {
		observability.CacheErrorsTotal.WithLabelValues("get").Inc()
		p.logger.Warn("cache get failed, refreshing", zap.Error(err))
	} else if ok {
		observability.CacheHitsTotal.Inc()
		p.logger.Debug("serving ranked batch from cache", zap.Int("cities", len(cached)))
		return cached, nil
	}

	if p.coalescer != nil {
		return p.coalescer.GetOrDo(ctx, batchKey, func() ([]models.ScoredCity, error) {
			return p.Refresh(context.WithoutCancel(ctx))
		})
	}
	return p.Refresh(ctx)
}

// Refresh fetches every configured city in order, scores and ranks the
// successful observations, caches the batch under the fixed key, and returns
// it. An unreachable city is logged and omitted; only cancellation of the
// run itself aborts the batch.
func (p *Pipeline) Refresh(ctx context.Context) ([]models.ScoredCity, error) {
	start := time.Now()
	p.logger.Info("refreshing ranked batch", zap.Int("cities", len(p.cities)))

	scored := make([]models.ScoredCity, 0, len(p.cities))
	for _, city := range p.cities {
		obs, err := p.client.GetCityWeather(ctx, city.Code)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("refresh aborted: %w", ctx.Err())
			}
			observability.PipelineCitiesSkippedTotal.Inc()
			p.logger.Warn("city fetch failed, omitting from batch",
				zap.String("city", city.Name),
				zap.String("city_code", city.Code),
				zap.Error(err))
			continue
		}

		// The configured display name wins over whatever the provider returns.
		obs.CityName = city.Name

		score := comfort.Score(obs.Temperature, obs.Humidity, obs.WindSpeed)
		observability.CityComfortScore.WithLabelValues(city.Name).Set(score)
		scored = append(scored, models.ScoredCity{
			CityObservation: obs,
			ComfortScore:    score,
		})
	}

	// Stable sort: equal scores keep configured city order.
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].ComfortScore > scored[j].ComfortScore
	})
	for i := range scored {
		scored[i].Rank = i + 1
	}

	if err := p.cache.Set(ctx, batchKey, scored, p.ttl); err != nil {
		observability.CacheErrorsTotal.WithLabelValues("set").Inc()
		p.logger.Warn("cache set failed", zap.Error(err))
	}

	observability.PipelineRefreshTotal.Inc()
	observability.PipelineRefreshDuration.Observe(time.Since(start).Seconds())
	p.logger.Info("ranked batch refreshed",
		zap.Int("ranked", len(scored)),
		zap.Int("skipped", len(p.cities)-len(scored)),
		zap.Duration("duration", time.Since(start)))
	return scored, nil
}
