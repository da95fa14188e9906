package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/comfortindex/comfort-dashboard/internal/cache"
	"github.com/comfortindex/comfort-dashboard/internal/models"
)

// slowWeatherClient delays every fetch so concurrent misses overlap.
type slowWeatherClient struct {
	mockWeatherClient
	delay time.Duration
}

func (s *slowWeatherClient) GetCityWeather(ctx context.Context, cityCode string) (models.CityObservation, error) {
	time.Sleep(s.delay)
	return s.mockWeatherClient.GetCityWeather(ctx, cityCode)
}

// TestGet_CoalescesConcurrentMisses verifies that concurrent Gets during one
// cache-miss window share a single refresh instead of each fetching every
// city.
func TestGet_CoalescesConcurrentMisses(t *testing.T) {
	mock := &slowWeatherClient{
		mockWeatherClient: mockWeatherClient{observations: threeObservations},
		delay:             20 * time.Millisecond,
	}
	p := New(mock, cache.NewInMemoryCache(), threeCities, 5*time.Minute, zap.NewNop(), true, 5*time.Second)

	const concurrent = 8
	results := make([][]models.ScoredCity, concurrent)
	errs := make([]error, concurrent)

	var wg sync.WaitGroup
	for i := 0; i < concurrent; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = p.Get(context.Background())
		}(i)
	}
	wg.Wait()

	for i := 0; i < concurrent; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, results[0], results[i], "all callers must see the same batch")
	}
	assert.Equal(t, len(threeCities), mock.callCount(),
		"one shared refresh: exactly one upstream call per city")
}

// TestGetOrDo_SequentialCallsDoNotCoalesce verifies that a completed refresh
// is not reused by a later call.
func TestGetOrDo_SequentialCallsDoNotCoalesce(t *testing.T) {
	rc := newRefreshCoalescer(time.Second)
	runs := 0
	fn := func() ([]models.ScoredCity, error) {
		runs++
		return nil, nil
	}

	_, err := rc.GetOrDo(context.Background(), "k", fn)
	require.NoError(t, err)
	_, err = rc.GetOrDo(context.Background(), "k", fn)
	require.NoError(t, err)

	assert.Equal(t, 2, runs)
}

// TestGetOrDo_WaiterTimeout verifies a waiter is released with an error when
// the refresh outlives the coalescer timeout.
func TestGetOrDo_WaiterTimeout(t *testing.T) {
	rc := newRefreshCoalescer(10 * time.Millisecond)
	release := make(chan struct{})
	defer close(release)

	go func() {
		_, _ = rc.GetOrDo(context.Background(), "k", func() ([]models.ScoredCity, error) {
			<-release
			return nil, nil
		})
	}()
	time.Sleep(2 * time.Millisecond) // let the first caller register

	_, err := rc.GetOrDo(context.Background(), "k", func() ([]models.ScoredCity, error) {
		t.Error("second caller must join the in-flight refresh, not start one")
		return nil, nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
