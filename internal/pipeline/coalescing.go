package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/comfortindex/comfort-dashboard/internal/models"
)

// inFlightRefresh tracks one running refresh that multiple callers wait on.
type inFlightRefresh struct {
	mu      sync.Mutex
	result  []models.ScoredCity
	err     error
	done    bool
	waiters []chan struct{}
}

// refreshCoalescer de-duplicates concurrent refreshes for the same key:
// during a cache-miss window every caller shares the one in-flight refresh
// instead of each hitting the upstream per city.
type refreshCoalescer struct {
	mu       sync.Mutex
	inFlight map[string]*inFlightRefresh
	timeout  time.Duration
}

func newRefreshCoalescer(timeout time.Duration) *refreshCoalescer {
	return &refreshCoalescer{
		inFlight: make(map[string]*inFlightRefresh),
		timeout:  timeout,
	}
}

// GetOrDo joins an in-flight refresh for key when one exists, otherwise
// starts fn and registers it. Waiting is bounded by the coalescer timeout
// and the caller's context.
func (rc *refreshCoalescer) GetOrDo(ctx context.Context, key string, fn func() ([]models.ScoredCity, error)) ([]models.ScoredCity, error) {
	rc.mu.Lock()
	ref, exists := rc.inFlight[key]
	if exists {
		rc.mu.Unlock()
		return rc.wait(ctx, ref)
	}

	ref = &inFlightRefresh{}
	rc.inFlight[key] = ref
	rc.mu.Unlock()

	go func() {
		result, err := fn()

		ref.mu.Lock()
		ref.result = result
		ref.err = err
		ref.done = true
		waiters := ref.waiters
		ref.waiters = nil
		ref.mu.Unlock()

		for _, notify := range waiters {
			close(notify)
		}

		rc.mu.Lock()
		delete(rc.inFlight, key)
		rc.mu.Unlock()
	}()

	return rc.wait(ctx, ref)
}

// wait blocks until the refresh completes, the coalescer timeout fires, or
// ctx is cancelled.
func (rc *refreshCoalescer) wait(ctx context.Context, ref *inFlightRefresh) ([]models.ScoredCity, error) {
	ref.mu.Lock()
	if ref.done {
		result, err := ref.result, ref.err
		ref.mu.Unlock()
		return result, err
	}
	notify := make(chan struct{})
	ref.waiters = append(ref.waiters, notify)
	ref.mu.Unlock()

	waitCtx, cancel := context.WithTimeout(ctx, rc.timeout)
	defer cancel()
	select {
	case <-notify:
		ref.mu.Lock()
		result, err := ref.result, ref.err
		ref.mu.Unlock()
		return result, err
	case <-waitCtx.Done():
		return nil, waitCtx.Err()
	}
}
