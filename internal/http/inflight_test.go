package http

import (
	"context"
	"sync"
	"testing"
	"time"
)

// TestInFlightTracker_Counting verifies increments and decrements balance.
func TestInFlightTracker_Counting(t *testing.T) {
	tracker := &InFlightTracker{}

	tracker.Increment()
	tracker.Increment()
	if got := tracker.Count(); got != 2 {
		t.Errorf("Count() = %d, want 2", got)
	}
	tracker.Decrement()
	tracker.Decrement()
	if got := tracker.Count(); got != 0 {
		t.Errorf("Count() = %d, want 0", got)
	}
}

// TestInFlightTracker_Concurrent verifies the counter under concurrent use.
func TestInFlightTracker_Concurrent(t *testing.T) {
	tracker := &InFlightTracker{}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tracker.Increment()
			tracker.Decrement()
		}()
	}
	wg.Wait()
	if got := tracker.Count(); got != 0 {
		t.Errorf("Count() after balanced ops = %d, want 0", got)
	}
}

// TestWaitForZero_ReturnsWhenDrained verifies the wait ends once the last
// request completes.
func TestWaitForZero_ReturnsWhenDrained(t *testing.T) {
	tracker := &InFlightTracker{}
	tracker.Increment()

	go func() {
		time.Sleep(20 * time.Millisecond)
		tracker.Decrement()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := tracker.WaitForZero(ctx, 5*time.Millisecond); err != nil {
		t.Errorf("WaitForZero() error = %v, want nil", err)
	}
}

// TestWaitForZero_ContextCancelled verifies the wait gives up when ctx ends
// before the count drains.
func TestWaitForZero_ContextCancelled(t *testing.T) {
	tracker := &InFlightTracker{}
	tracker.Increment() // never decremented

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := tracker.WaitForZero(ctx, 5*time.Millisecond); err != context.DeadlineExceeded {
		t.Errorf("WaitForZero() error = %v, want context.DeadlineExceeded", err)
	}
}
