package availability

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func fixedClock(t *time.Time) func() time.Time {
	return func() time.Time { return *t }
}

func TestLookupFailsOpenBeforeFirstSync(t *testing.T) {
	c := New(time.Minute, func(ctx context.Context) (map[string]bool, error) {
		return nil, errors.New("unreachable")
	}, nil)

	if !c.Lookup("any-model") {
		t.Error("never-synced cache should fail open")
	}
}

func TestLookupReflectsSnapshot(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	c := New(time.Minute, func(ctx context.Context) (map[string]bool, error) {
		return map[string]bool{"up-model": true, "down-model": false}, nil
	}, fixedClock(&now))

	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	if !c.Lookup("up-model") {
		t.Error("up-model should be reachable")
	}
	if c.Lookup("down-model") {
		t.Error("down-model should be unreachable")
	}
	if !c.Lookup("unknown-model") {
		t.Error("model absent from the snapshot should fail open")
	}
}

func TestLookupFailsOpenWhenStale(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	c := New(time.Minute, func(ctx context.Context) (map[string]bool, error) {
		return map[string]bool{"down-model": false}, nil
	}, fixedClock(&now))

	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if c.Lookup("down-model") {
		t.Error("fresh snapshot should report down-model unreachable")
	}

	now = now.Add(2 * time.Minute)
	if !c.Lookup("down-model") {
		t.Error("stale snapshot should fail open")
	}
	if !c.Stale() {
		t.Error("cache should report stale past the TTL")
	}
}

func TestRefreshErrorKeepsOldSnapshot(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	healthy := true
	c := New(time.Minute, func(ctx context.Context) (map[string]bool, error) {
		if !healthy {
			return nil, errors.New("sync failed")
		}
		return map[string]bool{"down-model": false}, nil
	}, fixedClock(&now))

	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	healthy = false
	if err := c.Refresh(context.Background()); err == nil {
		t.Fatal("expected refresh error")
	}
	if c.Lookup("down-model") {
		t.Error("failed refresh should not clobber the previous snapshot")
	}
}

func TestConcurrentRefreshSingleFlight(t *testing.T) {
	var calls int
	var mu sync.Mutex
	started := make(chan struct{})
	release := make(chan struct{})

	c := New(time.Minute, func(ctx context.Context) (map[string]bool, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		close(started)
		<-release
		return map[string]bool{}, nil
	}, nil)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.Refresh(context.Background())
	}()

	<-started
	// A second refresh while one is in flight returns immediately.
	if err := c.Refresh(context.Background()); err != nil {
		t.Errorf("overlapping refresh: %v", err)
	}
	close(release)
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Errorf("sync calls = %d, want 1", calls)
	}
}
