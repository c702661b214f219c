package storage

import (
	"context"
	"sync"
	"testing"
	"time"

	"mercator-hq/saturn/pkg/rate"
)

// testClock pins a backend to a controllable clock.
func testClock(start time.Time) (*time.Time, func() time.Time) {
	current := start
	return &current, func() time.Time { return current }
}

func TestMemoryBackend_FixedWindow_CheckAndIncrement(t *testing.T) {
	backend := NewMemoryBackend(FixedWindow)
	defer backend.Close()

	ctx := context.Background()
	item := rate.Item{Amount: 2, Multiples: 1, Granularity: rate.Second}

	for i := 0; i < 2; i++ {
		ok, err := backend.CheckAndIncrement(ctx, "client-1", item)
		if err != nil {
			t.Fatalf("CheckAndIncrement failed: %v", err)
		}
		if !ok {
			t.Fatalf("hit %d denied, expected admitted", i+1)
		}
	}

	ok, err := backend.CheckAndIncrement(ctx, "client-1", item)
	if err != nil {
		t.Fatalf("CheckAndIncrement failed: %v", err)
	}
	if ok {
		t.Error("Expected third hit to be denied")
	}

	// A different key is unaffected.
	ok, err = backend.CheckAndIncrement(ctx, "client-2", item)
	if err != nil {
		t.Fatalf("CheckAndIncrement failed: %v", err)
	}
	if !ok {
		t.Error("Expected hit for different key to be admitted")
	}
}

func TestMemoryBackend_FixedWindow_Reset(t *testing.T) {
	backend := NewMemoryBackend(FixedWindow)
	defer backend.Close()

	current, clock := testClock(time.Now())
	backend.now = clock

	ctx := context.Background()
	item := rate.Item{Amount: 1, Multiples: 1, Granularity: rate.Second}

	ok, _ := backend.CheckAndIncrement(ctx, "client-1", item)
	if !ok {
		t.Fatal("Expected first hit to be admitted")
	}
	ok, _ = backend.CheckAndIncrement(ctx, "client-1", item)
	if ok {
		t.Fatal("Expected second hit to be denied")
	}

	// The window is anchored at the first hit; one window later it resets.
	*current = current.Add(1100 * time.Millisecond)

	ok, err := backend.CheckAndIncrement(ctx, "client-1", item)
	if err != nil {
		t.Fatalf("CheckAndIncrement failed: %v", err)
	}
	if !ok {
		t.Error("Expected hit after window reset to be admitted")
	}
}

func TestMemoryBackend_ElasticExpiry_ExtendsOnHit(t *testing.T) {
	backend := NewMemoryBackend(FixedWindowElasticExpiry)
	defer backend.Close()

	current, clock := testClock(time.Now())
	backend.now = clock

	ctx := context.Background()
	item := rate.Item{Amount: 2, Multiples: 1, Granularity: rate.Second}

	backend.CheckAndIncrement(ctx, "client-1", item)
	*current = current.Add(600 * time.Millisecond)
	backend.CheckAndIncrement(ctx, "client-1", item)

	// 1.1s after the first hit a plain fixed window would have reset, but
	// the second hit pushed the expiry out to 1.6s.
	*current = current.Add(500 * time.Millisecond)
	ok, err := backend.CheckAndIncrement(ctx, "client-1", item)
	if err != nil {
		t.Fatalf("CheckAndIncrement failed: %v", err)
	}
	if ok {
		t.Error("Expected hit inside extended window to be denied")
	}

	// Past the extended expiry the window resets.
	*current = current.Add(1100 * time.Millisecond)
	ok, _ = backend.CheckAndIncrement(ctx, "client-1", item)
	if !ok {
		t.Error("Expected hit after extended window to be admitted")
	}
}

func TestMemoryBackend_MovingWindow_Slides(t *testing.T) {
	backend := NewMemoryBackend(MovingWindow)
	defer backend.Close()

	current, clock := testClock(time.Now())
	backend.now = clock

	ctx := context.Background()
	item := rate.Item{Amount: 2, Multiples: 1, Granularity: rate.Second}

	backend.CheckAndIncrement(ctx, "client-1", item)
	*current = current.Add(500 * time.Millisecond)
	backend.CheckAndIncrement(ctx, "client-1", item)

	*current = current.Add(300 * time.Millisecond)
	ok, _ := backend.CheckAndIncrement(ctx, "client-1", item)
	if ok {
		t.Error("Expected hit with both entries live to be denied")
	}

	// 1.05s after the first hit it has aged out; one slot is free again.
	*current = current.Add(250 * time.Millisecond)
	ok, err := backend.CheckAndIncrement(ctx, "client-1", item)
	if err != nil {
		t.Fatalf("CheckAndIncrement failed: %v", err)
	}
	if !ok {
		t.Error("Expected hit after oldest entry aged out to be admitted")
	}
}

func TestMemoryBackend_CanIncrement_DoesNotMutate(t *testing.T) {
	backend := NewMemoryBackend(FixedWindow)
	defer backend.Close()

	ctx := context.Background()
	item := rate.Item{Amount: 3, Multiples: 1, Granularity: rate.Minute}

	for i := 0; i < 10; i++ {
		ok, err := backend.CanIncrement(ctx, "client-1", item)
		if err != nil {
			t.Fatalf("CanIncrement failed: %v", err)
		}
		if !ok {
			t.Fatal("Expected CanIncrement to report room")
		}
	}

	stats, err := backend.WindowStats(ctx, "client-1", item)
	if err != nil {
		t.Fatalf("WindowStats failed: %v", err)
	}
	if stats.Remaining != 3 {
		t.Errorf("Expected remaining 3 after read-only checks, got %d", stats.Remaining)
	}
}

func TestMemoryBackend_Increment_Unconditional(t *testing.T) {
	backend := NewMemoryBackend(FixedWindow)
	defer backend.Close()

	ctx := context.Background()
	item := rate.Item{Amount: 1, Multiples: 1, Granularity: rate.Minute}

	// Increment keeps recording past the limit.
	for i := 0; i < 3; i++ {
		if err := backend.Increment(ctx, "client-1", item); err != nil {
			t.Fatalf("Increment failed: %v", err)
		}
	}

	ok, err := backend.CanIncrement(ctx, "client-1", item)
	if err != nil {
		t.Fatalf("CanIncrement failed: %v", err)
	}
	if ok {
		t.Error("Expected CanIncrement to report no room")
	}

	stats, _ := backend.WindowStats(ctx, "client-1", item)
	if stats.Remaining != 0 {
		t.Errorf("Expected remaining 0, got %d", stats.Remaining)
	}
}

func TestMemoryBackend_WindowStats(t *testing.T) {
	backend := NewMemoryBackend(FixedWindow)
	defer backend.Close()

	current, clock := testClock(time.Now())
	backend.now = clock

	ctx := context.Background()
	item := rate.Item{Amount: 5, Multiples: 1, Granularity: rate.Minute}

	// Fresh key: full capacity, nothing to wait for.
	stats, err := backend.WindowStats(ctx, "client-1", item)
	if err != nil {
		t.Fatalf("WindowStats failed: %v", err)
	}
	if stats.Remaining != 5 {
		t.Errorf("Expected remaining 5, got %d", stats.Remaining)
	}

	backend.CheckAndIncrement(ctx, "client-1", item)
	backend.CheckAndIncrement(ctx, "client-1", item)

	stats, err = backend.WindowStats(ctx, "client-1", item)
	if err != nil {
		t.Fatalf("WindowStats failed: %v", err)
	}
	if stats.Remaining != 3 {
		t.Errorf("Expected remaining 3, got %d", stats.Remaining)
	}
	wantReset := current.Add(time.Minute)
	if !stats.ResetAt.Equal(wantReset) {
		t.Errorf("Expected reset at %v, got %v", wantReset, stats.ResetAt)
	}
}

func TestMemoryBackend_ItemsDoNotAlias(t *testing.T) {
	backend := NewMemoryBackend(FixedWindow)
	defer backend.Close()

	ctx := context.Background()
	perSecond := rate.Item{Amount: 2, Multiples: 1, Granularity: rate.Second}
	perMinute := rate.Item{Amount: 5, Multiples: 1, Granularity: rate.Minute}

	backend.CheckAndIncrement(ctx, "client-1", perSecond)
	backend.CheckAndIncrement(ctx, "client-1", perSecond)

	// The per-minute counter for the same key is independent.
	stats, err := backend.WindowStats(ctx, "client-1", perMinute)
	if err != nil {
		t.Fatalf("WindowStats failed: %v", err)
	}
	if stats.Remaining != 5 {
		t.Errorf("Expected per-minute remaining 5, got %d", stats.Remaining)
	}
}

func TestMemoryBackend_ConcurrentCheckAndIncrement(t *testing.T) {
	backend := NewMemoryBackend(FixedWindow)
	defer backend.Close()

	ctx := context.Background()
	item := rate.Item{Amount: 5, Multiples: 1, Granularity: rate.Minute}

	const workers = 50
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		admitted int
	)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := backend.CheckAndIncrement(ctx, "shared", item)
			if err != nil {
				t.Errorf("CheckAndIncrement failed: %v", err)
				return
			}
			if ok {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if admitted != 5 {
		t.Errorf("Expected exactly 5 admitted, got %d", admitted)
	}
}

func TestMemoryBackend_Cleanup(t *testing.T) {
	backend := NewMemoryBackend(FixedWindow)
	defer backend.Close()

	current, clock := testClock(time.Now())
	backend.now = clock

	ctx := context.Background()
	item := rate.Item{Amount: 1, Multiples: 1, Granularity: rate.Second}

	backend.CheckAndIncrement(ctx, "client-1", item)
	backend.CheckAndIncrement(ctx, "client-2", item)
	if backend.Size() != 2 {
		t.Fatalf("Expected 2 counters, got %d", backend.Size())
	}

	*current = current.Add(2 * time.Second)

	removed, err := backend.Cleanup(ctx)
	if err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}
	if removed != 2 {
		t.Errorf("Expected 2 counters removed, got %d", removed)
	}
	if backend.Size() != 0 {
		t.Errorf("Expected 0 counters after cleanup, got %d", backend.Size())
	}
}

func TestMemoryBackend_Eviction(t *testing.T) {
	backend := NewMemoryBackendWithConfig(MemoryBackendConfig{
		Strategy:   FixedWindow,
		MaxEntries: 2,
	})
	defer backend.Close()

	ctx := context.Background()
	item := rate.Item{Amount: 10, Multiples: 1, Granularity: rate.Minute}

	backend.CheckAndIncrement(ctx, "client-1", item)
	backend.CheckAndIncrement(ctx, "client-2", item)
	backend.CheckAndIncrement(ctx, "client-3", item)

	if size := backend.Size(); size > 2 {
		t.Errorf("Expected at most 2 counters after eviction, got %d", size)
	}
}

func TestMemoryBackend_CheckAfterClose(t *testing.T) {
	backend := NewMemoryBackend(FixedWindow)

	if err := backend.Check(context.Background()); err != nil {
		t.Errorf("Check on open backend failed: %v", err)
	}

	backend.Close()
	backend.Close() // idempotent

	if err := backend.Check(context.Background()); err == nil {
		t.Error("Expected Check to fail after Close")
	}
}
