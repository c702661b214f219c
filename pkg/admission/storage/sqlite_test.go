package storage

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"mercator-hq/saturn/pkg/rate"
)

func newTestSQLiteBackend(t *testing.T, strategy Strategy) *SQLiteBackend {
	t.Helper()

	backend, err := NewSQLiteBackend(filepath.Join(t.TempDir(), "counters.db"), strategy)
	if err != nil {
		t.Fatalf("NewSQLiteBackend failed: %v", err)
	}
	t.Cleanup(func() { backend.Close() })
	return backend
}

func TestSQLiteBackend_FixedWindow_CheckAndIncrement(t *testing.T) {
	backend := newTestSQLiteBackend(t, FixedWindow)
	ctx := context.Background()
	item := rate.Item{Amount: 2, Multiples: 1, Granularity: rate.Minute}

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

	ok, _ = backend.CanIncrement(ctx, "client-1", item)
	if ok {
		t.Error("Expected CanIncrement to report no room")
	}
}

func TestSQLiteBackend_FixedWindow_Reset(t *testing.T) {
	backend := newTestSQLiteBackend(t, FixedWindow)

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

	*current = current.Add(1100 * time.Millisecond)

	ok, err := backend.CheckAndIncrement(ctx, "client-1", item)
	if err != nil {
		t.Fatalf("CheckAndIncrement failed: %v", err)
	}
	if !ok {
		t.Error("Expected hit after window reset to be admitted")
	}
}

func TestSQLiteBackend_ElasticExpiry_ExtendsOnHit(t *testing.T) {
	backend := newTestSQLiteBackend(t, FixedWindowElasticExpiry)

	current, clock := testClock(time.Now())
	backend.now = clock

	ctx := context.Background()
	item := rate.Item{Amount: 2, Multiples: 1, Granularity: rate.Second}

	backend.CheckAndIncrement(ctx, "client-1", item)
	*current = current.Add(600 * time.Millisecond)
	backend.CheckAndIncrement(ctx, "client-1", item)

	// The second hit moved the expiry to 1.6s after the first.
	*current = current.Add(500 * time.Millisecond)
	ok, err := backend.CheckAndIncrement(ctx, "client-1", item)
	if err != nil {
		t.Fatalf("CheckAndIncrement failed: %v", err)
	}
	if ok {
		t.Error("Expected hit inside extended window to be denied")
	}
}

func TestSQLiteBackend_MovingWindow_Slides(t *testing.T) {
	backend := newTestSQLiteBackend(t, MovingWindow)

	current, clock := testClock(time.Now())
	backend.now = clock

	ctx := context.Background()
	item := rate.Item{Amount: 2, Multiples: 1, Granularity: rate.Second}

	backend.CheckAndIncrement(ctx, "client-1", item)
	*current = current.Add(500 * time.Millisecond)
	backend.CheckAndIncrement(ctx, "client-1", item)

	ok, _ := backend.CheckAndIncrement(ctx, "client-1", item)
	if ok {
		t.Error("Expected hit with both entries live to be denied")
	}

	*current = current.Add(550 * time.Millisecond)
	ok, err := backend.CheckAndIncrement(ctx, "client-1", item)
	if err != nil {
		t.Fatalf("CheckAndIncrement failed: %v", err)
	}
	if !ok {
		t.Error("Expected hit after oldest entry aged out to be admitted")
	}
}

func TestSQLiteBackend_PersistsAcrossReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "counters.db")
	ctx := context.Background()
	item := rate.Item{Amount: 2, Multiples: 1, Granularity: rate.Hour}

	backend, err := NewSQLiteBackend(dbPath, FixedWindow)
	if err != nil {
		t.Fatalf("NewSQLiteBackend failed: %v", err)
	}
	backend.CheckAndIncrement(ctx, "client-1", item)
	backend.CheckAndIncrement(ctx, "client-1", item)
	if err := backend.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// Counters survive a restart; the window is still full.
	reopened, err := NewSQLiteBackend(dbPath, FixedWindow)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	ok, err := reopened.CheckAndIncrement(ctx, "client-1", item)
	if err != nil {
		t.Fatalf("CheckAndIncrement failed: %v", err)
	}
	if ok {
		t.Error("Expected hit after reopen to be denied")
	}

	stats, err := reopened.WindowStats(ctx, "client-1", item)
	if err != nil {
		t.Fatalf("WindowStats failed: %v", err)
	}
	if stats.Remaining != 0 {
		t.Errorf("Expected remaining 0 after reopen, got %d", stats.Remaining)
	}
}

func TestSQLiteBackend_WindowStats(t *testing.T) {
	backend := newTestSQLiteBackend(t, FixedWindow)
	ctx := context.Background()
	item := rate.Item{Amount: 5, Multiples: 1, Granularity: rate.Minute}

	stats, err := backend.WindowStats(ctx, "client-1", item)
	if err != nil {
		t.Fatalf("WindowStats failed: %v", err)
	}
	if stats.Remaining != 5 {
		t.Errorf("Expected remaining 5 on fresh key, got %d", stats.Remaining)
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
	if !stats.ResetAt.After(time.Now()) {
		t.Errorf("Expected reset in the future, got %v", stats.ResetAt)
	}
}

func TestSQLiteBackend_ConcurrentCheckAndIncrement(t *testing.T) {
	backend := newTestSQLiteBackend(t, FixedWindow)
	ctx := context.Background()
	item := rate.Item{Amount: 5, Multiples: 1, Granularity: rate.Minute}

	const workers = 20
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

func TestSQLiteBackend_Cleanup(t *testing.T) {
	backend := newTestSQLiteBackend(t, FixedWindow)

	current, clock := testClock(time.Now())
	backend.now = clock

	ctx := context.Background()
	item := rate.Item{Amount: 1, Multiples: 1, Granularity: rate.Second}

	backend.CheckAndIncrement(ctx, "client-1", item)
	backend.CheckAndIncrement(ctx, "client-2", item)

	*current = current.Add(2 * time.Second)

	removed, err := backend.Cleanup(ctx)
	if err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}
	if removed != 2 {
		t.Errorf("Expected 2 rows removed, got %d", removed)
	}
}

func TestSQLiteBackend_Check(t *testing.T) {
	backend := newTestSQLiteBackend(t, FixedWindow)

	if err := backend.Check(context.Background()); err != nil {
		t.Errorf("Check failed: %v", err)
	}
}
