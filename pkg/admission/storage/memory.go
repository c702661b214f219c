package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"mercator-hq/saturn/pkg/rate"
)

// MemoryBackend implements Backend with in-process counters. This is the
// default backend: fast, no external dependencies, and all counters are
// lost when the process exits.
//
// MemoryBackend is thread-safe. Atomicity of CheckAndIncrement comes from
// performing the check and the mutation under one write lock.
type MemoryBackend struct {
	// strategy selects the counting algorithm.
	strategy Strategy

	// windows holds fixed-window counters keyed by counterKey.
	windows map[string]*memoryWindow

	// hits holds moving-window hit timestamps keyed by counterKey.
	hits map[string][]time.Time

	// mu protects windows and hits.
	mu sync.RWMutex

	// maxEntries caps the number of tracked counters before eviction.
	maxEntries int

	cleanupInterval time.Duration
	done            chan struct{}
	closeOnce       sync.Once

	// now is the clock; tests substitute it to cross windows instantly.
	now func() time.Time
}

// memoryWindow is one fixed-window counter.
type memoryWindow struct {
	count     uint64
	start     time.Time
	expiresAt time.Time
}

// MemoryBackendConfig configures the memory backend.
type MemoryBackendConfig struct {
	// Strategy selects the counting algorithm. Default: FixedWindow.
	Strategy Strategy

	// MaxEntries is the maximum number of live counters. The counter
	// closest to expiry is evicted when the cap is reached.
	// Default: 100,000. Option key: "max_entries".
	MaxEntries int

	// CleanupInterval is how often expired counters are swept.
	// Default: 1 minute. Option key: "cleanup_interval".
	CleanupInterval time.Duration
}

// NewMemoryBackend creates an in-memory backend with default settings.
func NewMemoryBackend(strategy Strategy) *MemoryBackend {
	return NewMemoryBackendWithConfig(MemoryBackendConfig{Strategy: strategy})
}

// NewMemoryBackendWithConfig creates an in-memory backend with custom
// configuration.
func NewMemoryBackendWithConfig(cfg MemoryBackendConfig) *MemoryBackend {
	if cfg.Strategy == "" {
		cfg.Strategy = FixedWindow
	}
	if cfg.MaxEntries == 0 {
		cfg.MaxEntries = 100000
	}
	if cfg.CleanupInterval == 0 {
		cfg.CleanupInterval = time.Minute
	}

	backend := &MemoryBackend{
		strategy:        cfg.Strategy,
		windows:         make(map[string]*memoryWindow),
		hits:            make(map[string][]time.Time),
		maxEntries:      cfg.MaxEntries,
		cleanupInterval: cfg.CleanupInterval,
		done:            make(chan struct{}),
		now:             time.Now,
	}

	go backend.cleanupLoop()

	return backend
}

// CanIncrement reports whether one more hit would fit, without recording.
func (m *MemoryBackend) CanIncrement(ctx context.Context, key string, item rate.Item) (bool, error) {
	ck := counterKey(key, item)
	now := m.now()

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.strategy == MovingWindow {
		return m.liveHitsLocked(ck, now, item.Window()) < item.Amount, nil
	}

	w := m.windows[ck]
	if w == nil || !now.Before(w.expiresAt) {
		return true, nil
	}
	return w.count < item.Amount, nil
}

// Increment registers one hit unconditionally.
func (m *MemoryBackend) Increment(ctx context.Context, key string, item rate.Item) error {
	ck := counterKey(key, item)
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.strategy == MovingWindow {
		m.appendHitLocked(ck, now, item.Window())
		return nil
	}

	w := m.windows[ck]
	if w == nil || !now.Before(w.expiresAt) {
		m.startWindowLocked(ck, now, item.Window())
		return nil
	}
	w.count++
	if m.strategy == FixedWindowElasticExpiry {
		w.expiresAt = now.Add(item.Window())
	}
	return nil
}

// CheckAndIncrement atomically registers one hit only if it fits. A denied
// call leaves the counter untouched.
func (m *MemoryBackend) CheckAndIncrement(ctx context.Context, key string, item rate.Item) (bool, error) {
	ck := counterKey(key, item)
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.strategy == MovingWindow {
		m.pruneHitsLocked(ck, now, item.Window())
		if uint64(len(m.hits[ck])) >= item.Amount {
			return false, nil
		}
		m.appendHitLocked(ck, now, item.Window())
		return true, nil
	}

	w := m.windows[ck]
	if w == nil || !now.Before(w.expiresAt) {
		m.startWindowLocked(ck, now, item.Window())
		return true, nil
	}
	if w.count >= item.Amount {
		return false, nil
	}
	w.count++
	if m.strategy == FixedWindowElasticExpiry {
		w.expiresAt = now.Add(item.Window())
	}
	return true, nil
}

// WindowStats returns remaining capacity and reset time for (key, item).
func (m *MemoryBackend) WindowStats(ctx context.Context, key string, item rate.Item) (WindowStats, error) {
	ck := counterKey(key, item)
	now := m.now()

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.strategy == MovingWindow {
		live := m.liveHitsLocked(ck, now, item.Window())
		stats := WindowStats{Remaining: 0, ResetAt: now}
		if live < item.Amount {
			stats.Remaining = item.Amount - live
		}
		if oldest, ok := m.oldestLiveHitLocked(ck, now, item.Window()); ok {
			stats.ResetAt = oldest.Add(item.Window())
		}
		return stats, nil
	}

	w := m.windows[ck]
	if w == nil || !now.Before(w.expiresAt) {
		return WindowStats{Remaining: item.Amount, ResetAt: now}, nil
	}
	stats := WindowStats{Remaining: 0, ResetAt: w.expiresAt}
	if w.count < item.Amount {
		stats.Remaining = item.Amount - w.count
	}
	return stats, nil
}

// Check reports backend health. The memory backend only fails after Close.
func (m *MemoryBackend) Check(ctx context.Context) error {
	select {
	case <-m.done:
		return fmt.Errorf("memory backend is closed")
	default:
		return nil
	}
}

// Close stops the cleanup goroutine. Close is idempotent.
func (m *MemoryBackend) Close() error {
	m.closeOnce.Do(func() {
		close(m.done)
	})
	return nil
}

// Size returns the number of live counters. Useful for monitoring and
// tests.
func (m *MemoryBackend) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.windows) + len(m.hits)
}

// Cleanup removes expired windows and aged-out hit lists. It returns the
// number of counters removed.
func (m *MemoryBackend) Cleanup(ctx context.Context) (int, error) {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for key, w := range m.windows {
		if !now.Before(w.expiresAt) {
			delete(m.windows, key)
			removed++
		}
	}
	for key, hits := range m.hits {
		if len(hits) == 0 || hits[len(hits)-1].Add(24*time.Hour).Before(now) {
			delete(m.hits, key)
			removed++
		}
	}
	return removed, nil
}

// startWindowLocked begins a fresh window with one recorded hit.
// Caller must hold the write lock.
func (m *MemoryBackend) startWindowLocked(ck string, now time.Time, window time.Duration) {
	if len(m.windows)+len(m.hits) >= m.maxEntries {
		m.evictOldestLocked()
	}
	m.windows[ck] = &memoryWindow{
		count:     1,
		start:     now,
		expiresAt: now.Add(window),
	}
}

// appendHitLocked records one moving-window hit.
// Caller must hold the write lock.
func (m *MemoryBackend) appendHitLocked(ck string, now time.Time, window time.Duration) {
	if _, exists := m.hits[ck]; !exists && len(m.windows)+len(m.hits) >= m.maxEntries {
		m.evictOldestLocked()
	}
	m.pruneHitsLocked(ck, now, window)
	m.hits[ck] = append(m.hits[ck], now)
}

// pruneHitsLocked drops hits that have aged out of the window.
// Caller must hold the write lock.
func (m *MemoryBackend) pruneHitsLocked(ck string, now time.Time, window time.Duration) {
	hits := m.hits[ck]
	if len(hits) == 0 {
		return
	}
	cutoff := now.Add(-window)
	i := 0
	for i < len(hits) && !hits[i].After(cutoff) {
		i++
	}
	if i == len(hits) {
		delete(m.hits, ck)
		return
	}
	if i > 0 {
		m.hits[ck] = append(hits[:0], hits[i:]...)
	}
}

// liveHitsLocked counts hits still inside the window without mutating.
// Caller must hold at least the read lock.
func (m *MemoryBackend) liveHitsLocked(ck string, now time.Time, window time.Duration) uint64 {
	cutoff := now.Add(-window)
	var live uint64
	for _, hit := range m.hits[ck] {
		if hit.After(cutoff) {
			live++
		}
	}
	return live
}

// oldestLiveHitLocked returns the oldest hit still inside the window.
// Caller must hold at least the read lock.
func (m *MemoryBackend) oldestLiveHitLocked(ck string, now time.Time, window time.Duration) (time.Time, bool) {
	cutoff := now.Add(-window)
	for _, hit := range m.hits[ck] {
		if hit.After(cutoff) {
			return hit, true
		}
	}
	return time.Time{}, false
}

// evictOldestLocked removes the counter closest to irrelevance to make
// room for a new one. Caller must hold the write lock.
func (m *MemoryBackend) evictOldestLocked() {
	var (
		oldestKey    string
		oldestWindow bool
		oldestTime   time.Time
		found        bool
	)

	for key, w := range m.windows {
		if !found || w.expiresAt.Before(oldestTime) {
			oldestKey = key
			oldestTime = w.expiresAt
			oldestWindow = true
			found = true
		}
	}
	for key, hits := range m.hits {
		last := time.Time{}
		if len(hits) > 0 {
			last = hits[len(hits)-1]
		}
		if !found || last.Before(oldestTime) {
			oldestKey = key
			oldestTime = last
			oldestWindow = false
			found = true
		}
	}

	if !found {
		return
	}
	if oldestWindow {
		delete(m.windows, oldestKey)
	} else {
		delete(m.hits, oldestKey)
	}
}

// cleanupLoop sweeps expired counters periodically.
func (m *MemoryBackend) cleanupLoop() {
	ticker := time.NewTicker(m.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_, _ = m.Cleanup(context.Background())
		case <-m.done:
			return
		}
	}
}
