//go:build integration

package test

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"mercator-hq/saturn/pkg/admission"
	"mercator-hq/saturn/pkg/admission/storage"
	"mercator-hq/saturn/pkg/rate"
)

// redisAddr returns the Redis address for integration tests, or skips the
// test when none is configured.
func redisAddr(t *testing.T) string {
	t.Helper()

	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set; skipping Redis integration test")
	}
	return addr
}

// TestRedisBackendCounting verifies windows count correctly against a real
// Redis server.
func TestRedisBackendCounting(t *testing.T) {
	addr := redisAddr(t)

	// Unique prefix per run so repeated runs never share windows.
	lim, err := admission.New(admission.Config{
		StorageURL: "redis://" + addr,
		KeyPrefix:  fmt.Sprintf("saturn-test-%d", time.Now().UnixNano()),
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer lim.Close()

	if err := lim.Declare("api", "search", admission.Declaration{
		Limits: rate.MustParse("3 per minute"),
	}); err != nil {
		t.Fatal(err)
	}

	handler := lim.Protect("api", "search", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest("GET", "/search", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: Status code = %v, want %v", i+1, rec.Code, http.StatusOK)
		}
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/search", nil))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("Status code = %v, want %v", rec.Code, http.StatusTooManyRequests)
	}
	want := "Reached allowed limit 3 hits per 1 minute!"
	if rec.Body.String() != want {
		t.Errorf("Rejection body = %q, want %q", rec.Body.String(), want)
	}
}

// TestRedisMovingWindow verifies the moving-window strategy expires hits
// continuously on a real Redis server.
func TestRedisMovingWindow(t *testing.T) {
	addr := redisAddr(t)

	lim, err := admission.New(admission.Config{
		StorageURL: "redis://" + addr,
		Strategy:   storage.MovingWindow,
		KeyPrefix:  fmt.Sprintf("saturn-test-mw-%d", time.Now().UnixNano()),
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer lim.Close()

	if err := lim.Declare("api", "burst", admission.Declaration{
		Limits: rate.MustParse("2 per 2 seconds"),
	}); err != nil {
		t.Fatal(err)
	}

	handler := lim.Protect("api", "burst", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	send := func() int {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest("GET", "/burst", nil))
		return rec.Code
	}

	if code := send(); code != http.StatusOK {
		t.Fatalf("first request: Status code = %v, want %v", code, http.StatusOK)
	}
	if code := send(); code != http.StatusOK {
		t.Fatalf("second request: Status code = %v, want %v", code, http.StatusOK)
	}
	if code := send(); code != http.StatusTooManyRequests {
		t.Fatalf("third request: Status code = %v, want %v", code, http.StatusTooManyRequests)
	}

	// After the window slides past the first hit, one slot opens again.
	time.Sleep(2100 * time.Millisecond)
	if code := send(); code != http.StatusOK {
		t.Fatalf("after window slide: Status code = %v, want %v", code, http.StatusOK)
	}
}
