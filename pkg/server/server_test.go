package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"mercator-hq/saturn/pkg/config"
)

// newTestServer builds a server from cfg and registers its release.
func newTestServer(t *testing.T, cfg *config.Config) *Server {
	t.Helper()
	s, err := New(cfg, discardLogger())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { s.Shutdown(context.Background()) })
	return s
}

func TestNew_Defaults(t *testing.T) {
	s := newTestServer(t, config.DefaultConfig())
	handler := s.Handler()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Status code = %v, want %v", w.Code, http.StatusOK)
	}

	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("Failed to decode health response: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("Health status = %v, want ok", body["status"])
	}
}

func TestNew_MountsMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, config.DefaultConfig())
	handler := s.Handler()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Status code = %v, want %v", w.Code, http.StatusOK)
	}
	if !strings.Contains(w.Body.String(), "go_goroutines") {
		t.Error("Expected runtime metrics in the exposition output")
	}
}

func TestNew_InvalidLimits(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Limiter.DefaultLimits = "several per fortnight"

	if _, err := New(cfg, discardLogger()); err == nil {
		t.Fatal("Expected malformed default limits to fail construction")
	}
}

func TestServer_ProtectedRouteEnforcesLimits(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Limiter.DefaultLimits = "2 per minute"

	s := newTestServer(t, cfg)
	handler := s.Handler()

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/search?q=ping", nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("Request %d: status = %v, want %v", i+1, w.Code, http.StatusOK)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/api/search?q=ping", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("Status code = %v, want %v", w.Code, http.StatusTooManyRequests)
	}
	if w.Body.String() != "Reached allowed limit 2 hits per 1 minute!" {
		t.Errorf("Body = %q, want the rejection message", w.Body.String())
	}
}

func TestServer_HealthIsNotLimited(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Limiter.DefaultLimits = "1 per minute"

	s := newTestServer(t, cfg)
	handler := s.Handler()

	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("Request %d: status = %v, want %v", i+1, w.Code, http.StatusOK)
		}
	}
}

func TestServer_ReportsDeductOnlyOnSuccess(t *testing.T) {
	s := newTestServer(t, config.DefaultConfig())
	handler := s.Handler()

	// Rejected methods are not 2xx, so they must not consume quota
	for i := 0; i < 10; i++ {
		req := httptest.NewRequest(http.MethodGet, "/reports/generate", nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		if w.Code != http.StatusMethodNotAllowed {
			t.Fatalf("GET %d: status = %v, want %v", i+1, w.Code, http.StatusMethodNotAllowed)
		}
	}

	// The declared limit is 5 per hour
	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodPost, "/reports/generate", nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("POST %d: status = %v, want %v", i+1, w.Code, http.StatusOK)
		}
	}

	req := httptest.NewRequest(http.MethodPost, "/reports/generate", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("Status code = %v, want %v", w.Code, http.StatusTooManyRequests)
	}
}

func TestServer_TierDrivenLimits(t *testing.T) {
	tierPath := filepath.Join(t.TempDir(), "tiers.yaml")
	tierFile := "default: \"1 per minute\"\ntiers:\n  pro: \"3 per minute\"\n"
	if err := os.WriteFile(tierPath, []byte(tierFile), 0644); err != nil {
		t.Fatalf("Failed to write tier file: %v", err)
	}

	cfg := config.DefaultConfig()
	cfg.Tiers.Enabled = true
	cfg.Tiers.Path = tierPath
	cfg.Tiers.Watch = false

	s := newTestServer(t, cfg)
	handler := s.Handler()

	// Pro tier gets 3 hits
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/search", nil)
		req.Header.Set(TierHeader, "pro")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("Pro request %d: status = %v, want %v", i+1, w.Code, http.StatusOK)
		}
	}
	req := httptest.NewRequest(http.MethodGet, "/api/search", nil)
	req.Header.Set(TierHeader, "pro")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("Pro status = %v, want %v", w.Code, http.StatusTooManyRequests)
	}

	// No tier header falls back to the default expression
	req = httptest.NewRequest(http.MethodGet, "/api/search", nil)
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("Default status = %v, want %v", w.Code, http.StatusOK)
	}
	req = httptest.NewRequest(http.MethodGet, "/api/search", nil)
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("Default status = %v, want %v", w.Code, http.StatusTooManyRequests)
	}
}

func TestServer_JournalRecordsDecisions(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Limiter.DefaultLimits = "1 per minute"
	cfg.Journal.Enabled = true
	cfg.Journal.Path = filepath.Join(t.TempDir(), "journal.db")
	cfg.Journal.FlushInterval = 20 * time.Millisecond

	s := newTestServer(t, cfg)
	handler := s.Handler()

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/search", nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		records, err := s.journal.Recent(context.Background(), 10)
		if err != nil {
			t.Fatalf("Recent failed: %v", err)
		}
		if len(records) == 2 {
			allowed, denied := 0, 0
			for _, rec := range records {
				if rec.Allowed {
					allowed++
				} else {
					denied++
				}
			}
			if allowed != 1 || denied != 1 {
				t.Errorf("Expected 1 allowed and 1 denied record, got %d/%d", allowed, denied)
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("Expected 2 journal records")
}

func TestServer_StartStop(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Server.ListenAddress = "127.0.0.1:0"
	cfg.Server.ShutdownTimeout = 2 * time.Second

	s, err := New(cfg, discardLogger())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- s.Start(context.Background())
	}()

	// Give the listener time to come up
	time.Sleep(100 * time.Millisecond)
	if !s.IsRunning() {
		t.Error("Expected the server to be running")
	}

	s.Stop()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start returned %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Server did not stop")
	}
	if s.IsRunning() {
		t.Error("Expected the server to report stopped")
	}
}

func TestServer_ShutdownIdempotent(t *testing.T) {
	s, err := New(config.DefaultConfig(), discardLogger())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if err := s.Shutdown(context.Background()); err != nil {
		t.Fatalf("First shutdown failed: %v", err)
	}
	if err := s.Shutdown(context.Background()); err != nil {
		t.Fatalf("Second shutdown failed: %v", err)
	}
}
