package ginadapter

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"mercator-hq/saturn/pkg/admission"
	"mercator-hq/saturn/pkg/admission/storage"
	"mercator-hq/saturn/pkg/rate"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newMemoryLimiter(t *testing.T, cfg admission.Config) *admission.Limiter {
	t.Helper()
	backend := storage.NewMemoryBackend(storage.FixedWindow)
	cfg.Backend = backend
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	lim, err := admission.New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() {
		lim.Close()
		backend.Close()
	})
	return lim
}

func TestProtect_AllowsAndSetsHeaders(t *testing.T) {
	lim := newMemoryLimiter(t, admission.Config{})
	if err := lim.Declare("api", "ping", admission.Declaration{Limits: rate.MustParse("2 per minute")}); err != nil {
		t.Fatal(err)
	}

	r := gin.New()
	r.GET("/ping", Protect(lim, "api", "ping"), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("GET", "/ping", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("Status code = %v, want %v", rec.Code, http.StatusOK)
	}
	if got := rec.Header().Get("X-RateLimit-Limit"); got != "2" {
		t.Errorf("X-RateLimit-Limit = %q, want %q", got, "2")
	}
	if got := rec.Header().Get("X-RateLimit-Remaining"); got != "1" {
		t.Errorf("X-RateLimit-Remaining = %q, want %q", got, "1")
	}
}

func TestProtect_DeniesOverLimit(t *testing.T) {
	lim := newMemoryLimiter(t, admission.Config{})
	if err := lim.Declare("api", "ping", admission.Declaration{Limits: rate.MustParse("1 per minute")}); err != nil {
		t.Fatal(err)
	}

	handlerCalls := 0
	r := gin.New()
	r.GET("/ping", Protect(lim, "api", "ping"), func(c *gin.Context) {
		handlerCalls++
		c.String(http.StatusOK, "pong")
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("GET", "/ping", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("first request: Status code = %v, want %v", rec.Code, http.StatusOK)
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("GET", "/ping", nil))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: Status code = %v, want %v", rec.Code, http.StatusTooManyRequests)
	}

	want := "Reached allowed limit 1 hits per 1 minute!"
	if rec.Body.String() != want {
		t.Errorf("Rejection body = %q, want %q", rec.Body.String(), want)
	}
	if handlerCalls != 1 {
		t.Errorf("Expected 1 handler call, got %d", handlerCalls)
	}
}

func TestProtect_DeferredDeduction(t *testing.T) {
	lim := newMemoryLimiter(t, admission.Config{})
	err := lim.Declare("reports", "generate", admission.Declaration{
		Limits: rate.MustParse("1 per minute"),
		DeductWhen: func(r *http.Request, out admission.Outcome) (bool, error) {
			return out.StatusCode >= 200 && out.StatusCode < 300, nil
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	r := gin.New()
	r.POST("/reports", Protect(lim, "reports", "generate"), func(c *gin.Context) {
		if c.Query("fail") == "1" {
			c.String(http.StatusInternalServerError, "boom")
			return
		}
		c.String(http.StatusOK, "queued")
	})

	// Failed responses do not consume the limit.
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest("POST", "/reports?fail=1", nil))
		if rec.Code != http.StatusInternalServerError {
			t.Fatalf("failing request %d: Status code = %v, want %v", i+1, rec.Code, http.StatusInternalServerError)
		}
	}

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("POST", "/reports", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("successful request: Status code = %v, want %v", rec.Code, http.StatusOK)
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("POST", "/reports", nil))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("after deduction: Status code = %v, want %v", rec.Code, http.StatusTooManyRequests)
	}
}
