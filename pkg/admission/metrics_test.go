package admission

import (
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"mercator-hq/saturn/pkg/rate"
)

func TestMetrics_DecisionCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)

	lim, backend := newTestLimiter(t, Config{Metrics: metrics})
	spec := rate.MustParse("1 per second")
	if err := lim.Declare("things", "create", Declaration{Limits: spec}); err != nil {
		t.Fatal(err)
	}

	lim.Admit(httptest.NewRequest("POST", "/things", nil), "things", "create")
	backend.setFull(spec[0])
	lim.Admit(httptest.NewRequest("POST", "/things", nil), "things", "create")

	allowed := testutil.ToFloat64(metrics.decisions.WithLabelValues("things", "create", "allowed"))
	if allowed != 1 {
		t.Errorf("Expected 1 allowed decision, got %v", allowed)
	}
	denied := testutil.ToFloat64(metrics.decisions.WithLabelValues("things", "create", "denied"))
	if denied != 1 {
		t.Errorf("Expected 1 denied decision, got %v", denied)
	}
	violations := testutil.ToFloat64(metrics.violations.WithLabelValues("things", "create", "second"))
	if violations != 1 {
		t.Errorf("Expected 1 second-granularity violation, got %v", violations)
	}
}

func TestMetrics_ErrorKinds(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)

	lim, _ := newTestLimiter(t, Config{Metrics: metrics})
	if err := lim.Declare("things", "create", Declaration{
		Limits:  rate.MustParse("5 per minute"),
		KeyFunc: HeaderKey("X-API-Key"),
	}); err != nil {
		t.Fatal(err)
	}

	// Request without the key header fails key resolution.
	lim.Admit(httptest.NewRequest("POST", "/things", nil), "things", "create")

	count := testutil.ToFloat64(metrics.errors.WithLabelValues("key_resolution"))
	if count != 1 {
		t.Errorf("Expected 1 key_resolution error, got %v", count)
	}
}

func TestMetrics_SeparateRegistries(t *testing.T) {
	// Two limiters with their own registries must not collide.
	m1 := NewMetrics(prometheus.NewRegistry())
	m2 := NewMetrics(prometheus.NewRegistry())

	lim1, _ := newTestLimiter(t, Config{Metrics: m1})
	lim2, _ := newTestLimiter(t, Config{Metrics: m2})

	for _, lim := range []*Limiter{lim1, lim2} {
		if err := lim.DeclareGroup("things", Declaration{Limits: rate.MustParse("5 per minute")}); err != nil {
			t.Fatal(err)
		}
	}

	lim1.Admit(httptest.NewRequest("GET", "/", nil), "things", "list")

	if got := testutil.ToFloat64(m1.decisions.WithLabelValues("things", "list", "allowed")); got != 1 {
		t.Errorf("Expected 1 decision on the first registry, got %v", got)
	}
	if got := testutil.ToFloat64(m2.decisions.WithLabelValues("things", "list", "allowed")); got != 0 {
		t.Errorf("Expected 0 decisions on the second registry, got %v", got)
	}
}
