package logging

import (
	"testing"
	"time"
)

func TestThrottle_AdmitsBurstThenDenies(t *testing.T) {
	throttle := NewThrottle(time.Hour, 2)

	if !throttle.Allow() {
		t.Error("Expected first call to be admitted")
	}
	if !throttle.Allow() {
		t.Error("Expected second call to be admitted")
	}
	if throttle.Allow() {
		t.Error("Expected third call to be denied")
	}
}

func TestThrottle_CountsSuppressed(t *testing.T) {
	throttle := NewThrottle(time.Hour, 1)

	throttle.Allow()
	for i := 0; i < 5; i++ {
		throttle.Allow()
	}

	if got := throttle.TakeSuppressed(); got != 5 {
		t.Errorf("Expected 5 suppressed, got %d", got)
	}
	if got := throttle.TakeSuppressed(); got != 0 {
		t.Errorf("Expected counter reset, got %d", got)
	}
}

func TestThrottle_RefillsOverTime(t *testing.T) {
	throttle := NewThrottle(10*time.Millisecond, 1)

	throttle.Allow()
	if throttle.Allow() {
		t.Error("Expected immediate second call to be denied")
	}

	time.Sleep(15 * time.Millisecond)
	if !throttle.Allow() {
		t.Error("Expected call after refill interval to be admitted")
	}
}
