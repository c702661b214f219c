package admission

import (
	"context"
	"fmt"

	"mercator-hq/saturn/pkg/admission/storage"
	"mercator-hq/saturn/pkg/rate"
)

// Engine evaluates partition keys against limit specs and records usage.
// It holds no counting state of its own: every counter lives in the
// backend, which owns its atomicity. The engine is stateless and safe for
// concurrent use.
type Engine struct {
	backend storage.Backend
	prefix  string
}

// NewEngine creates an engine over a backend. A non-empty keyPrefix is
// prepended to every storage key as "<prefix>:<key>", so multiple
// applications can share one backend without colliding.
func NewEngine(backend storage.Backend, keyPrefix string) *Engine {
	return &Engine{
		backend: backend,
		prefix:  keyPrefix,
	}
}

// Evaluate tests whether one more hit for key fits every item of spec, in
// declaration order, without recording anything. The first item that is
// already full denies with that item identified.
func (e *Engine) Evaluate(ctx context.Context, key string, spec rate.Spec) (Decision, error) {
	sk := e.storageKey(key)
	for i := range spec {
		if err := ctx.Err(); err != nil {
			return Decision{}, err
		}
		fits, err := e.backend.CanIncrement(ctx, sk, spec[i])
		if err != nil {
			return Decision{}, fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
		}
		if !fits {
			return Decision{Allowed: false, Violated: &spec[i]}, nil
		}
	}
	return Decision{Allowed: true}, nil
}

// EvaluateAndRecord runs one atomic check-and-increment per item, in
// declaration order. The first full item denies with that item
// identified; items before it have already recorded their hit (each
// window recovers independently at its own expiry), items after it are
// never touched.
func (e *Engine) EvaluateAndRecord(ctx context.Context, key string, spec rate.Spec) (Decision, error) {
	sk := e.storageKey(key)
	for i := range spec {
		if err := ctx.Err(); err != nil {
			return Decision{}, err
		}
		fits, err := e.backend.CheckAndIncrement(ctx, sk, spec[i])
		if err != nil {
			return Decision{}, fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
		}
		if !fits {
			return Decision{Allowed: false, Violated: &spec[i]}, nil
		}
	}
	return Decision{Allowed: true}, nil
}

// Record registers one hit for every item of spec unconditionally. Used
// by the deferred-deduction path after the handler completed.
func (e *Engine) Record(ctx context.Context, key string, spec rate.Spec) error {
	sk := e.storageKey(key)
	for i := range spec {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.backend.Increment(ctx, sk, spec[i]); err != nil {
			return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
		}
	}
	return nil
}

// Stats reads the current window of (key, item), for response headers.
func (e *Engine) Stats(ctx context.Context, key string, item rate.Item) (storage.WindowStats, error) {
	stats, err := e.backend.WindowStats(ctx, e.storageKey(key), item)
	if err != nil {
		return storage.WindowStats{}, fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	return stats, nil
}

func (e *Engine) storageKey(key string) string {
	if e.prefix == "" {
		return key
	}
	return e.prefix + ":" + key
}
