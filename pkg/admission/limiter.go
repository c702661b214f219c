package admission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"mercator-hq/saturn/pkg/admission/storage"
	"mercator-hq/saturn/pkg/rate"
	"mercator-hq/saturn/pkg/telemetry/logging"
)

// Config configures a Limiter. The zero value is usable: in-memory
// fixed-window counters, remote-address keys, no default limits.
type Config struct {
	// DefaultLimits is the process-wide limit expression applied to
	// protected operations that declare no limits of their own. Empty
	// means no default: such operations pass through unlimited.
	DefaultLimits string

	// KeyFunc is the process-wide default key function.
	// Default: RemoteAddressKey.
	KeyFunc KeyFunc

	// DeductWhen is the process-wide default deduction predicate. Nil
	// means the default behavior: every admitted request deducts
	// immediately.
	DeductWhen DeductWhenFunc

	// KeyPrefix is prepended to every storage key as "<prefix>:<key>",
	// so multiple applications can share one backend.
	KeyPrefix string

	// StorageURL selects the backend. Default: "memory://".
	StorageURL string

	// Strategy selects the counting algorithm. Default: fixed-window.
	Strategy storage.Strategy

	// StorageOptions carries backend-specific parameters.
	StorageOptions storage.Options

	// Backend overrides StorageURL with a pre-built backend. The caller
	// keeps ownership: Close will not close it.
	Backend storage.Backend

	// FailurePolicy decides what storage failures do. Default:
	// FailClosed.
	FailurePolicy FailurePolicy

	// Observer receives a DecisionEvent per admission check. Optional.
	Observer Observer

	// Logger receives structured logs. Default: slog.Default().
	Logger *slog.Logger

	// Metrics overrides the shared default collectors, for callers
	// running multiple limiters or custom registries.
	Metrics *Metrics
}

// Limiter is the top-level admission object: it owns the declaration
// registry, the engine and the storage backend, and wraps handlers with
// the admission checkpoint. Safe for concurrent use.
type Limiter struct {
	registry    *Registry
	engine      *Engine
	backend     storage.Backend
	ownsBackend bool

	defaults EffectiveConfig
	policy   FailurePolicy

	observer Observer
	logger   *slog.Logger
	metrics  *Metrics
	throttle *logging.Throttle
}

// New builds a Limiter. Configuration errors (malformed default limits,
// unknown policy, unreachable storage) are fatal: they abort construction
// rather than degrading at request time.
func New(cfg Config) (*Limiter, error) {
	defaults := EffectiveConfig{
		KeyFunc:    cfg.KeyFunc,
		DeductWhen: cfg.DeductWhen,
	}
	if defaults.KeyFunc == nil {
		defaults.KeyFunc = RemoteAddressKey
	}
	if cfg.DefaultLimits != "" {
		spec, err := rate.Parse(cfg.DefaultLimits)
		if err != nil {
			return nil, fmt.Errorf("default limits: %w", err)
		}
		defaults.Limits = spec
	}

	policy := cfg.FailurePolicy
	if policy == "" {
		policy = FailClosed
	}
	if !policy.Valid() {
		return nil, fmt.Errorf("unknown failure policy %q", cfg.FailurePolicy)
	}

	backend := cfg.Backend
	ownsBackend := false
	if backend == nil {
		var err error
		backend, err = storage.New(cfg.StorageURL, cfg.Strategy, cfg.StorageOptions)
		if err != nil {
			return nil, fmt.Errorf("storage: %w", err)
		}
		ownsBackend = true
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := backend.Check(ctx); err != nil {
		if ownsBackend {
			backend.Close()
		}
		return nil, fmt.Errorf("storage health check: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = getDefaultMetrics()
	}

	return &Limiter{
		registry:    NewRegistry(),
		engine:      NewEngine(backend, cfg.KeyPrefix),
		backend:     backend,
		ownsBackend: ownsBackend,
		defaults:    defaults,
		policy:      policy,
		observer:    cfg.Observer,
		logger:      logger.With("component", "admission"),
		metrics:     metrics,
		throttle:    logging.NewThrottle(time.Second, 1),
	}, nil
}

// DeclareGroup registers the group-scope declaration for group.
func (l *Limiter) DeclareGroup(group string, d Declaration) error {
	return l.registry.DeclareGroup(group, d)
}

// Declare registers the operation-scope declaration for (group,
// operation).
func (l *Limiter) Declare(group, operation string, d Declaration) error {
	return l.registry.DeclareOperation(group, operation, d)
}

// Registry exposes the declaration registry, for callers that assemble
// declarations elsewhere.
func (l *Limiter) Registry() *Registry {
	return l.registry
}

// Close releases the storage backend when the limiter built it. Backends
// injected through Config.Backend stay open.
func (l *Limiter) Close() error {
	if l.ownsBackend {
		return l.backend.Close()
	}
	return nil
}

// Admission is the outcome of the pre-dispatch checkpoint for one
// request. When Deferred reports true the caller must invoke Finish after
// the handler completes, with the response outcome.
type Admission struct {
	// Limited reports whether any rate limiting applied. When false the
	// request passed through untouched and every other field is zero.
	Limited bool

	// Allowed is the pre-dispatch verdict.
	Allowed bool

	// Decision carries the limit verdict detail when Limited.
	Decision Decision

	// Failure classifies a failure-path verdict; match with errors.Is
	// against ErrKeyResolution, ErrDynamicLimit, ErrStorageUnavailable.
	// Nil for clean decisions.
	Failure error

	limiter *Limiter
	request *http.Request
	deduct  DeductWhenFunc
	spec    rate.Spec
	key     string

	// item governs the rate-limit response headers: the violated item on
	// denial, the first spec item otherwise.
	item *rate.Item

	finished bool
}

// Deferred reports whether hit recording waits for Finish.
func (a *Admission) Deferred() bool {
	return a.deduct != nil
}

// Admit runs the pre-dispatch checkpoint for (group, operation) against
// r. It never panics and never returns an error: every failure is folded
// into the verdict per the failure policy and reported through metrics,
// logs and the observer.
func (l *Limiter) Admit(r *http.Request, group, operation string) *Admission {
	eff := l.registry.Resolve(group, operation, l.defaults)
	if !eff.Limited() {
		return &Admission{Allowed: true}
	}

	finish := l.metrics.CheckStarted()
	defer finish()
	started := time.Now()

	adm := &Admission{Limited: true, limiter: l}

	// Key resolution. Failure denies without touching storage.
	key, err := callKeyFunc(eff.KeyFunc, r)
	if err == nil && key == "" {
		err = fmt.Errorf("key function returned an empty key")
	}
	if err != nil {
		adm.Failure = fmt.Errorf("%w: %w", ErrKeyResolution, err)
		l.observeCheck(adm, group, operation, "resolve", started)
		return adm
	}
	adm.key = key

	// Spec resolution. A dynamic function wins over static limits and is
	// parsed fresh for every request.
	spec := eff.Limits
	if eff.DynamicLimits != nil {
		expr, derr := callDynamicLimitFunc(eff.DynamicLimits, r)
		if derr == nil {
			spec, derr = rate.Parse(expr)
		}
		if derr != nil {
			adm.Failure = fmt.Errorf("%w: %w", ErrDynamicLimit, derr)
			l.observeCheck(adm, group, operation, "resolve", started)
			return adm
		}
	}
	adm.spec = spec

	// Evaluation. The default deduction path records atomically in the
	// same storage round; a custom predicate defers recording to Finish.
	ctx := r.Context()
	path := "evaluate_and_record"
	var dec Decision
	if eff.DeductWhen != nil {
		path = "evaluate"
		dec, err = l.engine.Evaluate(ctx, key, spec)
	} else {
		dec, err = l.engine.EvaluateAndRecord(ctx, key, spec)
	}
	if err != nil {
		adm.Failure = err
		if errors.Is(err, ErrStorageUnavailable) && l.policy == FailOpen {
			adm.Allowed = true
		}
		l.observeCheck(adm, group, operation, path, started)
		return adm
	}

	adm.Allowed = dec.Allowed
	adm.Decision = dec

	item := spec[0]
	if dec.Violated != nil {
		item = *dec.Violated
	}
	adm.item = &item
	if stats, serr := l.engine.Stats(ctx, key, item); serr == nil {
		adm.Decision.Stats = &stats
	}

	if eff.DeductWhen != nil && dec.Allowed {
		adm.deduct = eff.DeductWhen
		adm.request = r
	}

	l.observeCheck(adm, group, operation, path, started)
	return adm
}

// Finish runs the post-dispatch checkpoint: it consults the deduction
// predicate with the completed outcome and records the hit when approved.
// Calling Finish on a non-deferred admission is a no-op; so is calling it
// twice.
func (a *Admission) Finish(ctx context.Context, outcome Outcome) {
	if a == nil || a.deduct == nil || a.finished {
		return
	}
	a.finished = true
	l := a.limiter

	record, err := callDeductWhen(a.deduct, a.request, outcome)
	if err != nil {
		// The response is already written; never record on a failed
		// predicate so a request is never double-counted.
		err = fmt.Errorf("%w: %w", ErrDeduction, err)
		l.metrics.RecordError("deduction")
		l.metrics.RecordDeduction("failed")
		l.logFailure("deduction predicate failed", err)
		return
	}
	if !record {
		l.metrics.RecordDeduction("skipped")
		return
	}

	// Recording must survive the client hanging up after the response.
	if err := l.engine.Record(context.WithoutCancel(ctx), a.key, a.spec); err != nil {
		l.metrics.RecordError(errorKind(err))
		l.metrics.RecordDeduction("failed")
		l.logFailure("deferred recording failed", err)
		return
	}
	l.metrics.RecordDeduction("recorded")
}

// observeCheck emits metrics, logs and the observer event for one
// completed pre-dispatch checkpoint.
func (l *Limiter) observeCheck(adm *Admission, group, operation, path string, started time.Time) {
	duration := time.Since(started)

	l.metrics.RecordDecision(group, operation, adm.Allowed)
	l.metrics.RecordCheckDuration(path, duration.Seconds())
	if adm.Decision.Violated != nil {
		l.metrics.RecordViolation(group, operation, string(adm.Decision.Violated.Granularity))
	}

	if adm.Failure != nil {
		l.metrics.RecordError(errorKind(adm.Failure))
		l.logFailure("admission check failed",
			adm.Failure,
			"group", group,
			"operation", operation,
			"allowed", adm.Allowed,
		)
	} else if !adm.Allowed {
		l.logger.Debug("request denied",
			"group", group,
			"operation", operation,
			"key", adm.key,
			"violated", adm.Decision.Violated.String(),
		)
	}

	if l.observer != nil {
		l.observer.ObserveDecision(DecisionEvent{
			ID:        uuid.NewString(),
			Time:      time.Now(),
			Group:     group,
			Operation: operation,
			Key:       adm.key,
			Allowed:   adm.Allowed,
			Violated:  adm.Decision.Violated,
			Err:       adm.Failure,
			Duration:  duration,
		})
	}
}

// logFailure emits a throttled error line so failure classes repeating at
// request rate cannot flood the log.
func (l *Limiter) logFailure(msg string, err error, args ...any) {
	if !l.throttle.Allow() {
		return
	}
	args = append(args, "error", err, "suppressed", l.throttle.TakeSuppressed())
	l.logger.Error(msg, args...)
}

// errorKind labels a failure for metrics.
func errorKind(err error) string {
	switch {
	case errors.Is(err, ErrKeyResolution):
		return "key_resolution"
	case errors.Is(err, ErrDynamicLimit):
		return "dynamic_limit"
	case errors.Is(err, ErrStorageUnavailable):
		return "storage"
	case errors.Is(err, ErrDeduction):
		return "deduction"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "other"
	}
}

// The user-supplied callbacks run inside the serving loop; a panicking
// callback must become an error, not a crashed request.

func callKeyFunc(fn KeyFunc, r *http.Request) (key string, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("key function panicked: %v", p)
		}
	}()
	return fn(r)
}

func callDynamicLimitFunc(fn DynamicLimitFunc, r *http.Request) (expr string, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("dynamic limit function panicked: %v", p)
		}
	}()
	return fn(r)
}

func callDeductWhen(fn DeductWhenFunc, r *http.Request, outcome Outcome) (record bool, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("deduct-when panicked: %v", p)
		}
	}()
	return fn(r, outcome)
}
