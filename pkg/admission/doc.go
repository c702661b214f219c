// Package admission decides, per request, whether an HTTP operation may
// run under its declared rate limits, and records usage so future
// decisions see it.
//
// # Overview
//
// The package is organized around a small set of collaborators:
//
//   - Registry: declarations keyed by (group, operation) identity,
//     registered once at setup and immutable afterwards
//   - Resolve: the field-wise merge producing the effective configuration
//     for one operation (operation wins, then group, then process defaults)
//   - Engine: evaluates a key against a limit spec and records hits,
//     delegating all counting to a storage.Backend
//   - Limiter: ties the above together and wraps handlers with the
//     admission checkpoint
//
// # Usage
//
//	lim, err := admission.New(admission.Config{
//	    DefaultLimits: "100 per minute",
//	    StorageURL:    "memory://",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer lim.Close()
//
//	err = lim.DeclareGroup("things", admission.Declaration{
//	    Limits: rate.MustParse("10 per hour"),
//	})
//	err = lim.Declare("things", "create", admission.Declaration{
//	    Limits: rate.MustParse("1 per second; 100 per day"),
//	})
//
//	mux.Handle("GET /things", lim.Protect("things", "list", listHandler))
//	mux.Handle("POST /things", lim.Protect("things", "create", createHandler))
//
// Only handlers wrapped with Protect are admission-controlled. A wrapped
// operation with no declaration at either scope falls back to the process
// defaults; if those carry no limits either, requests pass through
// untouched.
//
// # Deferred deduction
//
// By default every admitted request consumes one hit from each window
// before the handler runs. With a custom DeductWhen the pre-dispatch
// checkpoint only tests capacity, and the hit is recorded after the
// handler completes, only when the predicate approves the outcome:
//
//	lim.Declare("things", "create", admission.Declaration{
//	    Limits:     rate.MustParse("10 per minute"),
//	    DeductWhen: func(r *http.Request, o admission.Outcome) (bool, error) {
//	        return o.StatusCode == http.StatusCreated, nil
//	    },
//	})
//
// # Failure handling
//
// Key-resolution and dynamic-limit failures always deny the request
// without touching storage. Storage failures follow the configured
// FailurePolicy; the default FailClosed denies. Every failure is counted,
// logged (throttled) and delivered to the optional Observer; none of them
// panics the serving loop.
//
// # Thread Safety
//
// A Limiter is safe for concurrent use by any number of in-flight
// requests. Declarations must complete before traffic is served; the
// registry rejects re-declarations rather than mutating live config.
package admission
