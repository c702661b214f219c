// Package rate defines the limit vocabulary used throughout saturn: the
// granularity units, the single-window limit item, the ordered multi-window
// spec, and the textual grammar they are parsed from.
//
// # Overview
//
// A limit is expressed as "at most N hits per window". The window is a
// multiple of a calendar-flavored granularity:
//
//   - Item: one constraint, e.g. 100 hits per 15 minutes
//   - Spec: an ordered conjunction of items, e.g. "10 per hour; 1 per second"
//
// A request is admitted only when every item in the spec admits it. Items
// are always evaluated in declaration order, and the first item that denies
// is the one reported to the caller, so the order of a spec is part of its
// meaning.
//
// # Grammar
//
// The textual form accepted by Parse:
//
//	<amount> (per|/) [<multiples>] <granularity>
//
// joined into lists with ";" or ",". Granularity keywords are matched
// case-insensitively and accept an optional trailing "s". All of these are
// valid:
//
//	10 per hour
//	10/hour
//	10 / 2 Hours
//	5 per minute; 100 per day
//	5 per minute, 100 per day
//
// # Usage
//
//	spec, err := rate.Parse("5 per minute; 100 per day")
//	if err != nil {
//	    // errors.Is(err, rate.ErrMalformedExpression) == true
//	}
//	spec[0].Window() // 1 minute
//
// The structured and textual forms round-trip: Parse(spec.String()) always
// reproduces spec.
package rate
