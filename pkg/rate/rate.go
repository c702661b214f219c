package rate

import (
	"fmt"
	"strings"
	"time"
)

// Granularity is the base time unit of a limit window.
type Granularity string

const (
	// Second is a one-second window unit.
	Second Granularity = "second"

	// Minute is a one-minute window unit.
	Minute Granularity = "minute"

	// Hour is a one-hour window unit.
	Hour Granularity = "hour"

	// Day is a 24-hour window unit.
	Day Granularity = "day"

	// Month is a 30-day window unit.
	Month Granularity = "month"

	// Year is a 365-day window unit.
	Year Granularity = "year"
)

// granularityDurations maps each unit to its fixed length. Months and years
// are fixed at 30 and 365 days; windows are durations, not calendar spans.
var granularityDurations = map[Granularity]time.Duration{
	Second: time.Second,
	Minute: time.Minute,
	Hour:   time.Hour,
	Day:    24 * time.Hour,
	Month:  30 * 24 * time.Hour,
	Year:   365 * 24 * time.Hour,
}

// Duration returns the length of a single unit of the granularity.
// Unknown granularities return zero.
func (g Granularity) Duration() time.Duration {
	return granularityDurations[g]
}

// Valid reports whether g is one of the defined units.
func (g Granularity) Valid() bool {
	_, ok := granularityDurations[g]
	return ok
}

// String returns the singular unit name ("minute").
func (g Granularity) String() string {
	return string(g)
}

// Item is a single window constraint: at most Amount hits per
// Multiples x Granularity.
//
// Example:
//
//	rate.Item{Amount: 100, Multiples: 15, Granularity: rate.Minute}
//
// allows 100 hits per 15-minute window.
type Item struct {
	// Amount is the maximum number of hits inside one window. Must be > 0.
	Amount uint64

	// Multiples scales the granularity to the window length. Must be > 0.
	Multiples uint64

	// Granularity is the base unit of the window.
	Granularity Granularity
}

// Window returns the full window length, Multiples x Granularity.
func (it Item) Window() time.Duration {
	return time.Duration(it.Multiples) * it.Granularity.Duration()
}

// Validate checks the item's fields. Parse output is always valid; Validate
// guards items assembled directly from struct literals.
func (it Item) Validate() error {
	if it.Amount == 0 {
		return &ParseError{Input: it.String(), Reason: "amount must be positive"}
	}
	if it.Multiples == 0 {
		return &ParseError{Input: it.String(), Reason: "multiples must be positive"}
	}
	if !it.Granularity.Valid() {
		return &ParseError{Input: it.String(), Reason: fmt.Sprintf("unknown granularity %q", it.Granularity)}
	}
	return nil
}

// String renders the canonical textual form: "<amount> per <multiples>
// <granularity>", with the multiples always printed and the unit singular:
// "5 per 1 minute". The output is accepted by Parse.
func (it Item) String() string {
	return fmt.Sprintf("%d per %d %s", it.Amount, it.Multiples, it.Granularity)
}

// Spec is an ordered conjunction of limit items. A key is admitted only when
// every item admits it; evaluation always walks the slice front to back and
// stops at the first denial.
type Spec []Item

// Validate checks every item in the spec and that the spec is non-empty.
func (s Spec) Validate() error {
	if len(s) == 0 {
		return &ParseError{Input: "", Reason: "empty limit spec"}
	}
	for _, it := range s {
		if err := it.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// String renders the spec as a parseable list, items joined with "; ".
func (s Spec) String() string {
	parts := make([]string, len(s))
	for i, it := range s {
		parts[i] = it.String()
	}
	return strings.Join(parts, "; ")
}
