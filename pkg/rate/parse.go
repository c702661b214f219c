package rate

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ErrMalformedExpression is the sentinel wrapped by every parse failure.
// Match it with errors.Is.
var ErrMalformedExpression = errors.New("malformed limit expression")

// ParseError describes why a limit expression was rejected. It wraps
// ErrMalformedExpression so callers can match the class without inspecting
// the message.
type ParseError struct {
	// Input is the offending expression or fragment.
	Input string

	// Reason explains what was wrong with it.
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("malformed limit expression %q: %s", e.Input, e.Reason)
}

func (e *ParseError) Unwrap() error {
	return ErrMalformedExpression
}

// itemPattern matches one limit item: amount, "per" or "/", optional
// multiples, granularity keyword with an optional trailing "s".
var itemPattern = regexp.MustCompile(
	`(?i)^\s*(\d+)\s*(?:per|/)\s*(\d+)?\s*(second|minute|hour|day|month|year)s?\s*$`,
)

// listSeparators splits a multi-item expression. "," and ";" are
// interchangeable and may be mixed.
var listSeparators = regexp.MustCompile(`[;,]`)

// ParseItem parses a single limit item, e.g. "100 per 15 minutes".
func ParseItem(expr string) (Item, error) {
	m := itemPattern.FindStringSubmatch(expr)
	if m == nil {
		return Item{}, &ParseError{Input: strings.TrimSpace(expr), Reason: "expected \"<amount> (per|/) [<multiples>] <granularity>\""}
	}

	amount, err := strconv.ParseUint(m[1], 10, 64)
	if err != nil {
		return Item{}, &ParseError{Input: strings.TrimSpace(expr), Reason: fmt.Sprintf("amount %q out of range", m[1])}
	}
	if amount == 0 {
		return Item{}, &ParseError{Input: strings.TrimSpace(expr), Reason: "amount must be positive"}
	}

	multiples := uint64(1)
	if m[2] != "" {
		multiples, err = strconv.ParseUint(m[2], 10, 64)
		if err != nil {
			return Item{}, &ParseError{Input: strings.TrimSpace(expr), Reason: fmt.Sprintf("multiples %q out of range", m[2])}
		}
		if multiples == 0 {
			return Item{}, &ParseError{Input: strings.TrimSpace(expr), Reason: "multiples must be positive"}
		}
	}

	return Item{
		Amount:      amount,
		Multiples:   multiples,
		Granularity: Granularity(strings.ToLower(m[3])),
	}, nil
}

// Parse parses a limit expression into a Spec. The expression is one or
// more items separated by ";" or ","; item order in the text becomes
// evaluation order in the spec.
//
// Example:
//
//	spec, err := rate.Parse("5 per minute, 100 per day")
//	// Spec{{5, 1, Minute}, {100, 1, Day}}
//
// An empty expression or any unparsable item fails the whole parse.
func Parse(expr string) (Spec, error) {
	if strings.TrimSpace(expr) == "" {
		return nil, &ParseError{Input: expr, Reason: "empty expression"}
	}

	fragments := listSeparators.Split(expr, -1)
	spec := make(Spec, 0, len(fragments))
	for _, frag := range fragments {
		item, err := ParseItem(frag)
		if err != nil {
			return nil, err
		}
		spec = append(spec, item)
	}
	return spec, nil
}

// MustParse is Parse for compile-time-constant expressions; it panics on
// error. Intended for tests, examples, and hard-coded defaults.
func MustParse(expr string) Spec {
	spec, err := Parse(expr)
	if err != nil {
		panic(err)
	}
	return spec
}
