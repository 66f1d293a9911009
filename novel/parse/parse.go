// Package parse turns generated text into structured artifacts.
//
// Every parser tries a strict format first and then progressively more
// lenient strategies. The final strategy never discards input: it keeps the
// raw text as the payload. Callers learn which strategy succeeded from the
// returned Result and can log the strict-parse failure kept in Result.Err.
package parse

import (
	"fmt"
	"regexp"
	"strings"
)

// Strategy names the parsing strategy that produced a value.
type Strategy string

const (
	// StrategyStrict means the text matched the requested format exactly.
	StrategyStrict Strategy = "strict"

	// StrategyLenient means markers were found but not in the exact shape.
	StrategyLenient Strategy = "lenient"

	// StrategyFallback means no structure was recognised and the raw text
	// was used as the payload.
	StrategyFallback Strategy = "fallback"
)

// ParseError describes why a strategy rejected the input.
type ParseError struct {
	// Stage is the artifact being parsed, e.g. "chapter" or "plan".
	Stage string

	// Strategy is the strategy that failed.
	Strategy Strategy

	// Reason is a human-readable explanation.
	Reason string
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s (%s): %s", e.Stage, e.Strategy, e.Reason)
}

// Result is the outcome of a layered parse.
//
// Value is always usable. Err is the first failure encountered, so a
// fallback result still explains what went wrong with the strict format.
type Result[T any] struct {
	Value    T
	Strategy Strategy
	Err      *ParseError
}

// Degraded reports whether a non-strict strategy produced the value.
func (r Result[T]) Degraded() bool {
	return r.Strategy != StrategyStrict
}

func strict[T any](v T) Result[T] {
	return Result[T]{Value: v, Strategy: StrategyStrict}
}

func degraded[T any](v T, strategy Strategy, first *ParseError) Result[T] {
	return Result[T]{Value: v, Strategy: strategy, Err: first}
}

var listPrefix = regexp.MustCompile(`^\s*(\d+\.|\*|-)\s*`)

// List splits text into items, one per non-empty line, with numbering and
// bullet prefixes removed.
func List(text string) []string {
	var items []string
	for _, line := range strings.Split(strings.TrimSpace(text), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if item := listPrefix.ReplaceAllString(line, ""); item != "" {
			items = append(items, item)
		}
	}
	return items
}

// splitCSV splits a comma-separated value, treating "none" as empty.
func splitCSV(value string) []string {
	if strings.EqualFold(strings.TrimSpace(value), "none") {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// field returns the single-line value of "Name: value" in block, matching
// the name case-insensitively with underscores and spaces interchangeable.
func field(block string, names ...string) (string, bool) {
	for _, name := range names {
		pattern := strings.ReplaceAll(regexp.QuoteMeta(name), "_", "[_ ]")
		re := regexp.MustCompile(`(?im)^\s*(?:\*\*)?` + pattern + `(?:\*\*)?\s*:\s*(.*)$`)
		if m := re.FindStringSubmatch(block); m != nil {
			if v := strings.TrimSpace(strings.Trim(m[1], "*")); v != "" {
				return v, true
			}
		}
	}
	return "", false
}

// truncate keeps the first n runes of s.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
