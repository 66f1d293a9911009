package parse

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Dimensions are the quality dimensions a chapter is scored on.
var Dimensions = []string{
	"Coherence",
	"Consistency",
	"Pacing",
	"Engagement",
	"Originality",
	"Detail",
	"Grammar",
}

// Score is a parsed quality review.
type Score struct {
	// Dimensions maps dimension name to a score in [1, 10]. Dimensions the
	// review did not mention are absent.
	Dimensions map[string]float64 `json:"dimensions"`

	// Overall is the stated overall score, or the mean of the dimensions.
	Overall float64 `json:"overall"`

	// Rationale is the reviewer's justification.
	Rationale string `json:"rationale"`
}

var (
	overallScore  = regexp.MustCompile(`(?i)Overall Score\s*:\s*([0-9]+(?:\.[0-9]+)?)`)
	justification = regexp.MustCompile(`(?is)Justification\s*:\s*(.*)`)
)

// Quality parses a review with one "Dimension: n" line per dimension,
// "Overall Score: n" and "Justification: ...".
//
// Strategies:
//   - strict: every dimension and the overall score present
//   - lenient: some scores present; a missing overall is the mean of the
//     dimensions rounded to one decimal
//   - fallback: no scores at all; overall 0 with the raw text as rationale
func Quality(raw string) Result[Score] {
	s := Score{Dimensions: make(map[string]float64)}

	var sum float64
	for _, dim := range Dimensions {
		re := regexp.MustCompile(`(?i)` + regexp.QuoteMeta(dim) + `\s*:\s*([0-9]+(?:\.[0-9]+)?)`)
		m := re.FindStringSubmatch(raw)
		if m == nil {
			continue
		}
		v, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			continue
		}
		v = clamp(v)
		s.Dimensions[dim] = v
		sum += v
	}

	overallFound := false
	if m := overallScore.FindStringSubmatch(raw); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			s.Overall = clamp(v)
			overallFound = true
		}
	}
	if m := justification.FindStringSubmatch(raw); m != nil {
		s.Rationale = truncate(strings.TrimSpace(m[1]), 1000)
	}

	switch {
	case overallFound && len(s.Dimensions) == len(Dimensions):
		return strict(s)
	case overallFound || len(s.Dimensions) > 0:
		if !overallFound {
			s.Overall = math.Round(sum/float64(len(s.Dimensions))*10) / 10
		}
		if s.Rationale == "" {
			s.Rationale = "Could not parse justification."
		}
		return degraded(s, StrategyLenient, &ParseError{
			Stage:    "score",
			Strategy: StrategyStrict,
			Reason:   fmt.Sprintf("found %d of %d dimension scores", len(s.Dimensions), len(Dimensions)),
		})
	default:
		s.Rationale = truncate(strings.TrimSpace(raw), 1000)
		return degraded(s, StrategyFallback, &ParseError{
			Stage:    "score",
			Strategy: StrategyStrict,
			Reason:   "no scores found",
		})
	}
}

func clamp(v float64) float64 {
	return math.Max(1, math.Min(10, v))
}
