// Package knowledge stores the facts a job has established (outline,
// worldview, cast, plan and accepted chapters) and retrieves the ones
// relevant to the chapter being written.
//
// Three backends are provided:
//   - MemoryBase: process-local, for tests and single-shot CLI runs
//   - BadgerBase: embedded and durable, for a single server
//   - WeaviateBase: a shared vector database
//
// All backends partition documents by job ID; a job never sees another
// job's documents.
package knowledge

import (
	"context"
	"errors"
	"math"
	"sort"
	"strings"
	"unicode"
)

// ErrClosed is returned by operations on a closed base.
var ErrClosed = errors.New("knowledge base is closed")

// Document kinds.
const (
	KindOutline   = "outline"
	KindWorldview = "worldview"
	KindCharacter = "character"
	KindPlan      = "plan"
	KindChapter   = "chapter"
)

// Document is one stored fact.
type Document struct {
	Kind    string `json:"kind"`
	Chapter int    `json:"chapter,omitempty"`
	Text    string `json:"text"`
}

// Snippet is a retrieved document with its relevance score. Higher is
// more relevant; scores are only comparable within one result set.
type Snippet struct {
	Document
	Score float64 `json:"score"`
}

// Base is a per-job knowledge base.
type Base interface {
	// Add stores documents for a job.
	Add(ctx context.Context, jobID string, docs ...Document) error

	// Retrieve returns up to k documents ranked by relevance to query.
	Retrieve(ctx context.Context, jobID, query string, k int) ([]Snippet, error)

	// Delete removes every document of a job.
	Delete(ctx context.Context, jobID string) error
}

// rank scores docs against query by term overlap, normalised by document
// length, and returns the best k in descending order. Documents sharing no
// term with the query are dropped. Ties keep insertion order.
func rank(docs []Document, query string, k int) []Snippet {
	if k <= 0 {
		return nil
	}
	terms := tokens(query)
	if len(terms) == 0 {
		return nil
	}

	var out []Snippet
	for _, doc := range docs {
		docTerms := tokens(doc.Text)
		if len(docTerms) == 0 {
			continue
		}
		hits := 0
		for term := range terms {
			if _, ok := docTerms[term]; ok {
				hits++
			}
		}
		if hits == 0 {
			continue
		}
		out = append(out, Snippet{
			Document: doc,
			Score:    float64(hits) / math.Sqrt(float64(len(docTerms))),
		})
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > k {
		out = out[:k]
	}
	return out
}

// tokens returns the distinct lower-cased words of at least three letters.
func tokens(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, word := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if len([]rune(word)) >= 3 {
			set[word] = struct{}{}
		}
	}
	return set
}
