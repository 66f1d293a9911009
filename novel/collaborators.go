package novel

import (
	"context"

	"github.com/dshills/storygraph/knowledge"
	"github.com/dshills/storygraph/novel/parse"
)

// TextGenerator produces text for a prompt. *model.Generator implements
// it.
type TextGenerator interface {
	GenerateText(ctx context.Context, prompt string) (string, error)
}

// Scorer rates chapter content.
type Scorer interface {
	Score(ctx context.Context, content string) (parse.Score, error)
}

// ConflictDetector finds contradictions between content and established
// facts. An empty result means no findings.
type ConflictDetector interface {
	Detect(ctx context.Context, content string, facts []knowledge.Snippet) ([]parse.Finding, error)
}

// Rewriter proposes replacements for an excerpt that has a problem.
type Rewriter interface {
	Rewrite(ctx context.Context, excerpt, problem, chapter string) ([]string, error)
}

// Deps are the collaborators of the pipeline.
//
// Generator and Scorer are required. A nil Detector disables conflict
// detection, a nil Rewriter leaves conflicts without suggestions unless
// the detector proposed one, and a nil Knowledge uses a MemoryBase.
type Deps struct {
	Generator TextGenerator
	Scorer    Scorer
	Detector  ConflictDetector
	Rewriter  Rewriter
	Knowledge knowledge.Base
}
