package novel

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// InteractionMode says how pauses are surfaced when a job is not in auto
// mode.
type InteractionMode string

const (
	// InteractionRemote persists the pause and waits for a decision to be
	// posted, typically over HTTP.
	InteractionRemote InteractionMode = "remote"

	// InteractionEmbedded asks a Prompter inline and continues in-process.
	InteractionEmbedded InteractionMode = "embedded"
)

// Defaults applied by Normalize.
const (
	DefaultMaxChapterRetries = 1
	DefaultMaxLoopIterations = 20
	DefaultQualityThreshold  = 7.0
	DefaultOptionCount       = 2
	DefaultBranchLength      = 2
	DefaultWordsPerChapter   = 1500
)

// JobConfig is the immutable input of a job.
type JobConfig struct {
	Theme           string          `json:"theme" mapstructure:"theme" validate:"required"`
	Style           string          `json:"style,omitempty" mapstructure:"style"`
	Chapters        int             `json:"chapters" mapstructure:"chapters" validate:"min=1,max=200"`
	WordsPerChapter int             `json:"words_per_chapter" mapstructure:"words_per_chapter" validate:"gte=0"`
	AutoMode        bool            `json:"auto_mode" mapstructure:"auto_mode"`
	InteractionMode InteractionMode `json:"interaction_mode" mapstructure:"interaction_mode" validate:"oneof=remote embedded"`

	// MaxChapterRetries bounds quality-gate retries per chapter. Nil means
	// DefaultMaxChapterRetries; zero disables retries.
	MaxChapterRetries *int `json:"max_chapter_retries,omitempty" mapstructure:"max_chapter_retries" validate:"omitempty,gte=0,lte=10"`

	// MaxLoopIterations caps accepted chapters across the whole job. Zero
	// derives the cap from Chapters, see LoopCap.
	MaxLoopIterations int     `json:"max_loop_iterations" mapstructure:"max_loop_iterations" validate:"gte=1"`
	QualityThreshold  float64 `json:"quality_threshold" mapstructure:"quality_threshold" validate:"gte=0,lte=10"`
	OptionCount       int     `json:"option_count" mapstructure:"option_count" validate:"min=1,max=10"`

	// TwistAtChapter offers a plot twist after that chapter is accepted.
	// Zero disables twists.
	TwistAtChapter int `json:"twist_at_chapter,omitempty" mapstructure:"twist_at_chapter" validate:"gte=0"`

	// BranchAtChapter offers a plot branch before that chapter is drafted.
	// Zero disables branches.
	BranchAtChapter int `json:"branch_at_chapter,omitempty" mapstructure:"branch_at_chapter" validate:"gte=0"`
	BranchLength    int `json:"branch_length" mapstructure:"branch_length" validate:"min=1"`

	// ManualReview pauses after every accepted chapter outside auto mode.
	ManualReview bool `json:"manual_review,omitempty" mapstructure:"manual_review"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Normalize fills unset fields with defaults.
func (c *JobConfig) Normalize() {
	c.Theme = strings.TrimSpace(c.Theme)
	if c.InteractionMode == "" {
		c.InteractionMode = InteractionRemote
	}
	if c.WordsPerChapter == 0 {
		c.WordsPerChapter = DefaultWordsPerChapter
	}
	if c.MaxChapterRetries == nil {
		c.MaxChapterRetries = Retries(DefaultMaxChapterRetries)
	}
	if c.MaxLoopIterations == 0 {
		c.MaxLoopIterations = LoopCap(c.Chapters)
	}
	if c.QualityThreshold == 0 {
		c.QualityThreshold = DefaultQualityThreshold
	}
	if c.OptionCount == 0 {
		c.OptionCount = DefaultOptionCount
	}
	if c.BranchLength == 0 {
		c.BranchLength = DefaultBranchLength
	}
}

// Retries returns a retry bound for JobConfig.MaxChapterRetries.
func Retries(n int) *int {
	return &n
}

// LoopCap is the default loop safety cap for a job of the given length.
// It leaves room for every chapter plus regenerated plot tails.
func LoopCap(chapters int) int {
	return max(DefaultMaxLoopIterations, 2*chapters)
}

// Validate checks the config. Call Normalize first.
func (c JobConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q (value %v)", fe.Field(), fe.Tag(), fe.Value()))
			}
			return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}
