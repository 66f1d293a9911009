// Package config loads storygraph settings from defaults, an optional YAML
// file and STORYGRAPH_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/dshills/storygraph/novel"
)

// Config is the complete storygraph configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Store     StoreConfig     `mapstructure:"store"`
	Knowledge KnowledgeConfig `mapstructure:"knowledge"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Log       LogConfig       `mapstructure:"log"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
}

type ServerConfig struct {
	Host string `mapstructure:"host" validate:"required"`
	Port int    `mapstructure:"port" validate:"min=1,max=65535"`

	// MaxConcurrentJobs bounds jobs running in the background at once.
	MaxConcurrentJobs int `mapstructure:"max_concurrent_jobs" validate:"min=1"`
}

// StoreConfig selects the job store. Path is used by sqlite, DSN by mysql.
type StoreConfig struct {
	Driver string `mapstructure:"driver" validate:"oneof=memory sqlite mysql"`
	Path   string `mapstructure:"path" validate:"required_if=Driver sqlite"`
	DSN    string `mapstructure:"dsn" validate:"required_if=Driver mysql"`
}

type KnowledgeConfig struct {
	Backend        string `mapstructure:"backend" validate:"oneof=memory badger weaviate"`
	Path           string `mapstructure:"path" validate:"required_if=Backend badger"`
	WeaviateHost   string `mapstructure:"weaviate_host" validate:"required_if=Backend weaviate"`
	WeaviateScheme string `mapstructure:"weaviate_scheme" validate:"omitempty,oneof=http https"`
	Class          string `mapstructure:"class"`

	// Search is "bm25" or "near_text".
	Search string `mapstructure:"search" validate:"omitempty,oneof=bm25 near_text"`
}

// LLMConfig selects and tunes the text generation provider. APIKey may be
// a ${VAR} reference.
type LLMConfig struct {
	Provider    string        `mapstructure:"provider" validate:"oneof=mock openai anthropic google"`
	Model       string        `mapstructure:"model"`
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url" validate:"omitempty,url"`
	MaxTokens   int           `mapstructure:"max_tokens" validate:"gte=0"`
	Temperature float64       `mapstructure:"temperature" validate:"gte=0,lte=2"`
	MaxRetries  int           `mapstructure:"max_retries" validate:"gte=0,lte=10"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// PipelineConfig holds defaults for fields a job request leaves unset.
type PipelineConfig struct {
	Chapters          int     `mapstructure:"chapters" validate:"gte=0,lte=200"`
	WordsPerChapter   int     `mapstructure:"words_per_chapter" validate:"gte=0"`
	MaxChapterRetries int     `mapstructure:"max_chapter_retries" validate:"gte=0,lte=10"`
	MaxLoopIterations int     `mapstructure:"max_loop_iterations" validate:"gte=0"` // 0 derives from chapters
	QualityThreshold  float64 `mapstructure:"quality_threshold" validate:"gte=0,lte=10"`
	OptionCount       int     `mapstructure:"option_count" validate:"gte=0,lte=10"`
	BranchLength      int     `mapstructure:"branch_length" validate:"gte=0"`

	// StepTimeout bounds a single pipeline node, collaborator retries
	// included. 0 disables it.
	StepTimeout time.Duration `mapstructure:"step_timeout" validate:"gte=0"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=text json"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// TracingConfig selects the span exporter. Endpoint is the OTLP gRPC
// collector address.
type TracingConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Exporter string `mapstructure:"exporter" validate:"oneof=stdout otlp"`
	Endpoint string `mapstructure:"endpoint" validate:"required_if=Exporter otlp"`
	Insecure bool   `mapstructure:"insecure"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks every section.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Apply fills the zero fields of a job config from the pipeline defaults.
func (p PipelineConfig) Apply(job *novel.JobConfig) {
	if job.Chapters == 0 {
		job.Chapters = p.Chapters
	}
	if job.WordsPerChapter == 0 {
		job.WordsPerChapter = p.WordsPerChapter
	}
	if job.MaxChapterRetries == nil {
		job.MaxChapterRetries = novel.Retries(p.MaxChapterRetries)
	}
	if job.MaxLoopIterations == 0 {
		job.MaxLoopIterations = p.MaxLoopIterations
	}
	if job.QualityThreshold == 0 {
		job.QualityThreshold = p.QualityThreshold
	}
	if job.OptionCount == 0 {
		job.OptionCount = p.OptionCount
	}
	if job.BranchLength == 0 {
		job.BranchLength = p.BranchLength
	}
}

// APIKeyResolved returns the API key with ${VAR} references expanded.
func (l LLMConfig) APIKeyResolved() string {
	return ResolveEnvVars(l.APIKey)
}

var envRef = regexp.MustCompile(`\$\{([^}]+)\}`)

// ResolveEnvVars expands ${ENV_VAR} references in a string.
func ResolveEnvVars(value string) string {
	if value == "" {
		return value
	}
	return envRef.ReplaceAllStringFunc(value, func(match string) string {
		return os.Getenv(match[2 : len(match)-1])
	})
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.max_concurrent_jobs", 4)

	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.path", "")
	v.SetDefault("store.dsn", "")

	v.SetDefault("knowledge.backend", "memory")
	v.SetDefault("knowledge.path", "")
	v.SetDefault("knowledge.weaviate_host", "")
	v.SetDefault("knowledge.weaviate_scheme", "http")
	v.SetDefault("knowledge.class", "StoryFact")
	v.SetDefault("knowledge.search", "bm25")

	v.SetDefault("llm.provider", "mock")
	v.SetDefault("llm.model", "")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.max_tokens", 0)
	v.SetDefault("llm.temperature", 0.8)
	v.SetDefault("llm.max_retries", 2)
	v.SetDefault("llm.base_delay", time.Second)
	v.SetDefault("llm.timeout", 2*time.Minute)

	v.SetDefault("pipeline.chapters", 10)
	v.SetDefault("pipeline.words_per_chapter", novel.DefaultWordsPerChapter)
	v.SetDefault("pipeline.max_chapter_retries", novel.DefaultMaxChapterRetries)
	v.SetDefault("pipeline.max_loop_iterations", 0)
	v.SetDefault("pipeline.quality_threshold", novel.DefaultQualityThreshold)
	v.SetDefault("pipeline.option_count", novel.DefaultOptionCount)
	v.SetDefault("pipeline.branch_length", novel.DefaultBranchLength)
	v.SetDefault("pipeline.step_timeout", 10*time.Minute)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.exporter", "stdout")
	v.SetDefault("tracing.endpoint", "localhost:4317")
}

// Manager handles loading and hot-reloading configuration.
type Manager struct {
	v *viper.Viper

	mu        sync.RWMutex
	config    *Config
	callbacks []func(*Config)
}

// NewManager creates a config manager and loads the initial config. An
// empty cfgFile looks for config.yaml in the working directory and in
// $HOME/.storygraph; a missing file is not an error.
func NewManager(cfgFile string) (*Manager, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("STORYGRAPH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.storygraph")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	m := &Manager{v: v}
	cfg, err := m.load()
	if err != nil {
		return nil, err
	}
	m.config = cfg
	return m, nil
}

func (m *Manager) load() (*Config, error) {
	var cfg Config
	if err := m.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Get returns the current configuration.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// File returns the config file in use, or "" when none was found.
func (m *Manager) File() string {
	return m.v.ConfigFileUsed()
}

// OnChange registers a callback for config changes.
func (m *Manager) OnChange(fn func(*Config)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, fn)
}

// Watch reloads the config file when it changes and notifies callbacks.
// A reloaded config that fails validation is reported to onError and the
// previous config stays active.
func (m *Manager) Watch(onError func(error)) {
	m.v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := m.load()
		if err != nil {
			if onError != nil {
				onError(fmt.Errorf("reload %s: %w", e.Name, err))
			}
			return
		}

		m.mu.Lock()
		m.config = cfg
		callbacks := make([]func(*Config), len(m.callbacks))
		copy(callbacks, m.callbacks)
		m.mu.Unlock()

		for _, fn := range callbacks {
			fn(cfg)
		}
	})
	m.v.WatchConfig()
}
