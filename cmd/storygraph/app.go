package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/dshills/storygraph/config"
	"github.com/dshills/storygraph/graph"
	"github.com/dshills/storygraph/graph/emit"
	"github.com/dshills/storygraph/graph/model"
	"github.com/dshills/storygraph/graph/model/anthropic"
	"github.com/dshills/storygraph/graph/model/google"
	"github.com/dshills/storygraph/graph/model/openai"
	"github.com/dshills/storygraph/graph/store"
	"github.com/dshills/storygraph/knowledge"
	"github.com/dshills/storygraph/novel"
	"github.com/dshills/storygraph/novel/agents"
)

// app holds the collaborators shared by every command.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    store.Store[novel.State]
	kb       knowledge.Base
	registry *prometheus.Registry
	metrics  *graph.PrometheusMetrics
	tracer   *sdktrace.TracerProvider
	history  *emit.BufferedEmitter
	ctrl     *novel.Controller

	closers []func(context.Context) error
}

type appOptions struct {
	prompter novel.Prompter
	history  bool
}

// newLogger builds the process logger from the log section.
func newLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// newApp opens every collaborator named by cfg. Close releases them.
func newApp(ctx context.Context, cfg *config.Config, opts appOptions) (a *app, err error) {
	a = &app{cfg: cfg, logger: newLogger(cfg.Log, os.Stderr)}
	defer func() {
		if err != nil {
			_ = a.Close(context.WithoutCancel(ctx))
			a = nil
		}
	}()

	if a.store, err = openStore(cfg.Store); err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func(context.Context) error { return a.store.Close() })

	if a.kb, err = openKnowledge(ctx, cfg.Knowledge, a.logger); err != nil {
		return nil, err
	}
	if c, ok := a.kb.(io.Closer); ok {
		a.closers = append(a.closers, func(context.Context) error { return c.Close() })
	}

	a.registry = prometheus.NewRegistry()
	a.metrics = graph.NewPrometheusMetrics(a.registry)
	if !cfg.Metrics.Enabled {
		a.metrics.Disable()
	}

	emitters := []emit.Emitter{emit.NewSlogEmitter(a.logger.With("component", "graph"))}
	if cfg.Tracing.Enabled {
		if a.tracer, err = newTracerProvider(ctx, cfg.Tracing); err != nil {
			return nil, err
		}
		otel.SetTracerProvider(a.tracer)
		a.closers = append(a.closers, a.tracer.Shutdown)
		emitters = append(emitters, emit.NewOTelEmitter(a.tracer.Tracer("storygraph/graph")))
	}
	if opts.history {
		a.history = emit.NewBufferedEmitter(0)
		emitters = append(emitters, a.history)
	}

	gen, err := newGenerator(cfg.LLM, a.metrics)
	if err != nil {
		return nil, err
	}
	deps := novel.Deps{
		Generator: gen,
		Scorer:    &agents.Scorer{Generator: gen, Logger: a.logger},
		Detector:  &agents.Detector{Generator: gen, Logger: a.logger},
		Rewriter:  &agents.Rewriter{Generator: gen},
		Knowledge: a.kb,
	}

	ctrlOpts := []novel.ControllerOption{
		novel.WithLogger(a.logger),
		novel.WithMetrics(a.metrics),
		novel.WithEmitter(emit.Multi(emitters...)),
		novel.WithNodeTimeout(cfg.Pipeline.StepTimeout),
	}
	if opts.prompter != nil {
		ctrlOpts = append(ctrlOpts, novel.WithPrompter(opts.prompter))
	}
	if a.ctrl, err = novel.NewController(deps, a.store, ctrlOpts...); err != nil {
		return nil, err
	}
	return a, nil
}

// Close releases collaborators in reverse order of opening.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func openStore(cfg config.StoreConfig) (store.Store[novel.State], error) {
	switch cfg.Driver {
	case "sqlite":
		s, err := store.NewSQLiteStore[novel.State](cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return s, nil
	case "mysql":
		s, err := store.NewMySQLStore[novel.State](config.ResolveEnvVars(cfg.DSN))
		if err != nil {
			return nil, fmt.Errorf("open mysql store: %w", err)
		}
		return s, nil
	default:
		return store.NewMemStore[novel.State](), nil
	}
}

func openKnowledge(ctx context.Context, cfg config.KnowledgeConfig, logger *slog.Logger) (knowledge.Base, error) {
	switch cfg.Backend {
	case "badger":
		kb, err := knowledge.OpenBadger(knowledge.BadgerConfig{
			Path:   cfg.Path,
			Logger: logger.With("component", "badger"),
		})
		if err != nil {
			return nil, fmt.Errorf("open badger knowledge base: %w", err)
		}
		return kb, nil
	case "weaviate":
		kb, err := knowledge.NewWeaviateBase(ctx, knowledge.WeaviateConfig{
			Host:   cfg.WeaviateHost,
			Scheme: cfg.WeaviateScheme,
			Class:  cfg.Class,
			Search: cfg.Search,
			Logger: logger.With("component", "weaviate"),
		})
		if err != nil {
			return nil, fmt.Errorf("connect weaviate knowledge base: %w", err)
		}
		return kb, nil
	default:
		return knowledge.NewMemoryBase(), nil
	}
}

// newGenerator builds the text generator for the configured provider.
// The mock provider answers every prompt offline.
func newGenerator(cfg config.LLMConfig, metrics *graph.PrometheusMetrics) (*model.Generator, error) {
	var chat model.ChatModel
	key := cfg.APIKeyResolved()
	switch cfg.Provider {
	case "openai":
		if key == "" {
			key = os.Getenv("OPENAI_API_KEY")
		}
		chat = openai.NewChatModel(openai.Config{
			APIKey:      key,
			Model:       cfg.Model,
			BaseURL:     cfg.BaseURL,
			MaxTokens:   cfg.MaxTokens,
			Temperature: cfg.Temperature,
		})
	case "anthropic":
		if key == "" {
			key = os.Getenv("ANTHROPIC_API_KEY")
		}
		chat = anthropic.NewChatModel(anthropic.Config{
			APIKey:      key,
			Model:       cfg.Model,
			MaxTokens:   cfg.MaxTokens,
			Temperature: cfg.Temperature,
		})
	case "google":
		if key == "" {
			key = os.Getenv("GOOGLE_API_KEY")
		}
		chat = google.NewChatModel(google.Config{
			APIKey:      key,
			Model:       cfg.Model,
			MaxTokens:   cfg.MaxTokens,
			Temperature: cfg.Temperature,
		})
	case "mock", "":
		chat = agents.NewOfflineModel()
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}

	policy := model.RetryPolicy{
		MaxAttempts: cfg.MaxRetries + 1,
		BaseDelay:   cfg.BaseDelay,
		MaxDelay:    20 * cfg.BaseDelay,
		OnRetry: func(attempt uint, err error) {
			metrics.IncrementCollaboratorRetries(retryReason(err))
		},
	}
	return model.NewGenerator(model.WithTimeout(chat, cfg.Timeout), "", policy), nil
}

func retryReason(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, model.ErrEmptyResponse):
		return "empty_response"
	default:
		return "transient"
	}
}

func newTracerProvider(ctx context.Context, cfg config.TracingConfig) (*sdktrace.TracerProvider, error) {
	var (
		exporter sdktrace.SpanExporter
		err      error
	)
	switch cfg.Exporter {
	case "otlp":
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		exporter, err = otlptracegrpc.New(ctx, opts...)
	default:
		exporter, err = stdouttrace.New(stdouttrace.WithWriter(os.Stderr))
	}
	if err != nil {
		return nil, fmt.Errorf("create span exporter: %w", err)
	}

	res := resource.NewWithAttributes("",
		attribute.String("service.name", "storygraph"),
		attribute.String("service.version", Version),
	)
	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	), nil
}
