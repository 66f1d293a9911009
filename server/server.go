// Package server exposes the novel pipeline over HTTP.
//
// Handlers only validate and record requests. Job execution happens on a
// Runner so a request never waits for text generation.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/trace"

	"github.com/dshills/storygraph/novel"
)

// ServiceName identifies the server in traces.
const ServiceName = "storygraph"

// Jobs is the controller surface the handlers use. *novel.Controller
// implements it.
type Jobs interface {
	Submit(ctx context.Context, cfg novel.JobConfig) (string, error)
	Status(ctx context.Context, id string) (novel.JobSummary, error)
	List(ctx context.Context, status string, limit int) ([]novel.JobSummary, error)
	NextDecision(ctx context.Context, id string) (*novel.PendingDecision, error)
	Chapters(ctx context.Context, id string) ([]novel.Chapter, error)
	BeginResume(ctx context.Context, id string, t novel.DecisionType, payload novel.DecisionPayload) error
	BeginManualReview(ctx context.Context, id string, chapter int, action, edited string) error
	Cancel(ctx context.Context, id, reason string) error
}

// Scheduler queues job invocations. *Runner implements it.
type Scheduler interface {
	Start(ctx context.Context, jobID string) error
	Continue(ctx context.Context, jobID string) error

	// Ready fails when queued work would never run. Handlers check it
	// before recording a job or decision.
	Ready() error
}

// Server is the HTTP control surface.
type Server struct {
	jobs     Jobs
	sched    Scheduler
	logger   *slog.Logger
	defaults func(*novel.JobConfig)
	gatherer prometheus.Gatherer
	tracer   trace.TracerProvider
	engine   *gin.Engine
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the request and error logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithJobDefaults fills unset fields of submitted job configs.
func WithJobDefaults(fn func(*novel.JobConfig)) Option {
	return func(s *Server) { s.defaults = fn }
}

// WithMetrics serves g on /metrics.
func WithMetrics(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// WithTracing traces requests with tp.
func WithTracing(tp trace.TracerProvider) Option {
	return func(s *Server) { s.tracer = tp }
}

// New creates a Server and registers its routes.
func New(jobs Jobs, sched Scheduler, opts ...Option) *Server {
	s := &Server{jobs: jobs, sched: sched}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(s.logger))
	if s.tracer != nil {
		r.Use(otelgin.Middleware(ServiceName, otelgin.WithTracerProvider(s.tracer)))
	}
	s.routes(r)
	s.engine = r
	return s
}

func (s *Server) routes(r *gin.Engine) {
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if s.gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}

	jobs := r.Group("/jobs")
	jobs.POST("", s.createJob)
	jobs.GET("", s.listJobs)
	jobs.GET("/:id", s.getJob)
	jobs.GET("/:id/status", s.getStatus)
	jobs.GET("/:id/decisions/next", s.nextDecision)
	jobs.POST("/:id/decisions/:type", s.postDecision)
	jobs.GET("/:id/chapters", s.listChapters)
	jobs.POST("/:id/chapters/:n/manual_review", s.manualReview)
	jobs.POST("/:id/cancel", s.cancelJob)
	jobs.POST("/:id/requeue", s.requeueJob)
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// ListenAndServe serves on addr until ctx is done, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Info("http server stopped")
	return nil
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}
