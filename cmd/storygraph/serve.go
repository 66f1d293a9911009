package main

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/storygraph/config"
	"github.com/dshills/storygraph/novel"
	"github.com/dshills/storygraph/server"
)

var (
	serveHost string
	servePort int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP control server",
	Long: `Start the HTTP control server and the background job runner.

Endpoints:
  POST /jobs                                   submit a job
  GET  /jobs, /jobs/{id}, /jobs/{id}/status    inspect jobs
  GET  /jobs/{id}/decisions/next               pending decision
  POST /jobs/{id}/decisions/{type}             answer a decision
  POST /jobs/{id}/chapters/{n}/manual_review   answer a chapter review
  POST /jobs/{id}/cancel                       cancel a job
  POST /jobs/{id}/requeue                      queue a job no runner picked up
  GET  /metrics                                Prometheus metrics

Jobs left pending, or with an accepted decision that never ran, are
queued again on startup. Pipeline defaults are reloaded when the config
file changes.

Examples:
  storygraph serve                    # 127.0.0.1:8080
  storygraph serve --port 3000
  storygraph serve --host 0.0.0.0`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		mgr, err := loadConfig()
		if err != nil {
			return err
		}
		snapshot := *mgr.Get()
		cfg := &snapshot
		if cmd.Flags().Changed("host") {
			cfg.Server.Host = serveHost
		}
		if cmd.Flags().Changed("port") {
			cfg.Server.Port = servePort
		}

		a, err := newApp(ctx, cfg, appOptions{})
		if err != nil {
			return err
		}
		defer func() { _ = a.Close(context.WithoutCancel(ctx)) }()

		mgr.OnChange(func(next *config.Config) {
			if next.Metrics.Enabled {
				a.metrics.Enable()
			} else {
				a.metrics.Disable()
			}
			a.logger.Info("config reloaded", "file", mgr.File())
		})
		mgr.Watch(func(err error) {
			a.logger.Warn("config reload rejected", "error", err)
		})

		runner := server.NewRunner(a.ctrl, cfg.Server.MaxConcurrentJobs, nil, a.logger.With("component", "runner"))
		opts := []server.Option{
			server.WithLogger(a.logger.With("component", "http")),
			server.WithJobDefaults(func(job *novel.JobConfig) {
				mgr.Get().Pipeline.Apply(job)
			}),
		}
		if cfg.Metrics.Enabled {
			opts = append(opts, server.WithMetrics(a.registry))
		}
		if a.tracer != nil {
			opts = append(opts, server.WithTracing(a.tracer))
		}
		srv := server.New(a.ctrl, runner, opts...)

		addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return runner.Serve(gctx) })
		g.Go(func() error {
			n, err := runner.Recover(gctx, a.ctrl)
			if err != nil {
				a.logger.Warn("job recovery incomplete", "requeued", n, "error", err)
				return nil
			}
			if n > 0 {
				a.logger.Info("requeued unclaimed jobs", "count", n)
			}
			return nil
		})
		g.Go(func() error {
			if err := srv.ListenAndServe(gctx, addr); err != nil {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		return g.Wait()
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "127.0.0.1", "host to bind to (overrides server.host)")
	serveCmd.Flags().IntVar(&servePort, "port", 8080, "port to listen on (overrides server.port)")

	rootCmd.AddCommand(serveCmd)
}
