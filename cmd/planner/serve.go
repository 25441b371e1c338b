package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	planhttp "github.com/fyrsmithlabs/planner/internal/http"
	"github.com/fyrsmithlabs/planner/internal/mcp"
	"github.com/fyrsmithlabs/planner/internal/workflows"
)

func newServeCmd(opts *appOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Long: `Serve the planner HTTP API, /health and /metrics until interrupted.

Examples:
  PLANNER_SERVER_HTTP_PORT=8080 planner serve`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, *opts)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close(context.Background()) }()

			srv, err := planhttp.NewServer(a.planner, a.logger, &planhttp.Config{
				Host: a.cfg.Server.Host,
				Port: a.cfg.Server.Port,
			}, planhttp.WithTelemetryHealth(a.telemetry.Health))
			if err != nil {
				return err
			}

			errCh := make(chan error, 1)
			go func() { errCh <- srv.Start() }()
			a.logger.Info(ctx, "planner server started",
				zap.String("health_endpoint", fmt.Sprintf("http://%s:%d/health", a.cfg.Server.Host, a.cfg.Server.Port)),
				zap.String("metrics_endpoint", "/metrics"))

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			a.logger.Info(context.Background(), "shutting down gracefully")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout.Duration())
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
}

func newMCPCmd(opts *appOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the planner tools over MCP stdio",
		Long: `Serve plan_generate, plan_validate, plan_revise, plan_get, plan_lineage
and plan_list over the MCP stdio transport. Logs go to stderr.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			o := *opts
			o.stderrLogs = true
			a, err := newApp(ctx, o)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close(context.Background()) }()

			srv, err := mcp.NewServer(&mcp.Config{
				Name:    "planner",
				Version: version,
				Logger:  a.logger,
			}, a.planner)
			if err != nil {
				return err
			}
			if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
}

func newWorkerCmd(opts *appOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run the Temporal worker for durable plan runs",
		Long: `Run a Temporal worker that executes PlanWorkflow. Each task-graph lane
runs as its own activity. Submit runs with 'planner plan --durable'.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, *opts)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close(context.Background()) }()

			c, err := dialTemporal(a)
			if err != nil {
				return err
			}
			defer c.Close()

			acts, err := workflows.NewActivities(a.registry, a.planner, a.logger)
			if err != nil {
				return err
			}
			w := workflows.NewWorker(c, a.cfg.Temporal.TaskQueue, acts)
			if err := w.Start(); err != nil {
				return fmt.Errorf("failed to start worker: %w", err)
			}
			a.logger.Info(ctx, "temporal worker started",
				zap.String("task_queue", a.cfg.Temporal.TaskQueue),
				zap.String("namespace", a.cfg.Temporal.Namespace))

			<-ctx.Done()
			w.Stop()
			return nil
		},
	}
}
