// Planner generates clinical review plans.
//
// Usage:
//
//	# Plan from a request file, offline
//	planner plan request.json --mock -o out/
//
//	# Score an artifact; exits non-zero when it fails compliance
//	planner validate out/plan.json
//
//	# Serve the HTTP API, or MCP over stdio
//	planner serve
//	planner mcp
//
// Configuration is read from --config and PLANNER_* environment variables.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

// Exit codes.
const (
	exitError  = 1
	exitFailed = 2
)

// exitCodeError carries a specific process exit code.
type exitCodeError struct {
	code int
	err  error
}

func (e *exitCodeError) Error() string { return e.err.Error() }
func (e *exitCodeError) Unwrap() error { return e.err }

// failed marks err as a planning or compliance failure rather than an
// operational error.
func failed(err error) error {
	return &exitCodeError{code: exitFailed, err: err}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cmd := newRootCmd()
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		var ec *exitCodeError
		if errors.As(err, &ec) {
			os.Exit(ec.code)
		}
		os.Exit(exitError)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "planner",
		Short: "Clinical review plan orchestrator",
		Long: `planner turns a planning request into a gated clinical review plan.

Each run passes stages S0-S6 (intake, domain, skeleton, task graph, prompts,
execution, assembly) with a gate decision after every stage. A HALT stops
the run; WARN and PASS continue.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetVersionTemplate(versionString())

	opts := &appOptions{}
	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "path to a YAML config file")
	flags.BoolVar(&opts.mock, "mock", false, "use the deterministic offline model client")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level (trace, debug, info, warn, error)")

	root.AddCommand(
		newPlanCmd(opts),
		newBulkCmd(opts),
		newValidateCmd(opts),
		newReviseCmd(opts),
		newServeCmd(opts),
		newMCPCmd(opts),
		newWorkerCmd(opts),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprint(cmd.OutOrStdout(), versionString())
		},
	}
}

func versionString() string {
	return fmt.Sprintf("planner by Fyrsmith Labs\nVersion:    %s\nCommit:     %s\nBuild Date: %s\n",
		version, gitCommit, buildDate)
}
