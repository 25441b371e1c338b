package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.temporal.io/sdk/client"

	"github.com/fyrsmithlabs/planner/internal/orchestrator"
	"github.com/fyrsmithlabs/planner/internal/plan"
	"github.com/fyrsmithlabs/planner/internal/sanitize"
	"github.com/fyrsmithlabs/planner/internal/services"
	"github.com/fyrsmithlabs/planner/internal/workflows"
)

// Output file names inside a plan directory.
const (
	artifactFile   = "plan.json"
	reportFile     = "report.json"
	complianceFile = "compliance.json"
)

func newPlanCmd(opts *appOptions) *cobra.Command {
	var (
		outDir   string
		durable  bool
		memory   bool
		progress bool
	)
	cmd := &cobra.Command{
		Use:   "plan <request.json>",
		Short: "Generate a plan from a planning request",
		Long: `Generate a plan from a planning request file.

With -o the artifact, run report and compliance report are written to the
directory; otherwise the artifact is printed. A HALT exits with status 2.

Examples:
  # Offline run, artifact to stdout
  planner plan request.json --mock

  # Write outputs and show stage progress
  planner plan request.json -o out/clabsi --progress

  # Run through the Temporal worker
  planner plan request.json --durable`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := readRequest(args[0])
			if err != nil {
				return err
			}
			o := *opts
			o.stderrLogs = true
			o.memory = memory
			if progress {
				o.progress = progressPrinter(cmd.ErrOrStderr())
			}
			if durable {
				return runDurable(cmd.Context(), cmd.OutOrStdout(), o, in)
			}

			a, err := newApp(cmd.Context(), o)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close(context.Background()) }()

			gen, err := a.planner.Generate(cmd.Context(), in)
			if err != nil {
				return planFailure(outDir, gen, err)
			}
			if outDir == "" {
				return writeArtifact(cmd.OutOrStdout(), gen.Plan)
			}
			if err := writeOutputs(outDir, gen); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "plan %s written to %s (decision %s, compliance %d)\n",
				gen.Plan.Metadata.PlanID, outDir, gen.Plan.Metadata.GateDecision, gen.Compliance.Score)
			return nil
		},
	}
	cmd.Flags().StringVarP(&outDir, "output", "o", "", "directory for plan, report and compliance files")
	cmd.Flags().BoolVar(&durable, "durable", false, "run through the Temporal plan workflow")
	cmd.Flags().BoolVar(&memory, "memory", false, "keep plans in memory instead of the configured store")
	cmd.Flags().BoolVar(&progress, "progress", false, "print stage progress to stderr")
	return cmd
}

func newBulkCmd(opts *appOptions) *cobra.Command {
	var (
		metricList string
		outDir     string
	)
	cmd := &cobra.Command{
		Use:   "bulk",
		Short: "Generate one plan per metric code",
		Long: `Generate one plan per metric code. The specialty is taken from the
metric prefix; each plan is written to its own directory under -o.

Examples:
  planner bulk --metrics I25,C41.1a -o planoutput --mock`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			metricIDs := parseMetrics(metricList)
			if len(metricIDs) == 0 {
				return errors.New("--metrics must name at least one metric")
			}
			root, err := sanitize.ValidatePath(outDir, "")
			if err != nil {
				return fmt.Errorf("invalid output directory: %w", err)
			}

			o := *opts
			o.stderrLogs = true
			a, err := newApp(cmd.Context(), o)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close(context.Background()) }()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Processing %d metrics: %s\n", len(metricIDs), strings.Join(metricIDs, ", "))
			now := time.Now()
			var failures []string
			for _, m := range metricIDs {
				domain, ok := a.rules.DomainForMetric(m)
				if !ok {
					failures = append(failures, m)
					fmt.Fprintf(out, "FAILED  %s: no specialty for metric prefix\n", m)
					continue
				}
				dir := filepath.Join(root, bulkDirName(m, domain, now))
				gen, err := a.planner.Generate(cmd.Context(), bulkInput(m, domain, now))
				if err == nil {
					err = writeOutputs(dir, gen)
				}
				if err != nil {
					if errors.Is(err, context.Canceled) {
						return err
					}
					failures = append(failures, m)
					fmt.Fprintf(out, "FAILED  %s: %v\n", m, err)
					continue
				}
				fmt.Fprintf(out, "OK      %s -> %s\n", m, dir)
			}
			if len(failures) > 0 {
				return failed(fmt.Errorf("%d of %d metrics failed: %s", len(failures), len(metricIDs), strings.Join(failures, ", ")))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&metricList, "metrics", "", "comma-separated metric codes, e.g. I25,C41.1a")
	cmd.Flags().StringVarP(&outDir, "output", "o", "planoutput", "base output directory")
	_ = cmd.MarkFlagRequired("metrics")
	return cmd
}

func parseMetrics(list string) []string {
	var out []string
	for _, m := range strings.Split(list, ",") {
		if m = strings.ToUpper(strings.TrimSpace(m)); m != "" {
			out = append(out, m)
		}
	}
	return out
}

// bulkInput is the planning request generated for one metric.
func bulkInput(metric string, domain plan.Domain, now time.Time) plan.PlanningInput {
	objective := "Automated abstraction for USNWR metric " + metric
	return plan.PlanningInput{
		PlanningID:           fmt.Sprintf("bulk-%s-%s", sanitize.Identifier(metric), now.Format("20060102")),
		Concern:              metric,
		DomainHint:           string(domain.ID),
		Intent:               objective,
		TargetPopulation:     "Pediatric patients",
		SpecificRequirements: []string{fmt.Sprintf("USNWR %s quality metric reporting", domain.Name)},
		ClinicalContext: plan.ClinicalContext{
			Objective:            objective,
			RegulatoryFrameworks: []string{"USNWR_2025"},
		},
		DataProfile: plan.DataProfile{Sources: []string{"EHR"}},
	}
}

func bulkDirName(metric string, domain plan.Domain, now time.Time) string {
	return fmt.Sprintf("usnwr_%s_%s_%s", sanitize.Identifier(metric), sanitize.Identifier(domain.Name), now.Format("2006-01-02_15-04-05"))
}

func readRequest(path string) (plan.PlanningInput, error) {
	var in plan.PlanningInput
	data, err := readFile(path)
	if err != nil {
		return in, err
	}
	if err := json.Unmarshal(data, &in); err != nil {
		return in, fmt.Errorf("invalid planning request %s: %w", path, err)
	}
	return in, nil
}

// readFile reads a validated path, or stdin for "-".
func readFile(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	clean, err := sanitize.ValidatePath(path, "")
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(clean) // #nosec G304 -- path validated above
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}

func writeArtifact(w io.Writer, p plan.PlannerPlan) error {
	data, err := plan.MarshalArtifact(p)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// writeOutputs writes the artifact, run report and compliance report.
func writeOutputs(dir string, gen services.Generated) error {
	clean, err := sanitize.ValidatePath(dir, "")
	if err != nil {
		return fmt.Errorf("invalid output directory: %w", err)
	}
	if err := os.MkdirAll(clean, 0o750); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	artifact, err := plan.MarshalArtifact(gen.Plan)
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(clean, artifactFile), artifact, 0o600); err != nil {
		return fmt.Errorf("failed to write artifact: %w", err)
	}
	if err := writeJSON(filepath.Join(clean, reportFile), gen.Report); err != nil {
		return err
	}
	return writeJSON(filepath.Join(clean, complianceFile), gen.Compliance)
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	return nil
}

// planFailure writes the run report of a halted run when an output
// directory was given and marks the error as a planning failure.
func planFailure(outDir string, gen services.Generated, err error) error {
	var halt *orchestrator.HaltError
	if !errors.As(err, &halt) {
		return err
	}
	if outDir != "" {
		clean, verr := sanitize.ValidatePath(outDir, "")
		if verr == nil && os.MkdirAll(clean, 0o750) == nil {
			_ = writeJSON(filepath.Join(clean, reportFile), gen.Report)
		}
	}
	return failed(err)
}

func progressPrinter(w io.Writer) orchestrator.ProgressCallback {
	return func(p orchestrator.Progress) {
		fmt.Fprintf(w, "[%s] %-12s %-5s %3d%%\n", p.Stage, p.Name, p.Decision, p.Percentage)
	}
}

// runDurable submits the request to the Temporal plan workflow and waits
// for its result.
func runDurable(ctx context.Context, w io.Writer, opts appOptions, in plan.PlanningInput) error {
	a, err := newApp(ctx, opts)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close(context.Background()) }()

	c, err := dialTemporal(a)
	if err != nil {
		return err
	}
	defer c.Close()

	run, err := workflows.StartPlan(ctx, c, a.cfg.Temporal.TaskQueue, in)
	if err != nil {
		return err
	}
	var result workflows.PlanWorkflowResult
	if err := run.Get(ctx, &result); err != nil {
		return fmt.Errorf("plan workflow %s failed: %w", run.GetID(), err)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		return err
	}
	if result.Decision == plan.DecisionHalt {
		return failed(fmt.Errorf("planning halted at %s: %s", result.HaltedAt, strings.Join(result.Violations, "; ")))
	}
	return nil
}

func dialTemporal(a *app) (client.Client, error) {
	c, err := client.Dial(client.Options{
		HostPort:  a.cfg.Temporal.HostPort,
		Namespace: a.cfg.Temporal.Namespace,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to temporal at %s: %w", a.cfg.Temporal.HostPort, err)
	}
	return c, nil
}
