package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/planner/internal/plan"
	"github.com/fyrsmithlabs/planner/internal/sanitize"
)

func newValidateCmd(opts *appOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <artifact.json>",
		Short: "Score a plan artifact against the compliance checks",
		Long: `Score a plan artifact against the compliance checks and print the
report. Exits with status 2 when the artifact is not valid.

Examples:
  planner validate out/clabsi/plan.json
  cat plan.json | planner validate -`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readFile(args[0])
			if err != nil {
				return err
			}
			o := *opts
			o.stderrLogs = true
			o.memory = true
			// Scoring never calls the model.
			o.mock = true
			a, err := newApp(cmd.Context(), o)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close(context.Background()) }()

			report, err := a.planner.Validate(cmd.Context(), data)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(report); err != nil {
				return err
			}
			if !report.IsValid {
				return failed(fmt.Errorf("compliance score %d; failed checks: %s", report.Score, strings.Join(report.Failed(), ", ")))
			}
			return nil
		},
	}
	return cmd
}

func newReviseCmd(opts *appOptions) *cobra.Command {
	var (
		scope   string
		remark  string
		outFile string
	)
	cmd := &cobra.Command{
		Use:   "revise <artifact.json>",
		Short: "Revise one scope of a plan artifact from a reviewer remark",
		Long: `Revise one scope of a plan artifact. Sections outside the scope are
carried over unchanged and the new plan points at the original as its parent.

Scopes: signals, questions, criteria (or rules), phases, prompts (or prompt), full.

Examples:
  planner revise out/clabsi/plan.json --scope signals --remark "Add line removal date" -o revised.json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := plan.ParseRevisionScope(scope)
			if err != nil {
				return err
			}
			data, err := readFile(args[0])
			if err != nil {
				return err
			}
			original, err := plan.UnmarshalArtifact(data)
			if err != nil {
				return fmt.Errorf("invalid artifact %s: %w", args[0], err)
			}

			o := *opts
			o.stderrLogs = true
			o.memory = true
			a, err := newApp(cmd.Context(), o)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close(context.Background()) }()

			ctx := cmd.Context()
			cleaned := a.registry.Scrubber().Scrub(remark)
			if cleaned.HasFindings() {
				a.logger.Warn(ctx, "redacted identifiers from revision remark",
					zap.Strings("rules", cleaned.RuleIDs()))
			}
			res, err := a.registry.Reviser().Revise(ctx, original, s, cleaned.Scrubbed)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.ErrOrStderr(), "revision %s of %s: compliance %d\n",
				res.Plan.Metadata.PlanID, original.Metadata.PlanID, res.Compliance.Score)
			if outFile == "" {
				return writeArtifact(cmd.OutOrStdout(), res.Plan)
			}
			artifact, err := plan.MarshalArtifact(res.Plan)
			if err != nil {
				return err
			}
			clean, err := sanitize.ValidatePath(outFile, "")
			if err != nil {
				return fmt.Errorf("invalid output file: %w", err)
			}
			return os.WriteFile(clean, artifact, 0o600)
		},
	}
	cmd.Flags().StringVar(&scope, "scope", "", "revision scope")
	cmd.Flags().StringVar(&remark, "remark", "", "reviewer remark")
	cmd.Flags().StringVarP(&outFile, "output", "o", "", "file for the revised artifact")
	_ = cmd.MarkFlagRequired("scope")
	_ = cmd.MarkFlagRequired("remark")
	return cmd
}
