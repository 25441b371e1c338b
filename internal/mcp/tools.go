package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/planner/internal/compliance"
	"github.com/fyrsmithlabs/planner/internal/logging"
	"github.com/fyrsmithlabs/planner/internal/orchestrator"
	"github.com/fyrsmithlabs/planner/internal/plan"
	"github.com/fyrsmithlabs/planner/internal/sanitize"
	"github.com/fyrsmithlabs/planner/internal/store"
)

// errInvalidInput marks tool arguments rejected before the service is called.
var errInvalidInput = errors.New("invalid input")

// maxListLimit caps plan_list results.
const maxListLimit = 500

// ===== plan_generate =====

type generateInput struct {
	PlanningID           string   `json:"planning_id,omitempty" jsonschema:"Caller identifier for the planning request"`
	Concern              string   `json:"concern" jsonschema:"required,Clinical concern, e.g. CLABSI or ORTHOPEDICS"`
	DomainHint           string   `json:"domain_hint,omitempty" jsonschema:"Optional domain override"`
	Intent               string   `json:"intent,omitempty" jsonschema:"What the review should achieve"`
	TargetPopulation     string   `json:"target_population,omitempty" jsonschema:"Population under review"`
	SpecificRequirements []string `json:"specific_requirements,omitempty" jsonschema:"Additional requirements"`
	Differentiators      []string `json:"differentiators,omitempty" jsonschema:"Differentiators that select review archetypes"`
	Objective            string   `json:"objective,omitempty" jsonschema:"Clinical objective"`
	RegulatoryFrameworks []string `json:"regulatory_frameworks,omitempty" jsonschema:"Governing frameworks"`
	DataSources          []string `json:"data_sources,omitempty" jsonschema:"Data sources available to reviewers"`
}

func (in generateInput) planningInput() plan.PlanningInput {
	return plan.PlanningInput{
		PlanningID:           in.PlanningID,
		Concern:              in.Concern,
		DomainHint:           in.DomainHint,
		Intent:               in.Intent,
		TargetPopulation:     in.TargetPopulation,
		SpecificRequirements: in.SpecificRequirements,
		Differentiators:      in.Differentiators,
		ClinicalContext: plan.ClinicalContext{
			Objective:            in.Objective,
			RegulatoryFrameworks: in.RegulatoryFrameworks,
		},
		DataProfile: plan.DataProfile{Sources: in.DataSources},
	}
}

type generateOutput struct {
	PlanID          string   `json:"plan_id,omitempty"`
	Domain          string   `json:"domain,omitempty"`
	Decision        string   `json:"decision"`
	HaltedAt        string   `json:"halted_at,omitempty"`
	Violations      []string `json:"violations,omitempty"`
	Warnings        []string `json:"warnings,omitempty"`
	ComplianceScore int      `json:"compliance_score"`
	IsValid         bool     `json:"is_valid"`
	Redactions      int      `json:"redactions,omitempty"`
	Artifact        string   `json:"artifact,omitempty"`
}

// ===== plan_validate =====

type validateInput struct {
	Artifact string `json:"artifact,omitempty" jsonschema:"Plan artifact JSON to score"`
	PlanID   string `json:"plan_id,omitempty" jsonschema:"Stored plan to score instead of an artifact"`
}

type validateOutput struct {
	IsValid      bool     `json:"is_valid"`
	Score        int      `json:"score"`
	Errors       []string `json:"errors,omitempty"`
	FailedChecks []string `json:"failed_checks,omitempty"`
}

// ===== plan_revise =====

type reviseInput struct {
	PlanID string `json:"plan_id" jsonschema:"required,Plan to revise"`
	Scope  string `json:"scope" jsonschema:"required,Revision scope: signals, criteria, rules, rationale or full"`
	Remark string `json:"remark" jsonschema:"required,Reviewer remark describing the change"`
}

type reviseOutput struct {
	PlanID          string `json:"plan_id"`
	ParentPlanID    string `json:"parent_plan_id"`
	Scope           string `json:"scope"`
	ComplianceScore int    `json:"compliance_score"`
	IsValid         bool   `json:"is_valid"`
	Redactions      int    `json:"redactions,omitempty"`
}

// ===== plan_get =====

type getInput struct {
	PlanID string `json:"plan_id" jsonschema:"required,Stored plan ID"`
}

type getOutput struct {
	PlanID   string `json:"plan_id"`
	Artifact string `json:"artifact"`
}

// ===== plan_lineage / plan_list =====

type lineageInput struct {
	PlanID string `json:"plan_id" jsonschema:"required,Plan whose revision chain to return"`
}

type listInput struct {
	PlanningID string `json:"planning_id,omitempty" jsonschema:"Only plans for this planning request"`
	Limit      int    `json:"limit,omitempty" jsonschema:"Maximum results (default 50)"`
}

type planEntry struct {
	PlanID        string    `json:"plan_id"`
	ParentPlanID  string    `json:"parent_plan_id,omitempty"`
	PlanningID    string    `json:"planning_id,omitempty"`
	Domain        string    `json:"domain"`
	GateDecision  string    `json:"gate_decision"`
	RevisionScope string    `json:"revision_scope,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

type entriesOutput struct {
	Plans []planEntry `json:"plans"`
	Count int         `json:"count"`
}

func toEntries(sums []store.Summary) entriesOutput {
	out := entriesOutput{Plans: make([]planEntry, 0, len(sums)), Count: len(sums)}
	for _, s := range sums {
		out.Plans = append(out.Plans, planEntry{
			PlanID:        s.PlanID,
			ParentPlanID:  s.ParentPlanID,
			PlanningID:    s.PlanningID,
			Domain:        string(s.Domain),
			GateDecision:  string(s.GateDecision),
			RevisionScope: s.RevisionScope,
			CreatedAt:     s.CreatedAt,
		})
	}
	return out
}

func checkPlanID(id string) error {
	if err := sanitize.ValidatePlanID(id); err != nil {
		return fmt.Errorf("%w: %v", errInvalidInput, err)
	}
	return nil
}

func issueStrings(issues []plan.Issue) []string {
	if len(issues) == 0 {
		return nil
	}
	out := make([]string, len(issues))
	for i, is := range issues {
		out[i] = is.String()
	}
	return out
}

func textResult(isErr bool, format string, args ...any) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: isErr,
		Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf(format, args...)}},
	}
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "plan_generate",
		Description: "Generate a clinical review plan from a planning request. A halted run returns an error result naming the stage and violations.",
	}, s.handleGenerate)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "plan_validate",
		Description: "Score a plan artifact (or a stored plan) against the compliance checks",
	}, s.handleValidate)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "plan_revise",
		Description: "Revise one scope of a stored plan from a reviewer remark; the revision is stored as a child plan",
	}, s.handleRevise)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "plan_get",
		Description: "Return the artifact JSON of a stored plan",
	}, s.handleGet)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "plan_lineage",
		Description: "Return the revision chain ending at a plan, root first",
	}, s.handleLineage)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "plan_list",
		Description: "List stored plans, newest first",
	}, s.handleList)
}

func (s *Server) handleGenerate(ctx context.Context, _ *mcp.CallToolRequest, args generateInput) (res *mcp.CallToolResult, out generateOutput, err error) {
	done := s.metrics.track(ctx, "plan_generate")
	var halted error
	defer func() {
		if halted != nil {
			done(halted)
			return
		}
		done(err)
	}()

	if strings.TrimSpace(args.Concern) == "" {
		return nil, out, fmt.Errorf("%w: concern is required", errInvalidInput)
	}
	ctx = logging.WithPlanningID(ctx, args.PlanningID)

	gen, genErr := s.svc.Generate(ctx, args.planningInput())
	var halt *orchestrator.HaltError
	if errors.As(genErr, &halt) {
		halted = genErr
		out = generateOutput{
			Decision:   string(plan.DecisionHalt),
			HaltedAt:   string(halt.Stage),
			Violations: issueStrings(halt.Violations),
			Redactions: gen.Redactions,
		}
		s.logger.Info(ctx, "plan_generate halted", zap.String(logging.KeyStage, string(halt.Stage)))
		return textResult(true, "planning halted at %s: %s", halt.Stage, strings.Join(out.Violations, "; ")), out, nil
	}
	if genErr != nil {
		return nil, out, fmt.Errorf("generate failed: %w", genErr)
	}

	artifact, err := plan.MarshalArtifact(gen.Plan)
	if err != nil {
		return nil, out, fmt.Errorf("encode artifact: %w", err)
	}
	md := gen.Plan.Metadata
	out = generateOutput{
		PlanID:          md.PlanID,
		Domain:          string(md.Domain),
		Decision:        string(md.GateDecision),
		Warnings:        issueStrings(gen.Report.Warnings),
		ComplianceScore: gen.Compliance.Score,
		IsValid:         gen.Compliance.IsValid,
		Redactions:      gen.Redactions,
		Artifact:        string(artifact),
	}
	return textResult(false, "generated plan %s for %s (decision %s, compliance %d)",
		out.PlanID, out.Domain, out.Decision, out.ComplianceScore), out, nil
}

func (s *Server) handleValidate(ctx context.Context, _ *mcp.CallToolRequest, args validateInput) (res *mcp.CallToolResult, out validateOutput, err error) {
	done := s.metrics.track(ctx, "plan_validate")
	defer func() { done(err) }()

	var report compliance.Report
	switch {
	case args.Artifact != "" && args.PlanID != "":
		return nil, out, fmt.Errorf("%w: give artifact or plan_id, not both", errInvalidInput)
	case args.PlanID != "":
		if err := checkPlanID(args.PlanID); err != nil {
			return nil, out, err
		}
		report, err = s.svc.ValidateStored(logging.WithPlanID(ctx, args.PlanID), args.PlanID)
	case args.Artifact != "":
		report, err = s.svc.Validate(ctx, []byte(args.Artifact))
	default:
		return nil, out, fmt.Errorf("%w: artifact or plan_id is required", errInvalidInput)
	}
	if err != nil {
		return nil, out, fmt.Errorf("validate failed: %w", err)
	}

	out = validateOutput{
		IsValid:      report.IsValid,
		Score:        report.Score,
		Errors:       report.Errors,
		FailedChecks: report.Failed(),
	}
	return textResult(false, "compliance score %d (valid: %t)", out.Score, out.IsValid), out, nil
}

func (s *Server) handleRevise(ctx context.Context, _ *mcp.CallToolRequest, args reviseInput) (res *mcp.CallToolResult, out reviseOutput, err error) {
	done := s.metrics.track(ctx, "plan_revise")
	defer func() { done(err) }()

	if err := checkPlanID(args.PlanID); err != nil {
		return nil, out, err
	}
	scope, err := plan.ParseRevisionScope(args.Scope)
	if err != nil {
		return nil, out, err
	}

	rev, err := s.svc.Revise(logging.WithPlanID(ctx, args.PlanID), args.PlanID, scope, args.Remark)
	if err != nil {
		return nil, out, fmt.Errorf("revise failed: %w", err)
	}
	out = reviseOutput{
		PlanID:          rev.Plan.Metadata.PlanID,
		ParentPlanID:    rev.Plan.Metadata.ParentPlanID,
		Scope:           string(scope),
		ComplianceScore: rev.Compliance.Score,
		IsValid:         rev.Compliance.IsValid,
		Redactions:      rev.Redactions,
	}
	return textResult(false, "revised %s as %s (compliance %d)", out.ParentPlanID, out.PlanID, out.ComplianceScore), out, nil
}

func (s *Server) handleGet(ctx context.Context, _ *mcp.CallToolRequest, args getInput) (res *mcp.CallToolResult, out getOutput, err error) {
	done := s.metrics.track(ctx, "plan_get")
	defer func() { done(err) }()

	if err := checkPlanID(args.PlanID); err != nil {
		return nil, out, err
	}
	artifact, err := s.svc.GetArtifact(ctx, args.PlanID)
	if err != nil {
		return nil, out, err
	}
	out = getOutput{PlanID: args.PlanID, Artifact: string(artifact)}
	return textResult(false, "%s", artifact), out, nil
}

func (s *Server) handleLineage(ctx context.Context, _ *mcp.CallToolRequest, args lineageInput) (res *mcp.CallToolResult, out entriesOutput, err error) {
	done := s.metrics.track(ctx, "plan_lineage")
	defer func() { done(err) }()

	if err := checkPlanID(args.PlanID); err != nil {
		return nil, out, err
	}
	chain, err := s.svc.Lineage(ctx, args.PlanID)
	if err != nil {
		return nil, out, err
	}
	out = toEntries(chain)
	return textResult(false, "%d plan(s) in lineage of %s", out.Count, args.PlanID), out, nil
}

func (s *Server) handleList(ctx context.Context, _ *mcp.CallToolRequest, args listInput) (res *mcp.CallToolResult, out entriesOutput, err error) {
	done := s.metrics.track(ctx, "plan_list")
	defer func() { done(err) }()

	limit := args.Limit
	switch {
	case limit < 0:
		return nil, out, fmt.Errorf("%w: limit must not be negative", errInvalidInput)
	case limit == 0:
		limit = 50
	case limit > maxListLimit:
		limit = maxListLimit
	}
	sums, err := s.svc.List(ctx, store.ListOptions{PlanningID: args.PlanningID, Limit: limit})
	if err != nil {
		return nil, out, err
	}
	out = toEntries(sums)
	return textResult(false, "%d plan(s)", out.Count), out, nil
}
