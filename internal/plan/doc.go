// Package plan defines the versioned data model shared by every stage of the
// clinical review planner.
//
// Each pipeline artifact (NormalizedRequest, DomainContext, Skeleton,
// TaskGraph, PromptPlan, TaskResult, PlannerPlan) is an explicit struct with a
// closed shape. Stages exchange these values, never untyped JSON blobs, and
// validate them at their own boundary.
//
// Validation outcomes are tiered:
//
//	Tier 1 structural  - missing sections, wrong group ids, wrong cardinality
//	Tier 2 semantic    - ungrounded differentiators, missing ranking context
//	Tier 3 clinical    - evidence linkage quality, informational only
//
// The persisted artifact wraps a PlannerPlan under the "planner_plan" root key.
package plan
