// Package services provides the component registry and the Planner
// facade shared by the CLI, HTTP API, MCP server and workflow worker.
//
// Use NewRegistry() to collect the pipeline, validator, reviser, store and
// scrubber, then NewPlanner() to get the operations front ends call:
// generate, validate, revise and read back stored plans.
package services
