// Package telemetry provides OpenTelemetry tracing and metrics export for
// the planner.
//
// # Usage
//
//	tel, err := telemetry.New(ctx, telemetry.FromSettings(cfg.Telemetry, version))
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(ctx)
//
// New installs the tracer and meter providers globally, so the package-level
// tracers in orchestrator, executor and services start exporting without
// holding a reference to tel.
//
// # Configuration
//
//	telemetry:
//	  enabled: true
//	  endpoint: "localhost:4317"
//	  protocol: grpc        # or http
//	  insecure: true
//	  sample_rate: 0.25
//	  export_interval: 15s
//
// # Error Handling
//
// Telemetry failures do not stop a planning run. If an exporter cannot be
// built the instance is marked degraded, the reason is kept for Health and
// the global no-op providers stay in place.
//
// # Testing
//
//	tt := telemetry.NewTestTelemetry()
//	restore := tt.Install()
//	defer restore()
//	// run code that starts spans
//	tt.AssertSpanExists(t, "planner.Generate")
package telemetry
