// Package observability provides OpenTelemetry tracing and metrics for
// the core, plus supporting SLI/SLO tracking for its pipeline stages.
//
// Initialize at process startup:
//
//	p, err := observability.New(ctx, observability.DefaultConfig())
//	defer p.Shutdown(ctx)
//
// Record RED metrics around an operation:
//
//	start := time.Now()
//	p.RecordRequest(ctx)
//	defer func() { p.RecordDuration(ctx, time.Since(start)) }()
package observability
