// Package observability provides OpenTelemetry tracing and RED metrics
// for the ingest endpoint, the deception deployer, the retention enforcer, and
// the orchestrator's lifecycle transitions.
//
// Initialize at process startup:
//
//	provider, err := observability.New(ctx, &observability.Config{
//		ServiceName:  "ransomeye-core",
//		OTLPEndpoint: "otel-collector:4317",
//		SampleRate:   0.1,
//	})
//	defer provider.Shutdown(ctx)
//
// Track one ingest request:
//
//	ctx, done := provider.TrackOperation(ctx, "ingest.linux",
//		observability.IngestAttributes(componentID, signerID, "linux", eventID)...)
//	defer func() { done(err) }()
package observability
