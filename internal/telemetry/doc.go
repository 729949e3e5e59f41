// Package telemetry sets up OpenTelemetry tracing and metrics for
// codereview.
//
// Export is off by default. When enabled, spans and metrics go to an OTLP
// collector over gRPC or HTTP/protobuf:
//
//	telemetry:
//	  enabled: true
//	  endpoint: "localhost:4317"
//	  protocol: grpc          # or http/protobuf
//	  sample_rate: 1.0
//	  export_interval: 15s
//
// The pipeline package creates its spans (pipeline.run, pipeline.stage,
// pipeline.loop, ...) from the provider returned by TracerProvider, and its
// instruments from the global meter provider that New installs.
//
// Failures to build an exporter do not stop a review; Health reports the
// instance as degraded instead.
//
// # Testing
//
//	tt := telemetry.NewTestTelemetry()
//	composer := pipeline.NewComposer(pipeline.WithTracerProvider(tt.TracerProvider()))
//	// ... run
//	tt.AssertSpanExists(t, "pipeline.loop.iteration")
package telemetry
