package telemetry

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// ExporterConfig describes the OTLP/HTTP collector endpoint spans are
// shipped to.
type ExporterConfig struct {
	// Endpoint is a host:port pair, for example "localhost:4318".
	Endpoint string
	// Insecure disables TLS toward the collector.
	Insecure bool
}

// NewOTLPTracerProvider builds a batching tracer provider that exports spans
// over OTLP/HTTP. The caller passes the result through Config.TracerProvider
// and owns its shutdown (Manager.Shutdown handles it when wired in).
func NewOTLPTracerProvider(ctx context.Context, cfg ExporterConfig, res *resource.Resource) (trace.TracerProvider, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("telemetry: exporter endpoint is empty")
	}
	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("telemetry: create otlp exporter: %w", err)
	}
	providerOpts := []sdktrace.TracerProviderOption{sdktrace.WithBatcher(exporter)}
	if res != nil {
		providerOpts = append(providerOpts, sdktrace.WithResource(res))
	}
	return sdktrace.NewTracerProvider(providerOpts...), nil
}
