package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"google.golang.org/grpc/credentials"

	"github.com/ku-fe/kufe-discussions-bot/internal/config"
)

// Resource attribute keys identifying which forum and repository a bridge
// instance syncs.
const (
	AttrForumChannel = attribute.Key("bridge.discord.forum_channel_id")
	AttrRepository   = attribute.Key("bridge.github.repository")
	AttrCategory     = attribute.Key("bridge.github.category_id")
)

var (
	newOTLPClient = otlptracegrpc.NewClient

	newOTLPExporterFn = func(ctx context.Context, client otlptrace.Client) (*otlptrace.Exporter, error) {
		return otlptrace.New(ctx, client)
	}

	newBridgeResourceFn = func(ctx context.Context, attrs []attribute.KeyValue) (*resource.Resource, error) {
		return resource.New(ctx, resource.WithAttributes(attrs...))
	}
)

// SetupTracing installs the global tracer provider and propagator for the
// bridge and returns the provider's shutdown function. With tracing disabled
// it installs nothing and the shutdown is a no-op.
func SetupTracing(ctx context.Context, cfg config.Config, version string) (func(context.Context) error, error) {
	if !cfg.OTEL.Enabled {
		return func(context.Context) error { return nil }, nil
	}

	exp, err := newOTLPExporterFn(ctx, newOTLPClient(exporterOptions(cfg.OTEL)...))
	if err != nil {
		return nil, err
	}

	res, err := newBridgeResourceFn(ctx, bridgeAttributes(cfg, version))
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithSampler(sampler(cfg.OTEL.SampleRatio)),
		sdktrace.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))
	return tp.Shutdown, nil
}

func exporterOptions(cfg config.OTELConfig) []otlptracegrpc.Option {
	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
		otlptracegrpc.WithCompressor("gzip"),
	}
	if cfg.ExportTimeout > 0 {
		opts = append(opts, otlptracegrpc.WithTimeout(cfg.ExportTimeout))
	}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	} else {
		opts = append(opts, otlptracegrpc.WithTLSCredentials(credentials.NewClientTLSFromCert(nil, "")))
	}
	return opts
}

func bridgeAttributes(cfg config.Config, version string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		semconv.ServiceName(cfg.OTEL.ServiceName),
		semconv.ServiceVersion(version),
	}
	if cfg.Discord.ForumChannelID != "" {
		attrs = append(attrs, AttrForumChannel.String(cfg.Discord.ForumChannelID))
	}
	if cfg.GitHub.Owner != "" && cfg.GitHub.Repo != "" {
		attrs = append(attrs, AttrRepository.String(cfg.GitHub.Owner+"/"+cfg.GitHub.Repo))
	}
	if cfg.GitHub.CategoryID != "" {
		attrs = append(attrs, AttrCategory.String(cfg.GitHub.CategoryID))
	}
	return attrs
}

// sampler keeps every trace at 1 and none at 0. Ratios in between follow
// the parent's decision when there is one.
func sampler(ratio float64) sdktrace.Sampler {
	switch {
	case ratio >= 1:
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	case ratio <= 0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
	}
}
