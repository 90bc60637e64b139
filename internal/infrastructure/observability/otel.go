package observability

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/zatekoja/carebook/pkg/config"
)

const instrumentationName = "github.com/zatekoja/carebook"

// Metrics holds all application metrics
type Metrics struct {
	RequestCount           metric.Int64Counter
	RequestDuration        metric.Float64Histogram
	BookingAttempts        metric.Int64Counter
	SlotClaimConflicts     metric.Int64Counter
	RescheduleCount        metric.Int64Counter
	NotificationDeliveries metric.Int64Counter
	RateLimited            metric.Int64Counter
}

// Setup initializes OpenTelemetry. Traces, OTLP metrics and logs are
// exported only when OTEL is enabled; the Prometheus reader is installed
// whenever PrometheusEnabled is set so /metrics works without a collector.
func Setup(ctx context.Context, cfg *config.OTELConfig) (func(context.Context) error, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, err
	}

	var shutdowns []func(context.Context) error
	shutdown := func(ctx context.Context) error {
		var errs []error
		for i := len(shutdowns) - 1; i >= 0; i-- {
			errs = append(errs, shutdowns[i](ctx))
		}
		return errors.Join(errs...)
	}

	exportOTLP := cfg.Enabled && cfg.Endpoint != ""

	if exportOTLP {
		// Set up trace exporter
		traceExporter, err := otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(cfg.Endpoint),
			otlptracegrpc.WithInsecure(),
		)
		if err != nil {
			return nil, err
		}

		tracerProvider := sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(traceExporter),
			sdktrace.WithResource(res),
		)
		otel.SetTracerProvider(tracerProvider)
		shutdowns = append(shutdowns, tracerProvider.Shutdown)
	}
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	var readers []sdkmetric.Option
	if exportOTLP {
		metricExporter, err := otlpmetricgrpc.New(ctx,
			otlpmetricgrpc.WithEndpoint(cfg.Endpoint),
			otlpmetricgrpc.WithInsecure(),
		)
		if err != nil {
			_ = shutdown(ctx)
			return nil, err
		}
		readers = append(readers, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter)))
	}
	if cfg.PrometheusEnabled {
		promExporter, err := otelprom.New()
		if err != nil {
			_ = shutdown(ctx)
			return nil, err
		}
		readers = append(readers, sdkmetric.WithReader(promExporter))
	}

	if len(readers) > 0 {
		meterProvider := sdkmetric.NewMeterProvider(append(readers, sdkmetric.WithResource(res))...)
		otel.SetMeterProvider(meterProvider)
		shutdowns = append(shutdowns, meterProvider.Shutdown)

		if err := runtime.Start(
			runtime.WithMeterProvider(meterProvider),
			runtime.WithMinimumReadMemStatsInterval(time.Second),
		); err != nil {
			log.Warn().Err(err).Msg("runtime metrics unavailable")
		}
	}

	if exportOTLP && cfg.LogsEnabled {
		logExporter, err := otlploggrpc.New(ctx,
			otlploggrpc.WithEndpoint(cfg.Endpoint),
			otlploggrpc.WithInsecure(),
		)
		if err != nil {
			_ = shutdown(ctx)
			return nil, err
		}

		loggerProvider := sdklog.NewLoggerProvider(
			sdklog.WithProcessor(sdklog.NewBatchProcessor(logExporter)),
			sdklog.WithResource(res),
		)
		global.SetLoggerProvider(loggerProvider)
		shutdowns = append(shutdowns, loggerProvider.Shutdown)

		log.Logger = log.Logger.Hook(NewOTelHook(instrumentationName))
	}

	return shutdown, nil
}

// InitMetrics initializes application metrics
func InitMetrics() (*Metrics, error) {
	meter := otel.Meter(instrumentationName)

	requestCount, err := meter.Int64Counter(
		"http.server.request.count",
		metric.WithDescription("Number of HTTP requests"),
	)
	if err != nil {
		return nil, err
	}

	requestDuration, err := meter.Float64Histogram(
		"http.server.request.duration",
		metric.WithDescription("HTTP request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	bookingAttempts, err := meter.Int64Counter(
		"booking.attempts",
		metric.WithDescription("Booking attempts by outcome"),
	)
	if err != nil {
		return nil, err
	}

	claimConflicts, err := meter.Int64Counter(
		"slot.claim.conflicts",
		metric.WithDescription("Slot claims lost to a concurrent writer"),
	)
	if err != nil {
		return nil, err
	}

	rescheduleCount, err := meter.Int64Counter(
		"reschedule.count",
		metric.WithDescription("Completed reschedules by path"),
	)
	if err != nil {
		return nil, err
	}

	deliveries, err := meter.Int64Counter(
		"notification.deliveries",
		metric.WithDescription("Notification deliveries by channel and status"),
	)
	if err != nil {
		return nil, err
	}

	rateLimited, err := meter.Int64Counter(
		"ratelimit.rejections",
		metric.WithDescription("Requests rejected by the attempt limiter"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		RequestCount:           requestCount,
		RequestDuration:        requestDuration,
		BookingAttempts:        bookingAttempts,
		SlotClaimConflicts:     claimConflicts,
		RescheduleCount:        rescheduleCount,
		NotificationDeliveries: deliveries,
		RateLimited:            rateLimited,
	}, nil
}

// StartSpan starts a new trace span
func StartSpan(ctx context.Context, spanName string) (context.Context, trace.Span) {
	tracer := otel.Tracer(instrumentationName)
	return tracer.Start(ctx, spanName)
}

// RecordError records an error in the current span
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
	}
}

// SetSpanAttributes sets attributes on a span
func SetSpanAttributes(span trace.Span, attrs ...attribute.KeyValue) {
	span.SetAttributes(attrs...)
}

// The Record helpers below accept a nil *Metrics so callers built without
// telemetry need no guards.

// RecordRequestMetric records a request metric with attributes
func RecordRequestMetric(ctx context.Context, metrics *Metrics, method, path string, statusCode int, duration time.Duration) {
	if metrics == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("http.method", method),
		attribute.String("http.route", path),
		attribute.Int("http.status_code", statusCode),
	}

	metrics.RequestCount.Add(ctx, 1, metric.WithAttributes(attrs...))
	metrics.RequestDuration.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))
}

// RecordBookingAttempt counts a booking by outcome (booked, unavailable, failed)
func RecordBookingAttempt(ctx context.Context, metrics *Metrics, outcome string) {
	if metrics == nil {
		return
	}
	metrics.BookingAttempts.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordClaimConflict counts a claim lost to another writer
func RecordClaimConflict(ctx context.Context, metrics *Metrics, operation string) {
	if metrics == nil {
		return
	}
	metrics.SlotClaimConflicts.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", operation)))
}

// RecordReschedule counts a completed reschedule by path (direct, approved)
func RecordReschedule(ctx context.Context, metrics *Metrics, path string) {
	if metrics == nil {
		return
	}
	metrics.RescheduleCount.Add(ctx, 1, metric.WithAttributes(attribute.String("path", path)))
}

// RecordNotificationDelivery counts a delivery outcome
func RecordNotificationDelivery(ctx context.Context, metrics *Metrics, channel, status string) {
	if metrics == nil {
		return
	}
	metrics.NotificationDeliveries.Add(ctx, 1, metric.WithAttributes(
		attribute.String("channel", channel),
		attribute.String("status", status),
	))
}

// RecordRateLimited counts a rejected request
func RecordRateLimited(ctx context.Context, metrics *Metrics, scope string) {
	if metrics == nil {
		return
	}
	metrics.RateLimited.Add(ctx, 1, metric.WithAttributes(attribute.String("scope", scope)))
}
