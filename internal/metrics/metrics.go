package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

type Metrics struct {
	HTTPRequests       metric.Int64Counter
	HTTPDuration       metric.Float64Histogram
	SaveAttempts       metric.Int64Counter
	SaveFailures       metric.Int64Counter
	SaveRetries        metric.Int64Counter
	SaveDuration       metric.Float64Histogram
	CapacityRejections metric.Int64Counter
	BackupWrites       metric.Int64Counter
	ActiveConnections  metric.Int64UpDownCounter
}

func Setup(serviceName string) (*Metrics, http.Handler, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, nil, err
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	meter := provider.Meter(serviceName)

	m := &Metrics{}

	m.HTTPRequests, err = meter.Int64Counter(
		"scribe_http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.HTTPDuration, err = meter.Float64Histogram(
		"scribe_http_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.SaveAttempts, err = meter.Int64Counter(
		"scribe_save_attempts_total",
		metric.WithDescription("Total number of autosave commit attempts"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.SaveFailures, err = meter.Int64Counter(
		"scribe_save_failures_total",
		metric.WithDescription("Total number of failed autosave commits"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.SaveRetries, err = meter.Int64Counter(
		"scribe_save_retries_total",
		metric.WithDescription("Total number of autosave retry attempts"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.SaveDuration, err = meter.Float64Histogram(
		"scribe_save_duration_seconds",
		metric.WithDescription("Autosave commit duration in seconds"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.CapacityRejections, err = meter.Int64Counter(
		"scribe_capacity_rejections_total",
		metric.WithDescription("Total number of writes rejected by the storage capacity cap"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.BackupWrites, err = meter.Int64Counter(
		"scribe_backup_writes_total",
		metric.WithDescription("Total number of draft backup writes"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.ActiveConnections, err = meter.Int64UpDownCounter(
		"scribe_websocket_connections",
		metric.WithDescription("Number of active WebSocket connections"),
	)
	if err != nil {
		return nil, nil, err
	}

	handler := promhttp.Handler()
	return m, handler, nil
}

func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, status int, duration time.Duration) {
	labels := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("path", path),
		attribute.Int("status", status),
	)

	m.HTTPRequests.Add(ctx, 1, labels)
	m.HTTPDuration.Record(ctx, duration.Seconds(), labels)
}

func (m *Metrics) RecordSaveAttempt(ctx context.Context, attempt int, duration time.Duration, err error) {
	labels := metric.WithAttributes(attribute.Int("attempt", attempt))

	m.SaveAttempts.Add(ctx, 1, labels)
	m.SaveDuration.Record(ctx, duration.Seconds(), labels)
	if err != nil {
		m.SaveFailures.Add(ctx, 1, labels)
	}
	if attempt > 1 {
		m.SaveRetries.Add(ctx, 1, labels)
	}
}

func (m *Metrics) RecordCapacityRejection(ctx context.Context) {
	m.CapacityRejections.Add(ctx, 1)
}

func (m *Metrics) RecordBackupWrite(ctx context.Context, ok bool) {
	m.BackupWrites.Add(ctx, 1, metric.WithAttributes(attribute.Bool("ok", ok)))
}

func (m *Metrics) IncrementConnections(ctx context.Context) {
	m.ActiveConnections.Add(ctx, 1)
}

func (m *Metrics) DecrementConnections(ctx context.Context) {
	m.ActiveConnections.Add(ctx, -1)
}
