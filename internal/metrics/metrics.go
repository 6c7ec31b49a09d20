// Package metrics records translation and expansion counters through
// OpenTelemetry. A nil *Metrics is valid and records nothing.
package metrics

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	attrKind   = "kind"
	attrError  = "error"
	attrFormat = "format"
	attrMethod = "method"
	attrPath   = "path"
	attrStatus = "status"
)

// Metrics holds the instruments.
type Metrics struct {
	componentsIngested metric.Int64Counter
	ingestFailures     metric.Int64Counter
	componentsEmitted  metric.Int64Counter
	instancesExpanded  metric.Int64Histogram
	expansionsCapped   metric.Int64Counter

	httpRequests metric.Int64Counter
	httpDuration metric.Float64Histogram
}

// NewMetrics creates every instrument on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.componentsIngested, err = meter.Int64Counter(
		"calcore_components_ingested_total",
		metric.WithDescription("Calendar components translated into the event graph"),
		metric.WithUnit("{component}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create calcore_components_ingested_total counter: %w", err)
	}

	m.ingestFailures, err = meter.Int64Counter(
		"calcore_ingest_failures_total",
		metric.WithDescription("Components rejected during ingest, by error kind"),
		metric.WithUnit("{component}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create calcore_ingest_failures_total counter: %w", err)
	}

	m.componentsEmitted, err = meter.Int64Counter(
		"calcore_components_emitted_total",
		metric.WithDescription("Components written to a wire encoding"),
		metric.WithUnit("{component}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create calcore_components_emitted_total counter: %w", err)
	}

	m.instancesExpanded, err = meter.Int64Histogram(
		"calcore_instances_per_expansion",
		metric.WithDescription("Instances produced by one recurrence expansion"),
		metric.WithUnit("{instance}"),
		metric.WithExplicitBucketBoundaries(1, 10, 50, 100, 500, 1000, 5000),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create calcore_instances_per_expansion histogram: %w", err)
	}

	m.expansionsCapped, err = meter.Int64Counter(
		"calcore_expansions_truncated_total",
		metric.WithDescription("Expansions cut by the instance cap"),
		metric.WithUnit("{expansion}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create calcore_expansions_truncated_total counter: %w", err)
	}

	m.httpRequests, err = meter.Int64Counter(
		"http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http_requests_total counter: %w", err)
	}

	m.httpDuration, err = meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.01, 0.1, 0.5, 1.0, 2.5, 5.0, 10.0),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http_request_duration_seconds histogram: %w", err)
	}

	return m, nil
}

// RecordIngest counts one translated component of the given kind.
func (m *Metrics) RecordIngest(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.componentsIngested.Add(ctx, 1, metric.WithAttributes(attribute.String(attrKind, kind)))
}

// RecordIngestFailure counts one rejected component.
func (m *Metrics) RecordIngestFailure(ctx context.Context, errKind string) {
	if m == nil {
		return
	}
	m.ingestFailures.Add(ctx, 1, metric.WithAttributes(attribute.String(attrError, errKind)))
}

// RecordEmit counts n components written in format.
func (m *Metrics) RecordEmit(ctx context.Context, format string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.componentsEmitted.Add(ctx, int64(n), metric.WithAttributes(attribute.String(attrFormat, format)))
}

// RecordExpansion records the size of one expansion and whether the cap
// cut it.
func (m *Metrics) RecordExpansion(ctx context.Context, instances int, truncated bool) {
	if m == nil {
		return
	}
	m.instancesExpanded.Record(ctx, int64(instances))
	if truncated {
		m.expansionsCapped.Add(ctx, 1)
	}
}

// RecordHTTPRequest records one served request.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, statusCode int, duration time.Duration) {
	if m == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String(attrMethod, method),
		attribute.String(attrPath, path),
		attribute.String(attrStatus, strconv.Itoa(statusCode)),
	}
	m.httpRequests.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.httpDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}
