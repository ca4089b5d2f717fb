package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const meterName = "security-monitor"

// Metrics holds the metric instruments of the security monitor.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	EventsEmitted        metric.Int64Counter
	EventsDropped        metric.Int64Counter
	EventsWritten        metric.Int64Counter
	FlushFailures        metric.Int64Counter
	EventsSwept          metric.Int64Counter
	Classifications      metric.Int64Counter
	RateLimitRejections  metric.Int64Counter
	FieldsRemoved        metric.Int64Counter
	CounterEvictions     metric.Int64Counter
	FlushDurationSeconds metric.Float64Histogram
}

// New creates the instruments on the given provider (the global provider when nil)
func New(provider metric.MeterProvider) (*Metrics, error) {
	if provider == nil {
		provider = otel.GetMeterProvider()
	}
	meter := provider.Meter(meterName)

	m := &Metrics{}
	var err error

	counters := []struct {
		target      *metric.Int64Counter
		name        string
		description string
		unit        string
	}{
		{&m.EventsEmitted, "security.events.emitted", "Security events accepted by the emitter queue", "{event}"},
		{&m.EventsDropped, "security.events.dropped", "Security events dropped because the queue was full or closed", "{event}"},
		{&m.EventsWritten, "security.events.written", "Security events written to a sink", "{event}"},
		{&m.FlushFailures, "security.events.flush_failures", "Batches that exhausted their retries", "{batch}"},
		{&m.EventsSwept, "security.events.swept", "Security events deleted by the retention sweeper", "{event}"},
		{&m.Classifications, "security.classifications", "Suspicious and high-frequency classifications", "{classification}"},
		{&m.RateLimitRejections, "security.rate_limit.rejections", "Requests rejected by a rate limit policy", "{request}"},
		{&m.FieldsRemoved, "security.filter.fields_removed", "Response fields removed by the field filter", "{field}"},
		{&m.CounterEvictions, "security.counters.evicted", "Idle counters evicted from storage", "{counter}"},
	}

	for _, c := range counters {
		*c.target, err = meter.Int64Counter(c.name, metric.WithDescription(c.description), metric.WithUnit(c.unit))
		if err != nil {
			return nil, fmt.Errorf("failed to create %s counter: %w", c.name, err)
		}
	}

	m.FlushDurationSeconds, err = meter.Float64Histogram(
		"security.events.flush.duration",
		metric.WithDescription("Duration of a batch flush including retries"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create flush.duration histogram: %w", err)
	}

	return m, nil
}

// NewNoop returns instruments backed by a no-op provider
func NewNoop() *Metrics {
	m, _ := New(noop.NewMeterProvider())
	return m
}

// RecordEventEmitted records an event accepted by the queue
func (m *Metrics) RecordEventEmitted(ctx context.Context, eventType string) {
	if m == nil {
		return
	}
	m.EventsEmitted.Add(ctx, 1, metric.WithAttributes(attribute.String("event_type", eventType)))
}

// RecordEventDropped records an event that never reached the queue
func (m *Metrics) RecordEventDropped(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.EventsDropped.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordBatchWritten records a batch written to a sink
func (m *Metrics) RecordBatchWritten(ctx context.Context, sink string, size int, seconds float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("sink", sink))
	m.EventsWritten.Add(ctx, int64(size), attrs)
	m.FlushDurationSeconds.Record(ctx, seconds, attrs)
}

// RecordFlushFailure records a batch that exhausted its retries
func (m *Metrics) RecordFlushFailure(ctx context.Context, sink string) {
	if m == nil {
		return
	}
	m.FlushFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("sink", sink)))
}

// RecordSweep records the events deleted by one retention cycle
func (m *Metrics) RecordSweep(ctx context.Context, sink string, deleted int64) {
	if m == nil {
		return
	}
	m.EventsSwept.Add(ctx, deleted, metric.WithAttributes(attribute.String("sink", sink)))
}

// RecordClassification records a suspicious or high-frequency classification
func (m *Metrics) RecordClassification(ctx context.Context, eventType string) {
	if m == nil {
		return
	}
	m.Classifications.Add(ctx, 1, metric.WithAttributes(attribute.String("event_type", eventType)))
}

// RecordRateLimitRejection records a request denied by a policy
func (m *Metrics) RecordRateLimitRejection(ctx context.Context, policy string) {
	if m == nil {
		return
	}
	m.RateLimitRejections.Add(ctx, 1, metric.WithAttributes(attribute.String("policy", policy)))
}

// RecordFieldsRemoved records fields stripped from a response
func (m *Metrics) RecordFieldsRemoved(ctx context.Context, count int) {
	if m == nil || count == 0 {
		return
	}
	m.FieldsRemoved.Add(ctx, int64(count))
}

// RecordCounterEvictions records idle counters removed from a store
func (m *Metrics) RecordCounterEvictions(ctx context.Context, store string, count int) {
	if m == nil || count == 0 {
		return
	}
	m.CounterEvictions.Add(ctx, int64(count), metric.WithAttributes(attribute.String("store", store)))
}
