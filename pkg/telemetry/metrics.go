package telemetry

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const maxMessageSample = 256

var (
	attrOperation  = attribute.Key("chat.operation")
	attrHistoryID  = attribute.Key("chat.history_id")
	attrMessage    = attribute.Key("chat.message")
	attrRequestErr = attribute.Key("chat.request.error")
)

type metrics struct {
	requests metric.Int64Counter
	latency  metric.Float64Histogram
	errors   metric.Float64Histogram
}

// RequestData captures the metadata recorded for each client round trip.
type RequestData struct {
	Operation     string
	HistoryID     string
	MessageSample string
	Duration      time.Duration
	Error         error
}

func newMetrics(m meterProvider) (*metrics, error) {
	if m == nil {
		return &metrics{}, nil
	}
	requests, err := m.Int64Counter("chat.client.requests.total", metric.WithDescription("Total number of chat backend round trips."))
	if err != nil {
		return nil, err
	}
	latency, err := m.Float64Histogram("chat.client.latency.ms", metric.WithDescription("Round-trip latency in milliseconds."), metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}
	errorRate, err := m.Float64Histogram("chat.client.errors.rate", metric.WithDescription("Per-request error indicator (0 or 1)."), metric.WithUnit("1"))
	if err != nil {
		return nil, err
	}
	return &metrics{
		requests: requests,
		latency:  latency,
		errors:   errorRate,
	}, nil
}

func (m *metrics) RecordRequest(ctx context.Context, data RequestData) {
	if m == nil || m.requests == nil {
		return
	}
	attrs := make([]attribute.KeyValue, 0, 4)
	if data.Operation != "" {
		attrs = append(attrs, attrOperation.String(data.Operation))
	}
	if data.HistoryID != "" {
		attrs = append(attrs, attrHistoryID.String(data.HistoryID))
	}
	if sample := sanitizeSample(data.MessageSample); sample != "" {
		attrs = append(attrs, attrMessage.String(sample))
	}
	errFlag := data.Error != nil
	attrs = append(attrs, attrRequestErr.Bool(errFlag))

	m.requests.Add(ctx, 1, metric.WithAttributes(attrs...))
	if data.Duration > 0 && m.latency != nil {
		m.latency.Record(ctx, float64(data.Duration.Milliseconds()), metric.WithAttributes(attrs...))
	}
	if m.errors != nil {
		if errFlag {
			m.errors.Record(ctx, 1, metric.WithAttributes(attrs...))
		} else {
			m.errors.Record(ctx, 0, metric.WithAttributes(attrs...))
		}
	}
}

func sanitizeSample(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	if utf8.RuneCountInString(value) <= maxMessageSample {
		return value
	}
	runes := []rune(value)
	return string(runes[:maxMessageSample])
}

// meterProvider is the subset of metric.Meter we rely on, which makes
// dependency injection straightforward in tests.
type meterProvider interface {
	Int64Counter(name string, opts ...metric.Int64CounterOption) (metric.Int64Counter, error)
	Float64Histogram(name string, opts ...metric.Float64HistogramOption) (metric.Float64Histogram, error)
}
