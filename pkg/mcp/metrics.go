package mcp

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/jonnyhoo/preflight-mcp-sub008/pkg/mcp"

// Metrics holds the MCP tool surface's instrumentation.
type Metrics struct {
	meter          metric.Meter
	logger         *zap.Logger
	invocations    metric.Int64Counter
	duration       metric.Float64Histogram
	errors         metric.Int64Counter
	activeRequests metric.Int64UpDownCounter
}

// NewMetrics creates a new Metrics instance.
func NewMetrics(logger *zap.Logger) *Metrics {
	m := &Metrics{meter: otel.Meter(instrumentationName), logger: logger}
	m.init()
	return m
}

func (m *Metrics) init() {
	var err error

	m.invocations, err = m.meter.Int64Counter(
		"preflight.mcp.tool.invocations_total",
		metric.WithDescription("Total number of MCP tool invocations"),
		metric.WithUnit("{invocation}"),
	)
	if err != nil {
		m.logger.Warn("failed to create invocations counter", zap.Error(err))
	}

	m.duration, err = m.meter.Float64Histogram(
		"preflight.mcp.tool.duration_seconds",
		metric.WithDescription("Duration of MCP tool invocations"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30),
	)
	if err != nil {
		m.logger.Warn("failed to create duration histogram", zap.Error(err))
	}

	m.errors, err = m.meter.Int64Counter(
		"preflight.mcp.tool.errors_total",
		metric.WithDescription("Total number of MCP tool errors, by envelope error code"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		m.logger.Warn("failed to create errors counter", zap.Error(err))
	}

	m.activeRequests, err = m.meter.Int64UpDownCounter(
		"preflight.mcp.tool.active_requests",
		metric.WithDescription("Number of currently active MCP tool requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		m.logger.Warn("failed to create active requests gauge", zap.Error(err))
	}
}

// start increments the active-request gauge and returns a func to be
// deferred at the top of a tool handler; call it with the envelope's error
// code (empty on success) to record the invocation, its duration, and
// decrement the gauge.
func (m *Metrics) start(ctx context.Context, toolName string) func(errorCode string) {
	begun := time.Now()
	attrs := []attribute.KeyValue{attribute.String("tool", toolName)}
	if m.activeRequests != nil {
		m.activeRequests.Add(ctx, 1, metric.WithAttributes(attrs...))
	}

	return func(errorCode string) {
		if m.activeRequests != nil {
			m.activeRequests.Add(ctx, -1, metric.WithAttributes(attrs...))
		}
		if m.invocations != nil {
			m.invocations.Add(ctx, 1, metric.WithAttributes(attrs...))
		}
		if m.duration != nil {
			m.duration.Record(ctx, time.Since(begun).Seconds(), metric.WithAttributes(attrs...))
		}
		if errorCode != "" && m.errors != nil {
			m.errors.Add(ctx, 1, metric.WithAttributes(append(attrs, attribute.String("code", errorCode))...))
		}
	}
}
