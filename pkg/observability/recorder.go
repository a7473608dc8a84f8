package observability

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	globalMetrics *Metrics
	metricsMu     sync.RWMutex
)

// Metrics holds the engine's instruments. The zero value records nothing.
type Metrics struct {
	enabled bool

	turnDuration   metric.Float64Histogram
	turnsTotal     metric.Int64Counter
	turnErrors     metric.Int64Counter
	vetoesTotal    metric.Int64Counter
	slotPromotions metric.Int64Counter

	llmDuration     metric.Float64Histogram
	llmInputTokens  metric.Int64Counter
	llmOutputTokens metric.Int64Counter
	llmErrors       metric.Int64Counter
}

func (m *Metrics) RecordTurn(ctx context.Context, duration time.Duration, err error) {
	if m == nil || m.turnDuration == nil || m.turnsTotal == nil {
		return
	}

	m.turnDuration.Record(ctx, duration.Seconds())
	m.turnsTotal.Add(ctx, 1)

	if err != nil && m.turnErrors != nil {
		m.turnErrors.Add(ctx, 1)
	}
}

func (m *Metrics) RecordVeto(ctx context.Context, scorer string) {
	if m == nil || m.vetoesTotal == nil {
		return
	}

	m.vetoesTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("scorer", scorer),
	))
}

func (m *Metrics) RecordSlotPromotion(ctx context.Context) {
	if m == nil || m.slotPromotions == nil {
		return
	}

	m.slotPromotions.Add(ctx, 1)
}

func (m *Metrics) RecordLLMCall(ctx context.Context, model string, duration time.Duration, inputTokens, outputTokens int, err error) {
	if m == nil || m.llmDuration == nil || m.llmInputTokens == nil || m.llmOutputTokens == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("model", model),
	}

	m.llmDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	m.llmInputTokens.Add(ctx, int64(inputTokens), metric.WithAttributes(attrs...))
	m.llmOutputTokens.Add(ctx, int64(outputTokens), metric.WithAttributes(attrs...))

	if err != nil && m.llmErrors != nil {
		m.llmErrors.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

func SetGlobalMetrics(m *Metrics) {
	metricsMu.Lock()
	defer metricsMu.Unlock()
	globalMetrics = m
}

func GetGlobalMetrics() *Metrics {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	return globalMetrics
}

// Package-level helpers record against the global metrics instance. They are
// safe to call before InitMetrics runs.

func RecordLLMCall(ctx context.Context, model string, duration time.Duration, inputTokens, outputTokens int, err error) {
	GetGlobalMetrics().RecordLLMCall(ctx, model, duration, inputTokens, outputTokens, err)
}

func RecordTurn(ctx context.Context, duration time.Duration, err error) {
	GetGlobalMetrics().RecordTurn(ctx, duration, err)
}

func RecordVeto(ctx context.Context, scorer string) {
	GetGlobalMetrics().RecordVeto(ctx, scorer)
}

func RecordSlotPromotion(ctx context.Context) {
	GetGlobalMetrics().RecordSlotPromotion(ctx)
}
