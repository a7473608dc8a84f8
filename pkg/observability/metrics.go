// Package observability exposes Prometheus metrics for the interview engine
// via the OpenTelemetry metrics SDK. All recording entry points are nil-safe
// so the rest of the codebase can call them unconditionally.
package observability

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// InitMetrics builds the meter provider and instruments. When disabled it
// returns an empty Metrics whose recording methods are no-ops.
func InitMetrics(ctx context.Context, cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{}, nil
	}

	promExporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(promExporter),
	)

	meter := meterProvider.Meter("inquest")

	turnDuration, err := meter.Float64Histogram(
		"inquest_turn_duration_seconds",
		metric.WithDescription("Turn pipeline duration in seconds"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create turn duration histogram: %w", err)
	}

	turnsTotal, err := meter.Int64Counter(
		"inquest_turns_total",
		metric.WithDescription("Total turns processed"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create turns counter: %w", err)
	}

	turnErrors, err := meter.Int64Counter(
		"inquest_turn_errors_total",
		metric.WithDescription("Total turn pipeline errors"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create turn errors counter: %w", err)
	}

	vetoesTotal, err := meter.Int64Counter(
		"inquest_strategy_vetoes_total",
		metric.WithDescription("Total strategy candidates vetoed, by scorer"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create vetoes counter: %w", err)
	}

	slotPromotions, err := meter.Int64Counter(
		"inquest_slot_promotions_total",
		metric.WithDescription("Total candidate slots promoted to active"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create slot promotions counter: %w", err)
	}

	llmDuration, err := meter.Float64Histogram(
		"inquest_llm_request_duration_seconds",
		metric.WithDescription("LLM request duration in seconds"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create llm duration histogram: %w", err)
	}

	llmInputTokens, err := meter.Int64Counter(
		"inquest_llm_tokens_input_total",
		metric.WithDescription("Total input tokens sent to LLM"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create llm input tokens counter: %w", err)
	}

	llmOutputTokens, err := meter.Int64Counter(
		"inquest_llm_tokens_output_total",
		metric.WithDescription("Total output tokens from LLM"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create llm output tokens counter: %w", err)
	}

	llmErrors, err := meter.Int64Counter(
		"inquest_llm_errors_total",
		metric.WithDescription("Total LLM errors"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create llm errors counter: %w", err)
	}

	return &Metrics{
		enabled:         true,
		turnDuration:    turnDuration,
		turnsTotal:      turnsTotal,
		turnErrors:      turnErrors,
		vetoesTotal:     vetoesTotal,
		slotPromotions:  slotPromotions,
		llmDuration:     llmDuration,
		llmInputTokens:  llmInputTokens,
		llmOutputTokens: llmOutputTokens,
		llmErrors:       llmErrors,
	}, nil
}

// Handler serves the Prometheus scrape endpoint. When metrics are disabled it
// answers 503 so probes can tell the difference from an empty registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil || !m.enabled {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("metrics not enabled"))
		})
	}
	return promhttp.Handler()
}
