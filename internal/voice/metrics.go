package voice

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics are shared by all sessions. A nil *Metrics records nothing.
type Metrics struct {
	units    metric.Int64Counter
	failures metric.Int64Counter
	latency  metric.Float64Histogram
	wakes    metric.Int64Counter
}

func NewMetrics(meter metric.Meter) (*Metrics, error) {
	units, err := meter.Int64Counter("loqa.voice.units_synthesized", metric.WithDescription("Text units synthesized to audio"))
	if err != nil {
		return nil, err
	}
	failures, err := meter.Int64Counter("loqa.voice.synthesis_failures", metric.WithDescription("Synthesis calls that failed"))
	if err != nil {
		return nil, err
	}
	latency, err := meter.Float64Histogram("loqa.voice.synthesis_latency", metric.WithDescription("Per-unit synthesis latency"), metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	wakes, err := meter.Int64Counter("loqa.voice.wake_detections", metric.WithDescription("Wake word detections"))
	if err != nil {
		return nil, err
	}
	return &Metrics{units: units, failures: failures, latency: latency, wakes: wakes}, nil
}

func (m *Metrics) unitSynthesized(ctx context.Context, took time.Duration) {
	if m == nil {
		return
	}
	m.units.Add(ctx, 1)
	m.latency.Record(ctx, took.Seconds())
}

func (m *Metrics) synthFailed(ctx context.Context) {
	if m == nil {
		return
	}
	m.failures.Add(ctx, 1)
}

func (m *Metrics) wakeDetected(ctx context.Context, model string) {
	if m == nil {
		return
	}
	m.wakes.Add(ctx, 1, metric.WithAttributes(attribute.String("model", model)))
}
