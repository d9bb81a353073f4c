// Package telemetry provides the process-wide logger and background
// maintenance metrics. Both are constructed once by the caller and threaded
// explicitly through components; nothing here is a package-level global.
package telemetry

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// NewLogger builds a zerolog.Logger writing to w (os.Stderr by default) at
// the given minimum level.
func NewLogger(w io.Writer, level zerolog.Level) zerolog.Logger {
	if w == nil {
		w = os.Stderr
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

// Metrics holds the instruments the background maintenance loop and the
// index family report to.
type Metrics struct {
	provider *sdkmetric.MeterProvider
	meter    metric.Meter

	WALCompactions   metric.Int64Counter
	IndexFlushes     metric.Int64Counter
	FlushLatency     metric.Float64Histogram
	WarmupDuration   metric.Float64Histogram
	MaintenanceTicks metric.Int64Counter
}

// NewMetrics builds an in-process OpenTelemetry metrics pipeline exporting
// to stdout by default. Callers embedding the engine may swap the exporter
// by constructing their own sdkmetric.MeterProvider and ignoring this
// constructor.
func NewMetrics() (*Metrics, error) {
	exp, err := stdoutmetric.New(stdoutmetric.WithoutTimestamps())
	if err != nil {
		return nil, err
	}
	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(time.Minute))),
	)
	meter := provider.Meter("memoryd")

	walCompactions, err := meter.Int64Counter("memoryd.wal.compactions")
	if err != nil {
		return nil, err
	}
	indexFlushes, err := meter.Int64Counter("memoryd.index.flushes")
	if err != nil {
		return nil, err
	}
	flushLatency, err := meter.Float64Histogram("memoryd.index.flush_latency_ms")
	if err != nil {
		return nil, err
	}
	warmup, err := meter.Float64Histogram("memoryd.warmup_duration_ms")
	if err != nil {
		return nil, err
	}
	ticks, err := meter.Int64Counter("memoryd.maintenance.ticks")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		provider:         provider,
		meter:            meter,
		WALCompactions:   walCompactions,
		IndexFlushes:     indexFlushes,
		FlushLatency:     flushLatency,
		WarmupDuration:   warmup,
		MaintenanceTicks: ticks,
	}, nil
}

// Shutdown flushes and stops the metrics pipeline.
func (m *Metrics) Shutdown(ctx context.Context) error {
	if m == nil || m.provider == nil {
		return nil
	}
	return m.provider.Shutdown(ctx)
}

// NoopMetrics returns a Metrics whose instruments silently discard
// measurements, for tests and embedders that don't want OTel wiring.
func NoopMetrics() *Metrics {
	// A MeterProvider with no reader registered exports nothing.
	provider := sdkmetric.NewMeterProvider()
	meter := provider.Meter("memoryd-noop")
	wal, _ := meter.Int64Counter("noop.wal")
	idx, _ := meter.Int64Counter("noop.idx")
	fl, _ := meter.Float64Histogram("noop.fl")
	wu, _ := meter.Float64Histogram("noop.wu")
	tk, _ := meter.Int64Counter("noop.tk")
	return &Metrics{provider: provider, meter: meter, WALCompactions: wal, IndexFlushes: idx, FlushLatency: fl, WarmupDuration: wu, MaintenanceTicks: tk}
}
