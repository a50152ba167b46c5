package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap"
)

const meterName = "github.com/deskflow/authcore"

// LogExporter is an sdkmetric.Exporter that writes non-zero int64 sums to a
// zap logger, one entry per data point.
type LogExporter struct {
	log *zap.Logger
}

func NewLogExporter(log *zap.Logger) *LogExporter {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogExporter{log: log}
}

func (e *LogExporter) Temporality(k sdkmetric.InstrumentKind) metricdata.Temporality {
	return sdkmetric.DefaultTemporalitySelector(k)
}

func (e *LogExporter) Aggregation(k sdkmetric.InstrumentKind) sdkmetric.Aggregation {
	return sdkmetric.DefaultAggregationSelector(k)
}

func (e *LogExporter) Export(_ context.Context, rm *metricdata.ResourceMetrics) error {
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, dp := range sum.DataPoints {
				if dp.Value == 0 {
					continue
				}
				e.log.Info("metric",
					zap.String("name", m.Name),
					zap.String("attrs", dp.Attributes.Encoded(attribute.DefaultEncoder())),
					zap.Int64("value", dp.Value),
				)
			}
		}
	}
	return nil
}

func (e *LogExporter) ForceFlush(context.Context) error { return nil }

func (e *LogExporter) Shutdown(context.Context) error { return nil }

// StartLogging collects source every interval through an SDK meter provider
// and logs the result on log. The returned stop function exports once more
// and shuts the provider down.
func StartLogging(source MetricsSource, log *zap.Logger, interval time.Duration) (stop func(context.Context) error, err error) {
	reader := sdkmetric.NewPeriodicReader(NewLogExporter(log), sdkmetric.WithInterval(interval))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	exp, err := New(provider.Meter(meterName), source)
	if err != nil {
		_ = provider.Shutdown(context.Background())
		return nil, err
	}
	return func(ctx context.Context) error {
		// Shutdown runs a final collection, so the callback stays registered
		// until after it.
		err := provider.Shutdown(ctx)
		_ = exp.Close()
		return err
	}, nil
}
