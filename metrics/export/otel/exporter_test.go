package otel

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/deskflow/authcore"
	"github.com/deskflow/authcore/metrics/export/internaldefs"
)

type fakeSource struct {
	mu       sync.RWMutex
	counters map[authcore.MetricID]uint64
	hist     map[authcore.MetricID][]uint64
	dropped  uint64
}

func (f *fakeSource) MetricsSnapshot() authcore.MetricsSnapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := authcore.MetricsSnapshot{
		Counters:   make(map[authcore.MetricID]uint64, len(f.counters)),
		Histograms: make(map[authcore.MetricID][]uint64, len(f.hist)),
	}
	for k, v := range f.counters {
		out.Counters[k] = v
	}
	for k, b := range f.hist {
		out.Histograms[k] = append([]uint64(nil), b...)
	}
	return out
}

func (f *fakeSource) AuditDropped() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.dropped
}

func newReaderMeter() (*sdkmetric.ManualReader, *sdkmetric.MeterProvider) {
	reader := sdkmetric.NewManualReader()
	return reader, sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Sum[int64] {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	out := map[string]metricdata.Sum[int64]{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				out[m.Name] = sum
			}
		}
	}
	return out
}

func pointValue(t *testing.T, sum metricdata.Sum[int64], attrs ...attribute.KeyValue) int64 {
	t.Helper()
	want := attribute.NewSet(attrs...)
	for _, dp := range sum.DataPoints {
		if dp.Attributes.Equals(&want) {
			return dp.Value
		}
	}
	t.Fatalf("no data point with %v", want.Encoded(attribute.DefaultEncoder()))
	return 0
}

func TestExporterGroupsCountersByFlow(t *testing.T) {
	reader, provider := newReaderMeter()
	src := &fakeSource{
		counters: map[authcore.MetricID]uint64{
			authcore.MetricLoginSuccess:   3,
			authcore.MetricLoginLockedOut: 2,
			authcore.MetricRefreshRevoked: 1,
		},
		hist: map[authcore.MetricID][]uint64{
			authcore.MetricValidateLatency: {1, 1, 1, 1, 1, 1, 1, 1},
		},
		dropped: 4,
	}

	exp, err := New(provider.Meter("test"), src)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer func() {
		if err := exp.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
	}()

	got := collect(t, reader)
	login, ok := got["authcore.login"]
	if !ok || !login.IsMonotonic {
		t.Fatalf("expected monotonic authcore.login, got %+v", got)
	}
	if v := pointValue(t, login, attribute.String("outcome", "success")); v != 3 {
		t.Fatalf("login success = %d, want 3", v)
	}
	if v := pointValue(t, login, attribute.String("outcome", "locked")); v != 2 {
		t.Fatalf("login locked = %d, want 2", v)
	}
	if v := pointValue(t, got["authcore.refresh"], attribute.String("outcome", "revoked")); v != 1 {
		t.Fatalf("refresh revoked = %d, want 1", v)
	}

	latency := got["authcore.latency.bucket"]
	if v := pointValue(t, latency, attribute.String("op", "validate"), attribute.String("le", "0.005")); v != 1 {
		t.Fatalf("first bucket = %d, want 1", v)
	}
	if v := pointValue(t, latency, attribute.String("op", "validate"), attribute.String("le", "+Inf")); v != 8 {
		t.Fatalf("+Inf bucket = %d, want 8", v)
	}
	if v := pointValue(t, got["authcore.audit.dropped"]); v != 4 {
		t.Fatalf("audit dropped = %d, want 4", v)
	}
}

func TestEveryEngineCounterHasAFlow(t *testing.T) {
	mapped := make(map[authcore.MetricID]bool, len(flowOutcomes))
	for _, fo := range flowOutcomes {
		if mapped[fo.id] {
			t.Fatalf("metric %d mapped twice", fo.id)
		}
		mapped[fo.id] = true
	}
	for _, def := range internaldefs.CounterDefs {
		if !mapped[def.ID] {
			t.Fatalf("%s has no otel flow", def.Name)
		}
	}
}

func TestExporterRejectsNilInputs(t *testing.T) {
	_, provider := newReaderMeter()
	if _, err := New(nil, &fakeSource{}); err != ErrNilMeter {
		t.Fatalf("expected ErrNilMeter, got %v", err)
	}
	if _, err := New(provider.Meter("test"), nil); err != ErrNilSource {
		t.Fatalf("expected ErrNilSource, got %v", err)
	}
}

func TestExporterConcurrentCollect(t *testing.T) {
	reader, provider := newReaderMeter()
	src := &fakeSource{counters: map[authcore.MetricID]uint64{authcore.MetricLoginSuccess: 1}}
	exp, err := New(provider.Meter("test"), src)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer exp.Close()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(v uint64) {
			defer wg.Done()
			src.mu.Lock()
			src.counters[authcore.MetricLoginSuccess] = v
			src.mu.Unlock()
			var rm metricdata.ResourceMetrics
			_ = reader.Collect(context.Background(), &rm)
		}(uint64(i + 1))
	}
	wg.Wait()
}

func TestStartLoggingFlushesOnStop(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	src := &fakeSource{counters: map[authcore.MetricID]uint64{
		authcore.MetricLoginSuccess:  5,
		authcore.MetricLoginFailure:  0,
		authcore.MetricLogoutAll:     1,
		authcore.MetricRateLimitHit:  0,
		authcore.MetricStoreConflict: 0,
	}}

	stop, err := StartLogging(src, zap.New(core), time.Hour)
	if err != nil {
		t.Fatalf("StartLogging: %v", err)
	}
	if err := stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}

	seen := map[string]int64{}
	for _, entry := range logs.FilterMessage("metric").All() {
		fields := entry.ContextMap()
		name, _ := fields["name"].(string)
		attrs, _ := fields["attrs"].(string)
		value, _ := fields["value"].(int64)
		seen[name+"{"+attrs+"}"] = value
	}
	if seen["authcore.login{outcome=success}"] != 5 || seen["authcore.session{outcome=logout_all}"] != 1 {
		t.Fatalf("unexpected logged metrics: %v", seen)
	}
	if _, ok := seen["authcore.login{outcome=bad_credentials}"]; ok {
		t.Fatal("zero data points must not be logged")
	}
}
