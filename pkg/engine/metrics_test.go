// ABOUTME: Tests for engine telemetry using a capturing telemetry sink
// ABOUTME: Verifies load, save and key operation metrics and spans reach the telemetry interface

package engine

import (
	"context"
	"testing"
	"time"

	"github.com/KevoDB/flashkv/pkg/common/log"
	"github.com/KevoDB/flashkv/pkg/flash"
	"github.com/KevoDB/flashkv/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// mockTelemetryServer captures telemetry calls for validation (infrastructure mocking only)
type mockTelemetryServer struct {
	histograms []mockHistogramCall
	counters   []mockCounterCall
	spans      []string
}

type mockHistogramCall struct {
	name  string
	value float64
	attrs []attribute.KeyValue
}

type mockCounterCall struct {
	name  string
	value int64
	attrs []attribute.KeyValue
}

func (m *mockTelemetryServer) RecordHistogram(ctx context.Context, name string, value float64, attrs ...attribute.KeyValue) {
	m.histograms = append(m.histograms, mockHistogramCall{name: name, value: value, attrs: attrs})
}

func (m *mockTelemetryServer) RecordCounter(ctx context.Context, name string, value int64, attrs ...attribute.KeyValue) {
	m.counters = append(m.counters, mockCounterCall{name: name, value: value, attrs: attrs})
}

func (m *mockTelemetryServer) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	m.spans = append(m.spans, name)
	return ctx, trace.SpanFromContext(ctx)
}

func (m *mockTelemetryServer) Shutdown(ctx context.Context) error {
	return nil
}

func (m *mockTelemetryServer) counterTotal(name string) int64 {
	var total int64
	for _, c := range m.counters {
		if c.name == name {
			total += c.value
		}
	}
	return total
}

func (m *mockTelemetryServer) hasHistogram(name string) bool {
	for _, h := range m.histograms {
		if h.name == name {
			return true
		}
	}
	return false
}

func (m *mockTelemetryServer) counterWithAttr(name string, kv attribute.KeyValue) bool {
	for _, c := range m.counters {
		if c.name != name {
			continue
		}
		for _, a := range c.attrs {
			if a == kv {
				return true
			}
		}
	}
	return false
}

func TestEngineRecordsTelemetry(t *testing.T) {
	mock := &mockTelemetryServer{}
	region := smallRegion()
	dev := flash.NewMemDeviceForRegion(region)

	e, err := NewEngine(dev, region, WithLogger(log.Discard()), WithTelemetry(mock))
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	mustLoad(t, e, LoadNotFound)

	if err := e.Put("a", []byte{1, 2, 3}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if _, err := e.Get("a"); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if err := e.Save(); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	mustLoad(t, e, LoadFound)

	if len(mock.spans) != 3 || mock.spans[0] != "flashkv.engine.load" || mock.spans[1] != "flashkv.engine.save" {
		t.Errorf("Unexpected spans: %v", mock.spans)
	}
	if mock.counterTotal("flashkv.engine.load.count") != 2 {
		t.Errorf("Expected 2 loads, got %d", mock.counterTotal("flashkv.engine.load.count"))
	}
	if !mock.counterWithAttr("flashkv.engine.load.count", attribute.String(telemetry.AttrResult, "not_found")) {
		t.Error("Expected a not_found load")
	}
	if !mock.counterWithAttr("flashkv.engine.load.count", attribute.String(telemetry.AttrResult, "found")) {
		t.Error("Expected a found load")
	}
	if mock.counterTotal("flashkv.engine.save.bytes") != 64 {
		t.Errorf("Expected 64 bytes saved, got %d", mock.counterTotal("flashkv.engine.save.bytes"))
	}
	if mock.counterTotal("flashkv.engine.save.pages") != 1 {
		t.Errorf("Expected 1 page saved, got %d", mock.counterTotal("flashkv.engine.save.pages"))
	}
	if mock.counterTotal("flashkv.engine.operation.count") != 2 {
		t.Errorf("Expected 2 key operations, got %d", mock.counterTotal("flashkv.engine.operation.count"))
	}
	for _, name := range []string{
		"flashkv.engine.load.duration",
		"flashkv.engine.save.duration",
		"flashkv.engine.operation.duration",
		"flashkv.engine.store.size.bytes",
	} {
		if !mock.hasHistogram(name) {
			t.Errorf("Expected histogram %s", name)
		}
	}
}

func TestEngineRecordsFailures(t *testing.T) {
	mock := &mockTelemetryServer{}
	region := smallRegion()
	dev := flash.NewMemDeviceForRegion(region)

	e, err := NewEngine(dev, region, WithLogger(log.Discard()), WithTelemetry(mock))
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	mustLoad(t, e, LoadNotFound)

	if err := e.Put("k", make([]byte, 300)); err == nil {
		t.Fatal("Expected capacity error")
	}
	if mock.counterTotal("flashkv.engine.capacity.rejections") != 1 {
		t.Error("Expected a capacity rejection")
	}

	dev.FailAfter(flash.FaultErase, 0)
	if err := e.Save(); err == nil {
		t.Fatal("Expected save error")
	}
	if !mock.counterWithAttr("flashkv.engine.save.count", attribute.String(telemetry.AttrStatus, telemetry.StatusError)) {
		t.Error("Expected a failed save to be counted")
	}
	if !mock.counterWithAttr("flashkv.engine.flash.errors", attribute.String(telemetry.AttrOperationType, telemetry.OpTypeErase)) {
		t.Error("Expected an erase failure to be counted")
	}

	dev.ClearFaults()
	dev.FailAfter(flash.FaultRead, 0)
	if result, _ := e.Load(); result != LoadError {
		t.Fatalf("Expected LoadError, got %s", result)
	}
	if !mock.counterWithAttr("flashkv.engine.load.count", attribute.String(telemetry.AttrResult, "error")) {
		t.Error("Expected a failed load to be counted")
	}
}

func TestNoopEngineMetrics(t *testing.T) {
	m := NewNoopEngineMetrics()
	ctx := context.Background()

	m.RecordLoad(ctx, LoadFound, time.Millisecond, 1, 14)
	m.RecordSave(ctx, time.Millisecond, 64, 1, true)
	m.RecordKeyOperation(ctx, telemetry.OpTypePut, time.Microsecond, true)
	m.RecordCapacityRejection(ctx, 10, 2)
	m.RecordStoreSize(ctx, 12, 1)
	m.RecordFlashError(ctx, telemetry.OpTypeRead)

	if err := m.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	if _, ok := NewEngineMetrics(nil).(*noopEngineMetrics); !ok {
		t.Error("Expected nil telemetry to yield no-op metrics")
	}
}
