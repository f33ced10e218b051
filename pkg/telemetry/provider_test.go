// ABOUTME: Tests for telemetry provider creation and configuration handling using real provider operations
// ABOUTME: Validates provider initialization, stdout export on shutdown, and no-op fallback behavior

package telemetry

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/attribute"
)

func TestNewDisabledReturnsNoop(t *testing.T) {
	tel, err := New(Config{Enabled: false})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if _, ok := tel.(*NoopTelemetry); !ok {
		t.Errorf("Expected NoopTelemetry, got %T", tel)
	}
}

func TestNewInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.ServiceName = ""

	if _, err := New(cfg); err == nil {
		t.Error("Expected error for invalid config")
	}
}

func TestProviderExportsToStdout(t *testing.T) {
	var out bytes.Buffer

	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.Exporters = []string{"stdout"}

	tel, err := New(cfg, WithStdoutWriter(&out))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	provider, ok := tel.(*TelemetryProvider)
	if !ok {
		t.Fatalf("Expected *TelemetryProvider, got %T", tel)
	}
	if provider.InstanceID() == "" {
		t.Error("Expected an instance id")
	}

	ctx := context.Background()
	tel.RecordCounter(ctx, "flashkv.test.counter", 3, attribute.String(AttrComponent, ComponentEngine))
	tel.RecordCounter(ctx, "flashkv.test.counter", 4, attribute.String(AttrComponent, ComponentEngine))
	tel.RecordHistogram(ctx, "flashkv.test.histogram", 0.25)

	spanCtx, span := tel.StartSpan(ctx, "flashkv.test.span", attribute.String(AttrOperationType, OpTypeSave))
	if spanCtx == ctx {
		t.Error("Expected StartSpan to derive a new context")
	}
	span.End()

	// Shutdown flushes both the periodic reader and the span batcher
	if err := tel.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	output := out.String()
	for _, want := range []string{"flashkv.test.counter", "flashkv.test.histogram", "flashkv.test.span"} {
		if !strings.Contains(output, want) {
			t.Errorf("Expected stdout export to mention %q", want)
		}
	}
}

func TestProviderCachesInstruments(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = true

	tel, err := New(cfg, WithStdoutWriter(&bytes.Buffer{}))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer tel.Shutdown(context.Background())

	provider := tel.(*TelemetryProvider)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		provider.RecordCounter(ctx, "flashkv.cached.counter", 1)
		provider.RecordHistogram(ctx, "flashkv.cached.histogram", float64(i))
	}

	if len(provider.counters) != 1 {
		t.Errorf("Expected 1 cached counter, got %d", len(provider.counters))
	}
	if len(provider.histograms) != 1 {
		t.Errorf("Expected 1 cached histogram, got %d", len(provider.histograms))
	}
}
