// ABOUTME: Tests for core telemetry interface and no-op implementation functionality
// ABOUTME: Validates telemetry recording, span creation, and lifecycle management using real telemetry operations

package telemetry

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
)

func TestNoopTelemetry(t *testing.T) {
	tel := NewNoop()

	ctx := context.Background()

	// Test that no-op operations don't panic
	tel.RecordHistogram(ctx, "test.histogram", 1.5, attribute.String("key", "value"))
	tel.RecordCounter(ctx, "test.counter", 10, attribute.String("key", "value"))

	// Test span creation
	spanCtx, span := tel.StartSpan(ctx, "test.span", attribute.String("test", "value"))
	if spanCtx == nil {
		t.Error("StartSpan returned nil context")
	}
	if span == nil {
		t.Error("StartSpan returned nil span")
	}
	span.End()

	// Test shutdown
	if err := tel.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown returned error: %v", err)
	}
}

func TestNewForTesting(t *testing.T) {
	tel := NewForTesting()
	if tel == nil {
		t.Fatal("NewForTesting returned nil")
	}
	if _, ok := tel.(*NoopTelemetry); !ok {
		t.Errorf("Expected NoopTelemetry, got %T", tel)
	}
}

func TestRecordHelpers(t *testing.T) {
	tel := NewNoop()
	ctx := context.Background()
	start := time.Now()

	time.Sleep(time.Millisecond)

	RecordDuration(ctx, tel, "test.duration", start, attribute.String("op", "test"))
	RecordBytes(ctx, tel, "test.bytes", 1024, attribute.String("op", "test"))
}

func TestConstantsAreDistinct(t *testing.T) {
	groups := map[string][]string{
		"attributes": {AttrOperationType, AttrComponent, AttrStatus, AttrErrorType, AttrResult, AttrDeviceAddr},
		"operations": {OpTypeLoad, OpTypeSave, OpTypePut, OpTypeGet, OpTypeDelete, OpTypeList, OpTypeRead, OpTypeWrite, OpTypeErase},
		"statuses":   {StatusSuccess, StatusError},
		"components": {ComponentEngine, ComponentFlash, ComponentRemote},
	}

	for group, values := range groups {
		seen := make(map[string]bool)
		for _, v := range values {
			if v == "" {
				t.Errorf("Empty constant in %s", group)
			}
			if seen[v] {
				t.Errorf("Duplicate constant %q in %s", v, group)
			}
			seen[v] = true
		}
	}
}
