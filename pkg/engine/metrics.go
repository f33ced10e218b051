// ABOUTME: Engine-level telemetry for store loads, saves and key operations
// ABOUTME: Wraps the telemetry interface with FlashKV metric names and a no-op variant

package engine

import (
	"context"
	"time"

	"github.com/KevoDB/flashkv/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

// EngineMetrics defines the interface for engine-level telemetry
type EngineMetrics interface {
	telemetry.ComponentMetrics

	// Persistence
	RecordLoad(ctx context.Context, result LoadResult, duration time.Duration, entries int, bytesScanned int64)
	RecordSave(ctx context.Context, duration time.Duration, bytesWritten int64, pages int, success bool)

	// Key operations
	RecordKeyOperation(ctx context.Context, operation string, duration time.Duration, success bool)
	RecordCapacityRejection(ctx context.Context, requested, free int64)
	RecordStoreSize(ctx context.Context, size int64, entries int64)

	// Device failures
	RecordFlashError(ctx context.Context, operation string)
}

// engineMetrics implements EngineMetrics using the telemetry interface
type engineMetrics struct {
	tel telemetry.Telemetry
}

// NewEngineMetrics creates a new EngineMetrics instance
func NewEngineMetrics(tel telemetry.Telemetry) EngineMetrics {
	if tel == nil {
		return NewNoopEngineMetrics()
	}
	return &engineMetrics{
		tel: tel,
	}
}

// NewNoopEngineMetrics creates a no-op EngineMetrics for testing or when telemetry is disabled
func NewNoopEngineMetrics() EngineMetrics {
	return &noopEngineMetrics{}
}

// RecordLoad records the outcome of a load and how much of the region it scanned
func (m *engineMetrics) RecordLoad(ctx context.Context, result LoadResult, duration time.Duration, entries int, bytesScanned int64) {
	defer func() {
		if r := recover(); r != nil {
			// Silently handle telemetry panics
		}
	}()

	attrs := []attribute.KeyValue{
		attribute.String(telemetry.AttrComponent, telemetry.ComponentEngine),
		attribute.String(telemetry.AttrResult, result.String()),
	}
	m.tel.RecordHistogram(ctx, "flashkv.engine.load.duration", duration.Seconds(), attrs...)
	m.tel.RecordCounter(ctx, "flashkv.engine.load.count", 1, attrs...)

	if result != LoadError {
		m.tel.RecordCounter(ctx, "flashkv.engine.load.entries", int64(entries), attrs...)
		telemetry.RecordBytes(ctx, m.tel, "flashkv.engine.load.bytes", bytesScanned, attrs...)
	}
}

// RecordSave records a full-region save
func (m *engineMetrics) RecordSave(ctx context.Context, duration time.Duration, bytesWritten int64, pages int, success bool) {
	defer func() {
		if r := recover(); r != nil {
			// Silently handle telemetry panics
		}
	}()

	attrs := []attribute.KeyValue{
		attribute.String(telemetry.AttrComponent, telemetry.ComponentEngine),
		attribute.String(telemetry.AttrStatus, statusOf(success)),
	}
	m.tel.RecordHistogram(ctx, "flashkv.engine.save.duration", duration.Seconds(), attrs...)
	m.tel.RecordCounter(ctx, "flashkv.engine.save.count", 1, attrs...)

	if success {
		telemetry.RecordBytes(ctx, m.tel, "flashkv.engine.save.bytes", bytesWritten, attrs...)
		m.tel.RecordCounter(ctx, "flashkv.engine.save.pages", int64(pages), attrs...)
	}
}

// RecordKeyOperation records an in-memory key operation
func (m *engineMetrics) RecordKeyOperation(ctx context.Context, operation string, duration time.Duration, success bool) {
	defer func() {
		if r := recover(); r != nil {
			// Silently handle telemetry panics
		}
	}()

	attrs := []attribute.KeyValue{
		attribute.String(telemetry.AttrOperationType, operation),
		attribute.String(telemetry.AttrStatus, statusOf(success)),
	}
	m.tel.RecordHistogram(ctx, "flashkv.engine.operation.duration", duration.Seconds(), attrs...)
	m.tel.RecordCounter(ctx, "flashkv.engine.operation.count", 1, attrs...)
}

// RecordCapacityRejection records a put refused because the region is full
func (m *engineMetrics) RecordCapacityRejection(ctx context.Context, requested, free int64) {
	defer func() {
		if r := recover(); r != nil {
			// Silently handle telemetry panics
		}
	}()

	m.tel.RecordCounter(ctx, "flashkv.engine.capacity.rejections", 1,
		attribute.String(telemetry.AttrComponent, telemetry.ComponentEngine))
	m.tel.RecordHistogram(ctx, "flashkv.engine.capacity.shortfall.bytes", float64(requested-free),
		attribute.String(telemetry.AttrComponent, telemetry.ComponentEngine))
}

// RecordStoreSize records the serialized size of the store after a load or save
func (m *engineMetrics) RecordStoreSize(ctx context.Context, size int64, entries int64) {
	defer func() {
		if r := recover(); r != nil {
			// Silently handle telemetry panics
		}
	}()

	attrs := []attribute.KeyValue{
		attribute.String(telemetry.AttrComponent, telemetry.ComponentEngine),
	}
	m.tel.RecordHistogram(ctx, "flashkv.engine.store.size.bytes", float64(size), attrs...)
	m.tel.RecordHistogram(ctx, "flashkv.engine.store.entries", float64(entries), attrs...)
}

// RecordFlashError records a failed device call
func (m *engineMetrics) RecordFlashError(ctx context.Context, operation string) {
	defer func() {
		if r := recover(); r != nil {
			// Silently handle telemetry panics
		}
	}()

	m.tel.RecordCounter(ctx, "flashkv.engine.flash.errors", 1,
		attribute.String(telemetry.AttrOperationType, operation),
		attribute.String(telemetry.AttrComponent, telemetry.ComponentFlash),
	)
}

// Close closes the metrics and cleans up resources
func (m *engineMetrics) Close() error {
	// Engine metrics doesn't own the telemetry instance, so we don't close it
	return nil
}

// noopEngineMetrics provides a no-op implementation for testing or disabled telemetry
type noopEngineMetrics struct{}

func (n *noopEngineMetrics) RecordLoad(ctx context.Context, result LoadResult, duration time.Duration, entries int, bytesScanned int64) {
}
func (n *noopEngineMetrics) RecordSave(ctx context.Context, duration time.Duration, bytesWritten int64, pages int, success bool) {
}
func (n *noopEngineMetrics) RecordKeyOperation(ctx context.Context, operation string, duration time.Duration, success bool) {
}
func (n *noopEngineMetrics) RecordCapacityRejection(ctx context.Context, requested, free int64) {}
func (n *noopEngineMetrics) RecordStoreSize(ctx context.Context, size int64, entries int64)   {}
func (n *noopEngineMetrics) RecordFlashError(ctx context.Context, operation string)           {}
func (n *noopEngineMetrics) Close() error                                                     { return nil }

func statusOf(success bool) string {
	if success {
		return telemetry.StatusSuccess
	}
	return telemetry.StatusError
}
