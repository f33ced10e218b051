package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/KevoDB/flashkv/pkg/format"
	"github.com/KevoDB/flashkv/pkg/stats"
	"github.com/KevoDB/flashkv/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Save rewrites the region with the current map: erase the whole region, then
// program the image one page at a time. Pages past the image stay erased.
//
// The map is left untouched whether or not Save succeeds. After a failed
// save the region content is undefined until the next successful one.
func (e *Engine) Save() error {
	if !e.loaded {
		return ErrNotLoaded
	}

	ctx, span := e.tel.StartSpan(context.Background(), "flashkv.engine.save",
		attribute.String(telemetry.AttrOperationType, telemetry.OpTypeSave))
	defer span.End()

	start := time.Now()
	image := e.encode()
	if len(image) > int(e.region.Size) {
		err := fmt.Errorf("%w: image of %d bytes does not fit region %s", ErrCapacityExceeded, len(image), e.region)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.logger.Error("Refusing to save: %v", err)
		return err
	}
	pages, err := e.program(image)
	duration := time.Since(start)

	e.stats.TrackOperationWithLatency(stats.OpSave, uint64(duration.Nanoseconds()))
	e.metrics.RecordSave(ctx, duration, int64(len(image)), pages, err == nil)
	if err != nil {
		e.stats.TrackError("save_error")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.logger.Error("Failed to save store to %s after %d pages: %v", e.region, pages, err)
		return err
	}

	e.stats.TrackSave(uint64(pages))
	e.stats.TrackBytes(true, uint64(len(image)))
	e.metrics.RecordStoreSize(ctx, int64(e.size), int64(len(e.entries)))
	span.SetAttributes(attribute.Int("save.pages", pages))

	e.logger.Debug("Saved %d entries (%d bytes, %d pages) to %s", len(e.entries), e.size, pages, e.region)
	return nil
}

// encode serializes the map in ascending key order so an unchanged map
// always produces the same image. The sentinel is written only when it fits.
func (e *Engine) encode() []byte {
	pageSize := int(e.region.PageSize)
	buf := make([]byte, 0, e.size+format.SentinelSize+pageSize)

	buf = format.AppendSignature(buf)
	for _, k := range e.sortedKeys() {
		buf = format.AppendRecord(buf, k, e.entries[k])
	}
	if len(buf)+format.SentinelSize <= int(e.region.Size) {
		buf = format.AppendSentinel(buf)
	}
	return format.PadToPage(buf, pageSize)
}

// program erases the region and writes image page by page. It returns the
// number of pages written before any failure.
func (e *Engine) program(image []byte) (int, error) {
	if err := e.dev.Erase(e.region.Base, e.region.Size); err != nil {
		return 0, e.flashError(telemetry.OpTypeErase, "erasing region", err)
	}

	pageSize := int(e.region.PageSize)
	pages := 0
	for off := 0; off < len(image); off += pageSize {
		addr := e.region.Base + uint32(off)
		if err := e.dev.Write(addr, image[off:off+pageSize]); err != nil {
			return pages, e.flashError(telemetry.OpTypeWrite, fmt.Sprintf("writing page at offset %d", off), err)
		}
		pages++
	}
	return pages, nil
}
