package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/KevoDB/flashkv/pkg/flash"
	"github.com/KevoDB/flashkv/pkg/format"
	"github.com/KevoDB/flashkv/pkg/stats"
	"github.com/KevoDB/flashkv/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// scanResult holds what a region scan produced.
type scanResult struct {
	entries map[string][]byte
	size    int
	found   bool
	scanned uint32
}

// Load reads the region into memory, replacing whatever the map held.
//
// A region without the signature yields LoadNotFound and an empty, usable
// store; flash is not touched. A device failure or a record that runs past
// the region yields LoadError and leaves the store unloaded.
func (e *Engine) Load() (LoadResult, error) {
	ctx, span := e.tel.StartSpan(context.Background(), "flashkv.engine.load",
		attribute.String(telemetry.AttrOperationType, telemetry.OpTypeLoad))
	defer span.End()

	start := e.stats.StartLoad()
	e.stats.TrackOperation(stats.OpLoad)

	res, err := e.scan()
	duration := time.Since(start)
	if err != nil {
		e.reset()
		e.stats.TrackError("load_error")
		e.metrics.RecordLoad(ctx, LoadError, duration, 0, 0)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.logger.Error("Failed to load store from %s: %v", e.region, err)
		return LoadError, err
	}

	e.entries = res.entries
	e.size = res.size
	e.loaded = true

	result := LoadNotFound
	if res.found {
		result = LoadFound
	}

	e.stats.FinishLoad(start, res.found, uint64(len(res.entries)), uint64(res.scanned))
	e.stats.TrackBytes(false, uint64(res.scanned))
	e.stats.TrackStoreSize(uint64(e.size), uint64(len(e.entries)))
	e.metrics.RecordLoad(ctx, result, duration, len(res.entries), int64(res.scanned))
	e.metrics.RecordStoreSize(ctx, int64(e.size), int64(len(e.entries)))
	span.SetAttributes(attribute.String(telemetry.AttrResult, result.String()))

	if res.found {
		e.logger.Info("Loaded %d entries (%d bytes) from %s", len(e.entries), e.size, e.region)
	} else {
		e.logger.Info("No store found in %s, starting empty", e.region)
	}
	return result, nil
}

// scan parses the region front to back. It reads exactly the bytes it
// decodes and never looks past the sentinel.
func (e *Engine) scan() (scanResult, error) {
	r := flash.NewReader(e.dev, e.region)
	// Both outcomes start the tally with the signature the next save writes.
	res := scanResult{entries: make(map[string][]byte), size: format.SignatureSize}

	sig := make([]byte, format.SignatureSize)
	if err := r.ReadFull(sig); err != nil {
		return res, e.flashError(telemetry.OpTypeRead, "reading signature", err)
	}
	res.scanned = r.Offset()
	if !format.IsSignature(sig) {
		return res, nil
	}

	res.found = true

	var lenBuf [format.LengthSize]byte
	for {
		// Fewer bytes left than a length field means the region is full.
		if r.Remaining() < format.LengthSize {
			break
		}

		recordStart := r.Offset()
		if err := r.ReadFull(lenBuf[:]); err != nil {
			return res, e.flashError(telemetry.OpTypeRead, fmt.Sprintf("reading key length at offset %d", recordStart), err)
		}
		keyLen := uint32(format.DecodeLength(lenBuf[:]))
		if keyLen == 0 {
			res.scanned = r.Offset()
			break
		}
		if keyLen+format.LengthSize > r.Remaining() {
			return res, fmt.Errorf("%w: key of %d bytes at offset %d runs past region end",
				ErrCorruptImage, keyLen, recordStart)
		}

		key := make([]byte, keyLen)
		if err := r.ReadFull(key); err != nil {
			return res, e.flashError(telemetry.OpTypeRead, fmt.Sprintf("reading key at offset %d", recordStart), err)
		}
		if err := r.ReadFull(lenBuf[:]); err != nil {
			return res, e.flashError(telemetry.OpTypeRead, fmt.Sprintf("reading value length at offset %d", recordStart), err)
		}
		valueLen := uint32(format.DecodeLength(lenBuf[:]))
		if valueLen > r.Remaining() {
			return res, fmt.Errorf("%w: value of %d bytes at offset %d runs past region end",
				ErrCorruptImage, valueLen, recordStart)
		}

		value := make([]byte, valueLen)
		if err := r.ReadFull(value); err != nil {
			return res, e.flashError(telemetry.OpTypeRead, fmt.Sprintf("reading value at offset %d", recordStart), err)
		}

		// A later record for the same key wins.
		k := string(key)
		if old, ok := res.entries[k]; ok {
			res.size -= format.RecordSize(len(k), len(old))
		}
		res.entries[k] = value
		res.size += format.RecordSize(len(k), len(value))
		res.scanned = r.Offset()
	}

	return res, nil
}

// flashError wraps a device failure and counts it.
func (e *Engine) flashError(op, what string, err error) error {
	e.stats.TrackError("flash_" + op + "_error")
	e.metrics.RecordFlashError(context.Background(), op)
	return fmt.Errorf("%w: %s: %w", ErrFlashIO, what, err)
}
