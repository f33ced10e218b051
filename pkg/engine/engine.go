// Package engine implements the FlashKV store: an in-memory map mirrored to a
// raw flash region through full-image loads and saves.
//
// The engine is single-threaded and holds no locks. Key operations touch only
// memory; Save rewrites the whole region. Callers sharing an Engine between
// goroutines must serialize access themselves.
package engine

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/KevoDB/flashkv/pkg/common/log"
	"github.com/KevoDB/flashkv/pkg/flash"
	"github.com/KevoDB/flashkv/pkg/format"
	"github.com/KevoDB/flashkv/pkg/stats"
	"github.com/KevoDB/flashkv/pkg/telemetry"
)

// LoadResult is the outcome of Load.
type LoadResult int

const (
	// LoadFound means a signed image was parsed
	LoadFound LoadResult = iota
	// LoadNotFound means the region holds no store; the map starts empty
	LoadNotFound
	// LoadError means the device failed or the image is corrupt; the store is unusable
	LoadError
)

func (r LoadResult) String() string {
	switch r {
	case LoadFound:
		return "found"
	case LoadNotFound:
		return "not_found"
	case LoadError:
		return "error"
	default:
		return fmt.Sprintf("LoadResult(%d)", int(r))
	}
}

// Engine owns the in-memory map and the flash region it is persisted to.
type Engine struct {
	dev    flash.Device
	region flash.Region

	entries map[string][]byte
	size    int // serialized size of signature + records, excluding sentinel and padding
	loaded  bool

	stats   stats.Collector
	tel     telemetry.Telemetry
	metrics EngineMetrics
	logger  log.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger log.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithStats sets the statistics collector.
func WithStats(collector stats.Collector) Option {
	return func(e *Engine) {
		e.stats = collector
	}
}

// WithTelemetry enables metrics and spans.
func WithTelemetry(tel telemetry.Telemetry) Option {
	return func(e *Engine) {
		e.tel = tel
	}
}

// NewEngine creates an unloaded engine over region of dev. Call Load before
// any key operation.
func NewEngine(dev flash.Device, region flash.Region, opts ...Option) (*Engine, error) {
	if dev == nil {
		return nil, fmt.Errorf("flash device cannot be nil")
	}
	if err := region.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		dev:     dev,
		region:  region,
		entries: make(map[string][]byte),
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.logger == nil {
		e.logger = log.WithField("component", "engine")
	}
	if e.stats == nil {
		e.stats = stats.NewAtomicCollector()
	}
	if e.tel == nil {
		e.tel = telemetry.NewNoop()
	}
	e.metrics = NewEngineMetrics(e.tel)

	return e, nil
}

// Put inserts or replaces a key. It fails without changing the map if the
// store would no longer fit in the region.
func (e *Engine) Put(key string, value []byte) error {
	if !e.loaded {
		return ErrNotLoaded
	}

	start := time.Now()
	err := e.put(key, value)
	e.trackKeyOp(stats.OpPut, telemetry.OpTypePut, start, err)
	if err == nil {
		e.stats.TrackBytes(true, uint64(len(key)+len(value)))
	}
	return err
}

func (e *Engine) put(key string, value []byte) error {
	if err := format.CheckRecord(key, value); err != nil {
		return err
	}

	newSize := e.size + format.RecordSize(len(key), len(value))
	if old, ok := e.entries[key]; ok {
		newSize -= format.RecordSize(len(key), len(old))
	}
	if newSize > int(e.region.Size) {
		e.stats.TrackCapacityRejection()
		e.metrics.RecordCapacityRejection(context.Background(), int64(newSize-e.size), int64(e.Free()))
		return fmt.Errorf("%w: %d bytes needed, %d of %d in use",
			ErrCapacityExceeded, newSize-e.size, e.size, e.region.Size)
	}

	e.entries[key] = bytes.Clone(value)
	e.size = newSize
	e.stats.TrackStoreSize(uint64(e.size), uint64(len(e.entries)))
	return nil
}

// Get returns a copy of the value stored under key.
func (e *Engine) Get(key string) ([]byte, error) {
	if !e.loaded {
		return nil, ErrNotLoaded
	}

	start := time.Now()
	value, ok := e.entries[key]
	if !ok {
		e.trackKeyOp(stats.OpGet, telemetry.OpTypeGet, start, ErrKeyNotFound)
		return nil, ErrKeyNotFound
	}
	e.trackKeyOp(stats.OpGet, telemetry.OpTypeGet, start, nil)
	e.stats.TrackBytes(false, uint64(len(key)+len(value)))

	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

// Has reports whether key is present.
func (e *Engine) Has(key string) bool {
	if !e.loaded {
		return false
	}
	_, ok := e.entries[key]
	return ok
}

// Delete removes key from the map.
func (e *Engine) Delete(key string) error {
	if !e.loaded {
		return ErrNotLoaded
	}

	start := time.Now()
	value, ok := e.entries[key]
	if !ok {
		e.trackKeyOp(stats.OpDelete, telemetry.OpTypeDelete, start, ErrKeyNotFound)
		return ErrKeyNotFound
	}

	delete(e.entries, key)
	e.size -= format.RecordSize(len(key), len(value))
	e.stats.TrackStoreSize(uint64(e.size), uint64(len(e.entries)))
	e.trackKeyOp(stats.OpDelete, telemetry.OpTypeDelete, start, nil)
	return nil
}

// Keys returns every key in ascending byte order. Callers should not depend
// on the order; it is sorted only to make output stable.
func (e *Engine) Keys() []string {
	if !e.loaded {
		return nil
	}

	e.stats.TrackOperation(stats.OpList)
	return e.sortedKeys()
}

func (e *Engine) sortedKeys() []string {
	keys := make([]string, 0, len(e.entries))
	for k := range e.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of entries.
func (e *Engine) Len() int {
	return len(e.entries)
}

// Size returns the serialized size of the store, signature included and
// sentinel and padding excluded.
func (e *Engine) Size() int {
	return e.size
}

// Capacity returns the region size, the upper bound for Size.
func (e *Engine) Capacity() int {
	return int(e.region.Size)
}

// Free returns how many more serialized bytes fit in the region.
func (e *Engine) Free() int {
	return int(e.region.Size) - e.size
}

// IsLoaded reports whether key operations are available.
func (e *Engine) IsLoaded() bool {
	return e.loaded
}

// Region returns the flash region descriptor.
func (e *Engine) Region() flash.Region {
	return e.region
}

// GetStats returns the engine statistics.
func (e *Engine) GetStats() map[string]interface{} {
	return e.stats.GetStats()
}

// Close makes a final save if the store is loaded and then unloads it. If the
// save fails the store stays loaded so the caller can retry.
func (e *Engine) Close() error {
	if !e.loaded {
		return nil
	}

	e.stats.TrackOperation(stats.OpClose)
	if err := e.Save(); err != nil {
		e.logger.Error("Final save failed, keeping store loaded: %v", err)
		return err
	}
	e.reset()
	return nil
}

// reset returns the engine to the unloaded state.
func (e *Engine) reset() {
	e.entries = make(map[string][]byte)
	e.size = 0
	e.loaded = false
	e.stats.TrackStoreSize(0, 0)
}

func (e *Engine) trackKeyOp(op stats.OperationType, opType string, start time.Time, err error) {
	latency := time.Since(start)
	e.stats.TrackOperationWithLatency(op, uint64(latency.Nanoseconds()))
	if err != nil && err != ErrKeyNotFound {
		e.stats.TrackError(string(op) + "_error")
	}
	e.metrics.RecordKeyOperation(context.Background(), opType, latency, err == nil)
}
