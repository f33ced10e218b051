package stats

import (
	"strings"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

// OperationType defines the type of operation being tracked
type OperationType string

// Common operation types
const (
	OpLoad   OperationType = "load"
	OpSave   OperationType = "save"
	OpPut    OperationType = "put"
	OpGet    OperationType = "get"
	OpDelete OperationType = "delete"
	OpList   OperationType = "list"
	OpClose  OperationType = "close"
)

// AtomicCollector provides centralized statistics collection with minimal contention.
// Per-key counters live in xsync maps so creating a new entry never blocks readers.
type AtomicCollector struct {
	// Operation counters
	counts *xsync.MapOf[OperationType, *atomic.Uint64]

	// Timestamps of the last operation of each type, in unix nanoseconds
	lastOpTime *xsync.MapOf[OperationType, *atomic.Int64]

	// Usage metrics
	storeSize         atomic.Uint64
	storeEntries      atomic.Uint64
	totalBytesRead    atomic.Uint64
	totalBytesWritten atomic.Uint64

	// Error tracking
	errors *xsync.MapOf[string, *atomic.Uint64]

	// Save / capacity metrics
	saveCount          atomic.Uint64
	pagesWritten       atomic.Uint64
	capacityRejections atomic.Uint64

	loadStats LoadStats

	// Latency tracking
	latencies *xsync.MapOf[OperationType, *LatencyTracker]
}

// LoadStats tracks statistics about the most recent load
type LoadStats struct {
	Found         atomic.Bool
	EntriesLoaded atomic.Uint64
	BytesScanned  atomic.Uint64
	LoadDuration  atomic.Int64 // nanoseconds
}

// LatencyTracker maintains running statistics about operation latencies
type LatencyTracker struct {
	count atomic.Uint64
	sum   atomic.Uint64 // sum in nanoseconds
	max   atomic.Uint64 // max in nanoseconds
	min   atomic.Uint64 // min in nanoseconds, 0 until the first sample
}

// NewAtomicCollector creates a new atomic statistics collector
func NewAtomicCollector() *AtomicCollector {
	return &AtomicCollector{
		counts:     xsync.NewMapOf[OperationType, *atomic.Uint64](),
		lastOpTime: xsync.NewMapOf[OperationType, *atomic.Int64](),
		errors:     xsync.NewMapOf[string, *atomic.Uint64](),
		latencies:  xsync.NewMapOf[OperationType, *LatencyTracker](),
	}
}

// TrackOperation increments the counter for the specified operation type
func (c *AtomicCollector) TrackOperation(op OperationType) {
	c.getOrCreateCounter(op).Add(1)
	c.touch(op)
}

// TrackOperationWithLatency tracks an operation and its latency
func (c *AtomicCollector) TrackOperationWithLatency(op OperationType, latencyNs uint64) {
	c.getOrCreateCounter(op).Add(1)
	c.touch(op)

	tracker := c.getOrCreateLatencyTracker(op)
	tracker.count.Add(1)
	tracker.sum.Add(latencyNs)

	// Update max (using compare-and-swap pattern)
	for {
		current := tracker.max.Load()
		if latencyNs <= current {
			break
		}
		if tracker.max.CompareAndSwap(current, latencyNs) {
			break
		}
	}

	// Update min (using compare-and-swap pattern)
	for {
		current := tracker.min.Load()
		if current == 0 {
			if tracker.min.CompareAndSwap(0, latencyNs) {
				break
			}
			continue
		}
		if latencyNs >= current {
			break
		}
		if tracker.min.CompareAndSwap(current, latencyNs) {
			break
		}
	}
}

// TrackError increments the counter for the specified error type
func (c *AtomicCollector) TrackError(errorType string) {
	counter, _ := c.errors.LoadOrCompute(errorType, func() *atomic.Uint64 {
		return &atomic.Uint64{}
	})
	counter.Add(1)
}

// TrackBytes adds the specified number of bytes to the read or write counter
func (c *AtomicCollector) TrackBytes(isWrite bool, bytes uint64) {
	if isWrite {
		c.totalBytesWritten.Add(bytes)
	} else {
		c.totalBytesRead.Add(bytes)
	}
}

// TrackStoreSize records the current serialized size and entry count
func (c *AtomicCollector) TrackStoreSize(size uint64, entries uint64) {
	c.storeSize.Store(size)
	c.storeEntries.Store(entries)
}

// TrackCapacityRejection increments the capacity rejection counter
func (c *AtomicCollector) TrackCapacityRejection() {
	c.capacityRejections.Add(1)
}

// StartLoad resets load statistics and returns the start time
func (c *AtomicCollector) StartLoad() time.Time {
	c.loadStats.Found.Store(false)
	c.loadStats.EntriesLoaded.Store(0)
	c.loadStats.BytesScanned.Store(0)
	c.loadStats.LoadDuration.Store(0)

	return time.Now()
}

// FinishLoad completes load statistics
func (c *AtomicCollector) FinishLoad(startTime time.Time, found bool, entriesLoaded, bytesScanned uint64) {
	c.loadStats.Found.Store(found)
	c.loadStats.EntriesLoaded.Store(entriesLoaded)
	c.loadStats.BytesScanned.Store(bytesScanned)
	c.loadStats.LoadDuration.Store(time.Since(startTime).Nanoseconds())
}

// TrackSave records a completed save
func (c *AtomicCollector) TrackSave(pagesWritten uint64) {
	c.saveCount.Add(1)
	c.pagesWritten.Add(pagesWritten)
}

// GetStats returns all statistics as a map
func (c *AtomicCollector) GetStats() map[string]interface{} {
	stats := make(map[string]interface{})

	c.counts.Range(func(op OperationType, counter *atomic.Uint64) bool {
		stats[string(op)+"_ops"] = counter.Load()
		return true
	})

	c.lastOpTime.Range(func(op OperationType, ts *atomic.Int64) bool {
		stats["last_"+string(op)+"_time"] = ts.Load()
		return true
	})

	stats["store_size"] = c.storeSize.Load()
	stats["store_entries"] = c.storeEntries.Load()
	stats["total_bytes_read"] = c.totalBytesRead.Load()
	stats["total_bytes_written"] = c.totalBytesWritten.Load()
	stats["save_count"] = c.saveCount.Load()
	stats["pages_written"] = c.pagesWritten.Load()
	stats["capacity_rejections"] = c.capacityRejections.Load()

	errorStats := make(map[string]uint64)
	c.errors.Range(func(errType string, counter *atomic.Uint64) bool {
		errorStats[errType] = counter.Load()
		return true
	})
	stats["errors"] = errorStats

	loadStats := map[string]interface{}{
		"found":          c.loadStats.Found.Load(),
		"entries_loaded": c.loadStats.EntriesLoaded.Load(),
		"bytes_scanned":  c.loadStats.BytesScanned.Load(),
	}
	if d := c.loadStats.LoadDuration.Load(); d > 0 {
		loadStats["duration_us"] = d / int64(time.Microsecond)
	}
	stats["load"] = loadStats

	c.latencies.Range(func(op OperationType, tracker *LatencyTracker) bool {
		count := tracker.count.Load()
		if count == 0 {
			return true
		}

		latencyStats := map[string]interface{}{
			"count":  count,
			"avg_ns": tracker.sum.Load() / count,
		}
		if min := tracker.min.Load(); min != 0 {
			latencyStats["min_ns"] = min
		}
		if max := tracker.max.Load(); max != 0 {
			latencyStats["max_ns"] = max
		}

		stats[string(op)+"_latency"] = latencyStats
		return true
	})

	return stats
}

// GetStatsFiltered returns statistics filtered by prefix
func (c *AtomicCollector) GetStatsFiltered(prefix string) map[string]interface{} {
	allStats := c.GetStats()
	filtered := make(map[string]interface{})

	for key, value := range allStats {
		if strings.HasPrefix(key, prefix) {
			filtered[key] = value
		}
	}

	return filtered
}

func (c *AtomicCollector) touch(op OperationType) {
	ts, _ := c.lastOpTime.LoadOrCompute(op, func() *atomic.Int64 {
		return &atomic.Int64{}
	})
	ts.Store(time.Now().UnixNano())
}

func (c *AtomicCollector) getOrCreateCounter(op OperationType) *atomic.Uint64 {
	counter, _ := c.counts.LoadOrCompute(op, func() *atomic.Uint64 {
		return &atomic.Uint64{}
	})
	return counter
}

func (c *AtomicCollector) getOrCreateLatencyTracker(op OperationType) *LatencyTracker {
	tracker, _ := c.latencies.LoadOrCompute(op, func() *LatencyTracker {
		return &LatencyTracker{}
	})
	return tracker
}
