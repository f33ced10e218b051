package stats

import "time"

// Provider defines the interface for components that provide statistics
type Provider interface {
	// GetStats returns all statistics
	GetStats() map[string]interface{}

	// GetStatsFiltered returns statistics filtered by prefix
	GetStatsFiltered(prefix string) map[string]interface{}
}

// Collector interface defines methods for collecting statistics
type Collector interface {
	Provider

	// TrackOperation records a single operation
	TrackOperation(op OperationType)

	// TrackOperationWithLatency records an operation with its latency
	TrackOperationWithLatency(op OperationType, latencyNs uint64)

	// TrackError increments the counter for the specified error type
	TrackError(errorType string)

	// TrackBytes adds the specified number of bytes to the flash read or write counter
	TrackBytes(isWrite bool, bytes uint64)

	// TrackStoreSize records the current serialized store size and entry count
	TrackStoreSize(size uint64, entries uint64)

	// TrackCapacityRejection increments the counter of writes refused for lack of space
	TrackCapacityRejection()

	// StartLoad initializes load statistics
	StartLoad() time.Time

	// FinishLoad completes load statistics
	FinishLoad(startTime time.Time, found bool, entriesLoaded, bytesScanned uint64)

	// TrackSave records a completed save of the given number of pages
	TrackSave(pagesWritten uint64)
}

// Ensure AtomicCollector implements the Collector interface
var _ Collector = (*AtomicCollector)(nil)
