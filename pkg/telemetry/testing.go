// ABOUTME: Disabled telemetry constructor for tests that exercise real components without exporters
// ABOUTME: Provides no business logic mocking, only a telemetry sink that drops everything

package telemetry

// NewForTesting returns a no-op telemetry instance for use in tests.
func NewForTesting() Telemetry {
	return NewNoop()
}
