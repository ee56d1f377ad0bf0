// Package publisher defines the downstream contract for decided appliance
// states and observability signals.
package publisher

import "github.com/crimson-sun/nilmgw/internal/model"

// Publisher consumes everything the pipeline emits. Startup and Close are
// idempotent; a failure on one channel must never block the others, so
// implementations log and continue rather than propagate where possible.
type Publisher interface {
	// Startup announces availability and (re)initializes discovery metadata.
	Startup() error

	// PublishTimeseries forwards the raw aggregate power plus any reference
	// per-appliance power and binarized state. Called once per reading,
	// before any model work.
	PublishTimeseries(mainsW float64, truthPowerW map[int]float64, truthState map[int]int) error

	// PublishResult forwards one decided appliance state.
	PublishResult(r model.Result) error

	// PublishHostMetrics forwards an opaque host telemetry snapshot.
	PublishHostMetrics(m map[string]any) error

	// PublishLatency forwards the wall-clock window-to-emission latency.
	PublishLatency(ms float64) error

	// Close announces unavailability and releases transport resources.
	Close() error
}
