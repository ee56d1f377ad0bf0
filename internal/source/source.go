// Package source defines the meter-source contract and the named registry of
// implementations.
package source

import (
	"context"
	"fmt"

	"github.com/crimson-sun/nilmgw/internal/model"
)

// Source produces a lazy, non-restartable stream of meter samples. The
// channel closes when the source is exhausted. Close is idempotent and safe
// after exhaustion.
type Source interface {
	Stream(ctx context.Context) (<-chan model.MeterSample, error)
	Close() error
}

// Config carries the settings a source constructor may need. Only the fields
// relevant to a given provider are read.
type Config struct {
	SampleRateHz float64

	// Postgres replay
	DSN         string
	Schema      string
	MainsItemID int
	Start       string
	End         string
	ReplaySpeed float64
	TruthIDs    []int

	// Shelly 3EM live polling
	ShellyHost    string
	ShellyPort    int
	ShellyTimeout float64 // seconds
}

// Constructor creates a Source from its config.
type Constructor func(cfg Config) (Source, error)

var registry = map[string]Constructor{}

// Register adds a source constructor under the given provider name.
func Register(name string, ctor Constructor) {
	registry[name] = ctor
}

// Get returns the source constructor for the given provider name.
func Get(name string) (Constructor, error) {
	ctor, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown meter source: %s", name)
	}
	return ctor, nil
}

// Providers returns the names of all registered sources.
func Providers() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	return names
}
