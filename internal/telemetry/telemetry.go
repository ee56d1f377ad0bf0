// Package telemetry appends per-stage latency rows to a CSV file for offline
// analysis. All methods are best-effort: a write failure is logged once per
// recorder and never reaches the caller.
package telemetry

import (
	"fmt"
	"os"
	"time"

	"github.com/crimson-sun/nilmgw/internal/logging"
)

// Recorder writes "ts,stage,latency_ms,extra" rows.
type Recorder struct {
	f        *os.File
	warnOnce bool
}

// NewRecorder opens (or creates) the CSV at path, writing the header for a
// fresh file.
func NewRecorder(path string) (*Recorder, error) {
	_, statErr := os.Stat(path)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	if os.IsNotExist(statErr) {
		if _, err := f.WriteString("ts,stage,latency_ms,extra\n"); err != nil {
			f.Close()
			return nil, fmt.Errorf("telemetry: %w", err)
		}
	}
	return &Recorder{f: f}, nil
}

// Log records the elapsed time since start for the named stage.
func (r *Recorder) Log(stage string, start time.Time, extra string) {
	if r == nil {
		return
	}
	ms := float64(time.Since(start).Microseconds()) / 1000.0
	line := fmt.Sprintf("%d,%s,%.3f,%s\n", time.Now().UnixMicro(), stage, ms, extra)
	if _, err := r.f.WriteString(line); err != nil && !r.warnOnce {
		r.warnOnce = true
		logging.L().Warnf("telemetry: write failed: %v", err)
	}
}

// Close flushes and closes the file.
func (r *Recorder) Close() error {
	if r == nil {
		return nil
	}
	return r.f.Close()
}
