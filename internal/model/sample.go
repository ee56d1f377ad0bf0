package model

import "time"

// MeterSample is the intermediate type produced by meter sources and consumed
// by the pipeline: one aggregate power reading per tick.
type MeterSample struct {
	Timestamp time.Time
	PowerW    float64
	// TruthPowerW carries per-appliance reference power (watts), present only
	// when the source is a submetered replay. Nil for live meters.
	TruthPowerW map[int]float64
}

// Result is the gateway's output type — one decided appliance state per window.
type Result struct {
	Timestamp  time.Time
	DeviceID   int
	State      int     // 0=OFF, 1=ON
	Confidence float64 // smoothed probability in [0,1]
}

// NewResult builds a Result stamped with the current UTC time.
func NewResult(deviceID, state int, confidence float64) Result {
	return Result{
		Timestamp:  time.Now().UTC(),
		DeviceID:   deviceID,
		State:      state,
		Confidence: confidence,
	}
}
