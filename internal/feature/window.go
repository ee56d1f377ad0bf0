// Package feature turns the raw aggregate-power stream into the fixed-size
// two-channel windows the model was trained on: z-normalized power plus the
// first difference of power.
package feature

import "math"

// minStd floors the normalization divisor so a degenerate training std can
// never divide by zero.
const minStd = 1e-9

// Window is one model input: Size time steps with two channels each, plus the
// index of the reading that produced it. Norm and Diff always have equal
// length.
type Window struct {
	Index int       // 0-based reading index at emission time
	Norm  []float32 // (power - mean) / std
	Diff  []float32 // first difference of raw power
}

// Size returns the number of time steps in the window.
func (w Window) Size() int { return len(w.Norm) }

// Windower maintains a rolling buffer of raw power values and emits a Window
// every stride readings once the buffer is warm. The buffer holds size+1
// values so the first difference at position 0 is well defined.
type Windower struct {
	size   int
	stride int
	mean   float32
	std    float32

	buf       []float64 // ring of capacity size+1
	start     int       // index of oldest value
	count     int       // values currently buffered
	sinceLast int       // readings since the previous emission
	tick      int       // total readings ingested
}

// New creates a Windower. mean and std come from the trained model's
// normalization record; std is floored to a small positive value.
func New(size, stride int, mean, std float64) *Windower {
	if std < minStd {
		std = 1.0
	}
	return &Windower{
		size:   size,
		stride: stride,
		mean:   float32(mean),
		std:    float32(std),
		buf:    make([]float64, size+1),
	}
}

// Ingest appends one raw power value and returns a Window when the buffer is
// full and the stride has elapsed, nil otherwise. Non-finite inputs propagate
// into the features; rejecting them is the caller's policy.
func (w *Windower) Ingest(powerW float64) *Window {
	n := w.size + 1
	idx := (w.start + w.count) % n
	if w.count == n {
		// Evict the oldest value; the slot it occupied becomes the newest.
		idx = w.start
		w.start = (w.start + 1) % n
	} else {
		w.count++
	}
	w.buf[idx] = powerW

	w.tick++
	w.sinceLast++

	if w.count < n || w.sinceLast < w.stride {
		return nil
	}
	w.sinceLast = 0

	out := &Window{
		Index: w.tick - 1,
		Norm:  make([]float32, w.size),
		Diff:  make([]float32, w.size),
	}
	prev := float32(w.buf[w.start])
	for i := 0; i < w.size; i++ {
		x := float32(w.buf[(w.start+1+i)%n])
		out.Norm[i] = (x - w.mean) / w.std
		out.Diff[i] = x - prev
		prev = x
	}
	return out
}

// HasNaN reports whether any feature value is NaN. The Windower itself never
// rejects input; callers use this to skip poisoned windows.
func (w Window) HasNaN() bool {
	for i := range w.Norm {
		if math.IsNaN(float64(w.Norm[i])) || math.IsNaN(float64(w.Diff[i])) {
			return true
		}
	}
	return false
}
