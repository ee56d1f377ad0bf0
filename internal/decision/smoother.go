// Package decision turns probability vectors into discrete appliance states:
// an exponential moving average across windows followed by per-appliance
// threshold comparison.
package decision

// Smoother holds the only cross-window mutable state in the pipeline. Not
// safe for concurrent use; each pipeline instance owns exactly one.
type Smoother struct {
	alpha      float64
	thresholds []float64
	ema        []float64 // nil until the first update
}

// NewSmoother creates a Smoother with factor alpha in (0,1]; alpha=1 disables
// smoothing. thresholds is the runtime-ordered tau vector; nil means 0.5 for
// every appliance.
func NewSmoother(alpha float64, thresholds []float64) *Smoother {
	return &Smoother{alpha: alpha, thresholds: thresholds}
}

// Update folds one probability vector into the moving average and returns the
// smoothed vector alongside the binary states. The first call adopts the
// input unchanged. A smoothed value exactly at its threshold decides ON.
func (s *Smoother) Update(probs []float64) (smoothed []float64, states []int) {
	if s.ema == nil {
		s.ema = make([]float64, len(probs))
		copy(s.ema, probs)
	} else {
		for i, p := range probs {
			s.ema[i] = s.alpha*p + (1-s.alpha)*s.ema[i]
		}
	}

	states = make([]int, len(s.ema))
	smoothed = make([]float64, len(s.ema))
	for i, v := range s.ema {
		smoothed[i] = v
		if v >= s.threshold(i) {
			states[i] = 1
		}
	}
	return smoothed, states
}

func (s *Smoother) threshold(i int) float64 {
	if s.thresholds == nil || i >= len(s.thresholds) {
		return 0.5
	}
	return s.thresholds[i]
}
