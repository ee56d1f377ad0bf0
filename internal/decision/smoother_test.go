package decision

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFirstUpdateAdoptsInput(t *testing.T) {
	s := NewSmoother(0.4, []float64{0.6, 0.6})

	smoothed, states := s.Update([]float64{0.9, 0.1})
	assert.Equal(t, []float64{0.9, 0.1}, smoothed)
	assert.Equal(t, []int{1, 0}, states)
}

func TestEMASequence(t *testing.T) {
	s := NewSmoother(0.4, []float64{0.5})

	smoothed, _ := s.Update([]float64{0.9})
	assert.InDelta(t, 0.9, smoothed[0], 1e-12)

	smoothed, _ = s.Update([]float64{0.9})
	assert.InDelta(t, 0.9, smoothed[0], 1e-12)

	// 0.4*0.1 + 0.6*0.9
	smoothed, states := s.Update([]float64{0.1})
	assert.InDelta(t, 0.58, smoothed[0], 1e-12)
	assert.Equal(t, []int{1}, states)
}

func TestEMAConvergesToInput(t *testing.T) {
	s := NewSmoother(0.4, nil)
	s.Update([]float64{0.0})

	var smoothed []float64
	for i := 0; i < 50; i++ {
		smoothed, _ = s.Update([]float64{0.8})
	}
	assert.InDelta(t, 0.8, smoothed[0], 1e-6)
}

func TestAlphaOneDisablesSmoothing(t *testing.T) {
	s := NewSmoother(1.0, nil)
	s.Update([]float64{0.2})

	smoothed, _ := s.Update([]float64{0.95})
	assert.Equal(t, 0.95, smoothed[0])
}

func TestThresholdComparisonIsInclusive(t *testing.T) {
	s := NewSmoother(0.4, []float64{0.6})

	_, states := s.Update([]float64{0.6})
	assert.Equal(t, []int{1}, states)
}

func TestNilThresholdsDefaultToHalf(t *testing.T) {
	s := NewSmoother(0.4, nil)

	_, states := s.Update([]float64{0.5, 0.49})
	require.Len(t, states, 2)
	assert.Equal(t, []int{1, 0}, states)
}
