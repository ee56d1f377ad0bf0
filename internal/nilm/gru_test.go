package nilm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crimson-sun/nilmgw/internal/feature"
)

// ramp produces n deterministic values base, base+step, base+2*step, ...
// Fixture weights built this way are easy to reproduce by hand.
func ramp(n int, base, step float64) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(base + step*float64(i))
	}
	return out
}

// fixtureLayer0 is a 2-input, hidden-2 GRU layer with known weights.
func fixtureLayer0() gruLayer {
	return gruLayer{
		wih:    ramp(12, 0.01, 0.01),
		whh:    ramp(12, -0.05, 0.01),
		bih:    ramp(6, 0.001, 0.001),
		bhh:    ramp(6, -0.003, 0.001),
		inDim:  2,
		hidden: 2,
	}
}

// fixtureLayer1 stacks on top of fixtureLayer0 (input dim = hidden).
func fixtureLayer1() gruLayer {
	return gruLayer{
		wih:    ramp(12, 0.02, 0.01),
		whh:    ramp(12, -0.04, 0.01),
		bih:    ramp(6, 0.002, 0.001),
		bhh:    ramp(6, -0.002, 0.001),
		inDim:  2,
		hidden: 2,
	}
}

func fixtureNet(t *testing.T, layers ...gruLayer) *Network {
	t.Helper()
	net, err := newNetwork(layers, []float32{0.1, 0.2}, []float32{0.05}, 2, 1)
	require.NoError(t, err)
	return net
}

func fixtureWindow() *feature.Window {
	return &feature.Window{
		Norm: []float32{1, 2, 3},
		Diff: []float32{50, 50, 50},
	}
}

func TestForwardSingleStep(t *testing.T) {
	net := fixtureNet(t, fixtureLayer0())

	logits := net.Forward(&feature.Window{Norm: []float32{1}, Diff: []float32{0.5}})
	require.Len(t, logits, 1)
	require.Len(t, logits[0], 1)

	// Hand-computed through the gate equations with the ramp weights.
	assert.InDelta(t, 0.0734505991, logits[0][0], 1e-5)
}

func TestForwardReferenceWindow(t *testing.T) {
	net := fixtureNet(t, fixtureLayer0())

	logits := net.Forward(fixtureWindow())
	require.Len(t, logits, 3)

	assert.InDelta(t, 0.0716024417, logits[2][0], 1e-5)
	assert.InDelta(t, 0.5178929664, float64(sigmoid(logits[2][0])), 1e-5)
}

func TestForwardTwoLayerStack(t *testing.T) {
	net := fixtureNet(t, fixtureLayer0(), fixtureLayer1())

	logits := net.Forward(fixtureWindow())
	assert.InDelta(t, 0.0564842384, logits[2][0], 1e-5)
}

func TestForwardIsStateless(t *testing.T) {
	// The hidden state must start at zero for every window: a second pass
	// over the same window yields bit-identical logits.
	net := fixtureNet(t, fixtureLayer0())

	first := net.Forward(fixtureWindow())
	second := net.Forward(fixtureWindow())
	for tIdx := range first {
		assert.Equal(t, first[tIdx], second[tIdx])
	}
}

func TestForwardLogitsPerTimeStep(t *testing.T) {
	net := fixtureNet(t, fixtureLayer0())
	logits := net.Forward(fixtureWindow())

	// One logit row per time step, and successive steps differ (the hidden
	// state actually accumulates within the window).
	require.Len(t, logits, 3)
	assert.NotEqual(t, logits[0][0], logits[1][0])
	assert.NotEqual(t, logits[1][0], logits[2][0])
}

func TestNewNetworkShapeValidation(t *testing.T) {
	l := fixtureLayer0()

	_, err := newNetwork(nil, []float32{0.1, 0.2}, []float32{0.05}, 2, 1)
	assert.Error(t, err)

	badHead := make([]float32, 3)
	_, err = newNetwork([]gruLayer{l}, badHead, []float32{0.05}, 2, 1)
	assert.Error(t, err)

	short := l
	short.bih = short.bih[:4]
	_, err = newNetwork([]gruLayer{short}, []float32{0.1, 0.2}, []float32{0.05}, 2, 1)
	assert.Error(t, err)
}
