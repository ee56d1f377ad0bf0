package nilm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crimson-sun/nilmgw/internal/feature"
)

func TestEngineEndToEnd(t *testing.T) {
	dir := writeBundle(t, nil)

	eng, err := NewEngine(dir, []int{7})
	require.NoError(t, err)

	mean, std := eng.Normalizer()
	win := feature.New(3, 1, mean, std)

	var out *feature.Window
	for _, p := range []float64{100, 150, 200, 250} {
		out = win.Ingest(p)
	}
	require.NotNil(t, out)

	probs := eng.Infer(out)
	require.Len(t, probs, 1)
	// Hand-computed forward pass over the ramp fixture weights.
	assert.InDelta(t, 0.5178929664, probs[0], 1e-5)

	assert.Equal(t, []float64{0.6}, eng.Thresholds())
	assert.Equal(t, 15.0, eng.OnWatts())
	assert.Equal(t, []int{7}, eng.RuntimeIDs())
}

func TestEngineFatalOnBadBundle(t *testing.T) {
	dir := writeBundle(t, map[string]string{
		"config.yaml": "model:\n  hidden: 2\n  layers: 1\ndataset:\n  target_item_ids: []\n",
	})

	_, err := NewEngine(dir, []int{7})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "target_item_ids")
}

func TestEngineUntrainedRuntimeAppliance(t *testing.T) {
	dir := writeBundle(t, nil)

	// Appliance 9 never appeared in training: its probability stays zero and
	// its threshold falls back to 0.5.
	eng, err := NewEngine(dir, []int{7, 9})
	require.NoError(t, err)

	mean, std := eng.Normalizer()
	win := feature.New(3, 1, mean, std)
	var out *feature.Window
	for _, p := range []float64{100, 150, 200, 250} {
		out = win.Ingest(p)
	}
	require.NotNil(t, out)

	probs := eng.Infer(out)
	require.Len(t, probs, 2)
	assert.InDelta(t, 0.5178929664, probs[0], 1e-5)
	assert.Zero(t, probs[1])
	assert.Equal(t, []float64{0.6, 0.5}, eng.Thresholds())
}

func TestEngineIsStatelessAcrossWindows(t *testing.T) {
	dir := writeBundle(t, nil)
	eng, err := NewEngine(dir, []int{7})
	require.NoError(t, err)

	mean, std := eng.Normalizer()
	win := feature.New(3, 1, mean, std)
	var first *feature.Window
	for _, p := range []float64{100, 150, 200, 250} {
		first = win.Ingest(p)
	}
	require.NotNil(t, first)

	a := eng.Infer(first)
	b := eng.Infer(first)
	assert.Equal(t, a, b)
}
