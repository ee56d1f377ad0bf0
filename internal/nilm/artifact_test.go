package nilm

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeBundle lays down a complete single-layer artifact directory with the
// ramp fixture weights (hidden=2, one target appliance).
func writeBundle(t *testing.T, overrides map[string]string) string {
	t.Helper()
	dir := t.TempDir()

	files := map[string]string{
		"normalizer.json": `{"mean": 100.0, "std": 50.0}`,
		"config.yaml": `model:
  hidden: 2
  layers: 1
  dropout: 0.0
dataset:
  target_item_ids: [7]
  on_w: 15.0
`,
		"kpis.json": `{"thresholds_tau": [0.6]}`,
	}
	for name, content := range overrides {
		files[name] = content
	}
	for name, content := range files {
		if content == "" {
			continue // override with empty string means "omit this file"
		}
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}

	l := fixtureLayer0()
	writeSafetensors(t, filepath.Join(dir, "model.safetensors"), map[string]tensorSpec{
		"rnn.weight_ih_l0": {shape: []int{6, 2}, data: l.wih},
		"rnn.weight_hh_l0": {shape: []int{6, 2}, data: l.whh},
		"rnn.bias_ih_l0":   {shape: []int{6}, data: l.bih},
		"rnn.bias_hh_l0":   {shape: []int{6}, data: l.bhh},
		"head.weight":      {shape: []int{1, 2}, data: []float32{0.1, 0.2}},
		"head.bias":        {shape: []int{1}, data: []float32{0.05}},
	})
	return dir
}

func TestLoadArtifacts(t *testing.T) {
	dir := writeBundle(t, nil)

	a, err := LoadArtifacts(dir)
	require.NoError(t, err)

	assert.Equal(t, 100.0, a.Mean)
	assert.Equal(t, 50.0, a.Std)
	assert.Equal(t, 2, a.Hidden)
	assert.Equal(t, 1, a.Layers)
	assert.Equal(t, []int{7}, a.TrainIDs)
	assert.Equal(t, 15.0, a.OnWatts)
	assert.Equal(t, []float64{0.6}, a.TausTrain)
	require.NotNil(t, a.Net)
	assert.Equal(t, 1, a.Net.Layers())
	assert.Equal(t, 1, a.Net.NumDevices())
}

func TestLoadArtifactsMissingTargetIDsIsFatal(t *testing.T) {
	dir := writeBundle(t, map[string]string{
		"config.yaml": "model:\n  hidden: 2\n  layers: 1\ndataset:\n  on_w: 15.0\n",
	})

	_, err := LoadArtifacts(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "target_item_ids")
}

func TestLoadArtifactsUnreadableConfigIsFatalToo(t *testing.T) {
	// Config defaults cover hidden/layers, but the appliance list has no
	// default, so a missing config.yaml still aborts.
	dir := writeBundle(t, map[string]string{"config.yaml": ""})

	_, err := LoadArtifacts(dir)
	require.Error(t, err)
}

func TestLoadArtifactsThresholdFallback(t *testing.T) {
	tests := []struct {
		name string
		kpis string
		want []float64
	}{
		{"missing file", "", []float64{0.5}},
		{"malformed json", "{nope", []float64{0.5}},
		{"empty array", `{"thresholds_tau": []}`, []float64{0.5}},
		{"too long trims", `{"thresholds_tau": [0.7, 0.9]}`, []float64{0.7}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := writeBundle(t, map[string]string{"kpis.json": tt.kpis})
			a, err := LoadArtifacts(dir)
			require.NoError(t, err)
			assert.Equal(t, tt.want, a.TausTrain)
		})
	}
}

func TestLoadArtifactsThresholdPadding(t *testing.T) {
	dir := writeBundle(t, map[string]string{
		"config.yaml": "model:\n  hidden: 2\n  layers: 1\ndataset:\n  target_item_ids: [7, 8]\n  on_w: 15.0\n",
		"kpis.json":   `{"thresholds_tau": [0.7]}`,
	})
	// Two appliances in the head now.
	writeSafetensors(t, filepath.Join(dir, "model.safetensors"), map[string]tensorSpec{
		"rnn.weight_ih_l0": {shape: []int{6, 2}, data: fixtureLayer0().wih},
		"rnn.weight_hh_l0": {shape: []int{6, 2}, data: fixtureLayer0().whh},
		"rnn.bias_ih_l0":   {shape: []int{6}, data: fixtureLayer0().bih},
		"rnn.bias_hh_l0":   {shape: []int{6}, data: fixtureLayer0().bhh},
		"head.weight":      {shape: []int{2, 2}, data: []float32{0.1, 0.2, 0.3, 0.4}},
		"head.bias":        {shape: []int{2}, data: []float32{0.05, -0.05}},
	})

	a, err := LoadArtifacts(dir)
	require.NoError(t, err)
	assert.Equal(t, []float64{0.7, 0.5}, a.TausTrain)
}

func TestLoadArtifactsMissingWeights(t *testing.T) {
	dir := writeBundle(t, nil)
	require.NoError(t, os.Remove(filepath.Join(dir, "model.safetensors")))

	_, err := LoadArtifacts(dir)
	assert.Error(t, err)
}

func TestLoadArtifactsMissingNormalizer(t *testing.T) {
	dir := writeBundle(t, map[string]string{"normalizer.json": ""})

	_, err := LoadArtifacts(dir)
	assert.Error(t, err)
}
