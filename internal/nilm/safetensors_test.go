package nilm

import (
	"encoding/binary"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type tensorSpec struct {
	shape []int
	data  []float32
}

// writeSafetensors serializes tensors (F32, little-endian) the way the
// training exporter does: 8-byte header length, JSON header, raw buffer.
func writeSafetensors(t *testing.T, path string, tensors map[string]tensorSpec) {
	t.Helper()

	names := make([]string, 0, len(tensors))
	for name := range tensors {
		names = append(names, name)
	}
	sort.Strings(names)

	type entry struct {
		Dtype       string `json:"dtype"`
		Shape       []int  `json:"shape"`
		DataOffsets [2]int `json:"data_offsets"`
	}
	header := make(map[string]entry, len(tensors))
	offset := 0
	for _, name := range names {
		n := len(tensors[name].data) * 4
		header[name] = entry{
			Dtype:       "F32",
			Shape:       tensors[name].shape,
			DataOffsets: [2]int{offset, offset + n},
		}
		offset += n
	}

	headerJSON, err := json.Marshal(header)
	require.NoError(t, err)

	buf := make([]byte, 8, 8+len(headerJSON)+offset)
	binary.LittleEndian.PutUint64(buf, uint64(len(headerJSON)))
	buf = append(buf, headerJSON...)
	for _, name := range names {
		for _, v := range tensors[name].data {
			var b [4]byte
			binary.LittleEndian.PutUint32(b[:], math.Float32bits(v))
			buf = append(buf, b[:]...)
		}
	}
	require.NoError(t, os.WriteFile(path, buf, 0o644))
}

func TestLoadSafetensorsRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.safetensors")
	writeSafetensors(t, path, map[string]tensorSpec{
		"head.weight": {shape: []int{2, 3}, data: []float32{1, 2, 3, 4, 5, 6}},
		"head.bias":   {shape: []int{2}, data: []float32{-0.5, 0.5}},
	})

	tensors, err := loadSafetensors(path)
	require.NoError(t, err)

	w, err := take(tensors, "head.weight", 2, 3)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3, 4, 5, 6}, w)

	b, err := take(tensors, "head.bias", 2)
	require.NoError(t, err)
	assert.Equal(t, []float32{-0.5, 0.5}, b)
}

func TestTakeRejectsWrongShape(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.safetensors")
	writeSafetensors(t, path, map[string]tensorSpec{
		"head.bias": {shape: []int{2}, data: []float32{1, 2}},
	})

	tensors, err := loadSafetensors(path)
	require.NoError(t, err)

	_, err = take(tensors, "head.bias", 3)
	assert.Error(t, err)
	_, err = take(tensors, "missing", 2)
	assert.Error(t, err)
}

func TestLoadSafetensorsRejectsTruncated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.safetensors")
	require.NoError(t, os.WriteFile(path, []byte{1, 2, 3}, 0o644))

	_, err := loadSafetensors(path)
	assert.Error(t, err)
}
