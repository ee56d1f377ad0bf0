package nilm

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
)

// tensor is one F32 tensor read out of a safetensors file.
type tensor struct {
	shape []int
	data  []float32
}

func (t tensor) numel() int {
	n := 1
	for _, d := range t.shape {
		n *= d
	}
	return n
}

// loadSafetensors reads every F32 tensor from a safetensors file. The format
// is an 8-byte little-endian header length followed by a JSON header mapping
// tensor names to dtype/shape/data offsets, then the raw buffer.
func loadSafetensors(path string) (map[string]tensor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("safetensors: %w", err)
	}
	if len(data) < 8 {
		return nil, fmt.Errorf("safetensors: file too small: %d bytes", len(data))
	}

	headerLen := binary.LittleEndian.Uint64(data[:8])
	if uint64(len(data)) < 8+headerLen {
		return nil, fmt.Errorf("safetensors: header length %d exceeds file size", headerLen)
	}

	var header map[string]json.RawMessage
	if err := json.Unmarshal(data[8:8+headerLen], &header); err != nil {
		return nil, fmt.Errorf("safetensors: failed to parse header: %w", err)
	}

	base := int(8 + headerLen)
	out := make(map[string]tensor, len(header))
	for name, raw := range header {
		if name == "__metadata__" {
			continue
		}
		var meta struct {
			Dtype       string `json:"dtype"`
			Shape       []int  `json:"shape"`
			DataOffsets [2]int `json:"data_offsets"`
		}
		if err := json.Unmarshal(raw, &meta); err != nil {
			return nil, fmt.Errorf("safetensors: tensor %q metadata: %w", name, err)
		}
		if meta.Dtype != "F32" {
			return nil, fmt.Errorf("safetensors: tensor %q: expected dtype F32, got %s", name, meta.Dtype)
		}

		numFloats := 1
		for _, d := range meta.Shape {
			numFloats *= d
		}
		start := base + meta.DataOffsets[0]
		end := base + meta.DataOffsets[1]
		if end-start != numFloats*4 {
			return nil, fmt.Errorf("safetensors: tensor %q: data size %d doesn't match shape %v",
				name, end-start, meta.Shape)
		}
		if start < base || end > len(data) {
			return nil, fmt.Errorf("safetensors: tensor %q: data range [%d:%d] exceeds file size %d",
				name, start, end, len(data))
		}

		vals := make([]float32, numFloats)
		for i := range vals {
			bits := binary.LittleEndian.Uint32(data[start+i*4 : start+i*4+4])
			vals[i] = math.Float32frombits(bits)
		}
		out[name] = tensor{shape: meta.Shape, data: vals}
	}
	return out, nil
}

// take pulls a named tensor and checks its shape.
func take(tensors map[string]tensor, name string, shape ...int) ([]float32, error) {
	t, ok := tensors[name]
	if !ok {
		return nil, fmt.Errorf("safetensors: tensor %q not found", name)
	}
	if len(t.shape) != len(shape) {
		return nil, fmt.Errorf("safetensors: tensor %q: expected %d dims, got %v", name, len(shape), t.shape)
	}
	for i, d := range shape {
		if t.shape[i] != d {
			return nil, fmt.Errorf("safetensors: tensor %q: expected shape %v, got %v", name, shape, t.shape)
		}
	}
	return t.data, nil
}
