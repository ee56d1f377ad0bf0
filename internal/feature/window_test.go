package feature

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFirstEmissionAndCadence(t *testing.T) {
	tests := []struct {
		name     string
		size     int
		stride   int
		readings int
		wantAt   []int // 0-based reading indexes that emit
	}{
		{"stride one", 3, 1, 8, []int{3, 4, 5, 6, 7}},
		{"stride two", 4, 2, 12, []int{4, 6, 8, 10}},
		{"stride equals window", 3, 3, 10, []int{3, 6, 9}},
		{"not enough readings", 5, 1, 5, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := New(tt.size, tt.stride, 0, 1)
			var got []int
			for i := 0; i < tt.readings; i++ {
				if win := w.Ingest(float64(i)); win != nil {
					got = append(got, win.Index)
					assert.Equal(t, tt.size, win.Size())
				}
			}
			assert.Equal(t, tt.wantAt, got)
		})
	}
}

func TestFirstWindowAtIndexW(t *testing.T) {
	// With window size W the buffer needs W+1 values, so the first window
	// fires at 0-based reading index W.
	const size = 120
	w := New(size, 5, 0, 1)
	for i := 0; i < size; i++ {
		require.Nil(t, w.Ingest(float64(i)))
	}
	// Counter is long past the stride by now; the gate was the buffer.
	require.NotNil(t, w.Ingest(float64(size)))
}

func TestFeatureValues(t *testing.T) {
	// mean=100 std=50, readings 100,150,200,250,300: the first window at
	// reading index 3 covers raw [150,200,250] with prev=100.
	w := New(3, 1, 100, 50)

	var win *Window
	for _, v := range []float64{100, 150, 200, 250} {
		win = w.Ingest(v)
	}
	require.NotNil(t, win)
	assert.Equal(t, 3, win.Index)
	assert.Equal(t, []float32{1, 2, 3}, win.Norm)
	assert.Equal(t, []float32{50, 50, 50}, win.Diff)

	// Next reading rolls the window forward by one.
	win = w.Ingest(300)
	require.NotNil(t, win)
	assert.Equal(t, []float32{2, 3, 4}, win.Norm)
	assert.Equal(t, []float32{50, 50, 50}, win.Diff)
}

func TestDiffLastElement(t *testing.T) {
	w := New(3, 1, 0, 1)
	var win *Window
	for _, v := range []float64{5, 17, 4, 9} {
		win = w.Ingest(v)
	}
	require.NotNil(t, win)
	// diff[0] = first in-window value minus prev, last = c-b.
	assert.InDelta(t, 17-5, win.Diff[0], 1e-6)
	assert.InDelta(t, 9-4, win.Diff[2], 1e-6)
}

func TestZeroStdFallsBackToUnit(t *testing.T) {
	w := New(2, 1, 10, 0)
	var win *Window
	for _, v := range []float64{11, 12, 13} {
		win = w.Ingest(v)
	}
	require.NotNil(t, win)
	// Divisor degrades to 1, not a division by zero.
	assert.Equal(t, []float32{2, 3}, win.Norm)
}

func TestNaNPropagates(t *testing.T) {
	w := New(2, 1, 0, 1)
	w.Ingest(1)
	w.Ingest(math.NaN())
	win := w.Ingest(3)
	require.NotNil(t, win)
	assert.True(t, win.HasNaN())
}

func TestBufferRollsAcrossNonEmittingTicks(t *testing.T) {
	// stride 3 with window 2: emissions at reading indexes 2 and 5; the
	// second window must reflect the latest values even though two ticks in
	// between emitted nothing.
	w := New(2, 3, 0, 1)
	var wins []*Window
	for i := 1; i <= 7; i++ {
		if win := w.Ingest(float64(i * 10)); win != nil {
			wins = append(wins, win)
		}
	}
	require.Len(t, wins, 2)
	assert.Equal(t, []float32{20, 30}, wins[0].Norm)
	assert.Equal(t, []float32{50, 60}, wins[1].Norm)
}
