// Package nilm holds the runtime side of the trained multi-appliance GRU:
// weight loading, the forward pass, and the mapping from training-order
// appliance slots to the runtime ordering.
package nilm

import (
	"fmt"
	"math"

	"github.com/crimson-sun/nilmgw/internal/feature"
)

// gruLayer packs one recurrent layer's parameters in PyTorch layout: the
// input and hidden weight matrices are [3H, in] and [3H, H] row-major with
// gate order reset, update, candidate.
type gruLayer struct {
	wih, whh []float32 // [3H * inDim], [3H * H]
	bih, bhh []float32 // [3H], [3H]
	inDim    int
	hidden   int
}

// Network is the full trained model: stacked GRU layers plus a linear head
// projecting each time step's top-layer hidden state to per-appliance logits.
// The forward pass is stateless — every call starts from a zero hidden state,
// so no information crosses window boundaries.
type Network struct {
	layers     []gruLayer
	headW      []float32 // [numDevices * hidden] row-major
	headB      []float32 // [numDevices]
	hidden     int
	numDevices int
}

// Hidden returns the per-layer hidden size.
func (n *Network) Hidden() int { return n.hidden }

// NumDevices returns the width of the logit vector (training-order count).
func (n *Network) NumDevices() int { return n.numDevices }

// Layers returns the depth of the recurrent stack.
func (n *Network) Layers() int { return len(n.layers) }

// Forward runs the window through the stack and head, returning per-time-step
// logits as a [T][numDevices] slice. Single precision throughout, with exact
// standard sigmoid and tanh — the calibrated thresholds depend on this
// arithmetic.
func (n *Network) Forward(w *feature.Window) [][]float32 {
	steps := w.Size()

	// Layer 0 consumes the two feature channels; deeper layers consume the
	// previous layer's hidden sequence.
	seq := make([][]float32, steps)
	for t := 0; t < steps; t++ {
		seq[t] = []float32{w.Norm[t], w.Diff[t]}
	}
	for l := range n.layers {
		seq = n.layers[l].run(seq)
	}

	logits := make([][]float32, steps)
	for t := 0; t < steps; t++ {
		logits[t] = matVec(n.headW, seq[t], n.numDevices, n.hidden)
		for d := 0; d < n.numDevices; d++ {
			logits[t][d] += n.headB[d]
		}
	}
	return logits
}

// run feeds the input sequence through the layer from a zero initial hidden
// state, returning the hidden state at every time step.
func (l *gruLayer) run(seq [][]float32) [][]float32 {
	h := make([]float32, l.hidden)
	out := make([][]float32, len(seq))
	for t, x := range seq {
		h = l.step(x, h)
		out[t] = h
	}
	return out
}

// step computes one GRU cell update:
//
//	r = σ(W_ir·x + b_ir + W_hr·h + b_hr)
//	z = σ(W_iz·x + b_iz + W_hz·h + b_hz)
//	n = tanh(W_in·x + b_in + r ⊙ (W_hn·h + b_hn))
//	h' = (1-z) ⊙ n + z ⊙ h
func (l *gruLayer) step(x, h []float32) []float32 {
	H := l.hidden
	gi := matVec(l.wih, x, 3*H, l.inDim) // input contributions, r|z|n packed
	gh := matVec(l.whh, h, 3*H, H)       // hidden contributions

	next := make([]float32, H)
	for j := 0; j < H; j++ {
		r := sigmoid(gi[j] + l.bih[j] + gh[j] + l.bhh[j])
		z := sigmoid(gi[H+j] + l.bih[H+j] + gh[H+j] + l.bhh[H+j])
		cand := tanhf(gi[2*H+j] + l.bih[2*H+j] + r*(gh[2*H+j]+l.bhh[2*H+j]))
		next[j] = (1-z)*cand + z*h[j]
	}
	return next
}

// matVec multiplies a row-major [rows, cols] matrix by a vector.
func matVec(m, v []float32, rows, cols int) []float32 {
	out := make([]float32, rows)
	for i := 0; i < rows; i++ {
		row := m[i*cols : (i+1)*cols]
		var sum float32
		for j, w := range row {
			sum += w * v[j]
		}
		out[i] = sum
	}
	return out
}

func sigmoid(v float32) float32 {
	return float32(1.0 / (1.0 + math.Exp(-float64(v))))
}

func tanhf(v float32) float32 {
	return float32(math.Tanh(float64(v)))
}

// newNetwork validates tensor shapes against the declared architecture.
func newNetwork(layers []gruLayer, headW, headB []float32, hidden, numDevices int) (*Network, error) {
	if len(layers) == 0 {
		return nil, fmt.Errorf("gru: no recurrent layers")
	}
	for i, l := range layers {
		wantIn := 2
		if i > 0 {
			wantIn = hidden
		}
		if l.inDim != wantIn || l.hidden != hidden {
			return nil, fmt.Errorf("gru: layer %d shape mismatch (in=%d hidden=%d)", i, l.inDim, l.hidden)
		}
		if len(l.wih) != 3*hidden*l.inDim || len(l.whh) != 3*hidden*hidden ||
			len(l.bih) != 3*hidden || len(l.bhh) != 3*hidden {
			return nil, fmt.Errorf("gru: layer %d tensor length mismatch", i)
		}
	}
	if len(headW) != numDevices*hidden || len(headB) != numDevices {
		return nil, fmt.Errorf("gru: head shape mismatch (want %dx%d)", numDevices, hidden)
	}
	return &Network{
		layers:     layers,
		headW:      headW,
		headB:      headB,
		hidden:     hidden,
		numDevices: numDevices,
	}, nil
}
