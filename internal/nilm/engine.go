package nilm

import (
	"fmt"

	"github.com/crimson-sun/nilmgw/internal/feature"
	"github.com/crimson-sun/nilmgw/internal/logging"
)

// Engine owns the loaded network, normalization constants, the
// train-to-runtime device mapping and the decision thresholds. All fields are
// immutable after construction; Infer is safe to call repeatedly and carries
// no state between windows.
type Engine struct {
	art        *Artifacts
	mapping    Mapping
	runtimeIDs []int
}

// NewEngine loads the artifact bundle from dir and resolves the mapping onto
// runtimeIDs. Fails when the bundle is malformed (no training appliance list,
// missing tensors); set mismatches between training and runtime ids only log
// warnings.
func NewEngine(dir string, runtimeIDs []int) (*Engine, error) {
	art, err := LoadArtifacts(dir)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	warnSetMismatch(art.TrainIDs, runtimeIDs)
	m := newMapping(art.TrainIDs, runtimeIDs, art.TausTrain)

	ids := make([]int, len(runtimeIDs))
	copy(ids, runtimeIDs)

	logging.L().Infof("engine: loaded GRU(hidden=%d, layers=%d, dropout=%g, devices=%d)",
		art.Hidden, art.Layers, art.Dropout, len(art.TrainIDs))
	logging.L().Infof("engine: train ids %v", art.TrainIDs)
	logging.L().Infof("engine: runtime ids %v", ids)
	logging.L().Infof("engine: tau (runtime) %v", m.tausRuntime)

	return &Engine{art: art, mapping: m, runtimeIDs: ids}, nil
}

// Infer runs the forward pass on a window, sigmoids the last time step's
// logits, and scatters the probabilities into runtime device order.
func (e *Engine) Infer(w *feature.Window) []float64 {
	logits := e.art.Net.Forward(w)
	last := logits[len(logits)-1]

	probsTrain := make([]float64, len(last))
	for i, l := range last {
		probsTrain[i] = float64(sigmoid(l))
	}
	return e.mapping.Scatter(probsTrain)
}

// Normalizer returns the training-time mean and std the Windower must apply.
func (e *Engine) Normalizer() (mean, std float64) {
	return e.art.Mean, e.art.Std
}

// Thresholds returns the per-appliance decision thresholds in runtime order.
func (e *Engine) Thresholds() []float64 {
	return e.mapping.Thresholds()
}

// OnWatts returns the power threshold used to binarize reference readings.
func (e *Engine) OnWatts() float64 {
	return e.art.OnWatts
}

// RuntimeIDs returns the configured runtime appliance ordering.
func (e *Engine) RuntimeIDs() []int {
	out := make([]int, len(e.runtimeIDs))
	copy(out, e.runtimeIDs)
	return out
}

func warnSetMismatch(trainIDs, runtimeIDs []int) {
	inTrain := make(map[int]bool, len(trainIDs))
	for _, id := range trainIDs {
		inTrain[id] = true
	}
	inRuntime := make(map[int]bool, len(runtimeIDs))
	for _, id := range runtimeIDs {
		inRuntime[id] = true
	}

	var missing, extra []int
	for _, id := range trainIDs {
		if !inRuntime[id] {
			missing = append(missing, id)
		}
	}
	for _, id := range runtimeIDs {
		if !inTrain[id] {
			extra = append(extra, id)
		}
	}
	if len(missing) > 0 {
		logging.L().Warnf("engine: runtime config drops trained appliances %v", missing)
	}
	if len(extra) > 0 {
		logging.L().Warnf("engine: runtime appliances %v were never trained (tau=0.5, probability stays 0)", extra)
	}
}
