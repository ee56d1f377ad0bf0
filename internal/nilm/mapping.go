package nilm

// Mapping translates between the appliance ordering the model was trained
// with and the ordering configured at runtime. Computed once and never
// mutated. Training appliances absent at runtime are dropped; runtime
// appliances absent from training keep probability 0 and threshold 0.5.
type Mapping struct {
	trainToRuntime []int     // -1 for dropped training slots
	tausRuntime    []float64 // thresholds reordered to runtime
	runtimeLen     int
}

// newMapping builds the index correspondence and the runtime-ordered
// threshold vector.
func newMapping(trainIDs, runtimeIDs []int, tausTrain []float64) Mapping {
	rtIdx := make(map[int]int, len(runtimeIDs))
	for i, id := range runtimeIDs {
		rtIdx[id] = i
	}

	m := Mapping{
		trainToRuntime: make([]int, len(trainIDs)),
		tausRuntime:    make([]float64, len(runtimeIDs)),
		runtimeLen:     len(runtimeIDs),
	}
	for i := range m.tausRuntime {
		m.tausRuntime[i] = defaultTau
	}
	for jTrain, id := range trainIDs {
		jRt, ok := rtIdx[id]
		if !ok {
			m.trainToRuntime[jTrain] = -1
			continue
		}
		m.trainToRuntime[jTrain] = jRt
		m.tausRuntime[jRt] = tausTrain[jTrain]
	}
	return m
}

// Scatter places training-order probabilities into a zero-initialized
// runtime-order vector.
func (m Mapping) Scatter(probsTrain []float64) []float64 {
	out := make([]float64, m.runtimeLen)
	for jTrain, jRt := range m.trainToRuntime {
		if jRt >= 0 {
			out[jRt] = probsTrain[jTrain]
		}
	}
	return out
}

// Thresholds returns a copy of the runtime-ordered threshold vector.
func (m Mapping) Thresholds() []float64 {
	out := make([]float64, len(m.tausRuntime))
	copy(out, m.tausRuntime)
	return out
}
