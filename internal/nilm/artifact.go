package nilm

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/crimson-sun/nilmgw/internal/logging"
)

// Defaults applied when the training config is unreadable. The target
// appliance list has no default: without it the logit columns are meaningless.
const (
	defaultHidden  = 64
	defaultLayers  = 1
	defaultOnWatts = 15.0
	defaultTau     = 0.5
)

// Artifacts is the trained model bundle read once at engine construction:
// normalization constants, architecture + training-order appliance ids,
// per-appliance decision thresholds, and the weight tensors.
type Artifacts struct {
	Mean float64
	Std  float64

	Hidden   int
	Layers   int
	Dropout  float64
	TrainIDs []int
	OnWatts  float64 // ground-truth binarization threshold

	TausTrain []float64 // decision thresholds, training order

	Net *Network
}

// trainConfig mirrors the relevant slice of the training run's config.yaml.
type trainConfig struct {
	Model struct {
		Hidden  int     `yaml:"hidden"`
		Layers  int     `yaml:"layers"`
		Dropout float64 `yaml:"dropout"`
	} `yaml:"model"`
	Dataset struct {
		TargetItemIDs []int   `yaml:"target_item_ids"`
		OnW           float64 `yaml:"on_w"`
	} `yaml:"dataset"`
}

// LoadArtifacts reads the bundle from dir: normalizer.json, config.yaml,
// kpis.json and model.safetensors. Unreadable config or threshold records
// degrade to logged defaults; an absent target-appliance list is fatal.
func LoadArtifacts(dir string) (*Artifacts, error) {
	a := &Artifacts{}

	if err := a.readNormalizer(filepath.Join(dir, "normalizer.json")); err != nil {
		return nil, err
	}
	if err := a.readTrainConfig(filepath.Join(dir, "config.yaml")); err != nil {
		return nil, err
	}
	a.readThresholds(filepath.Join(dir, "kpis.json"))

	net, err := loadNetwork(filepath.Join(dir, "model.safetensors"), a.Hidden, a.Layers, len(a.TrainIDs))
	if err != nil {
		return nil, err
	}
	a.Net = net
	return a, nil
}

func (a *Artifacts) readNormalizer(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("artifact: %w", err)
	}
	var norm struct {
		Mean float64 `json:"mean"`
		Std  float64 `json:"std"`
	}
	if err := json.Unmarshal(raw, &norm); err != nil {
		return fmt.Errorf("artifact: parse %s: %w", path, err)
	}
	a.Mean = norm.Mean
	a.Std = norm.Std
	return nil
}

func (a *Artifacts) readTrainConfig(path string) error {
	a.Hidden = defaultHidden
	a.Layers = defaultLayers
	a.OnWatts = defaultOnWatts

	var cfg trainConfig
	raw, err := os.ReadFile(path)
	if err == nil {
		err = yaml.Unmarshal(raw, &cfg)
	}
	if err != nil {
		logging.L().Warnf("artifact: %s unreadable (%v); using defaults", path, err)
	} else {
		if cfg.Model.Hidden > 0 {
			a.Hidden = cfg.Model.Hidden
		}
		if cfg.Model.Layers > 0 {
			a.Layers = cfg.Model.Layers
		}
		a.Dropout = cfg.Model.Dropout
		if cfg.Dataset.OnW > 0 {
			a.OnWatts = cfg.Dataset.OnW
		}
		a.TrainIDs = cfg.Dataset.TargetItemIDs
	}

	if len(a.TrainIDs) == 0 {
		return fmt.Errorf("artifact: config.yaml has no dataset.target_item_ids")
	}
	return nil
}

// readThresholds loads kpis.json. Any failure falls back to tau=0.5 for every
// appliance; a wrong-length array is padded or trimmed with a warning.
func (a *Artifacts) readThresholds(path string) {
	d := len(a.TrainIDs)
	taus := make([]float64, d)
	for i := range taus {
		taus[i] = defaultTau
	}
	a.TausTrain = taus

	raw, err := os.ReadFile(path)
	if err != nil {
		logging.L().Warnf("artifact: %s unreadable (%v); fallback tau=%.1f", path, err, defaultTau)
		return
	}
	var kpis struct {
		ThresholdsTau []float64 `json:"thresholds_tau"`
	}
	if err := json.Unmarshal(raw, &kpis); err != nil {
		logging.L().Warnf("artifact: parse %s (%v); fallback tau=%.1f", path, err, defaultTau)
		return
	}
	if len(kpis.ThresholdsTau) == 0 {
		return
	}
	if len(kpis.ThresholdsTau) != d {
		logging.L().Warnf("artifact: thresholds_tau length %d != %d; pad/trim", len(kpis.ThresholdsTau), d)
	}
	for i := 0; i < d && i < len(kpis.ThresholdsTau); i++ {
		taus[i] = kpis.ThresholdsTau[i]
	}
}

// loadNetwork assembles the GRU stack and head from the exported state dict.
// Tensor naming follows the training checkpoint: rnn.weight_ih_l<k>,
// rnn.weight_hh_l<k>, rnn.bias_ih_l<k>, rnn.bias_hh_l<k>, head.weight,
// head.bias, with gates packed reset|update|candidate.
func loadNetwork(path string, hidden, layers, numDevices int) (*Network, error) {
	tensors, err := loadSafetensors(path)
	if err != nil {
		return nil, err
	}

	gru := make([]gruLayer, layers)
	for l := 0; l < layers; l++ {
		inDim := 2
		if l > 0 {
			inDim = hidden
		}
		wih, err := take(tensors, fmt.Sprintf("rnn.weight_ih_l%d", l), 3*hidden, inDim)
		if err != nil {
			return nil, err
		}
		whh, err := take(tensors, fmt.Sprintf("rnn.weight_hh_l%d", l), 3*hidden, hidden)
		if err != nil {
			return nil, err
		}
		bih, err := take(tensors, fmt.Sprintf("rnn.bias_ih_l%d", l), 3*hidden)
		if err != nil {
			return nil, err
		}
		bhh, err := take(tensors, fmt.Sprintf("rnn.bias_hh_l%d", l), 3*hidden)
		if err != nil {
			return nil, err
		}
		gru[l] = gruLayer{wih: wih, whh: whh, bih: bih, bhh: bhh, inDim: inDim, hidden: hidden}
	}

	headW, err := take(tensors, "head.weight", numDevices, hidden)
	if err != nil {
		return nil, err
	}
	headB, err := take(tensors, "head.bias", numDevices)
	if err != nil {
		return nil, err
	}
	return newNetwork(gru, headW, headB, hidden, numDevices)
}
