// Package nnet contains routines for constructing, training and testing
// convolutional neural networks.
package nnet

import (
	"fmt"
	"os"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/rfml/modnet/img"
)

// Config holds every training parameter in one validated structure.
type Config struct {
	DataDir     string      `yaml:"dataDir"`     // dataset root with train/validation/test subdirs
	OutDir      string      `yaml:"outDir"`      // where report artifacts are written
	Checkpoint  string      `yaml:"checkpoint"`  // best weights file
	HistoryDB   string      `yaml:"historyDB"`   // optional bbolt run history file
	ImageSize   int         `yaml:"imageSize"`   // square resolution shared by loader and network input
	Channels    int         `yaml:"channels"`    // colour channels
	BatchSize   int         `yaml:"batchSize"`   // training batch size
	TestBatch   int         `yaml:"testBatch"`   // evaluation batch size
	MaxEpoch    int         `yaml:"maxEpoch"`    // epoch cap
	Eta         float64     `yaml:"eta"`         // initial learning rate
	Momentum    float64     `yaml:"momentum"`    // SGD momentum
	StopAfter   int         `yaml:"stopAfter"`   // early stop patience in epochs, 0 disables
	DecayAfter  int         `yaml:"decayAfter"`  // LR decay patience in epochs, 0 disables
	DecayFactor float64     `yaml:"decayFactor"` // multiplier applied to eta on plateau
	MinEta      float64     `yaml:"minEta"`      // learning rate floor
	Shuffle     bool        `yaml:"shuffle"`     // shuffle training samples each epoch
	RandSeed    int64       `yaml:"randSeed"`    // 0 seeds from the clock
	Augment     img.Augment `yaml:"augment"`     // training-only augmentation policy
	Layers      []LayerConfig
}

// DefaultConfig returns the documented defaults for every field.
func DefaultConfig() Config {
	return Config{
		DataDir:     "data",
		OutDir:      "out",
		Checkpoint:  "modnet_best.json",
		ImageSize:   227,
		Channels:    3,
		BatchSize:   32,
		TestBatch:   32,
		MaxEpoch:    50,
		Eta:         0.01,
		Momentum:    0.9,
		StopAfter:   10,
		DecayAfter:  4,
		DecayFactor: 0.5,
		MinEta:      1e-6,
		Shuffle:     true,
		Augment:     img.DefaultAugment,
	}
}

// LoadConfig reads settings from a YAML file over the defaults.
func LoadConfig(path string) (Config, error) {
	c := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return c, errors.Wrap(err, "read config")
	}
	if err := yaml.Unmarshal(data, &c); err != nil {
		return c, errors.Wrapf(err, "parse config %s", path)
	}
	return c, c.Validate()
}

// Validate checks the configuration is usable before any work starts.
func (c Config) Validate() error {
	check := func(ok bool, format string, args ...interface{}) error {
		if !ok {
			return errors.Errorf("config: "+format, args...)
		}
		return nil
	}
	for _, err := range []error{
		check(c.ImageSize > 0, "imageSize must be positive: %d", c.ImageSize),
		check(c.Channels == 1 || c.Channels == 3, "channels must be 1 or 3: %d", c.Channels),
		check(c.BatchSize > 0, "batchSize must be positive: %d", c.BatchSize),
		check(c.TestBatch > 0, "testBatch must be positive: %d", c.TestBatch),
		check(c.MaxEpoch > 0, "maxEpoch must be positive: %d", c.MaxEpoch),
		check(c.Eta > 0, "eta must be positive: %g", c.Eta),
		check(c.Momentum >= 0 && c.Momentum < 1, "momentum must be in [0,1): %g", c.Momentum),
		check(c.StopAfter >= 0, "stopAfter must not be negative: %d", c.StopAfter),
		check(c.DecayAfter >= 0, "decayAfter must not be negative: %d", c.DecayAfter),
		check(c.DecayAfter == 0 || (c.DecayFactor > 0 && c.DecayFactor < 1),
			"decayFactor must be in (0,1): %g", c.DecayFactor),
		check(c.MinEta >= 0 && c.MinEta <= c.Eta, "minEta must be in [0,eta]: %g", c.MinEta),
		check(c.Checkpoint != "", "checkpoint path must be set"),
	} {
		if err != nil {
			return err
		}
	}
	return nil
}

// AddLayers appends layers to the config struct.
func (c Config) AddLayers(layers ...ConfigLayer) Config {
	for _, l := range layers {
		c.Layers = append(c.Layers, l.Marshal())
	}
	return c
}

func (c Config) String() string {
	str := []string{"== Config =="}
	str = append(str,
		fmt.Sprintf("%-14s: %s", "DataDir", c.DataDir),
		fmt.Sprintf("%-14s: %d", "ImageSize", c.ImageSize),
		fmt.Sprintf("%-14s: %d", "BatchSize", c.BatchSize),
		fmt.Sprintf("%-14s: %d", "MaxEpoch", c.MaxEpoch),
		fmt.Sprintf("%-14s: %g", "Eta", c.Eta),
		fmt.Sprintf("%-14s: %g", "Momentum", c.Momentum),
		fmt.Sprintf("%-14s: %d", "StopAfter", c.StopAfter),
		fmt.Sprintf("%-14s: %d/%g/%g", "Decay", c.DecayAfter, c.DecayFactor, c.MinEta),
	)
	if c.Layers != nil {
		str = append(str, "== Network ==")
		for i, layer := range c.Layers {
			str = append(str, fmt.Sprintf("%2d: %s", i, layer))
		}
	}
	return strings.Join(str, "\n")
}

// AlexNet builds the fixed network topology over the discovered class count.
func AlexNet(c Config, classes int) Config {
	c.Layers = nil
	return c.AddLayers(
		Conv{Nfeats: 96, Size: 11, Stride: 4},
		Activation{Atype: "relu"},
		MaxPool{Size: 3, Stride: 2},
		Conv{Nfeats: 256, Size: 5, Pad: 2},
		Activation{Atype: "relu"},
		MaxPool{Size: 3, Stride: 2},
		Conv{Nfeats: 384, Size: 3, Pad: 1},
		Activation{Atype: "relu"},
		Conv{Nfeats: 384, Size: 3, Pad: 1},
		Activation{Atype: "relu"},
		Conv{Nfeats: 256, Size: 3, Pad: 1},
		Activation{Atype: "relu"},
		MaxPool{Size: 3, Stride: 2},
		Flatten{},
		Linear{Nout: 4096},
		Activation{Atype: "relu"},
		Dropout{Ratio: 0.5},
		Linear{Nout: 4096},
		Activation{Atype: "relu"},
		Dropout{Ratio: 0.5},
		Linear{Nout: classes},
		Softmax{},
	)
}
