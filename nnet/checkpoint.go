package nnet

import (
	"encoding/json"
	"os"
	"time"

	"github.com/pkg/errors"

	"github.com/rfml/modnet/num"
)

// Checkpoint is the serialised form of the best model weights seen so far,
// together with the architecture and enough training state to resume or
// audit a run.
type Checkpoint struct {
	Classes     []string       `json:"classes"`
	InShape     []int          `json:"in_shape"`
	Layers      []LayerConfig  `json:"layers"`
	Weights     []WeightTensor `json:"weights"`
	Epoch       int            `json:"epoch"`
	ValAccuracy float64        `json:"val_accuracy"`
	ValLoss     float64        `json:"val_loss"`
	CreatedAt   time.Time      `json:"created_at"`
}

// WeightTensor holds one parameter array with its shape.
type WeightTensor struct {
	Layer int       `json:"layer"`
	Name  string    `json:"name"`
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data"`
}

// SaveCheckpoint writes the current weights to path. The file is replaced
// atomically so a crash mid-write never loses the previous best.
func (n *Network) SaveCheckpoint(path string, epoch int, valAcc, valLoss float64) error {
	ck := Checkpoint{
		Classes:     n.Classes,
		InShape:     n.inShape,
		Layers:      n.Config.Layers,
		Epoch:       epoch,
		ValAccuracy: valAcc,
		ValLoss:     valLoss,
		CreatedAt:   time.Now().UTC(),
	}
	for i, layer := range n.Layers {
		if l, ok := layer.(ParamLayer); ok {
			W, B := l.Params()
			ck.Weights = append(ck.Weights,
				WeightTensor{Layer: i, Name: "weight", Shape: W.Dims, Data: W.Data},
				WeightTensor{Layer: i, Name: "bias", Shape: B.Dims, Data: B.Data})
		}
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return errors.Wrap(err, "create checkpoint")
	}
	if err = json.NewEncoder(f).Encode(&ck); err != nil {
		f.Close()
		return errors.Wrap(err, "encode checkpoint")
	}
	if err = f.Close(); err != nil {
		return errors.Wrap(err, "close checkpoint")
	}
	return errors.Wrap(os.Rename(tmp, path), "rename checkpoint")
}

// LoadCheckpoint reads a checkpoint file.
func LoadCheckpoint(path string) (*Checkpoint, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open checkpoint")
	}
	defer f.Close()
	ck := new(Checkpoint)
	if err = json.NewDecoder(f).Decode(ck); err != nil {
		return nil, errors.Wrapf(err, "decode checkpoint %s", path)
	}
	return ck, nil
}

// RestoreCheckpoint loads the saved weights into the network, checking each
// tensor shape against the live parameters.
func (n *Network) RestoreCheckpoint(ck *Checkpoint) error {
	byLayer := map[int]map[string]WeightTensor{}
	for _, t := range ck.Weights {
		if byLayer[t.Layer] == nil {
			byLayer[t.Layer] = map[string]WeightTensor{}
		}
		byLayer[t.Layer][t.Name] = t
	}
	for i, layer := range n.Layers {
		l, ok := layer.(ParamLayer)
		if !ok {
			continue
		}
		W, B := l.Params()
		saved, ok := byLayer[i]
		if !ok {
			return errors.Errorf("checkpoint missing weights for layer %d", i)
		}
		for _, want := range []struct {
			name string
			arr  *num.Array
		}{{"weight", W}, {"bias", B}} {
			t, ok := saved[want.name]
			if !ok || len(t.Data) != len(want.arr.Data) {
				return errors.Errorf("checkpoint %s for layer %d does not match shape %v", want.name, i, want.arr.Dims)
			}
		}
		l.SetParams(num.NewArrayData(saved["weight"].Data, W.Dims...), num.NewArrayData(saved["bias"].Data, B.Dims...))
	}
	return nil
}
