package nnet

import (
	"fmt"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/rfml/modnet/num"
)

// Network type represents a multilayer neural network model.
type Network struct {
	Config
	Classes []string
	Layers  []Layer
	inShape []int
	rng     *rand.Rand
}

// New function creates a new network from the layer configs. batch is the
// maximum batch size buffers are allocated for and inShape is channels,
// height, width.
func New(conf Config, classes []string, batch int, inShape []int) *Network {
	n := &Network{Config: conf, Classes: classes, inShape: inShape, rng: NewRand(conf.RandSeed)}
	shape := inShape
	for _, l := range conf.Layers {
		layer := l.Unmarshal()
		layer.Init(n.rng, shape, batch)
		n.Layers = append(n.Layers, layer)
		shape = layer.OutShape(shape)
	}
	if len(shape) != 1 || shape[0] != len(classes) {
		panic(fmt.Sprintf("network output shape %v does not match %d classes", shape, len(classes)))
	}
	return n
}

// InitWeights initialises each parameter layer from a normal distribution
// scaled by 1/sqrt(nin).
func (n *Network) InitWeights() {
	shape := n.inShape
	for _, layer := range n.Layers {
		if l, ok := layer.(ParamLayer); ok {
			nin := num.Prod(shape)
			l.InitParams(float32(1/math.Sqrt(float64(nin))), n.rng)
		}
		shape = layer.OutShape(shape)
	}
}

// OutLayer is an accessor for the output layer.
func (n *Network) OutLayer() OutputLayer {
	return n.Layers[len(n.Layers)-1].(OutputLayer)
}

// Fprop feeds the input forward to get the predicted class probabilities.
func (n *Network) Fprop(input *num.Array, train bool) *num.Array {
	pred := input
	for _, layer := range n.Layers {
		pred = layer.Fprop(pred, train)
	}
	return pred
}

// Bprop back propagates the output gradient through the stack.
func (n *Network) Bprop(grad *num.Array) {
	for i := len(n.Layers) - 1; i >= 0; i-- {
		grad = n.Layers[i].Bprop(grad)
	}
}

// Update applies one SGD with momentum step to every parameter layer.
func (n *Network) Update(eta float64) {
	for _, layer := range n.Layers {
		if l, ok := layer.(ParamLayer); ok {
			l.UpdateParams(float32(eta), float32(n.Momentum))
		}
	}
}

// Evaluate runs a single forward pass over the dataset and returns the mean
// loss and accuracy. If probs is not nil each batch of predicted
// probabilities is appended to it in dataset order.
func (n *Network) Evaluate(dset *Dataset, probs []float32) (loss, acc float64, out []float32) {
	out = probs
	classes := len(n.Classes)
	correct := 0
	dset.Rewind()
	for batch := 0; batch < dset.Batches; batch++ {
		x, y, yOneHot := dset.NextBatch()
		yPred := n.Fprop(x, false)
		loss += n.OutLayer().Loss(yOneHot, yPred)
		for i, p := range num.Argmax(yPred) {
			if p == y[i] {
				correct++
			}
		}
		if probs != nil {
			out = append(out, yPred.Data[:yPred.Dims[0]*classes]...)
		}
	}
	loss /= float64(dset.Samples)
	acc = float64(correct) / float64(dset.Samples)
	return loss, acc, out
}

// Snapshot copies the weights from every parameter layer, for rollback when
// early stopping fires.
func (n *Network) Snapshot() [][]*num.Array {
	var snap [][]*num.Array
	for _, layer := range n.Layers {
		if l, ok := layer.(ParamLayer); ok {
			W, B := l.Params()
			snap = append(snap, []*num.Array{W.Clone(), B.Clone()})
		}
	}
	return snap
}

// Restore sets the weights saved by Snapshot.
func (n *Network) Restore(snap [][]*num.Array) error {
	i := 0
	for _, layer := range n.Layers {
		if l, ok := layer.(ParamLayer); ok {
			if i >= len(snap) {
				return errors.New("snapshot does not match network")
			}
			l.SetParams(snap[i][0], snap[i][1])
			i++
		}
	}
	if i != len(snap) {
		return errors.New("snapshot does not match network")
	}
	return nil
}

// String prints the network description.
func (n *Network) String() string {
	s := make([]string, len(n.Layers))
	shape := n.inShape
	for i, layer := range n.Layers {
		s[i] = fmt.Sprintf("%2d: %-30s %v", i, layer.ToString(), shape)
		shape = layer.OutShape(shape)
	}
	return strings.Join(s, "\n")
}

// NewRand returns a seeded random source, from the clock if seed <= 0.
func NewRand(seed int64) *rand.Rand {
	if seed <= 0 {
		seed = time.Now().UTC().UnixNano()
	}
	return rand.New(rand.NewSource(seed))
}
