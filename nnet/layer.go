package nnet

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand"

	"github.com/rfml/modnet/num"
)

// Layer interface type represents one layer of the neural net. Shapes
// exclude the leading batch dimension, which may be smaller than batch on
// the trailing partial batch.
type Layer interface {
	Init(rng *rand.Rand, inShape []int, batch int)
	OutShape(inShape []int) []int
	Fprop(in *num.Array, train bool) *num.Array
	Bprop(grad *num.Array) *num.Array
	ToString() string
}

// ParamLayer is a layer with weight and bias parameters.
type ParamLayer interface {
	Layer
	InitParams(scale float32, rng *rand.Rand)
	Params() (W, B *num.Array)
	SetParams(W, B *num.Array)
	UpdateParams(eta, momentum float32)
}

// OutputLayer is the final layer in the stack.
type OutputLayer interface {
	Layer
	Loss(yOneHot, yPred *num.Array) float64
}

// LayerConfig holds the serialised layer configuration.
type LayerConfig struct {
	Type string
	Data json.RawMessage `json:",omitempty"`
}

type ConfigLayer interface {
	Marshal() LayerConfig
}

// Unmarshal decodes the configuration and constructs a new layer.
func (l LayerConfig) Unmarshal() Layer {
	switch l.Type {
	case "conv":
		cfg := new(Conv)
		unmarshal(l.Data, cfg)
		if cfg.Stride == 0 {
			cfg.Stride = 1
		}
		return &conv{Conv: *cfg}
	case "maxPool":
		cfg := new(MaxPool)
		unmarshal(l.Data, cfg)
		if cfg.Stride == 0 {
			cfg.Stride = cfg.Size
		}
		return &maxPool{MaxPool: *cfg}
	case "linear":
		cfg := new(Linear)
		unmarshal(l.Data, cfg)
		return &linear{Linear: *cfg}
	case "activation":
		cfg := new(Activation)
		unmarshal(l.Data, cfg)
		if cfg.Atype != "relu" {
			panic(fmt.Sprintf("activation type %s invalid", cfg.Atype))
		}
		return &relu{Activation: *cfg}
	case "dropout":
		cfg := new(Dropout)
		unmarshal(l.Data, cfg)
		return &dropout{Dropout: *cfg}
	case "flatten":
		return &flatten{}
	case "softmax":
		return &softmax{}
	default:
		panic("invalid layer type: " + l.Type)
	}
}

func (l LayerConfig) String() string {
	return l.Unmarshal().ToString()
}

// Conv is a convolutional layer, implements ParamLayer.
type Conv struct {
	Nfeats, Size, Stride, Pad int
}

func (c Conv) Marshal() LayerConfig {
	if c.Stride == 0 {
		c.Stride = 1
	}
	return LayerConfig{Type: "conv", Data: marshal(c)}
}

// MaxPool layer, should follow a conv layer.
type MaxPool struct {
	Size, Stride int
}

func (c MaxPool) Marshal() LayerConfig {
	if c.Stride == 0 {
		c.Stride = c.Size
	}
	return LayerConfig{Type: "maxPool", Data: marshal(c)}
}

// Linear fully connected layer, implements ParamLayer.
type Linear struct {
	Nout int
}

func (c Linear) Marshal() LayerConfig {
	return LayerConfig{Type: "linear", Data: marshal(c)}
}

// Activation layer. Only relu is used by the fixed topology.
type Activation struct {
	Atype string
}

func (c Activation) Marshal() LayerConfig {
	return LayerConfig{Type: "activation", Data: marshal(c)}
}

// Dropout zeroes a random fraction of activations during training.
type Dropout struct {
	Ratio float64
}

func (c Dropout) Marshal() LayerConfig {
	return LayerConfig{Type: "dropout", Data: marshal(c)}
}

// Flatten layer reshapes from 4 to 2 dimensions.
type Flatten struct{}

func (c Flatten) Marshal() LayerConfig {
	return LayerConfig{Type: "flatten"}
}

// Softmax output layer producing a probability distribution over classes.
type Softmax struct{}

func (c Softmax) Marshal() LayerConfig {
	return LayerConfig{Type: "softmax"}
}

// convolutional layer implementation: im2col plus one matrix multiply per
// sample, samples spread across workers
type conv struct {
	Conv
	paramBase
	inShape    []int
	outH, outW int
	dst        *num.Array
	dsrc       *num.Array
	src        *num.Array
	cols       [][]float32
	dwp        []*num.Array
	dbp        []*num.Array
}

func (l *conv) ToString() string { return fmt.Sprintf("conv %+v", l.Conv) }

func (l *conv) OutShape(inShape []int) []int {
	return []int{
		l.Nfeats,
		num.ConvOutSize(inShape[1], l.Size, l.Stride, l.Pad),
		num.ConvOutSize(inShape[2], l.Size, l.Stride, l.Pad),
	}
}

func (l *conv) Init(rng *rand.Rand, inShape []int, batch int) {
	if len(inShape) != 3 {
		panic("Conv: expect channels, height, width input")
	}
	l.inShape = inShape
	out := l.OutShape(inShape)
	l.outH, l.outW = out[1], out[2]
	ckk := inShape[0] * l.Size * l.Size
	l.paramBase = newParams([]int{l.Nfeats, ckk}, []int{l.Nfeats})
	l.dst = num.NewArray(append([]int{batch}, out...)...)
	l.dsrc = num.NewArray(append([]int{batch}, inShape...)...)
	workers := num.Workers(batch)
	l.cols = make([][]float32, workers)
	l.dwp = make([]*num.Array, workers)
	l.dbp = make([]*num.Array, workers)
	for i := 0; i < workers; i++ {
		l.cols[i] = make([]float32, ckk*l.outH*l.outW)
		l.dwp[i] = num.NewArray(l.Nfeats, ckk)
		l.dbp[i] = num.NewArray(l.Nfeats)
	}
}

func (l *conv) Fprop(in *num.Array, train bool) *num.Array {
	l.src = in
	n := in.Dims[0]
	c, h, w := l.inShape[0], l.inShape[1], l.inShape[2]
	nfeat := num.Prod(l.inShape)
	ohw := l.outH * l.outW
	ckk := c * l.Size * l.Size
	dst := l.dst.Slice(0, n)
	num.Parallel(n, func(worker, i int) {
		cols := l.cols[worker]
		num.Im2col(in.Data[i*nfeat:(i+1)*nfeat], c, h, w, l.Size, l.Stride, l.Pad, cols)
		colArr := num.NewArrayData(cols, ckk, ohw)
		out := num.NewArrayData(dst.Data[i*l.Nfeats*ohw:(i+1)*l.Nfeats*ohw], l.Nfeats, ohw)
		num.Gemm(1, 0, l.w, colArr, out, false, false)
		for f := 0; f < l.Nfeats; f++ {
			bias := l.b.Data[f]
			row := out.Data[f*ohw : (f+1)*ohw]
			for j := range row {
				row[j] += bias
			}
		}
	})
	return dst
}

func (l *conv) Bprop(grad *num.Array) *num.Array {
	n := grad.Dims[0]
	c, h, w := l.inShape[0], l.inShape[1], l.inShape[2]
	nfeat := num.Prod(l.inShape)
	ohw := l.outH * l.outW
	ckk := c * l.Size * l.Size
	for _, p := range l.dwp {
		p.Fill(0)
	}
	for _, p := range l.dbp {
		p.Fill(0)
	}
	dsrc := l.dsrc.Slice(0, n)
	num.Parallel(n, func(worker, i int) {
		cols := l.cols[worker]
		g := num.NewArrayData(grad.Data[i*l.Nfeats*ohw:(i+1)*l.Nfeats*ohw], l.Nfeats, ohw)
		// filter and bias gradients
		num.Im2col(l.src.Data[i*nfeat:(i+1)*nfeat], c, h, w, l.Size, l.Stride, l.Pad, cols)
		colArr := num.NewArrayData(cols, ckk, ohw)
		num.Gemm(1, 1, g, colArr, l.dwp[worker], false, true)
		for f := 0; f < l.Nfeats; f++ {
			var sum float32
			for _, v := range g.Data[f*ohw : (f+1)*ohw] {
				sum += v
			}
			l.dbp[worker].Data[f] += sum
		}
		// input gradient
		colGrad := num.NewArrayData(make([]float32, ckk*ohw), ckk, ohw)
		num.Gemm(1, 0, l.w, g, colGrad, true, false)
		out := dsrc.Data[i*nfeat : (i+1)*nfeat]
		for j := range out {
			out[j] = 0
		}
		num.Col2im(colGrad.Data, c, h, w, l.Size, l.Stride, l.Pad, out)
	})
	l.dw.Fill(0)
	l.db.Fill(0)
	for i := range l.dwp {
		num.Axpy(1, l.dwp[i], l.dw)
		num.Axpy(1, l.dbp[i], l.db)
	}
	l.nBatch = n
	return dsrc
}

// max pooling layer implementation
type maxPool struct {
	MaxPool
	inShape    []int
	outH, outW int
	dst        *num.Array
	dsrc       *num.Array
	argmax     []int32
}

func (l *maxPool) ToString() string { return fmt.Sprintf("maxPool %+v", l.MaxPool) }

func (l *maxPool) OutShape(inShape []int) []int {
	return []int{
		inShape[0],
		num.ConvOutSize(inShape[1], l.Size, l.Stride, 0),
		num.ConvOutSize(inShape[2], l.Size, l.Stride, 0),
	}
}

func (l *maxPool) Init(rng *rand.Rand, inShape []int, batch int) {
	if len(inShape) != 3 {
		panic("MaxPool: expect channels, height, width input")
	}
	l.inShape = inShape
	out := l.OutShape(inShape)
	l.outH, l.outW = out[1], out[2]
	l.dst = num.NewArray(append([]int{batch}, out...)...)
	l.dsrc = num.NewArray(append([]int{batch}, inShape...)...)
	l.argmax = make([]int32, batch*num.Prod(out))
}

func (l *maxPool) Fprop(in *num.Array, train bool) *num.Array {
	n := in.Dims[0]
	c, h, w := l.inShape[0], l.inShape[1], l.inShape[2]
	ohw := l.outH * l.outW
	dst := l.dst.Slice(0, n)
	num.Parallel(n, func(worker, i int) {
		for ch := 0; ch < c; ch++ {
			plane := in.Data[(i*c+ch)*h*w:]
			out := dst.Data[(i*c+ch)*ohw:]
			amax := l.argmax[(i*c+ch)*ohw:]
			for oy := 0; oy < l.outH; oy++ {
				for ox := 0; ox < l.outW; ox++ {
					best := float32(math.Inf(-1))
					bestIx := int32(0)
					for ky := 0; ky < l.Size; ky++ {
						iy := oy*l.Stride + ky
						if iy >= h {
							break
						}
						for kx := 0; kx < l.Size; kx++ {
							ix := ox*l.Stride + kx
							if ix >= w {
								break
							}
							if v := plane[iy*w+ix]; v > best {
								best, bestIx = v, int32(iy*w+ix)
							}
						}
					}
					out[oy*l.outW+ox] = best
					amax[oy*l.outW+ox] = bestIx
				}
			}
		}
	})
	return dst
}

func (l *maxPool) Bprop(grad *num.Array) *num.Array {
	n := grad.Dims[0]
	c, h, w := l.inShape[0], l.inShape[1], l.inShape[2]
	ohw := l.outH * l.outW
	dsrc := l.dsrc.Slice(0, n)
	dsrc.Fill(0)
	num.Parallel(n, func(worker, i int) {
		for ch := 0; ch < c; ch++ {
			g := grad.Data[(i*c+ch)*ohw:]
			amax := l.argmax[(i*c+ch)*ohw:]
			out := dsrc.Data[(i*c+ch)*h*w:]
			for j := 0; j < ohw; j++ {
				out[amax[j]] += g[j]
			}
		}
	})
	return dsrc
}

// linear layer implementation
type linear struct {
	Linear
	paramBase
	nIn  int
	dst  *num.Array
	dsrc *num.Array
	src  *num.Array
}

func (l *linear) ToString() string { return fmt.Sprintf("linear %+v", l.Linear) }

func (l *linear) OutShape(inShape []int) []int {
	return []int{l.Nout}
}

func (l *linear) Init(rng *rand.Rand, inShape []int, batch int) {
	if len(inShape) != 1 {
		panic("Linear: expect flat input")
	}
	l.nIn = inShape[0]
	l.paramBase = newParams([]int{l.nIn, l.Nout}, []int{l.Nout})
	l.dst = num.NewArray(batch, l.Nout)
	l.dsrc = num.NewArray(batch, l.nIn)
}

func (l *linear) Fprop(in *num.Array, train bool) *num.Array {
	l.src = in
	n := in.Dims[0]
	dst := l.dst.Slice(0, n)
	num.Gemm(1, 0, in, l.w, dst, false, false)
	for i := 0; i < n; i++ {
		row := dst.Data[i*l.Nout : (i+1)*l.Nout]
		for j, bias := range l.b.Data {
			row[j] += bias
		}
	}
	return dst
}

func (l *linear) Bprop(grad *num.Array) *num.Array {
	n := grad.Dims[0]
	num.Gemm(1, 0, l.src, grad, l.dw, true, false)
	l.db.Fill(0)
	for i := 0; i < n; i++ {
		for j := range l.db.Data {
			l.db.Data[j] += grad.Data[i*l.Nout+j]
		}
	}
	dsrc := l.dsrc.Slice(0, n)
	num.Gemm(1, 0, grad, l.w, dsrc, false, true)
	l.nBatch = n
	return dsrc
}

// relu activation layer
type relu struct {
	Activation
	dst  *num.Array
	dsrc *num.Array
	src  *num.Array
}

func (l *relu) ToString() string { return fmt.Sprintf("activation %+v", l.Activation) }

func (l *relu) OutShape(inShape []int) []int { return inShape }

func (l *relu) Init(rng *rand.Rand, inShape []int, batch int) {
	l.dst = num.NewArray(append([]int{batch}, inShape...)...)
	l.dsrc = num.NewArray(append([]int{batch}, inShape...)...)
}

func (l *relu) Fprop(in *num.Array, train bool) *num.Array {
	l.src = in
	dst := l.dst.Slice(0, in.Dims[0])
	for i, v := range in.Data {
		if v > 0 {
			dst.Data[i] = v
		} else {
			dst.Data[i] = 0
		}
	}
	return dst
}

func (l *relu) Bprop(grad *num.Array) *num.Array {
	dsrc := l.dsrc.Slice(0, grad.Dims[0])
	for i, v := range l.src.Data {
		if v > 0 {
			dsrc.Data[i] = grad.Data[i]
		} else {
			dsrc.Data[i] = 0
		}
	}
	return dsrc
}

// dropout layer: inverted dropout so evaluation is a straight pass through
type dropout struct {
	Dropout
	rng  *rand.Rand
	mask []float32
	dst  *num.Array
	dsrc *num.Array
}

func (l *dropout) ToString() string { return fmt.Sprintf("dropout %+v", l.Dropout) }

func (l *dropout) OutShape(inShape []int) []int { return inShape }

func (l *dropout) Init(rng *rand.Rand, inShape []int, batch int) {
	l.rng = rng
	size := batch * num.Prod(inShape)
	l.mask = make([]float32, size)
	l.dst = num.NewArray(append([]int{batch}, inShape...)...)
	l.dsrc = num.NewArray(append([]int{batch}, inShape...)...)
}

func (l *dropout) Fprop(in *num.Array, train bool) *num.Array {
	if !train || l.Ratio <= 0 {
		return in
	}
	scale := float32(1 / (1 - l.Ratio))
	dst := l.dst.Slice(0, in.Dims[0])
	for i, v := range in.Data {
		if l.rng.Float64() < l.Ratio {
			l.mask[i] = 0
		} else {
			l.mask[i] = scale
		}
		dst.Data[i] = v * l.mask[i]
	}
	return dst
}

func (l *dropout) Bprop(grad *num.Array) *num.Array {
	dsrc := l.dsrc.Slice(0, grad.Dims[0])
	for i, g := range grad.Data {
		dsrc.Data[i] = g * l.mask[i]
	}
	return dsrc
}

// flatten layer: reshaped views, no copies
type flatten struct {
	inShape []int
}

func (l *flatten) ToString() string { return "flatten" }

func (l *flatten) OutShape(inShape []int) []int {
	return []int{num.Prod(inShape)}
}

func (l *flatten) Init(rng *rand.Rand, inShape []int, batch int) {
	l.inShape = inShape
}

func (l *flatten) Fprop(in *num.Array, train bool) *num.Array {
	return in.Reshape(in.Dims[0], -1)
}

func (l *flatten) Bprop(grad *num.Array) *num.Array {
	return grad.Reshape(append([]int{grad.Dims[0]}, l.inShape...)...)
}

// softmax output layer with categorical cross entropy loss
type softmax struct {
	classes int
	dst     *num.Array
	dsrc    *num.Array
}

func (l *softmax) ToString() string { return "softmax" }

func (l *softmax) OutShape(inShape []int) []int { return inShape }

func (l *softmax) Init(rng *rand.Rand, inShape []int, batch int) {
	if len(inShape) != 1 {
		panic("Softmax: expect flat input")
	}
	l.classes = inShape[0]
	l.dst = num.NewArray(batch, l.classes)
	l.dsrc = num.NewArray(batch, l.classes)
}

func (l *softmax) Fprop(in *num.Array, train bool) *num.Array {
	dst := l.dst.Slice(0, in.Dims[0])
	num.Softmax(in, dst)
	return dst
}

func (l *softmax) Bprop(grad *num.Array) *num.Array {
	dsrc := l.dsrc.Slice(0, grad.Dims[0])
	copy(dsrc.Data, grad.Data)
	return dsrc
}

// Loss returns the categorical cross entropy summed over the batch.
func (l *softmax) Loss(yOneHot, yPred *num.Array) float64 {
	loss := 0.0
	for i, y := range yOneHot.Data {
		if y != 0 {
			p := math.Max(float64(yPred.Data[i]), 1e-12)
			loss -= float64(y) * math.Log(p)
		}
	}
	return loss
}

// weight and bias parameters with momentum state
type paramBase struct {
	w, b   *num.Array
	dw, db *num.Array
	vw, vb *num.Array
	nBatch int
}

func newParams(wShape, bShape []int) paramBase {
	return paramBase{
		w:  num.NewArray(wShape...),
		b:  num.NewArray(bShape...),
		dw: num.NewArray(wShape...),
		db: num.NewArray(bShape...),
		vw: num.NewArray(wShape...),
		vb: num.NewArray(bShape...),
	}
}

func (p *paramBase) Params() (W, B *num.Array) {
	return p.w, p.b
}

func (p *paramBase) SetParams(W, B *num.Array) {
	copy(p.w.Data, W.Data)
	copy(p.b.Data, B.Data)
}

// InitParams draws weights from a normal distribution scaled by 1/sqrt(nin)
// and zeroes the biases and momentum state.
func (p *paramBase) InitParams(scale float32, rng *rand.Rand) {
	for i := range p.w.Data {
		p.w.Data[i] = float32(rng.NormFloat64()) * scale
	}
	p.b.Fill(0)
	p.vw.Fill(0)
	p.vb.Fill(0)
}

// UpdateParams applies one SGD step with momentum using the gradients
// accumulated by the last Bprop.
func (p *paramBase) UpdateParams(eta, momentum float32) {
	if p.nBatch == 0 {
		return
	}
	step := eta / float32(p.nBatch)
	num.Scale(momentum, p.vw)
	num.Axpy(-step, p.dw, p.vw)
	num.Axpy(1, p.vw, p.w)
	num.Scale(momentum, p.vb)
	num.Axpy(-step, p.db, p.vb)
	num.Axpy(1, p.vb, p.b)
}

func marshal(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}

func unmarshal(data json.RawMessage, v interface{}) {
	err := json.Unmarshal(data, v)
	if err != nil {
		panic(err)
	}
}
