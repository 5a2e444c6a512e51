package nnet

import (
	"math/rand"
	"sync"

	"github.com/rfml/modnet/num"
)

// Data interface type represents the raw samples for one split.
type Data interface {
	Len() int
	Classes() []string
	Shape() []int
	Label(index []int, label []int32)
	Input(index []int, buf []float32)
}

// Dataset encapsulates a training, validation or test split and yields fixed
// size batches. The next batch is prepared in the background while the
// current one is consumed. The trailing partial batch is still emitted.
type Dataset struct {
	Data
	Samples   int
	BatchSize int
	Batches   int
	x         [2]*num.Array
	yBuf      [2][]int32
	y1H       [2]*num.Array
	count     [2]int
	indexes   []int
	buf       int
	batch     int
	shuffle   bool
	rng       *rand.Rand
	sync.WaitGroup
}

// NewDataset creates a new Dataset and allocates the batch buffers. A
// shuffled dataset draws a fresh sample order each epoch; an unshuffled one
// guarantees fixed positional order so predictions align with labels.
func NewDataset(data Data, batchSize int, shuffle bool, rng *rand.Rand) *Dataset {
	d := &Dataset{Data: data, Samples: data.Len(), shuffle: shuffle, rng: rng}
	if batchSize == 0 || batchSize > d.Samples {
		d.BatchSize = d.Samples
	} else {
		d.BatchSize = batchSize
	}
	d.Batches = d.Samples / d.BatchSize
	if d.Samples%d.BatchSize != 0 {
		d.Batches++
	}
	classes := len(data.Classes())
	for i := range d.x {
		d.x[i] = num.NewArray(append([]int{d.BatchSize}, data.Shape()...)...)
		d.yBuf[i] = make([]int32, d.BatchSize)
		d.y1H[i] = num.NewArray(d.BatchSize, classes)
	}
	d.indexes = make([]int, d.Samples)
	for i := range d.indexes {
		d.indexes[i] = i
	}
	d.loadBatch()
	return d
}

// kick off load of the next batch of data in the background
func (d *Dataset) loadBatch() {
	buf, batch := d.buf, d.batch
	d.Add(1)
	go func() {
		start := batch * d.BatchSize
		end := start + d.BatchSize
		if end > d.Samples {
			end = d.Samples
		}
		index := d.indexes[start:end]
		d.Input(index, d.x[buf].Data)
		d.Label(index, d.yBuf[buf])
		num.Onehot(d.yBuf[buf][:len(index)], d.y1H[buf], len(d.Classes()))
		d.count[buf] = len(index)
		d.Done()
	}()
}

// NextBatch returns the next batch of input data, labels and one hot encoded
// labels, sliced to the actual batch count.
func (d *Dataset) NextBatch() (x *num.Array, y []int32, yOneHot *num.Array) {
	d.Wait()
	n := d.count[d.buf]
	x = d.x[d.buf].Slice(0, n)
	y = d.yBuf[d.buf][:n]
	yOneHot = d.y1H[d.buf].Slice(0, n)
	d.batch = (d.batch + 1) % d.Batches
	d.buf = (d.buf + 1) % 2
	d.loadBatch()
	return
}

// Rewind to the start of the data in the current order.
func (d *Dataset) Rewind() {
	d.Wait()
	d.batch = 0
	d.loadBatch()
}

// NextEpoch is called at the start of each training epoch: it reshuffles the
// sample order if the dataset is shuffled and rewinds.
func (d *Dataset) NextEpoch() {
	d.Wait()
	if d.shuffle {
		d.indexes = d.rng.Perm(d.Samples)
	}
	d.batch = 0
	d.loadBatch()
}

// Labels returns the ground truth labels in the current dataset order.
func (d *Dataset) Labels() []int32 {
	labels := make([]int32, d.Samples)
	d.Label(d.indexes, labels)
	return labels
}
