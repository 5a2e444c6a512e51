package nnet

import (
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rfml/modnet/num"
)

func TestCheckpointPolicy(t *testing.T) {
	p := &checkpointPolicy{}
	saved := []bool{}
	for _, acc := range []float64{0.2, 0.5, 0.5, 0.4, 0.6, 0.6} {
		saved = append(saved, p.improved(acc))
	}
	// strict improvement only, so ties keep the earlier epoch
	assert.Equal(t, []bool{true, true, false, false, true, false}, saved)
}

func TestEarlyStopPolicy(t *testing.T) {
	p := &earlyStopPolicy{patience: 3}
	losses := []float64{1.0, 0.8, 0.9, 0.85, 0.81, 0.9}
	var stopAt int
	for epoch, loss := range losses {
		_, stop := p.step(loss)
		if stop {
			stopAt = epoch + 1
			break
		}
	}
	// best at epoch 2; three epochs without improvement stop the run
	assert.Equal(t, 5, stopAt)

	// a fresh improvement resets the window
	p = &earlyStopPolicy{patience: 3}
	for _, loss := range []float64{1.0, 0.9, 0.95, 0.92, 0.8, 0.9, 0.85} {
		_, stop := p.step(loss)
		assert.False(t, stop)
	}
}

func TestDecayPolicy(t *testing.T) {
	p := &decayPolicy{patience: 2, factor: 0.5, minEta: 0.002}
	eta := 0.01
	losses := []float64{1.0, 0.9, 0.95, 0.92, 0.93, 0.91, 0.94, 0.92, 0.93, 0.95}
	var etas []float64
	for _, loss := range losses {
		eta = p.step(loss, eta)
		etas = append(etas, eta)
	}
	// decays exactly once per two epoch plateau window after the best at
	// epoch 2, and never drops below the floor
	want := []float64{0.01, 0.01, 0.01, 0.005, 0.005, 0.0025, 0.0025, 0.002, 0.002, 0.002}
	assert.InDeltaSlice(t, want, etas, 1e-12)
}

func TestDecayPolicyDisabled(t *testing.T) {
	p := &decayPolicy{}
	assert.Equal(t, 0.01, p.step(1.0, 0.01))
	assert.Equal(t, 0.01, p.step(2.0, 0.01))
}

// testData is a synthetic in-memory split with a learnable class pattern.
type testData struct {
	classes []string
	dims    []int
	labels  []int32
	inputs  []float32
}

// newTestData creates perClass images per class where the intensity of a
// class specific region is raised, so even a linear model separates them.
func newTestData(classes []string, perClass int, seed int64) *testData {
	d := &testData{classes: classes, dims: []int{3, 8, 8}}
	rng := rand.New(rand.NewSource(seed))
	nfeat := 3 * 8 * 8
	for c := range classes {
		for s := 0; s < perClass; s++ {
			img := make([]float32, nfeat)
			for i := range img {
				img[i] = rng.Float32() * 0.1
			}
			for i := c * 20; i < c*20+20; i++ {
				img[i] += 0.8
			}
			d.inputs = append(d.inputs, img...)
			d.labels = append(d.labels, int32(c))
		}
	}
	return d
}

func (d *testData) Len() int          { return len(d.labels) }
func (d *testData) Classes() []string { return d.classes }
func (d *testData) Shape() []int      { return d.dims }

func (d *testData) Label(index []int, label []int32) {
	for i, ix := range index {
		label[i] = d.labels[ix]
	}
}

func (d *testData) Input(index []int, buf []float32) {
	nfeat := 3 * 8 * 8
	for i, ix := range index {
		copy(buf[i*nfeat:], d.inputs[ix*nfeat:(ix+1)*nfeat])
	}
}

// End to end run on a small synthetic problem: 3 classes with 30/10/10
// images per class across the train, validation and test splits, up to 12
// epochs. A checkpoint file must exist after training, test accuracy is in
// [0,1] and the confusion matrix is 3x3 with row sums of 10.
func TestTrainScenario(t *testing.T) {
	classes := []string{"am", "fm", "psk"}
	dir := t.TempDir()

	conf := DefaultConfig()
	conf.MaxEpoch = 12
	conf.BatchSize = 8
	conf.TestBatch = 8
	conf.Eta = 0.1
	conf.StopAfter = 0
	conf.DecayAfter = 0
	conf.RandSeed = 3
	conf.Checkpoint = filepath.Join(dir, "best.json")
	conf = conf.AddLayers(
		Flatten{},
		Linear{Nout: 16},
		Activation{Atype: "relu"},
		Linear{Nout: 3},
		Softmax{},
	)

	rng := NewRand(conf.RandSeed)
	train := NewDataset(newTestData(classes, 30, 1), conf.BatchSize, true, rng)
	valid := NewDataset(newTestData(classes, 10, 2), conf.TestBatch, false, rng)
	test := NewDataset(newTestData(classes, 10, 3), conf.TestBatch, false, rng)
	require.Equal(t, 90, train.Samples)

	net := New(conf, classes, conf.BatchSize, []int{3, 8, 8})
	net.InitWeights()

	trainer := &Trainer{Net: net, Train: train, Valid: valid}
	history, err := trainer.Run()
	require.NoError(t, err)
	require.NotEmpty(t, history)
	assert.LessOrEqual(t, len(history), 12)

	info, err := os.Stat(conf.Checkpoint)
	require.NoError(t, err, "checkpoint file must exist after training")
	assert.Greater(t, info.Size(), int64(0))

	res, err := EvaluateTest(net, test)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, res.Accuracy, 0.0)
	assert.LessOrEqual(t, res.Accuracy, 1.0)
	require.Len(t, res.Confusion.Counts, 3)
	assert.Equal(t, []int{10, 10, 10}, res.Confusion.RowSums())
	assert.Equal(t, 30, res.Confusion.Total)
}

func TestTrainEarlyStopRollsBack(t *testing.T) {
	classes := []string{"a", "b"}
	dir := t.TempDir()

	conf := DefaultConfig()
	conf.MaxEpoch = 20
	conf.BatchSize = 4
	conf.TestBatch = 4
	conf.Eta = 0.1
	conf.StopAfter = 2
	conf.DecayAfter = 0
	conf.RandSeed = 5
	conf.Checkpoint = filepath.Join(dir, "best.json")
	conf = conf.AddLayers(
		Flatten{},
		Linear{Nout: 2},
		Softmax{},
	)

	rng := NewRand(conf.RandSeed)
	train := NewDataset(newTestData(classes, 8, 1), conf.BatchSize, true, rng)
	// validation labels are inverted relative to the training pattern, so
	// validation loss degrades as the model fits and the stop must fire
	inv := newTestData(classes, 4, 2)
	for i := range inv.labels {
		inv.labels[i] = 1 - inv.labels[i]
	}
	valid := NewDataset(inv, conf.TestBatch, false, rng)

	net := New(conf, classes, conf.BatchSize, []int{3, 8, 8})
	net.InitWeights()

	var snaps [][][]*num.Array
	trainer := &Trainer{Net: net, Train: train, Valid: valid,
		OnEpoch: func(Stats) { snaps = append(snaps, net.Snapshot()) }}
	history, err := trainer.run()
	require.NoError(t, err)
	require.Less(t, len(history), conf.MaxEpoch, "early stop must fire before the epoch cap")
	require.Len(t, snaps, len(history))

	best := 0
	for i, s := range history {
		if s.ValLoss < history[best].ValLoss {
			best = i
		}
	}
	// before the final checkpoint reload the in-memory weights are those of
	// the best validation loss epoch
	got := net.Snapshot()
	for i, want := range snaps[best] {
		assert.Equal(t, want[0].Data, got[i][0].Data, "weights layer %d", i)
		assert.Equal(t, want[1].Data, got[i][1].Data, "biases layer %d", i)
	}
}

func TestTrainRestoresBestCheckpoint(t *testing.T) {
	classes := []string{"a", "b"}
	dir := t.TempDir()

	conf := DefaultConfig()
	conf.MaxEpoch = 30
	conf.BatchSize = 4
	conf.TestBatch = 4
	conf.Eta = 0.5 // deliberately unstable so validation loss plateaus
	conf.StopAfter = 3
	conf.DecayAfter = 0
	conf.RandSeed = 5
	conf.Checkpoint = filepath.Join(dir, "best.json")
	conf = conf.AddLayers(
		Flatten{},
		Linear{Nout: 2},
		Softmax{},
	)

	rng := NewRand(conf.RandSeed)
	train := NewDataset(newTestData(classes, 8, 1), conf.BatchSize, true, rng)
	valid := NewDataset(newTestData(classes, 4, 2), conf.TestBatch, false, rng)

	net := New(conf, classes, conf.BatchSize, []int{3, 8, 8})
	net.InitWeights()

	trainer := &Trainer{Net: net, Train: train, Valid: valid}
	history, err := trainer.Run()
	require.NoError(t, err)

	// after the run the network holds the checkpointed best weights
	ck, err := LoadCheckpoint(conf.Checkpoint)
	require.NoError(t, err)
	best := history[0]
	for _, s := range history[1:] {
		if s.ValAcc > best.ValAcc {
			best = s
		}
	}
	assert.Equal(t, best.Epoch, ck.Epoch)
	assert.InDelta(t, best.ValAcc, ck.ValAccuracy, 1e-9)
}

func TestSnapshotRestore(t *testing.T) {
	conf := DefaultConfig()
	conf.RandSeed = 11
	conf = conf.AddLayers(Flatten{}, Linear{Nout: 2}, Softmax{})
	net := New(conf, []string{"a", "b"}, 2, []int{3, 2, 2})
	net.InitWeights()

	snap := net.Snapshot()
	l := net.Layers[1].(ParamLayer)
	W, _ := l.Params()
	orig := W.Data[0]
	W.Data[0] = orig + 42
	require.NoError(t, net.Restore(snap))
	assert.Equal(t, orig, W.Data[0])

	assert.Error(t, net.Restore(snap[:0]))
}
