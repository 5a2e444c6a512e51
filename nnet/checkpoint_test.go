package nnet

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestNet(seed int64) *Network {
	conf := DefaultConfig()
	conf.RandSeed = seed
	conf = conf.AddLayers(
		Flatten{},
		Linear{Nout: 4},
		Activation{Atype: "relu"},
		Linear{Nout: 2},
		Softmax{},
	)
	net := New(conf, []string{"a", "b"}, 2, []int{3, 4, 4})
	net.InitWeights()
	return net
}

func TestCheckpointRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "best.json")
	net := newTestNet(1)
	require.NoError(t, net.SaveCheckpoint(path, 7, 0.85, 0.42))

	ck, err := LoadCheckpoint(path)
	require.NoError(t, err)
	assert.Equal(t, 7, ck.Epoch)
	assert.Equal(t, 0.85, ck.ValAccuracy)
	assert.Equal(t, 0.42, ck.ValLoss)
	assert.Equal(t, []string{"a", "b"}, ck.Classes)
	assert.Equal(t, []int{3, 4, 4}, ck.InShape)
	assert.Len(t, ck.Weights, 4)

	// restoring into a differently seeded network reproduces the weights
	net2 := newTestNet(2)
	require.NoError(t, net2.RestoreCheckpoint(ck))
	for i, layer := range net.Layers {
		l, ok := layer.(ParamLayer)
		if !ok {
			continue
		}
		W, B := l.Params()
		W2, B2 := net2.Layers[i].(ParamLayer).Params()
		assert.Equal(t, W.Data, W2.Data)
		assert.Equal(t, B.Data, B2.Data)
	}
}

func TestCheckpointShapeMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "best.json")
	net := newTestNet(1)
	require.NoError(t, net.SaveCheckpoint(path, 1, 0.5, 1.0))
	ck, err := LoadCheckpoint(path)
	require.NoError(t, err)

	conf := DefaultConfig()
	conf = conf.AddLayers(Flatten{}, Linear{Nout: 3}, Softmax{})
	other := New(conf, []string{"a", "b", "c"}, 2, []int{3, 4, 4})
	other.InitWeights()
	assert.Error(t, other.RestoreCheckpoint(ck))
}

func TestLoadCheckpointMissing(t *testing.T) {
	_, err := LoadCheckpoint(filepath.Join(t.TempDir(), "none.json"))
	assert.Error(t, err)
}
