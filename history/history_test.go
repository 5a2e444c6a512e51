package history

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rfml/modnet/nnet"
)

func TestStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")
	store, err := Open(path)
	require.NoError(t, err)
	defer store.Close()

	run := Run{
		ID:      "20260830-120000",
		Classes: []string{"am", "fm", "psk"},
		Epochs: []nnet.Stats{
			{Epoch: 1, Loss: 1.1, Acc: 0.3, ValLoss: 1.2, ValAcc: 0.35, Eta: 0.01},
			{Epoch: 2, Loss: 0.9, Acc: 0.5, ValLoss: 1.0, ValAcc: 0.48, Eta: 0.01},
		},
	}
	require.NoError(t, store.Save(run))

	got, err := store.Get(run.ID)
	require.NoError(t, err)
	assert.Equal(t, run, got)

	_, err = store.Get("missing")
	assert.Error(t, err)

	assert.Error(t, store.Save(Run{}), "a run without an id is rejected")
}

func TestStoreList(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")
	store, err := Open(path)
	require.NoError(t, err)
	defer store.Close()

	for _, id := range []string{"b-run", "a-run", "c-run"} {
		require.NoError(t, store.Save(Run{ID: id, Classes: []string{"x"}}))
	}
	ids, err := store.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"a-run", "b-run", "c-run"}, ids)
}
