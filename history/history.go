// Package history persists per-run training statistics in a bbolt database
// so completed runs can be compared later.
package history

import (
	"encoding/json"
	"sort"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"

	"github.com/rfml/modnet/nnet"
)

var runsBucket = []byte("runs")

// Run is one recorded training run.
type Run struct {
	ID      string       `json:"id"`
	Classes []string     `json:"classes"`
	Epochs  []nnet.Stats `json:"epochs"`
}

// Store wraps the bbolt database file.
type Store struct {
	db *bolt.DB
}

// Open creates or opens the history database.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "open history db %s", path)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(runsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "init history db")
	}
	return &Store{db: db}, nil
}

// Close releases the database file.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save stores or replaces one run.
func (s *Store) Save(run Run) error {
	if run.ID == "" {
		return errors.New("run id must be set")
	}
	data, err := json.Marshal(run)
	if err != nil {
		return errors.Wrap(err, "encode run")
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(runsBucket).Put([]byte(run.ID), data)
	})
}

// Get loads one run by id.
func (s *Store) Get(id string) (Run, error) {
	var run Run
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(runsBucket).Get([]byte(id))
		if data == nil {
			return errors.Errorf("run %q not found", id)
		}
		return json.Unmarshal(data, &run)
	})
	return run, err
}

// List returns the stored run ids in sorted order.
func (s *Store) List() ([]string, error) {
	var ids []string
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(runsBucket).ForEach(func(k, v []byte) error {
			ids = append(ids, string(k))
			return nil
		})
	})
	sort.Strings(ids)
	return ids, err
}
