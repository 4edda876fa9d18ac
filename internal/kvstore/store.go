// Package kvstore is the thin adapter over the embedded ordered
// key-value store that backs every persisted entity in the filesystem. It
// assumes, and never tries to add beyond, single-key atomic get/put/delete
// semantics.
package kvstore

import (
	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
)

// Store wraps a single goleveldb database handle.
type Store struct {
	db *leveldb.DB
}

// Open creates the store at path if it does not already exist, matching
// the "create if missing" behavior required by the design's connect step.
func Open(path string) (*Store, error) {
	db, err := leveldb.OpenFile(path, &opt.Options{
		ErrorIfMissing: false,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "kvstore: open %q", path)
	}
	return &Store{db: db}, nil
}

// Get returns the value for key, and ok=false if it is absent.
func (s *Store) Get(key string) (value []byte, ok bool, err error) {
	v, err := s.db.Get([]byte(key), nil)
	if err == leveldb.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrapf(err, "kvstore: get %q", key)
	}
	return v, true, nil
}

// Put writes value for key, overwriting any existing value. The write is
// the atomic unit the rest of the system relies on.
func (s *Store) Put(key string, value []byte) error {
	if err := s.db.Put([]byte(key), value, nil); err != nil {
		return errors.Wrapf(err, "kvstore: put %q", key)
	}
	return nil
}

// Delete removes key. Deleting an absent key is not an error.
func (s *Store) Delete(key string) error {
	if err := s.db.Delete([]byte(key), nil); err != nil {
		return errors.Wrapf(err, "kvstore: delete %q", key)
	}
	return nil
}

// Close flushes and closes the underlying database handle.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return errors.Wrap(err, "kvstore: close")
	}
	return nil
}
