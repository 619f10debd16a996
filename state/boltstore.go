package state

import (
	"github.com/didledger/didledger"
	bolt "go.etcd.io/bbolt"
	"golang.org/x/xerrors"
)

// BoltStore is a Store persisted in a bbolt database. Every Put and Delete
// runs in its own write transaction, which matches the core's discipline of
// reading and re-storing a full record per action.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (or creates) the database at path.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, xerrors.Errorf("opening db: %v", err)
	}
	return &BoltStore{db: db}, nil
}

// Close closes the underlying database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Get implements Store.
func (s *BoltStore) Get(bucket, key []byte) ([]byte, error) {
	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		if b == nil {
			return nil
		}
		if v := b.Get(key); v != nil {
			out = make([]byte, len(v))
			copy(out, v)
		}
		return nil
	})
	return out, didledger.ErrorOrNil(err, "reading record")
}

// Put implements Store.
func (s *BoltStore) Put(bucket, key, value []byte) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucket)
		if err != nil {
			return xerrors.Errorf("creating bucket: %v", err)
		}
		return b.Put(key, value)
	})
	return didledger.ErrorOrNil(err, "storing record")
}

// Delete implements Store.
func (s *BoltStore) Delete(bucket, key []byte) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		if b == nil {
			return nil
		}
		return b.Delete(key)
	})
	return didledger.ErrorOrNil(err, "deleting record")
}

// ForEach implements Store.
func (s *BoltStore) ForEach(bucket []byte, f func(key, value []byte) error) error {
	return s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		if b == nil {
			return nil
		}
		return b.ForEach(f)
	})
}
