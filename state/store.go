// Package state provides the key-value arena every core operation reads and
// writes its records through. The store is always passed in explicitly, never
// held as a hidden singleton, so a replica can run against the bbolt-backed
// implementation while tests use the in-memory one.
package state

// Store is the logical record storage of the ledger. Keys are grouped into
// buckets, one per module. A Get of an absent key returns nil, nil: absence
// is not an error, it is the regular "resource not found" signal the core
// turns into its own error.
type Store interface {
	// Get returns the value stored under key in bucket, or nil if absent.
	Get(bucket, key []byte) ([]byte, error)
	// Put stores value under key in bucket, overwriting any previous value.
	Put(bucket, key, value []byte) error
	// Delete removes key from bucket. Deleting an absent key is a no-op.
	Delete(bucket, key []byte) error
	// ForEach calls f for every key of bucket until f returns an error.
	ForEach(bucket []byte, f func(key, value []byte) error) error
}
