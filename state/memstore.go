package state

import (
	"sort"
	"sync"
)

// MemStore is a map-backed Store for tests and pure in-memory replicas.
type MemStore struct {
	sync.Mutex
	buckets map[string]map[string][]byte
}

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		buckets: make(map[string]map[string][]byte),
	}
}

// Get implements Store.
func (s *MemStore) Get(bucket, key []byte) ([]byte, error) {
	s.Lock()
	defer s.Unlock()

	b, ok := s.buckets[string(bucket)]
	if !ok {
		return nil, nil
	}
	v, ok := b[string(key)]
	if !ok {
		return nil, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

// Put implements Store.
func (s *MemStore) Put(bucket, key, value []byte) error {
	s.Lock()
	defer s.Unlock()

	b, ok := s.buckets[string(bucket)]
	if !ok {
		b = make(map[string][]byte)
		s.buckets[string(bucket)] = b
	}
	stored := make([]byte, len(value))
	copy(stored, value)
	b[string(key)] = stored
	return nil
}

// Delete implements Store.
func (s *MemStore) Delete(bucket, key []byte) error {
	s.Lock()
	defer s.Unlock()

	if b, ok := s.buckets[string(bucket)]; ok {
		delete(b, string(key))
	}
	return nil
}

// ForEach implements Store. Keys are visited in lexicographic order, the same
// order the bbolt store yields them in.
func (s *MemStore) ForEach(bucket []byte, f func(key, value []byte) error) error {
	s.Lock()
	b := s.buckets[string(bucket)]
	keys := make([]string, 0, len(b))
	for k := range b {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	entries := make([][2][]byte, len(keys))
	for i, k := range keys {
		entries[i] = [2][]byte{[]byte(k), b[k]}
	}
	s.Unlock()

	for _, e := range entries {
		if err := f(e[0], e[1]); err != nil {
			return err
		}
	}
	return nil
}
