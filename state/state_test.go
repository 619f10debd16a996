package state

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T, s Store) {
	bucket := []byte("things")

	// absent key is nil, nil
	v, err := s.Get(bucket, []byte("a"))
	require.NoError(t, err)
	require.Nil(t, v)

	require.NoError(t, s.Put(bucket, []byte("b"), []byte("2")))
	require.NoError(t, s.Put(bucket, []byte("a"), []byte("1")))
	require.NoError(t, s.Put(bucket, []byte("a"), []byte("11")))

	v, err = s.Get(bucket, []byte("a"))
	require.NoError(t, err)
	require.Equal(t, []byte("11"), v)

	var keys []string
	err = s.ForEach(bucket, func(k, v []byte) error {
		keys = append(keys, string(k))
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, keys)

	require.NoError(t, s.Delete(bucket, []byte("a")))
	require.NoError(t, s.Delete(bucket, []byte("missing")))
	v, err = s.Get(bucket, []byte("a"))
	require.NoError(t, err)
	require.Nil(t, v)
}

func TestMemStore(t *testing.T) {
	testStore(t, NewMemStore())
}

func TestBoltStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	s, err := NewBoltStore(path)
	require.NoError(t, err)
	defer s.Close()

	testStore(t, s)
}

func TestMemStoreCopies(t *testing.T) {
	s := NewMemStore()
	val := []byte("mutable")
	require.NoError(t, s.Put([]byte("b"), []byte("k"), val))
	val[0] = 'X'

	got, err := s.Get([]byte("b"), []byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("mutable"), got)

	got[0] = 'Y'
	again, err := s.Get([]byte("b"), []byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("mutable"), again)
}
