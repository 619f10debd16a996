package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/BurntSushi/toml"
	"github.com/didledger/didledger"
	"github.com/didledger/didledger/did"
	"github.com/stretchr/testify/require"
	"go.dedis.ch/kyber/v3/util/encoding"
)

func TestIdentityFileRoundtrip(t *testing.T) {
	kp := did.NewKeypair()
	pub, err := encoding.PointToStringHex(didledger.Suite, kp.Public)
	require.NoError(t, err)
	priv, err := encoding.ScalarToStringHex(didledger.Suite, kp.Private)
	require.NoError(t, err)

	fn := filepath.Join(t.TempDir(), "identity.toml")
	var buf bytes.Buffer
	require.NoError(t, toml.NewEncoder(&buf).Encode(identityFile{
		Suite:   didledger.Suite.String(),
		Public:  pub,
		Private: priv,
	}))
	require.NoError(t, os.WriteFile(fn, buf.Bytes(), 0600))

	loaded, err := loadIdentity(fn)
	require.NoError(t, err)
	require.True(t, loaded.Public.Equal(kp.Public))
	require.Equal(t, kp.DidFrom(), loaded.DidFrom())

	msg := []byte("sign me")
	sig, err := loaded.Sign(msg)
	require.NoError(t, err)
	require.NoError(t, did.NewMethodKey(kp.Public).Verify(msg, sig))
}

func TestLoadIdentityRejectsForeignSuite(t *testing.T) {
	fn := filepath.Join(t.TempDir(), "identity.toml")
	var buf bytes.Buffer
	require.NoError(t, toml.NewEncoder(&buf).Encode(identityFile{
		Suite: "bn256.G2",
	}))
	require.NoError(t, os.WriteFile(fn, buf.Bytes(), 0600))

	_, err := loadIdentity(fn)
	require.Error(t, err)
}
