package accumulator

import (
	"testing"

	"github.com/didledger/didledger"
	"github.com/didledger/didledger/action"
	"github.com/didledger/didledger/did"
	"github.com/didledger/didledger/nonce"
	"github.com/didledger/didledger/policy"
	"github.com/didledger/didledger/state"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	mod *Module
	kp  *did.Keypair
	id  did.Did
}

func newFixture(t *testing.T) *fixture {
	store := state.NewMemStore()
	reg := did.NewRegistry(store)
	kp := did.NewKeypair()
	id := kp.DidFrom()
	require.NoError(t, reg.Register(id,
		[]did.UncheckedDidKey{{Public: kp.Public}}, nil))
	return &fixture{
		mod: NewModule(store, action.NewVerifier(reg)),
		kp:  kp,
		id:  id,
	}
}

func (f *fixture) owner() did.Identity {
	return did.NewIdentityDid(f.id)
}

func (f *fixture) sign(t *testing.T, tag didledger.ActionTag, target []byte,
	n uint64, payload action.Payload) action.Envelope {

	digest, err := action.Digest(tag, target, n, payload)
	require.NoError(t, err)
	sig, err := f.kp.Sign(digest)
	require.NoError(t, err)
	return action.Envelope{
		Nonce: n,
		Sigs: []did.Signature{
			{Signer: f.owner(), KeyID: 1, Sig: sig},
		},
	}
}

// publishKey walks the owner through params + key publication and returns
// the key id.
func (f *fixture) publishKey(t *testing.T) uint32 {
	p := Params{Label: []byte("test-label"), Curve: "BLS12-381", Bytes: []byte("params")}
	env := f.sign(t, didledger.TagAddAccumulatorParams, ownerTarget(f.owner()), 1, p)
	paramsID, err := f.mod.AddParams(f.owner(), env, p)
	require.NoError(t, err)
	require.Equal(t, uint32(1), paramsID)

	k := PublicKey{Curve: "BLS12-381", Bytes: []byte("pubkey"), ParamsID: paramsID}
	env = f.sign(t, didledger.TagAddAccumulatorKey, ownerTarget(f.owner()), 2, k)
	keyID, err := f.mod.AddKey(f.owner(), env, k)
	require.NoError(t, err)
	require.Equal(t, uint32(1), keyID)
	return keyID
}

func TestOwnerWorkspace(t *testing.T) {
	f := newFixture(t)
	keyID := f.publishKey(t)

	k, err := f.mod.GetKey(f.owner(), keyID)
	require.NoError(t, err)
	require.Equal(t, []byte("pubkey"), k.Bytes)
	p, err := f.mod.GetParams(f.owner(), k.ParamsID)
	require.NoError(t, err)
	require.Equal(t, []byte("params"), p.Bytes)

	// a key referencing unpublished params is rejected
	bad := PublicKey{Curve: "BLS12-381", Bytes: []byte("pk2"), ParamsID: 42}
	env := f.sign(t, didledger.TagAddAccumulatorKey, ownerTarget(f.owner()), 3, bad)
	_, err = f.mod.AddKey(f.owner(), env, bad)
	require.ErrorIs(t, err, ErrNoSuchParams)

	// removal frees the entry but never reuses its id
	env = f.sign(t, didledger.TagRemoveAccumulatorKey, ownerTarget(f.owner()), 3, idPayload(keyID))
	require.NoError(t, f.mod.RemoveKey(f.owner(), env, keyID))
	_, err = f.mod.GetKey(f.owner(), keyID)
	require.ErrorIs(t, err, action.ErrNotFound)

	k2 := PublicKey{Curve: "BLS12-381", Bytes: []byte("pk2")}
	env = f.sign(t, didledger.TagAddAccumulatorKey, ownerTarget(f.owner()), 4, k2)
	id, err := f.mod.AddKey(f.owner(), env, k2)
	require.NoError(t, err)
	require.Equal(t, uint32(2), id)
}

func TestAddAccumulator(t *testing.T) {
	f := newFixture(t)
	keyID := f.publishKey(t)

	var accID ID
	accID[0] = 7
	acc := Accumulator{
		Type:        TypePositive,
		Accumulated: []byte("acc-v0"),
		Owner:       f.owner(),
		KeyID:       keyID,
	}
	env := f.sign(t, didledger.TagAddAccumulator, accID.Bytes(), 1, acc)
	require.NoError(t, f.mod.Add(accID, acc, env))

	got, n, err := f.mod.Get(accID)
	require.NoError(t, err)
	require.Equal(t, uint64(1), n)
	require.Equal(t, []byte("acc-v0"), got.Accumulated)
	require.Equal(t, uint64(1), got.Created)

	// taken id
	env = f.sign(t, didledger.TagAddAccumulator, accID.Bytes(), 1, acc)
	require.ErrorIs(t, f.mod.Add(accID, acc, env), ErrAlreadyExists)

	// unpublished key
	var otherID ID
	otherID[0] = 8
	acc.KeyID = 99
	env = f.sign(t, didledger.TagAddAccumulator, otherID.Bytes(), 1, acc)
	require.ErrorIs(t, f.mod.Add(otherID, acc, env), ErrNoSuchKey)
}

func TestUpdateAccumulator(t *testing.T) {
	f := newFixture(t)
	keyID := f.publishKey(t)

	var accID ID
	acc := Accumulator{
		Type:        TypeUniversal,
		Accumulated: []byte("acc-v0"),
		MaxSize:     1000,
		Owner:       f.owner(),
		KeyID:       keyID,
	}
	env := f.sign(t, didledger.TagAddAccumulator, accID.Bytes(), 1, acc)
	require.NoError(t, f.mod.Add(accID, acc, env))

	upd := Update{
		Accumulated: []byte("acc-v1"),
		Additions:   [][]byte{[]byte("m1"), []byte("m2")},
		Witness:     []byte("wit-1"),
	}
	env = f.sign(t, didledger.TagUpdateAccumulator, accID.Bytes(), 2, upd)
	require.NoError(t, f.mod.Update(accID, env, upd))

	got, n, err := f.mod.Get(accID)
	require.NoError(t, err)
	require.Equal(t, uint64(2), n)
	require.Equal(t, []byte("acc-v1"), got.Accumulated)
	require.Equal(t, uint64(1), got.Created)
	require.Equal(t, uint64(2), got.LastUpdated)

	// replay of the same update
	require.ErrorIs(t, f.mod.Update(accID, env, upd), nonce.ErrIncorrectNonce)

	history, err := f.mod.History(accID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, []byte("acc-v0"), history[0].Accumulated)
	require.Equal(t, []byte("acc-v1"), history[1].Accumulated)
	require.Equal(t, [][]byte{[]byte("m1"), []byte("m2")}, history[1].Additions)
}

func TestRemoveAccumulator(t *testing.T) {
	f := newFixture(t)
	keyID := f.publishKey(t)

	var accID ID
	acc := Accumulator{
		Type:        TypePositive,
		Accumulated: []byte("acc-v0"),
		Owner:       f.owner(),
		KeyID:       keyID,
	}
	env := f.sign(t, didledger.TagAddAccumulator, accID.Bytes(), 1, acc)
	require.NoError(t, f.mod.Add(accID, acc, env))

	env = f.sign(t, didledger.TagRemoveAccumulator, accID.Bytes(), 2, nil)
	require.NoError(t, f.mod.Remove(accID, env))

	_, _, err := f.mod.Get(accID)
	require.ErrorIs(t, err, action.ErrNotFound)
	history, err := f.mod.History(accID)
	require.NoError(t, err)
	require.Empty(t, history)
}

func TestAccumulatorNotOwner(t *testing.T) {
	f := newFixture(t)
	keyID := f.publishKey(t)
	outsider := did.NewKeypair()

	var accID ID
	acc := Accumulator{
		Type:        TypePositive,
		Accumulated: []byte("acc-v0"),
		Owner:       f.owner(),
		KeyID:       keyID,
	}
	env := f.sign(t, didledger.TagAddAccumulator, accID.Bytes(), 1, acc)
	require.NoError(t, f.mod.Add(accID, acc, env))

	upd := Update{Accumulated: []byte("evil")}
	digest, err := action.Digest(didledger.TagUpdateAccumulator, accID.Bytes(), 2, upd)
	require.NoError(t, err)
	sig, err := outsider.Sign(digest)
	require.NoError(t, err)
	env = action.Envelope{
		Nonce: 2,
		Sigs:  []did.Signature{{Signer: outsider.MethodKey(), Sig: sig}},
	}
	err = f.mod.Update(accID, env, upd)
	require.ErrorIs(t, err, policy.ErrNotAuthorized)
}
