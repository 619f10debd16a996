package statuslist

import (
	"bytes"
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

func (f *fixture) controller() did.Identity {
	return did.NewIdentityDid(f.id)
}

func (f *fixture) policy(t *testing.T) policy.Policy {
	pol, err := policy.NewAnyOf(f.controller())
	require.NoError(t, err)
	return pol
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
			{Signer: f.controller(), KeyID: 1, Sig: sig},
		},
	}
}

func credential(kind Kind, fill byte) Credential {
	return Credential{Kind: kind, Bytes: bytes.Repeat([]byte{fill}, MinCredentialSize)}
}

func TestCreate(t *testing.T) {
	f := newFixture(t)
	var id ID
	id[0] = 1

	cred := credential(StatusList2021, 'a')
	require.NoError(t, f.mod.Create(id, cred, f.policy(t)))
	require.ErrorIs(t, f.mod.Create(id, cred, f.policy(t)), ErrAlreadyExists)

	got, n, err := f.mod.Get(id)
	require.NoError(t, err)
	require.Equal(t, uint64(0), n)
	require.Equal(t, StatusList2021, got.Kind)
	require.Equal(t, cred.Bytes, got.Bytes)
}

func TestCreateSizeBounds(t *testing.T) {
	f := newFixture(t)
	var id ID

	small := Credential{Kind: RevocationList2020, Bytes: make([]byte, MinCredentialSize-1)}
	require.ErrorIs(t, f.mod.Create(id, small, f.policy(t)), ErrTooSmall)

	big := Credential{Kind: RevocationList2020, Bytes: make([]byte, MaxCredentialSize+1)}
	require.ErrorIs(t, f.mod.Create(id, big, f.policy(t)), ErrTooLarge)
}

func TestUpdate(t *testing.T) {
	f := newFixture(t)
	var id ID
	require.NoError(t, f.mod.Create(id, credential(StatusList2021, 'a'), f.policy(t)))

	next := credential(StatusList2021, 'b')
	env := f.sign(t, didledger.TagUpdateStatusList, id.Bytes(), 1, next)
	require.NoError(t, f.mod.Update(id, env, next))

	got, n, err := f.mod.Get(id)
	require.NoError(t, err)
	require.Equal(t, uint64(1), n)
	require.Equal(t, next.Bytes, got.Bytes)

	// replay
	require.ErrorIs(t, f.mod.Update(id, env, next), nonce.ErrIncorrectNonce)
}

func TestUpdateNotAuthorized(t *testing.T) {
	f := newFixture(t)
	outsider := did.NewKeypair()
	var id ID
	require.NoError(t, f.mod.Create(id, credential(StatusList2021, 'a'), f.policy(t)))

	next := credential(StatusList2021, 'b')
	digest, err := action.Digest(didledger.TagUpdateStatusList, id.Bytes(), 1, next)
	require.NoError(t, err)
	sig, err := outsider.Sign(digest)
	require.NoError(t, err)
	env := action.Envelope{
		Nonce: 1,
		Sigs:  []did.Signature{{Signer: outsider.MethodKey(), Sig: sig}},
	}
	err = f.mod.Update(id, env, next)
	require.ErrorIs(t, err, policy.ErrNotAuthorized)
}

func TestRemove(t *testing.T) {
	f := newFixture(t)
	var id ID
	require.NoError(t, f.mod.Create(id, credential(RevocationList2020, 'a'), f.policy(t)))

	env := f.sign(t, didledger.TagRemoveStatusList, id.Bytes(), 1, nil)
	require.NoError(t, f.mod.Remove(id, env))

	_, _, err := f.mod.Get(id)
	require.ErrorIs(t, err, action.ErrNotFound)
}
