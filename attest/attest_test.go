package attest

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

func (f *fixture) sign(t *testing.T, n uint64, att Attestation) action.Envelope {
	digest, err := action.Digest(didledger.TagSetAttestationClaim,
		f.id.Bytes(), n, att)
	require.NoError(t, err)
	sig, err := f.kp.Sign(digest)
	require.NoError(t, err)
	return action.Envelope{
		Nonce: n,
		Sigs: []did.Signature{
			{Signer: did.NewIdentityDid(f.id), KeyID: 1, Sig: sig},
		},
	}
}

func TestSetClaim(t *testing.T) {
	f := newFixture(t)

	// a DID that never attested holds the empty claim at priority zero
	got, err := f.mod.Get(f.id)
	require.NoError(t, err)
	require.Equal(t, uint64(0), got.Priority)
	require.Nil(t, got.Iri)

	att := Attestation{Priority: 1, Iri: []byte("ipfs://QmClaims")}
	require.NoError(t, f.mod.SetClaim(f.id, f.sign(t, 1, att), att))

	got, err = f.mod.Get(f.id)
	require.NoError(t, err)
	require.Equal(t, uint64(1), got.Priority)
	require.Equal(t, []byte("ipfs://QmClaims"), got.Iri)
}

func TestSetClaimPriorityOrdering(t *testing.T) {
	f := newFixture(t)

	att := Attestation{Priority: 5, Iri: []byte("ipfs://first")}
	require.NoError(t, f.mod.SetClaim(f.id, f.sign(t, 1, att), att))

	// equal priority does not outrank the stored claim, and the failed
	// action does not burn the nonce
	same := Attestation{Priority: 5, Iri: []byte("ipfs://second")}
	err := f.mod.SetClaim(f.id, f.sign(t, 2, same), same)
	require.ErrorIs(t, err, ErrPriorityTooLow)

	lower := Attestation{Priority: 3, Iri: []byte("ipfs://second")}
	err = f.mod.SetClaim(f.id, f.sign(t, 2, lower), lower)
	require.ErrorIs(t, err, ErrPriorityTooLow)

	higher := Attestation{Priority: 6, Iri: []byte("ipfs://second")}
	require.NoError(t, f.mod.SetClaim(f.id, f.sign(t, 2, higher), higher))

	got, err := f.mod.Get(f.id)
	require.NoError(t, err)
	require.Equal(t, uint64(6), got.Priority)
	require.Equal(t, []byte("ipfs://second"), got.Iri)
}

func TestSetClaimReplay(t *testing.T) {
	f := newFixture(t)

	att := Attestation{Priority: 1, Iri: []byte("ipfs://claim")}
	env := f.sign(t, 1, att)
	require.NoError(t, f.mod.SetClaim(f.id, env, att))

	err := f.mod.SetClaim(f.id, env, att)
	require.ErrorIs(t, err, nonce.ErrIncorrectNonce)
}

func TestSetClaimValidation(t *testing.T) {
	f := newFixture(t)

	att := Attestation{Priority: 1, Iri: make([]byte, MaxIriSize+1)}
	err := f.mod.SetClaim(f.id, f.sign(t, 1, att), att)
	require.ErrorIs(t, err, ErrTooLarge)
}

func TestSetClaimNotAttester(t *testing.T) {
	f := newFixture(t)

	// a correctly signing outsider is not the attester
	other := did.NewKeypair()
	att := Attestation{Priority: 1, Iri: []byte("ipfs://forged")}
	digest, err := action.Digest(didledger.TagSetAttestationClaim,
		f.id.Bytes(), 1, att)
	require.NoError(t, err)
	sig, err := other.Sign(digest)
	require.NoError(t, err)
	env := action.Envelope{
		Nonce: 1,
		Sigs:  []did.Signature{{Signer: other.MethodKey(), Sig: sig}},
	}
	err = f.mod.SetClaim(f.id, env, att)
	require.ErrorIs(t, err, policy.ErrNotAuthorized)
}
