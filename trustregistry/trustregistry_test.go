package trustregistry

import (
	"testing"

	"github.com/didledger/didledger"
	"github.com/didledger/didledger/action"
	"github.com/didledger/didledger/batch"
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

func (f *fixture) convener() did.Identity {
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
			{Signer: f.convener(), KeyID: 1, Sig: sig},
		},
	}
}

func (f *fixture) initRegistry(t *testing.T, id ID) {
	payload := infoPayload{name: "ExampleTR", govFramework: []byte("https://example.org/gov")}
	env := f.sign(t, didledger.TagInitTrustRegistry, id.Bytes(), 1, payload)
	require.NoError(t, f.mod.InitOrUpdate(id, f.convener(),
		env, "ExampleTR", []byte("https://example.org/gov")))
}

func sid(b byte) SchemaID {
	var id SchemaID
	id[0] = b
	return id
}

func metadata(issuer, verifier did.Identity) SchemaMetadata {
	return SchemaMetadata{
		Issuers: map[string]Prices{
			issuer.String(): {"USD": 100},
		},
		Verifiers: map[string]struct{}{
			verifier.String(): {},
		},
	}
}

func TestInitOrUpdate(t *testing.T) {
	f := newFixture(t)
	var id ID
	id[0] = 1
	f.initRegistry(t, id)

	r, n, err := f.mod.Get(id)
	require.NoError(t, err)
	require.Equal(t, uint64(1), n)
	require.Equal(t, "ExampleTR", r.Name)
	require.True(t, r.Convener.Equal(f.convener()))

	// the convener may update the registry info
	payload := infoPayload{name: "RenamedTR", govFramework: []byte("v2")}
	env := f.sign(t, didledger.TagInitTrustRegistry, id.Bytes(), 2, payload)
	require.NoError(t, f.mod.InitOrUpdate(id, f.convener(), env, "RenamedTR", []byte("v2")))
	r, _, err = f.mod.Get(id)
	require.NoError(t, err)
	require.Equal(t, "RenamedTR", r.Name)

	// another convener cannot take over the id
	other := did.NewKeypair()
	payload = infoPayload{name: "Takeover", govFramework: nil}
	digest, err := action.Digest(didledger.TagInitTrustRegistry, id.Bytes(), 3, payload)
	require.NoError(t, err)
	sig, err := other.Sign(digest)
	require.NoError(t, err)
	env = action.Envelope{
		Nonce: 3,
		Sigs:  []did.Signature{{Signer: other.MethodKey(), Sig: sig}},
	}
	err = f.mod.InitOrUpdate(id, other.MethodKey(), env, "Takeover", nil)
	require.ErrorIs(t, err, ErrNotConvener)
}

func TestInitValidation(t *testing.T) {
	f := newFixture(t)
	var id ID

	err := f.mod.InitOrUpdate(id, f.convener(), action.Envelope{}, "", nil)
	require.Error(t, err)

	long := make([]byte, MaxGovFrameworkSize+1)
	err = f.mod.InitOrUpdate(id, f.convener(), action.Envelope{}, "TR", long)
	require.ErrorIs(t, err, ErrTooLarge)
}

func TestSetSchemaMetadata(t *testing.T) {
	f := newFixture(t)
	issuer := did.NewKeypair().MethodKey()
	verifier := did.NewKeypair().MethodKey()
	var id ID
	f.initRegistry(t, id)

	md := metadata(issuer, verifier)
	updates := SchemaUpdates{
		{Key: sid(1), Update: batch.AddOrRemoveOrModify[SchemaMetadata]{Add: batch.Of(md)}},
	}
	env := f.sign(t, didledger.TagSetSchemaMetadata, id.Bytes(), 2, schemasPayload{updates: updates})
	require.NoError(t, f.mod.SetSchemaMetadata(id, env, updates))

	got, err := f.mod.GetSchema(id, sid(1))
	require.NoError(t, err)
	require.Equal(t, Prices{"USD": 100}, got.Issuers[issuer.String()])
	require.Contains(t, got.Verifiers, verifier.String())

	// replacing and removing in one atomic batch
	md2 := metadata(issuer, verifier)
	md2.Issuers[issuer.String()] = Prices{"EUR": 90}
	updates = SchemaUpdates{
		{Key: sid(1), Update: batch.SetOrAddOrRemoveOrModify[SchemaMetadata]{Set: batch.Of(md2)}},
		{Key: sid(2), Update: batch.AddOrRemoveOrModify[SchemaMetadata]{Add: batch.Of(metadata(issuer, verifier))}},
	}
	env = f.sign(t, didledger.TagSetSchemaMetadata, id.Bytes(), 3, schemasPayload{updates: updates})
	require.NoError(t, f.mod.SetSchemaMetadata(id, env, updates))

	got, err = f.mod.GetSchema(id, sid(1))
	require.NoError(t, err)
	require.Equal(t, Prices{"EUR": 90}, got.Issuers[issuer.String()])
	r, _, err := f.mod.Get(id)
	require.NoError(t, err)
	require.Len(t, r.Schemas, 2)
}

func TestSetSchemaMetadataAtomicity(t *testing.T) {
	f := newFixture(t)
	issuer := did.NewKeypair().MethodKey()
	verifier := did.NewKeypair().MethodKey()
	var id ID
	f.initRegistry(t, id)

	md := metadata(issuer, verifier)
	updates := SchemaUpdates{
		{Key: sid(1), Update: batch.AddOrRemoveOrModify[SchemaMetadata]{Add: batch.Of(md)}},
	}
	env := f.sign(t, didledger.TagSetSchemaMetadata, id.Bytes(), 2, schemasPayload{updates: updates})
	require.NoError(t, f.mod.SetSchemaMetadata(id, env, updates))

	// one valid removal plus one conflicting add: nothing is applied
	updates = SchemaUpdates{
		{Key: sid(2), Update: batch.AddOrRemoveOrModify[SchemaMetadata]{Add: batch.Of(md)}},
		{Key: sid(1), Update: batch.AddOrRemoveOrModify[SchemaMetadata]{Add: batch.Of(md)}},
	}
	env = f.sign(t, didledger.TagSetSchemaMetadata, id.Bytes(), 3, schemasPayload{updates: updates})
	err := f.mod.SetSchemaMetadata(id, env, updates)
	require.ErrorIs(t, err, batch.ErrAlreadyExists)

	_, err = f.mod.GetSchema(id, sid(2))
	require.ErrorIs(t, err, action.ErrNotFound)
	r, n, err := f.mod.Get(id)
	require.NoError(t, err)
	require.Equal(t, uint64(2), n)
	require.Len(t, r.Schemas, 1)
}

func TestSetSchemaMetadataInvalidParticipant(t *testing.T) {
	f := newFixture(t)
	var id ID
	f.initRegistry(t, id)

	md := SchemaMetadata{
		Issuers:   map[string]Prices{"not-an-identity": {"USD": 1}},
		Verifiers: map[string]struct{}{},
	}
	updates := SchemaUpdates{
		{Key: sid(1), Update: batch.AddOrRemoveOrModify[SchemaMetadata]{Add: batch.Of(md)}},
	}
	env := f.sign(t, didledger.TagSetSchemaMetadata, id.Bytes(), 2, schemasPayload{updates: updates})
	require.Error(t, f.mod.SetSchemaMetadata(id, env, updates))

	// the failed action did not consume the nonce
	_, n, err := f.mod.Get(id)
	require.NoError(t, err)
	require.Equal(t, uint64(1), n)
}

func TestSchemaMetadataReplay(t *testing.T) {
	f := newFixture(t)
	issuer := did.NewKeypair().MethodKey()
	verifier := did.NewKeypair().MethodKey()
	var id ID
	f.initRegistry(t, id)

	updates := SchemaUpdates{
		{Key: sid(1), Update: batch.AddOrRemoveOrModify[SchemaMetadata]{
			Add: batch.Of(metadata(issuer, verifier)),
		}},
	}
	env := f.sign(t, didledger.TagSetSchemaMetadata, id.Bytes(), 2, schemasPayload{updates: updates})
	require.NoError(t, f.mod.SetSchemaMetadata(id, env, updates))
	err := f.mod.SetSchemaMetadata(id, env, updates)
	require.ErrorIs(t, err, nonce.ErrIncorrectNonce)
}

func TestSetSchemaMetadataNotConvener(t *testing.T) {
	f := newFixture(t)
	outsider := did.NewKeypair()
	var id ID
	f.initRegistry(t, id)

	md := metadata(outsider.MethodKey(), outsider.MethodKey())
	updates := SchemaUpdates{
		{Key: sid(1), Update: batch.AddOrRemoveOrModify[SchemaMetadata]{Add: batch.Of(md)}},
	}
	digest, err := action.Digest(didledger.TagSetSchemaMetadata, id.Bytes(), 2,
		schemasPayload{updates: updates})
	require.NoError(t, err)
	sig, err := outsider.Sign(digest)
	require.NoError(t, err)
	env := action.Envelope{
		Nonce: 2,
		Sigs:  []did.Signature{{Signer: outsider.MethodKey(), Sig: sig}},
	}
	err = f.mod.SetSchemaMetadata(id, env, updates)
	require.ErrorIs(t, err, policy.ErrNotAuthorized)
}
