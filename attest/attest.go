// Package attest lets a DID publicly attest to arbitrary claimgraphs. The
// claims themselves live off-chain; the chain only anchors an IRI pointing
// at them, together with a priority that orders consecutive attestations by
// the same DID. A claim can only ever be replaced by one of strictly higher
// priority, so a fresh record starts at priority zero and the first real
// claim needs priority one or more.
package attest

import (
	"io"

	"github.com/didledger/didledger"
	"github.com/didledger/didledger/action"
	"github.com/didledger/didledger/batch"
	"github.com/didledger/didledger/did"
	"github.com/didledger/didledger/nonce"
	"github.com/didledger/didledger/policy"
	"github.com/didledger/didledger/state"
	"go.dedis.ch/protobuf"
	"golang.org/x/xerrors"
)

var bucketAttestations = []byte("attestations")

// MaxIriSize bounds the stored IRI.
const MaxIriSize = 1024

var (
	// ErrPriorityTooLow - the claim does not outrank the stored one.
	ErrPriorityTooLow = xerrors.New("claim priority must exceed the stored priority")
	// ErrTooLarge - the IRI exceeds its storage bound.
	ErrTooLarge = xerrors.New("iri exceeds its size bound")
)

// Attestation is one anchored claim. A nil Iri attests to the empty
// claimgraph, which is what every DID implicitly starts with.
type Attestation struct {
	Priority uint64
	Iri      []byte
}

func (a Attestation) Validate() error {
	if len(a.Iri) > MaxIriSize {
		return xerrors.Errorf("iri: %w", ErrTooLarge)
	}
	return nil
}

// EncodeTo writes the deterministic byte form of the claim.
func (a Attestation) EncodeTo(w io.Writer) error {
	if err := batch.EncodeValue(w, a.Priority); err != nil {
		return err
	}
	return batch.EncodeValue(w, a.Iri)
}

// Module exposes the attestation operations over a store.
type Module struct {
	store state.Store
	v     *action.Verifier
}

// NewModule binds the attestation bucket of store to a verifier.
func NewModule(store state.Store, v *action.Verifier) *Module {
	return &Module{store: store, v: v}
}

// SetClaim replaces the attester's claim. Only the attester itself may sign,
// and the new claim's priority must strictly exceed the stored one.
func (m *Module) SetClaim(attester did.Did, env action.Envelope, att Attestation) error {
	if err := att.Validate(); err != nil {
		return err
	}
	rec, err := m.load(attester)
	if err != nil {
		return err
	}
	err = action.AuthorizeAndMutate(m.v, rec, didledger.TagSetAttestationClaim,
		attester.Bytes(), env, att, func(cur Attestation) (Attestation, error) {
			if att.Priority <= cur.Priority {
				return cur, xerrors.Errorf("priority %d: %w", att.Priority, ErrPriorityTooLow)
			}
			return att, nil
		})
	if err != nil {
		return err
	}
	return m.save(attester, rec)
}

// Get returns the attester's current claim. A DID that never attested holds
// the zero claim at priority zero.
func (m *Module) Get(attester did.Did) (*Attestation, error) {
	rec, err := m.load(attester)
	if err != nil {
		return nil, err
	}
	att := rec.State.Data
	return &att, nil
}

type storedAttestation struct {
	Nonce    uint64
	Priority uint64
	Iri      []byte
}

// load returns the attester's record, the implicit empty claim when it never
// attested. The rule is fixed: the attester alone.
func (m *Module) load(attester did.Did) (*action.Record[Attestation], error) {
	pol, err := policy.NewAnyOf(did.NewIdentityDid(attester))
	if err != nil {
		return nil, err
	}
	buf, err := m.store.Get(bucketAttestations, attester.Bytes())
	if err != nil {
		return nil, err
	}
	if buf == nil {
		return &action.Record[Attestation]{
			Policy: pol,
			State:  nonce.New(Attestation{}),
		}, nil
	}
	var st storedAttestation
	if err := protobuf.Decode(buf, &st); err != nil {
		return nil, xerrors.Errorf("decoding attestation: %v", err)
	}
	return &action.Record[Attestation]{
		Policy: pol,
		State: nonce.WithNonce[Attestation]{
			Nonce: st.Nonce,
			Data:  Attestation{Priority: st.Priority, Iri: st.Iri},
		},
	}, nil
}

func (m *Module) save(attester did.Did, rec *action.Record[Attestation]) error {
	st := storedAttestation{
		Nonce:    rec.State.Nonce,
		Priority: rec.State.Data.Priority,
		Iri:      rec.State.Data.Iri,
	}
	buf, err := protobuf.Encode(&st)
	if err != nil {
		return err
	}
	return m.store.Put(bucketAttestations, attester.Bytes(), buf)
}
