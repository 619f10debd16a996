package did

import (
	"encoding/binary"
	"io"

	"go.dedis.ch/kyber/v3"
	"golang.org/x/xerrors"
)

// VerRel tags a DID key with the verification relationships it may exercise.
type VerRel uint32

const (
	// Authentication lets the key authenticate as the DID.
	Authentication VerRel = 1 << iota
	// Assertion lets the key issue credentials on behalf of the DID.
	Assertion
	// CapabilityInvocation lets the key mutate the DID's record and the
	// resources the DID controls.
	CapabilityInvocation
	// KeyAgreement marks an encryption key; such a key never signs.
	KeyAgreement
)

// AllSigning is the set of relationships a key receives when registered with
// none given explicitly.
const AllSigning = Authentication | Assertion | CapabilityInvocation

// ErrIncompatibleVerRels is returned when a key mixes KeyAgreement with
// signing relationships.
var ErrIncompatibleVerRels = xerrors.New("key agreement cannot be combined with signing relationships")

// KeyID is the incremental identifier of a key within one DID record. The
// first registered key gets id 1.
type KeyID uint32

// EncodeTo writes the deterministic byte form of the id.
func (id KeyID) EncodeTo(w io.Writer) error {
	return binary.Write(w, binary.BigEndian, uint32(id))
}

// DidKey is a public key bound to a DID together with its verification
// relationships.
type DidKey struct {
	Public  kyber.Point
	VerRels VerRel
}

// NewDidKey validates the relationship set and binds it to the key. An empty
// set is promoted to AllSigning.
func NewDidKey(public kyber.Point, rels VerRel) (DidKey, error) {
	if rels == 0 {
		rels = AllSigning
	}
	if rels&KeyAgreement != 0 && rels != KeyAgreement {
		return DidKey{}, ErrIncompatibleVerRels
	}
	return DidKey{Public: public, VerRels: rels}, nil
}

// CanSign returns whether the key may produce signatures at all.
func (k DidKey) CanSign() bool {
	return k.VerRels != KeyAgreement
}

// CanControl returns whether the key may invoke capabilities, i.e. mutate the
// DID's record and its controlled resources.
func (k DidKey) CanControl() bool {
	return k.VerRels&CapabilityInvocation != 0
}

// CanAuthenticate returns whether the key may authenticate as the DID.
func (k DidKey) CanAuthenticate() bool {
	return k.VerRels&Authentication != 0
}

// EncodeTo writes the deterministic byte form of the key.
func (k DidKey) EncodeTo(w io.Writer) error {
	buf, err := k.Public.MarshalBinary()
	if err != nil {
		return err
	}
	if _, err := w.Write(buf); err != nil {
		return err
	}
	return binary.Write(w, binary.BigEndian, uint32(k.VerRels))
}

// UncheckedDidKey is a key as submitted by a caller, before relationship
// validation.
type UncheckedDidKey struct {
	Public  kyber.Point
	VerRels VerRel
}
