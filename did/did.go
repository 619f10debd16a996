// Package did implements the identity store: per-DID records of keys,
// controllers and service endpoints, mutated only through signed,
// nonce-checked actions naming the DID as target.
//
// Two flavours of identity can authorize actions. A Did is a 32-byte
// identifier with an on-chain record holding its keys and controllers. A
// MethodKey is an identity whose whole content is a public key: it has no
// record, the key itself is resolved wherever a signature must be checked.
package did

import (
	"bytes"
	"io"
	"strings"

	"github.com/didledger/didledger"
	"github.com/mr-tron/base58"
	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/kyber/v3/sign/schnorr"
	"go.dedis.ch/kyber/v3/util/key"
	"golang.org/x/xerrors"
)

// Prefixes of the string form of the two identity flavours.
const (
	didPrefix       = "did:ldgr:"
	methodKeyPrefix = "dmk:"
)

// Did is the 32-byte identifier of an on-chain identity record.
type Did [32]byte

// String renders the DID in its text form.
func (d Did) String() string {
	return didPrefix + base58.Encode(d[:])
}

// Bytes returns the raw identifier.
func (d Did) Bytes() []byte {
	return d[:]
}

// EncodeTo writes the deterministic byte form of the DID.
func (d Did) EncodeTo(w io.Writer) error {
	_, err := w.Write(d[:])
	return err
}

// MethodKey is an identity that consists solely of a public key.
type MethodKey struct {
	Point kyber.Point
}

// NewMethodKey wraps a public key into a method-key identity.
func NewMethodKey(point kyber.Point) MethodKey {
	return MethodKey{Point: point}
}

// String renders the method key in its text form.
func (mk MethodKey) String() string {
	buf, err := mk.Point.MarshalBinary()
	if err != nil {
		return methodKeyPrefix + "invalid"
	}
	return methodKeyPrefix + base58.Encode(buf)
}

// Verify checks a schnorr signature over msg against the embedded key.
func (mk MethodKey) Verify(msg, sig []byte) error {
	return schnorr.Verify(didledger.Suite, mk.Point, msg, sig)
}

// Identity is the sum of the two identity flavours; exactly one field is
// non-nil. It is used wherever either flavour may authorize an action.
type Identity struct {
	Did       *Did
	MethodKey *MethodKey
}

// NewIdentityDid wraps a DID into an identity handle.
func NewIdentityDid(d Did) Identity {
	return Identity{Did: &d}
}

// NewIdentityMethodKey wraps a public key into an identity handle.
func NewIdentityMethodKey(point kyber.Point) Identity {
	mk := NewMethodKey(point)
	return Identity{MethodKey: &mk}
}

// String returns the text form of whichever flavour is set. It is the stable
// representation used for set membership in policies and controller sets.
func (id Identity) String() string {
	switch {
	case id.Did != nil:
		return id.Did.String()
	case id.MethodKey != nil:
		return id.MethodKey.String()
	default:
		return "no identity"
	}
}

// Equal returns true if both handles denote the same identity.
func (id Identity) Equal(other Identity) bool {
	return id.String() == other.String()
}

// IsDid returns whether the handle refers to an on-chain record.
func (id Identity) IsDid() bool {
	return id.Did != nil
}

// EncodeTo writes the deterministic byte form of the handle: a flavour tag
// followed by the raw identifier or key.
func (id Identity) EncodeTo(w io.Writer) error {
	switch {
	case id.Did != nil:
		if _, err := w.Write([]byte{1}); err != nil {
			return err
		}
		return id.Did.EncodeTo(w)
	case id.MethodKey != nil:
		if _, err := w.Write([]byte{2}); err != nil {
			return err
		}
		buf, err := id.MethodKey.Point.MarshalBinary()
		if err != nil {
			return err
		}
		_, err = w.Write(buf)
		return err
	default:
		return xerrors.New("empty identity")
	}
}

// ParseIdentity parses the text form produced by String.
func ParseIdentity(s string) (Identity, error) {
	switch {
	case strings.HasPrefix(s, didPrefix):
		raw, err := base58.Decode(strings.TrimPrefix(s, didPrefix))
		if err != nil {
			return Identity{}, xerrors.Errorf("decoding did: %v", err)
		}
		if len(raw) != len(Did{}) {
			return Identity{}, xerrors.Errorf("did must be %d bytes", len(Did{}))
		}
		var d Did
		copy(d[:], raw)
		return NewIdentityDid(d), nil
	case strings.HasPrefix(s, methodKeyPrefix):
		raw, err := base58.Decode(strings.TrimPrefix(s, methodKeyPrefix))
		if err != nil {
			return Identity{}, xerrors.Errorf("decoding method key: %v", err)
		}
		point := didledger.Suite.Point()
		if err := point.UnmarshalBinary(raw); err != nil {
			return Identity{}, xerrors.Errorf("unmarshalling point: %v", err)
		}
		return NewIdentityMethodKey(point), nil
	default:
		return Identity{}, xerrors.Errorf("unknown identity form: %s", s)
	}
}

// marshalIdentity is the storage form of a handle.
func marshalIdentity(id Identity) ([]byte, error) {
	var buf bytes.Buffer
	if err := id.EncodeTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func unmarshalIdentity(buf []byte) (Identity, error) {
	if len(buf) < 2 {
		return Identity{}, xerrors.New("identity too short")
	}
	switch buf[0] {
	case 1:
		if len(buf)-1 != len(Did{}) {
			return Identity{}, xerrors.New("bad did length")
		}
		var d Did
		copy(d[:], buf[1:])
		return NewIdentityDid(d), nil
	case 2:
		point := didledger.Suite.Point()
		if err := point.UnmarshalBinary(buf[1:]); err != nil {
			return Identity{}, xerrors.Errorf("unmarshalling point: %v", err)
		}
		return NewIdentityMethodKey(point), nil
	default:
		return Identity{}, xerrors.New("unknown identity flavour")
	}
}

// Keypair is a schnorr keypair used by clients, tests and the CLI to sign
// canonical action bytes.
type Keypair struct {
	Public  kyber.Point
	Private kyber.Scalar
}

// NewKeypair generates a fresh keypair over the ledger suite.
func NewKeypair() *Keypair {
	kp := key.NewKeyPair(didledger.Suite)
	return &Keypair{Public: kp.Public, Private: kp.Private}
}

// Sign creates a schnorr signature on msg.
func (kp *Keypair) Sign(msg []byte) ([]byte, error) {
	return schnorr.Sign(didledger.Suite, kp.Private, msg)
}

// MethodKey returns the keypair's public key as a method-key identity.
func (kp *Keypair) MethodKey() Identity {
	return NewIdentityMethodKey(kp.Public)
}

// DidFrom derives a deterministic DID from the public key. Registration is
// still explicit: deriving an id does not create a record.
func (kp *Keypair) DidFrom() Did {
	buf, err := kp.Public.MarshalBinary()
	if err != nil {
		return Did{}
	}
	var d Did
	copy(d[:], buf)
	return d
}
