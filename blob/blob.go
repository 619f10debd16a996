// Package blob is generic immutable single-owner storage: a blob is opaque
// bounded bytes anchored under a caller-chosen 32-byte id. Creation is the
// only operation; once stored, a blob can never be changed or removed, and
// its id can never be taken again.
package blob

import (
	"encoding/hex"
	"io"

	"github.com/didledger/didledger"
	"github.com/didledger/didledger/action"
	"github.com/didledger/didledger/batch"
	"github.com/didledger/didledger/did"
	"github.com/didledger/didledger/policy"
	"github.com/didledger/didledger/state"
	"go.dedis.ch/onet/v3/log"
	"go.dedis.ch/protobuf"
	"golang.org/x/xerrors"
)

var bucketBlobs = []byte("blobs")

// MaxBlobSize bounds the stored bytes.
const MaxBlobSize = 8192

var (
	// ErrAlreadyExists - the id is taken.
	ErrAlreadyExists = xerrors.New("blob already exists")
	// ErrTooLarge - the bytes exceed their storage bound.
	ErrTooLarge = xerrors.New("blob exceeds its size bound")
)

// ID is the unique name of a blob.
type ID [32]byte

// Bytes returns the raw id.
func (id ID) Bytes() []byte {
	return id[:]
}

func (id ID) String() string {
	return hex.EncodeToString(id[:])
}

// Blob is one stored entry: the owner that anchored it and its bytes.
type Blob struct {
	Owner did.Identity
	Bytes []byte
}

func (b Blob) Validate() error {
	if len(b.Bytes) > MaxBlobSize {
		return xerrors.Errorf("blob: %w", ErrTooLarge)
	}
	return nil
}

// EncodeTo writes the deterministic byte form of the blob.
func (b Blob) EncodeTo(w io.Writer) error {
	if err := batch.EncodeValue(w, b.Owner.String()); err != nil {
		return err
	}
	return batch.EncodeValue(w, b.Bytes)
}

// Module exposes the blob operations over a store.
type Module struct {
	store state.Store
	v     *action.Verifier
}

// NewModule binds the blob bucket of store to a verifier.
func NewModule(store state.Store, v *action.Verifier) *Module {
	return &Module{store: store, v: v}
}

// New stores a blob under a free id. The creation is itself a signed action
// satisfying the owner; since the fresh record sits at nonce zero, the
// envelope must claim nonce one.
func (m *Module) New(id ID, b Blob, env action.Envelope) error {
	if err := b.Validate(); err != nil {
		return err
	}
	buf, err := m.store.Get(bucketBlobs, id.Bytes())
	if err != nil {
		return err
	}
	if buf != nil {
		return xerrors.Errorf("blob %v: %w", id, ErrAlreadyExists)
	}

	pol, err := policy.NewAnyOf(b.Owner)
	if err != nil {
		return err
	}
	rec := action.NewRecord(pol, b, 0)
	err = action.AuthorizeAndMutate(m.v, &rec, didledger.TagAddBlob,
		id.Bytes(), env, b, func(cur Blob) (Blob, error) {
			return cur, nil
		})
	if err != nil {
		return err
	}

	st := storedBlob{
		Owner: rec.State.Data.Owner.String(),
		Bytes: rec.State.Data.Bytes,
	}
	out, err := protobuf.Encode(&st)
	if err != nil {
		return err
	}
	if err := m.store.Put(bucketBlobs, id.Bytes(), out); err != nil {
		return err
	}
	log.Lvlf2("stored blob %v, %d bytes", id, len(b.Bytes))
	return nil
}

// Get returns a stored blob.
func (m *Module) Get(id ID) (*Blob, error) {
	buf, err := m.store.Get(bucketBlobs, id.Bytes())
	if err != nil {
		return nil, err
	}
	if buf == nil {
		return nil, xerrors.Errorf("blob %v: %w", id, action.ErrNotFound)
	}
	var st storedBlob
	if err := protobuf.Decode(buf, &st); err != nil {
		return nil, xerrors.Errorf("decoding blob: %v", err)
	}
	owner, err := did.ParseIdentity(st.Owner)
	if err != nil {
		return nil, err
	}
	return &Blob{Owner: owner, Bytes: st.Bytes}, nil
}

// storedBlob carries no nonce: a blob accepts no action after its creation.
type storedBlob struct {
	Owner string
	Bytes []byte
}
