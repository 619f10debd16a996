// Package accumulator maintains cryptographic accumulators: short
// commitments to large sets, published together with the parameters and
// public keys needed to verify membership witnesses. The chain never
// interprets the accumulated value; it stores opaque bytes, serializes
// updates through the owner's policy and keeps the update history replayable
// for witness refresh.
package accumulator

import (
	"io"

	"github.com/didledger/didledger/batch"
	"github.com/didledger/didledger/did"
	"golang.org/x/xerrors"
)

// Storage bounds, matching the published network limits.
const (
	MaxLabelSize       = 128
	MaxParamsSize      = 512
	MaxPublicKeySize   = 256
	MaxAccumulatedSize = 128
)

var (
	// ErrAlreadyExists - creation of a taken accumulator id.
	ErrAlreadyExists = xerrors.New("accumulator already exists")
	// ErrTooLarge - a field exceeds its storage bound.
	ErrTooLarge = xerrors.New("value exceeds its size bound")
	// ErrNoSuchKey - the accumulator references a key its owner never
	// published.
	ErrNoSuchKey = xerrors.New("referenced public key does not exist")
	// ErrNoSuchParams - a public key references unpublished parameters.
	ErrNoSuchParams = xerrors.New("referenced parameters do not exist")
)

// ID names an accumulator.
type ID [32]byte

func (id ID) Bytes() []byte {
	return id[:]
}

// Type distinguishes the accumulator families. The distinction is metadata
// for clients; the chain treats all three the same way.
type Type byte

const (
	// TypePositive accumulates set members only.
	TypePositive Type = iota + 1
	// TypeUniversal supports non-membership witnesses up to MaxSize.
	TypeUniversal
	// TypeKBUniversal is the KB-style universal accumulator.
	TypeKBUniversal
)

// Params is a published set of accumulator parameters.
type Params struct {
	// Label is the generating string the params were derived from, if any.
	Label []byte
	Curve string
	Bytes []byte
}

func (p Params) Validate() error {
	if len(p.Label) > MaxLabelSize {
		return xerrors.Errorf("label: %w", ErrTooLarge)
	}
	if len(p.Bytes) == 0 || len(p.Bytes) > MaxParamsSize {
		return xerrors.Errorf("params: %w", ErrTooLarge)
	}
	return nil
}

func (p Params) EncodeTo(w io.Writer) error {
	if err := batch.EncodeValue(w, p.Label); err != nil {
		return err
	}
	if err := batch.EncodeValue(w, p.Curve); err != nil {
		return err
	}
	return batch.EncodeValue(w, p.Bytes)
}

// PublicKey is a published accumulator public key. ParamsID references the
// owner's parameter set it was generated against; zero means none.
type PublicKey struct {
	Curve    string
	Bytes    []byte
	ParamsID uint32
}

func (k PublicKey) Validate() error {
	if len(k.Bytes) == 0 || len(k.Bytes) > MaxPublicKeySize {
		return xerrors.Errorf("public key: %w", ErrTooLarge)
	}
	return nil
}

func (k PublicKey) EncodeTo(w io.Writer) error {
	if err := batch.EncodeValue(w, k.Curve); err != nil {
		return err
	}
	if err := batch.EncodeValue(w, k.Bytes); err != nil {
		return err
	}
	return batch.EncodeValue(w, uint32(k.ParamsID))
}

// Accumulator is the stored state of one accumulator.
type Accumulator struct {
	Type        Type
	Accumulated []byte
	// MaxSize is client metadata for universal accumulators and is not
	// enforced on chain.
	MaxSize uint64
	Owner   did.Identity
	// KeyID references the owner's public key verifying this accumulator.
	KeyID uint32
	// Created and LastUpdated are the action sequence numbers of the
	// creation and the latest update.
	Created     uint64
	LastUpdated uint64
}

func (a Accumulator) Validate() error {
	switch a.Type {
	case TypePositive, TypeUniversal, TypeKBUniversal:
	default:
		return xerrors.New("unknown accumulator type")
	}
	if len(a.Accumulated) == 0 || len(a.Accumulated) > MaxAccumulatedSize {
		return xerrors.Errorf("accumulated: %w", ErrTooLarge)
	}
	return nil
}

func (a Accumulator) EncodeTo(w io.Writer) error {
	if _, err := w.Write([]byte{byte(a.Type)}); err != nil {
		return err
	}
	if err := batch.EncodeValue(w, a.Accumulated); err != nil {
		return err
	}
	if err := batch.EncodeValue(w, a.MaxSize); err != nil {
		return err
	}
	if err := a.Owner.EncodeTo(w); err != nil {
		return err
	}
	return batch.EncodeValue(w, uint32(a.KeyID))
}

// Update is one accumulated-value transition. Additions and removals are the
// elements whose (non-)membership changed; witness holds the public update
// information witness holders need to refresh. None of them is interpreted
// on chain.
type Update struct {
	Accumulated []byte
	Additions   [][]byte
	Removals    [][]byte
	Witness     []byte
}

func (u Update) Validate() error {
	if len(u.Accumulated) == 0 || len(u.Accumulated) > MaxAccumulatedSize {
		return xerrors.Errorf("accumulated: %w", ErrTooLarge)
	}
	return nil
}

func (u Update) EncodeTo(w io.Writer) error {
	if err := batch.EncodeValue(w, u.Accumulated); err != nil {
		return err
	}
	for _, group := range [][][]byte{u.Additions, u.Removals} {
		if err := batch.EncodeValue(w, uint32(len(group))); err != nil {
			return err
		}
		for _, el := range group {
			if err := batch.EncodeValue(w, el); err != nil {
				return err
			}
		}
	}
	return batch.EncodeValue(w, u.Witness)
}
