// Package batch implements the generic algebra of keyed collection updates.
// An update describes the mutation of a single optional slot (create, delete,
// replace or modify in place), and a MultiTargetUpdate bundles many keyed
// updates into one atomic unit: either every precondition holds against the
// pre-batch snapshot and all updates are applied, or the collection is left
// byte-for-byte unchanged.
//
// Every update also knows how to emit a deterministic byte representation of
// itself, which the action package folds into the canonical digest that
// signers sign.
package batch

import (
	"encoding/binary"
	"fmt"
	"io"

	"go.dedis.ch/protobuf"
	"golang.org/x/xerrors"
)

// Kind describes what applying an update to a slot would do.
type Kind int

const (
	// KindNone means the slot is left as it is.
	KindNone Kind = iota
	// KindAdd means a previously absent slot is created.
	KindAdd
	// KindRemove means a present slot is deleted.
	KindRemove
	// KindReplace means a present slot gets a new value.
	KindReplace
)

func (k Kind) String() string {
	switch k {
	case KindAdd:
		return "add"
	case KindRemove:
		return "remove"
	case KindReplace:
		return "replace"
	default:
		return "none"
	}
}

// Code enumerates the precondition failures of the algebra.
type Code int

const (
	// CodeDoesNotExist - the update requires a present slot.
	CodeDoesNotExist Code = iota
	// CodeAlreadyExists - the update requires an absent slot.
	CodeAlreadyExists
	// CodeUnderflow - a counter would drop below zero.
	CodeUnderflow
	// CodeDuplicateKey - the same key appears twice in one batch.
	CodeDuplicateKey
	// CodeCapacityOverflow - the batch would grow the collection past its
	// bound.
	CodeCapacityOverflow
)

func (c Code) String() string {
	switch c {
	case CodeDoesNotExist:
		return "does not exist"
	case CodeAlreadyExists:
		return "already exists"
	case CodeUnderflow:
		return "underflow"
	case CodeDuplicateKey:
		return "duplicate key"
	case CodeCapacityOverflow:
		return "capacity overflow"
	default:
		return "unknown"
	}
}

// Error is a precondition failure, optionally bound to the key that caused
// it.
type Error struct {
	Code Code
	Key  string
}

// Sentinel targets for xerrors.Is. A sentinel matches any Error carrying the
// same code, whatever key it is bound to.
var (
	ErrDoesNotExist     = &Error{Code: CodeDoesNotExist}
	ErrAlreadyExists    = &Error{Code: CodeAlreadyExists}
	ErrUnderflow        = &Error{Code: CodeUnderflow}
	ErrDuplicateKey     = &Error{Code: CodeDuplicateKey}
	ErrCapacityOverflow = &Error{Code: CodeCapacityOverflow}
)

func (e *Error) Error() string {
	if e.Key == "" {
		return e.Code.String()
	}
	return fmt.Sprintf("key %s: %s", e.Key, e.Code.String())
}

// Is matches another *Error with the same code. A target without a key
// matches regardless of which key this error is bound to.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code && (t.Key == "" || t.Key == e.Key)
}

func errAt(code Code, key string) *Error {
	return &Error{Code: code, Key: key}
}

// Update is a partial update of an optional slot holding a V. A nil current
// value means the slot is absent.
type Update[V any] interface {
	// Kind reports what applying the update to current would do.
	Kind(current *V) Kind
	// Validate checks the update's precondition against current without
	// touching it.
	Validate(current *V) error
	// Apply returns the new slot value; nil removes the slot. It must only
	// be called after Validate succeeded.
	Apply(current *V) *V
	// EncodeTo writes the deterministic byte form used for signing.
	EncodeTo(w io.Writer) error
}

// Encodable is implemented by domain values and keys that define their own
// deterministic byte form.
type Encodable interface {
	EncodeTo(w io.Writer) error
}

// EncodeValue writes a deterministic byte representation of v. Values either
// implement Encodable or are one of the closed set of primitive types used by
// the resource modules; anything else falls back to the reflection protobuf
// encoding of a struct pointer.
func EncodeValue(w io.Writer, v interface{}) error {
	switch x := v.(type) {
	case Encodable:
		return x.EncodeTo(w)
	case []byte:
		if err := binary.Write(w, binary.BigEndian, uint32(len(x))); err != nil {
			return err
		}
		_, err := w.Write(x)
		return err
	case string:
		return EncodeValue(w, []byte(x))
	case uint64:
		return binary.Write(w, binary.BigEndian, x)
	case uint32:
		return binary.Write(w, binary.BigEndian, x)
	case bool:
		b := byte(0)
		if x {
			b = 1
		}
		_, err := w.Write([]byte{b})
		return err
	case struct{}:
		return nil
	default:
		buf, err := protobuf.Encode(v)
		if err != nil {
			return xerrors.Errorf("encoding %T: %v", v, err)
		}
		return EncodeValue(w, buf)
	}
}

// renderKey gives the stable string form of a key for error reporting.
func renderKey(k interface{}) string {
	if s, ok := k.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprintf("%v", k)
}
