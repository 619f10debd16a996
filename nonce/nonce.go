// Package nonce implements the sequence-counter wrapper shared by every
// stored entity of the ledger. An entity's nonce is advanced by exactly one
// for every accepted mutation, which serializes conflicting submissions and
// makes replayed actions fail deterministically on every replica.
package nonce

import (
	"golang.org/x/xerrors"
)

// ErrIncorrectNonce is returned when a supplied nonce is not the stored nonce
// plus one. Stale and from-the-future values are the same failure: neither is
// a valid linear increment.
var ErrIncorrectNonce = xerrors.New("incorrect nonce")

// TryAdvance returns the new nonce if supplied is the valid successor of
// current. It is a pure function, the caller persists the result.
func TryAdvance(current, supplied uint64) (uint64, error) {
	if supplied != current+1 {
		return 0, xerrors.Errorf("expected %d, got %d: %w",
			current+1, supplied, ErrIncorrectNonce)
	}
	return supplied, nil
}

// WithNonce wraps an entity together with its replay-protection counter.
type WithNonce[D any] struct {
	Nonce uint64
	Data  D
}

// New wraps data with a zero nonce, so that the first accepted mutation
// carries nonce 1.
func New[D any](data D) WithNonce[D] {
	return WithNonce[D]{Data: data}
}

// NewAt wraps data with the given starting nonce. Identity records start at
// their creation sequence number so that a removed and re-created entity
// never accepts a replay of its previous life.
func NewAt[D any](data D, at uint64) WithNonce[D] {
	return WithNonce[D]{Nonce: at, Data: data}
}

// NextNonce returns the only nonce the next mutation may carry.
func (w *WithNonce[D]) NextNonce() uint64 {
	return w.Nonce + 1
}

// IsNextNonce returns whether supplied is the valid successor of the stored
// nonce.
func (w *WithNonce[D]) IsNextNonce(supplied uint64) bool {
	return supplied == w.Nonce+1
}

// TryUpdate advances the stored nonce and hands out the wrapped data for
// mutation. On failure the wrapper is left untouched.
func (w *WithNonce[D]) TryUpdate(supplied uint64) (*D, error) {
	next, err := TryAdvance(w.Nonce, supplied)
	if err != nil {
		return nil, err
	}
	w.Nonce = next
	return &w.Data, nil
}
