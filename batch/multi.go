package batch

import (
	"io"
)

// TargetUpdate binds one update to the key of the slot it mutates.
type TargetUpdate[K comparable, V any] struct {
	Key    K
	Update Update[V]
}

// MultiTargetUpdate is an ordered sequence of keyed updates applied as a
// single atomic unit. Each update is evaluated against the pre-batch snapshot
// of the collection: updates never see each other's effects, so there is no
// ordering dependency between keys of the same batch.
type MultiTargetUpdate[K comparable, V any] []TargetUpdate[K, V]

// Keys returns the target keys in batch order.
func (m MultiTargetUpdate[K, V]) Keys() []K {
	keys := make([]K, len(m))
	for i, tu := range m {
		keys[i] = tu.Key
	}
	return keys
}

// Validate checks the whole batch against the snapshot: a key appearing twice
// rejects the batch outright before any precondition runs, then every
// update's precondition is checked against the pre-batch state of its slot.
func (m MultiTargetUpdate[K, V]) Validate(col map[K]V) error {
	seen := make(map[K]struct{}, len(m))
	for _, tu := range m {
		if _, ok := seen[tu.Key]; ok {
			return errAt(CodeDuplicateKey, renderKey(tu.Key))
		}
		seen[tu.Key] = struct{}{}
	}

	for _, tu := range m {
		var current *V
		if v, ok := col[tu.Key]; ok {
			v := v
			current = &v
		}
		if err := tu.Update.Validate(current); err != nil {
			if bErr, ok := err.(*Error); ok && bErr.Key == "" {
				return errAt(bErr.Code, renderKey(tu.Key))
			}
			return err
		}
	}
	return nil
}

// Apply validates the batch and, only if every precondition holds, returns a
// new collection with all updates applied. On any failure the input
// collection is returned unchanged together with the offending key's error.
func (m MultiTargetUpdate[K, V]) Apply(col map[K]V) (map[K]V, error) {
	return m.ApplyWithCapacity(col, 0)
}

// ApplyWithCapacity is Apply with an upper bound on the resulting collection
// size. A capacity of zero means unbounded.
func (m MultiTargetUpdate[K, V]) ApplyWithCapacity(col map[K]V, capacity uint32) (map[K]V, error) {
	if err := m.Validate(col); err != nil {
		return col, err
	}

	if capacity > 0 {
		size := len(col)
		for _, tu := range m {
			var current *V
			if v, ok := col[tu.Key]; ok {
				v := v
				current = &v
			}
			switch tu.Update.Kind(current) {
			case KindAdd:
				size++
			case KindRemove:
				size--
			}
		}
		if size > int(capacity) {
			return col, errAt(CodeCapacityOverflow, "")
		}
	}

	next := make(map[K]V, len(col))
	for k, v := range col {
		next[k] = v
	}
	for _, tu := range m {
		var current *V
		if v, ok := col[tu.Key]; ok {
			v := v
			current = &v
		}
		if res := tu.Update.Apply(current); res != nil {
			next[tu.Key] = *res
		} else {
			delete(next, tu.Key)
		}
	}
	return next, nil
}

// EncodeTo writes the deterministic byte form of the batch: the pair count
// followed by each key and its update in batch order.
func (m MultiTargetUpdate[K, V]) EncodeTo(w io.Writer) error {
	if err := EncodeValue(w, uint32(len(m))); err != nil {
		return err
	}
	for _, tu := range m {
		if err := EncodeValue(w, tu.Key); err != nil {
			return err
		}
		if err := tu.Update.EncodeTo(w); err != nil {
			return err
		}
	}
	return nil
}
