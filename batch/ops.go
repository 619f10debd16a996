package batch

import (
	"io"

	"golang.org/x/xerrors"
)

// Variant tags prefixing the byte form of every update, so that two distinct
// updates can never encode to the same bytes.
const (
	tagNoop byte = iota
	tagSet
	tagModify
	tagAdd
	tagRemove
	tagOnlyExistent
	tagInc
	tagDec
)

var errMalformed = xerrors.New("malformed update: exactly one variant must be set")

// Of returns a pointer to v, for filling the variant fields below.
func Of[V any](v V) *V {
	return &v
}

// Noop leaves a slot untouched. It exists so that nested updates can encode
// "no change" explicitly.
type Noop[V any] struct{}

func (Noop[V]) Kind(*V) Kind        { return KindNone }
func (Noop[V]) Validate(*V) error   { return nil }
func (Noop[V]) Apply(current *V) *V { return current }
func (Noop[V]) EncodeTo(w io.Writer) error {
	_, err := w.Write([]byte{tagNoop})
	return err
}

// SetOrModify replaces a slot's value wholesale or applies a nested update to
// it. Set carries no precondition: it creates the slot when absent and
// replaces it when present.
type SetOrModify[V any] struct {
	Set    *V
	Modify Update[V]
}

func (u SetOrModify[V]) Kind(current *V) Kind {
	switch {
	case u.Set != nil:
		if current == nil {
			return KindAdd
		}
		return KindReplace
	case u.Modify != nil:
		return u.Modify.Kind(current)
	default:
		return KindNone
	}
}

func (u SetOrModify[V]) Validate(current *V) error {
	switch {
	case u.Set != nil && u.Modify == nil:
		return nil
	case u.Set == nil && u.Modify != nil:
		return u.Modify.Validate(current)
	default:
		return errMalformed
	}
}

func (u SetOrModify[V]) Apply(current *V) *V {
	if u.Set != nil {
		v := *u.Set
		return &v
	}
	return u.Modify.Apply(current)
}

func (u SetOrModify[V]) EncodeTo(w io.Writer) error {
	if u.Set != nil {
		if _, err := w.Write([]byte{tagSet}); err != nil {
			return err
		}
		return EncodeValue(w, *u.Set)
	}
	if _, err := w.Write([]byte{tagModify}); err != nil {
		return err
	}
	return u.Modify.EncodeTo(w)
}

// AddOrRemoveOrModify mutates a single optional slot: create it (requires
// absent), delete it (requires present) or apply a nested update in place
// (requires present).
type AddOrRemoveOrModify[V any] struct {
	Add    *V
	Remove bool
	Modify Update[V]
}

func (u AddOrRemoveOrModify[V]) Kind(current *V) Kind {
	switch {
	case u.Add != nil:
		if current == nil {
			return KindAdd
		}
		return KindReplace
	case u.Remove:
		if current != nil {
			return KindRemove
		}
		return KindNone
	case u.Modify != nil:
		return u.Modify.Kind(current)
	default:
		return KindNone
	}
}

func (u AddOrRemoveOrModify[V]) Validate(current *V) error {
	if err := u.oneVariant(); err != nil {
		return err
	}
	switch {
	case u.Add != nil:
		if current != nil {
			return ErrAlreadyExists
		}
	case u.Remove:
		if current == nil {
			return ErrDoesNotExist
		}
	default:
		if current == nil {
			return ErrDoesNotExist
		}
		return u.Modify.Validate(current)
	}
	return nil
}

func (u AddOrRemoveOrModify[V]) Apply(current *V) *V {
	switch {
	case u.Add != nil:
		v := *u.Add
		return &v
	case u.Remove:
		return nil
	default:
		return u.Modify.Apply(current)
	}
}

func (u AddOrRemoveOrModify[V]) EncodeTo(w io.Writer) error {
	switch {
	case u.Add != nil:
		if _, err := w.Write([]byte{tagAdd}); err != nil {
			return err
		}
		return EncodeValue(w, *u.Add)
	case u.Remove:
		_, err := w.Write([]byte{tagRemove})
		return err
	case u.Modify != nil:
		if _, err := w.Write([]byte{tagModify}); err != nil {
			return err
		}
		return u.Modify.EncodeTo(w)
	default:
		_, err := w.Write([]byte{tagNoop})
		return err
	}
}

func (u AddOrRemoveOrModify[V]) oneVariant() error {
	n := 0
	if u.Add != nil {
		n++
	}
	if u.Remove {
		n++
	}
	if u.Modify != nil {
		n++
	}
	if n != 1 {
		return errMalformed
	}
	return nil
}

// SetOrAddOrRemoveOrModify is the map-entry generalization: set a slot
// unconditionally, create it (requires absent), delete it (requires present)
// or modify it in place (requires present).
type SetOrAddOrRemoveOrModify[V any] struct {
	Set    *V
	Add    *V
	Remove bool
	Modify Update[V]
}

func (u SetOrAddOrRemoveOrModify[V]) Kind(current *V) Kind {
	if u.Set != nil {
		if current == nil {
			return KindAdd
		}
		return KindReplace
	}
	return AddOrRemoveOrModify[V]{Add: u.Add, Remove: u.Remove, Modify: u.Modify}.Kind(current)
}

func (u SetOrAddOrRemoveOrModify[V]) Validate(current *V) error {
	if u.Set != nil {
		if u.Add != nil || u.Remove || u.Modify != nil {
			return errMalformed
		}
		return nil
	}
	return AddOrRemoveOrModify[V]{Add: u.Add, Remove: u.Remove, Modify: u.Modify}.Validate(current)
}

func (u SetOrAddOrRemoveOrModify[V]) Apply(current *V) *V {
	if u.Set != nil {
		v := *u.Set
		return &v
	}
	return AddOrRemoveOrModify[V]{Add: u.Add, Remove: u.Remove, Modify: u.Modify}.Apply(current)
}

func (u SetOrAddOrRemoveOrModify[V]) EncodeTo(w io.Writer) error {
	if u.Set != nil {
		if _, err := w.Write([]byte{tagSet}); err != nil {
			return err
		}
		return EncodeValue(w, *u.Set)
	}
	return AddOrRemoveOrModify[V]{Add: u.Add, Remove: u.Remove, Modify: u.Modify}.EncodeTo(w)
}

// OnlyExistent forces the nested update to fail with DoesNotExist when the
// slot is absent instead of silently doing nothing.
type OnlyExistent[V any] struct {
	Modify Update[V]
}

func (u OnlyExistent[V]) Kind(current *V) Kind {
	if current == nil {
		return KindNone
	}
	return u.Modify.Kind(current)
}

func (u OnlyExistent[V]) Validate(current *V) error {
	if current == nil {
		return ErrDoesNotExist
	}
	return u.Modify.Validate(current)
}

func (u OnlyExistent[V]) Apply(current *V) *V {
	return u.Modify.Apply(current)
}

func (u OnlyExistent[V]) EncodeTo(w io.Writer) error {
	if _, err := w.Write([]byte{tagOnlyExistent}); err != nil {
		return err
	}
	return u.Modify.EncodeTo(w)
}
