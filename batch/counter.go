package batch

import (
	"io"
)

// IncOrDec adjusts a uint64 counter slot by one. Inc on an absent slot
// creates it at 1; Dec on an absent or zero counter fails with Underflow
// rather than saturating.
type IncOrDec int

const (
	// Inc increments the counter.
	Inc IncOrDec = iota + 1
	// Dec decrements the counter.
	Dec
)

func (u IncOrDec) Kind(current *uint64) Kind {
	switch u {
	case Inc:
		if current == nil {
			return KindAdd
		}
		return KindReplace
	case Dec:
		return KindReplace
	default:
		return KindNone
	}
}

func (u IncOrDec) Validate(current *uint64) error {
	if u == Dec && (current == nil || *current == 0) {
		return ErrUnderflow
	}
	return nil
}

func (u IncOrDec) Apply(current *uint64) *uint64 {
	var v uint64
	if current != nil {
		v = *current
	}
	switch u {
	case Inc:
		v++
	case Dec:
		v--
	}
	return &v
}

func (u IncOrDec) EncodeTo(w io.Writer) error {
	tag := tagInc
	if u == Dec {
		tag = tagDec
	}
	_, err := w.Write([]byte{tag})
	return err
}
