package didledger

import (
	"fmt"

	"golang.org/x/xerrors"
)

// Error annotates an error with the stack frame of the component that
// refused an action. Rejections are the normal outcome of bad envelopes, so
// the frame only shows up in the detailed "%+v" rendering; the plain message
// stays short.
type Error struct {
	err   error
	msg   string
	frame xerrors.Frame
}

// ErrorOrNil passes a nil error through unchanged and wraps anything else
// with msg and the caller's frame. It is meant for tail positions:
//
//	return out, didledger.ErrorOrNil(err, "reading record")
func ErrorOrNil(err error, msg string) error {
	return wrap(err, msg, 2)
}

// WrapError records the caller's frame without adding a message, keeping the
// wrapped error comparable with xerrors.Is.
func WrapError(err error) error {
	return wrap(err, "", 2)
}

func wrap(err error, msg string, skip int) error {
	if err == nil {
		return nil
	}
	return &Error{
		err:   err,
		msg:   msg,
		frame: xerrors.Caller(skip),
	}
}

func (e *Error) Error() string {
	if e.msg != "" {
		return e.msg + ": " + fmt.Sprintf("%v", e.err)
	}
	return fmt.Sprintf("%v", e.err)
}

// Unwrap returns the next error in the chain.
func (e *Error) Unwrap() error {
	return e.err
}

// Format prints the error to the formatter.
func (e *Error) Format(f fmt.State, c rune) {
	xerrors.FormatError(e, f, c)
}

// FormatError prints the error to the printer, adding the recorded frame
// when the printer asks for detail.
func (e *Error) FormatError(p xerrors.Printer) error {
	if e.msg != "" {
		p.Printf("%s: %v", e.msg, e.err)
	} else {
		p.Printf("%v", e.err)
	}

	if p.Detail() {
		e.frame.Format(p)
		p.Printf("%+v", e.err)
	}
	return nil
}
