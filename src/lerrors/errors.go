// Package lerrors are a unified errors package for chunk loading and runtime so
// that they can be formatted in a unified way and handled in a unified way.
package lerrors

import (
	"errors"
	"fmt"
	"strings"
)

type (
	// ErrorKind is an enum to describe where the error originates from.
	ErrorKind int
	// Error captures all errors in the luavm runtime. It distinguishes between load,
	// runtime, and user errors and will format them accordingly. This is so that
	// errors can be handled in a uniform way by anything embedding the vm.
	Error struct {
		Line      int64
		Offset    int64
		Kind      ErrorKind
		Err       error
		Filename  string
		Field     string
		Traceback []string
		Value     any
	}
)

const (
	// RuntimeErr is an error that originates from the runtime.
	RuntimeErr ErrorKind = iota
	// LoadErr is an error that originates from reading a binary chunk.
	LoadErr
	// UserErr is an error raised from user code by the user.
	UserErr
)

// Load errors.
var (
	ErrHeaderMismatch      = errors.New("header mismatch")
	ErrUnexpectedEOF       = errors.New("unexpected end of chunk")
	ErrUnsupportedConstant = errors.New("unsupported constant type")
	ErrUnknownOpcode       = errors.New("unknown opcode")
)

// Runtime errors.
var (
	ErrArithmetic    = errors.New("arithmetic error")
	ErrNoIntegerRep  = errors.New("number has no integer representation")
	ErrInvalidLen    = errors.New("invalid length operand")
	ErrNotComparable = errors.New("values are not comparable")
	ErrNotCallable   = errors.New("value is not callable")
	ErrIndex         = errors.New("invalid index")
	ErrConcat        = errors.New("invalid concatenation")
	ErrForLoop       = errors.New("invalid for loop")
	ErrAssertion     = errors.New("assertion failed!")
	ErrStackOverflow = errors.New("stack overflow")
	ErrOutOfRange    = errors.New("register out of range")
	ErrHalted        = errors.New("vm is halted")
	ErrStepLimit     = errors.New("step limit reached")
)

func (err *Error) Error() string {
	switch err.Kind {
	case RuntimeErr, UserErr:
		msg := fmt.Sprintf("lua: %v", err.Err)
		if err.Filename != "" && err.Line > 0 {
			msg = fmt.Sprintf("lua:%v:%v: %v", err.Filename, err.Line, err.Err)
		}
		if len(err.Traceback) == 0 {
			return msg
		}
		return fmt.Sprintf("%v\nstack traceback:\n%v", msg, strings.Join(err.Traceback, "\n"))
	case LoadErr:
		if err.Field != "" {
			return fmt.Sprintf("Load Error: %s: offset %v: %v: %v", err.Filename, err.Offset, err.Field, err.Err)
		}
		return fmt.Sprintf("Load Error: %s: offset %v: %v", err.Filename, err.Offset, err.Err)
	default:
		return err.Err.Error()
	}
}

// Unwrap exposes the underlying error so that errors.Is can match the
// sentinel errors above.
func (err *Error) Unwrap() error { return err.Err }

// Is reports whether err is a lerrors.Error of the given kind.
func Is(err error, kind ErrorKind) bool {
	var lerr *Error
	return errors.As(err, &lerr) && lerr.Kind == kind
}
