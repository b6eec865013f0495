package runtime

import (
	"errors"
	"fmt"

	"github.com/tanema/luavm/src/conf"
	"github.com/tanema/luavm/src/lerrors"
)

// luaError is a runtime failure with a lua style message that still matches
// its sentinel with errors.Is.
type luaError struct {
	kind error
	msg  string
}

func (e *luaError) Error() string { return e.msg }
func (e *luaError) Unwrap() error { return e.kind }

func errorf(kind error, format string, args ...any) error {
	return &luaError{kind: kind, msg: fmt.Sprintf(format, args...)}
}

func newUserErr(vm *VM, level int, val any) error {
	var err error
	if str, isStr := val.(string); isStr {
		err = errors.New(str)
	} else {
		err = fmt.Errorf("(error object is a %v value)", typeName(val))
	}
	lerr := &lerrors.Error{
		Kind:      lerrors.UserErr,
		Err:       err,
		Traceback: vm.formatCallstack(),
		Value:     val,
	}
	if level > 0 {
		if f := vm.frameAt(level - 1); f != nil {
			lerr.Filename, lerr.Line = f.location()
		}
	}
	return lerr
}

func newAssertErr(vm *VM, msg any) error {
	if msg == nil {
		msg = lerrors.ErrAssertion.Error()
	}
	lerr := newUserErr(vm, 1, msg).(*lerrors.Error)
	lerr.Err = &luaError{kind: lerrors.ErrAssertion, msg: lerr.Err.Error()}
	return lerr
}

func newRuntimeErr(vm *VM, f *callFrame, err error) error {
	var luaErr *lerrors.Error
	if errors.As(err, &luaErr) {
		return luaErr
	}
	lerr := &lerrors.Error{
		Kind:      lerrors.RuntimeErr,
		Err:       err,
		Traceback: vm.formatCallstack(),
	}
	if f != nil {
		lerr.Filename, lerr.Line = f.location()
	}
	return lerr
}

// formatCallstack lists the active frames, innermost first. Deep stacks keep
// only the innermost and outermost frames.
func (vm *VM) formatCallstack() []string {
	parts := []string{}
	depth := len(vm.frames)
	skipFrom, skipTo := depth, depth
	if depth > conf.TRACEBACKHEAD+conf.TRACEBACKTAIL {
		skipFrom, skipTo = conf.TRACEBACKHEAD, depth-conf.TRACEBACKTAIL
	}
	for level := 0; level < depth; level++ {
		if level == skipFrom {
			parts = append(parts, fmt.Sprintf("\t...\t(skipping %v levels)", skipTo-skipFrom))
			level = skipTo - 1
			continue
		}
		f := vm.frames[depth-1-level]
		source, line := f.location()
		where := fmt.Sprintf("%v:", source)
		if line > 0 {
			where = fmt.Sprintf("%v:%v:", source, line)
		}
		parts = append(parts, fmt.Sprintf("\t%v in %v", where, f.closure.val.Name()))
	}
	return parts
}
