package runtime

import (
	"github.com/tanema/luavm/src/bytecode"
	"github.com/tanema/luavm/src/lerrors"
)

// call invokes R(A) with params arguments. Go functions complete immediately
// and their results are scattered into the caller, lua closures get a new frame
// that scatters its results when it returns.
func (vm *VM) call(f *callFrame, a int, params, returns bytecode.Count) error {
	fnIdx := f.base + a
	nargs := vm.argCount(fnIdx, params)
	switch fn := vm.reg(f, a).(type) {
	case *GoFunc:
		results, err := vm.callGo(fn, fnIdx, nargs)
		if err != nil {
			return err
		}
		return vm.scatter(fnIdx, results, returns)
	case *Closure:
		return vm.pushFrame(fn, fnIdx, nargs, returns)
	default:
		return errorf(lerrors.ErrNotCallable, "attempt to call a %v value", typeName(fn))
	}
}

// tailCall replaces the running frame with the callee so that the call depth
// stays the same.
func (vm *VM) tailCall(f *callFrame, a int, params bytecode.Count) error {
	fnIdx := f.base + a
	nargs := vm.argCount(fnIdx, params)
	switch fn := vm.reg(f, a).(type) {
	case *GoFunc:
		results, err := vm.callGo(fn, fnIdx, nargs)
		if err != nil {
			return err
		}
		return vm.returnValues(f, results)
	case *Closure:
		if err := vm.ensureStackSize(fnIdx + nargs); err != nil {
			return err
		}
		vm.closeUpvalues(f.base)
		copy(vm.Stack[f.retBase:], vm.Stack[fnIdx:fnIdx+nargs+1])
		vm.frames = vm.frames[:len(vm.frames)-1]
		return vm.pushFrame(fn, f.retBase, nargs, f.nresults)
	default:
		return errorf(lerrors.ErrNotCallable, "attempt to call a %v value", typeName(fn))
	}
}

// returnValues pops the frame and hands its results to the caller. When the
// last frame returns the vm halts and keeps the results.
func (vm *VM) returnValues(f *callFrame, results []any) error {
	vm.closeUpvalues(f.base)
	vm.frames = vm.frames[:len(vm.frames)-1]
	if vm.Halted() {
		vm.results = results
		return nil
	}
	return vm.scatter(f.retBase, results, f.nresults)
}

func (vm *VM) argCount(fnIdx int, params bytecode.Count) int {
	if params.IsKnown() {
		return int(params)
	}
	return max(vm.top-fnIdx-1, 0)
}

func (vm *VM) callGo(fn *GoFunc, fnIdx, nargs int) ([]any, error) {
	args := vm.window(fnIdx+1, fnIdx+1+nargs)
	return fn.val(vm, args)
}

// scatter writes results starting at dst. A known count pads with nil or
// truncates, an unknown count keeps all values and moves top past them.
func (vm *VM) scatter(dst int, results []any, want bytecode.Count) error {
	count := len(results)
	if want.IsKnown() {
		count = int(want)
	}
	if err := vm.ensureStackSize(dst + count); err != nil {
		return err
	}
	for i := range count {
		var val any
		if i < len(results) {
			val = results[i]
		}
		vm.Stack[dst+i] = val
	}
	if !want.IsKnown() {
		vm.top = dst + count
	}
	return nil
}

func (vm *VM) pushFrame(cl *Closure, fnIdx, nargs int, nresults bytecode.Count) error {
	proto := cl.val
	base := fnIdx + 1
	nparams := int(proto.NumParams)
	if err := vm.ensureStackSize(base + max(int(proto.MaxStackSize), nargs, nparams)); err != nil {
		return err
	}

	var varargs []any
	if proto.IsVararg && nargs > nparams {
		varargs = vm.window(base+nparams, base+nargs)
	}
	for i := min(nargs, nparams); i < max(int(proto.MaxStackSize), nargs); i++ {
		vm.Stack[base+i] = nil
	}

	vm.frames = append(vm.frames, &callFrame{
		closure:  cl,
		base:     base,
		retBase:  fnIdx,
		nresults: nresults,
		varargs:  varargs,
	})
	return nil
}
