// Package runtime executes lua 5.3 function prototypes. The VM runs one
// instruction per Step so that it can be driven by a debugger, a tracer or run
// to completion.
package runtime

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"github.com/tanema/luavm/src/bytecode"
	"github.com/tanema/luavm/src/chunk"
	"github.com/tanema/luavm/src/conf"
	"github.com/tanema/luavm/src/lerrors"
)

type (
	callFrame struct {
		closure  *Closure
		pc       int
		base     int // stack index of register 0
		retBase  int // where results are scattered in the caller
		nresults bytecode.Count
		varargs  []any
	}
	// StepInfo describes the instruction that is about to execute.
	StepInfo struct {
		Depth       int
		Source      string
		Line        int64
		PC          int
		Instruction bytecode.Instruction
	}
	// VM is the interpreter runtime that does everything in memory.
	VM struct {
		ctx        context.Context
		env        *Table
		Stack      []any
		frames     []*callFrame
		openUpvals *upvalueBroker
		top        int
		steps      int64
		results    []any
		err        error

		// Stdout is where print writes.
		Stdout io.Writer
		// OnStep is called before each instruction is executed.
		OnStep func(StepInfo)
		// MaxSteps stops Run with ErrStepLimit once exceeded. Zero is unlimited.
		MaxSteps int64
	}
)

var forNumNames = []string{"initial", "limit", "step"}

// New will create a new vm for evaluating. If env is nil the default
// environment is used.
func New(ctx context.Context, env *Table) *VM {
	if env == nil {
		env = createDefaultEnv()
	}
	_ = env.Set("_G", env)
	return &VM{
		ctx:    ctx,
		env:    env,
		Stack:  make([]any, conf.INITIALSTACKSIZE),
		Stdout: os.Stdout,
	}
}

// Env returns the global environment table.
func (vm *VM) Env() *Table { return vm.env }

// Load prepares the vm to run the main function of the chunk. Any extra
// arguments are available to the chunk as varargs.
func (vm *VM) Load(c *chunk.Chunk, args ...any) error {
	main := c.Main
	upvals := make([]*upvalueBroker, len(main.Upvalues))
	for i, desc := range main.Upvalues {
		if i == 0 {
			upvals[i] = closedUpvalue(desc.Name, vm.env)
		} else {
			upvals[i] = closedUpvalue(desc.Name, nil)
		}
	}

	vm.closeUpvalues(0)
	clear(vm.Stack)
	vm.frames = vm.frames[:0]
	vm.results = nil
	vm.err = nil
	vm.steps = 0
	vm.top = 0

	cl := &Closure{val: main, upvalues: upvals}
	vm.Stack[0] = cl
	if err := vm.ensureStackSize(len(args)); err != nil {
		return err
	}
	copy(vm.Stack[1:], args)
	return vm.pushFrame(cl, 0, len(args), bytecode.Unknown)
}

// Halted is true when there are no more frames to execute.
func (vm *VM) Halted() bool { return len(vm.frames) == 0 }

// Steps is the number of instructions executed since Load.
func (vm *VM) Steps() int64 { return vm.steps }

// CallDepth is the number of active lua frames.
func (vm *VM) CallDepth() int { return len(vm.frames) }

// Results are the values returned by the main function once halted.
func (vm *VM) Results() []any { return vm.results }

// Err is the error that stopped the vm, if any.
func (vm *VM) Err() error { return vm.err }

// Registers returns the register window of the running frame.
func (vm *VM) Registers() []any {
	f := vm.frame()
	if f == nil {
		return nil
	}
	end := min(f.base+int(f.closure.val.MaxStackSize), len(vm.Stack))
	return vm.Stack[f.base:end]
}

// Run steps the vm until it halts, fails, is cancelled or exceeds MaxSteps.
func (vm *VM) Run() ([]any, error) {
	for !vm.Halted() {
		if vm.MaxSteps > 0 && vm.steps >= vm.MaxSteps {
			return nil, errorf(lerrors.ErrStepLimit, "step limit of %v reached", vm.MaxSteps)
		}
		if err := vm.Step(); err != nil {
			return nil, err
		}
	}
	return vm.results, nil
}

// Next describes the instruction that the following Step will execute.
func (vm *VM) Next() (StepInfo, bool) {
	f := vm.frame()
	if f == nil || f.pc >= len(f.closure.val.Code) {
		return StepInfo{}, false
	}
	source, _ := f.location()
	return StepInfo{
		Depth:       len(vm.frames),
		Source:      source,
		Line:        f.closure.val.Line(f.pc),
		PC:          f.pc,
		Instruction: f.closure.val.Code[f.pc],
	}, true
}

// Step executes a single instruction. After an error the vm stays in place so
// it can be inspected and every further Step returns the same error.
func (vm *VM) Step() error {
	if vm.err != nil {
		return vm.err
	} else if vm.Halted() {
		return errorf(lerrors.ErrHalted, "vm is halted")
	} else if err := vm.ctx.Err(); err != nil {
		return err
	}

	f := vm.frame()
	code := f.closure.val.Code
	if f.pc >= len(code) {
		vm.steps++
		return vm.fail(f, vm.returnValues(f, nil))
	}
	if vm.OnStep != nil {
		if info, ok := vm.Next(); ok {
			vm.OnStep(info)
		}
	}
	instruction := code[f.pc]
	f.pc++
	vm.steps++
	return vm.fail(f, vm.execute(f, instruction))
}

func (vm *VM) fail(f *callFrame, err error) error {
	if err == nil {
		return nil
	}
	vm.err = newRuntimeErr(vm, f, err)
	return vm.err
}

func (vm *VM) execute(f *callFrame, instruction bytecode.Instruction) error {
	fn := f.closure.val
	switch ins := instruction.(type) {
	case bytecode.Move:
		return vm.setReg(f, ins.A, vm.reg(f, ins.B))
	case bytecode.LoadK:
		return vm.setReg(f, ins.A, vm.constant(f, ins.Bx))
	case bytecode.LoadKX:
		extra, err := vm.extraArg(f)
		if err != nil {
			return err
		}
		return vm.setReg(f, ins.A, vm.constant(f, extra))
	case bytecode.LoadBool:
		if ins.SkipNext {
			f.pc++
		}
		return vm.setReg(f, ins.A, ins.Value)
	case bytecode.LoadNil:
		for i := ins.A; i <= ins.A+ins.B; i++ {
			if err := vm.setReg(f, i, nil); err != nil {
				return err
			}
		}
	case bytecode.GetUpval:
		upval, err := vm.upvalue(f, ins.B)
		if err != nil {
			return err
		}
		return vm.setReg(f, ins.A, upval.Get())
	case bytecode.GetTabUp:
		upval, err := vm.upvalue(f, ins.B)
		if err != nil {
			return err
		}
		val, err := vm.index(upval.Get(), vm.rk(f, ins.Key))
		if err != nil {
			return err
		}
		return vm.setReg(f, ins.A, val)
	case bytecode.GetTable:
		val, err := vm.index(vm.reg(f, ins.B), vm.rk(f, ins.Key))
		if err != nil {
			return err
		}
		return vm.setReg(f, ins.A, val)
	case bytecode.SetTabUp:
		upval, err := vm.upvalue(f, ins.A)
		if err != nil {
			return err
		}
		return vm.newIndex(upval.Get(), vm.rk(f, ins.Key), vm.rk(f, ins.Value))
	case bytecode.SetUpval:
		upval, err := vm.upvalue(f, ins.B)
		if err != nil {
			return err
		}
		upval.Set(vm.reg(f, ins.A))
	case bytecode.SetTable:
		return vm.newIndex(vm.reg(f, ins.A), vm.rk(f, ins.Key), vm.rk(f, ins.Value))
	case bytecode.NewTable:
		return vm.setReg(f, ins.A, newSizedTable(ins.ArraySize(), ins.HashSize()))
	case bytecode.Self:
		tbl := vm.reg(f, ins.B)
		method, err := vm.index(tbl, vm.rk(f, ins.Key))
		if err != nil {
			return err
		} else if err := vm.setReg(f, ins.A+1, tbl); err != nil {
			return err
		}
		return vm.setReg(f, ins.A, method)
	case bytecode.Arith:
		val, err := arith(ins.Operator, vm.rk(f, ins.B), vm.rk(f, ins.C))
		if err != nil {
			return err
		}
		return vm.setReg(f, ins.A, val)
	case bytecode.Unary:
		return vm.unary(f, ins)
	case bytecode.Concat:
		vals := make([]any, 0, max(ins.C-ins.B+1, 0))
		for i := ins.B; i <= ins.C; i++ {
			vals = append(vals, vm.reg(f, i))
		}
		str, err := concat(vals)
		if err != nil {
			return err
		}
		return vm.setReg(f, ins.A, str)
	case bytecode.Jmp:
		if ins.A > 0 {
			vm.closeUpvalues(f.base + ins.A - 1)
		}
		f.pc += ins.SBx
	case bytecode.Compare:
		lVal, rVal := vm.rk(f, ins.B), vm.rk(f, ins.C)
		var res bool
		var err error
		switch ins.Operator {
		case bytecode.EQ:
			res = eq(lVal, rVal)
		case bytecode.LT:
			res, err = lessThan(lVal, rVal)
		case bytecode.LE:
			res, err = lessEqual(lVal, rVal)
		}
		if err != nil {
			return err
		} else if res != ins.Expect {
			f.pc++
		}
	case bytecode.Test:
		if toBool(vm.reg(f, ins.A)) != ins.C {
			f.pc++
		}
	case bytecode.TestSet:
		val := vm.reg(f, ins.B)
		if toBool(val) == ins.C {
			return vm.setReg(f, ins.A, val)
		}
		f.pc++
	case bytecode.Call:
		return vm.call(f, ins.A, ins.Params, ins.Returns)
	case bytecode.TailCall:
		return vm.tailCall(f, ins.A, ins.Params)
	case bytecode.Return:
		start := f.base + ins.A
		end := vm.top
		if ins.Values.IsKnown() {
			end = start + int(ins.Values)
		}
		return vm.returnValues(f, vm.window(start, end))
	case bytecode.ForPrep:
		return vm.forPrep(f, ins)
	case bytecode.ForLoop:
		return vm.forLoop(f, ins)
	case bytecode.TForCall:
		cb := ins.A + 3
		for i := range 3 {
			if err := vm.setReg(f, cb+i, vm.reg(f, ins.A+i)); err != nil {
				return err
			}
		}
		return vm.call(f, cb, bytecode.Known(2), bytecode.Known(ins.Results))
	case bytecode.TForLoop:
		if ctrl := vm.reg(f, ins.A+1); ctrl != nil {
			f.pc += ins.SBx
			return vm.setReg(f, ins.A, ctrl)
		}
	case bytecode.SetList:
		return vm.setList(f, ins)
	case bytecode.Closure:
		if ins.Bx >= len(fn.Protos) {
			return errorf(lerrors.ErrOutOfRange, "function prototype %v out of range", ins.Bx)
		}
		return vm.setReg(f, ins.A, vm.newClosure(f, fn.Protos[ins.Bx]))
	case bytecode.Vararg:
		return vm.vararg(f, ins)
	case bytecode.ExtraArg:
		return errorf(lerrors.ErrOutOfRange, "unexpected EXTRAARG")
	default:
		return fmt.Errorf("unknown instruction %v", instruction.Op())
	}
	return nil
}

func (vm *VM) unary(f *callFrame, ins bytecode.Unary) error {
	val := vm.reg(f, ins.B)
	var res any
	var err error
	switch ins.Operator {
	case bytecode.UNM, bytecode.BNOT:
		res, err = arith(ins.Operator, val, val)
	case bytecode.NOT:
		res = !toBool(val)
	case bytecode.LEN:
		res, err = length(val)
	}
	if err != nil {
		return err
	}
	return vm.setReg(f, ins.A, res)
}

func (vm *VM) extraArg(f *callFrame) (int, error) {
	code := f.closure.val.Code
	if f.pc >= len(code) {
		return 0, errorf(lerrors.ErrOutOfRange, "missing EXTRAARG")
	}
	extra, ok := code[f.pc].(bytecode.ExtraArg)
	if !ok {
		return 0, errorf(lerrors.ErrOutOfRange, "expected EXTRAARG but found %v", code[f.pc].Op())
	}
	f.pc++
	return extra.Ax, nil
}

func (vm *VM) forPrep(f *callFrame, ins bytecode.ForPrep) error {
	vals := make([]any, 3)
	for i := range vals {
		num, ok := toNumber(vm.reg(f, ins.A+i))
		if !ok {
			return errorf(lerrors.ErrForLoop, "'for' %v value must be a number", forNumNames[i])
		}
		vals[i] = num
	}
	if toFloat(vals[2]) == 0 {
		return errorf(lerrors.ErrForLoop, "'for' step is zero")
	}

	init, initIsInt := vals[0].(int64)
	step, stepIsInt := vals[2].(int64)
	if initIsInt && stepIsInt {
		limit, skip := forLimit(vals[1], step)
		if skip {
			init = 0
		}
		if err := vm.setReg(f, ins.A+1, limit); err != nil {
			return err
		} else if err := vm.setReg(f, ins.A+2, step); err != nil {
			return err
		} else if err := vm.setReg(f, ins.A, init-step); err != nil {
			return err
		}
	} else {
		fstep := toFloat(vals[2])
		if err := vm.setReg(f, ins.A+1, toFloat(vals[1])); err != nil {
			return err
		} else if err := vm.setReg(f, ins.A+2, fstep); err != nil {
			return err
		} else if err := vm.setReg(f, ins.A, toFloat(vals[0])-fstep); err != nil {
			return err
		}
	}
	f.pc += ins.SBx
	return nil
}

// forLimit converts the loop limit of an integer loop to an integer. Float
// limits are floored or ceiled depending on the direction and clipped to the
// integer range. skip reports a limit that the loop can never reach.
func forLimit(limit any, step int64) (int64, bool) {
	switch tlimit := limit.(type) {
	case int64:
		return tlimit, false
	case float64:
		flimit := tlimit
		if step > 0 {
			flimit = math.Floor(flimit)
		} else {
			flimit = math.Ceil(flimit)
		}
		if ival, ok := floatToInteger(flimit); ok {
			return ival, false
		}
		if tlimit > 0 {
			return 1<<63 - 1, step < 0
		}
		return -1 << 63, step > 0
	}
	return 0, true
}

func (vm *VM) forLoop(f *callFrame, ins bytecode.ForLoop) error {
	var next any
	switch idx := vm.reg(f, ins.A).(type) {
	case int64:
		step, _ := vm.reg(f, ins.A+2).(int64)
		limit, _ := vm.reg(f, ins.A+1).(int64)
		idx += step
		if (step > 0 && idx <= limit) || (step < 0 && limit <= idx) {
			next = idx
		}
	case float64:
		step := toFloat(vm.reg(f, ins.A+2))
		limit := toFloat(vm.reg(f, ins.A+1))
		idx += step
		if (step > 0 && idx <= limit) || (step < 0 && limit <= idx) {
			next = idx
		}
	default:
		return errorf(lerrors.ErrForLoop, "'for' initial value must be a number")
	}
	if next == nil {
		return nil
	}
	f.pc += ins.SBx
	if err := vm.setReg(f, ins.A, next); err != nil {
		return err
	}
	return vm.setReg(f, ins.A+3, next)
}

func (vm *VM) setList(f *callFrame, ins bytecode.SetList) error {
	tbl, ok := vm.reg(f, ins.A).(*Table)
	if !ok {
		return errorf(lerrors.ErrIndex, "attempt to index a %v value", typeName(vm.reg(f, ins.A)))
	}
	count := int(ins.Values)
	if !ins.Values.IsKnown() {
		count = vm.top - (f.base + ins.A) - 1
	}
	block := ins.Block
	if block == 0 {
		extra, err := vm.extraArg(f)
		if err != nil {
			return err
		}
		block = extra
	}
	offset := int64(block-1) * conf.FIELDS_PER_FLUSH
	for i := 1; i <= count; i++ {
		if err := tbl.Set(offset+int64(i), vm.reg(f, ins.A+i)); err != nil {
			return err
		}
	}
	return nil
}

func (vm *VM) vararg(f *callFrame, ins bytecode.Vararg) error {
	count := int(ins.Count)
	if !ins.Count.IsKnown() {
		count = len(f.varargs)
		vm.top = f.base + ins.A + count
	}
	if err := vm.ensureStackSize(f.base + ins.A + count); err != nil {
		return err
	}
	for i := range count {
		var val any
		if i < len(f.varargs) {
			val = f.varargs[i]
		}
		vm.Stack[f.base+ins.A+i] = val
	}
	return nil
}

func (vm *VM) newClosure(f *callFrame, proto *chunk.FnProto) *Closure {
	upvals := make([]*upvalueBroker, len(proto.Upvalues))
	for i, desc := range proto.Upvalues {
		if desc.InStack {
			upvals[i] = vm.findUpvalue(desc.Name, f.base+int(desc.Index))
		} else if int(desc.Index) < len(f.closure.upvalues) {
			upvals[i] = f.closure.upvalues[desc.Index]
		} else {
			upvals[i] = closedUpvalue(desc.Name, nil)
		}
	}
	return &Closure{val: proto, upvalues: upvals}
}

func (vm *VM) index(table, key any) (any, error) {
	switch tval := table.(type) {
	case *Table:
		return tval.Get(key), nil
	case string:
		return nil, nil
	default:
		return nil, errorf(lerrors.ErrIndex, "attempt to index a %v value", typeName(table))
	}
}

func (vm *VM) newIndex(table, key, value any) error {
	tbl, isTbl := table.(*Table)
	if !isTbl {
		return errorf(lerrors.ErrIndex, "attempt to index a %v value", typeName(table))
	}
	return tbl.Set(key, value)
}

func (vm *VM) frame() *callFrame {
	if len(vm.frames) == 0 {
		return nil
	}
	return vm.frames[len(vm.frames)-1]
}

// frameAt returns the frame level frames down from the innermost one.
func (vm *VM) frameAt(level int) *callFrame {
	if level < 0 || level >= len(vm.frames) {
		return nil
	}
	return vm.frames[len(vm.frames)-1-level]
}

func (vm *VM) reg(f *callFrame, idx int) any {
	if addr := f.base + idx; addr < len(vm.Stack) {
		return vm.Stack[addr]
	}
	return nil
}

func (vm *VM) setReg(f *callFrame, idx int, val any) error {
	addr := f.base + idx
	if err := vm.ensureStackSize(addr); err != nil {
		return err
	}
	vm.Stack[addr] = val
	return nil
}

func (vm *VM) upvalue(f *callFrame, idx int) (*upvalueBroker, error) {
	if idx < 0 || idx >= len(f.closure.upvalues) {
		return nil, errorf(lerrors.ErrOutOfRange, "upvalue %v out of range", idx)
	}
	return f.closure.upvalues[idx], nil
}

func (vm *VM) constant(f *callFrame, idx int) any {
	if consts := f.closure.val.Constants; idx < len(consts) {
		return consts[idx]
	}
	return nil
}

func (vm *VM) rk(f *callFrame, src bytecode.DataSource) any {
	if src.IsConstant {
		return vm.constant(f, src.Index)
	}
	return vm.reg(f, src.Index)
}

// window copies the stack values in [start, end).
func (vm *VM) window(start, end int) []any {
	if end <= start {
		return []any{}
	}
	vals := make([]any, end-start)
	if start < len(vm.Stack) {
		copy(vals, vm.Stack[start:min(end, len(vm.Stack))])
	}
	return vals
}

func (vm *VM) ensureStackSize(index int) error {
	sliceLen := len(vm.Stack)
	if index < sliceLen {
		return nil
	}
	if index >= conf.MAXSTACKSIZE {
		return errorf(lerrors.ErrStackOverflow, "stack overflow")
	}
	growthAmount := (index - (sliceLen - 1)) * 2
	if growthAmount+sliceLen > conf.MAXSTACKSIZE {
		growthAmount = conf.MAXSTACKSIZE - sliceLen
	}
	newSlice := make([]any, sliceLen+growthAmount)
	copy(newSlice, vm.Stack)
	vm.Stack = newSlice
	return nil
}

// location is the display source name and the line of the instruction that
// is executing, or about to execute, in the frame.
func (f *callFrame) location() (string, int64) {
	fn := f.closure.val
	source := strings.TrimLeft(fn.Source, "@=")
	if source == "" {
		source = "?"
	}
	return source, fn.Line(max(f.pc-1, 0))
}
