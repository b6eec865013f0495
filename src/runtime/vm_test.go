package runtime

import (
	"bytes"
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tanema/luavm/src/bytecode"
	"github.com/tanema/luavm/src/chunk"
	"github.com/tanema/luavm/src/lerrors"
)

// newMain builds a vararg main function where instruction i is on line i+1.
func newMain(constants []any, code ...bytecode.Instruction) *chunk.FnProto {
	lines := make([]uint32, len(code))
	for i := range lines {
		lines[i] = uint32(i + 1)
	}
	return &chunk.FnProto{
		Source:       "@test.lua",
		IsVararg:     true,
		MaxStackSize: 10,
		Code:         code,
		Constants:    constants,
		Upvalues:     []chunk.UpvalueDesc{{Name: "_ENV", InStack: true}},
		Debug:        &chunk.DebugInfo{LineInfo: lines, UpvalueNames: []string{"_ENV"}},
	}
}

func newTestVM(t *testing.T, main *chunk.FnProto, args ...any) (*VM, *bytes.Buffer) {
	t.Helper()
	vm := New(context.Background(), nil)
	out := &bytes.Buffer{}
	vm.Stdout = out
	require.NoError(t, vm.Load(chunk.New(main), args...))
	return vm, out
}

func TestVM_Eval(t *testing.T) {
	t.Parallel()

	testcases := []struct {
		desc      string
		constants []any
		code      []bytecode.Instruction
		result    []any
		err       error
	}{
		{
			desc:      "MOVE",
			constants: []any{int64(23)},
			code: []bytecode.Instruction{
				bytecode.LoadK{A: 0, Bx: 0},
				bytecode.Move{A: 1, B: 0},
				bytecode.Return{A: 0, Values: bytecode.Known(2)},
			},
			result: []any{int64(23), int64(23)},
		},
		{
			desc: "LOADBOOL",
			code: []bytecode.Instruction{
				bytecode.LoadBool{A: 0, Value: true, SkipNext: true},
				bytecode.LoadBool{A: 0, Value: false},
				bytecode.LoadBool{A: 1, Value: false},
				bytecode.Return{A: 0, Values: bytecode.Known(2)},
			},
			result: []any{true, false},
		},
		{
			desc:      "LOADKX",
			constants: []any{"a", "b"},
			code: []bytecode.Instruction{
				bytecode.LoadKX{A: 0},
				bytecode.ExtraArg{Ax: 1},
				bytecode.Return{A: 0, Values: bytecode.Known(1)},
			},
			result: []any{"b"},
		},
		{
			desc:      "LOADNIL",
			constants: []any{int64(1)},
			code: []bytecode.Instruction{
				bytecode.LoadK{A: 0, Bx: 0},
				bytecode.LoadK{A: 1, Bx: 0},
				bytecode.LoadK{A: 2, Bx: 0},
				bytecode.LoadNil{A: 0, B: 1},
				bytecode.Return{A: 0, Values: bytecode.Known(3)},
			},
			result: []any{nil, nil, int64(1)},
		},
		{
			desc:      "ADD mixed",
			constants: []any{int64(1274), int64(72), float64(32), float64(112)},
			code: []bytecode.Instruction{
				bytecode.LoadK{A: 0, Bx: 0},
				bytecode.LoadK{A: 1, Bx: 1},
				bytecode.Arith{Operator: bytecode.ADD, A: 0, B: bytecode.Register(0), C: bytecode.Register(1)},
				bytecode.Arith{Operator: bytecode.ADD, A: 1, B: bytecode.Constant(2), C: bytecode.Constant(3)},
				bytecode.Arith{Operator: bytecode.ADD, A: 2, B: bytecode.Constant(1), C: bytecode.Constant(2)},
				bytecode.Return{A: 0, Values: bytecode.Known(3)},
			},
			result: []any{int64(1346), float64(144), float64(104)},
		},
		{
			desc:      "ADD incompatible types",
			constants: []any{"Don't touch me", int64(1)},
			code: []bytecode.Instruction{
				bytecode.Arith{Operator: bytecode.ADD, A: 0, B: bytecode.Constant(0), C: bytecode.Constant(1)},
			},
			err: lerrors.ErrArithmetic,
		},
		{
			desc:      "CONCAT",
			constants: []any{"a", int64(1), 2.0},
			code: []bytecode.Instruction{
				bytecode.LoadK{A: 0, Bx: 0},
				bytecode.LoadK{A: 1, Bx: 1},
				bytecode.LoadK{A: 2, Bx: 2},
				bytecode.Concat{A: 0, B: 0, C: 2},
				bytecode.Return{A: 0, Values: bytecode.Known(1)},
			},
			result: []any{"a12.0"},
		},
		{
			desc:      "CONCAT nil",
			constants: []any{"a"},
			code: []bytecode.Instruction{
				bytecode.LoadK{A: 0, Bx: 0},
				bytecode.Concat{A: 0, B: 0, C: 1},
			},
			err: lerrors.ErrConcat,
		},
		{
			desc:      "TEST truthy",
			constants: []any{int64(0)},
			code: []bytecode.Instruction{
				bytecode.LoadK{A: 0, Bx: 0},
				bytecode.LoadBool{A: 1, Value: false},
				bytecode.Test{A: 0, C: true},
				bytecode.LoadBool{A: 1, Value: true},
				bytecode.Return{A: 1, Values: bytecode.Known(1)},
			},
			result: []any{true},
		},
		{
			desc:      "TEST falsy",
			constants: []any{nil},
			code: []bytecode.Instruction{
				bytecode.LoadK{A: 0, Bx: 0},
				bytecode.LoadBool{A: 1, Value: false},
				bytecode.Test{A: 0, C: true},
				bytecode.LoadBool{A: 1, Value: true},
				bytecode.Return{A: 1, Values: bytecode.Known(1)},
			},
			result: []any{false},
		},
		{
			desc:      "TESTSET copies",
			constants: []any{int64(5), "unset", "skipped"},
			code: []bytecode.Instruction{
				bytecode.LoadK{A: 0, Bx: 0},
				bytecode.LoadK{A: 1, Bx: 1},
				bytecode.TestSet{A: 1, B: 0, C: true},
				bytecode.Jmp{SBx: 1},
				bytecode.LoadK{A: 1, Bx: 2},
				bytecode.Return{A: 1, Values: bytecode.Known(1)},
			},
			result: []any{int64(5)},
		},
		{
			desc:      "TESTSET skips",
			constants: []any{false, "unset", "skipped"},
			code: []bytecode.Instruction{
				bytecode.LoadK{A: 0, Bx: 0},
				bytecode.LoadK{A: 1, Bx: 1},
				bytecode.TestSet{A: 1, B: 0, C: true},
				bytecode.Jmp{SBx: 1},
				bytecode.LoadK{A: 1, Bx: 2},
				bytecode.Return{A: 1, Values: bytecode.Known(1)},
			},
			result: []any{"skipped"},
		},
		{
			desc:      "EQ expecting true",
			constants: []any{int64(1), 1.0},
			code: []bytecode.Instruction{
				bytecode.LoadBool{A: 0, Value: false},
				bytecode.Compare{Operator: bytecode.EQ, Expect: true, B: bytecode.Constant(0), C: bytecode.Constant(1)},
				bytecode.Jmp{SBx: 1},
				bytecode.LoadBool{A: 0, Value: true},
				bytecode.Return{A: 0, Values: bytecode.Known(1)},
			},
			result: []any{false},
		},
		{
			desc:      "NEWTABLE GETTABLE SETTABLE",
			constants: []any{"x", int64(5), 1.0, "one", int64(1)},
			code: []bytecode.Instruction{
				bytecode.NewTable{A: 0},
				bytecode.SetTable{A: 0, Key: bytecode.Constant(0), Value: bytecode.Constant(1)},
				bytecode.SetTable{A: 0, Key: bytecode.Constant(2), Value: bytecode.Constant(3)},
				bytecode.GetTable{A: 1, B: 0, Key: bytecode.Constant(4)},
				bytecode.GetTable{A: 2, B: 0, Key: bytecode.Constant(0)},
				bytecode.Unary{Operator: bytecode.LEN, A: 3, B: 0},
				bytecode.Return{A: 1, Values: bytecode.Known(3)},
			},
			result: []any{"one", int64(5), int64(1)},
		},
		{
			desc:      "SETTABLE nil key",
			constants: []any{nil, int64(1)},
			code: []bytecode.Instruction{
				bytecode.NewTable{A: 0},
				bytecode.SetTable{A: 0, Key: bytecode.Constant(0), Value: bytecode.Constant(1)},
			},
			err: lerrors.ErrIndex,
		},
		{
			desc:      "SETTABLE NaN key",
			constants: []any{math.NaN(), int64(1)},
			code: []bytecode.Instruction{
				bytecode.NewTable{A: 0},
				bytecode.SetTable{A: 0, Key: bytecode.Constant(0), Value: bytecode.Constant(1)},
			},
			err: lerrors.ErrIndex,
		},
		{
			desc:      "GETTABLE on a number",
			constants: []any{int64(1)},
			code: []bytecode.Instruction{
				bytecode.LoadK{A: 0, Bx: 0},
				bytecode.GetTable{A: 1, B: 0, Key: bytecode.Constant(0)},
			},
			err: lerrors.ErrIndex,
		},
		{
			desc:      "SETLIST",
			constants: []any{"a", "b", "c", int64(3)},
			code: []bytecode.Instruction{
				bytecode.NewTable{A: 0, B: 3},
				bytecode.LoadK{A: 1, Bx: 0},
				bytecode.LoadK{A: 2, Bx: 1},
				bytecode.LoadK{A: 3, Bx: 2},
				bytecode.SetList{A: 0, Values: bytecode.Known(3), Block: 1},
				bytecode.Unary{Operator: bytecode.LEN, A: 1, B: 0},
				bytecode.GetTable{A: 2, B: 0, Key: bytecode.Constant(3)},
				bytecode.Return{A: 1, Values: bytecode.Known(2)},
			},
			result: []any{int64(3), "c"},
		},
		{
			desc:      "SETLIST second block from EXTRAARG",
			constants: []any{"x", int64(51)},
			code: []bytecode.Instruction{
				bytecode.NewTable{A: 0},
				bytecode.LoadK{A: 1, Bx: 0},
				bytecode.SetList{A: 0, Values: bytecode.Known(1), Block: 0},
				bytecode.ExtraArg{Ax: 2},
				bytecode.GetTable{A: 1, B: 0, Key: bytecode.Constant(1)},
				bytecode.Return{A: 1, Values: bytecode.Known(1)},
			},
			result: []any{"x"},
		},
		{
			desc:      "SELF",
			constants: []any{"name", "obj"},
			code: []bytecode.Instruction{
				bytecode.NewTable{A: 0},
				bytecode.SetTable{A: 0, Key: bytecode.Constant(0), Value: bytecode.Constant(1)},
				bytecode.Self{A: 1, B: 0, Key: bytecode.Constant(0)},
				bytecode.Compare{Operator: bytecode.EQ, Expect: false, B: bytecode.Register(0), C: bytecode.Register(2)},
				bytecode.LoadNil{A: 1, B: 0},
				bytecode.Return{A: 1, Values: bytecode.Known(1)},
			},
			result: []any{"obj"},
		},
		{
			desc:      "FORPREP FORLOOP integer",
			constants: []any{int64(0), int64(1), int64(10)},
			code: []bytecode.Instruction{
				bytecode.LoadK{A: 0, Bx: 0},
				bytecode.LoadK{A: 1, Bx: 1},
				bytecode.LoadK{A: 2, Bx: 2},
				bytecode.LoadK{A: 3, Bx: 1},
				bytecode.ForPrep{A: 1, SBx: 1},
				bytecode.Arith{Operator: bytecode.ADD, A: 0, B: bytecode.Register(0), C: bytecode.Register(4)},
				bytecode.ForLoop{A: 1, SBx: -2},
				bytecode.Return{A: 0, Values: bytecode.Known(1)},
			},
			result: []any{int64(55)},
		},
		{
			desc:      "FORPREP FORLOOP float",
			constants: []any{int64(0), 1.0, 2.0, 0.5},
			code: []bytecode.Instruction{
				bytecode.LoadK{A: 0, Bx: 0},
				bytecode.LoadK{A: 1, Bx: 1},
				bytecode.LoadK{A: 2, Bx: 2},
				bytecode.LoadK{A: 3, Bx: 3},
				bytecode.ForPrep{A: 1, SBx: 1},
				bytecode.Arith{Operator: bytecode.ADD, A: 0, B: bytecode.Register(0), C: bytecode.Register(4)},
				bytecode.ForLoop{A: 1, SBx: -2},
				bytecode.Return{A: 0, Values: bytecode.Known(1)},
			},
			result: []any{4.5},
		},
		{
			desc:      "FORPREP FORLOOP counting down with float limit",
			constants: []any{int64(0), int64(3), 0.5, int64(-1)},
			code: []bytecode.Instruction{
				bytecode.LoadK{A: 0, Bx: 0},
				bytecode.LoadK{A: 1, Bx: 1},
				bytecode.LoadK{A: 2, Bx: 2},
				bytecode.LoadK{A: 3, Bx: 3},
				bytecode.ForPrep{A: 1, SBx: 1},
				bytecode.Arith{Operator: bytecode.ADD, A: 0, B: bytecode.Register(0), C: bytecode.Register(4)},
				bytecode.ForLoop{A: 1, SBx: -2},
				bytecode.Return{A: 0, Values: bytecode.Known(1)},
			},
			result: []any{int64(6)},
		},
		{
			desc:      "FORPREP zero step",
			constants: []any{int64(1), int64(0)},
			code: []bytecode.Instruction{
				bytecode.LoadK{A: 0, Bx: 0},
				bytecode.LoadK{A: 1, Bx: 0},
				bytecode.LoadK{A: 2, Bx: 1},
				bytecode.ForPrep{A: 0, SBx: 0},
			},
			err: lerrors.ErrForLoop,
		},
		{
			desc:      "FORPREP non numeric",
			constants: []any{"a", int64(1)},
			code: []bytecode.Instruction{
				bytecode.LoadK{A: 0, Bx: 0},
				bytecode.LoadK{A: 1, Bx: 1},
				bytecode.LoadK{A: 2, Bx: 1},
				bytecode.ForPrep{A: 0, SBx: 0},
			},
			err: lerrors.ErrForLoop,
		},
		{
			desc:      "TFORCALL TFORLOOP with ipairs",
			constants: []any{int64(10), int64(20), int64(30), int64(0), "ipairs"},
			code: []bytecode.Instruction{
				bytecode.NewTable{A: 0, B: 3},
				bytecode.LoadK{A: 1, Bx: 0},
				bytecode.LoadK{A: 2, Bx: 1},
				bytecode.LoadK{A: 3, Bx: 2},
				bytecode.SetList{A: 0, Values: bytecode.Known(3), Block: 1},
				bytecode.LoadK{A: 1, Bx: 3},
				bytecode.GetTabUp{A: 2, B: 0, Key: bytecode.Constant(4)},
				bytecode.Move{A: 3, B: 0},
				bytecode.Call{A: 2, Params: bytecode.Known(1), Returns: bytecode.Known(3)},
				bytecode.Jmp{SBx: 1},
				bytecode.Arith{Operator: bytecode.ADD, A: 1, B: bytecode.Register(1), C: bytecode.Register(6)},
				bytecode.TForCall{A: 2, Results: 2},
				bytecode.TForLoop{A: 4, SBx: -3},
				bytecode.Return{A: 1, Values: bytecode.Known(1)},
			},
			result: []any{int64(60)},
		},
		{
			desc:      "CALL nil value",
			constants: []any{"nope"},
			code: []bytecode.Instruction{
				bytecode.GetTabUp{A: 0, B: 0, Key: bytecode.Constant(0)},
				bytecode.Call{A: 0, Params: bytecode.Known(0), Returns: bytecode.Known(0)},
			},
			err: lerrors.ErrNotCallable,
		},
		{
			desc:      "CALL with unknown params and results",
			constants: []any{"select", "#", "ipairs", int64(1)},
			code: []bytecode.Instruction{
				bytecode.GetTabUp{A: 0, B: 0, Key: bytecode.Constant(0)},
				bytecode.LoadK{A: 1, Bx: 1},
				bytecode.GetTabUp{A: 2, B: 0, Key: bytecode.Constant(2)},
				bytecode.NewTable{A: 3},
				bytecode.Call{A: 2, Params: bytecode.Known(1), Returns: bytecode.Unknown},
				bytecode.Call{A: 0, Params: bytecode.Unknown, Returns: bytecode.Known(1)},
				bytecode.Return{A: 0, Values: bytecode.Known(1)},
			},
			result: []any{int64(3)},
		},
		{
			desc:      "GETUPVAL out of range",
			constants: []any{},
			code: []bytecode.Instruction{
				bytecode.GetUpval{A: 0, B: 3},
			},
			err: lerrors.ErrOutOfRange,
		},
	}

	for _, tc := range testcases {
		t.Run(tc.desc, func(t *testing.T) {
			t.Parallel()
			vm, _ := newTestVM(t, newMain(tc.constants, tc.code...))
			value, err := vm.Run()
			if tc.err == nil {
				require.NoError(t, err)
				assert.Equal(t, tc.result, value, "result value not equal")
			} else {
				require.ErrorIs(t, err, tc.err)
				assert.True(t, lerrors.Is(err, lerrors.RuntimeErr))
				require.Nil(t, value)
			}
		})
	}
}

func TestVM_Vararg(t *testing.T) {
	t.Parallel()

	t.Run("all", func(t *testing.T) {
		t.Parallel()
		vm, _ := newTestVM(t, newMain(nil,
			bytecode.Vararg{A: 0, Count: bytecode.Unknown},
			bytecode.Return{A: 0, Values: bytecode.Unknown},
		), int64(1), "two", 3.0)
		res, err := vm.Run()
		require.NoError(t, err)
		assert.Equal(t, []any{int64(1), "two", 3.0}, res)
	})

	t.Run("padded", func(t *testing.T) {
		t.Parallel()
		vm, _ := newTestVM(t, newMain(nil,
			bytecode.Vararg{A: 0, Count: bytecode.Known(3)},
			bytecode.Return{A: 0, Values: bytecode.Known(3)},
		), int64(1))
		res, err := vm.Run()
		require.NoError(t, err)
		assert.Equal(t, []any{int64(1), nil, nil}, res)
	})
}

func TestVM_Step(t *testing.T) {
	t.Parallel()

	t.Run("return only halts in one step", func(t *testing.T) {
		t.Parallel()
		vm, _ := newTestVM(t, newMain(nil, bytecode.Return{A: 0, Values: bytecode.Known(0)}))
		assert.False(t, vm.Halted())
		assert.Equal(t, 1, vm.CallDepth())
		require.NoError(t, vm.Step())
		assert.True(t, vm.Halted())
		assert.Equal(t, int64(1), vm.Steps())
		assert.Equal(t, 0, vm.CallDepth())
		assert.Empty(t, vm.Results())
		require.ErrorIs(t, vm.Step(), lerrors.ErrHalted)
	})

	t.Run("falling off the end returns", func(t *testing.T) {
		t.Parallel()
		vm, _ := newTestVM(t, newMain(nil))
		require.NoError(t, vm.Step())
		assert.True(t, vm.Halted())
	})

	t.Run("on step hook", func(t *testing.T) {
		t.Parallel()
		vm, _ := newTestVM(t, newMain([]any{int64(1)},
			bytecode.LoadK{A: 0, Bx: 0},
			bytecode.Return{A: 0, Values: bytecode.Known(1)},
		))
		seen := []StepInfo{}
		vm.OnStep = func(info StepInfo) { seen = append(seen, info) }
		_, err := vm.Run()
		require.NoError(t, err)
		require.Len(t, seen, 2)
		assert.Equal(t, StepInfo{Depth: 1, Source: "test.lua", Line: 1, PC: 0, Instruction: bytecode.LoadK{A: 0, Bx: 0}}, seen[0])
		assert.Equal(t, bytecode.RETURN, seen[1].Instruction.Op())
		assert.Equal(t, "test.lua:1 [1] LOADK      0     0", seen[0].String())
	})

	t.Run("cancelled context", func(t *testing.T) {
		t.Parallel()
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		vm := New(ctx, nil)
		require.NoError(t, vm.Load(chunk.New(newMain(nil, bytecode.Return{A: 0, Values: bytecode.Known(0)}))))
		require.ErrorIs(t, vm.Step(), context.Canceled)
		assert.False(t, vm.Halted())
	})

	t.Run("errors stick", func(t *testing.T) {
		t.Parallel()
		vm, _ := newTestVM(t, newMain([]any{true, int64(1)},
			bytecode.Arith{Operator: bytecode.ADD, A: 0, B: bytecode.Constant(0), C: bytecode.Constant(1)},
			bytecode.Return{A: 0, Values: bytecode.Known(0)},
		))
		err := vm.Step()
		require.ErrorIs(t, err, lerrors.ErrArithmetic)
		assert.Equal(t, err, vm.Err())
		assert.Equal(t, err, vm.Step())
		assert.Equal(t, 1, vm.CallDepth())
		assert.Equal(t, int64(1), vm.Steps())

		var lerr *lerrors.Error
		require.ErrorAs(t, err, &lerr)
		assert.Equal(t, "test.lua", lerr.Filename)
		assert.Equal(t, int64(1), lerr.Line)
		assert.Equal(t, "lua:test.lua:1: attempt to perform arithmetic on a boolean value\nstack traceback:\n\ttest.lua:1: in main chunk", lerr.Error())
	})
}

func TestEnsureStackSize(t *testing.T) {
	t.Parallel()
	vm := New(context.Background(), nil)
	require.NoError(t, vm.ensureStackSize(500))
	assert.Greater(t, len(vm.Stack), 500)
	require.ErrorIs(t, vm.ensureStackSize(2_000_000), lerrors.ErrStackOverflow)
}
