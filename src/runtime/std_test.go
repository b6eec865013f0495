package runtime

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tanema/luavm/src/bytecode"
	"github.com/tanema/luavm/src/lerrors"
)

func TestStdPrint(t *testing.T) {
	t.Parallel()
	vm := New(context.Background(), nil)
	out := &bytes.Buffer{}
	vm.Stdout = out
	res, err := stdPrint(vm, []any{int64(1), "a", nil, 2.0, true})
	require.NoError(t, err)
	assert.Nil(t, res)
	assert.Equal(t, "1\ta\tnil\t2.0\ttrue\n", out.String())
}

func TestStdLib(t *testing.T) {
	t.Parallel()

	testcases := []struct {
		desc     string
		fn       func(*VM, []any) ([]any, error)
		args     []any
		expected []any
		errMsg   string
	}{
		{desc: "tostring int", fn: stdToString, args: []any{int64(5)}, expected: []any{"5"}},
		{desc: "tostring float", fn: stdToString, args: []any{10.0}, expected: []any{"10.0"}},
		{desc: "tostring nil", fn: stdToString, args: []any{nil}, expected: []any{"nil"}},
		{desc: "tostring no args", fn: stdToString, args: []any{}, errMsg: "bad argument #1 to 'tostring' (value expected)"},
		{desc: "tonumber numeral", fn: stdToNumber, args: []any{"0x10"}, expected: []any{int64(16)}},
		{desc: "tonumber number", fn: stdToNumber, args: []any{2.5}, expected: []any{2.5}},
		{desc: "tonumber garbage", fn: stdToNumber, args: []any{"abc"}, expected: []any{nil}},
		{desc: "tonumber bool", fn: stdToNumber, args: []any{true}, expected: []any{nil}},
		{desc: "tonumber base 2", fn: stdToNumber, args: []any{"101", int64(2)}, expected: []any{int64(5)}},
		{desc: "tonumber base 36", fn: stdToNumber, args: []any{"ZZ", int64(36)}, expected: []any{int64(1295)}},
		{desc: "tonumber bad digit", fn: stdToNumber, args: []any{"8", int64(8)}, expected: []any{nil}},
		{desc: "tonumber base range", fn: stdToNumber, args: []any{"1", int64(99)}, errMsg: "bad argument #2 to 'tonumber' (base out of range)"},
		{desc: "tonumber base needs string", fn: stdToNumber, args: []any{int64(1), int64(10)}, errMsg: "bad argument #1 to 'tonumber' (string expected, got number)"},
		{desc: "type", fn: stdType, args: []any{NewTable(nil, nil)}, expected: []any{"table"}},
		{desc: "type nil", fn: stdType, args: []any{nil}, expected: []any{"nil"}},
		{desc: "type no args", fn: stdType, args: []any{}, errMsg: "bad argument #1 to 'type' (value expected)"},
		{desc: "select count", fn: stdSelect, args: []any{"#", "a", "b"}, expected: []any{int64(2)}},
		{desc: "select index", fn: stdSelect, args: []any{int64(2), "a", "b", "c"}, expected: []any{"b", "c"}},
		{desc: "select negative", fn: stdSelect, args: []any{int64(-1), "a", "b"}, expected: []any{"b"}},
		{desc: "select past end", fn: stdSelect, args: []any{int64(5), "a"}, expected: []any{}},
		{desc: "select zero", fn: stdSelect, args: []any{int64(0), "a"}, errMsg: "bad argument #1 to 'select' (index out of range)"},
		{desc: "select too negative", fn: stdSelect, args: []any{int64(-3), "a"}, errMsg: "bad argument #1 to 'select' (index out of range)"},
		{desc: "select bad string", fn: stdSelect, args: []any{"x"}, errMsg: "bad argument #1 to 'select' (number expected, got string)"},
		{desc: "rawlen string", fn: stdRawLen, args: []any{"abc"}, expected: []any{int64(3)}},
		{desc: "rawlen table", fn: stdRawLen, args: []any{NewTable([]any{int64(1), int64(2)}, nil)}, expected: []any{int64(2)}},
		{desc: "rawlen number", fn: stdRawLen, args: []any{int64(5)}, errMsg: "bad argument #1 to 'rawlen' (string or table expected, got number)"},
		{desc: "rawequal", fn: stdRawEq, args: []any{int64(1), 1.0}, expected: []any{true}},
		{desc: "rawequal strings", fn: stdRawEq, args: []any{"a", "b"}, expected: []any{false}},
		{desc: "rawget", fn: stdRawGet, args: []any{NewTable([]any{"x"}, nil), int64(1)}, expected: []any{"x"}},
		{desc: "rawget not table", fn: stdRawGet, args: []any{"x", int64(1)}, errMsg: "bad argument #1 to 'rawget' (table expected, got string)"},
		{desc: "assert passes values", fn: stdAssert, args: []any{int64(1), "msg"}, expected: []any{int64(1), "msg"}},
		{desc: "os.difftime", fn: stdOSDifftime, args: []any{int64(10), int64(4)}, expected: []any{6.0}},
		{desc: "os.date utc", fn: stdOSDate, args: []any{"!%Y-%m-%d %H:%M:%S", int64(0)}, expected: []any{"1970-01-01 00:00:00"}},
		{desc: "os.getenv missing", fn: stdOSGetenv, args: []any{"LUAVM_TEST_UNSET_VARIABLE"}, expected: []any{nil}},
		{desc: "os.time missing field", fn: stdOSTime, args: []any{NewTable(nil, map[any]any{"year": int64(2000)})}, errMsg: "field 'month' missing in date table"},
	}

	for _, tc := range testcases {
		t.Run(tc.desc, func(t *testing.T) {
			t.Parallel()
			vm := New(context.Background(), nil)
			res, err := tc.fn(vm, tc.args)
			if tc.errMsg != "" {
				require.EqualError(t, err, tc.errMsg)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expected, res)
		})
	}
}

func TestStdRawSet(t *testing.T) {
	t.Parallel()
	tbl := NewTable(nil, nil)
	res, err := stdRawSet(nil, []any{tbl, "k", "v"})
	require.NoError(t, err)
	assert.Equal(t, []any{tbl}, res)
	assert.Equal(t, "v", tbl.Get("k"))
	_, err = stdRawSet(nil, []any{tbl, nil, "v"})
	require.ErrorIs(t, err, lerrors.ErrIndex)
}

func TestStdIterators(t *testing.T) {
	t.Parallel()
	tbl := NewTable([]any{"a", "b"}, map[any]any{"k": "v"})

	res, err := stdPairs(nil, []any{tbl})
	require.NoError(t, err)
	require.Len(t, res, 3)
	assert.Same(t, tbl, res[1])
	assert.Nil(t, res[2])

	res, err = stdNext(nil, []any{tbl})
	require.NoError(t, err)
	assert.Equal(t, []any{int64(1), "a"}, res)
	res, err = stdNext(nil, []any{tbl, "k"})
	require.NoError(t, err)
	assert.Equal(t, []any{nil}, res)
	_, err = stdNext(nil, []any{tbl, "missing"})
	require.EqualError(t, err, "bad argument #2 to 'next' (invalid key to 'next')")

	res, err = stdIPairs(nil, []any{tbl})
	require.NoError(t, err)
	iter := res[0].(*GoFunc)
	res, err = iter.val(nil, []any{tbl, int64(1)})
	require.NoError(t, err)
	assert.Equal(t, []any{int64(2), "b"}, res)
	res, err = iter.val(nil, []any{tbl, int64(2)})
	require.NoError(t, err)
	assert.Equal(t, []any{nil}, res)

	_, err = iter.val(nil, []any{})
	require.EqualError(t, err, "bad argument #1 to 'ipairs' (table expected)")
	_, err = iter.val(nil, []any{tbl, "x"})
	require.EqualError(t, err, "bad argument #2 to 'ipairs' (number expected, got string)")
}

func TestIPairsIteratorCalledDirectly(t *testing.T) {
	t.Parallel()
	vm, _ := newTestVM(t, newMain([]any{"ipairs"},
		bytecode.GetTabUp{A: 0, B: 0, Key: bytecode.Constant(0)},
		bytecode.NewTable{A: 1},
		bytecode.Call{A: 0, Params: bytecode.Known(1), Returns: bytecode.Known(1)},
		bytecode.Call{A: 0, Params: bytecode.Known(0), Returns: bytecode.Known(0)},
		bytecode.Return{A: 0, Values: bytecode.Known(0)},
	))
	_, err := vm.Run()
	require.Error(t, err)
	assert.True(t, lerrors.Is(err, lerrors.RuntimeErr))
	assert.Contains(t, err.Error(), "lua:test.lua:4: bad argument #1 to 'ipairs' (table expected)")
}

func TestStdOSDateTable(t *testing.T) {
	t.Parallel()
	res, err := stdOSDate(nil, []any{"!*t", int64(86400 + 3661)})
	require.NoError(t, err)
	tbl := res[0].(*Table)
	assert.Equal(t, int64(1970), tbl.Get("year"))
	assert.Equal(t, int64(1), tbl.Get("month"))
	assert.Equal(t, int64(2), tbl.Get("day"))
	assert.Equal(t, int64(1), tbl.Get("hour"))
	assert.Equal(t, int64(1), tbl.Get("min"))
	assert.Equal(t, int64(1), tbl.Get("sec"))
	assert.Equal(t, int64(6), tbl.Get("wday"))
	assert.Equal(t, int64(2), tbl.Get("yday"))
}

func TestStdOSTime(t *testing.T) {
	t.Parallel()
	res, err := stdOSTime(nil, []any{NewTable(nil, map[any]any{
		"year":  int64(2000),
		"month": int64(1),
		"day":   int64(2),
		"hour":  int64(3),
	})})
	require.NoError(t, err)
	assert.Equal(t, []any{time.Date(2000, 1, 2, 3, 0, 0, 0, time.Local).Unix()}, res)

	res, err = stdOSTime(nil, []any{})
	require.NoError(t, err)
	assert.InDelta(t, time.Now().Unix(), res[0], 5)
}

func TestStdError(t *testing.T) {
	t.Parallel()

	testcases := []struct {
		desc    string
		args    []any
		msg     string
		located bool
	}{
		{desc: "level 1", args: []any{"boom"}, msg: "boom", located: true},
		{desc: "level 0", args: []any{"boom", int64(0)}, msg: "boom"},
		{desc: "level past stack", args: []any{"boom", int64(5)}, msg: "boom"},
		{desc: "non string", args: []any{NewTable(nil, nil)}, msg: "(error object is a table value)", located: true},
		{desc: "no value", args: []any{}, msg: "(error object is a nil value)", located: true},
	}

	for _, tc := range testcases {
		t.Run(tc.desc, func(t *testing.T) {
			t.Parallel()
			code := []bytecode.Instruction{bytecode.GetTabUp{A: 0, B: 0, Key: bytecode.Constant(0)}}
			for i := range tc.args {
				code = append(code, bytecode.LoadK{A: i + 1, Bx: i + 1})
			}
			code = append(code,
				bytecode.Call{A: 0, Params: bytecode.Known(len(tc.args)), Returns: bytecode.Known(0)},
				bytecode.Return{A: 0, Values: bytecode.Known(0)},
			)
			vm, _ := newTestVM(t, newMain(append([]any{"error"}, tc.args...), code...))
			_, err := vm.Run()
			var lerr *lerrors.Error
			require.ErrorAs(t, err, &lerr)
			assert.Equal(t, lerrors.UserErr, lerr.Kind)
			assert.Equal(t, tc.msg, lerr.Err.Error())
			if len(tc.args) > 0 {
				assert.Equal(t, tc.args[0], lerr.Value)
			}
			if tc.located {
				assert.Equal(t, "test.lua", lerr.Filename)
				assert.Equal(t, int64(len(tc.args)+2), lerr.Line)
			} else {
				assert.Empty(t, lerr.Filename)
				assert.Zero(t, lerr.Line)
			}
		})
	}
}
