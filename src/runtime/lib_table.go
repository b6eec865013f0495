package runtime

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

const maxUnpack = 1_000_000

func createTableLib() *Table {
	return NewTable(nil, map[any]any{
		"concat": Fn("table.concat", stdTableConcat),
		"insert": Fn("table.insert", stdTableInsert),
		"pack":   Fn("table.pack", stdTablePack),
		"remove": Fn("table.remove", stdTableRemove),
		"sort":   Fn("table.sort", stdTableSort),
		"unpack": Fn("table.unpack", stdTableUnpack),
	})
}

// ArgTable builds the global arg table for a script: the script name at index
// 0 followed by its arguments.
func ArgTable(script string, args []string) *Table {
	vals := make([]any, len(args))
	for i, a := range args {
		vals[i] = a
	}
	tbl := NewTable(vals, nil)
	_ = tbl.Set(int64(0), script)
	return tbl
}

func optInteger(args []any, idx int, def int64) int64 {
	if idx < len(args) && args[idx] != nil {
		if ival, ok := toInteger(args[idx]); ok {
			return ival
		}
	}
	return def
}

func stdTableConcat(_ *VM, args []any) ([]any, error) {
	if err := assertArguments(args, "concat", "table", "~string|number", "~number", "~number"); err != nil {
		return nil, err
	}
	tbl := args[0].(*Table)
	sep := ""
	if len(args) > 1 && args[1] != nil {
		sep = ToString(args[1])
	}
	i, j := optInteger(args, 2, 1), optInteger(args, 3, tbl.Len())
	strParts := []string{}
	for k := i; k <= j; k++ {
		val := tbl.Get(k)
		if !isString(val) && !isNumber(val) {
			return nil, fmt.Errorf("invalid value (at index %d) in table for 'concat'", k)
		}
		strParts = append(strParts, ToString(val))
	}
	return []any{strings.Join(strParts, sep)}, nil
}

func stdTableInsert(_ *VM, args []any) ([]any, error) {
	if err := assertArguments(args, "insert", "table", "value"); err != nil {
		return nil, err
	}
	tbl := args[0].(*Table)
	end := tbl.Len() + 1
	switch len(args) {
	case 2:
		return nil, tbl.Set(end, args[1])
	case 3:
		pos, ok := toInteger(args[1])
		if !ok {
			return nil, argumentErr(2, "insert", fmt.Errorf("number expected, got %v", typeName(args[1])))
		} else if pos < 1 || pos > end {
			return nil, argumentErr(2, "insert", errors.New("position out of bounds"))
		}
		for i := end; i > pos; i-- {
			if err := tbl.Set(i, tbl.Get(i-1)); err != nil {
				return nil, err
			}
		}
		return nil, tbl.Set(pos, args[2])
	default:
		return nil, errors.New("wrong number of arguments to 'insert'")
	}
}

func stdTableRemove(_ *VM, args []any) ([]any, error) {
	if err := assertArguments(args, "remove", "table", "~number"); err != nil {
		return nil, err
	}
	tbl := args[0].(*Table)
	size := tbl.Len()
	pos := optInteger(args, 1, size)
	if len(args) > 1 && pos != size && (pos < 1 || pos > size+1) {
		return nil, argumentErr(2, "remove", errors.New("position out of bounds"))
	}
	val := tbl.Get(pos)
	for ; pos < size; pos++ {
		if err := tbl.Set(pos, tbl.Get(pos+1)); err != nil {
			return nil, err
		}
	}
	if err := tbl.Set(pos, nil); err != nil {
		return nil, err
	}
	return []any{val}, nil
}

func stdTablePack(_ *VM, args []any) ([]any, error) {
	tbl := NewTable(args, nil)
	_ = tbl.Set("n", int64(len(args)))
	return []any{tbl}, nil
}

func stdTableUnpack(_ *VM, args []any) ([]any, error) {
	if err := assertArguments(args, "unpack", "table", "~number", "~number"); err != nil {
		return nil, err
	}
	tbl := args[0].(*Table)
	i, j := optInteger(args, 1, 1), optInteger(args, 2, tbl.Len())
	if i > j {
		return []any{}, nil
	} else if j-i < 0 || j-i >= maxUnpack {
		return nil, errors.New("too many results to unpack")
	}
	vals := make([]any, 0, j-i+1)
	for k := i; k <= j; k++ {
		vals = append(vals, tbl.Get(k))
	}
	return vals, nil
}

// stdTableSort sorts the sequence in place with the < operator or a builtin
// comparator. Lua comparators would need a nested run of the vm inside a
// single step so they are rejected.
func stdTableSort(vm *VM, args []any) ([]any, error) {
	if err := assertArguments(args, "sort", "table", "~function"); err != nil {
		return nil, err
	}
	tbl := args[0].(*Table)
	less := func(l, r any) (bool, error) { return lessThan(l, r) }
	if len(args) > 1 && args[1] != nil {
		cmp, isGo := args[1].(*GoFunc)
		if !isGo {
			return nil, argumentErr(2, "sort", errors.New("only builtin comparators are supported"))
		}
		less = func(l, r any) (bool, error) {
			res, err := cmp.val(vm, []any{l, r})
			return len(res) > 0 && toBool(res[0]), err
		}
	}

	n := tbl.Len()
	vals := make([]any, 0, n)
	for i := int64(1); i <= n; i++ {
		vals = append(vals, tbl.Get(i))
	}
	var sortErr error
	slices.SortStableFunc(vals, func(l, r any) int {
		if sortErr != nil {
			return 0
		}
		if lt, err := less(l, r); err != nil {
			sortErr = err
		} else if lt {
			return -1
		} else if gt, err := less(r, l); err != nil {
			sortErr = err
		} else if gt {
			return 1
		}
		return 0
	})
	if sortErr != nil {
		return nil, sortErr
	}
	for i, val := range vals {
		if err := tbl.Set(int64(i+1), val); err != nil {
			return nil, err
		}
	}
	return nil, nil
}
