package runtime

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/tanema/luavm/src/conf"
)

func createDefaultEnv() *Table {
	return NewTable(nil, map[any]any{
		"_VERSION": conf.LUAVERSION,
		"assert":   Fn("assert", stdAssert),
		"error":    Fn("error", stdError),
		"ipairs":   Fn("ipairs", stdIPairs),
		"next":     Fn("next", stdNext),
		"pairs":    Fn("pairs", stdPairs),
		"print":    Fn("print", stdPrint),
		"rawequal": Fn("rawequal", stdRawEq),
		"rawget":   Fn("rawget", stdRawGet),
		"rawlen":   Fn("rawlen", stdRawLen),
		"rawset":   Fn("rawset", stdRawSet),
		"select":   Fn("select", stdSelect),
		"tonumber": Fn("tonumber", stdToNumber),
		"tostring": Fn("tostring", stdToString),
		"type":     Fn("type", stdType),
		"os":       createOSLib(),
		"table":    createTableLib(),
	})
}

// NewEnv creates a fresh default environment. Every vm should get its own.
func NewEnv() *Table { return createDefaultEnv() }

func stdprintaux(args []any, out io.Writer, split string) ([]any, error) {
	strParts := make([]string, len(args))
	for i, arg := range args {
		strParts[i] = ToString(arg)
	}
	_, err := fmt.Fprintln(out, strings.Join(strParts, split))
	return nil, err
}

func stdPrint(vm *VM, args []any) ([]any, error) {
	return stdprintaux(args, vm.Stdout, "\t")
}

func stdAssert(vm *VM, args []any) ([]any, error) {
	if err := assertArguments(args, "assert", "value", "~value"); err != nil {
		return nil, err
	} else if toBool(args[0]) {
		return args, nil
	} else if len(args) > 1 {
		return nil, newAssertErr(vm, args[1])
	}
	return nil, newAssertErr(vm, nil)
}

func stdToString(_ *VM, args []any) ([]any, error) {
	if err := assertArguments(args, "tostring", "value"); err != nil {
		return nil, err
	}
	return []any{ToString(args[0])}, nil
}

func stdToNumber(_ *VM, args []any) ([]any, error) {
	if err := assertArguments(args, "tonumber", "value", "~number"); err != nil {
		return nil, err
	}
	if len(args) < 2 || args[1] == nil {
		num, _ := toNumber(args[0])
		return []any{num}, nil
	}
	base, ok := toInteger(args[1])
	if !ok {
		return nil, argumentErr(2, "tonumber", errors.New("number has no integer representation"))
	} else if base < 2 || base > 36 {
		return nil, argumentErr(2, "tonumber", errors.New("base out of range"))
	}
	str, isStr := args[0].(string)
	if !isStr {
		return nil, argumentErr(1, "tonumber", fmt.Errorf("string expected, got %v", typeName(args[0])))
	}
	val, err := strconv.ParseInt(strings.ToLower(strings.TrimSpace(str)), int(base), 64)
	if err != nil {
		return []any{nil}, nil
	}
	return []any{val}, nil
}

func stdType(_ *VM, args []any) ([]any, error) {
	if err := assertArguments(args, "type", "value"); err != nil {
		return nil, err
	}
	return []any{typeName(args[0])}, nil
}

func stdNext(_ *VM, args []any) ([]any, error) {
	if err := assertArguments(args, "next", "table", "~value"); err != nil {
		return nil, err
	}
	var key any
	if len(args) > 1 {
		key = args[1]
	}
	nkey, val, err := args[0].(*Table).Next(key)
	if err != nil {
		return nil, argumentErr(2, "next", err)
	} else if nkey == nil {
		return []any{nil}, nil
	}
	return []any{nkey, val}, nil
}

func stdPairs(_ *VM, args []any) ([]any, error) {
	if err := assertArguments(args, "pairs", "table"); err != nil {
		return nil, err
	}
	return []any{Fn("next", stdNext), args[0], nil}, nil
}

func stdIPairsIterator(_ *VM, args []any) ([]any, error) {
	if err := assertArguments(args, "ipairs", "table", "number"); err != nil {
		return nil, err
	}
	table := args[0].(*Table)
	i, _ := toInteger(args[1])
	val := table.Get(i + 1)
	if val == nil {
		return []any{nil}, nil
	}
	return []any{i + 1, val}, nil
}

func stdIPairs(_ *VM, args []any) ([]any, error) {
	if err := assertArguments(args, "ipairs", "table"); err != nil {
		return nil, err
	}
	return []any{Fn("ipairs.next", stdIPairsIterator), args[0], int64(0)}, nil
}

func stdError(vm *VM, args []any) ([]any, error) {
	if err := assertArguments(args, "error", "~value", "~number"); err != nil {
		return nil, err
	}
	var errObj any
	if len(args) > 0 {
		errObj = args[0]
	}
	level := int64(1)
	if len(args) > 1 {
		level, _ = toInteger(args[1])
	}
	return nil, newUserErr(vm, int(level), errObj)
}

func stdRawGet(_ *VM, args []any) ([]any, error) {
	if err := assertArguments(args, "rawget", "table", "value"); err != nil {
		return nil, err
	}
	return []any{args[0].(*Table).Get(args[1])}, nil
}

func stdRawSet(_ *VM, args []any) ([]any, error) {
	if err := assertArguments(args, "rawset", "table", "value", "value"); err != nil {
		return nil, err
	}
	if err := args[0].(*Table).Set(args[1], args[2]); err != nil {
		return nil, err
	}
	return []any{args[0]}, nil
}

func stdRawEq(_ *VM, args []any) ([]any, error) {
	if err := assertArguments(args, "rawequal", "value", "value"); err != nil {
		return nil, err
	}
	return []any{eq(args[0], args[1])}, nil
}

func stdRawLen(_ *VM, args []any) ([]any, error) {
	if err := assertArguments(args, "rawlen", "string|table"); err != nil {
		return nil, err
	}
	res, err := length(args[0])
	if err != nil {
		return nil, err
	}
	return []any{res}, nil
}

func stdSelect(_ *VM, args []any) ([]any, error) {
	if err := assertArguments(args, "select", "number|string"); err != nil {
		return nil, err
	}
	rest := args[1:]
	if strArg, isStr := args[0].(string); isStr {
		if strArg != "#" {
			return nil, argumentErr(1, "select", errors.New("number expected, got string"))
		}
		return []any{int64(len(rest))}, nil
	}

	sel, ok := toInteger(args[0])
	if !ok {
		return nil, argumentErr(1, "select", errors.New("number has no integer representation"))
	}
	switch {
	case sel < 0:
		idx := int64(len(rest)) + sel
		if idx < 0 {
			return nil, argumentErr(1, "select", errors.New("index out of range"))
		}
		return rest[idx:], nil
	case sel == 0:
		return nil, argumentErr(1, "select", errors.New("index out of range"))
	case sel > int64(len(rest)):
		return []any{}, nil
	default:
		return rest[sel-1:], nil
	}
}

func assertArguments(args []any, methodName string, assertions ...string) error {
	for i, assertion := range assertions {
		optional := strings.HasPrefix(assertion, "~")
		expectedTypes := strings.Split(strings.TrimPrefix(assertion, "~"), "|")
		if i >= len(args) && !optional {
			return argumentErr(i+1, methodName, fmt.Errorf("%v expected", strings.Join(expectedTypes, " or ")))
		} else if i >= len(args) && optional {
			return nil
		} else if strings.TrimPrefix(assertion, "~") == "value" {
			continue
		} else if optional && args[i] == nil {
			continue
		}

		valType := typeName(args[i])
		typeFound := false
		for _, expected := range expectedTypes {
			if expected == valType {
				typeFound = true
				break
			}
		}
		if !typeFound {
			return argumentErr(i+1, methodName, fmt.Errorf("%v expected, got %v", strings.Join(expectedTypes, " or "), valType))
		}
	}
	return nil
}

func argumentErr(nArg int, methodName string, err error) error {
	return fmt.Errorf("bad argument #%v to '%v' (%w)", nArg, methodName, err)
}
