package runtime

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/tanema/luavm/src/chunk"
)

type (
	// GoFunc is a go func usable by the vm.
	GoFunc struct {
		val  func(*VM, []any) ([]any, error)
		name string
	}
	// Closure is a lua function encapsulated in the vm. The prototype is shared
	// by every closure created from it, the upvalues are per closure.
	Closure struct {
		val      *chunk.FnProto
		upvalues []*upvalueBroker
	}
)

// Fn creates a value that is usable by the vm from a function. This enables exposing
// a go function to the VM.
func Fn(name string, fn func(*VM, []any) ([]any, error)) *GoFunc {
	return &GoFunc{
		name: name,
		val:  fn,
	}
}

// Name is the name the function was registered with.
func (fn *GoFunc) Name() string { return fn.name }

func (fn *GoFunc) String() string {
	return fmt.Sprintf("function: builtin: %s", fn.name)
}

// Proto returns the prototype the closure was instantiated from.
func (fn *Closure) Proto() *chunk.FnProto { return fn.val }

func (fn *Closure) String() string {
	return fmt.Sprintf("function: %p", fn)
}

func typeName(in any) string {
	switch in.(type) {
	case int64, float64:
		return "number"
	case bool:
		return "boolean"
	case string:
		return "string"
	case *Closure, *GoFunc:
		return "function"
	case *Table:
		return "table"
	case nil:
		return "nil"
	default:
		return fmt.Sprintf("%T", in)
	}
}

func toBool(in any) bool {
	switch tin := in.(type) {
	case nil:
		return false
	case bool:
		return tin
	default:
		return true
	}
}

func isNumber(in any) bool {
	switch in.(type) {
	case int64, float64:
		return true
	default:
		return false
	}
}

func isString(in any) bool {
	_, ok := in.(string)
	return ok
}

func toFloat(val any) float64 {
	switch tval := val.(type) {
	case int64:
		return float64(tval)
	case float64:
		return tval
	default:
		return math.NaN()
	}
}

// toNumber converts numbers and numeric strings to a number. The second return
// is false when the value cannot be converted.
func toNumber(in any) (any, bool) {
	switch tin := in.(type) {
	case int64, float64:
		return in, true
	case string:
		return str2number(tin)
	default:
		return nil, false
	}
}

// toInteger converts a value to an integer only when it has an exact integer
// representation.
func toInteger(in any) (int64, bool) {
	num, ok := toNumber(in)
	if !ok {
		return 0, false
	}
	switch tnum := num.(type) {
	case int64:
		return tnum, true
	case float64:
		return floatToInteger(tnum)
	}
	return 0, false
}

func floatToInteger(f float64) (int64, bool) {
	if math.Floor(f) != f || f < -(1<<63) || f >= 1<<63 {
		return 0, false
	}
	return int64(f), true
}

// str2number parses a lua numeral. Decimal and hexadecimal integers become
// int64, everything else that parses becomes float64.
func str2number(str string) (any, bool) {
	str = strings.TrimSpace(str)
	if str == "" {
		return nil, false
	}
	neg := false
	digits := str
	if digits[0] == '-' || digits[0] == '+' {
		neg = digits[0] == '-'
		digits = digits[1:]
	}
	if len(digits) > 2 && (digits[:2] == "0x" || digits[:2] == "0X") {
		hex := digits[2:]
		if !strings.ContainsAny(hex, ".pP") {
			uval, err := strconv.ParseUint(hex, 16, 64)
			if err != nil {
				return nil, false
			}
			ival := int64(uval)
			if neg {
				ival = -ival
			}
			return ival, true
		}
		if !strings.ContainsAny(hex, "pP") {
			str += "p0"
		}
	} else if strings.ContainsAny(digits, "iInN") {
		// inf and nan are not numerals
		return nil, false
	} else if ival, err := strconv.ParseInt(str, 10, 64); err == nil {
		return ival, true
	}
	fval, err := strconv.ParseFloat(str, 64)
	if err != nil {
		return nil, false
	}
	return fval, true
}

func formatFloat(f float64) string {
	switch {
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	case math.IsNaN(f):
		return "nan"
	}
	str := strconv.FormatFloat(f, 'g', 14, 64)
	if !strings.ContainsAny(str, ".eEn") {
		str += ".0"
	}
	return str
}

// ToString will format a vm value to a printable string.
func ToString(val any) string {
	switch tin := val.(type) {
	case nil:
		return "nil"
	case string:
		return tin
	case bool:
		return strconv.FormatBool(tin)
	case int64:
		return strconv.FormatInt(tin, 10)
	case float64:
		return formatFloat(tin)
	case *Table:
		return fmt.Sprintf("table: %p", tin)
	case fmt.Stringer:
		return tin.String()
	default:
		return fmt.Sprintf("%v", val)
	}
}

// Repr formats a value the way it would be written in source, strings are quoted.
func Repr(val any) string {
	if str, ok := val.(string); ok {
		return strconv.Quote(str)
	}
	return ToString(val)
}
