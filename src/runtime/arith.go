package runtime

import (
	"math"
	"strings"

	"github.com/tanema/luavm/src/bytecode"
	"github.com/tanema/luavm/src/lerrors"
)

func arith(op bytecode.Op, lval, rval any) (any, error) {
	switch op {
	case bytecode.BAND, bytecode.BOR, bytecode.BXOR, bytecode.SHL, bytecode.SHR, bytecode.BNOT:
		return bitwiseArith(op, lval, rval)
	}

	lnum, lok := toNumber(lval)
	rnum, rok := toNumber(rval)
	if !lok {
		return nil, errorf(lerrors.ErrArithmetic, "attempt to perform arithmetic on a %v value", typeName(lval))
	} else if !rok {
		return nil, errorf(lerrors.ErrArithmetic, "attempt to perform arithmetic on a %v value", typeName(rval))
	}

	switch op {
	case bytecode.DIV, bytecode.POW:
		return floatArith(op, toFloat(lnum), toFloat(rnum)), nil
	default:
		liva, lisInt := lnum.(int64)
		riva, risInt := rnum.(int64)
		if lisInt && risInt {
			return intArith(op, liva, riva)
		}
		return floatArith(op, toFloat(lnum), toFloat(rnum)), nil
	}
}

func bitwiseArith(op bytecode.Op, lval, rval any) (any, error) {
	liva, err := bitwiseOperand(lval)
	if err != nil {
		return nil, err
	}
	if op == bytecode.BNOT {
		return ^liva, nil
	}
	riva, err := bitwiseOperand(rval)
	if err != nil {
		return nil, err
	}
	return intArith(op, liva, riva)
}

func bitwiseOperand(val any) (int64, error) {
	if ival, ok := toInteger(val); ok {
		return ival, nil
	} else if _, isNum := toNumber(val); isNum {
		return 0, errorf(lerrors.ErrNoIntegerRep, "number has no integer representation")
	}
	return 0, errorf(lerrors.ErrArithmetic, "attempt to perform bitwise operation on a %v value", typeName(val))
}

func intArith(op bytecode.Op, lval, rval int64) (int64, error) {
	switch op {
	case bytecode.ADD:
		return lval + rval, nil
	case bytecode.SUB:
		return lval - rval, nil
	case bytecode.MUL:
		return lval * rval, nil
	case bytecode.IDIV:
		if rval == 0 {
			return 0, errorf(lerrors.ErrArithmetic, "attempt to perform 'n//0'")
		}
		quo := lval / rval
		if lval%rval != 0 && (lval^rval) < 0 {
			quo--
		}
		return quo, nil
	case bytecode.MOD:
		if rval == 0 {
			return 0, errorf(lerrors.ErrArithmetic, "attempt to perform 'n%%0'")
		}
		rem := lval % rval
		if rem != 0 && (rem^rval) < 0 {
			rem += rval
		}
		return rem, nil
	case bytecode.UNM:
		return -lval, nil
	case bytecode.BAND:
		return lval & rval, nil
	case bytecode.BOR:
		return lval | rval, nil
	case bytecode.BXOR:
		return lval ^ rval, nil
	case bytecode.SHL:
		return shiftLeft(lval, rval), nil
	case bytecode.SHR:
		return shiftLeft(lval, -rval), nil
	default:
		return 0, errorf(lerrors.ErrArithmetic, "cannot perform integer %v", op)
	}
}

// shiftLeft is a logical shift, negative amounts shift right.
func shiftLeft(val, n int64) int64 {
	switch {
	case n <= -64 || n >= 64:
		return 0
	case n >= 0:
		return int64(uint64(val) << uint64(n))
	default:
		return int64(uint64(val) >> uint64(-n))
	}
}

func floatArith(op bytecode.Op, lval, rval float64) float64 {
	switch op {
	case bytecode.ADD:
		return lval + rval
	case bytecode.SUB:
		return lval - rval
	case bytecode.MUL:
		return lval * rval
	case bytecode.DIV:
		return lval / rval
	case bytecode.POW:
		return math.Pow(lval, rval)
	case bytecode.IDIV:
		return math.Floor(lval / rval)
	case bytecode.UNM:
		return -lval
	case bytecode.MOD:
		if math.IsInf(rval, 0) && !math.IsInf(lval, 0) && !math.IsNaN(lval) {
			if lval == 0 || (lval > 0) == (rval > 0) {
				return lval
			}
			return rval
		}
		rem := math.Mod(lval, rval)
		if rem != 0 && (rem < 0) != (rval < 0) {
			rem += rval
		}
		return rem
	default:
		return math.NaN()
	}
}

func eq(lVal, rVal any) bool {
	switch tlval := lVal.(type) {
	case int64:
		switch trval := rVal.(type) {
		case int64:
			return tlval == trval
		case float64:
			return numEq(tlval, trval)
		}
		return false
	case float64:
		switch trval := rVal.(type) {
		case int64:
			return numEq(trval, tlval)
		case float64:
			return tlval == trval
		}
		return false
	default:
		return lVal == rVal
	}
}

func numEq(i int64, f float64) bool {
	fi, ok := floatToInteger(f)
	return ok && fi == i
}

func lessThan(lVal, rVal any) (bool, error) {
	res, err := compareVal(lVal, rVal)
	return res < 0, err
}

func lessEqual(lVal, rVal any) (bool, error) {
	res, err := compareVal(lVal, rVal)
	return res <= 0, err
}

// compareVal orders two numbers or two strings. NaN compares as greater so
// that every ordered comparison with it is false.
func compareVal(lVal, rVal any) (int, error) {
	if isNumber(lVal) && isNumber(rVal) {
		liva, lisInt := lVal.(int64)
		riva, risInt := rVal.(int64)
		if lisInt && risInt {
			switch {
			case liva < riva:
				return -1, nil
			case liva > riva:
				return 1, nil
			}
			return 0, nil
		}
		vA, vB := toFloat(lVal), toFloat(rVal)
		switch {
		case vA < vB:
			return -1, nil
		case vA == vB:
			return 0, nil
		}
		return 1, nil
	} else if isString(lVal) && isString(rVal) {
		return strings.Compare(lVal.(string), rVal.(string)), nil
	}
	typeA, typeB := typeName(lVal), typeName(rVal)
	if typeA == typeB {
		return 0, errorf(lerrors.ErrNotComparable, "attempt to compare two %v values", typeA)
	}
	return 0, errorf(lerrors.ErrNotComparable, "attempt to compare %v with %v", typeA, typeB)
}

func concat(vals []any) (string, error) {
	var sb strings.Builder
	for _, val := range vals {
		switch val.(type) {
		case string, int64, float64:
			sb.WriteString(ToString(val))
		default:
			return "", errorf(lerrors.ErrConcat, "attempt to concatenate a %v value", typeName(val))
		}
	}
	return sb.String(), nil
}

func length(val any) (any, error) {
	switch tval := val.(type) {
	case string:
		return int64(len(tval)), nil
	case *Table:
		return tval.Len(), nil
	default:
		return nil, errorf(lerrors.ErrInvalidLen, "attempt to get length of a %v value", typeName(val))
	}
}
