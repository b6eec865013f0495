package chunk

import (
	"fmt"
	"math"
	"strconv"

	"github.com/pkg/errors"
	"github.com/tanema/luavm/src/lerrors"
)

// constant type tags in dump format.
const (
	constTypeNil         byte = 0x00
	constTypeBool        byte = 0x01
	constTypeFloat       byte = 0x03
	constTypeInt         byte = 0x13
	constTypeShortString byte = 0x04
	constTypeLongString  byte = 0x14
)

func loadConstant(r *chunkReader) (any, error) {
	start := r.offset
	tag, err := r.readByte("constant tag")
	if err != nil {
		return nil, err
	}
	switch tag {
	case constTypeNil:
		return nil, nil
	case constTypeBool:
		return r.readBool("boolean constant")
	case constTypeFloat:
		return r.readFloat64("float constant")
	case constTypeInt:
		return r.readInt64("integer constant")
	case constTypeShortString, constTypeLongString:
		s, ok, err := r.readString("string constant")
		if err != nil || !ok {
			return nil, err
		}
		return s, nil
	default:
		return nil, r.fail("constant tag", start, errors.Wrapf(lerrors.ErrUnsupportedConstant, "tag %#x", tag))
	}
}

func dumpConstant(w *chunkWriter, val any) error {
	switch tval := val.(type) {
	case nil:
		w.writeByte(constTypeNil)
	case bool:
		w.writeByte(constTypeBool)
		w.writeBool(tval)
	case float64:
		w.writeByte(constTypeFloat)
		w.writeFloat64(tval)
	case int64:
		w.writeByte(constTypeInt)
		w.writeInt64(tval)
	case string:
		if len(tval)+1 < longStringMarker {
			w.writeByte(constTypeShortString)
		} else {
			w.writeByte(constTypeLongString)
		}
		w.writeString(tval, true)
	default:
		return errors.Wrapf(lerrors.ErrUnsupportedConstant, "%T", val)
	}
	return nil
}

// constString formats a constant the way it would be written in source.
func constString(val any) string {
	switch tval := val.(type) {
	case nil:
		return "nil"
	case bool:
		return strconv.FormatBool(tval)
	case int64:
		return strconv.FormatInt(tval, 10)
	case float64:
		if math.IsInf(tval, 0) || math.IsNaN(tval) {
			return fmt.Sprintf("%v", tval)
		} else if tval == math.Trunc(tval) && math.Abs(tval) < 1e16 {
			return strconv.FormatFloat(tval, 'f', 1, 64)
		}
		return strconv.FormatFloat(tval, 'g', 14, 64)
	case string:
		return strconv.Quote(tval)
	default:
		return fmt.Sprintf("%v", val)
	}
}
