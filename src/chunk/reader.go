package chunk

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"
	"github.com/tanema/luavm/src/lerrors"
)

const longStringMarker = 0xFF

// chunkReader reads little endian primitives from an in memory chunk. When a
// read fails it records the field and the offset where the read started so
// that the final load error can point at the broken bytes.
type chunkReader struct {
	data      []byte
	offset    int64
	errField  string
	errOffset int64
}

func newChunkReader(data []byte) *chunkReader {
	return &chunkReader{data: data}
}

func (r *chunkReader) fail(field string, offset int64, err error) error {
	if r.errField == "" {
		r.errField = field
		r.errOffset = offset
	}
	return err
}

func (r *chunkReader) remaining() int64 { return int64(len(r.data)) - r.offset }

func (r *chunkReader) readExact(field string, n int64) ([]byte, error) {
	if n < 0 || r.remaining() < n {
		return nil, r.fail(field, r.offset, lerrors.ErrUnexpectedEOF)
	}
	buf := r.data[r.offset : r.offset+n]
	r.offset += n
	return buf, nil
}

func (r *chunkReader) readByte(field string) (byte, error) {
	buf, err := r.readExact(field, 1)
	if err != nil {
		return 0, err
	}
	return buf[0], nil
}

func (r *chunkReader) readBool(field string) (bool, error) {
	b, err := r.readByte(field)
	return b != 0, err
}

func (r *chunkReader) readUint32(field string) (uint32, error) {
	buf, err := r.readExact(field, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf), nil
}

func (r *chunkReader) readUint64(field string) (uint64, error) {
	buf, err := r.readExact(field, 8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf), nil
}

func (r *chunkReader) readInt64(field string) (int64, error) {
	val, err := r.readUint64(field)
	return int64(val), err
}

func (r *chunkReader) readFloat64(field string) (float64, error) {
	val, err := r.readUint64(field)
	return math.Float64frombits(val), err
}

// expectBytes reads len(literal) bytes and fails with a header mismatch if
// they are not exactly the literal.
func (r *chunkReader) expectBytes(field, literal string) error {
	start := r.offset
	buf, err := r.readExact(field, int64(len(literal)))
	if err != nil {
		return err
	} else if string(buf) != literal {
		return r.fail(field, start, errors.Wrapf(lerrors.ErrHeaderMismatch, "expected %q found %q", literal, buf))
	}
	return nil
}

// readString reads a length prefixed string. A zero length means there is no
// string at all, which is reported with valid == false. Stored lengths include
// a trailing NUL that is not part of the payload.
func (r *chunkReader) readString(field string) (s string, valid bool, err error) {
	start := r.offset
	size, err := r.readByte(field)
	if err != nil {
		return "", false, err
	}
	length := uint64(size)
	if size == longStringMarker {
		if length, err = r.readUint64(field); err != nil {
			return "", false, err
		}
	}
	if length == 0 {
		return "", false, nil
	} else if length-1 > uint64(r.remaining()) {
		return "", false, r.fail(field, start, lerrors.ErrUnexpectedEOF)
	}
	buf, err := r.readExact(field, int64(length-1))
	if err != nil {
		return "", false, err
	}
	return string(buf), true, nil
}
