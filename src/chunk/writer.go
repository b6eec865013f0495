package chunk

import (
	"encoding/binary"
	"math"
)

// chunkWriter is the inverse of chunkReader.
type chunkWriter struct {
	buf []byte
}

func (w *chunkWriter) writeByte(b byte) { w.buf = append(w.buf, b) }

func (w *chunkWriter) writeBool(b bool) {
	if b {
		w.writeByte(1)
	} else {
		w.writeByte(0)
	}
}

func (w *chunkWriter) writeLiteral(s string) { w.buf = append(w.buf, s...) }

func (w *chunkWriter) writeUint32(val uint32) { w.buf = binary.LittleEndian.AppendUint32(w.buf, val) }

func (w *chunkWriter) writeUint64(val uint64) { w.buf = binary.LittleEndian.AppendUint64(w.buf, val) }

func (w *chunkWriter) writeInt64(val int64) { w.writeUint64(uint64(val)) }

func (w *chunkWriter) writeFloat64(val float64) { w.writeUint64(math.Float64bits(val)) }

func (w *chunkWriter) writeCount(n int) { w.writeUint32(uint32(n)) }

// writeString writes s with its length prefix, or the absent marker if the
// string is not present.
func (w *chunkWriter) writeString(s string, present bool) {
	if !present {
		w.writeByte(0)
		return
	}
	size := uint64(len(s)) + 1
	if size < longStringMarker {
		w.writeByte(byte(size))
	} else {
		w.writeByte(longStringMarker)
		w.writeUint64(size)
	}
	w.writeLiteral(s)
}
