package chunk

import (
	"github.com/pkg/errors"
	"github.com/tanema/luavm/src/conf"
	"github.com/tanema/luavm/src/lerrors"
)

// Header describes the platform a chunk was compiled for. Only one profile is
// supported, the one returned by DefaultHeader.
type Header struct {
	Major           byte
	Minor           byte
	Format          byte
	SizeInt         byte
	SizeSizeT       byte
	SizeInstruction byte
	SizeInteger     byte
	SizeNumber      byte
}

// DefaultHeader is the lua 5.3 little endian 64 bit profile.
func DefaultHeader() Header {
	return Header{
		Major:           conf.LUAVERSIONMAJORN,
		Minor:           conf.LUAVERSIONMINORN,
		Format:          conf.LUAFORMAT,
		SizeInt:         conf.CINT_SIZE,
		SizeSizeT:       conf.CSIZET_SIZE,
		SizeInstruction: conf.INSTRUCTION_SIZE,
		SizeInteger:     conf.LUA_INTEGER_SIZE,
		SizeNumber:      conf.LUA_NUMBER_SIZE,
	}
}

func (h Header) version() byte { return h.Major<<4 | h.Minor }

func loadHeader(r *chunkReader) (Header, error) {
	want := DefaultHeader()
	if err := r.expectBytes("signature", conf.LUASIGNATURE); err != nil {
		return Header{}, err
	}
	checks := []struct {
		field string
		want  byte
	}{
		{"version", want.version()},
		{"format", want.Format},
	}
	for _, check := range checks {
		if err := expectByte(r, check.field, check.want); err != nil {
			return Header{}, err
		}
	}
	if err := r.expectBytes("luac data", conf.LUAC_DATA); err != nil {
		return Header{}, err
	}
	checks = []struct {
		field string
		want  byte
	}{
		{"size of int", want.SizeInt},
		{"size of size_t", want.SizeSizeT},
		{"size of instruction", want.SizeInstruction},
		{"size of integer", want.SizeInteger},
		{"size of number", want.SizeNumber},
	}
	for _, check := range checks {
		if err := expectByte(r, check.field, check.want); err != nil {
			return Header{}, err
		}
	}

	start := r.offset
	if i, err := r.readInt64("luac int"); err != nil {
		return Header{}, err
	} else if i != conf.LUAC_INT {
		return Header{}, r.fail("luac int", start, errors.Wrapf(lerrors.ErrHeaderMismatch, "expected %#x found %#x", conf.LUAC_INT, i))
	}
	start = r.offset
	if n, err := r.readFloat64("luac num"); err != nil {
		return Header{}, err
	} else if n != conf.LUAC_NUM {
		return Header{}, r.fail("luac num", start, errors.Wrapf(lerrors.ErrHeaderMismatch, "expected %v found %v", conf.LUAC_NUM, n))
	}
	return want, nil
}

func expectByte(r *chunkReader, field string, want byte) error {
	start := r.offset
	b, err := r.readByte(field)
	if err != nil {
		return err
	} else if b != want {
		return r.fail(field, start, errors.Wrapf(lerrors.ErrHeaderMismatch, "expected %#x found %#x", want, b))
	}
	return nil
}

func dumpHeader(w *chunkWriter, h Header) {
	w.writeLiteral(conf.LUASIGNATURE)
	w.writeByte(h.version())
	w.writeByte(h.Format)
	w.writeLiteral(conf.LUAC_DATA)
	w.writeByte(h.SizeInt)
	w.writeByte(h.SizeSizeT)
	w.writeByte(h.SizeInstruction)
	w.writeByte(h.SizeInteger)
	w.writeByte(h.SizeNumber)
	w.writeInt64(conf.LUAC_INT)
	w.writeFloat64(conf.LUAC_NUM)
}
