// Package chunk loads lua 5.3 binary chunks, as produced by luac, into
// function prototypes ready for the vm, and can write them back out.
package chunk

import (
	"bytes"
	"errors"
	"io"
	"os"

	pkgerrors "github.com/pkg/errors"
	"github.com/tanema/luavm/src/conf"
	"github.com/tanema/luavm/src/lerrors"
)

// Chunk is a fully loaded binary chunk. It is immutable once loaded.
type Chunk struct {
	Header       Header
	UpvalueCount byte
	Main         *FnProto
}

// New wraps a main prototype in a chunk with the default header.
func New(main *FnProto) *Chunk {
	return &Chunk{Header: DefaultHeader(), UpvalueCount: byte(len(main.Upvalues)), Main: main}
}

// IsBinary reports whether data starts with the binary chunk signature.
func IsBinary(data []byte) bool {
	return bytes.HasPrefix(data, []byte(conf.LUASIGNATURE))
}

// File loads the binary chunk at path.
func File(path string) (*Chunk, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Load(path, data)
}

// Undump reads all of src and loads it as a binary chunk. The name is used in
// error messages.
func Undump(name string, src io.Reader) (*Chunk, error) {
	data, err := io.ReadAll(src)
	if err != nil {
		return nil, err
	}
	return Load(name, data)
}

// Load decodes a binary chunk. Every failure is a *lerrors.Error of kind
// LoadErr wrapping one of the load sentinel errors.
func Load(name string, data []byte) (*Chunk, error) {
	r := newChunkReader(data)
	header, err := loadHeader(r)
	if err != nil {
		return nil, loadErr(name, r, pkgerrors.Wrap(err, "header"))
	}
	upvalCount, err := r.readByte("upvalue count")
	if err != nil {
		return nil, loadErr(name, r, err)
	}
	main, err := loadFunction(r, "")
	if err != nil {
		return nil, loadErr(name, r, pkgerrors.Wrap(err, "main function"))
	}
	return &Chunk{Header: header, UpvalueCount: upvalCount, Main: main}, nil
}

func loadErr(name string, r *chunkReader, err error) error {
	var lerr *lerrors.Error
	if errors.As(err, &lerr) {
		return lerr
	}
	return &lerrors.Error{
		Kind:     lerrors.LoadErr,
		Filename: name,
		Offset:   r.errOffset,
		Field:    r.errField,
		Err:      err,
	}
}

// MarshalBinary writes the chunk in the same format that Load reads.
func (c *Chunk) MarshalBinary() ([]byte, error) {
	w := &chunkWriter{}
	dumpHeader(w, c.Header)
	w.writeByte(c.UpvalueCount)
	if err := dumpFunction(w, c.Main, ""); err != nil {
		return nil, pkgerrors.Wrap(err, "main function")
	}
	return w.buf, nil
}

func (c *Chunk) String() string { return c.Main.String() }

// Dump serializes main as a binary chunk with the default header.
func Dump(main *FnProto) ([]byte, error) {
	return New(main).MarshalBinary()
}
