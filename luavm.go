package luavm

import (
	"context"

	"github.com/tanema/luavm/src/chunk"
	"github.com/tanema/luavm/src/runtime"
)

// Bytes will load a binary chunk and run it to completion with the default
// environment. The label is used as the chunk name in load errors.
func Bytes(label string, data []byte, args ...any) ([]any, error) {
	c, err := chunk.Load(label, data)
	if err != nil {
		return nil, err
	}
	return run(c, args...)
}

// File will load and run a binary chunk file.
func File(path string, args ...any) ([]any, error) {
	c, err := chunk.File(path)
	if err != nil {
		return nil, err
	}
	return run(c, args...)
}

func run(c *chunk.Chunk, args ...any) ([]any, error) {
	vm := runtime.New(context.Background(), nil)
	if err := vm.Load(c, args...); err != nil {
		return nil, err
	}
	return vm.Run()
}
