// Package luavm runs lua 5.3 binary chunks, the output of luac, on a virtual
// machine written in Go.
//
// The work is split across a few packages:
//
//   - src/chunk decodes binary chunks into function prototypes and can dump
//     them again.
//   - src/bytecode decodes the 32 bit instruction words into typed
//     instructions.
//   - src/runtime executes prototypes one instruction at a time, with a small
//     standard environment and a step debugger.
//
// This package only offers the shortest path from a chunk to its results.
// Anything that wants to observe execution should use src/runtime directly.
package luavm
