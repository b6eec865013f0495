// Package conf contains the constants that are used across packages for configuring
// the binary chunk format, versions and stack sizes.
package conf

import (
	"fmt"
	"time"
)

const (
	// LUASIGNATURE is the artifact at the beginning of every binary chunk.
	LUASIGNATURE = "\x1bLua"
	// LUAVERSION is the version of the lua language that chunks are compiled for.
	LUAVERSION = "Lua 5.3"
	// APPVERSION is the version of the luavm application.
	APPVERSION = "luavm 0.1.0"
	// LUAVERSIONMAJORN is the major version.
	LUAVERSIONMAJORN = 5
	// LUAVERSIONMINORN is the minor version.
	LUAVERSIONMINORN = 3
	// LUAC_VERSION is the version byte as written by luac, major*16+minor.
	LUAC_VERSION = LUAVERSIONMAJORN*16 + LUAVERSIONMINORN
	// LUAFORMAT is the official binary format.
	LUAFORMAT = 0
	// LUAC_DATA is used to detect conversion errors in transit.
	LUAC_DATA = "\x19\x93\r\n\x1a\n"
	// LUAC_INT is written as a lua integer to check the endianness and width.
	LUAC_INT = 0x5678
	// LUAC_NUM is written as a lua number to check the float format.
	LUAC_NUM = 370.5
	// CINT_SIZE is the width of a C int in a chunk.
	CINT_SIZE = 4
	// CSIZET_SIZE is the width of a size_t in a chunk.
	CSIZET_SIZE = 8
	// INSTRUCTION_SIZE is the width of a single instruction.
	INSTRUCTION_SIZE = 4
	// LUA_INTEGER_SIZE is the width of a lua integer.
	LUA_INTEGER_SIZE = 8
	// LUA_NUMBER_SIZE is the width of a lua number.
	LUA_NUMBER_SIZE = 8
	// HEADERSIZE is the total size in bytes of a chunk header.
	HEADERSIZE = len(LUASIGNATURE) + 2 + len(LUAC_DATA) + 5 + LUA_INTEGER_SIZE + LUA_NUMBER_SIZE
	// INITIALSTACKSIZE  stack size at vm startup.
	INITIALSTACKSIZE = 128
	// MAXSTACKSIZE  max stack size.
	MAXSTACKSIZE = 1_000_000
	// TRACEBACKHEAD is how many innermost frames a traceback shows before
	// skipping to the outermost ones.
	TRACEBACKHEAD = 10
	// TRACEBACKTAIL is how many outermost frames a long traceback shows.
	TRACEBACKTAIL = 11
	// MAXUPVALUES max allowed upvals referred in a fn scope.
	MAXUPVALUES = 255
	// FIELDS_PER_FLUSH is the amount of items set in a table per SETLIST.
	FIELDS_PER_FLUSH = 50
)

// FullVersion returns the version and copyright.
func FullVersion() string {
	return fmt.Sprintf("%v (%v) Copyright (C) %v", APPVERSION, LUAVERSION, time.Now().Year())
}

// Copyright is the copyright to be written out in the CLI.
func Copyright() string {
	return fmt.Sprintf("Copyright (C) %v", time.Now().Year())
}
