// Package bytecode handles formatting uint32 values which have meaning for the
// vm. The layout is the one used by lua 5.3 compiled chunks.
package bytecode

import (
	"fmt"
	"strconv"
)

type (
	// Op is the descriptor of which kind of instruction each bytecode is.
	Op uint8
	// Type is a descriptor of what format an instruction has.
	Type string
)

const (
	// TypeABC is an instruction with an a uint8 and 9 bit b and c params.
	TypeABC Type = "iABC"
	// TypeABx is an instruction with an a uint8 and an unsigned 18 bit bx param.
	TypeABx Type = "iABx"
	// TypeAsBx is an instruction with an a uint8 and a signed 18 bit bx param.
	TypeAsBx Type = "iAsBx"
	// TypeAx is an instruction with a single 26 bit param.
	TypeAx Type = "iAx"
)

const (
	// MOVE Copy a value between registers.
	MOVE Op = iota
	// LOADK Load a constant into a register.
	LOADK
	// LOADKX Load a constant into a register, the index is in the next EXTRAARG.
	LOADKX
	// LOADBOOL Load a boolean into a register.
	LOADBOOL
	// LOADNIL Load nil values into a range of registers.
	LOADNIL
	// GETUPVAL Read an upvalue into a register.
	GETUPVAL
	// GETTABUP Read a value from table in up-value into a register.
	GETTABUP
	// GETTABLE Read a table element into a register.
	GETTABLE
	// SETTABUP Write a register value into table in up-value.
	SETTABUP
	// SETUPVAL Write a register value into an upvalue.
	SETUPVAL
	// SETTABLE Write a register value into a table element.
	SETTABLE
	// NEWTABLE Create a new table.
	NEWTABLE
	// SELF Prepare an object method for calling.
	SELF
	// ADD Addition operator.
	ADD
	// SUB Subtraction operator.
	SUB
	// MUL Multiplication operator.
	MUL
	// MOD Modulus (remainder) operator.
	MOD
	// POW Exponentation operator.
	POW
	// DIV Division operator.
	DIV
	// IDIV Integer division operator.
	IDIV
	// BAND Bit-wise AND operator.
	BAND
	// BOR Bit-wise OR operator.
	BOR
	// BXOR Bit-wise Exclusive OR operator.
	BXOR
	// SHL Shift bits left.
	SHL
	// SHR Shift bits right.
	SHR
	// UNM Unary minus.
	UNM
	// BNOT Bit-wise NOT operator.
	BNOT
	// NOT Logical NOT operator.
	NOT
	// LEN Length operator.
	LEN
	// CONCAT Concatenate a range of registers.
	CONCAT
	// JMP Unconditional jump.
	JMP
	// EQ Equality test, with conditional jump.
	EQ
	// LT Less than test, with conditional jump.
	LT
	// LE Less than or equal to test, with conditional jump.
	LE
	// TEST Boolean test, with conditional jump.
	TEST
	// TESTSET Boolean test, with conditional jump and assignment.
	TESTSET
	// CALL Call a closure.
	CALL
	// TAILCALL Perform a tail call.
	TAILCALL
	// RETURN Return from function call.
	RETURN
	// FORLOOP Iterate a numeric for loop.
	FORLOOP
	// FORPREP Initialization for a numeric for loop.
	FORPREP
	// TFORCALL Call the iterator of a generic for loop.
	TFORCALL
	// TFORLOOP Iterate a generic for loop.
	TFORLOOP
	// SETLIST Set a range of array elements for a table.
	SETLIST
	// CLOSURE Create a closure of a function prototype.
	CLOSURE
	// VARARG Assign vararg function arguments to registers.
	VARARG
	// EXTRAARG Extra (larger) argument for previous opcode.
	EXTRAARG
	// NUMOPCODES is not an op, just the amount of valid ones.
	NUMOPCODES
)

var opcodeToString = [NUMOPCODES]string{
	MOVE:     "MOVE",
	LOADK:    "LOADK",
	LOADKX:   "LOADKX",
	LOADBOOL: "LOADBOOL",
	LOADNIL:  "LOADNIL",
	GETUPVAL: "GETUPVAL",
	GETTABUP: "GETTABUP",
	GETTABLE: "GETTABLE",
	SETTABUP: "SETTABUP",
	SETUPVAL: "SETUPVAL",
	SETTABLE: "SETTABLE",
	NEWTABLE: "NEWTABLE",
	SELF:     "SELF",
	ADD:      "ADD",
	SUB:      "SUB",
	MUL:      "MUL",
	MOD:      "MOD",
	POW:      "POW",
	DIV:      "DIV",
	IDIV:     "IDIV",
	BAND:     "BAND",
	BOR:      "BOR",
	BXOR:     "BXOR",
	SHL:      "SHL",
	SHR:      "SHR",
	UNM:      "UNM",
	BNOT:     "BNOT",
	NOT:      "NOT",
	LEN:      "LEN",
	CONCAT:   "CONCAT",
	JMP:      "JMP",
	EQ:       "EQ",
	LT:       "LT",
	LE:       "LE",
	TEST:     "TEST",
	TESTSET:  "TESTSET",
	CALL:     "CALL",
	TAILCALL: "TAILCALL",
	RETURN:   "RETURN",
	FORLOOP:  "FORLOOP",
	FORPREP:  "FORPREP",
	TFORCALL: "TFORCALL",
	TFORLOOP: "TFORLOOP",
	SETLIST:  "SETLIST",
	CLOSURE:  "CLOSURE",
	VARARG:   "VARARG",
	EXTRAARG: "EXTRAARG",
}

// Format values in the 32 bit opcode.
// | B: u9 | C: u9 | A: u8 | Opcode: u6 |.
const (
	aShift    = 6
	cShift    = aShift + 8
	bShift    = cShift + 9
	bxShift   = cShift
	mask6bits = 0x3F
	mask9bits = 0x1FF
	mask18bit = 0x3FFFF
	mask26bit = 0x3FFFFFF
	maskByte  = 0xFF

	// MAXARGBX is the largest value that fits in bx.
	MAXARGBX = mask18bit
	// MAXARGSBX is the bias applied to bx to store signed values.
	MAXARGSBX = MAXARGBX >> 1
	// MAXARGAX is the largest value that fits in ax.
	MAXARGAX = mask26bit
	// BITRK marks a 9 bit b or c param as a constant index.
	BITRK = 1 << 8
	// MAXINDEXRK is the largest constant index addressable by an rk param.
	MAXINDEXRK = BITRK - 1
)

func (op Op) String() string {
	if op < NUMOPCODES {
		return opcodeToString[op]
	}
	return "UNDEFINED"
}

// IABCK creates a new bytecode instruction with rk params, setting the constant
// bit on b or c if the value is a constant index.
func IABCK(op Op, a uint8, b uint16, bconst bool, c uint16, cconst bool) uint32 {
	if bconst {
		b |= BITRK
	}
	if cconst {
		c |= BITRK
	}
	return IABC(op, a, b, c)
}

// IAB is a helper to create an IABC instruction without a c param.
func IAB(op Op, a uint8, b uint16) uint32 { return IABC(op, a, b, 0) }

// IABC creates a new bytecode instruction with the format
// | B: u9 | C: u9 | A: u8 | Opcode: u6 |.
func IABC(op Op, a uint8, b uint16, c uint16) uint32 {
	return uint32(b&mask9bits)<<bShift |
		uint32(c&mask9bits)<<cShift |
		uint32(a)<<aShift |
		uint32(op)
}

// IABx creates an instruction with a register and an unsigned 18 bit value usually load constant.
func IABx(op Op, a uint8, bx uint32) uint32 {
	return (bx&mask18bit)<<bxShift | uint32(a)<<aShift | uint32(op)
}

// IAsBx creates an instruction with a register and a signed value often used for jumps.
func IAsBx(op Op, a uint8, sbx int32) uint32 { return IABx(op, a, uint32(sbx+MAXARGSBX)) }

// IAx creates an instruction with a single 26 bit param.
func IAx(op Op, ax uint32) uint32 { return (ax&mask26bit)<<aShift | uint32(op) }

// GetOp gets what type of instruction it is.
func GetOp(bc uint32) Op { return Op(bc & mask6bits) }

// GetA gets the a param in all of the instructions.
func GetA(bc uint32) int64 { return int64(bc >> aShift & maskByte) }

// GetB gets the b param in IABC instructions.
func GetB(bc uint32) int64 { return int64(bc >> bShift & mask9bits) }

// GetC gets the c param in IABC instructions.
func GetC(bc uint32) int64 { return int64(bc >> cShift & mask9bits) }

// GetBx gets the b param in IABx instructions.
func GetBx(bc uint32) int64 { return int64(bc >> bxShift & mask18bit) }

// GetsBx gets the b param in IAsBx instructions.
func GetsBx(bc uint32) int64 { return GetBx(bc) - MAXARGSBX }

// GetAx gets the param of IAx instructions.
func GetAx(bc uint32) int64 { return int64(bc >> aShift & mask26bit) }

// GetBK gets the b param in IABC instructions with an indicator if it is a const or not.
func GetBK(bc uint32) (int64, bool) { return isK(GetB(bc)) }

// GetCK gets the c param in IABC instructions with an indicator if it is a const or not.
func GetCK(bc uint32) (int64, bool) { return isK(GetC(bc)) }

func isK(val int64) (int64, bool) {
	if val&BITRK != 0 {
		return val & MAXINDEXRK, true
	}
	return val, false
}

// ToString will format an instruction to be understandable.
func ToString(bc uint32) string {
	op := GetOp(bc)
	switch Kind(bc) {
	case TypeABx:
		return fmt.Sprintf("%-10v %-5v %-5v %-5v", op, GetA(bc), GetBx(bc), "")
	case TypeAsBx:
		return fmt.Sprintf("%-10v %-5v %-5v %-5v", op, GetA(bc), GetsBx(bc), "")
	case TypeABC:
		return fmt.Sprintf("%-10v %-5v %-5v %-5v", op, GetA(bc), rkString(op, GetB(bc), true), rkString(op, GetC(bc), false))
	case TypeAx:
		return fmt.Sprintf("%-10v %-5v", op, GetAx(bc))
	default:
		return "UNKNOWN OPCODE"
	}
}

func rkString(op Op, val int64, isB bool) string {
	if usesRK(op, isB) {
		if idx, isConst := isK(val); isConst {
			return strconv.FormatInt(idx, 10) + "k"
		}
	}
	return strconv.FormatInt(val, 10)
}

// usesRK reports whether the b or c param of op may refer to a constant.
func usesRK(op Op, isB bool) bool {
	switch op {
	case GETTABUP, GETTABLE, SELF:
		return !isB
	case SETTABUP, SETTABLE, ADD, SUB, MUL, MOD, POW, DIV, IDIV, BAND, BOR, BXOR, SHL, SHR, EQ, LT, LE:
		return true
	default:
		return false
	}
}

// Kind will return which type of bytecode it is, iABC, iABx, iAsBx, iAx.
func Kind(bc uint32) Type {
	switch GetOp(bc) {
	case LOADK, LOADKX, CLOSURE:
		return TypeABx
	case JMP, FORLOOP, FORPREP, TFORLOOP:
		return TypeAsBx
	case EXTRAARG:
		return TypeAx
	case MOVE, LOADBOOL, LOADNIL, GETUPVAL, GETTABUP, GETTABLE, SETTABUP, SETUPVAL,
		SETTABLE, NEWTABLE, SELF, ADD, SUB, MUL, MOD, POW, DIV, IDIV, BAND, BOR, BXOR,
		SHL, SHR, UNM, BNOT, NOT, LEN, CONCAT, EQ, LT, LE, TEST, TESTSET, CALL,
		TAILCALL, RETURN, TFORCALL, SETLIST, VARARG:
		return TypeABC
	default:
		return ""
	}
}
