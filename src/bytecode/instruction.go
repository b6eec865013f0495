package bytecode

import (
	"fmt"

	"github.com/tanema/luavm/src/lerrors"
)

type (
	// Instruction is a decoded bytecode. Every opcode has its own type carrying
	// its operands so that the vm never has to look at raw bits.
	Instruction interface {
		Op() Op
		instruction()
	}
	// DataSource is an rk operand, either a register in the current frame or an
	// index into the prototype constants.
	DataSource struct {
		Index      int
		IsConstant bool
	}
	// Count is a parameter or result count. Unknown means the values run up to
	// the top of the stack.
	Count int
)

// Unknown is the count of a variable amount of values.
const Unknown Count = -1

// Register creates a data source reading from a register.
func Register(idx int) DataSource { return DataSource{Index: idx} }

// Constant creates a data source reading from the constant table.
func Constant(idx int) DataSource { return DataSource{Index: idx, IsConstant: true} }

func rk(raw int64) DataSource {
	idx, isConst := isK(raw)
	return DataSource{Index: int(idx), IsConstant: isConst}
}

func (ds DataSource) raw() uint16 {
	if ds.IsConstant {
		return uint16(ds.Index) | BITRK
	}
	return uint16(ds.Index)
}

func (ds DataSource) String() string {
	if ds.IsConstant {
		return fmt.Sprintf("K%d", ds.Index)
	}
	return fmt.Sprintf("R%d", ds.Index)
}

// Known creates a count of exactly n values.
func Known(n int) Count { return Count(n) }

// countFrom decodes the common encoding where 0 means unknown and anything
// else is the count plus one.
func countFrom(raw int64) Count { return Count(raw - 1) }

// IsKnown reports whether the count is a fixed number.
func (c Count) IsKnown() bool { return c >= 0 }

func (c Count) raw() uint16 { return uint16(c + 1) }

func (c Count) String() string {
	if !c.IsKnown() {
		return "all"
	}
	return fmt.Sprintf("%d", int(c))
}

// Instruction types, one per opcode or opcode family.
type (
	// Move R(A) := R(B).
	Move struct{ A, B int }
	// LoadK R(A) := Kst(Bx).
	LoadK struct{ A, Bx int }
	// LoadKX R(A) := Kst(extra arg).
	LoadKX struct{ A int }
	// LoadBool R(A) := (Bool)B; if (C) pc++.
	LoadBool struct {
		A        int
		Value    bool
		SkipNext bool
	}
	// LoadNil R(A), R(A+1), ..., R(A+B) := nil.
	LoadNil struct{ A, B int }
	// GetUpval R(A) := UpValue[B].
	GetUpval struct{ A, B int }
	// GetTabUp R(A) := UpValue[B][RK(C)].
	GetTabUp struct {
		A, B int
		Key  DataSource
	}
	// GetTable R(A) := R(B)[RK(C)].
	GetTable struct {
		A, B int
		Key  DataSource
	}
	// SetTabUp UpValue[A][RK(B)] := RK(C).
	SetTabUp struct {
		A          int
		Key, Value DataSource
	}
	// SetUpval UpValue[B] := R(A).
	SetUpval struct{ A, B int }
	// SetTable R(A)[RK(B)] := RK(C).
	SetTable struct {
		A          int
		Key, Value DataSource
	}
	// NewTable R(A) := {} with size hints B (array) and C (hash) in floating point byte encoding.
	NewTable struct{ A, B, C int }
	// Self R(A+1) := R(B); R(A) := R(B)[RK(C)].
	Self struct {
		A, B int
		Key  DataSource
	}
	// Arith R(A) := RK(B) op RK(C) for all binary arithmetic and bitwise ops.
	Arith struct {
		Operator Op
		A        int
		B, C     DataSource
	}
	// Unary R(A) := op R(B) for UNM, BNOT, NOT and LEN.
	Unary struct {
		Operator Op
		A, B     int
	}
	// Concat R(A) := R(B).. ... ..R(C).
	Concat struct{ A, B, C int }
	// Jmp pc += sBx; if (A) close all upvalues >= R(A - 1).
	Jmp struct{ A, SBx int }
	// Compare if ((RK(B) op RK(C)) ~= Expect) then pc++ for EQ, LT and LE.
	Compare struct {
		Operator Op
		Expect   bool
		B, C     DataSource
	}
	// Test if not (R(A) <=> C) then pc++.
	Test struct {
		A int
		C bool
	}
	// TestSet if (R(B) <=> C) then R(A) := R(B) else pc++.
	TestSet struct {
		A, B int
		C    bool
	}
	// Call R(A), ... ,R(A+C-2) := R(A)(R(A+1), ... ,R(A+B-1)).
	Call struct {
		A       int
		Params  Count
		Returns Count
	}
	// TailCall return R(A)(R(A+1), ... ,R(A+B-1)).
	TailCall struct {
		A      int
		Params Count
	}
	// Return return R(A), ... ,R(A+B-2).
	Return struct {
		A      int
		Values Count
	}
	// ForLoop R(A)+=R(A+2); if R(A) <?= R(A+1) then { pc+=sBx; R(A+3)=R(A) }.
	ForLoop struct{ A, SBx int }
	// ForPrep R(A)-=R(A+2); pc+=sBx.
	ForPrep struct{ A, SBx int }
	// TForCall R(A+3), ... ,R(A+2+C) := R(A)(R(A+1), R(A+2)).
	TForCall struct{ A, Results int }
	// TForLoop if R(A+1) ~= nil then { R(A)=R(A+1); pc += sBx }.
	TForLoop struct{ A, SBx int }
	// SetList R(A)[(C-1)*FPF+i] := R(A+i), 1 <= i <= B. Block zero means the
	// block number is in the next EXTRAARG.
	SetList struct {
		A      int
		Values Count
		Block  int
	}
	// Closure R(A) := closure(KPROTO[Bx]).
	Closure struct{ A, Bx int }
	// Vararg R(A), R(A+1), ..., R(A+B-2) = vararg.
	Vararg struct {
		A     int
		Count Count
	}
	// ExtraArg is the extra argument of the previous instruction.
	ExtraArg struct{ Ax int }
)

func (Move) Op() Op { return MOVE }
func (LoadK) Op() Op { return LOADK }
func (LoadKX) Op() Op { return LOADKX }
func (LoadBool) Op() Op { return LOADBOOL }
func (LoadNil) Op() Op { return LOADNIL }
func (GetUpval) Op() Op { return GETUPVAL }
func (GetTabUp) Op() Op { return GETTABUP }
func (GetTable) Op() Op { return GETTABLE }
func (SetTabUp) Op() Op { return SETTABUP }
func (SetUpval) Op() Op { return SETUPVAL }
func (SetTable) Op() Op { return SETTABLE }
func (NewTable) Op() Op { return NEWTABLE }
func (Self) Op() Op { return SELF }
func (i Arith) Op() Op { return i.Operator }
func (i Unary) Op() Op { return i.Operator }
func (Concat) Op() Op { return CONCAT }
func (Jmp) Op() Op { return JMP }
func (i Compare) Op() Op { return i.Operator }
func (Test) Op() Op { return TEST }
func (TestSet) Op() Op { return TESTSET }
func (Call) Op() Op { return CALL }
func (TailCall) Op() Op { return TAILCALL }
func (Return) Op() Op { return RETURN }
func (ForLoop) Op() Op { return FORLOOP }
func (ForPrep) Op() Op { return FORPREP }
func (TForCall) Op() Op { return TFORCALL }
func (TForLoop) Op() Op { return TFORLOOP }
func (SetList) Op() Op { return SETLIST }
func (Closure) Op() Op { return CLOSURE }
func (Vararg) Op() Op { return VARARG }
func (ExtraArg) Op() Op { return EXTRAARG }

func (Move) instruction() {}
func (LoadK) instruction() {}
func (LoadKX) instruction() {}
func (LoadBool) instruction() {}
func (LoadNil) instruction() {}
func (GetUpval) instruction() {}
func (GetTabUp) instruction() {}
func (GetTable) instruction() {}
func (SetTabUp) instruction() {}
func (SetUpval) instruction() {}
func (SetTable) instruction() {}
func (NewTable) instruction() {}
func (Self) instruction() {}
func (Arith) instruction() {}
func (Unary) instruction() {}
func (Concat) instruction() {}
func (Jmp) instruction() {}
func (Compare) instruction() {}
func (Test) instruction() {}
func (TestSet) instruction() {}
func (Call) instruction() {}
func (TailCall) instruction() {}
func (Return) instruction() {}
func (ForLoop) instruction() {}
func (ForPrep) instruction() {}
func (TForCall) instruction() {}
func (TForLoop) instruction() {}
func (SetList) instruction() {}
func (Closure) instruction() {}
func (Vararg) instruction() {}
func (ExtraArg) instruction() {}

// ArraySize decodes the array size hint.
func (i NewTable) ArraySize() int { return fb2int(i.B) }

// HashSize decodes the hash size hint.
func (i NewTable) HashSize() int { return fb2int(i.C) }

// fb2int converts a "floating point byte" (eeeeexxx) into an int.
func fb2int(x int) int {
	if x < 8 {
		return x
	}
	exp := uint((x >> 3) - 1)
	if exp > 24 {
		return 1 << 24
	}
	return ((x & 7) + 8) << exp
}

// Decode turns a raw bytecode into its typed instruction.
func Decode(bc uint32) (Instruction, error) {
	a := int(GetA(bc))
	b, c := GetB(bc), GetC(bc)
	switch op := GetOp(bc); op {
	case MOVE:
		return Move{A: a, B: int(b)}, nil
	case LOADK:
		return LoadK{A: a, Bx: int(GetBx(bc))}, nil
	case LOADKX:
		return LoadKX{A: a}, nil
	case LOADBOOL:
		return LoadBool{A: a, Value: b != 0, SkipNext: c != 0}, nil
	case LOADNIL:
		return LoadNil{A: a, B: int(b)}, nil
	case GETUPVAL:
		return GetUpval{A: a, B: int(b)}, nil
	case GETTABUP:
		return GetTabUp{A: a, B: int(b), Key: rk(c)}, nil
	case GETTABLE:
		return GetTable{A: a, B: int(b), Key: rk(c)}, nil
	case SETTABUP:
		return SetTabUp{A: a, Key: rk(b), Value: rk(c)}, nil
	case SETUPVAL:
		return SetUpval{A: a, B: int(b)}, nil
	case SETTABLE:
		return SetTable{A: a, Key: rk(b), Value: rk(c)}, nil
	case NEWTABLE:
		return NewTable{A: a, B: int(b), C: int(c)}, nil
	case SELF:
		return Self{A: a, B: int(b), Key: rk(c)}, nil
	case ADD, SUB, MUL, MOD, POW, DIV, IDIV, BAND, BOR, BXOR, SHL, SHR:
		return Arith{Operator: op, A: a, B: rk(b), C: rk(c)}, nil
	case UNM, BNOT, NOT, LEN:
		return Unary{Operator: op, A: a, B: int(b)}, nil
	case CONCAT:
		return Concat{A: a, B: int(b), C: int(c)}, nil
	case JMP:
		return Jmp{A: a, SBx: int(GetsBx(bc))}, nil
	case EQ, LT, LE:
		return Compare{Operator: op, Expect: a != 0, B: rk(b), C: rk(c)}, nil
	case TEST:
		return Test{A: a, C: c != 0}, nil
	case TESTSET:
		return TestSet{A: a, B: int(b), C: c != 0}, nil
	case CALL:
		return Call{A: a, Params: countFrom(b), Returns: countFrom(c)}, nil
	case TAILCALL:
		return TailCall{A: a, Params: countFrom(b)}, nil
	case RETURN:
		return Return{A: a, Values: countFrom(b)}, nil
	case FORLOOP:
		return ForLoop{A: a, SBx: int(GetsBx(bc))}, nil
	case FORPREP:
		return ForPrep{A: a, SBx: int(GetsBx(bc))}, nil
	case TFORCALL:
		return TForCall{A: a, Results: int(c)}, nil
	case TFORLOOP:
		return TForLoop{A: a, SBx: int(GetsBx(bc))}, nil
	case SETLIST:
		values := Unknown
		if b != 0 {
			values = Known(int(b))
		}
		return SetList{A: a, Values: values, Block: int(c)}, nil
	case CLOSURE:
		return Closure{A: a, Bx: int(GetBx(bc))}, nil
	case VARARG:
		return Vararg{A: a, Count: countFrom(b)}, nil
	case EXTRAARG:
		return ExtraArg{Ax: int(GetAx(bc))}, nil
	default:
		return nil, fmt.Errorf("%w %d", lerrors.ErrUnknownOpcode, op)
	}
}

// Encode turns a typed instruction back into its raw bytecode. It is the
// inverse of Decode.
func Encode(ins Instruction) uint32 {
	switch i := ins.(type) {
	case Move:
		return IAB(MOVE, uint8(i.A), uint16(i.B))
	case LoadK:
		return IABx(LOADK, uint8(i.A), uint32(i.Bx))
	case LoadKX:
		return IABx(LOADKX, uint8(i.A), 0)
	case LoadBool:
		return IABC(LOADBOOL, uint8(i.A), boolArg(i.Value), boolArg(i.SkipNext))
	case LoadNil:
		return IAB(LOADNIL, uint8(i.A), uint16(i.B))
	case GetUpval:
		return IAB(GETUPVAL, uint8(i.A), uint16(i.B))
	case GetTabUp:
		return IABC(GETTABUP, uint8(i.A), uint16(i.B), i.Key.raw())
	case GetTable:
		return IABC(GETTABLE, uint8(i.A), uint16(i.B), i.Key.raw())
	case SetTabUp:
		return IABC(SETTABUP, uint8(i.A), i.Key.raw(), i.Value.raw())
	case SetUpval:
		return IAB(SETUPVAL, uint8(i.A), uint16(i.B))
	case SetTable:
		return IABC(SETTABLE, uint8(i.A), i.Key.raw(), i.Value.raw())
	case NewTable:
		return IABC(NEWTABLE, uint8(i.A), uint16(i.B), uint16(i.C))
	case Self:
		return IABC(SELF, uint8(i.A), uint16(i.B), i.Key.raw())
	case Arith:
		return IABC(i.Operator, uint8(i.A), i.B.raw(), i.C.raw())
	case Unary:
		return IAB(i.Operator, uint8(i.A), uint16(i.B))
	case Concat:
		return IABC(CONCAT, uint8(i.A), uint16(i.B), uint16(i.C))
	case Jmp:
		return IAsBx(JMP, uint8(i.A), int32(i.SBx))
	case Compare:
		return IABC(i.Operator, uint8(boolArg(i.Expect)), i.B.raw(), i.C.raw())
	case Test:
		return IABC(TEST, uint8(i.A), 0, boolArg(i.C))
	case TestSet:
		return IABC(TESTSET, uint8(i.A), uint16(i.B), boolArg(i.C))
	case Call:
		return IABC(CALL, uint8(i.A), i.Params.raw(), i.Returns.raw())
	case TailCall:
		return IAB(TAILCALL, uint8(i.A), i.Params.raw())
	case Return:
		return IAB(RETURN, uint8(i.A), i.Values.raw())
	case ForLoop:
		return IAsBx(FORLOOP, uint8(i.A), int32(i.SBx))
	case ForPrep:
		return IAsBx(FORPREP, uint8(i.A), int32(i.SBx))
	case TForCall:
		return IABC(TFORCALL, uint8(i.A), 0, uint16(i.Results))
	case TForLoop:
		return IAsBx(TFORLOOP, uint8(i.A), int32(i.SBx))
	case SetList:
		var b uint16
		if i.Values.IsKnown() {
			b = uint16(i.Values)
		}
		return IABC(SETLIST, uint8(i.A), b, uint16(i.Block))
	case Closure:
		return IABx(CLOSURE, uint8(i.A), uint32(i.Bx))
	case Vararg:
		return IAB(VARARG, uint8(i.A), i.Count.raw())
	case ExtraArg:
		return IAx(EXTRAARG, uint32(i.Ax))
	default:
		panic(fmt.Sprintf("cannot encode instruction %T", ins))
	}
}

// Format returns the human readable form of an instruction.
func Format(ins Instruction) string { return ToString(Encode(ins)) }

func boolArg(b bool) uint16 {
	if b {
		return 1
	}
	return 0
}
