package chunk

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/pkg/errors"
	"github.com/tanema/luavm/src/bytecode"
)

type (
	// UpvalueDesc describes where a closure finds an upvalue when it is created.
	// InStack means the upvalue is a register of the enclosing function, otherwise
	// it is one of the enclosing function's own upvalues.
	UpvalueDesc struct {
		Name    string
		InStack bool
		Index   uint8
	}
	// LocalVar is the debug record of a local variable and the pc range where it
	// is alive.
	LocalVar struct {
		Name    string
		StartPC uint32
		EndPC   uint32
	}
	// DebugInfo is the optional debug data of a prototype. It is nil when the
	// chunk was stripped.
	DebugInfo struct {
		LineInfo     []uint32
		Locals       []LocalVar
		UpvalueNames []string
	}
	// FnProto is the compiled form of a function. It is shared read only by every
	// closure created from it. The main chunk is a FnProto as well.
	FnProto struct {
		Source          string
		LineDefined     uint32
		LastLineDefined uint32
		NumParams       uint8
		IsVararg        bool
		MaxStackSize    uint8
		Code            []bytecode.Instruction
		Constants       []any
		Upvalues        []UpvalueDesc
		Protos          []*FnProto
		Debug           *DebugInfo
	}
)

const fnProtoTemplate = `{{.Kind}} <{{.Source}}:{{.LineDefined}},{{.LastLineDefined}}> ({{.Code | len}} instructions)
{{.NumParams}}{{if .IsVararg}}+{{end}} params, {{.MaxStackSize}} slots, {{.Upvalues | len}} upvalues, {{.Locals | len}} locals, {{.Constants | len}} constants, {{.Protos | len}} functions
{{- range $i, $code := .Code}}
	{{inc $i}}	[{{line $i}}]	{{format $code}} ; {{codeMeta $i $code -}}
{{end}}
constants ({{.Constants | len}}):
{{- range $i, $k := .Constants}}
	{{inc $i}}	{{constString $k}}
{{- end}}
locals ({{.Locals | len}}):
{{- range $i, $l := .Locals}}
	{{$i}}	{{$l.Name}}	{{inc $l.StartPC}}	{{inc $l.EndPC}}
{{- end}}
upvalues ({{.Upvalues | len}}):
{{- range $i, $u := .Upvalues}}
	{{$i}}	{{$u.Name}}	{{if $u.InStack}}1{{else}}0{{end}}	{{$u.Index}}
{{- end}}
{{range .Protos}}
{{. -}}
{{end}}`

func loadFunction(r *chunkReader, parentSource string) (*FnProto, error) {
	fn := &FnProto{}
	source, hasSource, err := r.readString("source")
	if err != nil {
		return nil, errors.Wrap(err, "source")
	}
	if !hasSource {
		source = parentSource
	}
	fn.Source = source

	if fn.LineDefined, err = r.readUint32("line defined"); err != nil {
		return nil, errors.Wrap(err, "line defined")
	} else if fn.LastLineDefined, err = r.readUint32("last line defined"); err != nil {
		return nil, errors.Wrap(err, "last line defined")
	} else if fn.NumParams, err = r.readByte("number of parameters"); err != nil {
		return nil, errors.Wrap(err, "number of parameters")
	} else if fn.IsVararg, err = r.readBool("is vararg"); err != nil {
		return nil, errors.Wrap(err, "is vararg")
	} else if fn.MaxStackSize, err = r.readByte("max stack size"); err != nil {
		return nil, errors.Wrap(err, "max stack size")
	}

	if err := loadCode(r, fn); err != nil {
		return nil, errors.Wrap(err, "code")
	} else if err := loadConstants(r, fn); err != nil {
		return nil, errors.Wrap(err, "constants")
	} else if err := loadUpvalues(r, fn); err != nil {
		return nil, errors.Wrap(err, "upvalues")
	} else if err := loadProtos(r, fn); err != nil {
		return nil, errors.Wrap(err, "protos")
	} else if err := loadDebug(r, fn); err != nil {
		return nil, errors.Wrap(err, "debug")
	}
	return fn, nil
}

func loadCode(r *chunkReader, fn *FnProto) error {
	size, err := r.readUint32("instruction count")
	if err != nil {
		return err
	}
	fn.Code = make([]bytecode.Instruction, 0, min(int64(size), r.remaining()/4))
	for i := range size {
		start := r.offset
		raw, err := r.readUint32("instruction")
		if err != nil {
			return errors.Wrapf(err, "instruction %d", i)
		}
		ins, err := bytecode.Decode(raw)
		if err != nil {
			return r.fail("instruction", start, errors.Wrapf(err, "instruction %d", i))
		}
		fn.Code = append(fn.Code, ins)
	}
	return nil
}

func loadConstants(r *chunkReader, fn *FnProto) error {
	size, err := r.readUint32("constant count")
	if err != nil {
		return err
	}
	fn.Constants = make([]any, 0, min(int64(size), r.remaining()))
	for i := range size {
		val, err := loadConstant(r)
		if err != nil {
			return errors.Wrapf(err, "constant %d", i)
		}
		fn.Constants = append(fn.Constants, val)
	}
	return nil
}

func loadUpvalues(r *chunkReader, fn *FnProto) error {
	size, err := r.readUint32("upvalue count")
	if err != nil {
		return err
	}
	fn.Upvalues = make([]UpvalueDesc, 0, min(int64(size), r.remaining()/2))
	for i := range size {
		var desc UpvalueDesc
		if desc.InStack, err = r.readBool("upvalue in stack"); err != nil {
			return errors.Wrapf(err, "upvalue %d", i)
		} else if desc.Index, err = r.readByte("upvalue index"); err != nil {
			return errors.Wrapf(err, "upvalue %d", i)
		}
		fn.Upvalues = append(fn.Upvalues, desc)
	}
	return nil
}

func loadProtos(r *chunkReader, fn *FnProto) error {
	size, err := r.readUint32("function count")
	if err != nil {
		return err
	}
	for i := range size {
		proto, err := loadFunction(r, fn.Source)
		if err != nil {
			return errors.Wrapf(err, "function %d", i)
		}
		fn.Protos = append(fn.Protos, proto)
	}
	return nil
}

func loadDebug(r *chunkReader, fn *FnProto) error {
	info := &DebugInfo{}
	size, err := r.readUint32("line info count")
	if err != nil {
		return err
	}
	for range size {
		line, err := r.readUint32("line info")
		if err != nil {
			return err
		}
		info.LineInfo = append(info.LineInfo, line)
	}

	if size, err = r.readUint32("local count"); err != nil {
		return err
	}
	for i := range size {
		var local LocalVar
		if local.Name, _, err = r.readString("local name"); err != nil {
			return errors.Wrapf(err, "local %d", i)
		} else if local.StartPC, err = r.readUint32("local start pc"); err != nil {
			return errors.Wrapf(err, "local %d", i)
		} else if local.EndPC, err = r.readUint32("local end pc"); err != nil {
			return errors.Wrapf(err, "local %d", i)
		}
		info.Locals = append(info.Locals, local)
	}

	if size, err = r.readUint32("upvalue name count"); err != nil {
		return err
	}
	for i := range size {
		name, _, err := r.readString("upvalue name")
		if err != nil {
			return errors.Wrapf(err, "upvalue name %d", i)
		}
		info.UpvalueNames = append(info.UpvalueNames, name)
		if int(i) < len(fn.Upvalues) {
			fn.Upvalues[i].Name = name
		}
	}

	if len(info.LineInfo) > 0 || len(info.Locals) > 0 || len(info.UpvalueNames) > 0 {
		fn.Debug = info
	}
	return nil
}

func dumpFunction(w *chunkWriter, fn *FnProto, parentSource string) error {
	w.writeString(fn.Source, fn.Source != "" && fn.Source != parentSource)
	w.writeUint32(fn.LineDefined)
	w.writeUint32(fn.LastLineDefined)
	w.writeByte(fn.NumParams)
	w.writeBool(fn.IsVararg)
	w.writeByte(fn.MaxStackSize)

	w.writeCount(len(fn.Code))
	for _, ins := range fn.Code {
		w.writeUint32(bytecode.Encode(ins))
	}

	w.writeCount(len(fn.Constants))
	for i, val := range fn.Constants {
		if err := dumpConstant(w, val); err != nil {
			return errors.Wrapf(err, "constant %d", i)
		}
	}

	w.writeCount(len(fn.Upvalues))
	for _, desc := range fn.Upvalues {
		w.writeBool(desc.InStack)
		w.writeByte(desc.Index)
	}

	w.writeCount(len(fn.Protos))
	for i, proto := range fn.Protos {
		if err := dumpFunction(w, proto, fn.Source); err != nil {
			return errors.Wrapf(err, "function %d", i)
		}
	}

	if fn.Debug == nil {
		w.writeCount(0)
		w.writeCount(0)
		w.writeCount(0)
		return nil
	}
	w.writeCount(len(fn.Debug.LineInfo))
	for _, line := range fn.Debug.LineInfo {
		w.writeUint32(line)
	}
	w.writeCount(len(fn.Debug.Locals))
	for _, local := range fn.Debug.Locals {
		w.writeString(local.Name, true)
		w.writeUint32(local.StartPC)
		w.writeUint32(local.EndPC)
	}
	w.writeCount(len(fn.Debug.UpvalueNames))
	for _, name := range fn.Debug.UpvalueNames {
		w.writeString(name, true)
	}
	return nil
}

// Line returns the source line of the instruction at pc, or 0 when there is no
// debug information.
func (fn *FnProto) Line(pc int) int64 {
	if fn.Debug == nil || pc < 0 || pc >= len(fn.Debug.LineInfo) {
		return 0
	}
	return int64(fn.Debug.LineInfo[pc])
}

// Locals returns the local variable debug records.
func (fn *FnProto) Locals() []LocalVar {
	if fn.Debug == nil {
		return nil
	}
	return fn.Debug.Locals
}

// LocalName returns the name of the register reg at pc if it is a named local.
func (fn *FnProto) LocalName(reg, pc int) string {
	for _, local := range fn.Locals() {
		if uint32(pc) < local.StartPC {
			break
		} else if uint32(pc) < local.EndPC {
			if reg == 0 {
				return local.Name
			}
			reg--
		}
	}
	return ""
}

// UpvalueName returns the name of upvalue idx or a placeholder if it is unnamed.
func (fn *FnProto) UpvalueName(idx int) string {
	if idx >= 0 && idx < len(fn.Upvalues) && fn.Upvalues[idx].Name != "" {
		return fn.Upvalues[idx].Name
	}
	return "?"
}

// Kind is main for the main chunk and function for everything else.
func (fn *FnProto) Kind() string {
	if fn.LineDefined == 0 {
		return "main"
	}
	return "function"
}

// Name is how the function is referred to in tracebacks.
func (fn *FnProto) Name() string {
	if fn.LineDefined == 0 {
		return "main chunk"
	}
	return fmt.Sprintf("function <%s:%d>", fn.Source, fn.LineDefined)
}

func (fn *FnProto) String() string {
	var buf bytes.Buffer
	tmpl := template.New("fnproto")
	tmpl.Funcs(map[string]any{
		"inc":         func(i any) string { return fmt.Sprintf("%d", toInt(i)+1) },
		"line":        func(pc int) string { return lineString(fn.Line(pc)) },
		"format":      bytecode.Format,
		"constString": constString,
		"codeMeta":    fn.codeMeta,
	})
	tmpl = template.Must(tmpl.Parse(fnProtoTemplate))
	if err := tmpl.Execute(&buf, fn); err != nil {
		panic(err)
	}
	return buf.String()
}

func (fn *FnProto) codeMeta(pc int, ins bytecode.Instruction) string {
	out := []string{}
	rk := func(ds bytecode.DataSource) {
		if ds.IsConstant {
			out = append(out, fn.constant(ds.Index))
		} else {
			out = append(out, "-")
		}
	}
	jump := func(sbx int) { out = append(out, fmt.Sprintf("to %d", pc+sbx+2)) }
	switch i := ins.(type) {
	case bytecode.LoadK:
		out = append(out, fn.constant(i.Bx))
	case bytecode.GetUpval:
		out = append(out, fn.UpvalueName(i.B))
	case bytecode.SetUpval:
		out = append(out, fn.UpvalueName(i.B))
	case bytecode.GetTabUp:
		out = append(out, fn.UpvalueName(i.B))
		rk(i.Key)
	case bytecode.SetTabUp:
		out = append(out, fn.UpvalueName(i.A))
		rk(i.Key)
		rk(i.Value)
	case bytecode.GetTable:
		rk(i.Key)
	case bytecode.SetTable:
		rk(i.Key)
		rk(i.Value)
	case bytecode.Self:
		rk(i.Key)
	case bytecode.Arith:
		rk(i.B)
		rk(i.C)
	case bytecode.Compare:
		rk(i.B)
		rk(i.C)
	case bytecode.Jmp:
		jump(i.SBx)
	case bytecode.ForLoop:
		jump(i.SBx)
	case bytecode.ForPrep:
		jump(i.SBx)
	case bytecode.TForLoop:
		jump(i.SBx)
	case bytecode.Call:
		out = append(out, fmt.Sprintf("%v in %v out", i.Params, i.Returns))
	case bytecode.TailCall:
		out = append(out, fmt.Sprintf("%v in all out", i.Params))
	case bytecode.Return:
		out = append(out, fmt.Sprintf("%v out", i.Values))
	case bytecode.Vararg:
		out = append(out, fmt.Sprintf("%v in", i.Count))
	case bytecode.Closure:
		if i.Bx < len(fn.Protos) {
			out = append(out, fn.Protos[i.Bx].Name())
		}
	}
	if len(out) == 0 || strings.Trim(strings.Join(out, ""), "-") == "" {
		return ""
	}
	return strings.Join(out, " ")
}

func (fn *FnProto) constant(idx int) string {
	if idx < 0 || idx >= len(fn.Constants) {
		return "?"
	}
	return constString(fn.Constants[idx])
}

func lineString(line int64) string {
	if line == 0 {
		return "-"
	}
	return fmt.Sprintf("%d", line)
}

func toInt(val any) int64 {
	switch tval := val.(type) {
	case int:
		return int64(tval)
	case uint32:
		return int64(tval)
	default:
		return 0
	}
}
