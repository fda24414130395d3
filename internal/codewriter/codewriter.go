// Package codewriter renders a structurizer.Statement tree as indented
// pseudo-C: the final text a user sees as "decompiled source". It resolves
// variable, function, and native names against the originating SmxFile
// where debug/RTTI info names them, falling back to the same
// local_N/global_N/func_N/native_N placeholders internal/ildisasm uses
// when it doesn't.
package codewriter

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/SlidyBat/SmxDecompiler/internal/il"
	"github.com/SlidyBat/SmxDecompiler/internal/structurizer"
	"github.com/SlidyBat/SmxDecompiler/pkg/cell"
	"github.com/SlidyBat/SmxDecompiler/pkg/smx"
)

// StringMode controls how constants that look like they address a
// NUL-terminated, printable-ASCII run in the .data section are rendered.
type StringMode int

const (
	// StringNone renders every constant as a plain number.
	StringNone StringMode = iota
	// StringAggressive replaces the constant outright with its string
	// literal, e.g. 1204 becomes "hello".
	StringAggressive
	// StringComment keeps the numeric constant and appends the string
	// as a trailing comment, e.g. 1204 /* "hello" */.
	StringComment
)

// Writer renders one function's Statement tree at a time. file/fn may be
// nil (e.g. in tests exercising a synthetic tree with no backing SMX
// container), in which case every name falls back to its placeholder form.
type Writer struct {
	file *smx.File
	fn   *smx.Function

	code       strings.Builder
	indent     int
	labels     map[*structurizer.Statement]string
	stringMode StringMode
}

// New creates a Writer that resolves names against file's RTTI/debug
// tables, scoped to fn (for local-variable names).
func New(file *smx.File, fn *smx.Function) *Writer {
	return &Writer{file: file, fn: fn}
}

// SetStringMode enables string-literal detection for KindConst operands,
// per the CLI's --strings flag.
func (w *Writer) SetStringMode(mode StringMode) { w.stringMode = mode }

// Build renders stmt, and everything chained after it via Next, as one
// pseudo-C function body.
func (w *Writer) Build(ilfn *il.Func, stmt *structurizer.Statement) string {
	w.code.Reset()
	w.indent = 0
	w.labels = nil
	w.writeChain(ilfn, stmt)
	return w.code.String()
}

func (w *Writer) tabs() string { return strings.Repeat("  ", w.indent) }

func (w *Writer) writeChain(ilfn *il.Func, stmt *structurizer.Statement) {
	for s := stmt; s != nil; s = s.Next {
		w.writeStatement(ilfn, s)
	}
}

func (w *Writer) writeStatement(ilfn *il.Func, s *structurizer.Statement) {
	if s.Labeled {
		fmt.Fprintf(&w.code, "%s:\n", w.labelName(s))
	}

	switch s.Kind {
	case structurizer.KindBasic:
		w.writeBlock(ilfn, s.Block)

	case structurizer.KindIf:
		fmt.Fprintf(&w.code, "%sif (%s)\n%s{\n", w.tabs(), w.expr(ilfn, s.Cond, 1), w.tabs())
		w.indent++
		w.writeChain(ilfn, s.Then)
		w.indent--
		fmt.Fprintf(&w.code, "%s}\n", w.tabs())
		if s.Else != nil {
			fmt.Fprintf(&w.code, "%selse\n%s{\n", w.tabs(), w.tabs())
			w.indent++
			w.writeChain(ilfn, s.Else)
			w.indent--
			fmt.Fprintf(&w.code, "%s}\n", w.tabs())
		}

	case structurizer.KindWhile:
		fmt.Fprintf(&w.code, "%swhile (%s)\n%s{\n", w.tabs(), w.expr(ilfn, s.Cond, 1), w.tabs())
		w.indent++
		w.writeChain(ilfn, s.Body)
		w.indent--
		fmt.Fprintf(&w.code, "%s}\n", w.tabs())

	case structurizer.KindDoWhile:
		fmt.Fprintf(&w.code, "%sdo\n%s{\n", w.tabs(), w.tabs())
		w.indent++
		w.writeChain(ilfn, s.Body)
		w.indent--
		fmt.Fprintf(&w.code, "%s} while (%s);\n", w.tabs(), w.expr(ilfn, s.Cond, 1))

	case structurizer.KindEndless:
		fmt.Fprintf(&w.code, "%swhile (true)\n%s{\n", w.tabs(), w.tabs())
		w.indent++
		w.writeChain(ilfn, s.Body)
		w.indent--
		fmt.Fprintf(&w.code, "%s}\n", w.tabs())

	case structurizer.KindSwitch:
		fmt.Fprintf(&w.code, "%sswitch (%s)\n%s{\n", w.tabs(), w.expr(ilfn, s.Value, 1), w.tabs())
		w.indent++
		for _, c := range s.Cases {
			fmt.Fprintf(&w.code, "%scase %d:\n", w.tabs(), c.Value)
			w.indent++
			w.writeChain(ilfn, c.Body)
			fmt.Fprintf(&w.code, "%sbreak;\n", w.tabs())
			w.indent--
		}
		if s.Default != nil {
			fmt.Fprintf(&w.code, "%sdefault:\n", w.tabs())
			w.indent++
			w.writeChain(ilfn, s.Default)
			w.indent--
		}
		w.indent--
		fmt.Fprintf(&w.code, "%s}\n", w.tabs())

	case structurizer.KindBreak:
		fmt.Fprintf(&w.code, "%sbreak;\n", w.tabs())

	case structurizer.KindContinue:
		fmt.Fprintf(&w.code, "%scontinue;\n", w.tabs())

	case structurizer.KindGoto:
		if s.Target == nil {
			fmt.Fprintf(&w.code, "%s// unreachable goto (block pruned)\n", w.tabs())
			return
		}
		fmt.Fprintf(&w.code, "%sgoto %s;\n", w.tabs(), w.labelName(s.Target))
	}
}

// labelName assigns (or recalls) a sequential label for a Goto target,
// since a Statement carries no address of its own the way an ILBlock does.
func (w *Writer) labelName(s *structurizer.Statement) string {
	if w.labels == nil {
		w.labels = map[*structurizer.Statement]string{}
	}
	if name, ok := w.labels[s]; ok {
		return name
	}
	name := fmt.Sprintf("label_%d", len(w.labels))
	w.labels[s] = name
	return name
}

// writeBlock renders a Basic statement's own instructions. Jump/JumpCond/
// Switch terminators are never printed directly: the enclosing If/While/
// Switch statement already consumed their condition, so printing them again
// would just dump "goto BBn" noise the structured control flow replaced.
func (w *Writer) writeBlock(ilfn *il.Func, block *il.ILBlock) {
	if block == nil {
		return
	}
	for _, id := range block.Nodes() {
		switch ilfn.Node(id).Kind() {
		case il.KindJump, il.KindJumpCond, il.KindSwitch:
			continue
		}
		fmt.Fprintf(&w.code, "%s%s;\n", w.tabs(), w.expr(ilfn, id, 1))
	}
}

func (w *Writer) argList(ilfn *il.Func, args []il.NodeID, depth int) string {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = w.expr(ilfn, a, depth+1)
	}
	return strings.Join(parts, ", ")
}

// expr formats a value-producing node as a C-like expression. depth
// mirrors the original writer's "level": 1 means id is a block's own
// top-level statement rather than somebody else's operand, which is the
// only context a LocalVar/TempVar prints its "int" declaration and initial
// value instead of just its name.
func (w *Writer) expr(ilfn *il.Func, id il.NodeID, depth int) string {
	if !id.Valid() {
		return ""
	}
	n := ilfn.Node(id)
	switch n.Kind() {
	case il.KindConst:
		v := n.ConstValue()
		if w.stringMode != StringNone {
			if s, ok := w.detectString(v); ok {
				switch w.stringMode {
				case StringAggressive:
					return fmt.Sprintf("%q", s)
				case StringComment:
					return fmt.Sprintf("%d /* %q */", v, s)
				}
			}
		}
		return fmt.Sprintf("%d", v)

	case il.KindUnary:
		return w.unary(ilfn, n, depth)

	case il.KindBinary:
		return w.binary(ilfn, n, depth)

	case il.KindLocalVar:
		name := w.localName(n.LocalStackOffset())
		if depth != 1 {
			return name
		}
		decl := "int " + name
		if n.LocalValue().Valid() {
			decl += " = " + w.expr(ilfn, n.LocalValue(), depth+1)
		}
		return decl

	case il.KindGlobalVar:
		return w.globalName(n.GlobalAddr())

	case il.KindHeapVar:
		return fmt.Sprintf("heap_%d", n.HeapSize())

	case il.KindArrayElementVar:
		return fmt.Sprintf("%s[%s]", w.expr(ilfn, n.ArrayBase(), depth+1), w.expr(ilfn, n.ArrayIndex(), depth+1))

	case il.KindFieldVar:
		base := w.expr(ilfn, n.FieldBase(), depth+1)
		if f := n.Field(); f != nil && f.Name != "" {
			return base + "." + f.Name
		}
		return fmt.Sprintf("%s.field_%d", base, n.FieldOffset())

	case il.KindTempVar:
		name := fmt.Sprintf("tmp_%d", n.TempIndex())
		if depth != 1 {
			return name
		}
		decl := "int " + name
		if n.TempValue().Valid() {
			decl += " = " + w.expr(ilfn, n.TempValue(), depth+1)
		}
		return decl

	case il.KindLoad:
		return w.expr(ilfn, n.LoadVar(), depth+1)

	case il.KindStore:
		return fmt.Sprintf("%s = %s", w.expr(ilfn, n.StoreVar(), depth+1), w.expr(ilfn, n.StoreVal(), depth+1))

	case il.KindCall:
		return fmt.Sprintf("%s(%s)", w.callName(n.CallAddr()), w.argList(ilfn, n.Args(), depth))

	case il.KindNative:
		return fmt.Sprintf("%s(%s)", w.nativeName(n.NativeIndex()), w.argList(ilfn, n.Args(), depth))

	case il.KindReturn:
		if !n.ReturnValue().Valid() {
			return "return"
		}
		return "return " + w.expr(ilfn, n.ReturnValue(), depth+1)

	default:
		return "<err>"
	}
}

func (w *Writer) unary(ilfn *il.Func, n *il.Node, depth int) string {
	val := w.expr(ilfn, n.UnaryVal(), depth+1)
	switch n.UnaryOp() {
	case il.OpNot:
		return "!" + val
	case il.OpNeg:
		return "-" + val
	case il.OpInvert:
		return "~" + val
	case il.OpIncOld:
		return "++" + val
	case il.OpDecOld:
		return "--" + val
	default:
		return "<err>"
	}
}

var binaryOps = map[il.BinaryOp]string{
	il.OpAdd: "+", il.OpSub: "-", il.OpDiv: "/", il.OpMul: "*", il.OpMod: "%",
	il.OpShl: "<<", il.OpShr: ">>", il.OpSShr: ">>",
	il.OpBitAnd: "&", il.OpBitOr: "|", il.OpXor: "^",
	il.OpEq: "==", il.OpNeq: "!=", il.OpSGrtr: ">", il.OpSGeq: ">=",
	il.OpSLess: "<", il.OpSLeq: "<=", il.OpAnd: "&&", il.OpOr: "||",
	il.OpFloatAdd: "f+", il.OpFloatSub: "f-", il.OpFloatMul: "f*", il.OpFloatDiv: "f/",
	il.OpFloatCmp: "fcmp", il.OpFloatGt: "f>", il.OpFloatGe: "f>=",
	il.OpFloatLe: "f<=", il.OpFloatLt: "f<", il.OpFloatEq: "f==", il.OpFloatNe: "f!=",
}

func (w *Writer) binary(ilfn *il.Func, n *il.Node, depth int) string {
	op, ok := binaryOps[n.BinaryOp()]
	if !ok {
		op = "?"
	}
	return fmt.Sprintf("%s %s %s", w.expr(ilfn, n.BinaryLeft(), depth+1), op, w.expr(ilfn, n.BinaryRight(), depth+1))
}

func (w *Writer) localName(offset int) string {
	if w.fn != nil {
		if loc := w.fn.FindLocalByStackOffset(offset); loc != nil && loc.Name != "" {
			return loc.Name
		}
	}
	return fmt.Sprintf("local_%d", offset)
}

func (w *Writer) globalName(addr cell.Cell) string {
	if w.file != nil {
		if v := w.file.FindGlobalAt(addr); v != nil && v.Name != "" {
			return v.Name
		}
	}
	return fmt.Sprintf("global_%d", addr)
}

func (w *Writer) callName(addr cell.Cell) string {
	if w.file != nil {
		if f := w.file.FindFunctionAt(addr); f != nil && f.Name != "" {
			return f.Name
		}
	}
	return fmt.Sprintf("func_%d", addr)
}

// BuildVarDecl renders a global variable declaration ("int foo;", minus
// the trailing semicolon the caller adds), used by the global declarations
// listing that --no-globals turns off.
// typ may be nil, falling back to "int" the same way an untyped local does.
func (w *Writer) BuildVarDecl(name string, typ *smx.VariableType) string {
	base := "int"
	if typ != nil {
		switch typ.Tag {
		case smx.TagBool:
			base = "bool"
		case smx.TagFloat:
			base = "float"
		case smx.TagChar:
			base = "char"
		case smx.TagAny:
			base = "any"
		case smx.TagVoid:
			base = "void"
		case smx.TagEnum:
			if typ.Enum != nil {
				base = typ.Enum.Name
			}
		case smx.TagTypedef:
			if typ.TypeDef != nil {
				base = typ.TypeDef.Name
			}
		case smx.TagTypeset:
			if typ.TypeSet != nil {
				base = typ.TypeSet.Name
			}
		case smx.TagEnumStruct:
			if typ.EnumStruct != nil {
				base = typ.EnumStruct.Name
			}
		case smx.TagClassdef:
			if typ.ClassDef != nil {
				base = typ.ClassDef.Name
			}
		}
	}

	decl := base
	if typ != nil && typ.Flags&smx.FlagConst != 0 {
		decl = "const " + decl
	}
	decl += " " + name
	if typ != nil {
		for _, d := range typ.Dims {
			if d > 0 {
				decl += fmt.Sprintf("[%d]", d)
			} else {
				decl += "[]"
			}
		}
	}
	return decl
}

// detectString treats addr as a candidate .data offset and reports the
// NUL-terminated run there if it is entirely printable ASCII and at least
// one byte long. Capped at 128 bytes to avoid dragging in unrelated data
// the heuristic misidentified as a string.
func (w *Writer) detectString(addr cell.Cell) (string, bool) {
	if w.file == nil || addr < 0 {
		return "", false
	}
	data := w.file.Data(addr)
	if len(data) == 0 {
		return "", false
	}
	if len(data) > 128 {
		data = data[:128]
	}
	end := bytes.IndexByte(data, 0)
	if end <= 0 {
		return "", false
	}
	for _, b := range data[:end] {
		if b < 0x20 || b > 0x7e {
			return "", false
		}
	}
	return string(data[:end]), true
}

func (w *Writer) nativeName(idx int) string {
	if w.file != nil {
		if n := w.file.FindNativeByIndex(idx); n != nil && n.Name != "" {
			return n.Name
		}
	}
	return fmt.Sprintf("native_%d", idx)
}
