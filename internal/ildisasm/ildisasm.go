// Package ildisasm renders a lifted IL node or block as a C-like
// expression string, the way ILDisassembler does in the original — one
// line of pseudo-C per node, used by the --il CLI flag to show the IL
// between lifting and structuring.
package ildisasm

import (
	"fmt"
	"strings"

	"github.com/SlidyBat/SmxDecompiler/internal/il"
)

// Disassembler formats nodes out of a single Func's arena. It carries no
// state of its own between calls (unlike the original's stringstream
// member); Node is safe to call repeatedly or concurrently over the same
// Func.
type Disassembler struct {
	fn *il.Func
}

// New creates a Disassembler reading nodes from fn.
func New(fn *il.Func) *Disassembler { return &Disassembler{fn: fn} }

// Node renders a single node as a pseudo-C expression or statement.
func (d *Disassembler) Node(id il.NodeID) string {
	if !id.Valid() {
		return "<none>"
	}
	n := d.fn.Node(id)
	switch n.Kind() {
	case il.KindConst:
		return fmt.Sprintf("%d", n.ConstValue())

	case il.KindUnary:
		return d.unary(n)

	case il.KindBinary:
		return d.binary(n)

	case il.KindLocalVar:
		return fmt.Sprintf("local_%d", n.LocalStackOffset())

	case il.KindGlobalVar:
		return fmt.Sprintf("global_%d", n.GlobalAddr())

	case il.KindHeapVar:
		return fmt.Sprintf("heap_%d", n.HeapSize())

	case il.KindArrayElementVar:
		return fmt.Sprintf("%s[%s]", d.Node(n.ArrayBase()), d.Node(n.ArrayIndex()))

	case il.KindFieldVar:
		return fmt.Sprintf("%s.field_%d", d.Node(n.FieldBase()), n.FieldOffset())

	case il.KindTempVar:
		return fmt.Sprintf("tmp_%d", n.TempIndex())

	case il.KindLoad:
		return d.Node(n.LoadVar())

	case il.KindStore:
		return fmt.Sprintf("%s = %s", d.Node(n.StoreVar()), d.Node(n.StoreVal()))

	case il.KindJump:
		return fmt.Sprintf("goto BB%d", n.JumpTarget())

	case il.KindJumpCond:
		return fmt.Sprintf("if %s goto BB%d else BB%d",
			d.Node(n.JumpCondCondition()), n.JumpCondTrue(), n.JumpCondFalse())

	case il.KindSwitch:
		return d.switchNode(n)

	case il.KindCall:
		return fmt.Sprintf("func_%d(%s)", n.CallAddr(), d.argList(n.Args()))

	case il.KindNative:
		return fmt.Sprintf("native_%d(%s)", n.NativeIndex(), d.argList(n.Args()))

	case il.KindReturn:
		if !n.ReturnValue().Valid() {
			return "ret"
		}
		return fmt.Sprintf("ret %s", d.Node(n.ReturnValue()))

	case il.KindPhi:
		return fmt.Sprintf("phi(%s)", d.argList(n.PhiInputs()))

	case il.KindInterval:
		return fmt.Sprintf("interval BB%d", n.IntervalBlock())

	default:
		return "<err>"
	}
}

func (d *Disassembler) argList(args []il.NodeID) string {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = d.Node(a)
	}
	return strings.Join(parts, ", ")
}

func (d *Disassembler) unary(n *il.Node) string {
	val := d.Node(n.UnaryVal())
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
		// Fabs/Float/FloatNot/RndTo* are float-emulation helper calls with
		// no single-operator spelling in source; the original disassembler
		// gives up on these too.
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

func (d *Disassembler) binary(n *il.Node) string {
	op, ok := binaryOps[n.BinaryOp()]
	if !ok {
		op = "?"
	}
	return fmt.Sprintf("%s %s %s", d.Node(n.BinaryLeft()), op, d.Node(n.BinaryRight()))
}

func (d *Disassembler) switchNode(n *il.Node) string {
	var b strings.Builder
	fmt.Fprintf(&b, "switch %s { ", d.Node(n.SwitchValue()))
	for _, c := range n.SwitchCases() {
		fmt.Fprintf(&b, "case %d: goto BB%d; ", c.Value, c.Target)
	}
	fmt.Fprintf(&b, "default: goto BB%d }", n.SwitchDefault())
	return b.String()
}

// Block renders every node in block, one per line.
func (d *Disassembler) Block(block *il.ILBlock) string {
	var b strings.Builder
	for _, id := range block.Nodes() {
		b.WriteString(d.Node(id))
		b.WriteByte('\n')
	}
	return b.String()
}
