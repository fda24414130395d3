// Package typer recovers SMX types for IL nodes in two composable passes:
// populate, which attaches recovered debug/RTTI metadata to the nodes that
// reference a named variable or callable directly, and propagate, which
// pushes types both up from typed leaves and down from a demanded-type
// context established by each node's parent. The driver alternates this
// with codefixer passes since each can unlock further progress for the
// other.
package typer

import (
	"github.com/SlidyBat/SmxDecompiler/internal/il"
	"github.com/SlidyBat/SmxDecompiler/pkg/cell"
	"github.com/SlidyBat/SmxDecompiler/pkg/smx"
)

// MetadataSource is the lookups Typer needs out of an SMX file; *smx.File
// satisfies it directly. Narrowed to an interface so tests can supply a
// small in-memory fixture instead of a fully parsed container.
type MetadataSource interface {
	FindFunctionAt(addr cell.Cell) *smx.Function
	FindGlobalAt(addr cell.Cell) *smx.Variable
	FindNativeByIndex(index int) *smx.Native
}

// Typer recovers types for one function's IL graph against its owning SMX
// file (the source of local/global/native/function metadata).
type Typer struct {
	file MetadataSource
}

// New creates a Typer reading metadata from file.
func New(file MetadataSource) *Typer {
	return &Typer{file: file}
}

// Populate runs phase A: attaching SMX variable/function/native metadata
// (and the type that metadata carries) to every node that refers to one.
// Each top-level block node is walked recursively into its full operand
// tree, mirroring RecursiveILVisitor: a Call buried inside a Binary's
// operand still needs its signature filled in.
func (t *Typer) Populate(fn *ilFunc, g *il.Graph) {
	fnAddr := g.EntryBlock().PC()
	smxFn := t.file.FindFunctionAt(fnAddr)

	var walk func(id il.NodeID)
	walk = func(id il.NodeID) {
		if !id.Valid() {
			return
		}
		t.populateNode(fn, id, smxFn)
		for _, child := range children(fn, id) {
			walk(child)
		}
	}

	for _, bb := range g.Blocks() {
		for _, id := range bb.Nodes() {
			walk(id)
		}
	}
}

// children returns every node-valued operand of id, the Go analogue of each
// concrete ILNode's RecursiveILVisitor::Visit* override.
func children(fn *ilFunc, id il.NodeID) []il.NodeID {
	n := fn.Node(id)
	switch n.Kind() {
	case il.KindUnary:
		return []il.NodeID{n.UnaryVal()}
	case il.KindBinary:
		return []il.NodeID{n.BinaryLeft(), n.BinaryRight()}
	case il.KindLocalVar:
		return []il.NodeID{n.LocalValue()}
	case il.KindArrayElementVar:
		return []il.NodeID{n.ArrayBase(), n.ArrayIndex()}
	case il.KindFieldVar:
		return []il.NodeID{n.FieldBase()}
	case il.KindTempVar:
		return []il.NodeID{n.TempValue()}
	case il.KindLoad:
		return []il.NodeID{n.LoadVar()}
	case il.KindStore:
		return []il.NodeID{n.StoreVar(), n.StoreVal()}
	case il.KindJumpCond:
		return []il.NodeID{n.JumpCondCondition()}
	case il.KindSwitch:
		return []il.NodeID{n.SwitchValue()}
	case il.KindCall, il.KindNative:
		return n.Args()
	case il.KindReturn:
		return []il.NodeID{n.ReturnValue()}
	case il.KindPhi:
		return n.PhiInputs()
	}
	return nil
}

// Propagate runs phase B: walking the graph with a demanded-type stack so
// that untyped leaves (mostly Const) inherit a type from their use site,
// and binary/unary operators both fix their own result type and demand a
// type for their operands.
func (t *Typer) Propagate(fn *ilFunc, g *il.Graph) {
	fnAddr := g.EntryBlock().PC()
	smxFn := t.file.FindFunctionAt(fnAddr)

	p := &propagator{fn: fn, smxFn: smxFn}
	for _, bb := range g.Blocks() {
		for _, id := range bb.Nodes() {
			p.visit(id)
		}
	}
}

// ilFunc is an alias of internal/il.Func, the node arena Typer works on;
// typer_test drives it off a hand-built arena without constructing a full
// lifter result.
type ilFunc = il.Func

// populateNode fills in SMX metadata for the node kinds that can carry it.
// Every kind that isn't LocalVar/GlobalVar/Call/Native is left untouched.
// A LocalVar/GlobalVar that already carries metadata is skipped; a
// Call/Native's type is set from the callee's signature on every run.
func (t *Typer) populateNode(fn *ilFunc, id il.NodeID, smxFn *smx.Function) {
	n := fn.Node(id)
	switch n.Kind() {
	case il.KindLocalVar:
		if n.SmxVar() != nil {
			return
		}
		if smxFn == nil {
			return
		}
		local := smxFn.FindLocalByStackOffset(n.LocalStackOffset())
		if local == nil {
			return
		}
		n.SetSmxVar(local)
		n.SetType(&local.Type)
	case il.KindGlobalVar:
		if n.SmxVar() != nil {
			return
		}
		v := t.file.FindGlobalAt(n.GlobalAddr())
		if v == nil {
			return
		}
		n.SetSmxVar(v)
		n.SetType(&v.Type)
	case il.KindCall:
		callee := t.file.FindFunctionAt(n.CallAddr())
		if callee == nil {
			return
		}
		n.SetType(callee.Signature.Ret)
		bindArgTypes(fn, n.Args(), callee.Signature.Args)
	case il.KindNative:
		native := t.file.FindNativeByIndex(n.NativeIndex())
		if native == nil {
			return
		}
		n.SetType(native.Signature.Ret)
		bindArgTypes(fn, n.Args(), native.Signature.Args)
	}
}

func bindArgTypes(fn *ilFunc, args []il.NodeID, sig []smx.SignatureArg) {
	n := len(args)
	if len(sig) < n {
		n = len(sig)
	}
	for i := 0; i < n; i++ {
		arg := fn.Node(args[i])
		if arg.Type() != nil {
			continue
		}
		arg.SetType(&sig[i].Type)
	}
}

var (
	intType   = &smx.VariableType{Tag: smx.TagInt}
	boolType  = &smx.VariableType{Tag: smx.TagBool}
	floatType = &smx.VariableType{Tag: smx.TagFloat}
)

// propagator walks the IL carrying a demanded-type stack, mirroring
// TypePropagator's recursive-visitor shape from the original but as plain
// recursive functions over the node arena (Go has no virtual dispatch on
// an unboxed Node, so the switch in visit plays the role of Accept).
type propagator struct {
	fn       *ilFunc
	smxFn    *smx.Function
	typeStk  []*smx.VariableType
}

func (p *propagator) demanded() *smx.VariableType {
	if len(p.typeStk) == 0 {
		return nil
	}
	return p.typeStk[len(p.typeStk)-1]
}

func (p *propagator) push(t *smx.VariableType) { p.typeStk = append(p.typeStk, t) }
func (p *propagator) pop()                     { p.typeStk = p.typeStk[:len(p.typeStk)-1] }

func (p *propagator) visit(id il.NodeID) {
	if !id.Valid() {
		return
	}
	n := p.fn.Node(id)
	switch n.Kind() {
	case il.KindConst:
		if n.Type() == nil {
			n.SetType(p.demanded())
		}
	case il.KindUnary:
		p.visitUnary(n)
	case il.KindBinary:
		p.visitBinary(n)
	case il.KindLocalVar:
		if n.Type() == nil {
			n.SetType(p.demanded())
		}
		if n.LocalValue().Valid() {
			p.push(n.Type())
			p.visit(n.LocalValue())
			p.pop()
		}
	case il.KindGlobalVar, il.KindHeapVar, il.KindTempVar, il.KindCall, il.KindNative:
		if n.Type() == nil {
			n.SetType(p.demanded())
		}
	case il.KindArrayElementVar:
		p.visitArrayElementVar(n)
	case il.KindLoad:
		p.visit(n.LoadVar())
		n.SetType(p.fn.Node(n.LoadVar()).Type())
	case il.KindStore:
		p.visitStore(n)
	case il.KindJumpCond:
		p.visit(n.JumpCondCondition())
	case il.KindReturn:
		if n.ReturnValue().Valid() {
			p.push(p.retType())
			p.visit(n.ReturnValue())
			p.pop()
		}
	case il.KindSwitch:
		// No operand needs a demanded type; the switch value keeps
		// whatever type Phase A (or an earlier node) already gave it.
	}
}

func (p *propagator) retType() *smx.VariableType {
	if p.smxFn == nil {
		return nil
	}
	return p.smxFn.Signature.Ret
}

func (p *propagator) visitUnary(n *il.Node) {
	var t *smx.VariableType
	switch n.UnaryOp() {
	case il.OpNot:
		n.SetType(boolType)
		t = p.demanded()
	case il.OpNeg, il.OpInvert, il.OpIncOld, il.OpDecOld:
		n.SetType(intType)
		t = intType
	case il.OpFabs, il.OpFloat, il.OpFloatNot, il.OpRndToNearest, il.OpRndToCeil,
		il.OpRndToZero, il.OpRndToFloor:
		n.SetType(floatType)
		t = floatType
	default:
		t = p.demanded()
	}
	p.push(t)
	p.visit(n.UnaryVal())
	p.pop()
}

func (p *propagator) visitBinary(n *il.Node) {
	var t *smx.VariableType
	switch n.BinaryOp() {
	case il.OpAdd, il.OpSub, il.OpDiv, il.OpMul, il.OpMod, il.OpShl, il.OpShr,
		il.OpSShr, il.OpBitAnd, il.OpBitOr, il.OpXor:
		n.SetType(intType)
		t = intType
	case il.OpFloatAdd, il.OpFloatSub, il.OpFloatMul, il.OpFloatDiv:
		n.SetType(floatType)
		t = floatType
	case il.OpEq, il.OpNeq, il.OpSGrtr, il.OpSGeq, il.OpSLess, il.OpSLeq,
		il.OpAnd, il.OpOr:
		n.SetType(boolType)
		t = p.demandFromSiblings(n)
	case il.OpFloatCmp, il.OpFloatGt, il.OpFloatGe, il.OpFloatLe, il.OpFloatLt,
		il.OpFloatEq, il.OpFloatNe:
		n.SetType(boolType)
		t = p.demandFromSiblings(n)
	default:
		t = p.demandFromSiblings(n)
	}

	p.push(t)
	p.visit(n.BinaryLeft())
	p.visit(n.BinaryRight())
	p.pop()
}

// demandFromSiblings demands whichever operand already has a type, for the
// comparison/AND/OR ops whose own result type (bool) says nothing about
// what type its operands should be compared as.
func (p *propagator) demandFromSiblings(n *il.Node) *smx.VariableType {
	if t := p.fn.Node(n.BinaryLeft()).Type(); t != nil {
		return t
	}
	return p.fn.Node(n.BinaryRight()).Type()
}

// visitArrayElementVar types the element access from the demanded type
// and pushes a one-more-dimension type down to the base, int down to the
// index — the reverse of how FixArrays later infers array-ness from use.
func (p *propagator) visitArrayElementVar(n *il.Node) {
	n.SetType(p.demanded())

	var baseType *smx.VariableType
	if t := p.demanded(); t != nil {
		dims := make([]int, len(t.Dims)+1)
		copy(dims, t.Dims)
		dims[len(dims)-1] = 0
		cp := *t
		cp.Dims = dims
		baseType = &cp
	}

	p.push(baseType)
	p.visit(n.ArrayBase())
	p.pop()

	p.push(intType)
	p.visit(n.ArrayIndex())
	p.pop()
}

func (p *propagator) visitStore(n *il.Node) {
	p.visit(n.StoreVar())

	varType := p.fn.Node(n.StoreVar()).Type()
	if varType != nil && len(varType.Dims) > 0 {
		inner := &smx.VariableType{Tag: varType.Tag}
		varType = inner
	}

	p.push(varType)
	p.visit(n.StoreVal())
	p.pop()
}
