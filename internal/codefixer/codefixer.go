// Package codefixer runs the second half of the typer/code-fixer fixed
// point: a fixed sequence of peephole passes that turn generic pcode
// idioms (raw ArrayElementVar bases, unindexed array loads, library
// calls to the float-emulation natives, void returns carrying a stale
// value, bool comparisons against zero) into the shapes a structurizer
// and code writer expect. Every pass is grounded in what the original
// SMX decompiler's code fixer does to the same idioms; three passes
// (FixMultidimArrays, FixArrayAndESDecl, FixShortCircuitConditions) have
// no surviving upstream source and are built from the specification's
// own description of the idiom instead.
package codefixer

import (
	"github.com/SlidyBat/SmxDecompiler/internal/il"
	"github.com/SlidyBat/SmxDecompiler/pkg/cell"
	"github.com/SlidyBat/SmxDecompiler/pkg/smx"
)

// MetadataSource is the lookups CodeFixer needs out of an SMX file;
// *smx.File satisfies it directly. Narrowed the same way
// internal/typer.MetadataSource is, so tests can drive fixups off a
// small in-memory fixture.
type MetadataSource interface {
	FindFunctionAt(addr cell.Cell) *smx.Function
	FindNativeByIndex(index int) *smx.Native
}

// CodeFixer applies idiom-recognition passes to one function's already
// typed IL graph.
type CodeFixer struct {
	file MetadataSource
}

// New creates a CodeFixer reading metadata from file.
func New(file MetadataSource) *CodeFixer {
	return &CodeFixer{file: file}
}

// ApplyFixes runs every pass over fn's graph, in the order the original
// decompiler's CodeFixer::ApplyFixes does: whole-graph recursive passes
// first, then the block-level cleanup passes, each in its own loop over
// the blocks.
func (c *CodeFixer) ApplyFixes(fn *il.Func, g *il.Graph) {
	smxFn := c.file.FindFunctionAt(g.EntryBlock().PC())

	c.walkAll(fn, g, c.fixConstGlobals)
	c.walkAll(fn, g, c.fixArrays)
	c.walkAll(fn, g, c.fixMultidimArrays)
	c.walkAll(fn, g, c.replaceFloatNatives)

	if smxFn != nil && (smxFn.Signature.Ret == nil || smxFn.Signature.Ret.Tag == smx.TagVoid) {
		c.walkAll(fn, g, removeVoidRet)
	}

	c.walkAll(fn, g, useBoolOps)

	for _, bb := range g.Blocks() {
		fixArrayAndESDecl(fn, bb)
	}
	for _, bb := range g.Blocks() {
		fixShortCircuitConditions(fn, g, bb)
	}
	for _, bb := range g.Blocks() {
		cleanStores(fn, bb)
	}
	for _, bb := range g.Blocks() {
		cleanIncAndDec(fn, bb)
	}
	for _, bb := range g.Blocks() {
		removeTmpLocalVars(fn, bb)
	}
}

// walkAll applies visit to every node reachable from a block's top-level
// statements, recursing into operand subtrees first (post-order) so a
// pass sees a node's children already fixed up before it looks at the
// node itself — mirroring RecursiveILVisitor's bottom-up Accept order.
func (c *CodeFixer) walkAll(fn *il.Func, g *il.Graph, visit func(fn *il.Func, id il.NodeID)) {
	seen := map[il.NodeID]bool{}
	var walk func(id il.NodeID)
	walk = func(id il.NodeID) {
		if !id.Valid() || seen[id] {
			return
		}
		seen[id] = true
		for _, child := range children(fn, id) {
			walk(child)
		}
		visit(fn, id)
	}
	for _, bb := range g.Blocks() {
		for _, id := range bb.Nodes() {
			walk(id)
		}
	}
}

// children mirrors internal/typer's helper of the same name: every
// node-valued operand of id.
func children(fn *il.Func, id il.NodeID) []il.NodeID {
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

// fixConstGlobals rewrites ArrayElementVar(Const(c), i) to
// ArrayElementVar(GlobalVar(c), i): a raw constant base only ever means
// "this is a data-section address" once it's used as the base of an
// indexed access.
func (c *CodeFixer) fixConstGlobals(fn *il.Func, id il.NodeID) {
	n := fn.Node(id)
	if n.Kind() != il.KindArrayElementVar {
		return
	}
	base := fn.Node(n.ArrayBase())
	if base.Kind() != il.KindConst {
		return
	}
	global := fn.NewGlobalVar(base.ConstValue())
	fn.ReplaceOperand(id, n.ArrayBase(), global)
}

// fixArrays wraps unindexed accesses to an array- or enum-struct-typed
// variable as element/field 0, turns Binary(ADD, arr, i) pointer
// arithmetic into proper indexing (swapping operands if the compiler
// emitted them in index-then-base order), and drops the redundant load
// an array-typed argument carries (arrays are always passed by
// reference, so the value "loaded" is really just the address).
func (c *CodeFixer) fixArrays(fn *il.Func, id il.NodeID) {
	n := fn.Node(id)
	switch n.Kind() {
	case il.KindLoad:
		c.wrapArrayPlace(fn, n.LoadVar(), func(elem il.NodeID) { fn.ReplaceOperand(id, n.LoadVar(), elem) })
	case il.KindStore:
		c.wrapArrayPlace(fn, n.StoreVar(), func(elem il.NodeID) { fn.ReplaceOperand(id, n.StoreVar(), elem) })
	case il.KindBinary:
		if n.BinaryOp() != il.OpAdd {
			return
		}
		left := fn.Node(n.BinaryLeft())
		right := fn.Node(n.BinaryRight())
		if isArrayTyped(left) && !isArrayTyped(right) {
			elem := fn.NewArrayElementVar(n.BinaryLeft(), n.BinaryRight())
			fn.ReplaceUsesWith(id, elem)
		} else if isArrayTyped(right) && !isArrayTyped(left) {
			// Operands reversed: the index happened to lift onto the
			// left side of the add. Swap so the array always ends up
			// as ArrayElementVar's base.
			elem := fn.NewArrayElementVar(n.BinaryRight(), n.BinaryLeft())
			fn.ReplaceUsesWith(id, elem)
		}
	case il.KindCall, il.KindNative:
		for _, arg := range n.Args() {
			c.unwrapArrayArg(fn, id, arg)
		}
	}
}

func isArrayTyped(n *il.Node) bool {
	return n.Type() != nil && n.Type().IsArray()
}

// wrapArrayPlace wraps v as ArrayElementVar(v, Const(0)) (or
// FieldVar(v, 0, field) for an enum-struct place) if v isn't already an
// indexed/field access.
func (c *CodeFixer) wrapArrayPlace(fn *il.Func, v il.NodeID, replace func(il.NodeID)) {
	n := fn.Node(v)
	if n.Kind() == il.KindArrayElementVar || n.Kind() == il.KindFieldVar {
		return
	}
	t := n.Type()
	if t == nil {
		return
	}
	switch {
	case t.IsArray():
		zero := fn.NewConst(0)
		replace(fn.NewArrayElementVar(v, zero))
	case t.Tag == smx.TagEnumStruct && t.EnumStruct != nil:
		field := t.EnumStruct.FindFieldAtOffset(0)
		if field == nil {
			return
		}
		replace(fn.NewFieldVar(v, 0, field))
	}
}

// unwrapArrayArg drops a redundant Load wrapping an array-typed argument:
// the VM always passes arrays by reference, so `Load(arr)` as a call
// argument really means "the address of arr", identical to passing arr
// bare.
func (c *CodeFixer) unwrapArrayArg(fn *il.Func, call, arg il.NodeID) {
	n := fn.Node(arg)
	if n.Kind() != il.KindLoad {
		return
	}
	v := fn.Node(n.LoadVar())
	if !isArrayTyped(v) {
		return
	}
	fn.ReplaceOperand(call, arg, n.LoadVar())
}

// fixMultidimArrays detects the indirection-vector idiom the compiler
// emits for a 2D array index, `(arr[x] + &arr[x])[y]`, and collapses it
// to the direct `arr[x][y]` form: the add's two operands both describe
// the same address (one as a loaded row pointer, one as its address-of
// form), so the add is redundant and the outer index can apply directly
// to the first dimension's element.
func (c *CodeFixer) fixMultidimArrays(fn *il.Func, id il.NodeID) {
	n := fn.Node(id)
	if n.Kind() != il.KindArrayElementVar {
		return
	}
	base := fn.Node(n.ArrayBase())
	if base.Kind() != il.KindBinary || base.BinaryOp() != il.OpAdd {
		return
	}
	left := fn.Node(base.BinaryLeft())
	right := fn.Node(base.BinaryRight())

	row, ok := sameRowAddress(fn, left, right)
	if !ok {
		return
	}
	elem := fn.NewArrayElementVar(row, n.ArrayIndex())
	fn.ReplaceUsesWith(id, elem)
}

// sameRowAddress recognizes a loaded row value and its address-of
// sibling: one side is Load(ArrayElementVar(arr,x)), the other is the
// bare ArrayElementVar(arr,x) itself (its address, never loaded).
// Returns the ArrayElementVar naming the row so the caller can index it
// directly as the collapsed access's base.
func sameRowAddress(fn *il.Func, left, right *il.Node) (il.NodeID, bool) {
	loadOf := func(n *il.Node) (il.NodeID, bool) {
		if n.Kind() != il.KindLoad {
			return il.InvalidNode, false
		}
		v := fn.Node(n.LoadVar())
		if v.Kind() != il.KindArrayElementVar {
			return il.InvalidNode, false
		}
		return n.LoadVar(), true
	}

	if loaded, ok := loadOf(left); ok && right.Kind() == il.KindArrayElementVar {
		if sameArrayElement(fn, loaded, right.ID()) {
			return right.ID(), true
		}
	}
	if loaded, ok := loadOf(right); ok && left.Kind() == il.KindArrayElementVar {
		if sameArrayElement(fn, loaded, left.ID()) {
			return left.ID(), true
		}
	}
	return il.InvalidNode, false
}

func sameArrayElement(fn *il.Func, a, b il.NodeID) bool {
	na, nb := fn.Node(a), fn.Node(b)
	if na.Kind() != il.KindArrayElementVar || nb.Kind() != il.KindArrayElementVar {
		return false
	}
	return sameAddr(fn, na.ArrayBase(), nb.ArrayBase()) && sameAddr(fn, na.ArrayIndex(), nb.ArrayIndex())
}

// sameAddr is a shallow structural equality check over the handful of
// node kinds that can stand for "the same address": identical node id,
// or two Consts/GlobalVars naming the same value/address.
func sameAddr(fn *il.Func, a, b il.NodeID) bool {
	if a == b {
		return true
	}
	na, nb := fn.Node(a), fn.Node(b)
	if na.Kind() != nb.Kind() {
		return false
	}
	switch na.Kind() {
	case il.KindConst:
		return na.ConstValue() == nb.ConstValue()
	case il.KindGlobalVar:
		return na.GlobalAddr() == nb.GlobalAddr()
	case il.KindLocalVar:
		return na.LocalStackOffset() == nb.LocalStackOffset()
	}
	return false
}

var floatNativeOps = map[string]struct {
	binary  il.BinaryOp
	isUnary bool
	unary   il.UnaryOp
}{
	"FloatMul":        {binary: il.OpFloatMul},
	"__FLOAT_MUL__":   {binary: il.OpFloatMul},
	"FloatDiv":        {binary: il.OpFloatDiv},
	"__FLOAT_DIV__":   {binary: il.OpFloatDiv},
	"FloatAdd":        {binary: il.OpFloatAdd},
	"__FLOAT_ADD__":   {binary: il.OpFloatAdd},
	"FloatSub":        {binary: il.OpFloatSub},
	"__FLOAT_SUB__":   {binary: il.OpFloatSub},
	"__FLOAT_GT__":    {binary: il.OpFloatGt},
	"__FLOAT_GE__":    {binary: il.OpFloatGe},
	"__FLOAT_LT__":    {binary: il.OpFloatLt},
	"__FLOAT_LE__":    {binary: il.OpFloatLe},
	"__FLOAT_NE__":    {binary: il.OpFloatNe},
	"__FLOAT_EQ__":    {binary: il.OpFloatEq},
	"__FLOAT_NOT__":   {isUnary: true, unary: il.OpFloatNot},
}

// replaceFloatNatives replaces a call to one of the float-emulation
// natives (the compiler lowers float arithmetic/comparison to library
// calls when the target doesn't have a native FLOAT.* opcode for it)
// with the equivalent IL binary/unary operator.
func (c *CodeFixer) replaceFloatNatives(fn *il.Func, id il.NodeID) {
	n := fn.Node(id)
	if n.Kind() != il.KindNative {
		return
	}
	native := c.file.FindNativeByIndex(n.NativeIndex())
	if native == nil {
		return
	}
	op, ok := floatNativeOps[native.Name]
	if !ok {
		return
	}
	args := n.Args()
	var replacement il.NodeID
	if op.isUnary {
		if len(args) < 1 {
			return
		}
		replacement = fn.NewUnary(args[0], op.unary)
	} else {
		if len(args) < 2 {
			return
		}
		replacement = fn.NewBinary(args[0], op.binary, args[1])
	}
	fn.ReplaceUsesWith(id, replacement)
}

// removeVoidRet strips a Return's value when the owning function's
// signature declares a void return type; the pcode RETN sequence always
// leaves something in PRI, but a void function's caller never reads it.
func removeVoidRet(fn *il.Func, id il.NodeID) {
	n := fn.Node(id)
	if n.Kind() != il.KindReturn || !n.ReturnValue().Valid() {
		return
	}
	fn.ClearReturnValue(id)
}

// useBoolOps collapses Binary(EQ|NEQ, x, Const(0)) where x is bool-typed
// into the simpler Unary(NOT, x) / bare x: a bool can only be compared
// against zero by the compiler to implement `!x` or `x` itself in a
// context that needed an explicit comparison operator.
func useBoolOps(fn *il.Func, id il.NodeID) {
	n := fn.Node(id)
	if n.Kind() != il.KindBinary {
		return
	}
	if n.BinaryOp() != il.OpEq && n.BinaryOp() != il.OpNeq {
		return
	}
	left := fn.Node(n.BinaryLeft())
	right := fn.Node(n.BinaryRight())
	if left.Type() == nil || left.Type().Tag != smx.TagBool {
		return
	}
	if right.Kind() != il.KindConst || right.ConstValue() != 0 {
		return
	}

	if n.BinaryOp() == il.OpEq {
		not := fn.NewUnary(n.BinaryLeft(), il.OpNot)
		fn.ReplaceUsesWith(id, not)
	} else {
		fn.ReplaceUsesWith(id, n.BinaryLeft())
	}
}

// fixArrayAndESDecl splits a LocalVar declaration of array or
// enum-struct type that carries an initializer into a bare declaration
// plus a Store of that initializer to element/field 0: the VM has no
// notion of "assign a whole array" in one step, so an initialized local
// array/enum-struct is really always initializing its first slot.
func fixArrayAndESDecl(fn *il.Func, bb *il.ILBlock) {
	for i := 0; i < len(bb.Nodes()); i++ {
		id := bb.Nodes()[i]
		n := fn.Node(id)
		if n.Kind() != il.KindLocalVar || !n.LocalValue().Valid() {
			continue
		}
		t := n.Type()
		if t == nil {
			continue
		}

		var place il.NodeID
		switch {
		case t.IsArray():
			zero := fn.NewConst(0)
			place = fn.NewArrayElementVar(id, zero)
		case t.Tag == smx.TagEnumStruct && t.EnumStruct != nil && len(t.EnumStruct.Fields) > 0:
			place = fn.NewFieldVar(id, 0, &t.EnumStruct.Fields[0])
		default:
			continue
		}

		value := n.LocalValue()
		fn.ClearLocalValue(id)
		store := fn.NewStore(place, value, 4)
		bb.InsertAfter(i, store)
		i++ // don't reprocess the store we just inserted
	}
}

// cleanStores merges a Store immediately following a no-value LocalVar
// declaration of the same variable into that declaration's initializer,
// the common case once the lifter's straight-line translation is typed:
// `local v; v = e` becomes `local v = e`.
func cleanStores(fn *il.Func, bb *il.ILBlock) {
	for i := len(bb.Nodes()) - 1; i >= 1; i-- {
		st := fn.Node(bb.Nodes()[i])
		if st.Kind() != il.KindStore {
			continue
		}
		decl := fn.Node(bb.Nodes()[i-1])
		if decl.Kind() != il.KindLocalVar || decl.LocalValue().Valid() {
			continue
		}
		if st.StoreVar() != decl.ID() {
			continue
		}
		fn.SetLocalValue(decl.ID(), st.StoreVal())
		fn.RemoveUse(decl.ID(), st.ID())
		fn.RemoveUse(st.StoreVal(), st.ID())
		bb.RemoveNode(i)
	}
}

// cleanIncAndDec collapses Store(v, Unary(INC|DEC, Load(v))) into the
// bare Unary: the mutation of v is implicit in the INC/DEC operator
// itself, so keeping the wrapping store would double-apply it once the
// code writer renders `v++`.
func cleanIncAndDec(fn *il.Func, bb *il.ILBlock) {
	for i, id := range bb.Nodes() {
		st := fn.Node(id)
		if st.Kind() != il.KindStore {
			continue
		}
		val := fn.Node(st.StoreVal())
		if val.Kind() != il.KindUnary {
			continue
		}
		if val.UnaryOp() != il.OpIncOld && val.UnaryOp() != il.OpDecOld {
			continue
		}
		operand := val.UnaryVal()
		if !operand.Valid() || fn.Node(operand).Kind() != il.KindLoad || fn.Node(operand).LoadVar() != st.StoreVar() {
			continue
		}
		bb.Replace(i, st.StoreVal())
	}
}

// removeTmpLocalVars inlines a LocalVar/TempVar with no debug metadata
// and exactly one remaining use at its use site: such a variable only
// ever existed as lifter scratch space (a real source-level local
// always carries debug info), so once typed and cleaned up it reads
// better as the bare expression.
func removeTmpLocalVars(fn *il.Func, bb *il.ILBlock) {
	for i := 0; i < len(bb.Nodes()); i++ {
		id := bb.Nodes()[i]
		n := fn.Node(id)
		if n.Kind() != il.KindLocalVar && n.Kind() != il.KindTempVar {
			continue
		}
		if n.SmxVar() != nil {
			continue
		}
		if !n.LocalValue().Valid() {
			continue
		}
		if n.NumUses() != 1 {
			continue
		}
		fn.ReplaceUsesWith(id, n.LocalValue())
		bb.RemoveNode(i)
		i--
	}
}

// fixShortCircuitConditions recognizes the compiled shape of a ternary
// or short-circuit expression that the source had to materialize as a
// temp: a block ending in a two-way JumpCond whose both successors are
// single-statement blocks assigning the constants 0 and 1 to the same
// place before jointly falling into a block that tests that place,
// collapses into a single condition feeding the test directly —
// deleting the two assign-blocks and splicing the test block's
// predecessor edge straight to the branch block.
func fixShortCircuitConditions(fn *il.Func, g *il.Graph, bb *il.ILBlock) {
	if bb.Removed() {
		return
	}
	cond := fn.Node(bb.Last())
	if cond.Kind() != il.KindJumpCond {
		return
	}

	thenID, elseID := cond.JumpCondTrue(), cond.JumpCondFalse()
	thenBB, elseBB := g.Block(thenID), g.Block(elseID)

	thenPlace, thenVal, thenNext, ok1 := singleConstAssign(fn, thenBB)
	elsePlace, elseVal, elseNext, ok2 := singleConstAssign(fn, elseBB)
	if !ok1 || !ok2 {
		return
	}
	if thenNext != elseNext || thenPlace != elsePlace {
		return
	}
	if !(thenVal == 1 && elseVal == 0) && !(thenVal == 0 && elseVal == 1) {
		return
	}

	testBB := g.Block(thenNext)
	testLoad, ok := singleVarTest(fn, testBB, thenPlace)
	if !ok {
		return
	}

	result := cond.JumpCondCondition()
	if thenVal == 0 && elseVal == 1 {
		result = fn.NewUnary(result, il.OpNot)
	}
	fn.ReplaceUsesWith(testLoad, result)

	g.RemoveEdge(bb.ID(), thenID)
	g.RemoveEdge(bb.ID(), elseID)
	g.RemoveEdge(thenID, thenNext)
	g.RemoveEdge(elseID, elseNext)
	g.AddEdge(bb.ID(), thenNext)

	jump := fn.NewJump(thenNext)
	bb.Replace(len(bb.Nodes())-1, jump)

	g.RemoveBlock(thenID)
	g.RemoveBlock(elseID)
}

// singleConstAssign recognizes a block containing exactly one statement,
// Store(place, Const(v)), followed by an unconditional jump, returning
// the assigned place, the constant, and the jump's target.
func singleConstAssign(fn *il.Func, bb *il.ILBlock) (place il.NodeID, value cell.Cell, next il.BlockID, ok bool) {
	if bb == nil || len(bb.Nodes()) != 2 {
		return il.InvalidNode, 0, 0, false
	}
	st := fn.Node(bb.Nodes()[0])
	if st.Kind() != il.KindStore {
		return il.InvalidNode, 0, 0, false
	}
	val := fn.Node(st.StoreVal())
	if val.Kind() != il.KindConst {
		return il.InvalidNode, 0, 0, false
	}
	jmp := fn.Node(bb.Nodes()[1])
	if jmp.Kind() != il.KindJump {
		return il.InvalidNode, 0, 0, false
	}
	return st.StoreVar(), val.ConstValue(), jmp.JumpTarget(), true
}

// singleVarTest finds the Load(place) feeding this block's JumpCond,
// returning the Load's node id so the caller can replace every use of it
// with the collapsed condition.
func singleVarTest(fn *il.Func, bb *il.ILBlock, place il.NodeID) (load il.NodeID, ok bool) {
	if bb == nil {
		return il.InvalidNode, false
	}
	for _, id := range bb.Nodes() {
		n := fn.Node(id)
		if n.Kind() != il.KindJumpCond {
			continue
		}
		cand := n.JumpCondCondition()
		ld := fn.Node(cand)
		if ld.Kind() == il.KindLoad && ld.LoadVar() == place {
			return cand, true
		}
	}
	return il.InvalidNode, false
}
