package codefixer_test

import (
	"testing"

	"github.com/SlidyBat/SmxDecompiler/internal/codefixer"
	"github.com/SlidyBat/SmxDecompiler/internal/il"
	"github.com/SlidyBat/SmxDecompiler/pkg/cell"
	"github.com/SlidyBat/SmxDecompiler/pkg/smx"
	"github.com/stretchr/testify/require"
)

// fakeMetadata is the same small in-memory typer.MetadataSource-shaped
// fixture internal/typer's tests use, narrowed to what CodeFixer needs.
type fakeMetadata struct {
	functions []*smx.Function
	natives   []*smx.Native
}

func (f *fakeMetadata) FindFunctionAt(addr cell.Cell) *smx.Function {
	for _, fn := range f.functions {
		if addr >= fn.PcodeStart && addr < fn.PcodeEnd {
			return fn
		}
	}
	return nil
}

func (f *fakeMetadata) FindNativeByIndex(index int) *smx.Native {
	if index < 0 || index >= len(f.natives) {
		return nil
	}
	return f.natives[index]
}

func singleBlockGraph(fn *il.Func, stmts ...il.NodeID) *il.Graph {
	g := il.NewGraph()
	bb := g.AddBlock(0)
	for _, id := range stmts {
		bb.Add(id)
	}
	return g
}

func voidFunc() *fakeMetadata {
	return &fakeMetadata{functions: []*smx.Function{
		{Name: "f", PcodeStart: 0, PcodeEnd: 100},
	}}
}

// intFunc is voidFunc with an int return type, for tests that read a
// Return's value after ApplyFixes (RemoveVoidRets strips it otherwise).
func intFunc() *fakeMetadata {
	return &fakeMetadata{functions: []*smx.Function{
		{Name: "f", PcodeStart: 0, PcodeEnd: 100, Signature: smx.FunctionSignature{Ret: &smx.VariableType{Tag: smx.TagInt}}},
	}}
}

// TestFixConstGlobalsRewritesConstBase exercises the idiom a raw LOAD.I
// off a literal address lifts into: ArrayElementVar(Const(c), i) must
// become ArrayElementVar(GlobalVar(c), i).
func TestFixConstGlobalsRewritesConstBase(t *testing.T) {
	fn := il.NewFunc()
	base := fn.NewConst(1000)
	index := fn.NewConst(2)
	elem := fn.NewArrayElementVar(base, index)
	load := fn.NewLoad(elem, 4)
	ret := fn.NewReturn(load)
	g := singleBlockGraph(fn, ret)

	codefixer.New(voidFunc()).ApplyFixes(fn, g)

	elemNode := fn.Node(elem)
	require.Equal(t, il.KindArrayElementVar, elemNode.Kind())
	baseNode := fn.Node(elemNode.ArrayBase())
	require.Equal(t, il.KindGlobalVar, baseNode.Kind())
	require.Equal(t, cell.Cell(1000), baseNode.GlobalAddr())
}

// TestFixArraysWrapsUnindexedLoad exercises the common "pass an array
// argument by its base var" shape: Load(v) where v's type has a
// dimension must be wrapped as Load(ArrayElementVar(v, Const(0))).
func TestFixArraysWrapsUnindexedLoad(t *testing.T) {
	fn := il.NewFunc()
	v := fn.NewGlobalVar(2000)
	fn.Node(v).SetType(&smx.VariableType{Tag: smx.TagInt, Dims: []int{0}})
	load := fn.NewLoad(v, 4)
	ret := fn.NewReturn(load)
	g := singleBlockGraph(fn, ret)

	codefixer.New(voidFunc()).ApplyFixes(fn, g)

	loadNode := fn.Node(load)
	elem := fn.Node(loadNode.LoadVar())
	require.Equal(t, il.KindArrayElementVar, elem.Kind())
	require.Equal(t, v, elem.ArrayBase())
}

// TestReplaceFloatNativesCollapsesFloatAdd exercises the float-emulation
// native idiom: a Native call to "FloatAdd" becomes a bare Binary(FLOATADD).
func TestReplaceFloatNativesCollapsesFloatAdd(t *testing.T) {
	meta := &fakeMetadata{
		functions: []*smx.Function{{Name: "f", PcodeStart: 0, PcodeEnd: 100,
			Signature: smx.FunctionSignature{Ret: &smx.VariableType{Tag: smx.TagFloat}}}},
		natives: []*smx.Native{{Name: "FloatAdd"}},
	}

	fn := il.NewFunc()
	a := fn.NewConst(1)
	b := fn.NewConst(2)
	native := fn.NewNative(0)
	fn.AddArg(native, a)
	fn.AddArg(native, b)
	ret := fn.NewReturn(native)
	g := singleBlockGraph(fn, ret)

	codefixer.New(meta).ApplyFixes(fn, g)

	retNode := fn.Node(ret)
	binop := fn.Node(retNode.ReturnValue())
	require.Equal(t, il.KindBinary, binop.Kind())
	require.Equal(t, il.OpFloatAdd, binop.BinaryOp())
}

// TestRemoveVoidRetsStripsValue exercises a void function whose RETN
// still leaves a stale PRI value behind in the lifted IL.
func TestRemoveVoidRetsStripsValue(t *testing.T) {
	meta := voidFunc()

	fn := il.NewFunc()
	c := fn.NewConst(0)
	ret := fn.NewReturn(c)
	g := singleBlockGraph(fn, ret)

	codefixer.New(meta).ApplyFixes(fn, g)

	require.False(t, fn.Node(ret).ReturnValue().Valid())
}

// TestUseBoolOpsCollapsesEqZero exercises `x == 0` on a bool-typed x
// collapsing to `!x`.
func TestUseBoolOpsCollapsesEqZero(t *testing.T) {
	meta := intFunc()

	fn := il.NewFunc()
	x := fn.NewGlobalVar(10)
	fn.Node(x).SetType(&smx.VariableType{Tag: smx.TagBool})
	zero := fn.NewConst(0)
	load := fn.NewLoad(x, 1)
	eq := fn.NewBinary(load, il.OpEq, zero)
	fn.Node(load).SetType(&smx.VariableType{Tag: smx.TagBool})
	ret := fn.NewReturn(eq)
	g := singleBlockGraph(fn, ret)

	codefixer.New(meta).ApplyFixes(fn, g)

	retNode := fn.Node(ret)
	result := fn.Node(retNode.ReturnValue())
	require.Equal(t, il.KindUnary, result.Kind())
	require.Equal(t, il.OpNot, result.UnaryOp())
}

// TestCleanStoresMergesIntoDeclaration exercises the common straight-line
// shape `local v; v = e` collapsing to `local v = e`.
func TestCleanStoresMergesIntoDeclaration(t *testing.T) {
	meta := voidFunc()

	fn := il.NewFunc()
	local := fn.NewLocalVar(4, il.InvalidNode)
	val := fn.NewConst(5)
	store := fn.NewStore(local, val, 4)
	g := singleBlockGraph(fn, local, store)

	codefixer.New(meta).ApplyFixes(fn, g)

	entry := g.EntryBlock()
	require.Len(t, entry.Nodes(), 1)
	require.Equal(t, val, fn.Node(local).LocalValue())
}

// TestCleanIncAndDecCollapsesStore exercises Store(v, Unary(INC, Load(v)))
// collapsing to the bare Unary.
func TestCleanIncAndDecCollapsesStore(t *testing.T) {
	meta := voidFunc()

	fn := il.NewFunc()
	// v starts with an initializer, so CleanStores leaves the store alone.
	local := fn.NewLocalVar(4, fn.NewConst(0))
	load := fn.NewLoad(local, 4)
	inc := fn.NewUnary(load, il.OpIncOld)
	store := fn.NewStore(local, inc, 4)
	g := singleBlockGraph(fn, local, store)

	codefixer.New(meta).ApplyFixes(fn, g)

	entry := g.EntryBlock()
	last := fn.Node(entry.Last())
	require.Equal(t, il.KindUnary, last.Kind())
	require.Equal(t, il.OpIncOld, last.UnaryOp())
}

// TestRemoveTmpLocalVarsInlinesSingleUse exercises a debug-info-less
// LocalVar used exactly once being inlined away.
func TestRemoveTmpLocalVarsInlinesSingleUse(t *testing.T) {
	meta := intFunc()

	fn := il.NewFunc()
	val := fn.NewConst(9)
	tmp := fn.NewLocalVar(8, val)
	load := fn.NewLoad(tmp, 4)
	ret := fn.NewReturn(load)
	g := singleBlockGraph(fn, tmp, ret)

	codefixer.New(meta).ApplyFixes(fn, g)

	retNode := fn.Node(ret)
	loadNode := fn.Node(retNode.ReturnValue())
	require.Equal(t, il.KindLoad, loadNode.Kind())
	require.Equal(t, val, loadNode.LoadVar())
}

// TestFixShortCircuitConditionsCollapsesTernary exercises the
// if-else-assigns-0/1-then-test block shape a ternary compiles to,
// collapsing it to a single condition and deleting the two assign blocks.
func TestFixShortCircuitConditionsCollapsesTernary(t *testing.T) {
	meta := voidFunc()

	fn := il.NewFunc()
	g := il.NewGraph()

	entry := g.AddBlock(0)
	thenBB := g.AddBlock(4)
	elseBB := g.AddBlock(8)
	joinBB := g.AddBlock(12)

	place := fn.NewLocalVar(4, il.InvalidNode)
	entry.Add(place)
	cmpVar := fn.NewGlobalVar(100)
	cmp := fn.NewBinary(cmpVar, il.OpSGrtr, fn.NewConst(0))
	jc := fn.NewJumpCond(cmp, thenBB.ID(), elseBB.ID())
	entry.Add(jc)
	g.AddEdge(entry.ID(), thenBB.ID())
	g.AddEdge(entry.ID(), elseBB.ID())

	thenStore := fn.NewStore(place, fn.NewConst(1), 4)
	thenJump := fn.NewJump(joinBB.ID())
	thenBB.Add(thenStore)
	thenBB.Add(thenJump)
	g.AddEdge(thenBB.ID(), joinBB.ID())

	elseStore := fn.NewStore(place, fn.NewConst(0), 4)
	elseJump := fn.NewJump(joinBB.ID())
	elseBB.Add(elseStore)
	elseBB.Add(elseJump)
	g.AddEdge(elseBB.ID(), joinBB.ID())

	test := fn.NewLoad(place, 4)
	joinCond := fn.NewJumpCond(test, joinBB.ID(), joinBB.ID())
	joinBB.Add(joinCond)

	codefixer.New(meta).ApplyFixes(fn, g)

	require.True(t, g.Block(thenBB.ID()).Removed())
	require.True(t, g.Block(elseBB.ID()).Removed())

	joinCondNode := fn.Node(joinCond)
	require.Equal(t, cmp, joinCondNode.JumpCondCondition())
}
