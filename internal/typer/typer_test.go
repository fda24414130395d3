package typer_test

import (
	"testing"

	"github.com/SlidyBat/SmxDecompiler/internal/il"
	"github.com/SlidyBat/SmxDecompiler/internal/typer"
	"github.com/SlidyBat/SmxDecompiler/pkg/cell"
	"github.com/SlidyBat/SmxDecompiler/pkg/smx"
	"github.com/stretchr/testify/require"
)

// fakeMetadata is a small in-memory typer.MetadataSource, the same
// narrow-interface trick internal/lifter uses to avoid constructing a
// fully parsed SMX container in tests.
type fakeMetadata struct {
	functions []*smx.Function
	globals   []*smx.Variable
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

func (f *fakeMetadata) FindGlobalAt(addr cell.Cell) *smx.Variable {
	for _, g := range f.globals {
		if g.Address == addr {
			return g
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

func TestPopulateFillsLocalVarFromDebugMetadata(t *testing.T) {
	smxFn := &smx.Function{
		Name:       "f",
		PcodeStart: 0,
		PcodeEnd:   100,
		Locals: []smx.Variable{
			{Name: "x", Address: 8, Type: smx.VariableType{Tag: smx.TagBool}},
		},
	}
	meta := &fakeMetadata{functions: []*smx.Function{smxFn}}

	fn := il.NewFunc()
	local := fn.NewLocalVar(8, il.InvalidNode)
	g := singleBlockGraph(fn, local)

	typer.New(meta).Populate(fn, g)

	node := fn.Node(local)
	require.NotNil(t, node.SmxVar())
	require.Equal(t, "x", node.SmxVar().Name)
	require.NotNil(t, node.Type())
	require.Equal(t, smx.TagBool, node.Type().Tag)
}

func TestPopulateFillsCallSignature(t *testing.T) {
	callee := &smx.Function{
		Name:       "Add",
		PcodeStart: 200,
		PcodeEnd:   300,
		Signature: smx.FunctionSignature{
			Ret:  &smx.VariableType{Tag: smx.TagInt},
			Args: []smx.SignatureArg{{Name: "a", Type: smx.VariableType{Tag: smx.TagFloat}}},
		},
	}
	meta := &fakeMetadata{functions: []*smx.Function{
		{Name: "f", PcodeStart: 0, PcodeEnd: 100},
		callee,
	}}

	fn := il.NewFunc()
	arg := fn.NewConst(7)
	call := fn.NewCall(200)
	fn.AddArg(call, arg)
	g := singleBlockGraph(fn, call)

	typer.New(meta).Populate(fn, g)

	callNode := fn.Node(call)
	require.NotNil(t, callNode.Type())
	require.Equal(t, smx.TagInt, callNode.Type().Tag)

	argNode := fn.Node(arg)
	require.NotNil(t, argNode.Type())
	require.Equal(t, smx.TagFloat, argNode.Type().Tag)
}

// TestPropagateInheritsDemandedType exercises the pure downward-demand
// case: a bool-typed LocalVar's Const initializer has no type of its own,
// so it must inherit bool from the store context.
func TestPropagateInheritsDemandedType(t *testing.T) {
	meta := &fakeMetadata{functions: []*smx.Function{{Name: "f", PcodeStart: 0, PcodeEnd: 100}}}

	fn := il.NewFunc()
	c := fn.NewConst(1)
	local := fn.NewLocalVar(4, il.InvalidNode)
	fn.Node(local).SetType(&smx.VariableType{Tag: smx.TagBool})
	store := fn.NewStore(local, c, 4)
	g := singleBlockGraph(fn, store)

	typer.New(meta).Propagate(fn, g)

	require.NotNil(t, fn.Node(c).Type())
	require.Equal(t, smx.TagBool, fn.Node(c).Type().Tag)
}

// TestPropagateBinaryArithmeticIsInt exercises the upward/self-typing
// case: an integer arithmetic Binary always types itself int regardless
// of demanded context, and in turn demands int of its Const operands.
func TestPropagateBinaryArithmeticIsInt(t *testing.T) {
	meta := &fakeMetadata{functions: []*smx.Function{{Name: "f", PcodeStart: 0, PcodeEnd: 100}}}

	fn := il.NewFunc()
	left := fn.NewConst(1)
	right := fn.NewConst(2)
	add := fn.NewBinary(left, il.OpAdd, right)
	ret := fn.NewReturn(add)
	g := singleBlockGraph(fn, ret)

	typer.New(meta).Propagate(fn, g)

	require.Equal(t, smx.TagInt, fn.Node(add).Type().Tag)
	require.Equal(t, smx.TagInt, fn.Node(left).Type().Tag)
	require.Equal(t, smx.TagInt, fn.Node(right).Type().Tag)
}

// TestPropagateArrayElementAddsDimension exercises the array-indexing
// demand shape: a 1-dim-typed ArrayElementVar pushes a 2-dim type to its
// base and int to its index.
func TestPropagateArrayElementAddsDimension(t *testing.T) {
	meta := &fakeMetadata{functions: []*smx.Function{{Name: "f", PcodeStart: 0, PcodeEnd: 100}}}

	fn := il.NewFunc()
	baseGlobal := fn.NewGlobalVar(1000)
	index := fn.NewConst(0)
	elem := fn.NewArrayElementVar(baseGlobal, index)
	fn.Node(elem).SetType(nil) // starts untyped like a fresh lift

	load := fn.NewLoad(elem, 4)
	ret := fn.NewReturn(load)
	g := singleBlockGraph(fn, ret)

	// Simulate a demanded outer type of one dimension by pre-seeding the
	// return's declared type via the function signature.
	demandFn := &smx.Function{
		Name: "f", PcodeStart: 0, PcodeEnd: 100,
		Signature: smx.FunctionSignature{Ret: &smx.VariableType{Tag: smx.TagInt, Dims: []int{0}}},
	}
	meta.functions[0] = demandFn

	typer.New(meta).Propagate(fn, g)

	require.Equal(t, smx.TagInt, fn.Node(index).Type().Tag)
	require.NotNil(t, fn.Node(baseGlobal).Type())
	require.Len(t, fn.Node(baseGlobal).Type().Dims, 2)
}
