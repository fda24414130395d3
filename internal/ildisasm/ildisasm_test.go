package ildisasm_test

import (
	"testing"

	"github.com/SlidyBat/SmxDecompiler/internal/il"
	"github.com/SlidyBat/SmxDecompiler/internal/ildisasm"
	"github.com/stretchr/testify/require"
)

func TestConstAndBinary(t *testing.T) {
	fn := il.NewFunc()
	left := fn.NewConst(2)
	right := fn.NewConst(3)
	sum := fn.NewBinary(left, il.OpAdd, right)

	d := ildisasm.New(fn)
	require.Equal(t, "2 + 3", d.Node(sum))
}

func TestUnaryNot(t *testing.T) {
	fn := il.NewFunc()
	c := fn.NewConst(1)
	not := fn.NewUnary(c, il.OpNot)

	d := ildisasm.New(fn)
	require.Equal(t, "!1", d.Node(not))
}

func TestLocalVarAndStore(t *testing.T) {
	fn := il.NewFunc()
	v := fn.NewLocalVar(-8, il.InvalidNode)
	val := fn.NewConst(5)
	store := fn.NewStore(v, val, 4)

	d := ildisasm.New(fn)
	require.Equal(t, "local_-8 = 5", d.Node(store))
}

func TestArrayElementVar(t *testing.T) {
	fn := il.NewFunc()
	base := fn.NewGlobalVar(16)
	idx := fn.NewConst(2)
	elem := fn.NewArrayElementVar(base, idx)

	d := ildisasm.New(fn)
	require.Equal(t, "global_16[2]", d.Node(elem))
}

func TestCallWithArgs(t *testing.T) {
	fn := il.NewFunc()
	call := fn.NewCall(100)
	fn.AddArg(call, fn.NewConst(1))
	fn.AddArg(call, fn.NewConst(2))

	d := ildisasm.New(fn)
	require.Equal(t, "func_100(1, 2)", d.Node(call))
}

func TestJumpCond(t *testing.T) {
	fn := il.NewFunc()
	cond := fn.NewBinary(fn.NewConst(1), il.OpSLess, fn.NewConst(2))
	jc := fn.NewJumpCond(cond, 1, 2)

	d := ildisasm.New(fn)
	require.Equal(t, "if 1 < 2 goto BB1 else BB2", d.Node(jc))
}

func TestReturnVoid(t *testing.T) {
	fn := il.NewFunc()
	ret := fn.NewReturn(il.InvalidNode)

	d := ildisasm.New(fn)
	require.Equal(t, "ret", d.Node(ret))
}

func TestBlockRendersOneLinePerNode(t *testing.T) {
	fn := il.NewFunc()
	g := il.NewGraph()
	bb := g.AddBlock(0)
	bb.Add(fn.NewStore(fn.NewLocalVar(-4, il.InvalidNode), fn.NewConst(7), 4))
	bb.Add(fn.NewReturn(il.InvalidNode))

	d := ildisasm.New(fn)
	text := d.Block(bb)
	require.Contains(t, text, "local_-4 = 7")
	require.Contains(t, text, "ret")
}
