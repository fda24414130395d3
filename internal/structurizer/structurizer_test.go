package structurizer_test

import (
	"testing"

	"github.com/SlidyBat/SmxDecompiler/internal/il"
	"github.com/SlidyBat/SmxDecompiler/internal/structurizer"
	"github.com/stretchr/testify/require"
)

// TestStraightLineIsSingleBasic exercises the empty-control-flow case: one
// block, no branches, no Next.
func TestStraightLineIsSingleBasic(t *testing.T) {
	fn := il.NewFunc()
	g := il.NewGraph()
	entry := g.AddBlock(0)
	ret := fn.NewReturn(fn.NewConst(1))
	entry.Add(ret)

	stmt := structurizer.New(fn, g).Structurize()

	require.Equal(t, structurizer.KindBasic, stmt.Kind)
	require.Nil(t, stmt.Next)
}

// TestIfElseJoinsOnce exercises the canonical diamond shape: entry
// branches to a then/else block, both of which jump to a shared join
// block. The join must appear exactly once, as the If's Next, not
// duplicated into both branches.
func TestIfElseJoinsOnce(t *testing.T) {
	fn := il.NewFunc()
	g := il.NewGraph()

	entry := g.AddBlock(0)
	thenBB := g.AddBlock(4)
	elseBB := g.AddBlock(8)
	join := g.AddBlock(12)

	cond := fn.NewBinary(fn.NewConst(1), il.OpSGrtr, fn.NewConst(0))
	jc := fn.NewJumpCond(cond, thenBB.ID(), elseBB.ID())
	entry.Add(jc)
	g.AddEdge(entry.ID(), thenBB.ID())
	g.AddEdge(entry.ID(), elseBB.ID())

	thenBB.Add(fn.NewJump(join.ID()))
	g.AddEdge(thenBB.ID(), join.ID())

	elseBB.Add(fn.NewJump(join.ID()))
	g.AddEdge(elseBB.ID(), join.ID())

	join.Add(fn.NewReturn(fn.NewConst(0)))

	stmt := structurizer.New(fn, g).Structurize()

	require.Equal(t, structurizer.KindBasic, stmt.Kind)
	ifStmt := stmt.Next
	require.NotNil(t, ifStmt)
	require.Equal(t, structurizer.KindIf, ifStmt.Kind)
	require.NotNil(t, ifStmt.Then)
	require.NotNil(t, ifStmt.Else)
	// Neither branch should itself reach the join (it would duplicate it).
	require.Nil(t, ifStmt.Then.Next)
	require.Nil(t, ifStmt.Else.Next)

	require.NotNil(t, ifStmt.Next)
	require.Equal(t, structurizer.KindBasic, ifStmt.Next.Kind)
	require.Equal(t, join, ifStmt.Next.Block)
}

// TestWhileLoopBodyEndsAtBackEdge exercises a top-tested loop: the header
// branches into the body or out to the follow block, and the body's sole
// out-edge (the back edge to the header) ends the body chain with no
// further Next.
func TestWhileLoopBodyEndsAtBackEdge(t *testing.T) {
	fn := il.NewFunc()
	g := il.NewGraph()

	entry := g.AddBlock(0)
	body := g.AddBlock(4)
	exit := g.AddBlock(8)

	cond := fn.NewBinary(fn.NewConst(1), il.OpSLess, fn.NewConst(10))
	jc := fn.NewJumpCond(cond, body.ID(), exit.ID())
	entry.Add(jc)
	g.AddEdge(entry.ID(), body.ID())
	g.AddEdge(entry.ID(), exit.ID())

	body.Add(fn.NewJump(entry.ID()))
	g.AddEdge(body.ID(), entry.ID())

	exit.Add(fn.NewReturn(il.InvalidNode))

	stmt := structurizer.New(fn, g).Structurize()

	require.Equal(t, structurizer.KindBasic, stmt.Kind)
	require.Equal(t, entry, stmt.Block)

	whileStmt := stmt.Next
	require.NotNil(t, whileStmt)
	require.Equal(t, structurizer.KindWhile, whileStmt.Kind)

	bodyStmt := whileStmt.Body
	require.NotNil(t, bodyStmt)
	require.Equal(t, structurizer.KindBasic, bodyStmt.Kind)
	require.Equal(t, body, bodyStmt.Block)
	require.Nil(t, bodyStmt.Next)

	require.NotNil(t, whileStmt.Next)
	require.Equal(t, exit, whileStmt.Next.Block)
}

// TestDoWhileTestsAtBottom exercises a bottom-tested loop sharing its
// header and latch in a single block (the degenerate one-block loop
// case): the loop body is just that block's own instructions.
func TestDoWhileTestsAtBottom(t *testing.T) {
	fn := il.NewFunc()
	g := il.NewGraph()

	entry := g.AddBlock(0)
	loop := g.AddBlock(4)
	exit := g.AddBlock(8)

	entry.Add(fn.NewJump(loop.ID()))
	g.AddEdge(entry.ID(), loop.ID())

	cond := fn.NewBinary(fn.NewConst(1), il.OpSLess, fn.NewConst(10))
	jc := fn.NewJumpCond(cond, loop.ID(), exit.ID())
	loop.Add(jc)
	g.AddEdge(loop.ID(), loop.ID())
	g.AddEdge(loop.ID(), exit.ID())

	exit.Add(fn.NewReturn(il.InvalidNode))

	stmt := structurizer.New(fn, g).Structurize()

	// entry falls straight into the loop.
	require.Equal(t, structurizer.KindBasic, stmt.Kind)
	dw := stmt.Next
	require.NotNil(t, dw)
	require.Equal(t, structurizer.KindDoWhile, dw.Kind)
	require.NotNil(t, dw.Next)
	require.Equal(t, exit, dw.Next.Block)
}
