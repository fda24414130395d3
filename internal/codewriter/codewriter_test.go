package codewriter_test

import (
	"testing"

	"github.com/SlidyBat/SmxDecompiler/internal/codewriter"
	"github.com/SlidyBat/SmxDecompiler/internal/il"
	"github.com/SlidyBat/SmxDecompiler/internal/structurizer"
	"github.com/SlidyBat/SmxDecompiler/pkg/cell"
	"github.com/SlidyBat/SmxDecompiler/pkg/smx"
	"github.com/stretchr/testify/require"
)

func TestBasicBlockRendersStatementsWithSemicolons(t *testing.T) {
	fn := il.NewFunc()
	g := il.NewGraph()
	bb := g.AddBlock(0)

	local := fn.NewLocalVar(-4, fn.NewConst(1))
	bb.Add(local)
	bb.Add(fn.NewStore(local, fn.NewConst(2), 4))
	bb.Add(fn.NewReturn(il.InvalidNode))

	stmt := structurizer.NewBasic(bb)

	w := codewriter.New(nil, nil)
	out := w.Build(fn, stmt)

	require.Contains(t, out, "int local_-4 = 1;")
	require.Contains(t, out, "local_-4 = 2;")
	require.Contains(t, out, "return;")
}

func TestIfElseIndentsBothBranches(t *testing.T) {
	fn := il.NewFunc()
	g := il.NewGraph()
	thenBB := g.AddBlock(4)
	elseBB := g.AddBlock(8)

	thenBB.Add(fn.NewReturn(fn.NewConst(1)))
	elseBB.Add(fn.NewReturn(fn.NewConst(0)))

	cond := fn.NewBinary(fn.NewConst(1), il.OpSGrtr, fn.NewConst(0))
	ifStmt := structurizer.NewIf(cond, structurizer.NewBasic(thenBB), structurizer.NewBasic(elseBB))

	w := codewriter.New(nil, nil)
	out := w.Build(fn, ifStmt)

	require.Contains(t, out, "if (1 > 0)")
	require.Contains(t, out, "else")
	require.Contains(t, out, "  return 1;")
	require.Contains(t, out, "  return 0;")
}

func TestWhileLoopRendersConditionAndBody(t *testing.T) {
	fn := il.NewFunc()
	g := il.NewGraph()
	body := g.AddBlock(4)
	body.Add(fn.NewReturn(il.InvalidNode))

	cond := fn.NewBinary(fn.NewConst(1), il.OpSLess, fn.NewConst(10))
	whileStmt := structurizer.NewWhile(cond, structurizer.NewBasic(body))

	w := codewriter.New(nil, nil)
	out := w.Build(fn, whileStmt)

	require.Contains(t, out, "while (1 < 10)")
	require.Contains(t, out, "{\n  return;\n}")
}

func TestGlobalNamesResolveFromSmxFile(t *testing.T) {
	fn := il.NewFunc()
	g := il.NewGraph()
	bb := g.AddBlock(0)

	globalRef := fn.NewGlobalVar(20)
	bb.Add(fn.NewStore(globalRef, fn.NewConst(5), 4))

	file := &smx.File{Globals: []smx.Variable{{Name: "g_score", Address: cell.Cell(20)}}}
	smxFn := &smx.Function{Name: "OnRoundEnd"}

	w := codewriter.New(file, smxFn)
	out := w.Build(fn, structurizer.NewBasic(bb))

	require.Contains(t, out, "g_score = 5;")
}

func TestBreakAndContinueRenderBare(t *testing.T) {
	fn := il.NewFunc()
	brk := structurizer.NewBreak()
	cont := structurizer.NewContinue()
	brk.Next = cont

	w := codewriter.New(nil, nil)
	out := w.Build(fn, brk)

	require.Contains(t, out, "break;")
	require.Contains(t, out, "continue;")
}

func TestStringModeNoneLeavesConstantNumeric(t *testing.T) {
	fn := il.NewFunc()
	g := il.NewGraph()
	bb := g.AddBlock(0)
	bb.Add(fn.NewReturn(fn.NewConst(8)))

	w := codewriter.New(nil, nil)
	out := w.Build(fn, structurizer.NewBasic(bb))

	require.Contains(t, out, "return 8;")
}

func TestGotoLabelsItsTargetOnce(t *testing.T) {
	fn := il.NewFunc()
	g := il.NewGraph()
	targetBB := g.AddBlock(4)
	targetBB.Add(fn.NewReturn(il.InvalidNode))
	target := structurizer.NewBasic(targetBB)
	target.Labeled = true

	gotoStmt := structurizer.NewGoto(target)
	gotoStmt.Next = target

	w := codewriter.New(nil, nil)
	out := w.Build(fn, gotoStmt)

	require.Contains(t, out, "goto label_0;")
	require.Contains(t, out, "label_0:")
}
