package cfg_test

import (
	"testing"

	"github.com/SlidyBat/SmxDecompiler/internal/cfg"
	"github.com/SlidyBat/SmxDecompiler/pkg/cell"
	"github.com/SlidyBat/SmxDecompiler/pkg/pcode"
	"github.com/stretchr/testify/require"
)

// fakeCode is an in-memory CodeReader for driving the builder off a
// hand-assembled instruction stream without a real SMX container.
type fakeCode struct {
	words []cell.Cell
}

func (f *fakeCode) CodeWord(addr cell.Cell) (cell.Cell, bool) {
	if addr < 0 || addr%4 != 0 || int(addr)/4 >= len(f.words) {
		return 0, false
	}
	return f.words[addr/4], true
}

func (f *fakeCode) CodeSize() int { return len(f.words) * 4 }

func asmWords(ops ...interface{}) []cell.Cell {
	var words []cell.Cell
	for _, o := range ops {
		switch v := o.(type) {
		case pcode.Opcode:
			words = append(words, cell.Cell(v))
		case int:
			words = append(words, cell.Cell(v))
		case cell.Cell:
			words = append(words, v)
		}
	}
	return words
}

func TestBuildStraightLineFunction(t *testing.T) {
	// addr 0: PROC
	// addr 4: ADD
	// addr 8: RETN
	// addr 12: ENDPROC
	code := &fakeCode{words: asmWords(
		pcode.OpProc,
		pcode.OpAdd,
		pcode.OpRetn,
		pcode.OpEndProc,
	)}

	b := cfg.NewBuilder(code)
	graph, err := b.Build(0)
	require.NoError(t, err)
	require.Equal(t, 1, graph.NumBlocks())
	entry := graph.EntryBlock()
	require.Equal(t, cell.Cell(0), entry.Start())
	require.Empty(t, entry.OutEdges())
}

func TestBuildIfThenElse(t *testing.T) {
	// Build the stream manually with correct word addressing:
	// 0: PROC          (1 word)  -> next 4
	// 4: JZER target   (2 words) -> next 12
	// 12: ADD          (1 word)  -> next 16
	// 16: JUMP target  (2 words) -> next 24
	// 24: SUB          (1 word)  -> next 28 (else branch target)
	// 28: RETN         (1 word)  -> next 32 (jump target after then branch)
	// 32: ENDPROC
	words := make([]cell.Cell, 9)
	words[0] = cell.Cell(pcode.OpProc)
	words[1] = cell.Cell(pcode.OpJZer)
	words[2] = 24
	words[3] = cell.Cell(pcode.OpAdd)
	words[4] = cell.Cell(pcode.OpJump)
	words[5] = 28
	words[6] = cell.Cell(pcode.OpSub)
	words[7] = cell.Cell(pcode.OpRetn)
	words[8] = cell.Cell(pcode.OpEndProc)
	code2 := &fakeCode{words: words}

	b := cfg.NewBuilder(code2)
	graph, err := b.Build(0)
	require.NoError(t, err)
	// entry, then-branch, else-branch, join = 4 blocks
	require.Equal(t, 4, graph.NumBlocks())

	entry := graph.EntryBlock()
	require.Len(t, entry.OutEdges(), 2)
}

func TestArgCountFromStackOffsets(t *testing.T) {
	// PROC; LOAD_S_PRI at offset 16 (2nd arg); RETN; ENDPROC
	words := []cell.Cell{
		cell.Cell(pcode.OpProc),
		cell.Cell(pcode.OpLoadSPri), 16,
		cell.Cell(pcode.OpRetn),
		cell.Cell(pcode.OpEndProc),
	}
	code := &fakeCode{words: words}
	b := cfg.NewBuilder(code)
	graph, err := b.Build(0)
	require.NoError(t, err)
	require.Equal(t, 2, graph.NumArgs())
}
