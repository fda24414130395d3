package disasm_test

import (
	"testing"

	"github.com/SlidyBat/SmxDecompiler/internal/disasm"
	"github.com/SlidyBat/SmxDecompiler/pkg/cell"
	"github.com/SlidyBat/SmxDecompiler/pkg/pcode"
	"github.com/SlidyBat/SmxDecompiler/pkg/smx"
	"github.com/stretchr/testify/require"
)

// fakeCode is an in-memory CodeReader for driving the disassembler off a
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

func TestDecodeReadsOpcodeAndOperands(t *testing.T) {
	code := &fakeCode{words: asmWords(pcode.OpJump, 12)}

	in, err := disasm.Decode(code, 0)
	require.NoError(t, err)
	require.Equal(t, pcode.OpJump, in.Op)
	require.Equal(t, []cell.Cell{12}, in.Params)
	require.Equal(t, cell.Cell(8), in.Next())
}

func TestDecodeUnknownOpcodeIsDecodeError(t *testing.T) {
	code := &fakeCode{words: asmWords(999999)}

	_, err := disasm.Decode(code, 0)
	require.Error(t, err)
	var decodeErr *disasm.DecodeError
	require.ErrorAs(t, err, &decodeErr)
}

func TestRangeStopsAtEnd(t *testing.T) {
	// addr 0: PROC
	// addr 4: ADD
	// addr 8: RETN
	// addr 12: ENDPROC (excluded: Range's end is exclusive)
	code := &fakeCode{words: asmWords(
		pcode.OpProc,
		pcode.OpAdd,
		pcode.OpRetn,
		pcode.OpEndProc,
	)}

	instrs, err := disasm.Range(code, 0, 12)
	require.NoError(t, err)
	require.Len(t, instrs, 3)
	require.Equal(t, pcode.OpProc, instrs[0].Op)
	require.Equal(t, pcode.OpAdd, instrs[1].Op)
	require.Equal(t, pcode.OpRetn, instrs[2].Op)
}

func TestFunctionDisassemblesItsOwnPcodeRange(t *testing.T) {
	code := &fakeCode{words: asmWords(
		pcode.OpProc,
		pcode.OpRetn,
		pcode.OpEndProc,
	)}
	fn := &smx.Function{Name: "DoThing", PcodeStart: 0, PcodeEnd: 8}

	instrs, err := disasm.Function(code, fn)
	require.NoError(t, err)
	require.Len(t, instrs, 2)
	require.Equal(t, pcode.OpProc, instrs[0].Op)
	require.Equal(t, pcode.OpRetn, instrs[1].Op)
}

func TestTextRendersOneLinePerInstruction(t *testing.T) {
	code := &fakeCode{words: asmWords(pcode.OpProc, pcode.OpRetn)}
	instrs, err := disasm.Range(code, 0, 8)
	require.NoError(t, err)

	text := disasm.Text(instrs)
	require.Contains(t, text, "proc")
	require.Contains(t, text, "retn")
	require.Equal(t, 2, len(splitLines(text)))
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i, c := range s {
		if c == '\n' {
			lines = append(lines, s[start:i])
			start = i + 1
		}
	}
	return lines
}
