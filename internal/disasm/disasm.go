// Package disasm renders raw SMX pcode as text: one line per instruction,
// address, mnemonic, and operands. It is an ambient debugging aid (the
// --assembly CLI flag), not part of the decompile pipeline proper — nothing
// downstream of internal/lifter reads its output.
package disasm

import (
	"fmt"
	"strings"

	"github.com/SlidyBat/SmxDecompiler/internal/cfg"
	"github.com/SlidyBat/SmxDecompiler/pkg/cell"
	"github.com/SlidyBat/SmxDecompiler/pkg/pcode"
	"github.com/SlidyBat/SmxDecompiler/pkg/smx"
)

// CodeReader is the slice of *smx.File the disassembler needs: random
// access to decoded pcode words by byte address. Mirrors cfg.CodeReader so
// the same *smx.File (or a synthetic test fixture) satisfies both.
type CodeReader interface {
	CodeWord(addr cell.Cell) (cell.Cell, bool)
	CodeSize() int
}

// DecodeError reports pcode the disassembler could not make sense of: an
// opcode missing from the info table, or an operand pointing outside the
// code section.
type DecodeError struct {
	Addr cell.Cell
	Msg  string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("disasm: decode error at %d: %s", e.Addr, e.Msg)
}

// Instr is one decoded pcode instruction: its address, opcode, and raw
// operand words.
type Instr struct {
	Addr   cell.Cell
	Op     pcode.Opcode
	Params []cell.Cell
}

// Next is the address immediately following this instruction.
func (in Instr) Next() cell.Cell { return in.Addr + cell.Cell(4*(len(in.Params)+1)) }

// String formats the instruction as an address, a mnemonic, and its
// operands as comma-separated hex words — the same shape
// SmxDisassembler::DisassembleInstr prints.
func (in Instr) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%08x: %-12s", uint32(in.Addr), in.Op.String())
	for i, p := range in.Params {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%#x", uint32(p))
	}
	return b.String()
}

// Decode reads one instruction at addr: an opcode word followed by however
// many operand words its Info table entry calls for.
func Decode(code CodeReader, addr cell.Cell) (Instr, error) {
	word, ok := code.CodeWord(addr)
	if !ok {
		return Instr{}, &DecodeError{Addr: addr, Msg: "address out of range"}
	}
	op := pcode.Opcode(word)
	info, ok := pcode.Get(op)
	if !ok {
		return Instr{}, &DecodeError{Addr: addr, Msg: "unknown opcode"}
	}
	params := make([]cell.Cell, info.NumArgs)
	for i := 0; i < info.NumArgs; i++ {
		w, ok := code.CodeWord(addr + cell.Cell(4*(i+1)))
		if !ok {
			return Instr{}, &DecodeError{Addr: addr, Msg: "truncated operand"}
		}
		params[i] = w
	}
	return Instr{Addr: addr, Op: op, Params: params}, nil
}

// Range disassembles every instruction from start up to (not including) end.
func Range(code CodeReader, start, end cell.Cell) ([]Instr, error) {
	var out []Instr
	for addr := start; addr < end; {
		in, err := Decode(code, addr)
		if err != nil {
			return out, err
		}
		out = append(out, in)
		addr = in.Next()
	}
	return out, nil
}

// Function disassembles one function's entire pcode body, mirroring
// SmxDisassembler::DisassembleFunction's pcode_start..pcode_end walk.
func Function(code CodeReader, fn *smx.Function) ([]Instr, error) {
	return Range(code, fn.PcodeStart, fn.PcodeEnd)
}

// Block disassembles one CFG basic block's instruction range, mirroring
// SmxDisassembler::DisassembleBlock.
func Block(code CodeReader, bb *cfg.BasicBlock) ([]Instr, error) {
	return Range(code, bb.Start(), bb.End())
}

// Text renders a slice of instructions one per line.
func Text(instrs []Instr) string {
	var b strings.Builder
	for _, in := range instrs {
		b.WriteString(in.String())
		b.WriteByte('\n')
	}
	return b.String()
}
