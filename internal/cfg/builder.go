package cfg

import (
	"fmt"

	"github.com/SlidyBat/SmxDecompiler/pkg/cell"
	"github.com/SlidyBat/SmxDecompiler/pkg/pcode"
)

// CodeReader is the slice of *smx.File the builder needs: random access to
// decoded pcode words by byte address. Declared as an interface so tests
// can drive the builder off a synthetic instruction stream instead of a
// fully parsed SMX container.
type CodeReader interface {
	CodeWord(addr cell.Cell) (cell.Cell, bool)
	CodeSize() int
}

// DecodeError reports pcode that the builder could not make sense of:
// an opcode missing from the info table, or an operand pointing outside
// the code section.
type DecodeError struct {
	Addr cell.Cell
	Msg  string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("cfg: decode error at %d: %s", e.Addr, e.Msg)
}

// Builder constructs a ControlFlowGraph for one function by a two-pass
// leader-marking algorithm: first it scans the function's pcode to find
// every block-leader address, then it walks each leader's block to find
// its extent and edges.
type Builder struct {
	code CodeReader

	graph    *ControlFlowGraph
	leaders  []cell.Cell
	codeEnd  cell.Cell
}

// NewBuilder creates a Builder reading pcode from code.
func NewBuilder(code CodeReader) *Builder {
	return &Builder{code: code}
}

// Build constructs the CFG for the function whose PROC instruction starts
// at entry.
func (b *Builder) Build(entry cell.Cell) (*ControlFlowGraph, error) {
	b.graph = New()
	if err := b.markLeaders(entry); err != nil {
		return nil, err
	}

	for _, leader := range b.leaders {
		lastInstr := leader
		nextLeader, err := b.nextInstruction(leader)
		if err != nil {
			return nil, err
		}
		for nextLeader < b.codeEnd && !b.isLeader(nextLeader) {
			lastInstr = nextLeader
			nextLeader, err = b.nextInstruction(lastInstr)
			if err != nil {
				return nil, err
			}
		}

		currBlock := b.graph.FindBlockAt(leader)
		currBlock.setEnd(nextLeader)

		op, _, err := b.decode(lastInstr)
		if err != nil {
			return nil, err
		}

		switch op {
		case pcode.OpJump:
			target, err := b.jumpTarget(lastInstr)
			if err != nil {
				return nil, err
			}
			currBlock.AddTarget(b.graph.FindBlockAt(target))

		case pcode.OpJEq, pcode.OpJNeq, pcode.OpJZer, pcode.OpJNZ,
			pcode.OpJSGrtr, pcode.OpJSGeq, pcode.OpJSLess, pcode.OpJSLeq:
			target, err := b.jumpTarget(lastInstr)
			if err != nil {
				return nil, err
			}
			currBlock.AddTarget(b.graph.FindBlockAt(target))
			currBlock.AddTarget(b.graph.FindBlockAt(nextLeader))

		case pcode.OpSwitch:
			targets, err := b.switchTargets(lastInstr)
			if err != nil {
				return nil, err
			}
			for _, t := range targets {
				currBlock.AddTarget(b.graph.FindBlockAt(t))
			}

		case pcode.OpHalt, pcode.OpRetn:
			// No edges to add.

		default:
			if bb := b.graph.FindBlockAt(nextLeader); bb != nil {
				currBlock.AddTarget(bb)
			}
		}
	}

	b.graph.ComputeOrdering()
	return b.graph, nil
}

// decode reads the opcode and operand words at addr.
func (b *Builder) decode(addr cell.Cell) (pcode.Opcode, []cell.Cell, error) {
	word, ok := b.code.CodeWord(addr)
	if !ok {
		return 0, nil, &DecodeError{Addr: addr, Msg: "address out of range"}
	}
	op := pcode.Opcode(word)
	info, ok := pcode.Get(op)
	if !ok {
		return 0, nil, &DecodeError{Addr: addr, Msg: "unknown opcode"}
	}
	params := make([]cell.Cell, info.NumArgs)
	for i := 0; i < info.NumArgs; i++ {
		w, ok := b.code.CodeWord(addr + cell.Cell(4*(i+1)))
		if !ok {
			return 0, nil, &DecodeError{Addr: addr, Msg: "truncated operand"}
		}
		params[i] = w
	}
	return op, params, nil
}

// nextInstruction returns the address immediately following the
// instruction at addr.
func (b *Builder) nextInstruction(addr cell.Cell) (cell.Cell, error) {
	_, params, err := b.decode(addr)
	if err != nil {
		return 0, err
	}
	return addr + cell.Cell(4*(len(params)+1)), nil
}

func (b *Builder) jumpTarget(addr cell.Cell) (cell.Cell, error) {
	_, params, err := b.decode(addr)
	if err != nil {
		return 0, err
	}
	return params[0], nil
}

// switchTargets reads the default target plus every case target out of
// the CASETBL the SWITCH instruction points to.
func (b *Builder) switchTargets(addr cell.Cell) ([]cell.Cell, error) {
	_, params, err := b.decode(addr)
	if err != nil {
		return nil, err
	}
	caseTbl := params[0]
	nCasesWord, ok := b.code.CodeWord(caseTbl + 4)
	if !ok {
		return nil, &DecodeError{Addr: addr, Msg: "casetbl out of range"}
	}
	nCases := int(nCasesWord)
	def, ok := b.code.CodeWord(caseTbl + 8)
	if !ok {
		return nil, &DecodeError{Addr: addr, Msg: "casetbl default out of range"}
	}
	targets := make([]cell.Cell, 0, nCases+1)
	targets = append(targets, def)
	for i := 0; i < nCases; i++ {
		t, ok := b.code.CodeWord(caseTbl + cell.Cell(16+8*i))
		if !ok {
			return nil, &DecodeError{Addr: addr, Msg: "casetbl case out of range"}
		}
		targets = append(targets, t)
	}
	return targets, nil
}

// markLeaders performs the first pass: find every address that begins a
// basic block (the entry, every jump/switch target, and every instruction
// immediately following a conditional jump), and record the function's
// argument count from the largest stack offset any instruction references.
func (b *Builder) markLeaders(entry cell.Cell) error {
	b.leaders = nil
	b.codeEnd = cell.Cell(b.code.CodeSize())

	lastArgOffset := 0

	b.addLeader(entry)
	instr, err := b.nextInstruction(entry)
	if err != nil {
		return err
	}

	for instr < b.codeEnd {
		op, params, err := b.decode(instr)
		if err != nil {
			return err
		}
		info, _ := pcode.Get(op)
		for i := 0; i < info.NumArgs; i++ {
			if info.Params[i] == pcode.KindStack {
				offset := int(params[i])
				if offset > lastArgOffset {
					lastArgOffset = offset
				}
			}
		}

		switch op {
		case pcode.OpJump:
			b.addLeader(params[0])

		case pcode.OpJEq, pcode.OpJNeq, pcode.OpJZer, pcode.OpJNZ,
			pcode.OpJSGrtr, pcode.OpJSGeq, pcode.OpJSLess, pcode.OpJSLeq:
			b.addLeader(params[0])
			next, err := b.nextInstruction(instr)
			if err != nil {
				return err
			}
			b.addLeader(next)

		case pcode.OpSwitch:
			targets, err := b.switchTargets(instr)
			if err != nil {
				return err
			}
			for _, t := range targets {
				b.addLeader(t)
			}

		case pcode.OpEndProc, pcode.OpProc:
			b.codeEnd = instr
		}

		instr, err = b.nextInstruction(instr)
		if err != nil {
			return err
		}
	}

	if lastArgOffset >= 12 {
		b.graph.SetNumArgs((lastArgOffset-12)/4 + 1)
	}
	return nil
}

func (b *Builder) addLeader(addr cell.Cell) {
	if b.isLeader(addr) {
		return
	}
	b.leaders = append(b.leaders, addr)
	b.graph.NewBlock(addr)
}

func (b *Builder) isLeader(addr cell.Cell) bool {
	for _, l := range b.leaders {
		if l == addr {
			return true
		}
	}
	return false
}
