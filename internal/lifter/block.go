package lifter

import (
	"fmt"

	"github.com/SlidyBat/SmxDecompiler/internal/cfg"
	"github.com/SlidyBat/SmxDecompiler/internal/il"
	"github.com/SlidyBat/SmxDecompiler/pkg/cell"
	"github.com/SlidyBat/SmxDecompiler/pkg/pcode"
)

func (s *liftState) word(addr cell.Cell) cell.Cell {
	w, _ := s.lift.file.CodeWord(addr)
	return w
}

func (s *liftState) decode(addr cell.Cell) (pcode.Opcode, []cell.Cell, cell.Cell) {
	op := pcode.Opcode(s.word(addr))
	info, _ := pcode.Get(op)
	params := make([]cell.Cell, info.NumArgs)
	for i := 0; i < info.NumArgs; i++ {
		params[i] = s.word(addr + cell.Cell(4*(i+1)))
	}
	next := addr + cell.Cell(4*(info.NumArgs+1))
	return op, params, next
}

// liftBlock translates one pcode basic block's instructions into IL
// nodes appended to ilbb, joining predecessor PRI/ALT state with phis
// where more than one predecessor reaches this block.
func (s *liftState) liftBlock(bb *cfg.BasicBlock, ilbb *il.ILBlock) error {
	s.cur = &s.blockStacks[ilbb.ID()]
	stk := s.cur

	for _, out := range bb.OutEdges() {
		s.ig.AddEdge(ilbb.ID(), il.BlockID(out.ID()))
	}

	for _, in := range bb.InEdges() {
		if in.ID() >= bb.ID() {
			continue // no back edges at lift time; the CFG is still a DAG in RPO order
		}
		pred := &s.blockStacks[in.ID()]
		if len(stk.stack) == 0 {
			*stk = *pred
			// Re-slice so appending doesn't alias the predecessor's backing array.
			stk.stack = append([]il.NodeID(nil), pred.stack...)
			continue
		}
		stk.pri = s.joinReg(stk.pri, pred.pri)
		stk.alt = s.joinReg(stk.alt, pred.alt)
	}

	if s.kindOf(stk.pri) == il.KindPhi {
		tmp := s.makeTemp(stk.pri)
		ilbb.Add(tmp)
		stk.pri = tmp
	}
	if s.kindOf(stk.alt) == il.KindPhi {
		tmp := s.makeTemp(stk.alt)
		ilbb.Add(tmp)
		stk.alt = tmp
	}

	addr := bb.Start()
	for addr < bb.End() {
		op, params, next := s.decode(addr)
		if err := s.liftInstr(ilbb, op, params, addr, next); err != nil {
			return fmt.Errorf("%s at %d: %w", op, addr, err)
		}
		addr = next
	}
	return nil
}

// joinReg merges an incoming predecessor's register value into reg,
// turning reg into a phi the first time two predecessors disagree.
func (s *liftState) joinReg(reg, value il.NodeID) il.NodeID {
	if s.kindOf(reg) == il.KindPhi {
		s.ilfn.AddPhiInput(reg, value)
		return reg
	}
	phi := s.ilfn.NewPhi()
	s.ilfn.AddPhiInput(phi, reg)
	s.ilfn.AddPhiInput(phi, value)
	return phi
}
