package lifter

import "github.com/SlidyBat/SmxDecompiler/internal/il"

// cleanCalls collapses "temp = call(...)" into a bare call node wherever
// the temp is used at most once, so the IL doesn't carry a pile of
// single-use temporaries for every function/native call.
func (s *liftState) cleanCalls(bb *il.ILBlock) {
	for i := bb.NumNodes() - 1; i >= 0; i-- {
		id := bb.Nodes()[i]
		n := s.node(id)
		if n.Kind() != il.KindTempVar {
			continue
		}
		value := n.TempValue()
		if !value.Valid() {
			continue
		}
		switch s.kindOf(value) {
		case il.KindCall, il.KindNative:
		default:
			continue
		}

		switch n.NumUses() {
		case 0:
			// Side effects must stay; just stop wrapping the call in a
			// temp nobody reads.
			bb.Replace(i, value)
		case 1:
			s.ilfn.ReplaceUsesWith(id, value)
			bb.RemoveNode(i)
		}
	}
}

// pruneVars removes ILVar nodes (LocalVar/GlobalVar/... wrappers left
// over from lifting) that ended up with no uses — the abstract stack's
// scratch slots in particular are almost all dead once calls and pushes
// have been resolved.
func (s *liftState) pruneVars(bb *il.ILBlock) {
	for i := bb.NumNodes() - 1; i >= 0; i-- {
		id := bb.Nodes()[i]
		if !isVarKind(s.kindOf(id)) {
			continue
		}
		if s.node(id).NumUses() == 0 {
			bb.RemoveNode(i)
		}
	}
}

// movePhis turns a block's phi-valued temps into real stores on each
// incoming edge plus a single declaration at the block's immediate
// dominator, since a phi itself has no direct translation to C-like
// pseudocode.
func (s *liftState) movePhis(bb *il.ILBlock) {
	for i := bb.NumNodes() - 1; i >= 0; i-- {
		id := bb.Nodes()[i]
		n := s.node(id)
		if n.Kind() != il.KindTempVar {
			continue
		}
		value := n.TempValue()
		if s.kindOf(value) != il.KindPhi {
			continue
		}
		phi := s.node(value)
		inputs := append([]il.NodeID(nil), phi.PhiInputs()...)
		inEdges := append([]il.BlockID(nil), bb.InEdges()...)

		s.ilfn.ClearTempValue(id)
		idomID := s.ig.ImmediateDominator(bb.ID())
		s.ig.Block(idomID).Add(id)

		for k, in := range inEdges {
			s.ig.Block(in).Add(s.ilfn.NewStore(id, inputs[k], 4))
		}

		bb.RemoveNode(i)
	}
}

// compoundConditions repeatedly folds the two-block shapes the compiler
// emits for short-circuit && / || into a single JumpCond with a combined
// condition, until no more such shapes remain. x is the candidate
// "first test" block; y, reachable only from x, holds the second test.
func (s *liftState) compoundConditions() {
	for changed := true; changed; {
		changed = false
		for _, x := range s.ig.Blocks() {
			if x.NumNodes() == 0 {
				continue
			}
			xCond := s.node(x.Last())
			if xCond.Kind() != il.KindJumpCond {
				continue
			}
			trueID, falseID := xCond.JumpCondTrue(), xCond.JumpCondFalse()

			// X || Y: reaching x's false branch still has a chance via Y;
			// y's own true branch rejoins x's true branch directly.
			if y := s.ig.Block(falseID); s.isMergeableCond(y, x.ID()) {
				if s.node(y.Last()).JumpCondTrue() == trueID {
					s.compoundXorY(x, y)
					changed = true
					continue
				}
			}

			// X && Y: reaching x's true branch still needs Y to pass;
			// y's own false branch rejoins x's false branch directly.
			if y := s.ig.Block(trueID); s.isMergeableCond(y, x.ID()) {
				if s.node(y.Last()).JumpCondFalse() == falseID {
					s.compoundXandY(x, y)
					changed = true
				}
			}
		}
	}
}

// isMergeableCond reports whether y is a single-node conditional block
// with x as its sole predecessor, making it safe to fold into x.
func (s *liftState) isMergeableCond(y *il.ILBlock, x il.BlockID) bool {
	if y == nil || y.Removed() || y.ID() == x {
		return false
	}
	if y.NumNodes() != 1 || len(y.InEdges()) != 1 {
		return false
	}
	return s.kindOf(y.Last()) == il.KindJumpCond
}

// compoundXorY folds "if (X) goto then; else if (Y) goto then; else goto
// else" into a single combined block. Rather than emitting a direct OR
// node, this follows the original's De Morgan route: invert both
// conditions, AND them, and swap the branch targets — equivalent to
// "if (X || Y) goto then; else goto else" but expressed as
// "if (!X && !Y) goto else; else goto then".
func (s *liftState) compoundXorY(x, y *il.ILBlock) {
	xCond, yCond := s.node(x.Last()), s.node(y.Last())
	thenBranch, elseBranch := xCond.JumpCondTrue(), yCond.JumpCondFalse()

	notX := s.ilfn.NewUnary(xCond.JumpCondCondition(), il.OpNot)
	notY := s.ilfn.NewUnary(yCond.JumpCondCondition(), il.OpNot)
	cond := s.ilfn.NewBinary(notX, il.OpAnd, notY)
	x.Replace(x.NumNodes()-1, s.ilfn.NewJumpCond(cond, elseBranch, thenBranch))

	s.ig.RemoveEdge(y.ID(), thenBranch)
	s.ig.ReplaceEdgeSource(y.ID(), x.ID(), elseBranch)
	s.ig.RemoveEdge(x.ID(), y.ID())
	s.ig.RemoveBlock(y.ID())
}

// compoundXandY folds "if (X) { if (Y) goto then; else goto else; } else
// goto else" into a single "if (X && Y) goto then; else goto else".
func (s *liftState) compoundXandY(x, y *il.ILBlock) {
	xCond, yCond := s.node(x.Last()), s.node(y.Last())
	thenBranch, elseBranch := yCond.JumpCondTrue(), xCond.JumpCondFalse()

	cond := s.ilfn.NewBinary(xCond.JumpCondCondition(), il.OpAnd, yCond.JumpCondCondition())
	x.Replace(x.NumNodes()-1, s.ilfn.NewJumpCond(cond, thenBranch, elseBranch))

	s.ig.RemoveEdge(y.ID(), elseBranch)
	s.ig.ReplaceEdgeSource(y.ID(), x.ID(), thenBranch)
	s.ig.RemoveEdge(x.ID(), y.ID())
	s.ig.RemoveBlock(y.ID())
}
