package structurizer

import (
	"github.com/golang/glog"

	"github.com/SlidyBat/SmxDecompiler/internal/il"
)

// loopScope records the head/follow pair of a loop currently being walked,
// so a branch to either can be recognized as Continue/Break instead of
// being recursed into as ordinary control flow.
type loopScope struct {
	head   il.BlockID
	follow il.BlockID
}

// Structurizer recovers nested if/while/do-while/switch structure from a
// reducible IL graph, the inverse of the compiler flattening those into
// jumps and branches. Loop detection is grounded in the interval-derived-
// graph approach (Allen & Cocke, as the original decompiler's structurizer
// applies it: successive interval collapses via Graph's derived-graph
// machinery, walking each collapse level for newly-discovered loop
// headers/latches). Statement emission extends that with do-while
// promotion, endless loops, and break/continue/goto recovery via an
// explicit scope stack, none of which the simpler single-pass recursive
// walker the original implementation shipped actually handled.
type Structurizer struct {
	fn *il.Func
	g  *il.Graph

	loopHead  []il.BlockID          // block id -> head of the loop it belongs to, or -1
	loopLatch map[il.BlockID]il.BlockID // loop head -> its latch block
	follow    map[il.BlockID]il.BlockID // block id (>=2 out edges) -> its structural follow block

	visited map[il.BlockID]bool
	stmtOf  map[il.BlockID]*Statement

	loopScopes []loopScope
	boundaries []il.BlockID
}

// New creates a Structurizer over fn's graph g. g must already be lifted
// and fixed up (code-fixer passes applied); Structurize calls
// g.ComputeOrdering/ComputeDominance itself.
func New(fn *il.Func, g *il.Graph) *Structurizer {
	return &Structurizer{fn: fn, g: g}
}

// Structurize recovers the statement tree rooted at the function's entry
// block.
func (s *Structurizer) Structurize() *Statement {
	s.g.ComputeOrdering()
	s.g.ComputeDominance()
	s.markLoops()
	s.markFollows()

	s.visited = map[il.BlockID]bool{}
	s.stmtOf = map[il.BlockID]*Statement{}

	stmt := s.createStatement(s.g.EntryBlock().ID())
	glog.V(2).Infof("structurized %d blocks, %d loop heads", len(s.g.AllBlocks()), len(s.loopLatch))
	return stmt
}

// markLoops builds the derived-graph sequence (G0, G1, ...) and, at each
// collapse, checks every newly formed interval header for a back edge
// within its constituent blocks. A header with a back edge becomes a loop
// head; FindBlocksInLoop below assigns every block dominated by the head
// (within the latch's range) to that loop.
func (s *Structurizer) markLoops() {
	n := len(s.g.AllBlocks())
	s.loopHead = make([]il.BlockID, n)
	for i := range s.loopHead {
		s.loopHead[i] = -1
	}
	s.loopLatch = map[il.BlockID]il.BlockID{}

	blockSets := map[il.BlockID][]il.BlockID{}
	for _, bb := range s.g.Blocks() {
		blockSets[bb.ID()] = []il.BlockID{bb.ID()}
	}

	derived := s.g.BaseDerivedGraph()
	for {
		headerOf, order := derived.Intervals()

		next := map[il.BlockID][]il.BlockID{}
		for node, h := range headerOf {
			next[h] = append(next[h], blockSets[node]...)
		}

		for _, h := range order {
			set := next[h]
			if len(set) <= 1 {
				continue
			}
			latch := s.findLatch(h, set)
			if latch < 0 {
				continue
			}
			latch = s.promoteDoWhileLatch(h, latch, set)
			if s.loopHead[h] < 0 {
				s.findBlocksInLoop(h, latch, set)
			}
		}

		nextDerived := derived.NextDerived()
		blockSets = next
		if len(nextDerived.Nodes) == len(derived.Nodes) {
			break
		}
		derived = nextDerived
	}
}

// findLatch returns the highest-numbered block within set that has an
// edge back to h, or -1 if set contains no back edge (the interval isn't
// actually a loop).
func (s *Structurizer) findLatch(h il.BlockID, set []il.BlockID) il.BlockID {
	latch := il.BlockID(-1)
	for _, bb := range set {
		for _, out := range s.g.Block(bb).OutEdges() {
			if out == h && bb > latch {
				latch = bb
			}
		}
	}
	return latch
}

// promoteDoWhileLatch recognizes the common compiled shape of a do/while
// loop: the true latch (the block whose JumpCond decides whether to loop
// again) ends up one hop before the block findLatch actually finds,
// because the compiler emits an unconditional Jump block wrapping the
// back edge. When that Jump block's only predecessor is a two-way
// conditional within the same interval, the conditional is the real latch.
func (s *Structurizer) promoteDoWhileLatch(head, latch il.BlockID, set []il.BlockID) il.BlockID {
	latchBB := s.g.Block(latch)
	if len(latchBB.OutEdges()) != 1 || latchBB.NumNodes() != 1 {
		return latch
	}
	if len(latchBB.InEdges()) != 1 {
		return latch
	}
	pred := latchBB.InEdges()[0]
	if pred == head {
		// Ordinary top-tested loop: the single-node "latch" block IS the
		// back edge, not a wrapper around some other conditional.
		return latch
	}
	inSet := false
	for _, bb := range set {
		if bb == pred {
			inSet = true
			break
		}
	}
	if !inSet {
		return latch
	}
	predBB := s.g.Block(pred)
	if len(predBB.OutEdges()) != 2 {
		return latch
	}
	return pred
}

// findBlocksInLoop assigns loop membership: head and latch themselves,
// plus every block between them (by id) whose immediate dominator is
// already part of the loop.
func (s *Structurizer) findBlocksInLoop(head, latch il.BlockID, set []il.BlockID) {
	inSet := map[il.BlockID]bool{}
	for _, bb := range set {
		inSet[bb] = true
	}

	s.loopHead[head] = head
	for bb := head + 1; bb <= latch; bb++ {
		if !inSet[bb] {
			continue
		}
		idomBB := s.g.ImmediateDominator(bb)
		if s.loopHead[idomBB] == head && s.loopHead[bb] < 0 {
			s.loopHead[bb] = head
		}
	}
	s.loopHead[latch] = head
	s.loopLatch[head] = latch
}

// markFollows computes, for every block with two or more out-edges (an if
// or a switch), the block where its branches converge again: its
// immediate post-dominator if that exists within the function, else the
// first later block (in RPO) dominated by it that isn't one of its own
// out-edges.
func (s *Structurizer) markFollows() {
	s.follow = map[il.BlockID]il.BlockID{}
	blocks := s.g.Blocks()
	total := len(s.g.AllBlocks())

	for _, bb := range blocks {
		if len(bb.OutEdges()) < 2 {
			continue
		}
		if ipdom := s.g.ImmediatePostDominator(bb.ID()); int(ipdom) < total && ipdom != bb.ID() {
			s.follow[bb.ID()] = ipdom
			continue
		}
		for _, cand := range blocks {
			if cand.ID() <= bb.ID() || isOutEdge(bb, cand.ID()) {
				continue
			}
			if s.g.ImmediateDominator(cand.ID()) == bb.ID() {
				s.follow[bb.ID()] = cand.ID()
				break
			}
		}
	}
}

func isOutEdge(bb *il.ILBlock, id il.BlockID) bool {
	for _, o := range bb.OutEdges() {
		if o == id {
			return true
		}
	}
	return false
}

// createStatement walks from id, producing the statement (or chain of
// statements) id and everything it structurally leads into translates to.
// A block outside the current region (pushed as a boundary by an
// enclosing if/switch/loop) or already emitted elsewhere yields nil or a
// Goto respectively, rather than being walked again.
func (s *Structurizer) createStatement(id il.BlockID) *Statement {
	if id < 0 || s.isBoundary(id) {
		return nil
	}
	if s.visited[id] {
		target := s.stmtOf[id]
		if target != nil {
			target.Labeled = true
		}
		return NewGoto(target)
	}
	s.visited[id] = true

	if s.loopHead[id] == id {
		return s.createLoopStatement(id)
	}
	return s.createNonLoopStatement(id)
}

// jumpTo is createStatement for a branch target reached from inside a
// loop body: a jump straight to the loop's follow or back to its head is
// Break/Continue rather than ordinary recursion.
func (s *Structurizer) jumpTo(target il.BlockID) *Statement {
	for i := len(s.loopScopes) - 1; i >= 0; i-- {
		sc := s.loopScopes[i]
		if target == sc.follow {
			return NewBreak()
		}
		if target == sc.head {
			return NewContinue()
		}
	}
	return s.createStatement(target)
}

func (s *Structurizer) isBoundary(id il.BlockID) bool {
	for _, b := range s.boundaries {
		if b == id {
			return true
		}
	}
	return false
}

func (s *Structurizer) pushBoundary(b il.BlockID) { s.boundaries = append(s.boundaries, b) }
func (s *Structurizer) popBoundary()              { s.boundaries = s.boundaries[:len(s.boundaries)-1] }

func (s *Structurizer) isSwitchBlock(bb *il.ILBlock) bool {
	last := bb.Last()
	return last.Valid() && s.fn.Node(last).Kind() == il.KindSwitch
}

// createNonLoopStatement handles a block that isn't itself a loop header:
// the block's own instructions (Basic) followed by whatever its
// terminator does (switch dispatch, if/else, plain fallthrough, or
// nothing for a return/unreachable block). A single out-edge that's a
// back edge ends the chain here with no Next — it's the tail of a loop
// body, and the loop itself already accounts for returning to the head.
func (s *Structurizer) createNonLoopStatement(id il.BlockID) *Statement {
	bb := s.g.Block(id)
	basic := NewBasic(bb)
	s.stmtOf[id] = basic

	switch {
	case s.isSwitchBlock(bb):
		basic.Next = s.buildSwitch(bb)
	case len(bb.OutEdges()) == 2:
		basic.Next = s.buildIf(bb)
	case len(bb.OutEdges()) == 1:
		if !bb.IsBackEdge(0) {
			basic.Next = s.jumpTo(bb.OutEdges()[0])
		}
	}
	return basic
}

// buildIf builds an If from bb's JumpCond, canonicalizing so the branch
// equal to bb's follow (if any) becomes the (possibly empty) else side.
func (s *Structurizer) buildIf(bb *il.ILBlock) *Statement {
	jc := s.fn.Node(bb.Last())
	cond := jc.JumpCondCondition()
	trueB, falseB := jc.JumpCondTrue(), jc.JumpCondFalse()
	follow, hasFollow := s.follow[bb.ID()]

	thenB, elseB := trueB, falseB
	if hasFollow && trueB == follow && falseB != follow {
		thenB, elseB = falseB, trueB
		cond = s.fn.NewUnary(cond, il.OpNot)
	}

	if hasFollow {
		s.pushBoundary(follow)
	}
	var elseStmt *Statement
	if !(hasFollow && elseB == follow) {
		elseStmt = s.jumpTo(elseB)
	}
	thenStmt := s.jumpTo(thenB)
	if hasFollow {
		s.popBoundary()
	}

	ifStmt := NewIf(cond, thenStmt, elseStmt)
	if hasFollow {
		ifStmt.Next = s.createStatement(follow)
	}
	return ifStmt
}

// buildSwitch builds a Switch from bb's Switch terminator.
func (s *Structurizer) buildSwitch(bb *il.ILBlock) *Statement {
	n := s.fn.Node(bb.Last())
	follow, hasFollow := s.follow[bb.ID()]

	if hasFollow {
		s.pushBoundary(follow)
	}
	cases := make([]Case, 0, len(n.SwitchCases()))
	for _, c := range n.SwitchCases() {
		cases = append(cases, Case{Value: c.Value, Body: s.jumpTo(c.Target)})
	}
	def := s.jumpTo(n.SwitchDefault())
	if hasFollow {
		s.popBoundary()
	}

	sw := NewSwitch(n.SwitchValue(), def, cases)
	if hasFollow {
		sw.Next = s.createStatement(follow)
	}
	return sw
}

// createLoopStatement dispatches on the shape of the head/latch pair:
// a two-way head with a single-out-edge latch is a top-tested While; a
// two-way latch is a bottom-tested DoWhile; anything else (no forced
// exit edge at all) is an Endless loop relying entirely on internal
// Break statements.
func (s *Structurizer) createLoopStatement(head il.BlockID) *Statement {
	latch := s.loopLatch[head]
	headBB := s.g.Block(head)
	latchBB := s.g.Block(latch)
	follow, hasFollow := s.loopFollow(head, latch)

	switch {
	case head != latch && len(headBB.OutEdges()) == 2 && len(latchBB.OutEdges()) == 1:
		return s.createWhileStatement(head, latch, follow, hasFollow)
	case len(latchBB.OutEdges()) == 2:
		return s.createDoWhileStatement(head, latch, follow, hasFollow)
	default:
		return s.createEndlessStatement(head, latch, follow, hasFollow)
	}
}

// loopFollow finds the block the loop exits to. head/latch's own
// convergence point (computed by markFollows from post-dominance) is
// exactly the loop's exit when either is the two-way test deciding
// whether to keep looping, so this reuses that rather than consulting
// per-block loop membership, which the id-range scan in
// findBlocksInLoop can over-eagerly assign to a block dominated by the
// head but not actually part of the loop body.
func (s *Structurizer) loopFollow(head, latch il.BlockID) (il.BlockID, bool) {
	if f, ok := s.follow[head]; ok && f != head && f != latch {
		return f, true
	}
	if f, ok := s.follow[latch]; ok && f != head && f != latch {
		return f, true
	}
	return -1, false
}

func (s *Structurizer) createWhileStatement(head, latch, follow il.BlockID, hasFollow bool) *Statement {
	headBB := s.g.Block(head)
	basic := NewBasic(headBB)
	s.stmtOf[head] = basic

	jc := s.fn.Node(headBB.Last())
	cond := jc.JumpCondCondition()
	trueB, falseB := jc.JumpCondTrue(), jc.JumpCondFalse()

	bodyEntry := trueB
	switch {
	case hasFollow && trueB == follow:
		bodyEntry = falseB
		cond = s.fn.NewUnary(cond, il.OpNot)
	case !hasFollow && falseB < trueB:
		bodyEntry = falseB
	}

	s.loopScopes = append(s.loopScopes, loopScope{head: head, follow: follow})
	if hasFollow {
		s.pushBoundary(follow)
	}
	body := s.jumpTo(bodyEntry)
	if hasFollow {
		s.popBoundary()
	}
	s.loopScopes = s.loopScopes[:len(s.loopScopes)-1]

	s.visited[latch] = true

	w := NewWhile(cond, body)
	basic.Next = w
	if hasFollow {
		w.Next = s.createStatement(follow)
	}
	return basic
}

func (s *Structurizer) createDoWhileStatement(head, latch, follow il.BlockID, hasFollow bool) *Statement {
	latchBB := s.g.Block(latch)
	jc := s.fn.Node(latchBB.Last())
	cond := jc.JumpCondCondition()
	if jc.JumpCondTrue() != head {
		cond = s.fn.NewUnary(cond, il.OpNot)
	}

	var body *Statement
	if head == latch {
		// Single-block loop: the head is its own latch, so there's
		// nothing to walk besides the block's own instructions.
		body = NewBasic(latchBB)
		s.stmtOf[head] = body
		s.visited[head] = true
	} else {
		s.loopScopes = append(s.loopScopes, loopScope{head: head, follow: follow})
		if hasFollow {
			s.pushBoundary(follow)
		}
		s.pushBoundary(latch)
		body = s.createStatement(head)
		s.popBoundary()
		if hasFollow {
			s.popBoundary()
		}
		s.loopScopes = s.loopScopes[:len(s.loopScopes)-1]

		if !s.visited[latch] {
			latchBasic := NewBasic(latchBB)
			s.stmtOf[latch] = latchBasic
			s.visited[latch] = true
			body = appendStatement(body, latchBasic)
		}
	}

	dw := NewDoWhile(cond, body)
	if hasFollow {
		dw.Next = s.createStatement(follow)
	}
	return dw
}

func (s *Structurizer) createEndlessStatement(head, latch, follow il.BlockID, hasFollow bool) *Statement {
	var body *Statement
	if head == latch {
		body = NewBasic(s.g.Block(head))
		s.stmtOf[head] = body
		s.visited[head] = true
	} else {
		s.loopScopes = append(s.loopScopes, loopScope{head: head, follow: follow})
		if hasFollow {
			s.pushBoundary(follow)
		}
		s.pushBoundary(latch)
		body = s.createStatement(head)
		s.popBoundary()
		if hasFollow {
			s.popBoundary()
		}
		s.loopScopes = s.loopScopes[:len(s.loopScopes)-1]

		if !s.visited[latch] {
			latchBB := s.g.Block(latch)
			latchBasic := NewBasic(latchBB)
			s.stmtOf[latch] = latchBasic
			s.visited[latch] = true
			body = appendStatement(body, latchBasic)
		}
	}

	e := NewEndless(body)
	if hasFollow {
		e.Next = s.createStatement(follow)
	}
	return e
}
