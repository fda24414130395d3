// Package lifter raises a function's pcode control-flow graph (internal/cfg)
// into the typed IL graph (internal/il) the rest of the decompiler works
// with. It walks each basic block once, maintaining an abstract PRI/ALT
// register pair plus a synthetic operand stack (both modeled as IL
// LocalVar slots, exactly like real stack-frame locals), joins register
// state at merge points with phis, and then runs a handful of cleanup
// passes that turn the raw per-instruction translation into something a
// structurizer can work with.
package lifter

import (
	"fmt"

	"github.com/golang/glog"

	"github.com/SlidyBat/SmxDecompiler/internal/cfg"
	"github.com/SlidyBat/SmxDecompiler/internal/il"
	"github.com/SlidyBat/SmxDecompiler/pkg/cell"
	"github.com/SlidyBat/SmxDecompiler/pkg/smx"
)

// Lifter raises one function at a time out of an SMX file's pcode. It
// depends only on cfg.CodeReader (the same narrow interface the CFG
// builder uses) so tests can drive it off a hand-assembled instruction
// stream instead of a fully parsed SMX container.
type Lifter struct {
	file cfg.CodeReader
}

// New creates a Lifter reading pcode from code; a *smx.File satisfies
// cfg.CodeReader directly.
func New(code cfg.CodeReader) *Lifter {
	return &Lifter{file: code}
}

// exprStack is the per-block abstract machine state the original pcode
// interpreter would have held in registers/on the real VM stack: pri and
// alt are the two scratch registers, stack is the operand stack PUSH/POP
// family instructions manipulate. Every slot is represented as an IL
// LocalVar so real locals and scratch push-slots share one mechanism.
type exprStack struct {
	stack []il.NodeID
	pri   il.NodeID
	alt   il.NodeID
}

type liftState struct {
	lift *Lifter
	fn   *smx.Function
	pg   *cfg.ControlFlowGraph
	ig   *il.Graph
	ilfn *il.Func

	blockStacks []exprStack
	cur         *exprStack
	numTemps    int
	heapAddr    cell.Cell
}

// Result is everything the lifter produced for one function: the IL node
// arena and the IL control-flow graph built over it.
type Result struct {
	Func  *il.Func
	Graph *il.Graph
}

// Lift raises fn's pcode body into an IL graph.
func (l *Lifter) Lift(fn *smx.Function) (*Result, error) {
	b := cfg.NewBuilder(l.file)
	pg, err := b.Build(fn.PcodeStart)
	if err != nil {
		return nil, fmt.Errorf("lifting %s: %w", fn.Name, err)
	}

	ig := il.NewGraph()
	ig.SetNumArgs(pg.NumArgs())
	for i := 0; i < pg.NumBlocks(); i++ {
		ig.AddBlock(pg.Block(i).Start())
	}

	st := &liftState{
		lift:        l,
		fn:          fn,
		pg:          pg,
		ig:          ig,
		ilfn:        il.NewFunc(),
		blockStacks: make([]exprStack, pg.NumBlocks()),
	}

	for i := 0; i < pg.NumBlocks(); i++ {
		if err := st.liftBlock(pg.Block(i), ig.Block(il.BlockID(i))); err != nil {
			return nil, fmt.Errorf("lifting %s block %d: %w", fn.Name, i, err)
		}
	}

	ig.ComputeDominance()

	for _, bb := range ig.Blocks() {
		st.cleanCalls(bb)
	}
	for _, bb := range ig.Blocks() {
		st.pruneVars(bb)
	}
	for _, bb := range ig.Blocks() {
		st.movePhis(bb)
	}

	st.compoundConditions()
	ig.ComputeDominance()

	glog.V(2).Infof("lifted %s: %d pcode blocks -> %d IL blocks", fn.Name, pg.NumBlocks(), ig.NumBlocks())

	return &Result{Func: st.ilfn, Graph: ig}, nil
}

func (s *liftState) node(id il.NodeID) *il.Node { return s.ilfn.Node(id) }

func (s *liftState) kindOf(id il.NodeID) il.Kind {
	if !id.Valid() {
		return -1
	}
	return s.node(id).Kind()
}

// push creates a new abstract-stack slot wrapping value and appends it
// to the current block's operand stack, but does not add it to the IL
// block — most callers want that (and call ig.Block(...).Add themselves);
// the PROC prologue's frame/argcount/heap-pointer slots are the exception,
// since those represent state the caller already established.
func (s *liftState) push(value il.NodeID) il.NodeID {
	offset := (s.ig.NumArgs()+3)-len(s.cur.stack)-1
	slot := s.ilfn.NewLocalVar(offset*4, value)
	s.cur.stack = append(s.cur.stack, slot)
	return slot
}

func (s *liftState) pop() il.NodeID {
	n := len(s.cur.stack)
	top := s.cur.stack[n-1]
	s.cur.stack = s.cur.stack[:n-1]
	return top
}

// popValue pops the top stack slot and returns the value it wrapped,
// disconnecting the slot from that value so the scratch LocalVar wrapper
// itself is not considered a use.
func (s *liftState) popValue() il.NodeID {
	top := s.pop()
	val := s.node(top).LocalValue()
	s.ilfn.ClearLocalValue(top)
	return val
}

func (s *liftState) getFrameVar(offset int) il.NodeID {
	return s.cur.stack[(s.ig.NumArgs()+3)-1-offset/4]
}

func (s *liftState) getFrameVal(offset int) il.NodeID {
	return s.node(s.getFrameVar(offset)).LocalValue()
}

func (s *liftState) setFrameVal(offset int, val il.NodeID) {
	s.ilfn.SetLocalValue(s.getFrameVar(offset), val)
}

func (s *liftState) makeTemp(value il.NodeID) il.NodeID {
	id := s.ilfn.NewTempVar(value)
	s.numTemps++
	return id
}

// getVar coerces node into something usable as an ILVar for an indirect
// load/store (LOAD_I, STOR_I, LIDX, ...): a bare constant is really a
// global address that just hasn't been proven to be one yet, and an ADD
// of a var and an index is really array indexing, so both get rewritten
// in place the first time they are used this way.
func (s *liftState) getVar(node il.NodeID) il.NodeID {
	if !node.Valid() {
		return il.InvalidNode
	}
	n := s.node(node)
	switch n.Kind() {
	case il.KindConst:
		global := s.ilfn.NewGlobalVar(n.ConstValue())
		s.ilfn.ReplaceUsesWith(node, global)
		return global
	case il.KindBinary:
		if n.BinaryOp() == il.OpAdd {
			elem := s.ilfn.NewArrayElementVar(n.BinaryLeft(), n.BinaryRight())
			s.ilfn.ReplaceUsesWith(node, elem)
			return elem
		}
	case il.KindLoad:
		return n.LoadVar()
	}
	return node
}

func isVarKind(k il.Kind) bool {
	switch k {
	case il.KindLocalVar, il.KindGlobalVar, il.KindHeapVar, il.KindArrayElementVar,
		il.KindFieldVar, il.KindTempVar:
		return true
	}
	return false
}
