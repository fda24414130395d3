// Package cfg builds and represents the control-flow graph of a single
// function's pcode: basic blocks linked by fallthrough, jump, and switch
// edges, ordered in reverse post-order (RPO) for the later IL and
// structuring passes.
package cfg

import "github.com/SlidyBat/SmxDecompiler/pkg/cell"

// BasicBlock is a maximal straight-line run of pcode: one entry, one exit,
// with explicit in/out edges to its CFG neighbors.
type BasicBlock struct {
	graph *ControlFlowGraph
	id    int
	epoch int

	start cell.Cell
	end   cell.Cell
	hasEnd bool

	inEdges  []*BasicBlock
	outEdges []*BasicBlock
}

// ID returns the block's number in reverse post-order, valid after
// ComputeOrdering has run.
func (b *BasicBlock) ID() int { return b.id }

// Start is the address of the block's first instruction.
func (b *BasicBlock) Start() cell.Cell { return b.start }

// End is the address one past the block's last instruction. It is unset
// (hasEnd false) until the builder has scanned the block's extent.
func (b *BasicBlock) End() cell.Cell { return b.end }

func (b *BasicBlock) setEnd(addr cell.Cell) {
	b.end = addr
	b.hasEnd = true
}

// Contains reports whether addr falls within this block. Before the end
// address is known, only an exact match against Start is considered
// "contained" (mirrors the original builder's two-pass construction,
// where blocks are looked up by start address before extents are known).
func (b *BasicBlock) Contains(addr cell.Cell) bool {
	if !b.hasEnd {
		return addr == b.start
	}
	return addr >= b.start && addr < b.end
}

// AddTarget records a directed edge from b to target.
func (b *BasicBlock) AddTarget(target *BasicBlock) {
	target.inEdges = append(target.inEdges, b)
	b.outEdges = append(b.outEdges, target)
}

// InEdges returns the blocks with an edge into b.
func (b *BasicBlock) InEdges() []*BasicBlock { return b.inEdges }

// OutEdges returns the blocks b has an edge to.
func (b *BasicBlock) OutEdges() []*BasicBlock { return b.outEdges }

// IsBackEdge reports whether the i'th outgoing edge targets a block that
// was assigned an earlier RPO number — i.e. a loop back edge.
func (b *BasicBlock) IsBackEdge(i int) bool {
	return b.outEdges[i].id < b.id
}

func (b *BasicBlock) isVisited() bool { return b.epoch == b.graph.epoch }
func (b *BasicBlock) setVisited()     { b.epoch = b.graph.epoch }
