package cfg

import (
	"sort"

	"github.com/SlidyBat/SmxDecompiler/pkg/cell"
)

// ControlFlowGraph owns every BasicBlock of one function and the RPO
// ordering derived from its entry block.
type ControlFlowGraph struct {
	nargs int

	// blocks holds every block ever created, in creation order, so that
	// *BasicBlock pointers handed out by NewBlock/FindBlockAt remain
	// stable for the lifetime of the graph.
	blocks []*BasicBlock

	// ordered holds the RPO-numbered, reachability-pruned view used by
	// every pass downstream of ComputeOrdering.
	ordered []*BasicBlock

	epoch int
}

// New creates an empty control-flow graph.
func New() *ControlFlowGraph {
	return &ControlFlowGraph{}
}

// NewBlock creates and registers a new block starting at addr.
func (g *ControlFlowGraph) NewBlock(start cell.Cell) *BasicBlock {
	bb := &BasicBlock{graph: g, start: start}
	g.blocks = append(g.blocks, bb)
	return bb
}

// FindBlockAt returns the block whose start address equals addr, or nil.
func (g *ControlFlowGraph) FindBlockAt(addr cell.Cell) *BasicBlock {
	for _, bb := range g.blocks {
		if bb.start == addr {
			return bb
		}
	}
	return nil
}

// EntryBlock returns the function's first block (always block index 0 in
// creation order).
func (g *ControlFlowGraph) EntryBlock() *BasicBlock {
	if len(g.blocks) == 0 {
		return nil
	}
	return g.blocks[0]
}

// SetNumArgs records the function's argument count, derived by the
// builder from the largest positive stack offset referenced in the body.
func (g *ControlFlowGraph) SetNumArgs(n int) { g.nargs = n }

// NumArgs returns the function's argument count.
func (g *ControlFlowGraph) NumArgs() int { return g.nargs }

func (g *ControlFlowGraph) newEpoch() { g.epoch++ }

// NumBlocks returns the number of reachable blocks after ComputeOrdering.
func (g *ControlFlowGraph) NumBlocks() int { return len(g.ordered) }

// Block returns the i'th block in RPO order.
func (g *ControlFlowGraph) Block(i int) *BasicBlock { return g.ordered[i] }

// Blocks returns every block in RPO order.
func (g *ControlFlowGraph) Blocks() []*BasicBlock { return g.ordered }

// Remove drops the block at the given RPO index from the ordered view
// (used by later passes that fold blocks together; the block's own
// allocation is left alone since other code may still hold its pointer
// transiently).
func (g *ControlFlowGraph) Remove(index int) {
	g.ordered = append(g.ordered[:index], g.ordered[index+1:]...)
}

// ComputeOrdering prunes unreachable blocks (those with no in-edges other
// than the entry block — produced by CASETBL pseudo-data that is never
// meant to be executed as code) and assigns each surviving block its
// reverse-post-order id.
func (g *ControlFlowGraph) ComputeOrdering() {
	entry := g.EntryBlock()
	g.ordered = g.ordered[:0]
	for _, bb := range g.blocks {
		if bb != entry && len(bb.inEdges) == 0 {
			continue
		}
		g.ordered = append(g.ordered, bb)
	}

	g.newEpoch()
	g.visitPostOrderAndSetID(entry, 1)

	sort.Slice(g.ordered, func(i, j int) bool {
		return g.ordered[i].id < g.ordered[j].id
	})
}

func (g *ControlFlowGraph) visitPostOrderAndSetID(bb *BasicBlock, poNumber int) int {
	bb.setVisited()
	for _, successor := range bb.outEdges {
		if successor.isVisited() {
			continue
		}
		poNumber = g.visitPostOrderAndSetID(successor, poNumber)
	}
	bb.id = len(g.ordered) - poNumber
	return poNumber + 1
}
