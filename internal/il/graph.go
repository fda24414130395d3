package il

import (
	"sort"

	"github.com/SlidyBat/SmxDecompiler/pkg/cell"
)

// Graph owns every ILBlock of one lifted function.
type Graph struct {
	nargs  int
	blocks []*ILBlock
	epoch  int

	dom     *DomTree
	postdom *DomTree
}

// NewGraph creates an empty IL control-flow graph.
func NewGraph() *Graph {
	return &Graph{}
}

// AddBlock creates and registers a new block lifted from pcode address pc.
func (g *Graph) AddBlock(pc cell.Cell) *ILBlock {
	bb := &ILBlock{graph: g, pc: pc, id: BlockID(len(g.blocks))}
	g.blocks = append(g.blocks, bb)
	return bb
}

// FindBlockAt returns the block lifted from pcode address pc, or nil.
func (g *Graph) FindBlockAt(pc cell.Cell) *ILBlock {
	for _, bb := range g.blocks {
		if bb.pc == pc {
			return bb
		}
	}
	return nil
}

// Block returns the block with the given id.
func (g *Graph) Block(id BlockID) *ILBlock { return g.blocks[id] }

// NumBlocks returns the number of live (non-tombstoned) blocks.
func (g *Graph) NumBlocks() int {
	n := 0
	for _, b := range g.blocks {
		if !b.removed {
			n++
		}
	}
	return n
}

// Blocks returns every live block, in id order.
func (g *Graph) Blocks() []*ILBlock {
	out := make([]*ILBlock, 0, len(g.blocks))
	for _, b := range g.blocks {
		if !b.removed {
			out = append(out, b)
		}
	}
	return out
}

// AllBlocks returns every block slot including tombstoned ones, indexed
// by BlockID.
func (g *Graph) AllBlocks() []*ILBlock { return g.blocks }

// EntryBlock returns block 0, the function's entry.
func (g *Graph) EntryBlock() *ILBlock {
	if len(g.blocks) == 0 {
		return nil
	}
	return g.blocks[0]
}

// SetNumArgs records the function's argument count (propagated from the
// pcode CFG builder).
func (g *Graph) SetNumArgs(n int) { g.nargs = n }

// NumArgs returns the function's argument count.
func (g *Graph) NumArgs() int { return g.nargs }

func (g *Graph) newEpoch() { g.epoch++ }

// epoch exposes the current visitation epoch to ILBlock.isVisited.
func (g *Graph) Epoch() int { return g.epoch }

// AddEdge adds a directed edge from -> to.
func (g *Graph) AddEdge(from, to BlockID) {
	g.blocks[to].inEdges = append(g.blocks[to].inEdges, from)
	g.blocks[from].outEdges = append(g.blocks[from].outEdges, to)
}

// RemoveEdge removes a single directed edge from -> to, if present.
func (g *Graph) RemoveEdge(from, to BlockID) {
	g.blocks[to].inEdges = removeBlockID(g.blocks[to].inEdges, from)
	g.blocks[from].outEdges = removeBlockID(g.blocks[from].outEdges, to)
}

// ReplaceEdge retargets a single from->oldTo edge to from->newTo, used
// when the code fixer folds or removes a block.
func (g *Graph) ReplaceEdge(from, oldTo, newTo BlockID) {
	g.RemoveEdge(from, oldTo)
	g.AddEdge(from, newTo)
}

// ReplaceEdgeSource retargets a single oldFrom->to edge to newFrom->to,
// the mirror of ReplaceEdge used when a block being folded away was the
// source rather than the target of the edge being fixed up.
func (g *Graph) ReplaceEdgeSource(oldFrom, newFrom, to BlockID) {
	g.RemoveEdge(oldFrom, to)
	g.AddEdge(newFrom, to)
}

// RemoveBlock tombstones a block once CompoundConditions folds it into
// its predecessor. The slot is kept (so existing BlockIDs stay valid)
// but excluded from Blocks/NumBlocks/ComputeOrdering.
func (g *Graph) RemoveBlock(id BlockID) {
	g.blocks[id].removed = true
}

func removeBlockID(s []BlockID, v BlockID) []BlockID {
	for i, x := range s {
		if x == v {
			return append(s[:i], s[i+1:]...)
		}
	}
	return s
}

// ComputeOrdering renumbers blocks in reverse post-order, pruning blocks
// unreachable from the entry. Unlike internal/cfg's variant, this
// renumbers the underlying block slice itself (the IL graph's BlockID is
// the only handle other passes keep, so ids must stay dense 0..n-1).
func (g *Graph) ComputeOrdering() {
	entry := g.EntryBlock()
	if entry == nil {
		return
	}
	g.newEpoch()

	var postorder []*ILBlock
	var visit func(b *ILBlock)
	visit = func(b *ILBlock) {
		b.setVisited()
		for _, succID := range b.outEdges {
			succ := g.blocks[succID]
			if succ.isVisited() {
				continue
			}
			visit(succ)
		}
		postorder = append(postorder, b)
	}
	visit(entry)

	// Reverse postorder = reverse of the postorder list.
	n := len(postorder)
	reachable := make(map[*ILBlock]bool, n)
	for _, b := range postorder {
		reachable[b] = true
	}

	old2new := make(map[BlockID]BlockID, n)
	newBlocks := make([]*ILBlock, n)
	for i, b := range postorder {
		newID := BlockID(n - 1 - i)
		old2new[b.id] = newID
		newBlocks[newID] = b
	}

	for _, b := range newBlocks {
		var in, out []BlockID
		for _, p := range b.inEdges {
			if nb, ok := old2new[p]; ok {
				in = append(in, nb)
			}
		}
		for _, s := range b.outEdges {
			if nb, ok := old2new[s]; ok {
				out = append(out, nb)
			}
		}
		sort.Slice(in, func(i, j int) bool { return in[i] < in[j] })
		sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
		b.inEdges, b.outEdges = in, out
	}

	for i, b := range newBlocks {
		b.id = BlockID(i)
	}
	g.blocks = newBlocks
}
