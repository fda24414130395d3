package il

import "github.com/SlidyBat/SmxDecompiler/pkg/cell"

// BlockID is an ILBlock's index within its Graph's block slice, assigned
// in reverse post-order once ComputeOrdering runs (mirroring pcode
// BasicBlock numbering in internal/cfg).
type BlockID int

// ILBlock is one lifted basic block: a pc (the pcode address it was
// lifted from, kept for diagnostics) plus its ordered IL nodes and CFG
// edges to sibling blocks by BlockID.
type ILBlock struct {
	graph *Graph
	id    BlockID
	epoch int
	pc    cell.Cell

	nodes []NodeID

	inEdges  []BlockID
	outEdges []BlockID

	removed bool
}

// ID returns the block's RPO number.
func (b *ILBlock) ID() BlockID { return b.id }

// PC returns the pcode address this block was lifted from.
func (b *ILBlock) PC() cell.Cell { return b.pc }

// Add appends node to the end of the block.
func (b *ILBlock) Add(node NodeID) { b.nodes = append(b.nodes, node) }

// Prepend inserts node just before the block's terminator (the last
// node), used to place a Phi or fixed-up store ahead of the jump/return
// that ends the block.
func (b *ILBlock) Prepend(node NodeID) {
	if len(b.nodes) == 0 {
		b.nodes = append(b.nodes, node)
		return
	}
	last := len(b.nodes) - 1
	b.nodes = append(b.nodes, InvalidNode)
	copy(b.nodes[last+1:], b.nodes[last:last+1])
	b.nodes[last] = node
}

// InsertAfter inserts node immediately after the statement at position i,
// used by the code fixer to splice a synthesized store right after the
// declaration it was split from rather than at the block's end.
func (b *ILBlock) InsertAfter(i int, node NodeID) {
	b.nodes = append(b.nodes, InvalidNode)
	copy(b.nodes[i+2:], b.nodes[i+1:len(b.nodes)-1])
	b.nodes[i+1] = node
}

// Nodes returns every node in the block, in order.
func (b *ILBlock) Nodes() []NodeID { return b.nodes }

// NumNodes returns len(Nodes()).
func (b *ILBlock) NumNodes() int { return len(b.nodes) }

// RemoveNode removes the node at position i.
func (b *ILBlock) RemoveNode(i int) {
	b.nodes = append(b.nodes[:i], b.nodes[i+1:]...)
}

// Replace swaps the node at position i for a different node id, keeping
// its position (e.g. folding a JumpCond's condition into a compound one
// without disturbing the block's terminator slot).
func (b *ILBlock) Replace(i int, node NodeID) { b.nodes[i] = node }

// Last returns the block's terminator node, or InvalidNode if empty.
func (b *ILBlock) Last() NodeID {
	if len(b.nodes) == 0 {
		return InvalidNode
	}
	return b.nodes[len(b.nodes)-1]
}

// Removed reports whether RemoveBlock has tombstoned this block.
func (b *ILBlock) Removed() bool { return b.removed }

// InEdges returns the blocks with an edge into b.
func (b *ILBlock) InEdges() []BlockID { return b.inEdges }

// OutEdges returns the blocks b has an edge to.
func (b *ILBlock) OutEdges() []BlockID { return b.outEdges }

// IsBackEdge reports whether the i'th outgoing edge targets a block
// numbered before b in RPO order.
func (b *ILBlock) IsBackEdge(i int) bool {
	return b.outEdges[i] < b.id
}

func (b *ILBlock) isVisited() bool { return b.epoch == b.graph.epoch }
func (b *ILBlock) setVisited()     { b.epoch = b.graph.epoch }
