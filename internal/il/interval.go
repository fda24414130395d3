package il

// DerivedGraph is the simplified adjacency view interval analysis runs
// over: it tracks only node identity and edges, not IL payload, so that
// collapsing a graph's intervals into the next derived graph G(n+1) is
// just node/edge bookkeeping. G(0) is one DerivedGraph node per ILBlock.
type DerivedGraph struct {
	Nodes []BlockID
	Succ  map[BlockID][]BlockID
	Pred  map[BlockID][]BlockID
	Entry BlockID
}

// BaseDerivedGraph builds G(0): one derived node per block, with the same
// edges as the IL CFG.
func (g *Graph) BaseDerivedGraph() *DerivedGraph {
	d := &DerivedGraph{
		Succ: map[BlockID][]BlockID{},
		Pred: map[BlockID][]BlockID{},
	}
	entry := g.EntryBlock()
	if entry == nil {
		return d
	}
	d.Entry = entry.id
	for _, b := range g.blocks {
		d.Nodes = append(d.Nodes, b.id)
		d.Succ[b.id] = append([]BlockID(nil), b.outEdges...)
		d.Pred[b.id] = append([]BlockID(nil), b.inEdges...)
	}
	return d
}

// Intervals partitions d's nodes into maximal intervals in the
// Allen-Cocke sense: I(h) is the largest set of nodes reachable from
// header h such that every node in I(h) other than h has all of its
// predecessors already in I(h). headerOf maps every reachable node to its
// interval's header; order lists headers in discovery order (h0 = entry).
func (d *DerivedGraph) Intervals() (headerOf map[BlockID]BlockID, order []BlockID) {
	headerOf = map[BlockID]BlockID{}
	queued := map[BlockID]bool{d.Entry: true}
	queue := []BlockID{d.Entry}

	for len(queue) > 0 {
		h := queue[0]
		queue = queue[1:]

		interval := map[BlockID]bool{h: true}
		headerOf[h] = h
		order = append(order, h)

		for changed := true; changed; {
			changed = false
			for _, n := range d.Nodes {
				if interval[n] {
					continue
				}
				preds := d.Pred[n]
				if len(preds) == 0 {
					continue
				}
				allIn := true
				for _, p := range preds {
					if !interval[p] {
						allIn = false
						break
					}
				}
				if allIn {
					interval[n] = true
					headerOf[n] = h
					changed = true
				}
			}
		}

		for n := range interval {
			for _, s := range d.Succ[n] {
				if !interval[s] && !queued[s] {
					queued[s] = true
					queue = append(queue, s)
				}
			}
		}
	}
	return headerOf, order
}

// NextDerived collapses d by its interval partition into G(n+1): one node
// per interval header, with an edge h1->h2 whenever some node of h1's
// interval has an edge to some node of h2's interval, h1 != h2. Repeated
// application (BaseDerivedGraph then NextDerived until the node count
// stops shrinking) is how the structurizer recognizes a reducible CFG and
// locates loop bodies: a graph is reducible iff this sequence collapses to
// a single node.
func (d *DerivedGraph) NextDerived() *DerivedGraph {
	headerOf, order := d.Intervals()

	next := &DerivedGraph{
		Succ: map[BlockID][]BlockID{},
		Pred: map[BlockID][]BlockID{},
	}
	next.Entry = headerOf[d.Entry]
	next.Nodes = order

	seen := map[[2]BlockID]bool{}
	for _, n := range d.Nodes {
		h1, ok := headerOf[n]
		if !ok {
			continue
		}
		for _, s := range d.Succ[n] {
			h2, ok := headerOf[s]
			if !ok || h1 == h2 {
				continue
			}
			key := [2]BlockID{h1, h2}
			if seen[key] {
				continue
			}
			seen[key] = true
			next.Succ[h1] = append(next.Succ[h1], h2)
			next.Pred[h2] = append(next.Pred[h2], h1)
		}
	}
	return next
}

// DerivedSequence returns G(0), G(1), ... G(n) where G(n) is the first
// derived graph with the same node count as its predecessor (the
// collapse has stabilized). A reducible CFG stabilizes at a single node;
// an irreducible one stabilizes at more than one, which the structurizer
// treats as a node needing node-splitting before it can be structured.
func (g *Graph) DerivedSequence() []*DerivedGraph {
	seq := []*DerivedGraph{g.BaseDerivedGraph()}
	for {
		cur := seq[len(seq)-1]
		next := cur.NextDerived()
		seq = append(seq, next)
		if len(next.Nodes) == len(cur.Nodes) {
			break
		}
	}
	return seq
}

// Reducible reports whether g's interval derivation collapses to a
// single node, the standard test for structured (goto-free-equivalent)
// control flow.
func (g *Graph) Reducible() bool {
	seq := g.DerivedSequence()
	return len(seq[len(seq)-1].Nodes) == 1
}
