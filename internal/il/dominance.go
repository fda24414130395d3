package il

// ComputeDominance computes and caches both the dominator and
// post-dominator trees for g. Re-run after any pass that edits edges or
// removes blocks (e.g. CompoundConditions), since stale trees would
// misreport immediate dominators.
func (g *Graph) ComputeDominance() {
	g.dom = g.ComputeDominators()
	g.postdom = g.ComputePostDominators()
}

// ImmediateDominator returns id's immediate dominator per the most
// recent ComputeDominance call. Panics if ComputeDominance was never
// called, same as dereferencing any other uninitialized table.
func (g *Graph) ImmediateDominator(id BlockID) BlockID { return g.dom.IDom(id) }

// ImmediateDominatorBlock is ImmediateDominator plus the Block lookup,
// mirroring the original lifter's ilbb.immed_dominator() convenience.
func (g *Graph) ImmediateDominatorBlock(id BlockID) *ILBlock {
	return g.Block(g.ImmediateDominator(id))
}

// PostDominates reports whether a post-dominates b.
func (g *Graph) PostDominates(a, b BlockID) bool { return g.postdom.Dominates(a, b) }

// ImmediatePostDominator returns id's immediate post-dominator. May return
// a BlockID past the end of g.AllBlocks() when id's only post-dominator is
// the synthetic exit node (no block within the function post-dominates
// it), which the structurizer's if-follow search treats as "no follow".
func (g *Graph) ImmediatePostDominator(id BlockID) BlockID { return g.postdom.IDom(id) }

// DomTree is an immediate-dominator table computed by iterating the
// Cooper-Harvey-Kennedy algorithm to a fixed point. It doubles as a
// post-dominator table when built over a Graph's edges reversed through a
// synthetic exit node (see ComputePostDominators).
type DomTree struct {
	idom  []BlockID
	order []BlockID // not populated; intersectByRPO uses a local rpo table
}

// IDom returns b's immediate dominator. The entry (or synthetic exit, for
// a post-dominator tree) is its own immediate dominator.
func (t *DomTree) IDom(b BlockID) BlockID { return t.idom[b] }

// Dominates reports whether a dominates b (reflexively: a dominates a).
func (t *DomTree) Dominates(a, b BlockID) bool {
	for b != t.idom[b] {
		if a == b {
			return true
		}
		b = t.idom[b]
	}
	return a == b
}

// ComputeDominators builds the dominator tree of g rooted at its entry
// block, using the Cooper-Harvey-Kennedy "a simple, fast dominance
// algorithm" iterative scheme. g.ComputeOrdering must have been called
// already so block ids are dense reverse-post-order numbers.
func (g *Graph) ComputeDominators() *DomTree {
	entry := g.EntryBlock()
	if entry == nil {
		return &DomTree{}
	}
	n := g.NumBlocks()
	idom := make([]BlockID, n)
	for i := range idom {
		idom[i] = -1
	}
	idom[entry.id] = entry.id

	changed := true
	for changed {
		changed = false
		for _, b := range g.blocks {
			if b.id == entry.id {
				continue
			}
			var newIdom BlockID = -1
			for _, p := range b.inEdges {
				if idom[p] == -1 {
					continue
				}
				if newIdom == -1 {
					newIdom = p
					continue
				}
				newIdom = intersect(idom, p, newIdom)
			}
			if newIdom != -1 && idom[b.id] != newIdom {
				idom[b.id] = newIdom
				changed = true
			}
		}
	}
	return &DomTree{idom: idom}
}

// intersect finds the nearest common dominator of a and b by walking both
// up the (partially built) dominator tree, using ascending BlockID as the
// RPO-number proxy: lower ids were computed earlier in reverse post-order.
func intersect(idom []BlockID, a, b BlockID) BlockID {
	for a != b {
		for a > b {
			a = idom[a]
		}
		for b > a {
			b = idom[b]
		}
	}
	return a
}

// postDomGraph is a lightweight reversed view of g plus a synthetic exit
// node (index g.NumBlocks()) predecessor of every block with no out-edges,
// used so post-dominance can reuse the same fixed-point algorithm as
// forward dominance.
type postDomGraph struct {
	preds [][]BlockID // in the reversed graph: preds(b) = g's successors of b
	succs [][]BlockID // succs(b) = g's predecessors of b
	exit  BlockID
	rpo   []BlockID // block (or exit) -> position in reverse-postorder of the reversed graph
}

// ComputePostDominators builds the post-dominator tree of g: the
// dominator tree of the graph with every edge reversed and a synthetic
// exit node added as predecessor-in-the-reversed-graph of every block
// that has no successors in g (RETN/HALT blocks).
func (g *Graph) ComputePostDominators() *DomTree {
	n := g.NumBlocks()
	if n == 0 {
		return &DomTree{}
	}
	exit := BlockID(n)

	preds := make([][]BlockID, n+1)
	succs := make([][]BlockID, n+1)
	for _, b := range g.blocks {
		for _, s := range b.outEdges {
			// reversed edge: s -> b.id
			preds[b.id] = append(preds[b.id], s)
			succs[s] = append(succs[s], b.id)
		}
		if len(b.outEdges) == 0 {
			preds[b.id] = append(preds[b.id], exit)
			succs[exit] = append(succs[exit], b.id)
		}
	}

	// Reverse-postorder of the reversed graph, starting at the synthetic
	// exit, assigns each node its rpo number for the intersect step.
	visited := make([]bool, n+1)
	var postorder []BlockID
	var visit func(b BlockID)
	visit = func(b BlockID) {
		visited[b] = true
		for _, s := range succs[b] {
			if !visited[s] {
				visit(s)
			}
		}
		postorder = append(postorder, b)
	}
	visit(exit)

	rpo := make([]BlockID, n+1)
	for i := range rpo {
		rpo[i] = -1
	}
	total := len(postorder)
	for i, b := range postorder {
		rpo[b] = BlockID(total - 1 - i)
	}

	idom := make([]BlockID, n+1)
	for i := range idom {
		idom[i] = -1
	}
	idom[exit] = exit

	changed := true
	for changed {
		changed = false
		// Process in postorder (only nodes reachable from exit appear in
		// it), skipping exit itself and ignoring unreachable (rpo == -1)
		// predecessors.
		for _, b := range postorder {
			if b == exit {
				continue
			}
			var newIdom BlockID = -1
			for _, p := range preds[b] {
				if rpo[p] == -1 || idom[p] == -1 {
					continue
				}
				if newIdom == -1 {
					newIdom = p
					continue
				}
				newIdom = intersectByRPO(idom, rpo, p, newIdom)
			}
			if newIdom != -1 && idom[b] != newIdom {
				idom[b] = newIdom
				changed = true
			}
		}
	}
	return &DomTree{idom: idom}
}

func intersectByRPO(idom, rpo []BlockID, a, b BlockID) BlockID {
	for a != b {
		for rpo[a] > rpo[b] {
			a = idom[a]
		}
		for rpo[b] > rpo[a] {
			b = idom[b]
		}
	}
	return a
}
