// Copyright 2023 Sneller, Inc.
//
//  Licensed under the Apache License, Version 2.0 (the "License");
//  you may not use this file except in compliance with the License.
//  You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
//  Unless required by applicable law or agreed to in writing, software
//  distributed under the License is distributed on an "AS IS" BASIS,
//  WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
//  See the License for the specific language governing permissions and
//  limitations under the License.

package ir

// PostOrder returns the blocks of f
// in depth-first post-order from the entry.
func PostOrder(f *Func) []BlockID {
	seen := make([]bool, len(f.Blocks))
	order := make([]BlockID, 0, len(f.Blocks))
	var visit func(b BlockID)
	visit = func(b BlockID) {
		seen[b] = true
		for _, s := range f.Blocks[b].Succs {
			if !seen[s] {
				visit(s)
			}
		}
		order = append(order, b)
	}
	visit(0)
	return order
}

// ReversePostOrder returns the blocks of f
// in reverse post-order: every block precedes
// its successors except along back edges.
func ReversePostOrder(f *Func) []BlockID {
	order := PostOrder(f)
	for i, j := 0, len(order)-1; i < j; i, j = i+1, j-1 {
		order[i], order[j] = order[j], order[i]
	}
	return order
}

// DomTree holds the immediate dominator of each block.
type DomTree struct {
	// Idom[b] is the immediate dominator of b;
	// the root is its own immediate dominator
	// and unreachable blocks have NoBlock
	Idom []BlockID
	// Root is the root of the tree; for
	// post-dominators it is the virtual exit,
	// which has id len(f.Blocks)
	Root BlockID
	// depth is the distance from the root
	depth []int
}

// Dominates returns whether a dominates b.
func (d *DomTree) Dominates(a, b BlockID) bool {
	if d.Idom[b] == NoBlock || d.Idom[a] == NoBlock {
		return false
	}
	for d.depth[b] > d.depth[a] {
		b = d.Idom[b]
	}
	return a == b
}

// computeDom implements the iterative algorithm of
// Cooper, Harvey and Kennedy, "A Simple, Fast
// Dominance Algorithm" over a graph of n nodes
// given in reverse post-order from root
func computeDom(n int, root BlockID, rpo []BlockID, preds func(BlockID) []BlockID) *DomTree {
	order := make([]int, n)
	for i := range order {
		order[i] = -1
	}
	for i, b := range rpo {
		order[b] = i
	}
	idom := make([]BlockID, n)
	for i := range idom {
		idom[i] = NoBlock
	}
	idom[root] = root
	intersect := func(a, b BlockID) BlockID {
		for a != b {
			for order[a] > order[b] {
				a = idom[a]
			}
			for order[b] > order[a] {
				b = idom[b]
			}
		}
		return a
	}
	for changed := true; changed; {
		changed = false
		for _, b := range rpo {
			if b == root {
				continue
			}
			next := NoBlock
			for _, p := range preds(b) {
				if order[p] < 0 || idom[p] == NoBlock {
					continue
				}
				if next == NoBlock {
					next = p
				} else {
					next = intersect(p, next)
				}
			}
			if next != NoBlock && idom[b] != next {
				idom[b] = next
				changed = true
			}
		}
	}
	d := &DomTree{Idom: idom, Root: root, depth: make([]int, n)}
	for _, b := range rpo {
		if b != root && idom[b] != NoBlock {
			d.depth[b] = d.depth[idom[b]] + 1
		}
	}
	return d
}

// Dominators computes the dominator tree of f.
func Dominators(f *Func) *DomTree {
	return computeDom(len(f.Blocks), 0, ReversePostOrder(f), func(b BlockID) []BlockID {
		return f.Blocks[b].Preds
	})
}

// PostDominators computes the post-dominator tree
// of f. Blocks that return or raise are the
// predecessors of a virtual exit node with id
// len(f.Blocks), which is the root of the tree.
func PostDominators(f *Func) *DomTree {
	n := len(f.Blocks)
	exit := BlockID(n)
	var exits []BlockID
	for i := range f.Blocks {
		if k := f.Blocks[i].Kind; k == TermRet || k == TermRaise {
			exits = append(exits, BlockID(i))
		}
	}
	// reverse post-order of the reversed graph
	seen := make([]bool, n+1)
	var post []BlockID
	var visit func(b BlockID)
	visit = func(b BlockID) {
		seen[b] = true
		var preds []BlockID
		if b == exit {
			preds = exits
		} else {
			preds = f.Blocks[b].Preds
		}
		for _, p := range preds {
			if !seen[p] {
				visit(p)
			}
		}
		post = append(post, b)
	}
	visit(exit)
	rpo := make([]BlockID, len(post))
	for i := range post {
		rpo[i] = post[len(post)-1-i]
	}
	// in the reversed graph, the predecessors
	// of a block are its successors
	succs := func(b BlockID) []BlockID {
		if b == exit {
			return nil
		}
		k := f.Blocks[b].Kind
		if k == TermRet || k == TermRaise {
			return []BlockID{exit}
		}
		return f.Blocks[b].Succs
	}
	return computeDom(n+1, exit, rpo, succs)
}
