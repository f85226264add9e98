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

import (
	"fmt"

	"github.com/SnellerInc/udfc/expr"
)

type verifier struct {
	f   *Func
	dom *DomTree
	// pos[v] is the index of v
	// within its block, or -1
	pos []int
}

func (v *verifier) errorf(blk BlockID, f string, args ...any) error {
	return fmt.Errorf("ir.Verify: %s: b%d: %s", v.f.Name, blk, fmt.Sprintf(f, args...))
}

// Verify checks the structural invariants of f:
// every block is reachable and terminated, edges
// are recorded symmetrically, phis have one argument
// per predecessor, and every definition dominates
// its uses.
func Verify(f *Func) error {
	if len(f.Blocks) == 0 {
		return fmt.Errorf("ir.Verify: %s: no blocks", f.Name)
	}
	v := &verifier{f: f, pos: make([]int, len(f.Values))}
	for i := range v.pos {
		v.pos[i] = -1
	}
	if len(f.Blocks[0].Preds) != 0 {
		return v.errorf(0, "entry block has predecessors")
	}
	for i := range f.Blocks {
		if err := v.edges(&f.Blocks[i]); err != nil {
			return err
		}
	}
	v.dom = Dominators(f)
	for i := range f.Blocks {
		if i != 0 && v.dom.Idom[i] == NoBlock {
			return v.errorf(BlockID(i), "unreachable")
		}
	}
	for i := range f.Blocks {
		blk := &f.Blocks[i]
		phis := true
		for j, id := range blk.Values {
			if id < 0 || int(id) >= len(f.Values) {
				return v.errorf(blk.ID, "value v%d out of range", id)
			}
			if v.pos[id] >= 0 {
				return v.errorf(blk.ID, "v%d appears twice", id)
			}
			v.pos[id] = j
			val := &f.Values[id]
			if val.ID != id || val.Block != blk.ID {
				return v.errorf(blk.ID, "v%d has id v%d in b%d", id, val.ID, val.Block)
			}
			if val.Op == OpPhi {
				if !phis {
					return v.errorf(blk.ID, "phi v%d follows a non-phi", id)
				}
				if len(val.Args) != len(blk.Preds) {
					return v.errorf(blk.ID, "phi v%d has %d args for %d preds", id, len(val.Args), len(blk.Preds))
				}
			} else {
				phis = false
			}
			if val.Op == OpInvalid || val.Op >= _maxOp {
				return v.errorf(blk.ID, "v%d has invalid op %d", id, val.Op)
			}
			if val.Op == OpCall && val.Fn == nil {
				return v.errorf(blk.ID, "call v%d has no callee", id)
			}
		}
	}
	for i := range f.Blocks {
		if err := v.uses(&f.Blocks[i]); err != nil {
			return err
		}
	}
	return v.loops()
}

func count(lst []BlockID, b BlockID) int {
	n := 0
	for _, x := range lst {
		if x == b {
			n++
		}
	}
	return n
}

func (v *verifier) edges(blk *Block) error {
	want := 0
	switch blk.Kind {
	case TermBr:
		want = 1
	case TermCondBr:
		want = 2
	case TermRet, TermRaise:
	default:
		return v.errorf(blk.ID, "bad terminator %s", blk.Kind)
	}
	if len(blk.Succs) != want {
		return v.errorf(blk.ID, "%s with %d successors", blk.Kind, len(blk.Succs))
	}
	nb := BlockID(len(v.f.Blocks))
	for _, s := range blk.Succs {
		if s < 0 || s >= nb {
			return v.errorf(blk.ID, "successor b%d out of range", s)
		}
		if count(v.f.Blocks[s].Preds, blk.ID) != count(blk.Succs, s) {
			return v.errorf(blk.ID, "edge to b%d not recorded in its preds", s)
		}
	}
	for _, p := range blk.Preds {
		if p < 0 || p >= nb {
			return v.errorf(blk.ID, "predecessor b%d out of range", p)
		}
		if count(v.f.Blocks[p].Succs, blk.ID) == 0 {
			return v.errorf(blk.ID, "pred b%d has no edge here", p)
		}
	}
	return nil
}

// available returns whether def is available
// at position idx of block b (or at its end,
// if idx is len(b.Values))
func (v *verifier) available(def ValueID, b BlockID, idx int) bool {
	if def < 0 || int(def) >= len(v.f.Values) || v.pos[def] < 0 {
		return false
	}
	db := v.f.Values[def].Block
	if db == b {
		return v.pos[def] < idx
	}
	return v.dom.Dominates(db, b)
}

func (v *verifier) uses(blk *Block) error {
	for j, id := range blk.Values {
		val := &v.f.Values[id]
		for k, a := range val.Args {
			if val.Op == OpPhi {
				p := blk.Preds[k]
				if !v.available(a, p, len(v.f.Blocks[p].Values)) {
					return v.errorf(blk.ID, "phi v%d arg v%d not available at the end of b%d", id, a, p)
				}
				continue
			}
			if !v.available(a, blk.ID, j) {
				return v.errorf(blk.ID, "v%d uses v%d before its definition", id, a)
			}
		}
	}
	end := len(blk.Values)
	switch blk.Kind {
	case TermCondBr:
		if !v.available(blk.Cond, blk.ID, end) {
			return v.errorf(blk.ID, "condition v%d not available", blk.Cond)
		}
		if t := v.f.Values[blk.Cond].Type; t != expr.TypeBool {
			return v.errorf(blk.ID, "condition v%d has type %s", blk.Cond, t)
		}
	case TermRet, TermRaise:
		if !v.available(blk.Ret, blk.ID, end) {
			return v.errorf(blk.ID, "%s operand v%d not available", blk.Kind, blk.Ret)
		}
	}
	return nil
}

func (v *verifier) loops() error {
	for i := range v.f.Loops {
		l := &v.f.Loops[i]
		if !l.Contains(l.Header) || !l.Contains(l.Body) {
			return fmt.Errorf("ir.Verify: %s: loop %d does not contain its header or body", v.f.Name, i)
		}
		if l.Parent >= i {
			return fmt.Errorf("ir.Verify: %s: loop %d has parent %d", v.f.Name, i, l.Parent)
		}
		for _, b := range l.Blocks {
			if !v.dom.Dominates(l.Header, b) {
				return fmt.Errorf("ir.Verify: %s: loop %d header b%d does not dominate b%d", v.f.Name, i, l.Header, b)
			}
		}
	}
	return nil
}
