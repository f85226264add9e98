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

package vm

import (
	"fmt"

	"github.com/SnellerInc/udfc/expr"
	"github.com/SnellerInc/udfc/ir"
)

// UnvectorizableConstructError is returned by
// Vectorize for a function whose control flow
// cannot be converted to predicated form.
type UnvectorizableConstructError struct {
	Func      string
	At        expr.Position
	Construct string
	// Recoverable is set when the function
	// can still be run one row at a time
	Recoverable bool
}

func (u *UnvectorizableConstructError) Error() string {
	return fmt.Sprintf("%s: %s: cannot vectorize %s", u.Func, u.At, u.Construct)
}

// VectorizeOptions are options for Vectorize.
type VectorizeOptions struct {
	// MaxBound, if positive, is the
	// largest accepted loop bound
	MaxBound int64
}

// scratch mask registers, following
// the per-block registers
const (
	maskTake = iota
	maskTrue
	maskFalse
	numScratch
)

type vectorizer struct {
	f     *ir.Func
	p     *Prog
	start []int
}

// Vectorize converts f to a vector program.
func Vectorize(f *ir.Func, opts VectorizeOptions) (*Prog, error) {
	if err := ir.Verify(f); err != nil {
		return nil, err
	}
	if err := check(f, &opts); err != nil {
		return nil, err
	}
	v := &vectorizer{
		f: f,
		p: &Prog{
			Func:  f,
			Order: schedule(f),
			Masks: len(f.Blocks) + numScratch,
		},
		start: make([]int, len(f.Blocks)),
	}
	if err := v.emit(); err != nil {
		return nil, err
	}
	return v.p, nil
}

// checkBounds rejects loops without an iteration
// bound or with a bound above opts.MaxBound
func checkBounds(f *ir.Func, opts *VectorizeOptions) error {
	for i := range f.Loops {
		l := &f.Loops[i]
		if l.Bound <= 0 {
			return &UnvectorizableConstructError{Func: f.Name, At: l.At, Construct: "a loop without an iteration bound"}
		}
		if opts.MaxBound > 0 && l.Bound > opts.MaxBound {
			return &UnvectorizableConstructError{
				Func:      f.Name,
				At:        l.At,
				Construct: fmt.Sprintf("a loop bound of %d (the limit is %d)", l.Bound, opts.MaxBound),
			}
		}
	}
	return nil
}

// check rejects unbounded loops and side effects
// that would not happen for every row in order
func check(f *ir.Func, opts *VectorizeOptions) error {
	if err := checkBounds(f, opts); err != nil {
		return err
	}
	if !f.HasSideEffects() {
		return nil
	}
	pdom := ir.PostDominators(f)
	for i := range f.Blocks {
		blk := &f.Blocks[i]
		divergent := f.LoopOf(blk.ID) >= 0 || !pdom.Dominates(blk.ID, 0)
		if !divergent {
			continue
		}
		for _, id := range blk.Values {
			if v := &f.Values[id]; v.Op == ir.OpNotice {
				return &UnvectorizableConstructError{
					Func:        f.Name,
					At:          v.At,
					Construct:   "notice in conditional or repeated code",
					Recoverable: true,
				}
			}
		}
	}
	return nil
}

// schedule lays out the blocks of f in reverse
// post-order, except that the blocks of each loop
// are contiguous and begin with the loop header
func schedule(f *ir.Func) []ir.BlockID {
	rpo := ir.ReversePostOrder(f)
	placed := make([]bool, len(f.Blocks))
	order := make([]ir.BlockID, 0, len(rpo))
	var place func(blocks []ir.BlockID, loop int)
	place = func(blocks []ir.BlockID, loop int) {
		for _, b := range blocks {
			if placed[b] {
				continue
			}
			if inner := childLoop(f, b, loop); inner >= 0 {
				l := &f.Loops[inner]
				var members []ir.BlockID
				for _, m := range rpo {
					if l.Contains(m) {
						members = append(members, m)
					}
				}
				place(members, inner)
				continue
			}
			placed[b] = true
			order = append(order, b)
		}
	}
	place(rpo, -1)
	return order
}

// childLoop returns the loop with header b
// directly nested in parent, or -1
func childLoop(f *ir.Func, b ir.BlockID, parent int) int {
	for i := range f.Loops {
		if f.Loops[i].Header == b && f.Loops[i].Parent == parent {
			return i
		}
	}
	return -1
}

func (v *vectorizer) inst(in Inst) int {
	if in.Op != IEdge && in.Op != ICount {
		in.Loop = -1
	}
	v.p.Insts = append(v.p.Insts, in)
	return len(v.p.Insts) - 1
}

func (v *vectorizer) scratch(n int) int { return len(v.f.Blocks) + n }

func (v *vectorizer) emit() error {
	f := v.f
	// loops that end at each position of
	// the layout, innermost first
	ends := make([][]int, len(v.p.Order))
	pos := make([]int, len(f.Blocks))
	for i, b := range v.p.Order {
		pos[b] = i
	}
	for i := range f.Loops {
		last := 0
		for _, b := range f.Loops[i].Blocks {
			last = max(last, pos[b])
		}
		ends[last] = append(ends[last], i)
	}
	for _, lst := range ends {
		// insertion sort by size keeps
		// equal-sized loops in order
		for j := 1; j < len(lst); j++ {
			for k := j; k > 0 && len(f.Loops[lst[k]].Blocks) < len(f.Loops[lst[k-1]].Blocks); k-- {
				lst[k], lst[k-1] = lst[k-1], lst[k]
			}
		}
	}

	for i, id := range v.p.Order {
		blk := &f.Blocks[id]
		mask := int(id)
		v.start[id] = len(v.p.Insts)
		skip := v.inst(Inst{Op: ISkip, Mask: mask})
		for l := range f.Loops {
			if f.Loops[l].Body == id {
				v.inst(Inst{Op: ICount, Mask: mask, Loop: l})
			}
		}
		for _, vid := range blk.Values {
			switch f.Values[vid].Op {
			case ir.OpPhi, ir.OpConst, ir.OpParam:
				// phis are written by edges;
				// constants and parameters
				// are loaded once per group
				continue
			}
			v.inst(Inst{Op: IValue, Mask: mask, Value: vid})
		}
		switch blk.Kind {
		case ir.TermBr:
			take := v.scratch(maskTake)
			v.inst(Inst{Op: ITake, Mask: mask, Dst: take})
			if err := v.edge(take, blk, blk.Succs[0]); err != nil {
				return err
			}
		case ir.TermCondBr:
			if blk.Succs[0] == blk.Succs[1] {
				return fmt.Errorf("vm.Vectorize: %s: b%d branches twice to b%d", f.Name, id, blk.Succs[0])
			}
			t, e := v.scratch(maskTrue), v.scratch(maskFalse)
			v.inst(Inst{Op: IBranch, Mask: mask, Value: blk.Cond, Dst: t, Dst2: e})
			if err := v.edge(t, blk, blk.Succs[0]); err != nil {
				return err
			}
			if err := v.edge(e, blk, blk.Succs[1]); err != nil {
				return err
			}
		case ir.TermRet:
			v.inst(Inst{Op: IRet, Mask: mask, Value: blk.Ret})
			v.inst(Inst{Op: IClear, Mask: mask})
		case ir.TermRaise:
			v.inst(Inst{Op: IRaise, Mask: mask, Value: blk.Ret})
			v.inst(Inst{Op: IClear, Mask: mask})
		default:
			return fmt.Errorf("vm.Vectorize: %s: b%d has terminator %s", f.Name, id, blk.Kind)
		}
		v.p.Insts[skip].Target = len(v.p.Insts)
		for _, l := range ends[i] {
			h := f.Loops[l].Header
			v.inst(Inst{Op: ILoop, Mask: int(h), Target: v.start[h]})
		}
	}
	return nil
}

// edge emits the transfer of the lanes
// in mask from blk to its successor to
func (v *vectorizer) edge(mask int, blk *ir.Block, to ir.BlockID) error {
	f := v.f
	succ := &f.Blocks[to]
	idx := succ.PredIndex(blk.ID)
	if idx < 0 {
		return fmt.Errorf("vm.Vectorize: %s: b%d is not a predecessor of b%d", f.Name, blk.ID, to)
	}
	in := Inst{Op: IEdge, Mask: mask, Dst: int(to), Loop: -1}
	for _, id := range succ.Values {
		phi := &f.Values[id]
		if phi.Op != ir.OpPhi {
			break
		}
		in.Moves = append(in.Moves, Move{Dst: id, Src: phi.Args[idx]})
	}
	for l := range f.Loops {
		if f.Loops[l].Header == to && !f.Loops[l].Contains(blk.ID) {
			// entering the loop from outside
			// starts a new count
			in.Loop = l
		}
	}
	v.inst(in)
	return nil
}
