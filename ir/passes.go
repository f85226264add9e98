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
	"golang.org/x/exp/slices"

	"github.com/SnellerInc/udfc/expr"
)

// optimize runs the cleanup passes
// to a fixed point and then compacts f
func optimize(f *Func) {
	dead := make([]bool, len(f.Blocks))
	for {
		changed := removeTrivialPhis(f)
		changed = fold(f) || changed
		changed = removeUnreachable(f, dead) || changed
		changed = mergeBlocks(f, dead) || changed
		if !changed {
			break
		}
	}
	numberValues(f, dead)
	removeDeadValues(f, dead)
	compact(f, dead)
}

// forward resolves chains of replaced values
type forward map[ValueID]ValueID

func (fw forward) get(id ValueID) ValueID {
	for {
		next, ok := fw[id]
		if !ok {
			return id
		}
		id = next
	}
}

// apply rewrites every use of a replaced value
func (fw forward) apply(f *Func) {
	if len(fw) == 0 {
		return
	}
	for i := range f.Values {
		args := f.Values[i].Args
		for j := range args {
			args[j] = fw.get(args[j])
		}
	}
	for i := range f.Blocks {
		blk := &f.Blocks[i]
		if blk.Cond != NoValue {
			blk.Cond = fw.get(blk.Cond)
		}
		if blk.Ret != NoValue {
			blk.Ret = fw.get(blk.Ret)
		}
	}
}

func removeValues(blk *Block, remove func(ValueID) bool) {
	blk.Values = slices.DeleteFunc(blk.Values, remove)
}

// removeTrivialPhis removes phis whose
// arguments are all the same value or
// the phi itself
func removeTrivialPhis(f *Func) bool {
	removed := false
	for {
		fw := make(forward)
		for i := range f.Blocks {
			blk := &f.Blocks[i]
			for _, id := range blk.Values {
				v := &f.Values[id]
				if v.Op != OpPhi {
					break
				}
				same := NoValue
				trivial := true
				for _, arg := range v.Args {
					arg = fw.get(arg)
					if arg == id || arg == same {
						continue
					}
					if same != NoValue {
						trivial = false
						break
					}
					same = arg
				}
				if trivial && same != NoValue {
					fw[id] = same
				}
			}
		}
		if len(fw) == 0 {
			return removed
		}
		removed = true
		fw.apply(f)
		for i := range f.Blocks {
			removeValues(&f.Blocks[i], func(id ValueID) bool {
				_, ok := fw[id]
				return ok
			})
		}
	}
}

// removeEdge removes the edge from -> to,
// dropping the corresponding phi arguments
func removeEdge(f *Func, from, to BlockID) {
	blk := &f.Blocks[to]
	idx := blk.PredIndex(from)
	if idx < 0 {
		return
	}
	blk.Preds = slices.Delete(blk.Preds, idx, idx+1)
	for _, id := range blk.Values {
		v := &f.Values[id]
		if v.Op != OpPhi {
			break
		}
		v.Args = slices.Delete(v.Args, idx, idx+1)
	}
}

// fold replaces pure values whose arguments
// are all constants with constants and
// conditional branches on constants with jumps
func fold(f *Func) bool {
	changed := false
	args := make([]expr.Datum, 0, 8)
	for i := range f.Blocks {
		blk := &f.Blocks[i]
		for _, id := range blk.Values {
			v := &f.Values[id]
			if !v.Pure() || v.Op == OpConst {
				continue
			}
			args = args[:0]
			for _, a := range v.Args {
				av := &f.Values[a]
				if av.Op != OpConst {
					break
				}
				args = append(args, av.Const)
			}
			if len(args) != len(v.Args) {
				continue
			}
			if v.Op == OpCall && v.Fn.Op == expr.OpHost {
				// host functions may not be deterministic
				continue
			}
			d, err := EvalOp(f, v, args)
			if err != nil {
				// leave the failure to run time
				continue
			}
			v.Op = OpConst
			v.Const = d.Widen(v.Type)
			v.Args = nil
			v.Fn = nil
			v.Aux = 0
			changed = true
		}
		if blk.Kind == TermCondBr {
			c := &f.Values[blk.Cond]
			if c.Op != OpConst {
				continue
			}
			// null takes the else branch
			keep, drop := blk.Succs[1], blk.Succs[0]
			if !c.Const.IsNull() && c.Const.B {
				keep, drop = drop, keep
			}
			removeEdge(f, blk.ID, drop)
			blk.Kind = TermBr
			blk.Succs = []BlockID{keep}
			blk.Cond = NoValue
			changed = true
		}
	}
	return changed
}

// reachable returns the blocks reachable from the entry
func reachable(f *Func, dead []bool) []bool {
	seen := make([]bool, len(f.Blocks))
	stack := []BlockID{0}
	seen[0] = true
	for len(stack) > 0 {
		b := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, s := range f.Blocks[b].Succs {
			if !seen[s] && !dead[s] {
				seen[s] = true
				stack = append(stack, s)
			}
		}
	}
	return seen
}

// removeUnreachable detaches blocks that
// cannot be reached from the entry block
func removeUnreachable(f *Func, dead []bool) bool {
	seen := reachable(f, dead)
	changed := false
	for i := range f.Blocks {
		if seen[i] || dead[i] {
			continue
		}
		blk := &f.Blocks[i]
		for _, s := range blk.Succs {
			removeEdge(f, blk.ID, s)
		}
		blk.Values = nil
		blk.Preds = nil
		blk.Succs = nil
		blk.Kind = TermNone
		blk.Cond, blk.Ret = NoValue, NoValue
		dead[i] = true
		changed = true
	}
	return changed
}

// mergeBlocks appends each block that has a
// single predecessor ending in a jump to that
// predecessor, provided both blocks belong to
// the same loops
func mergeBlocks(f *Func, dead []bool) bool {
	changed := false
	for i := range f.Blocks {
		a := &f.Blocks[i]
		for !dead[i] && a.Kind == TermBr {
			s := a.Succs[0]
			b := &f.Blocks[s]
			if s == 0 || s == a.ID || dead[s] || len(b.Preds) != 1 || !sameLoops(f, a.ID, s) {
				break
			}
			fw := make(forward)
			for _, id := range b.Values {
				if v := &f.Values[id]; v.Op == OpPhi {
					fw[id] = v.Args[0]
				}
			}
			fw.apply(f)
			removeValues(b, func(id ValueID) bool {
				_, ok := fw[id]
				return ok
			})
			for _, id := range b.Values {
				f.Values[id].Block = a.ID
			}
			a.Values = append(a.Values, b.Values...)
			a.Kind, a.Cond, a.Ret, a.Succs, a.At = b.Kind, b.Cond, b.Ret, b.Succs, b.At
			for _, succ := range b.Succs {
				preds := f.Blocks[succ].Preds
				for j := range preds {
					if preds[j] == s {
						preds[j] = a.ID
					}
				}
			}
			for j := range f.Loops {
				l := &f.Loops[j]
				if l.Body == s {
					l.Body = a.ID
				}
				if l.Header == s {
					l.Header = a.ID
				}
			}
			*b = Block{ID: s, Cond: NoValue, Ret: NoValue}
			dead[s] = true
			changed = true
		}
	}
	return changed
}

func sameLoops(f *Func, a, b BlockID) bool {
	for i := range f.Loops {
		if f.Loops[i].Contains(a) != f.Loops[i].Contains(b) {
			return false
		}
	}
	return true
}

// removeDeadValues removes values that
// contribute neither to a terminator nor
// to a side effect. Under strict error handling,
// partial operations are side effects.
func removeDeadValues(f *Func, dead []bool) {
	live := make([]bool, len(f.Values))
	var work []ValueID
	mark := func(id ValueID) {
		if id != NoValue && !live[id] {
			live[id] = true
			work = append(work, id)
		}
	}
	for i := range f.Blocks {
		if dead[i] {
			continue
		}
		blk := &f.Blocks[i]
		mark(blk.Cond)
		mark(blk.Ret)
		for _, id := range blk.Values {
			v := &f.Values[id]
			if v.Op == OpNotice || (f.Strict && v.Partial(f)) {
				mark(id)
			}
		}
	}
	for len(work) > 0 {
		id := work[len(work)-1]
		work = work[:len(work)-1]
		for _, a := range f.Values[id].Args {
			mark(a)
		}
	}
	for i := range f.Blocks {
		removeValues(&f.Blocks[i], func(id ValueID) bool { return !live[id] })
	}
}

// compact renumbers the live blocks and
// values of f densely, in block order
func compact(f *Func, dead []bool) {
	bmap := make([]BlockID, len(f.Blocks))
	var blocks []Block
	for i := range f.Blocks {
		if dead[i] {
			bmap[i] = NoBlock
			continue
		}
		bmap[i] = BlockID(len(blocks))
		blocks = append(blocks, f.Blocks[i])
	}
	vmap := make([]ValueID, len(f.Values))
	for i := range vmap {
		vmap[i] = NoValue
	}
	var values []Value
	for i := range blocks {
		for _, id := range blocks[i].Values {
			vmap[id] = ValueID(len(values))
			values = append(values, f.Values[id])
		}
	}
	for i := range values {
		v := &values[i]
		v.ID = ValueID(i)
		v.Block = bmap[v.Block]
		for j := range v.Args {
			v.Args[j] = vmap[v.Args[j]]
		}
	}
	remap := func(id ValueID) ValueID {
		if id == NoValue {
			return id
		}
		return vmap[id]
	}
	for i := range blocks {
		blk := &blocks[i]
		blk.ID = BlockID(i)
		for j := range blk.Values {
			blk.Values[j] = vmap[blk.Values[j]]
		}
		for j := range blk.Preds {
			blk.Preds[j] = bmap[blk.Preds[j]]
		}
		for j := range blk.Succs {
			blk.Succs[j] = bmap[blk.Succs[j]]
		}
		blk.Cond = remap(blk.Cond)
		blk.Ret = remap(blk.Ret)
	}
	var loops []Loop
	lmap := make([]int, len(f.Loops))
	for i := range f.Loops {
		l := f.Loops[i]
		lmap[i] = -1
		if dead[l.Header] {
			continue
		}
		var members []BlockID
		for _, b := range l.Blocks {
			if !dead[b] {
				members = append(members, bmap[b])
			}
		}
		l.Blocks = members
		l.Header = bmap[l.Header]
		if dead[l.Body] {
			l.Body = l.Header
		} else {
			l.Body = bmap[l.Body]
		}
		if !hasBackEdge(blocks, &l) {
			// the loop body never repeats
			// (e.g. it always returns)
			continue
		}
		lmap[i] = len(loops)
		loops = append(loops, l)
	}
	for i := range loops {
		// parents precede children, so
		// a dropped parent is resolved
		// to its own parent first
		p := loops[i].Parent
		for p >= 0 && lmap[p] < 0 {
			p = f.Loops[p].Parent
		}
		if p >= 0 {
			p = lmap[p]
		}
		loops[i].Parent = p
	}
	f.Blocks = blocks
	f.Values = values
	f.Loops = loops
}

func hasBackEdge(blocks []Block, l *Loop) bool {
	for _, p := range blocks[l.Header].Preds {
		if l.Contains(p) {
			return true
		}
	}
	return false
}
