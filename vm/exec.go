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

	"github.com/bits-and-blooms/bitset"

	"github.com/SnellerInc/udfc/expr"
	"github.com/SnellerInc/udfc/ir"
)

// NoticeFunc receives the message of a
// notice statement executed for a row.
type NoticeFunc func(row int, msg string)

// reg is a value register: one slot
// per lane plus the set of null lanes
type reg struct {
	i     []int64
	f     []float64
	s     []string
	b     []bool
	nulls *Mask
}

func newReg(t expr.Type, width int) reg {
	r := reg{nulls: bitset.New(uint(width))}
	switch t {
	case expr.TypeInt:
		r.i = make([]int64, width)
	case expr.TypeFloat:
		r.f = make([]float64, width)
	case expr.TypeString:
		r.s = make([]string, width)
	case expr.TypeBool:
		r.b = make([]bool, width)
	case expr.TypeNull:
		r.nulls.FlipRange(0, uint(width))
	}
	return r
}

func (r *reg) datum(t expr.Type, i uint) expr.Datum {
	if r.nulls.Test(i) {
		return expr.NullDatum
	}
	switch t {
	case expr.TypeInt:
		return expr.IntDatum(r.i[i])
	case expr.TypeFloat:
		return expr.FloatDatum(r.f[i])
	case expr.TypeString:
		return expr.StringDatum(r.s[i])
	case expr.TypeBool:
		return expr.BoolDatum(r.b[i])
	}
	return expr.NullDatum
}

func (r *reg) set(t expr.Type, i uint, d expr.Datum) {
	if d.IsNull() {
		r.nulls.Set(i)
		return
	}
	r.nulls.Clear(i)
	switch t {
	case expr.TypeInt:
		r.i[i] = d.I
	case expr.TypeFloat:
		r.f[i] = d.F
	case expr.TypeString:
		r.s[i] = d.S
	case expr.TypeBool:
		r.b[i] = d.B
	}
}

// broadcast fills every lane with d
func (r *reg) broadcast(t expr.Type, d expr.Datum) {
	for i := uint(0); i < r.nulls.Len(); i++ {
		r.set(t, i, d)
	}
}

// copyLanes copies the lanes in m from src
func (r *reg) copyLanes(src *reg, t expr.Type, m *Mask) {
	for i, ok := m.NextSet(0); ok; i, ok = m.NextSet(i + 1) {
		switch t {
		case expr.TypeInt:
			r.i[i] = src.i[i]
		case expr.TypeFloat:
			r.f[i] = src.f[i]
		case expr.TypeString:
			r.s[i] = src.s[i]
		case expr.TypeBool:
			r.b[i] = src.b[i]
		}
		r.nulls.SetTo(i, src.nulls.Test(i))
	}
}

// frame is the state of one invocation
// of a vectorized artifact
type frame struct {
	a      *Artifact
	regs   []reg
	masks  []*Mask
	live   *Mask
	counts [][]int64
	args   []expr.Datum

	base, n int
	out     *Column
	notice  NoticeFunc
	err     error
}

func (a *Artifact) newFrame() *frame {
	f := &frame{
		a:      a,
		regs:   make([]reg, len(a.types)),
		masks:  make([]*Mask, a.prog.Masks),
		live:   bitset.New(uint(a.width)),
		counts: make([][]int64, len(a.fn.Loops)),
	}
	for i, t := range a.types {
		if a.isParam[i] {
			// aliases the input columns
			f.regs[i] = reg{nulls: bitset.New(uint(a.width))}
			continue
		}
		f.regs[i] = newReg(t, a.width)
	}
	for _, id := range a.consts {
		v := &a.fn.Values[id]
		f.regs[id].broadcast(v.Type, v.Const.Widen(v.Type))
	}
	for i := range f.masks {
		f.masks[i] = bitset.New(uint(a.width))
	}
	for i := range f.counts {
		f.counts[i] = make([]int64, a.width)
	}
	return f
}

// release scrubs references to the
// caller's data and returns f to the pool;
// constant registers are broadcast once
// in newFrame and are left alone
func (a *Artifact) release(f *frame) {
	for i := range f.regs {
		r := &f.regs[i]
		switch {
		case a.isParam[i]:
			r.i, r.f, r.s, r.b = nil, nil, nil, nil
		case i < len(a.fn.Values) && a.fn.Values[i].Op == ir.OpConst:
		case r.s != nil:
			clear(r.s)
		}
	}
	clear(f.args)
	f.out, f.notice, f.err = nil, nil, nil
	a.frames.Put(f)
}

// load prepares the lane group of n rows
// starting at row base
func (f *frame) load(cols []*Column, base, n int) {
	a := f.a
	f.base, f.n = base, n
	for _, m := range f.masks {
		m.ClearAll()
	}
	entry := f.masks[0]
	entry.FlipRange(0, uint(n))
	for p, c := range cols {
		id := a.params[p]
		if id != ir.NoValue {
			r := &f.regs[id]
			switch c.Type {
			case expr.TypeInt:
				r.i = c.Ints[base : base+n]
			case expr.TypeFloat:
				r.f = c.Floats[base : base+n]
			case expr.TypeString:
				r.s = c.Strings[base : base+n]
			case expr.TypeBool:
				r.b = c.Bools[base : base+n]
			}
			nullsIn(c, base, n, r.nulls)
		}
		if !a.fn.CalledOnNull {
			nullsIn(c, base, n, f.live)
			for i, ok := f.live.NextSet(0); ok; i, ok = f.live.NextSet(i + 1) {
				f.out.Nulls.Add(uint32(base + int(i)))
			}
			entry.InPlaceDifference(f.live)
		}
	}
}

func (f *frame) run() error {
	code := f.a.code
	for pc := 0; pc < len(code); {
		pc = code[pc].fn(f, pc)
		if f.err != nil {
			return f.err
		}
	}
	return nil
}

// fail handles the failure of a partial operation
// in lane i: under strict error handling it aborts
// the invocation, otherwise the lane's result is null
func (f *frame) fail(in *instr, i uint, err error) {
	if f.a.fn.Strict {
		if f.err != nil {
			return
		}
		f.err = &ir.RuntimeComputationError{Func: f.a.fn.Name, At: in.v.At, Row: f.base + int(i), Err: err}
		return
	}
	f.regs[in.dst].nulls.Set(i)
}

func (f *frame) row(i uint) int { return f.base + int(i) }

// control-flow handlers

func opskip(f *frame, pc int) int {
	in := &f.a.code[pc]
	if f.masks[in.mask].None() {
		return in.target
	}
	return pc + 1
}

func oploop(f *frame, pc int) int {
	in := &f.a.code[pc]
	if f.masks[in.mask].Any() {
		return in.target
	}
	return pc + 1
}

func opclear(f *frame, pc int) int {
	f.masks[f.a.code[pc].mask].ClearAll()
	return pc + 1
}

func optake(f *frame, pc int) int {
	in := &f.a.code[pc]
	m := f.masks[in.mask]
	m.Copy(f.masks[in.dst])
	m.ClearAll()
	return pc + 1
}

func opbranch(f *frame, pc int) int {
	in := &f.a.code[pc]
	m := f.masks[in.mask]
	t, e := f.masks[in.dst], f.masks[in.dst2]
	t.ClearAll()
	e.ClearAll()
	c := &f.regs[in.args[0]]
	for i, ok := m.NextSet(0); ok; i, ok = m.NextSet(i + 1) {
		// null takes the else branch
		if !c.nulls.Test(i) && c.b[i] {
			t.Set(i)
		} else {
			e.Set(i)
		}
	}
	m.ClearAll()
	return pc + 1
}

func opedge(f *frame, pc int) int {
	in := &f.a.code[pc]
	m := f.masks[in.mask]
	if m.None() {
		return pc + 1
	}
	for k := range in.moves {
		mv := &in.moves[k]
		if mv.shadow >= 0 {
			f.regs[mv.shadow].copyLanes(&f.regs[mv.src], mv.st, m)
		} else {
			f.move(mv.dst, mv.t, mv.src, mv.st, m)
		}
	}
	for k := range in.moves {
		if mv := &in.moves[k]; mv.shadow >= 0 {
			f.move(mv.dst, mv.t, mv.shadow, mv.st, m)
		}
	}
	if in.loop >= 0 {
		counts := f.counts[in.loop]
		for i, ok := m.NextSet(0); ok; i, ok = m.NextSet(i + 1) {
			counts[i] = 0
		}
	}
	f.masks[in.dst].InPlaceUnion(m)
	return pc + 1
}

func (f *frame) move(dst int, t expr.Type, src int, st expr.Type, m *Mask) {
	d, s := &f.regs[dst], &f.regs[src]
	if t == st {
		d.copyLanes(s, t, m)
		return
	}
	for i, ok := m.NextSet(0); ok; i, ok = m.NextSet(i + 1) {
		d.set(t, i, s.datum(st, i).Widen(t))
	}
}

func opcount(f *frame, pc int) int {
	in := &f.a.code[pc]
	m := f.masks[in.mask]
	l := &f.a.fn.Loops[in.loop]
	counts := f.counts[in.loop]
	for i, ok := m.NextSet(0); ok; i, ok = m.NextSet(i + 1) {
		counts[i]++
		if counts[i] > l.Bound {
			f.err = &ir.LoopBoundExceededError{Func: f.a.fn.Name, At: l.At, Bound: l.Bound, Row: f.row(i)}
			break
		}
	}
	return pc + 1
}

func opret(f *frame, pc int) int {
	in := &f.a.code[pc]
	m := f.masks[in.mask]
	r := &f.regs[in.args[0]]
	out := f.out
	if t := f.a.types[in.args[0]]; t != out.Type {
		for i, ok := m.NextSet(0); ok; i, ok = m.NextSet(i + 1) {
			if err := out.Set(f.row(i), r.datum(t, i)); err != nil {
				f.err = err
				break
			}
		}
		return pc + 1
	}
	for i, ok := m.NextSet(0); ok; i, ok = m.NextSet(i + 1) {
		row := f.row(i)
		if r.nulls.Test(i) {
			out.Nulls.Add(uint32(row))
			continue
		}
		switch out.Type {
		case expr.TypeInt:
			out.Ints[row] = r.i[i]
		case expr.TypeFloat:
			out.Floats[row] = r.f[i]
		case expr.TypeString:
			out.Strings[row] = r.s[i]
		case expr.TypeBool:
			out.Bools[row] = r.b[i]
		}
	}
	return pc + 1
}

func opraise(f *frame, pc int) int {
	in := &f.a.code[pc]
	m := f.masks[in.mask]
	r := &f.regs[in.args[0]]
	for i, ok := m.NextSet(0); ok; i, ok = m.NextSet(i + 1) {
		if r.nulls.Test(i) {
			// raising null makes the row null
			f.out.Nulls.Add(uint32(f.row(i)))
			continue
		}
		f.err = &ir.RuntimeComputationError{Func: f.a.fn.Name, At: in.at, Row: f.row(i), Msg: r.s[i]}
		break
	}
	return pc + 1
}

func opnotice(f *frame, pc int) int {
	in := &f.a.code[pc]
	m := f.masks[in.mask]
	r := &f.regs[in.args[0]]
	for i, ok := m.NextSet(0); ok; i, ok = m.NextSet(i + 1) {
		if r.nulls.Test(i) {
			// the row stops here with a null result
			f.out.Nulls.Add(uint32(f.row(i)))
			m.Clear(i)
			continue
		}
		if f.notice != nil {
			f.notice(f.row(i), r.s[i])
		}
	}
	return pc + 1
}

// columns checks the arguments of an
// invocation against the parameters of fn
func columns(fn *ir.Func, in *Batch) ([]*Column, error) {
	if len(in.Columns) != len(fn.Params) {
		return nil, fmt.Errorf("%s: have %d argument columns; want %d", fn.Name, len(in.Columns), len(fn.Params))
	}
	cols := make([]*Column, len(in.Columns))
	for i, c := range in.Columns {
		if c.Len() < in.Rows {
			return nil, fmt.Errorf("%s: argument %s has %d rows; want %d", fn.Name, fn.Params[i].Name, c.Len(), in.Rows)
		}
		w, err := c.widen(fn.Params[i].Type)
		if err != nil {
			return nil, fmt.Errorf("%s: argument %s: %w", fn.Name, fn.Params[i].Name, err)
		}
		cols[i] = w
	}
	return cols, nil
}
