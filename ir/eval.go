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

// Interp evaluates a Func one row at a time.
// It is the reference semantics for compiled
// programs and the fallback for functions
// that cannot be vectorized.
//
// An Interp is not safe for concurrent use.
type Interp struct {
	f *Func
	// Notice, if non-nil, receives the
	// messages of notice statements
	Notice func(row int, msg string)

	vals   []expr.Datum
	counts []int64
	tmp    []expr.Datum
	phis   []expr.Datum
	// headers[b] and bodies[b] list the
	// loops whose header (body) is b
	headers [][]int
	bodies  [][]int
}

// NewInterp returns an interpreter for f.
func NewInterp(f *Func) *Interp {
	in := &Interp{
		f:       f,
		vals:    make([]expr.Datum, len(f.Values)),
		counts:  make([]int64, len(f.Loops)),
		headers: make([][]int, len(f.Blocks)),
		bodies:  make([][]int, len(f.Blocks)),
	}
	for i := range f.Loops {
		l := &f.Loops[i]
		in.headers[l.Header] = append(in.headers[l.Header], i)
		in.bodies[l.Body] = append(in.bodies[l.Body], i)
	}
	return in
}

// Args converts arguments to the parameter
// types of f, widening integers to floats
// where necessary.
func Args(f *Func, args []expr.Datum) ([]expr.Datum, error) {
	if len(args) != len(f.Params) {
		return nil, fmt.Errorf("%s: have %d arguments; want %d", f.Name, len(args), len(f.Params))
	}
	out := make([]expr.Datum, len(args))
	for i := range args {
		t := f.Params[i].Type
		d := args[i].Widen(t)
		if !d.IsNull() && d.T != t {
			return nil, fmt.Errorf("%s: argument %s: cannot use %s as %s", f.Name, f.Params[i].Name, args[i].Type(), t)
		}
		out[i] = d
	}
	return out, nil
}

// Eval evaluates f for a single row.
// Messages of notice statements are
// passed to notice, if it is non-nil.
func Eval(f *Func, args []expr.Datum, notice func(string)) (expr.Datum, error) {
	in := NewInterp(f)
	if notice != nil {
		in.Notice = func(_ int, msg string) { notice(msg) }
	}
	return in.Row(0, args)
}

// Row evaluates the function for the arguments
// of a single row. The row number is only used
// to annotate errors and notices.
func (in *Interp) Row(row int, args []expr.Datum) (expr.Datum, error) {
	f := in.f
	args, err := Args(f, args)
	if err != nil {
		return expr.NullDatum, err
	}
	if !f.CalledOnNull {
		for i := range args {
			if args[i].IsNull() {
				return expr.NullDatum, nil
			}
		}
	}
	prev, cur := NoBlock, BlockID(0)
	for {
		blk := &f.Blocks[cur]
		if err := in.enter(row, prev, blk); err != nil {
			return expr.NullDatum, err
		}
		for _, id := range blk.Values {
			v := &f.Values[id]
			switch v.Op {
			case OpPhi:
				continue
			case OpParam:
				in.vals[id] = args[v.Aux]
				continue
			case OpNotice:
				msg := in.vals[v.Args[0]]
				if msg.IsNull() {
					return expr.NullDatum, nil
				}
				if in.Notice != nil {
					in.Notice(row, msg.S)
				}
				continue
			}
			in.tmp = in.tmp[:0]
			for _, a := range v.Args {
				in.tmp = append(in.tmp, in.vals[a])
			}
			d, err := EvalOp(f, v, in.tmp)
			if err != nil {
				if f.Strict {
					return expr.NullDatum, &RuntimeComputationError{Func: f.Name, At: v.At, Row: row, Err: err}
				}
				d = expr.NullDatum
			}
			in.vals[id] = d
		}
		prev = cur
		switch blk.Kind {
		case TermBr:
			cur = blk.Succs[0]
		case TermCondBr:
			c := in.vals[blk.Cond]
			if !c.IsNull() && c.B {
				cur = blk.Succs[0]
			} else {
				cur = blk.Succs[1]
			}
		case TermRet:
			return in.vals[blk.Ret].Widen(f.Returns), nil
		case TermRaise:
			msg := in.vals[blk.Ret]
			if msg.IsNull() {
				return expr.NullDatum, nil
			}
			return expr.NullDatum, &RuntimeComputationError{Func: f.Name, At: blk.At, Row: row, Msg: msg.S}
		default:
			return expr.NullDatum, fmt.Errorf("ir.Interp: %s: block b%d has no terminator", f.Name, cur)
		}
	}
}

// enter performs the phi moves for the edge
// prev -> blk and updates the iteration counts
// of the loops that blk begins
func (in *Interp) enter(row int, prev BlockID, blk *Block) error {
	f := in.f
	if prev != NoBlock {
		idx := blk.PredIndex(prev)
		in.phis = in.phis[:0]
		for _, id := range blk.Values {
			v := &f.Values[id]
			if v.Op != OpPhi {
				break
			}
			in.phis = append(in.phis, in.vals[v.Args[idx]])
		}
		for i := range in.phis {
			in.vals[blk.Values[i]] = in.phis[i]
		}
	}
	for _, l := range in.headers[blk.ID] {
		if prev == NoBlock || !f.Loops[l].Contains(prev) {
			in.counts[l] = 0
		}
	}
	for _, l := range in.bodies[blk.ID] {
		in.counts[l]++
		lp := &f.Loops[l]
		if lp.Bound > 0 && in.counts[l] > lp.Bound {
			return &LoopBoundExceededError{Func: f.Name, At: lp.At, Bound: lp.Bound, Row: row}
		}
	}
	return nil
}
