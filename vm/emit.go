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
	"errors"
	"fmt"
	"sync"

	"github.com/SnellerInc/udfc/expr"
	"github.com/SnellerInc/udfc/ir"
)

type opfn func(f *frame, pc int) int

// move is a phi copy between value registers;
// shadow is the scratch register the copy goes
// through when src is also written by the edge,
// or -1
type move struct {
	dst, src, shadow int
	t, st            expr.Type
}

// instr is an instruction bound to its handler
type instr struct {
	fn     opfn
	mask   int
	dst    int
	dst2   int
	args   []int
	target int
	loop   int
	moves  []move
	v      *ir.Value
	at     expr.Position
}

// Artifact is an executable form of a function.
// An Artifact is safe for concurrent use by
// multiple goroutines.
type Artifact struct {
	fn   *ir.Func
	prog *Prog
	code []instr

	width int
	// types is the type of every register;
	// registers past len(fn.Values) are shadows
	types   []expr.Type
	isParam []bool
	params  []ir.ValueID
	consts  []ir.ValueID

	degraded []string

	frames  sync.Pool
	interps sync.Pool
}

// Func returns the function a implements.
func (a *Artifact) Func() *ir.Func { return a.fn }

// Prog returns the vector program of a,
// or nil if a evaluates one row at a time.
func (a *Artifact) Prog() *Prog { return a.prog }

// Vectorized returns whether a evaluates
// lane groups rather than single rows.
func (a *Artifact) Vectorized() bool { return a.prog != nil }

// Width returns the number of rows
// a vectorized artifact evaluates together.
func (a *Artifact) Width() int { return a.width }

// Degradations describes the parts of the
// function that a evaluates one row at a time:
// the names of callees without a vector kernel,
// or the reason the whole function is scalar.
func (a *Artifact) Degradations() []string { return a.degraded }

func (a *Artifact) degrade(what string) {
	for _, d := range a.degraded {
		if d == what {
			return
		}
	}
	a.degraded = append(a.degraded, what)
}

// Emit binds the instructions of p to their
// handlers, using the default lane width.
func Emit(p *Prog) (*Artifact, error) {
	return EmitWidth(p, LaneWidth)
}

// EmitWidth is Emit with an explicit lane width.
func EmitWidth(p *Prog, width int) (*Artifact, error) {
	f := p.Func
	if width <= 0 {
		return nil, fmt.Errorf("vm.Emit: %s: invalid lane width %d", f.Name, width)
	}
	a := &Artifact{
		fn:      f,
		prog:    p,
		width:   width,
		types:   make([]expr.Type, len(f.Values)),
		isParam: make([]bool, len(f.Values)),
		params:  make([]ir.ValueID, len(f.Params)),
	}
	for i := range a.params {
		a.params[i] = ir.NoValue
	}
	for i := range f.Values {
		v := &f.Values[i]
		a.types[i] = v.Type
		switch v.Op {
		case ir.OpParam:
			if v.Aux < 0 || v.Aux >= len(f.Params) {
				return nil, fmt.Errorf("vm.Emit: %s: v%d: bad parameter index %d", f.Name, i, v.Aux)
			}
			a.isParam[i] = true
			a.params[v.Aux] = v.ID
		case ir.OpConst:
			a.consts = append(a.consts, v.ID)
		}
	}
	a.code = make([]instr, len(p.Insts))
	for pc := range p.Insts {
		if err := a.bind(&p.Insts[pc], &a.code[pc]); err != nil {
			return nil, progerror("vm.Emit", p, pc, "%s", err)
		}
	}
	a.frames.New = func() any { return a.newFrame() }
	return a, nil
}

func (a *Artifact) bind(in *Inst, out *instr) error {
	f := a.fn
	out.mask, out.dst, out.dst2 = in.Mask, in.Dst, in.Dst2
	out.target, out.loop = in.Target, in.Loop
	if in.Mask < 0 || in.Mask >= a.prog.Masks {
		return fmt.Errorf("mask k%d out of range", in.Mask)
	}
	switch in.Op {
	case IValue, IBranch, IRet, IRaise:
		if int(in.Value) >= len(f.Values) || in.Value < 0 {
			return fmt.Errorf("value v%d out of range", in.Value)
		}
	}
	switch in.Op {
	case IValue:
		v := &f.Values[in.Value]
		out.v, out.at = v, v.At
		out.dst = int(v.ID)
		for _, arg := range v.Args {
			out.args = append(out.args, int(arg))
		}
		if v.Op == ir.OpNotice {
			out.fn = opnotice
			return nil
		}
		k, native := kernel(f, v)
		if !native {
			a.degrade(v.Fn.Name)
		}
		out.fn = k
	case ISkip:
		out.fn = opskip
	case ILoop:
		out.fn = oploop
	case IClear:
		out.fn = opclear
	case ITake:
		out.fn = optake
	case IBranch:
		out.fn = opbranch
		out.args = []int{int(in.Value)}
	case ICount:
		if in.Loop < 0 || in.Loop >= len(f.Loops) {
			return fmt.Errorf("loop %d out of range", in.Loop)
		}
		out.fn = opcount
	case IRet:
		out.fn = opret
		out.args = []int{int(in.Value)}
	case IRaise:
		out.fn = opraise
		out.args = []int{int(in.Value)}
		if in.Mask < len(f.Blocks) {
			out.at = f.Blocks[in.Mask].At
		}
	case IEdge:
		out.fn = opedge
		a.bindMoves(in, out)
	default:
		return fmt.Errorf("unexpected op %s", in.Op)
	}
	switch in.Op {
	case ISkip, ILoop:
		if in.Target < 0 || in.Target > len(a.prog.Insts) {
			return fmt.Errorf("jump target %d out of range", in.Target)
		}
	}
	return nil
}

// bindMoves routes every move whose source is
// overwritten by another move of the same edge
// through a shadow register, so that all the
// phis of a block are assigned at once
func (a *Artifact) bindMoves(in *Inst, out *instr) {
	dsts := make(map[ir.ValueID]bool, len(in.Moves))
	for _, m := range in.Moves {
		dsts[m.Dst] = true
	}
	for _, m := range in.Moves {
		mv := move{
			dst:    int(m.Dst),
			src:    int(m.Src),
			shadow: -1,
			t:      a.types[m.Dst],
			st:     a.types[m.Src],
		}
		if m.Src != m.Dst && dsts[m.Src] {
			mv.shadow = len(a.types)
			a.types = append(a.types, mv.st)
			a.isParam = append(a.isParam, false)
		}
		out.moves = append(out.moves, mv)
	}
}

// EmitScalar returns an artifact that
// evaluates f one row at a time. It does not
// check loop bounds; Compile does.
func EmitScalar(f *ir.Func) *Artifact {
	a := &Artifact{fn: f, width: 1}
	a.interps.New = func() any { return ir.NewInterp(f) }
	return a
}

// Options are options for Compile.
type Options struct {
	VectorizeOptions
	// Width is the lane width;
	// zero means LaneWidth
	Width int
	// Scalar disables vectorization
	Scalar bool
}

// Compile vectorizes and emits f. A function
// whose control flow cannot be vectorized, but
// that can run one row at a time, produces a
// scalar artifact whose Degradations give the
// reason.
func Compile(f *ir.Func, opts *Options) (*Artifact, error) {
	if opts == nil {
		opts = &Options{}
	}
	if opts.Scalar {
		if err := ir.Verify(f); err != nil {
			return nil, err
		}
		if err := checkBounds(f, &opts.VectorizeOptions); err != nil {
			return nil, err
		}
		a := EmitScalar(f)
		a.degrade("vectorization disabled")
		return a, nil
	}
	p, err := Vectorize(f, opts.VectorizeOptions)
	if err != nil {
		var uc *UnvectorizableConstructError
		if errors.As(err, &uc) && uc.Recoverable {
			errorf("%s: running one row at a time: %s", f.Name, err)
			a := EmitScalar(f)
			a.degrade(uc.Construct)
			return a, nil
		}
		return nil, err
	}
	width := opts.Width
	if width == 0 {
		width = LaneWidth
	}
	return EmitWidth(p, width)
}

// Exec evaluates the function for every row of in
// and returns the column of results. Rows whose
// evaluation yields null, including rows with a
// null argument unless the function is called on
// null input, are null in the result. If a row
// raises an error or exceeds a loop bound, Exec
// returns a *RuntimeComputationError or a
// *LoopBoundExceededError.
func (a *Artifact) Exec(in *Batch, notice NoticeFunc) (*Column, error) {
	cols, err := columns(a.fn, in)
	if err != nil {
		return nil, err
	}
	out := NewColumn(a.fn.Returns, in.Rows)
	if a.prog == nil {
		return out, a.execScalar(cols, in.Rows, out, notice)
	}
	f := a.frames.Get().(*frame)
	defer a.release(f)
	f.out, f.notice = out, notice
	for base := 0; base < in.Rows; base += a.width {
		f.load(cols, base, min(a.width, in.Rows-base))
		if err := f.run(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (a *Artifact) execScalar(cols []*Column, rows int, out *Column, notice NoticeFunc) error {
	in := a.interps.Get().(*ir.Interp)
	defer a.interps.Put(in)
	in.Notice = notice
	defer func() { in.Notice = nil }()
	args := make([]expr.Datum, len(cols))
	for row := 0; row < rows; row++ {
		for i, c := range cols {
			args[i] = c.Datum(row)
		}
		d, err := in.Row(row, args)
		if err != nil {
			return err
		}
		if err := out.Set(row, d); err != nil {
			return err
		}
	}
	return nil
}
