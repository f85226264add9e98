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

// Package vm implements the vectorized
// execution of functions in SSA form.
//
// Vectorize converts the control flow of an
// ir.Func into a linear program of predicated
// instructions: every block runs over the lanes
// (rows) in its mask register, branches split a
// mask into the lanes that take each edge, and
// loops repeat their blocks while any lane
// remains in the loop header's mask. Emit binds
// each instruction of such a program to a typed
// handler and returns an Artifact that evaluates
// the function over a Batch of columns.
package vm

import (
	"fmt"
	"strings"

	"github.com/SnellerInc/udfc/ir"
)

// InstOp is the opcode of a vector instruction.
type InstOp uint8

const (
	IValue  InstOp = iota // compute Value for the lanes in Mask
	ISkip                 // jump to Target if Mask is empty
	ITake                 // move the lanes of Mask to Dst
	IBranch               // Dst = Mask & Value; Dst2 = Mask &^ Dst
	IEdge                 // phi Moves for the lanes in Mask; Dst |= Mask
	ICount                // count an iteration of Loop for the lanes in Mask
	IRet                  // return Value for the lanes in Mask
	IRaise                // raise Value for the lanes in Mask
	IClear                // clear Mask
	ILoop                 // jump to Target if Mask is not empty

	_maxInstOp
)

var instNames = [_maxInstOp]string{
	IValue:  "value",
	ISkip:   "skip",
	ITake:   "take",
	IBranch: "branch",
	IEdge:   "edge",
	ICount:  "count",
	IRet:    "ret",
	IRaise:  "raise",
	IClear:  "clear",
	ILoop:   "loop",
}

func (o InstOp) String() string {
	if o < _maxInstOp {
		return instNames[o]
	}
	return fmt.Sprintf("<InstOp=%d>", int(o))
}

// Move is a phi copy performed
// when lanes cross an edge.
type Move struct {
	Dst, Src ir.ValueID
}

// Inst is a single predicated instruction.
type Inst struct {
	Op InstOp
	// Mask is the mask register of active lanes
	Mask int
	// Dst and Dst2 are destination
	// mask registers
	Dst, Dst2 int
	// Value is the computed value (IValue),
	// the branch condition (IBranch), or the
	// operand of IRet and IRaise
	Value ir.ValueID
	// Target is a jump target
	Target int
	// Loop is the index of a loop in
	// Func.Loops whose counters are reset
	// (IEdge) or incremented (ICount), or -1
	Loop  int
	Moves []Move
}

// Prog is a vector program.
type Prog struct {
	Func *ir.Func
	// Order is the order in which
	// the blocks of Func are laid out
	Order []ir.BlockID
	// Masks is the number of mask registers;
	// register i < len(Func.Blocks) holds the
	// lanes waiting to execute block i
	Masks int
	Insts []Inst
}

func (in *Inst) text(dst *strings.Builder) {
	fmt.Fprintf(dst, "%-6s k%d", in.Op, in.Mask)
	switch in.Op {
	case IValue, IRet, IRaise:
		fmt.Fprintf(dst, " v%d", in.Value)
	case IBranch:
		fmt.Fprintf(dst, " v%d -> k%d k%d", in.Value, in.Dst, in.Dst2)
	case ITake:
		fmt.Fprintf(dst, " -> k%d", in.Dst)
	case IEdge:
		fmt.Fprintf(dst, " -> k%d", in.Dst)
		for _, m := range in.Moves {
			fmt.Fprintf(dst, " v%d=v%d", m.Dst, m.Src)
		}
		if in.Loop >= 0 {
			fmt.Fprintf(dst, " reset loop%d", in.Loop)
		}
	case ISkip, ILoop:
		fmt.Fprintf(dst, " @%d", in.Target)
	case ICount:
		fmt.Fprintf(dst, " loop%d", in.Loop)
	}
}

// String returns a listing of p
// in which every instruction is
// prefixed with its index.
func (p *Prog) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "prog %s: %d masks, blocks", p.Func.Name, p.Masks)
	for _, b := range p.Order {
		fmt.Fprintf(&sb, " b%d", b)
	}
	sb.WriteByte('\n')
	for pc := range p.Insts {
		in := &p.Insts[pc]
		fmt.Fprintf(&sb, "%4d: ", pc)
		in.text(&sb)
		if in.Op == IValue {
			sb.WriteString("\t; ")
			sb.WriteString(p.Func.Values[in.Value].String())
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}
