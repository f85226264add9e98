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

// Package ir implements the control-flow
// intermediate representation of a function body.
//
// A Func is a control-flow graph of basic blocks
// in static single assignment form. Blocks and
// values live in arenas owned by the Func and
// refer to one another with integer handles
// (BlockID and ValueID), so a Func can be copied,
// validated, and serialized without chasing pointers.
package ir

import (
	"fmt"

	"github.com/SnellerInc/udfc/expr"
)

// ValueID is the index of a Value in Func.Values.
type ValueID int32

// BlockID is the index of a Block in Func.Blocks.
type BlockID int32

// NoValue and NoBlock are the
// invalid handles
const (
	NoValue ValueID = -1
	NoBlock BlockID = -1
)

// Op is an instruction opcode.
type Op uint8

const (
	OpInvalid Op = iota
	OpParam      // Aux = parameter index
	OpConst      // Const
	OpPhi        // Args[i] flows in from Block.Preds[i]
	OpArith      // Aux = expr.ArithOp; operands have the result type
	OpNeg        // -Args[0]
	OpConcat     // Args[0] || Args[1]; both strings
	OpCmp        // Aux = expr.CmpOp; operands have the same type
	OpAnd        // three-valued Args[0] and Args[1]
	OpOr         // three-valued Args[0] or Args[1]
	OpNot        // not Args[0]
	OpIsNull     // Args[0] is null; Aux = 1 for is not null
	OpCast       // convert Args[0] to Type
	OpCall       // Fn(Args...)
	OpNotice     // emit Args[0]; no result

	_maxOp
)

type opinfo struct {
	text string
	// pure ops can be freely
	// eliminated, folded, and numbered
	pure bool
	// nullsafe ops observe null
	// arguments; every other op
	// yields null for a null argument
	nullsafe bool
}

var opinfos = [_maxOp]opinfo{
	OpInvalid: {text: "invalid"},
	OpParam:   {text: "param"},
	OpConst:   {text: "const", pure: true},
	OpPhi:     {text: "phi", nullsafe: true},
	OpArith:   {text: "arith", pure: true},
	OpNeg:     {text: "neg", pure: true},
	OpConcat:  {text: "concat", pure: true},
	OpCmp:     {text: "cmp", pure: true},
	OpAnd:     {text: "and", pure: true, nullsafe: true},
	OpOr:      {text: "or", pure: true, nullsafe: true},
	OpNot:     {text: "not", pure: true},
	OpIsNull:  {text: "isnull", pure: true, nullsafe: true},
	OpCast:    {text: "cast", pure: true},
	OpCall:    {text: "call", pure: true},
	OpNotice:  {text: "notice"},
}

func (o Op) String() string {
	if o < _maxOp {
		return opinfos[o].text
	}
	return fmt.Sprintf("<Op=%d>", int(o))
}

// Value is a single SSA value
// and the instruction that defines it.
type Value struct {
	ID   ValueID
	Op   Op
	Type expr.Type
	Args []ValueID
	// Aux is an op-specific immediate
	// (see the Op constants)
	Aux int
	// Const is the value of an OpConst
	Const expr.Datum
	// Fn is the callee of an OpCall
	Fn *expr.FuncInfo
	// Block is the block that contains the value
	Block BlockID
	// At is the position of the
	// statement that produced the value
	At expr.Position
}

// Pure returns whether the value has no
// side effects, ignoring run-time errors.
func (v *Value) Pure() bool { return opinfos[v.Op].pure }

// NullSafe returns whether the value's
// op observes null arguments rather than
// propagating them.
func (v *Value) NullSafe() bool {
	if v.Op == OpCall {
		return v.Fn.NullCoalescing
	}
	return opinfos[v.Op].nullsafe
}

// Partial returns whether evaluating the
// value can fail for non-null arguments.
func (v *Value) Partial(f *Func) bool {
	switch v.Op {
	case OpArith:
		if v.Type == expr.TypeInt {
			return true
		}
		op := expr.ArithOp(v.Aux)
		return op == expr.DivOp || op == expr.ModOp
	case OpNeg:
		return v.Type == expr.TypeInt
	case OpCast:
		return expr.CastPartial(f.Values[v.Args[0]].Type, v.Type)
	case OpCall:
		return v.Fn.Partial
	}
	return false
}

// TermKind is the kind of a block terminator.
type TermKind uint8

const (
	TermNone   TermKind = iota
	TermBr              // jump to Succs[0]
	TermCondBr          // if Cond then Succs[0] else Succs[1]; null takes Succs[1]
	TermRet             // return Value
	TermRaise           // raise Value (a string) as an error
)

var termNames = [...]string{
	TermNone:   "<none>",
	TermBr:     "br",
	TermCondBr: "condbr",
	TermRet:    "ret",
	TermRaise:  "raise",
}

func (t TermKind) String() string {
	if int(t) < len(termNames) {
		return termNames[t]
	}
	return fmt.Sprintf("<TermKind=%d>", int(t))
}

// Block is a basic block. Phis come first in Values.
type Block struct {
	ID     BlockID
	Values []ValueID
	Preds  []BlockID

	Kind TermKind
	// Cond is the branch condition of a TermCondBr
	Cond ValueID
	// Ret is the returned value of a TermRet
	// or the message of a TermRaise
	Ret ValueID
	// Succs are the successors of the block;
	// one for TermBr and two for TermCondBr
	Succs []BlockID
	// At is the position of the statement
	// that produced the terminator
	At expr.Position
}

// PredIndex returns the index of p
// in b.Preds, or -1.
func (b *Block) PredIndex(p BlockID) int {
	for i := range b.Preds {
		if b.Preds[i] == p {
			return i
		}
	}
	return -1
}

// Loop describes a source loop.
type Loop struct {
	// Header is the target of the loop's back edges.
	Header BlockID
	// Body is the block whose entry counts
	// as one iteration; for a loop without
	// a condition, Body == Header
	Body BlockID
	// Blocks are the member blocks of the loop,
	// including the header and nested loops' blocks
	Blocks []BlockID
	// Bound is the maximum number of iterations
	// per row, or 0 if the loop is unbounded
	Bound int64
	// Parent is the index of the enclosing
	// loop in Func.Loops, or -1
	Parent int
	At     expr.Position
}

// Contains returns whether b is part of the loop.
func (l *Loop) Contains(b BlockID) bool {
	for _, m := range l.Blocks {
		if m == b {
			return true
		}
	}
	return false
}

// Func is a function in SSA form.
type Func struct {
	Name    string
	Params  []expr.Param
	Returns expr.Type

	// Strict turns partial-operation
	// failures into errors
	Strict bool
	// CalledOnNull evaluates the body
	// even when an argument is null;
	// otherwise the result is null
	CalledOnNull bool

	// Blocks[0] is the entry block
	Blocks []Block
	Values []Value
	Loops  []Loop
}

// Value returns the value with the given id.
func (f *Func) Value(id ValueID) *Value { return &f.Values[id] }

// Block returns the block with the given id.
func (f *Func) Block(id BlockID) *Block { return &f.Blocks[id] }

// LoopOf returns the index of the innermost
// loop containing b, or -1.
func (f *Func) LoopOf(b BlockID) int {
	best := -1
	for i := range f.Loops {
		if f.Loops[i].Contains(b) && (best < 0 || len(f.Loops[i].Blocks) < len(f.Loops[best].Blocks)) {
			best = i
		}
	}
	return best
}

// HasSideEffects returns whether the function
// contains notice statements.
func (f *Func) HasSideEffects() bool {
	for i := range f.Blocks {
		for _, id := range f.Blocks[i].Values {
			if f.Values[id].Op == OpNotice {
				return true
			}
		}
	}
	return false
}

func (f *Func) newValue(b BlockID, op Op, t expr.Type, args ...ValueID) *Value {
	id := ValueID(len(f.Values))
	f.Values = append(f.Values, Value{
		ID:    id,
		Op:    op,
		Type:  t,
		Args:  args,
		Block: b,
	})
	return &f.Values[id]
}

func (f *Func) newBlock() BlockID {
	id := BlockID(len(f.Blocks))
	f.Blocks = append(f.Blocks, Block{ID: id, Cond: NoValue, Ret: NoValue})
	return id
}
