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

package expr

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"golang.org/x/exp/slices"
)

// Visitor is an interface that must
// be satisfied by the argument to Visit.
//
// A Visitor's Visit method is invoked for each node encountered by Walk. If
// the result visitor w is not nil, Walk visits each of the children of node
// with the visitor w, followed by a call of w.Visit(nil).
//
// (see also: ast.Visitor)
type Visitor interface {
	Visit(Node) Visitor
}

// Walk traverses an AST in depth-first order: It starts by calling
// v.Visit(node); node must not be nil. If the visitor w returned by
// v.Visit(node) is not nil, Walk is invoked recursively with visitor w for
// each of the non-nil children of node, followed by a call of w.Visit(nil).
//
// (see also: ast.Walk)
func Walk(v Visitor, n Node) {
	w := v.Visit(n)
	if w != nil {
		n.walk(w)
		w.Visit(nil)
	}
}

// VisitFn is a function that implements Visitor.
type VisitFn func(Node) bool

func (v VisitFn) Visit(n Node) Visitor {
	if n == nil || !v(n) {
		return nil
	}
	return v
}

// Printable is the interface shared
// by expressions and statements that
// can render themselves as source text.
type Printable interface {
	text(dst *strings.Builder)
}

// ToString returns the source text
// for an expression or statement.
func ToString(p Printable) string {
	var dst strings.Builder
	p.text(&dst)
	return dst.String()
}

// Node is an expression AST node
type Node interface {
	Printable
	// Equals returns whether this node
	// is structurally equivalent to another node
	Equals(Node) bool
	walk(Visitor)
}

// Equal returns whether a and b are equivalent.
func Equal(a, b Node) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equals(b)
}

// Constant is a Node that is
// a literal value.
type Constant interface {
	Node
	// Datum returns the value of the literal.
	Datum() Datum
}

// IsConstant returns true if node is a literal.
func IsConstant(e Node) bool {
	_, ok := e.(Constant)
	return ok
}

// Bool is a literal boolean AST node
type Bool bool

func (b Bool) text(dst *strings.Builder) {
	if b {
		dst.WriteString("true")
	} else {
		dst.WriteString("false")
	}
}

func (b Bool) Equals(e Node) bool {
	eb, ok := e.(Bool)
	return ok && eb == b
}

func (b Bool) walk(v Visitor) {}
func (b Bool) Datum() Datum   { return BoolDatum(bool(b)) }

// String is a literal string AST node
type String string

func (s String) text(dst *strings.Builder) {
	quote(dst, string(s))
}

func (s String) Equals(e Node) bool {
	es, ok := e.(String)
	return ok && es == s
}

func (s String) walk(v Visitor) {}
func (s String) Datum() Datum   { return StringDatum(string(s)) }

// Integer is a literal integer AST node
type Integer int64

func (i Integer) text(dst *strings.Builder) {
	dst.WriteString(strconv.FormatInt(int64(i), 10))
}

func (i Integer) Equals(e Node) bool {
	ei, ok := e.(Integer)
	return ok && ei == i
}

func (i Integer) walk(v Visitor) {}
func (i Integer) Datum() Datum   { return IntDatum(int64(i)) }

// Float is a literal float AST node
type Float float64

func (f Float) text(dst *strings.Builder) {
	if math.IsInf(float64(f), 0) || math.IsNaN(float64(f)) {
		dst.WriteString("cast(\"")
		dst.WriteString(formatFloat(float64(f)))
		dst.WriteString("\" as float)")
		return
	}
	str := formatFloat(float64(f))
	dst.WriteString(str)
	// keep the literal a float when re-parsed
	if !strings.ContainsAny(str, ".eEn") {
		dst.WriteString(".0")
	}
}

func (f Float) Equals(e Node) bool {
	ef, ok := e.(Float)
	return ok && ef == f
}

func (f Float) walk(v Visitor) {}
func (f Float) Datum() Datum   { return FloatDatum(float64(f)) }

// Null is the NULL literal
type Null struct{}

func (Null) text(dst *strings.Builder) { dst.WriteString("null") }
func (Null) Equals(e Node) bool {
	_, ok := e.(Null)
	return ok
}
func (Null) walk(v Visitor) {}
func (Null) Datum() Datum   { return NullDatum }

// Ident is a reference to a parameter
// or a local variable
type Ident string

func (i Ident) text(dst *strings.Builder) { dst.WriteString(string(i)) }
func (i Ident) Equals(e Node) bool {
	ei, ok := e.(Ident)
	return ok && ei == i
}
func (i Ident) walk(v Visitor) {}

// ArithOp is an arithmetic operator
type ArithOp int

const (
	AddOp ArithOp = iota
	SubOp
	MulOp
	DivOp
	ModOp
)

func (a ArithOp) String() string {
	switch a {
	case AddOp:
		return "+"
	case SubOp:
		return "-"
	case MulOp:
		return "*"
	case DivOp:
		return "/"
	case ModOp:
		return "%"
	default:
		return fmt.Sprintf("<ArithOp=%d>", int(a))
	}
}

// Arithmetic is a binary arithmetic expression.
//
// AddOp applied to two strings is concatenation;
// the IR builder resolves that once types are known.
type Arithmetic struct {
	Op          ArithOp
	Left, Right Node
}

// NewArith generates a binary arithmetic expression.
func NewArith(op ArithOp, left, right Node) *Arithmetic {
	return &Arithmetic{Op: op, Left: left, Right: right}
}

func Add(left, right Node) *Arithmetic { return NewArith(AddOp, left, right) }
func Sub(left, right Node) *Arithmetic { return NewArith(SubOp, left, right) }
func Mul(left, right Node) *Arithmetic { return NewArith(MulOp, left, right) }
func Div(left, right Node) *Arithmetic { return NewArith(DivOp, left, right) }
func Mod(left, right Node) *Arithmetic { return NewArith(ModOp, left, right) }

func infix(e Node) bool {
	switch e.(type) {
	case *Arithmetic, *Comparison, *Logical, *Concat:
		return true
	}
	return false
}

func binary(dst *strings.Builder, left Node, op string, right Node) {
	// parenthesize infix operands unconditionally;
	// it's simpler than comparing precedence
	if infix(left) {
		dst.WriteByte('(')
		left.text(dst)
		dst.WriteByte(')')
	} else {
		left.text(dst)
	}
	dst.WriteByte(' ')
	dst.WriteString(op)
	dst.WriteByte(' ')
	if infix(right) {
		dst.WriteByte('(')
		right.text(dst)
		dst.WriteByte(')')
	} else {
		right.text(dst)
	}
}

func (a *Arithmetic) text(dst *strings.Builder) {
	binary(dst, a.Left, a.Op.String(), a.Right)
}

func (a *Arithmetic) walk(v Visitor) {
	Walk(v, a.Left)
	Walk(v, a.Right)
}

func (a *Arithmetic) Equals(x Node) bool {
	xa, ok := x.(*Arithmetic)
	return ok && xa.Op == a.Op && a.Left.Equals(xa.Left) && a.Right.Equals(xa.Right)
}

// Neg is unary negation
type Neg struct {
	Child Node
}

func (n *Neg) text(dst *strings.Builder) {
	dst.WriteByte('-')
	if infix(n.Child) || negative(n.Child) {
		dst.WriteByte('(')
		n.Child.text(dst)
		dst.WriteByte(')')
		return
	}
	n.Child.text(dst)
}

// negative returns whether a literal
// prints with a leading '-'
func negative(e Node) bool {
	switch e := e.(type) {
	case Integer:
		return e < 0
	case Float:
		return e < 0
	}
	return false
}

func (n *Neg) walk(v Visitor) { Walk(v, n.Child) }

func (n *Neg) Equals(x Node) bool {
	xn, ok := x.(*Neg)
	return ok && n.Child.Equals(xn.Child)
}

// Concat is the || string concatenation operator
type Concat struct {
	Left, Right Node
}

func (c *Concat) text(dst *strings.Builder) { binary(dst, c.Left, "||", c.Right) }

func (c *Concat) walk(v Visitor) {
	Walk(v, c.Left)
	Walk(v, c.Right)
}

func (c *Concat) Equals(x Node) bool {
	xc, ok := x.(*Concat)
	return ok && c.Left.Equals(xc.Left) && c.Right.Equals(xc.Right)
}

// CmpOp is a comparison operator
type CmpOp int

const (
	Equals CmpOp = iota
	NotEquals
	Less
	LessEquals
	Greater
	GreaterEquals
)

func (c CmpOp) String() string {
	switch c {
	case Equals:
		return "="
	case NotEquals:
		return "<>"
	case Less:
		return "<"
	case LessEquals:
		return "<="
	case Greater:
		return ">"
	case GreaterEquals:
		return ">="
	default:
		return fmt.Sprintf("<CmpOp=%d>", int(c))
	}
}

// Flip returns the operator that yields the
// same result when the operands are swapped.
func (c CmpOp) Flip() CmpOp {
	switch c {
	case Less:
		return Greater
	case LessEquals:
		return GreaterEquals
	case Greater:
		return Less
	case GreaterEquals:
		return LessEquals
	}
	return c
}

// Comparison is a binary comparison expression
type Comparison struct {
	Op          CmpOp
	Left, Right Node
}

// Compare generates a comparison expression.
func Compare(op CmpOp, left, right Node) *Comparison {
	return &Comparison{Op: op, Left: left, Right: right}
}

func (c *Comparison) text(dst *strings.Builder) { binary(dst, c.Left, c.Op.String(), c.Right) }

func (c *Comparison) walk(v Visitor) {
	Walk(v, c.Left)
	Walk(v, c.Right)
}

func (c *Comparison) Equals(x Node) bool {
	xc, ok := x.(*Comparison)
	return ok && xc.Op == c.Op && c.Left.Equals(xc.Left) && c.Right.Equals(xc.Right)
}

// LogicalOp is a logical operator
type LogicalOp int

const (
	OpAnd LogicalOp = iota
	OpOr
)

func (l LogicalOp) String() string {
	if l == OpAnd {
		return "and"
	}
	return "or"
}

// Logical is a three-valued logical expression
type Logical struct {
	Op          LogicalOp
	Left, Right Node
}

func And(left, right Node) *Logical { return &Logical{Op: OpAnd, Left: left, Right: right} }
func Or(left, right Node) *Logical  { return &Logical{Op: OpOr, Left: left, Right: right} }

func (l *Logical) text(dst *strings.Builder) { binary(dst, l.Left, l.Op.String(), l.Right) }

func (l *Logical) walk(v Visitor) {
	Walk(v, l.Left)
	Walk(v, l.Right)
}

func (l *Logical) Equals(x Node) bool {
	xl, ok := x.(*Logical)
	return ok && xl.Op == l.Op && l.Left.Equals(xl.Left) && l.Right.Equals(xl.Right)
}

// Not is logical negation
type Not struct {
	Expr Node
}

func (n *Not) text(dst *strings.Builder) {
	dst.WriteString("not ")
	if infix(n.Expr) {
		dst.WriteByte('(')
		n.Expr.text(dst)
		dst.WriteByte(')')
		return
	}
	n.Expr.text(dst)
}

func (n *Not) walk(v Visitor) { Walk(v, n.Expr) }

func (n *Not) Equals(x Node) bool {
	xn, ok := x.(*Not)
	return ok && n.Expr.Equals(xn.Expr)
}

// IsNull is the IS [NOT] NULL predicate
type IsNull struct {
	Expr    Node
	Negated bool
}

func (i *IsNull) text(dst *strings.Builder) {
	if infix(i.Expr) {
		dst.WriteByte('(')
		i.Expr.text(dst)
		dst.WriteByte(')')
	} else {
		i.Expr.text(dst)
	}
	if i.Negated {
		dst.WriteString(" is not null")
	} else {
		dst.WriteString(" is null")
	}
}

func (i *IsNull) walk(v Visitor) { Walk(v, i.Expr) }

func (i *IsNull) Equals(x Node) bool {
	xi, ok := x.(*IsNull)
	return ok && xi.Negated == i.Negated && i.Expr.Equals(xi.Expr)
}

// Cast is an explicit conversion
type Cast struct {
	From Node
	To   Type
}

func (c *Cast) text(dst *strings.Builder) {
	dst.WriteString("cast(")
	c.From.text(dst)
	dst.WriteString(" as ")
	dst.WriteString(c.To.String())
	dst.WriteByte(')')
}

func (c *Cast) walk(v Visitor) { Walk(v, c.From) }

func (c *Cast) Equals(x Node) bool {
	xc, ok := x.(*Cast)
	return ok && xc.To == c.To && c.From.Equals(xc.From)
}

// Call is a call to a named scalar function.
// The name is resolved against a Catalog
// when the function is lowered to IR.
type Call struct {
	Name string
	Args []Node
}

// NewCall generates a call expression.
func NewCall(name string, args ...Node) *Call {
	return &Call{Name: name, Args: args}
}

func (c *Call) text(dst *strings.Builder) {
	dst.WriteString(c.Name)
	dst.WriteByte('(')
	for i := range c.Args {
		if i > 0 {
			dst.WriteString(", ")
		}
		c.Args[i].text(dst)
	}
	dst.WriteByte(')')
}

func (c *Call) walk(v Visitor) {
	for i := range c.Args {
		Walk(v, c.Args[i])
	}
}

func (c *Call) Equals(x Node) bool {
	xc, ok := x.(*Call)
	return ok && xc.Name == c.Name && slices.EqualFunc(c.Args, xc.Args, Equal)
}
