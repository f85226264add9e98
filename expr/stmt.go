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
	"strconv"
	"strings"
)

// Stmt is a statement in a function body
type Stmt interface {
	Printable
	// Pos returns the position of the
	// first token of the statement.
	Pos() Position
	format(dst *strings.Builder, indent int)
}

func tabs(dst *strings.Builder, indent int) {
	for i := 0; i < indent; i++ {
		dst.WriteByte('\t')
	}
}

func formatBlock(dst *strings.Builder, body []Stmt, indent int) {
	dst.WriteString("{\n")
	for i := range body {
		body[i].format(dst, indent+1)
	}
	tabs(dst, indent)
	dst.WriteByte('}')
}

func formatMax(dst *strings.Builder, max int64) {
	if max > 0 {
		dst.WriteString(" max ")
		dst.WriteString(strconv.FormatInt(max, 10))
	}
}

// Declare is a local variable declaration.
// Type is TypeInvalid if the declaration
// has no explicit type, in which case the type
// is inferred from Value.
type Declare struct {
	At    Position
	Name  string
	Type  Type
	Value Node // nil if not initialized
}

// Assign is an assignment to a parameter or
// local variable. Compound assignments are
// represented as plain assignments of the
// corresponding binary expression.
type Assign struct {
	At    Position
	Name  string
	Value Node
}

// If is a conditional. An elif chain
// is represented as a nested If as the
// sole statement of Else.
type If struct {
	At   Position
	Cond Node
	Then []Stmt
	Else []Stmt
}

// While is a conditional loop.
// Max is the declared iteration bound,
// or zero if none was declared.
type While struct {
	At   Position
	Cond Node
	Body []Stmt
	Max  int64
}

// ForRange iterates Var over the
// inclusive range [From, To].
type ForRange struct {
	At       Position
	Var      string
	From, To Node
	Body     []Stmt
	Max      int64
}

// Loop is an infinite loop that
// can only be left with break or return.
type Loop struct {
	At   Position
	Body []Stmt
	Max  int64
}

// Break leaves the innermost loop.
type Break struct{ At Position }

// Continue jumps to the next iteration of the innermost loop.
type Continue struct{ At Position }

// Return returns a value from the function.
type Return struct {
	At    Position
	Value Node
}

// Raise aborts evaluation with an error message.
type Raise struct {
	At      Position
	Message Node
}

// Notice emits a message as a side effect
type Notice struct {
	At      Position
	Message Node
}

func (d *Declare) Pos() Position  { return d.At }
func (a *Assign) Pos() Position   { return a.At }
func (i *If) Pos() Position       { return i.At }
func (w *While) Pos() Position    { return w.At }
func (f *ForRange) Pos() Position { return f.At }
func (l *Loop) Pos() Position     { return l.At }
func (b *Break) Pos() Position    { return b.At }
func (c *Continue) Pos() Position { return c.At }
func (r *Return) Pos() Position   { return r.At }
func (r *Raise) Pos() Position    { return r.At }
func (n *Notice) Pos() Position   { return n.At }

func (d *Declare) text(dst *strings.Builder)  { d.format(dst, 0) }
func (a *Assign) text(dst *strings.Builder)   { a.format(dst, 0) }
func (i *If) text(dst *strings.Builder)       { i.format(dst, 0) }
func (w *While) text(dst *strings.Builder)    { w.format(dst, 0) }
func (f *ForRange) text(dst *strings.Builder) { f.format(dst, 0) }
func (l *Loop) text(dst *strings.Builder)     { l.format(dst, 0) }
func (b *Break) text(dst *strings.Builder)    { b.format(dst, 0) }
func (c *Continue) text(dst *strings.Builder) { c.format(dst, 0) }
func (r *Return) text(dst *strings.Builder)   { r.format(dst, 0) }
func (r *Raise) text(dst *strings.Builder)    { r.format(dst, 0) }
func (n *Notice) text(dst *strings.Builder)   { n.format(dst, 0) }

func (d *Declare) format(dst *strings.Builder, indent int) {
	tabs(dst, indent)
	dst.WriteString("var ")
	dst.WriteString(d.Name)
	if d.Type != TypeInvalid {
		dst.WriteByte(' ')
		dst.WriteString(d.Type.String())
	}
	if d.Value != nil {
		dst.WriteString(" = ")
		d.Value.text(dst)
	}
	dst.WriteByte('\n')
}

func (a *Assign) format(dst *strings.Builder, indent int) {
	tabs(dst, indent)
	dst.WriteString(a.Name)
	dst.WriteString(" = ")
	a.Value.text(dst)
	dst.WriteByte('\n')
}

func (i *If) format(dst *strings.Builder, indent int) {
	tabs(dst, indent)
	i.chain(dst, indent)
	dst.WriteByte('\n')
}

func (i *If) chain(dst *strings.Builder, indent int) {
	dst.WriteString("if ")
	i.Cond.text(dst)
	dst.WriteByte(' ')
	formatBlock(dst, i.Then, indent)
	if len(i.Else) == 0 {
		return
	}
	dst.WriteString(" else ")
	if len(i.Else) == 1 {
		if elif, ok := i.Else[0].(*If); ok {
			elif.chain(dst, indent)
			return
		}
	}
	formatBlock(dst, i.Else, indent)
}

func (w *While) format(dst *strings.Builder, indent int) {
	tabs(dst, indent)
	dst.WriteString("while ")
	w.Cond.text(dst)
	formatMax(dst, w.Max)
	dst.WriteByte(' ')
	formatBlock(dst, w.Body, indent)
	dst.WriteByte('\n')
}

func (f *ForRange) format(dst *strings.Builder, indent int) {
	tabs(dst, indent)
	dst.WriteString("for ")
	dst.WriteString(f.Var)
	dst.WriteString(" in ")
	f.From.text(dst)
	dst.WriteString(" .. ")
	f.To.text(dst)
	formatMax(dst, f.Max)
	dst.WriteByte(' ')
	formatBlock(dst, f.Body, indent)
	dst.WriteByte('\n')
}

func (l *Loop) format(dst *strings.Builder, indent int) {
	tabs(dst, indent)
	dst.WriteString("loop")
	formatMax(dst, l.Max)
	dst.WriteByte(' ')
	formatBlock(dst, l.Body, indent)
	dst.WriteByte('\n')
}

func (b *Break) format(dst *strings.Builder, indent int) {
	tabs(dst, indent)
	dst.WriteString("break\n")
}

func (c *Continue) format(dst *strings.Builder, indent int) {
	tabs(dst, indent)
	dst.WriteString("continue\n")
}

func (r *Return) format(dst *strings.Builder, indent int) {
	tabs(dst, indent)
	dst.WriteString("return ")
	r.Value.text(dst)
	dst.WriteByte('\n')
}

func (r *Raise) format(dst *strings.Builder, indent int) {
	tabs(dst, indent)
	dst.WriteString("raise ")
	r.Message.text(dst)
	dst.WriteByte('\n')
}

func (n *Notice) format(dst *strings.Builder, indent int) {
	tabs(dst, indent)
	dst.WriteString("notice ")
	n.Message.text(dst)
	dst.WriteByte('\n')
}

// Inspect calls fn for each statement in body
// in depth-first order, descending into nested
// statement lists when fn returns true.
func Inspect(body []Stmt, fn func(Stmt) bool) {
	for _, s := range body {
		if !fn(s) {
			continue
		}
		switch s := s.(type) {
		case *If:
			Inspect(s.Then, fn)
			Inspect(s.Else, fn)
		case *While:
			Inspect(s.Body, fn)
		case *ForRange:
			Inspect(s.Body, fn)
		case *Loop:
			Inspect(s.Body, fn)
		}
	}
}

// Exprs returns the expressions that appear
// directly in a statement (not in nested statements).
func Exprs(s Stmt) []Node {
	switch s := s.(type) {
	case *Declare:
		if s.Value != nil {
			return []Node{s.Value}
		}
	case *Assign:
		return []Node{s.Value}
	case *If:
		return []Node{s.Cond}
	case *While:
		return []Node{s.Cond}
	case *ForRange:
		return []Node{s.From, s.To}
	case *Return:
		return []Node{s.Value}
	case *Raise:
		return []Node{s.Message}
	case *Notice:
		return []Node{s.Message}
	}
	return nil
}

// Param is a declared function parameter
type Param struct {
	Name string
	Type Type
}

// Function is a parsed function body
// together with its declared signature
// and the pragmas that appeared in the body.
type Function struct {
	Name    string
	Params  []Param
	Returns Type
	Body    []Stmt

	// Strict is set by 'pragma strict';
	// partial operations raise errors
	// rather than producing null.
	Strict bool
	// CalledOnNull is set by 'pragma called_on_null';
	// the body is evaluated even when
	// arguments are null.
	CalledOnNull bool
	// MaxIterations is set by
	// 'pragma max_iterations = N'
	MaxIterations int64
}

// Param returns the index of the named
// parameter, or -1 if there is no such parameter.
func (f *Function) Param(name string) int {
	for i := range f.Params {
		if f.Params[i].Name == name {
			return i
		}
	}
	return -1
}

// Signature returns the text of the
// function signature, i.e. "f(a int, b string) string"
func (f *Function) Signature() string {
	var dst strings.Builder
	dst.WriteString(f.Name)
	dst.WriteByte('(')
	for i := range f.Params {
		if i > 0 {
			dst.WriteString(", ")
		}
		dst.WriteString(f.Params[i].Name)
		dst.WriteByte(' ')
		dst.WriteString(f.Params[i].Type.String())
	}
	dst.WriteString(") ")
	dst.WriteString(f.Returns.String())
	return dst.String()
}

// String returns the source text of the
// function body, including pragmas.
func (f *Function) String() string {
	var dst strings.Builder
	if f.Strict {
		dst.WriteString("pragma strict\n")
	}
	if f.CalledOnNull {
		dst.WriteString("pragma called_on_null\n")
	}
	if f.MaxIterations > 0 {
		dst.WriteString("pragma max_iterations = ")
		dst.WriteString(strconv.FormatInt(f.MaxIterations, 10))
		dst.WriteByte('\n')
	}
	for i := range f.Body {
		f.Body[i].format(&dst, 0)
	}
	return dst.String()
}
