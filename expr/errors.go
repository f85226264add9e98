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
	"errors"
	"fmt"
	"strings"
)

// Position is a line/column position
// in the source text of a function body.
// Lines and columns are 1-based; the zero
// Position means "unknown."
type Position struct {
	Line, Col int
}

func (p Position) IsValid() bool { return p.Line > 0 }

func (p Position) String() string {
	if !p.IsValid() {
		return "?"
	}
	return fmt.Sprintf("%d:%d", p.Line, p.Col)
}

func prefix(dst *strings.Builder, fn string, at Position) {
	if fn != "" {
		dst.WriteString(fn)
		dst.WriteString(": ")
	}
	if at.IsValid() {
		dst.WriteString(at.String())
		dst.WriteString(": ")
	}
}

// SyntaxError is returned when the token
// stream of a function body is malformed.
type SyntaxError struct {
	At  Position
	Msg string
	// Snippet, if non-empty, is the offending
	// source line followed by a caret line
	// pointing at At.Col
	Snippet string
}

func (s *SyntaxError) Error() string {
	var dst strings.Builder
	dst.WriteString("syntax error: ")
	prefix(&dst, "", s.At)
	dst.WriteString(s.Msg)
	if s.Snippet != "" {
		dst.WriteByte('\n')
		dst.WriteString(s.Snippet)
	}
	return dst.String()
}

// UnsupportedConstructError is returned when
// a function body is syntactically valid but uses
// a construct outside of the compilable subset
// (recursion, dynamic typing, SQL statements, etc.)
type UnsupportedConstructError struct {
	At        Position
	Construct string
	Msg       string
}

func (u *UnsupportedConstructError) Error() string {
	var dst strings.Builder
	dst.WriteString("unsupported construct: ")
	prefix(&dst, "", u.At)
	dst.WriteString(u.Construct)
	if u.Msg != "" {
		dst.WriteString(": ")
		dst.WriteString(u.Msg)
	}
	return dst.String()
}

// IncompleteReturnError is returned when a
// control path can reach the end of a function
// body without returning a value.
type IncompleteReturnError struct {
	Func string
	// At is the position of the statement
	// list end that falls through
	At Position
}

func (i *IncompleteReturnError) Error() string {
	var dst strings.Builder
	prefix(&dst, i.Func, i.At)
	dst.WriteString("control reaches end of function without return")
	return dst.String()
}

// TypeMismatchError is returned when the
// operands of an operator, call, assignment,
// or return are not compatible with their context.
type TypeMismatchError struct {
	At   Position
	Expr string // offending expression text, if any
	Msg  string
}

func (t *TypeMismatchError) Error() string {
	var dst strings.Builder
	dst.WriteString("type mismatch: ")
	prefix(&dst, "", t.At)
	if t.Expr != "" {
		dst.WriteString(t.Expr)
		dst.WriteString(": ")
	}
	dst.WriteString(t.Msg)
	return dst.String()
}

// Mismatch constructs a *TypeMismatchError for
// a node at a position.
func Mismatch(at Position, n Printable, f string, args ...any) *TypeMismatchError {
	te := &TypeMismatchError{At: at, Msg: fmt.Sprintf(f, args...)}
	if n != nil {
		te.Expr = ToString(n)
	}
	return te
}

// ReferenceKind distinguishes
// undefined variables from undefined
// function references.
type ReferenceKind int

const (
	VariableRef ReferenceKind = iota
	FunctionRef
)

func (r ReferenceKind) String() string {
	if r == FunctionRef {
		return "function"
	}
	return "variable"
}

// UndefinedReferenceError is returned
// when a variable or a call target
// cannot be resolved.
type UndefinedReferenceError struct {
	At   Position
	Kind ReferenceKind
	Name string
}

func (u *UndefinedReferenceError) Error() string {
	var dst strings.Builder
	prefix(&dst, "", u.At)
	fmt.Fprintf(&dst, "undefined %s %q", u.Kind, u.Name)
	return dst.String()
}

// Errors produced by partial operations.
// Under default null handling these turn
// into a null result for the offending row.
var (
	ErrDivisionByZero    = errors.New("division by zero")
	ErrOverflow          = errors.New("integer out of range")
	ErrInvalidConversion = errors.New("invalid conversion")
	ErrDomain            = errors.New("argument out of domain")
)

// IsComputationError returns whether err is
// one of the partial-operation errors (as opposed
// to an explicit raise or an internal error).
func IsComputationError(err error) bool {
	return errors.Is(err, ErrDivisionByZero) ||
		errors.Is(err, ErrOverflow) ||
		errors.Is(err, ErrInvalidConversion) ||
		errors.Is(err, ErrDomain)
}
