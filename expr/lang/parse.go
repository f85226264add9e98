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

// Package lang implements the lexer and
// parser for function bodies.
package lang

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/SnellerInc/udfc/expr"
)

// Signature is the declared signature
// of the function whose body is being parsed.
type Signature struct {
	Name    string
	Params  []expr.Param
	Returns expr.Type
}

// Parse parses the body of a function.
//
// Parse returns an *expr.SyntaxError when
// the body is malformed, an *expr.UnsupportedConstructError
// when it uses a construct that cannot be compiled,
// and an *expr.IncompleteReturnError when a path
// through the body does not return a value.
// Syntax errors carry a snippet of the source
// with a caret pointing at the offending token.
func Parse(src []byte, sig Signature) (*expr.Function, error) {
	p := &parser{
		s:   newScanner(src),
		sig: &sig,
	}
	fn, err := p.parse()
	if err != nil {
		return nil, annotate(err, src)
	}
	return fn, nil
}

// ParseExpr parses a single expression.
func ParseExpr(src string) (expr.Node, error) {
	p := &parser{s: newScanner([]byte(src)), sig: &Signature{}}
	e, err := p.parseTop()
	if err != nil {
		return nil, annotate(err, []byte(src))
	}
	return e, nil
}

func (p *parser) parseTop() (expr.Node, error) {
	if err := p.advance(); err != nil {
		return nil, err
	}
	e, err := p.expr(precLowest)
	if err != nil {
		return nil, err
	}
	if p.tok.kind != tEOF {
		return nil, p.unexpected("end of input")
	}
	return e, nil
}

// annotate converts lexer errors to
// syntax errors and attaches source snippets
func annotate(err error, src []byte) error {
	var le *LexerError
	if errors.As(err, &le) {
		err = &expr.SyntaxError{At: le.At, Msg: le.Msg}
	}
	var se *expr.SyntaxError
	if errors.As(err, &se) && se.Snippet == "" {
		se.Snippet = Snippet(src, se.At)
	}
	return err
}

type parser struct {
	s   *scanner
	sig *Signature
	tok token

	// loop nesting depth
	loops int
}

func (p *parser) advance() error {
	tok, err := p.s.next()
	if err != nil {
		return err
	}
	p.tok = tok
	return nil
}

func (p *parser) errorf(at expr.Position, f string, args ...any) error {
	return &expr.SyntaxError{At: at, Msg: fmt.Sprintf(f, args...)}
}

func (p *parser) unexpected(want string) error {
	return p.errorf(p.tok.pos, "unexpected %s; expected %s", &p.tok, want)
}

func (p *parser) unsupported(at expr.Position, construct, f string, args ...any) error {
	return &expr.UnsupportedConstructError{At: at, Construct: construct, Msg: fmt.Sprintf(f, args...)}
}

// expect consumes a token of the given kind
func (p *parser) expect(k tokKind) (token, error) {
	if p.tok.kind != k {
		return token{}, p.unexpected(k.String())
	}
	tok := p.tok
	return tok, p.advance()
}

// accept consumes a token of the given
// kind if it is the current token
func (p *parser) accept(k tokKind) (bool, error) {
	if p.tok.kind != k {
		return false, nil
	}
	return true, p.advance()
}

func (p *parser) keyword(kw string) error {
	if !p.tok.is(kw) {
		return p.unexpected(strconv.Quote(kw))
	}
	return p.advance()
}

// optional trailing semicolon
func (p *parser) semi() error {
	_, err := p.accept(tSemi)
	return err
}

var reserved = map[string]bool{
	"var": true, "if": true, "elif": true, "else": true,
	"while": true, "for": true, "in": true, "loop": true,
	"break": true, "continue": true, "return": true,
	"raise": true, "notice": true, "pragma": true,
	"and": true, "or": true, "not": true, "is": true,
	"null": true, "true": true, "false": true,
	"cast": true, "as": true,
}

// statements that are valid in SQL procedural
// languages but cannot be compiled
var unsupported = map[string]string{
	"select":    "SQL statement",
	"perform":   "SQL statement",
	"execute":   "dynamic SQL",
	"insert":    "SQL statement",
	"update":    "SQL statement",
	"delete":    "SQL statement",
	"func":      "nested function",
	"function":  "nested function",
	"try":       "exception handling",
	"exception": "exception handling",
	"goto":      "goto",
	"yield":     "generator",
}

func (p *parser) parse() (*expr.Function, error) {
	fn := &expr.Function{
		Name:    p.sig.Name,
		Params:  p.sig.Params,
		Returns: p.sig.Returns,
	}
	if err := p.advance(); err != nil {
		return nil, err
	}
	for p.tok.is("pragma") {
		if err := p.pragma(fn); err != nil {
			return nil, err
		}
	}
	body, err := p.stmts(tEOF)
	if err != nil {
		return nil, err
	}
	fn.Body = body
	if err := checkReachable(body); err != nil {
		return nil, err
	}
	if !terminates(body) {
		return nil, &expr.IncompleteReturnError{Func: fn.Name, At: p.tok.pos}
	}
	return fn, nil
}

func (p *parser) pragma(fn *expr.Function) error {
	at := p.tok.pos
	if err := p.advance(); err != nil {
		return err
	}
	name, err := p.expect(tIdent)
	if err != nil {
		return err
	}
	switch strings.ToLower(name.text) {
	case "strict":
		fn.Strict = true
	case "called_on_null":
		fn.CalledOnNull = true
	case "max_iterations":
		if _, err := p.expect(tEq); err != nil {
			return err
		}
		n, err := p.bound()
		if err != nil {
			return err
		}
		fn.MaxIterations = n
	default:
		return p.errorf(at, "unknown pragma %q", name.text)
	}
	return p.semi()
}

// bound parses a positive integer iteration bound
func (p *parser) bound() (int64, error) {
	tok, err := p.expect(tInt)
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(tok.text, 10, 64)
	if err != nil || n <= 0 {
		return 0, p.errorf(tok.pos, "iteration bound must be a positive integer; got %s", tok.text)
	}
	return n, nil
}

// stmts parses statements until the closing token
// (which is not consumed)
func (p *parser) stmts(end tokKind) ([]expr.Stmt, error) {
	var out []expr.Stmt
	for p.tok.kind != end {
		if p.tok.kind == tEOF {
			return nil, p.unexpected(end.String())
		}
		if p.tok.kind == tSemi {
			if err := p.advance(); err != nil {
				return nil, err
			}
			continue
		}
		s, err := p.stmt()
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func (p *parser) block() ([]expr.Stmt, error) {
	if _, err := p.expect(tLBrace); err != nil {
		return nil, err
	}
	body, err := p.stmts(tRBrace)
	if err != nil {
		return nil, err
	}
	return body, p.advance()
}

func (p *parser) loopBody() ([]expr.Stmt, error) {
	p.loops++
	body, err := p.block()
	p.loops--
	return body, err
}

// maxClause parses an optional 'max N'
func (p *parser) maxClause() (int64, error) {
	if !p.tok.is("max") {
		return 0, nil
	}
	if err := p.advance(); err != nil {
		return 0, err
	}
	return p.bound()
}

func (p *parser) stmt() (expr.Stmt, error) {
	at := p.tok.pos
	if p.tok.kind != tIdent {
		return nil, p.unexpected("statement")
	}
	kw := strings.ToLower(p.tok.text)
	if what, ok := unsupported[kw]; ok {
		return nil, p.unsupported(at, what, "%q statements are not supported", kw)
	}
	switch kw {
	case "var":
		return p.declare(at)
	case "if":
		if err := p.advance(); err != nil {
			return nil, err
		}
		return p.ifChain(at)
	case "while":
		if err := p.advance(); err != nil {
			return nil, err
		}
		cond, err := p.expr(precLowest)
		if err != nil {
			return nil, err
		}
		max, err := p.maxClause()
		if err != nil {
			return nil, err
		}
		body, err := p.loopBody()
		if err != nil {
			return nil, err
		}
		return &expr.While{At: at, Cond: cond, Body: body, Max: max}, nil
	case "for":
		return p.forRange(at)
	case "loop":
		if err := p.advance(); err != nil {
			return nil, err
		}
		max, err := p.maxClause()
		if err != nil {
			return nil, err
		}
		body, err := p.loopBody()
		if err != nil {
			return nil, err
		}
		return &expr.Loop{At: at, Body: body, Max: max}, nil
	case "break", "continue":
		if p.loops == 0 {
			return nil, p.errorf(at, "%s outside of a loop", kw)
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		if kw == "break" {
			return &expr.Break{At: at}, p.semi()
		}
		return &expr.Continue{At: at}, p.semi()
	case "return", "raise", "notice":
		if err := p.advance(); err != nil {
			return nil, err
		}
		if p.tok.kind == tSemi || p.tok.kind == tRBrace || p.tok.kind == tEOF {
			return nil, p.errorf(p.tok.pos, "%s requires a value", kw)
		}
		e, err := p.expr(precLowest)
		if err != nil {
			return nil, err
		}
		var s expr.Stmt
		switch kw {
		case "return":
			s = &expr.Return{At: at, Value: e}
		case "raise":
			s = &expr.Raise{At: at, Message: e}
		default:
			s = &expr.Notice{At: at, Message: e}
		}
		return s, p.semi()
	case "pragma":
		return nil, p.errorf(at, "pragmas must precede all statements")
	case "elif", "else":
		return nil, p.errorf(at, "%s without if", kw)
	}
	return p.assign(at)
}

func (p *parser) declare(at expr.Position) (expr.Stmt, error) {
	if err := p.advance(); err != nil {
		return nil, err
	}
	name, err := p.ident()
	if err != nil {
		return nil, err
	}
	d := &expr.Declare{At: at, Name: name}
	if p.istype() {
		t, err := p.typename()
		if err != nil {
			return nil, err
		}
		d.Type = t
	}
	ok, err := p.accept(tEq)
	if err != nil {
		return nil, err
	}
	if ok {
		d.Value, err = p.expr(precLowest)
		if err != nil {
			return nil, err
		}
	} else if d.Type == expr.TypeInvalid {
		return nil, p.unsupported(at, "dynamic typing", "variable %q needs a type or an initializer", name)
	}
	return d, p.semi()
}

// ident parses a variable name
func (p *parser) ident() (string, error) {
	tok, err := p.expect(tIdent)
	if err != nil {
		return "", err
	}
	if reserved[strings.ToLower(tok.text)] {
		return "", p.errorf(tok.pos, "%q is a reserved word", tok.text)
	}
	return tok.text, nil
}

// istype returns whether the current
// token begins a type name
func (p *parser) istype() bool {
	if p.tok.kind != tIdent {
		return false
	}
	_, ok := expr.ParseType(p.tok.text)
	return ok
}

func (p *parser) typename() (expr.Type, error) {
	tok, err := p.expect(tIdent)
	if err != nil {
		return expr.TypeInvalid, err
	}
	name := tok.text
	if strings.EqualFold(name, "double") && p.tok.is("precision") {
		name = "double precision"
		if err := p.advance(); err != nil {
			return expr.TypeInvalid, err
		}
	}
	t, ok := expr.ParseType(name)
	if !ok {
		return expr.TypeInvalid, p.errorf(tok.pos, "unknown type %q", tok.text)
	}
	return t, nil
}

func (p *parser) ifChain(at expr.Position) (expr.Stmt, error) {
	cond, err := p.expr(precLowest)
	if err != nil {
		return nil, err
	}
	then, err := p.block()
	if err != nil {
		return nil, err
	}
	s := &expr.If{At: at, Cond: cond, Then: then}
	switch {
	case p.tok.is("elif"):
		elat := p.tok.pos
		if err := p.advance(); err != nil {
			return nil, err
		}
		elif, err := p.ifChain(elat)
		if err != nil {
			return nil, err
		}
		s.Else = []expr.Stmt{elif}
	case p.tok.is("else"):
		if err := p.advance(); err != nil {
			return nil, err
		}
		if p.tok.is("if") {
			elat := p.tok.pos
			if err := p.advance(); err != nil {
				return nil, err
			}
			elif, err := p.ifChain(elat)
			if err != nil {
				return nil, err
			}
			s.Else = []expr.Stmt{elif}
		} else {
			s.Else, err = p.block()
			if err != nil {
				return nil, err
			}
		}
	}
	return s, nil
}

func (p *parser) forRange(at expr.Position) (expr.Stmt, error) {
	if err := p.advance(); err != nil {
		return nil, err
	}
	v, err := p.ident()
	if err != nil {
		return nil, err
	}
	if err := p.keyword("in"); err != nil {
		return nil, err
	}
	if p.tok.is("select") || p.tok.is("execute") {
		return nil, p.unsupported(p.tok.pos, "query loop", "loops over query results are not supported")
	}
	from, err := p.expr(precLowest)
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(tDotDot); err != nil {
		return nil, err
	}
	to, err := p.expr(precLowest)
	if err != nil {
		return nil, err
	}
	max, err := p.maxClause()
	if err != nil {
		return nil, err
	}
	body, err := p.loopBody()
	if err != nil {
		return nil, err
	}
	return &expr.ForRange{At: at, Var: v, From: from, To: to, Body: body, Max: max}, nil
}

func (p *parser) assign(at expr.Position) (expr.Stmt, error) {
	name, err := p.ident()
	if err != nil {
		return nil, err
	}
	op := p.tok.kind
	switch op {
	case tEq, tPlusEq, tMinusEq, tStarEq, tSlashEq, tConcatEq:
	case tLParen:
		return nil, p.errorf(at, "result of %s(...) is not used", name)
	default:
		return nil, p.unexpected("assignment")
	}
	if err := p.advance(); err != nil {
		return nil, err
	}
	rhs, err := p.expr(precLowest)
	if err != nil {
		return nil, err
	}
	id := expr.Ident(name)
	switch op {
	case tPlusEq:
		rhs = expr.Add(id, rhs)
	case tMinusEq:
		rhs = expr.Sub(id, rhs)
	case tStarEq:
		rhs = expr.Mul(id, rhs)
	case tSlashEq:
		rhs = expr.Div(id, rhs)
	case tConcatEq:
		rhs = &expr.Concat{Left: id, Right: rhs}
	}
	return &expr.Assign{At: at, Name: name, Value: rhs}, p.semi()
}
