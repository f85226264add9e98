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

package lang

import (
	"math"
	"strconv"
	"strings"

	"github.com/SnellerInc/udfc/expr"
)

// binding powers, lowest to highest
const (
	precLowest = iota
	precOr
	precAnd
	precNot
	precCompare
	precConcat
	precAdd
	precMul
	precUnary
)

// infix returns the binding power of
// the current token as an infix operator
func (p *parser) infix() int {
	switch p.tok.kind {
	case tIdent:
		switch {
		case p.tok.is("or"):
			return precOr
		case p.tok.is("and"):
			return precAnd
		case p.tok.is("is"):
			return precCompare
		}
	case tEq, tNe, tLt, tLe, tGt, tGe:
		return precCompare
	case tConcat:
		return precConcat
	case tPlus, tMinus:
		return precAdd
	case tStar, tSlash, tPercent:
		return precMul
	}
	return precLowest
}

var cmpops = map[tokKind]expr.CmpOp{
	tEq: expr.Equals,
	tNe: expr.NotEquals,
	tLt: expr.Less,
	tLe: expr.LessEquals,
	tGt: expr.Greater,
	tGe: expr.GreaterEquals,
}

var arithops = map[tokKind]expr.ArithOp{
	tPlus:    expr.AddOp,
	tMinus:   expr.SubOp,
	tStar:    expr.MulOp,
	tSlash:   expr.DivOp,
	tPercent: expr.ModOp,
}

// expr parses an expression whose operators
// all bind more tightly than prec
func (p *parser) expr(prec int) (expr.Node, error) {
	left, err := p.prefix()
	if err != nil {
		return nil, err
	}
	for {
		bp := p.infix()
		if bp <= prec {
			return left, nil
		}
		op := p.tok
		if err := p.advance(); err != nil {
			return nil, err
		}
		if op.is("is") {
			left, err = p.isNull(left)
			if err != nil {
				return nil, err
			}
			continue
		}
		// all binary operators are left-associative
		right, err := p.expr(bp)
		if err != nil {
			return nil, err
		}
		switch {
		case op.is("or"):
			left = expr.Or(left, right)
		case op.is("and"):
			left = expr.And(left, right)
		case op.kind == tConcat:
			left = &expr.Concat{Left: left, Right: right}
		default:
			if cmp, ok := cmpops[op.kind]; ok {
				left = expr.Compare(cmp, left, right)
			} else {
				left = expr.NewArith(arithops[op.kind], left, right)
			}
		}
	}
}

func (p *parser) isNull(left expr.Node) (expr.Node, error) {
	negated := false
	if p.tok.is("not") {
		negated = true
		if err := p.advance(); err != nil {
			return nil, err
		}
	}
	if err := p.keyword("null"); err != nil {
		return nil, err
	}
	return &expr.IsNull{Expr: left, Negated: negated}, nil
}

func (p *parser) prefix() (expr.Node, error) {
	tok := p.tok
	switch tok.kind {
	case tInt:
		if err := p.advance(); err != nil {
			return nil, err
		}
		return p.integer(tok, false)
	case tFloat:
		if err := p.advance(); err != nil {
			return nil, err
		}
		f, err := strconv.ParseFloat(tok.text, 64)
		if err != nil || math.IsInf(f, 0) {
			return nil, p.errorf(tok.pos, "float literal %s out of range", tok.text)
		}
		return expr.Float(f), nil
	case tString:
		return expr.String(tok.text), p.advance()
	case tMinus:
		if err := p.advance(); err != nil {
			return nil, err
		}
		if p.tok.kind == tInt {
			// -9223372036854775808 is representable
			// even though its absolute value is not
			lit := p.tok
			if err := p.advance(); err != nil {
				return nil, err
			}
			// a trailing call/postfix is impossible
			// on an integer, so this is safe
			return p.integer(lit, true)
		}
		child, err := p.expr(precUnary - 1)
		if err != nil {
			return nil, err
		}
		if f, ok := child.(expr.Float); ok {
			return -f, nil
		}
		return &expr.Neg{Child: child}, nil
	case tPlus:
		if err := p.advance(); err != nil {
			return nil, err
		}
		return p.expr(precUnary - 1)
	case tLParen:
		if err := p.advance(); err != nil {
			return nil, err
		}
		e, err := p.expr(precLowest)
		if err != nil {
			return nil, err
		}
		_, err = p.expect(tRParen)
		return e, err
	case tIdent:
		return p.ident2()
	}
	return nil, p.unexpected("expression")
}

func (p *parser) integer(tok token, neg bool) (expr.Node, error) {
	text := tok.text
	if neg {
		text = "-" + text
	}
	i, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return nil, p.errorf(tok.pos, "integer literal %s out of range", text)
	}
	return expr.Integer(i), nil
}

// ident2 parses expressions that
// begin with an identifier
func (p *parser) ident2() (expr.Node, error) {
	tok := p.tok
	kw := strings.ToLower(tok.text)
	switch kw {
	case "true", "false":
		return expr.Bool(kw == "true"), p.advance()
	case "null":
		return expr.Null{}, p.advance()
	case "not":
		if err := p.advance(); err != nil {
			return nil, err
		}
		e, err := p.expr(precNot - 1)
		if err != nil {
			return nil, err
		}
		return &expr.Not{Expr: e}, nil
	case "cast":
		return p.cast()
	case "select":
		return nil, p.unsupported(tok.pos, "SQL statement", "subqueries are not supported")
	}
	if reserved[kw] {
		return nil, p.unexpected("expression")
	}
	if err := p.advance(); err != nil {
		return nil, err
	}
	if p.tok.kind != tLParen {
		return expr.Ident(tok.text), nil
	}
	if strings.EqualFold(tok.text, p.sig.Name) {
		return nil, p.unsupported(tok.pos, "recursion", "function %s calls itself", p.sig.Name)
	}
	if err := p.advance(); err != nil {
		return nil, err
	}
	var args []expr.Node
	for p.tok.kind != tRParen {
		if len(args) > 0 {
			if _, err := p.expect(tComma); err != nil {
				return nil, err
			}
		}
		arg, err := p.expr(precLowest)
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
	}
	if err := p.advance(); err != nil {
		return nil, err
	}
	return &expr.Call{Name: strings.ToLower(tok.text), Args: args}, nil
}

func (p *parser) cast() (expr.Node, error) {
	if err := p.advance(); err != nil {
		return nil, err
	}
	if _, err := p.expect(tLParen); err != nil {
		return nil, err
	}
	from, err := p.expr(precLowest)
	if err != nil {
		return nil, err
	}
	if err := p.keyword("as"); err != nil {
		return nil, err
	}
	to, err := p.typename()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(tRParen); err != nil {
		return nil, err
	}
	return &expr.Cast{From: from, To: to}, nil
}
