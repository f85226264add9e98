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

func (b *builder) expr(e expr.Node) (ValueID, error) {
	switch e := e.(type) {
	case expr.Constant:
		return b.constant(e.Datum()), nil
	case expr.Ident:
		v, ok := b.lookup(string(e))
		if !ok {
			return NoValue, &expr.UndefinedReferenceError{At: b.at, Kind: expr.VariableRef, Name: string(e)}
		}
		return b.read(v, b.cur), nil
	case *expr.Arithmetic:
		return b.arith(e)
	case *expr.Concat:
		return b.concat(e)
	case *expr.Neg:
		x, err := b.expr(e.Child)
		if err != nil {
			return NoValue, err
		}
		t := b.typeof(x)
		switch {
		case t == expr.TypeNull:
			return b.null(expr.TypeInt), nil
		case !t.Numeric():
			return NoValue, expr.Mismatch(b.at, e, "cannot negate %s", t)
		}
		return b.value(OpNeg, t, x), nil
	case *expr.Comparison:
		return b.compare(e)
	case *expr.Logical:
		return b.logical(e)
	case *expr.Not:
		x, err := b.boolOperand(e.Expr)
		if err != nil {
			return NoValue, err
		}
		return b.value(OpNot, expr.TypeBool, x), nil
	case *expr.IsNull:
		x, err := b.expr(e.Expr)
		if err != nil {
			return NoValue, err
		}
		id := b.value(OpIsNull, expr.TypeBool, x)
		if e.Negated {
			b.f.Values[id].Aux = 1
		}
		return id, nil
	case *expr.Cast:
		x, err := b.expr(e.From)
		if err != nil {
			return NoValue, err
		}
		t := b.typeof(x)
		switch {
		case t == e.To:
			return x, nil
		case t == expr.TypeNull:
			return b.null(e.To), nil
		case !expr.Castable(t, e.To):
			return NoValue, expr.Mismatch(b.at, e, "cannot convert %s to %s", t, e.To)
		}
		return b.value(OpCast, e.To, x), nil
	case *expr.Call:
		return b.call(e)
	}
	return NoValue, fmt.Errorf("ir: unexpected expression %T", e)
}

func (b *builder) binary(left, right expr.Node) (ValueID, ValueID, error) {
	l, err := b.expr(left)
	if err != nil {
		return NoValue, NoValue, err
	}
	r, err := b.expr(right)
	if err != nil {
		return NoValue, NoValue, err
	}
	return l, r, nil
}

func isNumeric(t expr.Type) bool { return t.Numeric() || t == expr.TypeNull }

func (b *builder) arith(e *expr.Arithmetic) (ValueID, error) {
	l, r, err := b.binary(e.Left, e.Right)
	if err != nil {
		return NoValue, err
	}
	lt, rt := b.typeof(l), b.typeof(r)
	if e.Op == expr.AddOp && expr.Unify(lt, rt) == expr.TypeString {
		// string + string is concatenation
		return b.strcat(l, r), nil
	}
	if !isNumeric(lt) || !isNumeric(rt) {
		return NoValue, expr.Mismatch(b.at, e, "operator %s not defined on %s and %s", e.Op, lt, rt)
	}
	t := expr.Unify(lt, rt)
	if t == expr.TypeNull {
		t = expr.TypeInt
	}
	if lt == expr.TypeNull || rt == expr.TypeNull {
		return b.null(t), nil
	}
	id := b.value(OpArith, t, b.coerce(l, t), b.coerce(r, t))
	b.f.Values[id].Aux = int(e.Op)
	return id, nil
}

func (b *builder) strcat(l, r ValueID) ValueID {
	if b.typeof(l) == expr.TypeNull || b.typeof(r) == expr.TypeNull {
		return b.null(expr.TypeString)
	}
	return b.value(OpConcat, expr.TypeString, l, r)
}

// tostring converts a value for concatenation
func (b *builder) tostring(id ValueID) ValueID {
	switch b.typeof(id) {
	case expr.TypeString, expr.TypeNull:
		return id
	}
	return b.value(OpCast, expr.TypeString, id)
}

func (b *builder) concat(e *expr.Concat) (ValueID, error) {
	l, r, err := b.binary(e.Left, e.Right)
	if err != nil {
		return NoValue, err
	}
	lt, rt := b.typeof(l), b.typeof(r)
	if lt != expr.TypeString && rt != expr.TypeString && !(lt == expr.TypeNull && rt == expr.TypeNull) {
		return NoValue, expr.Mismatch(b.at, e, "operator || not defined on %s and %s", lt, rt)
	}
	return b.strcat(b.tostring(l), b.tostring(r)), nil
}

func (b *builder) compare(e *expr.Comparison) (ValueID, error) {
	l, r, err := b.binary(e.Left, e.Right)
	if err != nil {
		return NoValue, err
	}
	lt, rt := b.typeof(l), b.typeof(r)
	t := expr.Unify(lt, rt)
	switch t {
	case expr.TypeInvalid:
		return NoValue, expr.Mismatch(b.at, e, "cannot compare %s with %s", lt, rt)
	case expr.TypeNull:
		return b.null(expr.TypeBool), nil
	}
	if lt == expr.TypeNull || rt == expr.TypeNull {
		return b.null(expr.TypeBool), nil
	}
	id := b.value(OpCmp, expr.TypeBool, b.coerce(l, t), b.coerce(r, t))
	b.f.Values[id].Aux = int(e.Op)
	return id, nil
}

func (b *builder) boolOperand(e expr.Node) (ValueID, error) {
	x, err := b.expr(e)
	if err != nil {
		return NoValue, err
	}
	switch b.typeof(x) {
	case expr.TypeBool:
		return x, nil
	case expr.TypeNull:
		return b.null(expr.TypeBool), nil
	}
	return NoValue, expr.Mismatch(b.at, e, "operand must be bool; have %s", b.typeof(x))
}

// mayTrap returns whether evaluating e
// may fail at run time
func (b *builder) mayTrap(e expr.Node) bool {
	trap := false
	expr.Walk(expr.VisitFn(func(n expr.Node) bool {
		switch n := n.(type) {
		case *expr.Arithmetic, *expr.Neg:
			trap = true
		case *expr.Cast:
			trap = trap || n.To != expr.TypeString
		case *expr.Call:
			fi, ok := b.cat.Lookup(n.Name)
			trap = trap || !ok || fi.Partial
		}
		return !trap
	}), e)
	return trap
}

func (b *builder) logical(e *expr.Logical) (ValueID, error) {
	l, err := b.boolOperand(e.Left)
	if err != nil {
		return NoValue, err
	}
	op := OpAnd
	if e.Op == expr.OpOr {
		op = OpOr
	}
	if !b.mayTrap(e.Right) {
		r, err := b.boolOperand(e.Right)
		if err != nil {
			return NoValue, err
		}
		return b.value(op, expr.TypeBool, l, r), nil
	}

	// lower to a diamond so that the right-hand
	// side is only evaluated (and can only trap)
	// in rows where the left-hand side does not
	// decide the result:
	//
	//   a and b: if not a then false else (a and b)
	//   a or b:  if a then true else (a or b)
	short := b.constant(expr.BoolDatum(op == OpOr))
	cond := l
	if op == OpAnd {
		cond = b.value(OpNot, expr.TypeBool, l)
	}
	rhs := b.block()
	merge := b.block()
	b.condbr(cond, merge, rhs)
	b.seal(rhs)
	b.cur = rhs
	r, err := b.boolOperand(e.Right)
	if err != nil {
		return NoValue, err
	}
	res := b.value(op, expr.TypeBool, l, r)
	b.br(merge)
	b.seal(merge)
	b.cur = merge
	phi := b.f.newValue(merge, OpPhi, expr.TypeBool, short, res)
	phi.At = b.at
	id := phi.ID
	blk := &b.f.Blocks[merge]
	blk.Values = append([]ValueID{id}, blk.Values...)
	return id, nil
}

func (b *builder) call(e *expr.Call) (ValueID, error) {
	fi, ok := b.cat.Lookup(e.Name)
	if !ok {
		return NoValue, &expr.UndefinedReferenceError{At: b.at, Kind: expr.FunctionRef, Name: e.Name}
	}
	args := make([]ValueID, len(e.Args))
	types := make([]expr.Type, len(e.Args))
	hasNull := false
	for i := range e.Args {
		a, err := b.expr(e.Args[i])
		if err != nil {
			return NoValue, err
		}
		args[i] = a
		types[i] = b.typeof(a)
		hasNull = hasNull || types[i] == expr.TypeNull
	}
	t, err := fi.Check(types)
	if err != nil {
		return NoValue, expr.Mismatch(b.at, e, "%s", err)
	}
	if hasNull && !fi.NullCoalescing {
		return b.null(t), nil
	}
	id := b.value(OpCall, t, args...)
	b.f.Values[id].Fn = fi
	return id, nil
}
