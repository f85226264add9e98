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
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/SnellerInc/udfc/expr"
	"github.com/SnellerInc/udfc/ir"
)

type slot interface {
	int64 | float64 | string | bool
}

func slotsOf[T slot](r *reg) []T {
	var z T
	switch any(z).(type) {
	case int64:
		return any(r.i).([]T)
	case float64:
		return any(r.f).([]T)
	case string:
		return any(r.s).([]T)
	default:
		return any(r.b).([]T)
	}
}

// unary returns a null-propagating kernel
// computing fn for every active lane
func unary[A, R slot](fn func(A) (R, error)) opfn {
	return func(f *frame, pc int) int {
		in := &f.a.code[pc]
		m := f.masks[in.mask]
		ra, rd := &f.regs[in.args[0]], &f.regs[in.dst]
		a, d := slotsOf[A](ra), slotsOf[R](rd)
		for i, ok := m.NextSet(0); ok; i, ok = m.NextSet(i + 1) {
			if ra.nulls.Test(i) {
				rd.nulls.Set(i)
				continue
			}
			x, err := fn(a[i])
			if err != nil {
				if f.fail(in, i, err); f.err != nil {
					break
				}
				continue
			}
			rd.nulls.Clear(i)
			d[i] = x
		}
		return pc + 1
	}
}

// binop is the two-operand form of unary
func binop[A, B, R slot](fn func(A, B) (R, error)) opfn {
	return func(f *frame, pc int) int {
		in := &f.a.code[pc]
		m := f.masks[in.mask]
		ra, rb, rd := &f.regs[in.args[0]], &f.regs[in.args[1]], &f.regs[in.dst]
		a, b, d := slotsOf[A](ra), slotsOf[B](rb), slotsOf[R](rd)
		for i, ok := m.NextSet(0); ok; i, ok = m.NextSet(i + 1) {
			if ra.nulls.Test(i) || rb.nulls.Test(i) {
				rd.nulls.Set(i)
				continue
			}
			x, err := fn(a[i], b[i])
			if err != nil {
				if f.fail(in, i, err); f.err != nil {
					break
				}
				continue
			}
			rd.nulls.Clear(i)
			d[i] = x
		}
		return pc + 1
	}
}

func total1[A, R slot](fn func(A) R) opfn {
	return unary(func(a A) (R, error) { return fn(a), nil })
}

func total2[A, B, R slot](fn func(A, B) R) opfn {
	return binop(func(a A, b B) (R, error) { return fn(a, b), nil })
}

func cmpKernel[T slot](op expr.CmpOp, cmp func(a, b T) int) opfn {
	return total2(func(a, b T) bool { return op.Ordered(cmp(a, b)) })
}

func cmpInt(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func cmpBool(a, b bool) int {
	switch {
	case a == b:
		return 0
	case !a:
		return -1
	}
	return 1
}

// generic evaluates a value one lane at a time
func generic(f *frame, pc int) int {
	in := &f.a.code[pc]
	m := f.masks[in.mask]
	rd := &f.regs[in.dst]
	t := in.v.Type
	for i, ok := m.NextSet(0); ok; i, ok = m.NextSet(i + 1) {
		f.args = f.args[:0]
		for _, a := range in.args {
			f.args = append(f.args, f.regs[a].datum(f.a.types[a], i))
		}
		d, err := ir.EvalOp(f.a.fn, in.v, f.args)
		if err != nil {
			if f.fail(in, i, err); f.err != nil {
				break
			}
			continue
		}
		rd.set(t, i, d.Widen(t))
	}
	return pc + 1
}

func kleene(and bool) opfn {
	return func(f *frame, pc int) int {
		in := &f.a.code[pc]
		m := f.masks[in.mask]
		ra, rb, rd := &f.regs[in.args[0]], &f.regs[in.args[1]], &f.regs[in.dst]
		for i, ok := m.NextSet(0); ok; i, ok = m.NextSet(i + 1) {
			an, bn := ra.nulls.Test(i), rb.nulls.Test(i)
			// the value that decides the result
			// regardless of the other operand
			decide := !and
			switch {
			case !an && ra.b[i] == decide, !bn && rb.b[i] == decide:
				rd.nulls.Clear(i)
				rd.b[i] = decide
			case an || bn:
				rd.nulls.Set(i)
			default:
				rd.nulls.Clear(i)
				rd.b[i] = !decide
			}
		}
		return pc + 1
	}
}

func isnull(not bool) opfn {
	return func(f *frame, pc int) int {
		in := &f.a.code[pc]
		m := f.masks[in.mask]
		ra, rd := &f.regs[in.args[0]], &f.regs[in.dst]
		for i, ok := m.NextSet(0); ok; i, ok = m.NextSet(i + 1) {
			rd.nulls.Clear(i)
			rd.b[i] = ra.nulls.Test(i) != not
		}
		return pc + 1
	}
}

// coalesce picks the first non-null
// argument; every argument has the
// result type
func coalesce(f *frame, pc int) int {
	in := &f.a.code[pc]
	m := f.masks[in.mask]
	rd := &f.regs[in.dst]
	t := in.v.Type
lanes:
	for i, ok := m.NextSet(0); ok; i, ok = m.NextSet(i + 1) {
		for _, a := range in.args {
			if r := &f.regs[a]; !r.nulls.Test(i) {
				rd.copyLanesOne(r, t, i)
				continue lanes
			}
		}
		rd.nulls.Set(i)
	}
	return pc + 1
}

func (r *reg) copyLanesOne(src *reg, t expr.Type, i uint) {
	switch t {
	case expr.TypeInt:
		r.i[i] = src.i[i]
	case expr.TypeFloat:
		r.f[i] = src.f[i]
	case expr.TypeString:
		r.s[i] = src.s[i]
	case expr.TypeBool:
		r.b[i] = src.b[i]
	}
	r.nulls.SetTo(i, src.nulls.Test(i))
}

func arithInt(op expr.ArithOp) opfn {
	switch op {
	case expr.AddOp:
		return binop(expr.AddInt)
	case expr.SubOp:
		return binop(expr.SubInt)
	case expr.MulOp:
		return binop(expr.MulInt)
	case expr.DivOp:
		return binop(expr.DivInt)
	case expr.ModOp:
		return binop(expr.ModInt)
	}
	return nil
}

func arithFloat(op expr.ArithOp) opfn {
	if op == expr.AddOp {
		return total2(func(a, b float64) float64 { return a + b })
	}
	return binop(func(a, b float64) (float64, error) { return expr.ArithFloat(op, a, b) })
}

func absInt(x int64) (int64, error) {
	if x < 0 {
		return expr.NegInt(x)
	}
	return x, nil
}

func identity[T slot](x T) T { return x }

func logFn(name string, fn func(float64) float64) func(float64) (float64, error) {
	return func(x float64) (float64, error) {
		if x <= 0 {
			return 0, fmt.Errorf("%s(%g): %w", name, x, expr.ErrDomain)
		}
		return fn(x), nil
	}
}

func sqrt(x float64) (float64, error) {
	if x < 0 {
		return 0, fmt.Errorf("sqrt(%g): %w", x, expr.ErrDomain)
	}
	return math.Sqrt(x), nil
}

func runeCount(s string) int64 { return int64(utf8.RuneCountInString(s)) }

// named wraps the errors of a call kernel
// with the name of the callee
func named(name string, k opfn) opfn {
	return func(f *frame, pc int) int {
		if pc = k(f, pc); f.err != nil {
			if rc, ok := f.err.(*ir.RuntimeComputationError); ok && rc.Err != nil {
				rc.Err = fmt.Errorf("%s: %w", name, rc.Err)
			}
		}
		return pc
	}
}

// kernel selects the handler for v given the
// types of its arguments; it returns false
// for values evaluated one lane at a time
func kernel(f *ir.Func, v *ir.Value) (opfn, bool) {
	var at [3]expr.Type
	for i, a := range v.Args {
		if i < len(at) {
			at[i] = f.Values[a].Type
		}
	}
	same := func(t expr.Type) bool {
		for _, a := range v.Args {
			if f.Values[a].Type != t {
				return false
			}
		}
		return true
	}
	switch v.Op {
	case ir.OpArith:
		switch {
		case v.Type == expr.TypeInt && same(expr.TypeInt):
			if k := arithInt(expr.ArithOp(v.Aux)); k != nil {
				return k, true
			}
		case v.Type == expr.TypeFloat && same(expr.TypeFloat):
			return arithFloat(expr.ArithOp(v.Aux)), true
		}
	case ir.OpNeg:
		switch {
		case v.Type == expr.TypeInt && same(expr.TypeInt):
			return unary(expr.NegInt), true
		case v.Type == expr.TypeFloat && same(expr.TypeFloat):
			return total1(func(x float64) float64 { return -x }), true
		}
	case ir.OpConcat:
		if same(expr.TypeString) {
			return total2(func(a, b string) string { return a + b }), true
		}
	case ir.OpCmp:
		op := expr.CmpOp(v.Aux)
		switch {
		case same(expr.TypeInt):
			return cmpKernel(op, cmpInt), true
		case same(expr.TypeFloat):
			return cmpKernel(op, expr.CmpFloat), true
		case same(expr.TypeString):
			return cmpKernel(op, strings.Compare), true
		case same(expr.TypeBool):
			return cmpKernel(op, cmpBool), true
		}
	case ir.OpAnd, ir.OpOr:
		if same(expr.TypeBool) {
			return kleene(v.Op == ir.OpAnd), true
		}
	case ir.OpNot:
		if same(expr.TypeBool) {
			return total1(func(b bool) bool { return !b }), true
		}
	case ir.OpIsNull:
		return isnull(v.Aux != 0), true
	case ir.OpCast:
		if at[0] == expr.TypeInt && v.Type == expr.TypeFloat {
			return total1(func(x int64) float64 { return float64(x) }), true
		}
		return generic, true
	case ir.OpCall:
		if k := callKernel(v, at[:min(len(v.Args), len(at))], same); k != nil {
			return k, true
		}
	}
	return generic, v.Op != ir.OpCall
}

func callKernel(v *ir.Value, at []expr.Type, same func(expr.Type) bool) opfn {
	fi := v.Fn
	if fi.Op == expr.OpHost {
		return nil
	}
	unaryOf := func(t expr.Type) bool { return len(at) == 1 && at[0] == t }
	var k opfn
	switch fi.Op {
	case expr.OpLength:
		if unaryOf(expr.TypeString) {
			k = total1(runeCount)
		}
	case expr.OpUpper:
		if unaryOf(expr.TypeString) {
			k = total1(strings.ToUpper)
		}
	case expr.OpLower:
		if unaryOf(expr.TypeString) {
			k = total1(strings.ToLower)
		}
	case expr.OpStartsWith:
		if len(at) == 2 && same(expr.TypeString) {
			k = total2(strings.HasPrefix)
		}
	case expr.OpContains:
		if len(at) == 2 && same(expr.TypeString) {
			k = total2(strings.Contains)
		}
	case expr.OpAbs:
		switch {
		case unaryOf(expr.TypeInt):
			k = unary(absInt)
		case unaryOf(expr.TypeFloat):
			k = total1(math.Abs)
		}
	case expr.OpFloor, expr.OpCeil, expr.OpTrunc:
		fn := map[expr.BuiltinOp]func(float64) float64{
			expr.OpFloor: math.Floor,
			expr.OpCeil:  math.Ceil,
			expr.OpTrunc: math.Trunc,
		}[fi.Op]
		switch {
		case unaryOf(expr.TypeInt):
			k = total1(identity[int64])
		case unaryOf(expr.TypeFloat):
			k = total1(fn)
		}
	case expr.OpSqrt:
		if unaryOf(expr.TypeFloat) && v.Type == expr.TypeFloat {
			k = unary(sqrt)
		}
	case expr.OpLn:
		if unaryOf(expr.TypeFloat) && v.Type == expr.TypeFloat {
			k = unary(logFn("ln", math.Log))
		}
	case expr.OpLog10:
		if unaryOf(expr.TypeFloat) && v.Type == expr.TypeFloat {
			k = unary(logFn("log10", math.Log10))
		}
	case expr.OpExp:
		if unaryOf(expr.TypeFloat) && v.Type == expr.TypeFloat {
			k = total1(math.Exp)
		}
	case expr.OpIsNull:
		if len(at) == 1 && v.Type == expr.TypeBool {
			return isnull(false)
		}
	case expr.OpCoalesce, expr.OpIfNull:
		if same(v.Type) {
			return coalesce
		}
	}
	if k == nil || !typeCheck(fi, v, at) {
		return nil
	}
	return named(fi.Name, k)
}

// typeCheck reports whether the result
// type of v is the one the kernel writes
func typeCheck(fi *expr.FuncInfo, v *ir.Value, at []expr.Type) bool {
	switch fi.Op {
	case expr.OpAbs, expr.OpFloor, expr.OpCeil, expr.OpTrunc:
		return v.Type == at[0]
	case expr.OpLength:
		return v.Type == expr.TypeInt
	case expr.OpStartsWith, expr.OpContains:
		return v.Type == expr.TypeBool
	case expr.OpUpper, expr.OpLower:
		return v.Type == expr.TypeString
	}
	return true
}
