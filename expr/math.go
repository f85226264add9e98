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
	"math"
	"math/bits"
	"strings"
)

// The functions in this file define the
// row-level semantics of every operator.
// The IR constant folder, the scalar interpreter,
// and the vector kernels all defer to them.

// AddInt returns a+b or ErrOverflow.
func AddInt(a, b int64) (int64, error) {
	c := a + b
	// overflow iff both operands have the
	// same sign and the result's sign differs
	if (a >= 0) == (b >= 0) && (c >= 0) != (a >= 0) {
		return 0, ErrOverflow
	}
	return c, nil
}

// SubInt returns a-b or ErrOverflow.
func SubInt(a, b int64) (int64, error) {
	c := a - b
	if (a >= 0) != (b >= 0) && (c >= 0) != (a >= 0) {
		return 0, ErrOverflow
	}
	return c, nil
}

// MulInt returns a*b or ErrOverflow.
func MulInt(a, b int64) (int64, error) {
	if a == 0 || b == 0 {
		return 0, nil
	}
	neg := (a < 0) != (b < 0)
	hi, lo := bits.Mul64(absu(a), absu(b))
	if hi != 0 {
		return 0, ErrOverflow
	}
	if neg {
		if lo > 1<<63 {
			return 0, ErrOverflow
		}
		return -int64(lo), nil
	}
	if lo > math.MaxInt64 {
		return 0, ErrOverflow
	}
	return int64(lo), nil
}

func absu(a int64) uint64 {
	if a < 0 {
		return uint64(-a) // also correct for MinInt64
	}
	return uint64(a)
}

// DivInt returns a/b truncated toward zero,
// or ErrDivisionByZero or ErrOverflow.
func DivInt(a, b int64) (int64, error) {
	if b == 0 {
		return 0, ErrDivisionByZero
	}
	if b == -1 && a == math.MinInt64 {
		return 0, ErrOverflow
	}
	return a / b, nil
}

// ModInt returns the remainder of a/b with
// the sign of a, or ErrDivisionByZero.
func ModInt(a, b int64) (int64, error) {
	if b == 0 {
		return 0, ErrDivisionByZero
	}
	if b == -1 {
		return 0, nil
	}
	return a % b, nil
}

// NegInt returns -a or ErrOverflow.
func NegInt(a int64) (int64, error) {
	if a == math.MinInt64 {
		return 0, ErrOverflow
	}
	return -a, nil
}

// ArithInt applies op to integer operands.
func ArithInt(op ArithOp, a, b int64) (int64, error) {
	switch op {
	case AddOp:
		return AddInt(a, b)
	case SubOp:
		return SubInt(a, b)
	case MulOp:
		return MulInt(a, b)
	case DivOp:
		return DivInt(a, b)
	case ModOp:
		return ModInt(a, b)
	}
	panic("expr.ArithInt: bad op " + op.String())
}

// ArithFloat applies op to float operands.
// Division and modulus by zero are errors;
// other results are never errors.
func ArithFloat(op ArithOp, a, b float64) (float64, error) {
	switch op {
	case AddOp:
		return a + b, nil
	case SubOp:
		return a - b, nil
	case MulOp:
		return a * b, nil
	case DivOp:
		if b == 0 {
			return 0, ErrDivisionByZero
		}
		return a / b, nil
	case ModOp:
		if b == 0 {
			return 0, ErrDivisionByZero
		}
		return math.Mod(a, b), nil
	}
	panic("expr.ArithFloat: bad op " + op.String())
}

// Arith applies op to two datums, widening
// ints to floats when the operand types differ.
// A null operand yields a null result.
func Arith(op ArithOp, a, b Datum) (Datum, error) {
	if a.IsNull() || b.IsNull() {
		return NullDatum, nil
	}
	if a.T == TypeInt && b.T == TypeInt {
		i, err := ArithInt(op, a.I, b.I)
		if err != nil {
			return NullDatum, err
		}
		return IntDatum(i), nil
	}
	f, err := ArithFloat(op, a.Float(), b.Float())
	if err != nil {
		return NullDatum, err
	}
	return FloatDatum(f), nil
}

// Negate returns -d.
func Negate(d Datum) (Datum, error) {
	switch d.T {
	case TypeInt:
		i, err := NegInt(d.I)
		if err != nil {
			return NullDatum, err
		}
		return IntDatum(i), nil
	case TypeFloat:
		return FloatDatum(-d.F), nil
	}
	return NullDatum, nil
}

// ConcatStrings returns the concatenation of two datums
// (null if either is null).
func ConcatStrings(a, b Datum) Datum {
	if a.IsNull() || b.IsNull() {
		return NullDatum
	}
	return StringDatum(a.S + b.S)
}

// Ordered reports the outcome of
// a three-way comparison as a CmpOp result.
func (c CmpOp) Ordered(cmp int) bool {
	switch c {
	case Equals:
		return cmp == 0
	case NotEquals:
		return cmp != 0
	case Less:
		return cmp < 0
	case LessEquals:
		return cmp <= 0
	case Greater:
		return cmp > 0
	case GreaterEquals:
		return cmp >= 0
	}
	return false
}

// CmpFloat compares floats; NaN compares
// greater than every other value and equal to itself.
func CmpFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	case a == b:
		return 0
	}
	an, bn := math.IsNaN(a), math.IsNaN(b)
	switch {
	case an && bn:
		return 0
	case an:
		return 1
	default:
		return -1
	}
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

// CompareDatum compares two non-null datums
// of comparable types and returns -1, 0, or 1.
func CompareDatum(a, b Datum) int {
	switch {
	case a.T == TypeInt && b.T == TypeInt:
		return cmpInt(a.I, b.I)
	case a.T.Numeric() && b.T.Numeric():
		return CmpFloat(a.Float(), b.Float())
	case a.T == TypeString && b.T == TypeString:
		return strings.Compare(a.S, b.S)
	case a.T == TypeBool && b.T == TypeBool:
		return cmpBool(a.B, b.B)
	}
	return cmpInt(int64(a.T), int64(b.T))
}

// Cmp evaluates a comparison; a null
// operand yields a null result.
func Cmp(op CmpOp, a, b Datum) Datum {
	if a.IsNull() || b.IsNull() {
		return NullDatum
	}
	return BoolDatum(op.Ordered(CompareDatum(a, b)))
}

// Kleene evaluates three-valued AND/OR.
// A null operand only yields null when
// the other operand does not decide the result.
func Kleene(op LogicalOp, a, b Datum) Datum {
	if op == OpAnd {
		switch {
		case !a.IsNull() && !a.B, !b.IsNull() && !b.B:
			return BoolDatum(false)
		case a.IsNull() || b.IsNull():
			return NullDatum
		}
		return BoolDatum(true)
	}
	switch {
	case !a.IsNull() && a.B, !b.IsNull() && b.B:
		return BoolDatum(true)
	case a.IsNull() || b.IsNull():
		return NullDatum
	}
	return BoolDatum(false)
}

// LogicalNot negates a boolean datum.
func LogicalNot(d Datum) Datum {
	if d.IsNull() {
		return NullDatum
	}
	return BoolDatum(!d.B)
}
