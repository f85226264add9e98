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
)

func evalAbs(args []Datum) (Datum, error) {
	d := args[0]
	if d.T == TypeInt {
		if d.I < 0 {
			return Negate(d)
		}
		return d, nil
	}
	return FloatDatum(math.Abs(d.F)), nil
}

func evalSign(args []Datum) (Datum, error) {
	d := args[0]
	if d.T == TypeInt {
		return IntDatum(int64(cmpInt(d.I, 0))), nil
	}
	switch {
	case d.F > 0:
		return FloatDatum(1), nil
	case d.F < 0:
		return FloatDatum(-1), nil
	}
	return d, nil // zero or NaN
}

// RoundFloat rounds f to d decimal places,
// with halves rounded away from zero.
func RoundFloat(f float64, d int64) float64 {
	if d == 0 {
		return math.Round(f)
	}
	if d > 308 || d < -308 || math.IsInf(f, 0) || math.IsNaN(f) {
		if d < 0 {
			return 0
		}
		return f
	}
	p := math.Pow(10, float64(d))
	r := math.Round(f*p) / p
	if math.IsInf(r, 0) || math.IsNaN(r) {
		return f
	}
	return r
}

// RoundInt rounds i to d decimal places;
// only a negative d changes the value.
func RoundInt(i, d int64) int64 {
	if d >= 0 {
		return i
	}
	if d < -18 {
		return 0
	}
	p := int64(1)
	for ; d < 0; d++ {
		p *= 10
	}
	q, r := i/p, i%p
	switch {
	case r*2 >= p:
		q++
	case r*2 <= -p:
		q--
	}
	if _, err := MulInt(q, p); err != nil {
		return i
	}
	return q * p
}

func evalRound(args []Datum) (Datum, error) {
	var places int64
	if len(args) > 1 {
		places = args[1].I
	}
	if args[0].T == TypeInt {
		return IntDatum(RoundInt(args[0].I, places)), nil
	}
	return FloatDatum(RoundFloat(args[0].F, places)), nil
}

func mathOrInt(fn func(float64) float64) func([]Datum) (Datum, error) {
	return func(args []Datum) (Datum, error) {
		if args[0].T == TypeInt {
			return args[0], nil
		}
		return FloatDatum(fn(args[0].F)), nil
	}
}

var (
	evalFloor = mathOrInt(math.Floor)
	evalCeil  = mathOrInt(math.Ceil)
	evalTrunc = mathOrInt(math.Trunc)
)

func domainErr(fn string, f float64) error {
	return fmt.Errorf("%s(%g): %w", fn, f, ErrDomain)
}

func evalSqrt(args []Datum) (Datum, error) {
	f := args[0].Float()
	if f < 0 {
		return NullDatum, domainErr("sqrt", f)
	}
	return FloatDatum(math.Sqrt(f)), nil
}

func evalPower(args []Datum) (Datum, error) {
	x, y := args[0].Float(), args[1].Float()
	if x == 0 && y < 0 {
		return NullDatum, fmt.Errorf("power: zero raised to a negative power: %w", ErrDomain)
	}
	if x < 0 && y != math.Trunc(y) {
		return NullDatum, fmt.Errorf("power: negative number raised to a non-integer power: %w", ErrDomain)
	}
	return FloatDatum(math.Pow(x, y)), nil
}

func evalLn(args []Datum) (Datum, error) {
	f := args[0].Float()
	if f <= 0 {
		return NullDatum, domainErr("ln", f)
	}
	return FloatDatum(math.Log(f)), nil
}

func evalLog10(args []Datum) (Datum, error) {
	f := args[0].Float()
	if f <= 0 {
		return NullDatum, domainErr("log10", f)
	}
	return FloatDatum(math.Log10(f)), nil
}

func evalExp(args []Datum) (Datum, error) {
	return FloatDatum(math.Exp(args[0].Float())), nil
}

func evalMod(args []Datum) (Datum, error) {
	return Arith(ModOp, args[0], args[1])
}

// widest returns the widest numeric type
// among the non-null args, or the type of
// the first non-null argument otherwise
func widest(args []Datum) Type {
	t := TypeNull
	for i := range args {
		if !args[i].IsNull() {
			if u := Unify(t, args[i].T); u != TypeInvalid {
				t = u
			}
		}
	}
	return t
}

func extreme(args []Datum, want int) Datum {
	t := widest(args)
	out := NullDatum
	for i := range args {
		if args[i].IsNull() {
			continue
		}
		if out.IsNull() || CompareDatum(args[i], out) == want {
			out = args[i]
		}
	}
	return out.Widen(t)
}

func evalGreatest(args []Datum) (Datum, error) { return extreme(args, 1), nil }
func evalLeast(args []Datum) (Datum, error)    { return extreme(args, -1), nil }

func evalCoalesce(args []Datum) (Datum, error) {
	t := widest(args)
	for i := range args {
		if !args[i].IsNull() {
			return args[i].Widen(t), nil
		}
	}
	return NullDatum, nil
}

func evalNullIf(args []Datum) (Datum, error) {
	if args[0].IsNull() {
		return NullDatum, nil
	}
	if !args[1].IsNull() && CompareDatum(args[0], args[1]) == 0 {
		return NullDatum, nil
	}
	return args[0], nil
}

func evalIsNull(args []Datum) (Datum, error) {
	return BoolDatum(args[0].IsNull()), nil
}

func evalCast(to Type) func([]Datum) (Datum, error) {
	return func(args []Datum) (Datum, error) {
		return CastDatum(args[0], to)
	}
}
