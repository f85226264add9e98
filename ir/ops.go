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

// EvalOp computes a pure value for one row
// from the values of its arguments. Null
// arguments propagate unless the op is
// null-safe. A partial op that fails returns
// one of the expr computation errors.
func EvalOp(f *Func, v *Value, args []expr.Datum) (expr.Datum, error) {
	if !v.NullSafe() {
		for i := range args {
			if args[i].IsNull() {
				return expr.NullDatum, nil
			}
		}
	}
	switch v.Op {
	case OpConst:
		return v.Const, nil
	case OpArith:
		return expr.Arith(expr.ArithOp(v.Aux), args[0], args[1])
	case OpNeg:
		return expr.Negate(args[0])
	case OpConcat:
		return expr.ConcatStrings(args[0], args[1]), nil
	case OpCmp:
		return expr.Cmp(expr.CmpOp(v.Aux), args[0], args[1]), nil
	case OpAnd:
		return expr.Kleene(expr.OpAnd, args[0], args[1]), nil
	case OpOr:
		return expr.Kleene(expr.OpOr, args[0], args[1]), nil
	case OpNot:
		return expr.LogicalNot(args[0]), nil
	case OpIsNull:
		return expr.BoolDatum(args[0].IsNull() != (v.Aux != 0)), nil
	case OpCast:
		return expr.CastDatum(args[0], v.Type)
	case OpCall:
		// the callee may widen its arguments in place
		tmp := make([]expr.Datum, len(args))
		copy(tmp, args)
		d, err := v.Fn.Call(tmp)
		if err != nil {
			return expr.NullDatum, fmt.Errorf("%s: %w", v.Fn.Name, err)
		}
		return d.Widen(v.Type), nil
	}
	return expr.NullDatum, fmt.Errorf("ir.EvalOp: unexpected op %s", v.Op)
}
