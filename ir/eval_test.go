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
	"errors"
	"math"
	"testing"

	"github.com/SnellerInc/udfc/expr"
)

func isBoundErr(bound int64) func(error) bool {
	return func(err error) bool {
		var le *LoopBoundExceededError
		return errors.As(err, &le) && le.Bound == bound
	}
}

func isComputation(target error) func(error) bool {
	return func(err error) bool {
		var re *RuntimeComputationError
		return errors.As(err, &re) && errors.Is(err, target)
	}
}

func isRaise(msg string) func(error) bool {
	return func(err error) bool {
		var re *RuntimeComputationError
		return errors.As(err, &re) && re.Err == nil && re.Msg == msg
	}
}

var (
	intd   = expr.IntDatum
	strd   = expr.StringDatum
	boold  = expr.BoolDatum
	floatd = expr.FloatDatum
	nul    = expr.NullDatum
)

func TestEval(t *testing.T) {
	sum := "var acc = 0\nfor i in 1 .. n max 100 { acc += i }\nreturn acc"
	count := "var i = 0\nwhile i < n { i += 1 }\nreturn i"
	nested := `
var acc = 0
for i in 1 .. n max 10 {
	for j in 1 .. i max 10 { acc += j }
}
return acc`
	skip := `
var acc = 0
for i in 1 .. 10 {
	if i % 2 = 0 { continue }
	if i > 7 { break }
	acc += i
}
return acc`
	raise := "if x < 0 { raise \"negative: \" || x }\nreturn x"
	guarded := "pragma strict\nreturn y <> 0 and x / y > 1"
	sign := "if x < 0 { return 'neg' } elif x = 0 { return 'zero' } else { return 'pos' }"
	doubling := "var i = 1\nloop max 20 {\n\ti *= 2\n\tif i > n { break }\n}\nreturn i"
	forever := "var i = 0\nwhile true max 50 {\n\ti += 3\n\tif i > n { break }\n}\nreturn i"

	intx := params("x", expr.TypeInt)
	intn := params("n", expr.TypeInt)
	intxy := params("x", expr.TypeInt, "y", expr.TypeInt)
	str := params("s", expr.TypeString)

	testcases := []struct {
		src    string
		ret    expr.Type
		params []expr.Param
		env    Env
		args   []expr.Datum
		want   expr.Datum
		err    func(error) bool
	}{
		{src: `return "Udf1 " + name + " 🐥"`, ret: expr.TypeString, params: params("name", expr.TypeString), args: []expr.Datum{strd("Sam")}, want: strd("Udf1 Sam 🐥")},
		{src: `return "Udf1 " + name + " 🐥"`, ret: expr.TypeString, params: params("name", expr.TypeString), args: []expr.Datum{nul}, want: nul},
		{src: sum, ret: expr.TypeInt, params: intn, args: []expr.Datum{intd(10)}, want: intd(55)},
		{src: sum, ret: expr.TypeInt, params: intn, args: []expr.Datum{intd(0)}, want: intd(0)},
		{src: sum, ret: expr.TypeInt, params: intn, args: []expr.Datum{intd(100)}, want: intd(5050)},
		{src: sum, ret: expr.TypeInt, params: intn, args: []expr.Datum{intd(101)}, err: isBoundErr(100)},
		{src: count, ret: expr.TypeInt, params: intn, env: Env{DefaultLoopBound: 5}, args: []expr.Datum{intd(5)}, want: intd(5)},
		{src: count, ret: expr.TypeInt, params: intn, env: Env{DefaultLoopBound: 5}, args: []expr.Datum{intd(6)}, err: isBoundErr(5)},
		// counters reset each time the inner loop is entered
		{src: nested, ret: expr.TypeInt, params: intn, args: []expr.Datum{intd(10)}, want: intd(220)},
		{src: skip, ret: expr.TypeInt, args: nil, want: intd(16)},
		{src: doubling, ret: expr.TypeInt, params: intn, args: []expr.Datum{intd(100)}, want: intd(128)},
		{src: forever, ret: expr.TypeInt, params: intn, args: []expr.Datum{intd(10)}, want: intd(12)},
		{src: "return x / y", ret: expr.TypeInt, params: intxy, args: []expr.Datum{intd(-7), intd(2)}, want: intd(-3)},
		{src: "return x / y", ret: expr.TypeInt, params: intxy, args: []expr.Datum{intd(7), intd(0)}, want: nul},
		{src: "pragma strict\nreturn x / y", ret: expr.TypeInt, params: intxy, args: []expr.Datum{intd(7), intd(0)}, err: isComputation(expr.ErrDivisionByZero)},
		{src: "return x * 2", ret: expr.TypeInt, params: intx, args: []expr.Datum{intd(math.MaxInt64)}, want: nul},
		{src: "pragma strict\nreturn x * 2", ret: expr.TypeInt, params: intx, args: []expr.Datum{intd(math.MaxInt64)}, err: isComputation(expr.ErrOverflow)},
		{src: raise, ret: expr.TypeInt, params: intx, args: []expr.Datum{intd(-1)}, err: isRaise("negative: -1")},
		{src: raise, ret: expr.TypeInt, params: intx, args: []expr.Datum{intd(2)}, want: intd(2)},
		{src: guarded, ret: expr.TypeBool, params: intxy, args: []expr.Datum{intd(4), intd(0)}, want: boold(false)},
		{src: guarded, ret: expr.TypeBool, params: intxy, args: []expr.Datum{intd(4), intd(2)}, want: boold(true)},
		{src: guarded, ret: expr.TypeBool, params: intxy, args: []expr.Datum{intd(2), intd(2)}, want: boold(false)},
		{src: "pragma called_on_null\nif x is null { return -1 }\nreturn x", ret: expr.TypeInt, params: intx, args: []expr.Datum{nul}, want: intd(-1)},
		{src: "pragma called_on_null\nif x is null { return -1 }\nreturn x", ret: expr.TypeInt, params: intx, args: []expr.Datum{intd(3)}, want: intd(3)},
		{src: "pragma called_on_null\nif x > 10 { return 1 } else { return 2 }", ret: expr.TypeInt, params: intx, args: []expr.Datum{nul}, want: intd(2)},
		{src: "return x / 2", ret: expr.TypeFloat, params: params("x", expr.TypeFloat), args: []expr.Datum{intd(3)}, want: floatd(1.5)},
		{src: "return x", ret: expr.TypeFloat, params: intx, args: []expr.Datum{intd(3)}, want: floatd(3)},
		{src: "return upper(s) || '-' || substr(s, 2, 3)", ret: expr.TypeString, params: str, args: []expr.Datum{strd("hello")}, want: strd("HELLO-ell")},
		{src: "pragma called_on_null\nreturn coalesce(s, 'none')", ret: expr.TypeString, params: str, args: []expr.Datum{nul}, want: strd("none")},
		{src: "pragma called_on_null\nraise s", ret: expr.TypeString, params: str, args: []expr.Datum{nul}, want: nul},
		{src: "pragma called_on_null\nraise s", ret: expr.TypeString, params: str, args: []expr.Datum{strd("boom")}, err: isRaise("boom")},
		{src: sign, ret: expr.TypeString, params: intx, args: []expr.Datum{intd(0)}, want: strd("zero")},
		{src: sign, ret: expr.TypeString, params: intx, args: []expr.Datum{intd(-4)}, want: strd("neg")},
		{src: sign, ret: expr.TypeString, params: intx, args: []expr.Datum{intd(9)}, want: strd("pos")},
	}
	for _, tc := range testcases {
		f := compile(t, tc.src, tc.ret, tc.params, tc.env)
		got, err := Eval(f, tc.args, nil)
		if tc.err != nil {
			if err == nil || !tc.err(err) {
				t.Errorf("%q %v: unexpected error %v", tc.src, tc.args, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("%q %v: %v", tc.src, tc.args, err)
			continue
		}
		if !got.Equal(tc.want) || got.Type() != tc.want.Type() {
			t.Errorf("%q %v: got %s, want %s", tc.src, tc.args, got, tc.want)
		}
	}
}

func TestEvalNotice(t *testing.T) {
	src := "pragma called_on_null\nnotice \"hi \" || x\nreturn x + 1"
	f := compile(t, src, expr.TypeInt, params("x", expr.TypeInt), Env{})
	if !f.HasSideEffects() {
		t.Fatal("expected side effects")
	}
	var notices []string
	got, err := Eval(f, []expr.Datum{intd(3)}, func(msg string) { notices = append(notices, msg) })
	if err != nil {
		t.Fatal(err)
	}
	if got.I != 4 || len(notices) != 1 || notices[0] != "hi 3" {
		t.Errorf("got %s, notices %q", got, notices)
	}
	// a null message makes the row null
	notices = nil
	got, err = Eval(f, []expr.Datum{nul}, func(msg string) { notices = append(notices, msg) })
	if err != nil {
		t.Fatal(err)
	}
	if !got.IsNull() || len(notices) != 0 {
		t.Errorf("got %s, notices %q", got, notices)
	}
}

func TestEvalArgs(t *testing.T) {
	f := compile(t, "return x", expr.TypeInt, params("x", expr.TypeInt), Env{})
	if _, err := Eval(f, nil, nil); err == nil {
		t.Error("expected an arity error")
	}
	if _, err := Eval(f, []expr.Datum{strd("1")}, nil); err == nil {
		t.Error("expected a type error")
	}
}

func TestInterpReuse(t *testing.T) {
	f := compile(t, "var acc = 0\nfor i in 1 .. n max 4 { acc += i }\nreturn acc", expr.TypeInt, params("n", expr.TypeInt), Env{})
	in := NewInterp(f)
	for row, n := range []int64{4, 5, 3} {
		got, err := in.Row(row, []expr.Datum{intd(n)})
		if n > 4 {
			var le *LoopBoundExceededError
			if !errors.As(err, &le) || le.Row != row {
				t.Errorf("row %d: got %v", row, err)
			}
			continue
		}
		if err != nil {
			t.Fatal(err)
		}
		if want := n * (n + 1) / 2; got.I != want {
			t.Errorf("row %d: got %d want %d", row, got.I, want)
		}
	}
}
