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
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"testing"

	"github.com/SnellerInc/udfc/expr"
	"github.com/SnellerInc/udfc/expr/lang"
	"github.com/SnellerInc/udfc/ir"
)

func params(lst ...any) []expr.Param {
	var out []expr.Param
	for i := 0; i < len(lst); i += 2 {
		out = append(out, expr.Param{Name: lst[i].(string), Type: lst[i+1].(expr.Type)})
	}
	return out
}

func compile(t testing.TB, src string, ret expr.Type, args []expr.Param, env ir.Env) *ir.Func {
	t.Helper()
	fn, err := lang.Parse([]byte(src), lang.Signature{Name: "f", Params: args, Returns: ret})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	f, err := ir.Build(fn, env)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	return f
}

var words = []string{"", "Sam", "abc", "ABC", "a🐥b", "hello world", "42", "-7", "2.5", "true", "x"}

// randomBatch returns n rows of arguments
// for params, about one in eight of them null
func randomBatch(t testing.TB, r *rand.Rand, args []expr.Param, n int) *Batch {
	t.Helper()
	cols := make([]*Column, len(args))
	for i, p := range args {
		c := NewColumn(p.Type, n)
		for row := 0; row < n; row++ {
			var d expr.Datum
			switch {
			case r.Intn(8) == 0:
				d = expr.NullDatum
			case p.Type == expr.TypeInt:
				d = expr.IntDatum(int64(r.Intn(41) - 20))
			case p.Type == expr.TypeFloat:
				d = expr.FloatDatum(float64(r.Intn(400)-200) / 8)
			case p.Type == expr.TypeString:
				d = expr.StringDatum(words[r.Intn(len(words))])
			case p.Type == expr.TypeBool:
				d = expr.BoolDatum(r.Intn(2) == 0)
			}
			if err := c.Set(row, d); err != nil {
				t.Fatal(err)
			}
		}
		cols[i] = c
	}
	b, err := NewBatch(cols...)
	if err != nil {
		t.Fatal(err)
	}
	if len(cols) == 0 {
		b.Rows = n
	}
	return b
}

// scalar evaluates f row by row
func scalar(f *ir.Func, in *Batch) ([]expr.Datum, error) {
	interp := ir.NewInterp(f)
	out := make([]expr.Datum, in.Rows)
	for row := range out {
		d, err := interp.Row(row, in.Row(row))
		if err != nil {
			return nil, err
		}
		out[row] = d
	}
	return out, nil
}

func sameError(a, b error) bool {
	var la, lb *LoopBoundExceededError
	if errors.As(a, &la) {
		return errors.As(b, &lb) && la.Row == lb.Row && la.Bound == lb.Bound
	}
	var ra, rb *RuntimeComputationError
	if !errors.As(a, &ra) || !errors.As(b, &rb) {
		return false
	}
	if ra.Row != rb.Row || ra.Msg != rb.Msg || ra.At != rb.At || (ra.Err == nil) != (rb.Err == nil) {
		return false
	}
	for _, kind := range []error{expr.ErrDivisionByZero, expr.ErrOverflow, expr.ErrInvalidConversion, expr.ErrDomain} {
		if errors.Is(a, kind) != errors.Is(b, kind) {
			return false
		}
	}
	return true
}

func checkSame(t *testing.T, f *ir.Func, a *Artifact, in *Batch) {
	t.Helper()
	want, werr := scalar(f, in)
	got, err := a.Exec(in, nil)
	if werr != nil {
		if err == nil {
			t.Fatalf("rows %d: scalar error %v, vector succeeded", in.Rows, werr)
		}
		if in.Rows == 1 && !sameError(werr, err) {
			t.Fatalf("scalar error %v; vector error %v", werr, err)
		}
		return
	}
	if err != nil {
		t.Fatalf("rows %d: %v", in.Rows, err)
	}
	if got.Type != f.Returns {
		t.Fatalf("result type %s; want %s", got.Type, f.Returns)
	}
	for row := range want {
		if d := got.Datum(row); !d.Equal(want[row]) || d.IsNull() != want[row].IsNull() {
			t.Fatalf("row %d %v: got %s want %s\n%s", row, in.Row(row), d, want[row], a.Prog())
		}
	}
}

var equivalence = []struct {
	name   string
	src    string
	ret    expr.Type
	params []expr.Param
	env    ir.Env
}{
	{name: "udf1", src: `return "Udf1 " + name + " 🐥"`, ret: expr.TypeString, params: params("name", expr.TypeString)},
	{name: "sum", src: "var acc = 0\nfor i in 1 .. n max 100 { acc += i }\nreturn acc", ret: expr.TypeInt, params: params("n", expr.TypeInt)},
	{name: "nested", src: "var acc = 0\nfor i in 1 .. n max 30 {\n\tfor j in 1 .. i max 30 { acc += j * x }\n}\nreturn acc", ret: expr.TypeInt, params: params("n", expr.TypeInt, "x", expr.TypeInt)},
	{name: "skip", src: "var acc = 0\nfor i in 1 .. 10 {\n\tif i % 2 = 0 { continue }\n\tif i > n { break }\n\tacc += i\n}\nreturn acc", ret: expr.TypeInt, params: params("n", expr.TypeInt)},
	{name: "sign", src: "if x < 0 { return 'neg' } elif x = 0 { return 'zero' } else { return 'pos' }", ret: expr.TypeString, params: params("x", expr.TypeInt)},
	{name: "div", src: "return x / y + x % y", ret: expr.TypeInt, params: params("x", expr.TypeInt, "y", expr.TypeInt)},
	{name: "guarded", src: "pragma strict\nreturn y <> 0 and x / y > 1", ret: expr.TypeBool, params: params("x", expr.TypeInt, "y", expr.TypeInt)},
	{name: "isnull", src: "pragma called_on_null\nif x is null { return -1 }\nreturn x * y", ret: expr.TypeInt, params: params("x", expr.TypeInt, "y", expr.TypeInt)},
	{name: "coalesce", src: "pragma called_on_null\nreturn coalesce(s, t, 'none') || ifnull(t, '?')", ret: expr.TypeString, params: params("s", expr.TypeString, "t", expr.TypeString)},
	{name: "float", src: "return sqrt(x) + abs(x) - floor(x) * ln(x) + exp(-1.0)", ret: expr.TypeFloat, params: params("x", expr.TypeFloat)},
	{name: "widen", src: "return x / 2 + n", ret: expr.TypeFloat, params: params("x", expr.TypeFloat, "n", expr.TypeInt)},
	{name: "strings", src: "if starts_with(s, 'a') or contains(s, 'l') { return upper(s) || length(s) }\nreturn lower(s)", ret: expr.TypeString, params: params("s", expr.TypeString)},
	{name: "compare", src: "return s < t or s = 'Sam'", ret: expr.TypeBool, params: params("s", expr.TypeString, "t", expr.TypeString)},
	{name: "kleene", src: "pragma called_on_null\nreturn a and b or not a and (b is null)", ret: expr.TypeBool, params: params("a", expr.TypeBool, "b", expr.TypeBool)},
	{name: "fallback call", src: "return substr(s, 2, n) || repeat('-', n)", ret: expr.TypeString, params: params("s", expr.TypeString, "n", expr.TypeInt)},
	{name: "cast", src: "return to_int(s) + to_int(x)", ret: expr.TypeInt, params: params("s", expr.TypeString, "x", expr.TypeFloat)},
	{name: "doubling", src: "var i = 1\nloop max 20 {\n\ti *= 2\n\tif i > n { break }\n}\nreturn i", ret: expr.TypeInt, params: params("n", expr.TypeInt)},
	{name: "while", src: "var i = 0\nvar j = 1\nwhile i < n {\n\tvar t = j\n\tj = i + j\n\ti = t\n}\nreturn i * 100 + j", ret: expr.TypeInt, params: params("n", expr.TypeInt), env: ir.Env{DefaultLoopBound: 64}},
	{name: "swap", src: "var a = x\nvar b = y\nfor i in 1 .. 3 {\n\tvar t = a\n\ta = b\n\tb = t + i\n}\nreturn a * 10 + b", ret: expr.TypeInt, params: params("x", expr.TypeInt, "y", expr.TypeInt)},
	{name: "raise", src: "if x < -15 { raise 'too small: ' || x }\nreturn x", ret: expr.TypeInt, params: params("x", expr.TypeInt)},
	{name: "bound", src: "var acc = 0\nfor i in 1 .. n max 15 { acc += i }\nreturn acc", ret: expr.TypeInt, params: params("n", expr.TypeInt)},
	{name: "strict overflow", src: "pragma strict\nvar p = 1\nfor i in 1 .. 30 { p *= x }\nreturn p", ret: expr.TypeInt, params: params("x", expr.TypeInt)},
	{name: "no params", src: "return 6 * 7", ret: expr.TypeInt},
}

func TestExecMatchesScalar(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	for _, tc := range equivalence {
		t.Run(tc.name, func(t *testing.T) {
			f := compile(t, tc.src, tc.ret, tc.params, tc.env)
			for _, width := range []int{8, 64, 256} {
				a, err := Compile(f, &Options{Width: width})
				if err != nil {
					t.Fatalf("compile: %v", err)
				}
				if !a.Vectorized() {
					t.Fatalf("not vectorized: %v", a.Degradations())
				}
				for _, rows := range []int{0, 1, 7, 64, 130, 1000} {
					checkSame(t, f, a, randomBatch(t, r, tc.params, rows))
				}
				// a row at a time, for exact errors
				for i := 0; i < 50; i++ {
					checkSame(t, f, a, randomBatch(t, r, tc.params, 1))
				}
			}
		})
	}
}

func TestExecConcurrent(t *testing.T) {
	tc := equivalence[2]
	f := compile(t, tc.src, tc.ret, tc.params, tc.env)
	a, err := Compile(f, &Options{Width: 16})
	if err != nil {
		t.Fatal(err)
	}
	in := randomBatch(t, rand.New(rand.NewSource(2)), tc.params, 500)
	want, err := a.Exec(in, nil)
	if err != nil {
		t.Fatal(err)
	}
	errs := make(chan error, 8)
	for i := 0; i < cap(errs); i++ {
		go func() {
			got, err := a.Exec(in, nil)
			if err == nil {
				for row := 0; row < in.Rows; row++ {
					if !got.Datum(row).Equal(want.Datum(row)) {
						err = fmt.Errorf("row %d: got %s want %s", row, got.Datum(row), want.Datum(row))
						break
					}
				}
			}
			errs <- err
		}()
	}
	for i := 0; i < cap(errs); i++ {
		if err := <-errs; err != nil {
			t.Error(err)
		}
	}
}

func TestExecErrors(t *testing.T) {
	ints := func(xs ...any) *Column {
		c := NewColumn(expr.TypeInt, len(xs))
		for i, x := range xs {
			if x != nil {
				c.Set(i, expr.IntDatum(int64(x.(int))))
			} else {
				c.Set(i, expr.NullDatum)
			}
		}
		return c
	}
	testcases := []struct {
		src  string
		args []*Column
		env  ir.Env
		err  func(t *testing.T, err error)
	}{
		{
			src:  "pragma strict\nreturn 100 / x",
			args: []*Column{ints(1, 2, nil, 0, 5)},
			err: func(t *testing.T, err error) {
				var re *RuntimeComputationError
				if !errors.As(err, &re) || re.Row != 3 || !errors.Is(err, expr.ErrDivisionByZero) {
					t.Errorf("got %v", err)
				}
				if re != nil && re.At.Line != 2 {
					t.Errorf("error at %s", re.At)
				}
			},
		},
		{
			src:  "if x > 2 { raise 'big ' || x }\nreturn x",
			args: []*Column{ints(1, 2, 3)},
			err: func(t *testing.T, err error) {
				var re *RuntimeComputationError
				if !errors.As(err, &re) || re.Row != 2 || re.Msg != "big 3" || re.Err != nil {
					t.Errorf("got %v", err)
				}
			},
		},
		{
			src:  "var i = 0\nwhile i < x { i += 1 }\nreturn i",
			args: []*Column{ints(3, 4, 9, 5)},
			env:  ir.Env{DefaultLoopBound: 5},
			err: func(t *testing.T, err error) {
				var le *LoopBoundExceededError
				if !errors.As(err, &le) || le.Row != 2 || le.Bound != 5 {
					t.Errorf("got %v", err)
				}
			},
		},
	}
	for _, tc := range testcases {
		f := compile(t, tc.src, expr.TypeInt, params("x", expr.TypeInt), tc.env)
		for _, width := range []int{8, 64} {
			a, err := Compile(f, &Options{Width: width})
			if err != nil {
				t.Fatal(err)
			}
			in, err := NewBatch(tc.args...)
			if err != nil {
				t.Fatal(err)
			}
			_, err = a.Exec(in, nil)
			tc.err(t, err)
		}
	}
}

func TestExecArguments(t *testing.T) {
	f := compile(t, "return x + y", expr.TypeFloat, params("x", expr.TypeFloat, "y", expr.TypeFloat), ir.Env{})
	a, err := Compile(f, nil)
	if err != nil {
		t.Fatal(err)
	}
	x, _ := ColumnOf(expr.TypeInt, expr.IntDatum(1), expr.IntDatum(2), expr.NullDatum)
	y, _ := ColumnOf(expr.TypeNull, expr.NullDatum, expr.NullDatum, expr.NullDatum)
	z, _ := ColumnOf(expr.TypeFloat, expr.FloatDatum(0.5), expr.FloatDatum(1), expr.FloatDatum(2))
	// integer columns widen to float
	got, err := a.Exec(&Batch{Rows: 3, Columns: []*Column{x, z}}, nil)
	if err != nil {
		t.Fatal(err)
	}
	want := []expr.Datum{expr.FloatDatum(1.5), expr.FloatDatum(3), expr.NullDatum}
	for i, d := range got.Datums() {
		if !d.Equal(want[i]) {
			t.Errorf("row %d: got %s want %s", i, d, want[i])
		}
	}
	// an untyped null column is all nulls
	got, err = a.Exec(&Batch{Rows: 3, Columns: []*Column{z, y}}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if n := got.Nulls.GetCardinality(); n != 3 {
		t.Errorf("%d null rows", n)
	}
	if _, err := a.Exec(&Batch{Rows: 3, Columns: []*Column{x}}, nil); err == nil {
		t.Error("expected an arity error")
	}
	s, _ := ColumnOf(expr.TypeString, expr.StringDatum("a"), expr.StringDatum("b"), expr.StringDatum("c"))
	if _, err := a.Exec(&Batch{Rows: 3, Columns: []*Column{x, s}}, nil); err == nil {
		t.Error("expected a type error")
	}
	if _, err := a.Exec(&Batch{Rows: 4, Columns: []*Column{x, z}}, nil); err == nil {
		t.Error("expected a length error")
	}
}

func TestExecNotice(t *testing.T) {
	src := "pragma called_on_null\nnotice 'row ' || x\nif x > 0 { return x }\nreturn -x"
	f := compile(t, src, expr.TypeInt, params("x", expr.TypeInt), ir.Env{})
	a, err := Compile(f, &Options{Width: 8})
	if err != nil {
		t.Fatal(err)
	}
	if !a.Vectorized() {
		t.Fatalf("not vectorized: %v", a.Degradations())
	}
	x, _ := ColumnOf(expr.TypeInt, expr.IntDatum(1), expr.NullDatum, expr.IntDatum(-3))
	var got []string
	out, err := a.Exec(&Batch{Rows: 3, Columns: []*Column{x}}, func(row int, msg string) {
		got = append(got, fmt.Sprintf("%d:%s", row, msg))
	})
	if err != nil {
		t.Fatal(err)
	}
	if s := strings.Join(got, ","); s != "0:row 1,2:row -3" {
		t.Errorf("notices %q", s)
	}
	want := []expr.Datum{expr.IntDatum(1), expr.NullDatum, expr.IntDatum(3)}
	for i, d := range out.Datums() {
		if !d.Equal(want[i]) || d.IsNull() != want[i].IsNull() {
			t.Errorf("row %d: got %s want %s", i, d, want[i])
		}
	}
}

func TestCompileFallback(t *testing.T) {
	src := "if x > 0 { notice 'positive ' || x }\nreturn x * 2"
	f := compile(t, src, expr.TypeInt, params("x", expr.TypeInt), ir.Env{})
	_, err := Vectorize(f, VectorizeOptions{})
	var uc *UnvectorizableConstructError
	if !errors.As(err, &uc) || !uc.Recoverable {
		t.Fatalf("got %v", err)
	}
	a, err := Compile(f, nil)
	if err != nil {
		t.Fatal(err)
	}
	if a.Vectorized() || a.Prog() != nil {
		t.Fatal("expected a scalar artifact")
	}
	if d := a.Degradations(); len(d) != 1 || !strings.Contains(d[0], "notice") {
		t.Errorf("degradations %q", d)
	}
	x, _ := ColumnOf(expr.TypeInt, expr.IntDatum(1), expr.IntDatum(-1), expr.IntDatum(2))
	var rows []int
	out, err := a.Exec(&Batch{Rows: 3, Columns: []*Column{x}}, func(row int, msg string) { rows = append(rows, row) })
	if err != nil {
		t.Fatal(err)
	}
	if fmt.Sprint(rows) != "[0 2]" {
		t.Errorf("notice rows %v", rows)
	}
	if got := out.Ints; fmt.Sprint(got) != "[2 -2 4]" {
		t.Errorf("got %v", got)
	}

	scalarOnly, err := Compile(compile(t, "return 1", expr.TypeInt, nil, ir.Env{}), &Options{Scalar: true})
	if err != nil {
		t.Fatal(err)
	}
	if scalarOnly.Vectorized() {
		t.Error("Scalar option ignored")
	}
}

func TestCompileRejects(t *testing.T) {
	unbounded := compile(t, "var i = 0\nwhile i < n { i += 1 }\nreturn i", expr.TypeInt, params("n", expr.TypeInt), ir.Env{})
	_, err := Compile(unbounded, nil)
	var uc *UnvectorizableConstructError
	if !errors.As(err, &uc) || uc.Recoverable {
		t.Errorf("unbounded loop: got %v", err)
	}
	big := compile(t, "var acc = 0\nfor i in 1 .. n max 1000 { acc += i }\nreturn acc", expr.TypeInt, params("n", expr.TypeInt), ir.Env{})
	_, err = Compile(big, &Options{VectorizeOptions: VectorizeOptions{MaxBound: 100}})
	if !errors.As(err, &uc) || uc.Recoverable {
		t.Errorf("large bound: got %v", err)
	}
	if _, err := Compile(big, &Options{VectorizeOptions: VectorizeOptions{MaxBound: 1000}}); err != nil {
		t.Errorf("bound at the limit: %v", err)
	}

	// the same checks apply one row at a time
	_, err = Compile(unbounded, &Options{Scalar: true})
	if !errors.As(err, &uc) || uc.Recoverable {
		t.Errorf("scalar unbounded loop: got %v", err)
	}
	_, err = Compile(big, &Options{Scalar: true, VectorizeOptions: VectorizeOptions{MaxBound: 100}})
	if !errors.As(err, &uc) || uc.Recoverable {
		t.Errorf("scalar large bound: got %v", err)
	}
	stray := compile(t, "if x > 0 { notice 'x' }\nvar i = 0\nwhile i < x { i += 1 }\nreturn i", expr.TypeInt, params("x", expr.TypeInt), ir.Env{})
	_, err = Compile(stray, nil)
	if !errors.As(err, &uc) || uc.Recoverable {
		t.Errorf("unbounded loop with notice: got %v", err)
	}
}

func TestExecRepeated(t *testing.T) {
	f := compile(t, `return "Udf1 " + name + " 🐥"`, expr.TypeString, params("name", expr.TypeString), ir.Env{})
	for _, opts := range []*Options{{Width: 8}, {Width: 256}, {Scalar: true}} {
		a, err := Compile(f, opts)
		if err != nil {
			t.Fatal(err)
		}
		names, _ := ColumnOf(expr.TypeString, expr.StringDatum("Sam"), expr.NullDatum, expr.StringDatum("Al"))
		in := &Batch{Rows: 3, Columns: []*Column{names}}
		for i := 0; i < 3; i++ {
			out, err := a.Exec(in, nil)
			if err != nil {
				t.Fatal(err)
			}
			got := []string{out.Datum(0).String(), out.Datum(1).String(), out.Datum(2).String()}
			want := []string{"Udf1 Sam 🐥", "NULL", "Udf1 Al 🐥"}
			if fmt.Sprint(got) != fmt.Sprint(want) {
				t.Fatalf("width %d scalar %v: call %d: got %q", opts.Width, opts.Scalar, i, got)
			}
		}
	}
}

func TestDegradations(t *testing.T) {
	host := expr.MapCatalog{}
	host.Add(expr.HostFunc("double_it", []expr.Type{expr.TypeFloat}, expr.TypeFloat, func(args []expr.Datum) (expr.Datum, error) {
		return expr.FloatDatum(args[0].F * 2), nil
	}))
	env := ir.Env{Catalog: expr.Chain{host, expr.Builtins}}
	f := compile(t, "return double_it(x) + length(substr(s, 1, 2)) + double_it(x + 1)", expr.TypeFloat, params("x", expr.TypeFloat, "s", expr.TypeString), env)
	a, err := Compile(f, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !a.Vectorized() {
		t.Fatal("expected a vectorized artifact")
	}
	if d := strings.Join(a.Degradations(), ","); d != "double_it,substr" && d != "substr,double_it" {
		t.Errorf("degradations %q", d)
	}
	checkSame(t, f, a, randomBatch(t, rand.New(rand.NewSource(3)), f.Params, 300))

	pure := compile(t, "return upper(s) || length(s)", expr.TypeString, params("s", expr.TypeString), ir.Env{})
	a, err = Compile(pure, nil)
	if err != nil {
		t.Fatal(err)
	}
	if d := a.Degradations(); len(d) != 0 {
		t.Errorf("unexpected degradations %q", d)
	}
}

func BenchmarkExec(b *testing.B) {
	tc := equivalence[2]
	f := compile(b, tc.src, tc.ret, tc.params, tc.env)
	in := randomBatch(b, rand.New(rand.NewSource(4)), tc.params, 4096)
	for _, scalar := range []bool{false, true} {
		a, err := Compile(f, &Options{Scalar: scalar})
		if err != nil {
			b.Fatal(err)
		}
		b.Run(fmt.Sprintf("vectorized=%v", !scalar), func(b *testing.B) {
			for i := 0; i < b.N; i++ {
				if _, err := a.Exec(in, nil); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}
