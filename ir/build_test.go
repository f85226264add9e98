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
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/SnellerInc/udfc/expr"
	"github.com/SnellerInc/udfc/expr/lang"
)

func params(lst ...any) []expr.Param {
	var out []expr.Param
	for i := 0; i < len(lst); i += 2 {
		out = append(out, expr.Param{Name: lst[i].(string), Type: lst[i+1].(expr.Type)})
	}
	return out
}

func compile(t *testing.T, src string, ret expr.Type, args []expr.Param, env Env) *Func {
	t.Helper()
	fn, err := lang.Parse([]byte(src), lang.Signature{Name: "f", Params: args, Returns: ret})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	f, err := Build(fn, env)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	return f
}

func countOps(f *Func, op Op) int {
	n := 0
	for i := range f.Values {
		if f.Values[i].Op == op {
			n++
		}
	}
	return n
}

func TestBuildUdf1(t *testing.T) {
	f := compile(t, `return "Udf1 " + name + " 🐥"`, expr.TypeString, params("name", expr.TypeString), Env{})
	if len(f.Blocks) != 1 {
		t.Fatalf("got %d blocks:\n%s", len(f.Blocks), f)
	}
	if n := countOps(f, OpConcat); n != 2 {
		t.Errorf("got %d concat ops:\n%s", n, f)
	}
	if f.Blocks[0].Kind != TermRet {
		t.Errorf("entry terminator is %s", f.Blocks[0].Kind)
	}
}

func TestBuildFold(t *testing.T) {
	f := compile(t, "var x = 1 + 2 * 3\nif x > 5 { return x } else { return 0 }", expr.TypeInt, nil, Env{})
	if len(f.Blocks) != 1 || len(f.Values) != 1 {
		t.Fatalf("expected a single constant:\n%s", f)
	}
	v := &f.Values[f.Blocks[0].Ret]
	if v.Op != OpConst || v.Const.I != 7 {
		t.Errorf("got %s", v)
	}
}

func TestBuildNoFoldTrap(t *testing.T) {
	// division by zero is left to run time
	f := compile(t, "return 1 / 0", expr.TypeInt, nil, Env{})
	if countOps(f, OpArith) != 1 {
		t.Errorf("division was folded:\n%s", f)
	}
}

func TestBuildNumbering(t *testing.T) {
	f := compile(t, "return (x + 1) * (x + 1)", expr.TypeInt, params("x", expr.TypeInt), Env{})
	if n := countOps(f, OpArith); n != 2 {
		t.Errorf("got %d arithmetic ops:\n%s", n, f)
	}
}

func TestBuildShortCircuit(t *testing.T) {
	f := compile(t, "return y <> 0 and x / y > 1", expr.TypeBool, params("x", expr.TypeInt, "y", expr.TypeInt), Env{})
	if len(f.Blocks) != 3 {
		t.Fatalf("got %d blocks:\n%s", len(f.Blocks), f)
	}
	if countOps(f, OpPhi) != 1 {
		t.Errorf("expected a phi:\n%s", f)
	}
	// no diamond when the right-hand side cannot fail
	f = compile(t, "return y <> 0 and x > 1", expr.TypeBool, params("x", expr.TypeInt, "y", expr.TypeInt), Env{})
	if len(f.Blocks) != 1 {
		t.Errorf("got %d blocks:\n%s", len(f.Blocks), f)
	}
}

func TestBuildLoopBounds(t *testing.T) {
	testcases := []struct {
		src   string
		env   Env
		bound int64
	}{
		{"var acc = 0\nfor i in 1 .. 10 { acc += i }\nreturn acc", Env{}, 10},
		{"var acc = 0\nfor i in 3 .. 1 { acc += i }\nreturn acc", Env{}, 1},
		{"var acc = 0\nfor i in 1 .. 10 max 4 { acc += i }\nreturn acc", Env{}, 4},
		{"pragma max_iterations = 7\nvar acc = 0\nfor i in 1 .. n { acc += i }\nreturn acc", Env{DefaultLoopBound: 100}, 7},
		{"var i = 0\nwhile i < n { i += 1 }\nreturn i", Env{DefaultLoopBound: 9}, 9},
		{"var i = 0\nwhile i < n max 3 { i += 1 }\nreturn i", Env{DefaultLoopBound: 9}, 3},
		{"var i = 0\nloop { i += 1\nif i > n { break } }\nreturn i", Env{}, 0},
	}
	for _, tc := range testcases {
		f := compile(t, tc.src, expr.TypeInt, params("n", expr.TypeInt), tc.env)
		if len(f.Loops) != 1 {
			t.Errorf("%q: got %d loops:\n%s", tc.src, len(f.Loops), f)
			continue
		}
		if got := f.Loops[0].Bound; got != tc.bound {
			t.Errorf("%q: bound %d, want %d", tc.src, got, tc.bound)
		}
	}
}

func TestBuildNestedLoops(t *testing.T) {
	src := `
var acc = 0
for i in 1 .. n max 10 {
	for j in 1 .. i max 10 {
		acc += j
	}
}
return acc`
	f := compile(t, src, expr.TypeInt, params("n", expr.TypeInt), Env{})
	if len(f.Loops) != 2 {
		t.Fatalf("got %d loops:\n%s", len(f.Loops), f)
	}
	outer, inner := &f.Loops[0], &f.Loops[1]
	if inner.Parent != 0 || outer.Parent != -1 {
		t.Errorf("parents: outer %d inner %d", outer.Parent, inner.Parent)
	}
	for _, b := range inner.Blocks {
		if !outer.Contains(b) {
			t.Errorf("inner block b%d not in the outer loop", b)
		}
	}
	if f.LoopOf(inner.Body) != 1 || f.LoopOf(outer.Body) != 0 {
		t.Errorf("LoopOf: %d %d", f.LoopOf(inner.Body), f.LoopOf(outer.Body))
	}
}

func TestBuildLoopAlwaysReturns(t *testing.T) {
	f := compile(t, "loop { return 1 }", expr.TypeInt, nil, Env{})
	if len(f.Loops) != 0 {
		t.Errorf("loop without a back edge survived:\n%s", f)
	}
}

func TestBuildErrors(t *testing.T) {
	testcases := []struct {
		src       string
		undefined string
		mismatch  bool
	}{
		{src: "return y", undefined: "y"},
		{src: "y = 1\nreturn x", undefined: "y"},
		{src: "return nosuchfn(x)", undefined: "nosuchfn"},
		{src: `return x + "a"`, mismatch: true},
		{src: `var s string = x` + "\nreturn x", mismatch: true},
		{src: `if x { return 1 }` + "\nreturn 0", mismatch: true},
		{src: `return "a"`, mismatch: true},
		{src: `return length(x)`, mismatch: true},
		{src: `return cast(true as float)`, mismatch: true},
		{src: "var v = null\nreturn x", mismatch: true},
	}
	for _, tc := range testcases {
		fn, err := lang.Parse([]byte(tc.src), lang.Signature{Name: "f", Params: params("x", expr.TypeInt), Returns: expr.TypeInt})
		if err != nil {
			t.Errorf("%q: parse: %v", tc.src, err)
			continue
		}
		_, err = Build(fn, Env{})
		if err == nil {
			t.Errorf("%q: no error", tc.src)
			continue
		}
		var ur *expr.UndefinedReferenceError
		var tm *expr.TypeMismatchError
		switch {
		case tc.undefined != "":
			if !errors.As(err, &ur) || ur.Name != tc.undefined {
				t.Errorf("%q: got %v", tc.src, err)
			}
		case tc.mismatch:
			if !errors.As(err, &tm) {
				t.Errorf("%q: got %T %v", tc.src, err, err)
			}
		}
	}
}

func TestBuildIncomplete(t *testing.T) {
	// the parser rejects this shape too;
	// build it by hand
	fn := &expr.Function{
		Name:    "f",
		Params:  params("x", expr.TypeInt),
		Returns: expr.TypeInt,
		Body: []expr.Stmt{
			&expr.If{
				Cond: expr.Compare(expr.Greater, expr.Ident("x"), expr.Integer(0)),
				Then: []expr.Stmt{&expr.Return{Value: expr.Integer(1)}},
			},
		},
	}
	_, err := Build(fn, Env{})
	var ie *expr.IncompleteReturnError
	if !errors.As(err, &ie) {
		t.Fatalf("got %v", err)
	}
}

func TestDominators(t *testing.T) {
	src := "if x > 0 { x = 1 } else { x = 2 }\nreturn x"
	f := compile(t, src, expr.TypeInt, params("x", expr.TypeInt), Env{})
	if len(f.Blocks) != 4 {
		t.Fatalf("got %d blocks:\n%s", len(f.Blocks), f)
	}
	dom := Dominators(f)
	pdom := PostDominators(f)
	exit := BlockID(len(f.Blocks))
	for b := BlockID(1); b < 4; b++ {
		if dom.Idom[b] != 0 {
			t.Errorf("idom(b%d) = b%d", b, dom.Idom[b])
		}
		if !pdom.Dominates(3, b) {
			t.Errorf("b3 should post-dominate b%d", b)
		}
	}
	if pdom.Idom[3] != exit {
		t.Errorf("ipdom(b3) = b%d", pdom.Idom[3])
	}
	if pdom.Dominates(1, 0) || dom.Dominates(1, 2) {
		t.Error("branch arms should not dominate")
	}
	rpo := ReversePostOrder(f)
	if rpo[0] != 0 || rpo[len(rpo)-1] != 3 {
		t.Errorf("rpo: %v", rpo)
	}
}

func TestVerifyRejects(t *testing.T) {
	src := "if x > 0 { x = 1 } else { x = 2 }\nreturn x"
	f := compile(t, src, expr.TypeInt, params("x", expr.TypeInt), Env{})
	if err := Verify(f); err != nil {
		t.Fatal(err)
	}
	// drop the phi's second argument
	merge := &f.Blocks[3]
	phi := &f.Values[merge.Values[0]]
	if phi.Op != OpPhi {
		t.Fatalf("expected a phi:\n%s", f)
	}
	phi.Args = phi.Args[:1]
	if err := Verify(f); err == nil || !strings.Contains(err.Error(), "phi") {
		t.Errorf("got %v", err)
	}
}

func TestPrint(t *testing.T) {
	f := compile(t, "var acc = 0\nfor i in 1 .. n max 5 { acc += i }\nreturn acc", expr.TypeInt, params("n", expr.TypeInt), Env{})
	text := f.String()
	for _, want := range []string{"func f(n int) int\n", "b0:\n", "v0 = param 0 : int", "phi", "condbr", "loop0: header b1", "bound 5"} {
		if !strings.Contains(text, want) {
			t.Errorf("missing %q in\n%s", want, text)
		}
	}
	var buf bytes.Buffer
	if err := Graphviz(f, &buf); err != nil {
		t.Fatal(err)
	}
	dot := buf.String()
	if !strings.HasPrefix(dot, `digraph "f" {`) || !strings.Contains(dot, "b0 -> b1;") || !strings.Contains(dot, "cluster_loop0") {
		t.Errorf("unexpected output:\n%s", dot)
	}
}
