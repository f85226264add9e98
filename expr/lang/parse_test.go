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
	"errors"
	"strings"
	"testing"

	"github.com/SnellerInc/udfc/expr"
)

var strsig = Signature{
	Name:    "udf1",
	Params:  []expr.Param{{Name: "name", Type: expr.TypeString}},
	Returns: expr.TypeString,
}

func TestParseUdf1(t *testing.T) {
	fn, err := Parse([]byte(`return "Udf1 " + name + " 🐥"`), strsig)
	if err != nil {
		t.Fatal(err)
	}
	want := expr.Add(expr.Add(expr.String("Udf1 "), expr.Ident("name")), expr.String(" 🐥"))
	if len(fn.Body) != 1 {
		t.Fatalf("got %d statements", len(fn.Body))
	}
	ret, ok := fn.Body[0].(*expr.Return)
	if !ok {
		t.Fatalf("got %T", fn.Body[0])
	}
	if !ret.Value.Equals(want) {
		t.Errorf("got %s", expr.ToString(ret.Value))
	}
	if fn.Name != "udf1" || fn.Returns != expr.TypeString || len(fn.Params) != 1 {
		t.Errorf("bad signature %s", fn.Signature())
	}
}

func TestParseExprPrecedence(t *testing.T) {
	testcases := []struct {
		in, want string
	}{
		{"1 + 2 * 3", "1 + (2 * 3)"},
		{"(1 + 2) * 3", "(1 + 2) * 3"},
		{"a - b - c", "(a - b) - c"},
		{"-x * 2", "-x * 2"},
		{"-3 * x", "-3 * x"},
		{"-9223372036854775808", "-9223372036854775808"},
		{"a or b and c", "a or (b and c)"},
		{"not a = b and c", "not (a = b) and c"},
		{"a || b = c", "(a || b) = c"},
		{"x is not null or y is null", "x is not null or y is null"},
		{"a <> b", "a <> b"},
		{"a != b", "a <> b"},
		{"a == b", "a = b"},
		{"cast(x as double precision) / 2", "cast(x as float) / 2"},
		{"Upper(trim(s, 'x'))", `upper(trim(s, "x"))`},
		{`'it''s'`, `"it's"`},
		{`"tab\there"`, `"tab\there"`},
		{"1.5e3 + .5", ""},
		{"2.", "2.0"},
		{"-1.5", "-1.5"},
		{"true and false or null", "(true and false) or null"},
	}
	for _, tc := range testcases {
		e, err := ParseExpr(tc.in)
		if tc.want == "" {
			if err == nil {
				t.Errorf("%s: expected an error; got %s", tc.in, expr.ToString(e))
			}
			continue
		}
		if err != nil {
			t.Errorf("%s: %v", tc.in, err)
			continue
		}
		if got := expr.ToString(e); got != tc.want {
			t.Errorf("%s: got %s, want %s", tc.in, got, tc.want)
		}
	}
}

func TestParseStatements(t *testing.T) {
	src := `
pragma strict
pragma max_iterations = 50;
-- comment
var acc int = 0
var i = 1 // trailing comment
var s string
while i <= n max 10 {
	acc += i
	i = i + 1
	if acc > 20 { break }
}
for j in 1 .. 3 {
	s ||= to_string(j)
	if j = 2 { continue; }
}
loop max 4 {
	if acc > 100 { break } elif acc < 0 { raise "negative" } else if acc = 7 { notice "seven" } else { acc *= 2 }
}
if acc > 100 {
	return s
}
return s || "!"
`
	sig := Signature{
		Name:    "f",
		Params:  []expr.Param{{Name: "n", Type: expr.TypeInt}},
		Returns: expr.TypeString,
	}
	fn, err := Parse([]byte(src), sig)
	if err != nil {
		t.Fatal(err)
	}
	if !fn.Strict || fn.MaxIterations != 50 || fn.CalledOnNull {
		t.Errorf("pragmas: strict=%v max=%d called_on_null=%v", fn.Strict, fn.MaxIterations, fn.CalledOnNull)
	}
	if len(fn.Body) != 8 {
		t.Fatalf("got %d statements:\n%s", len(fn.Body), fn)
	}
	w, ok := fn.Body[3].(*expr.While)
	if !ok || w.Max != 10 || len(w.Body) != 3 {
		t.Fatalf("bad while: %#v", fn.Body[3])
	}
	as := w.Body[0].(*expr.Assign)
	if !as.Value.Equals(expr.Add(expr.Ident("acc"), expr.Ident("i"))) {
		t.Errorf("compound assignment: %s", expr.ToString(as))
	}
	fr := fn.Body[4].(*expr.ForRange)
	if fr.Var != "j" || !fr.From.Equals(expr.Integer(1)) || !fr.To.Equals(expr.Integer(3)) {
		t.Errorf("bad for: %s", expr.ToString(fr))
	}
	lp := fn.Body[5].(*expr.Loop)
	chain := lp.Body[0].(*expr.If)
	elif := chain.Else[0].(*expr.If)
	if _, ok := elif.Then[0].(*expr.Raise); !ok {
		t.Errorf("elif: %s", expr.ToString(chain))
	}
	elseif := elif.Else[0].(*expr.If)
	if _, ok := elseif.Then[0].(*expr.Notice); !ok || len(elseif.Else) != 1 {
		t.Errorf("else if: %s", expr.ToString(chain))
	}

	// the printed form parses back to the same text
	fn2, err := Parse([]byte(fn.String()), sig)
	if err != nil {
		t.Fatalf("re-parsing %s: %v", fn, err)
	}
	if fn.String() != fn2.String() {
		t.Errorf("round trip:\n%s\n!=\n%s", fn, fn2)
	}
}

func TestParseErrors(t *testing.T) {
	intsig := Signature{
		Name:    "f",
		Params:  []expr.Param{{Name: "x", Type: expr.TypeInt}},
		Returns: expr.TypeInt,
	}
	var (
		syntax      *expr.SyntaxError
		unsupported *expr.UnsupportedConstructError
		incomplete  *expr.IncompleteReturnError
	)
	testcases := []struct {
		src  string
		want any
		msg  string
	}{
		{"return 1 +", &syntax, "unexpected end of input"},
		{"return (x", &syntax, "expected ')'"},
		{`return "abc`, &syntax, "unterminated string"},
		{"return x $ 1", &syntax, "unexpected character"},
		{"return 99999999999999999999", &syntax, "out of range"},
		{"break", &syntax, "outside of a loop"},
		{"return", &syntax, "requires a value"},
		{"var x int = 1\npragma strict\nreturn x", &syntax, "must precede"},
		{"pragma fast\nreturn x", &syntax, "unknown pragma"},
		{"while x > 0 max 0 { x -= 1 }\nreturn x", &syntax, "positive integer"},
		{"var if = 1\nreturn 1", &syntax, "reserved word"},
		{"return cast(x as number)", &syntax, "unknown type"},
		{"return f(x - 1)", &unsupported, "recursion"},
		{"var y\nreturn x", &unsupported, "dynamic typing"},
		{"select 1\nreturn x", &unsupported, "SQL statement"},
		{"for r in select * from t { }\nreturn 1", &unsupported, "query loop"},
		{"try { return 1 }", &unsupported, "exception handling"},
		{"return 1\nreturn 2", &unsupported, "unreachable"},
		{"loop max 3 { return 1 }\nreturn 2", &unsupported, "unreachable"},
		{"if x > 0 { return 1 }", &incomplete, "without return"},
		{"while x > 0 max 3 { return 1 }", &incomplete, "without return"},
		{"loop max 3 { if x > 0 { break } }", &incomplete, "without return"},
		{"", &incomplete, "without return"},
	}
	for _, tc := range testcases {
		_, err := Parse([]byte(tc.src), intsig)
		if err == nil {
			t.Errorf("%q: expected an error", tc.src)
			continue
		}
		if !errors.As(err, tc.want) {
			t.Errorf("%q: wrong error type %T: %v", tc.src, err, err)
		}
		if !strings.Contains(err.Error(), tc.msg) {
			t.Errorf("%q: error %q does not contain %q", tc.src, err, tc.msg)
		}
	}
}

func TestParseTerminating(t *testing.T) {
	intsig := Signature{Name: "f", Params: []expr.Param{{Name: "x", Type: expr.TypeInt}}, Returns: expr.TypeInt}
	ok := []string{
		"if x > 0 { return 1 } else { raise 'neg' }",
		"if x > 0 { return 1 } elif x < 0 { return -1 } else { return 0 }",
		"loop max 5 { x += 1; if x > 3 { return x } }",
		"loop max 5 { while true max 2 { break } }",
		"while true max 3 { x += 1 }",
	}
	for _, src := range ok {
		if _, err := Parse([]byte(src), intsig); err != nil {
			t.Errorf("%q: %v", src, err)
		}
	}
}

func TestSnippet(t *testing.T) {
	src := "var x = 1\nreturn x +\n\t* 2\n"
	_, err := Parse([]byte(src), Signature{Name: "f", Returns: expr.TypeInt})
	var se *expr.SyntaxError
	if !errors.As(err, &se) {
		t.Fatalf("got %v", err)
	}
	if se.At != (expr.Position{Line: 3, Col: 2}) {
		t.Errorf("position %s", se.At)
	}
	want := "   2 | return x +\n   3 | \t* 2\n     | \t^"
	if se.Snippet != want {
		t.Errorf("got snippet\n%s\nwant\n%s", se.Snippet, want)
	}
}
