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
	"errors"
	"testing"
)

func TestBuiltinEval(t *testing.T) {
	s, i, f, n := StringDatum, IntDatum, FloatDatum, NullDatum
	testcases := []struct {
		name string
		args []Datum
		want Datum
		err  error
	}{
		{"length", []Datum{s("🐥ab")}, i(3), nil},
		{"char_length", []Datum{s("")}, i(0), nil},
		{"upper", []Datum{s("sam")}, s("SAM"), nil},
		{"trim", []Datum{s("  x ")}, s("x"), nil},
		{"ltrim", []Datum{s("xxyx"), s("x")}, s("yx"), nil},
		{"substr", []Datum{s("hello"), i(2), i(3)}, s("ell"), nil},
		{"substr", []Datum{s("hello"), i(0), i(3)}, s("he"), nil},
		{"substr", []Datum{s("hello"), i(-5), i(3)}, s(""), nil},
		{"substr", []Datum{s("héllo"), i(2)}, s("éllo"), nil},
		{"substr", []Datum{s("hello"), i(9)}, s(""), nil},
		{"substr", []Datum{s("hello"), i(1), i(-1)}, n, ErrDomain},
		{"concat", []Datum{s("a"), n, i(1)}, s("a1"), nil},
		{"replace", []Datum{s("aXbX"), s("X"), s("--")}, s("a--b--"), nil},
		{"strpos", []Datum{s("🐥abc"), s("b")}, i(3), nil},
		{"strpos", []Datum{s("abc"), s("z")}, i(0), nil},
		{"left", []Datum{s("abcde"), i(2)}, s("ab"), nil},
		{"left", []Datum{s("abcde"), i(-2)}, s("abc"), nil},
		{"right", []Datum{s("abcde"), i(2)}, s("de"), nil},
		{"right", []Datum{s("abcde"), i(-2)}, s("cde"), nil},
		{"right", []Datum{s("ab"), i(5)}, s("ab"), nil},
		{"starts_with", []Datum{s("abc"), s("ab")}, BoolDatum(true), nil},
		{"repeat", []Datum{s("ab"), i(3)}, s("ababab"), nil},
		{"repeat", []Datum{s("ab"), i(1 << 40)}, n, ErrDomain},
		{"reverse", []Datum{s("a🐥b")}, s("b🐥a"), nil},
		{"split_part", []Datum{s("a,b,c"), s(","), i(2)}, s("b"), nil},
		{"split_part", []Datum{s("a,b,c"), s(","), i(-1)}, s("c"), nil},
		{"split_part", []Datum{s("a,b,c"), s(","), i(4)}, s(""), nil},
		{"split_part", []Datum{s("a,b,c"), s(","), i(0)}, n, ErrDomain},
		{"normalize", []Datum{s("é")}, s("é"), nil},
		{"abs", []Datum{i(-3)}, i(3), nil},
		{"abs", []Datum{i(-1 << 63)}, n, ErrOverflow},
		{"sign", []Datum{f(-0.5)}, f(-1), nil},
		{"round", []Datum{f(2.5)}, f(3), nil},
		{"round", []Datum{f(1.2345), i(2)}, f(1.23), nil},
		{"round", []Datum{i(1250), i(-2)}, i(1300), nil},
		{"round", []Datum{i(-1250), i(-2)}, i(-1300), nil},
		{"floor", []Datum{f(-1.5)}, f(-2), nil},
		{"ceil", []Datum{i(7)}, i(7), nil},
		{"sqrt", []Datum{i(16)}, f(4), nil},
		{"sqrt", []Datum{f(-1)}, n, ErrDomain},
		{"ln", []Datum{i(0)}, n, ErrDomain},
		{"power", []Datum{i(2), i(10)}, f(1024), nil},
		{"mod", []Datum{i(7), i(0)}, n, ErrDivisionByZero},
		{"mod", []Datum{i(7), f(2)}, f(1), nil},
		{"greatest", []Datum{i(1), n, f(2.5)}, f(2.5), nil},
		{"least", []Datum{i(1), n, f(2.5)}, f(1), nil},
		{"coalesce", []Datum{n, n, s("x")}, s("x"), nil},
		{"ifnull", []Datum{n, i(2)}, i(2), nil},
		{"nullif", []Datum{i(2), i(2)}, n, nil},
		{"nullif", []Datum{i(2), n}, i(2), nil},
		{"is_null", []Datum{n}, BoolDatum(true), nil},
		{"to_string", []Datum{f(1.5)}, s("1.5"), nil},
		{"to_int", []Datum{s("x")}, n, ErrInvalidConversion},
		{"to_float", []Datum{s("2.5")}, f(2.5), nil},
		{"upper", []Datum{n}, n, nil},
	}
	for _, tc := range testcases {
		fi, ok := Builtins.Lookup(tc.name)
		if !ok {
			t.Errorf("no builtin %q", tc.name)
			continue
		}
		got, err := fi.Call(tc.args)
		if tc.err != nil {
			if !errors.Is(err, tc.err) {
				t.Errorf("%s%v: got error %v, want %v", tc.name, tc.args, err, tc.err)
			}
			if !fi.Partial {
				t.Errorf("%s returned an error but is not marked partial", tc.name)
			}
			continue
		}
		if err != nil {
			t.Errorf("%s%v: unexpected error %v", tc.name, tc.args, err)
			continue
		}
		if !got.Equal(tc.want) {
			t.Errorf("%s%v: got %v, want %v", tc.name, tc.args, got, tc.want)
		}
	}
}

func TestBuiltinCheck(t *testing.T) {
	testcases := []struct {
		name string
		args []Type
		want Type // TypeInvalid means an error is expected
	}{
		{"length", []Type{TypeString}, TypeInt},
		{"length", []Type{TypeInt}, TypeInvalid},
		{"length", []Type{TypeString, TypeString}, TypeInvalid},
		{"substr", []Type{TypeString, TypeInt}, TypeString},
		{"substr", []Type{TypeString}, TypeInvalid},
		{"abs", []Type{TypeFloat}, TypeFloat},
		{"abs", []Type{TypeString}, TypeInvalid},
		{"mod", []Type{TypeInt, TypeFloat}, TypeFloat},
		{"sqrt", []Type{TypeInt}, TypeFloat},
		{"coalesce", []Type{TypeNull, TypeInt}, TypeInt},
		{"coalesce", []Type{TypeString, TypeInt}, TypeInvalid},
		{"greatest", []Type{TypeInt, TypeFloat, TypeInt}, TypeFloat},
		{"concat", []Type{TypeString, TypeBool}, TypeString},
		{"to_int", []Type{TypeString}, TypeInt},
		{"to_float", []Type{TypeBool}, TypeInvalid},
		{"round", []Type{TypeFloat, TypeInt}, TypeFloat},
		{"round", []Type{TypeFloat, TypeFloat}, TypeInvalid},
	}
	for _, tc := range testcases {
		fi, ok := Builtins.Lookup(tc.name)
		if !ok {
			t.Fatalf("no builtin %q", tc.name)
		}
		got, err := fi.Check(tc.args)
		if tc.want == TypeInvalid {
			if err == nil {
				t.Errorf("%s%v: expected an error; got %s", tc.name, tc.args, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("%s%v: %v", tc.name, tc.args, err)
		} else if got != tc.want {
			t.Errorf("%s%v: got %s, want %s", tc.name, tc.args, got, tc.want)
		}
	}
}

func TestChain(t *testing.T) {
	host := make(MapCatalog)
	host.Add(HostFunc("Double_It", []Type{TypeFloat}, TypeFloat, func(args []Datum) (Datum, error) {
		return FloatDatum(args[0].F * 2), nil
	}))
	// shadow a builtin
	host.Add(HostFunc("upper", []Type{TypeString}, TypeString, func(args []Datum) (Datum, error) {
		return args[0], nil
	}))
	cat := Chain{Builtins, host}
	fi, ok := cat.Lookup("double_it")
	if !ok {
		t.Fatal("host function not found")
	}
	if fi.Op != OpHost {
		t.Errorf("op = %s", fi.Op)
	}
	got, err := fi.Call([]Datum{IntDatum(2)})
	if err != nil || !got.Equal(FloatDatum(4)) {
		t.Errorf("got %v, %v", got, err)
	}
	fi, _ = cat.Lookup("UPPER")
	if fi.Op != OpUpper {
		t.Errorf("builtins should take precedence; got %s", fi.Op)
	}
	if _, ok := cat.Lookup("nope"); ok {
		t.Error("found nonexistent function")
	}
}

func TestBuiltinNames(t *testing.T) {
	names := BuiltinNames()
	for i := 1; i < len(names); i++ {
		if names[i-1] >= names[i] {
			t.Fatalf("names not sorted: %q >= %q", names[i-1], names[i])
		}
	}
	for op := OpHost + 1; op < _maxBuiltin; op++ {
		fi := Builtin(op)
		if fi.Op != op || fi.Check == nil || fi.Eval == nil {
			t.Errorf("op %d (%s) is incomplete", op, fi.Name)
		}
	}
}
