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
	"math/rand"
	"testing"

	"github.com/SnellerInc/udfc/expr"
	"github.com/SnellerInc/udfc/ir"
)

func TestMarshalRoundTrip(t *testing.T) {
	host := expr.MapCatalog{}
	host.Add(expr.HostFunc("twice", []expr.Type{expr.TypeInt}, expr.TypeInt, func(args []expr.Datum) (expr.Datum, error) {
		return expr.IntDatum(args[0].I * 2), nil
	}))
	cat := expr.Chain{host, expr.Builtins}
	r := rand.New(rand.NewSource(5))
	for _, tc := range equivalence {
		t.Run(tc.name, func(t *testing.T) {
			f := compile(t, tc.src, tc.ret, tc.params, tc.env)
			p, err := Vectorize(f, VectorizeOptions{})
			if err != nil {
				t.Fatal(err)
			}
			buf, err := p.MarshalBinary()
			if err != nil {
				t.Fatal(err)
			}
			p2, err := UnmarshalProg(buf, cat)
			if err != nil {
				t.Fatal(err)
			}
			if p.String() != p2.String() {
				t.Fatalf("listing changed:\n%s\n%s", p, p2)
			}
			if p.Func.String() != p2.Func.String() {
				t.Fatalf("function changed:\n%s\n%s", p.Func, p2.Func)
			}
			a, err := EmitWidth(p2, 32)
			if err != nil {
				t.Fatal(err)
			}
			checkSame(t, f, a, randomBatch(t, r, tc.params, 200))
		})
	}

	f := compile(t, "return twice(x) + 1", expr.TypeInt, params("x", expr.TypeInt), ir.Env{Catalog: cat})
	p, err := Vectorize(f, VectorizeOptions{})
	if err != nil {
		t.Fatal(err)
	}
	buf, err := p.MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := UnmarshalProg(buf, nil); err == nil {
		t.Error("expected an undefined function error without the host catalog")
	}
	p2, err := UnmarshalProg(buf, cat)
	if err != nil {
		t.Fatal(err)
	}
	a, err := Emit(p2)
	if err != nil {
		t.Fatal(err)
	}
	x, _ := ColumnOf(expr.TypeInt, expr.IntDatum(20), expr.NullDatum)
	out, err := a.Exec(&Batch{Rows: 2, Columns: []*Column{x}}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !out.Datum(0).Equal(expr.IntDatum(41)) || !out.IsNull(1) {
		t.Errorf("got %v", out.Datums())
	}
}

func TestUnmarshalCorrupt(t *testing.T) {
	f := compile(t, "var acc = 0\nfor i in 1 .. n max 10 { acc += i }\nreturn acc", expr.TypeInt, params("n", expr.TypeInt), ir.Env{})
	p, err := Vectorize(f, VectorizeOptions{})
	if err != nil {
		t.Fatal(err)
	}
	buf, err := p.MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}
	for _, i := range []int{len(progMagic) + 3, len(buf) / 2, len(buf) - 1} {
		bad := append([]byte(nil), buf...)
		bad[i] ^= 0x40
		if _, err := UnmarshalProg(bad, nil); !errors.Is(err, ErrBadChecksum) {
			t.Errorf("byte %d: got %v", i, err)
		}
	}
	if _, err := UnmarshalProg(buf[:10], nil); err == nil {
		t.Error("expected an error for a truncated program")
	}
	if _, err := UnmarshalProg([]byte("not a program at all, just some text"), nil); err == nil {
		t.Error("expected an error for garbage input")
	}
}
