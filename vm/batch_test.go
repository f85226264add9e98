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
	"testing"

	"github.com/bits-and-blooms/bitset"

	"github.com/SnellerInc/udfc/expr"
)

func TestColumn(t *testing.T) {
	c, err := ColumnOf(expr.TypeFloat, expr.IntDatum(1), expr.NullDatum, expr.FloatDatum(2.5))
	if err != nil {
		t.Fatal(err)
	}
	if c.Len() != 3 || !c.IsNull(1) || c.Floats[0] != 1 {
		t.Errorf("got %v", c.Datums())
	}
	if err := c.Set(1, expr.FloatDatum(4)); err != nil || c.IsNull(1) {
		t.Errorf("Set: %v", err)
	}
	if err := c.Set(0, expr.StringDatum("x")); err == nil {
		t.Error("expected a type error")
	}
	if _, err := NewBatch(c, NewColumn(expr.TypeInt, 2)); err == nil {
		t.Error("expected a length error")
	}
	b, err := NewBatch(c, NewColumn(expr.TypeString, 3))
	if err != nil {
		t.Fatal(err)
	}
	if row := b.Row(2); len(row) != 2 || row[0].F != 2.5 || row[1].S != "" {
		t.Errorf("row %v", row)
	}
}

func TestNullsIn(t *testing.T) {
	c := NewColumn(expr.TypeInt, 300)
	for _, i := range []int{0, 63, 64, 65, 200, 299} {
		c.Set(i, expr.NullDatum)
	}
	m := bitset.New(128)
	m.Set(5)
	nullsIn(c, 64, 128, m)
	want := []uint{0, 1}
	var got []uint
	for i, ok := m.NextSet(0); ok; i, ok = m.NextSet(i + 1) {
		got = append(got, i)
	}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("got %v want %v", got, want)
	}
	nullsIn(c, 192, 108, m)
	if m.Count() != 2 || !m.Test(8) || !m.Test(107) {
		t.Errorf("got %v", m)
	}
}

func TestLaneWidth(t *testing.T) {
	for _, tc := range []struct{ in, want int }{
		{1, 8}, {8, 8}, {9, 16}, {100, 104}, {-5, 8}, {1 << 20, 4096},
	} {
		if got := clampWidth(tc.in); got != tc.want {
			t.Errorf("clampWidth(%d) = %d; want %d", tc.in, got, tc.want)
		}
	}
	t.Setenv(laneWidthEnvVar, "100")
	if got := DetectLaneWidth(); got != 104 {
		t.Errorf("got %d", got)
	}
	t.Setenv(laneWidthEnvVar, "lots")
	if got := DetectLaneWidth(); got != laneWidthFromCPUFeatures() {
		t.Errorf("got %d", got)
	}
}
