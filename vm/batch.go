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
	"fmt"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/bits-and-blooms/bitset"

	"github.com/SnellerInc/udfc/expr"
)

// Mask is a set of active lanes
// within one lane group.
type Mask = bitset.BitSet

// Column is a column of values of a single type.
// Exactly one of the value slices is used,
// according to Type; rows in Nulls are null
// and their slots hold the zero value.
type Column struct {
	Type    expr.Type
	Ints    []int64
	Floats  []float64
	Strings []string
	Bools   []bool
	Nulls   *roaring.Bitmap
}

// NewColumn returns a column of n null-free
// zero values of type t.
func NewColumn(t expr.Type, n int) *Column {
	c := &Column{Type: t, Nulls: roaring.New()}
	switch t {
	case expr.TypeInt:
		c.Ints = make([]int64, n)
	case expr.TypeFloat:
		c.Floats = make([]float64, n)
	case expr.TypeString:
		c.Strings = make([]string, n)
	case expr.TypeBool:
		c.Bools = make([]bool, n)
	case expr.TypeNull:
		c.Nulls.AddRange(0, uint64(n))
	}
	return c
}

// ColumnOf builds a column of type t from datums,
// widening integers when t is TypeFloat.
func ColumnOf(t expr.Type, ds ...expr.Datum) (*Column, error) {
	c := NewColumn(t, len(ds))
	for i := range ds {
		if err := c.Set(i, ds[i]); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Len returns the number of rows in c.
func (c *Column) Len() int {
	switch c.Type {
	case expr.TypeInt:
		return len(c.Ints)
	case expr.TypeFloat:
		return len(c.Floats)
	case expr.TypeString:
		return len(c.Strings)
	case expr.TypeBool:
		return len(c.Bools)
	case expr.TypeNull:
		return int(c.Nulls.GetCardinality())
	}
	return 0
}

// IsNull returns whether row i is null.
func (c *Column) IsNull(i int) bool {
	return c.Nulls != nil && c.Nulls.Contains(uint32(i))
}

// Datum returns the value of row i.
func (c *Column) Datum(i int) expr.Datum {
	if c.IsNull(i) {
		return expr.NullDatum
	}
	switch c.Type {
	case expr.TypeInt:
		return expr.IntDatum(c.Ints[i])
	case expr.TypeFloat:
		return expr.FloatDatum(c.Floats[i])
	case expr.TypeString:
		return expr.StringDatum(c.Strings[i])
	case expr.TypeBool:
		return expr.BoolDatum(c.Bools[i])
	}
	return expr.NullDatum
}

// Set sets row i to d.
func (c *Column) Set(i int, d expr.Datum) error {
	if c.Nulls == nil {
		c.Nulls = roaring.New()
	}
	if d.IsNull() {
		c.Nulls.Add(uint32(i))
		c.zero(i)
		return nil
	}
	d = d.Widen(c.Type)
	if d.T != c.Type {
		return fmt.Errorf("vm: cannot store %s in a %s column", d.T, c.Type)
	}
	c.Nulls.Remove(uint32(i))
	switch c.Type {
	case expr.TypeInt:
		c.Ints[i] = d.I
	case expr.TypeFloat:
		c.Floats[i] = d.F
	case expr.TypeString:
		c.Strings[i] = d.S
	case expr.TypeBool:
		c.Bools[i] = d.B
	}
	return nil
}

func (c *Column) zero(i int) {
	switch c.Type {
	case expr.TypeInt:
		c.Ints[i] = 0
	case expr.TypeFloat:
		c.Floats[i] = 0
	case expr.TypeString:
		c.Strings[i] = ""
	case expr.TypeBool:
		c.Bools[i] = false
	}
}

// Datums returns the values of every row of c.
func (c *Column) Datums() []expr.Datum {
	out := make([]expr.Datum, c.Len())
	for i := range out {
		out[i] = c.Datum(i)
	}
	return out
}

// widen returns c converted to type t,
// which must be assignable from c.Type
func (c *Column) widen(t expr.Type) (*Column, error) {
	if c.Type == t {
		return c, nil
	}
	n := c.Len()
	switch {
	case c.Type == expr.TypeInt && t == expr.TypeFloat:
		out := &Column{Type: t, Floats: make([]float64, n), Nulls: c.Nulls}
		for i, v := range c.Ints {
			out.Floats[i] = float64(v)
		}
		return out, nil
	case c.Type == expr.TypeNull:
		out := NewColumn(t, n)
		out.Nulls.AddRange(0, uint64(n))
		return out, nil
	}
	return nil, fmt.Errorf("cannot use a %s column as %s", c.Type, t)
}

// Batch is a set of equal-length columns,
// one per function argument.
type Batch struct {
	Rows    int
	Columns []*Column
}

// NewBatch returns a batch of the given columns,
// which must all have the same length.
func NewBatch(cols ...*Column) (*Batch, error) {
	b := &Batch{Columns: cols}
	for i, c := range cols {
		if i == 0 {
			b.Rows = c.Len()
		} else if c.Len() != b.Rows {
			return nil, fmt.Errorf("vm.NewBatch: column %d has %d rows; want %d", i, c.Len(), b.Rows)
		}
	}
	return b, nil
}

// Row returns the arguments of row i.
func (b *Batch) Row(i int) []expr.Datum {
	out := make([]expr.Datum, len(b.Columns))
	for j, c := range b.Columns {
		out[j] = c.Datum(i)
	}
	return out
}

// nullsIn sets the lanes of dst that correspond to
// the null rows of c within [base, base+n)
func nullsIn(c *Column, base, n int, dst *Mask) {
	dst.ClearAll()
	if c.Nulls == nil || c.Nulls.IsEmpty() {
		return
	}
	it := c.Nulls.Iterator()
	it.AdvanceIfNeeded(uint32(base))
	for it.HasNext() {
		r := int(it.Next())
		if r >= base+n {
			break
		}
		dst.Set(uint(r - base))
	}
}
