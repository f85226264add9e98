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
	"encoding/binary"
	"math"

	"github.com/dchest/siphash"
	"golang.org/x/exp/slices"

	"github.com/SnellerInc/udfc/expr"
)

// keys for value numbering; any
// fixed key works since the hash
// only needs to be stable within a process
const (
	vnk0 = 0x736f6d6570736575
	vnk1 = 0x646f72616e646f6d
)

func appendDatum(dst []byte, d expr.Datum) []byte {
	dst = append(dst, byte(d.T))
	switch d.T {
	case expr.TypeInt:
		dst = binary.LittleEndian.AppendUint64(dst, uint64(d.I))
	case expr.TypeFloat:
		dst = binary.LittleEndian.AppendUint64(dst, math.Float64bits(d.F))
	case expr.TypeString:
		dst = binary.LittleEndian.AppendUint64(dst, uint64(len(d.S)))
		dst = append(dst, d.S...)
	case expr.TypeBool:
		if d.B {
			dst = append(dst, 1)
		} else {
			dst = append(dst, 0)
		}
	}
	return dst
}

// valueKey returns the hash of the
// parts of v that determine its result
func valueKey(buf []byte, v *Value) ([]byte, uint64) {
	buf = append(buf[:0], byte(v.Op), byte(v.Type))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(v.Aux))
	for _, a := range v.Args {
		buf = binary.LittleEndian.AppendUint32(buf, uint32(a))
	}
	switch v.Op {
	case OpConst:
		buf = appendDatum(buf, v.Const)
	case OpCall:
		buf = append(buf, v.Fn.Name...)
	}
	return buf, siphash.Hash(vnk0, vnk1, buf)
}

func sameValue(a, b *Value) bool {
	return a.Op == b.Op && a.Type == b.Type && a.Aux == b.Aux &&
		a.Fn == b.Fn && a.Const.Equal(b.Const) &&
		slices.Equal(a.Args, b.Args)
}

// numberValues performs local value numbering:
// within each block, a pure value that computes
// the same result as an earlier value is replaced
// by the earlier value.
func numberValues(f *Func, dead []bool) {
	fw := make(forward)
	var buf []byte
	for i := range f.Blocks {
		if dead[i] {
			continue
		}
		blk := &f.Blocks[i]
		table := make(map[uint64][]ValueID)
		for _, id := range blk.Values {
			v := &f.Values[id]
			if !v.Pure() {
				continue
			}
			// operands may have been
			// replaced earlier in this block
			for j := range v.Args {
				v.Args[j] = fw.get(v.Args[j])
			}
			var h uint64
			buf, h = valueKey(buf, v)
			found := false
			for _, prev := range table[h] {
				if sameValue(&f.Values[prev], v) {
					fw[id] = prev
					found = true
					break
				}
			}
			if !found {
				table[h] = append(table[h], id)
			}
		}
	}
	fw.apply(f)
	for i := range f.Blocks {
		removeValues(&f.Blocks[i], func(id ValueID) bool {
			_, ok := fw[id]
			return ok
		})
	}
}
