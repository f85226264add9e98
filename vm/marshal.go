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
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"golang.org/x/crypto/blake2b"

	"github.com/SnellerInc/udfc/compr"
	"github.com/SnellerInc/udfc/expr"
	"github.com/SnellerInc/udfc/ir"
)

const (
	progMagic   = "UDFP"
	progVersion = 1

	// the largest accepted decompressed program
	maxProgSize = 64 << 20
)

// ErrBadChecksum is returned by UnmarshalProg
// when the checksum of a program does not match.
var ErrBadChecksum = errors.New("vm: program checksum mismatch")

type encoder struct {
	buf []byte
}

func (e *encoder) uint(u uint64) { e.buf = binary.AppendUvarint(e.buf, u) }
func (e *encoder) int(i int64)   { e.buf = binary.AppendVarint(e.buf, i) }

func (e *encoder) string(s string) {
	e.uint(uint64(len(s)))
	e.buf = append(e.buf, s...)
}

func (e *encoder) bool(b bool) {
	if b {
		e.buf = append(e.buf, 1)
	} else {
		e.buf = append(e.buf, 0)
	}
}

func (e *encoder) pos(p expr.Position) {
	e.int(int64(p.Line))
	e.int(int64(p.Col))
}

func (e *encoder) datum(d expr.Datum) {
	e.uint(uint64(d.T))
	switch d.T {
	case expr.TypeInt:
		e.int(d.I)
	case expr.TypeFloat:
		e.buf = binary.LittleEndian.AppendUint64(e.buf, math.Float64bits(d.F))
	case expr.TypeString:
		e.string(d.S)
	case expr.TypeBool:
		e.bool(d.B)
	}
}

func (e *encoder) values(ids []ir.ValueID) {
	e.uint(uint64(len(ids)))
	for _, id := range ids {
		e.int(int64(id))
	}
}

func (e *encoder) blocks(ids []ir.BlockID) {
	e.uint(uint64(len(ids)))
	for _, id := range ids {
		e.int(int64(id))
	}
}

func (e *encoder) fn(f *ir.Func) {
	e.string(f.Name)
	e.uint(uint64(len(f.Params)))
	for _, p := range f.Params {
		e.string(p.Name)
		e.uint(uint64(p.Type))
	}
	e.uint(uint64(f.Returns))
	e.bool(f.Strict)
	e.bool(f.CalledOnNull)
	e.uint(uint64(len(f.Values)))
	for i := range f.Values {
		v := &f.Values[i]
		e.uint(uint64(v.Op))
		e.uint(uint64(v.Type))
		e.values(v.Args)
		e.int(int64(v.Aux))
		e.datum(v.Const)
		if v.Fn != nil {
			e.string(v.Fn.Name)
		} else {
			e.string("")
		}
		e.int(int64(v.Block))
		e.pos(v.At)
	}
	e.uint(uint64(len(f.Blocks)))
	for i := range f.Blocks {
		b := &f.Blocks[i]
		e.values(b.Values)
		e.blocks(b.Preds)
		e.uint(uint64(b.Kind))
		e.int(int64(b.Cond))
		e.int(int64(b.Ret))
		e.blocks(b.Succs)
		e.pos(b.At)
	}
	e.uint(uint64(len(f.Loops)))
	for i := range f.Loops {
		l := &f.Loops[i]
		e.int(int64(l.Header))
		e.int(int64(l.Body))
		e.blocks(l.Blocks)
		e.int(l.Bound)
		e.int(int64(l.Parent))
		e.pos(l.At)
	}
}

// MarshalBinary encodes p, including its function,
// in a compressed and checksummed binary form.
// See UnmarshalProg.
func (p *Prog) MarshalBinary() ([]byte, error) {
	var e encoder
	e.fn(p.Func)
	e.blocks(p.Order)
	e.uint(uint64(p.Masks))
	e.uint(uint64(len(p.Insts)))
	for i := range p.Insts {
		in := &p.Insts[i]
		e.uint(uint64(in.Op))
		e.int(int64(in.Mask))
		e.int(int64(in.Dst))
		e.int(int64(in.Dst2))
		e.int(int64(in.Value))
		e.int(int64(in.Target))
		e.int(int64(in.Loop))
		e.uint(uint64(len(in.Moves)))
		for _, m := range in.Moves {
			e.int(int64(m.Dst))
			e.int(int64(m.Src))
		}
	}
	out := append([]byte(progMagic), progVersion)
	out = compr.Pack(out, compr.Compression("zstd"), e.buf)
	h, err := blake2b.New256(nil)
	if err != nil {
		return nil, err
	}
	h.Write(out)
	return h.Sum(out), nil
}

type decoder struct {
	buf []byte
	err error
}

func (d *decoder) fail(f string, args ...any) {
	if d.err == nil {
		d.err = fmt.Errorf("vm.UnmarshalProg: "+f, args...)
	}
}

func (d *decoder) uint() uint64 {
	if d.err != nil {
		return 0
	}
	u, n := binary.Uvarint(d.buf)
	if n <= 0 {
		d.fail("truncated integer")
		return 0
	}
	d.buf = d.buf[n:]
	return u
}

func (d *decoder) int() int64 {
	if d.err != nil {
		return 0
	}
	i, n := binary.Varint(d.buf)
	if n <= 0 {
		d.fail("truncated integer")
		return 0
	}
	d.buf = d.buf[n:]
	return i
}

// count reads a length that must not
// exceed the remaining input
func (d *decoder) count() int {
	n := d.uint()
	if n > uint64(len(d.buf)) {
		d.fail("length %d exceeds the remaining %d bytes", n, len(d.buf))
		return 0
	}
	return int(n)
}

func (d *decoder) bytes(n int) []byte {
	if d.err != nil {
		return nil
	}
	if n > len(d.buf) {
		d.fail("truncated input")
		return nil
	}
	b := d.buf[:n]
	d.buf = d.buf[n:]
	return b
}

func (d *decoder) string() string { return string(d.bytes(d.count())) }

func (d *decoder) bool() bool {
	b := d.bytes(1)
	return len(b) == 1 && b[0] != 0
}

func (d *decoder) typ() expr.Type {
	t := d.uint()
	if t > uint64(expr.TypeString) {
		d.fail("bad type %d", t)
	}
	return expr.Type(t)
}

func (d *decoder) pos() expr.Position {
	return expr.Position{Line: int(d.int()), Col: int(d.int())}
}

func (d *decoder) datum() expr.Datum {
	switch t := d.typ(); t {
	case expr.TypeInt:
		return expr.IntDatum(d.int())
	case expr.TypeFloat:
		b := d.bytes(8)
		if len(b) < 8 {
			return expr.NullDatum
		}
		return expr.FloatDatum(math.Float64frombits(binary.LittleEndian.Uint64(b)))
	case expr.TypeString:
		return expr.StringDatum(d.string())
	case expr.TypeBool:
		return expr.BoolDatum(d.bool())
	}
	return expr.NullDatum
}

func (d *decoder) values() []ir.ValueID {
	n := d.count()
	if n == 0 {
		return nil
	}
	out := make([]ir.ValueID, n)
	for i := range out {
		out[i] = ir.ValueID(d.int())
	}
	return out
}

func (d *decoder) blocks() []ir.BlockID {
	n := d.count()
	if n == 0 {
		return nil
	}
	out := make([]ir.BlockID, n)
	for i := range out {
		out[i] = ir.BlockID(d.int())
	}
	return out
}

func (d *decoder) fn(cat expr.Catalog) *ir.Func {
	f := &ir.Func{Name: d.string()}
	f.Params = make([]expr.Param, d.count())
	for i := range f.Params {
		f.Params[i].Name = d.string()
		f.Params[i].Type = d.typ()
	}
	f.Returns = d.typ()
	f.Strict = d.bool()
	f.CalledOnNull = d.bool()
	f.Values = make([]ir.Value, d.count())
	for i := range f.Values {
		v := &f.Values[i]
		v.ID = ir.ValueID(i)
		v.Op = ir.Op(d.uint())
		v.Type = d.typ()
		v.Args = d.values()
		v.Aux = int(d.int())
		v.Const = d.datum()
		if name := d.string(); name != "" {
			fi, ok := cat.Lookup(name)
			if !ok {
				d.fail("undefined function %q", name)
			}
			v.Fn = fi
		}
		v.Block = ir.BlockID(d.int())
		v.At = d.pos()
	}
	f.Blocks = make([]ir.Block, d.count())
	for i := range f.Blocks {
		b := &f.Blocks[i]
		b.ID = ir.BlockID(i)
		b.Values = d.values()
		b.Preds = d.blocks()
		b.Kind = ir.TermKind(d.uint())
		b.Cond = ir.ValueID(d.int())
		b.Ret = ir.ValueID(d.int())
		b.Succs = d.blocks()
		b.At = d.pos()
	}
	f.Loops = make([]ir.Loop, d.count())
	for i := range f.Loops {
		l := &f.Loops[i]
		l.Header = ir.BlockID(d.int())
		l.Body = ir.BlockID(d.int())
		l.Blocks = d.blocks()
		l.Bound = d.int()
		l.Parent = int(d.int())
		l.At = d.pos()
	}
	return f
}

// UnmarshalProg decodes a program encoded
// by (*Prog).MarshalBinary. Calls are resolved
// through cat, or the built-in catalog if cat
// is nil. The decoded function is verified.
func UnmarshalProg(data []byte, cat expr.Catalog) (*Prog, error) {
	const sumlen = blake2b.Size256
	if len(data) < len(progMagic)+1+sumlen || string(data[:len(progMagic)]) != progMagic {
		return nil, fmt.Errorf("vm.UnmarshalProg: not a compiled program")
	}
	split := len(data) - sumlen
	h, err := blake2b.New256(nil)
	if err != nil {
		return nil, err
	}
	h.Write(data[:split])
	if subtle.ConstantTimeCompare(h.Sum(nil), data[split:]) != 1 {
		return nil, ErrBadChecksum
	}
	if v := data[len(progMagic)]; v != progVersion {
		return nil, fmt.Errorf("vm.UnmarshalProg: unsupported version %d", v)
	}
	raw, err := compr.Unpack(data[len(progMagic)+1:split], maxProgSize)
	if err != nil {
		return nil, fmt.Errorf("vm.UnmarshalProg: %w", err)
	}
	if cat == nil {
		cat = expr.Builtins
	}
	d := &decoder{buf: raw}
	p := &Prog{Func: d.fn(cat)}
	p.Order = d.blocks()
	p.Masks = int(d.uint())
	p.Insts = make([]Inst, d.count())
	for i := range p.Insts {
		in := &p.Insts[i]
		in.Op = InstOp(d.uint())
		in.Mask = int(d.int())
		in.Dst = int(d.int())
		in.Dst2 = int(d.int())
		in.Value = ir.ValueID(d.int())
		in.Target = int(d.int())
		in.Loop = int(d.int())
		if n := d.count(); n > 0 {
			in.Moves = make([]Move, n)
			for j := range in.Moves {
				in.Moves[j].Dst = ir.ValueID(d.int())
				in.Moves[j].Src = ir.ValueID(d.int())
			}
		}
	}
	if d.err != nil {
		return nil, d.err
	}
	if len(d.buf) != 0 {
		return nil, fmt.Errorf("vm.UnmarshalProg: %d trailing bytes", len(d.buf))
	}
	if err := ir.Verify(p.Func); err != nil {
		return nil, fmt.Errorf("vm.UnmarshalProg: %w", err)
	}
	if p.Masks != len(p.Func.Blocks)+numScratch {
		return nil, fmt.Errorf("vm.UnmarshalProg: %d mask registers for %d blocks", p.Masks, len(p.Func.Blocks))
	}
	return p, nil
}
