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
	"fmt"
	"strconv"
	"strings"

	"github.com/SnellerInc/udfc/expr"
)

func (v *Value) text(dst *strings.Builder) {
	if v.Op != OpNotice {
		fmt.Fprintf(dst, "v%d = ", v.ID)
	}
	dst.WriteString(v.Op.String())
	switch v.Op {
	case OpParam:
		dst.WriteByte(' ')
		dst.WriteString(strconv.Itoa(v.Aux))
	case OpConst:
		dst.WriteByte(' ')
		if v.Const.T == expr.TypeString {
			dst.WriteString(expr.Quote(v.Const.S))
		} else {
			dst.WriteString(v.Const.String())
		}
	case OpArith:
		dst.WriteByte(' ')
		dst.WriteString(expr.ArithOp(v.Aux).String())
	case OpCmp:
		dst.WriteByte(' ')
		dst.WriteString(expr.CmpOp(v.Aux).String())
	case OpIsNull:
		if v.Aux != 0 {
			dst.WriteString(" not")
		}
	case OpCall:
		dst.WriteByte(' ')
		dst.WriteString(v.Fn.Name)
	}
	for _, a := range v.Args {
		fmt.Fprintf(dst, " v%d", a)
	}
	if v.Op != OpNotice {
		dst.WriteString(" : ")
		dst.WriteString(v.Type.String())
	}
}

// String returns the textual form of v.
func (v *Value) String() string {
	var sb strings.Builder
	v.text(&sb)
	return sb.String()
}

func (b *Block) term(dst *strings.Builder) {
	dst.WriteString(b.Kind.String())
	switch b.Kind {
	case TermBr:
		fmt.Fprintf(dst, " b%d", b.Succs[0])
	case TermCondBr:
		fmt.Fprintf(dst, " v%d b%d b%d", b.Cond, b.Succs[0], b.Succs[1])
	case TermRet, TermRaise:
		fmt.Fprintf(dst, " v%d", b.Ret)
	}
}

// String returns a human-readable listing of f.
func (f *Func) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "func %s(", f.Name)
	for i := range f.Params {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%s %s", f.Params[i].Name, f.Params[i].Type)
	}
	fmt.Fprintf(&sb, ") %s", f.Returns)
	if f.Strict {
		sb.WriteString(" strict")
	}
	if f.CalledOnNull {
		sb.WriteString(" called_on_null")
	}
	sb.WriteByte('\n')
	for i := range f.Blocks {
		blk := &f.Blocks[i]
		fmt.Fprintf(&sb, "b%d:", blk.ID)
		if len(blk.Preds) > 0 {
			sb.WriteString(" <-")
			for _, p := range blk.Preds {
				fmt.Fprintf(&sb, " b%d", p)
			}
		}
		sb.WriteByte('\n')
		for _, id := range blk.Values {
			sb.WriteString("\t")
			f.Values[id].text(&sb)
			sb.WriteByte('\n')
		}
		sb.WriteString("\t")
		blk.term(&sb)
		sb.WriteByte('\n')
	}
	for i := range f.Loops {
		l := &f.Loops[i]
		fmt.Fprintf(&sb, "loop%d: header b%d body b%d bound %d", i, l.Header, l.Body, l.Bound)
		if l.Parent >= 0 {
			fmt.Fprintf(&sb, " parent loop%d", l.Parent)
		}
		sb.WriteString(" blocks")
		for _, b := range l.Blocks {
			fmt.Fprintf(&sb, " b%d", b)
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}
