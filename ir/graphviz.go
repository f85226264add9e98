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
	"io"
	"strings"
)

// Graphviz dumps the control-flow graph of f
// to dst as dot(1)-compatible text.
func Graphviz(f *Func, dst io.Writer) error {
	_, err := fmt.Fprintf(dst, "digraph %q {\nnode [shape=box, fontname=monospace];\n", f.Name)
	if err != nil {
		return err
	}
	var sb strings.Builder
	for i := range f.Blocks {
		blk := &f.Blocks[i]
		sb.Reset()
		fmt.Fprintf(&sb, "b%d:\\l", blk.ID)
		for _, id := range blk.Values {
			sb.WriteString(escape(f.Values[id].String()))
			sb.WriteString("\\l")
		}
		var term strings.Builder
		blk.term(&term)
		sb.WriteString(escape(term.String()))
		sb.WriteString("\\l")
		_, err = fmt.Fprintf(dst, "b%d [label=\"%s\"];\n", blk.ID, sb.String())
		if err != nil {
			return err
		}
		for j, s := range blk.Succs {
			attr := ""
			if blk.Kind == TermCondBr {
				attr = " [label=\"T\"]"
				if j == 1 {
					attr = " [label=\"F\"]"
				}
			}
			_, err = fmt.Fprintf(dst, "b%d -> b%d%s;\n", blk.ID, s, attr)
			if err != nil {
				return err
			}
		}
	}
	// draw each loop as a cluster around its header
	for i := range f.Loops {
		l := &f.Loops[i]
		_, err = fmt.Fprintf(dst, "subgraph cluster_loop%d {\nlabel=\"loop%d (bound %d)\";\ncolor=lightgrey;\n", i, i, l.Bound)
		if err != nil {
			return err
		}
		for _, b := range l.Blocks {
			fmt.Fprintf(dst, "b%d;\n", b)
		}
		if _, err = io.WriteString(dst, "}\n"); err != nil {
			return err
		}
	}
	_, err = io.WriteString(dst, "}\n")
	return err
}

func escape(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`)
	return r.Replace(s)
}
