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
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/SnellerInc/udfc/expr"
)

// Snippet renders the source line at pos with
// one line of context on either side and a caret
// under pos.Col:
//
//	2 | var x = (1 +
//	3 | return )
//	  |        ^
//
// Out-of-range positions are clamped.
func Snippet(src []byte, pos expr.Position) string {
	if !pos.IsValid() {
		return ""
	}
	lines := strings.Split(string(src), "\n")
	line := pos.Line
	if line > len(lines) {
		line = len(lines)
	}
	var out strings.Builder
	emit := func(n int) {
		fmt.Fprintf(&out, "%4d | %s\n", n, strings.TrimRight(lines[n-1], "\r"))
	}
	if line > 1 {
		emit(line - 1)
	}
	emit(line)
	// preserve tabs so the caret lines up
	text := lines[line-1]
	col := pos.Col - 1
	if n := utf8.RuneCountInString(text); col > n {
		col = n
	}
	if col < 0 {
		col = 0
	}
	out.WriteString("     | ")
	for _, r := range text {
		if col == 0 {
			break
		}
		if r == '\t' {
			out.WriteByte('\t')
		} else {
			out.WriteByte(' ')
		}
		col--
	}
	out.WriteString("^")
	if line < len(lines) && strings.TrimSpace(lines[line]) != "" {
		out.WriteByte('\n')
		emit(line + 1)
		return strings.TrimSuffix(out.String(), "\n")
	}
	return out.String()
}
