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
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// maxStringLen bounds the length of
// strings produced by repeat()
const maxStringLen = 1 << 24

func evalLength(args []Datum) (Datum, error) {
	return IntDatum(int64(utf8.RuneCountInString(args[0].S))), nil
}

func evalUpper(args []Datum) (Datum, error) {
	return StringDatum(strings.ToUpper(args[0].S)), nil
}

func evalLower(args []Datum) (Datum, error) {
	return StringDatum(strings.ToLower(args[0].S)), nil
}

func cutset(args []Datum) string {
	if len(args) > 1 {
		return args[1].S
	}
	return " "
}

func evalTrim(args []Datum) (Datum, error) {
	return StringDatum(strings.Trim(args[0].S, cutset(args))), nil
}

func evalLtrim(args []Datum) (Datum, error) {
	return StringDatum(strings.TrimLeft(args[0].S, cutset(args))), nil
}

func evalRtrim(args []Datum) (Datum, error) {
	return StringDatum(strings.TrimRight(args[0].S, cutset(args))), nil
}

// Substr returns the characters of s starting at
// the 1-based position start; if length is non-negative,
// at most length characters (counted from start, which
// may be less than 1) are returned.
func Substr(s string, start, length int64, haveLength bool) (string, error) {
	if haveLength && length < 0 {
		return "", fmt.Errorf("negative substring length: %w", ErrDomain)
	}
	var end int64
	if haveLength {
		end = start + length // exclusive
		if end < start {
			end = math.MaxInt64
		}
	}
	if start < 1 {
		start = 1
	}
	if haveLength && end <= start {
		return "", nil
	}
	pos := int64(1)
	from, to := len(s), len(s)
	for i := range s {
		if pos == start {
			from = i
		}
		if haveLength && pos == end {
			to = i
			break
		}
		pos++
	}
	return s[from:to], nil
}

func evalSubstr(args []Datum) (Datum, error) {
	var length int64
	if len(args) > 2 {
		length = args[2].I
	}
	s, err := Substr(args[0].S, args[1].I, length, len(args) > 2)
	if err != nil {
		return NullDatum, err
	}
	return StringDatum(s), nil
}

func evalConcat(args []Datum) (Datum, error) {
	var out strings.Builder
	for i := range args {
		if !args[i].IsNull() {
			out.WriteString(args[i].String())
		}
	}
	return StringDatum(out.String()), nil
}

func evalReplace(args []Datum) (Datum, error) {
	if args[1].S == "" {
		return args[0], nil
	}
	return StringDatum(strings.ReplaceAll(args[0].S, args[1].S, args[2].S)), nil
}

func evalStrpos(args []Datum) (Datum, error) {
	idx := strings.Index(args[0].S, args[1].S)
	if idx < 0 {
		return IntDatum(0), nil
	}
	return IntDatum(int64(utf8.RuneCountInString(args[0].S[:idx])) + 1), nil
}

// runeOffset returns the byte offset of the n-th rune of s
func runeOffset(s string, n int64) int {
	if n <= 0 {
		return 0
	}
	for i := range s {
		if n == 0 {
			return i
		}
		n--
	}
	return len(s)
}

func evalLeft(args []Datum) (Datum, error) {
	s, n := args[0].S, args[1].I
	if n < 0 {
		n += int64(utf8.RuneCountInString(s))
	}
	return StringDatum(s[:runeOffset(s, n)]), nil
}

func evalRight(args []Datum) (Datum, error) {
	s, n := args[0].S, args[1].I
	count := int64(utf8.RuneCountInString(s))
	if n < 0 {
		n += count
	}
	if n > count {
		n = count
	}
	return StringDatum(s[runeOffset(s, count-n):]), nil
}

func evalStartsWith(args []Datum) (Datum, error) {
	return BoolDatum(strings.HasPrefix(args[0].S, args[1].S)), nil
}

func evalContains(args []Datum) (Datum, error) {
	return BoolDatum(strings.Contains(args[0].S, args[1].S)), nil
}

func evalRepeat(args []Datum) (Datum, error) {
	s, n := args[0].S, args[1].I
	if n <= 0 || s == "" {
		return StringDatum(""), nil
	}
	if n > maxStringLen/int64(len(s)) {
		return NullDatum, fmt.Errorf("repeat: result too large: %w", ErrDomain)
	}
	return StringDatum(strings.Repeat(s, int(n))), nil
}

func evalReverse(args []Datum) (Datum, error) {
	r := []rune(args[0].S)
	for i, j := 0, len(r)-1; i < j; i, j = i+1, j-1 {
		r[i], r[j] = r[j], r[i]
	}
	return StringDatum(string(r)), nil
}

func evalSplitPart(args []Datum) (Datum, error) {
	s, delim, n := args[0].S, args[1].S, args[2].I
	if n == 0 {
		return NullDatum, fmt.Errorf("split_part: field position must not be zero: %w", ErrDomain)
	}
	var parts []string
	if delim == "" {
		parts = []string{s}
	} else {
		parts = strings.Split(s, delim)
	}
	if n < 0 {
		n += int64(len(parts)) + 1
	}
	if n < 1 || n > int64(len(parts)) {
		return StringDatum(""), nil
	}
	return StringDatum(parts[n-1]), nil
}

func evalNormalize(args []Datum) (Datum, error) {
	form := norm.NFC
	if len(args) > 1 {
		switch strings.ToUpper(args[1].S) {
		case "NFC":
		case "NFD":
			form = norm.NFD
		case "NFKC":
			form = norm.NFKC
		case "NFKD":
			form = norm.NFKD
		default:
			return NullDatum, fmt.Errorf("normalize: unknown form %q: %w", args[1].S, ErrDomain)
		}
	}
	return StringDatum(form.String(args[0].S)), nil
}
