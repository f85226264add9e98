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

// Package tests reads golden test files.
//
// A test file is a sequence of sections
// separated by lines that begin with "---".
// Blank lines and lines beginning with '#'
// are ignored, except for lines of the form
//
//	## key: value
//
// which set tags of the whole file.
package tests

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"
)

var (
	sepdash = []byte("---")
	tagmark = []byte("##")
)

// Testcase is the content of a test file.
type Testcase struct {
	// Tags are the "## key: value" lines;
	// keys are lowercased
	Tags map[string]string
	// Sections are the non-empty lines
	// of each section
	Sections [][]string
	// Lines are the line numbers of
	// the lines in Sections
	Lines [][]int
}

// Text returns the lines of section i
// joined by newlines.
func (s *Testcase) Text(i int) string {
	if i >= len(s.Sections) {
		return ""
	}
	return strings.Join(s.Sections[i], "\n")
}

// ParseTestcase reads the test file fname.
func ParseTestcase(fname string) (*Testcase, error) {
	f, err := os.Open(fname)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	tc, err := ReadTestcase(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", fname, err)
	}
	return tc, nil
}

// ReadTestcase reads a test file from r.
func ReadTestcase(r io.Reader) (*Testcase, error) {
	rd := bufio.NewScanner(r)
	tc := &Testcase{
		Tags:     make(map[string]string),
		Sections: [][]string{{}},
		Lines:    [][]int{{}},
	}
	part := 0
	lineno := 0
	for rd.Scan() {
		lineno++
		line := rd.Bytes()
		if bytes.HasPrefix(line, sepdash) {
			part++
			tc.Sections = append(tc.Sections, []string{})
			tc.Lines = append(tc.Lines, []int{})
			continue
		}
		if bytes.HasPrefix(line, tagmark) {
			key, value, ok := strings.Cut(string(line[len(tagmark):]), ":")
			if !ok {
				return nil, fmt.Errorf("line %d: tag without a value", lineno)
			}
			key = strings.ToLower(strings.TrimSpace(key))
			if _, dup := tc.Tags[key]; dup {
				return nil, fmt.Errorf("line %d: duplicate tag %q", lineno, key)
			}
			tc.Tags[key] = strings.TrimSpace(value)
			continue
		}
		// allow # line comments iff they begin the line
		if len(line) == 0 || line[0] == '#' {
			continue
		}
		tc.Sections[part] = append(tc.Sections[part], string(line))
		tc.Lines[part] = append(tc.Lines[part], lineno)
	}
	if err := rd.Err(); err != nil {
		return nil, err
	}
	return tc, nil
}

// Case is one "arguments => result" line.
type Case struct {
	Line int
	// Args is the text of the argument list
	Args string
	// Want is the expected result; if Err
	// is set, it is the expected text of
	// the error message instead
	Want string
	Err  bool
}

// Cases parses section i of s as a list of cases.
// The expected result "error: text" denotes an
// error whose message contains text.
func (s *Testcase) Cases(i int) ([]Case, error) {
	if i >= len(s.Sections) {
		return nil, fmt.Errorf("no section %d", i)
	}
	out := make([]Case, 0, len(s.Sections[i]))
	for j, line := range s.Sections[i] {
		args, want, ok := strings.Cut(line, "=>")
		if !ok {
			return nil, fmt.Errorf("line %d: expected \"args => result\"", s.Lines[i][j])
		}
		c := Case{
			Line: s.Lines[i][j],
			Args: strings.TrimSpace(args),
			Want: strings.TrimSpace(want),
		}
		if msg, ok := strings.CutPrefix(c.Want, "error:"); ok {
			c.Err = true
			c.Want = strings.TrimSpace(msg)
		}
		out = append(out, c)
	}
	return out, nil
}
