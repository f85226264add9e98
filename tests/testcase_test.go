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

package tests

import (
	"strings"
	"testing"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

func TestReadSpec(t *testing.T) {
	input := `
## Name: udf1
CREATE FUNCTION udf1(name text)

RETURNS text
--- cases

'Sam' => 'Udf1 Sam'
#'Bob' => ignored

null => NULL
---

1 => error: division by zero
##KEY2      : value2
`
	tc, err := ReadTestcase(strings.NewReader(input))
	if err != nil {
		t.Fatalf("unexpected error %s", err)
	}
	if len(tc.Sections) != 3 {
		t.Fatalf("got %d sections, want 3", len(tc.Sections))
	}
	want := map[string]string{
		"name": "udf1",
		"key2": "value2",
	}
	if !maps.Equal(tc.Tags, want) {
		t.Errorf("tags %v, want %v", tc.Tags, want)
	}
	slicesEqual(t, tc.Sections[0], []string{"CREATE FUNCTION udf1(name text)", "RETURNS text"})
	slicesEqual(t, tc.Sections[1], []string{"'Sam' => 'Udf1 Sam'", "null => NULL"})
	if !slices.Equal(tc.Lines[1], []int{8, 11}) {
		t.Errorf("lines %v", tc.Lines[1])
	}
	if got := tc.Text(0); got != "CREATE FUNCTION udf1(name text)\nRETURNS text" {
		t.Errorf("text %q", got)
	}

	cases, err := tc.Cases(1)
	if err != nil {
		t.Fatal(err)
	}
	if len(cases) != 2 || cases[0].Args != "'Sam'" || cases[0].Want != "'Udf1 Sam'" || cases[1].Line != 11 {
		t.Errorf("cases %+v", cases)
	}
	cases, err = tc.Cases(2)
	if err != nil {
		t.Fatal(err)
	}
	if len(cases) != 1 || !cases[0].Err || cases[0].Want != "division by zero" {
		t.Errorf("error case %+v", cases)
	}
	if _, err := tc.Cases(0); err == nil {
		t.Error("expected an error for a section without cases")
	}
}

func TestReadSpecErrors(t *testing.T) {
	for _, input := range []string{
		"## novalue\n",
		"## a: 1\n## A: 2\n",
	} {
		if _, err := ReadTestcase(strings.NewReader(input)); err == nil {
			t.Errorf("%q: expected an error", input)
		}
	}
}

func TestDiff(t *testing.T) {
	if d := Diff("a\nb\n", "a\nb\n"); d != "" {
		t.Errorf("equal inputs: %q", d)
	}
	d := Diff("a\nb\n", "a\nc\n")
	if !strings.Contains(d, "-b") || !strings.Contains(d, "+c") {
		t.Errorf("diff %q", d)
	}
}

func slicesEqual(t *testing.T, got, want []string) {
	t.Helper()
	if !slices.Equal(got, want) {
		t.Errorf("got %q, want %q", got, want)
	}
}
