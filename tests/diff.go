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
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// Diff returns a unified diff of want and got.
// When diff(1) is unavailable, the lines that
// differ are listed instead.
func Diff(want, got string) string {
	if out, ok := rundiff(want, got); ok {
		return out
	}
	var sb strings.Builder
	wl := strings.Split(want, "\n")
	gl := strings.Split(got, "\n")
	for i := 0; i < len(wl) || i < len(gl); i++ {
		var w, g string
		if i < len(wl) {
			w = wl[i]
		}
		if i < len(gl) {
			g = gl[i]
		}
		if w != g {
			fmt.Fprintf(&sb, "line %d:\n-%s\n+%s\n", i+1, w, g)
		}
	}
	return sb.String()
}

func rundiff(s1, s2 string) (string, bool) {
	path, err := exec.LookPath("diff")
	if err != nil {
		return "", false
	}
	dir, err := os.MkdirTemp("", "diff")
	if err != nil {
		return "", false
	}
	defer os.RemoveAll(dir)
	f1, f2 := dir+"/want", dir+"/got"
	if os.WriteFile(f1, []byte(s1), 0600) != nil || os.WriteFile(f2, []byte(s2), 0600) != nil {
		return "", false
	}
	output, err := exec.Command(path, "-u", f1, f2).CombinedOutput()
	if err != nil {
		if _, ok := err.(*exec.ExitError); !ok {
			return "", false
		}
	}
	return string(output), true
}
