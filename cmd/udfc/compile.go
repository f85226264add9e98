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

package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/SnellerInc/udfc"
	"github.com/SnellerInc/udfc/ir"
	"github.com/SnellerInc/udfc/vm"
)

// progext is the extension of compiled programs
const progext = ".udfp"

// compile compiles every definition in path and,
// if outdir is non-empty, writes the vectorized
// programs there
func compile(dst io.Writer, path, outdir string) error {
	r := udfc.NewRegistry(udfc.NewMemHost(), config().Options()...)
	defer r.Close()
	defs, err := definitions(path)
	if err != nil {
		return err
	}
	for i := range defs {
		art, err := r.Compile(&defs[i])
		if err != nil {
			return fmt.Errorf("%s: %w", defs[i].Name, err)
		}
		if !art.Vectorized() {
			fmt.Fprintf(dst, "%s: scalar (%s)\n", defs[i].Signature(), strings.Join(art.Degradations(), ", "))
			continue
		}
		fmt.Fprintf(dst, "%s: vectorized, %d instructions, width %d\n", defs[i].Signature(), len(art.Prog().Insts), art.Width())
		for _, d := range art.Degradations() {
			fmt.Fprintf(dst, "    per-row: %s\n", d)
		}
		if outdir == "" {
			continue
		}
		buf, err := art.Prog().MarshalBinary()
		if err != nil {
			return fmt.Errorf("%s: %w", defs[i].Name, err)
		}
		out := filepath.Join(outdir, strings.ToLower(defs[i].Name)+progext)
		if err := os.WriteFile(out, buf, 0644); err != nil {
			return err
		}
		if dashv {
			logf("wrote %s (%d bytes)", out, len(buf))
		}
	}
	return nil
}

// explain prints the IR and the vector program
// of the named function, or of every function
func explain(dst io.Writer, path, name string) error {
	r := udfc.NewRegistry(udfc.NewMemHost(), config().Options()...)
	defer r.Close()
	defs, err := definitions(path)
	if err != nil {
		return err
	}
	found := false
	for i := range defs {
		if name != "" && !strings.EqualFold(name, defs[i].Name) {
			continue
		}
		found = true
		art, err := r.Compile(&defs[i])
		if err != nil {
			return fmt.Errorf("%s: %w", defs[i].Name, err)
		}
		if dashdot {
			if err := ir.Graphviz(art.Func(), dst); err != nil {
				return err
			}
			continue
		}
		fmt.Fprintf(dst, "-- %s\n%s\n", defs[i].Signature(), art.Func())
		if art.Vectorized() {
			fmt.Fprintf(dst, "-- vector program\n%s\n", art.Prog())
		} else {
			fmt.Fprintf(dst, "-- evaluated one row at a time: %s\n", strings.Join(art.Degradations(), ", "))
		}
	}
	if !found {
		return fmt.Errorf("%s: no function %s", path, name)
	}
	return nil
}

// loadProg reads a compiled program
func loadProg(path string) (*vm.Prog, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	p, err := vm.UnmarshalProg(buf, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

func init() {
	addApplet(applet{
		name: "compile",
		help: "<file.sql|config.yaml>",
		desc: "compile functions (and write programs to -o)",
		run: func(args []string) bool {
			if len(args) != 2 {
				return false
			}
			if err := compile(os.Stdout, args[1], dasho); err != nil {
				exitf("%s", err)
			}
			return true
		},
	})
	addApplet(applet{
		name: "explain",
		help: "<file.sql|config.yaml> [function]",
		desc: "show the IR and the vector program of functions",
		run: func(args []string) bool {
			if len(args) != 2 && len(args) != 3 {
				return false
			}
			name := ""
			if len(args) == 3 {
				name = args[2]
			}
			if err := explain(os.Stdout, args[1], name); err != nil {
				exitf("%s", err)
			}
			return true
		},
	})
	addApplet(applet{
		name: "inspect",
		help: "<file" + progext + ">",
		desc: "show a compiled program",
		run: func(args []string) bool {
			if len(args) != 2 {
				return false
			}
			p, err := loadProg(args[1])
			if err != nil {
				exitf("%s", err)
			}
			fmt.Printf("-- %s\n%s\n", p.Func.Name, p)
			return true
		},
	})
}
