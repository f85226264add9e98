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

// Command udfc compiles and evaluates
// user-defined functions.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/exp/slices"

	"github.com/SnellerInc/udfc"
	"github.com/SnellerInc/udfc/ddl"
)

var (
	dashv       bool
	dashh       bool
	dashscalar  bool
	dashdot     bool
	dashc       string
	dasho       string
	dashparquet string
	dashbound   int64
	dashmax     int64
	dashwidth   int
	dashlimit   int
)

func init() {
	flag.BoolVar(&dashv, "v", false, "verbose")
	flag.BoolVar(&dashh, "h", false, "show usage help")
	flag.BoolVar(&dashscalar, "scalar", false, "disable vectorization")
	flag.BoolVar(&dashdot, "dot", false, "explain: print the control-flow graph in graphviz format")
	flag.StringVar(&dashc, "c", "", "config file (yaml or json)")
	flag.StringVar(&dasho, "o", "", "compile: directory for compiled programs")
	flag.StringVar(&dashparquet, "parquet", "", "run: evaluate over the rows of a parquet file")
	flag.Int64Var(&dashbound, "bound", 0, "iteration bound of loops without one")
	flag.Int64Var(&dashmax, "max-bound", 0, "largest accepted loop bound")
	flag.IntVar(&dashwidth, "width", 0, "lane width (default: detected)")
	flag.IntVar(&dashlimit, "limit", 0, "run: maximum number of parquet rows (0 is unlimited)")
}

type applet struct {
	name string
	help string
	desc string
	run  func(args []string) bool
}

var applets []applet

func addApplet(a applet) {
	applets = append(applets, a)
}

func exitf(f string, args ...interface{}) {
	if !strings.HasSuffix(f, "\n") {
		f += "\n"
	}
	fmt.Fprintf(os.Stderr, f, args...)
	os.Exit(1)
}

func logf(f string, args ...interface{}) {
	if f[len(f)-1] != '\n' {
		f += "\n"
	}
	fmt.Fprintf(os.Stderr, f, args...)
}

// config returns the configuration
// from -c and the command-line flags
func config() *udfc.Config {
	c := new(udfc.Config)
	if dashc != "" {
		var err error
		c, err = udfc.LoadConfig(dashc)
		if err != nil {
			exitf("%s", err)
		}
	}
	if dashbound > 0 {
		c.DefaultLoopBound = dashbound
	}
	if dashmax > 0 {
		c.MaxLoopBound = dashmax
	}
	if dashwidth > 0 {
		c.LaneWidth = dashwidth
	}
	if dashscalar {
		c.Scalar = true
	}
	return c
}

// registry returns a registry configured by
// config() with the configured functions registered
func registry(host udfc.Host) *udfc.Registry {
	c := config()
	opts := append(c.Options(), udfc.WithLogger(log.New(os.Stderr, "", 0)))
	r := udfc.NewRegistry(host, opts...)
	if err := c.Apply(r); err != nil {
		exitf("%s: %s", dashc, err)
	}
	return r
}

// definitions reads a DDL script, or a
// config file when the extension says so
func definitions(path string) ([]udfc.Definition, error) {
	switch filepath.Ext(path) {
	case ".yaml", ".yml", ".json":
		c, err := udfc.LoadConfig(path)
		if err != nil {
			return nil, err
		}
		return c.Definitions()
	}
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	defs, err := ddl.Parse(string(buf))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return defs, nil
}

func load(path string) []udfc.Definition {
	defs, err := definitions(path)
	if err != nil {
		exitf("%s", err)
	}
	return defs
}

func usage() {
	fmt.Fprintf(os.Stderr, "usage:\n")
	slices.SortFunc(applets, func(a, b applet) int { return strings.Compare(a.name, b.name) })
	for i := range applets {
		fmt.Fprintf(os.Stderr, "    %s [flags] %s %s\n", os.Args[0], applets[i].name, applets[i].help)
		if applets[i].desc != "" {
			fmt.Fprintf(os.Stderr, "        %s\n", applets[i].desc)
		}
	}
	fmt.Fprintf(os.Stderr, "flag usage:\n")
	flag.PrintDefaults()
}

func main() {
	flag.Parse()
	args := flag.Args()
	if len(args) == 0 || dashh {
		usage()
		os.Exit(1)
	}
	for i := range applets {
		if applets[i].name != args[0] {
			continue
		}
		if !applets[i].run(args) {
			exitf("usage: %s %s", applets[i].name, applets[i].help)
		}
		return
	}
	usage()
	os.Exit(1)
}
