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
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"

	"github.com/SnellerInc/udfc"
	"github.com/SnellerInc/udfc/ddl"
)

const (
	historyFile = ".udfc_history"
	promptMain  = "udfc> "
	promptCont  = "  ... "
)

// session evaluates the statements typed into the repl
type session struct {
	host *udfc.MemHost
	reg  *udfc.Registry
	out  io.Writer
}

// complete returns whether src is a whole statement
func complete(src string) bool {
	s := strings.TrimSpace(src)
	if s == "" || strings.HasPrefix(s, `\`) {
		return true
	}
	// a $$ body may contain semicolons
	if strings.Count(s, "$$")%2 != 0 {
		return false
	}
	return strings.HasSuffix(s, ";")
}

// exec evaluates one statement; it returns
// false when the session should end
func (s *session) exec(src string) (bool, error) {
	text := strings.TrimSpace(src)
	if strings.HasPrefix(text, `\`) {
		return s.command(text)
	}
	word, _, _ := strings.Cut(text, " ")
	switch strings.ToLower(word) {
	case "create", "drop":
		stmts, err := ddl.ParseScript(text)
		if err != nil {
			return true, err
		}
		for i := range stmts {
			if err := stmts[i].Apply(s.reg); err != nil {
				return true, err
			}
		}
		fmt.Fprintln(s.out, strings.ToUpper(word))
	case "select":
		out, err := s.host.Query(text)
		if err != nil {
			return true, err
		}
		fmt.Fprintln(s.out, out)
	default:
		return true, fmt.Errorf("expected CREATE, DROP or SELECT; \\h for help")
	}
	return true, nil
}

func (s *session) command(text string) (bool, error) {
	cmd, arg, _ := strings.Cut(text, " ")
	arg = strings.TrimSpace(arg)
	switch cmd {
	case `\q`:
		return false, nil
	case `\l`:
		for _, name := range s.reg.Names() {
			d, _ := s.reg.Definition(name)
			fmt.Fprintln(s.out, d.Signature())
		}
	case `\d`:
		d, ok := s.reg.Definition(arg)
		if !ok {
			return true, fmt.Errorf("%w: %s", udfc.ErrUnknownFunction, arg)
		}
		fmt.Fprintf(s.out, "%s\n%s\n", d.Signature(), d.Body)
	case `\x`:
		h, ok := s.reg.Lookup(arg)
		if !ok {
			return true, fmt.Errorf("%w: %s", udfc.ErrUnknownFunction, arg)
		}
		art := h.Artifact()
		fmt.Fprintln(s.out, art.Func())
		if art.Vectorized() {
			fmt.Fprintln(s.out, art.Prog())
		} else {
			fmt.Fprintf(s.out, "evaluated one row at a time: %s\n", strings.Join(art.Degradations(), ", "))
		}
	case `\h`:
		fmt.Fprintln(s.out, `CREATE [OR REPLACE] FUNCTION ...;  define a function
DROP FUNCTION name;                 remove a function
SELECT name(literal, ...);          call a function
\l                                  list functions
\d name                             show a definition
\x name                             show the compiled form
\q                                  quit`)
	default:
		return true, fmt.Errorf("unknown command %s; \\h for help", cmd)
	}
	return true, nil
}

func read(ln *liner.State) (string, bool) {
	var b strings.Builder
	for {
		prompt := promptMain
		if b.Len() > 0 {
			prompt = promptCont
		}
		line, err := ln.Prompt(prompt)
		if errors.Is(err, io.EOF) {
			return "", false
		}
		if err != nil {
			// ctrl-c drops the current statement
			return "", true
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(line)
		if complete(b.String()) {
			return b.String(), true
		}
	}
}

func repl(script string) {
	h := udfc.NewMemHost()
	r := registry(h)
	defer r.Close()
	if script != "" {
		for _, def := range load(script) {
			if _, err := r.Register(def); err != nil {
				exitf("%s: %s", def.Name, err)
			}
		}
	}
	s := &session{host: h, reg: r, out: os.Stdout}

	ln := liner.NewLiner()
	defer ln.Close()
	ln.SetCtrlCAborts(true)
	ln.SetMultiLineMode(true)
	home, _ := os.UserHomeDir()
	histPath := filepath.Join(home, historyFile)
	if f, err := os.Open(histPath); err == nil {
		ln.ReadHistory(f)
		f.Close()
	}
	defer func() {
		if f, err := os.Create(histPath); err == nil {
			ln.WriteHistory(f)
			f.Close()
		}
	}()

	for {
		src, ok := read(ln)
		if !ok {
			fmt.Println()
			return
		}
		if strings.TrimSpace(src) == "" {
			continue
		}
		ln.AppendHistory(strings.ReplaceAll(src, "\n", " "))
		more, err := s.exec(src)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
		}
		if !more {
			return
		}
	}
}

func init() {
	addApplet(applet{
		name: "repl",
		help: "[file.sql|config.yaml]",
		desc: "define and call functions interactively",
		run: func(args []string) bool {
			switch len(args) {
			case 1:
				repl("")
			case 2:
				repl(args[1])
			default:
				return false
			}
			return true
		},
	})
}
