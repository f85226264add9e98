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
	"strings"

	"github.com/parquet-go/parquet-go"

	"github.com/SnellerInc/udfc"
	"github.com/SnellerInc/udfc/expr"
	"github.com/SnellerInc/udfc/vm"
)

// target is a function to evaluate
type target struct {
	host   *udfc.MemHost
	name   string
	params []expr.Param
	ret    expr.Type
	invoke udfc.ScalarFunc
}

// open makes the named function of path callable;
// path is either a script or a compiled program
func open(path, name string) (*target, func(), error) {
	h := udfc.NewMemHost()
	if strings.HasSuffix(path, progext) {
		p, err := loadProg(path)
		if err != nil {
			return nil, nil, err
		}
		if name != "" && !strings.EqualFold(name, p.Func.Name) {
			return nil, nil, fmt.Errorf("%s holds %s, not %s", path, p.Func.Name, name)
		}
		width := dashwidth
		if width == 0 {
			width = vm.LaneWidth
		}
		art, err := vm.EmitWidth(p, width)
		if err != nil {
			return nil, nil, err
		}
		f := p.Func
		fn := func(in *vm.Batch) (*vm.Column, error) {
			return art.Exec(in, notice(f.Name))
		}
		types := make([]expr.Type, len(f.Params))
		for i := range f.Params {
			types[i] = f.Params[i].Type
		}
		if err := h.RegisterScalar(f.Name, types, f.Returns, fn); err != nil {
			return nil, nil, err
		}
		return &target{host: h, name: f.Name, params: f.Params, ret: f.Returns, invoke: fn}, func() {}, nil
	}
	r := registry(h)
	defs, err := definitions(path)
	if err != nil {
		r.Close()
		return nil, nil, err
	}
	var t *target
	for i := range defs {
		hd, err := r.Register(defs[i])
		if err != nil {
			r.Close()
			return nil, nil, fmt.Errorf("%s: %w", defs[i].Name, err)
		}
		if strings.EqualFold(defs[i].Name, name) || (name == "" && len(defs) == 1) {
			t = &target{host: h, name: defs[i].Name, params: defs[i].Params, ret: defs[i].Returns, invoke: hd.Invoke}
		}
	}
	if t == nil {
		r.Close()
		return nil, nil, fmt.Errorf("%s: no function %q", path, name)
	}
	return t, func() { r.Close() }, nil
}

func notice(name string) vm.NoticeFunc {
	return func(row int, msg string) {
		logf("NOTICE %s: row %d: %s", name, row, msg)
	}
}

// call evaluates the target on literal arguments
func (t *target) call(args []string) (string, error) {
	return t.host.Query("SELECT " + t.name + "(" + strings.Join(args, ", ") + ")")
}

// scan evaluates the target over the rows of a
// parquet file, taking each argument from the
// column named like the parameter
func (t *target) scan(dst io.Writer, path string, limit int) error {
	in, err := readParquet(path, t.params, limit)
	if err != nil {
		return err
	}
	out, err := t.invoke(in)
	if err != nil {
		return err
	}
	for i := 0; i < in.Rows; i++ {
		fmt.Fprintln(dst, out.Datum(i))
	}
	return nil
}

// readParquet reads the columns named by params
func readParquet(path string, params []expr.Param, limit int) (*vm.Batch, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	pf, err := parquet.OpenFile(f, info.Size())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	for i := range params {
		if _, ok := pf.Schema().Lookup(params[i].Name); !ok {
			return nil, fmt.Errorf("%s: no column %s", path, params[i].Name)
		}
	}
	reader := parquet.NewReader(pf)
	defer reader.Close()
	datums := make([][]expr.Datum, len(params))
	rows := 0
	for limit <= 0 || rows < limit {
		row := make(map[string]interface{})
		if err := reader.Read(&row); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("%s: row %d: %w", path, rows, err)
		}
		for i := range params {
			d, err := datum(row[params[i].Name])
			if err != nil {
				return nil, fmt.Errorf("%s: row %d: column %s: %w", path, rows, params[i].Name, err)
			}
			datums[i] = append(datums[i], d)
		}
		rows++
	}
	b := &vm.Batch{Rows: rows, Columns: make([]*vm.Column, len(params))}
	for i := range params {
		col := vm.NewColumn(params[i].Type, rows)
		for j, d := range datums[i] {
			if !d.IsNull() && d.T != params[i].Type && !params[i].Type.Assignable(d.T) {
				d, err = expr.CastDatum(d, params[i].Type)
				if err != nil {
					return nil, fmt.Errorf("%s: row %d: column %s: %w", path, j, params[i].Name, err)
				}
			}
			if err := col.Set(j, d); err != nil {
				return nil, err
			}
		}
		b.Columns[i] = col
	}
	return b, nil
}

// datum converts a value read from parquet
func datum(v interface{}) (expr.Datum, error) {
	switch v := v.(type) {
	case nil:
		return expr.NullDatum, nil
	case bool:
		return expr.BoolDatum(v), nil
	case int32:
		return expr.IntDatum(int64(v)), nil
	case int64:
		return expr.IntDatum(v), nil
	case int:
		return expr.IntDatum(int64(v)), nil
	case uint32:
		return expr.IntDatum(int64(v)), nil
	case float32:
		return expr.FloatDatum(float64(v)), nil
	case float64:
		return expr.FloatDatum(v), nil
	case string:
		return expr.StringDatum(v), nil
	case []byte:
		return expr.StringDatum(string(v)), nil
	}
	return expr.NullDatum, fmt.Errorf("unsupported value %T", v)
}

func init() {
	addApplet(applet{
		name: "run",
		help: "<file.sql|config.yaml|file" + progext + "> <function> [arg...]",
		desc: "evaluate a function on literal arguments or, with -parquet, on the rows of a file",
		run: func(args []string) bool {
			if len(args) < 3 {
				return false
			}
			t, done, err := open(args[1], args[2])
			if err != nil {
				exitf("%s", err)
			}
			defer done()
			if dashparquet != "" {
				if len(args) != 3 {
					return false
				}
				err = t.scan(os.Stdout, dashparquet, dashlimit)
			} else {
				var out string
				out, err = t.call(args[3:])
				if err == nil {
					fmt.Println(out)
				}
			}
			if err != nil {
				done()
				exitf("%s", err)
			}
			return true
		},
	})
}
