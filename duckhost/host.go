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

// Package duckhost registers functions
// with an embedded DuckDB database.
package duckhost

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"strings"
	"sync"

	"github.com/marcboeker/go-duckdb/v2"

	"github.com/SnellerInc/udfc"
	"github.com/SnellerInc/udfc/expr"
	"github.com/SnellerInc/udfc/vm"
)

// Host is a udfc.Host backed by a DuckDB connection.
//
// DuckDB calls scalar functions one row at a
// time, so each call evaluates a batch of one row.
// DuckDB cannot drop scalar functions, so
// UnregisterScalar returns udfc.ErrUnsupported.
type Host struct {
	db   *sql.DB
	conn *sql.Conn
	own  bool

	lock  sync.Mutex
	names map[string]struct{}
}

// Open opens an in-memory DuckDB
// database (or the database file at dsn)
// and returns a Host for it.
func Open(ctx context.Context, dsn string) (*Host, error) {
	db, err := sql.Open("duckdb", dsn)
	if err != nil {
		return nil, err
	}
	h, err := New(ctx, db)
	if err != nil {
		db.Close()
		return nil, err
	}
	h.own = true
	return h, nil
}

// New returns a Host that registers
// functions with db.
func New(ctx context.Context, db *sql.DB) (*Host, error) {
	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("duckhost: %w", err)
	}
	return &Host{db: db, conn: conn, names: make(map[string]struct{})}, nil
}

// DB returns the database of h.
func (h *Host) DB() *sql.DB { return h.db }

// Conn returns the connection on
// which functions are registered.
func (h *Host) Conn() *sql.Conn { return h.conn }

// Close releases the connection of h and,
// if h was created by Open, the database.
func (h *Host) Close() error {
	err := h.conn.Close()
	if h.own {
		if err2 := h.db.Close(); err == nil {
			err = err2
		}
	}
	return err
}

func typeOf(t expr.Type) (duckdb.Type, error) {
	switch t {
	case expr.TypeBool:
		return duckdb.TYPE_BOOLEAN, nil
	case expr.TypeInt:
		return duckdb.TYPE_BIGINT, nil
	case expr.TypeFloat:
		return duckdb.TYPE_DOUBLE, nil
	case expr.TypeString:
		return duckdb.TYPE_VARCHAR, nil
	}
	return duckdb.TYPE_INVALID, fmt.Errorf("duckhost: no DuckDB type for %s", t)
}

func typeInfo(t expr.Type) (duckdb.TypeInfo, error) {
	dt, err := typeOf(t)
	if err != nil {
		return nil, err
	}
	return duckdb.NewTypeInfo(dt)
}

// RegisterScalar implements udfc.Host.
func (h *Host) RegisterScalar(name string, params []expr.Type, ret expr.Type, fn udfc.ScalarFunc) error {
	k := strings.ToLower(name)
	h.lock.Lock()
	defer h.lock.Unlock()
	if _, ok := h.names[k]; ok {
		return fmt.Errorf("duckhost: function %s already registered", name)
	}
	sf := &scalar{name: name, params: params, ret: ret, fn: fn}
	for _, t := range params {
		info, err := typeInfo(t)
		if err != nil {
			return err
		}
		sf.config.InputTypeInfos = append(sf.config.InputTypeInfos, info)
	}
	info, err := typeInfo(ret)
	if err != nil {
		return err
	}
	sf.config.ResultTypeInfo = info
	// null arguments are handled by
	// the compiled function itself
	sf.config.SpecialNullHandling = true
	if err := duckdb.RegisterScalarUDF(h.conn, name, sf); err != nil {
		return fmt.Errorf("duckhost: registering %s: %w", name, err)
	}
	h.names[k] = struct{}{}
	return nil
}

// UnregisterScalar implements udfc.Host.
func (h *Host) UnregisterScalar(name string) error {
	return udfc.ErrUnsupported
}

// scalar implements duckdb.ScalarFunc
type scalar struct {
	name   string
	params []expr.Type
	ret    expr.Type
	fn     udfc.ScalarFunc
	config duckdb.ScalarFuncConfig
}

func (s *scalar) Config() duckdb.ScalarFuncConfig {
	return s.config
}

func (s *scalar) Executor() duckdb.ScalarFuncExecutor {
	return duckdb.ScalarFuncExecutor{RowExecutor: s.row}
}

func (s *scalar) row(values []driver.Value) (any, error) {
	if len(values) != len(s.params) {
		return nil, fmt.Errorf("%s: got %d arguments, want %d", s.name, len(values), len(s.params))
	}
	cols := make([]*vm.Column, len(values))
	for i, v := range values {
		d, err := datum(v, s.params[i])
		if err != nil {
			return nil, fmt.Errorf("%s: argument %d: %w", s.name, i+1, err)
		}
		cols[i], err = vm.ColumnOf(s.params[i], d)
		if err != nil {
			return nil, err
		}
	}
	out, err := s.fn(&vm.Batch{Rows: 1, Columns: cols})
	if err != nil {
		return nil, err
	}
	return value(out.Datum(0)), nil
}

// datum converts a value passed by DuckDB
func datum(v driver.Value, t expr.Type) (expr.Datum, error) {
	switch v := v.(type) {
	case nil:
		return expr.NullDatum, nil
	case bool:
		return expr.BoolDatum(v), nil
	case int8:
		return expr.IntDatum(int64(v)), nil
	case int16:
		return expr.IntDatum(int64(v)), nil
	case int32:
		return expr.IntDatum(int64(v)), nil
	case int64:
		return expr.IntDatum(v), nil
	case float32:
		return expr.FloatDatum(float64(v)), nil
	case float64:
		return expr.FloatDatum(v), nil
	case string:
		return expr.StringDatum(v), nil
	case []byte:
		return expr.StringDatum(string(v)), nil
	}
	return expr.NullDatum, fmt.Errorf("unexpected %T for %s", v, t)
}

// value converts a result for DuckDB
func value(d expr.Datum) any {
	switch d.T {
	case expr.TypeBool:
		return d.B
	case expr.TypeInt:
		return d.I
	case expr.TypeFloat:
		return d.F
	case expr.TypeString:
		return d.S
	}
	return nil
}
