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

package udfc

import (
	"fmt"
	"strings"
	"sync"

	"github.com/SnellerInc/udfc/expr"
	"github.com/SnellerInc/udfc/expr/lang"
	"github.com/SnellerInc/udfc/vm"
)

// ScalarFunc evaluates a function over a batch
// of rows, producing one result per row.
type ScalarFunc func(in *vm.Batch) (*vm.Column, error)

// Host is a query engine that can call
// scalar functions.
type Host interface {
	// RegisterScalar makes fn callable under name.
	RegisterScalar(name string, params []expr.Type, ret expr.Type, fn ScalarFunc) error
	// UnregisterScalar removes the named function.
	// Hosts that cannot remove functions
	// return ErrUnsupported.
	UnregisterScalar(name string) error
}

// CatalogHost is implemented by hosts that
// provide functions of their own to function bodies.
type CatalogHost interface {
	Host
	Catalog() expr.Catalog
}

// MemHost is an in-memory Host.
// It is useful for tests and for
// evaluating functions outside a database.
type MemHost struct {
	lock  sync.RWMutex
	funcs map[string]*memFunc
	cat   expr.MapCatalog
}

type memFunc struct {
	name   string
	params []expr.Type
	ret    expr.Type
	fn     ScalarFunc
}

// NewMemHost returns an empty MemHost.
func NewMemHost() *MemHost {
	return &MemHost{
		funcs: make(map[string]*memFunc),
		cat:   make(expr.MapCatalog),
	}
}

// AddFunc makes fi callable from function bodies.
func (h *MemHost) AddFunc(fi *expr.FuncInfo) {
	h.lock.Lock()
	defer h.lock.Unlock()
	h.cat.Add(fi)
}

// Catalog implements CatalogHost.
func (h *MemHost) Catalog() expr.Catalog {
	return memCatalog{h}
}

type memCatalog struct{ h *MemHost }

func (m memCatalog) Lookup(name string) (*expr.FuncInfo, bool) {
	m.h.lock.RLock()
	defer m.h.lock.RUnlock()
	return m.h.cat.Lookup(name)
}

// RegisterScalar implements Host.
func (h *MemHost) RegisterScalar(name string, params []expr.Type, ret expr.Type, fn ScalarFunc) error {
	h.lock.Lock()
	defer h.lock.Unlock()
	k := strings.ToLower(name)
	if _, ok := h.funcs[k]; ok {
		return fmt.Errorf("function %s already exists", name)
	}
	h.funcs[k] = &memFunc{name: name, params: params, ret: ret, fn: fn}
	return nil
}

// UnregisterScalar implements Host.
func (h *MemHost) UnregisterScalar(name string) error {
	h.lock.Lock()
	defer h.lock.Unlock()
	k := strings.ToLower(name)
	if _, ok := h.funcs[k]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownFunction, name)
	}
	delete(h.funcs, k)
	return nil
}

func (h *MemHost) lookup(name string) (*memFunc, error) {
	h.lock.RLock()
	defer h.lock.RUnlock()
	f, ok := h.funcs[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFunction, name)
	}
	return f, nil
}

// Call calls the named function on one row.
// Arguments are converted to the declared
// parameter types the way a cast would.
func (h *MemHost) Call(name string, args ...expr.Datum) (expr.Datum, error) {
	f, err := h.lookup(name)
	if err != nil {
		return expr.NullDatum, err
	}
	if len(args) != len(f.params) {
		return expr.NullDatum, fmt.Errorf("%s: expected %d arguments, got %d", f.name, len(f.params), len(args))
	}
	cols := make([]*vm.Column, len(args))
	for i, d := range args {
		t := f.params[i]
		if !d.IsNull() && d.T != t && !(t == expr.TypeFloat && d.T == expr.TypeInt) {
			d, err = expr.CastDatum(d, t)
			if err != nil {
				return expr.NullDatum, fmt.Errorf("%s: argument %d: %w", f.name, i+1, err)
			}
		}
		cols[i], err = vm.ColumnOf(t, d)
		if err != nil {
			return expr.NullDatum, err
		}
	}
	out, err := f.fn(&vm.Batch{Rows: 1, Columns: cols})
	if err != nil {
		return expr.NullDatum, err
	}
	if out.Len() != 1 {
		return expr.NullDatum, fmt.Errorf("%s: produced %d rows for 1", f.name, out.Len())
	}
	return out.Datum(0), nil
}

// Query evaluates a statement of the form
//
//	SELECT name(arg, ...)
//
// where each argument is a literal, and
// returns the textual form of the result.
func (h *MemHost) Query(sql string) (string, error) {
	text := strings.TrimSpace(sql)
	text = strings.TrimSpace(strings.TrimSuffix(text, ";"))
	if len(text) < 7 || !strings.EqualFold(text[:6], "select") || !isSpace(text[6]) {
		return "", fmt.Errorf("%w: only SELECT of a single call is supported", ErrUnsupported)
	}
	e, err := lang.ParseExpr(text[7:])
	if err != nil {
		return "", err
	}
	c, ok := e.(*expr.Call)
	if !ok {
		return "", fmt.Errorf("%w: only SELECT of a single call is supported", ErrUnsupported)
	}
	args := make([]expr.Datum, len(c.Args))
	for i := range c.Args {
		args[i], err = literal(c.Args[i])
		if err != nil {
			return "", err
		}
	}
	d, err := h.Call(c.Name, args...)
	if err != nil {
		return "", err
	}
	return d.String(), nil
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

// literal evaluates a constant argument
func literal(n expr.Node) (expr.Datum, error) {
	switch n := n.(type) {
	case expr.Constant:
		return n.Datum(), nil
	case *expr.Neg:
		d, err := literal(n.Child)
		if err != nil {
			return d, err
		}
		return expr.Negate(d)
	case *expr.Cast:
		d, err := literal(n.From)
		if err != nil {
			return d, err
		}
		return expr.CastDatum(d, n.To)
	}
	return expr.NullDatum, fmt.Errorf("%w: argument %s is not a literal", ErrUnsupported, expr.ToString(n))
}
