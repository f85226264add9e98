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
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/SnellerInc/udfc/expr"
	"github.com/SnellerInc/udfc/expr/lang"
	"github.com/SnellerInc/udfc/ir"
	"github.com/SnellerInc/udfc/vm"
)

// Registry holds the compiled functions
// registered with a Host.
//
// A Registry is safe for concurrent use.
// Registrations are serialized; invocations
// proceed in parallel with each other and
// with registrations.
type Registry struct {
	host Host

	// logger receives notices and diagnostics;
	// if nil, nothing is logged
	logger  *log.Logger
	catalog expr.Catalog
	bound   int64
	vmopts  vm.Options
	promreg prometheus.Registerer
	metrics *metrics
	closed  atomic.Bool
	lock    sync.RWMutex // guards entries, orphans
	entries map[string]*entry
	orphans map[string]*entry
}

// Option is an optional argument to NewRegistry.
type Option func(r *Registry)

// WithLogger sets the logger that receives the
// output of notice statements and registry
// diagnostics. If no logger is set, nothing
// is logged.
func WithLogger(l *log.Logger) Option {
	return func(r *Registry) {
		r.logger = l
	}
}

// WithCatalog makes the functions of c callable
// from function bodies, in addition to the
// built-in functions and those of the host.
func WithCatalog(c expr.Catalog) Option {
	return func(r *Registry) {
		r.catalog = c
	}
}

// WithMetrics registers the registry metrics with reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(r *Registry) {
		r.promreg = reg
	}
}

// WithDefaultLoopBound sets the iteration bound of
// loops that declare none. Functions with such loops
// are rejected when no default bound is set.
func WithDefaultLoopBound(n int64) Option {
	return func(r *Registry) {
		r.bound = n
	}
}

// WithMaxLoopBound rejects functions
// with loops bounded above n iterations.
func WithMaxLoopBound(n int64) Option {
	return func(r *Registry) {
		r.vmopts.MaxBound = n
	}
}

// WithLaneWidth sets the number of rows
// evaluated together; see vm.LaneWidth.
func WithLaneWidth(n int) Option {
	return func(r *Registry) {
		r.vmopts.Width = n
	}
}

// WithScalarExecution disables vectorization.
func WithScalarExecution() Option {
	return func(r *Registry) {
		r.vmopts.Scalar = true
	}
}

// NewRegistry returns a Registry that
// registers functions with host.
func NewRegistry(host Host, opts ...Option) *Registry {
	r := &Registry{
		host:    host,
		entries: make(map[string]*entry),
		orphans: make(map[string]*entry),
	}
	for _, o := range opts {
		o(r)
	}
	m, err := newMetrics(r.promreg)
	if err != nil {
		// the registry still works; the
		// metrics are simply not exported
		r.errorf("udfc: registering metrics: %s", err)
		m, _ = newMetrics(nil)
		r.promreg = nil
	}
	r.metrics = m
	return r
}

func (r *Registry) errorf(f string, args ...any) {
	if r.logger != nil {
		r.logger.Printf(f, args...)
	}
}

// entry is a registered function name; the
// signature of an entry never changes, but
// its implementation can be replaced
type entry struct {
	name   string
	params []expr.Type
	ret    expr.Type
	cur    atomic.Pointer[version]
}

// version is one compiled definition
type version struct {
	id  uuid.UUID
	def Definition
	fp  [blake2b.Size256]byte
	art *vm.Artifact
}

// Handle refers to a registered function.
// A Handle always invokes the most recently
// registered definition of its function.
type Handle struct {
	id  uuid.UUID
	reg *Registry
	e   *entry
}

// ID returns the identifier of the registration
// that produced h.
func (h *Handle) ID() uuid.UUID { return h.id }

// Name returns the name of the function.
func (h *Handle) Name() string { return h.e.name }

// Artifact returns the current compiled form
// of the function, or nil if the function
// has been removed.
func (h *Handle) Artifact() *vm.Artifact {
	if v := h.e.cur.Load(); v != nil {
		return v.art
	}
	return nil
}

// Invoke evaluates the function over a batch.
func (h *Handle) Invoke(in *vm.Batch) (*vm.Column, error) {
	return h.reg.invoke(h.e, in)
}

func key(name string) string { return strings.ToLower(name) }

func (r *Registry) env() ir.Env {
	cats := expr.Chain{}
	if r.catalog != nil {
		cats = append(cats, r.catalog)
	}
	if ch, ok := r.host.(CatalogHost); ok {
		if c := ch.Catalog(); c != nil {
			cats = append(cats, c)
		}
	}
	cats = append(cats, expr.Builtins)
	return ir.Env{Catalog: cats, DefaultLoopBound: r.bound}
}

// Compile compiles def without registering it.
func (r *Registry) Compile(def *Definition) (*vm.Artifact, error) {
	if err := def.validate(); err != nil {
		return nil, err
	}
	fn, err := lang.Parse([]byte(def.Body), lang.Signature{
		Name:    def.Name,
		Params:  def.Params,
		Returns: def.Returns,
	})
	if err != nil {
		return nil, err
	}
	f, err := ir.Build(fn, r.env())
	if err != nil {
		return nil, err
	}
	opts := r.vmopts
	return vm.Compile(f, &opts)
}

// Register compiles def and makes it callable
// through the host. If a function of the same
// name is registered, it is replaced, provided
// that the signatures match; otherwise Register
// returns a *RegistrationConflictError. A
// definition that fails to compile leaves any
// previous definition in place.
func (r *Registry) Register(def Definition) (*Handle, error) {
	h, err := r.register(&def)
	if err != nil {
		r.metrics.failures.WithLabelValues(errorClass(err)).Inc()
		return nil, err
	}
	return h, nil
}

func (r *Registry) register(def *Definition) (*Handle, error) {
	if r.closed.Load() {
		return nil, ErrClosed
	}
	fp := def.Fingerprint()
	r.lock.RLock()
	e := r.entries[key(def.Name)]
	err := r.conflict(def)
	r.lock.RUnlock()
	if err != nil {
		return nil, err
	}
	if e != nil {
		if v := e.cur.Load(); v != nil && v.fp == fp {
			r.metrics.registrations.WithLabelValues("unchanged").Inc()
			return &Handle{id: v.id, reg: r, e: e}, nil
		}
	}
	art, err := r.Compile(def)
	if err != nil {
		return nil, err
	}
	if d := art.Degradations(); len(d) > 0 {
		r.errorf("udfc: %s: evaluated one row at a time: %s", def.Name, strings.Join(d, ", "))
	}
	v := &version{id: uuid.New(), def: *def, fp: fp, art: art}
	v.def.Params = slices.Clone(def.Params)

	r.lock.Lock()
	defer r.lock.Unlock()
	if r.closed.Load() {
		return nil, ErrClosed
	}
	k := key(def.Name)
	if err := r.conflict(def); err != nil {
		return nil, err
	}
	if e := r.entries[k]; e != nil {
		e.cur.Store(v)
		r.metrics.registrations.WithLabelValues("replaced").Inc()
		return &Handle{id: v.id, reg: r, e: e}, nil
	}
	if e := r.orphans[k]; e != nil {
		delete(r.orphans, k)
		e.cur.Store(v)
		r.entries[k] = e
		r.metrics.registrations.WithLabelValues("new").Inc()
		return &Handle{id: v.id, reg: r, e: e}, nil
	}
	e = &entry{name: def.Name, params: def.paramTypes(), ret: def.Returns}
	e.cur.Store(v)
	err = r.host.RegisterScalar(def.Name, e.params, e.ret, func(in *vm.Batch) (*vm.Column, error) {
		return r.invoke(e, in)
	})
	if err != nil {
		return nil, fmt.Errorf("udfc: registering %s with the host: %w", def.Name, err)
	}
	r.entries[k] = e
	r.metrics.registrations.WithLabelValues("new").Inc()
	return &Handle{id: v.id, reg: r, e: e}, nil
}

// conflict reports whether def cannot take the place
// of the function registered under its name, or of a
// removed function the host still routes calls to;
// the caller holds r.lock
func (r *Registry) conflict(def *Definition) error {
	k := key(def.Name)
	if e := r.entries[k]; e != nil {
		if have := e.cur.Load(); have != nil && !sameSignature(&have.def, def) {
			return &RegistrationConflictError{Name: def.Name, Have: have.def.Signature(), Want: def.Signature()}
		}
		return nil
	}
	if e := r.orphans[k]; e != nil {
		if !slices.Equal(e.params, def.paramTypes()) || e.ret != def.Returns {
			return &RegistrationConflictError{Name: def.Name, Have: orphanSignature(e), Want: def.Signature()}
		}
	}
	return nil
}

func orphanSignature(e *entry) string {
	d := Definition{Name: e.name, Returns: e.ret}
	for i, t := range e.params {
		d.Params = append(d.Params, expr.Param{Name: fmt.Sprintf("$%d", i+1), Type: t})
	}
	return d.Signature()
}

func (r *Registry) invoke(e *entry, in *vm.Batch) (*vm.Column, error) {
	if r.closed.Load() {
		return nil, ErrClosed
	}
	v := e.cur.Load()
	if v == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFunction, e.name)
	}
	m := r.metrics
	m.invocations.WithLabelValues(e.name).Inc()
	m.rows.WithLabelValues(e.name).Add(float64(in.Rows))
	if !v.art.Vectorized() {
		m.fallbacks.WithLabelValues(e.name).Inc()
	}
	start := time.Now()
	out, err := v.art.Exec(in, r.notice(e.name))
	m.latency.Observe(time.Since(start).Seconds())
	if err != nil {
		m.errors.WithLabelValues(e.name).Inc()
		return nil, err
	}
	return out, nil
}

func (r *Registry) notice(name string) vm.NoticeFunc {
	if r.logger == nil {
		return nil
	}
	return func(row int, msg string) {
		r.logger.Printf("NOTICE %s: row %d: %s", name, row, msg)
	}
}

// Invoke evaluates the named function over a batch.
func (r *Registry) Invoke(name string, in *vm.Batch) (*vm.Column, error) {
	h, ok := r.Lookup(name)
	if !ok {
		if r.closed.Load() {
			return nil, ErrClosed
		}
		return nil, fmt.Errorf("%w: %s", ErrUnknownFunction, name)
	}
	return h.Invoke(in)
}

// Lookup returns a handle for the named function.
func (r *Registry) Lookup(name string) (*Handle, bool) {
	r.lock.RLock()
	e := r.entries[key(name)]
	r.lock.RUnlock()
	if e == nil {
		return nil, false
	}
	v := e.cur.Load()
	if v == nil {
		return nil, false
	}
	return &Handle{id: v.id, reg: r, e: e}, true
}

// Definition returns the current
// definition of the named function.
func (r *Registry) Definition(name string) (Definition, bool) {
	h, ok := r.Lookup(name)
	if !ok {
		return Definition{}, false
	}
	v := h.e.cur.Load()
	if v == nil {
		return Definition{}, false
	}
	return v.def, true
}

// Names returns the names of the
// registered functions in sorted order.
func (r *Registry) Names() []string {
	r.lock.RLock()
	defer r.lock.RUnlock()
	out := make([]string, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.name)
	}
	slices.Sort(out)
	return out
}

// Unregister removes the named function.
// Hosts that cannot remove functions keep
// calling into the registry, and the calls
// fail with ErrUnknownFunction until the
// name is registered again.
func (r *Registry) Unregister(name string) error {
	if r.closed.Load() {
		return ErrClosed
	}
	r.lock.Lock()
	defer r.lock.Unlock()
	k := key(name)
	e := r.entries[k]
	if e == nil {
		return fmt.Errorf("%w: %s", ErrUnknownFunction, name)
	}
	return r.remove(k, e)
}

// remove detaches e from the host and drops it
// from r.entries; if the host fails, e stays
// registered. The caller holds r.lock
func (r *Registry) remove(k string, e *entry) error {
	err := r.host.UnregisterScalar(e.name)
	switch {
	case err == nil:
	case errors.Is(err, ErrUnsupported):
		// the host still routes calls to e
		r.orphans[k] = e
	default:
		return err
	}
	delete(r.entries, k)
	e.cur.Store(nil)
	return nil
}

// Close removes every function from the host.
// After Close, all methods of r and of its
// handles fail with ErrClosed.
func (r *Registry) Close() error {
	if r.closed.Swap(true) {
		return ErrClosed
	}
	r.lock.Lock()
	defer r.lock.Unlock()
	var errs []error
	keys := maps.Keys(r.entries)
	slices.Sort(keys)
	for _, k := range keys {
		e := r.entries[k]
		if err := r.remove(k, e); err != nil {
			errs = append(errs, fmt.Errorf("udfc: removing %s: %w", e.name, err))
			delete(r.entries, k)
			e.cur.Store(nil)
		}
	}
	r.metrics.unregister(r.promreg)
	return errors.Join(errs...)
}
