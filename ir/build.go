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

package ir

import (
	"fmt"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/SnellerInc/udfc/expr"
)

// Env is the environment in which
// a function body is lowered.
type Env struct {
	// Catalog resolves call targets;
	// if nil, expr.Builtins is used
	Catalog expr.Catalog
	// DefaultLoopBound is the iteration bound
	// of loops that declare no bound of their own
	// when the function has no max_iterations pragma
	DefaultLoopBound int64
}

// Build lowers a parsed function to SSA form
// and runs the standard cleanup passes.
//
// Build returns an *expr.TypeMismatchError or an
// *expr.UndefinedReferenceError when the body is
// not well-typed.
func Build(fn *expr.Function, env Env) (*Func, error) {
	b := &builder{
		f: &Func{
			Name:         fn.Name,
			Params:       fn.Params,
			Returns:      fn.Returns,
			Strict:       fn.Strict,
			CalledOnNull: fn.CalledOnNull,
		},
		fn:     fn,
		env:    env,
		cat:    env.Catalog,
		phivar: make(map[ValueID]int),
	}
	if b.cat == nil {
		b.cat = expr.Builtins
	}
	if err := b.build(); err != nil {
		return nil, err
	}
	f := b.f
	optimize(f)
	for i := range f.Blocks {
		if f.Blocks[i].Kind == TermNone {
			return nil, &expr.IncompleteReturnError{Func: f.Name}
		}
	}
	if err := Verify(f); err != nil {
		return nil, fmt.Errorf("ir.Build: internal error: %w", err)
	}
	return f, nil
}

type variable struct {
	name string
	typ  expr.Type
}

type loopctx struct {
	index int
	cont  BlockID
	exit  BlockID
}

type builder struct {
	f   *Func
	fn  *expr.Function
	env Env
	cat expr.Catalog

	cur BlockID
	at  expr.Position // current statement

	vars   []variable
	scopes []map[string]int

	// on-the-fly SSA construction state,
	// indexed by block
	defs       []map[int]ValueID
	sealed     []bool
	incomplete []map[int]ValueID
	phivar     map[ValueID]int

	loops []loopctx
}

func (b *builder) block() BlockID {
	id := b.f.newBlock()
	b.defs = append(b.defs, make(map[int]ValueID))
	b.sealed = append(b.sealed, false)
	b.incomplete = append(b.incomplete, make(map[int]ValueID))
	return id
}

func (b *builder) value(op Op, t expr.Type, args ...ValueID) ValueID {
	v := b.f.newValue(b.cur, op, t, args...)
	v.At = b.at
	blk := &b.f.Blocks[b.cur]
	blk.Values = append(blk.Values, v.ID)
	return v.ID
}

func (b *builder) typeof(id ValueID) expr.Type { return b.f.Values[id].Type }

func (b *builder) constant(d expr.Datum) ValueID {
	id := b.value(OpConst, d.Type())
	b.f.Values[id].Const = d
	return id
}

// null returns a null constant of type t
func (b *builder) null(t expr.Type) ValueID {
	id := b.value(OpConst, t)
	b.f.Values[id].Const = expr.NullDatum
	return id
}

// coerce converts a value to type t, which
// must be assignable from the value's type
func (b *builder) coerce(id ValueID, t expr.Type) ValueID {
	vt := b.typeof(id)
	switch {
	case vt == t:
		return id
	case vt == expr.TypeNull:
		return b.null(t)
	case vt == expr.TypeInt && t == expr.TypeFloat:
		return b.value(OpCast, t, id)
	}
	panic(fmt.Sprintf("ir: cannot coerce %s to %s", vt, t))
}

func (b *builder) addPred(to, from BlockID) {
	if b.sealed[to] {
		panic("ir: edge added to sealed block")
	}
	blk := &b.f.Blocks[to]
	blk.Preds = append(blk.Preds, from)
}

func (b *builder) br(to BlockID) {
	blk := &b.f.Blocks[b.cur]
	blk.Kind = TermBr
	blk.Succs = []BlockID{to}
	blk.At = b.at
	b.addPred(to, b.cur)
	b.cur = NoBlock
}

func (b *builder) condbr(cond ValueID, then, els BlockID) {
	blk := &b.f.Blocks[b.cur]
	blk.Kind = TermCondBr
	blk.Cond = cond
	blk.Succs = []BlockID{then, els}
	blk.At = b.at
	b.addPred(then, b.cur)
	b.addPred(els, b.cur)
	b.cur = NoBlock
}

func (b *builder) terminate(kind TermKind, val ValueID) {
	blk := &b.f.Blocks[b.cur]
	blk.Kind = kind
	blk.Ret = val
	blk.At = b.at
	b.cur = NoBlock
}

// variables and scopes

func (b *builder) push() { b.scopes = append(b.scopes, make(map[string]int)) }
func (b *builder) pop()  { b.scopes = b.scopes[:len(b.scopes)-1] }

func (b *builder) declare(name string, t expr.Type) (int, error) {
	top := b.scopes[len(b.scopes)-1]
	if _, ok := top[name]; ok && name != "" {
		return 0, expr.Mismatch(b.at, nil, "variable %q redeclared in this block", name)
	}
	id := len(b.vars)
	b.vars = append(b.vars, variable{name: name, typ: t})
	if name != "" {
		top[name] = id
	}
	return id, nil
}

func (b *builder) lookup(name string) (int, bool) {
	for i := len(b.scopes) - 1; i >= 0; i-- {
		if id, ok := b.scopes[i][name]; ok {
			return id, true
		}
	}
	return 0, false
}

func (b *builder) write(v int, blk BlockID, val ValueID) {
	b.defs[blk][v] = val
}

// read implements readVariable from
// Braun et al., "Simple and Efficient
// Construction of Static Single Assignment Form"
func (b *builder) read(v int, blk BlockID) ValueID {
	if val, ok := b.defs[blk][v]; ok {
		return val
	}
	var val ValueID
	preds := b.f.Blocks[blk].Preds
	switch {
	case !b.sealed[blk]:
		val = b.phi(v, blk)
		b.incomplete[blk][v] = val
	case len(preds) == 1:
		val = b.read(v, preds[0])
	case len(preds) == 0:
		// entry or unreachable block
		save := b.cur
		b.cur = blk
		val = b.null(b.vars[v].typ)
		b.cur = save
	default:
		val = b.phi(v, blk)
		b.write(v, blk, val)
		b.addPhiOperands(v, val)
	}
	b.write(v, blk, val)
	return val
}

// phi inserts an operand-less phi for
// variable v at the top of blk
func (b *builder) phi(v int, blk BlockID) ValueID {
	val := b.f.newValue(blk, OpPhi, b.vars[v].typ)
	val.At = b.at
	id := val.ID
	bl := &b.f.Blocks[blk]
	n := 0
	for n < len(bl.Values) && b.f.Values[bl.Values[n]].Op == OpPhi {
		n++
	}
	bl.Values = slices.Insert(bl.Values, n, id)
	b.phivar[id] = v
	return id
}

func (b *builder) addPhiOperands(v int, phi ValueID) {
	blk := b.f.Values[phi].Block
	preds := b.f.Blocks[blk].Preds
	for _, p := range preds {
		arg := b.read(v, p)
		b.f.Values[phi].Args = append(b.f.Values[phi].Args, arg)
	}
}

func (b *builder) seal(blk BlockID) {
	inc := b.incomplete[blk]
	vars := maps.Keys(inc)
	slices.Sort(vars)
	for _, v := range vars {
		b.addPhiOperands(v, inc[v])
	}
	b.incomplete[blk] = nil
	b.sealed[blk] = true
}

func (b *builder) build() error {
	b.cur = b.block()
	b.seal(b.cur)
	b.push()
	defer b.pop()
	for i, p := range b.fn.Params {
		v, err := b.declare(p.Name, p.Type)
		if err != nil {
			return err
		}
		param := b.value(OpParam, p.Type)
		b.f.Values[param].Aux = i
		b.write(v, b.cur, param)
	}
	return b.stmts(b.fn.Body)
}

func (b *builder) stmts(body []expr.Stmt) error {
	b.push()
	defer b.pop()
	for _, s := range body {
		if b.cur == NoBlock {
			// unreachable; rejected by the parser
			break
		}
		b.at = s.Pos()
		if err := b.stmt(s); err != nil {
			return err
		}
	}
	return nil
}

func (b *builder) loopBound(max, static int64) int64 {
	switch {
	case max > 0:
		return max
	case static > 0:
		return static
	case b.fn.MaxIterations > 0:
		return b.fn.MaxIterations
	}
	return b.env.DefaultLoopBound
}

func (b *builder) beginLoop(at expr.Position, header BlockID, bound int64) int {
	parent := -1
	if len(b.loops) > 0 {
		parent = b.loops[len(b.loops)-1].index
	}
	b.f.Loops = append(b.f.Loops, Loop{
		Header: header,
		Body:   header,
		Bound:  bound,
		Parent: parent,
		At:     at,
	})
	return len(b.f.Loops) - 1
}

// endLoop records the member blocks of a loop:
// every block created since the header
// except for the loop's exit block
func (b *builder) endLoop(index int, exit BlockID) {
	l := &b.f.Loops[index]
	for id := l.Header; id < BlockID(len(b.f.Blocks)); id++ {
		if id != exit {
			l.Blocks = append(l.Blocks, id)
		}
	}
}

func (b *builder) stmt(s expr.Stmt) error {
	switch s := s.(type) {
	case *expr.Declare:
		return b.declStmt(s)
	case *expr.Assign:
		v, ok := b.lookup(s.Name)
		if !ok {
			return &expr.UndefinedReferenceError{At: s.At, Kind: expr.VariableRef, Name: s.Name}
		}
		val, err := b.expr(s.Value)
		if err != nil {
			return err
		}
		t := b.vars[v].typ
		if !t.Assignable(b.typeof(val)) {
			return expr.Mismatch(s.At, s.Value, "cannot assign %s to %s (of type %s)", b.typeof(val), s.Name, t)
		}
		b.write(v, b.cur, b.coerce(val, t))
		return nil
	case *expr.If:
		return b.ifStmt(s)
	case *expr.While:
		return b.whileStmt(s)
	case *expr.ForRange:
		return b.forStmt(s)
	case *expr.Loop:
		return b.loopStmt(s)
	case *expr.Break:
		b.br(b.loops[len(b.loops)-1].exit)
		return nil
	case *expr.Continue:
		b.br(b.loops[len(b.loops)-1].cont)
		return nil
	case *expr.Return:
		val, err := b.expr(s.Value)
		if err != nil {
			return err
		}
		if !b.f.Returns.Assignable(b.typeof(val)) {
			return expr.Mismatch(s.At, s.Value, "cannot return %s from a function returning %s", b.typeof(val), b.f.Returns)
		}
		b.terminate(TermRet, b.coerce(val, b.f.Returns))
		return nil
	case *expr.Raise:
		msg, err := b.message(s.Message)
		if err != nil {
			return err
		}
		b.terminate(TermRaise, msg)
		return nil
	case *expr.Notice:
		msg, err := b.message(s.Message)
		if err != nil {
			return err
		}
		b.value(OpNotice, expr.TypeInvalid, msg)
		return nil
	}
	return fmt.Errorf("ir: unexpected statement %T", s)
}

// message lowers the argument of raise or
// notice, converting it to a string
func (b *builder) message(e expr.Node) (ValueID, error) {
	val, err := b.expr(e)
	if err != nil {
		return NoValue, err
	}
	switch t := b.typeof(val); t {
	case expr.TypeString:
		return val, nil
	case expr.TypeNull:
		return b.null(expr.TypeString), nil
	default:
		return b.value(OpCast, expr.TypeString, val), nil
	}
}

func (b *builder) declStmt(d *expr.Declare) error {
	var val ValueID = NoValue
	t := d.Type
	if d.Value != nil {
		var err error
		val, err = b.expr(d.Value)
		if err != nil {
			return err
		}
		vt := b.typeof(val)
		if t == expr.TypeInvalid {
			if vt == expr.TypeNull {
				return expr.Mismatch(d.At, d.Value, "cannot infer the type of %s from null", d.Name)
			}
			t = vt
		} else if !t.Assignable(vt) {
			return expr.Mismatch(d.At, d.Value, "cannot assign %s to %s (of type %s)", vt, d.Name, t)
		}
	}
	v, err := b.declare(d.Name, t)
	if err != nil {
		return err
	}
	if val == NoValue {
		val = b.null(t)
	} else {
		val = b.coerce(val, t)
	}
	b.write(v, b.cur, val)
	return nil
}

// cond lowers a condition,
// which must be boolean
func (b *builder) cond(e expr.Node) (ValueID, error) {
	val, err := b.expr(e)
	if err != nil {
		return NoValue, err
	}
	switch b.typeof(val) {
	case expr.TypeBool:
		return val, nil
	case expr.TypeNull:
		return b.null(expr.TypeBool), nil
	}
	return NoValue, expr.Mismatch(b.at, e, "condition must be bool; have %s", b.typeof(val))
}

func (b *builder) ifStmt(s *expr.If) error {
	cond, err := b.cond(s.Cond)
	if err != nil {
		return err
	}
	then := b.block()
	merge := NoBlock
	els := NoBlock
	if len(s.Else) > 0 {
		els = b.block()
	} else {
		merge = b.block()
		els = merge
	}
	b.condbr(cond, then, els)
	join := func() {
		if b.cur == NoBlock {
			return
		}
		if merge == NoBlock {
			merge = b.block()
		}
		b.br(merge)
	}

	b.seal(then)
	b.cur = then
	if err := b.stmts(s.Then); err != nil {
		return err
	}
	join()
	if len(s.Else) > 0 {
		b.seal(els)
		b.cur = els
		if err := b.stmts(s.Else); err != nil {
			return err
		}
		join()
	}
	if merge != NoBlock {
		b.seal(merge)
		b.cur = merge
	}
	return nil
}

func (b *builder) whileStmt(s *expr.While) error {
	header := b.block()
	b.br(header)
	index := b.beginLoop(s.At, header, b.loopBound(s.Max, 0))
	b.cur = header
	cond, err := b.cond(s.Cond)
	if err != nil {
		return err
	}
	body := b.block()
	exit := b.block()
	b.f.Loops[index].Body = body
	b.condbr(cond, body, exit)
	b.seal(body)

	b.loops = append(b.loops, loopctx{index: index, cont: header, exit: exit})
	b.cur = body
	if err := b.stmts(s.Body); err != nil {
		return err
	}
	if b.cur != NoBlock {
		b.br(header)
	}
	b.loops = b.loops[:len(b.loops)-1]
	b.seal(header)
	b.endLoop(index, exit)
	b.seal(exit)
	b.cur = exit
	return nil
}

// constInt returns the value of an
// integer constant, if id is one
func (b *builder) constInt(id ValueID) (int64, bool) {
	v := &b.f.Values[id]
	if v.Op == OpConst && v.Const.T == expr.TypeInt {
		return v.Const.I, true
	}
	return 0, false
}

func (b *builder) intOperand(e expr.Node) (ValueID, error) {
	val, err := b.expr(e)
	if err != nil {
		return NoValue, err
	}
	switch b.typeof(val) {
	case expr.TypeInt:
		return val, nil
	case expr.TypeNull:
		return b.null(expr.TypeInt), nil
	}
	return NoValue, expr.Mismatch(b.at, e, "range bound must be int; have %s", b.typeof(val))
}

func (b *builder) forStmt(s *expr.ForRange) error {
	from, err := b.intOperand(s.From)
	if err != nil {
		return err
	}
	to, err := b.intOperand(s.To)
	if err != nil {
		return err
	}
	var static int64
	lo, ok1 := b.constInt(from)
	hi, ok2 := b.constInt(to)
	if ok1 && ok2 {
		if n, err := expr.SubInt(hi, lo); err == nil && n < n+1 {
			static = max(n+1, 1)
		}
	}
	// the iteration counter is a hidden
	// variable so that the body may assign
	// to the loop variable freely
	counter, _ := b.declare("", expr.TypeInt)
	b.write(counter, b.cur, from)

	header := b.block()
	b.br(header)
	index := b.beginLoop(s.At, header, b.loopBound(s.Max, static))
	b.cur = header
	i := b.read(counter, header)
	cond := b.value(OpCmp, expr.TypeBool, i, to)
	b.f.Values[cond].Aux = int(expr.LessEquals)
	body := b.block()
	exit := b.block()
	latch := b.block()
	b.f.Loops[index].Body = body
	b.condbr(cond, body, exit)
	b.seal(body)

	b.cur = body
	b.push()
	v, err := b.declare(s.Var, expr.TypeInt)
	if err != nil {
		b.pop()
		return err
	}
	b.write(v, body, b.read(counter, body))
	b.loops = append(b.loops, loopctx{index: index, cont: latch, exit: exit})
	err = b.stmts(s.Body)
	b.loops = b.loops[:len(b.loops)-1]
	b.pop()
	if err != nil {
		return err
	}
	if b.cur != NoBlock {
		b.br(latch)
	}
	b.seal(latch)
	b.cur = latch
	one := b.constant(expr.IntDatum(1))
	next := b.value(OpArith, expr.TypeInt, b.read(counter, latch), one)
	b.f.Values[next].Aux = int(expr.AddOp)
	b.write(counter, latch, next)
	b.br(header)
	b.seal(header)
	b.endLoop(index, exit)
	b.seal(exit)
	b.cur = exit
	return nil
}

func (b *builder) loopStmt(s *expr.Loop) error {
	header := b.block()
	b.br(header)
	exit := b.block()
	index := b.beginLoop(s.At, header, b.loopBound(s.Max, 0))
	b.loops = append(b.loops, loopctx{index: index, cont: header, exit: exit})
	b.cur = header
	if err := b.stmts(s.Body); err != nil {
		return err
	}
	if b.cur != NoBlock {
		b.br(header)
	}
	b.loops = b.loops[:len(b.loops)-1]
	b.seal(header)
	b.endLoop(index, exit)
	b.seal(exit)
	b.cur = exit
	return nil
}
