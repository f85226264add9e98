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

package expr

import (
	"fmt"
	"strings"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// BuiltinOp identifies a built-in scalar function.
type BuiltinOp int

const (
	// OpHost is the op of every function
	// supplied by a host catalog rather
	// than the built-in one
	OpHost BuiltinOp = iota

	OpLength
	OpUpper
	OpLower
	OpTrim
	OpLtrim
	OpRtrim
	OpSubstr
	OpConcat
	OpReplace
	OpStrpos
	OpLeft
	OpRight
	OpStartsWith
	OpContains
	OpRepeat
	OpReverse
	OpSplitPart
	OpNormalize

	OpAbs
	OpSign
	OpRound
	OpFloor
	OpCeil
	OpTrunc
	OpSqrt
	OpPower
	OpLn
	OpLog10
	OpExp
	OpMod
	OpGreatest
	OpLeast

	OpCoalesce
	OpIfNull
	OpNullIf
	OpIsNull

	OpToString
	OpToInt
	OpToFloat

	_maxBuiltin
)

// FuncInfo describes a scalar function
// that may be called from a function body.
type FuncInfo struct {
	Name string
	Op   BuiltinOp

	// Check examines the argument types
	// and returns the result type, or an
	// error if the arguments are not well-typed.
	// An argument of TypeNull is the null literal.
	Check func(args []Type) (Type, error)

	// Eval computes the function for one row.
	// Unless NullCoalescing is set, Eval is
	// never called with a null argument; the
	// result is null instead.
	Eval func(args []Datum) (Datum, error)

	// NullCoalescing is set if the function
	// observes null arguments.
	NullCoalescing bool

	// Partial is set if Eval may fail
	// for well-typed arguments.
	Partial bool
}

func (f *FuncInfo) String() string { return f.Name }

// Call evaluates f for one row,
// applying the default null propagation.
func (f *FuncInfo) Call(args []Datum) (Datum, error) {
	if !f.NullCoalescing {
		for i := range args {
			if args[i].IsNull() {
				return NullDatum, nil
			}
		}
	}
	return f.Eval(args)
}

// Catalog resolves function names
// to function descriptions.
type Catalog interface {
	Lookup(name string) (*FuncInfo, bool)
}

// Chain is a Catalog that consults
// each of its members in order.
type Chain []Catalog

func (c Chain) Lookup(name string) (*FuncInfo, bool) {
	for i := range c {
		if c[i] == nil {
			continue
		}
		if fi, ok := c[i].Lookup(name); ok {
			return fi, true
		}
	}
	return nil, false
}

// MapCatalog is a Catalog backed by a map.
// Names are matched case-insensitively.
type MapCatalog map[string]*FuncInfo

func (m MapCatalog) Lookup(name string) (*FuncInfo, bool) {
	fi, ok := m[strings.ToLower(name)]
	return fi, ok
}

// Add adds fi to the catalog under its name.
func (m MapCatalog) Add(fi *FuncInfo) {
	m[strings.ToLower(fi.Name)] = fi
}

// HostFunc constructs a FuncInfo for a host-provided
// function with a fixed signature. Integer arguments
// are accepted (and widened) where floats are declared.
func HostFunc(name string, args []Type, ret Type, eval func([]Datum) (Datum, error)) *FuncInfo {
	return &FuncInfo{
		Name:    name,
		Op:      OpHost,
		Check:   fixedArgs(ret, args...),
		Eval:    widenArgs(args, eval),
		Partial: true,
	}
}

func widenArgs(types []Type, eval func([]Datum) (Datum, error)) func([]Datum) (Datum, error) {
	return func(args []Datum) (Datum, error) {
		for i := range args {
			if i < len(types) {
				args[i] = args[i].Widen(types[i])
			}
		}
		return eval(args)
	}
}

type builtinCatalog struct{}

// Builtins is the catalog of built-in functions.
var Builtins Catalog = builtinCatalog{}

func (builtinCatalog) Lookup(name string) (*FuncInfo, bool) {
	fi, ok := builtinNames[strings.ToLower(name)]
	return fi, ok
}

// BuiltinNames returns the sorted
// names of every built-in function.
func BuiltinNames() []string {
	names := maps.Keys(builtinNames)
	slices.Sort(names)
	return names
}

// Builtin returns the description of a built-in op.
func Builtin(op BuiltinOp) *FuncInfo {
	if op <= OpHost || op >= _maxBuiltin {
		return nil
	}
	return &builtinInfo[op]
}

func (op BuiltinOp) String() string {
	if fi := Builtin(op); fi != nil {
		return fi.Name
	}
	if op == OpHost {
		return "host"
	}
	return fmt.Sprintf("<BuiltinOp=%d>", int(op))
}

func argcount(args []Type, min, max int) error {
	if len(args) < min || (max >= 0 && len(args) > max) {
		switch {
		case min == max:
			return fmt.Errorf("got %d args; need %d", len(args), min)
		case max < 0:
			return fmt.Errorf("got %d args; need at least %d", len(args), min)
		}
		return fmt.Errorf("got %d args; need between %d and %d", len(args), min, max)
	}
	return nil
}

func argtype(args []Type, i int, want Type) error {
	if !want.Assignable(args[i]) {
		return fmt.Errorf("argument %d: %s not compatible with %s", i+1, args[i], want)
	}
	return nil
}

func numericArg(args []Type, i int) error {
	if !args[i].Numeric() && args[i] != TypeNull {
		return fmt.Errorf("argument %d: %s is not numeric", i+1, args[i])
	}
	return nil
}

// fixedArgs can be used to specify
// the type arguments for a builtin function
// when the argument length is fixed
func fixedArgs(ret Type, lst ...Type) func([]Type) (Type, error) {
	return func(args []Type) (Type, error) {
		if err := argcount(args, len(lst), len(lst)); err != nil {
			return TypeInvalid, err
		}
		for i := range args {
			if err := argtype(args, i, lst[i]); err != nil {
				return TypeInvalid, err
			}
		}
		return ret, nil
	}
}

// optionalArgs is like fixedArgs, but the
// trailing arguments past min may be omitted
func optionalArgs(ret Type, min int, lst ...Type) func([]Type) (Type, error) {
	return func(args []Type) (Type, error) {
		if err := argcount(args, min, len(lst)); err != nil {
			return TypeInvalid, err
		}
		for i := range args {
			if err := argtype(args, i, lst[i]); err != nil {
				return TypeInvalid, err
			}
		}
		return ret, nil
	}
}

// sameNumeric accepts n numeric arguments
// and returns their unified type
func sameNumeric(min, max int) func([]Type) (Type, error) {
	return func(args []Type) (Type, error) {
		if err := argcount(args, min, max); err != nil {
			return TypeInvalid, err
		}
		t := TypeNull
		for i := range args {
			if err := numericArg(args, i); err != nil {
				return TypeInvalid, err
			}
			t = Unify(t, args[i])
		}
		if t == TypeNull {
			t = TypeInt
		}
		return t, nil
	}
}

// floatResult accepts n numeric arguments
// and always returns a float
func floatResult(n int) func([]Type) (Type, error) {
	return func(args []Type) (Type, error) {
		if err := argcount(args, n, n); err != nil {
			return TypeInvalid, err
		}
		for i := range args {
			if err := numericArg(args, i); err != nil {
				return TypeInvalid, err
			}
		}
		return TypeFloat, nil
	}
}

// unified accepts at least min arguments
// of a common type and returns that type
func unified(min, max int) func([]Type) (Type, error) {
	return func(args []Type) (Type, error) {
		if err := argcount(args, min, max); err != nil {
			return TypeInvalid, err
		}
		t := TypeNull
		for i := range args {
			u := Unify(t, args[i])
			if u == TypeInvalid {
				return TypeInvalid, fmt.Errorf("argument %d: %s not compatible with %s", i+1, args[i], t)
			}
			t = u
		}
		if t == TypeNull {
			// all-null arguments; pick
			// something printable
			t = TypeString
		}
		return t, nil
	}
}

func anyArgs(ret Type, min, max int) func([]Type) (Type, error) {
	return func(args []Type) (Type, error) {
		if err := argcount(args, min, max); err != nil {
			return TypeInvalid, err
		}
		return ret, nil
	}
}

func nullifCheck(args []Type) (Type, error) {
	if err := argcount(args, 2, 2); err != nil {
		return TypeInvalid, err
	}
	if Unify(args[0], args[1]) == TypeInvalid {
		return TypeInvalid, fmt.Errorf("cannot compare %s with %s", args[0], args[1])
	}
	if args[0] == TypeNull {
		return TypeString, nil
	}
	return args[0], nil
}

func castTo(to Type) func([]Type) (Type, error) {
	return func(args []Type) (Type, error) {
		if err := argcount(args, 1, 1); err != nil {
			return TypeInvalid, err
		}
		if !Castable(args[0], to) {
			return TypeInvalid, fmt.Errorf("cannot convert %s to %s", args[0], to)
		}
		return to, nil
	}
}

var builtinNames map[string]*FuncInfo

var builtinInfo = [_maxBuiltin]FuncInfo{
	OpLength:     {Name: "length", Check: fixedArgs(TypeInt, TypeString), Eval: evalLength},
	OpUpper:      {Name: "upper", Check: fixedArgs(TypeString, TypeString), Eval: evalUpper},
	OpLower:      {Name: "lower", Check: fixedArgs(TypeString, TypeString), Eval: evalLower},
	OpTrim:       {Name: "trim", Check: optionalArgs(TypeString, 1, TypeString, TypeString), Eval: evalTrim},
	OpLtrim:      {Name: "ltrim", Check: optionalArgs(TypeString, 1, TypeString, TypeString), Eval: evalLtrim},
	OpRtrim:      {Name: "rtrim", Check: optionalArgs(TypeString, 1, TypeString, TypeString), Eval: evalRtrim},
	OpSubstr:     {Name: "substr", Check: optionalArgs(TypeString, 2, TypeString, TypeInt, TypeInt), Eval: evalSubstr, Partial: true},
	OpConcat:     {Name: "concat", Check: anyArgs(TypeString, 1, -1), Eval: evalConcat, NullCoalescing: true},
	OpReplace:    {Name: "replace", Check: fixedArgs(TypeString, TypeString, TypeString, TypeString), Eval: evalReplace},
	OpStrpos:     {Name: "strpos", Check: fixedArgs(TypeInt, TypeString, TypeString), Eval: evalStrpos},
	OpLeft:       {Name: "left", Check: fixedArgs(TypeString, TypeString, TypeInt), Eval: evalLeft},
	OpRight:      {Name: "right", Check: fixedArgs(TypeString, TypeString, TypeInt), Eval: evalRight},
	OpStartsWith: {Name: "starts_with", Check: fixedArgs(TypeBool, TypeString, TypeString), Eval: evalStartsWith},
	OpContains:   {Name: "contains", Check: fixedArgs(TypeBool, TypeString, TypeString), Eval: evalContains},
	OpRepeat:     {Name: "repeat", Check: fixedArgs(TypeString, TypeString, TypeInt), Eval: evalRepeat, Partial: true},
	OpReverse:    {Name: "reverse", Check: fixedArgs(TypeString, TypeString), Eval: evalReverse},
	OpSplitPart:  {Name: "split_part", Check: fixedArgs(TypeString, TypeString, TypeString, TypeInt), Eval: evalSplitPart, Partial: true},
	OpNormalize:  {Name: "normalize", Check: optionalArgs(TypeString, 1, TypeString, TypeString), Eval: evalNormalize, Partial: true},

	OpAbs:      {Name: "abs", Check: sameNumeric(1, 1), Eval: evalAbs, Partial: true},
	OpSign:     {Name: "sign", Check: sameNumeric(1, 1), Eval: evalSign},
	OpRound:    {Name: "round", Check: roundCheck, Eval: evalRound},
	OpFloor:    {Name: "floor", Check: sameNumeric(1, 1), Eval: evalFloor},
	OpCeil:     {Name: "ceil", Check: sameNumeric(1, 1), Eval: evalCeil},
	OpTrunc:    {Name: "trunc", Check: sameNumeric(1, 1), Eval: evalTrunc},
	OpSqrt:     {Name: "sqrt", Check: floatResult(1), Eval: evalSqrt, Partial: true},
	OpPower:    {Name: "power", Check: floatResult(2), Eval: evalPower, Partial: true},
	OpLn:       {Name: "ln", Check: floatResult(1), Eval: evalLn, Partial: true},
	OpLog10:    {Name: "log10", Check: floatResult(1), Eval: evalLog10, Partial: true},
	OpExp:      {Name: "exp", Check: floatResult(1), Eval: evalExp},
	OpMod:      {Name: "mod", Check: sameNumeric(2, 2), Eval: evalMod, Partial: true},
	OpGreatest: {Name: "greatest", Check: unified(1, -1), Eval: evalGreatest, NullCoalescing: true},
	OpLeast:    {Name: "least", Check: unified(1, -1), Eval: evalLeast, NullCoalescing: true},

	OpCoalesce: {Name: "coalesce", Check: unified(1, -1), Eval: evalCoalesce, NullCoalescing: true},
	OpIfNull:   {Name: "ifnull", Check: unified(2, 2), Eval: evalCoalesce, NullCoalescing: true},
	OpNullIf:   {Name: "nullif", Check: nullifCheck, Eval: evalNullIf, NullCoalescing: true},
	OpIsNull:   {Name: "is_null", Check: anyArgs(TypeBool, 1, 1), Eval: evalIsNull, NullCoalescing: true},

	OpToString: {Name: "to_string", Check: castTo(TypeString), Eval: evalCast(TypeString)},
	OpToInt:    {Name: "to_int", Check: castTo(TypeInt), Eval: evalCast(TypeInt), Partial: true},
	OpToFloat:  {Name: "to_float", Check: castTo(TypeFloat), Eval: evalCast(TypeFloat), Partial: true},
}

var builtinAliases = map[string]BuiltinOp{
	"char_length": OpLength,
	"substring":   OpSubstr,
	"ceiling":     OpCeil,
	"pow":         OpPower,
	"strlen":      OpLength,
}

func init() {
	builtinNames = make(map[string]*FuncInfo, len(builtinInfo)+len(builtinAliases))
	for op := OpHost + 1; op < _maxBuiltin; op++ {
		fi := &builtinInfo[op]
		fi.Op = op
		builtinNames[fi.Name] = fi
	}
	for name, op := range builtinAliases {
		builtinNames[name] = &builtinInfo[op]
	}
}

func roundCheck(args []Type) (Type, error) {
	if err := argcount(args, 1, 2); err != nil {
		return TypeInvalid, err
	}
	if err := numericArg(args, 0); err != nil {
		return TypeInvalid, err
	}
	if len(args) == 2 {
		if err := argtype(args, 1, TypeInt); err != nil {
			return TypeInvalid, err
		}
	}
	if args[0] == TypeNull {
		return TypeInt, nil
	}
	return args[0], nil
}
