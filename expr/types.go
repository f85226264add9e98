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
	"math"
	"strconv"
	"strings"
)

// Type is a scalar type.
type Type uint8

const (
	// TypeInvalid is the zero Type; it is never
	// the type of a well-formed expression.
	TypeInvalid Type = iota
	// TypeNull is the type of the untyped NULL literal.
	// It is assignable to every other type.
	TypeNull
	TypeBool
	TypeInt
	TypeFloat
	TypeString
)

var typeNames = [...]string{
	TypeInvalid: "invalid",
	TypeNull:    "null",
	TypeBool:    "bool",
	TypeInt:     "int",
	TypeFloat:   "float",
	TypeString:  "string",
}

func (t Type) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return fmt.Sprintf("<Type=%d>", int(t))
}

// ParseType parses a type name as it may appear
// in a UDF body or signature. Both the short names
// and the SQL spellings are accepted.
func ParseType(name string) (Type, bool) {
	switch strings.ToLower(name) {
	case "int", "integer", "bigint", "int8", "int64":
		return TypeInt, true
	case "float", "double", "real", "float8", "float64", "double precision":
		return TypeFloat, true
	case "string", "text", "varchar":
		return TypeString, true
	case "bool", "boolean":
		return TypeBool, true
	}
	return TypeInvalid, false
}

// Numeric returns whether t is int or float.
func (t Type) Numeric() bool { return t == TypeInt || t == TypeFloat }

// Assignable returns whether a value of type
// from can be stored in a variable of type t.
// Integers widen to floats implicitly.
func (t Type) Assignable(from Type) bool {
	return from == t || from == TypeNull || (t == TypeFloat && from == TypeInt)
}

// Unify returns the common type of a and b
// for the purposes of arithmetic, comparison
// and multi-argument built-ins, or TypeInvalid
// if there is no common type.
func Unify(a, b Type) Type {
	switch {
	case a == b:
		return a
	case a == TypeNull:
		return b
	case b == TypeNull:
		return a
	case a.Numeric() && b.Numeric():
		return TypeFloat
	}
	return TypeInvalid
}

// Datum is a single scalar value.
// The zero Datum is NULL.
type Datum struct {
	T Type // TypeNull (or TypeInvalid) means NULL
	I int64
	F float64
	S string
	B bool
}

// NullDatum is the NULL datum.
var NullDatum = Datum{T: TypeNull}

func IntDatum(i int64) Datum     { return Datum{T: TypeInt, I: i} }
func FloatDatum(f float64) Datum { return Datum{T: TypeFloat, F: f} }
func StringDatum(s string) Datum { return Datum{T: TypeString, S: s} }
func BoolDatum(b bool) Datum     { return Datum{T: TypeBool, B: b} }
func (d Datum) IsNull() bool     { return d.T == TypeNull || d.T == TypeInvalid }
func (d Datum) Type() Type       { return d.T }

// Equal returns whether d and o are identical.
// Unlike the = operator, Equal treats two NULLs
// (and two NaNs) as equal.
func (d Datum) Equal(o Datum) bool {
	if d.IsNull() || o.IsNull() {
		return d.IsNull() && o.IsNull()
	}
	if d.T == TypeFloat && o.T == TypeFloat && math.IsNaN(d.F) && math.IsNaN(o.F) {
		return true
	}
	return d == o
}

// Float returns the value of d as a float,
// widening integers.
func (d Datum) Float() float64 {
	if d.T == TypeInt {
		return float64(d.I)
	}
	return d.F
}

// Widen converts d to the slot type t,
// which must be Assignable from d's type.
func (d Datum) Widen(t Type) Datum {
	if d.IsNull() {
		return NullDatum
	}
	if t == TypeFloat && d.T == TypeInt {
		return FloatDatum(float64(d.I))
	}
	return d
}

// String returns the textual form of d
// as it would be produced by a cast to string,
// or NULL for the null datum.
func (d Datum) String() string {
	switch d.T {
	case TypeBool:
		return strconv.FormatBool(d.B)
	case TypeInt:
		return strconv.FormatInt(d.I, 10)
	case TypeFloat:
		return formatFloat(d.F)
	case TypeString:
		return d.S
	}
	return "NULL"
}

// Literal returns the Node that represents d.
func (d Datum) Literal() Node {
	switch d.T {
	case TypeBool:
		return Bool(d.B)
	case TypeInt:
		return Integer(d.I)
	case TypeFloat:
		return Float(d.F)
	case TypeString:
		return String(d.S)
	}
	return Null{}
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}
