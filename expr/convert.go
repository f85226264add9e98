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

// Castable returns whether a value of type
// from can be explicitly converted to type to.
func Castable(from, to Type) bool {
	if from == TypeNull || from == to {
		return to != TypeInvalid && to != TypeNull
	}
	switch to {
	case TypeString:
		return true
	case TypeInt:
		return from == TypeFloat || from == TypeString || from == TypeBool
	case TypeFloat:
		return from == TypeInt || from == TypeString
	case TypeBool:
		return from == TypeInt || from == TypeString
	}
	return false
}

// CastPartial returns whether a conversion
// from one type to another can fail at run time.
func CastPartial(from, to Type) bool {
	return (from == TypeString && to != TypeString) ||
		(from == TypeFloat && to == TypeInt)
}

func convErr(d Datum, to Type) error {
	return fmt.Errorf("cannot convert %s to %s: %w", Quote(d.String()), to, ErrInvalidConversion)
}

// FloatToInt rounds f to the nearest integer
// (half away from zero), failing when the
// result does not fit in an int64.
func FloatToInt(f float64) (int64, error) {
	if math.IsNaN(f) {
		return 0, ErrInvalidConversion
	}
	r := math.Round(f)
	if r < math.MinInt64 || r >= math.MaxInt64 {
		return 0, ErrOverflow
	}
	return int64(r), nil
}

// ParseInt parses a decimal integer,
// ignoring surrounding whitespace.
func ParseInt(s string) (int64, error) {
	i, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		if ne, ok := err.(*strconv.NumError); ok && ne.Err == strconv.ErrRange {
			return 0, ErrOverflow
		}
		return 0, ErrInvalidConversion
	}
	return i, nil
}

// ParseFloat parses a floating point
// number, ignoring surrounding whitespace.
func ParseFloat(s string) (float64, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		if ne, ok := err.(*strconv.NumError); ok && ne.Err == strconv.ErrRange {
			return f, nil // +/-Inf
		}
		return 0, ErrInvalidConversion
	}
	return f, nil
}

// ParseBool accepts the usual
// spellings of boolean values.
func ParseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "t", "true", "y", "yes", "on", "1":
		return true, nil
	case "f", "false", "n", "no", "off", "0":
		return false, nil
	}
	return false, ErrInvalidConversion
}

// CastDatum converts d to the given type.
// Converting null yields null.
func CastDatum(d Datum, to Type) (Datum, error) {
	if d.IsNull() || d.T == to {
		return d, nil
	}
	switch to {
	case TypeString:
		return StringDatum(d.String()), nil
	case TypeInt:
		switch d.T {
		case TypeFloat:
			i, err := FloatToInt(d.F)
			if err != nil {
				return NullDatum, err
			}
			return IntDatum(i), nil
		case TypeString:
			i, err := ParseInt(d.S)
			if err != nil {
				return NullDatum, convErr(d, to)
			}
			return IntDatum(i), nil
		case TypeBool:
			if d.B {
				return IntDatum(1), nil
			}
			return IntDatum(0), nil
		}
	case TypeFloat:
		switch d.T {
		case TypeInt:
			return FloatDatum(float64(d.I)), nil
		case TypeString:
			f, err := ParseFloat(d.S)
			if err != nil {
				return NullDatum, convErr(d, to)
			}
			return FloatDatum(f), nil
		}
	case TypeBool:
		switch d.T {
		case TypeInt:
			return BoolDatum(d.I != 0), nil
		case TypeString:
			b, err := ParseBool(d.S)
			if err != nil {
				return NullDatum, convErr(d, to)
			}
			return BoolDatum(b), nil
		}
	}
	return NullDatum, fmt.Errorf("cast from %s to %s: %w", d.T, to, ErrInvalidConversion)
}
