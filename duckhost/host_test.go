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

package duckhost

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/SnellerInc/udfc"
	"github.com/SnellerInc/udfc/expr"
)

func open(t *testing.T) (*Host, *udfc.Registry) {
	t.Helper()
	h, err := Open(context.Background(), "")
	require.NoError(t, err)
	r := udfc.NewRegistry(h, udfc.WithDefaultLoopBound(1000))
	t.Cleanup(func() {
		r.Close()
		h.Close()
	})
	return h, r
}

func define(name string, ret expr.Type, body string, params ...expr.Param) udfc.Definition {
	return udfc.Definition{Name: name, Params: params, Returns: ret, Body: body}
}

func TestUdf1(t *testing.T) {
	h, r := open(t)
	_, err := r.Register(define("udf1", expr.TypeString, `return "Udf1 " + name + " 🐥"`, expr.Param{Name: "name", Type: expr.TypeString}))
	require.NoError(t, err)

	var out string
	require.NoError(t, h.DB().QueryRow(`SELECT udf1('Sam')`).Scan(&out))
	require.Equal(t, "Udf1 Sam 🐥", out)

	var null sql.NullString
	require.NoError(t, h.DB().QueryRow(`SELECT udf1(NULL::VARCHAR)`).Scan(&null))
	require.False(t, null.Valid)
}

func TestTypes(t *testing.T) {
	h, r := open(t)
	_, err := r.Register(define("mix", expr.TypeString,
		"if flag { return s || ':' || (n * 2) }\nreturn s || ':' || (x / 2)",
		expr.Param{Name: "s", Type: expr.TypeString},
		expr.Param{Name: "n", Type: expr.TypeInt},
		expr.Param{Name: "x", Type: expr.TypeFloat},
		expr.Param{Name: "flag", Type: expr.TypeBool}))
	require.NoError(t, err)

	var out string
	require.NoError(t, h.DB().QueryRow(`SELECT mix('a', 21, 3.0, true)`).Scan(&out))
	require.Equal(t, "a:42", out)
	require.NoError(t, h.DB().QueryRow(`SELECT mix('b', 1, 3.0, false)`).Scan(&out))
	require.Equal(t, "b:1.5", out)

	_, err = r.Register(define("half", expr.TypeFloat, "return x / 2", expr.Param{Name: "x", Type: expr.TypeFloat}))
	require.NoError(t, err)
	var f float64
	require.NoError(t, h.DB().QueryRow(`SELECT half(5)`).Scan(&f))
	require.Equal(t, 2.5, f)

	_, err = r.Register(define("positive", expr.TypeBool, "return x > 0", expr.Param{Name: "x", Type: expr.TypeInt}))
	require.NoError(t, err)
	var b bool
	require.NoError(t, h.DB().QueryRow(`SELECT positive(-1)`).Scan(&b))
	require.False(t, b)
}

func TestOverTable(t *testing.T) {
	h, r := open(t)
	_, err := r.Register(define("triangle", expr.TypeInt, "var acc = 0\nfor i in 1 .. n { acc += i }\nreturn acc", expr.Param{Name: "n", Type: expr.TypeInt}))
	require.NoError(t, err)

	var sum int64
	require.NoError(t, h.DB().QueryRow(`SELECT sum(triangle(i)) FROM range(100) t(i)`).Scan(&sum))
	// sum of k(k+1)/2 for k < 100
	require.Equal(t, int64(166650), sum)

	err = h.DB().QueryRow(`SELECT triangle(1001)`).Scan(&sum)
	require.Error(t, err)
	require.Contains(t, err.Error(), "exceeded its bound")
}

func TestReplace(t *testing.T) {
	h, r := open(t)
	_, err := r.Register(define("f", expr.TypeInt, "return x + 1", expr.Param{Name: "x", Type: expr.TypeInt}))
	require.NoError(t, err)
	_, err = r.Register(define("f", expr.TypeInt, "return x + 2", expr.Param{Name: "x", Type: expr.TypeInt}))
	require.NoError(t, err)

	var out int64
	require.NoError(t, h.DB().QueryRow(`SELECT f(1)`).Scan(&out))
	require.Equal(t, int64(3), out)

	_, err = r.Register(define("f", expr.TypeString, "return 'x'", expr.Param{Name: "x", Type: expr.TypeInt}))
	var ce *udfc.RegistrationConflictError
	require.True(t, errors.As(err, &ce))

	// DuckDB keeps the function, but
	// calls fail until it is registered again
	require.NoError(t, r.Unregister("f"))
	require.Error(t, h.DB().QueryRow(`SELECT f(1)`).Scan(&out))
	_, err = r.Register(define("f", expr.TypeInt, "return x + 3", expr.Param{Name: "x", Type: expr.TypeInt}))
	require.NoError(t, err)
	require.NoError(t, h.DB().QueryRow(`SELECT f(1)`).Scan(&out))
	require.Equal(t, int64(4), out)
}

func TestUnsupportedType(t *testing.T) {
	h, _ := open(t)
	err := h.RegisterScalar("bad", []expr.Type{expr.TypeNull}, expr.TypeInt, nil)
	require.Error(t, err)
	require.ErrorIs(t, h.UnregisterScalar("bad"), udfc.ErrUnsupported)
}
